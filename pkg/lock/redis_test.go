package lock

import (
	"context"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	t.Cleanup(cancel)

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = client.Close() })

	return client
}

func TestRedis_AcquireRelease(t *testing.T) {
	client := setupRedis(t)
	locker := NewRedis(client, time.Second, nil)

	release, err := locker.Acquire(t.Context(), WorkflowKey("wf"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 200*time.Millisecond)
	defer cancel()

	_, err = locker.Acquire(ctx, WorkflowKey("wf"))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, release(t.Context()))
	assert.ErrorIs(t, release(t.Context()), ErrNotHeld)

	again, err := locker.Acquire(t.Context(), WorkflowKey("wf"))
	require.NoError(t, err)
	require.NoError(t, again(t.Context()))
}

func TestRedis_ExpiredLockIsNotReleasedByOldHolder(t *testing.T) {
	client := setupRedis(t)
	locker := NewRedis(client, 100*time.Millisecond, nil)

	stale, err := locker.Acquire(t.Context(), "k")
	require.NoError(t, err)

	time.Sleep(200 * time.Millisecond)

	fresh, err := locker.Acquire(t.Context(), "k")
	require.NoError(t, err)

	assert.ErrorIs(t, stale(t.Context()), ErrNotHeld)
	require.NoError(t, fresh(t.Context()))
}
