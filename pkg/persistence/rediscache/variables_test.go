package rediscache

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/director/pkg/events"
	"github.com/dukex/director/pkg/mocks"
	"github.com/dukex/director/pkg/persistence/file"
	"github.com/dukex/director/pkg/testutil"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
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

func TestVariables_ReadThrough(t *testing.T) {
	client := setupRedis(t)

	backend := &mocks.MockVariableRepository{}
	backend.On("GetVariables", mock.Anything, "wf").Return(map[string]any{"a": "b"}, nil).Once()

	cache := NewVariables(backend, client, time.Minute, slog.New(slog.DiscardHandler))

	first, err := cache.GetVariables(t.Context(), "wf")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": "b"}, first)

	second, err := cache.GetVariables(t.Context(), "wf")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": "b"}, second)

	backend.AssertExpectations(t)
}

func TestVariables_SaveInvalidates(t *testing.T) {
	client := setupRedis(t)

	store := file.NewPersistence(t.TempDir())
	require.NoError(t, store.WorkflowRepository().Save(t.Context(), testutil.CreateTestWorkflow()))

	cached := Wrap(store, client, time.Minute, nil)
	repository := cached.VariableRepository()

	_, err := repository.GetVariables(t.Context(), testutil.TestWorkflowID)
	require.NoError(t, err)

	require.NoError(t, repository.SaveVariables(t.Context(), testutil.TestWorkflowID, map[string]any{"count": 2.0}))

	exists, err := client.Exists(t.Context(), key(testutil.TestWorkflowID)).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)

	variables, err := repository.GetVariables(t.Context(), testutil.TestWorkflowID)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"count": 2.0}, variables)
}

func TestVariables_RedisDownFallsBack(t *testing.T) {
	t.Parallel()

	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	backend := &mocks.MockVariableRepository{}
	backend.On("GetVariables", mock.Anything, "wf").Return(map[string]any{"x": 1}, nil)

	variables, err := NewVariables(backend, client, 0, nil).GetVariables(t.Context(), "wf")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": 1}, variables)
}

func TestVariables_HandleVariableUpdated(t *testing.T) {
	client := setupRedis(t)

	backend := &mocks.MockVariableRepository{}
	backend.On("GetVariables", mock.Anything, "wf").Return(map[string]any{"a": 1.0}, nil).Twice()

	cache := NewVariables(backend, client, time.Minute, nil)

	_, err := cache.GetVariables(t.Context(), "wf")
	require.NoError(t, err)

	event := &events.VariableUpdated{BaseEvent: events.NewBaseEvent(events.VariableUpdatedEvent, "wf"), Path: "a"}
	require.NoError(t, cache.HandleVariableUpdated(t.Context(), event))

	_, err = cache.GetVariables(t.Context(), "wf")
	require.NoError(t, err)

	backend.AssertExpectations(t)

	require.Error(t, cache.HandleVariableUpdated(t.Context(), "not an event"))
}
