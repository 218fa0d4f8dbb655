package reconcile

import (
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/director/pkg/models"
	"github.com/dukex/director/pkg/persistence/file"
	"github.com/dukex/director/pkg/resolver"
	"github.com/dukex/director/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReconciler(t *testing.T, schedule string) (*Reconciler, *file.Persistence) {
	t.Helper()

	store := file.NewPersistence(t.TempDir())

	route := testutil.CreateTestNode(1, testutil.WithType(models.NodeTypeRoute), testutil.WithParams(map[string]any{
		"branches": []any{
			map[string]any{"name": "next", "branch": []any{"node_2", "node_3"}},
		},
	}))

	require.NoError(t, store.WorkflowRepository().Save(t.Context(), testutil.CreateTestWorkflow(testutil.WithNodes(
		route,
		testutil.CreateTestNode(2),
		testutil.CreateTestNode(3),
		testutil.CreateTestNode(4),
	))))

	logger := slog.New(slog.DiscardHandler)

	r, err := resolver.New(store.NodeRepository(), resolver.WithLogger(logger))
	require.NoError(t, err)

	reconciler, err := New(store.WorkflowRepository(), r, schedule, logger)
	require.NoError(t, err)

	return reconciler, store
}

func TestRunOnce_ResolvesEveryWorkflow(t *testing.T) {
	t.Parallel()

	reconciler, store := newReconciler(t, "")

	summary, err := reconciler.RunOnce(t.Context())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Workflows)
	assert.Equal(t, 1, summary.Resolved)
	assert.Equal(t, 1, summary.Written)
	assert.Zero(t, summary.Failed)

	nodes, err := store.NodeRepository().ListNodes(t.Context(), testutil.TestWorkflowID)
	require.NoError(t, err)

	parent, ok := nodes[1].ParentPosition()
	require.True(t, ok)
	assert.Equal(t, 1, parent)

	again, err := reconciler.RunOnce(t.Context())
	require.NoError(t, err)
	assert.Zero(t, again.Written)
}

func TestNew_RejectsBadSchedule(t *testing.T) {
	t.Parallel()

	_, err := New(nil, nil, "every tuesday", slog.New(slog.DiscardHandler))
	require.Error(t, err)
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	reconciler, _ := newReconciler(t, "@every 1h")

	require.NoError(t, reconciler.Start(t.Context()))
	require.Error(t, reconciler.Start(t.Context()))

	assert.WithinDuration(t, time.Now().Add(time.Hour), reconciler.Next(), time.Minute)

	require.NoError(t, reconciler.Stop(t.Context()))
	assert.True(t, reconciler.Next().IsZero())
	require.NoError(t, reconciler.Stop(t.Context()))
}
