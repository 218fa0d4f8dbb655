package file

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/dukex/director/pkg/models"
	"github.com/dukex/director/pkg/persistence"
	"github.com/dukex/director/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPersistence(t *testing.T) *Persistence {
	t.Helper()

	p := NewPersistence(t.TempDir())
	require.NoError(t, p.WorkflowRepository().Save(t.Context(), testutil.CreateTestWorkflow()))

	return p
}

func TestNewPersistence(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "/tmp/test", NewPersistence("/tmp/test").root)
	assert.Equal(t, "/tmp/test", NewPersistence("file:///tmp/test").root)
}

func TestPersistence_HealthCheck(t *testing.T) {
	t.Parallel()

	assert.NoError(t, NewPersistence(t.TempDir()).HealthCheck(t.Context()))
	assert.Error(t, NewPersistence(filepath.Join(t.TempDir(), "missing")).HealthCheck(t.Context()))
	assert.NoError(t, NewPersistence("./test-data").Close(t.Context()))
}

func TestWorkflowRepository_SaveAndGet(t *testing.T) {
	t.Parallel()

	testDir := t.TempDir()
	repo := NewWorkflowRepository(testDir)

	workflow := testutil.CreateTestWorkflow(testutil.WithNodes(
		testutil.CreateTestNode(2),
		testutil.CreateTestNode(1),
	))
	workflow.CreatedAt = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Save(t.Context(), workflow))
	assert.FileExists(t, filepath.Join(testDir, "workflows", testutil.TestWorkflowID+".json"))
	assert.Equal(t, 2023, workflow.CreatedAt.Year())
	assert.True(t, workflow.UpdatedAt.After(workflow.CreatedAt))

	loaded, err := repo.GetByID(t.Context(), workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.Name, loaded.Name)
	require.Len(t, loaded.Nodes, 2)
	assert.Equal(t, 1, loaded.Nodes[0].Position)

	// Saving the header alone keeps the stored nodes.
	loaded.Nodes = nil
	loaded.Name = "Renamed"
	require.NoError(t, repo.Save(t.Context(), loaded))

	reloaded, err := repo.GetByID(t.Context(), workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", reloaded.Name)
	assert.Len(t, reloaded.Nodes, 2)
}

func TestWorkflowRepository_NotFoundAndDelete(t *testing.T) {
	t.Parallel()

	p := newTestPersistence(t)
	repo := p.WorkflowRepository()

	_, err := repo.GetByID(t.Context(), "missing")
	require.Error(t, err)
	assert.True(t, persistence.IsWorkflowNotFound(err))
	assert.True(t, models.IsNotFound(err))

	require.NoError(t, repo.Delete(t.Context(), testutil.TestWorkflowID))
	require.NoError(t, repo.Delete(t.Context(), testutil.TestWorkflowID))

	all, err := repo.GetAll(t.Context())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestWorkflowRepository_ListWorkflows(t *testing.T) {
	t.Parallel()

	repo := NewPersistence(t.TempDir()).WorkflowRepository()

	for i, name := range []string{"charlie", "alpha", "bravo"} {
		workflow := testutil.CreateTestWorkflow()
		workflow.ID = name
		workflow.Name = name
		workflow.CreatedAt = time.Date(2024, 1, i+1, 0, 0, 0, 0, time.UTC)

		if name == "bravo" {
			workflow.Owner = "someone-else"
		}

		require.NoError(t, repo.Save(t.Context(), workflow))
	}

	result, err := repo.ListWorkflows(t.Context(), persistence.ListWorkflowsOptions{SortBy: "name", SortOrder: "asc", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.TotalCount)
	assert.True(t, result.HasNextPage)
	require.Len(t, result.Workflows, 2)
	assert.Equal(t, "alpha", result.Workflows[0].Name)

	result, err = repo.ListWorkflows(t.Context(), persistence.ListWorkflowsOptions{OwnerID: "tester"})
	require.NoError(t, err)
	require.Len(t, result.Workflows, 2)
	assert.Equal(t, "alpha", result.Workflows[0].Name)

	for _, sortBy := range []string{"invalid_field", "name; DROP TABLE workflows; --"} {
		_, err = repo.ListWorkflows(t.Context(), persistence.ListWorkflowsOptions{SortBy: sortBy})
		assert.ErrorIs(t, err, persistence.ErrInvalidSortField)
	}
}

func TestNodeRepository_CRUD(t *testing.T) {
	t.Parallel()

	p := newTestPersistence(t)
	repo := p.NodeRepository()
	ctx := t.Context()

	first := testutil.CreateTestNode(2, testutil.WithAlias("second"))
	second := testutil.CreateTestNode(1, testutil.WithAlias("first"), testutil.WithParentPosition(2))

	require.NoError(t, repo.SaveNode(ctx, testutil.TestWorkflowID, first))
	require.NoError(t, repo.SaveNode(ctx, testutil.TestWorkflowID, second))

	nodes, err := repo.ListNodes(ctx, testutil.TestWorkflowID)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "first", nodes[0].Alias)

	parent, ok := nodes[0].ParentPosition()
	assert.True(t, ok)
	assert.Equal(t, 2, parent)

	got, err := repo.GetNode(ctx, testutil.TestWorkflowID, first.UUID)
	require.NoError(t, err)
	assert.Equal(t, "second", got.Alias)

	_, err = repo.GetNode(ctx, testutil.TestWorkflowID, "nope")
	assert.True(t, persistence.IsNodeNotFound(err))

	require.NoError(t, repo.DeleteNode(ctx, testutil.TestWorkflowID, first.UUID))
	assert.True(t, persistence.IsNodeNotFound(repo.DeleteNode(ctx, testutil.TestWorkflowID, first.UUID)))

	_, err = repo.ListNodes(ctx, "missing-workflow")
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestNodeRepository_Uniqueness(t *testing.T) {
	t.Parallel()

	p := newTestPersistence(t)
	repo := p.NodeRepository()
	ctx := t.Context()

	require.NoError(t, repo.SaveNode(ctx, testutil.TestWorkflowID, testutil.CreateTestNode(1, testutil.WithAlias("a"))))
	other := testutil.CreateTestNode(2, testutil.WithAlias("b"))
	require.NoError(t, repo.SaveNode(ctx, testutil.TestWorkflowID, other))

	err := repo.SaveNode(ctx, testutil.TestWorkflowID, testutil.CreateTestNode(1, testutil.WithAlias("c")))
	assert.True(t, persistence.IsDuplicateNode(err))

	err = repo.SaveNode(ctx, testutil.TestWorkflowID, testutil.CreateTestNode(3, testutil.WithAlias("a")))
	assert.True(t, persistence.IsDuplicateNode(err))

	err = repo.UpdatePosition(ctx, testutil.TestWorkflowID, other.UUID, 1)
	assert.True(t, persistence.IsDuplicateNode(err))

	require.NoError(t, repo.UpdatePosition(ctx, testutil.TestWorkflowID, other.UUID, -2))

	moved, err := repo.GetNode(ctx, testutil.TestWorkflowID, other.UUID)
	require.NoError(t, err)
	assert.Equal(t, -2, moved.Position)
}

func TestRecordRepository(t *testing.T) {
	t.Parallel()

	p := newTestPersistence(t)
	repo := p.RecordRepository()
	ctx := t.Context()

	older := testutil.CreateTestRecord("row-1", map[string]any{"n": 1})
	older.CreatedAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := testutil.CreateTestRecord("row-2", map[string]any{"n": 2})
	newer.CreatedAt = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	invoice := testutil.CreateTestRecord("inv-1", nil)
	invoice.RecordType = "invoice"
	invoice.CreatedAt = time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)

	for _, record := range []*models.WorkflowRecord{newer, invoice, older} {
		require.NoError(t, repo.SaveRecord(ctx, record))
	}

	all, err := repo.QueryRecords(ctx, testutil.TestWorkflowID, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "row-1", all[0].RecordID)
	assert.Equal(t, "inv-1", all[2].RecordID)

	rows, err := repo.QueryRecords(ctx, testutil.TestWorkflowID, "row-*")
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	invoices, err := repo.QueryRecords(ctx, testutil.TestWorkflowID, "invoice")
	require.NoError(t, err)
	require.Len(t, invoices, 1)

	newer.Status = models.RecordStatusComplete
	newer.AppendHistory("complete", "")
	require.NoError(t, repo.SaveRecord(ctx, newer))

	got, err := repo.GetRecord(ctx, testutil.TestWorkflowID, "row-2")
	require.NoError(t, err)
	assert.Equal(t, models.RecordStatusComplete, got.Status)
	assert.Len(t, got.Data.History, 1)

	_, err = repo.GetRecord(ctx, testutil.TestWorkflowID, "missing")
	assert.True(t, persistence.IsRecordNotFound(err))

	none, err := repo.QueryRecords(ctx, "other-workflow", "")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestVariableRepository(t *testing.T) {
	t.Parallel()

	p := newTestPersistence(t)
	repo := p.VariableRepository()
	ctx := t.Context()

	vars, err := repo.GetVariables(ctx, testutil.TestWorkflowID)
	require.NoError(t, err)
	assert.Empty(t, vars)

	require.NoError(t, repo.SaveVariables(ctx, testutil.TestWorkflowID, map[string]any{"a": map[string]any{"b": 5}}))

	vars, err = repo.GetVariables(ctx, testutil.TestWorkflowID)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": map[string]any{"b": 5.0}}, vars)

	_, err = repo.GetVariables(ctx, "missing")
	assert.True(t, persistence.IsWorkflowNotFound(err))
}
