package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/director/pkg/models"
	"github.com/dukex/director/pkg/persistence"
	"github.com/dukex/director/pkg/persistence/postgresql"
	"github.com/dukex/director/pkg/testutil"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	// Children first, parents last
	for _, table := range []string{"workflow_records", "workflow_nodes", "workflows", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("director_test"),
			postgres.WithUsername("director"),
			postgres.WithPassword("director"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = p.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return p, ctx, databaseURL
}

func TestNewPersistence_Migrations(t *testing.T) {
	p, ctx, databaseURL := setupTestDB(t)

	require.NoError(t, p.HealthCheck(ctx))

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() { _ = db.Close() }()

	var version int

	err = db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 3, version)

	for _, table := range []string{"workflows", "workflow_nodes", "workflow_records"} {
		var exists bool

		err = db.QueryRowContext(ctx,
			"SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = $1)", table,
		).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, table)
	}
}

func TestWorkflowRepository_SaveGetDelete(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.WorkflowRepository()

	workflow := testutil.CreateTestWorkflow(testutil.WithNodes(
		testutil.CreateTestNode(2),
		testutil.CreateTestNode(1, testutil.WithRouteBranches("yes", []int{2})),
	))
	workflow.Variables = map[string]any{"limit": 5}

	require.NoError(t, repo.Save(ctx, workflow))

	got, err := repo.GetByID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.Name, got.Name)
	assert.Equal(t, map[string]any{"limit": 5.0}, got.Variables)
	require.Len(t, got.Nodes, 2)
	assert.Equal(t, 1, got.Nodes[0].Position)
	assert.Equal(t, models.NodeTypeRoute, got.Nodes[0].Type)

	header := *workflow
	header.Nodes = nil
	header.Variables = nil
	header.Name = "renamed workflow"
	require.NoError(t, repo.Save(ctx, &header))

	got, err = repo.GetByID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed workflow", got.Name)
	assert.Len(t, got.Nodes, 2)
	assert.Equal(t, map[string]any{"limit": 5.0}, got.Variables)

	require.NoError(t, repo.Delete(ctx, workflow.ID))

	_, err = repo.GetByID(ctx, workflow.ID)
	assert.True(t, persistence.IsWorkflowNotFound(err))
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestWorkflowRepository_ListWorkflows(t *testing.T) {
	p, ctx, _ := setupTestDB(t)
	repo := p.WorkflowRepository()

	for _, name := range []string{"alpha", "bravo", "charlie"} {
		workflow := testutil.CreateTestWorkflow()
		workflow.ID = ""
		workflow.Name = name
		require.NoError(t, repo.Save(ctx, workflow))
	}

	page, err := repo.ListWorkflows(ctx, persistence.ListWorkflowsOptions{SortBy: "name", SortOrder: "asc", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.TotalCount)
	assert.True(t, page.HasNextPage)
	require.Len(t, page.Workflows, 2)
	assert.Equal(t, "alpha", page.Workflows[0].Name)

	_, err = repo.ListWorkflows(ctx, persistence.ListWorkflowsOptions{SortBy: "owner"})
	assert.ErrorIs(t, err, persistence.ErrInvalidSortField)
}

func TestNodeRepository_CRUD(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	workflow := testutil.CreateTestWorkflow()
	require.NoError(t, p.WorkflowRepository().Save(ctx, workflow))

	nodes := p.NodeRepository()
	first := testutil.CreateTestNode(1)
	second := testutil.CreateTestNode(2)

	require.NoError(t, nodes.SaveNode(ctx, workflow.ID, first))
	require.NoError(t, nodes.SaveNode(ctx, workflow.ID, second))

	clash := testutil.CreateTestNode(1)
	err := nodes.SaveNode(ctx, workflow.ID, clash)
	assert.True(t, persistence.IsDuplicateNode(err))

	err = nodes.UpdatePosition(ctx, workflow.ID, second.UUID, 1)
	assert.True(t, persistence.IsDuplicateNode(err))

	require.NoError(t, nodes.UpdatePosition(ctx, workflow.ID, second.UUID, -2))
	require.NoError(t, nodes.UpdatePosition(ctx, workflow.ID, first.UUID, 2))
	require.NoError(t, nodes.UpdatePosition(ctx, workflow.ID, second.UUID, 1))

	got, err := nodes.GetNode(ctx, workflow.ID, first.UUID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Position)

	listed, err := nodes.ListNodes(ctx, workflow.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, second.UUID, listed[0].UUID)

	require.NoError(t, nodes.DeleteNode(ctx, workflow.ID, first.UUID))

	_, err = nodes.GetNode(ctx, workflow.ID, first.UUID)
	assert.True(t, persistence.IsNodeNotFound(err))
	assert.True(t, persistence.IsNodeNotFound(nodes.DeleteNode(ctx, workflow.ID, first.UUID)))
	assert.True(t, persistence.IsNodeNotFound(nodes.UpdatePosition(ctx, workflow.ID, first.UUID, 9)))
}

func TestRecordRepository(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	workflow := testutil.CreateTestWorkflow()
	require.NoError(t, p.WorkflowRepository().Save(ctx, workflow))

	records := p.RecordRepository()

	lead := testutil.CreateTestRecord("lead-1", map[string]any{"email": "a@example.com"})
	lead.RecordType = "lead"
	require.NoError(t, records.SaveRecord(ctx, lead))

	item := testutil.CreateTestRecord("item-1", map[string]any{"sku": "X"})
	require.NoError(t, records.SaveRecord(ctx, item))

	got, err := records.GetRecord(ctx, workflow.ID, "lead-1")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", got.Data.Fields["email"])

	matched, err := records.QueryRecords(ctx, workflow.ID, "lead")
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, "lead-1", matched[0].RecordID)

	all, err := records.QueryRecords(ctx, workflow.ID, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = records.GetRecord(ctx, workflow.ID, "missing")
	assert.True(t, persistence.IsRecordNotFound(err))
}

func TestVariableRepository(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	workflow := testutil.CreateTestWorkflow()
	require.NoError(t, p.WorkflowRepository().Save(ctx, workflow))

	variables := p.VariableRepository()

	require.NoError(t, variables.SaveVariables(ctx, workflow.ID, map[string]any{"user": map[string]any{"name": "ada"}}))

	got, err := variables.GetVariables(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"user": map[string]any{"name": "ada"}}, got)

	err = variables.SaveVariables(ctx, "missing", map[string]any{})
	assert.True(t, persistence.IsWorkflowNotFound(err))
}
