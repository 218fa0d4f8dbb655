package services

import (
	"errors"
	"testing"

	"github.com/dukex/director/pkg/mocks"
	"github.com/dukex/director/pkg/models"
	"github.com/dukex/director/pkg/persistence"
	"github.com/dukex/director/pkg/persistence/file"
	"github.com/dukex/director/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestWorkflowService_HealthCheck(t *testing.T) {
	t.Parallel()

	message, ok := NewWorkflow(file.NewPersistence(t.TempDir()), discardLogger()).HealthCheck(t.Context())
	assert.True(t, ok)
	assert.Equal(t, "Persistence layer is healthy", message)

	db := mocks.NewMockPersistence()
	db.On("HealthCheck", mock.Anything).Return(errors.New("connection refused"))

	message, ok = NewWorkflow(db, discardLogger()).HealthCheck(t.Context())
	assert.False(t, ok)
	assert.Contains(t, message, "connection refused")
}

func TestWorkflowService_Create(t *testing.T) {
	t.Parallel()

	service := NewWorkflow(file.NewPersistence(t.TempDir()), discardLogger())

	created, err := service.Create(t.Context(), &models.Workflow{
		Name: "Nightly import",
		Nodes: []*models.Node{
			{Position: 1, Type: models.NodeTypeIterate},
			{Position: 2, Type: models.NodeTypeAction, Alias: "fetch"},
		},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, map[string]any{}, created.Variables)

	fetched, err := service.FetchByID(t.Context(), created.ID)
	require.NoError(t, err)
	require.Len(t, fetched.Nodes, 2)
	assert.Equal(t, "iterate_1", fetched.Nodes[0].Alias)
	assert.Equal(t, "fetch", fetched.Nodes[1].Alias)
	assert.NotEmpty(t, fetched.Nodes[0].UUID)
	assert.Equal(t, models.NodeStatusPending, fetched.Nodes[0].Status)
	assert.Equal(t, created.ID, fetched.Nodes[1].WorkflowID)
}

func TestWorkflowService_CreateValidation(t *testing.T) {
	t.Parallel()

	service := NewWorkflow(file.NewPersistence(t.TempDir()), discardLogger())

	tests := []struct {
		name     string
		workflow *models.Workflow
		want     error
	}{
		{"nil", nil, ErrWorkflowNil},
		{"blank name", &models.Workflow{Name: "  "}, ErrWorkflowNameRequired},
		{"zero position", &models.Workflow{Name: "w", Nodes: []*models.Node{{Type: models.NodeTypeAction}}}, ErrInvalidPosition},
		{"unknown type", &models.Workflow{Name: "w", Nodes: []*models.Node{{Position: 1, Type: "warp"}}}, ErrInvalidNodeType},
		{"duplicate position", &models.Workflow{Name: "w", Nodes: []*models.Node{
			{Position: 1, Type: models.NodeTypeAction},
			{Position: 1, Type: models.NodeTypeRoute},
		}}, ErrPositionTaken},
		{"duplicate alias", &models.Workflow{Name: "w", Nodes: []*models.Node{
			{Position: 1, Type: models.NodeTypeAction, Alias: "x"},
			{Position: 2, Type: models.NodeTypeAction, Alias: "x"},
		}}, ErrAliasTaken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := service.Create(t.Context(), tt.workflow)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestWorkflowService_ImportKeepsID(t *testing.T) {
	t.Parallel()

	service := NewWorkflow(file.NewPersistence(t.TempDir()), discardLogger())

	imported, err := service.Import(t.Context(), testutil.CreateTestWorkflow(testutil.WithNodes(
		testutil.CreateTestNode(1, testutil.WithRouteBranches("yes", []int{2})),
		testutil.CreateTestNode(2),
	)))
	require.NoError(t, err)
	assert.Equal(t, testWorkflowID, imported.ID)

	fetched, err := service.FetchByID(t.Context(), testWorkflowID)
	require.NoError(t, err)
	assert.Len(t, fetched.Nodes, 2)
}

func TestWorkflowService_ListWorkflows(t *testing.T) {
	t.Parallel()

	service := NewWorkflow(file.NewPersistence(t.TempDir()), discardLogger())

	for _, name := range []string{"beta", "alpha", "gamma"} {
		_, err := service.Create(t.Context(), &models.Workflow{Name: name, Owner: "ops"})
		require.NoError(t, err)
	}

	page, err := service.ListWorkflows(t.Context(), ListWorkflowsRequest{Limit: 2, SortBy: "name", SortOrder: "asc"})
	require.NoError(t, err)

	require.Len(t, page.Workflows, 2)
	assert.Equal(t, "alpha", page.Workflows[0].Name)
	assert.Equal(t, "beta", page.Workflows[1].Name)
	assert.Equal(t, int64(3), page.TotalCount)
	assert.True(t, page.HasNextPage)

	_, err = service.ListWorkflows(t.Context(), ListWorkflowsRequest{SortBy: "owner"})
	require.ErrorIs(t, err, ErrInvalidSortField)
	assert.True(t, IsValidationError(err))

	_, err = service.ListWorkflows(t.Context(), ListWorkflowsRequest{SortOrder: "sideways"})
	require.ErrorIs(t, err, ErrInvalidSortOrder)
}

func TestWorkflowService_ListPassesOptions(t *testing.T) {
	t.Parallel()

	db := mocks.NewMockPersistence()
	db.GetMockWorkflowRepository().On("ListWorkflows", mock.Anything, persistence.ListWorkflowsOptions{
		OwnerID:   "ops",
		SortBy:    "created_at",
		SortOrder: "desc",
		Limit:     100,
		Offset:    0,
	}).Return(&persistence.WorkflowListResult{Workflows: []*models.Workflow{}}, nil)

	_, err := NewWorkflow(db, discardLogger()).ListWorkflows(t.Context(), ListWorkflowsRequest{Limit: 500, Offset: -1, OwnerID: " ops "})
	require.NoError(t, err)

	db.GetMockWorkflowRepository().AssertExpectations(t)
}

func TestWorkflowService_Delete(t *testing.T) {
	t.Parallel()

	store := file.NewPersistence(t.TempDir())
	service := NewWorkflow(store, discardLogger())

	created, err := service.Create(t.Context(), &models.Workflow{Name: "short lived"})
	require.NoError(t, err)

	require.NoError(t, service.Delete(t.Context(), created.ID))

	_, err = service.FetchByID(t.Context(), created.ID)
	assert.True(t, IsNotFoundError(err))

	err = service.Delete(t.Context(), created.ID)
	assert.True(t, IsNotFoundError(err))
}
