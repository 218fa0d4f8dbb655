// Package mocks provides testify mocks of the persistence, event bus and
// executor contracts.
package mocks

import (
	"context"

	"github.com/dukex/director/pkg/models"
	"github.com/dukex/director/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockWorkflowRepository is a mock implementation of persistence.WorkflowRepository interface.
type MockWorkflowRepository struct {
	mock.Mock
}

func (m *MockWorkflowRepository) ListWorkflows(ctx context.Context, opts persistence.ListWorkflowsOptions) (*persistence.WorkflowListResult, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*persistence.WorkflowListResult), args.Error(1)
}

func (m *MockWorkflowRepository) GetAll(ctx context.Context) ([]*models.Workflow, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Workflow), args.Error(1)
}

func (m *MockWorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Workflow), args.Error(1)
}

func (m *MockWorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	args := m.Called(ctx, workflow)

	return args.Error(0)
}

func (m *MockWorkflowRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)

	return args.Error(0)
}

// MockNodeRepository is a mock implementation of persistence.NodeRepository interface.
type MockNodeRepository struct {
	mock.Mock
}

func (m *MockNodeRepository) ListNodes(ctx context.Context, workflowID string) ([]*models.Node, error) {
	args := m.Called(ctx, workflowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Node), args.Error(1)
}

func (m *MockNodeRepository) GetNode(ctx context.Context, workflowID, nodeUUID string) (*models.Node, error) {
	args := m.Called(ctx, workflowID, nodeUUID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Node), args.Error(1)
}

func (m *MockNodeRepository) SaveNode(ctx context.Context, workflowID string, node *models.Node) error {
	args := m.Called(ctx, workflowID, node)

	return args.Error(0)
}

func (m *MockNodeRepository) UpdatePosition(ctx context.Context, workflowID, nodeUUID string, position int) error {
	args := m.Called(ctx, workflowID, nodeUUID, position)

	return args.Error(0)
}

func (m *MockNodeRepository) DeleteNode(ctx context.Context, workflowID, nodeUUID string) error {
	args := m.Called(ctx, workflowID, nodeUUID)

	return args.Error(0)
}

// MockRecordRepository is a mock implementation of persistence.RecordRepository interface.
type MockRecordRepository struct {
	mock.Mock
}

func (m *MockRecordRepository) SaveRecord(ctx context.Context, record *models.WorkflowRecord) error {
	args := m.Called(ctx, record)

	return args.Error(0)
}

func (m *MockRecordRepository) GetRecord(ctx context.Context, workflowID, recordID string) (*models.WorkflowRecord, error) {
	args := m.Called(ctx, workflowID, recordID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowRecord), args.Error(1)
}

func (m *MockRecordRepository) QueryRecords(ctx context.Context, workflowID, pattern string) ([]*models.WorkflowRecord, error) {
	args := m.Called(ctx, workflowID, pattern)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowRecord), args.Error(1)
}

// MockVariableRepository is a mock implementation of persistence.VariableRepository interface.
type MockVariableRepository struct {
	mock.Mock
}

func (m *MockVariableRepository) GetVariables(ctx context.Context, workflowID string) (map[string]any, error) {
	args := m.Called(ctx, workflowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(map[string]any), args.Error(1)
}

func (m *MockVariableRepository) SaveVariables(ctx context.Context, workflowID string, variables map[string]any) error {
	args := m.Called(ctx, workflowID, variables)

	return args.Error(0)
}

// MockPersistence is a mock implementation of persistence.Persistence interface.
type MockPersistence struct {
	mock.Mock

	workflowRepo *MockWorkflowRepository
	nodeRepo     *MockNodeRepository
	recordRepo   *MockRecordRepository
	variableRepo *MockVariableRepository
}

// NewMockPersistence creates a new MockPersistence with all mock repositories.
func NewMockPersistence() *MockPersistence {
	return &MockPersistence{
		workflowRepo: &MockWorkflowRepository{},
		nodeRepo:     &MockNodeRepository{},
		recordRepo:   &MockRecordRepository{},
		variableRepo: &MockVariableRepository{},
	}
}

// GetMockWorkflowRepository returns the underlying mock workflow repository for setting up expectations.
func (m *MockPersistence) GetMockWorkflowRepository() *MockWorkflowRepository {
	return m.workflowRepo
}

func (m *MockPersistence) GetMockNodeRepository() *MockNodeRepository {
	return m.nodeRepo
}

func (m *MockPersistence) GetMockRecordRepository() *MockRecordRepository {
	return m.recordRepo
}

func (m *MockPersistence) GetMockVariableRepository() *MockVariableRepository {
	return m.variableRepo
}

func (m *MockPersistence) WorkflowRepository() persistence.WorkflowRepository {
	return m.workflowRepo
}

func (m *MockPersistence) NodeRepository() persistence.NodeRepository {
	return m.nodeRepo
}

func (m *MockPersistence) RecordRepository() persistence.RecordRepository {
	return m.recordRepo
}

func (m *MockPersistence) VariableRepository() persistence.VariableRepository {
	return m.variableRepo
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
