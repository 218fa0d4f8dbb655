package mocks

import (
	"context"

	"github.com/dukex/director/pkg/models"
	"github.com/dukex/director/pkg/state"
	"github.com/stretchr/testify/mock"
)

// MockNodeExecutor is a mock implementation of protocol.NodeExecutor interface.
type MockNodeExecutor struct {
	mock.Mock
}

func (m *MockNodeExecutor) ExecuteNode(ctx context.Context, executionID string, node *models.Node, scope *state.Scope) (any, error) {
	args := m.Called(ctx, executionID, node, scope)

	return args.Get(0), args.Error(1)
}

// MockRecordSource is a mock implementation of protocol.RecordSource interface.
type MockRecordSource struct {
	mock.Mock
}

func (m *MockRecordSource) QueryRecords(ctx context.Context, workflowID, pattern string) ([]*models.WorkflowRecord, error) {
	args := m.Called(ctx, workflowID, pattern)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowRecord), args.Error(1)
}
