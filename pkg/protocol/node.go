// Package protocol defines the contracts between the engine and its
// pluggable collaborators: node executors, actions and record sources.
package protocol

import (
	"context"

	"github.com/dukex/director/pkg/models"
	"github.com/dukex/director/pkg/state"
)

// NodeExecutor runs one work node against the variables visible in scope.
// Route and iterate nodes never reach an executor: the engine drives them.
type NodeExecutor interface {
	ExecuteNode(ctx context.Context, executionID string, node *models.Node, scope *state.Scope) (any, error)
}

// NodeExecutorFunc adapts a function to NodeExecutor.
type NodeExecutorFunc func(ctx context.Context, executionID string, node *models.Node, scope *state.Scope) (any, error)

func (f NodeExecutorFunc) ExecuteNode(ctx context.Context, executionID string, node *models.Node, scope *state.Scope) (any, error) {
	return f(ctx, executionID, node, scope)
}
