package protocol

import (
	"context"
	"log/slog"

	"github.com/dukex/director/pkg/models"
	"github.com/dukex/director/pkg/state"
)

type Action interface {
	Execute(ctx context.Context, executionCtx models.ExecutionContext, scope *state.Scope, logger *slog.Logger) (any, error)
}

// ActionFactory builds an action from a node's params, after templates in
// them were resolved against the execution scope.
type ActionFactory interface {
	Create(params map[string]any) (Action, error)
	ID() string
}
