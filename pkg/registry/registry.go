// Package registry maps node params to actions and executes work nodes.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dukex/director/pkg/models"
	"github.com/dukex/director/pkg/protocol"
	"github.com/dukex/director/pkg/state"
)

// ActionParam names the params key selecting an action for generic nodes.
const ActionParam = "action"

// ErrActionNotRegistered is returned for nodes whose action is unknown.
var ErrActionNotRegistered = errors.New("action not registered")

// rawParams are passed to actions without placeholder resolution: they
// carry Go templates rendered by the action itself.
var rawParams = map[string]bool{"expression": true}

type Registry struct {
	logger          *slog.Logger
	mu              sync.RWMutex
	actionFactories map[string]protocol.ActionFactory
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:          log.With("module", "registry"),
		actionFactories: make(map[string]protocol.ActionFactory),
	}
}

func (r *Registry) RegisterAction(actionFactory protocol.ActionFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.actionFactories[actionFactory.ID()] = actionFactory
}

func (r *Registry) CreateAction(actionType string, params map[string]any) (protocol.Action, error) {
	r.mu.RLock()
	factory, ok := r.actionFactories[actionType]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrActionNotRegistered, actionType)
	}

	return factory.Create(params)
}

// ActionTypes lists registered action ids in lexical order.
func (r *Registry) ActionTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.actionFactories))
	for id := range r.actionFactories {
		types = append(types, id)
	}

	sort.Strings(types)

	return types
}

// ActionID selects the action of a node: params.action when set, the node
// type otherwise.
func ActionID(node *models.Node) string {
	if id, ok := node.Params[ActionParam].(string); ok && id != "" {
		return id
	}

	return string(node.Type)
}

// ExecuteNode implements protocol.NodeExecutor.
func (r *Registry) ExecuteNode(ctx context.Context, executionID string, node *models.Node, scope *state.Scope) (any, error) {
	actionID := ActionID(node)
	logger := r.logger.With(
		"execution_id", executionID,
		"position", node.Position,
		"alias", node.Alias,
		"action", actionID,
	)

	action, err := r.CreateAction(actionID, resolveParams(node.Params, scope))
	if err != nil {
		logger.ErrorContext(ctx, "failed to create action", "error", err)

		return nil, err
	}

	executionCtx := models.ExecutionContext{
		ID:         executionID,
		WorkflowID: node.WorkflowID,
		StartedAt:  time.Now().UTC(),
	}

	result, err := action.Execute(ctx, executionCtx, scope, logger)
	if err != nil {
		return nil, err
	}

	return result, nil
}

func resolveParams(params map[string]any, scope *state.Scope) map[string]any {
	out := make(map[string]any, len(params))

	for key, value := range params {
		switch {
		case key == models.ParentPositionKey || key == ActionParam:
			continue
		case rawParams[key]:
			out[key] = models.CloneValue(value)
		default:
			out[key] = scope.ResolveTemplates(value)
		}
	}

	return out
}
