// Package variables provides the action behind context nodes: it sets,
// merges and deletes workflow variables in the execution scope.
package variables

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/dukex/director/pkg/models"
	"github.com/dukex/director/pkg/protocol"
	"github.com/dukex/director/pkg/state"
)

func NewContextActionFactory() *ContextActionFactory {
	return &ContextActionFactory{}
}

type ContextActionFactory struct{}

func (*ContextActionFactory) ID() string {
	return string(models.NodeTypeContext)
}

func (*ContextActionFactory) Create(config map[string]any) (protocol.Action, error) {
	return NewContextAction(config)
}

// ContextAction applies Set, then Merge, then Delete. Paths of Set and Merge
// are applied in lexical order, Delete in the declared order.
type ContextAction struct {
	Set    map[string]any
	Merge  map[string]map[string]any
	Delete []string
}

func NewContextAction(config map[string]any) (*ContextAction, error) {
	action := &ContextAction{}

	if raw, ok := config["set"]; ok && raw != nil {
		set, ok := raw.(map[string]any)
		if !ok {
			return nil, models.NewValidationError("set", fmt.Sprintf("must be an object of path to value, got %T", raw))
		}

		action.Set = set
	}

	if raw, ok := config["merge"]; ok && raw != nil {
		merge, ok := raw.(map[string]any)
		if !ok {
			return nil, models.NewValidationError("merge", fmt.Sprintf("must be an object of path to object, got %T", raw))
		}

		action.Merge = make(map[string]map[string]any, len(merge))

		for path, value := range merge {
			partial, ok := value.(map[string]any)
			if !ok {
				return nil, models.NewValidationError("merge."+path, "must be an object")
			}

			action.Merge[path] = partial
		}
	}

	switch raw := config["delete"].(type) {
	case nil:
	case string:
		action.Delete = []string{raw}
	case []any:
		for i, item := range raw {
			path, ok := item.(string)
			if !ok {
				return nil, models.NewValidationError(fmt.Sprintf("delete[%d]", i), "must be a path")
			}

			action.Delete = append(action.Delete, path)
		}
	case []string:
		action.Delete = append(action.Delete, raw...)
	default:
		return nil, models.NewValidationError("delete", fmt.Sprintf("must be a path or a list of paths, got %T", raw))
	}

	return action, nil
}

func (a *ContextAction) Execute(ctx context.Context, _ models.ExecutionContext, scope *state.Scope, logger *slog.Logger) (any, error) {
	set := sortedKeys(a.Set)
	for _, path := range set {
		if err := scope.Set(path, a.Set[path]); err != nil {
			return nil, fmt.Errorf("failed to set %q: %w", path, err)
		}
	}

	merged := sortedKeys(a.Merge)
	for _, path := range merged {
		if err := scope.Merge(path, a.Merge[path]); err != nil {
			return nil, fmt.Errorf("failed to merge %q: %w", path, err)
		}
	}

	deleted := make([]string, 0, len(a.Delete))

	for _, path := range a.Delete {
		removed, err := scope.Delete(path)
		if err != nil {
			return nil, fmt.Errorf("failed to delete %q: %w", path, err)
		}

		if removed {
			deleted = append(deleted, path)
		}
	}

	logger.With("action_type", "context").DebugContext(ctx, "variables updated",
		"set", len(set), "merged", len(merged), "deleted", len(deleted))

	return map[string]any{"set": set, "merged": merged, "deleted": deleted}, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	return keys
}
