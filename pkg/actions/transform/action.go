// Package transform provides the transform action: it writes variables and
// renders Go template expressions against the execution scope.
package transform

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/dukex/director/pkg/models"
	"github.com/dukex/director/pkg/protocol"
	"github.com/dukex/director/pkg/state"
	"github.com/dukex/director/pkg/template"
)

func NewTransformActionFactory() *TransformActionFactory {
	return &TransformActionFactory{}
}

type TransformActionFactory struct{}

func (h *TransformActionFactory) Create(config map[string]any) (protocol.Action, error) {
	return NewTransformAction(config)
}

func (h *TransformActionFactory) ID() string {
	return string(models.NodeTypeTransform)
}

// TransformAction assigns Set (path to already-resolved value) and, when
// Expression is present, stores its rendered result at Output.
type TransformAction struct {
	Set        map[string]any
	Expression string
	Output     string
}

func NewTransformAction(config map[string]any) (*TransformAction, error) {
	expression, _ := config["expression"].(string)
	output, _ := config["output"].(string)

	action := &TransformAction{
		Expression: expression,
		Output:     output,
	}

	if raw, ok := config["set"]; ok && raw != nil {
		set, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("transform: set must be an object of path to value, got %T", raw)
		}

		action.Set = set
	}

	return action, nil
}

func (a *TransformAction) Execute(ctx context.Context, _ models.ExecutionContext, scope *state.Scope, logger *slog.Logger) (any, error) {
	logger = logger.With("module", "transform_action")

	paths := make([]string, 0, len(a.Set))
	for path := range a.Set {
		paths = append(paths, path)
	}

	sort.Strings(paths)

	for _, path := range paths {
		if err := scope.Set(path, a.Set[path]); err != nil {
			return nil, fmt.Errorf("failed to set %q: %w", path, err)
		}
	}

	result := map[string]any{"set": paths}

	if a.Expression != "" {
		rendered, err := template.Render(a.Expression, scope.Data())
		if err != nil {
			return nil, fmt.Errorf("transformation failed: %w", err)
		}

		if a.Output != "" {
			if err := scope.Set(a.Output, rendered); err != nil {
				return nil, fmt.Errorf("failed to set %q: %w", a.Output, err)
			}
		}

		result["result"] = rendered
	}

	logger.DebugContext(ctx, "transform completed", "set", len(paths), "output", a.Output)

	return result, nil
}
