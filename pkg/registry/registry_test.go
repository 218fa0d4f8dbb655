package registry

import (
	"context"
	"log/slog"
	"testing"

	"github.com/dukex/director/pkg/actions/variables"
	"github.com/dukex/director/pkg/models"
	"github.com/dukex/director/pkg/protocol"
	"github.com/dukex/director/pkg/state"
	"github.com/dukex/director/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoAction struct {
	params map[string]any
}

func (a *echoAction) Execute(_ context.Context, executionCtx models.ExecutionContext, _ *state.Scope, _ *slog.Logger) (any, error) {
	return map[string]any{"execution_id": executionCtx.ID, "params": a.params}, nil
}

type echoFactory struct{ id string }

func (f echoFactory) Create(params map[string]any) (protocol.Action, error) {
	return &echoAction{params: params}, nil
}

func (f echoFactory) ID() string { return f.id }

func TestRegistry_RegisterAndCreateAction(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(slog.New(slog.DiscardHandler))
	registry.RegisterAction(echoFactory{id: "echo"})
	registry.RegisterAction(echoFactory{id: "alpha"})

	assert.Equal(t, []string{"alpha", "echo"}, registry.ActionTypes())

	action, err := registry.CreateAction("echo", map[string]any{"a": 1})
	require.NoError(t, err)
	assert.IsType(t, &echoAction{}, action)

	_, err = registry.CreateAction("missing", nil)
	require.ErrorIs(t, err, ErrActionNotRegistered)
}

func TestActionID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "transform", ActionID(testutil.CreateTestNode(1, testutil.WithType(models.NodeTypeTransform))))
	assert.Equal(t, "echo", ActionID(testutil.CreateTestNode(1, testutil.WithParams(map[string]any{"action": "echo"}))))
	assert.Equal(t, "action", ActionID(testutil.CreateTestNode(1)))
}

func TestRegistry_ExecuteNodeResolvesTemplates(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(slog.New(slog.DiscardHandler))
	registry.RegisterAction(echoFactory{id: "echo"})

	scope := state.NewScope(state.NewStore(map[string]any{"user": map[string]any{"name": "ada"}}))
	node := testutil.CreateTestNode(3,
		testutil.WithParams(map[string]any{
			"action":           "echo",
			"greeting":         "hi {{user.name}}",
			"expression":       "{{.user.name}}",
			"_parent_position": 1,
			"missing":          "{{nope}}",
		}),
	)

	result, err := registry.ExecuteNode(t.Context(), "exec-1", node, scope)
	require.NoError(t, err)

	out := result.(map[string]any)
	assert.Equal(t, "exec-1", out["execution_id"])
	assert.Equal(t, map[string]any{
		"greeting":   "hi ada",
		"expression": "{{.user.name}}",
		"missing":    "{{nope}}",
	}, out["params"])
}

func TestRegistry_ExecuteNodeUnknownAction(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(slog.New(slog.DiscardHandler))

	_, err := registry.ExecuteNode(t.Context(), "exec-1", testutil.CreateTestNode(1), state.NewScope(nil))
	require.ErrorIs(t, err, ErrActionNotRegistered)
}

func TestRegistry_ExecuteContextNode(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(slog.New(slog.DiscardHandler))
	registry.RegisterAction(variables.NewContextActionFactory())

	store := state.NewStore(map[string]any{"user": map[string]any{"name": "ada"}, "tmp": 1})
	node := testutil.CreateTestNode(4,
		testutil.WithType(models.NodeTypeContext),
		testutil.WithParams(map[string]any{
			"set":    map[string]any{"greeting": "hi {{user.name}}"},
			"merge":  map[string]any{"user": map[string]any{"seen": true}},
			"delete": "tmp",
		}),
	)

	_, err := registry.ExecuteNode(t.Context(), "exec-1", node, state.NewScope(store))
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"greeting": "hi ada",
		"user":     map[string]any{"name": "ada", "seen": true},
	}, store.All())
}
