package transform

import (
	"log/slog"
	"testing"

	"github.com/dukex/director/pkg/models"
	"github.com/dukex/director/pkg/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTransformActionFactory(t *testing.T) {
	factory := NewTransformActionFactory()
	assert.NotNil(t, factory)
	assert.Equal(t, "transform", factory.ID())
}

func TestNewTransformAction(t *testing.T) {
	tests := []struct {
		name     string
		config   map[string]any
		expected *TransformAction
		wantErr  bool
	}{
		{
			name:     "empty config",
			config:   map[string]any{},
			expected: &TransformAction{},
		},
		{
			name: "expression with output",
			config: map[string]any{
				"expression": "{{ .field }}",
				"output":     "result.field",
			},
			expected: &TransformAction{Expression: "{{ .field }}", Output: "result.field"},
		},
		{
			name:     "set",
			config:   map[string]any{"set": map[string]any{"a": 1}},
			expected: &TransformAction{Set: map[string]any{"a": 1}},
		},
		{
			name:    "set is not an object",
			config:  map[string]any{"set": []any{"a"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, err := NewTransformAction(tt.config)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, action)
		})
	}
}

func TestTransformAction_Execute(t *testing.T) {
	store := state.NewStore(map[string]any{"user": map[string]any{"name": "John Doe", "age": 30}})
	scope := state.NewScope(store)

	action := &TransformAction{
		Set:        map[string]any{"greeting": "hello", "counts.total": 2},
		Expression: `{"name": "{{.user.name}}", "greeting": "{{.greeting}}"}`,
		Output:     "summary",
	}

	result, err := action.Execute(t.Context(), models.ExecutionContext{}, scope, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	assert.Equal(t, []string{"counts.total", "greeting"}, result.(map[string]any)["set"])

	total, ok := store.Get("counts.total")
	require.True(t, ok)
	assert.Equal(t, 2, total)

	summary, ok := store.Get("summary")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"name": "John Doe", "greeting": "hello"}, summary)
}

func TestTransformAction_ExecuteWritesToForkedScopeOnly(t *testing.T) {
	store := state.NewStore(nil)
	fork := state.NewScope(store).Fork()

	action := &TransformAction{Set: map[string]any{"local": true}}

	_, err := action.Execute(t.Context(), models.ExecutionContext{}, fork, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	assert.False(t, store.Has("local"))

	value, ok := fork.Lookup("local")
	require.True(t, ok)
	assert.Equal(t, true, value)
}

func TestTransformAction_ExecuteInvalidTemplate(t *testing.T) {
	action := &TransformAction{Expression: "{{.unclosed"}

	_, err := action.Execute(t.Context(), models.ExecutionContext{}, state.NewScope(nil), slog.New(slog.DiscardHandler))
	require.Error(t, err)
}
