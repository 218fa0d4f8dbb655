package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapLookup(data map[string]any) Lookup {
	return func(path string) (any, bool) {
		value, ok := data[path]

		return value, ok
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	lookup := mapLookup(map[string]any{
		"a.b":   5,
		"name":  "Alice",
		"ratio": 0.25,
		"flag":  true,
		"list":  []any{1, "two"},
		"obj":   map[string]any{"k": "v"},
		"none":  nil,
	})

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"integer", "{{a.b}}", "5"},
		{"state prefix stripped", "{{state.a.b}}", "5"},
		{"whitespace inside braces", "{{ name }}", "Alice"},
		{"float", "{{ratio}}", "0.25"},
		{"bool", "{{flag}}", "true"},
		{"list as json", "{{list}}", `[1,"two"]`},
		{"object as json", "{{obj}}", `{"k":"v"}`},
		{"nil as json", "{{none}}", "null"},
		{"interpolated", "Hi {{name}}, you have {{a.b}}", "Hi Alice, you have 5"},
		{"missing left verbatim", "{{missing.path}}", "{{missing.path}}"},
		{"missing with prefix left verbatim", "x {{state.nope}} y", "x {{state.nope}} y"},
		{"no placeholders", "plain text", "plain text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, Resolve(tt.input, lookup))
		})
	}
}

func TestResolveAll_ReturnsNewValue(t *testing.T) {
	t.Parallel()

	input := map[string]any{
		"url":     "https://example.com/{{name}}",
		"retries": 3,
		"headers": []any{"X-User: {{name}}", map[string]any{"deep": "{{missing}}"}},
	}

	out := ResolveAll(input, mapLookup(map[string]any{"name": "bob"}))

	resolved, ok := out.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "https://example.com/bob", resolved["url"])
	assert.Equal(t, 3, resolved["retries"])

	headers := resolved["headers"].([]any)
	assert.Equal(t, "X-User: bob", headers[0])
	assert.Equal(t, "{{missing}}", headers[1].(map[string]any)["deep"])

	assert.Equal(t, "https://example.com/{{name}}", input["url"])
	assert.Equal(t, "X-User: {{name}}", input["headers"].([]any)[0])
}

func TestPlaceholders(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"a.b", "items[0].name"}, Placeholders("{{state.a.b}} and {{ items[0].name }}"))
	assert.Empty(t, Placeholders("nothing here"))
}

func TestRender_SimpleExpression(t *testing.T) {
	t.Parallel()

	data := map[string]any{
		"name":  "John",
		"age":   30,
		"isNew": true,
	}

	result, err := Render("{{ .name }}", data)
	require.NoError(t, err)
	assert.Equal(t, "John", result)

	result, err = Render("{{ .isNew }}", data)
	require.NoError(t, err)
	assert.Equal(t, true, result)

	result, err = Render("{{ .age }}", data)
	require.NoError(t, err)
	assert.Equal(t, 30.0, result)
}

func TestRender_ObjectConstruction(t *testing.T) {
	t.Parallel()

	data := map[string]any{
		"item":  map[string]any{"name": "Alice"},
		"items": []any{1, 2},
	}

	result, err := Render(`{"name": "{{ .item.name }}", "count": {{ len .items }}, "raw": {{ json .items }}}`, data)
	require.NoError(t, err)

	resultMap, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Alice", resultMap["name"])
	assert.Equal(t, 2.0, resultMap["count"])
	assert.Equal(t, []any{1.0, 2.0}, resultMap["raw"])
}

func TestRender_ErrorHandling(t *testing.T) {
	t.Parallel()

	_, err := Render("{ invalid..expression }", map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse json")

	_, err = Render("{{ nonexistent.field }}", map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "function \"nonexistent\" not defined")
}
