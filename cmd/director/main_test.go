package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const workflowYAML = `
id: wf-cli
name: Review pipeline
owner: ops
variables:
  threshold: 3
nodes:
  - position: 1
    alias: gate
    type: route
    params:
      branches:
        - name: approved
          branch: {start: fetch, end: 3}
  - position: 2
    alias: fetch
    type: action
  - position: 3
    alias: store
    type: action
`

func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()

	out := &bytes.Buffer{}

	command := newCommand()
	command.Writer = out
	command.ErrWriter = out

	err := command.Run(t.Context(), append([]string{"director", "--database-url", "file://" + dir}, args...))

	return out.String(), err
}

func importFixture(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	file := filepath.Join(t.TempDir(), "workflow.yaml")
	require.NoError(t, os.WriteFile(file, []byte(workflowYAML), 0o600))

	out, err := run(t, dir, "import", file)
	require.NoError(t, err)
	assert.Contains(t, out, "imported workflow wf-cli with 3 nodes")

	return dir
}

func TestParseWorkflowDocument(t *testing.T) {
	t.Parallel()

	workflow, err := parseWorkflowDocument([]byte(workflowYAML))
	require.NoError(t, err)

	assert.Equal(t, "wf-cli", workflow.ID)
	require.Len(t, workflow.Nodes, 3)
	assert.Equal(t, "gate", workflow.Nodes[0].Alias)
	assert.NotNil(t, workflow.Nodes[1].Params)

	_, err = parseWorkflowDocument([]byte("nodes: {"))
	require.Error(t, err)
}

func TestParseValue(t *testing.T) {
	t.Parallel()

	tests := map[string]any{
		"3":      3,
		"true":   true,
		"hello":  "hello",
		"[a, b]": []any{"a", "b"},
		"{k: v}": map[string]any{"k": "v"},
	}

	for raw, want := range tests {
		got, err := parseValue(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}
}

func TestCLI_ResolveAndTree(t *testing.T) {
	t.Parallel()

	dir := importFixture(t)

	out, err := run(t, dir, "resolve", "wf-cli", "gate")
	require.NoError(t, err)

	var report map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, true, report["written"])

	out, err = run(t, dir, "tree", "wf-cli")
	require.NoError(t, err)
	assert.Contains(t, out, "1 gate (route)")
	assert.Contains(t, out, "  [approved] 2 fetch (action)")
	assert.Contains(t, out, "  [approved] 3 store (action)")

	_, err = run(t, dir, "resolve", "wf-cli", "fetch")
	require.Error(t, err)

	out, err = run(t, dir, "resolve", "--all", "wf-cli")
	require.NoError(t, err)
	assert.Contains(t, out, "wf-cli")
}

func TestCLI_Renumber(t *testing.T) {
	t.Parallel()

	dir := importFixture(t)

	out, err := run(t, dir, "renumber", "--dry-run", "wf-cli")
	require.NoError(t, err)
	assert.Contains(t, out, "0 nodes moved")
}

func TestCLI_Vars(t *testing.T) {
	t.Parallel()

	dir := importFixture(t)

	_, err := run(t, dir, "vars", "set", "wf-cli", "limits.max", "10")
	require.NoError(t, err)

	out, err := run(t, dir, "vars", "get", "wf-cli", "limits.max")
	require.NoError(t, err)
	assert.JSONEq(t, "10", out)

	out, err = run(t, dir, "vars", "get", "wf-cli")
	require.NoError(t, err)
	assert.JSONEq(t, `{"threshold": 3, "limits": {"max": 10}}`, out)

	_, err = run(t, dir, "vars", "get", "wf-cli", "missing")
	require.Error(t, err)

	_, err = run(t, dir, "vars", "set", "wf-cli", "only-path")
	require.Error(t, err)
}
