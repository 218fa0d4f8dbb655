package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextStack_NestedFramesShadowAndRestore(t *testing.T) {
	t.Parallel()

	stack := NewContextStack()
	stack.PushIteration(IterationFrame{NodePosition: 1, CurrentIndex: 0, ItemVariable: "item", Item: "outer", Total: 2})
	stack.PushIteration(IterationFrame{NodePosition: 3, CurrentIndex: 4, ItemVariable: "item", Item: "inner", Total: 5})

	value, ok := stack.Lookup("item")
	require.True(t, ok)
	assert.Equal(t, "inner", value)

	popped, ok := stack.PopIteration()
	require.True(t, ok)
	assert.Equal(t, 3, popped.NodePosition)

	value, ok = stack.Lookup("item")
	require.True(t, ok)
	assert.Equal(t, "outer", value)

	_, ok = stack.PopIteration()
	require.True(t, ok)

	_, ok = stack.Lookup("item")
	assert.False(t, ok)
}

func TestContextStack_PopEmptyIsNoop(t *testing.T) {
	t.Parallel()

	stack := NewContextStack()

	_, ok := stack.PopIteration()
	assert.False(t, ok)

	_, ok = stack.PopRecord()
	assert.False(t, ok)

	stack.PushRecord("r1", nil)
	_, ok = stack.PopRecord()
	assert.True(t, ok)

	_, ok = stack.PopRecord()
	assert.False(t, ok)
	assert.Equal(t, 0, stack.Depth())
}

func TestContextStack_RecordFrames(t *testing.T) {
	t.Parallel()

	stack := NewContextStack()

	_, ok := stack.CurrentRecord()
	assert.False(t, ok)

	stack.PushRecord("r1", map[string]any{"fields": map[string]any{"name": "first"}})
	stack.PushIteration(IterationFrame{NodePosition: 2, ItemVariable: "row", Item: 1})
	stack.PushRecord("r2", map[string]any{"fields": map[string]any{"name": "second"}})

	record, ok := stack.CurrentRecord()
	require.True(t, ok)
	assert.Equal(t, "r2", record.RecordID)

	current, ok := stack.Lookup(CurrentAlias)
	require.True(t, ok)
	assert.Equal(t, "second", current.(map[string]any)["fields"].(map[string]any)["name"])

	_, ok = stack.PopRecord()
	require.True(t, ok)

	record, ok = stack.CurrentRecord()
	require.True(t, ok)
	assert.Equal(t, "r1", record.RecordID)
	assert.Equal(t, 2, stack.Depth())
}

func TestContextStack_IndexVariableAndCurrentItem(t *testing.T) {
	t.Parallel()

	stack := NewContextStack()
	stack.PushIteration(IterationFrame{NodePosition: 1, CurrentIndex: 2, ItemVariable: "row", IndexVariable: "i", Item: map[string]any{"id": 9}})

	index, ok := stack.Lookup("i")
	require.True(t, ok)
	assert.Equal(t, 2, index)

	current, ok := stack.Lookup(CurrentAlias)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"id": 9}, current)
}

func TestContextStack_CloneIsIndependent(t *testing.T) {
	t.Parallel()

	stack := NewContextStack()
	stack.PushIteration(IterationFrame{ItemVariable: "item", Item: map[string]any{"n": 1}})

	clone := stack.Clone()
	clone.PushIteration(IterationFrame{ItemVariable: "item", Item: "clone-only"})

	value, _ := stack.Lookup("item")
	assert.Equal(t, map[string]any{"n": 1}, value)
	assert.Equal(t, 1, stack.Depth())
	assert.Equal(t, 2, clone.Depth())
}

func TestContextStack_PopIsStrictlyLIFO(t *testing.T) {
	t.Parallel()

	stack := NewContextStack()
	stack.PushIteration(IterationFrame{NodePosition: 1, ItemVariable: "row", Item: "a"})
	stack.PushRecord("r1", map[string]any{"id": "r1"})

	_, ok := stack.PopIteration()
	assert.False(t, ok)
	assert.Equal(t, 2, stack.Depth())

	record, ok := stack.PopRecord()
	require.True(t, ok)
	assert.Equal(t, "r1", record.RecordID)

	iteration, ok := stack.PopIteration()
	require.True(t, ok)
	assert.Equal(t, 1, iteration.NodePosition)
	assert.Equal(t, 0, stack.Depth())
}
