package state

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitPath(t *testing.T) {
	t.Parallel()

	segments, err := SplitPath("items[0].name")
	require.NoError(t, err)
	assert.Equal(t, []string{"items", "0", "name"}, segments)

	segments, err = SplitPath("items.0.name")
	require.NoError(t, err)
	assert.Equal(t, []string{"items", "0", "name"}, segments)

	for _, blank := range []string{"", "  ", ".", "[]"} {
		_, err := SplitPath(blank)
		assert.ErrorIs(t, err, ErrEmptyPath, "path %q", blank)
	}
}

func TestStore_SetGet(t *testing.T) {
	t.Parallel()

	store := NewStore(nil)

	require.NoError(t, store.Set("a.b", 5))
	value, ok := store.Get("a.b")
	require.True(t, ok)
	assert.Equal(t, 5, value)

	a, ok := store.Get("a")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"b": 5}, a)

	require.NoError(t, store.Set("items[1].name", "second"))
	items, ok := store.Get("items")
	require.True(t, ok)
	assert.Equal(t, []any{nil, map[string]any{"name": "second"}}, items)

	name, ok := store.Get("items.1.name")
	require.True(t, ok)
	assert.Equal(t, "second", name)

	_, ok = store.Get("missing.path")
	assert.False(t, ok)
	assert.False(t, store.Has("items[7]"))
	assert.True(t, store.Has("items[1]"))
}

func TestStore_EmptyPathIsAnError(t *testing.T) {
	t.Parallel()

	store := NewStore(nil)

	assert.ErrorIs(t, store.Set("", 1), ErrEmptyPath)
	assert.ErrorIs(t, store.Merge(" ", map[string]any{"a": 1}), ErrEmptyPath)

	removed, err := store.Delete("")
	assert.False(t, removed)
	assert.ErrorIs(t, err, ErrEmptyPath)

	_, ok := store.Get("")
	assert.False(t, ok)
	assert.False(t, store.Has(""))
	assert.Empty(t, store.MutationHistory(0))
}

func TestStore_GetReturnsCopies(t *testing.T) {
	t.Parallel()

	original := map[string]any{"user": map[string]any{"name": "ann"}}
	store := NewStore(original)

	original["user"].(map[string]any)["name"] = "changed"

	user, _ := store.Get("user")
	user.(map[string]any)["name"] = "mutated"

	name, _ := store.Get("user.name")
	assert.Equal(t, "ann", name)
}

func TestStore_DeleteAndMerge(t *testing.T) {
	t.Parallel()

	store := NewStore(map[string]any{
		"config": map[string]any{"retries": 1, "timeout": 30},
		"list":   []any{"a", "b", "c"},
	})

	require.NoError(t, store.Merge("config", map[string]any{"retries": 3, "region": "eu"}))
	config, _ := store.Get("config")
	assert.Equal(t, map[string]any{"retries": 3, "timeout": 30, "region": "eu"}, config)

	require.NoError(t, store.Merge("fresh.nested", map[string]any{"x": 1}))
	x, ok := store.Get("fresh.nested.x")
	assert.True(t, ok)
	assert.Equal(t, 1, x)

	removed, err := store.Delete("list[1]")
	require.NoError(t, err)
	assert.True(t, removed)

	list, _ := store.Get("list")
	assert.Equal(t, []any{"a", "c"}, list)

	removed, err = store.Delete("config.nope")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestStore_TemplateRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewStore(nil)
	require.NoError(t, store.Set("a.b", 5))
	require.NoError(t, store.Set("user.name", "Ada"))

	assert.Equal(t, "5", store.ResolveTemplate("{{a.b}}"))
	assert.Equal(t, "5", store.ResolveTemplate("{{state.a.b}}"))
	assert.Equal(t, "{{missing.path}}", store.ResolveTemplate("{{missing.path}}"))

	resolved := store.ResolveTemplates(map[string]any{
		"greeting": "hello {{user.name}}",
		"nested":   []any{"{{a.b}}", 7},
	})
	assert.Equal(t, map[string]any{
		"greeting": "hello Ada",
		"nested":   []any{"5", 7},
	}, resolved)
}

func TestStore_MutationHistoryIsBounded(t *testing.T) {
	t.Parallel()

	store := NewStore(nil, WithHistorySize(3))

	for i := range 5 {
		require.NoError(t, store.Set(fmt.Sprintf("k%d", i), i))
	}

	history := store.MutationHistory(0)
	require.Len(t, history, 3)
	assert.Equal(t, "k2", history[0].Path)
	assert.Equal(t, "k4", history[2].Path)
	assert.Equal(t, OpSet, history[2].Operation)
	assert.Equal(t, 4, history[2].NewValue)

	latest := store.MutationHistory(1)
	require.Len(t, latest, 1)
	assert.Equal(t, "k4", latest[0].Path)

	require.NoError(t, store.Set("k4", "again"))
	latest = store.MutationHistory(1)
	assert.Equal(t, 4, latest[0].OldValue)
	assert.Equal(t, "again", latest[0].NewValue)
}

func TestStore_SnapshotRestore(t *testing.T) {
	t.Parallel()

	store := NewStore(map[string]any{"counter": 1, "obj": map[string]any{"k": "v"}})
	snapshot := store.CreateSnapshot()

	require.NoError(t, store.Set("counter", 2))
	require.NoError(t, store.Set("obj.k", "changed"))
	require.NoError(t, store.Set("extra", true))

	require.NoError(t, store.RestoreSnapshot(snapshot))
	assert.Equal(t, map[string]any{"counter": 1, "obj": map[string]any{"k": "v"}}, store.All())

	require.NoError(t, store.Set("obj.k", "after restore"))
	assert.Equal(t, "v", snapshot.Data["obj"].(map[string]any)["k"])

	assert.Error(t, store.RestoreSnapshot(nil))
}

func TestStore_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	store := NewStore(nil)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			path := fmt.Sprintf("workers.w%d", i)
			assert.NoError(t, store.Set(path, i))
			_, _ = store.Get(path)
			_ = store.ResolveTemplate("{{" + path + "}}")
		}()
	}

	wg.Wait()

	workers, ok := store.Get("workers")
	require.True(t, ok)
	assert.Len(t, workers, 20)
}
