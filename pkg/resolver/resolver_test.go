package resolver

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/dukex/director/pkg/eventbus"
	"github.com/dukex/director/pkg/events"
	"github.com/dukex/director/pkg/metrics"
	"github.com/dukex/director/pkg/models"
	"github.com/dukex/director/pkg/persistence"
	"github.com/dukex/director/pkg/persistence/file"
	"github.com/dukex/director/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

func setup(t *testing.T, nodes ...*models.Node) (*Resolver, persistence.NodeRepository, *recordingPublisher) {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	require.NoError(t, store.WorkflowRepository().Save(t.Context(), testutil.CreateTestWorkflow(testutil.WithNodes(nodes...))))

	publisher := &recordingPublisher{}

	r, err := New(store.NodeRepository(), WithPublisher(publisher), WithMetrics(metrics.New()))
	require.NoError(t, err)

	return r, store.NodeRepository(), publisher
}

func nodeAt(t *testing.T, repo persistence.NodeRepository, position int) *models.Node {
	t.Helper()

	nodes, err := repo.ListNodes(t.Context(), testutil.TestWorkflowID)
	require.NoError(t, err)

	for _, node := range nodes {
		if node.Position == position {
			return node
		}
	}

	t.Fatalf("no node at position %d", position)

	return nil
}

func snapshot(t *testing.T, repo persistence.NodeRepository) string {
	t.Helper()

	nodes, err := repo.ListNodes(t.Context(), testutil.TestWorkflowID)
	require.NoError(t, err)

	encoded, err := json.Marshal(nodes)
	require.NoError(t, err)

	return string(encoded)
}

func TestResolveRoute_SymbolicBranches(t *testing.T) {
	t.Parallel()

	route := testutil.CreateTestNode(1, testutil.WithType(models.NodeTypeRoute), testutil.WithParams(map[string]any{
		"branches": []any{
			map[string]any{"name": "approved", "branch": map[string]any{"start": "node_2", "end": 4}},
			map[string]any{"name": "rejected", "branch": []any{"node_6", 5}},
		},
	}))

	r, repo, publisher := setup(t,
		route,
		testutil.CreateTestNode(2),
		testutil.CreateTestNode(3),
		testutil.CreateTestNode(4),
		testutil.CreateTestNode(5),
		testutil.CreateTestNode(6),
	)

	report, err := r.ResolveRoute(t.Context(), testutil.TestWorkflowID, models.AliasRef("node_1"))
	require.NoError(t, err)

	require.Len(t, report.Branches, 2)
	assert.Equal(t, "approved", report.Branches[0].Name)
	assert.Equal(t, []int{2, 3, 4}, report.Branches[0].Positions)
	assert.Equal(t, 3, report.Branches[0].ResolvedCount)
	assert.Equal(t, []int{6, 5}, report.Branches[1].Positions)
	assert.ElementsMatch(t, []int{2, 3, 4, 5, 6}, report.Tagged)
	assert.True(t, report.Written)
	assert.False(t, report.Timestamp.IsZero())

	stored := nodeAt(t, repo, 1)
	parsed, err := models.ParseRouteParams(stored.Params)
	require.NoError(t, err)
	assert.Equal(t, models.RouteFormatBranchArray, parsed.Format)

	approved, ok := parsed.Branch("approved")
	require.True(t, ok)
	assert.Equal(t, []int{2, 3, 4}, approved.Positions)
	assert.Equal(t, models.SpecRange, approved.Spec.Kind)

	for _, position := range []int{2, 3, 4, 5, 6} {
		parent, ok := nodeAt(t, repo, position).ParentPosition()
		require.True(t, ok, position)
		assert.Equal(t, 1, parent)
	}

	require.Len(t, publisher.events, 1)
	assert.Equal(t, events.NodesResolvedEvent, publisher.events[0].GetType())
}

func TestResolveRoute_TagsOnlyBranchChildren(t *testing.T) {
	t.Parallel()

	r, repo, _ := setup(t,
		testutil.CreateTestNode(1, testutil.WithRouteBranches("yes", []int{2}, "no", []int{3})),
		testutil.CreateTestNode(2),
		testutil.CreateTestNode(3),
		testutil.CreateTestNode(4),
	)

	report, err := r.ResolveRoute(t.Context(), testutil.TestWorkflowID, models.PositionRef(1))
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{2, 3}, report.Tagged)

	for _, position := range []int{2, 3} {
		parent, ok := nodeAt(t, repo, position).ParentPosition()
		require.True(t, ok)
		assert.Equal(t, 1, parent)
	}

	_, ok := nodeAt(t, repo, 4).ParentPosition()
	assert.False(t, ok)
}

func TestResolveRoute_Idempotent(t *testing.T) {
	t.Parallel()

	route := testutil.CreateTestNode(1, testutil.WithType(models.NodeTypeRoute), testutil.WithParams(map[string]any{
		"branches": []any{
			map[string]any{"name": "yes", "branch": map[string]any{"start": 2, "end": 3}},
			map[string]any{"name": "no", "branch_positions": []any{4}},
		},
	}))

	r, repo, _ := setup(t, route, testutil.CreateTestNode(2), testutil.CreateTestNode(3), testutil.CreateTestNode(4))

	_, err := r.ResolveRoute(t.Context(), testutil.TestWorkflowID, models.PositionRef(1))
	require.NoError(t, err)

	before := snapshot(t, repo)

	second, err := r.ResolveRoute(t.Context(), testutil.TestWorkflowID, models.PositionRef(1))
	require.NoError(t, err)

	assert.False(t, second.Written)
	assert.Empty(t, second.Tagged)
	assert.Equal(t, before, snapshot(t, repo))
}

func TestResolveRoute_LegacyPathsKeepFormat(t *testing.T) {
	t.Parallel()

	route := testutil.CreateTestNode(1, testutil.WithType(models.NodeTypeRoute), testutil.WithParams(map[string]any{
		"paths": map[string]any{
			"b": []any{3},
			"a": map[string]any{"start": 2, "end": 2},
		},
		"branch_order": []any{"b", "a"},
	}))

	r, repo, _ := setup(t, route, testutil.CreateTestNode(2), testutil.CreateTestNode(3))

	report, err := r.ResolveRoute(t.Context(), testutil.TestWorkflowID, models.PositionRef(1))
	require.NoError(t, err)

	require.Len(t, report.Branches, 2)
	assert.Equal(t, "b", report.Branches[0].Name)
	assert.Equal(t, "a", report.Branches[1].Name)

	stored := nodeAt(t, repo, 1)
	assert.NotContains(t, stored.Params, models.ParamBranches)

	paths, ok := stored.Params[models.ParamPaths].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []any{2.0}, paths["a"])
	assert.Equal(t, []any{3.0}, paths["b"])
}

func TestResolveRoute_DanglingAndContainers(t *testing.T) {
	t.Parallel()

	route := testutil.CreateTestNode(1, testutil.WithRouteBranches("main", []int{2, 3, 99}))
	group := testutil.CreateTestNode(3, testutil.WithType(models.NodeTypeGroup))

	r, repo, _ := setup(t, route, testutil.CreateTestNode(2), group)

	report, err := r.ResolveRoute(t.Context(), testutil.TestWorkflowID, models.PositionRef(1))
	require.NoError(t, err)

	require.Len(t, report.Branches, 1)
	assert.Equal(t, []int{2, 3}, report.Branches[0].Positions)
	require.Len(t, report.Branches[0].Dangling, 1)
	assert.Equal(t, "99", report.Branches[0].Dangling[0].Reference)
	assert.Equal(t, []int{2}, report.Tagged)

	_, tagged := nodeAt(t, repo, 3).ParentPosition()
	assert.False(t, tagged)

	parsed, err := models.ParseRouteParams(nodeAt(t, repo, 1).Params)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, parsed.Branches[0].Positions)
}

func TestResolveRoute_MalformedBranchDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	route := testutil.CreateTestNode(1, testutil.WithType(models.NodeTypeRoute), testutil.WithParams(map[string]any{
		"branches": []any{
			map[string]any{"name": "broken", "branch": map[string]any{"from": 2}},
			map[string]any{"name": "ok", "branch": []any{"node_2"}},
		},
	}))

	r, _, _ := setup(t, route, testutil.CreateTestNode(2))

	report, err := r.ResolveRoute(t.Context(), testutil.TestWorkflowID, models.PositionRef(1))
	require.NoError(t, err)

	require.Len(t, report.Branches, 2)
	assert.NotEmpty(t, report.Branches[0].Error)
	assert.Equal(t, []int{2}, report.Branches[1].Positions)
}

func TestResolveRoute_Errors(t *testing.T) {
	t.Parallel()

	r, _, _ := setup(t,
		testutil.CreateTestNode(1),
		testutil.CreateTestNode(2, testutil.WithType(models.NodeTypeRoute), testutil.WithParams(map[string]any{"branches": "nope"})),
	)

	_, err := r.ResolveRoute(t.Context(), testutil.TestWorkflowID, models.AliasRef("missing"))
	assert.True(t, models.IsNotFound(err))

	_, err = r.ResolveRoute(t.Context(), testutil.TestWorkflowID, models.PositionRef(1))
	assert.True(t, models.IsValidation(err))

	_, err = r.ResolveRoute(t.Context(), testutil.TestWorkflowID, models.PositionRef(2))
	assert.True(t, models.IsValidation(err))
}

func TestResolveIterate(t *testing.T) {
	t.Parallel()

	loop := testutil.CreateTestNode(1, testutil.WithType(models.NodeTypeIterate), testutil.WithParams(map[string]any{
		"listVariable":  "items",
		"itemVariable":  "row",
		"maxIterations": 10,
		"body":          map[string]any{"start": "node_2", "end": "node_3"},
	}))

	r, repo, _ := setup(t, loop, testutil.CreateTestNode(2), testutil.CreateTestNode(3), testutil.CreateTestNode(4))

	report, err := r.ResolveIterate(t.Context(), testutil.TestWorkflowID, models.AliasRef("node_1"))
	require.NoError(t, err)

	require.Len(t, report.Branches, 1)
	assert.Equal(t, BodyBranch, report.Branches[0].Name)
	assert.Equal(t, []int{2, 3}, report.Branches[0].Positions)
	assert.Equal(t, []int{2, 3}, report.Tagged)

	stored := nodeAt(t, repo, 1)
	assert.Equal(t, []any{2.0, 3.0}, stored.Params[models.ParamBodyPositions])
	assert.Equal(t, map[string]any{"start": "node_2", "end": "node_3"}, stored.Params[models.ParamBody])

	_, tagged := nodeAt(t, repo, 4).ParentPosition()
	assert.False(t, tagged)
}

func TestResolveIterate_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		params map[string]any
	}{
		{name: "zero max iterations", params: map[string]any{"listVariable": "items", "maxIterations": 0}},
		{name: "fractional max iterations", params: map[string]any{"listVariable": "items", "maxIterations": 1.5}},
		{name: "empty item variable", params: map[string]any{"listVariable": "items", "itemVariable": ""}},
		{name: "empty index variable", params: map[string]any{"listVariable": "items", "indexVariable": ""}},
		{name: "ambiguous body", params: map[string]any{"listVariable": "items", "body": map[string]any{"first": 2}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			loop := testutil.CreateTestNode(1, testutil.WithType(models.NodeTypeIterate), testutil.WithParams(tt.params))
			r, _, _ := setup(t, loop, testutil.CreateTestNode(2))

			_, err := r.ResolveIterate(t.Context(), testutil.TestWorkflowID, models.PositionRef(1))
			assert.True(t, models.IsValidation(err), "got %v", err)
		})
	}
}

func TestResolveAll(t *testing.T) {
	t.Parallel()

	r, repo, _ := setup(t,
		testutil.CreateTestNode(1, testutil.WithRouteBranches("a", []int{2}, "b", []int{3})),
		testutil.CreateTestNode(2),
		testutil.CreateTestNode(3, testutil.WithIterateBody("items", 4)),
		testutil.CreateTestNode(4),
		testutil.CreateTestNode(5, testutil.WithType(models.NodeTypeIterate), testutil.WithParams(map[string]any{"maxIterations": -1})),
	)

	batch, err := r.ResolveAll(t.Context(), testutil.TestWorkflowID)
	require.NoError(t, err)

	assert.Len(t, batch.Reports, 2)
	assert.Contains(t, batch.Errors, "node_5")

	parent, ok := nodeAt(t, repo, 4).ParentPosition()
	require.True(t, ok)
	assert.Equal(t, 3, parent)
}
