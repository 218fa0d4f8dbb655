package graph

import (
	"log/slog"
	"strconv"

	"github.com/dukex/director/pkg/models"
)

// Builder reconstructs control-flow forests. It never mutates the nodes it
// is given.
type Builder struct {
	logger *slog.Logger
}

// NewBuilder creates a tree builder.
func NewBuilder(logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}

	return &Builder{logger: logger.With("module", "graph")}
}

// Build converts the flat node list into a forest. Dangling references and
// malformed branches are reported on the forest and skipped; a child claimed
// by two parents, or a parent chain that loops, is a ConflictingParentError.
func (b *Builder) Build(nodes []*models.Node) (*Forest, error) {
	ix := NewIndex(nodes)

	forest := &Forest{
		Roots:      make([]*TreeNode, 0),
		Dangling:   make([]*models.DanglingReferenceError, 0),
		Invalid:    make([]*models.ValidationError, 0),
		Parents:    make(map[int]int, ix.Len()),
		Index:      ix,
		byPosition: make(map[int]*TreeNode, ix.Len()),
	}

	for _, node := range ix.Nodes() {
		forest.byPosition[node.Position] = &TreeNode{Node: node}
	}

	referenced := make(map[int]bool, ix.Len())

	claim := func(child, parent int, via string) (bool, error) {
		if child == parent {
			return false, &models.ConflictingParentError{
				Child:         child,
				ClaimedParent: parent,
				Message:       "lists itself as a child in " + via,
			}
		}

		if existing, ok := forest.Parents[child]; ok {
			if existing == parent {
				return false, nil
			}

			return false, &models.ConflictingParentError{
				Child:          child,
				ExistingParent: existing,
				ClaimedParent:  parent,
			}
		}

		forest.Parents[child] = parent
		referenced[child] = true

		return true, nil
	}

	for _, node := range ix.Nodes() {
		var err error

		switch node.Type {
		case models.NodeTypeRoute:
			err = b.linkRoute(forest, node, claim)
		case models.NodeTypeIterate:
			err = b.linkIterate(forest, node, claim)
		}

		if err != nil {
			return nil, err
		}
	}

	carrying := make(map[int]bool)

	for _, node := range ix.Nodes() {
		parent, ok := node.ParentPosition()
		if !ok {
			continue
		}

		carrying[node.Position] = true

		if node.Type.IsContainer() {
			continue
		}

		parentTree, exists := forest.byPosition[parent]
		if !exists {
			forest.addDangling(b.logger, &models.DanglingReferenceError{
				NodePosition: node.Position,
				NodeAlias:    node.Alias,
				Branch:       models.ParentPositionKey,
				Reference:    strconv.Itoa(parent),
			})

			continue
		}

		placed, err := claim(node.Position, parent, models.ParentPositionKey)
		if err != nil {
			return nil, err
		}

		if placed && !parentTree.hasChild(node.Position) {
			parentTree.Children = append(parentTree.Children, forest.byPosition[node.Position])
		}
	}

	if err := checkAcyclic(forest.Parents); err != nil {
		return nil, err
	}

	for _, tree := range forest.byPosition {
		tree.sortChildren()
	}

	for _, node := range ix.Nodes() {
		if !referenced[node.Position] && !carrying[node.Position] {
			forest.Roots = append(forest.Roots, forest.byPosition[node.Position])
		}
	}

	if len(forest.Roots) == 0 && ix.Len() > 0 {
		b.logger.Warn("no root nodes found, falling back to a flat node list", "nodes", ix.Len())
		forest.flatten()

		return forest, nil
	}

	forest.collectOrphans()

	return forest, nil
}

type claimFunc func(child, parent int, via string) (bool, error)

func (b *Builder) linkRoute(forest *Forest, node *models.Node, claim claimFunc) error {
	tree := forest.byPosition[node.Position]

	route, err := models.ParseRouteParams(node.Params)
	if err != nil {
		forest.addInvalid(b.logger, node, err)

		return nil
	}

	for _, branch := range route.Branches {
		children := make([]*TreeNode, 0)

		if branch.Err != nil {
			forest.addInvalid(b.logger, node, branch.Err)
			tree.Paths = append(tree.Paths, &BranchChildren{Name: branch.Name, Children: children})

			continue
		}

		positions, dangling := forest.branchPositions(branch.HasPositions, branch.Positions, branch.Spec)
		for _, ref := range dangling {
			forest.addDangling(b.logger, &models.DanglingReferenceError{
				NodePosition: node.Position,
				NodeAlias:    node.Alias,
				Branch:       branch.Name,
				Reference:    ref,
			})
		}

		for _, position := range positions {
			placed, err := claim(position, node.Position, "branch "+branch.Name)
			if err != nil {
				return err
			}

			if !placed {
				b.logger.Warn("child listed twice under the same route",
					"route", node.Position, "branch", branch.Name, "child", position)

				continue
			}

			children = append(children, forest.byPosition[position])
		}

		tree.Paths = append(tree.Paths, &BranchChildren{Name: branch.Name, Children: children})
	}

	return nil
}

func (b *Builder) linkIterate(forest *Forest, node *models.Node, claim claimFunc) error {
	tree := forest.byPosition[node.Position]

	iterate, err := models.ParseIterateParams(node.Params)
	if err != nil {
		forest.addInvalid(b.logger, node, err)

		return nil
	}

	positions, dangling := forest.branchPositions(iterate.HasBodyPositions, iterate.BodyPositions, iterate.Body)
	for _, ref := range dangling {
		forest.addDangling(b.logger, &models.DanglingReferenceError{
			NodePosition: node.Position,
			NodeAlias:    node.Alias,
			Branch:       models.ParamBody,
			Reference:    ref,
		})
	}

	for _, position := range positions {
		placed, err := claim(position, node.Position, models.ParamBody)
		if err != nil {
			return err
		}

		if placed {
			tree.Body = append(tree.Body, forest.byPosition[position])
		}
	}

	return nil
}

// branchPositions prefers already resolved positions and falls back to
// expanding the declared spec.
func (f *Forest) branchPositions(hasPositions bool, positions []int, spec *models.RefSpec) ([]int, []string) {
	if hasPositions {
		present, missing := f.Index.Existing(positions)
		dangling := make([]string, 0, len(missing))

		for _, position := range missing {
			dangling = append(dangling, strconv.Itoa(position))
		}

		return present, dangling
	}

	return f.Index.Expand(spec)
}

func (f *Forest) addDangling(logger *slog.Logger, err *models.DanglingReferenceError) {
	logger.Warn("skipping dangling reference", "node", err.NodePosition, "branch", err.Branch, "reference", err.Reference)
	f.Dangling = append(f.Dangling, err)
}

func (f *Forest) addInvalid(logger *slog.Logger, node *models.Node, err error) {
	logger.Warn("skipping malformed params", "node", node.Position, "alias", node.Alias, "error", err)

	verr, ok := err.(*models.ValidationError)
	if !ok {
		verr = &models.ValidationError{Message: err.Error()}
	}

	if verr.Ref == "" {
		verr.Ref = strconv.Itoa(node.Position)
	}

	f.Invalid = append(f.Invalid, verr)
}

func (f *Forest) flatten() {
	f.Flat = true
	f.Roots = make([]*TreeNode, 0, len(f.byPosition))
	f.Parents = make(map[int]int)

	for _, node := range f.Index.Nodes() {
		flat := &TreeNode{Node: node}
		f.byPosition[node.Position] = flat
		f.Roots = append(f.Roots, flat)
	}
}

// collectOrphans gathers nodes that no root reaches, such as nodes whose
// explicit parent does not exist.
func (f *Forest) collectOrphans() {
	reached := make(map[int]bool, len(f.byPosition))

	var mark func(node *TreeNode)

	mark = func(node *TreeNode) {
		if reached[node.Position()] {
			return
		}

		reached[node.Position()] = true

		for _, child := range node.Ordered() {
			mark(child)
		}
	}

	for _, root := range f.Roots {
		mark(root)
	}

	for _, node := range f.Index.Nodes() {
		if reached[node.Position] {
			continue
		}

		if _, hasParent := f.Parents[node.Position]; hasParent {
			continue
		}

		f.Orphans = append(f.Orphans, f.byPosition[node.Position])
	}
}

func checkAcyclic(parents map[int]int) error {
	clean := make(map[int]bool, len(parents))

	for start := range parents {
		if clean[start] {
			continue
		}

		path := make(map[int]bool)
		current := start

		for {
			if clean[current] {
				break
			}

			if path[current] {
				return &models.ConflictingParentError{
					Child:          current,
					ExistingParent: parents[current],
					Message:        "parent chain forms a cycle",
				}
			}

			path[current] = true

			parent, ok := parents[current]
			if !ok {
				break
			}

			current = parent
		}

		for position := range path {
			clean[position] = true
		}
	}

	return nil
}
