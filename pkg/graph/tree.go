package graph

import (
	"sort"

	"github.com/dukex/director/pkg/models"
)

// TreeNode is one node of the reconstructed control-flow forest.
type TreeNode struct {
	Node     *models.Node      `json:"node"`
	Paths    []*BranchChildren `json:"paths,omitempty"`
	Body     []*TreeNode       `json:"body,omitempty"`
	Children []*TreeNode       `json:"children,omitempty"`
}

// BranchChildren holds the children of one named route branch.
type BranchChildren struct {
	Name     string      `json:"name"`
	Children []*TreeNode `json:"children"`
}

// Position returns the position of the wrapped node.
func (t *TreeNode) Position() int {
	return t.Node.Position
}

// Branch returns the children of the named route branch.
func (t *TreeNode) Branch(name string) ([]*TreeNode, bool) {
	for _, branch := range t.Paths {
		if branch.Name == name {
			return branch.Children, true
		}
	}

	return nil, false
}

// Ordered returns all children in traversal order: route branches in their
// declared order, then the iterate body, then explicitly parented children.
func (t *TreeNode) Ordered() []*TreeNode {
	out := make([]*TreeNode, 0, len(t.Body)+len(t.Children))

	for _, branch := range t.Paths {
		out = append(out, branch.Children...)
	}

	out = append(out, t.Body...)
	out = append(out, t.Children...)

	return out
}

func (t *TreeNode) sortChildren() {
	for _, branch := range t.Paths {
		sortTreeNodes(branch.Children)
	}

	sortTreeNodes(t.Body)
	sortTreeNodes(t.Children)
}

func (t *TreeNode) hasChild(position int) bool {
	for _, child := range t.Ordered() {
		if child.Position() == position {
			return true
		}
	}

	return false
}

func sortTreeNodes(nodes []*TreeNode) {
	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].Position() < nodes[j].Position()
	})
}

// Forest is the result of a build: top-level trees plus the single-owner
// parent table and every non-fatal problem found along the way.
type Forest struct {
	Roots    []*TreeNode                      `json:"roots"`
	Orphans  []*TreeNode                      `json:"orphans,omitempty"`
	Flat     bool                             `json:"flat,omitempty"`
	Dangling []*models.DanglingReferenceError `json:"dangling,omitempty"`
	Invalid  []*models.ValidationError        `json:"invalid,omitempty"`

	Parents map[int]int `json:"-"`
	Index   *Index      `json:"-"`

	byPosition map[int]*TreeNode
}

// Lookup returns the tree node at position.
func (f *Forest) Lookup(position int) (*TreeNode, bool) {
	node, ok := f.byPosition[position]

	return node, ok
}

// Parent returns the parent position of the node at position.
func (f *Forest) Parent(position int) (int, bool) {
	parent, ok := f.Parents[position]

	return parent, ok
}

// Preorder walks the forest depth first from the roots, then the orphans,
// and returns every node exactly once. Reaching a node twice means the
// parent relation is not a forest.
func (f *Forest) Preorder() ([]*models.Node, error) {
	visited := make(map[int]bool, len(f.byPosition))
	order := make([]*models.Node, 0, len(f.byPosition))

	var visit func(node *TreeNode, parent int) error

	visit = func(node *TreeNode, parent int) error {
		position := node.Position()
		if visited[position] {
			return &models.ConflictingParentError{
				Child:          position,
				ExistingParent: f.Parents[position],
				ClaimedParent:  parent,
				Message:        "reached twice during preorder traversal",
			}
		}

		visited[position] = true
		order = append(order, node.Node)

		for _, child := range node.Ordered() {
			if err := visit(child, position); err != nil {
				return err
			}
		}

		return nil
	}

	tops := make([]*TreeNode, 0, len(f.Roots)+len(f.Orphans))
	tops = append(tops, f.Roots...)
	tops = append(tops, f.Orphans...)

	for _, top := range tops {
		if err := visit(top, 0); err != nil {
			return nil, err
		}
	}

	return order, nil
}
