// Package graph reconstructs the control-flow forest of a workflow from its
// flat, position-indexed node list.
package graph

import (
	"sort"

	"github.com/dukex/director/pkg/models"
)

// Index resolves node references against one snapshot of a workflow's nodes.
type Index struct {
	sorted     []*models.Node
	byPosition map[int]*models.Node
	byAlias    map[string]*models.Node
	byUUID     map[string]*models.Node
}

// NewIndex indexes nodes by position, alias and uuid. The input slice is not modified.
func NewIndex(nodes []*models.Node) *Index {
	ix := &Index{
		sorted:     make([]*models.Node, 0, len(nodes)),
		byPosition: make(map[int]*models.Node, len(nodes)),
		byAlias:    make(map[string]*models.Node, len(nodes)),
		byUUID:     make(map[string]*models.Node, len(nodes)),
	}

	for _, node := range nodes {
		if node == nil {
			continue
		}

		ix.sorted = append(ix.sorted, node)
		ix.byPosition[node.Position] = node

		if node.Alias != "" {
			ix.byAlias[node.Alias] = node
		}

		if node.UUID != "" {
			ix.byUUID[node.UUID] = node
		}
	}

	sort.Stable(models.NodesByPosition(ix.sorted))

	return ix
}

// Nodes returns the indexed nodes ordered by position.
func (ix *Index) Nodes() []*models.Node {
	return ix.sorted
}

// Len returns the number of indexed nodes.
func (ix *Index) Len() int {
	return len(ix.sorted)
}

// ByPosition returns the node at position.
func (ix *Index) ByPosition(position int) (*models.Node, bool) {
	node, ok := ix.byPosition[position]

	return node, ok
}

// Lookup resolves a reference of any kind.
func (ix *Index) Lookup(ref models.NodeRef) (*models.Node, bool) {
	var node *models.Node

	switch ref.Kind {
	case models.RefPosition:
		node = ix.byPosition[ref.Position]
	case models.RefAlias:
		node = ix.byAlias[ref.Value]
	case models.RefUUID:
		node = ix.byUUID[ref.Value]
		if node == nil {
			for id, candidate := range ix.byUUID {
				if ref.Matches(candidate) {
					node = ix.byUUID[id]

					break
				}
			}
		}
	}

	return node, node != nil
}

// Expand resolves a declared child set into concrete positions. References
// that do not resolve are returned separately and skipped. Duplicates keep
// their first occurrence.
func (ix *Index) Expand(spec *models.RefSpec) ([]int, []string) {
	positions := make([]int, 0)
	dangling := make([]string, 0)

	if spec == nil {
		return positions, dangling
	}

	seen := make(map[int]bool)

	switch spec.Kind {
	case models.SpecList:
		for _, ref := range spec.Refs {
			node, ok := ix.Lookup(ref)
			if !ok {
				dangling = append(dangling, ref.String())

				continue
			}

			if !seen[node.Position] {
				seen[node.Position] = true
				positions = append(positions, node.Position)
			}
		}
	case models.SpecRange:
		start, okStart := ix.endpoint(spec.Start)
		end, okEnd := ix.endpoint(spec.End)

		if !okStart {
			dangling = append(dangling, spec.Start.String())
		}

		if !okEnd {
			dangling = append(dangling, spec.End.String())
		}

		if !okStart || !okEnd {
			return positions, dangling
		}

		if start > end {
			start, end = end, start
		}

		for _, node := range ix.sorted {
			if node.Position >= start && node.Position <= end {
				positions = append(positions, node.Position)
			}
		}
	}

	return positions, dangling
}

// Existing filters positions down to those present in the index.
func (ix *Index) Existing(positions []int) ([]int, []int) {
	present := make([]int, 0, len(positions))
	missing := make([]int, 0)
	seen := make(map[int]bool, len(positions))

	for _, position := range positions {
		if _, ok := ix.byPosition[position]; !ok {
			missing = append(missing, position)

			continue
		}

		if !seen[position] {
			seen[position] = true
			present = append(present, position)
		}
	}

	return present, missing
}

// endpoint resolves a range bound. Position bounds need not exist: the
// range covers whatever nodes lie between them.
func (ix *Index) endpoint(ref models.NodeRef) (int, bool) {
	if ref.Kind == models.RefPosition {
		return ref.Position, true
	}

	node, ok := ix.Lookup(ref)
	if !ok {
		return 0, false
	}

	return node.Position, true
}
