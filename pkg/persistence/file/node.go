package file

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/director/pkg/models"
	"github.com/dukex/director/pkg/persistence"
)

// NodeRepository reads and writes the node list embedded in each workflow document.
type NodeRepository struct {
	store *Persistence
}

// ListNodes returns the workflow's nodes ordered by position.
func (nr *NodeRepository) ListNodes(_ context.Context, workflowID string) ([]*models.Node, error) {
	nr.store.mu.Lock()
	defer nr.store.mu.Unlock()

	workflow, err := nr.store.workflowRepo.load(workflowID)
	if err != nil {
		return nil, err
	}

	return workflow.Nodes, nil
}

// GetNode returns a node by uuid.
func (nr *NodeRepository) GetNode(_ context.Context, workflowID, nodeUUID string) (*models.Node, error) {
	nr.store.mu.Lock()
	defer nr.store.mu.Unlock()

	workflow, err := nr.store.workflowRepo.load(workflowID)
	if err != nil {
		return nil, err
	}

	for _, node := range workflow.Nodes {
		if node.UUID == nodeUUID {
			return node, nil
		}
	}

	return nil, persistence.NewNodeError("GetNode", workflowID, nodeUUID, persistence.ErrNodeNotFound)
}

// SaveNode inserts or replaces a node by uuid.
func (nr *NodeRepository) SaveNode(_ context.Context, workflowID string, node *models.Node) error {
	nr.store.mu.Lock()
	defer nr.store.mu.Unlock()

	workflow, err := nr.store.workflowRepo.load(workflowID)
	if err != nil {
		return err
	}

	if err := checkUnique(workflow.Nodes, node); err != nil {
		return persistence.NewNodeError("SaveNode", workflowID, node.UUID, err)
	}

	now := time.Now().UTC()
	node.WorkflowID = workflowID
	node.UpdatedAt = now

	replaced := false

	for i, existing := range workflow.Nodes {
		if existing.UUID == node.UUID {
			node.CreatedAt = existing.CreatedAt
			workflow.Nodes[i] = node
			replaced = true

			break
		}
	}

	if !replaced {
		if node.CreatedAt.IsZero() {
			node.CreatedAt = now
		}

		workflow.Nodes = append(workflow.Nodes, node)
	}

	return nr.store.workflowRepo.write(workflow)
}

// UpdatePosition moves a single node.
func (nr *NodeRepository) UpdatePosition(_ context.Context, workflowID, nodeUUID string, position int) error {
	nr.store.mu.Lock()
	defer nr.store.mu.Unlock()

	workflow, err := nr.store.workflowRepo.load(workflowID)
	if err != nil {
		return err
	}

	var target *models.Node

	for _, node := range workflow.Nodes {
		if node.UUID == nodeUUID {
			target = node

			continue
		}

		if node.Position == position {
			return persistence.NewNodeError("UpdatePosition", workflowID, nodeUUID,
				fmt.Errorf("%w: position %d held by %s", persistence.ErrDuplicateNode, position, node.UUID))
		}
	}

	if target == nil {
		return persistence.NewNodeError("UpdatePosition", workflowID, nodeUUID, persistence.ErrNodeNotFound)
	}

	target.Position = position
	target.UpdatedAt = time.Now().UTC()

	return nr.store.workflowRepo.write(workflow)
}

// DeleteNode removes a node by uuid.
func (nr *NodeRepository) DeleteNode(_ context.Context, workflowID, nodeUUID string) error {
	nr.store.mu.Lock()
	defer nr.store.mu.Unlock()

	workflow, err := nr.store.workflowRepo.load(workflowID)
	if err != nil {
		return err
	}

	for i, node := range workflow.Nodes {
		if node.UUID == nodeUUID {
			workflow.Nodes = append(workflow.Nodes[:i], workflow.Nodes[i+1:]...)

			return nr.store.workflowRepo.write(workflow)
		}
	}

	return persistence.NewNodeError("DeleteNode", workflowID, nodeUUID, persistence.ErrNodeNotFound)
}

func checkUnique(nodes []*models.Node, candidate *models.Node) error {
	for _, node := range nodes {
		if node.UUID == candidate.UUID {
			continue
		}

		if node.Position == candidate.Position {
			return fmt.Errorf("%w: position %d held by %s", persistence.ErrDuplicateNode, node.Position, node.UUID)
		}

		if candidate.Alias != "" && node.Alias == candidate.Alias {
			return fmt.Errorf("%w: alias %q held by %s", persistence.ErrDuplicateNode, node.Alias, node.UUID)
		}
	}

	return nil
}
