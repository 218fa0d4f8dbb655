package services

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/dukex/director/pkg/eventbus"
	"github.com/dukex/director/pkg/events"
	"github.com/dukex/director/pkg/graph"
	"github.com/dukex/director/pkg/lock"
	"github.com/dukex/director/pkg/models"
	"github.com/dukex/director/pkg/persistence"
	"github.com/google/uuid"
)

// CreateNodeRequest represents the request to create a new workflow node.
type CreateNodeRequest struct {
	Type        models.NodeType
	Alias       string
	Description string
	Params      map[string]any
	// Position requests a specific slot; zero appends after the last node.
	Position int
}

// NodePatch is a partial node update. Nil fields are left untouched.
// Params are merged key by key; a nil value removes the key.
type NodePatch struct {
	Alias       *string
	Description *string
	Params      map[string]any
	Status      *models.NodeStatus
	Result      any
	Position    *int
}

// Node handles node-related business operations. Every call re-reads the
// workflow's nodes from persistence.
type Node struct {
	persistence persistence.Persistence
	locker      lock.Locker
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
}

// NewNode creates a new node service. publisher may be nil.
func NewNode(persistence persistence.Persistence, locker lock.Locker, publisher eventbus.EventPublisher, logger *slog.Logger) *Node {
	if locker == nil {
		locker = lock.NewLocal()
	}

	return &Node{
		persistence: persistence,
		locker:      locker,
		publisher:   publisher,
		logger:      logger.With("module", "node_service"),
	}
}

// List returns every node of the workflow ordered by position.
func (n *Node) List(ctx context.Context, workflowID string) ([]*models.Node, error) {
	return n.persistence.NodeRepository().ListNodes(ctx, workflowID)
}

// Get returns the node addressed by ref.
func (n *Node) Get(ctx context.Context, workflowID string, ref models.NodeRef) (*models.Node, error) {
	nodes, err := n.List(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	node, ok := graph.NewIndex(nodes).Lookup(ref)
	if !ok {
		return nil, models.NewNodeNotFound(workflowID, ref)
	}

	return node, nil
}

// Create adds a node. The uuid is generated, the position defaults to one
// past the last node and the alias defaults to <type>_<position>.
func (n *Node) Create(ctx context.Context, workflowID string, req *CreateNodeRequest) (*models.Node, error) {
	if req == nil {
		return nil, ErrInvalidRequest
	}

	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidNodeType, req.Type)
	}

	if req.Position < 0 {
		return nil, ErrInvalidPosition
	}

	release, err := n.locker.Acquire(ctx, lock.WorkflowKey(workflowID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock workflow %s: %w", workflowID, err)
	}
	defer n.release(ctx, release)

	nodes, err := n.List(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	position := req.Position
	if position == 0 {
		position = nextPosition(nodes)
	}

	alias := strings.TrimSpace(req.Alias)
	if alias == "" {
		alias = DeriveAlias(req.Type, position)
	}

	for _, existing := range nodes {
		if existing.Position == position {
			return nil, fmt.Errorf("%w: %d", ErrPositionTaken, position)
		}

		if existing.Alias == alias {
			return nil, fmt.Errorf("%w: %q", ErrAliasTaken, alias)
		}
	}

	params, _ := models.CloneValue(req.Params).(map[string]any)
	if params == nil {
		params = map[string]any{}
	}

	node := &models.Node{
		UUID:        uuid.New().String(),
		WorkflowID:  workflowID,
		Position:    position,
		Alias:       alias,
		Type:        req.Type,
		Description: req.Description,
		Params:      params,
		Status:      models.NodeStatusPending,
	}

	if err := n.persistence.NodeRepository().SaveNode(ctx, workflowID, node); err != nil {
		return nil, fmt.Errorf("failed to save node: %w", err)
	}

	n.logger.InfoContext(ctx, "node created", "workflow_id", workflowID, "position", position, "alias", alias)
	n.publish(ctx, workflowID, events.NodeCreated{
		BaseEvent: events.NewBaseEvent(events.NodeCreatedEvent, workflowID),
		Node:      node,
	})

	return node, nil
}

// Update applies a partial update to the node addressed by ref.
func (n *Node) Update(ctx context.Context, workflowID string, ref models.NodeRef, patch *NodePatch) (*models.Node, error) {
	if patch == nil {
		return nil, ErrInvalidRequest
	}

	release, err := n.locker.Acquire(ctx, lock.WorkflowKey(workflowID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock workflow %s: %w", workflowID, err)
	}
	defer n.release(ctx, release)

	nodes, err := n.List(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	existing, ok := graph.NewIndex(nodes).Lookup(ref)
	if !ok {
		return nil, models.NewNodeNotFound(workflowID, ref)
	}

	node := existing.Clone()

	fields, err := applyPatch(node, patch, nodes)
	if err != nil {
		return nil, err
	}

	if len(fields) == 0 {
		return existing, nil
	}

	if err := n.persistence.NodeRepository().SaveNode(ctx, workflowID, node); err != nil {
		return nil, fmt.Errorf("failed to update node: %w", err)
	}

	n.logger.InfoContext(ctx, "node updated", "workflow_id", workflowID, "position", node.Position, "fields", fields)
	n.publish(ctx, workflowID, events.NodeUpdated{
		BaseEvent: events.NewBaseEvent(events.NodeUpdatedEvent, workflowID),
		Node:      node,
		Fields:    fields,
	})

	return node, nil
}

func applyPatch(node *models.Node, patch *NodePatch, siblings []*models.Node) ([]string, error) {
	fields := make([]string, 0)

	if patch.Alias != nil {
		alias := strings.TrimSpace(*patch.Alias)
		if alias == "" {
			return nil, &models.ValidationError{Ref: node.UUID, Field: "alias", Message: "cannot be empty"}
		}

		if alias != node.Alias {
			for _, sibling := range siblings {
				if sibling.UUID != node.UUID && sibling.Alias == alias {
					return nil, &models.ValidationError{
						Ref:     node.UUID,
						Field:   "alias",
						Message: fmt.Sprintf("%q already used by node %d", alias, sibling.Position),
					}
				}
			}

			node.Alias = alias
			fields = append(fields, "alias")
		}
	}

	if patch.Position != nil && *patch.Position != node.Position {
		if *patch.Position <= 0 {
			return nil, ErrInvalidPosition
		}

		for _, sibling := range siblings {
			if sibling.UUID != node.UUID && sibling.Position == *patch.Position {
				return nil, fmt.Errorf("%w: %d", ErrPositionTaken, *patch.Position)
			}
		}

		node.Position = *patch.Position
		fields = append(fields, "position")
	}

	if patch.Description != nil && *patch.Description != node.Description {
		node.Description = *patch.Description
		fields = append(fields, "description")
	}

	if patch.Status != nil && *patch.Status != node.Status {
		node.Status = *patch.Status
		fields = append(fields, "status")
	}

	if patch.Result != nil {
		node.Result = models.CloneValue(patch.Result)
		fields = append(fields, "result")
	}

	if len(patch.Params) > 0 {
		merged, _ := models.CloneValue(node.Params).(map[string]any)
		if merged == nil {
			merged = make(map[string]any, len(patch.Params))
		}

		for key, value := range patch.Params {
			if value == nil {
				delete(merged, key)

				continue
			}

			merged[key] = models.CloneValue(value)
		}

		if !models.ParamsEqual(merged, node.Params) {
			node.Params = merged
			fields = append(fields, "params")
		}
	}

	return fields, nil
}

// Delete removes the node addressed by ref. References to it become
// dangling until the owning route or iterate node is resolved again.
func (n *Node) Delete(ctx context.Context, workflowID string, ref models.NodeRef) error {
	release, err := n.locker.Acquire(ctx, lock.WorkflowKey(workflowID))
	if err != nil {
		return fmt.Errorf("failed to lock workflow %s: %w", workflowID, err)
	}
	defer n.release(ctx, release)

	node, err := n.Get(ctx, workflowID, ref)
	if err != nil {
		return err
	}

	if err := n.persistence.NodeRepository().DeleteNode(ctx, workflowID, node.UUID); err != nil {
		return fmt.Errorf("failed to delete node: %w", err)
	}

	n.publish(ctx, workflowID, events.NodeDeleted{
		BaseEvent: events.NewBaseEvent(events.NodeDeletedEvent, workflowID),
		NodeUUID:  node.UUID,
		Position:  node.Position,
		Alias:     node.Alias,
	})

	return nil
}

func (n *Node) release(ctx context.Context, release lock.Release) {
	if err := release(context.WithoutCancel(ctx)); err != nil {
		n.logger.WarnContext(ctx, "failed to release workflow lock", "error", err)
	}
}

func (n *Node) publish(ctx context.Context, workflowID string, event eventbus.Event) {
	if n.publisher == nil {
		return
	}

	if err := n.publisher.Publish(ctx, workflowID, event); err != nil {
		n.logger.ErrorContext(ctx, "failed to publish node event", "event_type", event.GetType(), "error", err)
	}
}

// DeriveAlias builds the default alias of a node.
func DeriveAlias(nodeType models.NodeType, position int) string {
	return fmt.Sprintf("%s_%d", nodeType, position)
}

func nextPosition(nodes []*models.Node) int {
	if len(nodes) == 0 {
		return 1
	}

	return slices.MaxFunc(nodes, func(a, b *models.Node) int { return a.Position - b.Position }).Position + 1
}
