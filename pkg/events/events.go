// Package events defines the domain events published when a workflow's
// structure or state changes.
package events

import (
	"time"

	"github.com/dukex/director/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topic carries every director event.
const Topic = "director.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	NodesResolvedEvent       EventType = "nodes.resolved"
	WorkflowRenumberedEvent  EventType = "workflow.renumbered"
	VariableUpdatedEvent     EventType = "variable.updated"
	IterationCompletedEvent  EventType = "iteration.completed"
	NodeCreatedEvent         EventType = "node.created"
	NodeUpdatedEvent         EventType = "node.updated"
	NodeDeletedEvent         EventType = "node.deleted"
	RecordStatusChangedEvent EventType = "record.status_changed"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NodesResolved is published after a route or iterate node has been resolved.
type NodesResolved struct {
	BaseEvent

	NodeUUID string           `json:"node_uuid"`
	Position int              `json:"position"`
	NodeType models.NodeType  `json:"node_type"`
	Branches map[string][]int `json:"branches"`
	Tagged   int              `json:"tagged"`
	Written  bool             `json:"written"`
}

func (e NodesResolved) GetType() EventType {
	return NodesResolvedEvent
}

// WorkflowRenumbered lists only the nodes whose position changed.
type WorkflowRenumbered struct {
	BaseEvent

	Changes []models.PositionChange `json:"changes"`
}

func (e WorkflowRenumbered) GetType() EventType {
	return WorkflowRenumberedEvent
}

type VariableUpdated struct {
	BaseEvent

	Path     string `json:"path"`
	OldValue any    `json:"old_value,omitempty"`
	NewValue any    `json:"new_value,omitempty"`
	Deleted  bool   `json:"deleted,omitempty"`
}

func (e VariableUpdated) GetType() EventType {
	return VariableUpdatedEvent
}

// IterationCompleted summarizes one run of an iterate node.
type IterationCompleted struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	NodeUUID    string `json:"node_uuid"`
	Position    int    `json:"position"`
	Iterations  int    `json:"iterations"`
	Failed      int    `json:"failed"`
	Truncated   bool   `json:"truncated"`
	DurationMs  int64  `json:"duration_ms"`
}

func (e IterationCompleted) GetType() EventType {
	return IterationCompletedEvent
}

type NodeCreated struct {
	BaseEvent

	Node *models.Node `json:"node"`
}

func (e NodeCreated) GetType() EventType {
	return NodeCreatedEvent
}

type NodeUpdated struct {
	BaseEvent

	Node   *models.Node `json:"node"`
	Fields []string     `json:"fields"`
}

func (e NodeUpdated) GetType() EventType {
	return NodeUpdatedEvent
}

type NodeDeleted struct {
	BaseEvent

	NodeUUID string `json:"node_uuid"`
	Position int    `json:"position"`
	Alias    string `json:"alias"`
}

func (e NodeDeleted) GetType() EventType {
	return NodeDeletedEvent
}

type RecordStatusChanged struct {
	BaseEvent

	RecordID   string              `json:"record_id"`
	RecordType string              `json:"record_type"`
	From       models.RecordStatus `json:"from"`
	To         models.RecordStatus `json:"to"`
	RetryCount int                 `json:"retry_count"`
}

func (e RecordStatusChanged) GetType() EventType {
	return RecordStatusChangedEvent
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		Metadata:   make(map[string]any),
	}
}

// New returns an empty event value for eventType, ready to be decoded into.
func New(eventType EventType) (any, bool) {
	switch eventType {
	case NodesResolvedEvent:
		return &NodesResolved{}, true
	case WorkflowRenumberedEvent:
		return &WorkflowRenumbered{}, true
	case VariableUpdatedEvent:
		return &VariableUpdated{}, true
	case IterationCompletedEvent:
		return &IterationCompleted{}, true
	case NodeCreatedEvent:
		return &NodeCreated{}, true
	case NodeUpdatedEvent:
		return &NodeUpdated{}, true
	case NodeDeletedEvent:
		return &NodeDeleted{}, true
	case RecordStatusChangedEvent:
		return &RecordStatusChanged{}, true
	default:
		return nil, false
	}
}
