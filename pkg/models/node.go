// Package models defines the core workflow node, record and state models for graph resolution.
package models

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// NodeType represents the kind of work or control construct a node carries.
type NodeType string

const (
	NodeTypeAction     NodeType = "action"
	NodeTypeQuery      NodeType = "query"
	NodeTypeCognition  NodeType = "cognition"
	NodeTypeTransform  NodeType = "transform"
	NodeTypeIterate    NodeType = "iterate"
	NodeTypeRoute      NodeType = "route"
	NodeTypeHandle     NodeType = "handle"
	NodeTypeContext    NodeType = "context"
	NodeTypeCheckpoint NodeType = "checkpoint"
	NodeTypeGroup      NodeType = "group" // Container marker, never tagged with an implicit parent
	NodeTypeLeaf       NodeType = "leaf"
)

// ParentPositionKey is the params key declaring an explicit parent.
const ParentPositionKey = "_parent_position"

var knownNodeTypes = map[NodeType]bool{
	NodeTypeAction:     true,
	NodeTypeQuery:      true,
	NodeTypeCognition:  true,
	NodeTypeTransform:  true,
	NodeTypeIterate:    true,
	NodeTypeRoute:      true,
	NodeTypeHandle:     true,
	NodeTypeContext:    true,
	NodeTypeCheckpoint: true,
	NodeTypeGroup:      true,
	NodeTypeLeaf:       true,
}

// Valid reports whether t is one of the known node types.
func (t NodeType) Valid() bool {
	return knownNodeTypes[t]
}

// IsContainer reports whether nodes of this type group other nodes without
// being a control construct.
func (t NodeType) IsContainer() bool {
	return t == NodeTypeGroup
}

// NodeStatus defines the possible states of a node execution.
type NodeStatus string

const (
	NodeStatusPending NodeStatus = "pending"
	NodeStatusRunning NodeStatus = "running"
	NodeStatusSuccess NodeStatus = "success"
	NodeStatusError   NodeStatus = "error"
	NodeStatusSkipped NodeStatus = "skipped"
)

// Node represents a unit of work or control construct in a workflow.
type Node struct {
	UUID        string         `json:"uuid"                  validate:"required"`
	WorkflowID  string         `json:"workflow_id"`
	Position    int            `json:"position"`
	Alias       string         `json:"alias"                 validate:"required"`
	Type        NodeType       `json:"type"                  validate:"required"`
	Description string         `json:"description,omitempty"`
	Params      map[string]any `json:"params"`
	Status      NodeStatus     `json:"status,omitempty"`
	Result      any            `json:"result,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// ParentPosition returns the explicit parent declared in params, if any.
func (n *Node) ParentPosition() (int, bool) {
	if n.Params == nil {
		return 0, false
	}

	raw, ok := n.Params[ParentPositionKey]
	if !ok || raw == nil {
		return 0, false
	}

	return AsInt(raw)
}

// SetParentPosition declares an explicit parent on the node.
func (n *Node) SetParentPosition(position int) {
	if n.Params == nil {
		n.Params = make(map[string]any)
	}

	n.Params[ParentPositionKey] = position
}

// UnmarshalJSON decodes a node, keeping the declared order of legacy route
// paths in its params.
func (n *Node) UnmarshalJSON(data []byte) error {
	type plain Node

	aux := struct {
		*plain
		Params json.RawMessage `json:"params"`
	}{plain: (*plain)(n)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if len(aux.Params) == 0 {
		return nil
	}

	params, err := DecodeParams(aux.Params)
	if err != nil {
		return fmt.Errorf("failed to decode params of node %q: %w", n.Alias, err)
	}

	n.Params = params

	return nil
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}

	clone := *n
	clone.Params, _ = CloneValue(n.Params).(map[string]any)
	clone.Result = CloneValue(n.Result)

	return &clone
}

// NodesByPosition sorts nodes by ascending position.
type NodesByPosition []*Node

func (s NodesByPosition) Len() int           { return len(s) }
func (s NodesByPosition) Less(i, j int) bool { return s[i].Position < s[j].Position }
func (s NodesByPosition) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }

// AsInt converts JSON-decoded or programmatic numeric values to an int.
// Non-integral floats and non-numeric values are rejected.
func AsInt(v any) (int, bool) {
	switch value := v.(type) {
	case int:
		return value, true
	case int32:
		return int(value), true
	case int64:
		return int(value), true
	case float64:
		if value != math.Trunc(value) || math.IsInf(value, 0) {
			return 0, false
		}

		return int(value), true
	case float32:
		return AsInt(float64(value))
	case json.Number:
		i, err := value.Int64()
		if err != nil {
			return 0, false
		}

		return int(i), true
	default:
		return 0, false
	}
}

// CloneValue deep-copies maps and slices produced by JSON decoding or
// built programmatically. Other values are returned as is.
func CloneValue(v any) any {
	switch value := v.(type) {
	case map[string]any:
		if value == nil {
			return map[string]any(nil)
		}

		out := make(map[string]any, len(value))
		for k, item := range value {
			out[k] = CloneValue(item)
		}

		return out
	case []any:
		if value == nil {
			return []any(nil)
		}

		out := make([]any, len(value))
		for i, item := range value {
			out[i] = CloneValue(item)
		}

		return out
	case []int:
		return append([]int(nil), value...)
	case []string:
		return append([]string(nil), value...)
	case []map[string]any:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = CloneValue(item)
		}

		return out
	default:
		return v
	}
}
