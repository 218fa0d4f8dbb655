// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"fmt"
	"time"

	"github.com/dukex/director/pkg/models"
	"github.com/google/uuid"
)

// TestWorkflowID is the workflow id used by builders unless overridden.
const TestWorkflowID = "wf-test"

// CreateTestNode creates a test Node with default values that can be overridden.
func CreateTestNode(position int, overrides ...func(*models.Node)) *models.Node {
	now := time.Now().UTC()

	node := &models.Node{
		UUID:       uuid.New().String(),
		WorkflowID: TestWorkflowID,
		Position:   position,
		Alias:      fmt.Sprintf("node_%d", position),
		Type:       models.NodeTypeAction,
		Params:     map[string]any{},
		Status:     models.NodeStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	for _, override := range overrides {
		override(node)
	}

	return node
}

// WithAlias sets the node alias.
func WithAlias(alias string) func(*models.Node) {
	return func(n *models.Node) {
		n.Alias = alias
	}
}

// WithType sets the node type.
func WithType(nodeType models.NodeType) func(*models.Node) {
	return func(n *models.Node) {
		n.Type = nodeType
	}
}

// WithParams sets the node params.
func WithParams(params map[string]any) func(*models.Node) {
	return func(n *models.Node) {
		n.Params = params
	}
}

// WithParentPosition declares an explicit parent.
func WithParentPosition(position int) func(*models.Node) {
	return func(n *models.Node) {
		n.SetParentPosition(position)
	}
}

// WithWorkflowID sets the owning workflow.
func WithWorkflowID(workflowID string) func(*models.Node) {
	return func(n *models.Node) {
		n.WorkflowID = workflowID
	}
}

// WithRouteBranches configures the node as a route with concrete branch
// positions in the given order. Pairs are name, positions.
func WithRouteBranches(branches ...any) func(*models.Node) {
	return func(n *models.Node) {
		descriptors := make([]any, 0, len(branches)/2)

		for i := 0; i+1 < len(branches); i += 2 {
			positions := make([]any, 0)
			for _, p := range branches[i+1].([]int) {
				positions = append(positions, p)
			}

			descriptors = append(descriptors, map[string]any{
				"name":                       branches[i],
				models.ParamBranchPositions: positions,
			})
		}

		n.Type = models.NodeTypeRoute
		n.Params = map[string]any{models.ParamBranches: descriptors}
	}
}

// WithIterateBody configures the node as an iterate over listVariable with
// a concrete body.
func WithIterateBody(listVariable string, body ...int) func(*models.Node) {
	return func(n *models.Node) {
		positions := make([]any, 0, len(body))
		for _, p := range body {
			positions = append(positions, p)
		}

		n.Type = models.NodeTypeIterate
		n.Params = map[string]any{
			models.ParamListVariable:  listVariable,
			models.ParamBodyPositions: positions,
		}
	}
}

// CreateTestWorkflow creates a test Workflow holding the given nodes.
func CreateTestWorkflow(overrides ...func(*models.Workflow)) *models.Workflow {
	now := time.Now().UTC()

	workflow := &models.Workflow{
		ID:          TestWorkflowID,
		Name:        "Test Workflow",
		Description: "A workflow used in tests",
		Nodes:       []*models.Node{},
		Variables:   map[string]any{},
		Metadata:    map[string]any{},
		Owner:       "tester",
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	for _, override := range overrides {
		override(workflow)
	}

	return workflow
}

// WithNodes sets the workflow nodes, stamping their workflow id.
func WithNodes(nodes ...*models.Node) func(*models.Workflow) {
	return func(w *models.Workflow) {
		for _, node := range nodes {
			node.WorkflowID = w.ID
		}

		w.Nodes = nodes
	}
}

// CreateTestRecord creates a discovered WorkflowRecord.
func CreateTestRecord(recordID string, fields map[string]any) *models.WorkflowRecord {
	now := time.Now().UTC()

	return &models.WorkflowRecord{
		RecordID:           recordID,
		WorkflowID:         TestWorkflowID,
		RecordType:         "item",
		IterationNodeAlias: "loop",
		Data: models.RecordData{
			Fields:  fields,
			Vars:    map[string]any{},
			Targets: map[string]any{},
			History: []models.HistoryEntry{},
		},
		Status:    models.RecordStatusDiscovered,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
