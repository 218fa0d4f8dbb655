package models

import "time"

// ExecutionContext identifies one run of a workflow by the execution driver.
type ExecutionContext struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflow_id"`
	StartedAt  time.Time      `json:"started_at"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// IterationStatus is the outcome of a single loop iteration.
type IterationStatus string

const (
	IterationStatusSuccess IterationStatus = "success"
	IterationStatusFailed  IterationStatus = "failed"
)

// NodeResult represents the result of executing one body node.
type NodeResult struct {
	Position  int        `json:"position"`
	Alias     string     `json:"alias"`
	Data      any        `json:"data,omitempty"`
	Status    NodeStatus `json:"status"`
	Attempts  int        `json:"attempts"`
	Timestamp time.Time  `json:"timestamp"`
	Error     string     `json:"error,omitempty"`
}

// IterationResult records what happened in one iteration.
type IterationResult struct {
	Index    int             `json:"index"`
	RecordID string          `json:"record_id,omitempty"`
	Status   IterationStatus `json:"status"`
	Nodes    []NodeResult    `json:"nodes"`
	Error    string          `json:"error,omitempty"`
}

// LoopResult summarizes an iterate node run.
type LoopResult struct {
	NodePosition int               `json:"node_position"`
	NodeAlias    string            `json:"node_alias"`
	SourceSize   int               `json:"source_size"`
	Iterations   []IterationResult `json:"iterations"`
	Succeeded    int               `json:"succeeded"`
	Failed       int               `json:"failed"`
	Capped       bool              `json:"capped"`
}

// BranchResult summarizes a route branch run.
type BranchResult struct {
	RoutePosition int          `json:"route_position"`
	Branch        string       `json:"branch"`
	Nodes         []NodeResult `json:"nodes"`
	Error         string       `json:"error,omitempty"`
}

// Add appends an iteration and updates the counters.
func (r *LoopResult) Add(iteration IterationResult) {
	r.Iterations = append(r.Iterations, iteration)

	if iteration.Status == IterationStatusFailed {
		r.Failed++

		return
	}

	r.Succeeded++
}
