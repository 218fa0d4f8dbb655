// Package persistence provides the storage abstraction for workflows, their
// nodes, records and variables.
package persistence

import (
	"context"
	"path"

	"github.com/dukex/director/pkg/models"
)

type Persistence interface {
	WorkflowRepository() WorkflowRepository
	NodeRepository() NodeRepository
	RecordRepository() RecordRepository
	VariableRepository() VariableRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// ListWorkflowsOptions filters, sorts and paginates workflow listings.
type ListWorkflowsOptions struct {
	OwnerID   string
	SortBy    string
	SortOrder string
	Limit     int
	Offset    int
}

// WorkflowListResult is one page of workflows.
type WorkflowListResult struct {
	Workflows   []*models.Workflow `json:"workflows"`
	TotalCount  int64              `json:"total_count"`
	HasNextPage bool               `json:"has_next_page"`
}

// WorkflowRepository stores workflow headers. Nodes and variables are
// managed through their own repositories.
type WorkflowRepository interface {
	ListWorkflows(ctx context.Context, opts ListWorkflowsOptions) (*WorkflowListResult, error)
	GetAll(ctx context.Context) ([]*models.Workflow, error)
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	Save(ctx context.Context, workflow *models.Workflow) error
	Delete(ctx context.Context, id string) error
}

// NodeRepository stores the flat, position-indexed node list of a workflow.
// Implementations enforce unique position, alias and uuid per workflow.
type NodeRepository interface {
	// ListNodes returns every node of the workflow ordered by position.
	ListNodes(ctx context.Context, workflowID string) ([]*models.Node, error)

	GetNode(ctx context.Context, workflowID, nodeUUID string) (*models.Node, error)

	// SaveNode inserts or replaces a node by uuid.
	SaveNode(ctx context.Context, workflowID string, node *models.Node) error

	// UpdatePosition moves a single node. Each call is atomic on its own.
	UpdatePosition(ctx context.Context, workflowID, nodeUUID string, position int) error

	DeleteNode(ctx context.Context, workflowID, nodeUUID string) error
}

// RecordRepository stores durable records discovered by record iteration.
type RecordRepository interface {
	SaveRecord(ctx context.Context, record *models.WorkflowRecord) error
	GetRecord(ctx context.Context, workflowID, recordID string) (*models.WorkflowRecord, error)

	// QueryRecords returns records whose type or id matches the glob
	// pattern, oldest first. An empty pattern matches every record.
	QueryRecords(ctx context.Context, workflowID, pattern string) ([]*models.WorkflowRecord, error)
}

// VariableRepository persists a workflow's variable tree as a whole.
type VariableRepository interface {
	GetVariables(ctx context.Context, workflowID string) (map[string]any, error)
	SaveVariables(ctx context.Context, workflowID string, variables map[string]any) error
}

// MatchRecord reports whether a record matches a QueryRecords pattern.
func MatchRecord(pattern string, record *models.WorkflowRecord) bool {
	if pattern == "" || pattern == "*" {
		return true
	}

	for _, candidate := range []string{record.RecordType, record.RecordID} {
		if ok, err := path.Match(pattern, candidate); err == nil && ok {
			return true
		}
	}

	return false
}
