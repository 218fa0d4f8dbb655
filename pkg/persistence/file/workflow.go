package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dukex/director/pkg/models"
	"github.com/dukex/director/pkg/persistence"
)

// WorkflowRepository handles workflow-related file operations.
type WorkflowRepository struct {
	store *Persistence
}

// NewWorkflowRepository creates a new workflow repository rooted at root.
func NewWorkflowRepository(root string) *WorkflowRepository {
	return NewPersistence(root).workflowRepo
}

// ListWorkflows returns paginated and filtered workflows with in-memory operations.
func (wr *WorkflowRepository) ListWorkflows(ctx context.Context, opts persistence.ListWorkflowsOptions) (*persistence.WorkflowListResult, error) {
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 20
	}

	if opts.SortBy == "" {
		opts.SortBy = "created_at"
	}

	if opts.SortOrder == "" {
		opts.SortOrder = "desc"
	}

	allowedSorts := map[string]bool{
		"created_at": true,
		"updated_at": true,
		"name":       true,
	}
	if !allowedSorts[opts.SortBy] {
		return nil, fmt.Errorf("%w: %s", persistence.ErrInvalidSortField, opts.SortBy)
	}

	allWorkflows, err := wr.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	filtered := make([]*models.Workflow, 0, len(allWorkflows))

	for _, workflow := range allWorkflows {
		if opts.OwnerID != "" && workflow.Owner != opts.OwnerID {
			continue
		}

		filtered = append(filtered, workflow)
	}

	sortWorkflows(filtered, opts.SortBy, opts.SortOrder)

	totalCount := int64(len(filtered))

	if opts.Offset >= len(filtered) {
		return &persistence.WorkflowListResult{
			Workflows:   make([]*models.Workflow, 0),
			TotalCount:  totalCount,
			HasNextPage: false,
		}, nil
	}

	endIdx := min(opts.Offset+opts.Limit, len(filtered))

	return &persistence.WorkflowListResult{
		Workflows:   filtered[opts.Offset:endIdx],
		TotalCount:  totalCount,
		HasNextPage: endIdx < len(filtered),
	}, nil
}

// sortWorkflows sorts workflows in-place based on the specified field and order.
func sortWorkflows(workflows []*models.Workflow, sortBy, sortOrder string) {
	sort.SliceStable(workflows, func(i, j int) bool {
		var less bool

		switch sortBy {
		case "updated_at":
			less = workflows[i].UpdatedAt.Before(workflows[j].UpdatedAt)
		case "name":
			less = workflows[i].Name < workflows[j].Name
		default:
			less = workflows[i].CreatedAt.Before(workflows[j].CreatedAt)
		}

		if sortOrder == "desc" {
			return !less
		}

		return less
	})
}

// GetAll returns every stored workflow.
func (wr *WorkflowRepository) GetAll(ctx context.Context) ([]*models.Workflow, error) {
	root := os.DirFS(filepath.Join(wr.store.root, "workflows"))

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow files: %w", err)
	}

	workflows := make([]*models.Workflow, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		workflow, err := wr.GetByID(ctx, strings.TrimSuffix(file, ".json"))
		if err != nil {
			if persistence.IsWorkflowNotFound(err) {
				continue
			}

			return nil, err
		}

		workflows = append(workflows, workflow)
	}

	return workflows, nil
}

// GetByID retrieves a workflow, including its nodes and variables.
func (wr *WorkflowRepository) GetByID(_ context.Context, workflowID string) (*models.Workflow, error) {
	wr.store.mu.Lock()
	defer wr.store.mu.Unlock()

	return wr.load(workflowID)
}

// Save stores the workflow. Nil Nodes or Variables keep what is already stored.
func (wr *WorkflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	wr.store.mu.Lock()
	defer wr.store.mu.Unlock()

	existing, err := wr.load(workflow.ID)
	if err != nil && !persistence.IsWorkflowNotFound(err) {
		return err
	}

	toStore := *workflow

	if existing != nil {
		if toStore.Nodes == nil {
			toStore.Nodes = existing.Nodes
		}

		if toStore.Variables == nil {
			toStore.Variables = existing.Variables
		}
	}

	now := time.Now().UTC()
	if toStore.CreatedAt.IsZero() {
		toStore.CreatedAt = now
		workflow.CreatedAt = now
	}

	toStore.UpdatedAt = now
	workflow.UpdatedAt = now

	return wr.write(&toStore)
}

// Delete removes a workflow and its records.
func (wr *WorkflowRepository) Delete(_ context.Context, id string) error {
	wr.store.mu.Lock()
	defer wr.store.mu.Unlock()

	err := os.Remove(wr.store.workflowPath(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete workflow %s: %w", id, err)
	}

	if err := os.RemoveAll(wr.store.recordDir(id)); err != nil {
		return fmt.Errorf("failed to delete records of workflow %s: %w", id, err)
	}

	return nil
}

// load reads a workflow document. Callers hold store.mu.
func (wr *WorkflowRepository) load(workflowID string) (*models.Workflow, error) {
	var workflow models.Workflow

	if err := readJSON(wr.store.workflowPath(workflowID), &workflow); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.NewWorkflowError("GetByID", workflowID, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to fetch workflow %s: %w", workflowID, err)
	}

	if workflow.Nodes == nil {
		workflow.Nodes = make([]*models.Node, 0)
	}

	sort.Stable(models.NodesByPosition(workflow.Nodes))

	return &workflow, nil
}

// write stores a workflow document. Callers hold store.mu.
func (wr *WorkflowRepository) write(workflow *models.Workflow) error {
	return writeJSON(wr.store.workflowPath(workflow.ID), workflow)
}
