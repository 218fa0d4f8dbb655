package file

import (
	"context"

	"github.com/dukex/director/pkg/models"
)

// VariableRepository stores variables inside the workflow document.
type VariableRepository struct {
	store *Persistence
}

// GetVariables returns the workflow's variable tree.
func (vr *VariableRepository) GetVariables(_ context.Context, workflowID string) (map[string]any, error) {
	vr.store.mu.Lock()
	defer vr.store.mu.Unlock()

	workflow, err := vr.store.workflowRepo.load(workflowID)
	if err != nil {
		return nil, err
	}

	if workflow.Variables == nil {
		return map[string]any{}, nil
	}

	return workflow.Variables, nil
}

// SaveVariables replaces the workflow's variable tree.
func (vr *VariableRepository) SaveVariables(_ context.Context, workflowID string, variables map[string]any) error {
	vr.store.mu.Lock()
	defer vr.store.mu.Unlock()

	workflow, err := vr.store.workflowRepo.load(workflowID)
	if err != nil {
		return err
	}

	workflow.Variables, _ = models.CloneValue(variables).(map[string]any)
	if workflow.Variables == nil {
		workflow.Variables = map[string]any{}
	}

	return vr.store.workflowRepo.write(workflow)
}
