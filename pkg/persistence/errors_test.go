package persistence_test

import (
	"errors"
	"testing"

	"github.com/dukex/director/pkg/models"
	"github.com/dukex/director/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("not found errors match the model sentinel", func(t *testing.T) {
		for _, err := range []error{persistence.ErrWorkflowNotFound, persistence.ErrNodeNotFound, persistence.ErrRecordNotFound} {
			assert.True(t, models.IsNotFound(err))
		}
	})

	t.Run("error checking functions work correctly", func(t *testing.T) {
		workflowErr := persistence.NewWorkflowError("GetByID", "workflow-123", persistence.ErrWorkflowNotFound)
		nodeErr := persistence.NewNodeError("SaveNode", "workflow-123", "node-1", persistence.ErrDuplicateNode)

		assert.True(t, persistence.IsWorkflowNotFound(workflowErr))
		assert.True(t, persistence.IsDuplicateNode(nodeErr))
		assert.False(t, persistence.IsNodeNotFound(nodeErr))
		assert.True(t, errors.Is(workflowErr, models.ErrNotFound))
	})

	t.Run("workflow error contains context", func(t *testing.T) {
		err := persistence.NewWorkflowError("UpdateWorkflow", "workflow-123", persistence.ErrWorkflowNotFound)

		assert.Contains(t, err.Error(), "UpdateWorkflow")
		assert.Contains(t, err.Error(), "workflow-123")
		assert.Contains(t, err.Error(), "workflow not found")
	})

	t.Run("node error contains context", func(t *testing.T) {
		err := persistence.NewNodeError("UpdatePosition", "workflow-123", "node-9", persistence.ErrNodeNotFound)

		assert.Contains(t, err.Error(), "UpdatePosition")
		assert.Contains(t, err.Error(), "node-9")
		assert.Contains(t, err.Error(), "node not found")
	})
}

func TestMatchRecord(t *testing.T) {
	t.Parallel()

	record := &models.WorkflowRecord{RecordID: "invoice-42", RecordType: "invoice"}

	assert.True(t, persistence.MatchRecord("", record))
	assert.True(t, persistence.MatchRecord("*", record))
	assert.True(t, persistence.MatchRecord("invoice", record))
	assert.True(t, persistence.MatchRecord("invoice-*", record))
	assert.False(t, persistence.MatchRecord("order*", record))
	assert.False(t, persistence.MatchRecord("[", record))
}
