package protocol

import (
	"context"

	"github.com/dukex/director/pkg/models"
)

// RecordSource supplies the records processed by record-centric iteration.
type RecordSource interface {
	// QueryRecords returns records whose type or id matches the glob
	// pattern, oldest first.
	QueryRecords(ctx context.Context, workflowID, pattern string) ([]*models.WorkflowRecord, error)
}
