package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/director/pkg/models"
	"github.com/dukex/director/pkg/persistence"
)

// RecordRepository handles workflow records.
type RecordRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRecordRepository creates a new record repository.
func NewRecordRepository(db *sql.DB, logger *slog.Logger) *RecordRepository {
	return &RecordRepository{db: db, logger: logger}
}

const recordColumns = `
			record_id
		  , workflow_id
		  , record_type
		  , iteration_node_alias
		  , data
		  , status
		  , retry_count
		  , created_at
		  , updated_at`

// SaveRecord inserts or replaces a record.
func (rr *RecordRepository) SaveRecord(ctx context.Context, record *models.WorkflowRecord) error {
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}

	record.UpdatedAt = now

	dataJSON, err := json.Marshal(record.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal record data: %w", err)
	}

	query := `
		INSERT INTO workflow_records (record_id, workflow_id, record_type, iteration_node_alias, data, status, retry_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (workflow_id, record_id) DO UPDATE SET
			record_type = EXCLUDED.record_type,
			iteration_node_alias = EXCLUDED.iteration_node_alias,
			data = EXCLUDED.data,
			status = EXCLUDED.status,
			retry_count = EXCLUDED.retry_count,
			updated_at = EXCLUDED.updated_at
	`

	_, err = rr.db.ExecContext(ctx, query,
		record.RecordID,
		record.WorkflowID,
		record.RecordType,
		record.IterationNodeAlias,
		string(dataJSON),
		record.Status,
		record.RetryCount,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return &persistence.RecordError{Op: "SaveRecord", WorkflowID: record.WorkflowID, RecordID: record.RecordID, Err: persistence.ErrWorkflowNotFound}
		}

		return fmt.Errorf("failed to save record: %w", err)
	}

	return nil
}

// GetRecord returns a record by id.
func (rr *RecordRepository) GetRecord(ctx context.Context, workflowID, recordID string) (*models.WorkflowRecord, error) {
	query := `SELECT ` + recordColumns + `
		FROM workflow_records
		WHERE workflow_id = $1 AND record_id = $2`

	record, err := scanRecord(rr.db.QueryRowContext(ctx, query, workflowID, recordID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &persistence.RecordError{Op: "GetRecord", WorkflowID: workflowID, RecordID: recordID, Err: persistence.ErrRecordNotFound}
		}

		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	return record, nil
}

// QueryRecords returns matching records ordered by creation time, then id.
func (rr *RecordRepository) QueryRecords(ctx context.Context, workflowID, pattern string) ([]*models.WorkflowRecord, error) {
	query := `SELECT ` + recordColumns + `
		FROM workflow_records
		WHERE workflow_id = $1
		ORDER BY created_at, record_id`

	rows, err := rr.db.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}

	defer closeRows(ctx, rr.logger, rows)

	records := make([]*models.WorkflowRecord, 0)

	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}

		if persistence.MatchRecord(pattern, record) {
			records = append(records, record)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}

	return records, nil
}

func scanRecord(row rowScanner) (*models.WorkflowRecord, error) {
	var (
		record   models.WorkflowRecord
		dataJSON []byte
	)

	err := row.Scan(
		&record.RecordID,
		&record.WorkflowID,
		&record.RecordType,
		&record.IterationNodeAlias,
		&dataJSON,
		&record.Status,
		&record.RetryCount,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(dataJSON) > 0 {
		if err := json.Unmarshal(dataJSON, &record.Data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record data: %w", err)
		}
	}

	return &record, nil
}
