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

// RecordRepository stores one JSON file per record.
type RecordRepository struct {
	store *Persistence
}

// SaveRecord inserts or replaces a record.
func (rr *RecordRepository) SaveRecord(_ context.Context, record *models.WorkflowRecord) error {
	rr.store.mu.Lock()
	defer rr.store.mu.Unlock()

	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}

	record.UpdatedAt = now

	return writeJSON(rr.recordPath(record.WorkflowID, record.RecordID), record)
}

// GetRecord returns a record by id.
func (rr *RecordRepository) GetRecord(_ context.Context, workflowID, recordID string) (*models.WorkflowRecord, error) {
	rr.store.mu.Lock()
	defer rr.store.mu.Unlock()

	var record models.WorkflowRecord

	if err := readJSON(rr.recordPath(workflowID, recordID), &record); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &persistence.RecordError{Op: "GetRecord", WorkflowID: workflowID, RecordID: recordID, Err: persistence.ErrRecordNotFound}
		}

		return nil, fmt.Errorf("failed to fetch record %s: %w", recordID, err)
	}

	return &record, nil
}

// QueryRecords returns matching records ordered by creation time, then id.
func (rr *RecordRepository) QueryRecords(_ context.Context, workflowID, pattern string) ([]*models.WorkflowRecord, error) {
	rr.store.mu.Lock()
	defer rr.store.mu.Unlock()

	entries, err := os.ReadDir(rr.store.recordDir(workflowID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return make([]*models.WorkflowRecord, 0), nil
		}

		return nil, fmt.Errorf("failed to list records of workflow %s: %w", workflowID, err)
	}

	records := make([]*models.WorkflowRecord, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") || strings.HasPrefix(entry.Name(), ".tmp-") {
			continue
		}

		var record models.WorkflowRecord
		if err := readJSON(filepath.Join(rr.store.recordDir(workflowID), entry.Name()), &record); err != nil {
			return nil, err
		}

		if persistence.MatchRecord(pattern, &record) {
			records = append(records, &record)
		}
	}

	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}

		return records[i].RecordID < records[j].RecordID
	})

	return records, nil
}

func (rr *RecordRepository) recordPath(workflowID, recordID string) string {
	return filepath.Join(rr.store.recordDir(workflowID), filepath.Base(recordID)+".json")
}
