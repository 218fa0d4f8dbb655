// Package file provides file-based persistence for workflows, nodes, records and variables.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dukex/director/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file system.
// Workflows are stored as one JSON document holding their nodes and
// variables; records are stored one file each under records/<workflow>/.
type Persistence struct {
	root         string
	mu           sync.Mutex
	workflowRepo *WorkflowRepository
	nodeRepo     *NodeRepository
	recordRepo   *RecordRepository
	variableRepo *VariableRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	p := &Persistence{root: cleanRoot}
	p.workflowRepo = &WorkflowRepository{store: p}
	p.nodeRepo = &NodeRepository{store: p}
	p.recordRepo = &RecordRepository{store: p}
	p.variableRepo = &VariableRepository{store: p}

	return p
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// WorkflowRepository returns the workflow repository implementation for file persistence.
func (fp *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return fp.workflowRepo
}

// NodeRepository returns the node repository implementation for file persistence.
func (fp *Persistence) NodeRepository() persistence.NodeRepository {
	return fp.nodeRepo
}

// RecordRepository returns the record repository implementation for file persistence.
func (fp *Persistence) RecordRepository() persistence.RecordRepository {
	return fp.recordRepo
}

// VariableRepository returns the variable repository implementation for file persistence.
func (fp *Persistence) VariableRepository() persistence.VariableRepository {
	return fp.variableRepo
}

func (fp *Persistence) workflowPath(workflowID string) string {
	return filepath.Join(fp.root, "workflows", filepath.Base(workflowID)+".json")
}

func (fp *Persistence) recordDir(workflowID string) string {
	return filepath.Join(fp.root, "records", filepath.Base(workflowID))
}

// writeJSON writes v through a temporary file and a rename so readers never
// observe a partial document.
func writeJSON(filePath string, v any) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0750); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", filePath, err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filePath, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(filePath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", filePath, err)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to write %s: %w", filePath, err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to close %s: %w", filePath, err)
	}

	return os.Rename(tmp.Name(), filePath)
}

func readJSON(filePath string, v any) error {
	body, err := os.ReadFile(filepath.Clean(filePath))
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", filePath, err)
	}

	return nil
}
