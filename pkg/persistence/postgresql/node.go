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

// NodeRepository handles the position-indexed node rows of a workflow.
type NodeRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewNodeRepository creates a new node repository.
func NewNodeRepository(db *sql.DB, logger *slog.Logger) *NodeRepository {
	return &NodeRepository{db: db, logger: logger}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const nodeColumns = `
			uuid
		  , workflow_id
		  , position
		  , alias
		  , node_type
		  , description
		  , params
		  , status
		  , result
		  , created_at
		  , updated_at`

// ListNodes returns every node of the workflow ordered by position.
func (nr *NodeRepository) ListNodes(ctx context.Context, workflowID string) ([]*models.Node, error) {
	query := `SELECT ` + nodeColumns + `
		FROM workflow_nodes
		WHERE workflow_id = $1
		ORDER BY position`

	rows, err := nr.db.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow nodes: %w", err)
	}

	defer closeRows(ctx, nr.logger, rows)

	nodes := make([]*models.Node, 0)

	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}

		nodes = append(nodes, node)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating nodes: %w", err)
	}

	return nodes, nil
}

// GetNode returns a node by uuid.
func (nr *NodeRepository) GetNode(ctx context.Context, workflowID, nodeUUID string) (*models.Node, error) {
	query := `SELECT ` + nodeColumns + `
		FROM workflow_nodes
		WHERE workflow_id = $1 AND uuid = $2`

	node, err := scanNode(nr.db.QueryRowContext(ctx, query, workflowID, nodeUUID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewNodeError("GetNode", workflowID, nodeUUID, persistence.ErrNodeNotFound)
		}

		return nil, fmt.Errorf("failed to get node: %w", err)
	}

	return node, nil
}

// SaveNode inserts or replaces a node by uuid.
func (nr *NodeRepository) SaveNode(ctx context.Context, workflowID string, node *models.Node) error {
	node.WorkflowID = workflowID

	if err := upsertNode(ctx, nr.db, node, time.Now().UTC()); err != nil {
		if isUniqueViolation(err) {
			return persistence.NewNodeError("SaveNode", workflowID, node.UUID, fmt.Errorf("%w: %w", persistence.ErrDuplicateNode, err))
		}

		if isForeignKeyViolation(err) {
			return persistence.NewWorkflowError("SaveNode", workflowID, persistence.ErrWorkflowNotFound)
		}

		return fmt.Errorf("failed to save node: %w", err)
	}

	return nil
}

// UpdatePosition moves a single node with a one-row update.
func (nr *NodeRepository) UpdatePosition(ctx context.Context, workflowID, nodeUUID string, position int) error {
	result, err := nr.db.ExecContext(ctx,
		`UPDATE workflow_nodes SET position = $3, updated_at = NOW() WHERE workflow_id = $1 AND uuid = $2`,
		workflowID, nodeUUID, position,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return persistence.NewNodeError("UpdatePosition", workflowID, nodeUUID,
				fmt.Errorf("%w: position %d: %w", persistence.ErrDuplicateNode, position, err))
		}

		return fmt.Errorf("failed to update node position: %w", err)
	}

	return expectOneRow(result, "UpdatePosition", workflowID, nodeUUID)
}

// DeleteNode removes a node by uuid.
func (nr *NodeRepository) DeleteNode(ctx context.Context, workflowID, nodeUUID string) error {
	result, err := nr.db.ExecContext(ctx,
		`DELETE FROM workflow_nodes WHERE workflow_id = $1 AND uuid = $2`,
		workflowID, nodeUUID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete node: %w", err)
	}

	return expectOneRow(result, "DeleteNode", workflowID, nodeUUID)
}

func expectOneRow(result sql.Result, op, workflowID, nodeUUID string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		return persistence.NewNodeError(op, workflowID, nodeUUID, persistence.ErrNodeNotFound)
	}

	return nil
}

func upsertNode(ctx context.Context, db execer, node *models.Node, now time.Time) error {
	if node.CreatedAt.IsZero() {
		node.CreatedAt = now
	}

	node.UpdatedAt = now

	if node.Status == "" {
		node.Status = models.NodeStatusPending
	}

	params := node.Params
	if params == nil {
		params = make(map[string]any)
	}

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal node params: %w", err)
	}

	var resultJSON sql.NullString

	if node.Result != nil {
		encoded, err := json.Marshal(node.Result)
		if err != nil {
			return fmt.Errorf("failed to marshal node result: %w", err)
		}

		resultJSON = sql.NullString{String: string(encoded), Valid: true}
	}

	query := `
		INSERT INTO workflow_nodes (uuid, workflow_id, position, alias, node_type, description, params, status, result, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (workflow_id, uuid) DO UPDATE SET
			position = EXCLUDED.position,
			alias = EXCLUDED.alias,
			node_type = EXCLUDED.node_type,
			description = EXCLUDED.description,
			params = EXCLUDED.params,
			status = EXCLUDED.status,
			result = EXCLUDED.result,
			updated_at = EXCLUDED.updated_at
	`

	_, err = db.ExecContext(ctx, query,
		node.UUID,
		node.WorkflowID,
		node.Position,
		node.Alias,
		node.Type,
		node.Description,
		string(paramsJSON),
		node.Status,
		resultJSON,
		node.CreatedAt,
		node.UpdatedAt,
	)

	return err
}

func scanNode(row rowScanner) (*models.Node, error) {
	var (
		node                   models.Node
		paramsJSON, resultJSON []byte
	)

	err := row.Scan(
		&node.UUID,
		&node.WorkflowID,
		&node.Position,
		&node.Alias,
		&node.Type,
		&node.Description,
		&paramsJSON,
		&node.Status,
		&resultJSON,
		&node.CreatedAt,
		&node.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	node.Params = make(map[string]any)
	if len(paramsJSON) > 0 {
		if err := json.Unmarshal(paramsJSON, &node.Params); err != nil {
			return nil, fmt.Errorf("failed to unmarshal node params: %w", err)
		}
	}

	if len(resultJSON) > 0 {
		if err := json.Unmarshal(resultJSON, &node.Result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal node result: %w", err)
		}
	}

	return &node, nil
}
