// Package checkpoint provides the action behind checkpoint nodes: it saves
// the workflow variables under a name and rolls back to them.
package checkpoint

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukex/director/pkg/models"
	"github.com/dukex/director/pkg/protocol"
	"github.com/dukex/director/pkg/state"
)

const (
	ModeSave    = "save"
	ModeRestore = "restore"

	DefaultName = "default"
)

func NewCheckpointActionFactory() *CheckpointActionFactory {
	return &CheckpointActionFactory{}
}

type CheckpointActionFactory struct{}

func (*CheckpointActionFactory) ID() string {
	return string(models.NodeTypeCheckpoint)
}

func (*CheckpointActionFactory) Create(config map[string]any) (protocol.Action, error) {
	return NewCheckpointAction(config)
}

// CheckpointAction saves the workflow store, or restores the snapshot saved
// under Name. Writes still private to a forked scope are not saved.
type CheckpointAction struct {
	Name string
	Mode string
}

func NewCheckpointAction(config map[string]any) (*CheckpointAction, error) {
	action := &CheckpointAction{Name: DefaultName, Mode: ModeSave}

	if name, ok := config["name"].(string); ok && name != "" {
		action.Name = name
	}

	if raw, ok := config["mode"]; ok && raw != nil {
		mode, _ := raw.(string)
		if mode != ModeSave && mode != ModeRestore {
			return nil, models.NewValidationError("mode", "must be save or restore")
		}

		action.Mode = mode
	}

	return action, nil
}

func (a *CheckpointAction) Execute(ctx context.Context, executionCtx models.ExecutionContext, scope *state.Scope, logger *slog.Logger) (any, error) {
	logger = logger.With("action_type", "checkpoint", "checkpoint", a.Name)

	if a.Mode == ModeSave {
		snapshot := scope.Store().SaveCheckpoint(a.Name)
		logger.DebugContext(ctx, "checkpoint saved", "variables", len(snapshot.Data))

		return map[string]any{"checkpoint": a.Name, "mode": a.Mode, "taken_at": snapshot.TakenAt.Format(time.RFC3339Nano)}, nil
	}

	snapshot, ok := scope.Store().Checkpoint(a.Name)
	if !ok {
		return nil, &models.NotFoundError{Kind: "checkpoint", WorkflowID: executionCtx.WorkflowID, Ref: a.Name}
	}

	if err := scope.Rollback(snapshot); err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "checkpoint restored", "taken_at", snapshot.TakenAt)

	return map[string]any{"checkpoint": a.Name, "mode": a.Mode, "taken_at": snapshot.TakenAt.Format(time.RFC3339Nano)}, nil
}
