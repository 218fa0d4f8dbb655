package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/director/pkg/eventbus"
	"github.com/dukex/director/pkg/events"
	"github.com/dukex/director/pkg/lock"
	"github.com/dukex/director/pkg/metrics"
	"github.com/dukex/director/pkg/persistence"
	"github.com/dukex/director/pkg/state"
)

// Variables reads and writes a workflow's persisted variable tree. Every
// write is a locked read-modify-write of the whole tree.
type Variables struct {
	repository persistence.VariableRepository
	locker     lock.Locker
	publisher  eventbus.EventPublisher
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewVariables creates a variable service. publisher and m may be nil.
func NewVariables(
	repository persistence.VariableRepository,
	locker lock.Locker,
	publisher eventbus.EventPublisher,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Variables {
	if locker == nil {
		locker = lock.NewLocal()
	}

	return &Variables{
		repository: repository,
		locker:     locker,
		publisher:  publisher,
		metrics:    m,
		logger:     logger.With("module", "variable_service"),
	}
}

// Load returns a store seeded with the workflow's variables.
func (v *Variables) Load(ctx context.Context, workflowID string) (*state.Store, error) {
	variables, err := v.repository.GetVariables(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	return state.NewStore(variables), nil
}

// Get returns the value at path. A missing path is reported with false,
// never as an error.
func (v *Variables) Get(ctx context.Context, workflowID, path string) (any, bool, error) {
	if _, err := state.SplitPath(path); err != nil {
		return nil, false, err
	}

	store, err := v.Load(ctx, workflowID)
	if err != nil {
		return nil, false, err
	}

	value, ok := store.Get(path)

	return value, ok, nil
}

// All returns the whole variable tree.
func (v *Variables) All(ctx context.Context, workflowID string) (map[string]any, error) {
	store, err := v.Load(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	return store.All(), nil
}

// Set stores value at path.
func (v *Variables) Set(ctx context.Context, workflowID, path string, value any) error {
	return v.mutate(ctx, workflowID, state.OpSet, path, func(store *state.Store) (bool, error) {
		return true, store.Set(path, value)
	})
}

// Delete removes path and reports whether it was present.
func (v *Variables) Delete(ctx context.Context, workflowID, path string) (bool, error) {
	var removed bool

	err := v.mutate(ctx, workflowID, state.OpDelete, path, func(store *state.Store) (bool, error) {
		var err error
		removed, err = store.Delete(path)

		return removed, err
	})

	return removed, err
}

// Merge shallow-merges partial into the object at path.
func (v *Variables) Merge(ctx context.Context, workflowID, path string, partial map[string]any) error {
	return v.mutate(ctx, workflowID, state.OpMerge, path, func(store *state.Store) (bool, error) {
		return true, store.Merge(path, partial)
	})
}

// Persist replaces the stored tree with the store's content, typically after
// an execution wrote to it.
func (v *Variables) Persist(ctx context.Context, workflowID string, store *state.Store) error {
	release, err := v.locker.Acquire(ctx, lock.WorkflowKey(workflowID))
	if err != nil {
		return fmt.Errorf("failed to lock workflow %s: %w", workflowID, err)
	}
	defer v.release(ctx, release)

	if err := v.repository.SaveVariables(ctx, workflowID, store.All()); err != nil {
		return fmt.Errorf("failed to save variables: %w", err)
	}

	v.metrics.RecordVariableWrite("persist")

	return nil
}

func (v *Variables) mutate(
	ctx context.Context,
	workflowID, operation, path string,
	apply func(*state.Store) (bool, error),
) error {
	if _, err := state.SplitPath(path); err != nil {
		return err
	}

	release, err := v.locker.Acquire(ctx, lock.WorkflowKey(workflowID))
	if err != nil {
		return fmt.Errorf("failed to lock workflow %s: %w", workflowID, err)
	}
	defer v.release(ctx, release)

	store, err := v.Load(ctx, workflowID)
	if err != nil {
		return err
	}

	oldValue, _ := store.Get(path)

	changed, err := apply(store)
	if err != nil {
		return err
	}

	if !changed {
		return nil
	}

	if err := v.repository.SaveVariables(ctx, workflowID, store.All()); err != nil {
		return fmt.Errorf("failed to save variables: %w", err)
	}

	newValue, _ := store.Get(path)

	v.metrics.RecordVariableWrite(operation)
	v.logger.DebugContext(ctx, "variable updated", "workflow_id", workflowID, "path", path, "operation", operation)

	if v.publisher != nil {
		event := events.VariableUpdated{
			BaseEvent: events.NewBaseEvent(events.VariableUpdatedEvent, workflowID),
			Path:      path,
			OldValue:  oldValue,
			NewValue:  newValue,
			Deleted:   operation == state.OpDelete,
		}

		if err := v.publisher.Publish(ctx, workflowID, event); err != nil {
			v.logger.ErrorContext(ctx, "failed to publish variable event", "workflow_id", workflowID, "error", err)
		}
	}

	return nil
}

func (v *Variables) release(ctx context.Context, release lock.Release) {
	if err := release(context.WithoutCancel(ctx)); err != nil {
		v.logger.WarnContext(ctx, "failed to release workflow lock", "error", err)
	}
}
