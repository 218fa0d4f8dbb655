package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/director/pkg/events"
	"github.com/dukex/director/pkg/graph"
	"github.com/dukex/director/pkg/models"
	"github.com/dukex/director/pkg/otelhelper"
	"github.com/dukex/director/pkg/persistence"
	"github.com/dukex/director/pkg/state"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

const (
	sourceList    = "list"
	sourceRecords = "records"
)

// IterationError reports the failure of one iteration.
type IterationError struct {
	NodePosition int
	Index        int
	RecordID     string
	Err          error
}

func (e *IterationError) Error() string {
	if e.RecordID != "" {
		return fmt.Sprintf("iterate node %d: iteration %d (record %s): %v", e.NodePosition, e.Index, e.RecordID, e.Err)
	}

	return fmt.Sprintf("iterate node %d: iteration %d: %v", e.NodePosition, e.Index, e.Err)
}

func (e *IterationError) Unwrap() error {
	return e.Err
}

// item is one unit of a loop source.
type item struct {
	value  any
	record *models.WorkflowRecord
}

func (e *Executor) runIterate(ctx context.Context, r run, loop *graph.TreeNode, scope *state.Scope) (*models.LoopResult, error) {
	node := loop.Node
	started := time.Now()
	result := &models.LoopResult{NodePosition: node.Position, NodeAlias: node.Alias, Iterations: make([]models.IterationResult, 0)}

	params, err := models.ParseIterateParams(node.Params)
	if err != nil {
		return result, withRef(err, node)
	}

	source := sourceList
	if params.UsesRecords {
		source = sourceRecords
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.iterate",
		attribute.String(otelhelper.WorkflowIDKey, r.workflowID),
		attribute.String(otelhelper.ExecutionIDKey, r.executionID),
		attribute.String(otelhelper.NodeUUIDKey, node.UUID),
		attribute.Int(otelhelper.NodePositionKey, node.Position),
	)
	defer span.End()

	items, err := e.items(ctx, r, node, params, scope)
	if err != nil {
		otelhelper.SetError(span, err)

		return result, err
	}

	result.SourceSize = len(items)

	if params.MaxIterations > 0 && len(items) > params.MaxIterations {
		items = items[:params.MaxIterations]
		result.Capped = true
	}

	body := loop.Ordered()

	var loopErr error
	if params.BatchSize > 1 {
		loopErr = e.runBatches(ctx, r, node, params, body, items, scope, result)
	} else {
		loopErr = e.runSequential(ctx, r, node, params, body, items, scope, result)
	}

	duration := time.Since(started)
	e.metrics.ObserveIterate(source, duration)

	if loopErr != nil {
		otelhelper.SetError(span, loopErr)
	}

	e.logger.InfoContext(ctx, "iterate finished",
		"execution_id", r.executionID,
		"workflow_id", r.workflowID,
		"position", node.Position,
		"iterations", len(result.Iterations),
		"failed", result.Failed,
		"capped", result.Capped,
	)

	e.publish(ctx, r.workflowID, events.IterationCompleted{
		BaseEvent:   events.NewBaseEvent(events.IterationCompletedEvent, r.workflowID),
		ExecutionID: r.executionID,
		NodeUUID:    node.UUID,
		Position:    node.Position,
		Iterations:  len(result.Iterations),
		Failed:      result.Failed,
		Truncated:   result.Capped,
		DurationMs:  duration.Milliseconds(),
	})

	return result, loopErr
}

// items reads the loop source: the list variable from scope, or the records
// matching the records pattern. With both records and a list variable, list
// items are discovered as records. Completed records are not iterated again.
func (e *Executor) items(ctx context.Context, r run, node *models.Node, params *models.IterateParams, scope *state.Scope) ([]item, error) {
	if params.UsesRecords && params.ListVariable != "" {
		return e.discover(ctx, r, node, params, scope)
	}

	if params.UsesRecords {
		if e.source == nil {
			return nil, &models.ValidationError{Ref: node.Alias, Field: models.ParamRecords, Message: "no record source configured"}
		}

		pattern := params.RecordPattern
		if pattern == "" {
			pattern = params.RecordType
		}

		records, err := e.source.QueryRecords(ctx, r.workflowID, pattern)
		if err != nil {
			return nil, fmt.Errorf("failed to query records: %w", err)
		}

		items := make([]item, 0, len(records))
		for _, record := range records {
			if record.Status == models.RecordStatusComplete {
				continue
			}

			items = append(items, item{value: record.AsMap(), record: record})
		}

		return items, nil
	}

	if params.ListVariable == "" {
		return nil, &models.ValidationError{Ref: node.Alias, Field: models.ParamListVariable, Message: "is required without records"}
	}

	values, err := e.listValues(ctx, node, params, scope)
	if err != nil {
		return nil, err
	}

	items := make([]item, 0, len(values))
	for _, value := range values {
		items = append(items, item{value: value})
	}

	return items, nil
}

func (e *Executor) listValues(ctx context.Context, node *models.Node, params *models.IterateParams, scope *state.Scope) ([]any, error) {
	raw, ok := scope.Lookup(params.ListVariable)
	if !ok || raw == nil {
		e.logger.WarnContext(ctx, "list variable not set, nothing to iterate",
			"position", node.Position, "list_variable", params.ListVariable)

		return []any{}, nil
	}

	values, ok := raw.([]any)
	if !ok {
		return nil, &models.ValidationError{
			Ref:     node.Alias,
			Field:   models.ParamListVariable,
			Message: fmt.Sprintf("%q is a %T, not a list", params.ListVariable, raw),
		}
	}

	return values, nil
}

// discover maps each list item to the record named by its id field,
// creating a discovered record the first time an id is seen.
func (e *Executor) discover(ctx context.Context, r run, node *models.Node, params *models.IterateParams, scope *state.Scope) ([]item, error) {
	if e.records == nil {
		return nil, &models.ValidationError{Ref: node.Alias, Field: models.ParamRecords, Message: "no record repository configured"}
	}

	values, err := e.listValues(ctx, node, params, scope)
	if err != nil {
		return nil, err
	}

	recordType := params.RecordType
	if recordType == "" {
		recordType = node.Alias
	}

	items := make([]item, 0, len(values))
	created := 0

	for index, value := range values {
		id, ok := recordID(value, params.RecordIDField)
		if !ok {
			return nil, &models.ValidationError{
				Ref:     node.Alias,
				Field:   models.ParamRecords,
				Message: fmt.Sprintf("item %d has no %q", index, params.RecordIDField),
			}
		}

		record, err := e.records.GetRecord(ctx, r.workflowID, id)

		switch {
		case err == nil:
			if record.Status == models.RecordStatusComplete {
				continue
			}
		case persistence.IsRecordNotFound(err):
			record, err = e.createRecord(ctx, r, node, recordType, id, value)
			if err != nil {
				return nil, err
			}

			created++
		default:
			return nil, fmt.Errorf("failed to fetch record %s: %w", id, err)
		}

		items = append(items, item{value: record.AsMap(), record: record})
	}

	e.logger.DebugContext(ctx, "records discovered",
		"position", node.Position, "record_type", recordType, "items", len(values), "created", created)

	return items, nil
}

func (e *Executor) createRecord(ctx context.Context, r run, node *models.Node, recordType, id string, value any) (*models.WorkflowRecord, error) {
	fields, _ := models.CloneValue(value).(map[string]any)
	if fields == nil {
		fields = map[string]any{"value": models.CloneValue(value)}
	}

	now := time.Now().UTC()
	record := &models.WorkflowRecord{
		RecordID:           id,
		WorkflowID:         r.workflowID,
		RecordType:         recordType,
		IterationNodeAlias: node.Alias,
		Data:               models.RecordData{Fields: fields},
		Status:             models.RecordStatusDiscovered,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	record.AppendHistory(string(models.RecordStatusDiscovered), "discovered by "+node.Alias)

	if err := e.records.SaveRecord(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to save record %s: %w", id, err)
	}

	e.publish(ctx, r.workflowID, events.RecordStatusChanged{
		BaseEvent:  events.NewBaseEvent(events.RecordStatusChangedEvent, r.workflowID),
		RecordID:   record.RecordID,
		RecordType: record.RecordType,
		To:         record.Status,
	})

	return record, nil
}

// recordID reads the id of a list item: the id field of an object, or the
// item itself for scalars.
func recordID(value any, field string) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "", false
	case map[string]any:
		raw, ok := v[field]
		if !ok || raw == nil {
			return "", false
		}

		id := fmt.Sprint(raw)

		return id, id != ""
	default:
		id := fmt.Sprint(v)

		return id, id != ""
	}
}

func (e *Executor) runSequential(
	ctx context.Context,
	r run,
	node *models.Node,
	params *models.IterateParams,
	body []*graph.TreeNode,
	items []item,
	scope *state.Scope,
	result *models.LoopResult,
) error {
	for index, it := range items {
		if err := ctx.Err(); err != nil {
			return err
		}

		iteration, err := e.runIteration(ctx, r, node, params, body, index, len(items), it, scope, true)
		result.Add(iteration)

		if err != nil && !params.ContinueOnError {
			return err
		}
	}

	return nil
}

// runBatches runs up to BatchSize iterations concurrently. A batch starts
// only after the previous one finished, and results keep iteration order.
func (e *Executor) runBatches(
	ctx context.Context,
	r run,
	node *models.Node,
	params *models.IterateParams,
	body []*graph.TreeNode,
	items []item,
	scope *state.Scope,
	result *models.LoopResult,
) error {
	for start := 0; start < len(items); start += params.BatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := min(start+params.BatchSize, len(items))
		iterations := make([]models.IterationResult, end-start)
		errs := make([]error, end-start)

		group := newGroup(params.BatchSize)
		for index := start; index < end; index++ {
			group.Go(func() error {
				iterations[index-start], errs[index-start] = e.runIteration(ctx, r, node, params, body, index, len(items), items[index], scope, false)

				return nil
			})
		}

		_ = group.Wait()

		for i := range iterations {
			result.Add(iterations[i])
		}

		if params.ContinueOnError {
			continue
		}

		for _, err := range errs {
			if err != nil {
				return err
			}
		}
	}

	return nil
}

// runIteration runs the body once on a fork of scope carrying the
// iteration frame and, for records, the record frame. With commit set, the
// writes of a successful iteration are replayed onto scope so later
// iterations and the caller see them.
func (e *Executor) runIteration(
	ctx context.Context,
	r run,
	node *models.Node,
	params *models.IterateParams,
	body []*graph.TreeNode,
	index, total int,
	it item,
	scope *state.Scope,
	commit bool,
) (models.IterationResult, error) {
	iteration := models.IterationResult{Index: index, Status: models.IterationStatusSuccess}

	iterationScope := scope.Fork()
	iterationScope.Stack().PushIteration(state.IterationFrame{
		NodePosition:  node.Position,
		CurrentIndex:  index,
		ItemVariable:  params.ItemVariable,
		IndexVariable: params.IndexVariable,
		Item:          it.value,
		Total:         total,
	})
	defer iterationScope.Stack().PopIteration()

	source := sourceList

	if it.record != nil {
		source = sourceRecords
		iteration.RecordID = it.record.RecordID

		iterationScope.Stack().PushRecord(it.record.RecordID, it.record.AsMap())
		defer iterationScope.Stack().PopRecord()

		if err := e.transition(ctx, r, it.record, models.RecordStatusProcessing, "iteration started", nil); err != nil {
			return failIteration(iteration, err), &IterationError{NodePosition: node.Position, Index: index, RecordID: it.record.RecordID, Err: err}
		}
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.iteration",
		attribute.Int(otelhelper.NodePositionKey, node.Position),
		attribute.Int(otelhelper.IterationKey, index),
	)
	defer span.End()

	nodes, err := e.runNodes(ctx, r, body, iterationScope)
	iteration.Nodes = nodes

	if it.record != nil {
		status, detail := models.RecordStatusComplete, "iteration completed"
		if err != nil {
			status, detail = models.RecordStatusFailed, err.Error()
		}

		if recordErr := e.transition(ctx, r, it.record, status, detail, iterationScope.Locals()); recordErr != nil && err == nil {
			err = recordErr
		}
	}

	if err != nil {
		otelhelper.SetError(span, err)
		e.metrics.RecordIteration(source, "failed")
		e.logger.WarnContext(ctx, "iteration failed",
			"execution_id", r.executionID, "position", node.Position, "index", index, "error", err)

		return failIteration(iteration, err), &IterationError{NodePosition: node.Position, Index: index, RecordID: iteration.RecordID, Err: err}
	}

	if commit {
		if err := iterationScope.Commit(); err != nil {
			iteration = failIteration(iteration, err)

			return iteration, &IterationError{NodePosition: node.Position, Index: index, RecordID: iteration.RecordID, Err: err}
		}
	}

	e.metrics.RecordIteration(source, "success")

	return iteration, nil
}

func failIteration(iteration models.IterationResult, err error) models.IterationResult {
	iteration.Status = models.IterationStatusFailed
	iteration.Error = err.Error()

	return iteration
}

// transition moves a record to status, appends history and persists it.
// vars written by the iteration are merged into the record's vars.
func (e *Executor) transition(ctx context.Context, r run, record *models.WorkflowRecord, status models.RecordStatus, detail string, vars map[string]any) error {
	from := record.Status
	record.Status = status

	if status == models.RecordStatusFailed {
		record.RetryCount++
	}

	if len(vars) > 0 {
		if record.Data.Vars == nil {
			record.Data.Vars = make(map[string]any, len(vars))
		}

		for key, value := range vars {
			record.Data.Vars[key] = value
		}
	}

	record.AppendHistory(string(status), detail)

	if e.records == nil {
		return nil
	}

	if err := e.records.SaveRecord(ctx, record); err != nil {
		return fmt.Errorf("failed to save record %s: %w", record.RecordID, err)
	}

	e.publish(ctx, r.workflowID, events.RecordStatusChanged{
		BaseEvent:  events.NewBaseEvent(events.RecordStatusChangedEvent, r.workflowID),
		RecordID:   record.RecordID,
		RecordType: record.RecordType,
		From:       from,
		To:         status,
		RetryCount: record.RetryCount,
	})

	return nil
}

func withRef(err error, node *models.Node) error {
	if verr, ok := err.(*models.ValidationError); ok && verr.Ref == "" {
		verr.Ref = node.Alias
	}

	return err
}

func newGroup(limit int) *errgroup.Group {
	group := &errgroup.Group{}
	group.SetLimit(max(limit, 1))

	return group
}
