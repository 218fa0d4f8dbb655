// Package workflow drives route and iterate nodes: it walks the resolved
// control-flow forest and hands every work node to a NodeExecutor.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/director/pkg/eventbus"
	"github.com/dukex/director/pkg/graph"
	"github.com/dukex/director/pkg/metrics"
	"github.com/dukex/director/pkg/models"
	"github.com/dukex/director/pkg/otelhelper"
	"github.com/dukex/director/pkg/persistence"
	"github.com/dukex/director/pkg/protocol"
	"github.com/dukex/director/pkg/state"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SelectParam names the route param whose resolved value picks the branch
// taken when a route is reached while walking a body.
const SelectParam = "select"

type Executor struct {
	nodes     persistence.NodeRepository
	executor  protocol.NodeExecutor
	source    protocol.RecordSource
	records   persistence.RecordRepository
	builder   *graph.Builder
	publisher eventbus.EventPublisher
	tracer    trace.Tracer
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

type Option func(*Executor)

// WithRecords stores record status transitions in repository and, unless
// WithRecordSource is also given, queries records from it.
func WithRecords(repository persistence.RecordRepository) Option {
	return func(e *Executor) {
		e.records = repository
		if e.source == nil {
			e.source = repository
		}
	}
}

func WithRecordSource(source protocol.RecordSource) Option {
	return func(e *Executor) { e.source = source }
}

func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(e *Executor) { e.publisher = publisher }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Executor) { e.tracer = tracer }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// NewExecutor creates an executor reading nodes from nodes and running work
// nodes through executor.
func NewExecutor(nodes persistence.NodeRepository, executor protocol.NodeExecutor, opts ...Option) *Executor {
	e := &Executor{
		nodes:    nodes,
		executor: executor,
		tracer:   otelhelper.NoopTracer(),
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(e)
	}

	e.logger = e.logger.With("module", "workflow_executor")
	e.builder = graph.NewBuilder(e.logger)

	return e
}

// NewExecutionID generates a unique execution ID.
func NewExecutionID() string {
	return fmt.Sprintf("exec-%s", uuid.New().String()[:8])
}

type run struct {
	executionID string
	workflowID  string
}

// RunIterate executes the body of the iterate node addressed by ref once
// per item of its source. The returned result is never nil, also when an
// error aborted the loop.
func (e *Executor) RunIterate(ctx context.Context, executionID, workflowID string, ref models.NodeRef, scope *state.Scope) (*models.LoopResult, error) {
	tree, err := e.load(ctx, workflowID, ref, models.NodeTypeIterate)
	if err != nil {
		return &models.LoopResult{}, err
	}

	return e.runIterate(ctx, run{executionID: executionID, workflowID: workflowID}, tree, scope)
}

// RunRoute executes the children of one branch of the route addressed by
// ref, in order, on scope.
func (e *Executor) RunRoute(ctx context.Context, executionID, workflowID string, ref models.NodeRef, branch string, scope *state.Scope) (*models.BranchResult, error) {
	tree, err := e.load(ctx, workflowID, ref, models.NodeTypeRoute)
	if err != nil {
		return nil, err
	}

	return e.runBranch(ctx, run{executionID: executionID, workflowID: workflowID}, tree, branch, scope)
}

// RunBranches executes several branches of one route concurrently, each on
// its own fork of scope. Results follow the order of branches; the first
// failing branch's error is returned once all have finished.
func (e *Executor) RunBranches(ctx context.Context, executionID, workflowID string, ref models.NodeRef, branches []string, scope *state.Scope) ([]*models.BranchResult, error) {
	tree, err := e.load(ctx, workflowID, ref, models.NodeTypeRoute)
	if err != nil {
		return nil, err
	}

	for _, name := range branches {
		if _, ok := tree.Branch(name); !ok {
			return nil, &models.NotFoundError{Kind: "branch", WorkflowID: workflowID, Ref: name}
		}
	}

	r := run{executionID: executionID, workflowID: workflowID}
	results := make([]*models.BranchResult, len(branches))
	errs := make([]error, len(branches))

	group := newGroup(len(branches))
	for i, name := range branches {
		branchScope := scope.Fork()

		group.Go(func() error {
			results[i], errs[i] = e.runBranch(ctx, r, tree, name, branchScope)

			return nil
		})
	}

	_ = group.Wait()

	for _, err := range errs {
		if err != nil {
			return results, err
		}
	}

	return results, nil
}

func (e *Executor) load(ctx context.Context, workflowID string, ref models.NodeRef, nodeType models.NodeType) (*graph.TreeNode, error) {
	nodes, err := e.nodes.ListNodes(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	forest, err := e.builder.Build(nodes)
	if err != nil {
		return nil, err
	}

	node, ok := forest.Index.Lookup(ref)
	if !ok {
		return nil, models.NewNodeNotFound(workflowID, ref)
	}

	if node.Type != nodeType {
		return nil, &models.ValidationError{
			Ref:     ref.String(),
			Field:   "type",
			Message: fmt.Sprintf("expected a %s node, got %s", nodeType, node.Type),
		}
	}

	tree, _ := forest.Lookup(node.Position)

	return tree, nil
}

func (e *Executor) runBranch(ctx context.Context, r run, route *graph.TreeNode, branch string, scope *state.Scope) (*models.BranchResult, error) {
	children, ok := route.Branch(branch)
	if !ok {
		return nil, &models.NotFoundError{Kind: "branch", WorkflowID: r.workflowID, Ref: branch}
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.route",
		attribute.String(otelhelper.WorkflowIDKey, r.workflowID),
		attribute.String(otelhelper.ExecutionIDKey, r.executionID),
		attribute.Int(otelhelper.NodePositionKey, route.Position()),
		attribute.String(otelhelper.BranchKey, branch),
	)
	defer span.End()

	result := &models.BranchResult{RoutePosition: route.Position(), Branch: branch}

	nodes, err := e.runNodes(ctx, r, children, scope)
	result.Nodes = nodes

	if err != nil {
		otelhelper.SetError(span, err)
		result.Error = err.Error()

		return result, err
	}

	return result, nil
}

// runNodes walks sibling tree nodes in order. Nested iterate nodes loop,
// nested routes follow their select param, and work nodes run followed by
// their explicitly parented children.
func (e *Executor) runNodes(ctx context.Context, r run, children []*graph.TreeNode, scope *state.Scope) ([]models.NodeResult, error) {
	results := make([]models.NodeResult, 0, len(children))

	for _, child := range children {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		node := child.Node

		switch node.Type {
		case models.NodeTypeIterate:
			loop, err := e.runIterate(ctx, r, child, scope)
			results = append(results, nodeResult(node, loop, 1, err))

			if err != nil {
				return results, err
			}
		case models.NodeTypeRoute:
			branch := selectBranch(node, scope)
			if branch == "" {
				results = append(results, skipped(node))

				continue
			}

			taken, err := e.runBranch(ctx, r, child, branch, scope)
			results = append(results, nodeResult(node, taken, 1, err))

			if err != nil {
				return results, err
			}
		default:
			data, attempts, err := e.execute(ctx, r, node, scope)
			results = append(results, nodeResult(node, data, attempts, err))

			if err != nil {
				return results, fmt.Errorf("node %d (%s): %w", node.Position, node.Alias, err)
			}

			nested, err := e.runNodes(ctx, r, child.Ordered(), scope)
			results = append(results, nested...)

			if err != nil {
				return results, err
			}
		}
	}

	return results, nil
}

// execute runs one work node with the retry declared in its params.
func (e *Executor) execute(ctx context.Context, r run, node *models.Node, scope *state.Scope) (any, int, error) {
	policy, err := parseRetry(node)
	if err != nil {
		return nil, 0, err
	}

	var (
		result   any
		attempts int
	)

	err = backoff.Retry(func() error {
		attempts++

		var execErr error

		result, execErr = e.executor.ExecuteNode(ctx, r.executionID, node, scope)
		if execErr != nil && models.IsValidation(execErr) {
			return backoff.Permanent(execErr)
		}

		if execErr != nil && attempts < policy.MaxAttempts {
			e.logger.WarnContext(ctx, "node failed, retrying",
				"execution_id", r.executionID, "position", node.Position, "attempt", attempts, "error", execErr)
		}

		return execErr
	}, backoff.WithContext(policy.backOff(), ctx))

	return result, attempts, err
}

func selectBranch(node *models.Node, scope *state.Scope) string {
	raw, ok := node.Params[SelectParam].(string)
	if !ok {
		return ""
	}

	branch := scope.ResolveTemplate(raw)

	route, err := models.ParseRouteParams(node.Params)
	if err != nil {
		return ""
	}

	if _, ok := route.Branch(branch); !ok {
		return ""
	}

	return branch
}

func nodeResult(node *models.Node, data any, attempts int, err error) models.NodeResult {
	result := models.NodeResult{
		Position:  node.Position,
		Alias:     node.Alias,
		Data:      data,
		Status:    models.NodeStatusSuccess,
		Attempts:  attempts,
		Timestamp: time.Now().UTC(),
	}

	if err != nil {
		result.Status = models.NodeStatusError
		result.Error = err.Error()
	}

	return result
}

func skipped(node *models.Node) models.NodeResult {
	return models.NodeResult{
		Position:  node.Position,
		Alias:     node.Alias,
		Status:    models.NodeStatusSkipped,
		Timestamp: time.Now().UTC(),
	}
}

func (e *Executor) publish(ctx context.Context, workflowID string, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	if err := e.publisher.Publish(ctx, workflowID, event); err != nil {
		e.logger.ErrorContext(ctx, "failed to publish event", "event_type", event.GetType(), "error", err)
	}
}
