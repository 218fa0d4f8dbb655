// Package resolver turns symbolic route and iterate declarations into
// concrete child positions and persists them back onto the nodes.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/dukex/director/pkg/eventbus"
	"github.com/dukex/director/pkg/events"
	"github.com/dukex/director/pkg/graph"
	"github.com/dukex/director/pkg/lock"
	"github.com/dukex/director/pkg/metrics"
	"github.com/dukex/director/pkg/models"
	"github.com/dukex/director/pkg/otelhelper"
	"github.com/dukex/director/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// BodyBranch is the branch name used in iterate reports.
const BodyBranch = "body"

// BranchReport describes the outcome for one route branch or an iterate body.
type BranchReport struct {
	Name          string                           `json:"name"`
	Positions     []int                            `json:"positions"`
	ResolvedCount int                              `json:"resolved_count"`
	Dangling      []*models.DanglingReferenceError `json:"dangling,omitempty"`
	Error         string                           `json:"error,omitempty"`
}

// Report is the result of resolving one node.
type Report struct {
	WorkflowID string          `json:"workflow_id"`
	NodeUUID   string          `json:"node_uuid"`
	Alias      string          `json:"alias"`
	Position   int             `json:"position"`
	Type       models.NodeType `json:"type"`
	Branches   []BranchReport  `json:"branches"`
	Tagged     []int           `json:"tagged"`
	Written    bool            `json:"written"`
	Timestamp  time.Time       `json:"timestamp"`
}

// DanglingCount sums dangling references over every branch.
func (r *Report) DanglingCount() int {
	count := 0
	for _, branch := range r.Branches {
		count += len(branch.Dangling)
	}

	return count
}

// Resolver resolves route and iterate nodes of a workflow.
type Resolver struct {
	nodes     persistence.NodeRepository
	locker    lock.Locker
	publisher eventbus.EventPublisher
	tracer    trace.Tracer
	metrics   *metrics.Metrics
	schemas   *schemaSet
	logger    *slog.Logger
}

type Option func(*Resolver)

func WithLocker(locker lock.Locker) Option {
	return func(r *Resolver) { r.locker = locker }
}

func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(r *Resolver) { r.publisher = publisher }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(r *Resolver) { r.tracer = tracer }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) { r.logger = logger }
}

// New creates a resolver over the node repository. Without WithLocker an
// in-process lock serializes resolutions per workflow.
func New(nodes persistence.NodeRepository, opts ...Option) (*Resolver, error) {
	schemas, err := loadSchemas()
	if err != nil {
		return nil, err
	}

	r := &Resolver{
		nodes:   nodes,
		locker:  lock.NewLocal(),
		tracer:  otelhelper.NoopTracer(),
		schemas: schemas,
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(r)
	}

	r.logger = r.logger.With("module", "resolver")

	return r, nil
}

// ResolveRoute resolves every branch of a route node.
func (r *Resolver) ResolveRoute(ctx context.Context, workflowID string, ref models.NodeRef) (*Report, error) {
	return r.locked(ctx, workflowID, ref, models.NodeTypeRoute)
}

// ResolveIterate resolves the body of an iterate node.
func (r *Resolver) ResolveIterate(ctx context.Context, workflowID string, ref models.NodeRef) (*Report, error) {
	return r.locked(ctx, workflowID, ref, models.NodeTypeIterate)
}

// BatchReport collects the outcome of ResolveAll.
type BatchReport struct {
	WorkflowID string            `json:"workflow_id"`
	Reports    []*Report         `json:"reports"`
	Errors     map[string]string `json:"errors,omitempty"`
}

// ResolveAll resolves every route and iterate node of the workflow in
// position order. A node that fails does not stop the others.
func (r *Resolver) ResolveAll(ctx context.Context, workflowID string) (*BatchReport, error) {
	release, err := r.locker.Acquire(ctx, lock.WorkflowKey(workflowID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock workflow %s: %w", workflowID, err)
	}

	defer r.release(ctx, release)

	nodes, err := r.nodes.ListNodes(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	batch := &BatchReport{WorkflowID: workflowID, Reports: make([]*Report, 0), Errors: make(map[string]string)}

	for _, node := range nodes {
		if node.Type != models.NodeTypeRoute && node.Type != models.NodeTypeIterate {
			continue
		}

		report, err := r.resolve(ctx, workflowID, models.NodeRef{Kind: models.RefUUID, Value: node.UUID}, node.Type)
		if err != nil {
			batch.Errors[node.Alias] = err.Error()

			continue
		}

		batch.Reports = append(batch.Reports, report)
	}

	return batch, nil
}

func (r *Resolver) locked(ctx context.Context, workflowID string, ref models.NodeRef, kind models.NodeType) (*Report, error) {
	release, err := r.locker.Acquire(ctx, lock.WorkflowKey(workflowID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock workflow %s: %w", workflowID, err)
	}

	defer r.release(ctx, release)

	return r.resolve(ctx, workflowID, ref, kind)
}

func (r *Resolver) release(ctx context.Context, release lock.Release) {
	if err := release(context.WithoutCancel(ctx)); err != nil {
		r.logger.WarnContext(ctx, "failed to release workflow lock", "error", err)
	}
}

func (r *Resolver) resolve(ctx context.Context, workflowID string, ref models.NodeRef, kind models.NodeType) (report *Report, err error) {
	started := time.Now()

	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "resolver.resolve_"+string(kind),
		attribute.String(otelhelper.WorkflowIDKey, workflowID),
		attribute.String(otelhelper.NodeTypeKey, string(kind)),
	)
	defer span.End()

	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "error"
			otelhelper.SetError(span, err)
		}

		dangling := 0
		if report != nil {
			dangling = report.DanglingCount()
		}

		r.metrics.RecordResolution(string(kind), outcome, time.Since(started), dangling)
	}()

	nodes, err := r.nodes.ListNodes(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	ix := graph.NewIndex(nodes)

	target, ok := ix.Lookup(ref)
	if !ok {
		return nil, models.NewNodeNotFound(workflowID, ref)
	}

	span.SetAttributes(
		attribute.String(otelhelper.NodeUUIDKey, target.UUID),
		attribute.Int(otelhelper.NodePositionKey, target.Position),
	)

	if target.Type != kind {
		return nil, &models.ValidationError{
			Ref:     ref.String(),
			Field:   "type",
			Message: fmt.Sprintf("node is a %s, not a %s", target.Type, kind),
		}
	}

	if err := r.schemas.validate(target); err != nil {
		return nil, err
	}

	report = &Report{
		WorkflowID: workflowID,
		NodeUUID:   target.UUID,
		Alias:      target.Alias,
		Position:   target.Position,
		Type:       target.Type,
		Branches:   make([]BranchReport, 0),
		Tagged:     make([]int, 0),
	}

	var params map[string]any

	switch kind {
	case models.NodeTypeRoute:
		params, err = r.resolveRouteParams(target, ix, report)
	default:
		params, err = r.resolveIterateParams(target, ix, report)
	}

	if err != nil {
		return nil, err
	}

	if !models.ParamsEqual(params, target.Params) {
		updated := target.Clone()
		updated.Params = params

		if err := r.nodes.SaveNode(ctx, workflowID, updated); err != nil {
			return nil, fmt.Errorf("failed to persist resolved params of node %d: %w", target.Position, err)
		}

		report.Written = true
	}

	if err := r.tagChildren(ctx, workflowID, target, ix, report); err != nil {
		return nil, err
	}

	report.Timestamp = time.Now().UTC()

	r.logger.InfoContext(ctx, "node resolved",
		"workflow_id", workflowID,
		"position", target.Position,
		"type", target.Type,
		"branches", len(report.Branches),
		"tagged", len(report.Tagged),
		"written", report.Written,
	)

	r.publish(ctx, report)

	return report, nil
}

func (r *Resolver) resolveRouteParams(target *models.Node, ix *graph.Index, report *Report) (map[string]any, error) {
	route, err := models.ParseRouteParams(target.Params)
	if err != nil {
		return nil, withRef(err, target)
	}

	for i := range route.Branches {
		branch := &route.Branches[i]
		branchReport := BranchReport{Name: branch.Name, Positions: make([]int, 0)}

		if branch.Err != nil {
			branchReport.Error = branch.Err.Error()
			report.Branches = append(report.Branches, branchReport)

			continue
		}

		positions, dangling := resolvePositions(ix, target, branch.Name, branch.HasPositions, branch.Positions, branch.Spec)

		branch.Positions = positions
		branch.HasPositions = true

		branchReport.Positions = positions
		branchReport.ResolvedCount = len(positions)
		branchReport.Dangling = dangling
		report.Branches = append(report.Branches, branchReport)
	}

	return route.EncodeInto(target.Params), nil
}

func (r *Resolver) resolveIterateParams(target *models.Node, ix *graph.Index, report *Report) (map[string]any, error) {
	iterate, err := models.ParseIterateParams(target.Params)
	if err != nil {
		return nil, withRef(err, target)
	}

	positions, dangling := resolvePositions(ix, target, BodyBranch, iterate.HasBodyPositions, iterate.BodyPositions, iterate.Body)

	iterate.BodyPositions = positions
	iterate.HasBodyPositions = true

	report.Branches = append(report.Branches, BranchReport{
		Name:          BodyBranch,
		Positions:     positions,
		ResolvedCount: len(positions),
		Dangling:      dangling,
	})

	return iterate.EncodeInto(target.Params), nil
}

// resolvePositions expands a declared spec when present, and otherwise
// filters the stored positions down to existing nodes. The owning node is
// never its own child.
func resolvePositions(ix *graph.Index, owner *models.Node, branch string, hasPositions bool, stored []int, spec *models.RefSpec) ([]int, []*models.DanglingReferenceError) {
	var (
		positions []int
		missing   []string
	)

	switch {
	case spec != nil:
		positions, missing = ix.Expand(spec)
	case hasPositions:
		var absent []int

		positions, absent = ix.Existing(stored)
		for _, position := range absent {
			missing = append(missing, strconv.Itoa(position))
		}
	default:
		positions = make([]int, 0)
	}

	positions = slices.DeleteFunc(positions, func(position int) bool {
		return position == owner.Position
	})

	dangling := make([]*models.DanglingReferenceError, 0, len(missing))
	for _, ref := range missing {
		dangling = append(dangling, &models.DanglingReferenceError{
			NodePosition: owner.Position,
			NodeAlias:    owner.Alias,
			Branch:       branch,
			Reference:    ref,
		})
	}

	return positions, dangling
}

// tagChildren sets _parent_position on every resolved child that is not a
// container and does not already point at the owner.
func (r *Resolver) tagChildren(ctx context.Context, workflowID string, owner *models.Node, ix *graph.Index, report *Report) error {
	seen := make(map[int]bool)

	for _, branch := range report.Branches {
		for _, position := range branch.Positions {
			if seen[position] {
				continue
			}

			seen[position] = true

			child, ok := ix.ByPosition(position)
			if !ok || child.Type.IsContainer() {
				continue
			}

			if current, has := child.ParentPosition(); has && current == owner.Position {
				continue
			} else if has {
				r.logger.WarnContext(ctx, "re-parenting child",
					"workflow_id", workflowID, "child", position, "from", current, "to", owner.Position)
			}

			updated := child.Clone()
			updated.SetParentPosition(owner.Position)

			if err := r.nodes.SaveNode(ctx, workflowID, updated); err != nil {
				return fmt.Errorf("failed to tag node %d with parent %d: %w", position, owner.Position, err)
			}

			report.Tagged = append(report.Tagged, position)
		}
	}

	return nil
}

func (r *Resolver) publish(ctx context.Context, report *Report) {
	if r.publisher == nil {
		return
	}

	branches := make(map[string][]int, len(report.Branches))
	for _, branch := range report.Branches {
		branches[branch.Name] = branch.Positions
	}

	event := events.NodesResolved{
		BaseEvent: events.NewBaseEvent(events.NodesResolvedEvent, report.WorkflowID),
		NodeUUID:  report.NodeUUID,
		Position:  report.Position,
		NodeType:  report.Type,
		Branches:  branches,
		Tagged:    len(report.Tagged),
		Written:   report.Written,
	}

	if err := r.publisher.Publish(ctx, report.WorkflowID, event); err != nil {
		r.logger.ErrorContext(ctx, "failed to publish resolution event", "workflow_id", report.WorkflowID, "error", err)
	}
}

func withRef(err error, node *models.Node) error {
	if verr, ok := err.(*models.ValidationError); ok && verr.Ref == "" {
		verr.Ref = node.Alias
	}

	return err
}
