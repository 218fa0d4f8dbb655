// Package renumber reassigns node positions to the preorder of the
// workflow's control-flow forest and rewrites every reference to match.
package renumber

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
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

// Change documents one node whose position moved.
type Change = models.PositionChange

const defaultMaxRetries = 3

// Service renumbers workflows.
type Service struct {
	nodes      persistence.NodeRepository
	builder    *graph.Builder
	locker     lock.Locker
	publisher  eventbus.EventPublisher
	tracer     trace.Tracer
	metrics    *metrics.Metrics
	logger     *slog.Logger
	maxRetries uint64
	retryDelay time.Duration
}

type Option func(*Service)

func WithLocker(locker lock.Locker) Option {
	return func(s *Service) { s.locker = locker }
}

func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(s *Service) { s.publisher = publisher }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) { s.tracer = tracer }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithRetry sets how many times a single node update is retried and the
// initial delay between attempts.
func WithRetry(maxRetries uint64, initial time.Duration) Option {
	return func(s *Service) {
		s.maxRetries = maxRetries
		s.retryDelay = initial
	}
}

// New creates a renumbering service.
func New(nodes persistence.NodeRepository, opts ...Option) *Service {
	s := &Service{
		nodes:      nodes,
		locker:     lock.NewLocal(),
		tracer:     otelhelper.NoopTracer(),
		logger:     slog.Default(),
		maxRetries: defaultMaxRetries,
		retryDelay: 50 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.logger = s.logger.With("module", "renumber")
	s.builder = graph.NewBuilder(s.logger)

	return s
}

// RenumberPreorder assigns positions 1..N in preorder and rewrites branch,
// body and parent references. Only moved nodes are returned. A failure
// after the first write is a PartialRenumberError: the caller must re-read
// the workflow.
func (s *Service) RenumberPreorder(ctx context.Context, workflowID string) (changes []Change, err error) {
	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "renumber.preorder",
		attribute.String(otelhelper.WorkflowIDKey, workflowID),
	)
	defer span.End()

	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "error"
			otelhelper.SetError(span, err)
		}

		span.SetAttributes(attribute.Int(otelhelper.ChangesKey, len(changes)))
		s.metrics.RecordRenumber(outcome, len(changes))
	}()

	release, err := s.locker.Acquire(ctx, lock.WorkflowKey(workflowID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock workflow %s: %w", workflowID, err)
	}

	defer func() {
		if releaseErr := release(context.WithoutCancel(ctx)); releaseErr != nil {
			s.logger.WarnContext(ctx, "failed to release workflow lock", "error", releaseErr)
		}
	}()

	nodes, err := s.nodes.ListNodes(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	plan, err := s.plan(nodes)
	if err != nil {
		return nil, err
	}

	if len(plan.changes) == 0 {
		s.logger.InfoContext(ctx, "workflow already in preorder", "workflow_id", workflowID, "nodes", len(nodes))

		return plan.changes, nil
	}

	applied, err := s.applyPositions(ctx, workflowID, plan)
	if err != nil {
		return nil, err
	}

	if err := s.rewriteReferences(ctx, workflowID, plan, applied); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "workflow renumbered", "workflow_id", workflowID, "changes", len(plan.changes))
	s.publish(ctx, workflowID, plan.changes)

	return plan.changes, nil
}

// Preview computes the changes RenumberPreorder would apply without writing.
func (s *Service) Preview(ctx context.Context, workflowID string) ([]Change, error) {
	nodes, err := s.nodes.ListNodes(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	plan, err := s.plan(nodes)
	if err != nil {
		return nil, err
	}

	return plan.changes, nil
}

type renumberPlan struct {
	order   []*models.Node
	index   *graph.Index
	mapping map[int]int
	changes []Change
	newOf   map[string]int
}

func (s *Service) plan(nodes []*models.Node) (*renumberPlan, error) {
	forest, err := s.builder.Build(nodes)
	if err != nil {
		return nil, err
	}

	order, err := forest.Preorder()
	if err != nil {
		return nil, err
	}

	plan := &renumberPlan{
		order:   order,
		index:   forest.Index,
		mapping: make(map[int]int, len(order)),
		changes: make([]Change, 0),
		newOf:   make(map[string]int, len(order)),
	}

	for i, node := range order {
		position := i + 1
		plan.mapping[node.Position] = position
		plan.newOf[node.UUID] = position

		if node.Position != position {
			plan.changes = append(plan.changes, Change{
				ID:          node.UUID,
				OldPosition: node.Position,
				NewPosition: position,
			})
		}
	}

	return plan, nil
}

// applyPositions moves every changed node in two passes: first to a unique
// negative slot, then to its final position, so no single update collides
// with a position still held by another node.
func (s *Service) applyPositions(ctx context.Context, workflowID string, plan *renumberPlan) (int, error) {
	applied := 0

	for _, pass := range []func(Change) int{
		func(c Change) int { return -c.NewPosition },
		func(c Change) int { return c.NewPosition },
	} {
		for _, change := range plan.changes {
			if err := s.updatePosition(ctx, workflowID, change.ID, pass(change)); err != nil {
				s.logger.ErrorContext(ctx, "renumbering stopped",
					"workflow_id", workflowID, "node", change.ID, "applied", applied, "error", err)

				return applied, &models.PartialRenumberError{
					WorkflowID: workflowID,
					Applied:    applied,
					Failed:     change.ID,
					Cause:      err,
				}
			}

			applied++
		}
	}

	return applied, nil
}

func (s *Service) updatePosition(ctx context.Context, workflowID, nodeUUID string, position int) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.retryDelay

	return backoff.Retry(func() error {
		err := s.nodes.UpdatePosition(ctx, workflowID, nodeUUID, position)
		if err != nil && (persistence.IsDuplicateNode(err) || models.IsNotFound(err)) {
			return backoff.Permanent(err)
		}

		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, s.maxRetries), ctx))
}

func (s *Service) rewriteReferences(ctx context.Context, workflowID string, plan *renumberPlan, applied int) error {
	for _, node := range plan.order {
		params := s.rewriteParams(ctx, node, plan)
		if models.ParamsEqual(params, node.Params) {
			continue
		}

		updated := node.Clone()
		updated.Position = plan.newOf[node.UUID]
		updated.Params = params

		if err := s.nodes.SaveNode(ctx, workflowID, updated); err != nil {
			return &models.PartialRenumberError{WorkflowID: workflowID, Applied: applied, Failed: node.UUID, Cause: err}
		}

		applied++
	}

	return nil
}

func (s *Service) rewriteParams(ctx context.Context, node *models.Node, plan *renumberPlan) map[string]any {
	params := node.Params

	switch node.Type {
	case models.NodeTypeRoute:
		route, err := models.ParseRouteParams(node.Params)
		if err != nil {
			s.logger.WarnContext(ctx, "leaving malformed route params untouched", "position", node.Position, "error", err)

			break
		}

		for i := range route.Branches {
			branch := &route.Branches[i]
			if branch.Err != nil {
				continue
			}

			if branch.HasPositions {
				branch.Positions = s.remap(ctx, node, branch.Positions, plan.mapping)
			}

			branch.Spec = rewriteSpec(branch.Spec, plan)
		}

		params = route.EncodeInto(node.Params)
	case models.NodeTypeIterate:
		iterate, err := models.ParseIterateParams(node.Params)
		if err != nil {
			s.logger.WarnContext(ctx, "leaving malformed iterate params untouched", "position", node.Position, "error", err)

			break
		}

		if iterate.HasBodyPositions {
			iterate.BodyPositions = s.remap(ctx, node, iterate.BodyPositions, plan.mapping)
		}

		iterate.Body = rewriteSpec(iterate.Body, plan)
		params = iterate.EncodeInto(node.Params)
	}

	if parent, ok := node.ParentPosition(); ok {
		if newParent, known := plan.mapping[parent]; known {
			params, _ = models.CloneValue(params).(map[string]any)
			params[models.ParentPositionKey] = newParent
		}
	}

	return params
}

// remap translates old positions to new ones. Positions that no longer
// name a node are dropped so they cannot start pointing at a different node.
func (s *Service) remap(ctx context.Context, owner *models.Node, positions []int, mapping map[int]int) []int {
	out := make([]int, 0, len(positions))

	for _, position := range positions {
		newPosition, ok := mapping[position]
		if !ok {
			s.logger.WarnContext(ctx, "dropping dangling position", "node", owner.Position, "reference", position)

			continue
		}

		out = append(out, newPosition)
	}

	return out
}

// rewriteSpec maps position references of a list spec. A range is
// materialized into the explicit list of its members' new positions, since
// preorder positions of a former range need not be contiguous.
func rewriteSpec(spec *models.RefSpec, plan *renumberPlan) *models.RefSpec {
	if spec == nil {
		return nil
	}

	switch spec.Kind {
	case models.SpecList:
		refs := make([]models.NodeRef, 0, len(spec.Refs))

		for _, ref := range spec.Refs {
			if ref.Kind != models.RefPosition {
				refs = append(refs, ref)

				continue
			}

			if newPosition, ok := plan.mapping[ref.Position]; ok {
				refs = append(refs, models.PositionRef(newPosition))
			}
		}

		return &models.RefSpec{Kind: models.SpecList, Refs: refs}
	case models.SpecRange:
		members, _ := plan.index.Expand(spec)
		refs := make([]models.NodeRef, 0, len(members))

		for _, position := range members {
			if newPosition, ok := plan.mapping[position]; ok {
				refs = append(refs, models.PositionRef(newPosition))
			}
		}

		return &models.RefSpec{Kind: models.SpecList, Refs: refs}
	default:
		return spec
	}
}

func (s *Service) publish(ctx context.Context, workflowID string, changes []Change) {
	if s.publisher == nil {
		return
	}

	event := events.WorkflowRenumbered{
		BaseEvent: events.NewBaseEvent(events.WorkflowRenumberedEvent, workflowID),
		Changes:   changes,
	}

	if err := s.publisher.Publish(ctx, workflowID, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish renumber event", "workflow_id", workflowID, "error", err)
	}
}
