// Package reconcile periodically re-resolves every route and iterate node so
// symbolic references catch up with node edits made since the last write.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/director/pkg/persistence"
	"github.com/dukex/director/pkg/protocol"
	"github.com/dukex/director/pkg/resolver"
	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs a pass every five minutes.
const DefaultSchedule = "@every 5m"

// Summary is the outcome of one reconciliation pass.
type Summary struct {
	Workflows int                              `json:"workflows"`
	Resolved  int                              `json:"resolved"`
	Written   int                              `json:"written"`
	Failed    int                              `json:"failed"`
	Reports   map[string]*resolver.BatchReport `json:"reports"`
	Duration  time.Duration                    `json:"duration"`
}

var _ protocol.Lifecycle = (*Reconciler)(nil)

// Reconciler runs ResolveAll over every stored workflow on a cron schedule.
type Reconciler struct {
	workflows persistence.WorkflowRepository
	resolver  *resolver.Resolver
	schedule  string
	logger    *slog.Logger

	mu     sync.Mutex
	cron   *cron.Cron
	entry  cron.EntryID
	cancel context.CancelFunc
}

// New creates a reconciler. An empty schedule uses DefaultSchedule; the
// schedule accepts standard five-field cron expressions and descriptors
// such as @hourly or @every 30s.
func New(workflows persistence.WorkflowRepository, r *resolver.Resolver, schedule string, logger *slog.Logger) (*Reconciler, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}

	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid reconcile schedule %q: %w", schedule, err)
	}

	return &Reconciler{
		workflows: workflows,
		resolver:  r,
		schedule:  schedule,
		logger:    logger.With("module", "reconciler"),
	}, nil
}

// Start schedules the passes. It returns immediately.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cron != nil {
		return errors.New("reconciler already started")
	}

	ctx, r.cancel = context.WithCancel(ctx)

	r.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	entry, err := r.cron.AddFunc(r.schedule, func() {
		if _, err := r.RunOnce(ctx); err != nil {
			r.logger.ErrorContext(ctx, "reconciliation pass failed", "error", err)
		}
	})
	if err != nil {
		r.cancel()
		r.cron = nil

		return fmt.Errorf("failed to schedule reconciliation: %w", err)
	}

	r.entry = entry
	r.cron.Start()

	r.logger.InfoContext(ctx, "reconciler started", "schedule", r.schedule)

	return nil
}

// Stop cancels a running pass and waits for it, or for ctx, to finish.
func (r *Reconciler) Stop(ctx context.Context) error {
	r.mu.Lock()
	scheduler, cancel := r.cron, r.cancel
	r.cron, r.cancel = nil, nil
	r.mu.Unlock()

	if scheduler == nil {
		return nil
	}

	cancel()

	select {
	case <-scheduler.Stop().Done():
		r.logger.InfoContext(ctx, "reconciler stopped")

		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next returns the time of the next scheduled pass, zero when stopped.
func (r *Reconciler) Next() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cron == nil {
		return time.Time{}
	}

	return r.cron.Entry(r.entry).Next
}

// RunOnce resolves every workflow once. Per-node failures are counted in the
// summary; the returned error joins the workflows that could not be
// resolved at all.
func (r *Reconciler) RunOnce(ctx context.Context) (*Summary, error) {
	started := time.Now()

	workflows, err := r.workflows.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	summary := &Summary{Workflows: len(workflows), Reports: make(map[string]*resolver.BatchReport, len(workflows))}

	var errs []error

	for _, workflow := range workflows {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)

			break
		}

		batch, err := r.resolver.ResolveAll(ctx, workflow.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("workflow %s: %w", workflow.ID, err))

			continue
		}

		summary.Reports[workflow.ID] = batch
		summary.Resolved += len(batch.Reports)
		summary.Failed += len(batch.Errors)

		for _, report := range batch.Reports {
			if report.Written {
				summary.Written++
			}
		}
	}

	summary.Duration = time.Since(started)

	r.logger.InfoContext(ctx, "reconciliation pass finished",
		"workflows", summary.Workflows,
		"resolved", summary.Resolved,
		"written", summary.Written,
		"failed", summary.Failed,
		"duration", summary.Duration,
	)

	return summary, errors.Join(errs...)
}
