// Package rediscache caches workflow variable trees in Redis in front of
// another VariableRepository.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/director/pkg/events"
	"github.com/dukex/director/pkg/persistence"
	redis "github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long a cached tree may outlive a write made by a
// process not going through the cache.
const DefaultTTL = 10 * time.Minute

const keyPrefix = "director:variables:"

// Variables is a read-through cache. Writes go to the backing repository
// first and then invalidate the cached entry.
type Variables struct {
	next   persistence.VariableRepository
	client redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

func NewVariables(next persistence.VariableRepository, client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *Variables {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Variables{
		next:   next,
		client: client,
		ttl:    ttl,
		logger: logger.With("module", "variable_cache"),
	}
}

func key(workflowID string) string {
	return keyPrefix + workflowID
}

// GetVariables serves the tree from Redis, loading and caching it on a miss.
// Redis failures degrade to the backing repository.
func (v *Variables) GetVariables(ctx context.Context, workflowID string) (map[string]any, error) {
	raw, err := v.client.Get(ctx, key(workflowID)).Bytes()

	switch {
	case err == nil:
		var variables map[string]any
		if err := json.Unmarshal(raw, &variables); err == nil && variables != nil {
			return variables, nil
		}

		v.logger.WarnContext(ctx, "discarding unreadable cache entry", "workflow_id", workflowID)
	case !errors.Is(err, redis.Nil):
		v.logger.WarnContext(ctx, "variable cache unavailable", "workflow_id", workflowID, "error", err)

		return v.next.GetVariables(ctx, workflowID)
	}

	variables, err := v.next.GetVariables(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(variables)
	if err != nil {
		return nil, fmt.Errorf("failed to encode variables of workflow %s: %w", workflowID, err)
	}

	if err := v.client.Set(ctx, key(workflowID), encoded, v.ttl).Err(); err != nil {
		v.logger.WarnContext(ctx, "failed to fill variable cache", "workflow_id", workflowID, "error", err)
	}

	return variables, nil
}

// SaveVariables writes through to the backing repository and drops the
// cached tree.
func (v *Variables) SaveVariables(ctx context.Context, workflowID string, variables map[string]any) error {
	if err := v.next.SaveVariables(ctx, workflowID, variables); err != nil {
		return err
	}

	if err := v.client.Del(ctx, key(workflowID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate variable cache of workflow %s: %w", workflowID, err)
	}

	return nil
}

// Invalidate drops the cached tree of a workflow.
func (v *Variables) Invalidate(ctx context.Context, workflowID string) error {
	return v.client.Del(ctx, key(workflowID)).Err()
}

// Persistence decorates a persistence backend so VariableRepository returns
// the cache.
type Persistence struct {
	persistence.Persistence

	variables *Variables
}

func Wrap(backend persistence.Persistence, client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *Persistence {
	return &Persistence{
		Persistence: backend,
		variables:   NewVariables(backend.VariableRepository(), client, ttl, logger),
	}
}

func (p *Persistence) VariableRepository() persistence.VariableRepository {
	return p.variables
}

// Cache returns the variable cache, for invalidation from event handlers.
func (p *Persistence) Cache() *Variables {
	return p.variables
}

// HandleVariableUpdated is an event handler dropping the cached tree of the
// workflow named by a VariableUpdated event, so writes made by other
// instances become visible before the TTL expires.
func (v *Variables) HandleVariableUpdated(ctx context.Context, event any) error {
	updated, ok := event.(*events.VariableUpdated)
	if !ok {
		return fmt.Errorf("unexpected event %T", event)
	}

	return v.Invalidate(ctx, updated.WorkflowID)
}
