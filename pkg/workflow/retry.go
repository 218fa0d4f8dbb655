package workflow

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/director/pkg/models"
)

const defaultRetryInterval = 200 * time.Millisecond

// retryPolicy is the per-node retry declared in params.retry as
// {maxAttempts, initialInterval}. initialInterval is a duration string or a
// number of milliseconds.
type retryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
}

func parseRetry(node *models.Node) (retryPolicy, error) {
	policy := retryPolicy{MaxAttempts: 1, InitialInterval: defaultRetryInterval}

	raw, ok := node.Params[models.ParamRetry]
	if !ok || raw == nil {
		return policy, nil
	}

	spec, ok := raw.(map[string]any)
	if !ok {
		return policy, &models.ValidationError{Ref: node.Alias, Field: models.ParamRetry, Message: "must be an object"}
	}

	if attempts, ok := spec["maxAttempts"]; ok {
		value, isInt := models.AsInt(attempts)
		if !isInt || value <= 0 {
			return policy, &models.ValidationError{Ref: node.Alias, Field: "retry.maxAttempts", Message: "must be a positive integer"}
		}

		policy.MaxAttempts = value
	}

	switch interval := spec["initialInterval"].(type) {
	case nil:
	case string:
		parsed, err := time.ParseDuration(interval)
		if err != nil || parsed < 0 {
			return policy, &models.ValidationError{Ref: node.Alias, Field: "retry.initialInterval", Message: "must be a duration"}
		}

		policy.InitialInterval = parsed
	default:
		ms, isInt := models.AsInt(interval)
		if !isInt || ms < 0 {
			return policy, &models.ValidationError{Ref: node.Alias, Field: "retry.initialInterval", Message: "must be a duration"}
		}

		policy.InitialInterval = time.Duration(ms) * time.Millisecond
	}

	return policy, nil
}

func (p retryPolicy) backOff() backoff.BackOff {
	exponential := backoff.NewExponentialBackOff()
	exponential.InitialInterval = p.InitialInterval
	exponential.MaxElapsedTime = 0

	return backoff.WithMaxRetries(exponential, uint64(p.MaxAttempts-1))
}
