// Package providers holds concrete LLMProvider implementations (§4.2, §6).
package providers

import (
	"context"
	"time"

	"github.com/haasonsaas/nexus-runtime/internal/backoff"
	"github.com/haasonsaas/nexus-runtime/pkg/models"
)

// BaseProvider holds the retry policy shared by every concrete provider.
// Only errors classified LlmTransient are retried (§4.12); Cancelled
// short-circuits immediately.
type BaseProvider struct {
	name   string
	policy backoff.BackoffPolicy
	maxTry int
}

// NewBaseProvider creates a base provider with the given retry policy.
// maxRetries <= 0 defaults to 3.
func NewBaseProvider(name string, maxRetries int, policy backoff.BackoffPolicy) BaseProvider {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return BaseProvider{name: name, policy: policy, maxTry: maxRetries}
}

// Name returns the provider's name.
func (b *BaseProvider) Name() string { return b.name }

// Retry runs op, retrying with exponential backoff while the returned
// error is a *models.RuntimeError with Code == LlmTransient.
func (b *BaseProvider) Retry(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 1; attempt <= b.maxTry; attempt++ {
		if ctx.Err() != nil {
			return models.NewRuntimeError(models.Cancelled, "context canceled before retry", ctx.Err())
		}
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err

		re, ok := err.(*models.RuntimeError)
		if !ok || !re.IsRetryable() || attempt >= b.maxTry {
			return err
		}

		delay := backoff.ComputeBackoff(b.policy, attempt)
		select {
		case <-ctx.Done():
			return models.NewRuntimeError(models.Cancelled, "context canceled during retry backoff", ctx.Err())
		case <-time.After(delay):
		}
	}
	return lastErr
}
