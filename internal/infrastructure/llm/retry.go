package llm

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy bounds the retry loop for non-streaming dispatches.
// Streaming requests never pass through Do; their errors surface directly.
type RetryPolicy struct {
	MaxAttempts  int           // total attempts including the first (default 3)
	InitialDelay time.Duration // first backoff delay (default 1s)
	MaxDelay     time.Duration // backoff cap (default 30s)
	Jitter       float64       // ± fraction applied to each delay (default 0.25)
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.Jitter <= 0 {
		p.Jitter = 0.25
	}
	return p
}

// Do runs fn with bounded exponential backoff. Only errors whose classified
// kind is retryable trigger another attempt; rate-limit errors double the
// base delay. The wait honors context cancellation.
func (p RetryPolicy) Do(ctx context.Context, provider string, logger *zap.Logger, fn func() error) error {
	p = p.withDefaults()

	var lastErr *Error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			wait := p.delay(attempt, lastErr.Kind)
			logger.Info("Retrying provider call",
				zap.String("provider", provider),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", p.MaxAttempts),
				zap.Duration("wait", wait),
				zap.Error(lastErr),
			)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return Classify(ctx.Err(), provider)
			}
		}

		err := fn()
		if err == nil {
			if attempt > 0 {
				logger.Info("Retry succeeded",
					zap.String("provider", provider),
					zap.Int("attempt", attempt),
				)
			}
			return nil
		}

		lastErr = Classify(err, provider)
		if !lastErr.Kind.IsRetryable() {
			return lastErr
		}
		logger.Warn("Provider call failed",
			zap.String("provider", provider),
			zap.Int("attempt", attempt),
			zap.String("kind", lastErr.Kind.String()),
			zap.Error(lastErr),
		)
	}
	return lastErr
}

// delay computes the backoff for the given attempt (1-based), with
// exponential growth, a cap, and ±Jitter randomization.
func (p RetryPolicy) delay(attempt int, kind ErrorKind) time.Duration {
	base := p.InitialDelay
	if kind == ErrKindRateLimited {
		base *= 2
	}

	d := base << uint(attempt-1)
	if d > p.MaxDelay {
		d = p.MaxDelay
	}

	// jitter in [1-J, 1+J]
	factor := 1 + p.Jitter*(2*rand.Float64()-1)
	d = time.Duration(float64(d) * factor)
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}
