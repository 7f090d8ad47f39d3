package llm

import (
	"context"
	"log"
	"math"
	"time"

	"patchloop/internal/config"
)

// RetryPolicy wraps completion calls with bounded exponential backoff.
// Client errors (4xx other than 429) fail immediately; everything else is
// treated as transient until the attempt budget runs out.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Factor      float64

	sleep func(time.Duration) // swapped in tests
}

// NewRetryPolicy builds a policy from configuration, applying the defaults
// for unset fields.
func NewRetryPolicy(cfg config.RetryConfig) *RetryPolicy {
	p := &RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   time.Duration(cfg.BaseDelaySecs * float64(time.Second)),
		Factor:      cfg.Factor,
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 5
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.Factor <= 0 {
		p.Factor = 2.0
	}
	return p
}

// Do invokes fn until it succeeds, a non-retryable error surfaces, the
// context is cancelled, or MaxAttempts is exhausted, in which case the last
// error propagates.
func (p *RetryPolicy) Do(ctx context.Context, fn func() (string, error)) (string, error) {
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		out, err := fn()
		if err == nil {
			return out, nil
		}

		if status := StatusOf(err); status >= 400 && status < 500 && status != 429 {
			log.Printf("[retry] non-retryable HTTP %d: %v", status, err)
			return "", err
		}

		lastErr = err
		if attempt == p.MaxAttempts {
			break
		}

		delay := time.Duration(float64(p.BaseDelay) * math.Pow(p.Factor, float64(attempt-1)))
		log.Printf("[retry] attempt %d/%d failed: %v, retrying in %s",
			attempt, p.MaxAttempts, err, delay)

		if err := p.wait(ctx, delay); err != nil {
			return "", err
		}
	}

	log.Printf("[retry] max attempts reached: %v", lastErr)
	return "", lastErr
}

func (p *RetryPolicy) wait(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		p.sleep(d)
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
