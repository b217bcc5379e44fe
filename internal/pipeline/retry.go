package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/dgallion1/devistree/internal/extract"
)

const MaxRetries = 3

// IsRetryable checks if an error is worth retrying.
func IsRetryable(err error) bool {
	var retryErr *extract.RetryableError
	return errors.As(err, &retryErr)
}

// RetryPolicy bounds the attempts made for one extraction call.
type RetryPolicy struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

// DefaultRetry is used by workers unless overridden.
var DefaultRetry = RetryPolicy{Attempts: MaxRetries, Base: time.Second, Max: 30 * time.Second}

// Backoff returns a duration for attempt n (0-indexed) with jitter.
func Backoff(attempt int) time.Duration {
	return DefaultRetry.Backoff(attempt)
}

// Backoff doubles the base delay per attempt, caps it, then adds up to 50%
// jitter.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	base := p.Base << uint(min(attempt, 30))
	if base > p.Max || base <= 0 {
		base = p.Max
	}
	if base <= 0 {
		return 0
	}
	half := int64(base) / 2
	if half == 0 {
		return base
	}
	return base + time.Duration(rand.Int63n(half))
}

// Do runs fn until it succeeds, fails with a non-retryable error, runs out
// of attempts or ctx ends.
func (p RetryPolicy) Do(ctx context.Context, log *slog.Logger, fn func() error) error {
	attempts := max(p.Attempts, 1)
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(); err == nil || !IsRetryable(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}
		log.Warn("retryable extraction error", "attempt", attempt, "error", err)
		select {
		case <-time.After(p.Backoff(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
