// Package retry runs an operation with bounded exponential backoff. Only
// errors that [apperr.Retryable] reports as transient are retried; anything
// else is returned immediately.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/54b3r/studyai-go/internal/apperr"
	"github.com/54b3r/studyai-go/internal/logging"
)

// Policy bounds the number and spacing of attempts.
type Policy struct {
	// MaxAttempts is the total number of calls, including the first.
	// Defaults to 3 if zero or negative.
	MaxAttempts int
	// InitialInterval is the delay before the first retry. Defaults to 200ms.
	InitialInterval time.Duration
	// MaxInterval caps the delay between retries. Defaults to 5s.
	MaxInterval time.Duration
}

// DefaultPolicy is three attempts starting at 200ms.
var DefaultPolicy = Policy{MaxAttempts: 3, InitialInterval: 200 * time.Millisecond, MaxInterval: 5 * time.Second}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultPolicy.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = DefaultPolicy.InitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = DefaultPolicy.MaxInterval
	}
	return p
}

// Do calls op until it succeeds, returns a non-retryable error, the policy is
// exhausted, or ctx is done. The last error from op is returned.
func Do(ctx context.Context, p Policy, name string, op func(ctx context.Context) error) error {
	p = p.withDefaults()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.MaxInterval = p.MaxInterval
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.MaxAttempts-1)), ctx) //nolint:gosec // bounded above

	attempt := 0
	var last error
	err := backoff.RetryNotify(func() error {
		attempt++
		last = op(ctx)
		if last != nil && !apperr.Retryable(last) {
			return backoff.Permanent(last)
		}
		return last
	}, b, func(err error, wait time.Duration) {
		logging.FromContext(ctx).Warn("retry: transient failure",
			slog.String("op", name),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.Any("error", err),
		)
	})
	if err != nil && last != nil {
		return last
	}
	return err
}
