// Package tx runs unit-of-work functions with bounded retry on transient
// persistence errors.
package tx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/viant/gatekeeper/metrics"
	"github.com/viant/gatekeeper/service/dao"
)

// ErrRetriesExhausted wraps the last transient error once all attempts fail.
var ErrRetriesExhausted = errors.New("tx: retries exhausted")

// Policy controls how a Runner retries.
type Policy struct {
	// MaxAttempts is the total number of attempts including the first one.
	MaxAttempts int
	// Delay is the fixed pause between attempts.
	Delay time.Duration
	// Retryable classifies errors; defaults to dao.IsTransient.
	Retryable func(error) bool
}

// DefaultPolicy returns 3 attempts one second apart on write conflicts.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, Delay: time.Second, Retryable: dao.IsTransient}
}

// Runner executes functions under a retry Policy.
type Runner struct {
	policy Policy
	logger zerolog.Logger
}

// Option customises a Runner.
type Option func(*Runner)

// WithLogger sets the retry logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// New creates a Runner. Unset MaxAttempts or Retryable fall back to
// DefaultPolicy; a zero Delay retries immediately.
func New(policy Policy, opts ...Option) *Runner {
	defaults := DefaultPolicy()
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = defaults.MaxAttempts
	}
	if policy.Delay < 0 {
		policy.Delay = defaults.Delay
	}
	if policy.Retryable == nil {
		policy.Retryable = defaults.Retryable
	}
	ret := &Runner{policy: policy, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// Policy returns the effective policy.
func (r *Runner) Policy() Policy {
	return r.policy
}

// Run calls fn until it succeeds, returns a non-retryable error, or the
// attempts are used up. Each attempt must re-read whatever it mutates.
func (r *Runner) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !r.policy.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(r.policy.Delay), uint64(r.policy.MaxAttempts-1)),
		ctx,
	)
	notify := func(err error, wait time.Duration) {
		metrics.RecordRetry()
		r.logger.Debug().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("retrying transaction")
	}
	err := backoff.RetryNotify(operation, policy, notify)
	if err == nil {
		return nil
	}
	if r.policy.Retryable(err) {
		r.logger.Warn().Err(err).Int("attempts", attempt).Msg("transaction retries exhausted")
		return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, err)
	}
	return err
}
