package sources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/ces0491/isrc-meta-data-finder/internal/apperrors"
	"github.com/ces0491/isrc-meta-data-finder/internal/logging"
)

// RateLimitError carries the wait a provider asked for, when it said.
type RateLimitError struct {
	RetryAfter time.Duration
	Detail     string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: %s (retry after %s)", apperrors.ErrSourceRateLimited, e.Detail, e.RetryAfter)
	}
	return fmt.Sprintf("%s: %s", apperrors.ErrSourceRateLimited, e.Detail)
}

func (e *RateLimitError) Unwrap() error { return apperrors.ErrSourceRateLimited }

// Call runs op under the provider's limiter and retry policy.
//
// Every attempt waits for a limiter token and runs under the per-call timeout.
// Rate limits and transient unavailability are retried with jittered
// exponential backoff, stretched to any Retry-After the provider sent. An auth
// failure triggers at most one refresh followed by one retry. Timeouts and
// everything else end the call.
func Call[T any](ctx context.Context, s Settings, component string, refresh func(context.Context) error, op func(context.Context) (T, error)) (T, error) {
	policy := newRetryAfterBackOff(s)
	refreshed := false
	attempt := 0

	operation := func() (T, error) {
		var zero T
		attempt++
		if err := s.Limiter.Wait(ctx); err != nil {
			return zero, backoff.Permanent(apperrors.Wrap(apperrors.ErrSourceTimeout, component, "rate limiter", "no token before deadline", err))
		}

		callCtx, cancel := context.WithTimeout(ctx, s.Timeout)
		defer cancel()
		v, err := op(callCtx)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return zero, backoff.Permanent(apperrors.Wrap(apperrors.ErrSourceTimeout, component, "fetch", "aggregation deadline reached", ctx.Err()))
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return zero, backoff.Permanent(apperrors.Wrap(apperrors.ErrSourceTimeout, component, "fetch", fmt.Sprintf("no response within %s", s.Timeout), err))
		}

		switch {
		case errors.Is(err, apperrors.ErrSourceAuth):
			if refresh == nil || refreshed {
				return zero, backoff.Permanent(err)
			}
			refreshed = true
			if rerr := refresh(ctx); rerr != nil {
				return zero, backoff.Permanent(errors.Join(err, rerr))
			}
			s.Logger.Debug("credentials refreshed", logging.String(logging.FieldEventType, "auth_refresh"))
			return zero, err
		case errors.Is(err, apperrors.ErrSourceRateLimited):
			var rl *RateLimitError
			if errors.As(err, &rl) {
				policy.hint = rl.RetryAfter
			}
			return zero, err
		case errors.Is(err, apperrors.ErrSourceUnavailable):
			return zero, err
		default:
			return zero, backoff.Permanent(err)
		}
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(s.MaxRetries+1)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			s.Logger.Debug("retrying provider call",
				logging.String(logging.FieldEventType, "retry"),
				logging.Int("attempt", attempt),
				logging.Duration("wait", wait),
				slog.Any("error", err),
			)
		}),
	)
}

// retryAfterBackOff is exponential backoff with jitter that never waits less
// than the provider's Retry-After.
type retryAfterBackOff struct {
	inner *backoff.ExponentialBackOff
	hint  time.Duration
}

func newRetryAfterBackOff(s Settings) *retryAfterBackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = s.InitialBackoff
	exp.MaxInterval = s.MaxBackoff
	exp.Reset()
	return &retryAfterBackOff{inner: exp}
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	next := b.inner.NextBackOff()
	if next == backoff.Stop {
		return next
	}
	if b.hint > next {
		next = b.hint
	}
	b.hint = 0
	return next
}

func (b *retryAfterBackOff) Reset() {
	b.inner.Reset()
	b.hint = 0
}
