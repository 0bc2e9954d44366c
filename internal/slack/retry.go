package slack

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/slack-go/slack"
	"golang.org/x/time/rate"
)

// RetryPolicy bounds how transient failures are retried.
type RetryPolicy struct {
	MaxAttempts       int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	DefaultRetryAfter time.Duration
}

// DefaultRetryPolicy retries transient failures five times with 1s, 2s, 4s, 8s
// backoff and waits 1s on a rate limit without a Retry-After hint.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       5,
		BaseDelay:         time.Second,
		MaxDelay:          8 * time.Second,
		DefaultRetryAfter: time.Second,
	}
}

// Backoff returns the delay before the retry that follows the given failed
// attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

type sleepFunc func(ctx context.Context, d time.Duration) error

// retrier runs Web API calls under the retry policy and the client side pacer.
type retrier struct {
	policy  RetryPolicy
	limiter *rate.Limiter
	sleep   sleepFunc
	logger  *slog.Logger
}

func newRetrier(policy RetryPolicy, perMinute int, logger *slog.Logger) *retrier {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.DefaultRetryAfter <= 0 {
		policy.DefaultRetryAfter = time.Second
	}
	return &retrier{
		policy:  policy,
		limiter: rate.NewLimiter(limit, 1),
		sleep:   waitWithContext,
		logger:  logger,
	}
}

// do calls fn until it succeeds, fails terminally or the attempt budget runs
// out. Rate limited responses wait as instructed and do not consume attempts.
func (r *retrier) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempt := 0
	for {
		if err := r.limiter.Wait(ctx); err != nil {
			return &CallError{Op: op, Attempts: attempt, Err: ctxErr(ctx, err)}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return &CallError{Op: op, Attempts: attempt + 1, Err: ctx.Err()}
		}

		if wait, limited := r.rateLimited(err); limited {
			r.logger.Warn("slack rate limited, waiting", "op", op, "retry_after", wait)
			if err := r.sleep(ctx, wait); err != nil {
				return &CallError{Op: op, Code: CodeRateLimited, Status: http.StatusTooManyRequests, Attempts: attempt + 1, Err: err}
			}
			continue
		}

		attempt++
		code, status, transient := classify(err)
		if !transient {
			return &CallError{Op: op, Code: code, Status: status, Attempts: attempt, Err: err}
		}
		if attempt >= r.policy.MaxAttempts {
			r.logger.Error("slack call failed, giving up", "op", op, "attempts", attempt, "error", err)
			return &CallError{Op: op, Code: code, Status: status, Attempts: attempt, Err: err}
		}

		delay := r.policy.Backoff(attempt)
		r.logger.Warn("slack call failed, retrying", "op", op, "attempt", attempt, "delay", delay, "error", err)
		if err := r.sleep(ctx, delay); err != nil {
			return &CallError{Op: op, Code: code, Status: status, Attempts: attempt, Err: err}
		}
	}
}

func (r *retrier) rateLimited(err error) (time.Duration, bool) {
	var rl *slack.RateLimitedError
	if errors.As(err, &rl) {
		if rl.RetryAfter > 0 {
			return rl.RetryAfter, true
		}
		return r.policy.DefaultRetryAfter, true
	}
	var apiErr slack.SlackErrorResponse
	if errors.As(err, &apiErr) && apiErr.Err == CodeRateLimited {
		return r.policy.DefaultRetryAfter, true
	}
	return 0, false
}

// classify splits failures into terminal API rejections and transient faults.
func classify(err error) (code string, status int, transient bool) {
	var apiErr slack.SlackErrorResponse
	if errors.As(err, &apiErr) {
		return apiErr.Err, http.StatusOK, false
	}
	var statusErr slack.StatusCodeError
	if errors.As(err, &statusErr) {
		return "", statusErr.Code, statusErr.Code >= http.StatusInternalServerError
	}
	// Transport and decoding failures.
	return "", 0, true
}

func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
