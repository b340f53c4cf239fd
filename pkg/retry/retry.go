// Package retry drives repeated invocation of a fallible operation using the
// delays computed by package backoff.
package retry

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/petrijr/conduit/pkg/api"
	"github.com/petrijr/conduit/pkg/backoff"
)

// Operation is a single attempt. It may panic; panics are recovered and
// counted as failed attempts.
type Operation func(ctx context.Context) api.Outcome

// Execute invokes op until it succeeds, returns a non-recoverable failure or
// policy.MaxAttempts attempts have been made.
//
// Failures are reported as api.Fail(*api.MaxRetriesError). Exhausted is true
// when every attempt was used and false when a non-recoverable reason ended
// the loop early. If ctx is cancelled while waiting between attempts, the
// returned failure carries ctx.Err() as its reason.
func Execute(ctx context.Context, op Operation, policy api.RetryPolicy) api.Outcome {
	maxAttempts := policy.Attempts()

	var (
		timer *time.Timer
		prev  time.Duration
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for attempt := 1; ; attempt++ {
		out := invoke(ctx, op)
		if out.Succeeded() {
			return out
		}

		reason := out.Reason()
		if !policy.IsRecoverable(reason) {
			return api.Fail(&api.MaxRetriesError{Attempts: attempt, Reason: reason})
		}
		if attempt >= maxAttempts {
			return api.Fail(&api.MaxRetriesError{Attempts: attempt, Reason: reason, Exhausted: true})
		}

		delay := backoff.Next(policy.Backoff, attempt, prev)
		prev = delay
		if policy.OnRetry != nil {
			policy.OnRetry(reason, attempt, delay)
		}

		if delay <= 0 {
			if err := ctx.Err(); err != nil {
				return api.Fail(err)
			}
			continue
		}

		if timer == nil {
			timer = time.NewTimer(delay)
		} else {
			timer.Reset(delay)
		}
		select {
		case <-ctx.Done():
			return api.Fail(ctx.Err())
		case <-timer.C:
		}
	}
}

// Do retries a conventional Go function. It returns nil on success and the
// *api.MaxRetriesError (or ctx.Err()) otherwise.
func Do(ctx context.Context, fn func(ctx context.Context) error, policy api.RetryPolicy) error {
	out := Execute(ctx, func(ctx context.Context) api.Outcome {
		return api.FromError(nil, fn(ctx))
	}, policy)
	return out.Err()
}

func invoke(ctx context.Context, op Operation) (out api.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = api.Fail(&api.PanicError{Value: r, Stack: debug.Stack()})
		}
	}()
	return op(ctx)
}
