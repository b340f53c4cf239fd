package conduit

import (
	"time"

	"github.com/petrijr/conduit/pkg/backoff"
)

// RetryBuilder provides a fluent way to construct RetryPolicy values
// for use with Pipeline.StepWithRetry and WithRetry.
type RetryBuilder struct {
	policy RetryPolicy
}

// Retry creates a RetryBuilder with the given maxAttempts and the default
// exponential backoff (100ms doubling up to 30s).
//
// maxAttempts <= 0 is treated as 1 (no retries).
func Retry(maxAttempts int) RetryBuilder {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return RetryBuilder{
		policy: RetryPolicy{
			MaxAttempts: maxAttempts,
			Backoff:     backoff.DefaultSpec(),
		},
	}
}

func (r RetryBuilder) withSpec(spec backoff.Spec) RetryBuilder {
	p := r.policy
	spec.JitterFactor = p.Backoff.JitterFactor
	p.Backoff = spec
	return RetryBuilder{policy: p}
}

// WithExponentialBackoff configures exponential backoff:
//
//   - initial is the delay before the first retry.
//   - multiplier > 1 grows the delay each attempt (default 2.0 if <= 0).
//   - max caps the delay; if <= 0, there is no cap.
//
// Example:
//
//	Retry(3).WithExponentialBackoff(100*time.Millisecond, 2.0, 2*time.Second)
func (r RetryBuilder) WithExponentialBackoff(initial time.Duration, multiplier float64, max time.Duration) RetryBuilder {
	if multiplier <= 0 {
		multiplier = 2.0
	}
	return r.withSpec(backoff.Spec{
		Strategy:     backoff.Exponential,
		InitialDelay: initial,
		MaxDelay:     max,
		Multiplier:   multiplier,
	})
}

// WithLinearBackoff waits initial*attempt, capped at max.
func (r RetryBuilder) WithLinearBackoff(initial, max time.Duration) RetryBuilder {
	return r.withSpec(backoff.Spec{
		Strategy:     backoff.Linear,
		InitialDelay: initial,
		MaxDelay:     max,
	})
}

// WithConstantBackoff configures a constant backoff between retries.
func (r RetryBuilder) WithConstantBackoff(delay time.Duration) RetryBuilder {
	return r.withSpec(backoff.Spec{
		Strategy:     backoff.Constant,
		InitialDelay: delay,
		MaxDelay:     delay,
	})
}

// WithDecorrelatedJitter picks each delay at random between initial and
// three times the previous delay, capped at max.
func (r RetryBuilder) WithDecorrelatedJitter(initial, max time.Duration) RetryBuilder {
	return r.withSpec(backoff.Spec{
		Strategy:     backoff.Decorrelated,
		InitialDelay: initial,
		MaxDelay:     max,
	})
}

// WithFullJitter picks each delay at random between zero and the
// exponential delay.
func (r RetryBuilder) WithFullJitter(initial, max time.Duration) RetryBuilder {
	return r.withSpec(backoff.Spec{
		Strategy:     backoff.FullJitter,
		InitialDelay: initial,
		MaxDelay:     max,
	})
}

// WithEqualJitter keeps half of the exponential delay and randomizes the
// other half.
func (r RetryBuilder) WithEqualJitter(initial, max time.Duration) RetryBuilder {
	return r.withSpec(backoff.Spec{
		Strategy:     backoff.EqualJitter,
		InitialDelay: initial,
		MaxDelay:     max,
	})
}

// WithCustomBackoff delegates delay computation to fn. The result is not
// capped; fn is responsible for that.
func (r RetryBuilder) WithCustomBackoff(fn backoff.Func) RetryBuilder {
	return r.withSpec(backoff.Spec{
		Strategy: backoff.Custom,
		Func:     fn,
	})
}

// WithBackoff sets a complete backoff spec.
func (r RetryBuilder) WithBackoff(spec backoff.Spec) RetryBuilder {
	p := r.policy
	p.Backoff = spec
	return RetryBuilder{policy: p}
}

// WithJitter perturbs every delay by up to ±factor of its value.
func (r RetryBuilder) WithJitter(factor float64) RetryBuilder {
	p := r.policy
	p.Backoff.JitterFactor = factor
	return RetryBuilder{policy: p}
}

// Immediate disables any sleep between retries.
// Retries will still respect MaxAttempts.
func (r RetryBuilder) Immediate() RetryBuilder {
	return r.withSpec(backoff.Spec{Strategy: backoff.Constant}).WithJitter(0)
}

// Recoverable limits retries to reasons for which fn returns true. Other
// failures stop the loop on the spot.
func (r RetryBuilder) Recoverable(fn func(reason any) bool) RetryBuilder {
	p := r.policy
	p.Recoverable = fn
	return RetryBuilder{policy: p}
}

// OnRetry registers a callback fired before each sleep.
func (r RetryBuilder) OnRetry(fn func(reason any, attempt int, delay time.Duration)) RetryBuilder {
	p := r.policy
	p.OnRetry = fn
	return RetryBuilder{policy: p}
}

// Policy returns the underlying RetryPolicy to be passed to WithRetry or
// retry.Execute.
func (r RetryBuilder) Policy() RetryPolicy {
	return r.policy
}
