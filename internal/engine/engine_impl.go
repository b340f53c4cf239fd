package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"time"

	"github.com/petrijr/conduit/pkg/api"
	"github.com/petrijr/conduit/pkg/retry"
)

// Engine is a synchronous, in-process step executor. It holds no per-run
// state; everything a run needs travels in State.
type Engine struct {
	observer api.Observer
	logger   *slog.Logger
}

// Config describes how to construct an Engine.
type Config struct {
	Observer api.Observer
	Logger   *slog.Logger
}

// NewWithConfig creates an Engine using the given configuration.
func NewWithConfig(cfg Config) *Engine {
	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{observer: obs, logger: logger}
}

// New returns an Engine with no observer and the default logger.
func New() *Engine {
	return NewWithConfig(Config{})
}

// Observer returns the observer events are reported to.
func (e *Engine) Observer() api.Observer {
	return e.observer
}

// Execute runs the pending steps of s in order and returns the resulting
// state. s itself is not modified.
//
// A halted state is returned unchanged. The first failing step halts the
// run with a *api.StepError and stays at the head of Pending. Cancellation
// of ctx is checked before every step.
func (e *Engine) Execute(ctx context.Context, run api.RunInfo, s State) State {
	if s.Halted {
		return s
	}
	s = s.Clone()

	// Indexes continue the trace so a resumed run reports positions that
	// match CompletedNames.
	idx := len(s.Completed)
	for len(s.Pending) > 0 {
		step := s.Pending[0]

		if err := ctx.Err(); err != nil {
			return s.halt(&api.StepError{Step: step.Name, Reason: err})
		}

		switch {
		case step.Expand != nil:
			expanded, err := e.expand(ctx, step, s.Context)
			if err != nil {
				return s.halt(err)
			}
			s.Pending = slices.Concat(expanded, s.Pending[1:])
			continue

		case step.Checkpoint != "":
			s = s.WithCheckpoint(step.Checkpoint, s.Context)
			s.Pending = s.Pending[1:]
			continue
		}

		startTime := time.Now()
		e.observer.OnStepStart(ctx, run, step.Name, idx)

		out := e.runStep(ctx, run, step, s.Context)

		var stepErr error
		if out.IsFailure() {
			stepErr = &api.StepError{Step: step.Name, Reason: out.Reason()}
		}
		e.observer.OnStepCompleted(ctx, run, step.Name, idx, stepErr, time.Since(startTime))
		idx++

		if stepErr != nil {
			return s.halt(stepErr)
		}

		if out.IsOk() {
			s.Context = s.Context.Merge(out.Partial())
		}
		if len(step.Drop) > 0 {
			s.Context = s.Context.Drop(step.Drop...)
		}
		s.Completed = append(s.Completed, CompletedStep{
			Name:     step.Name,
			Snapshot: s.Context,
			Rollback: step.Rollback,
		})
		s.Pending = s.Pending[1:]
	}

	return s
}

func (e *Engine) runStep(ctx context.Context, run api.RunInfo, step api.StepDefinition, c api.Context) api.Outcome {
	if step.Action == nil {
		return api.Ack()
	}
	if step.Retry == nil {
		return invoke(ctx, step.Action, c)
	}

	// Copy so the observer hook never leaks into the caller's policy.
	policy := *step.Retry
	userOnRetry := policy.OnRetry
	policy.OnRetry = func(reason any, attempt int, delay time.Duration) {
		e.observer.OnStepRetry(ctx, run, step.Name, attempt, delay, reason)
		if userOnRetry != nil {
			userOnRetry(reason, attempt, delay)
		}
	}

	return retry.Execute(ctx, func(ctx context.Context) api.Outcome {
		return step.Action(ctx, c)
	}, policy)
}

func (e *Engine) expand(ctx context.Context, step api.StepDefinition, c api.Context) (steps []api.StepDefinition, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &api.StepError{Step: step.Name, Reason: &api.PanicError{Value: r, Stack: debug.Stack()}}
		}
	}()
	return step.Expand(ctx, c)
}

// Unwind invokes the rollback of every completed step in reverse order.
// Each rollback receives the context snapshot taken right after its step
// completed. Entries already marked Unwound are skipped. A failing or
// panicking rollback does not stop the unwind; all failures are returned.
// Cancellation of ctx is ignored so compensation can still run after a
// deadline.
func (e *Engine) Unwind(ctx context.Context, run api.RunInfo, completed []CompletedStep) (compensated []string, failures []api.CompensationFailure) {
	ctx = context.WithoutCancel(ctx)

	for i := len(completed) - 1; i >= 0; i-- {
		cs := completed[i]
		if cs.Rollback == nil || cs.Unwound {
			continue
		}

		err := safeCall(func() error { return cs.Rollback(ctx, cs.Snapshot) })
		e.observer.OnRollback(ctx, run, cs.Name, err)
		compensated = append(compensated, cs.Name)

		if err != nil {
			e.logger.ErrorContext(ctx, "rollback failed",
				slog.String("pipeline", run.Pipeline),
				slog.String("run_id", run.ID),
				slog.String("step", cs.Name),
				slog.Any("error", err),
			)
			failures = append(failures, api.CompensationFailure{Step: cs.Name, Err: err})
		}
	}
	return compensated, failures
}

// Cleanup is a registered Ensure callback.
type Cleanup struct {
	Name string
	Fn   api.CleanupFunc
}

// RunCleanups invokes every cleanup exactly once, last registered first.
// Failures and panics are logged and reported to the observer; the joined
// failures are returned for diagnostics only.
func (e *Engine) RunCleanups(ctx context.Context, run api.RunInfo, cleanups []Cleanup, c api.Context, result error) []error {
	ctx = context.WithoutCancel(ctx)

	var errs []error
	for i := len(cleanups) - 1; i >= 0; i-- {
		cl := cleanups[i]
		err := safeCall(func() error { return cl.Fn(ctx, c, result) })
		if err == nil {
			continue
		}
		err = fmt.Errorf("cleanup %q: %w", cl.Name, err)
		e.logger.ErrorContext(ctx, "cleanup failed",
			slog.String("pipeline", run.Pipeline),
			slog.String("run_id", run.ID),
			slog.String("cleanup", cl.Name),
			slog.Any("error", err),
		)
		e.observer.OnCleanupFailed(ctx, run, cl.Name, err)
		errs = append(errs, err)
	}
	return errs
}

func invoke(ctx context.Context, action api.Action, c api.Context) (out api.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = api.Fail(&api.PanicError{Value: r, Stack: debug.Stack()})
		}
	}()
	return action(ctx, c)
}

func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &api.PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}
