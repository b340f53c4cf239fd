// Package conduit runs sagas: ordered steps that thread a shared context,
// stop at the first failure and can undo what they did.
//
// It is an in-process library. There are no workers, queues or schedulers;
// a run happens on the caller's goroutine (or, with RunWithTimeout, on one
// helper goroutine) and returns when the last step finished or one failed.
//
// # Core Concepts
//
//  1. Pipeline
//  2. Context
//  3. Outcome
//  4. Rollback and Ensure
//  5. Checkpoint
//
// # Pipeline
//
// A Pipeline is an immutable value: every builder and run method returns a
// new Pipeline and leaves its receiver untouched, so a half-built pipeline
// can be shared and extended in several directions.
//
//	p := conduit.New(map[string]any{"x": 5}).
//	    Step("addTen", addTen).
//	    Step("double", double)
//
//	c, err := p.Run(ctx) // c.Get("x") == 30
//
// # Context and Outcome
//
// Every step receives the current Context, an ordered immutable key/value
// map, and returns an Outcome:
//
//   - Ok(partial) merges partial into the context; existing keys are
//     overwritten and never removed.
//   - Ack() leaves the context as it is.
//   - Fail(reason) halts the pipeline. reason can be any value; the run
//     error is a *StepError naming the step.
//
// Keys are only removed by an explicit Drop step.
//
// # Rollback and Ensure
//
// Steps added with WithRollback register a compensation. RunWithRollback
// invokes the compensation of every completed step, most recent first, each
// with the context as it stood right after that step. A failing
// compensation does not stop the others; the run error then becomes a
// *RollbackError that still wraps the original failure.
//
// Ensure registers cleanups that RunWithEnsure and RunWithTimeout invoke
// exactly once, in reverse registration order, however the run ended.
//
// # Checkpoints
//
// Checkpoint snapshots the context under a name; RollbackTo restores it and
// clears the halt so pending steps can run again. CheckpointStep takes the
// snapshot when execution reaches it instead of at build time.
//
// # Retries
//
// StepWithRetry and WithRetry re-invoke a failing step according to a
// RetryPolicy. RetryBuilder offers exponential, linear, constant and
// jittered backoff strategies:
//
//	p = p.StepWithRetry("charge", charge,
//	    conduit.Retry(3).WithExponentialBackoff(100*time.Millisecond, 2, 2*time.Second))
//
// # Observability
//
// WithObserver receives run, step, retry, rollback and cleanup events.
// LoggingObserver logs them through log/slog; package telemetry provides
// OpenTelemetry tracing and Prometheus metrics observers. WithRunStore keeps
// an audit record of every run in memory, SQLite, Postgres or Redis.
package conduit
