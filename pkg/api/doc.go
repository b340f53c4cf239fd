// Package api contains the core building blocks used by conduit pipelines.
// It provides the data model steps exchange with the orchestrator, the error
// taxonomy and the observer hooks.
//
// Most users interact with the higher-level conduit package, which
// re-exports selected types and helpers from this package. The api package
// is intended for custom integrations, such as observers or run stores, and
// for contributors extending the engine itself.
//
// # Concepts
//
// The api package centers around a small set of concepts:
//
//   - Context, the ordered immutable key/value map threaded through steps
//   - Outcome, what a step reports back
//   - StepDefinition and RetryPolicy
//   - Errors
//   - Observability
//
// # Context
//
// A Context never changes after construction. With, Merge and Drop return
// new values, so the engine can keep a snapshot per completed step for
// compensation and checkpoints without copying defensively. Merge is
// right-biased and never removes keys; Drop is the only removal.
//
// # Outcome
//
// An Outcome is one of Ok(partial), Ack() or Fail(reason). The zero value is
// Ack. Map, AndThen and OrElse chain outcomes without unpacking them, and
// FromError adapts a conventional (value, error) result.
//
// # Errors
//
// A failing step halts its pipeline with *StepError, which names the step
// and carries the reason verbatim. The other halt errors are
// *MaxRetriesError (wrapped in a StepError), *CheckpointNotFoundError,
// *NoBranchError, ErrTimeout and *RollbackError. ReasonOf and FailedStep
// dig the reason and step name out of any of them.
//
// # Observability
//
// The Observer interface is used by the engine to report lifecycle events:
//
//   - Log pipeline and step transitions
//   - Collect metrics (e.g. counts, latencies, error rates)
//   - Integrate with external monitoring systems
//
// NoopObserver, CompositeObserver, LoggingObserver and BasicMetrics are
// provided here; OpenTelemetry and Prometheus observers live in package
// telemetry.
package api
