package api

import (
	"context"
	"time"

	"github.com/petrijr/conduit/pkg/backoff"
)

// Status represents the lifecycle state of a pipeline run.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusTimedOut  Status = "TIMED_OUT"
)

// Action is the body of a step. It receives a read view of the pipeline
// context and reports what to merge back via the returned Outcome.
type Action func(ctx context.Context, c Context) Outcome

// RollbackFunc compensates for a completed step. It receives the context as
// it stood right after that step completed.
type RollbackFunc func(ctx context.Context, c Context) error

// ExpandFunc produces steps at execution time. The engine splices them in
// front of the remaining pending steps. Branches and predicate based
// conditionals are built on it.
type ExpandFunc func(ctx context.Context, c Context) ([]StepDefinition, error)

// CleanupFunc is registered with Ensure. It receives the final context and
// the run error (nil on success).
type CleanupFunc func(ctx context.Context, c Context, runErr error) error

// StepDefinition is a named unit of work. Exactly one of Action, Expand or
// Checkpoint is expected to be set.
type StepDefinition struct {
	Name     string
	Action   Action
	Rollback RollbackFunc
	Retry    *RetryPolicy

	// Expand, when set, replaces the step with the steps it returns.
	Expand ExpandFunc

	// Checkpoint, when set, snapshots the context under this name once
	// execution reaches the step.
	Checkpoint string

	// Drop lists keys removed from the context after the action succeeded.
	Drop []string
}

// HasRollback reports whether the step registered a compensation.
func (s StepDefinition) HasRollback() bool { return s.Rollback != nil }

// RetryPolicy configures retries for a step or for retry.Execute.
type RetryPolicy struct {
	// MaxAttempts is the total number of invocations, including the first.
	// Values <= 0 are treated as 1.
	MaxAttempts int

	Backoff backoff.Spec

	// Recoverable decides whether a failure reason is worth retrying.
	// nil treats every reason as recoverable.
	Recoverable func(reason any) bool

	// OnRetry fires before each sleep.
	OnRetry func(reason any, attempt int, delay time.Duration)
}

// Attempts returns MaxAttempts normalized to at least 1.
func (p RetryPolicy) Attempts() int {
	return max(p.MaxAttempts, 1)
}

// IsRecoverable applies the Recoverable predicate.
func (p RetryPolicy) IsRecoverable(reason any) bool {
	if p.Recoverable == nil {
		return true
	}
	return p.Recoverable(reason)
}
