package api

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrTimeout is returned when a run does not finish before its deadline.
// No step is blamed for it.
var ErrTimeout = errors.New("pipeline timed out")

// StepError is the envelope a pipeline halts with when a step fails. It
// always names the step that produced the failure.
type StepError struct {
	Step   string
	Reason any
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q failed: %v", e.Step, e.Reason)
}

// Unwrap exposes the reason when it is itself an error.
func (e *StepError) Unwrap() error {
	err, _ := e.Reason.(error)
	return err
}

// MaxRetriesError reports that retries stopped. Exhausted is true when all
// attempts were consumed and false when a non-recoverable reason stopped
// the loop early.
type MaxRetriesError struct {
	Attempts  int
	Reason    any
	Exhausted bool
}

func (e *MaxRetriesError) Error() string {
	if e.Exhausted {
		return fmt.Sprintf("max retries reached after %d attempts: %v", e.Attempts, e.Reason)
	}
	return fmt.Sprintf("non-recoverable failure on attempt %d: %v", e.Attempts, e.Reason)
}

func (e *MaxRetriesError) Unwrap() error {
	err, _ := e.Reason.(error)
	return err
}

// CheckpointNotFoundError is the halt reason of RollbackTo with an unknown
// checkpoint.
type CheckpointNotFoundError struct {
	Name string
}

func (e *CheckpointNotFoundError) Error() string {
	return fmt.Sprintf("checkpoint %q not found", e.Name)
}

// NoBranchError is returned when a branch has no builder for the value
// found in the context and no default.
type NoBranchError struct {
	Key   string
	Value any
}

func (e *NoBranchError) Error() string {
	return fmt.Sprintf("no branch for %s=%v", e.Key, e.Value)
}

// MissingKeyError is the reason produced by Transform when its source key
// is absent.
type MissingKeyError struct {
	Key string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("missing context key %q", e.Key)
}

// PanicError is the failure reason recorded when a step, rollback or
// cleanup panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap exposes the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// CompensationFailure records a rollback that returned an error or panicked.
type CompensationFailure struct {
	Step string
	Err  error
}

// RollbackError carries the failure that triggered a rollback together with
// every compensation that failed while unwinding.
type RollbackError struct {
	Cause    error
	Failures []CompensationFailure
}

func (e *RollbackError) Error() string {
	var b strings.Builder
	b.WriteString(e.Cause.Error())
	b.WriteString("; rollback failed for ")
	for i, f := range e.Failures {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%q (%v)", f.Step, f.Err)
	}
	return b.String()
}

// Unwrap returns the original cause followed by the compensation errors.
func (e *RollbackError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures)+1)
	errs = append(errs, e.Cause)
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// ReasonOf returns the step failure reason carried by err.
func ReasonOf(err error) (any, bool) {
	var se *StepError
	if errors.As(err, &se) {
		return se.Reason, true
	}
	return nil, false
}

// FailedStep returns the name of the step blamed by err.
func FailedStep(err error) (string, bool) {
	var se *StepError
	if errors.As(err, &se) {
		return se.Step, true
	}
	return "", false
}

// IsTimeout reports whether err is a run deadline, either ErrTimeout or a
// step halted by context.DeadlineExceeded.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

type reasonError struct {
	reason any
}

func (e reasonError) Error() string { return fmt.Sprint(e.reason) }

// ReasonError returns reason as an error, wrapping non-error reasons.
func ReasonError(reason any) error {
	if reason == nil {
		return nil
	}
	if err, ok := reason.(error); ok {
		return err
	}
	return reasonError{reason: reason}
}
