package api

import (
	"fmt"
	"maps"
)

// OutcomeKind tags the variant held by an Outcome.
type OutcomeKind uint8

const (
	// KindAck is success without any new context. It is the zero value.
	KindAck OutcomeKind = iota
	KindOk
	KindFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case KindOk:
		return "ok"
	case KindFailure:
		return "failure"
	default:
		return "ack"
	}
}

// Outcome is what a step action returns: Ok with a partial context to merge,
// Ack with nothing to merge, or Fail with an opaque reason.
type Outcome struct {
	kind    OutcomeKind
	partial map[string]any
	reason  any
}

// Ok reports success and contributes partial to the pipeline context.
func Ok(partial map[string]any) Outcome {
	return Outcome{kind: KindOk, partial: partial}
}

// Ack reports success without changing the context.
func Ack() Outcome {
	return Outcome{kind: KindAck}
}

// Fail reports failure. reason is carried verbatim into the pipeline error.
func Fail(reason any) Outcome {
	return Outcome{kind: KindFailure, reason: reason}
}

// Failf is Fail with a formatted error reason.
func Failf(format string, args ...any) Outcome {
	return Fail(fmt.Errorf(format, args...))
}

// FromError adapts a conventional Go (value, error) result: a non-nil err
// becomes Fail(err), otherwise Ok(partial).
func FromError(partial map[string]any, err error) Outcome {
	if err != nil {
		return Fail(err)
	}
	return Ok(partial)
}

func (o Outcome) Kind() OutcomeKind { return o.kind }
func (o Outcome) IsOk() bool        { return o.kind == KindOk }
func (o Outcome) IsAck() bool       { return o.kind == KindAck }
func (o Outcome) IsFailure() bool   { return o.kind == KindFailure }

// Succeeded is true for both Ok and Ack.
func (o Outcome) Succeeded() bool { return o.kind != KindFailure }

// Partial returns a copy of the contributed context, nil unless Ok.
func (o Outcome) Partial() map[string]any {
	if o.kind != KindOk || o.partial == nil {
		return nil
	}
	return maps.Clone(o.partial)
}

// Reason returns the failure reason, nil unless Fail.
func (o Outcome) Reason() any {
	if o.kind != KindFailure {
		return nil
	}
	return o.reason
}

// Err returns the failure reason as an error, or nil on success.
func (o Outcome) Err() error {
	if o.kind != KindFailure {
		return nil
	}
	return ReasonError(o.reason)
}

// Map transforms the partial context of a successful outcome. Ack is
// treated as Ok with an empty partial.
func (o Outcome) Map(fn func(map[string]any) map[string]any) Outcome {
	if o.kind == KindFailure {
		return o
	}
	return Ok(fn(o.successPartial()))
}

// AndThen chains another fallible computation onto a successful outcome.
func (o Outcome) AndThen(fn func(map[string]any) Outcome) Outcome {
	if o.kind == KindFailure {
		return o
	}
	return fn(o.successPartial())
}

// OrElse gives a failed outcome a chance to recover.
func (o Outcome) OrElse(fn func(reason any) Outcome) Outcome {
	if o.kind != KindFailure {
		return o
	}
	return fn(o.reason)
}

func (o Outcome) String() string {
	switch o.kind {
	case KindOk:
		return fmt.Sprintf("ok(%v)", o.partial)
	case KindFailure:
		return fmt.Sprintf("failure(%v)", o.reason)
	default:
		return "ack"
	}
}

func (o Outcome) successPartial() map[string]any {
	if o.partial == nil {
		return map[string]any{}
	}
	return maps.Clone(o.partial)
}
