package conduit

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"reflect"

	"github.com/petrijr/conduit/pkg/api"
)

// Builder appends steps to a pipeline. Branch and When apply builders.
type Builder func(Pipeline) Pipeline

// Predicate reads the context and decides.
type Predicate func(c api.Context) bool

// Validate appends a step that checks the context. A nil error leaves the
// context unchanged; any other error halts the pipeline with it.
func (p Pipeline) Validate(name string, check func(c api.Context) error, opts ...StepOption) Pipeline {
	if check == nil {
		panic(fmt.Sprintf("conduit: validate %q has nil check", name))
	}
	return p.Step(name, func(_ context.Context, c api.Context) api.Outcome {
		if err := check(c); err != nil {
			return api.Fail(err)
		}
		return api.Ack()
	}, opts...)
}

// Guard appends a step that halts with reason when pred is false.
func (p Pipeline) Guard(name string, pred Predicate, reason any, opts ...StepOption) Pipeline {
	return p.GuardFunc(name, pred, func(api.Context) any { return reason }, opts...)
}

// GuardFunc is Guard with the halt reason computed from the context.
func (p Pipeline) GuardFunc(name string, pred Predicate, reason func(c api.Context) any, opts ...StepOption) Pipeline {
	if pred == nil || reason == nil {
		panic(fmt.Sprintf("conduit: guard %q needs a predicate and a reason", name))
	}
	return p.Step(name, func(_ context.Context, c api.Context) api.Outcome {
		if pred(c) {
			return api.Ack()
		}
		return api.Fail(reason(c))
	}, opts...)
}

// Transform appends a step that writes fn(c[src]) to dst. A missing src
// halts with *MissingKeyError and fn is not called.
func (p Pipeline) Transform(name, src, dst string, fn func(v any) any, opts ...StepOption) Pipeline {
	if fn == nil {
		panic(fmt.Sprintf("conduit: transform %q has nil function", name))
	}
	return p.Step(name, func(_ context.Context, c api.Context) api.Outcome {
		v, ok := c.Lookup(src)
		if !ok {
			return api.Fail(&api.MissingKeyError{Key: src})
		}
		return api.Ok(map[string]any{dst: fn(v)})
	}, opts...)
}

// Assign appends a step that sets key to a fixed value.
func (p Pipeline) Assign(name, key string, value any, opts ...StepOption) Pipeline {
	return p.Step(name, func(context.Context, api.Context) api.Outcome {
		return api.Ok(map[string]any{key: value})
	}, opts...)
}

// AssignFunc appends a step that sets key to fn(c).
func (p Pipeline) AssignFunc(name, key string, fn func(c api.Context) any, opts ...StepOption) Pipeline {
	if fn == nil {
		panic(fmt.Sprintf("conduit: assign %q has nil function", name))
	}
	return p.Step(name, func(_ context.Context, c api.Context) api.Outcome {
		return api.Ok(map[string]any{key: fn(c)})
	}, opts...)
}

// Tap appends a side-effect step. A non-nil error halts the pipeline.
func (p Pipeline) Tap(name string, fn func(ctx context.Context, c api.Context) error, opts ...StepOption) Pipeline {
	if fn == nil {
		panic(fmt.Sprintf("conduit: tap %q has nil function", name))
	}
	return p.Step(name, func(ctx context.Context, c api.Context) api.Outcome {
		if err := fn(ctx, c); err != nil {
			return api.Fail(err)
		}
		return api.Ack()
	}, opts...)
}

// TapAlways appends a side-effect step that never halts, even if fn panics.
func (p Pipeline) TapAlways(name string, fn func(ctx context.Context, c api.Context)) Pipeline {
	if fn == nil {
		panic(fmt.Sprintf("conduit: tap %q has nil function", name))
	}
	logger := p.log()
	return p.Step(name, func(ctx context.Context, c api.Context) api.Outcome {
		defer func() {
			if r := recover(); r != nil {
				logger.WarnContext(ctx, "tap panicked",
					slog.String("step", name),
					slog.Any("panic", r),
				)
			}
		}()
		fn(ctx, c)
		return api.Ack()
	})
}

// StepIf appends a step whose action only runs when pred holds; otherwise
// the step completes without changing the context.
func (p Pipeline) StepIf(name string, pred Predicate, action api.Action, opts ...StepOption) Pipeline {
	if pred == nil || action == nil {
		panic(fmt.Sprintf("conduit: step %q needs a predicate and an action", name))
	}
	return p.Step(name, func(ctx context.Context, c api.Context) api.Outcome {
		if !pred(c) {
			return api.Ack()
		}
		return action(ctx, c)
	}, opts...)
}

// Drop appends a step that removes keys from the context.
func (p Pipeline) Drop(name string, keys ...string) Pipeline {
	return p.AddStep(api.StepDefinition{Name: name, Drop: keys})
}

// Branch appends a step that, once reached, reads c[key] and splices in the
// steps produced by the matching builder. With no match the pipeline halts
// with *NoBranchError.
func (p Pipeline) Branch(key string, branches map[any]Builder) Pipeline {
	return p.BranchWithDefault(key, branches, nil)
}

// BranchWithDefault is Branch with a fallback builder for unmatched values.
func (p Pipeline) BranchWithDefault(key string, branches map[any]Builder, def Builder) Pipeline {
	if len(branches) == 0 && def == nil {
		panic(fmt.Sprintf("conduit: branch on %q has no builders", key))
	}
	// Copy so later changes to the caller's map do not leak in.
	table := maps.Clone(branches)
	seed := p.segmentSeed()

	return p.AddStep(api.StepDefinition{
		Name: "branch:" + key,
		Expand: func(_ context.Context, c api.Context) ([]api.StepDefinition, error) {
			v := c.Get(key)
			if b, ok := lookupBranch(table, v); ok {
				return seed.build(c, b), nil
			}
			if def != nil {
				return seed.build(c, def), nil
			}
			return nil, &api.NoBranchError{Key: key, Value: v}
		},
	})
}

func lookupBranch(table map[any]Builder, v any) (Builder, bool) {
	// Indexing a map[any] with an unhashable dynamic type panics.
	if v != nil && !reflect.TypeOf(v).Comparable() {
		return nil, false
	}
	b, ok := table[v]
	return b, ok && b != nil
}

// WhenTrue applies build to the pipeline right away if cond is true.
func (p Pipeline) WhenTrue(cond bool, build Builder) Pipeline {
	if !cond {
		return p
	}
	return build(p)
}

// When appends a step that, once reached, splices in the steps produced by
// build if pred holds for the live context.
func (p Pipeline) When(name string, pred Predicate, build Builder) Pipeline {
	if pred == nil || build == nil {
		panic(fmt.Sprintf("conduit: when %q needs a predicate and a builder", name))
	}
	seed := p.segmentSeed()
	return p.AddStep(api.StepDefinition{
		Name: name,
		Expand: func(_ context.Context, c api.Context) ([]api.StepDefinition, error) {
			if !pred(c) {
				return nil, nil
			}
			return seed.build(c, build), nil
		},
	})
}

// seed carries the options a deferred builder's scratch pipeline inherits.
type seed struct {
	name   string
	logger *slog.Logger
}

func (p Pipeline) segmentSeed() seed {
	return seed{name: p.name, logger: p.logger}
}

// build applies b to an empty pipeline holding c and returns the steps it
// appended.
func (s seed) build(c api.Context, b Builder) []api.StepDefinition {
	scratch := NewFromContext(c, WithName(s.name), WithLogger(s.logger))
	return b(scratch).state.Pending
}
