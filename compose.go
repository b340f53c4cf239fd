package conduit

import (
	"fmt"
	"slices"

	"github.com/petrijr/conduit/pkg/api"
)

// Compose appends b's pending steps and cleanups to a. The result keeps a's
// context, checkpoints, options and metadata; b's context is discarded.
func Compose(a, b Pipeline) Pipeline {
	out := a.clone()
	for _, def := range b.state.Pending {
		out = out.AddStep(def)
	}
	out.cleanups = append(out.cleanups, b.cleanups...)
	return out
}

// Then is Compose(p, next).
func (p Pipeline) Then(next Pipeline) Pipeline {
	return Compose(p, next)
}

// Segment is a reusable, context-less ordered list of steps.
type Segment struct {
	steps []api.StepDefinition
}

// SegmentStep is one entry of a segment.
type SegmentStep = api.StepDefinition

// S builds a segment entry from a name and an action.
func S(name string, action api.Action, opts ...StepOption) SegmentStep {
	if name == "" {
		panic("conduit: step name must not be empty")
	}
	if action == nil {
		panic(fmt.Sprintf("conduit: step %q has nil action", name))
	}
	def := api.StepDefinition{Name: name, Action: action}
	for _, opt := range opts {
		opt(&def)
	}
	return def
}

// NewSegment builds a segment from its entries.
func NewSegment(steps ...SegmentStep) Segment {
	return Segment{steps: slices.Clone(steps)}
}

// SegmentOf captures the pending steps of a pipeline built with the regular
// builder methods, so every step variant can be reused.
func SegmentOf(p Pipeline) Segment {
	return Segment{steps: slices.Clone(p.state.Pending)}
}

// Len returns the number of steps in the segment.
func (s Segment) Len() int { return len(s.steps) }

// Names lists the step names in order.
func (s Segment) Names() []string {
	names := make([]string, len(s.steps))
	for i, st := range s.steps {
		names[i] = st.Name
	}
	return names
}

// Include appends the segment's steps, as if Step were called once per
// entry.
func (p Pipeline) Include(seg Segment) Pipeline {
	out := p
	for _, def := range seg.steps {
		out = out.AddStep(def)
	}
	return out
}
