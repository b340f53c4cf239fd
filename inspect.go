package conduit

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/petrijr/conduit/pkg/api"
)

// StepInfo describes a pending step.
type StepInfo struct {
	Name        string
	HasRollback bool
	HasRetry    bool
}

// DryRun lists the steps that would run, without running them. Branch and
// When steps appear under their own name since their content depends on the
// context at run time.
func (p Pipeline) DryRun() []string {
	return p.state.PendingNames()
}

// InspectSteps describes every pending step.
func (p Pipeline) InspectSteps() []StepInfo {
	infos := make([]StepInfo, len(p.state.Pending))
	for i, s := range p.state.Pending {
		infos[i] = StepInfo{
			Name:        s.Name,
			HasRollback: s.HasRollback(),
			HasRetry:    s.Retry != nil,
		}
	}
	return infos
}

// CompletedSteps lists executed steps in order.
func (p Pipeline) CompletedSteps() []string {
	return p.state.CompletedNames()
}

// PendingSteps lists steps not yet executed, the failing step first when
// the pipeline is halted.
func (p Pipeline) PendingSteps() []string {
	return p.state.PendingNames()
}

// Halted reports whether a step or the orchestrator stopped the pipeline.
func (p Pipeline) Halted() bool { return p.state.Halted }

// Err returns the halt error, nil unless Halted.
func (p Pipeline) Err() error { return p.state.Err }

// Context returns the current context.
func (p Pipeline) Context() api.Context { return p.state.Context }

// Name returns the pipeline name.
func (p Pipeline) Name() string { return p.name }

// TelemetryPrefix returns the prefix observers use for span and metric names.
func (p Pipeline) TelemetryPrefix() []string { return slices.Clone(p.telemetryPrefix) }

// Metadata returns the opaque metadata passed to observers.
func (p Pipeline) Metadata() map[string]any { return maps.Clone(p.metadata) }

// RunID returns the ID of the last run, empty if the pipeline never ran.
func (p Pipeline) RunID() string { return p.lastRun.ID }

// Status summarizes the pipeline lifecycle.
func (p Pipeline) Status() api.Status {
	switch {
	case p.state.Halted && api.IsTimeout(p.state.Err):
		return api.StatusTimedOut
	case p.state.Halted:
		return api.StatusFailed
	case p.lastRun.ID != "" && len(p.state.Pending) == 0:
		return api.StatusCompleted
	default:
		return api.StatusPending
	}
}

func (p Pipeline) String() string {
	var b strings.Builder
	b.WriteString("Pipeline")
	if p.name != "" {
		fmt.Fprintf(&b, " %q", p.name)
	}
	fmt.Fprintf(&b, " [%s]", p.Status())
	fmt.Fprintf(&b, " context=%s", p.state.Context)
	fmt.Fprintf(&b, " completed=%v pending=%v", p.CompletedSteps(), p.PendingSteps())
	if len(p.state.CheckpointOrder) > 0 {
		fmt.Fprintf(&b, " checkpoints=%v", p.state.CheckpointOrder)
	}
	if p.state.Err != nil {
		fmt.Fprintf(&b, " error=%q", p.state.Err.Error())
	}
	return b.String()
}
