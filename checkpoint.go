package conduit

import (
	"slices"

	"github.com/petrijr/conduit/pkg/api"
)

// Checkpoint snapshots the current context under name. Nothing executes;
// to snapshot the context at a later point of the run use CheckpointStep.
// Re-using a name replaces its snapshot.
func (p Pipeline) Checkpoint(name string) Pipeline {
	if name == "" {
		panic("conduit: checkpoint name must not be empty")
	}
	out := p.clone()
	out.state = out.state.WithCheckpoint(name, p.state.Context)
	return out
}

// CheckpointStep appends a step that snapshots the context under name when
// execution reaches it.
func (p Pipeline) CheckpointStep(name string) Pipeline {
	if name == "" {
		panic("conduit: checkpoint name must not be empty")
	}
	return p.AddStep(api.StepDefinition{Name: "checkpoint:" + name, Checkpoint: name})
}

// RollbackTo restores the context saved under name and clears the halt
// state. Pending steps are kept, so a following run resumes from the step
// that failed. No step action or rollback is invoked.
//
// An unknown name yields a pipeline halted with *CheckpointNotFoundError.
func (p Pipeline) RollbackTo(name string) Pipeline {
	out := p.clone()
	snapshot, ok := p.state.Checkpoints[name]
	if !ok {
		out.state.Halted = true
		out.state.Err = &api.CheckpointNotFoundError{Name: name}
		return out
	}
	out.state.Context = snapshot
	out.state.Halted = false
	out.state.Err = nil
	out.compensated = nil
	return out
}

// Checkpoints lists checkpoint names in creation order.
func (p Pipeline) Checkpoints() []string {
	return slices.Clone(p.state.CheckpointOrder)
}

// HasCheckpoint reports whether a checkpoint called name exists.
func (p Pipeline) HasCheckpoint(name string) bool {
	_, ok := p.state.Checkpoints[name]
	return ok
}

// CheckpointContext returns the snapshot saved under name.
func (p Pipeline) CheckpointContext(name string) (api.Context, bool) {
	c, ok := p.state.Checkpoints[name]
	return c, ok
}
