package engine

import (
	"maps"
	"slices"

	"github.com/petrijr/conduit/pkg/api"
)

// CompletedStep is an entry of the execution trace.
type CompletedStep struct {
	Name string
	// Snapshot is the context right after the step completed.
	Snapshot api.Context
	Rollback api.RollbackFunc
	// Unwound is set once the rollback has been invoked, successfully or not.
	Unwound bool
}

// State is everything the engine reads and writes during a run. Values are
// treated as immutable: Execute works on a Clone.
type State struct {
	Context   api.Context
	Pending   []api.StepDefinition
	Completed []CompletedStep
	Halted    bool
	Err       error

	Checkpoints     map[string]api.Context
	CheckpointOrder []string
}

// Clone returns a copy whose slices and maps can be modified freely.
func (s State) Clone() State {
	out := s
	out.Pending = slices.Clone(s.Pending)
	out.Completed = slices.Clone(s.Completed)
	out.Checkpoints = maps.Clone(s.Checkpoints)
	out.CheckpointOrder = slices.Clone(s.CheckpointOrder)
	return out
}

// WithCheckpoint records snapshot under name. Re-using a name replaces the
// snapshot and keeps its original position.
func (s State) WithCheckpoint(name string, snapshot api.Context) State {
	out := s
	out.Checkpoints = maps.Clone(s.Checkpoints)
	if out.Checkpoints == nil {
		out.Checkpoints = make(map[string]api.Context)
	}
	if _, exists := out.Checkpoints[name]; !exists {
		out.CheckpointOrder = append(slices.Clone(s.CheckpointOrder), name)
	}
	out.Checkpoints[name] = snapshot
	return out
}

// WithUnwound returns s with every trace entry marked as unwound, so a
// later Unwind never compensates the same step twice.
func (s State) WithUnwound() State {
	out := s
	out.Completed = slices.Clone(s.Completed)
	for i := range out.Completed {
		out.Completed[i].Unwound = true
	}
	return out
}

// CompletedNames lists completed step names in execution order.
func (s State) CompletedNames() []string {
	names := make([]string, len(s.Completed))
	for i, c := range s.Completed {
		names[i] = c.Name
	}
	return names
}

// PendingNames lists pending step names in execution order.
func (s State) PendingNames() []string {
	names := make([]string, len(s.Pending))
	for i, p := range s.Pending {
		names[i] = p.Name
	}
	return names
}

func (s State) halt(err error) State {
	s.Halted = true
	s.Err = err
	return s
}
