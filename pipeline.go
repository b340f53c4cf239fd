package conduit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/conduit/internal/engine"
	"github.com/petrijr/conduit/internal/persistence"
	"github.com/petrijr/conduit/pkg/api"
)

// Pipeline is an immutable saga: an accumulating context plus an ordered
// list of pending steps. Every builder and run method returns a new value
// and leaves the receiver untouched:
//
//	p := conduit.New(map[string]any{"x": 5}, conduit.WithName("math")).
//	    Step("addTen", addTen).
//	    Step("double", double)
//
//	out, err := p.Run(ctx)
//
// The zero Pipeline is usable and behaves like New(nil).
type Pipeline struct {
	name            string
	state           engine.State
	cleanups        []engine.Cleanup
	compensated     []string
	cleanupErrs     []error
	telemetryPrefix []string
	metadata        map[string]any
	defaultTimeout  time.Duration

	observer   api.Observer
	logger     *slog.Logger
	runStore   RunStore
	eventStore EventStore

	lastRun api.RunInfo
}

// Option configures a Pipeline created by New.
type Option func(*Pipeline)

// WithName sets the pipeline name used in logs, run records and telemetry.
func WithName(name string) Option {
	return func(p *Pipeline) { p.name = name }
}

// WithTelemetryPrefix sets the span/metric name prefix read by observers.
func WithTelemetryPrefix(parts ...string) Option {
	return func(p *Pipeline) { p.telemetryPrefix = slices.Clone(parts) }
}

// WithMetadata attaches opaque metadata passed through to observers.
func WithMetadata(md map[string]any) Option {
	return func(p *Pipeline) { p.metadata = maps.Clone(md) }
}

// WithObserver sets the observer notified of run, step, retry, rollback
// and cleanup events. Combine several with NewCompositeObserver.
func WithObserver(obs api.Observer) Option {
	return func(p *Pipeline) { p.observer = obs }
}

// WithLogger sets the logger used for warnings and compensation failures.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// WithRunStore records every run in store. events may be nil.
func WithRunStore(store RunStore, events EventStore) Option {
	return func(p *Pipeline) {
		p.runStore = store
		p.eventStore = events
	}
}

// WithDefaultTimeout sets the deadline RunWithTimeout uses when called with
// a non-positive duration.
func WithDefaultTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.defaultTimeout = d }
}

// New creates a pipeline whose context holds initial. Keys are ordered by
// name; use NewFromContext to control the order.
func New(initial map[string]any, opts ...Option) Pipeline {
	return NewFromContext(api.FromMap(initial), opts...)
}

// NewFromContext creates a pipeline starting from c.
func NewFromContext(c api.Context, opts ...Option) Pipeline {
	p := Pipeline{state: engine.State{Context: c}}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// clone returns a copy that shares nothing mutable with p.
func (p Pipeline) clone() Pipeline {
	out := p
	out.state = p.state.Clone()
	out.cleanups = slices.Clone(p.cleanups)
	out.compensated = slices.Clone(p.compensated)
	out.cleanupErrs = slices.Clone(p.cleanupErrs)
	return out
}

func (p Pipeline) log() *slog.Logger {
	if p.logger != nil {
		return p.logger
	}
	return slog.Default()
}

// observers is the configured observer plus the run-history recorder.
func (p Pipeline) observers() api.Observer {
	var rec api.Observer
	if p.runStore != nil {
		rec = persistence.NewRecorder(p.runStore, p.eventStore, p.log())
	}
	return api.NewCompositeObserver(p.observer, rec)
}

func (p Pipeline) engine() *engine.Engine {
	return p.engineWith(p.observers())
}

func (p Pipeline) engineWith(obs api.Observer) *engine.Engine {
	return engine.NewWithConfig(engine.Config{
		Observer: obs,
		Logger:   p.log(),
	})
}

// StepOption configures a step added with Step.
type StepOption func(*api.StepDefinition)

// WithRollback registers a compensation for the step. It receives the
// context as it stood right after the step completed.
func WithRollback(fn api.RollbackFunc) StepOption {
	return func(d *api.StepDefinition) { d.Rollback = fn }
}

// WithRetry retries the step according to policy.
func WithRetry(policy api.RetryPolicy) StepOption {
	return func(d *api.StepDefinition) {
		// Copy so callers can reuse their policy value.
		r := policy
		d.Retry = &r
	}
}

// Step appends a step. It does not execute anything.
func (p Pipeline) Step(name string, action api.Action, opts ...StepOption) Pipeline {
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
	return p.AddStep(def)
}

// StepWithRetry appends a step that uses the given retry policy.
func (p Pipeline) StepWithRetry(name string, action api.Action, retry RetryBuilder, opts ...StepOption) Pipeline {
	return p.Step(name, action, append([]StepOption{WithRetry(retry.Policy())}, opts...)...)
}

// AddStep appends a fully specified step definition.
func (p Pipeline) AddStep(def api.StepDefinition) Pipeline {
	if def.Name == "" {
		panic("conduit: step name must not be empty")
	}
	if def.Action == nil && def.Expand == nil && def.Checkpoint == "" && len(def.Drop) == 0 {
		panic(fmt.Sprintf("conduit: step %q does nothing", def.Name))
	}

	if p.hasStep(def.Name) {
		p.log().Warn("duplicate step name",
			slog.String("pipeline", p.name),
			slog.String("step", def.Name),
		)
	}

	out := p.clone()
	out.state.Pending = append(out.state.Pending, def)
	return out
}

func (p Pipeline) hasStep(name string) bool {
	for _, c := range p.state.Completed {
		if c.Name == name {
			return true
		}
	}
	for _, s := range p.state.Pending {
		if s.Name == name {
			return true
		}
	}
	return false
}

func (p Pipeline) runInfo() api.RunInfo {
	return api.RunInfo{
		ID:              uuid.NewString(),
		Pipeline:        p.name,
		TelemetryPrefix: slices.Clone(p.telemetryPrefix),
		Metadata:        maps.Clone(p.metadata),
	}
}

type runOptions struct {
	rollback bool
	ensure   bool
}

// execute is the single entry point of every run mode. Observer start and
// finish events bracket the step loop, compensation and cleanups.
func (p Pipeline) execute(ctx context.Context, run api.RunInfo, opts runOptions) Pipeline {
	eng := p.engine()
	out := p.clone()
	out.lastRun = run

	alreadyHalted := p.state.Halted
	startedAt := time.Now()
	if !alreadyHalted {
		out.compensated = nil
		eng.Observer().OnPipelineStart(ctx, run)
		out.state = eng.Execute(ctx, run, p.state)
	}

	if opts.rollback && out.state.Halted && out.compensated == nil && compensable(out.state.Err) {
		out = out.unwind(ctx, eng, run)
	}
	if opts.ensure {
		out = out.runCleanups(ctx, eng, run)
	}

	if !alreadyHalted {
		out.notifyFinished(ctx, eng, run, startedAt)
	}
	return out
}

func (p Pipeline) unwind(ctx context.Context, eng *engine.Engine, run api.RunInfo) Pipeline {
	compensated, failures := eng.Unwind(ctx, run, p.state.Completed)
	p.state = p.state.WithUnwound()
	p.compensated = compensated
	if p.compensated == nil {
		p.compensated = []string{}
	}
	if len(failures) > 0 {
		p.state.Err = &api.RollbackError{Cause: p.state.Err, Failures: failures}
	}
	return p
}

// compensable reports whether err halted the run inside a step. Only those
// halts are compensated; a missing checkpoint is not.
func compensable(err error) bool {
	var stepErr *api.StepError
	var noBranch *api.NoBranchError
	return errors.As(err, &stepErr) || errors.As(err, &noBranch)
}

func (p Pipeline) runCleanups(ctx context.Context, eng *engine.Engine, run api.RunInfo) Pipeline {
	p.cleanupErrs = eng.RunCleanups(ctx, run, p.cleanups, p.state.Context, p.state.Err)
	p.cleanups = nil
	return p
}

func (p Pipeline) notifyFinished(ctx context.Context, eng *engine.Engine, run api.RunInfo, startedAt time.Time) {
	sum := api.RunSummary{
		RunInfo:    run,
		Status:     p.Status(),
		Completed:  p.state.CompletedNames(),
		Pending:    p.state.PendingNames(),
		Context:    p.state.Context,
		Err:        p.state.Err,
		StartedAt:  startedAt,
		FinishedAt: time.Now(),
	}
	if p.state.Halted {
		eng.Observer().OnPipelineFailed(ctx, sum, p.state.Err)
		return
	}
	eng.Observer().OnPipelineCompleted(ctx, sum)
}

// Execute runs the pending steps in order and returns the resulting
// pipeline. A halted pipeline is returned as is without invoking anything.
func (p Pipeline) Execute(ctx context.Context) Pipeline {
	return p.execute(ctx, p.runInfo(), runOptions{})
}

// Run executes the pipeline and returns its final context, or the context
// at the point of failure together with the halt error.
func (p Pipeline) Run(ctx context.Context) (api.Context, error) {
	return p.Execute(ctx).Result()
}

// MustRun is like Run but panics with the halt error. Use it only at the
// outermost edge of a program.
func (p Pipeline) MustRun(ctx context.Context) api.Context {
	c, err := p.Run(ctx)
	if err != nil {
		panic(err)
	}
	return c
}

// Result returns the current context and halt error.
func (p Pipeline) Result() (api.Context, error) {
	return p.state.Context, p.state.Err
}

// ExecuteWithRollback runs like Execute. When a step halts the run, the
// rollback of every completed step is invoked in reverse order with that
// step's own context snapshot. Each rollback is invoked at most once over
// the life of the pipeline, also across RollbackTo and later runs. A failing
// compensation does not stop the unwind; the failures are reported through
// a *RollbackError that still wraps the original halt error.
//
// Halts that no step caused, such as a missing checkpoint, are not
// compensated.
func (p Pipeline) ExecuteWithRollback(ctx context.Context) Pipeline {
	return p.execute(ctx, p.runInfo(), runOptions{rollback: true})
}

// RunWithRollback is ExecuteWithRollback followed by Result.
func (p Pipeline) RunWithRollback(ctx context.Context) (api.Context, error) {
	return p.ExecuteWithRollback(ctx).Result()
}

// Compensated lists the steps whose rollback was invoked, in invocation
// order. It is nil if no unwind happened.
func (p Pipeline) Compensated() []string {
	return slices.Clone(p.compensated)
}

// Ensure registers a cleanup run by RunWithEnsure and RunWithTimeout. It
// receives the final context and the run error.
func (p Pipeline) Ensure(name string, fn api.CleanupFunc) Pipeline {
	if name == "" {
		panic("conduit: cleanup name must not be empty")
	}
	if fn == nil {
		panic(fmt.Sprintf("conduit: cleanup %q has nil function", name))
	}
	out := p.clone()
	out.cleanups = append(out.cleanups, engine.Cleanup{Name: name, Fn: fn})
	return out
}

// ExecuteWithEnsure runs the pipeline and then every registered cleanup
// exactly once, last registered first, whatever the outcome. Cleanup
// failures never change the result; see CleanupErr.
func (p Pipeline) ExecuteWithEnsure(ctx context.Context) Pipeline {
	return p.execute(ctx, p.runInfo(), runOptions{ensure: true})
}

// RunWithEnsure is ExecuteWithEnsure followed by Result.
func (p Pipeline) RunWithEnsure(ctx context.Context) (api.Context, error) {
	return p.ExecuteWithEnsure(ctx).Result()
}

// ExecuteWithRollbackAndEnsure combines ExecuteWithRollback and
// ExecuteWithEnsure. Compensation runs before the cleanups.
func (p Pipeline) ExecuteWithRollbackAndEnsure(ctx context.Context) Pipeline {
	return p.execute(ctx, p.runInfo(), runOptions{rollback: true, ensure: true})
}

// CleanupErr joins the errors returned by cleanups of the last ensured run.
func (p Pipeline) CleanupErr() error {
	return errors.Join(p.cleanupErrs...)
}

// ExecuteWithTimeout runs the pipeline on a separate goroutine under a
// deadline of d. If the deadline passes first, the returned pipeline keeps
// the context it started with and is halted with ErrTimeout; the abandoned
// run is cancelled and stops at its next step boundary or retry sleep.
// Registered cleanups run exactly once on both paths.
//
// Observers see the run end as soon as the caller gets its result. Events
// the abandoned goroutine raises afterwards are dropped.
//
// d <= 0 falls back to WithDefaultTimeout, and to a plain ensured run when
// no default is set.
func (p Pipeline) ExecuteWithTimeout(ctx context.Context, d time.Duration) Pipeline {
	if d <= 0 {
		d = p.defaultTimeout
	}
	if d <= 0 {
		return p.ExecuteWithEnsure(ctx)
	}
	if p.state.Halted {
		return p.ExecuteWithEnsure(ctx)
	}

	run := p.runInfo()
	obs := p.observers()
	eng := p.engineWith(obs)
	gate := engine.NewGatedObserver(obs)
	stepEng := p.engineWith(gate)

	startedAt := time.Now()
	obs.OnPipelineStart(ctx, run)

	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan engine.State, 1)
	go func() {
		done <- stepEng.Execute(tctx, run, p.state)
	}()

	out := p.clone()
	out.lastRun = run
	out.compensated = nil
	select {
	case st := <-done:
		out.state = st
		if st.Halted && errors.Is(st.Err, context.DeadlineExceeded) && ctx.Err() == nil {
			out = p.abandoned(run, api.ErrTimeout)
		}
	case <-tctx.Done():
		gate.Close()
		if err := ctx.Err(); err != nil {
			// The caller cancelled; report that rather than a timeout.
			out = p.abandoned(run, err)
		} else {
			out = p.abandoned(run, api.ErrTimeout)
		}
	}

	out = out.runCleanups(ctx, eng, run)
	out.notifyFinished(ctx, eng, run, startedAt)
	return out
}

// abandoned is p halted with err, as returned when the run it started was
// given up on.
func (p Pipeline) abandoned(run api.RunInfo, err error) Pipeline {
	out := p.clone()
	out.lastRun = run
	out.state.Halted = true
	out.state.Err = err
	return out
}

// RunWithTimeout is ExecuteWithTimeout followed by Result.
func (p Pipeline) RunWithTimeout(ctx context.Context, d time.Duration) (api.Context, error) {
	return p.ExecuteWithTimeout(ctx, d).Result()
}
