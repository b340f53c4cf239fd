package api

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// RunInfo identifies a single execution of a pipeline.
//
// TelemetryPrefix and Metadata are opaque to the engine; observers read them
// to name spans and label metrics.
type RunInfo struct {
	ID              string
	Pipeline        string
	TelemetryPrefix []string
	Metadata        map[string]any
}

// SpanName joins the telemetry prefix (or the pipeline name when no prefix
// is set) with the given parts using dots.
func (r RunInfo) SpanName(parts ...string) string {
	base := r.TelemetryPrefix
	if len(base) == 0 && r.Pipeline != "" {
		base = []string{r.Pipeline}
	}
	all := make([]string, 0, len(base)+len(parts))
	all = append(all, base...)
	all = append(all, parts...)
	return strings.Join(all, ".")
}

// RunSummary describes a finished run.
type RunSummary struct {
	RunInfo
	Status     Status
	Completed  []string
	Pending    []string
	Context    Context
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration is the wall time of the run.
func (s RunSummary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// Observer receives callbacks from the pipeline engine for logging, tracing
// and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay step execution.
type Observer interface {
	// OnPipelineStart is called before the first pending step executes.
	OnPipelineStart(ctx context.Context, run RunInfo)

	// OnPipelineCompleted is called when every pending step succeeded.
	OnPipelineCompleted(ctx context.Context, sum RunSummary)

	// OnPipelineFailed is called when the run halted or timed out.
	OnPipelineFailed(ctx context.Context, sum RunSummary, err error)

	// OnStepStart is called before invoking a step action.
	// stepIndex is the step's position in the completed trace, so a run
	// resumed after RollbackTo continues where the previous one stopped.
	OnStepStart(ctx context.Context, run RunInfo, stepName string, stepIndex int)

	// OnStepCompleted is called after a step returns, for both successes
	// and failures (err != nil).
	OnStepCompleted(ctx context.Context, run RunInfo, stepName string, stepIndex int, err error, duration time.Duration)

	// OnStepRetry is called before sleeping between attempts.
	OnStepRetry(ctx context.Context, run RunInfo, stepName string, attempt int, delay time.Duration, reason any)

	// OnRollback is called after each compensation, err != nil if it failed.
	OnRollback(ctx context.Context, run RunInfo, stepName string, err error)

	// OnCleanupFailed is called when an Ensure cleanup returns an error or
	// panics.
	OnCleanupFailed(ctx context.Context, run RunInfo, name string, err error)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnPipelineStart(context.Context, RunInfo)                 {}
func (NoopObserver) OnPipelineCompleted(context.Context, RunSummary)          {}
func (NoopObserver) OnPipelineFailed(context.Context, RunSummary, error)      {}
func (NoopObserver) OnStepStart(context.Context, RunInfo, string, int)        {}
func (NoopObserver) OnRollback(context.Context, RunInfo, string, error)       {}
func (NoopObserver) OnCleanupFailed(context.Context, RunInfo, string, error)  {}
func (NoopObserver) OnStepCompleted(context.Context, RunInfo, string, int, error, time.Duration) {
}
func (NoopObserver) OnStepRetry(context.Context, RunInfo, string, int, time.Duration, any) {}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnPipelineStart(ctx context.Context, run RunInfo) {
	for _, o := range c.observers {
		o.OnPipelineStart(ctx, run)
	}
}

func (c *CompositeObserver) OnPipelineCompleted(ctx context.Context, sum RunSummary) {
	for _, o := range c.observers {
		o.OnPipelineCompleted(ctx, sum)
	}
}

func (c *CompositeObserver) OnPipelineFailed(ctx context.Context, sum RunSummary, err error) {
	for _, o := range c.observers {
		o.OnPipelineFailed(ctx, sum, err)
	}
}

func (c *CompositeObserver) OnStepStart(ctx context.Context, run RunInfo, stepName string, idx int) {
	for _, o := range c.observers {
		o.OnStepStart(ctx, run, stepName, idx)
	}
}

func (c *CompositeObserver) OnStepCompleted(ctx context.Context, run RunInfo, stepName string, idx int, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnStepCompleted(ctx, run, stepName, idx, err, d)
	}
}

func (c *CompositeObserver) OnStepRetry(ctx context.Context, run RunInfo, stepName string, attempt int, delay time.Duration, reason any) {
	for _, o := range c.observers {
		o.OnStepRetry(ctx, run, stepName, attempt, delay, reason)
	}
}

func (c *CompositeObserver) OnRollback(ctx context.Context, run RunInfo, stepName string, err error) {
	for _, o := range c.observers {
		o.OnRollback(ctx, run, stepName, err)
	}
}

func (c *CompositeObserver) OnCleanupFailed(ctx context.Context, run RunInfo, name string, err error) {
	for _, o := range c.observers {
		o.OnCleanupFailed(ctx, run, name, err)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs pipeline / step lifecycle
// events using the provided slog.Logger. If logger is nil, slog.Default()
// is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnPipelineStart(ctx context.Context, run RunInfo) {
	o.Logger.InfoContext(ctx, "pipeline_start",
		slog.String("pipeline", run.Pipeline),
		slog.String("run_id", run.ID),
	)
}

func (o *LoggingObserver) OnPipelineCompleted(ctx context.Context, sum RunSummary) {
	o.Logger.InfoContext(ctx, "pipeline_completed",
		slog.String("pipeline", sum.Pipeline),
		slog.String("run_id", sum.ID),
		slog.Int("steps", len(sum.Completed)),
		slog.Duration("duration", sum.Duration()),
	)
}

func (o *LoggingObserver) OnPipelineFailed(ctx context.Context, sum RunSummary, err error) {
	o.Logger.ErrorContext(ctx, "pipeline_failed",
		slog.String("pipeline", sum.Pipeline),
		slog.String("run_id", sum.ID),
		slog.String("status", string(sum.Status)),
		slog.Any("pending", sum.Pending),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnStepStart(ctx context.Context, run RunInfo, stepName string, idx int) {
	o.Logger.DebugContext(ctx, "step_start",
		slog.String("pipeline", run.Pipeline),
		slog.String("run_id", run.ID),
		slog.String("step", stepName),
		slog.Int("step_index", idx),
	)
}

func (o *LoggingObserver) OnStepCompleted(ctx context.Context, run RunInfo, stepName string, idx int, err error, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "step_completed",
		slog.String("pipeline", run.Pipeline),
		slog.String("run_id", run.ID),
		slog.String("step", stepName),
		slog.Int("step_index", idx),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnStepRetry(ctx context.Context, run RunInfo, stepName string, attempt int, delay time.Duration, reason any) {
	o.Logger.WarnContext(ctx, "step_retry",
		slog.String("pipeline", run.Pipeline),
		slog.String("run_id", run.ID),
		slog.String("step", stepName),
		slog.Int("attempt", attempt),
		slog.Duration("delay", delay),
		slog.Any("reason", reason),
	)
}

func (o *LoggingObserver) OnRollback(ctx context.Context, run RunInfo, stepName string, err error) {
	level := slog.LevelInfo
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "step_rollback",
		slog.String("pipeline", run.Pipeline),
		slog.String("run_id", run.ID),
		slog.String("step", stepName),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnCleanupFailed(ctx context.Context, run RunInfo, name string, err error) {
	o.Logger.ErrorContext(ctx, "cleanup_failed",
		slog.String("pipeline", run.Pipeline),
		slog.String("run_id", run.ID),
		slog.String("cleanup", name),
		slog.Any("error", err),
	)
}

// BasicMetrics collects simple counters and aggregate step durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	runsStarted       atomic.Int64
	runsCompleted     atomic.Int64
	runsFailed        atomic.Int64
	stepsCompleted    atomic.Int64
	stepsFailed       atomic.Int64
	retries           atomic.Int64
	rollbacks         atomic.Int64
	totalStepDuration atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	RunsStarted   int64
	RunsCompleted int64
	RunsFailed    int64
	InFlight      int64

	StepsCompleted  int64
	StepsFailed     int64
	Retries         int64
	Rollbacks       int64
	AvgStepDuration time.Duration
}

func (m *BasicMetrics) OnPipelineStart(context.Context, RunInfo) {
	m.runsStarted.Add(1)
}

func (m *BasicMetrics) OnPipelineCompleted(context.Context, RunSummary) {
	m.runsCompleted.Add(1)
}

func (m *BasicMetrics) OnPipelineFailed(context.Context, RunSummary, error) {
	m.runsFailed.Add(1)
}

func (m *BasicMetrics) OnStepCompleted(_ context.Context, _ RunInfo, _ string, _ int, err error, d time.Duration) {
	// Only successful steps count toward the average duration.
	if err != nil {
		m.stepsFailed.Add(1)
		return
	}
	m.stepsCompleted.Add(1)
	m.totalStepDuration.Add(d.Nanoseconds())
}

func (m *BasicMetrics) OnStepRetry(context.Context, RunInfo, string, int, time.Duration, any) {
	m.retries.Add(1)
}

func (m *BasicMetrics) OnRollback(context.Context, RunInfo, string, error) {
	m.rollbacks.Add(1)
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.runsStarted.Load()
	completed := m.runsCompleted.Load()
	failed := m.runsFailed.Load()
	steps := m.stepsCompleted.Load()
	totalNs := m.totalStepDuration.Load()

	var avg time.Duration
	if steps > 0 {
		avg = time.Duration(totalNs / steps)
	}

	return BasicMetricsSnapshot{
		RunsStarted:     started,
		RunsCompleted:   completed,
		RunsFailed:      failed,
		InFlight:        started - completed - failed,
		StepsCompleted:  steps,
		StepsFailed:     m.stepsFailed.Load(),
		Retries:         m.retries.Load(),
		Rollbacks:       m.rollbacks.Load(),
		AvgStepDuration: avg,
	}
}
