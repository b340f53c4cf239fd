package persistence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/petrijr/conduit/pkg/api"
)

// Recorder is an Observer that writes run records and history events to
// the configured stores. Store errors never fail a run; they are logged.
// Writes ignore cancellation of the run context, so a cancelled or timed
// out run still leaves a final record.
type Recorder struct {
	runs   RunStore
	events EventStore
	logger *slog.Logger
	now    func() time.Time
}

var _ api.Observer = (*Recorder)(nil)

// NewRecorder creates a Recorder. events may be nil, in which case only
// run records are written. A nil logger falls back to slog.Default().
func NewRecorder(runs RunStore, events EventStore, logger *slog.Logger) *Recorder {
	if events == nil {
		events = NoopEventStore{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		runs:   runs,
		events: events,
		logger: logger,
		now:    time.Now,
	}
}

func (r *Recorder) saveRun(ctx context.Context, rec RunRecord) {
	if r.runs == nil {
		return
	}
	if err := r.runs.SaveRun(context.WithoutCancel(ctx), rec); err != nil {
		r.logger.WarnContext(ctx, "run_store_save_failed",
			slog.String("run_id", rec.ID),
			slog.String("pipeline", rec.Pipeline),
			slog.Any("error", err),
		)
	}
}

func (r *Recorder) append(ctx context.Context, run api.RunInfo, typ api.EventType, step, detail string) {
	ev := api.RunEvent{
		RunID:    run.ID,
		At:       r.now(),
		Type:     typ,
		Pipeline: run.Pipeline,
		Step:     step,
		Detail:   detail,
	}
	if err := r.events.AppendEvent(context.WithoutCancel(ctx), ev); err != nil {
		r.logger.WarnContext(ctx, "event_store_append_failed",
			slog.String("run_id", run.ID),
			slog.String("type", string(typ)),
			slog.Any("error", err),
		)
	}
}

func (r *Recorder) finish(ctx context.Context, sum api.RunSummary, typ api.EventType) {
	rec, err := NewRunRecord(sum)
	if err != nil {
		// Keep the audit trail even when a context value cannot be encoded.
		r.logger.WarnContext(ctx, "run_context_encode_failed",
			slog.String("run_id", sum.ID),
			slog.Any("error", err),
		)
		rec.Context = nil
		rec.ID, rec.Pipeline, rec.Status = sum.ID, sum.Pipeline, sum.Status
		rec.Completed, rec.Pending = sum.Completed, sum.Pending
		rec.StartedAt, rec.FinishedAt = sum.StartedAt, sum.FinishedAt
		if sum.Err != nil {
			rec.Error = sum.Err.Error()
		}
	}
	r.saveRun(ctx, rec)
	r.append(ctx, sum.RunInfo, typ, "", rec.Error)
}

func (r *Recorder) OnPipelineStart(ctx context.Context, run api.RunInfo) {
	r.saveRun(ctx, RunRecord{
		ID:        run.ID,
		Pipeline:  run.Pipeline,
		Status:    api.StatusRunning,
		StartedAt: r.now(),
	})
	r.append(ctx, run, api.EventPipelineStarted, "", "")
}

func (r *Recorder) OnPipelineCompleted(ctx context.Context, sum api.RunSummary) {
	r.finish(ctx, sum, api.EventPipelineCompleted)
}

func (r *Recorder) OnPipelineFailed(ctx context.Context, sum api.RunSummary, _ error) {
	r.finish(ctx, sum, api.EventPipelineFailed)
}

func (r *Recorder) OnStepStart(ctx context.Context, run api.RunInfo, stepName string, idx int) {
	r.append(ctx, run, api.EventStepStarted, stepName, fmt.Sprintf("index=%d", idx))
}

func (r *Recorder) OnStepCompleted(ctx context.Context, run api.RunInfo, stepName string, _ int, err error, d time.Duration) {
	if err != nil {
		r.append(ctx, run, api.EventStepFailed, stepName, err.Error())
		return
	}
	r.append(ctx, run, api.EventStepCompleted, stepName, "duration="+d.String())
}

func (r *Recorder) OnStepRetry(ctx context.Context, run api.RunInfo, stepName string, attempt int, delay time.Duration, reason any) {
	r.append(ctx, run, api.EventStepRetried, stepName,
		fmt.Sprintf("attempt=%d delay=%s reason=%v", attempt, delay, reason))
}

func (r *Recorder) OnRollback(ctx context.Context, run api.RunInfo, stepName string, err error) {
	if err != nil {
		r.append(ctx, run, api.EventRollbackFailed, stepName, err.Error())
		return
	}
	r.append(ctx, run, api.EventStepRolledBack, stepName, "")
}

func (r *Recorder) OnCleanupFailed(ctx context.Context, run api.RunInfo, name string, err error) {
	r.append(ctx, run, api.EventCleanupFailed, name, err.Error())
}
