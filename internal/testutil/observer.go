package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/petrijr/conduit/pkg/api"
)

// RecordingObserver records every callback as a short string such as
// "step_start:charge" so tests can assert on event order.
type RecordingObserver struct {
	mu        sync.Mutex
	events    []string
	summaries []api.RunSummary
	runs      []api.RunInfo
}

var _ api.Observer = (*RecordingObserver)(nil)

func (o *RecordingObserver) record(ev string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, ev)
}

// Events returns a copy of the recorded events.
func (o *RecordingObserver) Events() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.events...)
}

// Summaries returns the summaries passed to OnPipelineCompleted and
// OnPipelineFailed.
func (o *RecordingObserver) Summaries() []api.RunSummary {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]api.RunSummary(nil), o.summaries...)
}

// Runs returns the RunInfo values passed to OnPipelineStart.
func (o *RecordingObserver) Runs() []api.RunInfo {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]api.RunInfo(nil), o.runs...)
}

func (o *RecordingObserver) OnPipelineStart(_ context.Context, run api.RunInfo) {
	o.mu.Lock()
	o.runs = append(o.runs, run)
	o.mu.Unlock()
	o.record("pipeline_start")
}

func (o *RecordingObserver) OnPipelineCompleted(_ context.Context, sum api.RunSummary) {
	o.mu.Lock()
	o.summaries = append(o.summaries, sum)
	o.mu.Unlock()
	o.record("pipeline_completed")
}

func (o *RecordingObserver) OnPipelineFailed(_ context.Context, sum api.RunSummary, _ error) {
	o.mu.Lock()
	o.summaries = append(o.summaries, sum)
	o.mu.Unlock()
	o.record("pipeline_failed")
}

func (o *RecordingObserver) OnStepStart(_ context.Context, _ api.RunInfo, step string, _ int) {
	o.record("step_start:" + step)
}

func (o *RecordingObserver) OnStepCompleted(_ context.Context, _ api.RunInfo, step string, _ int, err error, _ time.Duration) {
	if err != nil {
		o.record("step_failed:" + step)
		return
	}
	o.record("step_completed:" + step)
}

func (o *RecordingObserver) OnStepRetry(_ context.Context, _ api.RunInfo, step string, attempt int, _ time.Duration, _ any) {
	o.record(fmt.Sprintf("step_retry:%s:%d", step, attempt))
}

func (o *RecordingObserver) OnRollback(_ context.Context, _ api.RunInfo, step string, err error) {
	if err != nil {
		o.record("rollback_failed:" + step)
		return
	}
	o.record("rollback:" + step)
}

func (o *RecordingObserver) OnCleanupFailed(_ context.Context, _ api.RunInfo, name string, _ error) {
	o.record("cleanup_failed:" + name)
}
