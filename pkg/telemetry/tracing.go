// Package telemetry exports pipeline lifecycle events to OpenTelemetry and
// Prometheus. Both exporters are api.Observer implementations and can be
// combined with api.NewCompositeObserver.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petrijr/conduit/pkg/api"
)

const instrumentationName = "github.com/petrijr/conduit"

// TracingObserver opens one span per run and a child span per executed step.
// Span names come from RunInfo.SpanName, so a telemetry prefix of
// ["shop", "checkout"] yields "shop.checkout.run" and "shop.checkout.step.charge".
type TracingObserver struct {
	tracer trace.Tracer
	runs   sync.Map // run ID -> *runSpans
}

type runSpans struct {
	mu   sync.Mutex
	run  trace.Span
	step trace.Span
}

var _ api.Observer = (*TracingObserver)(nil)

// NewTracingObserver creates a TracingObserver. If tracer is nil, the global
// tracer provider is used.
func NewTracingObserver(tracer trace.Tracer) *TracingObserver {
	if tracer == nil {
		tracer = otel.GetTracerProvider().Tracer(instrumentationName)
	}
	return &TracingObserver{tracer: tracer}
}

func runAttributes(run api.RunInfo) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("pipeline.name", run.Pipeline),
		attribute.String("pipeline.run_id", run.ID),
	}
	for k, v := range run.Metadata {
		attrs = append(attrs, attribute.String("pipeline.metadata."+k, fmt.Sprint(v)))
	}
	return attrs
}

func recordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func (o *TracingObserver) lookup(id string) (*runSpans, bool) {
	v, ok := o.runs.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*runSpans), true
}

// parent returns the context carrying the run span when the run is still
// open, or ctx unchanged.
func (o *TracingObserver) parent(ctx context.Context, run api.RunInfo) context.Context {
	if rs, ok := o.lookup(run.ID); ok {
		return trace.ContextWithSpan(ctx, rs.run)
	}
	return ctx
}

func (o *TracingObserver) OnPipelineStart(ctx context.Context, run api.RunInfo) {
	_, span := o.tracer.Start(ctx, run.SpanName("run"),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(runAttributes(run)...),
	)
	o.runs.Store(run.ID, &runSpans{run: span})
}

func (o *TracingObserver) endRun(sum api.RunSummary, err error) {
	v, ok := o.runs.LoadAndDelete(sum.ID)
	if !ok {
		return
	}
	rs := v.(*runSpans)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.step != nil {
		rs.step.End()
		rs.step = nil
	}
	rs.run.SetAttributes(
		attribute.String("pipeline.status", string(sum.Status)),
		attribute.Int("pipeline.steps.completed", len(sum.Completed)),
		attribute.Int("pipeline.steps.pending", len(sum.Pending)),
	)
	if err != nil {
		recordError(rs.run, err)
	} else {
		rs.run.SetStatus(codes.Ok, "")
	}
	rs.run.End()
}

func (o *TracingObserver) OnPipelineCompleted(_ context.Context, sum api.RunSummary) {
	o.endRun(sum, nil)
}

func (o *TracingObserver) OnPipelineFailed(_ context.Context, sum api.RunSummary, err error) {
	o.endRun(sum, err)
}

func (o *TracingObserver) OnStepStart(ctx context.Context, run api.RunInfo, stepName string, idx int) {
	rs, ok := o.lookup(run.ID)
	if !ok {
		return
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.step != nil {
		rs.step.End()
	}
	_, rs.step = o.tracer.Start(trace.ContextWithSpan(ctx, rs.run), run.SpanName("step", stepName),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("pipeline.name", run.Pipeline),
			attribute.String("pipeline.step.name", stepName),
			attribute.Int("pipeline.step.index", idx),
		),
	)
}

func (o *TracingObserver) OnStepCompleted(_ context.Context, run api.RunInfo, _ string, _ int, err error, d time.Duration) {
	rs, ok := o.lookup(run.ID)
	if !ok {
		return
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.step == nil {
		return
	}
	rs.step.SetAttributes(attribute.Int64("pipeline.step.duration_ms", d.Milliseconds()))
	if err != nil {
		recordError(rs.step, err)
	} else {
		rs.step.SetStatus(codes.Ok, "")
	}
	rs.step.End()
	rs.step = nil
}

func (o *TracingObserver) OnStepRetry(_ context.Context, run api.RunInfo, stepName string, attempt int, delay time.Duration, reason any) {
	rs, ok := o.lookup(run.ID)
	if !ok {
		return
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.step == nil {
		return
	}
	rs.step.AddEvent("retry", trace.WithAttributes(
		attribute.String("pipeline.step.name", stepName),
		attribute.Int("retry.attempt", attempt),
		attribute.String("retry.delay", delay.String()),
		attribute.String("retry.reason", fmt.Sprint(reason)),
	))
}

// OnRollback records compensation as its own short span. Rollback may run
// after the run span has ended, in which case the span has no parent.
func (o *TracingObserver) OnRollback(ctx context.Context, run api.RunInfo, stepName string, err error) {
	_, span := o.tracer.Start(o.parent(ctx, run), run.SpanName("rollback", stepName),
		trace.WithAttributes(
			attribute.String("pipeline.name", run.Pipeline),
			attribute.String("pipeline.run_id", run.ID),
			attribute.String("pipeline.step.name", stepName),
		),
	)
	recordError(span, err)
	span.End()
}

func (o *TracingObserver) OnCleanupFailed(ctx context.Context, run api.RunInfo, name string, err error) {
	_, span := o.tracer.Start(o.parent(ctx, run), run.SpanName("cleanup", name),
		trace.WithAttributes(
			attribute.String("pipeline.name", run.Pipeline),
			attribute.String("pipeline.run_id", run.ID),
			attribute.String("pipeline.cleanup.name", name),
		),
	)
	recordError(span, err)
	span.End()
}

// ActiveRuns reports how many runs currently have an open span.
func (o *TracingObserver) ActiveRuns() int {
	n := 0
	o.runs.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
