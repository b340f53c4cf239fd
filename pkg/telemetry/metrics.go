package telemetry

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/petrijr/conduit/pkg/api"
)

// MetricsObserver records pipeline metrics as Prometheus collectors.
type MetricsObserver struct {
	RunsTotal       *prometheus.CounterVec
	RunDuration     *prometheus.HistogramVec
	RunsInFlight    *prometheus.GaugeVec
	StepDuration    *prometheus.HistogramVec
	StepRetries     *prometheus.CounterVec
	Rollbacks       *prometheus.CounterVec
	CleanupFailures *prometheus.CounterVec
}

var _ api.Observer = (*MetricsObserver)(nil)

// NewMetricsObserver creates the collectors under namespace (default
// "conduit") and registers them on reg. A nil reg registers nothing, which
// is useful when the caller wants to register the collectors itself.
func NewMetricsObserver(reg prometheus.Registerer, namespace string) (*MetricsObserver, error) {
	if namespace == "" {
		namespace = "conduit"
	}

	m := &MetricsObserver{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of finished pipeline runs",
		}, []string{"pipeline", "status"}),

		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of pipeline runs in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"pipeline"}),

		RunsInFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_in_flight",
			Help:      "Number of pipeline runs currently executing",
		}, []string{"pipeline"}),

		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of step executions in seconds, retries included",
			Buckets:   prometheus.DefBuckets,
		}, []string{"pipeline", "step", "result"}),

		StepRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_retries_total",
			Help:      "Total number of step retry attempts",
		}, []string{"pipeline", "step"}),

		Rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "Total number of compensations run",
		}, []string{"pipeline", "step", "result"}),

		CleanupFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_failures_total",
			Help:      "Total number of failed ensure cleanups",
		}, []string{"pipeline"}),
	}

	if reg != nil {
		for _, c := range m.Collectors() {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

// Collectors returns every collector owned by the observer.
func (m *MetricsObserver) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.RunsTotal,
		m.RunDuration,
		m.RunsInFlight,
		m.StepDuration,
		m.StepRetries,
		m.Rollbacks,
		m.CleanupFailures,
	}
}

// pipelineLabel is the dotted telemetry prefix, or the pipeline name when
// no prefix is configured.
func pipelineLabel(run api.RunInfo) string {
	return run.SpanName()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *MetricsObserver) OnPipelineStart(_ context.Context, run api.RunInfo) {
	m.RunsInFlight.WithLabelValues(pipelineLabel(run)).Inc()
}

func (m *MetricsObserver) finish(sum api.RunSummary) {
	m.RunsInFlight.WithLabelValues(pipelineLabel(sum.RunInfo)).Dec()
	m.RunsTotal.WithLabelValues(pipelineLabel(sum.RunInfo), string(sum.Status)).Inc()
	if !sum.StartedAt.IsZero() && !sum.FinishedAt.IsZero() {
		m.RunDuration.WithLabelValues(pipelineLabel(sum.RunInfo)).Observe(sum.Duration().Seconds())
	}
}

func (m *MetricsObserver) OnPipelineCompleted(_ context.Context, sum api.RunSummary) {
	m.finish(sum)
}

func (m *MetricsObserver) OnPipelineFailed(_ context.Context, sum api.RunSummary, _ error) {
	m.finish(sum)
}

func (m *MetricsObserver) OnStepStart(context.Context, api.RunInfo, string, int) {}

func (m *MetricsObserver) OnStepCompleted(_ context.Context, run api.RunInfo, stepName string, _ int, err error, d time.Duration) {
	m.StepDuration.WithLabelValues(pipelineLabel(run), stepName, result(err)).Observe(d.Seconds())
}

func (m *MetricsObserver) OnStepRetry(_ context.Context, run api.RunInfo, stepName string, _ int, _ time.Duration, _ any) {
	m.StepRetries.WithLabelValues(pipelineLabel(run), stepName).Inc()
}

func (m *MetricsObserver) OnRollback(_ context.Context, run api.RunInfo, stepName string, err error) {
	m.Rollbacks.WithLabelValues(pipelineLabel(run), stepName, result(err)).Inc()
}

func (m *MetricsObserver) OnCleanupFailed(_ context.Context, run api.RunInfo, _ string, _ error) {
	m.CleanupFailures.WithLabelValues(pipelineLabel(run)).Inc()
}
