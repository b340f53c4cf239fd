package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/petrijr/conduit/pkg/api"
)

// GatedObserver forwards events to an inner observer until Close is called.
// A run abandoned on timeout keeps executing on its own goroutine until its
// next step boundary; closing the gate keeps those late events away from
// observers that were already told how the run ended.
type GatedObserver struct {
	inner  api.Observer
	closed atomic.Bool
}

var _ api.Observer = (*GatedObserver)(nil)

func NewGatedObserver(inner api.Observer) *GatedObserver {
	if inner == nil {
		inner = api.NoopObserver{}
	}
	return &GatedObserver{inner: inner}
}

// Close drops every event raised from now on. Events already being
// delivered finish normally.
func (g *GatedObserver) Close() {
	g.closed.Store(true)
}

func (g *GatedObserver) open() bool {
	return !g.closed.Load()
}

func (g *GatedObserver) OnPipelineStart(ctx context.Context, run api.RunInfo) {
	if g.open() {
		g.inner.OnPipelineStart(ctx, run)
	}
}

func (g *GatedObserver) OnPipelineCompleted(ctx context.Context, sum api.RunSummary) {
	if g.open() {
		g.inner.OnPipelineCompleted(ctx, sum)
	}
}

func (g *GatedObserver) OnPipelineFailed(ctx context.Context, sum api.RunSummary, err error) {
	if g.open() {
		g.inner.OnPipelineFailed(ctx, sum, err)
	}
}

func (g *GatedObserver) OnStepStart(ctx context.Context, run api.RunInfo, stepName string, stepIndex int) {
	if g.open() {
		g.inner.OnStepStart(ctx, run, stepName, stepIndex)
	}
}

func (g *GatedObserver) OnStepCompleted(ctx context.Context, run api.RunInfo, stepName string, stepIndex int, err error, d time.Duration) {
	if g.open() {
		g.inner.OnStepCompleted(ctx, run, stepName, stepIndex, err, d)
	}
}

func (g *GatedObserver) OnStepRetry(ctx context.Context, run api.RunInfo, stepName string, attempt int, delay time.Duration, reason any) {
	if g.open() {
		g.inner.OnStepRetry(ctx, run, stepName, attempt, delay, reason)
	}
}

func (g *GatedObserver) OnRollback(ctx context.Context, run api.RunInfo, stepName string, err error) {
	if g.open() {
		g.inner.OnRollback(ctx, run, stepName, err)
	}
}

func (g *GatedObserver) OnCleanupFailed(ctx context.Context, run api.RunInfo, name string, err error) {
	if g.open() {
		g.inner.OnCleanupFailed(ctx, run, name, err)
	}
}
