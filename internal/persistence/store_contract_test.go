package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/petrijr/conduit/pkg/api"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleRecord(id, pipeline string, status api.Status, offset time.Duration) RunRecord {
	payload, err := EncodeContext(api.NewContext("order_id", "o-1", "total", 120))
	if err != nil {
		panic(err)
	}
	return RunRecord{
		ID:         id,
		Pipeline:   pipeline,
		Status:     status,
		Completed:  []string{"validate", "charge"},
		Pending:    []string{"ship"},
		Error:      "",
		Context:    payload,
		StartedAt:  baseTime.Add(offset),
		FinishedAt: baseTime.Add(offset + time.Second),
	}
}

// testRunStoreContract exercises the behavior every RunStore must share.
func testRunStoreContract(t *testing.T, store RunStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		_, err := store.GetRun(ctx, "does-not-exist")
		if !errors.Is(err, ErrRunNotFound) {
			t.Fatalf("expected ErrRunNotFound, got %v", err)
		}
	})

	t.Run("save and get", func(t *testing.T) {
		rec := sampleRecord("run-1", "checkout", api.StatusFailed, 0)
		rec.Error = `step "ship" failed: carrier down`
		if err := store.SaveRun(ctx, rec); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}

		got, err := store.GetRun(ctx, "run-1")
		if err != nil {
			t.Fatalf("GetRun failed: %v", err)
		}
		if got.Pipeline != "checkout" || got.Status != api.StatusFailed {
			t.Fatalf("unexpected record: %+v", got)
		}
		if len(got.Completed) != 2 || got.Completed[1] != "charge" {
			t.Fatalf("unexpected completed steps: %v", got.Completed)
		}
		if len(got.Pending) != 1 || got.Pending[0] != "ship" {
			t.Fatalf("unexpected pending steps: %v", got.Pending)
		}
		if got.Error != rec.Error {
			t.Fatalf("expected error %q, got %q", rec.Error, got.Error)
		}
		if !got.StartedAt.Equal(rec.StartedAt) || !got.FinishedAt.Equal(rec.FinishedAt) {
			t.Fatalf("timestamps not preserved: %v / %v", got.StartedAt, got.FinishedAt)
		}

		snap, err := got.Snapshot()
		if err != nil {
			t.Fatalf("Snapshot failed: %v", err)
		}
		if snap.Get("order_id") != "o-1" || snap.Get("total") != 120 {
			t.Fatalf("unexpected snapshot: %v", snap)
		}
	})

	t.Run("save replaces", func(t *testing.T) {
		rec := sampleRecord("run-2", "checkout", api.StatusRunning, time.Minute)
		rec.Completed, rec.Pending, rec.FinishedAt = nil, nil, time.Time{}
		if err := store.SaveRun(ctx, rec); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}
		got, err := store.GetRun(ctx, "run-2")
		if err != nil {
			t.Fatalf("GetRun failed: %v", err)
		}
		if len(got.Completed) != 0 || !got.FinishedAt.IsZero() {
			t.Fatalf("expected empty running record, got %+v", got)
		}

		rec.Status = api.StatusCompleted
		rec.Completed = []string{"validate"}
		rec.FinishedAt = rec.StartedAt.Add(2 * time.Second)
		if err := store.SaveRun(ctx, rec); err != nil {
			t.Fatalf("SaveRun (update) failed: %v", err)
		}
		got, err = store.GetRun(ctx, "run-2")
		if err != nil {
			t.Fatalf("GetRun failed: %v", err)
		}
		if got.Status != api.StatusCompleted || len(got.Completed) != 1 {
			t.Fatalf("update not applied: %+v", got)
		}
	})

	t.Run("list and filter", func(t *testing.T) {
		if err := store.SaveRun(ctx, sampleRecord("run-3", "refund", api.StatusCompleted, 2*time.Minute)); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}

		all, err := store.ListRuns(ctx, RunFilter{})
		if err != nil {
			t.Fatalf("ListRuns failed: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("expected 3 runs, got %d", len(all))
		}
		for i, want := range []string{"run-1", "run-2", "run-3"} {
			if all[i].ID != want {
				t.Fatalf("expected runs ordered by start time, got %q at %d", all[i].ID, i)
			}
		}

		byPipeline, err := store.ListRuns(ctx, RunFilter{Pipeline: "checkout"})
		if err != nil {
			t.Fatalf("ListRuns failed: %v", err)
		}
		if len(byPipeline) != 2 {
			t.Fatalf("expected 2 checkout runs, got %d", len(byPipeline))
		}

		// run-2 moved from RUNNING to COMPLETED and must not show up as running.
		running, err := store.ListRuns(ctx, RunFilter{Status: api.StatusRunning})
		if err != nil {
			t.Fatalf("ListRuns failed: %v", err)
		}
		if len(running) != 0 {
			t.Fatalf("expected no running runs, got %+v", running)
		}

		both, err := store.ListRuns(ctx, RunFilter{Pipeline: "checkout", Status: api.StatusCompleted})
		if err != nil {
			t.Fatalf("ListRuns failed: %v", err)
		}
		if len(both) != 1 || both[0].ID != "run-2" {
			t.Fatalf("expected only run-2, got %+v", both)
		}
	})
}

func testEventStoreContract(t *testing.T, store EventStore) {
	t.Helper()
	ctx := context.Background()

	events := []api.RunEvent{
		{RunID: "run-1", At: baseTime, Type: api.EventPipelineStarted, Pipeline: "checkout"},
		{RunID: "run-1", At: baseTime.Add(time.Millisecond), Type: api.EventStepStarted, Pipeline: "checkout", Step: "charge"},
		{RunID: "run-2", At: baseTime, Type: api.EventPipelineStarted, Pipeline: "refund"},
		{RunID: "run-1", At: baseTime.Add(2 * time.Millisecond), Type: api.EventStepFailed, Pipeline: "checkout", Step: "charge", Detail: "declined"},
	}
	for _, ev := range events {
		if err := store.AppendEvent(ctx, ev); err != nil {
			t.Fatalf("AppendEvent failed: %v", err)
		}
	}

	got, err := store.ListEvents(ctx, "run-1")
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events for run-1, got %d", len(got))
	}
	if got[0].Type != api.EventPipelineStarted || got[2].Type != api.EventStepFailed {
		t.Fatalf("events out of order: %+v", got)
	}
	if got[2].Step != "charge" || got[2].Detail != "declined" {
		t.Fatalf("unexpected event payload: %+v", got[2])
	}

	none, err := store.ListEvents(ctx, "unknown")
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no events, got %d", len(none))
	}
}
