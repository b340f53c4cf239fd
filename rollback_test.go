package conduit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/conduit/internal/testutil"
	"github.com/petrijr/conduit/pkg/api"
)

type inventory struct {
	mu    sync.Mutex
	stock int
}

func (i *inventory) reserve(n int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.stock -= n
}

func (i *inventory) release(n int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.stock += n
}

func (i *inventory) level() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.stock
}

func TestRunWithRollback_ReserveThenFailedPaymentRestoresInventory(t *testing.T) {
	inv := &inventory{stock: 10}

	p := New(map[string]any{"qty": 3}).
		Step("reserve", func(_ context.Context, c api.Context) api.Outcome {
			qty, _ := api.Value[int](c, "qty")
			inv.reserve(qty)
			return api.Ok(map[string]any{"reserved": qty})
		}, WithRollback(func(_ context.Context, c api.Context) error {
			qty, _ := api.Value[int](c, "reserved")
			inv.release(qty)
			return nil
		})).
		Step("pay", failWith("card_declined"))

	_, err := p.RunWithRollback(context.Background())

	reason, ok := api.ReasonOf(err)
	require.True(t, ok)
	require.Equal(t, "card_declined", reason)
	require.Equal(t, 10, inv.level())
}

func TestRunWithRollback_LIFOWithOwnSnapshots(t *testing.T) {
	var (
		order     []string
		snapshots = map[string]int{}
	)
	undo := func(name string) StepOption {
		return WithRollback(func(_ context.Context, c api.Context) error {
			order = append(order, name)
			snapshots[name], _ = api.Value[int](c, "x")
			return nil
		})
	}

	out := New(map[string]any{"x": 0}).
		Step("s1", addTo("x", 1), undo("s1")).
		Step("s2", addTo("x", 1), undo("s2")).
		Step("plain", addTo("x", 1)).
		Step("s3", addTo("x", 1), undo("s3")).
		Step("fail", failWith("stop")).
		ExecuteWithRollback(context.Background())

	require.True(t, out.Halted())
	require.Equal(t, []string{"s3", "s2", "s1"}, order)
	require.Equal(t, map[string]int{"s1": 1, "s2": 2, "s3": 4}, snapshots)
	require.Equal(t, []string{"s3", "s2", "s1"}, out.Compensated())

	var stepErr *api.StepError
	require.ErrorAs(t, out.Err(), &stepErr)
	require.Equal(t, "fail", stepErr.Step)
}

func TestRunWithRollback_SuccessInvokesNoRollback(t *testing.T) {
	var called atomic.Bool
	out := New(map[string]any{"x": 0}).
		Step("s1", addTo("x", 1), WithRollback(func(context.Context, api.Context) error {
			called.Store(true)
			return nil
		})).
		ExecuteWithRollback(context.Background())

	require.False(t, out.Halted())
	require.False(t, called.Load())
	require.Nil(t, out.Compensated())
}

func TestRunWithRollback_FailingCompensationDoesNotStopUnwind(t *testing.T) {
	obs := &testutil.RecordingObserver{}
	var firstUndone atomic.Bool
	undoErr := errors.New("refund service down")

	out := New(nil, WithObserver(obs)).
		Step("first", addTo("x", 1), WithRollback(func(context.Context, api.Context) error {
			firstUndone.Store(true)
			return nil
		})).
		Step("second", addTo("x", 1), WithRollback(func(context.Context, api.Context) error {
			return undoErr
		})).
		Step("third", addTo("x", 1), WithRollback(func(context.Context, api.Context) error {
			panic("compensation bug")
		})).
		Step("boom", failWith("boom")).
		ExecuteWithRollback(context.Background())

	require.True(t, firstUndone.Load())
	require.Equal(t, []string{"third", "second", "first"}, out.Compensated())

	var rbErr *api.RollbackError
	require.ErrorAs(t, out.Err(), &rbErr)
	require.Len(t, rbErr.Failures, 2)
	require.Equal(t, "third", rbErr.Failures[0].Step)
	require.Equal(t, "second", rbErr.Failures[1].Step)
	require.ErrorIs(t, out.Err(), undoErr)

	var pe *api.PanicError
	require.ErrorAs(t, rbErr.Failures[0].Err, &pe)

	// The original step failure stays reachable.
	step, ok := api.FailedStep(out.Err())
	require.True(t, ok)
	require.Equal(t, "boom", step)

	require.Contains(t, obs.Events(), "rollback_failed:second")
	require.Contains(t, obs.Events(), "rollback:first")
}

func TestRunWithRollback_AlreadyHaltedUnwindsOnce(t *testing.T) {
	var undone atomic.Int32
	halted := New(nil).
		Step("ok", addTo("x", 1), WithRollback(func(context.Context, api.Context) error {
			undone.Add(1)
			return nil
		})).
		Step("bad", failWith("bad")).
		Execute(context.Background())
	require.True(t, halted.Halted())
	require.Zero(t, undone.Load())

	rolled := halted.ExecuteWithRollback(context.Background())
	require.Equal(t, int32(1), undone.Load())
	require.Equal(t, []string{"ok"}, rolled.Compensated())

	rolled.ExecuteWithRollback(context.Background())
	require.Equal(t, int32(1), undone.Load())
}

func TestRunWithRollback_CancelledContextStillCompensates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var undone atomic.Bool

	out := New(nil).
		Step("reserve", addTo("x", 1), WithRollback(func(ctx context.Context, _ api.Context) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			undone.Store(true)
			return nil
		})).
		Step("cancel", func(context.Context, api.Context) api.Outcome {
			cancel()
			return api.Fail("cancelled by caller")
		}).
		ExecuteWithRollback(ctx)

	require.True(t, out.Halted())
	require.True(t, undone.Load())
}

func TestRunWithRollback_RestoreAndFailAgainCompensatesOnce(t *testing.T) {
	inv := &inventory{stock: 10}
	var released atomic.Int32

	p := New(map[string]any{"qty": 1}).
		Checkpoint("start").
		Step("reserve", func(_ context.Context, c api.Context) api.Outcome {
			qty, _ := api.Value[int](c, "qty")
			inv.reserve(qty)
			return api.Ok(map[string]any{"reserved": qty})
		}, WithRollback(func(_ context.Context, c api.Context) error {
			qty, _ := api.Value[int](c, "reserved")
			released.Add(1)
			inv.release(qty)
			return nil
		})).
		Step("pay", failWith("card_declined"))

	first := p.ExecuteWithRollback(context.Background())
	require.True(t, first.Halted())
	require.Equal(t, 10, inv.level())
	require.Equal(t, int32(1), released.Load())

	second := first.RollbackTo("start").ExecuteWithRollback(context.Background())
	require.True(t, second.Halted())
	require.Equal(t, 10, inv.level())
	require.Equal(t, int32(1), released.Load())
	require.Equal(t, []string{"reserve"}, second.CompletedSteps())
	require.Empty(t, second.Compensated())
}

func TestRunWithRollback_StepsAfterRestoreAreStillCompensated(t *testing.T) {
	var undone []string
	undo := func(name string) RollbackFunc {
		return func(context.Context, api.Context) error {
			undone = append(undone, name)
			return nil
		}
	}
	payAttempts := 0
	pay := func(context.Context, api.Context) api.Outcome {
		payAttempts++
		if payAttempts == 1 {
			return api.Fail("gateway_down")
		}
		return api.Ack()
	}

	first := New(nil).
		Checkpoint("start").
		Step("reserve", addTo("x", 1), WithRollback(undo("reserve"))).
		Step("pay", pay).
		Step("book", addTo("y", 1), WithRollback(undo("book"))).
		Step("confirm", failWith("rejected")).
		ExecuteWithRollback(context.Background())
	require.Equal(t, []string{"reserve"}, undone)

	second := first.RollbackTo("start").ExecuteWithRollback(context.Background())

	require.True(t, second.Halted())
	require.Equal(t, []string{"reserve", "book"}, undone)
	require.Equal(t, []string{"book"}, second.Compensated())
}

func TestRunWithRollback_HaltWithoutFailedStepIsNotCompensated(t *testing.T) {
	var undone atomic.Int32
	done := New(nil).
		Step("a", addTo("x", 1), WithRollback(func(context.Context, api.Context) error {
			undone.Add(1)
			return nil
		})).
		Execute(context.Background())
	require.NoError(t, done.Err())

	out := done.RollbackTo("nope").ExecuteWithRollback(context.Background())

	var cpErr *api.CheckpointNotFoundError
	require.ErrorAs(t, out.Err(), &cpErr)
	require.Zero(t, undone.Load())
	require.Nil(t, out.Compensated())
}
