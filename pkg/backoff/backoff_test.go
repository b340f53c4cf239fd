package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const ms = time.Millisecond

func TestDelay_ExponentialCapsAtMax(t *testing.T) {
	s := Spec{Strategy: Exponential, InitialDelay: 100 * ms, MaxDelay: 500 * ms}

	var got []time.Duration
	for attempt := 1; attempt <= 5; attempt++ {
		got = append(got, Delay(s, attempt, 0))
	}

	require.Equal(t, []time.Duration{100 * ms, 200 * ms, 400 * ms, 500 * ms, 500 * ms}, got)
}

func TestDelay_ExponentialExplicitMultiplier(t *testing.T) {
	s := Spec{Strategy: Exponential, InitialDelay: 10 * ms, Multiplier: 3}

	require.Equal(t, 10*ms, Delay(s, 1, 0))
	require.Equal(t, 30*ms, Delay(s, 2, 0))
	require.Equal(t, 90*ms, Delay(s, 3, 0))
}

func TestDelay_MonotonicStrategies(t *testing.T) {
	for _, strategy := range []Strategy{Exponential, Linear, Constant} {
		t.Run(string(strategy), func(t *testing.T) {
			s := Spec{Strategy: strategy, InitialDelay: 50 * ms, MaxDelay: 1200 * ms}
			prev := time.Duration(0)
			for attempt := 1; attempt <= 40; attempt++ {
				d := Delay(s, attempt, prev)
				if d < prev {
					t.Fatalf("attempt %d: delay %v decreased from %v", attempt, d, prev)
				}
				if d > s.MaxDelay {
					t.Fatalf("attempt %d: delay %v exceeds max %v", attempt, d, s.MaxDelay)
				}
				prev = d
			}
		})
	}
}

func TestDelay_Linear(t *testing.T) {
	s := Spec{Strategy: Linear, InitialDelay: 100 * ms, MaxDelay: 250 * ms}

	require.Equal(t, 100*ms, Delay(s, 1, 0))
	require.Equal(t, 200*ms, Delay(s, 2, 0))
	require.Equal(t, 250*ms, Delay(s, 3, 0))
}

func TestDelay_ConstantIgnoresAttempt(t *testing.T) {
	s := Spec{Strategy: Constant, InitialDelay: 75 * ms}

	for attempt := 1; attempt <= 5; attempt++ {
		require.Equal(t, 75*ms, Delay(s, attempt, 0))
	}
}

func TestDelay_UncappedExponentialDoesNotOverflow(t *testing.T) {
	s := Spec{Strategy: Exponential, InitialDelay: time.Second}

	d := Delay(s, 500, 0)
	require.Positive(t, d)
}

func TestDelay_NonPositiveAttemptTreatedAsFirst(t *testing.T) {
	s := Spec{Strategy: Exponential, InitialDelay: 100 * ms}

	require.Equal(t, 100*ms, Delay(s, 0, 0))
	require.Equal(t, 100*ms, Delay(s, -3, 0))
}

func TestDelay_RandomStrategiesStayInBounds(t *testing.T) {
	initial := 100 * ms
	maxDelay := 2 * time.Second

	t.Run("decorrelated", func(t *testing.T) {
		s := Spec{Strategy: Decorrelated, InitialDelay: initial, MaxDelay: maxDelay}
		prev := time.Duration(0)
		for attempt := 1; attempt <= 200; attempt++ {
			d := Delay(s, attempt, prev)
			require.GreaterOrEqual(t, d, initial)
			require.LessOrEqual(t, d, maxDelay)
			if prev > 0 {
				require.LessOrEqual(t, d, max(initial, min(maxDelay, prev*3)))
			}
			prev = d
		}
	})

	t.Run("full_jitter", func(t *testing.T) {
		s := Spec{Strategy: FullJitter, InitialDelay: initial, MaxDelay: maxDelay}
		for attempt := 1; attempt <= 10; attempt++ {
			for range 50 {
				d := Delay(s, attempt, 0)
				ceiling := min(maxDelay, initial*time.Duration(1<<attempt))
				require.GreaterOrEqual(t, d, time.Duration(0))
				require.LessOrEqual(t, d, ceiling)
			}
		}
	})

	t.Run("equal_jitter", func(t *testing.T) {
		s := Spec{Strategy: EqualJitter, InitialDelay: initial, MaxDelay: maxDelay}
		for attempt := 1; attempt <= 10; attempt++ {
			half := min(maxDelay, initial*time.Duration(1<<(attempt-1)))
			for range 50 {
				d := Delay(s, attempt, 0)
				require.GreaterOrEqual(t, d, half/2)
				require.LessOrEqual(t, d, half)
			}
		}
	})
}

func TestDelay_CustomIsNotCapped(t *testing.T) {
	s := Spec{
		Strategy: Custom,
		MaxDelay: 10 * ms,
		Func: func(attempt int, _ Spec) time.Duration {
			return time.Duration(attempt) * time.Second
		},
	}

	require.Equal(t, 3*time.Second, Delay(s, 3, 0))
	require.Equal(t, 3*time.Second, Next(s, 3, 0))
}

func TestDelay_CustomNegativeClampedToZero(t *testing.T) {
	s := Spec{Strategy: Custom, Func: func(int, Spec) time.Duration { return -time.Second }}

	require.Equal(t, time.Duration(0), Delay(s, 1, 0))
}

func TestApplyJitter_Bounds(t *testing.T) {
	for _, factor := range []float64{0, 0.1, 0.25, 0.5, 0.9, 1} {
		lo := time.Duration(float64(1000*ms) * (1 - factor))
		hi := time.Duration(float64(1000*ms) * (1 + factor))
		for range 100 {
			d := ApplyJitter(1000*ms, factor)
			if d < lo || d > hi || d < 0 {
				t.Fatalf("factor %.2f: jittered delay %v outside [%v, %v]", factor, d, lo, hi)
			}
		}
	}
}

func TestApplyJitter_ZeroFactorIsIdentity(t *testing.T) {
	for range 20 {
		require.Equal(t, 1234*ms, ApplyJitter(1234*ms, 0))
	}
}

func TestApplyJitter_FactorAboveOneIsClamped(t *testing.T) {
	for range 100 {
		d := ApplyJitter(100*ms, 5)
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.LessOrEqual(t, d, 200*ms)
	}
}

func TestNext_JitterNeverExceedsMax(t *testing.T) {
	s := Spec{Strategy: Constant, InitialDelay: 500 * ms, MaxDelay: 500 * ms, JitterFactor: 1}

	for range 100 {
		require.LessOrEqual(t, Next(s, 1, 0), 500*ms)
	}
}

func TestSequence_ThreadsAttempts(t *testing.T) {
	next := Sequence(Spec{Strategy: Exponential, InitialDelay: 100 * ms, MaxDelay: 500 * ms})

	require.Equal(t, 100*ms, next())
	require.Equal(t, 200*ms, next())
	require.Equal(t, 400*ms, next())
	require.Equal(t, 500*ms, next())
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("")
	require.NoError(t, err)
	require.Equal(t, Exponential, s)

	s, err = ParseStrategy("equal_jitter")
	require.NoError(t, err)
	require.Equal(t, EqualJitter, s)

	_, err = ParseStrategy("custom")
	require.Error(t, err)

	_, err = ParseStrategy("fibonacci")
	require.Error(t, err)
}
