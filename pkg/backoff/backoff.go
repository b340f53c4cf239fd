// Package backoff computes delays between retry attempts.
//
// Every function here is pure apart from the random source used by the
// jittered strategies; nothing sleeps.
package backoff

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Strategy selects the delay formula used by Delay.
type Strategy string

const (
	Exponential  Strategy = "exponential"
	Linear       Strategy = "linear"
	Constant     Strategy = "constant"
	Decorrelated Strategy = "decorrelated"
	FullJitter   Strategy = "full_jitter"
	EqualJitter  Strategy = "equal_jitter"
	Custom       Strategy = "custom"
)

const maxDurationf = float64(math.MaxInt64) - 1

// Func is a caller supplied delay function used by the Custom strategy.
// Capping its result to MaxDelay is the caller's responsibility.
type Func func(attempt int, s Spec) time.Duration

// Spec describes how delays grow between attempts.
//
// MaxDelay <= 0 means the delay is uncapped. Multiplier <= 0 defaults to 2
// for the Exponential strategy. JitterFactor is clamped to [0, 1].
type Spec struct {
	Strategy     Strategy
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64
	Func         Func
}

// DefaultSpec returns exponential backoff starting at 100ms, doubling and
// capped at 30s, without jitter.
func DefaultSpec() Spec {
	return Spec{
		Strategy:     Exponential,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
	}
}

// ParseStrategy maps a strategy name to a Strategy. An empty name means
// Exponential.
func ParseStrategy(name string) (Strategy, error) {
	switch s := Strategy(name); s {
	case "":
		return Exponential, nil
	case Exponential, Linear, Constant, Decorrelated, FullJitter, EqualJitter:
		return s, nil
	case Custom:
		return "", fmt.Errorf("backoff: strategy %q needs a Func and cannot be parsed", name)
	default:
		return "", fmt.Errorf("backoff: unknown strategy %q", name)
	}
}

// Delay returns the delay before retry number attempt (1-indexed) without
// jitter applied. previous is only used by the Decorrelated strategy and
// should be the delay returned for the prior attempt (zero on the first).
//
// The result is never negative and, except for Custom, never exceeds
// MaxDelay when MaxDelay is set.
func Delay(s Spec, attempt int, previous time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := max(s.InitialDelay, 0)

	switch s.Strategy {
	case Linear:
		return s.capped(float64(initial) * float64(attempt))
	case Constant:
		return s.capped(float64(initial))
	case Decorrelated:
		if previous <= 0 {
			previous = initial
		}
		upper := s.capped(float64(previous) * 3)
		d := max(initial, between(initial, upper))
		return s.capped(float64(d))
	case FullJitter:
		ceiling := s.capped(float64(initial) * math.Pow(2, float64(attempt)))
		return between(0, ceiling)
	case EqualJitter:
		half := s.capped(float64(initial) * math.Pow(2, float64(attempt-1)))
		return half/2 + between(0, half/2)
	case Custom:
		if s.Func == nil {
			return 0
		}
		return max(s.Func(attempt, s), 0)
	default:
		mult := s.Multiplier
		if mult <= 0 {
			mult = 2
		}
		return s.capped(float64(initial) * math.Pow(mult, float64(attempt-1)))
	}
}

// ApplyJitter returns a value uniformly distributed in
// [d*(1-factor), d*(1+factor)], clamped to be non-negative. A zero factor
// returns d unchanged without consulting the random source.
func ApplyJitter(d time.Duration, factor float64) time.Duration {
	if factor <= 0 || d <= 0 {
		return max(d, 0)
	}
	factor = min(factor, 1)
	spread := float64(d) * factor
	lo := float64(d) - spread
	jittered := lo + rand.Float64()*2*spread
	if jittered > maxDurationf {
		return time.Duration(math.MaxInt64)
	}
	return max(time.Duration(jittered), 0)
}

// Next combines Delay and ApplyJitter and re-applies the MaxDelay cap, so
// jitter can never push a delay past the configured ceiling. Custom
// strategies are jittered but not capped.
func Next(s Spec, attempt int, previous time.Duration) time.Duration {
	d := ApplyJitter(Delay(s, attempt, previous), s.JitterFactor)
	if s.Strategy == Custom {
		return d
	}
	return s.capped(float64(d))
}

// Sequence returns an iterator yielding the delay for attempts 1, 2, 3...
// threading the previous delay through for decorrelated backoff.
func Sequence(s Spec) func() time.Duration {
	var (
		attempt int
		prev    time.Duration
	)
	return func() time.Duration {
		attempt++
		prev = Next(s, attempt, prev)
		return prev
	}
}

func (s Spec) capped(d float64) time.Duration {
	if s.MaxDelay > 0 && d > float64(s.MaxDelay) {
		return s.MaxDelay
	}
	if d > maxDurationf || math.IsInf(d, 1) || math.IsNaN(d) {
		// backstop against float64->int64 overflow
		return time.Duration(math.MaxInt64)
	}
	return max(time.Duration(d), 0)
}

// between returns a uniform duration in [lo, hi].
func between(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	span := int64(hi - lo)
	if span == math.MaxInt64 {
		return lo + time.Duration(rand.Int64N(span))
	}
	return lo + time.Duration(rand.Int64N(span+1))
}
