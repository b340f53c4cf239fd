package api

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOutcome_ZeroValueIsAck(t *testing.T) {
	var o Outcome

	require.True(t, o.IsAck())
	require.True(t, o.Succeeded())
	require.Nil(t, o.Partial())
	require.NoError(t, o.Err())
}

func TestOutcome_Variants(t *testing.T) {
	ok := Ok(map[string]any{"x": 1})
	require.True(t, ok.IsOk())
	require.Equal(t, map[string]any{"x": 1}, ok.Partial())
	require.Nil(t, ok.Reason())

	fail := Fail("boom")
	require.True(t, fail.IsFailure())
	require.False(t, fail.Succeeded())
	require.Equal(t, "boom", fail.Reason())
	require.EqualError(t, fail.Err(), "boom")

	require.Equal(t, "ack", Ack().String())
	require.Equal(t, "failure(boom)", fail.String())
}

func TestOutcome_PartialIsACopy(t *testing.T) {
	o := Ok(map[string]any{"x": 1})

	p := o.Partial()
	p["x"] = 2

	require.Equal(t, 1, o.Partial()["x"])
}

func TestFromError(t *testing.T) {
	sentinel := errors.New("db down")

	require.True(t, FromError(map[string]any{"id": 7}, nil).IsOk())

	o := FromError(nil, sentinel)
	require.True(t, o.IsFailure())
	require.ErrorIs(t, o.Err(), sentinel)

	require.EqualError(t, Failf("order %d rejected", 42).Err(), "order 42 rejected")
}

func TestOutcome_Combinators(t *testing.T) {
	double := func(m map[string]any) map[string]any {
		return map[string]any{"x": m["x"].(int) * 2}
	}

	require.Equal(t, map[string]any{"x": 10}, Ok(map[string]any{"x": 5}).Map(double).Partial())
	require.Equal(t, "boom", Fail("boom").Map(double).Reason())

	chained := Ack().AndThen(func(m map[string]any) Outcome {
		require.Empty(t, m)
		return Fail("later")
	})
	require.Equal(t, "later", chained.Reason())

	recovered := Fail("transient").OrElse(func(reason any) Outcome {
		return Ok(map[string]any{"recovered": fmt.Sprint(reason)})
	})
	require.True(t, recovered.IsOk())
	require.Equal(t, "transient", recovered.Partial()["recovered"])

	untouched := Ok(nil).OrElse(func(any) Outcome { return Fail("never") })
	require.True(t, untouched.IsOk())
}
