package api

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewContext_KeepsArgumentOrder(t *testing.T) {
	c := NewContext("z", 1, "a", 2, "m", 3)

	require.Equal(t, []string{"z", "a", "m"}, c.Keys())
	require.Equal(t, 3, c.Len())
	require.Equal(t, 2, c.Get("a"))
}

func TestNewContext_PanicsOnBadPairs(t *testing.T) {
	require.Panics(t, func() { NewContext("only-key") })
	require.Panics(t, func() { NewContext(1, "value") })
}

func TestFromMap_SortsKeys(t *testing.T) {
	c := FromMap(map[string]any{"b": 2, "c": 3, "a": 1})

	require.Equal(t, []string{"a", "b", "c"}, c.Keys())
}

func TestContext_MergeIsRightBiasedAndImmutable(t *testing.T) {
	base := NewContext("x", 5, "y", "keep")

	merged := base.Merge(map[string]any{"x": 15, "z": true})

	require.Equal(t, 5, base.Get("x"), "receiver must not change")
	require.False(t, base.Has("z"))

	require.Equal(t, 15, merged.Get("x"))
	require.Equal(t, "keep", merged.Get("y"))
	require.Equal(t, true, merged.Get("z"))
	require.Equal(t, []string{"x", "y", "z"}, merged.Keys())
}

func TestContext_MergeNeverRemovesKeys(t *testing.T) {
	base := NewContext("a", 1, "b", 2)

	merged := base.Merge(map[string]any{"a": nil})

	require.True(t, merged.Has("a"))
	require.True(t, merged.Has("b"))
	require.Nil(t, merged.Get("a"))
}

func TestContext_DropIsExplicitRemoval(t *testing.T) {
	base := NewContext("a", 1, "b", 2, "c", 3)

	dropped := base.Drop("b", "missing")

	require.Equal(t, []string{"a", "c"}, dropped.Keys())
	require.Equal(t, 3, base.Len())
}

func TestContext_WithAndLookup(t *testing.T) {
	var c Context

	c2 := c.With("k", "v")
	_, ok := c.Lookup("k")
	require.False(t, ok)

	v, ok := c2.Lookup("k")
	require.True(t, ok)
	require.Equal(t, "v", v)
}

func TestContext_MergeContextKeepsOtherOrder(t *testing.T) {
	a := NewContext("x", 1)
	b := NewContext("z", 2, "y", 3, "x", 9)

	got := a.MergeContext(b)

	require.Equal(t, []string{"x", "z", "y"}, got.Keys())
	require.Equal(t, 9, got.Get("x"))
}

func TestContext_EqualAndString(t *testing.T) {
	a := NewContext("x", 1, "items", []string{"a"})
	b := NewContext("x", 1, "items", []string{"a"})
	c := NewContext("items", []string{"a"}, "x", 1)

	require.True(t, a.Equal(b))
	require.False(t, a.Equal(c), "order matters")
	require.Equal(t, "{x: 1, items: [a]}", a.String())
}

func TestContext_ToMapIsACopy(t *testing.T) {
	c := NewContext("x", 1)

	m := c.ToMap()
	m["x"] = 100

	require.Equal(t, 1, c.Get("x"))
}

func TestValue_TypedLookup(t *testing.T) {
	c := NewContext("price", 100, "type", "premium")

	price, ok := Value[int](c, "price")
	require.True(t, ok)
	require.Equal(t, 100, price)

	_, ok = Value[string](c, "price")
	require.False(t, ok)
}
