package api

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"
)

// Context is the ordered key/value state threaded through a pipeline.
//
// A Context is immutable: With, Merge and Drop return a new value and leave
// the receiver untouched, so snapshots taken for checkpoints and rollbacks
// can be shared freely. The zero value is an empty Context.
type Context struct {
	keys []string
	vals map[string]any
}

// NewContext builds a Context from alternating key/value arguments, keeping
// the order in which keys are given. It panics if a key is not a string or
// a value is missing.
func NewContext(kv ...any) Context {
	if len(kv)%2 != 0 {
		panic("conduit: NewContext needs key/value pairs")
	}
	c := Context{vals: make(map[string]any, len(kv)/2)}
	for i := 0; i < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			panic(fmt.Sprintf("conduit: context key %v is %T, not string", kv[i], kv[i]))
		}
		if _, exists := c.vals[k]; !exists {
			c.keys = append(c.keys, k)
		}
		c.vals[k] = kv[i+1]
	}
	return c
}

// FromMap builds a Context from m. Go maps carry no order, so keys are
// sorted to keep iteration deterministic.
func FromMap(m map[string]any) Context {
	return Context{}.Merge(m)
}

// Get returns the value stored under key, or nil.
func (c Context) Get(key string) any {
	return c.vals[key]
}

// Lookup returns the value stored under key and whether it was present.
func (c Context) Lookup(key string) (any, bool) {
	v, ok := c.vals[key]
	return v, ok
}

// Has reports whether key is present.
func (c Context) Has(key string) bool {
	_, ok := c.vals[key]
	return ok
}

// Keys returns the keys in insertion order.
func (c Context) Keys() []string {
	return slices.Clone(c.keys)
}

// Len returns the number of keys.
func (c Context) Len() int {
	return len(c.keys)
}

// With returns a copy of c with key set to value. Existing keys keep their
// position; new keys are appended.
func (c Context) With(key string, value any) Context {
	out := c.clone(1)
	if _, ok := out.vals[key]; !ok {
		out.keys = append(out.keys, key)
	}
	out.vals[key] = value
	return out
}

// Merge returns a right-biased shallow merge of partial into c. Values in
// partial overwrite existing keys in place; keys new to c are appended in
// sorted order. Merge never removes keys.
func (c Context) Merge(partial map[string]any) Context {
	if len(partial) == 0 {
		return c
	}
	out := c.clone(len(partial))
	for _, k := range slices.Sorted(maps.Keys(partial)) {
		if _, ok := out.vals[k]; !ok {
			out.keys = append(out.keys, k)
		}
		out.vals[k] = partial[k]
	}
	return out
}

// MergeContext is Merge for another Context; new keys keep other's order.
func (c Context) MergeContext(other Context) Context {
	if other.Len() == 0 {
		return c
	}
	out := c.clone(other.Len())
	for _, k := range other.keys {
		if _, ok := out.vals[k]; !ok {
			out.keys = append(out.keys, k)
		}
		out.vals[k] = other.vals[k]
	}
	return out
}

// Drop returns a copy of c without the given keys. It is the only way keys
// leave a Context.
func (c Context) Drop(keys ...string) Context {
	out := c.clone(0)
	for _, k := range keys {
		if _, ok := out.vals[k]; !ok {
			continue
		}
		delete(out.vals, k)
		out.keys = slices.DeleteFunc(out.keys, func(x string) bool { return x == k })
	}
	return out
}

// ToMap returns a shallow copy of the stored values.
func (c Context) ToMap() map[string]any {
	m := make(map[string]any, len(c.keys))
	maps.Copy(m, c.vals)
	return m
}

// Equal reports whether both contexts hold the same keys in the same order
// with deeply equal values.
func (c Context) Equal(other Context) bool {
	if !slices.Equal(c.keys, other.keys) {
		return false
	}
	for _, k := range c.keys {
		if !reflect.DeepEqual(c.vals[k], other.vals[k]) {
			return false
		}
	}
	return true
}

func (c Context) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range c.keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s: %v", k, c.vals[k])
	}
	b.WriteByte('}')
	return b.String()
}

func (c Context) clone(extra int) Context {
	out := Context{
		keys: make([]string, len(c.keys), len(c.keys)+extra),
		vals: make(map[string]any, len(c.keys)+extra),
	}
	copy(out.keys, c.keys)
	maps.Copy(out.vals, c.vals)
	return out
}

// Value returns the value under key converted to T. ok is false when the
// key is missing or holds a different type.
func Value[T any](c Context, key string) (T, bool) {
	v, ok := c.vals[key].(T)
	return v, ok
}
