package persistence

import (
	"bytes"
	"encoding/gob"

	"github.com/petrijr/conduit/pkg/api"
)

// EncodeValue serializes arbitrary Go values using encoding/gob.
// Custom types stored as interface values must be gob.Register'ed.
func EncodeValue(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeValue decodes a payload written by EncodeValue into T. An empty
// payload yields the zero value.
func DecodeValue[T any](data []byte) (T, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v)
	return v, err
}

// contextPayload keeps key order, which a plain map would lose.
type contextPayload struct {
	Keys   []string
	Values []any
}

// EncodeContext serializes a context snapshot, preserving key order.
func EncodeContext(c api.Context) ([]byte, error) {
	if c.Len() == 0 {
		return nil, nil
	}
	p := contextPayload{Keys: c.Keys()}
	p.Values = make([]any, len(p.Keys))
	for i, k := range p.Keys {
		p.Values[i] = c.Get(k)
	}
	return EncodeValue(p)
}

// DecodeContext restores a snapshot written by EncodeContext.
func DecodeContext(data []byte) (api.Context, error) {
	p, err := DecodeValue[contextPayload](data)
	if err != nil {
		return api.Context{}, err
	}
	kv := make([]any, 0, 2*len(p.Keys))
	for i, k := range p.Keys {
		kv = append(kv, k, p.Values[i])
	}
	return api.NewContext(kv...), nil
}
