// Package rawdoc holds untrusted, loosely typed documents exactly as they come
// off storage, before any typed decoding. Only the format detector and the
// validation/repair engine inspect a Value field by field; everything
// downstream works on the typed script model.
package rawdoc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Kind is the JSON shape of a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "null"
	}
}

// Value is an opaque, untrusted document node. The zero Value is null.
type Value struct {
	v any
}

// ErrEmpty is returned by Parse for input containing no document.
var ErrEmpty = errors.New("empty document")

// Parse decodes raw bytes into a Value. Input starting with '{' or '[' is
// decoded as JSON; anything else is decoded as YAML.
func Parse(data []byte) (Value, error) {
	trimmed := bytes.TrimSpace(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")))
	if len(trimmed) == 0 {
		return Value{}, ErrEmpty
	}

	var out any
	if trimmed[0] == '{' || trimmed[0] == '[' {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		if err := dec.Decode(&out); err != nil {
			return Value{}, fmt.Errorf("decode json: %w", err)
		}
		if err := dec.Decode(new(any)); err != io.EOF {
			return Value{}, fmt.Errorf("decode json: trailing data after document")
		}
	} else {
		if err := yaml.Unmarshal(trimmed, &out); err != nil {
			return Value{}, fmt.Errorf("decode yaml: %w", err)
		}
	}
	return Value{v: normalize(out)}, nil
}

// FromAny wraps an in-memory value, normalizing it to JSON shape: maps keyed
// by string, []any, float64 numbers. Values with no JSON form become null.
func FromAny(v any) Value {
	return Value{v: normalize(v)}
}

// Kind reports the JSON shape of v.
func (v Value) Kind() Kind {
	switch v.v.(type) {
	case bool:
		return KindBool
	case float64:
		return KindNumber
	case string:
		return KindString
	case []any:
		return KindArray
	case map[string]any:
		return KindObject
	default:
		return KindNull
	}
}

// IsNull reports whether v is null or absent.
func (v Value) IsNull() bool { return v.Kind() == KindNull }

// Field returns the named member of an object. The second result is false
// when v is not an object or has no such member.
func (v Value) Field(name string) (Value, bool) {
	m, ok := v.v.(map[string]any)
	if !ok {
		return Value{}, false
	}
	f, ok := m[name]
	if !ok {
		return Value{}, false
	}
	return Value{v: f}, true
}

// Has reports whether v is an object carrying the named member.
func (v Value) Has(name string) bool {
	_, ok := v.Field(name)
	return ok
}

// Keys returns the member names of an object in sorted order.
func (v Value) Keys() []string {
	m, ok := v.v.(map[string]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of elements of an array or members of an object.
func (v Value) Len() int {
	switch t := v.v.(type) {
	case []any:
		return len(t)
	case map[string]any:
		return len(t)
	}
	return 0
}

// Elems returns the elements of an array, or nil for any other kind.
func (v Value) Elems() []Value {
	arr, ok := v.v.([]any)
	if !ok {
		return nil
	}
	out := make([]Value, len(arr))
	for i, e := range arr {
		out[i] = Value{v: e}
	}
	return out
}

// Str returns the string held by v.
func (v Value) Str() (string, bool) {
	s, ok := v.v.(string)
	return s, ok
}

// Num returns the number held by v.
func (v Value) Num() (float64, bool) {
	f, ok := v.v.(float64)
	return f, ok
}

// Bool returns the boolean held by v.
func (v Value) Bool() (bool, bool) {
	b, ok := v.v.(bool)
	return b, ok
}

// Interface returns a deep copy of the underlying JSON-shaped tree.
func (v Value) Interface() any {
	return cloneTree(v.v)
}

// MarshalJSON encodes v as JSON.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.v)
}

func normalize(in any) any {
	switch t := in.(type) {
	case nil:
		return nil
	case bool, string:
		return t
	case float64:
		return finite(t)
	case float32:
		return finite(float64(t))
	case int:
		return float64(t)
	case int8:
		return float64(t)
	case int16:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint:
		return float64(t)
	case uint8:
		return float64(t)
	case uint16:
		return float64(t)
	case uint32:
		return float64(t)
	case uint64:
		return float64(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return t.String()
		}
		return finite(f)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalize(e)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out
	case Value:
		return normalize(t.v)
	default:
		// Structs and typed containers go through their JSON form.
		data, err := json.Marshal(t)
		if err != nil {
			return nil
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		var out any
		if err := dec.Decode(&out); err != nil {
			return nil
		}
		return normalize(out)
	}
}

// finite maps NaN and the infinities, which have no JSON form, to null.
func finite(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

func cloneTree(in any) any {
	switch t := in.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneTree(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneTree(e)
		}
		return out
	default:
		return t
	}
}
