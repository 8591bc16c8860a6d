package protocol

import (
	"encoding/json"
	"fmt"
)

// Value is an untyped JSON payload: null, bool, number, string, array, or
// object. Payloads round-trip byte-compatible through it (maps of maps and
// lists of anything survive re-encoding), and typed accessors return
// (value, ok) pairs instead of panicking on the wrong kind.
type Value struct {
	v any
}

// NewValue wraps an arbitrary decoded JSON value.
func NewValue(v any) Value { return Value{v: unwrap(v)} }

// unwrap normalizes nested wrappers so Value-of-Value never occurs and
// map/slice contents stay plain Go values.
func unwrap(v any) any {
	switch t := v.(type) {
	case Value:
		return t.v
	case *Value:
		if t == nil {
			return nil
		}
		return t.v
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = unwrap(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = unwrap(e)
		}
		return out
	default:
		return v
	}
}

// IsNull reports whether the value is JSON null (or unset).
func (v Value) IsNull() bool { return v.v == nil }

// Any returns the underlying value.
func (v Value) Any() any { return v.v }

// Bool returns the boolean value if the kind matches.
func (v Value) Bool() (bool, bool) {
	b, ok := v.v.(bool)
	return b, ok
}

// String returns the string value if the kind matches.
func (v Value) String() (string, bool) {
	s, ok := v.v.(string)
	return s, ok
}

// Float returns the numeric value if the kind matches.
func (v Value) Float() (float64, bool) {
	switch n := v.v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// Int returns the value as an int64 when it is numeric and integral.
func (v Value) Int() (int64, bool) {
	switch n := v.v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		i := int64(n)
		if float64(i) == n {
			return i, true
		}
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

// Object returns the map value if the kind matches.
func (v Value) Object() (map[string]any, bool) {
	m, ok := v.v.(map[string]any)
	return m, ok
}

// Array returns the slice value if the kind matches.
func (v Value) Array() ([]any, bool) {
	a, ok := v.v.([]any)
	return a, ok
}

// Get returns the named field of an object value.
func (v Value) Get(key string) (Value, bool) {
	m, ok := v.v.(map[string]any)
	if !ok {
		return Value{}, false
	}
	e, ok := m[key]
	if !ok {
		return Value{}, false
	}
	return Value{v: e}, true
}

// GetBool returns the named field as a bool.
func (v Value) GetBool(key string) (bool, bool) {
	f, ok := v.Get(key)
	if !ok {
		return false, false
	}
	return f.Bool()
}

// GetString returns the named field as a string.
func (v Value) GetString(key string) (string, bool) {
	f, ok := v.Get(key)
	if !ok {
		return "", false
	}
	return f.String()
}

// MarshalJSON encodes the wrapped value directly.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.v)
}

// UnmarshalJSON decodes into the wrapped value, preserving unknown shapes.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	v.v = raw
	return nil
}
