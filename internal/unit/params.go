package unit

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Clone returns a deep copy of p. Nested maps and slices produced by JSON
// decoding are copied; other values are shared.
func (p Params) Clone() Params {
	if p == nil {
		return Params{}
	}
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = cloneValue(vv)
		}
		return m
	case Params:
		return t.Clone()
	case State:
		return State(Params(t).Clone())
	case []any:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = cloneValue(vv)
		}
		return s
	default:
		return v
	}
}

// Merge builds an effective parameter set: base overlaid with override, with
// override winning on key collisions. Neither argument is modified.
func Merge(base, override Params) Params {
	out := base.Clone()
	for k, v := range override {
		out[k] = cloneValue(v)
	}
	return out
}

// Truthy reports whether key holds a truthy value: not absent, nil, false,
// zero, or the empty string.
func (p Params) Truthy(key string) bool {
	return Truthy(p[key])
}

func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case json.Number:
		f, err := t.Float64()
		return err != nil || f != 0
	case float64:
		return t != 0 && !math.IsNaN(t)
	case float32:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case int32:
		return t != 0
	case uint:
		return t != 0
	case uint64:
		return t != 0
	default:
		return true
	}
}

// Float returns key as a float64, or fallback when the key is absent or null.
func (p Params) Float(key string, fallback float64) (float64, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return fallback, nil
	}
	f, ok := toFloat(v)
	if !ok {
		return 0, fmt.Errorf("%w: %s must be a number, got %T", ErrParam, key, v)
	}
	return f, nil
}

// Int returns key truncated to an int, or fallback when absent or null.
func (p Params) Int(key string, fallback int) (int, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return fallback, nil
	}
	f, ok := toFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %s must be an integer, got %v", ErrParam, key, v)
	}
	return int(f), nil
}

// String returns key as a string, or fallback when absent or null.
func (p Params) String(key string, fallback string) (string, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return fallback, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string, got %T", ErrParam, key, v)
	}
	return s, nil
}

// ToFloat converts JSON numbers, Go numerics, booleans and numeric strings.
func ToFloat(v any) (float64, bool) {
	return toFloat(v)
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint64:
		return float64(t), true
	case uint32:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
