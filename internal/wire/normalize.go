// Package wire converts unit values into JSON-native values and frames
// messages on the line-delimited channel.
package wire

import (
	"reflect"
)

// Array is implemented by unit-specific numeric containers such as matrices or
// grids. Values holds the elements in row-major order.
type Array interface {
	Shape() []int
	Values() []float64
}

// Normalize converts the direct values of a string-keyed mapping that belong to
// the numeric array family into nested []any of numbers. Values below the top
// level are not inspected, and anything that is not a mapping is returned
// unchanged.
func Normalize(v any) (out any) {
	if v == nil {
		return nil
	}
	defer func() {
		if recover() != nil {
			out = v
		}
	}()

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return v
	}
	if rv.IsNil() {
		return map[string]any{}
	}

	m := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		m[iter.Key().String()] = convert(iter.Value().Interface())
	}
	return m
}

// NormalizeAll normalizes each element of a batch independently.
func NormalizeAll[T any](values []T) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = Normalize(v)
	}
	return out
}

// isArray reports whether v belongs to the numeric array family.
func isArray(v any) bool {
	if v == nil {
		return false
	}
	if _, ok := v.(Array); ok {
		return true
	}
	return numericSequence(reflect.TypeOf(v))
}

// convert recovers on its own so that a failing value leaves its siblings
// converted. A failing Array falls back to its flat values when those are
// readable, and to the original value otherwise.
func convert(v any) (out any) {
	if v == nil {
		return nil
	}
	defer func() {
		if recover() != nil {
			out = fallback(v)
		}
	}()
	if !isArray(v) {
		return v
	}
	if a, ok := v.(Array); ok {
		return reshape(a.Shape(), a.Values())
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice && rv.IsNil() {
		return []any{}
	}
	return sequence(rv)
}

func fallback(v any) (out any) {
	out = v
	a, ok := v.(Array)
	if !ok {
		return out
	}
	defer func() { _ = recover() }()
	return flat(a.Values())
}

func flat(values []float64) []any {
	out := make([]any, len(values))
	for i, f := range values {
		out[i] = f
	}
	return out
}

func numericSequence(t reflect.Type) bool {
	if t.Kind() != reflect.Slice && t.Kind() != reflect.Array {
		return false
	}
	for t.Kind() == reflect.Slice || t.Kind() == reflect.Array {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func sequence(rv reflect.Value) any {
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = sequence(rv.Index(i))
		}
		return out
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	default:
		return rv.Uint()
	}
}

func reshape(shape []int, values []float64) any {
	if len(shape) == 0 {
		if len(values) == 1 {
			return values[0]
		}
		shape = []int{len(values)}
	}
	total := 1
	for _, d := range shape {
		if d < 1 {
			return flat(values)
		}
		total *= d
	}
	if total != len(values) {
		return flat(values)
	}
	out, _ := build(shape, values)
	return out
}

func build(shape []int, values []float64) (any, []float64) {
	n := shape[0]
	out := make([]any, n)
	if len(shape) == 1 {
		for i := 0; i < n; i++ {
			out[i] = values[i]
		}
		return out, values[n:]
	}
	for i := 0; i < n; i++ {
		out[i], values = build(shape[1:], values)
	}
	return out, values
}
