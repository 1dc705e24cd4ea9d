// Package value holds the loose-typing helpers shared by the observable
// containers and the query engine: numeric widening, equality that treats
// numbers by value and times by instant, and dotted-path lookup.
package value

import (
	"encoding/json"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Getter is implemented by anything that resolves a field path itself.
type Getter interface {
	Get(path string) any
}

// Float widens any Go number (and json.Number) to float64.
func Float(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// ParseFloat converts numbers and numeric strings to float64.
func ParseFloat(v any) (float64, bool) {
	if f, ok := Float(v); ok {
		return f, true
	}
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return f, err == nil
	}
	return 0, false
}

// Time layouts accepted when a string is compared against a time.
var timeLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

// ParseTime converts time.Time values and date strings to time.Time.
func ParseTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t != nil {
			return *t, true
		}
	case string:
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}

// Plain is implemented by containers that can export a plain copy.
type Plain interface {
	ToPlain() any
}

// Unwrap returns the plain form of v when v is a container.
func Unwrap(v any) any {
	if p, ok := v.(Plain); ok {
		return p.ToPlain()
	}
	return v
}

// Equal compares two values loosely: numbers by value regardless of Go kind,
// times by instant, everything else deeply.
func Equal(a, b any) bool {
	a, b = Unwrap(a), Unwrap(b)
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		return ok && at.Equal(bt)
	}
	if af, ok := Float(a); ok {
		bf, ok := Float(b)
		return ok && af == bf
	}
	return reflect.DeepEqual(a, b)
}

// Same reports identity for comparable values and never panics on
// uncomparable ones.
func Same(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}

// Get resolves a dotted path against maps, slices and Getters.
func Get(item any, path string) any {
	if path == "" {
		return item
	}
	if g, ok := item.(Getter); ok {
		return g.Get(path)
	}
	head, rest, nested := strings.Cut(path, ".")
	var next any
	switch v := item.(type) {
	case map[string]any:
		next = v[head]
	case []any:
		i, err := strconv.Atoi(head)
		if err != nil || i < 0 || i >= len(v) {
			return nil
		}
		next = v[i]
	default:
		return nil
	}
	if !nested {
		return next
	}
	return Get(next, rest)
}

// Set assigns a dotted path inside nested maps, creating intermediate maps.
func Set(m map[string]any, path string, v any) {
	head, rest, nested := strings.Cut(path, ".")
	if !nested {
		m[head] = v
		return
	}
	child, ok := m[head].(map[string]any)
	if !ok {
		child = map[string]any{}
		m[head] = child
	}
	Set(child, rest, v)
}

// Delete removes a dotted path from nested maps.
func Delete(m map[string]any, path string) {
	head, rest, nested := strings.Cut(path, ".")
	if !nested {
		delete(m, head)
		return
	}
	if child, ok := m[head].(map[string]any); ok {
		Delete(child, rest)
	}
}

// Clone deep-copies maps and slices; other values are returned as is.
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = Clone(item)
		}
		return out
	}
	return v
}

// CloneMap deep-copies a record.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = Clone(v)
	}
	return out
}
