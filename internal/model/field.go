// Package model defines record schemas and the Model entity: an observable
// object with identity, per-field parsing and dirty tracking.
package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mesh-intelligence/databind/internal/value"
)

// Field types.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeDate    = "date"
	TypeBoolean = "boolean"
)

// Field describes one schema field. From names the wire field the value is
// read from and written back to; it may be a dotted path.
type Field struct {
	Type        string          `json:"type,omitempty" yaml:"type,omitempty"`
	Default     any             `json:"defaultValue,omitempty" yaml:"default,omitempty"`
	DefaultFunc func() any      `json:"-" yaml:"-"`
	Nullable    bool            `json:"nullable,omitempty" yaml:"nullable,omitempty"`
	Editable    *bool           `json:"editable,omitempty" yaml:"editable,omitempty"`
	Parse       func(v any) any `json:"-" yaml:"-"`
	From        string          `json:"from,omitempty" yaml:"from,omitempty"`
}

// IsEditable reports whether Set may change the field. Defaults to true.
func (f Field) IsEditable() bool {
	return f.Editable == nil || *f.Editable
}

// parser returns the effective parse function.
func (f Field) parser() func(any) any {
	if f.Parse != nil {
		return f.Parse
	}
	switch f.Type {
	case TypeNumber:
		return ParseNumber
	case TypeDate:
		return ParseDate
	case TypeBoolean:
		return ParseBoolean
	case TypeString:
		return ParseString
	}
	return nil
}

// defaultValue returns a fresh default for one instance.
func (f Field) defaultValue() any {
	if f.DefaultFunc != nil {
		return f.DefaultFunc()
	}
	if f.Default != nil {
		return value.Clone(f.Default)
	}
	if f.Nullable {
		return nil
	}
	switch f.Type {
	case TypeString:
		return ""
	case TypeNumber:
		return float64(0)
	case TypeDate:
		return time.Now()
	case TypeBoolean:
		return false
	}
	return nil
}

func isNullString(v any) bool {
	s, ok := v.(string)
	return ok && strings.EqualFold(s, "null")
}

// ParseNumber converts numbers and numeric strings to float64. The string
// "null" and unparseable input become nil.
func ParseNumber(v any) any {
	if v == nil || isNullString(v) {
		return nil
	}
	if f, ok := value.ParseFloat(v); ok {
		return f
	}
	return nil
}

// ParseDate converts time values and date strings to time.Time. The string
// "null" and unparseable input become nil.
func ParseDate(v any) any {
	if v == nil || isNullString(v) {
		return nil
	}
	if t, ok := value.ParseTime(v); ok {
		return t
	}
	return nil
}

// ParseBoolean converts "true"/"false" strings and numbers to bool.
func ParseBoolean(v any) any {
	switch b := v.(type) {
	case nil:
		return nil
	case bool:
		return b
	case string:
		if isNullString(b) {
			return nil
		}
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		return err == nil && parsed
	}
	if f, ok := value.Float(v); ok {
		return f != 0
	}
	return true
}

// ParseString stringifies any non-nil value. The string "null" becomes nil.
func ParseString(v any) any {
	switch s := v.(type) {
	case nil:
		return nil
	case string:
		if isNullString(s) {
			return nil
		}
		return s
	case time.Time:
		return s.Format(time.RFC3339)
	}
	if f, ok := value.Float(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
