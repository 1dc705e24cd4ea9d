package query

import (
	"fmt"
	"strings"

	"github.com/mesh-intelligence/databind/internal/value"
	"github.com/mesh-intelligence/databind/pkg/types"
)

// Canonical filter operators.
const (
	OpEq               = "eq"
	OpNeq              = "neq"
	OpLt               = "lt"
	OpLte              = "lte"
	OpGt               = "gt"
	OpGte              = "gte"
	OpStartsWith       = "startswith"
	OpEndsWith         = "endswith"
	OpContains         = "contains"
	OpDoesNotContain   = "doesnotcontain"
	OpIsNull           = "isnull"
	OpIsNotNull        = "isnotnull"
	OpIsEmpty          = "isempty"
	OpIsNotEmpty       = "isnotempty"
	OpIsNullOrEmpty    = "isnullorempty"
	OpIsNotNullOrEmpty = "isnotnullorempty"
)

var operatorAliases = map[string]string{
	"==": OpEq, "equals": OpEq, "isequalto": OpEq, "equalto": OpEq, "equal": OpEq,
	"!=": OpNeq, "ne": OpNeq, "notequals": OpNeq, "isnotequalto": OpNeq, "notequalto": OpNeq, "notequal": OpNeq,
	"<": OpLt, "islessthan": OpLt, "lessthan": OpLt, "less": OpLt,
	"<=": OpLte, "le": OpLte, "islessthanorequalto": OpLte, "lessthanequal": OpLte,
	">": OpGt, "isgreaterthan": OpGt, "greaterthan": OpGt, "greater": OpGt,
	">=": OpGte, "isgreaterthanorequalto": OpGte, "greaterthanequal": OpGte, "ge": OpGte,
	"notsubstringof": OpDoesNotContain,
}

// Predicate reports whether a record passes a filter.
type Predicate func(item any) bool

type operator func(v, target any, ignoreCase bool) bool

var operators = map[string]operator{
	OpEq:  func(v, t any, ic bool) bool { return equalValues(v, t, ic) },
	OpNeq: func(v, t any, ic bool) bool { return !equalValues(v, t, ic) },
	OpLt:  ordered(func(r int) bool { return r < 0 }),
	OpLte: ordered(func(r int) bool { return r <= 0 }),
	OpGt:  ordered(func(r int) bool { return r > 0 }),
	OpGte: ordered(func(r int) bool { return r >= 0 }),
	OpStartsWith: textual(strings.HasPrefix),
	OpEndsWith:   textual(strings.HasSuffix),
	OpContains:   textual(strings.Contains),
	OpDoesNotContain: func(v, t any, ic bool) bool {
		return !textual(strings.Contains)(v, t, ic)
	},
	OpIsNull:    func(v, _ any, _ bool) bool { return v == nil },
	OpIsNotNull: func(v, _ any, _ bool) bool { return v != nil },
	OpIsEmpty:   func(v, _ any, _ bool) bool { return v == "" },
	OpIsNotEmpty: func(v, _ any, _ bool) bool {
		return v != ""
	},
	OpIsNullOrEmpty:    func(v, _ any, _ bool) bool { return v == nil || v == "" },
	OpIsNotNullOrEmpty: func(v, _ any, _ bool) bool { return v != nil && v != "" },
}

func ordered(accept func(int) bool) operator {
	return func(v, t any, ic bool) bool {
		v, t = value.Unwrap(v), value.Unwrap(t)
		if v == nil || t == nil {
			return false
		}
		if ic {
			vs, vok := v.(string)
			ts, tok := t.(string)
			if vok && tok {
				return accept(CompareStrings(strings.ToLower(vs), strings.ToLower(ts)))
			}
		}
		r, ok := compareTyped(v, t)
		return ok && accept(r)
	}
}

func textual(match func(s, sub string) bool) operator {
	return func(v, t any, ic bool) bool {
		s, sub := stringify(v), stringify(t)
		if ic {
			s, sub = strings.ToLower(s), strings.ToLower(sub)
		}
		return match(s, sub)
	}
}

func stringify(v any) string {
	switch s := value.Unwrap(v).(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}

// NormalizeOperator maps an operator alias to its canonical name.
func NormalizeOperator(op string) (string, error) {
	op = strings.ToLower(strings.TrimSpace(op))
	if canonical, ok := operatorAliases[op]; ok {
		op = canonical
	}
	if _, ok := operators[op]; !ok {
		return "", fmt.Errorf("%w: unknown operator %q", types.ErrInvalidFilter, op)
	}
	return op, nil
}

// CompileFilter validates a filter tree and compiles it into a predicate. A
// nil filter accepts everything.
func CompileFilter(f *types.FilterDescriptor) (Predicate, error) {
	if f == nil {
		return func(any) bool { return true }, nil
	}
	if f.IsComposite() {
		return compileComposite(f)
	}
	return compileLeaf(f)
}

func compileComposite(f *types.FilterDescriptor) (Predicate, error) {
	logic := strings.ToLower(f.Logic)
	if logic == "" {
		logic = types.LogicAnd
	}
	if logic != types.LogicAnd && logic != types.LogicOr {
		return nil, fmt.Errorf("%w: unknown logic %q", types.ErrInvalidFilter, f.Logic)
	}
	children := make([]Predicate, 0, len(f.Filters))
	for i, child := range f.Filters {
		if child == nil {
			return nil, fmt.Errorf("%w: nil filter at %d", types.ErrInvalidFilter, i)
		}
		p, err := CompileFilter(child)
		if err != nil {
			return nil, err
		}
		children = append(children, p)
	}
	if logic == types.LogicOr {
		return func(item any) bool {
			for _, p := range children {
				if p(item) {
					return true
				}
			}
			return len(children) == 0
		}, nil
	}
	return func(item any) bool {
		for _, p := range children {
			if !p(item) {
				return false
			}
		}
		return true
	}, nil
}

func compileLeaf(f *types.FilterDescriptor) (Predicate, error) {
	if f.Field == "" {
		return nil, fmt.Errorf("%w: missing field", types.ErrInvalidFilter)
	}
	field, target := f.Field, f.Value
	if f.Func != nil {
		custom := f.Func
		return func(item any) bool { return custom(value.Get(item, field), target) }, nil
	}
	op, err := NormalizeOperator(f.Operator)
	if err != nil {
		return nil, err
	}
	fn, ignoreCase := operators[op], f.CaseInsensitive()
	return func(item any) bool {
		return fn(value.Unwrap(value.Get(item, field)), target, ignoreCase)
	}, nil
}

// Filter returns the records of data that pass f, in order.
func Filter(data []any, f *types.FilterDescriptor) ([]any, error) {
	pred, err := CompileFilter(f)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(data))
	for _, item := range data {
		if pred(item) {
			out = append(out, item)
		}
	}
	return out, nil
}
