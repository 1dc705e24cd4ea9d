package sqlite

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/mesh-intelligence/databind/internal/query"
	"github.com/mesh-intelligence/databind/internal/value"
	"github.com/mesh-intelligence/databind/pkg/types"
)

// errNotPushable marks a filter the query engine must evaluate.
var errNotPushable = errors.New("filter not expressible in SQL")

var fieldPath = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

func fieldExpr(field string) (string, error) {
	if !fieldPath.MatchString(field) {
		return "", errNotPushable
	}
	return "json_extract(doc, '$." + field + "')", nil
}

// whereClause translates a filter tree into a SQL condition over the
// documents table. Operators are validated first so bad filters fail the
// same way they do in process.
func whereClause(f *types.FilterDescriptor) (string, []any, error) {
	if f == nil {
		return "", nil, nil
	}
	if _, err := query.CompileFilter(f); err != nil {
		return "", nil, err
	}
	if f.HasFunc() {
		return "", nil, errNotPushable
	}
	return condition(f)
}

func condition(f *types.FilterDescriptor) (string, []any, error) {
	if f.IsComposite() {
		if len(f.Filters) == 0 {
			return "1", nil, nil
		}
		join := " AND "
		if strings.EqualFold(f.Logic, types.LogicOr) {
			join = " OR "
		}
		parts := make([]string, 0, len(f.Filters))
		var args []any
		for _, child := range f.Filters {
			cond, childArgs, err := condition(child)
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, "("+cond+")")
			args = append(args, childArgs...)
		}
		return strings.Join(parts, join), args, nil
	}
	return leaf(f)
}

func leaf(f *types.FilterDescriptor) (string, []any, error) {
	x, err := fieldExpr(f.Field)
	if err != nil {
		return "", nil, err
	}
	op, err := query.NormalizeOperator(f.Operator)
	if err != nil {
		return "", nil, err
	}

	switch op {
	case query.OpIsNull:
		return x + " IS NULL", nil, nil
	case query.OpIsNotNull:
		return x + " IS NOT NULL", nil, nil
	case query.OpIsEmpty:
		return x + " = ''", nil, nil
	case query.OpIsNotEmpty:
		return x + " IS NULL OR " + x + " <> ''", nil, nil
	case query.OpIsNullOrEmpty:
		return x + " IS NULL OR " + x + " = ''", nil, nil
	case query.OpIsNotNullOrEmpty:
		return x + " IS NOT NULL AND " + x + " <> ''", nil, nil
	}

	target, isString, err := bindValue(f.Value)
	if err != nil {
		return "", nil, err
	}
	nocase := ""
	if isString && (f.CaseInsensitive() || isOrdered(op)) {
		nocase = " COLLATE NOCASE"
	}

	switch op {
	case query.OpEq:
		if target == nil {
			return x + " IS NULL", nil, nil
		}
		return x + " = ?" + nocase, []any{target}, nil
	case query.OpNeq:
		if target == nil {
			return x + " IS NOT NULL", nil, nil
		}
		return x + " IS NULL OR " + x + " <> ?" + nocase, []any{target}, nil
	case query.OpLt, query.OpLte, query.OpGt, query.OpGte:
		if target == nil {
			return "0", nil, nil
		}
		return x + " " + sqlComparison[op] + " ?" + nocase, []any{target}, nil
	}

	// Text operators.
	sub, ok := target.(string)
	if !ok {
		sub = fmt.Sprint(target)
	}
	if sub == "" {
		return "", nil, errNotPushable
	}
	hay, needle := "CAST("+x+" AS TEXT)", "?"
	if f.CaseInsensitive() {
		hay, needle = "lower("+hay+")", "lower(?)"
	}
	switch op {
	case query.OpStartsWith:
		return "instr(" + hay + ", " + needle + ") = 1", []any{sub}, nil
	case query.OpEndsWith:
		return "substr(" + hay + ", -length(?)) = " + needle, []any{sub, sub}, nil
	case query.OpContains:
		return "instr(" + hay + ", " + needle + ") > 0", []any{sub}, nil
	case query.OpDoesNotContain:
		return x + " IS NULL OR instr(" + hay + ", " + needle + ") = 0", []any{sub}, nil
	}
	return "", nil, errNotPushable
}

var sqlComparison = map[string]string{
	query.OpLt:  "<",
	query.OpLte: "<=",
	query.OpGt:  ">",
	query.OpGte: ">=",
}

func isOrdered(op string) bool {
	_, ok := sqlComparison[op]
	return ok
}

// bindValue converts a filter value to a SQL argument. Only scalars are
// pushed down; dates and structured values stay in process.
func bindValue(v any) (any, bool, error) {
	switch t := value.Unwrap(v).(type) {
	case nil:
		return nil, false, nil
	case string:
		return t, true, nil
	case bool:
		if t {
			return 1, false, nil
		}
		return 0, false, nil
	}
	if f, ok := value.Float(v); ok {
		return f, false, nil
	}
	return nil, false, errNotPushable
}

// orderClause translates sort descriptors into ORDER BY terms. Custom
// comparers keep the sort in process.
func orderClause(sorts []types.SortDescriptor) ([]string, bool, error) {
	if _, err := query.CompileSort(sorts); err != nil {
		return nil, false, err
	}
	terms := make([]string, 0, len(sorts))
	for _, s := range sorts {
		if s.Compare != nil {
			return nil, false, nil
		}
		x, err := fieldExpr(s.Field)
		if err != nil {
			return nil, false, nil
		}
		dir := "ASC"
		if s.Descending() {
			dir = "DESC"
		}
		terms = append(terms, x+" COLLATE NOCASE "+dir)
	}
	return terms, true, nil
}
