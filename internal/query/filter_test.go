package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/databind/pkg/types"
)

func people() []any {
	return []any{
		map[string]any{"name": "Alice", "age": 30, "city": "Oslo", "note": ""},
		map[string]any{"name": "bob", "age": 25, "city": "Paris", "note": nil},
		map[string]any{"name": "Carol", "age": 35, "city": "oslo", "note": "vip"},
		map[string]any{"name": "Dave", "age": nil, "city": "Rome"},
	}
}

func names(items []any) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = item.(map[string]any)["name"]
	}
	return out
}

func TestFilterOperators(t *testing.T) {
	off := false
	tests := []struct {
		name   string
		filter *types.FilterDescriptor
		want   []any
	}{
		{"eq ignores case by default", types.Where("city", "eq", "OSLO"), []any{"Alice", "Carol"}},
		{"eq case sensitive", &types.FilterDescriptor{Field: "city", Operator: "eq", Value: "Oslo", IgnoreCase: &off}, []any{"Alice"}},
		{"alias ==", types.Where("age", "==", 25), []any{"bob"}},
		{"numeric string coerces", types.Where("age", "eq", "35"), []any{"Carol"}},
		{"neq includes null", types.Where("age", "neq", 30), []any{"bob", "Carol", "Dave"}},
		{"gt skips null", types.Where("age", "gt", 26), []any{"Alice", "Carol"}},
		{"alias <=", types.Where("age", "<=", 30), []any{"Alice", "bob"}},
		{"ge alias", types.Where("age", "ge", 35), []any{"Carol"}},
		{"startswith", types.Where("name", "startswith", "b"), []any{"bob"}},
		{"endswith", types.Where("name", "endswith", "OL"), []any{"Carol"}},
		{"contains", types.Where("name", "contains", "a"), []any{"Alice", "Carol", "Dave"}},
		{"doesnotcontain", types.Where("name", "doesnotcontain", "a"), []any{"bob"}},
		{"notsubstringof alias", types.Where("name", "notsubstringof", "a"), []any{"bob"}},
		{"isnull", types.Where("age", "isnull", nil), []any{"Dave"}},
		{"isnotnull", types.Where("age", "isnotnull", nil), []any{"Alice", "bob", "Carol"}},
		{"isempty", types.Where("note", "isempty", nil), []any{"Alice"}},
		{"isnullorempty", types.Where("note", "isnullorempty", nil), []any{"Alice", "bob", "Dave"}},
		{"isnotnullorempty", types.Where("note", "isnotnullorempty", nil), []any{"Carol"}},
		{"and", types.And(types.Where("city", "eq", "oslo"), types.Where("age", "gt", 31)), []any{"Carol"}},
		{"or", types.Or(types.Where("age", "eq", 25), types.Where("name", "eq", "dave")), []any{"bob", "Dave"}},
		{"nested", types.And(
			types.Or(types.Where("city", "eq", "rome"), types.Where("city", "eq", "paris")),
			types.Where("name", "neq", "dave"),
		), []any{"bob"}},
		{"custom func", &types.FilterDescriptor{Field: "name", Value: 4, Func: func(v, target any) bool {
			return len(v.(string)) == target.(int)
		}}, []any{"Dave"}},
		{"empty and", types.And(), []any{"Alice", "bob", "Carol", "Dave"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Filter(people(), tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(got))
		})
	}
}

func TestCompileFilterRejectsBadInput(t *testing.T) {
	tests := []struct {
		name   string
		filter *types.FilterDescriptor
	}{
		{"unknown operator", types.Where("a", "like", "x")},
		{"missing field", types.Where("", "eq", 1)},
		{"bad logic", &types.FilterDescriptor{Logic: "xor", Filters: []*types.FilterDescriptor{types.Where("a", "eq", 1)}}},
		{"nested bad operator", types.And(types.Where("a", "eq", 1), types.Where("b", "between", 2))},
		{"nil child", types.And(nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileFilter(tt.filter)
			require.ErrorIs(t, err, types.ErrInvalidFilter)
		})
	}
}

func TestFilterDates(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	data := []any{
		map[string]any{"name": "a", "at": base},
		map[string]any{"name": "b", "at": base.Add(time.Hour)},
	}
	got, err := Filter(data, types.Where("at", "eq", base.In(time.FixedZone("x", 7200))))
	require.NoError(t, err)
	assert.Equal(t, []any{"a"}, names(got))

	got, err = Filter(data, types.Where("at", "gt", "2024-05-01T10:30:00Z"))
	require.NoError(t, err)
	assert.Equal(t, []any{"b"}, names(got))
}

func TestNormalizeOperator(t *testing.T) {
	op, err := NormalizeOperator(" IsEqualTo ")
	require.NoError(t, err)
	assert.Equal(t, OpEq, op)

	_, err = NormalizeOperator("regex")
	assert.ErrorIs(t, err, types.ErrInvalidFilter)
}
