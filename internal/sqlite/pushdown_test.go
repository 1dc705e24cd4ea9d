package sqlite

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/databind/pkg/types"
)

func TestWhereClause(t *testing.T) {
	tests := []struct {
		name     string
		filter   *types.FilterDescriptor
		wantSQL  string
		wantArgs []any
	}{
		{
			name:     "eq case insensitive",
			filter:   types.Where("name", "eq", "a"),
			wantSQL:  "json_extract(doc, '$.name') = ? COLLATE NOCASE",
			wantArgs: []any{"a"},
		},
		{
			name:     "nested path and alias",
			filter:   types.Where("owner.age", ">=", 30),
			wantSQL:  "json_extract(doc, '$.owner.age') >= ?",
			wantArgs: []any{30.0},
		},
		{
			name:    "eq null",
			filter:  types.Where("kind", "eq", nil),
			wantSQL: "json_extract(doc, '$.kind') IS NULL",
		},
		{
			name:     "and of two",
			filter:   types.And(types.Where("a", "eq", true), types.Where("b", "lt", 2)),
			wantSQL:  "(json_extract(doc, '$.a') = ?) AND (json_extract(doc, '$.b') < ?)",
			wantArgs: []any{1, 2.0},
		},
		{
			name:    "empty composite",
			filter:  types.Or(),
			wantSQL: "1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args, err := whereClause(tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestWhereClauseNotPushable(t *testing.T) {
	tests := []struct {
		name   string
		filter *types.FilterDescriptor
	}{
		{"custom func", &types.FilterDescriptor{Field: "a", Func: func(_, _ any) bool { return true }}},
		{"date value", types.Where("at", "gt", time.Now())},
		{"odd field name", types.Where("a b", "eq", 1)},
		{"empty substring", types.Where("a", "contains", "")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := whereClause(tt.filter)
			assert.ErrorIs(t, err, errNotPushable)
		})
	}
}

func TestOrderClause(t *testing.T) {
	terms, ok, err := orderClause([]types.SortDescriptor{{Field: "a"}, {Field: "b", Dir: types.SortDesc}})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{
		"json_extract(doc, '$.a') COLLATE NOCASE ASC",
		"json_extract(doc, '$.b') COLLATE NOCASE DESC",
	}, terms)

	_, ok, err = orderClause([]types.SortDescriptor{{Field: "a", Compare: func(a, b any) int { return 0 }}})
	require.NoError(t, err)
	assert.False(t, ok)
}
