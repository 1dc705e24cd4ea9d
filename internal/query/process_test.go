package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/databind/internal/value"
	"github.com/mesh-intelligence/databind/pkg/types"
)

func ids(items []any) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = value.Get(item, "id")
	}
	return out
}

func TestProcessOrder(t *testing.T) {
	res, err := Process(orders(), types.QueryOptions{
		Filter:    types.Where("amount", "gte", 3),
		Sort:      []types.SortDescriptor{{Field: "amount", Dir: "desc"}},
		Skip:      1,
		Take:      2,
		Aggregate: []types.AggregateDescriptor{{Field: "amount", Aggregate: "sum"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Total)
	assert.Equal(t, []any{3, 2}, ids(res.Data))
	assert.Equal(t, 25.0, res.Aggregates["amount"]["sum"])
}

func TestProcessGroupSortsByGroupKeysFirst(t *testing.T) {
	res, err := Process(orders(), types.QueryOptions{
		Group: []types.GroupDescriptor{{Field: "region"}},
		Sort:  []types.SortDescriptor{{Field: "amount"}},
		Take:  3,
	})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Total)
	require.Len(t, res.Data, 1)
	eu := res.Data[0].(*types.Group)
	assert.Equal(t, []any{5, 3, 1}, ids(eu.Items))
}

func TestProcessPageSize(t *testing.T) {
	res, err := Process(orders(), types.QueryOptions{Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, []any{3, 4}, ids(res.Data))

	res, err = Process(orders(), types.QueryOptions{Skip: 10, Take: 5})
	require.NoError(t, err)
	assert.Empty(t, res.Data)
	assert.Equal(t, 5, res.Total)
}

// Applying the same query to the same input is deterministic and
// idempotent, and pages partition the filtered set.
func TestProcessPagesPartitionFilteredSet(t *testing.T) {
	data := make([]any, 0, 23)
	for i := range 23 {
		data = append(data, map[string]any{"id": i, "bucket": i % 4, "v": 23 - i})
	}
	base := types.QueryOptions{
		Filter: types.Where("bucket", "neq", 3),
		Sort:   []types.SortDescriptor{{Field: "bucket"}, {Field: "v"}},
	}
	all, err := Process(data, base)
	require.NoError(t, err)

	again, err := Process(data, base)
	require.NoError(t, err)
	assert.Equal(t, ids(all.Data), ids(again.Data))

	var paged []any
	for skip := 0; skip < all.Total; skip += 5 {
		opts := base
		opts.Skip, opts.Take = skip, 5
		res, err := Process(data, opts)
		require.NoError(t, err)
		assert.Equal(t, all.Total, res.Total)
		paged = append(paged, res.Data...)
	}
	assert.Equal(t, ids(all.Data), ids(paged))
}

func TestProcessPropagatesErrors(t *testing.T) {
	_, err := Process(orders(), types.QueryOptions{Filter: types.Where("id", "between", 1)})
	assert.ErrorIs(t, err, types.ErrInvalidFilter)
	_, err = Process(orders(), types.QueryOptions{Aggregate: []types.AggregateDescriptor{{Field: "id", Aggregate: "mode"}}})
	assert.ErrorIs(t, err, types.ErrInvalidAggregate)
}

func TestWindow(t *testing.T) {
	skip, take := Window(types.QueryOptions{Page: 3, PageSize: 10})
	assert.Equal(t, 20, skip)
	assert.Equal(t, 10, take)

	skip, take = Window(types.QueryOptions{Skip: 4, Take: 2, Page: 3, PageSize: 10})
	assert.Equal(t, 4, skip)
	assert.Equal(t, 2, take)
}
