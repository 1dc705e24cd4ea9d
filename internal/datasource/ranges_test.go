package datasource

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/databind/internal/observable"
	"github.com/mesh-intelligence/databind/pkg/types"
)

// queue holds background work until drained.
type queue struct {
	mu  sync.Mutex
	fns []func()
}

func (q *queue) run(fn func()) {
	q.mu.Lock()
	q.fns = append(q.fns, fn)
	q.mu.Unlock()
}

func (q *queue) drain(reverse bool) {
	q.mu.Lock()
	fns := q.fns
	q.fns = nil
	q.mu.Unlock()
	for i := range fns {
		if reverse {
			fns[len(fns)-1-i]()
		} else {
			fns[i]()
		}
	}
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.fns)
}

func pagedSource(t *testing.T, n int, exec Executor) (*DataSource, *stub) {
	t.Helper()
	s := &stub{Transport: memory(products(n))}
	ds := newSource(t, Options{
		Transport: s,
		PageSize:  10,
		Server:    types.ServerOptions{Paging: true},
		Executor:  exec,
	})
	require.NoError(t, ds.Read(t.Context(), nil))
	return ds, s
}

func rangeOf(t *testing.T, ds *DataSource, skip, take int) {
	t.Helper()
	var got error
	called := false
	ds.Range(skip, take, func(err error) {
		called = true
		got = err
	})
	require.True(t, called)
	require.NoError(t, got)
}

func TestRangeFetchesMissingPages(t *testing.T) {
	ds, s := pagedSource(t, 45, nil)
	ev := record(ds, EventChange)

	rangeOf(t, ds, 15, 10)

	assert.Equal(t, []float64{16, 17, 18, 19, 20, 21, 22, 23, 24, 25}, ids(ds.View()))
	assert.Equal(t, 15, ds.Skip())
	assert.Equal(t, 10, ds.Take())
	assert.Equal(t, []Span{{0, 10}, {10, 20}, {20, 30}}, ds.Ranges())
	assert.EqualValues(t, 3, s.calls.Load())

	e := ev.lastOf(EventChange)
	require.NotNil(t, e)
	assert.Equal(t, observable.ActionRange, e.Action)
	assert.Equal(t, 15, e.Skip)
}

func TestRangeServedFromCache(t *testing.T) {
	ds, s := pagedSource(t, 45, nil)
	rangeOf(t, ds, 15, 10)
	rangeOf(t, ds, 0, 10)
	rangeOf(t, ds, 5, 20)

	assert.EqualValues(t, 3, s.calls.Load())
	assert.Len(t, ds.View(), 20)
	assert.Equal(t, 30, ds.LastRangeEnd())
}

func TestRangeClampsToTotal(t *testing.T) {
	ds, _ := pagedSource(t, 45, nil)
	rangeOf(t, ds, 40, 10)
	assert.Equal(t, []float64{41, 42, 43, 44, 45}, ids(ds.View()))
	assert.Equal(t, 45, ds.LastRangeEnd())
}

func TestInRange(t *testing.T) {
	ds, _ := pagedSource(t, 45, nil)
	assert.True(t, ds.InRange(0, 10))
	assert.True(t, ds.InRange(3, 5))
	assert.False(t, ds.InRange(5, 10))
	assert.False(t, ds.InRange(20, 10))

	local := newSource(t, Options{Data: products(3)})
	require.NoError(t, local.Read(t.Context(), nil))
	assert.True(t, local.InRange(100, 10))
}

func TestPrefetchCoalescesAndKeepsView(t *testing.T) {
	q := &queue{}
	ds, s := pagedSource(t, 45, q.run)
	before := ids(ds.View())

	var calls int
	ds.Prefetch(20, 10, func(err error) { require.NoError(t, err); calls++ })
	ds.Prefetch(20, 10, func(err error) { require.NoError(t, err); calls++ })
	assert.Equal(t, 1, q.len())

	q.drain(false)
	assert.Equal(t, 2, calls)
	assert.EqualValues(t, 2, s.calls.Load())
	assert.Equal(t, before, ids(ds.View()))
	assert.True(t, ds.InRange(20, 10))

	ds.Prefetch(20, 10, func(err error) { calls++ })
	assert.Equal(t, 3, calls, "cached windows complete at once")
	assert.Zero(t, q.len())
}

func TestStaleRangeDoesNotMoveView(t *testing.T) {
	q := &queue{}
	ds, _ := pagedSource(t, 45, q.run)

	var done []int
	ds.Range(20, 10, func(err error) { require.NoError(t, err); done = append(done, 20) })
	ds.Range(30, 10, func(err error) { require.NoError(t, err); done = append(done, 30) })
	require.Equal(t, 2, q.len())

	q.drain(true)
	assert.ElementsMatch(t, []int{20, 30}, done)
	assert.Equal(t, 30, ds.Skip())
	assert.Equal(t, []float64{31, 32, 33, 34, 35, 36, 37, 38, 39, 40}, ids(ds.View()))
	assert.True(t, ds.InRange(20, 10), "the stale page is still cached")
}

func TestRemovalRenumbersRanges(t *testing.T) {
	ds, _ := pagedSource(t, 45, nil)
	ds.Prefetch(10, 10, nil)
	ds.Prefetch(20, 10, nil)
	require.Equal(t, []Span{{0, 10}, {10, 20}, {20, 30}}, ds.Ranges())

	require.True(t, ds.Remove(ds.At(0)))
	assert.Equal(t, []Span{{0, 9}, {9, 19}, {19, 29}}, ds.Ranges())
	assert.Equal(t, 44, ds.Total())

	rangeOf(t, ds, 9, 10)
	assert.Equal(t, []float64{11, 12, 13, 14, 15, 16, 17, 18, 19, 20}, ids(ds.View()))

	ds.Add(map[string]any{"name": "tail"})
	assert.Equal(t, []Span{{0, 9}, {9, 20}, {20, 30}}, ds.Ranges())
	assert.Equal(t, 45, ds.Total())
}

func TestGroupedRangesMergeSpanningGroup(t *testing.T) {
	records := products(20)
	for i, rec := range records {
		if i < 15 {
			rec["category"] = "a"
		} else {
			rec["category"] = "b"
		}
	}
	ds := newSource(t, Options{
		Transport: memory(records),
		PageSize:  10,
		Group:     []types.GroupDescriptor{{Field: "category"}},
		Server:    types.ServerOptions{Paging: true, Grouping: true},
	})
	require.NoError(t, ds.Read(t.Context(), nil))
	require.Len(t, ds.View(), 1)

	rangeOf(t, ds, 5, 10)
	view := ds.View()
	require.Len(t, view, 1, "the group spanning both pages is merged")
	g := view[0].(*types.Group)
	assert.Equal(t, "a", g.Value)
	assert.Equal(t, 10, g.LeafCount())
	assert.Equal(t, []float64{6, 7, 8, 9, 10, 11, 12, 13, 14, 15}, ids(g.Items))

	rangeOf(t, ds, 10, 10)
	view = ds.View()
	require.Len(t, view, 2)
	assert.Equal(t, "b", view[1].(*types.Group).Value)
}

func TestSliceAndMergeGroups(t *testing.T) {
	leaf := func(n int) []any {
		out := make([]any, n)
		for i := range out {
			out[i] = i
		}
		return out
	}
	tree := []any{
		&types.Group{Field: "k", Value: "x", Items: leaf(3)},
		&types.Group{Field: "k", Value: "y", Items: leaf(4)},
	}
	sliced := sliceGroups(tree, 2, 5)
	require.Len(t, sliced, 2)
	assert.Equal(t, 1, sliced[0].(*types.Group).LeafCount())
	assert.Equal(t, 2, sliced[1].(*types.Group).LeafCount())

	merged := mergeGroups(sliceGroups(tree, 0, 4), sliceGroups(tree, 4, 7))
	require.Len(t, merged, 2)
	assert.Equal(t, 4, merged[1].(*types.Group).LeafCount())
	assert.Equal(t, 4, tree[1].(*types.Group).LeafCount(), "inputs are not modified")
}

func TestConfirmedValuesSurviveWindowChanges(t *testing.T) {
	ds, _ := pagedSource(t, 45, nil)
	rangeOf(t, ds, 10, 10)
	m := ds.Get(15)
	require.NotNil(t, m)
	m.Set("price", 999)
	require.NoError(t, ds.Sync(t.Context()))

	rangeOf(t, ds, 0, 10)
	rangeOf(t, ds, 10, 10)
	m = ds.Get(15)
	require.NotNil(t, m)
	m.Set("price", 1)
	ds.CancelChanges(m)
	assert.EqualValues(t, 999, m.Get("price"))
	assert.False(t, ds.HasChanges())

	m.Set("price", 2)
	ds.CancelAll()
	assert.EqualValues(t, 999, ds.Get(15).Get("price"))
	assert.EqualValues(t, 160, ds.Get(16).Get("price"))
}

func TestPushReachesCachedWindows(t *testing.T) {
	ds, _ := pagedSource(t, 45, nil)
	rangeOf(t, ds, 10, 10)
	rangeOf(t, ds, 0, 10)

	ds.PushUpdate(map[string]any{"id": 15, "price": 777})
	assert.Nil(t, ds.Get(15), "window 10-20 is not on display")
	assert.Equal(t, 45, ds.Total(), "a cached record is updated, not created")

	rangeOf(t, ds, 10, 10)
	m := ds.Get(15)
	require.NotNil(t, m)
	assert.EqualValues(t, 777, m.Get("price"))
	m.Set("price", 1)
	ds.CancelChanges(m)
	assert.EqualValues(t, 777, m.Get("price"))

	rangeOf(t, ds, 0, 10)
	ds.PushDestroy(map[string]any{"id": 12})
	assert.Equal(t, 44, ds.Total())
	assert.Equal(t, []Span{{0, 10}, {10, 19}}, ds.Ranges())
	assert.Empty(t, ds.Destroyed())
}

func TestOverlappingPrefetchKeepsCachedModels(t *testing.T) {
	ds, s := pagedSource(t, 45, nil)
	m := ds.Get(6)
	m.Set("price", 1)

	ds.Prefetch(5, 10, nil)
	assert.EqualValues(t, 2, s.calls.Load())
	assert.Equal(t, []Span{{0, 10}, {10, 15}}, ds.Ranges())

	rangeOf(t, ds, 5, 10)
	assert.Equal(t, []float64{6, 7, 8, 9, 10, 11, 12, 13, 14, 15}, ids(ds.View()))
	assert.Same(t, m, ds.Get(6))
	assert.EqualValues(t, 1, ds.Get(6).Get("price"))
	assert.True(t, ds.HasChanges(), "the edit outlives the overlapping fetch")
}

func TestReadAfterRangeReloadsWindow(t *testing.T) {
	ds, s := pagedSource(t, 45, nil)
	rangeOf(t, ds, 20, 10)
	assert.Equal(t, 3, ds.State().Page)

	require.NoError(t, ds.Read(t.Context(), nil))
	assert.Equal(t, 20, ds.Skip())
	assert.Equal(t, 3, ds.Page())
	assert.Equal(t, ds.Page(), ds.State().Page)
	assert.Equal(t, 20, s.lastReq.Query.Skip)
	assert.Equal(t, []float64{21, 22, 23, 24, 25, 26, 27, 28, 29, 30}, ids(ds.View()))

	require.NoError(t, ds.Read(t.Context(), &types.QueryOptions{Page: 1}))
	assert.Zero(t, ds.Skip())
	assert.Equal(t, 1, ds.State().Page)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, ids(ds.View()))
}
