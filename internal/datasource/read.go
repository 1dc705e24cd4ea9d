package datasource

import (
	"context"
	"maps"

	"github.com/golang/glog"

	"github.com/mesh-intelligence/databind/internal/observable"
	"github.com/mesh-intelligence/databind/internal/query"
	"github.com/mesh-intelligence/databind/pkg/types"
)

// decoded is a parsed read payload turned into models.
type decoded struct {
	models     []types.Model
	groups     []any
	total      int
	aggregates types.Aggregates
}

// Read merges the non-zero fields of q into the query state and loads data
// through the transport. Reads are serialized: a read issued while another is
// in flight waits for it. A requestStart handler may cancel the read, in
// which case Read returns nil without touching data.
func (ds *DataSource) Read(ctx context.Context, q *types.QueryOptions) error {
	if q != nil {
		if err := validate(*q); err != nil {
			return err
		}
		ds.mu.Lock()
		next := ds.q
		mergeQuery(&next, *q)
		ds.setQueryLocked(next)
		ds.mu.Unlock()
	}
	return ds.read(ctx)
}

func mergeQuery(dst *types.QueryOptions, src types.QueryOptions) {
	if src.Page > 0 {
		dst.Page = src.Page
	}
	if src.PageSize > 0 {
		dst.PageSize = src.PageSize
	}
	switch {
	case src.Skip > 0 || src.Take > 0:
		dst.Skip, dst.Take = src.Skip, src.Take
	case src.Page > 0 || src.PageSize > 0:
		// A page request replaces the window left by Range.
		dst.Skip, dst.Take = 0, 0
	}
	if src.Sort != nil {
		dst.Sort = src.Sort
	}
	if src.Filter != nil {
		dst.Filter = src.Filter
	}
	if src.Group != nil {
		dst.Group = src.Group
	}
	if src.Aggregate != nil {
		dst.Aggregate = src.Aggregate
	}
}

func (ds *DataSource) read(ctx context.Context) error {
	if !ds.Online() && ds.storage != nil {
		return ds.readOffline()
	}
	if err := ds.readSem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer ds.readSem.Release(1)

	ds.mu.Lock()
	req := ds.requestLocked(ds.skip, ds.take)
	skip := ds.skip
	ds.mu.Unlock()

	if ds.Trigger(EventRequestStart, &observable.Event{Type: types.VerbRead}) {
		glog.V(1).Infof("datasource read canceled by requestStart")
		return nil
	}
	ds.Trigger(EventProgress, nil)

	payload, err := ds.transport.Read(ctx, req)
	ds.Trigger(EventRequestEnd, &observable.Event{Type: types.VerbRead, Response: payload})
	if err != nil {
		ds.emitError(err, types.VerbRead)
		return err
	}
	d, err := ds.decode(payload)
	if err != nil {
		ds.emitError(err, types.VerbRead)
		return err
	}

	ds.mu.Lock()
	ds.applyReadLocked(d, skip)
	view := append([]any(nil), ds.view...)
	ds.mu.Unlock()
	glog.V(1).Infof("datasource read %d records, total %d", len(d.models), d.total)

	ds.saveOffline()
	ds.Trigger(EventChange, &observable.Event{Items: view})
	return nil
}

// requestLocked builds the read request for the window [skip, skip+take),
// carrying only the delegated query operations.
func (ds *DataSource) requestLocked(skip, take int) *types.Request {
	var q types.QueryOptions
	if ds.server.Paging && take > 0 {
		q.Skip, q.Take = skip, take
		q.Page, q.PageSize = skip/take+1, take
	}
	if ds.server.Sorting {
		q.Sort = ds.q.Sort
	}
	if ds.server.Filtering {
		q.Filter = ds.q.Filter
	}
	if ds.server.Grouping {
		q.Group = ds.q.Group
	}
	if ds.server.Aggregates {
		q.Aggregate = ds.q.Aggregate
	}
	req := &types.Request{Query: q}
	if len(ds.params) > 0 {
		req.Params = maps.Clone(ds.params)
	}
	return req
}

// decode parses payload and builds models. Application errors reported by
// the payload are returned as a SemanticError.
func (ds *DataSource) decode(payload any) (*decoded, error) {
	parsed, err := ds.reader.Parse(payload)
	if err != nil {
		return nil, err
	}
	if errs := ds.reader.Errors(parsed); errs != nil {
		return nil, &types.SemanticError{Errors: errs}
	}

	d := &decoded{total: ds.reader.Total(parsed)}
	var records []map[string]any
	if ds.server.Grouping && len(ds.State().Group) > 0 {
		groups := ds.reader.Groups(parsed)
		for _, g := range groups {
			d.groups = append(d.groups, g)
		}
		for _, leaf := range types.Flatten(d.groups) {
			rec, _ := leaf.(map[string]any)
			records = append(records, rec)
		}
	} else {
		records = ds.reader.Data(parsed)
	}
	if ds.server.Aggregates {
		d.aggregates = ds.reader.Aggregates(parsed)
	}

	d.models = make([]types.Model, len(records))
	for i, rec := range records {
		d.models[i] = ds.newModel(rec)
	}
	if d.groups != nil {
		d.groups = mapGroups(d.groups, d.models)
	}
	return d, nil
}

// mapGroups replaces the leaf records of groups, in order, by models.
func mapGroups(groups []any, models []types.Model) []any {
	i := 0
	var walk func(items []any) []any
	walk = func(items []any) []any {
		out := make([]any, 0, len(items))
		for _, item := range items {
			g, ok := item.(*types.Group)
			if !ok {
				if i < len(models) {
					out = append(out, models[i])
				}
				i++
				continue
			}
			cp := *g
			cp.Items = walk(g.Items)
			out = append(out, &cp)
		}
		return out
	}
	return walk(groups)
}

// applyReadLocked replaces the working set with a read result that starts at
// skip and resets the range cache to it.
func (ds *DataSource) applyReadLocked(d *decoded, skip int) {
	ds.replaceDataLocked(d.models)
	ds.pristine.reset(d.models)
	ds.destroyed = nil
	clear(ds.removedAt)
	ds.total = d.total
	ds.pristineTotal = d.total
	ds.loaded = true
	if ds.server.Aggregates {
		ds.aggregates = d.aggregates
	}
	start := 0
	if ds.server.Paging {
		start = skip
	}
	ds.ranges = []*rangeEntry{newRange(start, d.models, d.groups)}
	ds.rebuildViewLocked()
	if d.groups != nil {
		ds.view = d.groups
	}
}

// replaceDataLocked installs a new working set array and moves the change
// subscription to it.
func (ds *DataSource) replaceDataLocked(models []types.Model) {
	if ds.unbindData != nil {
		ds.unbindData()
	}
	items := make([]any, len(models))
	for i, m := range models {
		items[i] = m
	}
	ds.data = observable.NewArray(items)
	ds.unbindData = ds.data.Bind(observable.EventChange, ds.dataChanged)
}

// localOptionsLocked returns the query operations the engine runs locally.
func (ds *DataSource) localOptionsLocked() types.QueryOptions {
	var q types.QueryOptions
	if !ds.server.Filtering {
		q.Filter = ds.q.Filter
	}
	if !ds.server.Sorting {
		q.Sort = ds.q.Sort
	}
	// Server groups are regrouped locally once the resident page changes.
	q.Group = ds.q.Group
	if !ds.server.Aggregates {
		q.Aggregate = ds.q.Aggregate
	}
	if !ds.server.Paging && ds.take > 0 {
		q.Skip, q.Take = ds.skip, ds.take
	}
	return q
}

// rebuildViewLocked reprocesses the working set into the view.
func (ds *DataSource) rebuildViewLocked() {
	items := ds.data.Items()
	res, err := query.Process(items, ds.localOptionsLocked())
	if err != nil {
		glog.Warningf("datasource process: %v", err)
		ds.view = items
		return
	}
	ds.view = res.Data
	if !ds.server.Paging {
		ds.total = res.Total
	}
	if !ds.server.Aggregates {
		ds.aggregates = res.Aggregates
	}
}

// Query replaces the query state with q. When any operation is delegated,
// or nothing has been loaded yet, it reads; otherwise it reprocesses the
// resident data. Under server paging a change of sort, filter, grouping,
// aggregates or page size drops the range cache and emits reset.
func (ds *DataSource) Query(ctx context.Context, q types.QueryOptions) error {
	if err := validate(q); err != nil {
		return err
	}
	ds.mu.Lock()
	prev := ds.q
	ds.setQueryLocked(q)
	remote := ds.server.Any() || !ds.loaded
	reset := ds.server.Paging && queryChanged(prev, ds.q)
	if reset {
		ds.ranges = nil
	}
	if !remote {
		ds.rebuildViewLocked()
	}
	view := append([]any(nil), ds.view...)
	ds.mu.Unlock()

	if reset {
		ds.Trigger(EventReset, nil)
	}
	if remote {
		return ds.read(ctx)
	}
	ds.Trigger(EventChange, &observable.Event{Items: view})
	return nil
}

// Fetch loads data if nothing is loaded yet and otherwise re-applies the
// current query.
func (ds *DataSource) Fetch(ctx context.Context) error {
	return ds.Query(ctx, ds.State())
}

// SetPage moves to page, 1-based.
func (ds *DataSource) SetPage(ctx context.Context, page int) error {
	q := ds.State()
	q.Page, q.Skip, q.Take = page, 0, 0
	return ds.Query(ctx, q)
}

// SetPageSize changes the page size and returns to the first page.
func (ds *DataSource) SetPageSize(ctx context.Context, size int) error {
	q := ds.State()
	q.PageSize, q.Page, q.Skip, q.Take = size, 1, 0, 0
	return ds.Query(ctx, q)
}

// SetSort replaces the sort descriptors.
func (ds *DataSource) SetSort(ctx context.Context, sorts ...types.SortDescriptor) error {
	q := ds.State()
	q.Sort = sorts
	return ds.Query(ctx, q)
}

// SetFilter replaces the filter and returns to the first page. A nil filter
// clears it.
func (ds *DataSource) SetFilter(ctx context.Context, f *types.FilterDescriptor) error {
	q := ds.State()
	q.Filter = f
	if q.PageSize > 0 {
		q.Page, q.Skip, q.Take = 1, 0, 0
	}
	return ds.Query(ctx, q)
}

// SetGroup replaces the group descriptors.
func (ds *DataSource) SetGroup(ctx context.Context, groups ...types.GroupDescriptor) error {
	q := ds.State()
	q.Group = groups
	return ds.Query(ctx, q)
}

// SetAggregate replaces the aggregate descriptors.
func (ds *DataSource) SetAggregate(ctx context.Context, aggs ...types.AggregateDescriptor) error {
	q := ds.State()
	q.Aggregate = aggs
	return ds.Query(ctx, q)
}
