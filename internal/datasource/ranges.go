package datasource

import (
	"context"
	"slices"

	"github.com/golang/glog"

	"github.com/mesh-intelligence/databind/internal/observable"
	"github.com/mesh-intelligence/databind/internal/value"
	"github.com/mesh-intelligence/databind/pkg/types"
)

// Span is the [Start, End) extent of a cached range in record coordinates.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// span keys in-flight prefetches.
type span struct{ skip, take int }

// rangeEntry is one cached server page. Under server grouping groups holds
// the page's group tree over the same models.
type rangeEntry struct {
	start, end int
	models     []types.Model
	groups     []any
}

func newRange(start int, models []types.Model, groups []any) *rangeEntry {
	return &rangeEntry{
		start:  start,
		end:    start + len(models),
		models: models,
		groups: groups,
	}
}

// Ranges returns the cached ranges in ascending order.
func (ds *DataSource) Ranges() []Span {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	out := make([]Span, len(ds.ranges))
	for i, r := range ds.ranges {
		out[i] = Span{Start: r.start, End: r.end}
	}
	return out
}

// LastRangeEnd returns the end of the last cached range, or 0.
func (ds *DataSource) LastRangeEnd() int {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if len(ds.ranges) == 0 {
		return 0
	}
	return ds.ranges[len(ds.ranges)-1].end
}

// InRange reports whether [skip, skip+take) can be served from the cache.
// Without server paging all data is resident once loaded.
func (ds *DataSource) InRange(skip, take int) bool {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if !ds.server.Paging && ds.data.Len() > 0 {
		return true
	}
	models, _ := ds.findRangeLocked(skip, min(skip+take, ds.total))
	return len(models) > 0
}

func (ds *DataSource) rangeExistsLocked(start, end int) bool {
	for _, r := range ds.ranges {
		if r.start <= start && r.end >= end {
			return true
		}
	}
	return false
}

// findRangeLocked collects [start, end) from contiguous cached ranges. It
// returns nothing unless the whole window is covered. Under server grouping
// the group trees of adjacent ranges are merged where a group spans them.
func (ds *DataSource) findRangeLocked(start, end int) ([]types.Model, []any) {
	if end <= start {
		return nil, nil
	}
	for i, r := range ds.ranges {
		if start < r.start || start >= r.end {
			continue
		}
		var (
			models  []types.Model
			groups  []any
			grouped = r.groups != nil
		)
		for j := i; j < len(ds.ranges); j++ {
			cur := ds.ranges[j]
			if j > i && cur.start != ds.ranges[j-1].end {
				break
			}
			from := max(start, cur.start) - cur.start
			to := min(end, cur.end) - cur.start
			models = append(models, cur.models[from:to]...)
			if grouped {
				groups = mergeGroups(groups, sliceGroups(cur.groups, from, to))
			}
			if end <= cur.end {
				return models, groups
			}
		}
		return nil, nil
	}
	return nil, nil
}

// addRangeLocked caches the parts of r not already cached and keeps the
// cache sorted by start. Cached models win over r's copies so that edits to
// resident models survive a prefetch that overlaps them.
func (ds *DataSource) addRangeLocked(r *rangeEntry) {
	ds.ranges = slices.DeleteFunc(ds.ranges, func(cur *rangeEntry) bool { return cur.end <= cur.start })
	var parts []*rangeEntry
	cursor := r.start
	for _, cur := range ds.ranges {
		if cur.end <= cursor || cur.start >= r.end {
			continue
		}
		if cur.start > cursor {
			parts = append(parts, r.slice(cursor, cur.start))
		}
		cursor = max(cursor, cur.end)
	}
	if cursor < r.end {
		parts = append(parts, r.slice(cursor, r.end))
	}
	for _, part := range parts {
		ds.pristine.add(part.models)
	}
	ds.ranges = append(ds.ranges, parts...)
	slices.SortFunc(ds.ranges, func(a, b *rangeEntry) int { return a.start - b.start })
}

// slice returns the part of r covering [from, to) in record coordinates.
func (r *rangeEntry) slice(from, to int) *rangeEntry {
	if from == r.start && to == r.end {
		return r
	}
	lo, hi := from-r.start, to-r.start
	var groups []any
	if r.groups != nil {
		groups = sliceGroups(r.groups, lo, hi)
	}
	return newRange(from, r.models[lo:hi], groups)
}

// removeFromRangesLocked drops removed models from the cache and shifts the
// following ranges so the cache stays contiguous.
func (ds *DataSource) removeFromRangesLocked(items []any) {
	for _, item := range items {
		m, ok := item.(types.Model)
		if !ok {
			continue
		}
		shift := 0
		for _, r := range ds.ranges {
			r.start -= shift
			r.end -= shift
			idx := slices.IndexFunc(r.models, func(c types.Model) bool { return c.UID() == m.UID() })
			if idx < 0 {
				continue
			}
			r.models = slices.Delete(slices.Clone(r.models), idx, idx+1)
			if r.groups != nil {
				r.groups = removeFromGroups(r.groups, m)
			}
			r.end--
			shift++
		}
	}
}

// insertIntoRangesLocked places models added at working set position index
// into the range covering it and shifts the following ranges.
func (ds *DataSource) insertIntoRangesLocked(index int, items []any) {
	if len(ds.ranges) == 0 {
		return
	}
	abs := index
	if ds.server.Paging {
		abs += ds.skip
	}
	added := make([]types.Model, 0, len(items))
	for _, item := range items {
		if m, ok := item.(types.Model); ok {
			added = append(added, m)
		}
	}
	shift := 0
	for _, r := range ds.ranges {
		r.start += shift
		r.end += shift
		if shift > 0 || abs < r.start || abs > r.end {
			continue
		}
		if r.groups != nil {
			// A new record has no place in a server group tree; it stays in
			// the working set only.
			return
		}
		at := abs - r.start
		r.models = slices.Insert(slices.Clone(r.models), at, added...)
		r.end += len(added)
		shift = len(added)
	}
}

// Range moves the view to the window [skip, skip+take). Cached windows are
// applied at once; missing ones are prefetched first, together with the
// next page when the window straddles two pages. done is always called.
// Only the most recent Range call may change the view: an older one that
// completes late leaves the view alone.
func (ds *DataSource) Range(skip, take int, done func(error)) {
	if done == nil {
		done = func(error) {}
	}
	if take <= 0 {
		done(nil)
		return
	}
	ds.mu.Lock()
	ds.stamp++
	stamp := ds.stamp
	ds.mu.Unlock()
	ds.rangeAt(stamp, skip, take, true, done)
}

func (ds *DataSource) rangeAt(stamp uint64, skip, take int, fetch bool, done func(error)) {
	ds.mu.Lock()
	if stamp != ds.stamp {
		ds.mu.Unlock()
		glog.V(2).Infof("datasource range %d+%d superseded", skip, take)
		done(nil)
		return
	}
	if !ds.server.Paging {
		ds.setWindowLocked(max(skip, 0), take)
		ds.rebuildViewLocked()
		view := append([]any(nil), ds.view...)
		ds.mu.Unlock()
		ds.Trigger(EventChange, &observable.Event{Action: observable.ActionRange, Items: view, Skip: skip, Take: take})
		done(nil)
		return
	}

	total := ds.total
	skip = min(max(skip, 0), total)
	pageSkip := skip / take * take
	size := min(pageSkip+take, total)
	models, groups := ds.findRangeLocked(skip, min(skip+take, total))
	if len(models) > 0 || total == 0 || !fetch {
		view := ds.applyRangeLocked(models, groups, skip, take)
		ds.mu.Unlock()
		ds.Trigger(EventChange, &observable.Event{Action: observable.ActionRange, Items: view, Skip: skip, Take: take})
		done(nil)
		return
	}
	pageCached := ds.rangeExistsLocked(pageSkip, size)
	ds.mu.Unlock()

	retry := func(err error) {
		if err != nil {
			done(err)
			return
		}
		ds.rangeAt(stamp, skip, take, false, done)
	}
	switch {
	case !pageCached:
		ds.Prefetch(pageSkip, take, func(err error) {
			if err != nil {
				done(err)
				return
			}
			ds.mu.Lock()
			total := ds.total
			next := skip > pageSkip && size < total && !ds.rangeExistsLocked(size, min(size+take, total))
			ds.mu.Unlock()
			if next {
				ds.Prefetch(size, take, retry)
				return
			}
			retry(nil)
		})
	case pageSkip < skip:
		ds.Prefetch(size, take, retry)
	default:
		retry(nil)
	}
}

// applyRangeLocked makes a window the working set and returns the new view.
func (ds *DataSource) applyRangeLocked(models []types.Model, groups []any, skip, take int) []any {
	ds.replaceDataLocked(models)
	ds.setWindowLocked(skip, take)
	ds.rebuildViewLocked()
	if groups != nil {
		ds.view = groups
	}
	return append([]any(nil), ds.view...)
}

// setWindowLocked moves the window and keeps the query state in step with
// it, so State and a later Read refer to the window on display.
func (ds *DataSource) setWindowLocked(skip, take int) {
	ds.skip, ds.take = skip, take
	ds.q.Skip, ds.q.Take = skip, take
	if take > 0 {
		ds.q.Page = skip/take + 1
	}
}

// Prefetch loads [skip, skip+take) into the range cache without changing
// the view. Prefetches run on the executor and may overlap each other and a
// primary read; concurrent requests for the same window share one call.
// done is always called, with nil when the window was already cached.
func (ds *DataSource) Prefetch(skip, take int, done func(error)) {
	if done == nil {
		done = func(error) {}
	}
	ds.mu.Lock()
	end := skip + take
	if ds.loaded {
		end = min(end, ds.total)
	}
	if take <= 0 || ds.rangeExistsLocked(skip, end) {
		ds.mu.Unlock()
		done(nil)
		return
	}
	key := span{skip, take}
	if waiting, ok := ds.inflight[key]; ok {
		ds.inflight[key] = append(waiting, done)
		ds.mu.Unlock()
		return
	}
	ds.inflight[key] = []func(error){done}
	req := ds.requestLocked(skip, take)
	ds.mu.Unlock()

	ds.run(func() {
		err := ds.prefetch(skip, req)
		ds.mu.Lock()
		waiting := ds.inflight[key]
		delete(ds.inflight, key)
		ds.mu.Unlock()
		for _, fn := range waiting {
			fn(err)
		}
	})
}

func (ds *DataSource) prefetch(skip int, req *types.Request) error {
	if ds.Trigger(EventRequestStart, &observable.Event{Type: types.VerbRead, Skip: req.Query.Skip, Take: req.Query.Take}) {
		return nil
	}
	glog.V(2).Infof("datasource prefetch %d+%d", req.Query.Skip, req.Query.Take)
	payload, err := ds.transport.Read(context.Background(), req)
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
	if len(d.models) > 0 {
		ds.addRangeLocked(newRange(skip, d.models, d.groups))
	}
	ds.total = d.total
	ds.loaded = true
	ds.mu.Unlock()
	return nil
}

// sliceGroups restricts a group tree to the leaves in [from, to).
func sliceGroups(items []any, from, to int) []any {
	out := make([]any, 0, len(items))
	pos := 0
	for _, item := range items {
		g, ok := item.(*types.Group)
		if !ok {
			if pos >= from && pos < to {
				out = append(out, item)
			}
			pos++
			continue
		}
		n := g.LeafCount()
		if pos+n > from && pos < to {
			cp := *g
			cp.Items = sliceGroups(g.Items, max(from-pos, 0), to-pos)
			out = append(out, &cp)
		}
		pos += n
	}
	return out
}

// mergeGroups concatenates two group lists, joining the boundary groups when
// they carry the same field and value.
func mergeGroups(a, b []any) []any {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	last, ok1 := a[len(a)-1].(*types.Group)
	first, ok2 := b[0].(*types.Group)
	if !ok1 || !ok2 || last.Field != first.Field || !value.Equal(last.Value, first.Value) {
		return append(slices.Clone(a), b...)
	}
	joined := *last
	if last.HasSubgroups {
		joined.Items = mergeGroups(last.Items, first.Items)
	} else {
		joined.Items = append(slices.Clone(last.Items), first.Items...)
	}
	out := append(slices.Clone(a[:len(a)-1]), &joined)
	return append(out, b[1:]...)
}

// removeFromGroups drops m from a group tree, pruning emptied groups.
func removeFromGroups(items []any, m types.Model) []any {
	out := make([]any, 0, len(items))
	for _, item := range items {
		g, ok := item.(*types.Group)
		if !ok {
			if leaf, isModel := item.(types.Model); isModel && leaf.UID() == m.UID() {
				continue
			}
			out = append(out, item)
			continue
		}
		cp := *g
		cp.Items = removeFromGroups(g.Items, m)
		if len(cp.Items) > 0 {
			out = append(out, &cp)
		}
	}
	return out
}
