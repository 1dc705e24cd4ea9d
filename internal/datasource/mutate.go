package datasource

import (
	"context"
	"slices"

	"github.com/golang/glog"

	"github.com/mesh-intelligence/databind/internal/observable"
	"github.com/mesh-intelligence/databind/internal/value"
	"github.com/mesh-intelligence/databind/pkg/types"
)

// toModel accepts a model, a record map or nil.
func (ds *DataSource) toModel(v any) types.Model {
	switch t := v.(type) {
	case types.Model:
		return t
	case map[string]any:
		return ds.newModel(t)
	case nil:
		return ds.newModel(nil)
	}
	return ds.newModel(map[string]any{"value": v})
}

// Add appends a record or model to the working set and returns its model.
func (ds *DataSource) Add(v any) types.Model {
	m := ds.toModel(v)
	ds.Data().Push(m)
	return m
}

// Insert places a record or model at index in the working set.
func (ds *DataSource) Insert(index int, v any) types.Model {
	m := ds.toModel(v)
	ds.Data().Insert(index, m)
	return m
}

// Remove takes m out of the working set. A model that was ever saved is
// recorded as destroyed until the next sync.
func (ds *DataSource) Remove(m types.Model) bool {
	return ds.Data().Remove(m)
}

// At returns the working set model at index, or nil.
func (ds *DataSource) At(index int) types.Model {
	m, _ := ds.Data().At(index).(types.Model)
	return m
}

// IndexOf returns the working set position of m, or -1.
func (ds *DataSource) IndexOf(m types.Model) int {
	return ds.Data().IndexOf(m)
}

// Get returns the resident model with the given server id, or nil.
func (ds *DataSource) Get(id any) types.Model {
	if ds.def.IsDefaultID(id) {
		return nil
	}
	for _, m := range ds.models() {
		if value.Equal(m.ID(), id) {
			return m
		}
	}
	return nil
}

// GetByUID returns the resident model with the given client id, or nil.
func (ds *DataSource) GetByUID(uid string) types.Model {
	for _, m := range ds.models() {
		if m.UID() == uid {
			return m
		}
	}
	return nil
}

// models returns the working set.
func (ds *DataSource) models() []types.Model {
	items := ds.Data().Items()
	out := make([]types.Model, 0, len(items))
	for _, item := range items {
		if m, ok := item.(types.Model); ok {
			out = append(out, m)
		}
	}
	return out
}

// residentLocked returns the working set followed by the models of cached
// ranges that are not in it.
func (ds *DataSource) residentLocked() []types.Model {
	seen := make(map[string]bool)
	var out []types.Model
	add := func(m types.Model) {
		if !seen[m.UID()] {
			seen[m.UID()] = true
			out = append(out, m)
		}
	}
	for _, item := range ds.data.Items() {
		if m, ok := item.(types.Model); ok {
			add(m)
		}
	}
	for _, r := range ds.ranges {
		for _, m := range r.models {
			add(m)
		}
	}
	return out
}

// Created returns the resident models never saved.
func (ds *DataSource) Created() []types.Model {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	var out []types.Model
	for _, m := range ds.residentLocked() {
		if m.IsNew() {
			out = append(out, m)
		}
	}
	return out
}

// Updated returns the saved resident models with unsynced edits.
func (ds *DataSource) Updated() []types.Model {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	var out []types.Model
	for _, m := range ds.residentLocked() {
		if !m.IsNew() && m.Dirty() {
			out = append(out, m)
		}
	}
	return out
}

// Destroyed returns the removed models awaiting a sync.
func (ds *DataSource) Destroyed() []types.Model {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return slices.Clone(ds.destroyed)
}

// HasChanges reports whether anything awaits a sync.
func (ds *DataSource) HasChanges() bool {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if len(ds.destroyed) > 0 {
		return true
	}
	for _, m := range ds.residentLocked() {
		if m.IsNew() || m.Dirty() {
			return true
		}
	}
	return false
}

// dataChanged keeps totals, the destroyed set, ranges and the view in step
// with the working set and re-emits the change. Events from a working set
// that has since been replaced are ignored.
func (ds *DataSource) dataChanged(e *observable.Event) {
	ds.mu.Lock()
	if e.Sender != any(ds.data) {
		ds.mu.Unlock()
		return
	}
	switch e.Action {
	case observable.ActionAdd:
		ds.shiftRemovedLocked(e.Index, len(e.Items))
		ds.adjustTotalLocked(len(e.Items))
		ds.insertIntoRangesLocked(e.Index, e.Items)
	case observable.ActionRemove:
		ds.shiftRemovedLocked(e.Index, -len(e.Items))
		ds.trackRemovedLocked(e.Index, e.Items)
		ds.adjustTotalLocked(-len(e.Items))
		ds.removeFromRangesLocked(e.Items)
	case observable.ActionReplace:
		ds.shiftRemovedLocked(e.Index, -len(e.Removed))
		ds.trackRemovedLocked(e.Index, e.Removed)
		ds.shiftRemovedLocked(e.Index, len(e.Items))
		ds.adjustTotalLocked(len(e.Items) - len(e.Removed))
		ds.removeFromRangesLocked(e.Removed)
		ds.insertIntoRangesLocked(e.Index, e.Items)
	}
	ds.rebuildViewLocked()
	autoSync := ds.autoSync && ds.pushing == 0 && ds.online
	offline := !ds.online
	ds.mu.Unlock()

	if offline {
		ds.saveOffline()
	}
	ds.Trigger(EventChange, &observable.Event{
		Action:  e.Action,
		Field:   e.Field,
		Index:   e.Index,
		Items:   e.Items,
		Removed: e.Removed,
		Value:   e.Value,
		Node:    e.Node,
	})
	if autoSync {
		ds.run(func() {
			if err := ds.Sync(context.Background()); err != nil {
				glog.Warningf("datasource auto-sync: %v", err)
			}
		})
	}
}

func (ds *DataSource) adjustTotalLocked(delta int) {
	ds.total = max(ds.total+delta, 0)
}

// trackRemovedLocked records removed saved models as destroyed, except the
// ones removed by a server push, together with the record position they were
// removed from.
func (ds *DataSource) trackRemovedLocked(index int, items []any) {
	if ds.server.Paging {
		index += ds.skip
	}
	for _, item := range items {
		m, ok := item.(types.Model)
		if !ok {
			continue
		}
		if ds.pushedRemovals[m.UID()] {
			delete(ds.pushedRemovals, m.UID())
			continue
		}
		if !m.IsNew() {
			ds.destroyed = append(ds.destroyed, m)
			ds.removedAt[m.UID()] = index
		}
	}
}

// shiftRemovedLocked keeps the recorded positions of destroyed models in
// step with a working set that grew or shrank by delta at index.
func (ds *DataSource) shiftRemovedLocked(index, delta int) {
	if ds.server.Paging {
		index += ds.skip
	}
	for uid, at := range ds.removedAt {
		if at > index || delta > 0 && at == index {
			ds.removedAt[uid] = max(at+delta, index)
		}
	}
}

// restoreIndexLocked returns the working set position a destroyed model goes
// back to, clamped to the working set of size n.
func (ds *DataSource) restoreIndexLocked(m types.Model, n int) int {
	at, ok := ds.removedAt[m.UID()]
	if !ok {
		return n
	}
	if ds.server.Paging {
		at -= ds.skip
	}
	return min(max(at, 0), n)
}

// CancelChanges reverts m: an unsynced insert is removed, a destroyed model
// is restored where it was removed and an edited model gets its last
// confirmed values back. A nil m reverts everything.
func (ds *DataSource) CancelChanges(m types.Model) {
	if m == nil {
		ds.CancelAll()
		return
	}
	if m.IsNew() {
		ds.Remove(m)
		return
	}

	ds.mu.Lock()
	destroyedAt := slices.IndexFunc(ds.destroyed, func(d types.Model) bool { return d.UID() == m.UID() })
	pristine, _ := ds.pristine.get(m.ID())
	at := 0
	if destroyedAt >= 0 {
		ds.destroyed = slices.Delete(ds.destroyed, destroyedAt, destroyedAt+1)
		at = ds.restoreIndexLocked(m, ds.data.Len())
		delete(ds.removedAt, m.UID())
	}
	data := ds.data
	ds.mu.Unlock()

	m.Accept(pristine)
	if destroyedAt >= 0 {
		data.Insert(min(at, data.Len()), m)
		return
	}

	ds.mu.Lock()
	ds.rebuildViewLocked()
	ds.mu.Unlock()
	ds.Trigger(EventChange, &observable.Event{Action: observable.ActionItemChange, Items: []any{m}})
}

// CancelAll discards every unsynced change: inserts are dropped, edited
// models get their last confirmed values back and destroyed models return
// to where they were removed.
func (ds *DataSource) CancelAll() {
	ds.mu.Lock()
	var current []types.Model
	for _, item := range ds.data.Items() {
		if m, ok := item.(types.Model); ok {
			current = append(current, m)
		}
	}
	// Highest position first; among equal positions the latest removal goes
	// in first so earlier ones end up ahead of it.
	restore := slices.Clone(ds.destroyed)
	slices.Reverse(restore)
	slices.SortStableFunc(restore, func(a, b types.Model) int {
		return ds.removedAt[b.UID()] - ds.removedAt[a.UID()]
	})
	for _, m := range restore {
		current = slices.Insert(current, ds.restoreIndexLocked(m, len(current)), m)
	}
	models := make([]types.Model, 0, len(current))
	for _, m := range current {
		if !m.IsNew() {
			models = append(models, ds.revertedLocked(m))
		}
	}
	ds.replaceDataLocked(models)
	ds.destroyed = nil
	clear(ds.removedAt)
	ds.total = ds.pristineTotal
	start := 0
	if ds.server.Paging {
		start = ds.skip
	}
	ds.ranges = []*rangeEntry{newRange(start, models, nil)}
	ds.rebuildViewLocked()
	view := append([]any(nil), ds.view...)
	ds.mu.Unlock()

	ds.saveOffline()
	ds.Trigger(EventChange, &observable.Event{Items: view})
}

// revertedLocked returns a fresh model holding the confirmed values of m.
func (ds *DataSource) revertedLocked(m types.Model) types.Model {
	rec, ok := ds.pristine.get(m.ID())
	if !ok {
		rec = m.ToMap()
	}
	return ds.newModel(rec)
}
