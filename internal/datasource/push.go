package datasource

import (
	"slices"

	"github.com/mesh-intelligence/databind/internal/observable"
	"github.com/mesh-intelligence/databind/internal/value"
	"github.com/mesh-intelligence/databind/pkg/types"
)

// PushCreate applies records the server created on its own. They join the
// working set as saved models, so a later sync does not send them back.
// Records whose id is already resident are applied as updates.
func (ds *DataSource) PushCreate(records ...map[string]any) {
	var pushed, updated []any
	for _, rec := range ds.pushRecords(records) {
		if m := ds.resident(rec[ds.def.IDField()]); m != nil {
			ds.pushUpdate(m, rec)
			updated = append(updated, m)
			continue
		}
		m := ds.newModel(rec)
		ds.mu.Lock()
		ds.pushing++
		data := ds.data
		ds.mu.Unlock()

		data.Push(m)

		ds.mu.Lock()
		ds.pushing--
		ds.pristine.put(m.ToMap())
		ds.pristineTotal++
		ds.mu.Unlock()
		pushed = append(pushed, m)
	}
	ds.notifyPush(types.VerbCreate, pushed)
	ds.notifyPush(types.VerbUpdate, updated)
}

// PushUpdate applies server-side edits to resident models. Unknown records
// are applied as creates.
func (ds *DataSource) PushUpdate(records ...map[string]any) {
	var pushed []any
	var created []map[string]any
	for _, rec := range ds.pushRecords(records) {
		m := ds.resident(rec[ds.def.IDField()])
		if m == nil {
			created = append(created, rec)
			continue
		}
		ds.pushUpdate(m, rec)
		pushed = append(pushed, m)
	}
	ds.notifyPush(types.VerbUpdate, pushed)
	if len(created) > 0 {
		ds.PushCreate(created...)
	}
}

func (ds *DataSource) pushUpdate(m types.Model, rec map[string]any) {
	m.Accept(rec)
	ds.mu.Lock()
	ds.pristine.put(m.ToMap())
	ds.rebuildViewLocked()
	ds.mu.Unlock()
	ds.Trigger(EventChange, &observable.Event{Action: observable.ActionItemChange, Items: []any{m}})
}

// PushDestroy removes models the server deleted. They are not recorded as
// destroyed, so a later sync does not delete them again.
func (ds *DataSource) PushDestroy(records ...map[string]any) {
	var pushed []any
	for _, rec := range ds.pushRecords(records) {
		m := ds.resident(rec[ds.def.IDField()])
		if m == nil {
			continue
		}
		ds.mu.Lock()
		ds.pushing++
		ds.pushedRemovals[m.UID()] = true
		data := ds.data
		ds.mu.Unlock()

		removed := data.Remove(m)

		ds.mu.Lock()
		ds.pushing--
		delete(ds.pushedRemovals, m.UID())
		ds.pristine.remove(m.ID())
		if !removed && ds.inRangesLocked(m) {
			// Cached in a window other than the one on display.
			ds.removeFromRangesLocked([]any{m})
			ds.adjustTotalLocked(-1)
			removed = true
		}
		if removed {
			ds.pristineTotal = max(ds.pristineTotal-1, 0)
		}
		ds.mu.Unlock()
		pushed = append(pushed, m)
	}
	ds.notifyPush(types.VerbDestroy, pushed)
}

// Apply dispatches a server push by verb.
func (ds *DataSource) Apply(verb string, records []map[string]any) {
	switch verb {
	case types.VerbCreate:
		ds.PushCreate(records...)
	case types.VerbUpdate:
		ds.PushUpdate(records...)
	case types.VerbDestroy:
		ds.PushDestroy(records...)
	}
}

// resident returns the model with the given id from the working set or
// any cached window, or nil.
func (ds *DataSource) resident(id any) types.Model {
	if ds.def.IsDefaultID(id) {
		return nil
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	for _, m := range ds.residentLocked() {
		if value.Equal(m.ID(), id) {
			return m
		}
	}
	return nil
}

func (ds *DataSource) inRangesLocked(m types.Model) bool {
	for _, r := range ds.ranges {
		if slices.ContainsFunc(r.models, func(c types.Model) bool { return c.UID() == m.UID() }) {
			return true
		}
	}
	return false
}

// pushRecords renames and coerces pushed wire records.
func (ds *DataSource) pushRecords(records []map[string]any) []map[string]any {
	return ds.reader.Data(records)
}

func (ds *DataSource) notifyPush(verb string, items []any) {
	if len(items) == 0 {
		return
	}
	ds.Trigger(EventPush, &observable.Event{Type: verb, Items: items})
}
