package datasource

import (
	"context"
	"fmt"

	"github.com/golang/glog"

	"github.com/mesh-intelligence/databind/internal/observable"
	"github.com/mesh-intelligence/databind/pkg/types"
)

// Online reports whether the DataSource talks to its transport.
func (ds *DataSource) Online() bool {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.online
}

// SetOnline switches between online and offline operation. Going offline
// stores the current state; coming back online syncs what was changed in
// the meantime.
func (ds *DataSource) SetOnline(ctx context.Context, online bool) error {
	ds.mu.Lock()
	was := ds.online
	ds.online = online
	ds.mu.Unlock()
	if was == online {
		return nil
	}
	glog.V(1).Infof("datasource online=%t", online)
	if online {
		return ds.Sync(ctx)
	}
	return ds.saveOffline()
}

// OfflineData returns what offline storage holds, or nil.
func (ds *DataSource) OfflineData() (*types.OfflineState, error) {
	if ds.storage == nil {
		return nil, nil
	}
	return ds.storage.GetItem()
}

// offlineStateLocked snapshots the working set and pending destroys.
func (ds *DataSource) offlineStateLocked() *types.OfflineState {
	state := &types.OfflineState{Total: ds.total}
	for _, m := range ds.residentLocked() {
		rec := types.OfflineRecord{Data: m.ToMap()}
		switch {
		case m.IsNew():
			rec.State = types.OfflineCreate
		case m.Dirty():
			rec.State = types.OfflineUpdate
		}
		state.Records = append(state.Records, rec)
	}
	for _, m := range ds.destroyed {
		state.Records = append(state.Records, types.OfflineRecord{State: types.OfflineDestroy, Data: m.ToMap()})
	}
	return state
}

// saveOffline hands the current state to offline storage. Nothing is stored
// before the first load, so an empty DataSource never overwrites saved work.
func (ds *DataSource) saveOffline() error {
	if ds.storage == nil {
		return nil
	}
	ds.mu.Lock()
	if !ds.loaded {
		ds.mu.Unlock()
		return nil
	}
	state := ds.offlineStateLocked()
	ds.mu.Unlock()
	if err := ds.storage.SetItem(state); err != nil {
		err = fmt.Errorf("store offline state: %w", err)
		glog.Warningf("datasource: %v", err)
		return err
	}
	return nil
}

// readOffline loads the working set from offline storage, restoring each
// record's pending change.
func (ds *DataSource) readOffline() error {
	state, err := ds.storage.GetItem()
	if err != nil {
		err = fmt.Errorf("load offline state: %w", err)
		ds.emitError(err, types.VerbRead)
		return err
	}
	if state == nil {
		state = &types.OfflineState{}
	}

	var models, destroyed []types.Model
	for _, rec := range state.Records {
		m := ds.newModel(rec.Data)
		switch rec.State {
		case types.OfflineDestroy:
			destroyed = append(destroyed, m)
			continue
		case types.OfflineUpdate:
			m.SetDirty(true)
		}
		models = append(models, m)
	}

	ds.mu.Lock()
	ds.replaceDataLocked(models)
	ds.pristine.reset(models)
	ds.pristine.add(destroyed)
	ds.destroyed = destroyed
	clear(ds.removedAt)
	ds.total = max(state.Total, len(models))
	ds.pristineTotal = ds.pristine.len()
	ds.loaded = true
	ds.ranges = []*rangeEntry{newRange(0, models, nil)}
	ds.rebuildViewLocked()
	view := append([]any(nil), ds.view...)
	ds.mu.Unlock()

	glog.V(1).Infof("datasource read %d records from offline storage", len(models))
	ds.Trigger(EventChange, &observable.Event{Items: view})
	return nil
}
