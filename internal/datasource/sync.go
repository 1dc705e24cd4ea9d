package datasource

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/databind/internal/observable"
	"github.com/mesh-intelligence/databind/pkg/types"
)

// pending is one verb's share of a sync.
type pending struct {
	verb   string
	models []types.Model
}

// Sync sends created, updated and destroyed models to the transport and
// reconciles the pristine copy with the server echo.
//
// In batch mode the whole change set goes out together, through Submit when
// the transport supports it, and a failure rejects the whole sync. Otherwise
// every model is sent on its own and each failure is reported as a
// SyncError while the others still complete. The sync event fires only when
// everything succeeded. While offline, Sync stores the pending state instead.
func (ds *DataSource) Sync(ctx context.Context) error {
	if !ds.Online() {
		return ds.saveOffline()
	}

	ds.mu.Lock()
	var created, updated []types.Model
	for _, m := range ds.residentLocked() {
		switch {
		case m.IsNew():
			created = append(created, m)
		case m.Dirty():
			updated = append(updated, m)
		}
	}
	destroyed := slices.Clone(ds.destroyed)
	ds.mu.Unlock()

	work := []pending{
		{types.VerbCreate, created},
		{types.VerbUpdate, updated},
		{types.VerbDestroy, destroyed},
	}
	if len(created)+len(updated)+len(destroyed) == 0 {
		return nil
	}
	if ds.Trigger(EventRequestStart, &observable.Event{Type: types.VerbSubmit}) {
		glog.V(1).Infof("datasource sync canceled by requestStart")
		return nil
	}
	glog.V(1).Infof("datasource sync: %d created, %d updated, %d destroyed",
		len(created), len(updated), len(destroyed))

	var err error
	if ds.batch {
		err = ds.syncBatch(ctx, work)
	} else {
		err = ds.syncEach(ctx, work)
	}

	ds.mu.Lock()
	unsaved := 0
	for _, m := range ds.residentLocked() {
		if m.IsNew() {
			unsaved++
		}
	}
	ds.total = max(ds.pristineTotal+unsaved-len(ds.destroyed), 0)
	ds.rebuildViewLocked()
	view := append([]any(nil), ds.view...)
	ds.mu.Unlock()
	ds.saveOffline()

	ds.Trigger(EventChange, &observable.Event{Action: observable.ActionSync, Items: view})
	if err != nil {
		return err
	}
	ds.Trigger(EventSync, nil)
	return nil
}

// serialize converts models to wire records.
func (ds *DataSource) serialize(models []types.Model) []map[string]any {
	records := make([]map[string]any, len(models))
	for i, m := range models {
		records[i] = m.ToMap()
	}
	return ds.reader.Serialize(records)
}

// call sends one verb and returns the echoed records.
func (ds *DataSource) call(ctx context.Context, verb string, models []types.Model) ([]map[string]any, error) {
	req := &types.Request{Records: ds.serialize(models)}
	var (
		payload any
		err     error
	)
	switch verb {
	case types.VerbCreate:
		payload, err = ds.transport.Create(ctx, req)
	case types.VerbUpdate:
		payload, err = ds.transport.Update(ctx, req)
	case types.VerbDestroy:
		payload, err = ds.transport.Destroy(ctx, req)
	}
	ds.Trigger(EventRequestEnd, &observable.Event{Type: verb, Response: payload})
	if err != nil {
		return nil, err
	}
	return ds.echo(payload)
}

// echo reads the records a write response carries.
func (ds *DataSource) echo(payload any) ([]map[string]any, error) {
	parsed, err := ds.reader.Parse(payload)
	if err != nil {
		return nil, err
	}
	if errs := ds.reader.Errors(parsed); errs != nil {
		return nil, &types.SemanticError{Errors: errs}
	}
	if parsed == nil {
		return nil, nil
	}
	return ds.reader.Data(parsed), nil
}

func (ds *DataSource) syncEach(ctx context.Context, work []pending) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, p := range work {
		for _, m := range p.models {
			g.Go(func() error {
				echo, err := ds.call(ctx, p.verb, []types.Model{m})
				if err != nil {
					ds.emitError(err, p.verb)
					mu.Lock()
					errs = append(errs, &types.SyncError{Verb: p.verb, UID: m.UID(), ID: m.ID(), Cause: err})
					mu.Unlock()
					return nil
				}
				ds.accept(p.verb, []types.Model{m}, echo)
				return nil
			})
		}
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (ds *DataSource) syncBatch(ctx context.Context, work []pending) error {
	if s, ok := ds.transport.(types.Submitter); ok {
		err := ds.submit(ctx, s, work)
		if !errors.Is(err, types.ErrUnsupported) {
			if err != nil {
				ds.emitError(err, types.VerbSubmit)
			}
			return err
		}
		glog.V(1).Infof("datasource submit unsupported, sending one call per verb")
	}

	echoes := make([][]map[string]any, len(work))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range work {
		if len(p.models) == 0 {
			continue
		}
		g.Go(func() error {
			echo, err := ds.call(gctx, p.verb, p.models)
			echoes[i] = echo
			return err
		})
	}
	if err := g.Wait(); err != nil {
		ds.emitError(err, types.VerbSubmit)
		return err
	}
	for i, p := range work {
		ds.accept(p.verb, p.models, echoes[i])
	}
	return nil
}

func (ds *DataSource) submit(ctx context.Context, s types.Submitter, work []pending) error {
	batch := &types.Batch{
		Created:   ds.serialize(work[0].models),
		Updated:   ds.serialize(work[1].models),
		Destroyed: ds.serialize(work[2].models),
	}
	resp, err := s.Submit(ctx, batch)
	if err != nil {
		return err
	}
	ds.Trigger(EventRequestEnd, &observable.Event{Type: types.VerbSubmit, Response: resp})
	echoes := make([][]map[string]any, len(work))
	for i, payload := range []any{resp.Created, resp.Updated, resp.Destroyed} {
		if echoes[i], err = ds.echo(payload); err != nil {
			return err
		}
	}
	for i, p := range work {
		ds.accept(p.verb, p.models, echoes[i])
	}
	return nil
}

// accept folds a successful write into the models and the pristine copy.
// Echoed records are matched to models by position.
func (ds *DataSource) accept(verb string, models []types.Model, echo []map[string]any) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	for i, m := range models {
		var rec map[string]any
		if i < len(echo) {
			rec = echo[i]
		}
		switch verb {
		case types.VerbCreate:
			m.Accept(rec)
			ds.pristine.put(m.ToMap())
			ds.pristineTotal++
		case types.VerbUpdate:
			m.Accept(rec)
			ds.pristine.put(m.ToMap())
		case types.VerbDestroy:
			ds.destroyed = slices.DeleteFunc(ds.destroyed, func(d types.Model) bool { return d.UID() == m.UID() })
			delete(ds.removedAt, m.UID())
			ds.pristine.remove(m.ID())
			ds.pristineTotal = max(ds.pristineTotal-1, 0)
		}
	}
}
