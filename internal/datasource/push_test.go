package datasource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/databind/pkg/types"
)

func TestPushCreateIsNotAPendingChange(t *testing.T) {
	tr := counting(memory(products(2)))
	ds := newSource(t, Options{Transport: tr, AutoSync: true})
	require.NoError(t, ds.Read(t.Context(), nil))
	ev := record(ds, EventPush, EventChange)

	ds.PushCreate(map[string]any{"id": 50, "name": "remote"})
	ds.Wait()

	m := ds.Get(50)
	require.NotNil(t, m)
	assert.False(t, m.IsNew())
	assert.Empty(t, ds.Created())
	assert.False(t, ds.HasChanges())
	assert.Equal(t, 3, ds.Total())
	assert.Zero(t, tr.count(types.VerbCreate), "pushes are not synced back")

	e := ev.lastOf(EventPush)
	require.NotNil(t, e)
	assert.Equal(t, types.VerbCreate, e.Type)
	assert.Equal(t, []any{m}, e.Items)
	assert.Positive(t, ev.count(EventChange))
}

func TestPushUpdate(t *testing.T) {
	ds := newSource(t, Options{Transport: memory(products(2))})
	require.NoError(t, ds.Read(t.Context(), nil))
	ev := record(ds, EventPush)

	ds.PushUpdate(map[string]any{"id": 1, "name": "renamed"}, map[string]any{"id": 7, "name": "unknown"})

	assert.Equal(t, "renamed", ds.Get(1).Get("name"))
	assert.False(t, ds.Get(1).Dirty())
	require.NotNil(t, ds.Get(7), "unknown records are created")
	assert.Equal(t, 2, ev.count(EventPush))
	assert.False(t, ds.HasChanges())

	ds.CancelAll()
	assert.Equal(t, "renamed", ds.Get(1).Get("name"), "pushed values are pristine")
}

func TestPushDestroy(t *testing.T) {
	tr := counting(memory(products(3)))
	ds := newSource(t, Options{Transport: tr})
	require.NoError(t, ds.Read(t.Context(), nil))

	ds.PushDestroy(map[string]any{"id": 2}, map[string]any{"id": 99})

	assert.Nil(t, ds.Get(2))
	assert.Empty(t, ds.Destroyed())
	assert.Equal(t, 2, ds.Total())
	require.NoError(t, ds.Sync(t.Context()))
	assert.Zero(t, tr.count(types.VerbDestroy))

	ds.CancelAll()
	assert.Equal(t, []float64{1, 3}, ids(ds.View()))
}

func TestApplyDispatchesByVerb(t *testing.T) {
	ds := newSource(t, Options{Transport: memory(products(1))})
	require.NoError(t, ds.Read(t.Context(), nil))

	ds.Apply(types.VerbCreate, []map[string]any{{"id": 2, "name": "b"}})
	ds.Apply(types.VerbUpdate, []map[string]any{{"id": 1, "name": "a"}})
	ds.Apply(types.VerbDestroy, []map[string]any{{"id": 2}})
	ds.Apply("bogus", []map[string]any{{"id": 1}})

	assert.Equal(t, []float64{1}, ids(ds.View()))
	assert.Equal(t, "a", ds.Get(1).Get("name"))
}
