package datasource

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/databind/pkg/types"
)

type memStorage struct {
	mu     sync.Mutex
	state  *types.OfflineState
	writes int
}

func (s *memStorage) GetItem() (*types.OfflineState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, nil
}

func (s *memStorage) SetItem(state *types.OfflineState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.writes++
	return nil
}

func (s *memStorage) states() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]int{}
	for _, rec := range s.state.Records {
		out[rec.State]++
	}
	return out
}

func TestOfflineEditsSurviveAndSyncOnReconnect(t *testing.T) {
	mem := memory(products(3))
	tr := counting(mem)
	storage := &memStorage{}

	first := newSource(t, Options{Transport: tr, Offline: storage})
	require.NoError(t, first.Read(t.Context(), nil))
	require.NoError(t, first.SetOnline(t.Context(), false))
	require.NotNil(t, storage.state)

	first.Get(1).Set("name", "edited offline")
	first.Add(map[string]any{"name": "drafted"})
	require.True(t, first.Remove(first.Get(2)))
	require.NoError(t, first.Sync(t.Context()))
	assert.Zero(t, tr.count(types.VerbUpdate), "offline sync only stores")
	assert.Equal(t, map[string]int{"": 1, types.OfflineCreate: 1, types.OfflineUpdate: 1, types.OfflineDestroy: 1}, storage.states())

	second := newSource(t, Options{Transport: tr, Offline: storage})
	require.NoError(t, second.SetOnline(t.Context(), false))
	require.NoError(t, second.Read(t.Context(), nil))
	assert.Len(t, second.Created(), 1)
	assert.Len(t, second.Updated(), 1)
	assert.Len(t, second.Destroyed(), 1)
	assert.Equal(t, 3, second.Total())
	assert.Equal(t, "edited offline", second.Get(1).Get("name"))

	require.NoError(t, second.SetOnline(t.Context(), true))
	assert.Equal(t, 1, tr.count(types.VerbCreate))
	assert.Equal(t, 1, tr.count(types.VerbUpdate))
	assert.Equal(t, 1, tr.count(types.VerbDestroy))
	assert.False(t, second.HasChanges())
	assert.Len(t, mem.Records(), 3)
	assert.Equal(t, "edited offline", stored(mem, 1)["name"])
}

func TestOfflineNothingStoredBeforeLoad(t *testing.T) {
	storage := &memStorage{}
	ds := newSource(t, Options{Transport: memory(products(2)), Offline: storage})
	require.NoError(t, ds.SetOnline(t.Context(), false))
	assert.Zero(t, storage.writes)

	require.NoError(t, ds.Read(t.Context(), nil))
	assert.Empty(t, ds.View(), "offline read of empty storage")
	assert.True(t, ds.Loaded())
}

func TestOfflineDataWithoutStorage(t *testing.T) {
	ds := newSource(t, Options{Data: products(1)})
	state, err := ds.OfflineData()
	require.NoError(t, err)
	assert.Nil(t, state)
}
