package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/databind/pkg/types"
)

func newServer(t *testing.T, m *Memory) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	h := NewHandler(m)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		h.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestRemoteReadRoundTripsQuery(t *testing.T) {
	srv, _ := newServer(t, NewMemory(sampleRecords(), MemoryOptions{}))
	r := RemoteForBase(srv.URL+"/items", RemoteOptions{})

	payload, err := r.Read(context.Background(), &types.Request{Query: types.QueryOptions{
		Filter: types.Where("qty", "gt", 3),
		Sort:   []types.SortDescriptor{{Field: "name", Dir: types.SortDesc}},
	}})
	require.NoError(t, err)
	p := payload.(map[string]any)
	assert.EqualValues(t, 2, p["total"])
	data := p["data"].([]any)
	require.Len(t, data, 2)
	assert.Equal(t, "gamma", data[0].(map[string]any)["name"])
}

func TestRemoteWritesUseVerbs(t *testing.T) {
	m := NewMemory(sampleRecords(), MemoryOptions{})
	srv, _ := newServer(t, m)
	r := RemoteForBase(srv.URL, RemoteOptions{})
	ctx := context.Background()

	created, err := r.Create(ctx, &types.Request{Records: []map[string]any{{"name": "delta"}}})
	require.NoError(t, err)
	require.Len(t, created, 1)

	_, err = r.Update(ctx, &types.Request{Records: []map[string]any{{"id": 1, "name": "ALPHA"}}})
	require.NoError(t, err)

	_, err = r.Destroy(ctx, &types.Request{Records: []map[string]any{{"id": 2}, {"id": 3}}})
	require.NoError(t, err)

	recs := m.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, "ALPHA", recs[0]["name"])
	assert.Equal(t, "delta", recs[1]["name"])
}

func TestRemoteNon2xxIsTransportError(t *testing.T) {
	srv, _ := newServer(t, NewMemory(nil, MemoryOptions{}))
	r := RemoteForBase(srv.URL, RemoteOptions{})

	_, err := r.Update(context.Background(), &types.Request{Records: []map[string]any{{"id": "missing"}}})
	var te *types.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusNotFound, te.Status)
	assert.Equal(t, types.VerbUpdate, te.Verb)
}

func TestRemoteReadCache(t *testing.T) {
	srv, hits := newServer(t, NewMemory(sampleRecords(), MemoryOptions{}))
	r := RemoteForBase(srv.URL, RemoteOptions{CacheTTL: time.Minute})
	ctx := context.Background()
	req := &types.Request{Query: types.QueryOptions{Skip: 0, Take: 2}}

	_, err := r.Read(ctx, req)
	require.NoError(t, err)
	_, err = r.Read(ctx, req)
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(hits))

	_, err = r.Create(ctx, &types.Request{Records: []map[string]any{{"name": "x"}}})
	require.NoError(t, err)
	_, err = r.Read(ctx, req)
	require.NoError(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(hits))
}

func TestRemoteSubmit(t *testing.T) {
	m := NewMemory(sampleRecords(), MemoryOptions{})
	srv, _ := newServer(t, m)
	r := RemoteForBase(srv.URL, RemoteOptions{})

	resp, err := r.Submit(context.Background(), &types.Batch{
		Created:   []map[string]any{{"name": "omega"}},
		Destroyed: []map[string]any{{"id": 1}},
	})
	require.NoError(t, err)
	assert.Len(t, resp.Created, 1)
	assert.Nil(t, resp.Updated)
	assert.Len(t, m.Records(), 3)
}

func TestRemoteSubmitWithoutEndpoint(t *testing.T) {
	r := NewRemote(RemoteOptions{Read: Endpoint{URL: "http://127.0.0.1:1"}})
	_, err := r.Submit(context.Background(), &types.Batch{})
	assert.ErrorIs(t, err, types.ErrUnsupported)
}

func TestRemoteHeadersAndCustomParameterMap(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	r := NewRemote(RemoteOptions{
		Read:    Endpoint{URL: srv.URL + "/list?fixed=1"},
		Headers: map[string]string{"Authorization": "Bearer token"},
		ParameterMap: func(verb string, req *types.Request) map[string]any {
			return map[string]any{"top": req.Query.Take}
		},
	})
	_, err := r.Read(context.Background(), &types.Request{Query: types.QueryOptions{Take: 5}})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Bearer token", got.Header.Get("Authorization"))
	assert.Equal(t, "1", got.URL.Query().Get("fixed"))
	assert.Equal(t, "5", got.URL.Query().Get("top"))
}

func TestEncodeDecodeQuery(t *testing.T) {
	q := types.QueryOptions{
		Skip:      10,
		Take:      5,
		Sort:      []types.SortDescriptor{{Field: "name", Dir: types.SortAsc}},
		Filter:    types.Or(types.Where("a", "eq", "x"), types.Where("b", "lt", 3.0)),
		Group:     []types.GroupDescriptor{{Field: "kind"}},
		Aggregate: []types.AggregateDescriptor{{Field: "qty", Aggregate: types.AggregateMax}},
	}
	encoded, err := EncodeQuery(DefaultParameterMap(types.VerbRead, &types.Request{
		Query:  q,
		Params: map[string]any{"parent": "p1"},
	}))
	require.NoError(t, err)

	values, err := url.ParseQuery(encoded)
	require.NoError(t, err)
	decoded, params, err := DecodeQuery(values)
	require.NoError(t, err)
	assert.Equal(t, q.Skip, decoded.Skip)
	assert.Equal(t, q.Take, decoded.Take)
	assert.Equal(t, q.Sort, decoded.Sort)
	assert.Equal(t, q.Group, decoded.Group)
	assert.Equal(t, q.Aggregate, decoded.Aggregate)
	require.NotNil(t, decoded.Filter)
	assert.Equal(t, types.LogicOr, decoded.Filter.Logic)
	assert.Len(t, decoded.Filter.Filters, 2)
	assert.Equal(t, map[string]any{"parent": "p1"}, params)
}

func TestDefaultParameterMapWrites(t *testing.T) {
	one := DefaultParameterMap(types.VerbCreate, &types.Request{Records: []map[string]any{{"name": "a"}}})
	assert.Equal(t, map[string]any{"name": "a"}, one)

	many := DefaultParameterMap(types.VerbUpdate, &types.Request{Records: []map[string]any{{"id": 1}, {"id": 2}}})
	assert.Len(t, many["models"], 2)
}
