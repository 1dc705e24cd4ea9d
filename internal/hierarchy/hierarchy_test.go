package hierarchy

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/databind/internal/datasource"
	"github.com/mesh-intelligence/databind/internal/model"
	"github.com/mesh-intelligence/databind/internal/observable"
	"github.com/mesh-intelligence/databind/internal/transport"
	"github.com/mesh-intelligence/databind/internal/value"
	"github.com/mesh-intelligence/databind/pkg/types"
)

func folderModel() *model.Definition {
	return model.MustDefine(model.Schema{
		ID: "id",
		Fields: map[string]model.Field{
			"id":   {Type: model.TypeNumber},
			"name": {Type: model.TypeString},
		},
	})
}

func newTree(t *testing.T, opts Options) *DataSource {
	t.Helper()
	if opts.Model == nil {
		opts.Model = folderModel()
	}
	opts.Executor = datasource.Synchronous
	hds, err := New(opts)
	require.NoError(t, err)
	require.NoError(t, hds.Read(t.Context(), nil))
	return hds
}

// folders serves a tree keyed by the parentId request parameter.
type folders struct {
	types.Transport
	mu       sync.Mutex
	params   []map[string]any
	byParent map[float64][]any
	roots    []any
	fail     error
}

func (f *folders) Read(_ context.Context, req *types.Request) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params = append(f.params, req.Params)
	parent, ok := req.Params["parentId"]
	if !ok {
		return f.roots, nil
	}
	if f.fail != nil {
		return nil, f.fail
	}
	id, _ := value.Float(parent)
	return f.byParent[id], nil
}

func remoteTree() *folders {
	return &folders{
		Transport: transport.NewMemory(nil, transport.MemoryOptions{IDField: "id"}),
		roots: []any{
			map[string]any{"id": 1, "name": "docs", "hasChildren": true},
			map[string]any{"id": 2, "name": "empty", "hasChildren": false},
		},
		byParent: map[float64][]any{
			1:  {map[string]any{"id": 10, "name": "a", "hasChildren": true}, map[string]any{"id": 11, "name": "b"}},
			10: {map[string]any{"id": 100, "name": "deep"}},
		},
	}
}

func TestInlineChildren(t *testing.T) {
	hds := newTree(t, Options{Options: datasource.Options{Data: []map[string]any{
		{"id": 1, "name": "root", "items": []any{
			map[string]any{"id": 11, "name": "leaf"},
			map[string]any{"id": 12, "name": "branch", "items": []any{
				map[string]any{"id": 121, "name": "deep"},
			}},
		}},
		{"id": 2, "name": "alone"},
	}}})

	root := hds.Node(1)
	require.NotNil(t, root)
	assert.True(t, root.HasChildren())
	assert.False(t, root.Loaded())
	assert.False(t, hds.Node(2).HasChildren())
	assert.NotContains(t, root.ToMap(), "items")
	assert.Equal(t, 0, root.Level())
	assert.Nil(t, root.ParentNode())

	require.NoError(t, root.Load(t.Context()))
	assert.True(t, root.Loaded())
	children := root.Children()
	require.Len(t, children.Nodes(), 2)
	assert.Equal(t, 1, children.Level())
	assert.Same(t, root, children.ParentNode())

	branch := children.Node(12)
	require.NotNil(t, branch)
	assert.Same(t, root, branch.ParentNode())
	assert.Equal(t, 1, branch.Level())
	require.NoError(t, branch.Load(t.Context()))
	deep := branch.Children().Node(121)
	require.NotNil(t, deep)
	assert.Equal(t, 2, deep.Level())

	assert.Same(t, deep, hds.GetByUID(deep.UID()))
	assert.Nil(t, hds.GetByUID("missing"))
}

func TestRemoteChildrenCarryParentID(t *testing.T) {
	store := remoteTree()
	hds := newTree(t, Options{Options: datasource.Options{Transport: store}, ParentParam: "parentId"})

	docs := hds.Node(1)
	require.NotNil(t, docs)
	assert.True(t, docs.HasChildren())
	assert.False(t, hds.Node(2).HasChildren())

	require.NoError(t, docs.Load(t.Context()))
	assert.Equal(t, []string{"a", "b"}, names(docs.Children().Nodes()))

	a := docs.Children().Node(10)
	require.NoError(t, a.Load(t.Context()))
	assert.Equal(t, []string{"deep"}, names(a.Children().Nodes()))

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.params, 3)
	assert.NotContains(t, store.params[0], "parentId")
	assert.EqualValues(t, 1, store.params[1]["parentId"])
	assert.EqualValues(t, 10, store.params[2]["parentId"])
}

func TestParentIDDefaultsToIDField(t *testing.T) {
	var seen map[string]any
	store := &folders{Transport: transport.NewMemory(nil, transport.MemoryOptions{IDField: "id"})}
	hds := newTree(t, Options{Options: datasource.Options{
		Transport: readFunc(func(req *types.Request) (any, error) {
			seen = req.Params
			return []any{map[string]any{"id": 5, "name": "x"}}, nil
		}, store),
	}})
	require.NoError(t, hds.Node(5).Load(t.Context()))
	assert.EqualValues(t, 5, seen["id"])
}

func TestChildEventsBubbleWithNode(t *testing.T) {
	store := remoteTree()
	hds := newTree(t, Options{Options: datasource.Options{Transport: store}, ParentParam: "parentId"})
	docs := hds.Node(1)
	require.NoError(t, docs.Load(t.Context()))
	a := docs.Children().Node(10)
	require.NoError(t, a.Load(t.Context()))

	var got []*observable.Event
	hds.Bind(datasource.EventChange, func(e *observable.Event) { got = append(got, e) })

	docs.Children().Node(11).Set("name", "renamed")
	require.Len(t, got, 1)
	assert.Same(t, docs, got[0].Node)
	assert.Equal(t, "name", got[0].Field)

	a.Children().Node(100).Set("name", "deeper")
	require.Len(t, got, 2)
	assert.Same(t, a, got[1].Node, "the deepest node is reported")

	var errs []*observable.Event
	hds.Bind(datasource.EventError, func(e *observable.Event) { errs = append(errs, e) })
	store.fail = errors.New("offline")
	b := docs.Children().Node(11)
	require.Error(t, b.Load(t.Context()))
	require.Len(t, errs, 1)
	assert.Same(t, b, errs[0].Node)
	assert.False(t, b.Loaded())
}

func TestRemoveLastChildClearsHasChildren(t *testing.T) {
	hds := newTree(t, Options{Options: datasource.Options{Data: []map[string]any{
		{"id": 1, "items": []any{map[string]any{"id": 2}, map[string]any{"id": 3}}},
	}}})
	root := hds.Node(1)
	require.NoError(t, root.Load(t.Context()))
	children := root.Children()

	require.True(t, children.Remove(children.Node(2)))
	assert.True(t, root.HasChildren())
	require.True(t, children.Remove(children.Node(3)))
	assert.False(t, root.HasChildren())
	assert.Len(t, children.Destroyed(), 2)
}

func TestAppend(t *testing.T) {
	hds := newTree(t, Options{Options: datasource.Options{Data: []map[string]any{{"id": 1, "name": "root"}}}})
	root := hds.Node(1)
	require.False(t, root.HasChildren())

	child := root.Append(map[string]any{"name": "new"})
	require.NotNil(t, child)
	assert.True(t, child.IsNew())
	assert.True(t, root.HasChildren())
	assert.True(t, root.Loaded())
	assert.Equal(t, 1, child.Level())
	assert.Same(t, root, child.ParentNode())
	assert.Len(t, root.Children().Created(), 1)
	assert.Same(t, child, hds.GetByUID(child.UID()))
}

type readOnly struct {
	types.Transport
	read func(req *types.Request) (any, error)
}

func (r readOnly) Read(_ context.Context, req *types.Request) (any, error) { return r.read(req) }

func readFunc(fn func(req *types.Request) (any, error), base types.Transport) types.Transport {
	return readOnly{Transport: base, read: fn}
}

func names(nodes []*Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i], _ = n.Get("name").(string)
	}
	return out
}
