// Package hierarchy builds trees out of Data Sources. Every node is a model
// that lazily owns a child Data Source; child requests carry the parent id
// and child events bubble up to the root tagged with their node.
package hierarchy

import (
	"context"
	"sync"
	"weak"

	"github.com/golang/glog"

	"github.com/mesh-intelligence/databind/internal/datasource"
	"github.com/mesh-intelligence/databind/internal/model"
	"github.com/mesh-intelligence/databind/internal/observable"
	"github.com/mesh-intelligence/databind/internal/transport"
	"github.com/mesh-intelligence/databind/pkg/types"
)

// Defaults for Options.
const (
	DefaultChildrenField    = "items"
	DefaultHasChildrenField = "hasChildren"
)

// Options configures a tree. The embedded Data Source options apply to the
// root level; child levels inherit the transport, model, reader, sort,
// filter and sync settings but are never paged.
type Options struct {
	datasource.Options

	// ChildrenField holds inline child records. Nodes that carry it are
	// served from memory instead of the transport.
	ChildrenField string
	// HasChildrenField is a boolean field telling whether a node has
	// children on the server.
	HasChildrenField string
	// ParentParam names the request parameter carrying the parent id. It
	// defaults to the model's id field.
	ParentParam string
}

// DataSource is one level of a tree.
type DataSource struct {
	*datasource.DataSource

	opts   Options
	def    *model.Definition
	parent weak.Pointer[Node]
	level  int
}

// New creates the root level of a tree.
func New(opts Options) (*DataSource, error) {
	if opts.ChildrenField == "" {
		opts.ChildrenField = DefaultChildrenField
	}
	if opts.HasChildrenField == "" {
		opts.HasChildrenField = DefaultHasChildrenField
	}
	return newLevel(opts, nil, 0)
}

func newLevel(opts Options, parent *Node, level int) (*DataSource, error) {
	def := opts.Model
	if def == nil && opts.Reader != nil {
		def = opts.Reader.Model()
	}
	if def == nil {
		def = model.MustDefine(model.Schema{ID: "id"})
	}
	hds := &DataSource{opts: opts, def: def, level: level}
	if parent != nil {
		hds.parent = weak.Make(parent)
	}
	owner := weak.Make(hds)
	inner := opts.Options
	inner.Model = def
	inner.New = func(values map[string]any) types.Model { return newNode(owner, values) }
	ds, err := datasource.New(inner)
	if err != nil {
		return nil, err
	}
	hds.DataSource = ds
	return hds, nil
}

// childOptions derives the options of the level below node n.
func (hds *DataSource) childOptions(n *Node) Options {
	opts := hds.opts
	opts.Data = nil
	opts.Page, opts.PageSize = 0, 0
	opts.Group, opts.Aggregate = nil, nil
	opts.Offline = nil
	opts.Server.Paging, opts.Server.Grouping, opts.Server.Aggregates = false, false, false

	if records, ok := n.inlineChildren(); ok {
		opts.Transport = nil
		opts.Data = records
		opts.Server = types.ServerOptions{}
		return opts
	}
	param := hds.opts.ParentParam
	if param == "" {
		param = hds.def.IDField()
	}
	opts.Transport = transport.WithParams(hds.Transport(), map[string]any{param: n.ID()})
	return opts
}

// Level returns the depth of this level, 0 for the root.
func (hds *DataSource) Level() int { return hds.level }

// ParentNode returns the node owning this level, or nil for the root.
func (hds *DataSource) ParentNode() *Node { return hds.parent.Value() }

// Nodes returns the nodes of the working set.
func (hds *DataSource) Nodes() []*Node {
	items := hds.Data().Items()
	out := make([]*Node, 0, len(items))
	for _, item := range items {
		if n, ok := item.(*Node); ok {
			out = append(out, n)
		}
	}
	return out
}

// NodeAt returns the node at index, or nil.
func (hds *DataSource) NodeAt(index int) *Node {
	n, _ := hds.At(index).(*Node)
	return n
}

// Node returns the node with the given server id on this level, or nil.
func (hds *DataSource) Node(id any) *Node {
	n, _ := hds.Get(id).(*Node)
	return n
}

// GetByUID finds a node anywhere below this level.
func (hds *DataSource) GetByUID(uid string) *Node {
	if n, ok := hds.DataSource.GetByUID(uid).(*Node); ok {
		return n
	}
	for _, n := range hds.Nodes() {
		child := n.loadedChildren()
		if child == nil {
			continue
		}
		if found := child.GetByUID(uid); found != nil {
			return found
		}
	}
	return nil
}

// Remove takes m out of this level. Removing the last child clears the
// parent's HasChildren flag.
func (hds *DataSource) Remove(m types.Model) bool {
	if !hds.DataSource.Remove(m) {
		return false
	}
	if hds.Data().Len() == 0 {
		if p := hds.parent.Value(); p != nil {
			p.setHasChildren(false)
		}
	}
	return true
}

// bubble re-emits a child level event on this level, tagged with the node
// it came from unless a deeper level already tagged it.
func (hds *DataSource) bubble(name string, n *Node, e *observable.Event) {
	ev := *e
	if ev.Node == nil {
		ev.Node = n
	}
	hds.Trigger(name, &ev)
}

// Node is a tree node: a model that owns the level below it.
type Node struct {
	*model.Model

	owner weak.Pointer[DataSource]

	mu          sync.Mutex
	children    *DataSource
	inline      []map[string]any
	hasInline   bool
	hasChildren bool
	loaded      bool
}

func newNode(owner weak.Pointer[DataSource], values map[string]any) *Node {
	n := &Node{owner: owner}
	hds := owner.Value()
	childrenField, hasChildrenField := DefaultChildrenField, DefaultHasChildrenField
	var def *model.Definition
	if hds != nil {
		childrenField, hasChildrenField = hds.opts.ChildrenField, hds.opts.HasChildrenField
		def = hds.def
	}
	if def == nil {
		def = model.MustDefine(model.Schema{ID: "id"})
	}

	rest := make(map[string]any, len(values))
	for k, v := range values {
		if k == childrenField {
			n.inline, n.hasInline = childRecords(v), true
			continue
		}
		rest[k] = v
	}
	n.Model = def.New(rest)
	if flag, ok := rest[hasChildrenField].(bool); ok {
		n.hasChildren = flag
	} else {
		n.hasChildren = len(n.inline) > 0
	}
	return n
}

func childRecords(v any) []map[string]any {
	switch t := v.(type) {
	case []map[string]any:
		return t
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, item := range t {
			if rec, ok := item.(map[string]any); ok {
				out = append(out, rec)
			}
		}
		return out
	}
	return nil
}

func (n *Node) inlineChildren() ([]map[string]any, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.inline, n.hasInline
}

func (n *Node) loadedChildren() *DataSource {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.children
}

// Children returns the level below n, creating it on first use. It returns
// nil once the owning level is gone.
func (n *Node) Children() *DataSource {
	n.mu.Lock()
	if n.children != nil {
		defer n.mu.Unlock()
		return n.children
	}
	n.mu.Unlock()

	owner := n.owner.Value()
	if owner == nil {
		return nil
	}
	child, err := newLevel(owner.childOptions(n), n, owner.level+1)
	if err != nil {
		glog.Warningf("hierarchy node %v: %v", n.ID(), err)
		return nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.children != nil {
		return n.children
	}
	n.children = child
	ow := n.owner
	for _, name := range []string{datasource.EventChange, datasource.EventError} {
		child.Bind(name, func(e *observable.Event) {
			if o := ow.Value(); o != nil {
				o.bubble(name, n, e)
			}
		})
	}
	return child
}

// Load reads the children of n.
func (n *Node) Load(ctx context.Context) error {
	child := n.Children()
	if child == nil {
		return types.ErrBackendDetached
	}
	if err := child.Read(ctx, nil); err != nil {
		return err
	}
	n.mu.Lock()
	n.loaded = true
	if child.Data().Len() > 0 {
		n.hasChildren = true
	}
	n.mu.Unlock()
	return nil
}

// Append adds a child record or model below n and returns it.
func (n *Node) Append(v any) *Node {
	child := n.Children()
	if child == nil {
		return nil
	}
	n.mu.Lock()
	n.loaded = true
	n.hasChildren = true
	n.mu.Unlock()
	added, _ := child.Add(v).(*Node)
	return added
}

// Loaded reports whether the children of n have been read or appended to.
func (n *Node) Loaded() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.loaded
}

// HasChildren reports whether n is known to have children.
func (n *Node) HasChildren() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.hasChildren
}

func (n *Node) setHasChildren(v bool) {
	n.mu.Lock()
	n.hasChildren = v
	n.mu.Unlock()
}

// Level returns the depth of n, 0 for root nodes.
func (n *Node) Level() int {
	if o := n.owner.Value(); o != nil {
		return o.level
	}
	return 0
}

// ParentNode returns the node above n, or nil for root nodes.
func (n *Node) ParentNode() *Node {
	if o := n.owner.Value(); o != nil {
		return o.ParentNode()
	}
	return nil
}
