package observable

import (
	"slices"
	"sort"
	"strings"
	"sync"
	"weak"

	"github.com/mesh-intelligence/databind/internal/value"
)

// Object is an observable set of named fields. Nested maps become Objects and
// slices become Arrays; their changes bubble up with the field path
// prefixed.
type Object struct {
	Emitter
	linked

	mu     sync.RWMutex
	fields map[string]any
	keys   []string
}

var _ value.Getter = (*Object)(nil)

// NewObject wraps values. The map is not retained.
func NewObject(values map[string]any) *Object {
	o := &Object{fields: make(map[string]any, len(values))}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		w := wrap(values[k])
		o.fields[k] = w
		o.keys = append(o.keys, k)
		o.attach(k, w)
	}
	return o
}

// Observable returns o; it lets types embedding an Object be recognised as
// containers.
func (o *Object) Observable() *Object { return o }

func (o *Object) link(field string) parentLink {
	return parentLink{object: weak.Make(o), field: field}
}

func (o *Object) attach(field string, v any) {
	if n := nodeOf(v); n != nil {
		n.setParent(o.link(field))
	}
}

func (o *Object) detach(field string, v any) {
	if n := nodeOf(v); n != nil {
		n.release(o.link(field))
	}
}

// Get returns the value at a dotted path.
func (o *Object) Get(path string) any {
	head, rest, nested := strings.Cut(path, ".")
	o.mu.RLock()
	v := o.fields[head]
	o.mu.RUnlock()
	if !nested {
		return v
	}
	return value.Get(v, rest)
}

// Has reports whether field is present.
func (o *Object) Has(field string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.fields[field]
	return ok
}

// Fields returns the field names in insertion order.
func (o *Object) Fields() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return slices.Clone(o.keys)
}

// Set assigns the value at a dotted path. It emits a cancelable set event and
// then a change event, and reports whether the value changed. Setting an
// equal value is a no-op.
func (o *Object) Set(path string, v any) bool {
	owner, field := o.resolve(path)
	if owner == nil {
		return false
	}
	return owner.setField(field, v)
}

func (o *Object) resolve(path string) (*Object, string) {
	head, rest, nested := strings.Cut(path, ".")
	if !nested {
		return o, head
	}
	switch c := o.Get(head).(type) {
	case *Object:
		return c.resolve(rest)
	case Holder:
		return c.Observable().resolve(rest)
	}
	return nil, ""
}

func (o *Object) setField(field string, v any) bool {
	o.mu.RLock()
	cur, exists := o.fields[field]
	o.mu.RUnlock()
	if exists && value.Equal(cur, v) {
		return false
	}
	if o.Trigger(EventSet, &Event{Field: field, Value: v, Sender: o}) {
		return false
	}
	old := o.store(field, wrap(v))
	o.detach(field, old)
	o.notify(&Event{Field: field, Value: v, Sender: o})
	return true
}

func (o *Object) store(field string, w any) any {
	o.mu.Lock()
	old, exists := o.fields[field]
	if !exists {
		o.keys = append(o.keys, field)
	}
	o.fields[field] = w
	o.mu.Unlock()
	o.attach(field, w)
	return old
}

// Assign stores a value without emitting events.
func (o *Object) Assign(field string, v any) {
	old := o.store(field, wrap(v))
	if old != nil {
		o.detach(field, old)
	}
}

// notify emits a change event and bubbles it to the parent.
func (o *Object) notify(e *Event) {
	o.Trigger(EventChange, e)
	o.currentParent().bubble(o, e)
}

// ToMap returns a deep plain copy of the fields.
func (o *Object) ToMap() map[string]any {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]any, len(o.fields))
	for k, v := range o.fields {
		out[k] = plain(v)
	}
	return out
}

// ToPlain implements value.Plain.
func (o *Object) ToPlain() any { return o.ToMap() }

func plain(v any) any {
	switch t := v.(type) {
	case value.Plain:
		return t.ToPlain()
	case map[string]any:
		return value.CloneMap(t)
	}
	return v
}
