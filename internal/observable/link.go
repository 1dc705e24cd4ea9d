package observable

import (
	"sync"
	"weak"
)

// parentLink is a non-owning back-reference from a nested container to the
// Object field or Array that holds it.
type parentLink struct {
	object weak.Pointer[Object]
	array  weak.Pointer[Array]
	field  string
}

// node is implemented by the containers that can sit inside another one.
type node interface {
	setParent(l parentLink)
	release(l parentLink)
}

// linked is embedded by Object and Array.
type linked struct {
	parentMu sync.Mutex
	parent   parentLink
}

func (l *linked) setParent(p parentLink) {
	l.parentMu.Lock()
	l.parent = p
	l.parentMu.Unlock()
}

// release clears the back-reference only if it still points at l.
func (l *linked) release(p parentLink) {
	l.parentMu.Lock()
	if l.parent == p {
		l.parent = parentLink{}
	}
	l.parentMu.Unlock()
}

func (l *linked) currentParent() parentLink {
	l.parentMu.Lock()
	defer l.parentMu.Unlock()
	return l.parent
}

// bubble forwards a child's change to whatever holds it.
func (p parentLink) bubble(child node, e *Event) {
	if obj := p.object.Value(); obj != nil {
		field := p.field
		structural := e.Action == ActionAdd || e.Action == ActionRemove || e.Action == ActionReplace
		if !structural && e.Field != "" {
			field = p.field + "." + e.Field
		}
		obj.notify(&Event{
			Action:  e.Action,
			Field:   field,
			Index:   e.Index,
			Items:   e.Items,
			Removed: e.Removed,
			Value:   e.Value,
			Node:    e.Node,
		})
		return
	}
	if arr := p.array.Value(); arr != nil {
		arr.itemChanged(child, e)
	}
}

// Holder is implemented by values that carry an Object, such as models
// embedding one.
type Holder interface {
	Observable() *Object
}

// nodeOf returns the container behind v, if any.
func nodeOf(v any) node {
	switch t := v.(type) {
	case *Object:
		return t
	case *Array:
		return t
	case Holder:
		return t.Observable()
	}
	return nil
}

// wrap converts plain maps and slices into containers.
func wrap(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return NewObject(t)
	case []any:
		return NewArray(t)
	}
	return v
}
