package observable

import (
	"slices"
	"strconv"
	"strings"
	"sync"
	"weak"

	"github.com/mesh-intelligence/databind/internal/value"
)

// Array is an observable ordered collection. Every mutating call emits
// exactly one change event describing the whole call.
type Array struct {
	Emitter
	linked

	mu    sync.RWMutex
	items []any
}

var _ value.Getter = (*Array)(nil)

// NewArray wraps items. The slice is not retained.
func NewArray(items []any) *Array {
	a := &Array{items: make([]any, len(items))}
	for i, item := range items {
		w := wrap(item)
		a.items[i] = w
		a.attach(w)
	}
	return a
}

func (a *Array) link() parentLink {
	return parentLink{array: weak.Make(a)}
}

func (a *Array) attach(v any) {
	if n := nodeOf(v); n != nil {
		n.setParent(a.link())
	}
}

func (a *Array) detach(v any) {
	if n := nodeOf(v); n != nil {
		n.release(a.link())
	}
}

// Len returns the number of items.
func (a *Array) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.items)
}

// At returns the item at i, or nil when out of range.
func (a *Array) At(i int) any {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if i < 0 || i >= len(a.items) {
		return nil
	}
	return a.items[i]
}

// Items returns a copy of the item slice.
func (a *Array) Items() []any {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.items)
}

// IndexOf returns the position of item or -1.
func (a *Array) IndexOf(item any) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for i, cur := range a.items {
		if value.Same(cur, item) {
			return i
		}
	}
	return -1
}

// Get resolves "index" or "index.path".
func (a *Array) Get(path string) any {
	head, rest, nested := strings.Cut(path, ".")
	i, err := strconv.Atoi(head)
	if err != nil {
		return nil
	}
	item := a.At(i)
	if !nested {
		return item
	}
	return value.Get(item, rest)
}

// Push appends items and returns the new length.
func (a *Array) Push(items ...any) int {
	a.Splice(a.Len(), 0, items...)
	return a.Len()
}

// Pop removes and returns the last item.
func (a *Array) Pop() any {
	n := a.Len()
	if n == 0 {
		return nil
	}
	return first(a.Splice(n-1, 1))
}

// Shift removes and returns the first item.
func (a *Array) Shift() any {
	if a.Len() == 0 {
		return nil
	}
	return first(a.Splice(0, 1))
}

// Unshift prepends items and returns the new length.
func (a *Array) Unshift(items ...any) int {
	a.Splice(0, 0, items...)
	return a.Len()
}

// Insert places item at index.
func (a *Array) Insert(index int, item any) {
	a.Splice(index, 0, item)
}

// Set replaces the item at index.
func (a *Array) Set(index int, item any) {
	a.Splice(index, 1, item)
}

// Remove deletes item and reports whether it was present.
func (a *Array) Remove(item any) bool {
	idx := a.IndexOf(item)
	if idx < 0 {
		return false
	}
	a.Splice(idx, 1)
	return true
}

// Splice removes deleteCount items at index, inserts items in their place
// and returns the removed items. A negative index counts from the end.
func (a *Array) Splice(index, deleteCount int, items ...any) []any {
	wrapped := make([]any, len(items))
	for i, item := range items {
		wrapped[i] = wrap(item)
	}

	a.mu.Lock()
	n := len(a.items)
	if index < 0 {
		index = max(n+index, 0)
	}
	index = min(index, n)
	deleteCount = min(max(deleteCount, 0), n-index)
	removed := slices.Clone(a.items[index : index+deleteCount])
	a.items = slices.Replace(a.items, index, index+deleteCount, wrapped...)
	a.mu.Unlock()

	for _, r := range removed {
		a.detach(r)
	}
	for _, w := range wrapped {
		a.attach(w)
	}

	var action string
	switch {
	case len(removed) > 0 && len(wrapped) > 0:
		action = ActionReplace
	case len(removed) > 0:
		action = ActionRemove
	case len(wrapped) > 0:
		action = ActionAdd
	default:
		return removed
	}
	e := &Event{Action: action, Index: index, Items: wrapped, Removed: removed, Sender: a}
	if action == ActionRemove {
		e.Items = removed
	}
	a.notify(e)
	return removed
}

func (a *Array) itemChanged(child node, e *Event) {
	a.mu.RLock()
	idx := -1
	var item any
	for i, cur := range a.items {
		if nodeOf(cur) == child {
			idx, item = i, cur
			break
		}
	}
	a.mu.RUnlock()
	if idx < 0 {
		return
	}
	a.notify(&Event{
		Action: ActionItemChange,
		Field:  e.Field,
		Index:  idx,
		Items:  []any{item},
		Value:  e.Value,
		Node:   e.Node,
		Sender: a,
	})
}

func (a *Array) notify(e *Event) {
	a.Trigger(EventChange, e)
	a.currentParent().bubble(a, e)
}

// ToSlice returns a deep plain copy.
func (a *Array) ToSlice() []any {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]any, len(a.items))
	for i, v := range a.items {
		out[i] = plain(v)
	}
	return out
}

// ToPlain implements value.Plain.
func (a *Array) ToPlain() any { return a.ToSlice() }

func first(items []any) any {
	if len(items) == 0 {
		return nil
	}
	return items[0]
}
