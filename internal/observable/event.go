// Package observable provides the change-notifying containers the data layer
// is built on: an event Emitter, an Object of named fields and an ordered
// Array. Nested containers bubble their change events to their parent
// through non-owning back-references.
package observable

// Event names emitted by Object and Array.
const (
	EventChange = "change"
	EventSet    = "set"
)

// Change actions.
const (
	ActionAdd        = "add"
	ActionRemove     = "remove"
	ActionReplace    = "replace"
	ActionItemChange = "itemchange"
	ActionSync       = "sync"
	ActionRange      = "range"
)

// Event is the payload passed to every handler. Handlers of cancelable
// events call Prevent to veto the operation.
type Event struct {
	Name     string
	Action   string
	Field    string
	Index    int
	Items    []any
	Removed  []any
	Value    any
	Type     string
	Status   string
	Response any
	Errors   any
	Err      error
	Node     any
	Sender   any
	Skip     int
	Take     int

	prevented bool
}

// Prevent marks a cancelable event as vetoed.
func (e *Event) Prevent() { e.prevented = true }

// IsPrevented reports whether a handler vetoed the event.
func (e *Event) IsPrevented() bool { return e.prevented }
