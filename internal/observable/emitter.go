package observable

import "sync"

// Handler receives an event.
type Handler func(e *Event)

type binding struct {
	fn   Handler
	once bool
}

// Emitter dispatches named events to bound handlers in bind order. Handlers
// always run with no Emitter lock held, so they may bind, unbind or trigger.
// The zero value is ready to use.
type Emitter struct {
	mu       sync.Mutex
	handlers map[string][]*binding
}

// Bind registers h for name and returns a function that removes it.
func (em *Emitter) Bind(name string, h Handler) func() {
	return em.bind(name, &binding{fn: h})
}

// One registers h for a single delivery of name.
func (em *Emitter) One(name string, h Handler) func() {
	return em.bind(name, &binding{fn: h, once: true})
}

func (em *Emitter) bind(name string, b *binding) func() {
	em.mu.Lock()
	if em.handlers == nil {
		em.handlers = make(map[string][]*binding)
	}
	em.handlers[name] = append(em.handlers[name], b)
	em.mu.Unlock()
	return func() { em.remove(name, b) }
}

func (em *Emitter) remove(name string, b *binding) {
	em.mu.Lock()
	defer em.mu.Unlock()
	list := em.handlers[name]
	for i, cur := range list {
		if cur == b {
			em.handlers[name] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Unbind removes every handler bound to name.
func (em *Emitter) Unbind(name string) {
	em.mu.Lock()
	delete(em.handlers, name)
	em.mu.Unlock()
}

// HasHandlers reports whether anything listens for name.
func (em *Emitter) HasHandlers(name string) bool {
	em.mu.Lock()
	defer em.mu.Unlock()
	return len(em.handlers[name]) > 0
}

// Trigger delivers e to the handlers of name and reports whether one of them
// prevented it. A nil e is replaced by an empty event.
func (em *Emitter) Trigger(name string, e *Event) bool {
	if e == nil {
		e = &Event{}
	}
	e.Name = name

	em.mu.Lock()
	list := em.handlers[name]
	if len(list) == 0 {
		em.mu.Unlock()
		return e.prevented
	}
	snapshot := make([]*binding, len(list))
	copy(snapshot, list)
	kept := list[:0:0]
	for _, b := range list {
		if !b.once {
			kept = append(kept, b)
		}
	}
	em.handlers[name] = kept
	em.mu.Unlock()

	for _, b := range snapshot {
		b.fn(e)
	}
	return e.prevented
}
