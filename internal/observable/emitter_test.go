package observable

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmitterBindOrderAndUnbind(t *testing.T) {
	var em Emitter
	var calls []string

	em.Bind("x", func(*Event) { calls = append(calls, "a") })
	unbind := em.Bind("x", func(*Event) { calls = append(calls, "b") })
	em.Bind("x", func(*Event) { calls = append(calls, "c") })

	em.Trigger("x", nil)
	assert.Equal(t, []string{"a", "b", "c"}, calls)

	unbind()
	calls = nil
	em.Trigger("x", nil)
	assert.Equal(t, []string{"a", "c"}, calls)
}

func TestEmitterOne(t *testing.T) {
	var em Emitter
	n := 0
	em.One("x", func(*Event) { n++ })
	em.Trigger("x", nil)
	em.Trigger("x", nil)
	assert.Equal(t, 1, n)
	assert.False(t, em.HasHandlers("x"))
}

func TestEmitterPrevent(t *testing.T) {
	var em Emitter
	em.Bind("start", func(e *Event) { e.Prevent() })
	e := &Event{Type: "read"}
	assert.True(t, em.Trigger("start", e))
	assert.Equal(t, "start", e.Name)
	assert.False(t, em.Trigger("other", nil))
}

func TestEmitterHandlerMayRebind(t *testing.T) {
	var em Emitter
	n := 0
	em.Bind("x", func(*Event) {
		n++
		em.Bind("x", func(*Event) { n += 10 })
	})
	em.Trigger("x", nil)
	assert.Equal(t, 1, n)
	em.Trigger("x", nil)
	assert.Equal(t, 12, n)
}
