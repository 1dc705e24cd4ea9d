package model

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/mesh-intelligence/databind/internal/observable"
	"github.com/mesh-intelligence/databind/internal/value"
	"github.com/mesh-intelligence/databind/pkg/types"
)

// ErrUnknownType is returned by Define for an unsupported field type.
var ErrUnknownType = errors.New("unknown field type")

// Schema declares the identity field and the typed fields of a model.
type Schema struct {
	ID     string           `json:"id,omitempty" yaml:"id,omitempty"`
	Fields map[string]Field `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// Definition is a compiled Schema and the factory for its models.
type Definition struct {
	id        string
	fields    map[string]Field
	names     []string
	defaultID any
}

// Define validates s and compiles it.
func Define(s Schema) (*Definition, error) {
	d := &Definition{
		id:     s.ID,
		fields: make(map[string]Field, len(s.Fields)),
	}
	if d.id == "" {
		d.id = types.DefaultIDField
	}
	for name, f := range s.Fields {
		switch f.Type {
		case "", TypeString, TypeNumber, TypeDate, TypeBoolean:
		default:
			return nil, fmt.Errorf("define field %s: %w: %q", name, ErrUnknownType, f.Type)
		}
		d.fields[name] = f
	}
	d.names = slices.Sorted(maps.Keys(d.fields))
	if f, ok := d.fields[d.id]; ok && (f.Default != nil || f.Type != "") {
		d.defaultID = f.defaultValue()
	}
	return d, nil
}

// MustDefine is Define for static schemas; it panics on error.
func MustDefine(s Schema) *Definition {
	d, err := Define(s)
	if err != nil {
		panic(err)
	}
	return d
}

// IDField returns the identity field name.
func (d *Definition) IDField() string { return d.id }

// DefaultID returns the id value that marks a model as new.
func (d *Definition) DefaultID() any { return d.defaultID }

// Fields returns the declared field names in sorted order.
func (d *Definition) Fields() []string { return slices.Clone(d.names) }

// Field returns the descriptor of a declared field.
func (d *Definition) Field(name string) (Field, bool) {
	f, ok := d.fields[name]
	return f, ok
}

// Parse runs the field parser for name, if any.
func (d *Definition) Parse(name string, v any) any {
	f, ok := d.fields[name]
	if !ok {
		return v
	}
	if p := f.parser(); p != nil {
		return p(v)
	}
	return v
}

// IsDefaultID reports whether id marks an unsaved record.
func (d *Definition) IsDefaultID(id any) bool {
	if id == nil {
		return true
	}
	if d.defaultID == nil {
		s, ok := id.(string)
		return ok && s == ""
	}
	return value.Equal(id, d.defaultID)
}

// New creates a model from values, parsing declared fields and filling
// defaults for the ones missing.
func (d *Definition) New(values map[string]any) *Model {
	data := make(map[string]any, len(values)+len(d.fields))
	for k, v := range values {
		data[k] = d.Parse(k, value.Clone(v))
	}
	for _, name := range d.names {
		if name == d.id {
			continue
		}
		if value.Get(data, name) == nil {
			if _, present := data[name]; present && d.fields[name].Nullable {
				continue
			}
			value.Set(data, name, d.fields[name].defaultValue())
		}
	}
	if _, ok := data[d.id]; !ok && d.defaultID != nil {
		data[d.id] = value.Clone(d.defaultID)
	}
	return &Model{
		Object:      observable.NewObject(data),
		def:         d,
		uid:         ulid.Make().String(),
		dirtyFields: make(map[string]bool),
	}
}

// Model is an observable record with identity and change tracking.
type Model struct {
	*observable.Object

	def *Definition
	uid string

	mu          sync.Mutex
	dirty       bool
	dirtyFields map[string]bool
}

var _ types.Model = (*Model)(nil)

// Definition returns the schema the model was created from.
func (m *Model) Definition() *Definition { return m.def }

// UID returns the client-side identity, unique per process.
func (m *Model) UID() string { return m.uid }

// ID returns the server identity.
func (m *Model) ID() any { return m.Get(m.def.id) }

// IsNew reports whether the model has never been saved.
func (m *Model) IsNew() bool { return m.def.IsDefaultID(m.ID()) }

// Dirty reports whether the model has unsaved edits.
func (m *Model) Dirty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dirty
}

// SetDirty overrides the dirty flag.
func (m *Model) SetDirty(dirty bool) {
	m.mu.Lock()
	m.dirty = dirty
	if !dirty {
		clear(m.dirtyFields)
	}
	m.mu.Unlock()
}

// DirtyFields returns the fields edited since the last accept.
func (m *Model) DirtyFields() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.dirtyFields))
}

// Editable reports whether Set may change field.
func (m *Model) Editable(field string) bool {
	f, ok := m.def.fields[field]
	return !ok || f.IsEditable()
}

// Set parses v, and on a real change marks the model dirty before emitting
// the change. A canceled set restores the previous dirty state.
func (m *Model) Set(field string, v any) bool {
	if !m.Editable(field) {
		return false
	}
	v = m.def.Parse(field, v)
	if value.Equal(v, m.Get(field)) {
		return false
	}

	m.mu.Lock()
	prevDirty, prevField := m.dirty, m.dirtyFields[field]
	m.dirty = true
	m.dirtyFields[field] = true
	m.mu.Unlock()

	if m.Object.Set(field, v) {
		return true
	}

	m.mu.Lock()
	m.dirty = prevDirty
	if prevField {
		m.dirtyFields[field] = true
	} else {
		delete(m.dirtyFields, field)
	}
	m.mu.Unlock()
	return false
}

// Accept merges server-confirmed values without emitting events and clears
// the dirty state.
func (m *Model) Accept(values map[string]any) {
	for k, v := range values {
		m.Assign(k, m.def.Parse(k, value.Clone(v)))
	}
	m.SetDirty(false)
}
