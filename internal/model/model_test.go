package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/databind/internal/observable"
)

func personSchema() Schema {
	locked := false
	return Schema{
		ID: "id",
		Fields: map[string]Field{
			"id":      {Type: TypeNumber},
			"name":    {Type: TypeString},
			"age":     {Type: TypeNumber},
			"born":    {Type: TypeDate, Nullable: true},
			"active":  {Type: TypeBoolean, Default: true},
			"code":    {Type: TypeString, Editable: &locked},
			"tags":    {Default: []any{"x"}},
			"created": {Type: TypeDate},
		},
	}
}

func TestDefineRejectsUnknownType(t *testing.T) {
	_, err := Define(Schema{Fields: map[string]Field{"a": {Type: "decimal"}}})
	require.ErrorIs(t, err, ErrUnknownType)
}

func TestNewFillsDefaults(t *testing.T) {
	d := MustDefine(personSchema())
	m := d.New(map[string]any{"name": "Ann"})

	assert.Equal(t, "Ann", m.Get("name"))
	assert.Equal(t, float64(0), m.Get("age"))
	assert.Nil(t, m.Get("born"))
	assert.Equal(t, true, m.Get("active"))
	assert.IsType(t, time.Time{}, m.Get("created"))
	assert.Equal(t, float64(0), m.ID())
	assert.True(t, m.IsNew())
	assert.False(t, m.Dirty())
	assert.NotEmpty(t, m.UID())
}

func TestDefaultsAreNotShared(t *testing.T) {
	d := MustDefine(personSchema())
	a := d.New(nil)
	b := d.New(nil)

	a.Get("tags").(*observable.Array).Push("y")
	assert.Equal(t, 1, b.Get("tags").(*observable.Array).Len())
	assert.NotEqual(t, a.UID(), b.UID())
}

func TestSetParsesBeforeComparing(t *testing.T) {
	d := MustDefine(personSchema())
	m := d.New(map[string]any{"id": 1, "age": 30})

	assert.False(t, m.Set("age", "30"), "numeric string equal after parse")
	assert.False(t, m.Dirty())

	assert.True(t, m.Set("age", "31"))
	assert.Equal(t, float64(31), m.Get("age"))
	assert.True(t, m.Dirty())
	assert.Equal(t, []string{"age"}, m.DirtyFields())
	assert.False(t, m.IsNew())
}

func TestSetNonEditableIsNoop(t *testing.T) {
	d := MustDefine(personSchema())
	m := d.New(map[string]any{"code": "A"})
	assert.False(t, m.Set("code", "B"))
	assert.Equal(t, "A", m.Get("code"))
	assert.False(t, m.Dirty())
}

func TestSetIsDirtyWhenChangeFires(t *testing.T) {
	d := MustDefine(personSchema())
	m := d.New(map[string]any{"id": 1})
	var dirtyInHandler bool
	m.Bind(observable.EventChange, func(*observable.Event) { dirtyInHandler = m.Dirty() })

	m.Set("name", "x")
	assert.True(t, dirtyInHandler)
}

func TestCanceledSetRestoresDirty(t *testing.T) {
	d := MustDefine(personSchema())
	m := d.New(map[string]any{"id": 1, "name": "a"})
	m.Bind(observable.EventSet, func(e *observable.Event) { e.Prevent() })

	assert.False(t, m.Set("name", "b"))
	assert.False(t, m.Dirty())
	assert.Empty(t, m.DirtyFields())
	assert.Equal(t, "a", m.Get("name"))
}

func TestAcceptClearsDirty(t *testing.T) {
	d := MustDefine(personSchema())
	m := d.New(map[string]any{"name": "a"})
	m.Set("name", "b")
	require.True(t, m.Dirty())

	m.Accept(map[string]any{"id": "7", "name": "b"})
	assert.False(t, m.Dirty())
	assert.Equal(t, float64(7), m.ID())
	assert.False(t, m.IsNew())
}

func TestIsNewWithUndeclaredID(t *testing.T) {
	d := MustDefine(Schema{})
	assert.Equal(t, "id", d.IDField())
	assert.True(t, d.New(nil).IsNew())
	assert.True(t, d.New(map[string]any{"id": ""}).IsNew())
	assert.False(t, d.New(map[string]any{"id": "abc"}).IsNew())
}

func TestParsers(t *testing.T) {
	tests := []struct {
		name  string
		parse func(any) any
		in    any
		want  any
	}{
		{"number from string", ParseNumber, "2.5", 2.5},
		{"number null", ParseNumber, "null", nil},
		{"number garbage", ParseNumber, "abc", nil},
		{"number int", ParseNumber, 3, float64(3)},
		{"bool true string", ParseBoolean, "TRUE", true},
		{"bool false string", ParseBoolean, "no", false},
		{"bool null", ParseBoolean, "Null", nil},
		{"bool number", ParseBoolean, 0, false},
		{"string number", ParseString, 12, "12"},
		{"string null", ParseString, "null", nil},
		{"string nil", ParseString, nil, nil},
		{"date null", ParseDate, "null", nil},
		{"date garbage", ParseDate, "yesterday", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.parse(tt.in))
		})
	}

	got := ParseDate("2024-02-03T04:05:06Z")
	require.IsType(t, time.Time{}, got)
	assert.Equal(t, 3, got.(time.Time).Day())
}

func TestCustomParse(t *testing.T) {
	d := MustDefine(Schema{Fields: map[string]Field{
		"upper": {Parse: func(v any) any { return "P:" + v.(string) }},
	}})
	m := d.New(map[string]any{"upper": "x"})
	assert.Equal(t, "P:x", m.Get("upper"))
}
