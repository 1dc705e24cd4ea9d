package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGroupLeaves(t *testing.T) {
	inner1 := &Group{Field: "b", Value: 1, Items: []any{"r1", "r2"}}
	inner2 := &Group{Field: "b", Value: 2, Items: []any{"r3"}}
	outer := &Group{Field: "a", Value: "x", HasSubgroups: true, Items: []any{inner1, inner2}}

	assert.Equal(t, []any{"r1", "r2", "r3"}, outer.Leaves())
	assert.Equal(t, 3, outer.LeafCount())
	assert.Equal(t, 2, inner1.LeafCount())
}

func TestFlatten(t *testing.T) {
	g := &Group{Field: "a", Value: 1, Items: []any{"r1", "r2"}}
	assert.Equal(t, []any{"r0", "r1", "r2"}, Flatten([]any{"r0", g}))
	assert.Empty(t, Flatten(nil))
}

func TestFilterDescriptorHelpers(t *testing.T) {
	f := And(Where("age", "gt", 3), Or(Where("name", "eq", "x")))
	assert.True(t, f.IsComposite())
	assert.False(t, f.Filters[0].IsComposite())
	assert.True(t, f.Filters[0].CaseInsensitive())
	assert.False(t, f.HasFunc())

	off := false
	f.Filters[1].Filters = append(f.Filters[1].Filters, &FilterDescriptor{
		Field:      "name",
		IgnoreCase: &off,
		Func:       func(v, _ any) bool { return v != nil },
	})
	assert.True(t, f.HasFunc())
	assert.False(t, f.Filters[1].Filters[1].CaseInsensitive())
}

func TestQueryOptionsIsZero(t *testing.T) {
	assert.True(t, QueryOptions{}.IsZero())
	assert.False(t, QueryOptions{Take: 5}.IsZero())
	assert.False(t, QueryOptions{Sort: []SortDescriptor{{Field: "a"}}}.IsZero())
}

func TestErrorTypesUnwrap(t *testing.T) {
	cause := errors.New("boom")
	te := &TransportError{Verb: VerbRead, Status: 500, Cause: cause}
	assert.ErrorIs(t, te, cause)
	assert.Contains(t, te.Error(), "500")

	se := &SyncError{Verb: VerbCreate, UID: "u1", Cause: ErrNotFound}
	assert.ErrorIs(t, se, ErrNotFound)

	sem := &SemanticError{Errors: map[string]any{"name": "required"}}
	assert.Contains(t, sem.Error(), "required")
}
