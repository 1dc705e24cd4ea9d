package value

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFloat(t *testing.T) {
	tests := []struct {
		in   any
		want float64
		ok   bool
	}{
		{int(3), 3, true},
		{int64(-2), -2, true},
		{uint8(7), 7, true},
		{float32(1.5), 1.5, true},
		{json.Number("2.25"), 2.25, true},
		{"3", 0, false},
		{nil, 0, false},
	}
	for _, tt := range tests {
		got, ok := Float(tt.in)
		assert.Equal(t, tt.ok, ok, "%v", tt.in)
		assert.Equal(t, tt.want, got, "%v", tt.in)
	}
}

func TestParseFloatAcceptsNumericStrings(t *testing.T) {
	f, ok := ParseFloat(" 42.5 ")
	assert.True(t, ok)
	assert.Equal(t, 42.5, f)

	_, ok = ParseFloat("abc")
	assert.False(t, ok)
}

func TestParseTime(t *testing.T) {
	got, ok := ParseTime("2024-03-01")
	assert.True(t, ok)
	assert.Equal(t, 2024, got.Year())

	now := time.Now()
	got, ok = ParseTime(now)
	assert.True(t, ok)
	assert.True(t, now.Equal(got))

	_, ok = ParseTime("not a date")
	assert.False(t, ok)
}

func TestEqual(t *testing.T) {
	utc := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	local := utc.In(time.FixedZone("x", 3600))

	assert.True(t, Equal(1, 1.0))
	assert.True(t, Equal(int64(5), uint8(5)))
	assert.True(t, Equal(utc, local))
	assert.True(t, Equal(nil, nil))
	assert.False(t, Equal(nil, 0))
	assert.False(t, Equal("1", 1))
	assert.True(t, Equal(map[string]any{"a": []any{1}}, map[string]any{"a": []any{1}}))
}

func TestSameDoesNotPanic(t *testing.T) {
	assert.False(t, Same(map[string]any{}, map[string]any{}))
	assert.True(t, Same("a", "a"))
	p := &struct{}{}
	assert.True(t, Same(p, p))
}

func TestGetSetDelete(t *testing.T) {
	m := map[string]any{"a": map[string]any{"b": []any{"x", "y"}}}
	assert.Equal(t, "y", Get(m, "a.b.1"))
	assert.Nil(t, Get(m, "a.c"))
	assert.Nil(t, Get(m, "a.b.9"))

	Set(m, "a.c.d", 4)
	assert.Equal(t, 4, Get(m, "a.c.d"))

	Delete(m, "a.c.d")
	assert.Nil(t, Get(m, "a.c.d"))
}

func TestCloneIsDeep(t *testing.T) {
	src := map[string]any{"a": map[string]any{"b": 1}, "list": []any{1, 2}}
	dst := CloneMap(src)
	dst["a"].(map[string]any)["b"] = 2
	dst["list"].([]any)[0] = 9
	assert.Equal(t, 1, src["a"].(map[string]any)["b"])
	assert.Equal(t, 1, src["list"].([]any)[0])
}
