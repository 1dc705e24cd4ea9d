// Package reader turns raw transport payloads into records, totals, groups,
// aggregates and errors according to a schema, and renames and coerces
// fields through an optional model definition.
package reader

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/mesh-intelligence/databind/internal/model"
	"github.com/mesh-intelligence/databind/internal/value"
	"github.com/mesh-intelligence/databind/pkg/types"
)

// Extractor pulls one part out of a parsed payload.
type Extractor func(payload any) any

// Path returns an Extractor reading a dotted field path.
func Path(path string) Extractor {
	return func(payload any) any { return value.Get(payload, path) }
}

// Schema configures a Reader. Nil extractors fall back to the defaults: an
// array payload is the data and its length the total; an object payload is
// read through its data, total, groups, aggregates and errors keys.
type Schema struct {
	Data       Extractor
	Total      Extractor
	Groups     Extractor
	Errors     Extractor
	Aggregates Extractor
	Parse      func(raw any) (any, error)
	Serialize  func(records []map[string]any) []map[string]any
	Model      *model.Definition
}

// Config is the declarative form of Schema, as found in config files.
type Config struct {
	Data       string `json:"data,omitempty" yaml:"data,omitempty"`
	Total      string `json:"total,omitempty" yaml:"total,omitempty"`
	Groups     string `json:"groups,omitempty" yaml:"groups,omitempty"`
	Errors     string `json:"errors,omitempty" yaml:"errors,omitempty"`
	Aggregates string `json:"aggregates,omitempty" yaml:"aggregates,omitempty"`
}

// Schema converts c into a Schema bound to def.
func (c Config) Schema(def *model.Definition) Schema {
	s := Schema{Model: def}
	if c.Data != "" {
		s.Data = Path(c.Data)
	}
	if c.Total != "" {
		s.Total = Path(c.Total)
	}
	if c.Groups != "" {
		s.Groups = Path(c.Groups)
	}
	if c.Errors != "" {
		s.Errors = Path(c.Errors)
	}
	if c.Aggregates != "" {
		s.Aggregates = Path(c.Aggregates)
	}
	return s
}

type rename struct {
	name  string
	from  string
	parse func(any) any
}

// Reader applies a Schema to payloads. It is immutable after New.
type Reader struct {
	schema  Schema
	renames []rename
}

// New builds a Reader.
func New(s Schema) *Reader {
	r := &Reader{schema: s}
	if s.Model != nil {
		for _, name := range s.Model.Fields() {
			f, _ := s.Model.Field(name)
			from := f.From
			if from == "" {
				from = name
			}
			r.renames = append(r.renames, rename{
				name: name,
				from: from,
				parse: func(v any) any {
					return s.Model.Parse(name, v)
				},
			})
		}
	}
	return r
}

// Model returns the bound model definition, or nil.
func (r *Reader) Model() *model.Definition { return r.schema.Model }

// FieldFrom returns the wire name of a model field.
func (r *Reader) FieldFrom(name string) string {
	for _, rn := range r.renames {
		if rn.name == name {
			return rn.from
		}
	}
	return name
}

// FieldName returns the model field name of a wire field.
func (r *Reader) FieldName(from string) string {
	for _, rn := range r.renames {
		if rn.from == from {
			return rn.name
		}
	}
	return from
}

// Parse decodes JSON payloads ([]byte, json.RawMessage, JSON strings and
// io.Readers) and passes everything else through.
func (r *Reader) Parse(raw any) (any, error) {
	if r.schema.Parse != nil {
		return r.schema.Parse(raw)
	}
	var data []byte
	switch t := raw.(type) {
	case []byte:
		data = t
	case json.RawMessage:
		data = t
	case string:
		if !json.Valid([]byte(t)) {
			return t, nil
		}
		data = []byte(t)
	case io.Reader:
		b, err := io.ReadAll(t)
		if err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
		data = b
	default:
		return raw, nil
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return out, nil
}

func objectKey(payload any, key string) any {
	if m, ok := payload.(map[string]any); ok {
		return m[key]
	}
	return nil
}

// rawData returns the record list before model conversion.
func (r *Reader) rawData(payload any) []any {
	var d any
	if r.schema.Data != nil {
		d = r.schema.Data(payload)
	} else if _, isObject := payload.(map[string]any); isObject {
		d = objectKey(payload, "data")
	} else {
		d = payload
	}
	return toSlice(d)
}

func toSlice(d any) []any {
	switch t := d.(type) {
	case nil:
		return nil
	case []any:
		return t
	case []map[string]any:
		out := make([]any, len(t))
		for i, m := range t {
			out[i] = m
		}
		return out
	case map[string]any:
		return []any{t}
	}
	return nil
}

// Data returns the records of payload, renamed and coerced by the model.
// Non-object entries are wrapped as {"value": entry}.
func (r *Reader) Data(payload any) []map[string]any {
	items := r.rawData(payload)
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		out = append(out, r.record(item))
	}
	return out
}

func (r *Reader) record(item any) map[string]any {
	rec, ok := value.Unwrap(item).(map[string]any)
	if !ok {
		return map[string]any{"value": item}
	}
	rec = value.CloneMap(rec)
	for _, rn := range r.renames {
		v := value.Get(rec, rn.from)
		_, present := rec[rn.from]
		if v == nil && !present {
			continue
		}
		if rn.from != rn.name {
			value.Delete(rec, rn.from)
		}
		value.Set(rec, rn.name, rn.parse(v))
	}
	return rec
}

// Total returns the total record count reported by payload.
func (r *Reader) Total(payload any) int {
	var t any
	switch {
	case r.schema.Total != nil:
		t = r.schema.Total(payload)
	default:
		if _, isObject := payload.(map[string]any); isObject {
			t = objectKey(payload, "total")
		}
	}
	if f, ok := value.ParseFloat(t); ok {
		return int(f)
	}
	return len(r.rawData(payload))
}

// Groups returns the server-side groups of payload with their items
// converted to records.
func (r *Reader) Groups(payload any) []*types.Group {
	var g any
	if r.schema.Groups != nil {
		g = r.schema.Groups(payload)
	} else {
		g = objectKey(payload, "groups")
		if g == nil {
			g = r.schema.dataFallback(payload)
		}
	}
	return r.groups(toSlice(g))
}

// dataFallback lets a payload carry groups in its data slot.
func (s Schema) dataFallback(payload any) any {
	if s.Data != nil {
		return s.Data(payload)
	}
	if _, isObject := payload.(map[string]any); isObject {
		return objectKey(payload, "data")
	}
	return payload
}

func (r *Reader) groups(items []any) []*types.Group {
	out := make([]*types.Group, 0, len(items))
	for _, item := range items {
		if g := r.group(item); g != nil {
			out = append(out, g)
		}
	}
	return out
}

func (r *Reader) group(item any) *types.Group {
	switch t := item.(type) {
	case *types.Group:
		g := &types.Group{
			Field:        r.FieldName(t.Field),
			Value:        r.fieldValue(t.Field, t.Value),
			HasSubgroups: t.HasSubgroups,
			Aggregates:   r.renameAggregates(t.Aggregates),
		}
		g.Items = r.groupItems(t.HasSubgroups, t.Items)
		return g
	case map[string]any:
		field, _ := t["field"].(string)
		if field == "" {
			return nil
		}
		hasSub, _ := t["hasSubgroups"].(bool)
		return &types.Group{
			Field:        r.FieldName(field),
			Value:        r.fieldValue(field, t["value"]),
			HasSubgroups: hasSub,
			Items:        r.groupItems(hasSub, toSlice(t["items"])),
			Aggregates:   r.renameAggregates(toAggregates(t["aggregates"])),
		}
	}
	return nil
}

func (r *Reader) groupItems(hasSubgroups bool, items []any) []any {
	out := make([]any, 0, len(items))
	if hasSubgroups {
		for _, g := range r.groups(items) {
			out = append(out, g)
		}
		return out
	}
	for _, item := range items {
		out = append(out, r.record(item))
	}
	return out
}

func (r *Reader) fieldValue(from string, v any) any {
	for _, rn := range r.renames {
		if rn.from == from {
			return rn.parse(v)
		}
	}
	return v
}

// Errors returns the application errors of payload, or nil.
func (r *Reader) Errors(payload any) any {
	var e any
	if r.schema.Errors != nil {
		e = r.schema.Errors(payload)
	} else {
		e = objectKey(payload, "errors")
	}
	switch t := e.(type) {
	case nil:
		return nil
	case string:
		if t == "" {
			return nil
		}
	case []any:
		if len(t) == 0 {
			return nil
		}
	case map[string]any:
		if len(t) == 0 {
			return nil
		}
	}
	return e
}

// Aggregates returns the server-side aggregates of payload.
func (r *Reader) Aggregates(payload any) types.Aggregates {
	var a any
	if r.schema.Aggregates != nil {
		a = r.schema.Aggregates(payload)
	} else {
		a = objectKey(payload, "aggregates")
	}
	return r.renameAggregates(toAggregates(a))
}

func toAggregates(a any) types.Aggregates {
	switch t := a.(type) {
	case types.Aggregates:
		return t
	case map[string]map[string]any:
		return types.Aggregates(t)
	case map[string]any:
		out := make(types.Aggregates, len(t))
		for field, v := range t {
			if inner, ok := v.(map[string]any); ok {
				out[field] = inner
			}
		}
		return out
	}
	return nil
}

func (r *Reader) renameAggregates(a types.Aggregates) types.Aggregates {
	if a == nil {
		return nil
	}
	out := make(types.Aggregates, len(a))
	for field, v := range a {
		out[r.FieldName(field)] = v
	}
	return out
}

// Serialize maps records back to their wire field names.
func (r *Reader) Serialize(records []map[string]any) []map[string]any {
	out := make([]map[string]any, len(records))
	for i, rec := range records {
		cp := value.CloneMap(rec)
		for _, rn := range r.renames {
			if rn.from == rn.name {
				continue
			}
			v := value.Get(cp, rn.name)
			_, present := cp[rn.name]
			if v == nil && !present {
				continue
			}
			value.Delete(cp, rn.name)
			value.Set(cp, rn.from, v)
		}
		out[i] = cp
	}
	if r.schema.Serialize != nil {
		return r.schema.Serialize(out)
	}
	return out
}
