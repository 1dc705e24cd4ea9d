// Package transport provides the Transport implementations: an in-memory
// store, an HTTP remote, a parameter-injecting wrapper, an HTTP handler that
// exposes any Transport, and a registry of factories.
package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/databind/internal/query"
	"github.com/mesh-intelligence/databind/internal/value"
	"github.com/mesh-intelligence/databind/pkg/types"
)

// MemoryOptions configures a Memory transport.
type MemoryOptions struct {
	IDField string
	NewID   func() any
}

// Memory keeps records in process. Reads without server-side options return
// the whole array; reads with them return {data, total, groups, aggregates}.
type Memory struct {
	mu      sync.RWMutex
	records []map[string]any
	idField string
	newID   func() any
}

var _ types.Transport = (*Memory)(nil)

// NewMemory creates a Memory transport over a copy of records.
func NewMemory(records []map[string]any, opts MemoryOptions) *Memory {
	m := &Memory{
		records: make([]map[string]any, 0, len(records)),
		idField: opts.IDField,
		newID:   opts.NewID,
	}
	if m.idField == "" {
		m.idField = types.DefaultIDField
	}
	if m.newID == nil {
		m.newID = func() any { return GenerateID() }
	}
	for _, rec := range records {
		m.records = append(m.records, value.CloneMap(rec))
	}
	return m
}

// GenerateID returns a new UUID v7 string.
func GenerateID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// Records returns a copy of the stored records.
func (m *Memory) Records() []map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]map[string]any, len(m.records))
	for i, rec := range m.records {
		out[i] = value.CloneMap(rec)
	}
	return out
}

// Read returns the records, processed by the query engine when the request
// carries server-side options.
func (m *Memory) Read(ctx context.Context, req *types.Request) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	countRequest("memory", types.VerbRead)
	m.mu.RLock()
	data := make([]any, len(m.records))
	for i, rec := range m.records {
		data[i] = value.CloneMap(rec)
	}
	m.mu.RUnlock()

	if req == nil || req.Query.IsZero() {
		return data, nil
	}
	return ServerPayload(data, req.Query)
}

// ServerPayload runs q over data and shapes the result the way a server
// answering delegated query operations does.
func ServerPayload(data []any, q types.QueryOptions) (map[string]any, error) {
	res, err := query.Process(data, q)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{"total": res.Total}
	if len(q.Group) > 0 {
		payload["groups"] = res.Data
		payload["data"] = types.Flatten(res.Data)
	} else {
		payload["data"] = res.Data
	}
	if res.Aggregates != nil {
		payload["aggregates"] = res.Aggregates
	}
	return payload, nil
}

// Create stores new records, assigning ids to those without one.
func (m *Memory) Create(ctx context.Context, req *types.Request) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	countRequest("memory", types.VerbCreate)
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]any, 0, len(req.Records))
	for _, rec := range req.Records {
		stored := value.CloneMap(rec)
		if isBlankID(stored[m.idField]) {
			stored[m.idField] = m.newID()
		} else if m.indexOf(stored[m.idField]) >= 0 {
			return nil, fmt.Errorf("create %v: %w", stored[m.idField], types.ErrInvalidID)
		}
		m.records = append(m.records, stored)
		out = append(out, value.CloneMap(stored))
	}
	return out, nil
}

// Update replaces stored records by id.
func (m *Memory) Update(ctx context.Context, req *types.Request) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	countRequest("memory", types.VerbUpdate)
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]any, 0, len(req.Records))
	for _, rec := range req.Records {
		idx := m.indexOf(rec[m.idField])
		if idx < 0 {
			return nil, fmt.Errorf("update %v: %w", rec[m.idField], types.ErrNotFound)
		}
		m.records[idx] = value.CloneMap(rec)
		out = append(out, value.CloneMap(rec))
	}
	return out, nil
}

// Destroy removes stored records by id.
func (m *Memory) Destroy(ctx context.Context, req *types.Request) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	countRequest("memory", types.VerbDestroy)
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]any, 0, len(req.Records))
	for _, rec := range req.Records {
		idx := m.indexOf(rec[m.idField])
		if idx < 0 {
			return nil, fmt.Errorf("destroy %v: %w", rec[m.idField], types.ErrNotFound)
		}
		m.records = append(m.records[:idx], m.records[idx+1:]...)
		out = append(out, value.CloneMap(rec))
	}
	return out, nil
}

func (m *Memory) indexOf(id any) int {
	if isBlankID(id) {
		return -1
	}
	for i, rec := range m.records {
		if value.Equal(rec[m.idField], id) {
			return i
		}
	}
	return -1
}

func isBlankID(id any) bool {
	if id == nil || id == "" {
		return true
	}
	f, ok := value.Float(id)
	return ok && f == 0
}
