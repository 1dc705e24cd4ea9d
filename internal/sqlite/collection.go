package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/golang/glog"

	"github.com/mesh-intelligence/databind/internal/query"
	"github.com/mesh-intelligence/databind/internal/transport"
	"github.com/mesh-intelligence/databind/internal/value"
	"github.com/mesh-intelligence/databind/pkg/types"
)

// Collection is one named set of documents. It implements Transport and
// Submitter.
type Collection struct {
	backend *Backend
	name    string
}

var (
	_ types.Transport = (*Collection)(nil)
	_ types.Submitter = (*Collection)(nil)
)

func newCollection(b *Backend, name string) *Collection {
	return &Collection{backend: b, name: name}
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

func (c *Collection) idField() string {
	return c.backend.config.IDFieldOrDefault()
}

// Read returns every document in insertion order when the request carries
// no query, and a {data, total} payload otherwise. Filters, sorts, paging
// and counting run in SQL; custom comparers and operators, grouping and
// aggregates are answered by the query engine over the filtered rows.
func (c *Collection) Read(ctx context.Context, req *types.Request) (any, error) {
	b := c.backend
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.attached {
		return nil, types.ErrBackendDetached
	}

	var q types.QueryOptions
	if req != nil {
		q = req.Query
	}
	if q.IsZero() {
		return c.selectDocs(ctx, b.db, "", nil, 0, 0)
	}

	where, args, err := whereClause(q.Filter)
	if errors.Is(err, errNotPushable) {
		glog.V(2).Infof("sqlite %s: filter evaluated in process", c.name)
		all, err := c.selectDocs(ctx, b.db, "", nil, 0, 0)
		if err != nil {
			return nil, err
		}
		return transport.ServerPayload(all, q)
	}
	if err != nil {
		return nil, err
	}

	orderBy, sortPushable, err := orderClause(q.Sort)
	if err != nil {
		return nil, err
	}
	if !sortPushable || len(q.Group) > 0 || len(q.Aggregate) > 0 {
		filtered, err := c.selectDocs(ctx, b.db, where, args, 0, 0)
		if err != nil {
			return nil, err
		}
		q.Filter = nil
		return transport.ServerPayload(filtered, q)
	}

	total, err := c.count(ctx, b.db, where, args)
	if err != nil {
		return nil, err
	}
	skip, take := query.Window(q)
	data, err := c.selectDocs(ctx, b.db, where, args, skip, take, orderBy...)
	if err != nil {
		return nil, err
	}
	return map[string]any{"data": data, "total": total}, nil
}

func (c *Collection) count(ctx context.Context, db *sql.DB, where string, args []any) (int, error) {
	stmt := `SELECT COUNT(*) FROM documents WHERE collection = ?`
	if where != "" {
		stmt += " AND (" + where + ")"
	}
	var n int
	if err := db.QueryRowContext(ctx, stmt, append([]any{c.name}, args...)...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", c.name, err)
	}
	return n, nil
}

func (c *Collection) selectDocs(ctx context.Context, db *sql.DB, where string, args []any, skip, take int, orderBy ...string) ([]any, error) {
	stmt := `SELECT doc FROM documents WHERE collection = ?`
	if where != "" {
		stmt += " AND (" + where + ")"
	}
	stmt += " ORDER BY "
	for _, o := range orderBy {
		stmt += o + ", "
	}
	stmt += "seq"
	all := append([]any{c.name}, args...)
	if take > 0 {
		stmt += " LIMIT ? OFFSET ?"
		all = append(all, take, skip)
	} else if skip > 0 {
		stmt += " LIMIT -1 OFFSET ?"
		all = append(all, skip)
	}

	rows, err := db.QueryContext(ctx, stmt, all...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", c.name, err)
	}
	defer rows.Close()

	out := []any{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan %s: %w", c.name, err)
		}
		var doc map[string]any
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", c.name, err)
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// Create inserts documents, assigning UUID v7 ids to those without one.
func (c *Collection) Create(ctx context.Context, req *types.Request) (any, error) {
	return c.write(ctx, types.VerbCreate, func(tx *sql.Tx) (any, error) {
		return c.create(ctx, tx, req.Records)
	})
}

// Update replaces documents by id.
func (c *Collection) Update(ctx context.Context, req *types.Request) (any, error) {
	return c.write(ctx, types.VerbUpdate, func(tx *sql.Tx) (any, error) {
		return c.update(ctx, tx, req.Records)
	})
}

// Destroy deletes documents by id.
func (c *Collection) Destroy(ctx context.Context, req *types.Request) (any, error) {
	return c.write(ctx, types.VerbDestroy, func(tx *sql.Tx) (any, error) {
		return c.destroy(ctx, tx, req.Records)
	})
}

// Submit applies the whole batch in one transaction.
func (c *Collection) Submit(ctx context.Context, batch *types.Batch) (*types.BatchResponse, error) {
	resp := &types.BatchResponse{}
	_, err := c.write(ctx, types.VerbSubmit, func(tx *sql.Tx) (any, error) {
		var err error
		if resp.Created, err = c.create(ctx, tx, batch.Created); err != nil {
			return nil, err
		}
		if resp.Updated, err = c.update(ctx, tx, batch.Updated); err != nil {
			return nil, err
		}
		resp.Destroyed, err = c.destroy(ctx, tx, batch.Destroyed)
		return nil, err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Collection) write(ctx context.Context, verb string, fn func(tx *sql.Tx) (any, error)) (any, error) {
	b := c.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.attached {
		return nil, types.ErrBackendDetached
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", verb, c.name, err)
	}
	defer tx.Rollback()

	out, err := fn(tx)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%s %s: %w", verb, c.name, err)
	}
	if err := b.persist(c.name, verb); err != nil {
		return nil, fmt.Errorf("persist %s: %w", c.name, err)
	}
	return out, nil
}

func (c *Collection) create(ctx context.Context, tx *sql.Tx, records []map[string]any) ([]any, error) {
	out := make([]any, 0, len(records))
	for _, rec := range records {
		doc := value.CloneMap(rec)
		id, encoded, err := identify(doc, c.idField())
		if err != nil {
			return nil, err
		}
		res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO documents (collection, id, seq, doc)
VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM documents WHERE collection = ?), ?)`,
			c.name, id, c.name, encoded)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, fmt.Errorf("create %s: %w", id, types.ErrInvalidID)
		}
		out = append(out, doc)
	}
	return out, nil
}

func (c *Collection) update(ctx context.Context, tx *sql.Tx, records []map[string]any) ([]any, error) {
	out := make([]any, 0, len(records))
	for _, rec := range records {
		id, ok := idKey(rec[c.idField()])
		if !ok {
			return nil, fmt.Errorf("update: %w", types.ErrInvalidID)
		}
		encoded, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("update %s: %w", id, err)
		}
		res, err := tx.ExecContext(ctx, `UPDATE documents SET doc = ? WHERE collection = ? AND id = ?`,
			string(encoded), c.name, id)
		if err != nil {
			return nil, fmt.Errorf("update %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, fmt.Errorf("update %s: %w", id, types.ErrNotFound)
		}
		out = append(out, value.CloneMap(rec))
	}
	return out, nil
}

func (c *Collection) destroy(ctx context.Context, tx *sql.Tx, records []map[string]any) ([]any, error) {
	out := make([]any, 0, len(records))
	for _, rec := range records {
		id, ok := idKey(rec[c.idField()])
		if !ok {
			return nil, fmt.Errorf("destroy: %w", types.ErrInvalidID)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, c.name, id)
		if err != nil {
			return nil, fmt.Errorf("destroy %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, fmt.Errorf("destroy %s: %w", id, types.ErrNotFound)
		}
		out = append(out, value.CloneMap(rec))
	}
	return out, nil
}

// writeCollection rewrites the collection's data file from the database.
// The caller must hold b.mu.
func (b *Backend) writeCollection(collection string) error {
	rows, err := b.db.Query(`SELECT doc FROM documents WHERE collection = ? ORDER BY seq`, collection)
	if err != nil {
		return fmt.Errorf("select %s: %w", collection, err)
	}
	defer rows.Close()

	var records []json.RawMessage
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return fmt.Errorf("scan %s: %w", collection, err)
		}
		records = append(records, json.RawMessage(raw))
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return writeJSONL(collectionPath(b.config.DataDir, collection), records)
}

// identify returns the id key and JSON encoding of doc, assigning a new id
// when doc has none.
func identify(doc map[string]any, idField string) (string, string, error) {
	id, ok := idKey(doc[idField])
	if !ok {
		id = generateUUID()
		doc[idField] = id
	}
	encoded, err := json.Marshal(doc)
	if err != nil {
		return "", "", fmt.Errorf("encode document: %w", err)
	}
	return id, string(encoded), nil
}

// idKey is the canonical text form of an id. Numbers compare by value so 7
// and 7.0 share a key.
func idKey(id any) (string, bool) {
	switch v := id.(type) {
	case nil:
		return "", false
	case string:
		return v, v != ""
	}
	if f, ok := value.Float(id); ok {
		if f == 0 {
			return "", false
		}
		return strconv.FormatFloat(f, 'f', -1, 64), true
	}
	return fmt.Sprint(id), true
}
