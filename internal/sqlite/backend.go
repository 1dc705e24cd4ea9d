// Package sqlite implements a document store on SQLite with JSONL files as
// the source of truth. Each collection is a Transport with query pushdown.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/databind/pkg/types"
)

// DatabaseFile is the SQLite file created in DataDir. It is rebuilt from the
// JSONL files on every Attach.
const DatabaseFile = "databind.db"

var collectionName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

func validCollection(name string) bool {
	return collectionName.MatchString(name)
}

// Backend owns the SQLite connection and the collections stored in it.
type Backend struct {
	mu          sync.RWMutex
	attached    bool
	config      types.Config
	db          *sql.DB
	collections map[string]*Collection

	syncStrategy  string
	batchSize     int
	batchInterval time.Duration
	pendingWrites []pendingWrite
	batchTimer    *time.Timer
	batchMu       sync.Mutex
}

// pendingWrite is a deferred JSONL write used by the on_close and batch
// sync strategies.
type pendingWrite struct {
	collection string
	operation  string
	persist    func() error
}

// NewBackend creates a detached backend; call Attach to initialize.
func NewBackend() *Backend {
	return &Backend{
		collections: make(map[string]*Collection),
	}
}

// Attach opens the database in config.DataDir and loads every collection
// file found there. The collection named by config.Collection is created
// when missing.
func (b *Backend) Attach(config types.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return types.ErrAlreadyAttached
	}
	if err := config.Validate(); err != nil {
		return err
	}

	dataDir := config.DataDir
	if dataDir == "" {
		dataDir = "."
	}
	config.DataDir = dataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	dbPath := filepath.Join(dataDir, DatabaseFile)
	_ = os.Remove(dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return err
	}
	// One connection serializes writers and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	for _, ddl := range schemaDDL {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return fmt.Errorf("create schema: %w", err)
		}
	}

	if config.Collection != "" {
		if !validCollection(config.Collection) {
			db.Close()
			return fmt.Errorf("collection %q: %w", config.Collection, types.ErrInvalidCollection)
		}
		if err := initJSONLFile(dataDir, config.Collection); err != nil {
			db.Close()
			return err
		}
	}

	names, err := loadAllJSONL(db, dataDir, config.IDFieldOrDefault())
	if err != nil {
		db.Close()
		return fmt.Errorf("load JSONL: %w", err)
	}

	b.db = db
	b.config = config
	b.syncStrategy = config.SQLite.GetSyncStrategy()
	b.batchSize = config.SQLite.GetBatchSize()
	b.batchInterval = time.Duration(config.SQLite.GetBatchInterval()) * time.Second
	b.pendingWrites = nil
	b.attached = true

	for _, name := range names {
		b.collections[name] = newCollection(b, name)
	}
	glog.V(1).Infof("sqlite attached %s with %d collections", dataDir, len(names))

	if b.syncStrategy == types.SyncBatch && b.batchInterval > 0 {
		b.startBatchTimer()
	}
	return nil
}

// Detach flushes pending writes and closes the database. After Detach every
// collection returns ErrBackendDetached. Detach is idempotent.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}

	b.stopBatchTimer()

	if err := b.flushPendingWritesLocked(); err != nil {
		return fmt.Errorf("flush pending writes: %w", err)
	}

	if b.db != nil {
		if err := b.db.Close(); err != nil {
			return err
		}
		b.db = nil
	}

	b.attached = false
	b.collections = make(map[string]*Collection)
	return nil
}

// Collection returns the named collection, creating it when missing.
func (b *Backend) Collection(name string) (*Collection, error) {
	if !validCollection(name) {
		return nil, fmt.Errorf("collection %q: %w", name, types.ErrInvalidCollection)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.attached {
		return nil, types.ErrBackendDetached
	}
	if c, ok := b.collections[name]; ok {
		return c, nil
	}
	c := newCollection(b, name)
	b.collections[name] = c
	return c, nil
}

// Collections returns the known collection names in order.
func (b *Backend) Collections() ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.attached {
		return nil, types.ErrBackendDetached
	}
	names := make([]string, 0, len(b.collections))
	for name := range b.collections {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

// Flush writes pending JSONL changes now.
func (b *Backend) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.attached {
		return types.ErrBackendDetached
	}
	return b.flushPendingWritesLocked()
}

// generateUUID returns a new UUID v7 for document ids.
func generateUUID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

func (b *Backend) shouldPersistImmediately() bool {
	return b.syncStrategy == types.SyncImmediate || b.syncStrategy == ""
}

// persist writes collection to its data file now or queues the write,
// depending on the sync strategy. The caller must hold b.mu.
func (b *Backend) persist(collection, operation string) error {
	write := func() error { return b.writeCollection(collection) }
	if b.shouldPersistImmediately() {
		return write()
	}
	b.queueWrite(collection, operation, write)
	return nil
}

// queueWrite adds a write to the pending queue. With the batch strategy the
// queue is flushed once it reaches the batch size. The caller must hold b.mu.
func (b *Backend) queueWrite(collection, operation string, persist func() error) {
	b.batchMu.Lock()
	defer b.batchMu.Unlock()

	b.pendingWrites = append(b.pendingWrites, pendingWrite{
		collection: collection,
		operation:  operation,
		persist:    persist,
	})

	if b.syncStrategy == types.SyncBatch && b.batchSize > 0 && len(b.pendingWrites) >= b.batchSize {
		if err := b.flushPendingWritesBatchLocked(); err != nil {
			glog.Warningf("sqlite batch flush: %v", err)
		}
	}
}

// flushPendingWritesLocked flushes all pending writes. The caller must hold
// b.mu.
func (b *Backend) flushPendingWritesLocked() error {
	b.batchMu.Lock()
	defer b.batchMu.Unlock()
	return b.flushPendingWritesBatchLocked()
}

// flushPendingWritesBatchLocked runs the queued writes, collapsing repeated
// writes of the same collection. The caller must hold b.batchMu.
func (b *Backend) flushPendingWritesBatchLocked() error {
	if len(b.pendingWrites) == 0 {
		return nil
	}

	done := make(map[string]bool)
	for i := len(b.pendingWrites) - 1; i >= 0; i-- {
		pw := b.pendingWrites[i]
		if done[pw.collection] {
			continue
		}
		if err := pw.persist(); err != nil {
			return fmt.Errorf("flush %s %s: %w", pw.collection, pw.operation, err)
		}
		done[pw.collection] = true
	}
	b.pendingWrites = nil
	return nil
}

// pendingCount returns the number of queued writes.
func (b *Backend) pendingCount() int {
	b.batchMu.Lock()
	defer b.batchMu.Unlock()
	return len(b.pendingWrites)
}

func (b *Backend) startBatchTimer() {
	b.batchMu.Lock()
	defer b.batchMu.Unlock()

	if b.batchTimer != nil {
		return
	}

	b.batchTimer = time.AfterFunc(b.batchInterval, func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if !b.attached {
			return
		}
		if err := b.flushPendingWritesLocked(); err != nil {
			glog.Warningf("sqlite interval flush: %v", err)
		}

		b.batchMu.Lock()
		if b.batchTimer != nil && b.attached {
			b.batchTimer.Reset(b.batchInterval)
		}
		b.batchMu.Unlock()
	})
}

func (b *Backend) stopBatchTimer() {
	b.batchMu.Lock()
	defer b.batchMu.Unlock()

	if b.batchTimer != nil {
		b.batchTimer.Stop()
		b.batchTimer = nil
	}
}
