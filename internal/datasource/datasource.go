// Package datasource implements the Data Source: the orchestrator that reads
// records through a Transport and Reader, keeps them as observable models,
// applies local or delegated query operations, tracks changes and syncs them
// back, and caches server pages as ranges for windowed access.
//
// Every method is safe for concurrent use. Events are delivered on the
// goroutine that caused them, never while internal locks are held.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"sync"

	"github.com/golang/glog"
	"golang.org/x/sync/semaphore"

	"github.com/mesh-intelligence/databind/internal/model"
	"github.com/mesh-intelligence/databind/internal/observable"
	"github.com/mesh-intelligence/databind/internal/query"
	"github.com/mesh-intelligence/databind/internal/reader"
	"github.com/mesh-intelligence/databind/internal/transport"
	"github.com/mesh-intelligence/databind/pkg/types"
)

// Events emitted by a DataSource.
const (
	EventChange       = observable.EventChange
	EventError        = "error"
	EventRequestStart = "requestStart"
	EventRequestEnd   = "requestEnd"
	EventProgress     = "progress"
	EventSync         = "sync"
	EventPush         = "push"
	EventReset        = "reset"
)

// StatusCustomError is the error event status for application errors
// reported inside a successful response.
const StatusCustomError = "customerror"

// Executor runs background work such as prefetches and auto-sync.
type Executor func(fn func())

// Synchronous runs fn on the calling goroutine.
func Synchronous(fn func()) { fn() }

func goroutine(fn func()) { go fn() }

// Options configures a DataSource. With no Transport the Data records are
// served by an in-memory transport.
type Options struct {
	Transport types.Transport
	Data      []map[string]any
	Reader    *reader.Reader
	Model     *model.Definition

	// New builds the model for a record. It defaults to Model.New.
	New func(values map[string]any) types.Model

	// Params are sent with every read.
	Params map[string]any

	Page      int
	PageSize  int
	Sort      []types.SortDescriptor
	Filter    *types.FilterDescriptor
	Group     []types.GroupDescriptor
	Aggregate []types.AggregateDescriptor

	Server   types.ServerOptions
	Batch    bool
	AutoSync bool
	Offline  types.OfflineStorage
	Executor Executor
}

// DataSource is the stateful record collection bound to one transport.
type DataSource struct {
	observable.Emitter

	transport types.Transport
	reader    *reader.Reader
	def       *model.Definition
	newModel  func(values map[string]any) types.Model
	params    map[string]any
	server    types.ServerOptions
	batch     bool
	autoSync  bool
	storage   types.OfflineStorage
	executor  Executor
	wg        sync.WaitGroup
	readSem   *semaphore.Weighted

	mu            sync.Mutex
	data          *observable.Array
	unbindData    func()
	view          []any
	pristine      *pristineSet
	destroyed     []types.Model
	removedAt     map[string]int
	total         int
	pristineTotal int
	aggregates    types.Aggregates
	q             types.QueryOptions
	skip, take    int
	loaded        bool
	online        bool

	ranges   []*rangeEntry
	stamp    uint64
	inflight map[span][]func(error)

	pushing        int
	pushedRemovals map[string]bool
}

// New creates a DataSource. Query descriptors in opts are validated here.
func New(opts Options) (*DataSource, error) {
	def := opts.Model
	if def == nil && opts.Reader != nil {
		def = opts.Reader.Model()
	}
	if def == nil {
		def = model.MustDefine(model.Schema{})
	}
	rd := opts.Reader
	if rd == nil {
		rd = reader.New(reader.Schema{Model: def})
	}
	tr := opts.Transport
	if tr == nil {
		tr = transport.NewMemory(opts.Data, transport.MemoryOptions{IDField: def.IDField()})
	}
	newModel := opts.New
	if newModel == nil {
		newModel = func(values map[string]any) types.Model { return def.New(values) }
	}
	executor := opts.Executor
	if executor == nil {
		executor = goroutine
	}

	q := types.QueryOptions{
		Page:      opts.Page,
		PageSize:  opts.PageSize,
		Sort:      opts.Sort,
		Filter:    opts.Filter,
		Group:     opts.Group,
		Aggregate: opts.Aggregate,
	}
	if err := validate(q); err != nil {
		return nil, err
	}

	ds := &DataSource{
		transport:      tr,
		reader:         rd,
		def:            def,
		newModel:       newModel,
		params:         opts.Params,
		server:         opts.Server,
		batch:          opts.Batch,
		autoSync:       opts.AutoSync,
		storage:        opts.Offline,
		executor:       executor,
		readSem:        semaphore.NewWeighted(1),
		online:         true,
		inflight:       make(map[span][]func(error)),
		pushedRemovals: make(map[string]bool),
		pristine:       newPristineSet(def.IDField()),
		removedAt:      make(map[string]int),
	}
	ds.mu.Lock()
	ds.setQueryLocked(q)
	ds.replaceDataLocked(nil)
	ds.mu.Unlock()
	return ds, nil
}

// validate compiles every descriptor of q so that malformed ones fail at the
// call site.
func validate(q types.QueryOptions) error {
	if _, err := query.CompileFilter(q.Filter); err != nil {
		return err
	}
	if _, err := query.CompileSort(q.Sort); err != nil {
		return err
	}
	for _, g := range q.Group {
		if g.Field == "" {
			return fmt.Errorf("%w: empty field", types.ErrInvalidGroup)
		}
		if err := query.ValidateAggregates(g.Aggregates); err != nil {
			return err
		}
	}
	if _, err := query.CompileSort(query.GroupSorts(q.Group)); err != nil {
		return fmt.Errorf("%w: %w", types.ErrInvalidGroup, err)
	}
	return query.ValidateAggregates(q.Aggregate)
}

func (ds *DataSource) setQueryLocked(q types.QueryOptions) {
	if q.PageSize > 0 && q.Page < 1 {
		q.Page = 1
	}
	ds.q = q
	ds.skip, ds.take = query.Window(q)
}

func (ds *DataSource) run(fn func()) {
	ds.wg.Add(1)
	ds.executor(func() {
		defer ds.wg.Done()
		fn()
	})
}

// Wait blocks until background work started by the DataSource finishes.
func (ds *DataSource) Wait() { ds.wg.Wait() }

// Transport returns the transport the DataSource talks to.
func (ds *DataSource) Transport() types.Transport { return ds.transport }

// Reader returns the reader applied to payloads.
func (ds *DataSource) Reader() *reader.Reader { return ds.reader }

// Model returns the model definition of the records.
func (ds *DataSource) Model() *model.Definition { return ds.def }

// Server returns the delegated operations.
func (ds *DataSource) Server() types.ServerOptions { return ds.server }

// ServerPaging reports whether paging is delegated.
func (ds *DataSource) ServerPaging() bool { return ds.server.Paging }

// Data returns the working set: the resident models in load order.
func (ds *DataSource) Data() *observable.Array {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.data
}

// View returns the processed view: models, or groups of models when grouped.
func (ds *DataSource) View() []any {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return append([]any(nil), ds.view...)
}

// Loaded reports whether a read has completed.
func (ds *DataSource) Loaded() bool {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.loaded
}

// Total returns the record count: the server total under server paging,
// adjusted by unsynced structural changes, otherwise the filtered count.
func (ds *DataSource) Total() int {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.total
}

// TotalPages returns the page count, or 0 without a page size.
func (ds *DataSource) TotalPages() int {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	size := ds.take
	if size <= 0 {
		size = ds.q.PageSize
	}
	if size <= 0 {
		return 0
	}
	return (ds.total + size - 1) / size
}

// Aggregates returns the aggregate results of the current query.
func (ds *DataSource) Aggregates() types.Aggregates {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.aggregates
}

// Skip returns the offset of the current window.
func (ds *DataSource) Skip() int {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.skip
}

// Take returns the size of the current window, 0 when unpaged.
func (ds *DataSource) Take() int {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.take
}

// Page returns the 1-based page of the current window.
func (ds *DataSource) Page() int {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.take <= 0 {
		return 1
	}
	return ds.skip/ds.take + 1
}

// PageSize returns the configured page size.
func (ds *DataSource) PageSize() int {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.q.PageSize
}

// State returns the persisted query state.
func (ds *DataSource) State() types.QueryOptions {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.q
}

// emitError routes a failed operation to the error event. Application errors
// carry StatusCustomError and the reported errors.
func (ds *DataSource) emitError(err error, verb string) {
	e := &observable.Event{Err: err, Status: "error", Type: verb}
	if se, ok := errorAs[*types.SemanticError](err); ok {
		e.Status, e.Errors = StatusCustomError, se.Errors
	} else if te, ok := errorAs[*types.TransportError](err); ok && te.Status != 0 {
		e.Status = strconv.Itoa(te.Status)
	}
	glog.Warningf("datasource %s: %v", verb, err)
	ds.Trigger(EventError, e)
}

func errorAs[T error](err error) (T, bool) {
	var target T
	ok := errors.As(err, &target)
	return target, ok
}

func queryChanged(a, b types.QueryOptions) bool {
	return a.PageSize != b.PageSize ||
		!reflect.DeepEqual(a.Sort, b.Sort) ||
		!reflect.DeepEqual(a.Filter, b.Filter) ||
		!reflect.DeepEqual(a.Group, b.Group) ||
		!reflect.DeepEqual(a.Aggregate, b.Aggregate)
}

// WaitContext is Wait bounded by ctx.
func (ds *DataSource) WaitContext(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		ds.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
