// Package buffer windows a large server-paged Data Source for virtualized
// display. A Buffer turns index access into page-aligned prefetch and range
// requests; a BatchBuffer serves the same data in fixed-size blocks.
package buffer

import (
	"sync"
	"sync/atomic"

	"github.com/golang/glog"

	"github.com/mesh-intelligence/databind/internal/datasource"
	"github.com/mesh-intelligence/databind/internal/observable"
	"github.com/mesh-intelligence/databind/pkg/types"
)

// Events emitted by a Buffer.
const (
	EventEndReached  = "endreached"
	EventPrefetching = "prefetching"
	EventPrefetched  = "prefetched"
	EventReset       = "reset"
	EventResize      = "resize"
	EventExpand      = "expand"
)

// Source is the part of a Data Source a Buffer drives.
type Source interface {
	Bind(name string, h observable.Handler) func()
	Total() int
	PageSize() int
	Skip() int
	ServerPaging() bool
	View() []any
	At(index int) types.Model
	IndexOf(m types.Model) int
	InRange(skip, take int) bool
	Prefetch(skip, take int, done func(error))
	Range(skip, take int, done func(error))
	LastRangeEnd() int
}

var _ Source = (*datasource.DataSource)(nil)

// Options configures a Buffer.
type Options struct {
	ViewSize        int
	DisablePrefetch bool
}

// thresholds are the indexes at which sequential access moves the window.
type thresholds struct {
	prefetch          int
	nextPage          int
	midPage           int
	pullBack          int
	nextMidRange      int
	nextFullRange     int
	previousMidRange  int
	previousFullRange int
}

// Buffer keeps a window of viewSize items over a Data Source and moves it
// as At walks the collection. Reaching a threshold prefetches the next page
// or shifts the window; At never blocks on the transport.
type Buffer struct {
	observable.Emitter

	src      Source
	prefetch bool

	mu          sync.Mutex
	viewSize    int
	pageSize    int
	useRanges   bool
	offset      int
	dataOffset  int
	skip        int
	th          thresholds
	length      int
	prefetching bool
	syncPending bool
	expanding   bool
	unbind      []func()
}

// New creates a Buffer over src and follows its change and reset events
// until Close.
func New(src Source, opts Options) *Buffer {
	b := &Buffer{src: src, prefetch: !opts.DisablePrefetch}
	b.unbind = []func(){
		src.Bind(datasource.EventChange, func(*observable.Event) { b.change() }),
		src.Bind(datasource.EventReset, func(*observable.Event) {
			b.mu.Lock()
			b.syncPending = true
			b.mu.Unlock()
		}),
	}
	b.syncWithSource()
	b.mu.Lock()
	b.length = b.currentLength()
	b.mu.Unlock()
	b.SetViewSize(opts.ViewSize)
	return b
}

// Close stops following the Data Source.
func (b *Buffer) Close() {
	b.mu.Lock()
	unbind := b.unbind
	b.unbind = nil
	b.mu.Unlock()
	for _, fn := range unbind {
		fn()
	}
}

// SetViewSize changes the window size and recomputes the thresholds.
func (b *Buffer) SetViewSize(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.viewSize = max(n, 1)
	b.recalculateLocked()
}

// ViewSize returns the window size.
func (b *Buffer) ViewSize() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.viewSize
}

// Offset returns the index the window starts at.
func (b *Buffer) Offset() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.offset
}

// Length returns how many items are known to be addressable: the end of
// the last cached range under server paging, the view length otherwise.
func (b *Buffer) Length() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.length
}

// Total returns the size of the whole collection.
func (b *Buffer) Total() int { return b.src.Total() }

// At returns the item at absolute index. An index past the end yields
// false and one endreached event. An index whose page is still loading
// yields false; it resolves once the range arrives. Access may prefetch
// the next page or shift the window as a side effect.
func (b *Buffer) At(index int) (any, bool) {
	if index < 0 {
		return nil, false
	}
	if index >= b.src.Total() {
		b.Trigger(EventEndReached, &observable.Event{Index: index})
		return nil, false
	}

	b.mu.Lock()
	if !b.useRanges || b.pageSize <= 0 {
		b.mu.Unlock()
		view := b.src.View()
		if index >= len(view) {
			return nil, false
		}
		return view[index], true
	}
	pageSize := b.pageSize
	outside := index < b.dataOffset || index >= b.dataOffset+pageSize
	b.mu.Unlock()

	present := true
	if outside {
		present = b.Range(index / pageSize * pageSize)
	}

	b.mu.Lock()
	th, offset, skip := b.th, b.offset, b.skip
	b.mu.Unlock()

	if index == th.prefetch {
		b.prefetchNext()
	}
	switch index {
	case th.midPage:
		// The mid-page move only ever advances the window.
		if th.nextMidRange > offset {
			b.rangeTo(th.nextMidRange, true)
		}
	case th.nextPage:
		b.Range(th.nextFullRange)
	case th.pullBack:
		if offset == skip {
			b.Range(th.previousMidRange)
		} else {
			b.Range(th.previousFullRange)
		}
	}
	if !present {
		return nil, false
	}

	b.mu.Lock()
	dataOffset := b.dataOffset
	b.mu.Unlock()
	m := b.src.At(index - dataOffset)
	if m == nil {
		return nil, false
	}
	return m, true
}

// IndexOf returns the absolute index of m, or -1.
func (b *Buffer) IndexOf(m types.Model) int {
	i := b.src.IndexOf(m)
	if i < 0 {
		return -1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return i + b.dataOffset
}

// Next moves the window forward by one view.
func (b *Buffer) Next() {
	b.mu.Lock()
	pageSize := b.pageSize
	if pageSize <= 0 {
		b.mu.Unlock()
		return
	}
	offset := max(b.skip-b.viewSize+pageSize, 0)
	pageSkip := offset / pageSize * pageSize
	b.offset = offset
	b.mu.Unlock()

	b.src.Prefetch(pageSkip, pageSize, func(err error) {
		if err != nil {
			glog.Warningf("buffer next %d: %v", offset, err)
			return
		}
		b.mu.Lock()
		b.recalculateLocked()
		b.mu.Unlock()
		b.goToRange(offset, true)
	})
}

// Range moves the window to start at offset. It reports whether the data
// is available now; otherwise the window moves once the page arrives.
func (b *Buffer) Range(offset int) bool {
	return b.rangeTo(offset, false)
}

func (b *Buffer) rangeTo(offset int, nextRange bool) bool {
	offset = max(offset, 0)
	b.mu.Lock()
	if b.offset == offset {
		b.mu.Unlock()
		return true
	}
	pageSize := b.pageSize
	if pageSize <= 0 {
		b.mu.Unlock()
		return true
	}
	pageSkip := offset / pageSize * pageSize
	if nextRange {
		pageSkip += pageSize
	}
	b.mu.Unlock()

	move := func(expanding bool) {
		b.mu.Lock()
		b.offset = offset
		b.recalculateLocked()
		b.mu.Unlock()
		b.goToRange(offset, expanding)
	}
	if b.src.InRange(offset, pageSize) {
		move(false)
		return true
	}
	if !b.prefetch || pageSkip >= b.src.Total() {
		return true
	}
	var completed atomic.Bool
	b.src.Prefetch(pageSkip, pageSize, func(err error) {
		if err != nil {
			glog.Warningf("buffer range %d: %v", offset, err)
			return
		}
		move(true)
		completed.Store(true)
	})
	return completed.Load()
}

// SyncDataSource re-applies the current window to the Data Source, for
// instance after the Data Source was read again.
func (b *Buffer) SyncDataSource() {
	b.mu.Lock()
	offset := b.offset
	b.offset = -1
	b.mu.Unlock()
	b.Range(offset)
}

func (b *Buffer) prefetchNext() {
	b.mu.Lock()
	pageSize := b.pageSize
	skip := b.skip + pageSize
	if b.prefetching || !b.prefetch {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()
	if skip >= b.src.Total() || b.src.InRange(skip, pageSize) {
		return
	}

	b.mu.Lock()
	if b.prefetching {
		b.mu.Unlock()
		return
	}
	b.prefetching = true
	b.mu.Unlock()

	b.Trigger(EventPrefetching, &observable.Event{Skip: skip, Take: pageSize})
	b.src.Prefetch(skip, pageSize, func(err error) {
		b.mu.Lock()
		b.prefetching = false
		b.mu.Unlock()
		if err != nil {
			glog.Warningf("buffer prefetch %d+%d: %v", skip, pageSize, err)
			return
		}
		b.Trigger(EventPrefetched, &observable.Event{Skip: skip, Take: pageSize})
	})
}

// goToRange points the Data Source at the window, unless the window has
// moved on since the request was made.
func (b *Buffer) goToRange(offset int, expanding bool) {
	b.mu.Lock()
	if b.offset != offset {
		b.mu.Unlock()
		return
	}
	b.dataOffset = offset
	b.expanding = expanding
	pageSize := b.pageSize
	b.mu.Unlock()
	b.src.Range(offset, pageSize, nil)
}

func (b *Buffer) change() {
	length := b.currentLength()

	b.mu.Lock()
	b.length = length
	reset := b.syncPending
	b.syncPending = false
	b.mu.Unlock()

	if reset {
		b.syncWithSource()
		b.mu.Lock()
		b.recalculateLocked()
		offset := b.offset
		b.mu.Unlock()
		b.Trigger(EventReset, &observable.Event{Index: offset})
	}

	b.mu.Lock()
	expanding := b.expanding
	b.expanding = false
	b.mu.Unlock()

	b.Trigger(EventResize, &observable.Event{Value: length})
	if expanding {
		b.Trigger(EventExpand, &observable.Event{})
	}
}

func (b *Buffer) currentLength() int {
	if b.src.ServerPaging() {
		return b.src.LastRangeEnd()
	}
	return len(b.src.View())
}

func (b *Buffer) syncWithSource() {
	skip, pageSize, paging := b.src.Skip(), b.src.PageSize(), b.src.ServerPaging()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.offset, b.dataOffset = skip, skip
	b.pageSize = pageSize
	b.useRanges = paging
}

func (b *Buffer) recalculateLocked() {
	pageSize, offset, viewSize := b.pageSize, b.offset, b.viewSize
	if pageSize <= 0 {
		return
	}
	skip := (offset + pageSize - 1) / pageSize * pageSize
	b.skip = skip
	b.th = thresholds{
		prefetch:          skip + pageSize*2/3,
		nextPage:          skip + viewSize - 1,
		midPage:           skip + pageSize - 1,
		pullBack:          offset - 1,
		nextMidRange:      skip + pageSize - viewSize,
		nextFullRange:     skip,
		previousMidRange:  offset - viewSize,
		previousFullRange: skip - pageSize,
	}
}
