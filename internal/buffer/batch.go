package buffer

import (
	"sync"

	"github.com/mesh-intelligence/databind/internal/observable"
)

// BatchBuffer serves a Buffer in blocks of batchSize records. Batch i
// covers records [i*batchSize, (i+1)*batchSize).
type BatchBuffer struct {
	observable.Emitter

	buf       *Buffer
	batchSize int

	mu     sync.Mutex
	total  int
	unbind []func()
}

// NewBatch creates a BatchBuffer over src. The underlying Buffer holds
// three batches.
func NewBatch(src Source, batchSize int) *BatchBuffer {
	batchSize = max(batchSize, 1)
	bb := &BatchBuffer{batchSize: batchSize}
	bb.buf = New(src, Options{ViewSize: batchSize * 3})
	bb.total = bb.batches(bb.buf.Length())

	forward := func(name string) func() {
		return bb.buf.Bind(name, func(e *observable.Event) {
			bb.Trigger(name, &observable.Event{Index: e.Index, Skip: e.Skip, Take: e.Take})
		})
	}
	bb.unbind = []func(){
		forward(EventEndReached),
		forward(EventPrefetching),
		forward(EventPrefetched),
		bb.buf.Bind(EventReset, func(*observable.Event) {
			bb.mu.Lock()
			bb.total = 0
			bb.mu.Unlock()
			bb.Trigger(EventReset, &observable.Event{})
		}),
		bb.buf.Bind(EventResize, func(*observable.Event) {
			total := bb.batches(bb.buf.Length())
			bb.mu.Lock()
			bb.total = total
			bb.mu.Unlock()
			bb.Trigger(EventResize, &observable.Event{Value: total, Index: bb.buf.Offset()})
		}),
	}
	return bb
}

func (bb *BatchBuffer) batches(length int) int {
	return (length + bb.batchSize - 1) / bb.batchSize
}

// Buffer returns the underlying Buffer.
func (bb *BatchBuffer) Buffer() *Buffer { return bb.buf }

// BatchSize returns the number of records per batch.
func (bb *BatchBuffer) BatchSize() int { return bb.batchSize }

// Total returns the number of batches currently addressable. It is
// recomputed every time the Buffer resizes.
func (bb *BatchBuffer) Total() int {
	bb.mu.Lock()
	defer bb.mu.Unlock()
	return bb.total
}

// At returns batch index. The batch is short when it runs past the end of
// the data or into a page that is still loading.
func (bb *BatchBuffer) At(index int) []any {
	skip := index * bb.batchSize
	if offset := bb.buf.Offset(); offset > skip {
		bb.buf.At(offset - 1)
	}
	view := make([]any, 0, bb.batchSize)
	for i := range bb.batchSize {
		item, ok := bb.buf.At(skip + i)
		if !ok {
			break
		}
		view = append(view, item)
	}
	return view
}

// SyncDataSource re-applies the current window to the Data Source.
func (bb *BatchBuffer) SyncDataSource() { bb.buf.SyncDataSource() }

// Close detaches the BatchBuffer and its Buffer from the Data Source.
func (bb *BatchBuffer) Close() {
	bb.mu.Lock()
	unbind := bb.unbind
	bb.unbind = nil
	bb.mu.Unlock()
	for _, fn := range unbind {
		fn()
	}
	bb.buf.Close()
}
