package batch

import (
	"context"
	"errors"
	"sync"
	"time"

	"meshpad/pkg/optimize"
)

// ErrStopped is returned by Add after the batcher has been stopped.
var ErrStopped = errors.New("batcher stopped")

// Operation represents a single operation to be batched
type Operation interface {
	Execute(ctx context.Context) error
}

// Processor processes a batch of operations. The batch slice is
// recycled after ProcessBatch returns and must not be retained.
type Processor interface {
	ProcessBatch(ctx context.Context, operations []Operation) error
}

// Batcher coalesces operations and hands them to the processor in batches,
// either when the batch fills or on the flush interval.
type Batcher struct {
	batchSize     int
	batchInterval time.Duration
	mu            sync.Mutex
	pending       []Operation
	stopped       bool
	flushChan     chan struct{}
	stopChan      chan struct{}
	processor     Processor
	scratch       *optimize.SlicePool[Operation]
}

// NewBatcher creates a new batcher
func NewBatcher(batchSize int, batchInterval time.Duration, processor Processor) *Batcher {
	b := &Batcher{
		batchSize:     batchSize,
		batchInterval: batchInterval,
		pending:       make([]Operation, 0, batchSize),
		flushChan:     make(chan struct{}, 1),
		stopChan:      make(chan struct{}),
		processor:     processor,
		scratch:       optimize.NewSlicePool[Operation](batchSize),
	}

	go b.run()

	return b
}

// Add adds an operation to the batch
func (b *Batcher) Add(op Operation) error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return ErrStopped
	}
	b.pending = append(b.pending, op)
	shouldFlush := len(b.pending) >= b.batchSize
	b.mu.Unlock()

	if shouldFlush {
		select {
		case b.flushChan <- struct{}{}:
		default:
		}
	}

	return nil
}

// Flush immediately processes all pending operations
func (b *Batcher) Flush(ctx context.Context) error {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return nil
	}

	ops := b.scratch.Get()
	ops = append(ops, b.pending...)
	b.pending = b.pending[:0]
	b.mu.Unlock()

	err := b.processor.ProcessBatch(ctx, ops)
	b.scratch.Put(ops)
	return err
}

// run processes batches periodically
func (b *Batcher) run() {
	ticker := time.NewTicker(b.batchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = b.Flush(context.Background())
		case <-b.flushChan:
			_ = b.Flush(context.Background())
		case <-b.stopChan:
			// Final flush on stop
			_ = b.Flush(context.Background())
			return
		}
	}
}

// Stop stops the batcher and flushes remaining operations
func (b *Batcher) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	b.mu.Unlock()

	close(b.stopChan)
}

// PendingCount returns the number of pending operations
func (b *Batcher) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
