package batch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type noteOp int

func (noteOp) Execute(ctx context.Context) error { return nil }

type captureProcessor struct {
	mu      sync.Mutex
	batches [][]int
}

func (p *captureProcessor) ProcessBatch(ctx context.Context, ops []Operation) error {
	vals := make([]int, 0, len(ops))
	for _, op := range ops {
		vals = append(vals, int(op.(noteOp)))
	}
	p.mu.Lock()
	p.batches = append(p.batches, vals)
	p.mu.Unlock()
	return nil
}

func (p *captureProcessor) batchCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.batches)
}

func waitForBatches(t *testing.T, p *captureProcessor, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p.batchCount() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d batches, got %d", n, p.batchCount())
}

func TestBatcherFlushesWhenFull(t *testing.T) {
	processor := &captureProcessor{}
	b := NewBatcher(3, time.Minute, processor)
	defer b.Stop()

	for i := 1; i <= 3; i++ {
		if err := b.Add(noteOp(i)); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	waitForBatches(t, processor, 1)

	processor.mu.Lock()
	got := processor.batches[0]
	processor.mu.Unlock()
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Errorf("unexpected batch contents: %v", got)
	}
}

func TestBatcherManualFlush(t *testing.T) {
	processor := &captureProcessor{}
	b := NewBatcher(100, time.Minute, processor)
	defer b.Stop()

	b.Add(noteOp(7))
	b.Add(noteOp(8))

	if err := b.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if processor.batchCount() != 1 {
		t.Fatalf("expected 1 batch, got %d", processor.batchCount())
	}

	// A second flush cycle reuses the scratch buffer; contents must
	// still come out intact.
	b.Add(noteOp(9))
	if err := b.Flush(context.Background()); err != nil {
		t.Fatalf("second Flush failed: %v", err)
	}

	processor.mu.Lock()
	first, second := processor.batches[0], processor.batches[1]
	processor.mu.Unlock()
	if len(first) != 2 || first[0] != 7 || first[1] != 8 {
		t.Errorf("unexpected first batch: %v", first)
	}
	if len(second) != 1 || second[0] != 9 {
		t.Errorf("unexpected second batch: %v", second)
	}
}

func TestBatcherFlushesOnStop(t *testing.T) {
	processor := &captureProcessor{}
	b := NewBatcher(100, time.Minute, processor)

	b.Add(noteOp(1))
	b.Stop()

	waitForBatches(t, processor, 1)
}

func TestBatcherRejectsAddAfterStop(t *testing.T) {
	b := NewBatcher(10, time.Minute, &captureProcessor{})
	b.Stop()

	if err := b.Add(noteOp(1)); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped, got %v", err)
	}
}
