// Package buffer implements the bounded SPSC queue of meta.DtItem that
// decouples an extractor from the pipeline loop consuming it (spec.md
// §6): the extractor pushes, blocking briefly when full rather than
// dropping data or growing unbounded; the pipeline drains in batches.
package buffer

import (
	"context"
	"time"
)

// Buffer is a bounded, single-producer single-consumer channel-backed
// queue. Grounded on ape-dts's dt-pipeline's Arc<ConcurrentQueue<DtItem>>
// used between BaseExtractor and BasePipeline; Go's buffered channel is
// the idiomatic equivalent the teacher's own canal-based pipeline doesn't
// need (it calls sinks directly from the binlog callback) but which the
// spec's decoupled extractor/pipeline design requires.
type Buffer[T any] struct {
	ch chan T
}

func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{ch: make(chan T, capacity)}
}

// Push enqueues an item, blocking until there's room or ctx is canceled.
// When the channel is full it retries on a short ticker rather than
// blocking indefinitely and ignoring context cancellation — mirrors the
// Rust queue's push_back/yield_now spin under backpressure (spec.md §6:
// "push blocks/yields ~1ms when full").
func (b *Buffer[T]) Push(ctx context.Context, item T) error {
	select {
	case b.ch <- item:
		return nil
	default:
	}
	t := time.NewTicker(time.Millisecond)
	defer t.Stop()
	for {
		select {
		case b.ch <- item:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Pop dequeues the next item, blocking until one is available or ctx is
// canceled.
func (b *Buffer[T]) Pop(ctx context.Context) (item T, ok bool) {
	select {
	case item, ok = <-b.ch:
		return item, ok
	case <-ctx.Done():
		var zero T
		return zero, false
	}
}

// DrainAvailable pops everything currently buffered without blocking, up
// to max items — the pipeline's batch-accumulation read.
func (b *Buffer[T]) DrainAvailable(max int) []T {
	out := make([]T, 0, max)
	for len(out) < max {
		select {
		case item := <-b.ch:
			out = append(out, item)
		default:
			return out
		}
	}
	return out
}

func (b *Buffer[T]) Len() int { return len(b.ch) }

func (b *Buffer[T]) Close() { close(b.ch) }
