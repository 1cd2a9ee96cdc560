package stackz

import (
	"context"
	"sync"
)

// chanWaker wakes a BlockOn loop through a single-slot channel.
type chanWaker struct {
	ch chan struct{}
}

func newChanWaker() *chanWaker {
	return &chanWaker{ch: make(chan struct{}, 1)}
}

func (w *chanWaker) Wake() {
	select {
	case w.ch <- struct{}{}:
	default:
	}
}

// BlockOn drives f to completion on the calling goroutine.
// If ctx is cancelled first, f is dropped and ctx.Err() is returned.
func BlockOn[T any](ctx context.Context, f Future[T]) (T, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	w := newChanWaker()
	pc := &PollContext{ctx: ctx, waker: w}

	for {
		if v, ok := f.Poll(pc); ok {
			return v, nil
		}
		select {
		case <-w.ch:
		case <-ctx.Done():
			Drop(pc, f)
			var zero T
			return zero, ctx.Err()
		}
	}
}

// JoinHandle is the handle of a task started with Spawn.
// It is itself a future completing with the task's output.
//
//nolint:govet // Field order optimized for readability over memory
type JoinHandle[T any] struct {
	cancel context.CancelFunc
	done   chan struct{}
	slot   wakeSlot
	once   sync.Once
	value  T
	err    error
}

// Spawn runs f on a new goroutine.
// The task does not inherit any ambient trace context: spawned work is traced
// only if it opens its own scope.
func Spawn[T any](ctx context.Context, f Future[T]) *JoinHandle[T] {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	h := &JoinHandle[T]{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer cancel()
		h.value, h.err = BlockOn(ctx, f)
		close(h.done)
		h.slot.wake()
	}()
	return h
}

// Poll completes once the task has finished.
func (h *JoinHandle[T]) Poll(pc *PollContext) (T, bool) {
	h.slot.set(pc.Waker())
	select {
	case <-h.done:
		return h.value, true
	default:
		var zero T
		return zero, false
	}
}

// Wait blocks until the task finishes.
func (h *JoinHandle[T]) Wait() (T, error) {
	<-h.done
	return h.value, h.err
}

// Done is closed when the task finishes.
func (h *JoinHandle[T]) Done() <-chan struct{} {
	return h.done
}

// Abort cancels the task. The task's future is dropped on its own goroutine.
func (h *JoinHandle[T]) Abort() {
	h.once.Do(h.cancel)
}
