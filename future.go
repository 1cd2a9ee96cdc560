package stackz

import (
	"context"
	"sync"
)

// Future is a unit of work driven by repeated calls to Poll.
// Poll returns true once the value is available; after that the future must
// not be polled again unless it documents otherwise.
// A pending Poll must arrange for pc.Waker() to be woken when progress is possible.
type Future[T any] interface {
	Poll(pc *PollContext) (T, bool)
}

// Dropper is implemented by futures that must release resources when they are
// abandoned before completion.
type Dropper interface {
	Drop(pc *PollContext)
}

// Drop releases f if it implements Dropper.
// Combinators call Drop on children they stop polling.
func Drop(pc *PollContext, f any) {
	if d, ok := f.(Dropper); ok {
		d.Drop(pc)
	}
}

// Waker signals the executor that a pending future can make progress.
// Wake may be called from any goroutine, any number of times.
type Waker interface {
	Wake()
}

// PollContext is handed to every Poll call.
// It carries the caller's context.Context, the waker of the executing task,
// and the ambient TraceContext when the poll happens inside a trace scope.
type PollContext struct {
	ctx   context.Context
	waker Waker
	trace *TraceContext
}

// NewPollContext creates a poll context for a custom executor.
func NewPollContext(ctx context.Context, waker Waker) *PollContext {
	if ctx == nil {
		ctx = context.Background()
	}
	if waker == nil {
		waker = noopWaker{}
	}
	return &PollContext{ctx: ctx, waker: waker}
}

// Context returns the context.Context of the executing task.
func (pc *PollContext) Context() context.Context {
	return pc.ctx
}

// Waker returns the waker of the executing task.
func (pc *PollContext) Waker() Waker {
	return pc.waker
}

// scoped returns a copy of pc with tc as its ambient trace context.
func (pc *PollContext) scoped(tc *TraceContext) *PollContext {
	return &PollContext{ctx: pc.ctx, waker: pc.waker, trace: tc}
}

// ContextOf returns the ambient TraceContext of pc, if any.
func ContextOf(pc *PollContext) (*TraceContext, bool) {
	if pc == nil || pc.trace == nil {
		return nil, false
	}
	return pc.trace, true
}

type noopWaker struct{}

func (noopWaker) Wake() {}

// wakeSlot remembers the latest waker so background goroutines can wake
// whichever task polled last.
type wakeSlot struct {
	waker Waker
	mu    sync.Mutex
}

func (s *wakeSlot) set(w Waker) {
	s.mu.Lock()
	s.waker = w
	s.mu.Unlock()
}

func (s *wakeSlot) wake() {
	s.mu.Lock()
	w := s.waker
	s.mu.Unlock()
	if w != nil {
		w.Wake()
	}
}
