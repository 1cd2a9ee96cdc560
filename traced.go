package stackz

import (
	"fmt"

	"github.com/chainguard-dev/clog"
)

type tracedState int

const (
	// stateInitial: not yet polled inside a trace context.
	stateInitial tracedState = iota
	// statePolled: holds node in the context it was first polled in.
	statePolled
	// stateAbandoned: seen under a different or no context; no longer traced,
	// but node is still reclaimed if dropped back in its own context.
	stateAbandoned
	// stateReady: completed and fused.
	stateReady
)

// TracedFuture keeps a span for its inner future in the ambient trace tree
// while the inner future is alive. Create one with WithSpan.
type TracedFuture[T any] struct {
	inner   Future[T]
	metrics *Metrics
	label   Label
	node    NodeID
	context ContextID
	state   tracedState
}

// WithSpan wraps f so that, when polled inside a trace scope, it appears in the
// span tree under whichever span is polling it.
func WithSpan[T any](f Future[T], label Label) *TracedFuture[T] {
	return &TracedFuture[T]{inner: f, label: label}
}

// Label returns the span label.
func (f *TracedFuture[T]) Label() Label {
	return f.label
}

// Poll polls the inner future, keeping the cursor of the ambient trace
// context in step with it.
func (f *TracedFuture[T]) Poll(pc *PollContext) (T, bool) {
	tc, inScope := ContextOf(pc)

	switch f.state {
	case stateInitial:
		if !inScope {
			// Outside any scope: poll untraced and try again next time.
			return f.inner.Poll(pc)
		}
		f.node = tc.Push(f.label)
		f.context = tc.ID()
		f.metrics = tc.tracer.metrics
		f.state = statePolled

	case statePolled:
		if !inScope {
			clog.FromContext(pc.Context()).Warn("stack traced future is not polled in a traced context, while it was when first polled, won't be traced now",
				"span", f.label, "context", f.context)
			f.metrics.mismatch("poll")
			f.state = stateAbandoned
			return f.inner.Poll(pc)
		}
		if tc.ID() != f.context {
			clog.FromContext(pc.Context()).Warn("stack traced future is polled in a different context as it was first polled, won't be traced now",
				"span", f.label, "context", f.context, "current_context", tc.ID())
			tc.tracer.metrics.mismatch("poll")
			f.state = stateAbandoned
			return f.inner.Poll(pc)
		}
		tc.StepIn(f.node)

	case stateAbandoned:
		return f.inner.Poll(pc)

	case stateReady:
		var zero T
		return zero, false
	}

	// The cursor is restored to the caller's node after this poll.
	caller, _ := tc.arena.Parent(f.node)
	if tc.Current() != f.node {
		panic(fmt.Sprintf("stackz: cursor is %s, expected span %q at %s", tc.Current(), f.label, f.node))
	}

	out, ready := f.inner.Poll(pc)

	if ready {
		if tc.Current() != f.node {
			panic(fmt.Sprintf("stackz: span %q completed while cursor is at %s", f.label, tc.Current()))
		}
		tc.Pop()
		f.state = stateReady
	} else {
		tc.StepOut()
	}

	if tc.Current() != caller {
		panic(fmt.Sprintf("stackz: span %q left the cursor at %s instead of %s", f.label, tc.Current(), caller))
	}
	return out, ready
}

// Drop removes the span from the tree when dropped in the context it was
// first polled in, detaching any children. Elsewhere the span cannot be
// reached and stays in its tree until that context closes.
func (f *TracedFuture[T]) Drop(pc *PollContext) {
	switch f.state {
	case statePolled, stateAbandoned:
		tc, inScope := ContextOf(pc)
		switch {
		case !inScope:
			clog.FromContext(pc.Context()).Warn("stack traced future is not in a traced context, while it was when first polled, cannot clean up!",
				"span", f.label, "context", f.context)
			f.metrics.mismatch("drop")
		case tc.ID() != f.context:
			clog.FromContext(pc.Context()).Warn("stack traced future is dropped in a different context as it was first polled, cannot clean up!",
				"span", f.label, "context", f.context, "current_context", tc.ID())
			tc.tracer.metrics.mismatch("drop")
		default:
			tc.RemoveAndDetach(f.node)
		}
		f.state = stateReady
		Drop(pc, f.inner)

	case stateInitial:
		f.state = stateReady
		Drop(pc, f.inner)

	case stateReady:
	}
}
