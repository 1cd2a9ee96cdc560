// Package stackz provides an asynchronous span-tracking stack tracer.
//
// stackz attaches a lazily updated call tree to cooperatively polled work and
// periodically publishes a rendered report of that tree. It answers the question
// "where is this task stuck right now?" without the cost of a full tracing stack.
//
// Core Components:.
//   - Future: a poll-based unit of work, driven by BlockOn or Spawn.
//   - TraceContext: the span tree and cursor for one traced scope.
//   - TracedFuture: a future decorator that keeps its span in the tree.
//   - Reporter: renders the tree on an interval into a single-slot channel.
//   - Manager: a registry of report channels keyed by task.
//
// Basic Usage:.
//
//	tx, rx := stackz.NewChannel()
//
//	work := stackz.Join(
//		stackz.WithSpan(stackz.Sleep(clock, time.Second), "sleep 1s"),
//		stackz.WithSpan(fetch(), "fetch"),
//	)
//
//	// Run work inside a trace scope, reporting every 100ms.
//	out, err := stackz.BlockOn(ctx, stackz.RunTraced(work, "actor 1", tx, 100*time.Millisecond))
//
//	fmt.Println(rx.Borrow())
//
// Ambient Context:.
//
// The TraceContext is bound to the PollContext handed to every Poll call inside
// the scope. There is no global state: futures polled outside a scope are not
// traced, and each scope owns its tree exclusively.
//
// Thread Safety:.
//
// A TraceContext is only touched by the goroutine polling its scope and is NOT
// safe for concurrent use. Sender, Receiver, Manager, Collector and Tracer are
// safe for concurrent use by multiple goroutines.
//
// Failure Modes:.
//
// Broken tree invariants (popping a node with children, popping the root,
// registering a duplicate key) panic. Context mismatches degrade to untraced
// polling with a warning logged through clog. A closed report receiver parks the
// reporter forever without failing the traced work.
package stackz

// Label is the display name of a span.
type Label = string
