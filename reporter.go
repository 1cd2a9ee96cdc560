package stackz

import (
	"time"

	"github.com/chainguard-dev/clog"
)

// reporter publishes a report of the ambient trace context immediately and
// then once per interval. It never completes: when the receiver is gone it
// parks without registering a waker.
//
//nolint:govet // Field order optimized for readability over memory
type reporter struct {
	tracer   *Tracer
	tx       *Sender
	tick     Future[struct{}]
	interval time.Duration
	parked   bool
}

func (r *reporter) Poll(pc *PollContext) (struct{}, bool) {
	if r.parked {
		return struct{}{}, false
	}
	tc, ok := ContextOf(pc)
	if !ok {
		panic("stackz: reporter polled outside its trace scope")
	}

	for {
		if r.tick == nil {
			report := tc.Report()
			if err := r.tx.Send(report); err != nil {
				clog.FromContext(pc.Context()).Error("Trace report error: failed to send trace",
					"error", err, "root", report.Root, "context", report.Context)
				r.tracer.metrics.publishFailed()
				r.parked = true
				return struct{}{}, false
			}
			r.tracer.metrics.published()
			r.tracer.executeHandlers(report)
			r.tick = Sleep(r.tracer.clock, r.interval)
		}
		if _, ok := r.tick.Poll(pc); !ok {
			return struct{}{}, false
		}
		r.tick = nil
	}
}

func (r *reporter) Drop(pc *PollContext) {
	if r.tick != nil {
		Drop(pc, r.tick)
		r.tick = nil
	}
}

// Scope runs f inside a fresh trace context rooted at root.
//
// The context is bound to every poll of f, so spans created with WithSpan
// anywhere below f join its tree. When tx is not nil a reporter publishes the
// rendered tree into tx right away and then every interval, concurrently
// with f. Once f completes the reporter stops and tx is closed; the scope
// resolves to the output of f.
//
// Dropping the scope before completion drops f inside the context, so its
// spans are cleaned up the same way as on cancellation.
func Scope[T any](t *Tracer, f Future[T], root Label, tx *Sender, interval time.Duration) Future[T] {
	if t == nil {
		t = defaultTracer
	}
	s := &scopeFuture[T]{
		tracer: t,
		inner:  f,
		root:   root,
		tx:     tx,
	}
	if tx != nil {
		if interval <= 0 {
			panic("stackz: report interval must be positive")
		}
		s.reporter = &reporter{tracer: t, tx: tx, interval: interval}
	}
	return s
}

// RunTraced is Scope with the default tracer.
func RunTraced[T any](f Future[T], root Label, tx *Sender, interval time.Duration) Future[T] {
	return Scope(defaultTracer, f, root, tx, interval)
}

//nolint:govet // Field order optimized for readability over memory
type scopeFuture[T any] struct {
	tracer   *Tracer
	inner    Future[T]
	reporter *reporter
	tx       *Sender
	tc       *TraceContext
	root     Label
	done     bool
}

func (s *scopeFuture[T]) Poll(pc *PollContext) (T, bool) {
	var zero T
	if s.done {
		return zero, false
	}
	if s.tc == nil {
		s.tc = s.tracer.NewContext(s.root)
	}
	scoped := pc.scoped(s.tc)

	if out, ok := s.inner.Poll(scoped); ok {
		s.finish(scoped)
		return out, true
	}
	if s.reporter != nil {
		s.reporter.Poll(scoped)
	}
	return zero, false
}

func (s *scopeFuture[T]) finish(scoped *PollContext) {
	s.done = true
	if s.reporter != nil {
		s.reporter.Drop(scoped)
	}
	if s.tx != nil {
		s.tx.Close()
	}
	s.tc.close()
}

func (s *scopeFuture[T]) Drop(pc *PollContext) {
	if s.done {
		return
	}
	if s.tc == nil {
		s.done = true
		Drop(pc, s.inner)
		if s.tx != nil {
			s.tx.Close()
		}
		return
	}
	scoped := pc.scoped(s.tc)
	Drop(scoped, s.inner)
	s.finish(scoped)
}
