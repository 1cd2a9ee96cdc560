// Package scenario builds a traced workload that exercises every way a span
// tree changes shape: joins, nested joins, select cancellation, and streams
// whose in-flight steps survive being raced against each other.
package scenario

import (
	"fmt"
	"time"

	"github.com/zoobzio/clockz"

	"github.com/zoobzio/stackz"
)

// Stream yields items one step at a time. The step in flight belongs to the
// stream, not to the future returned by Next, so dropping that future keeps
// the progress for the following call.
type Stream struct {
	step func(i int) stackz.Future[struct{}]
	cur  stackz.Future[struct{}]
	i    int
	done bool
}

// NewStream creates a stream whose i-th item is produced by step(i).
// A nil step ends the stream.
func NewStream(step func(i int) stackz.Future[struct{}]) *Stream {
	return &Stream{step: step}
}

// Next completes with true for an item or false once the stream has ended.
func (s *Stream) Next() stackz.Future[bool] {
	return stackz.PollFunc(func(pc *stackz.PollContext) (bool, bool) {
		if s.done {
			return false, true
		}
		if s.cur == nil {
			s.cur = s.step(s.i)
			if s.cur == nil {
				s.done = true
				return false, true
			}
		}
		if _, ok := s.cur.Poll(pc); !ok {
			return false, false
		}
		s.cur = nil
		s.i++
		return true, true
	})
}

// Workload builds the traced futures with every sleep measured in units of unit.
type Workload struct {
	clock clockz.Clock
	unit  time.Duration
}

// New creates a workload sleeping on clock. With unit set to a millisecond
// the whole run takes about seven seconds.
func New(clock clockz.Clock, unit time.Duration) *Workload {
	if clock == nil {
		clock = clockz.RealClock
	}
	return &Workload{clock: clock, unit: unit}
}

func (w *Workload) sleep(n int) stackz.Future[struct{}] {
	return stackz.Sleep(w.clock, time.Duration(n)*w.unit)
}

func (w *Workload) traced(n int, label string) stackz.Future[struct{}] {
	return stackz.WithSpan(w.sleep(n), label)
}

func (w *Workload) sleepNested() stackz.Future[struct{}] {
	return stackz.Discard(stackz.Join(
		w.traced(1500, "sleep nested 1500"),
		w.traced(2500, "sleep nested 2500"),
	))
}

func (w *Workload) multiSleep() stackz.Future[struct{}] {
	return stackz.Seq(
		w.sleep(400),
		w.traced(800, "sleep another in multi sleep"),
	)
}

// ticker yields an item every 150 units, forever.
func (w *Workload) ticker() *Stream {
	return NewStream(func(int) stackz.Future[struct{}] {
		return w.sleep(150)
	})
}

// burst yields twice, the second time after a traced nested join.
func (w *Workload) burst() *Stream {
	return NewStream(func(i int) stackz.Future[struct{}] {
		switch i {
		case 0:
			return w.sleep(200)
		case 1:
			return stackz.WithSpan(stackz.Discard(stackz.Join(
				w.traced(400, "sleep nested 400"),
				w.traced(600, "sleep nested 600"),
			)), "sleep nested another in stream 2")
		default:
			return nil
		}
	})
}

// Hello is the full workload. It resolves to the number of nodes left in the
// trace context besides the root once everything has finished, which is zero
// unless cancellation leaked spans.
func (w *Workload) Hello() stackz.Future[int] {
	body := stackz.Seq(
		// Join
		stackz.Discard(stackz.Join[struct{}](
			w.traced(1000, fmt.Sprintf("sleep %d", 1000)),
			w.traced(2000, "sleep 2000"),
			stackz.WithSpan(w.sleepNested(), "sleep nested"),
			stackz.WithSpan(w.multiSleep(), "multi sleep"),
		)),
		// Join another
		stackz.Discard(stackz.Join(
			w.traced(1200, "sleep 1200"),
			w.traced(2200, "sleep 2200"),
		)),
		// Cancel
		stackz.Discard(stackz.Select[struct{}](
			w.traced(666, "sleep 666"),
			stackz.WithSpan(w.sleepNested(), "sleep nested (should be cancelled)"),
		)),
		w.traced(233, "sleep 233"),
		stackz.Lazy(w.race),
		w.traced(233, "sleep 233"),
	)

	return stackz.Then[struct{}, int](stackz.WithSpan(body, "hello"), func(struct{}) stackz.Future[int] {
		return stackz.PollFunc(func(pc *stackz.PollContext) (int, bool) {
			tc, ok := stackz.ContextOf(pc)
			if !ok {
				return 0, true
			}
			return tc.ActiveNodeCount() - 1, true
		})
	})
}

// race selects over two streams until the burst stream ends.
func (w *Workload) race() stackz.Future[struct{}] {
	return &raceFuture{ticker: w.ticker(), burst: w.burst()}
}

type raceFuture struct {
	ticker *Stream
	burst  *Stream
	cur    stackz.Future[stackz.Selected[bool]]
	count  int
}

func (r *raceFuture) Poll(pc *stackz.PollContext) (struct{}, bool) {
	for {
		if r.cur == nil {
			r.cur = stackz.Select[bool](
				stackz.WithSpan(r.ticker.Next(), fmt.Sprintf("stream1 next %d", r.count)),
				stackz.WithSpan(r.burst.Next(), fmt.Sprintf("stream2 next %d", r.count)),
			)
		}
		sel, ok := r.cur.Poll(pc)
		if !ok {
			return struct{}{}, false
		}
		r.cur = nil
		if sel.Index == 1 && !sel.Value {
			return struct{}{}, true
		}
		r.count++
	}
}

func (r *raceFuture) Drop(pc *stackz.PollContext) {
	if r.cur != nil {
		stackz.Drop(pc, r.cur)
		r.cur = nil
	}
}
