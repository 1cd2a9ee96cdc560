package stackz

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/clockz"
)

// Sleep returns a future that completes once d has elapsed on clock.
// The timer starts on the first poll.
func Sleep(clock clockz.Clock, d time.Duration) Future[struct{}] {
	if clock == nil {
		clock = clockz.RealClock
	}
	return &sleepFuture{clock: clock, d: d}
}

//nolint:govet // Field order optimized for readability over memory
type sleepFuture struct {
	clock    clockz.Clock
	d        time.Duration
	slot     wakeSlot
	stop     chan struct{}
	stopOnce sync.Once
	started  bool
	fired    atomic.Bool
}

func (s *sleepFuture) Poll(pc *PollContext) (struct{}, bool) {
	if s.d <= 0 || s.fired.Load() {
		return struct{}{}, true
	}
	s.slot.set(pc.Waker())
	if !s.started {
		s.started = true
		s.stop = make(chan struct{})
		// Register with the clock before returning so fake clocks see the waiter.
		ch := s.clock.After(s.d)
		go s.wait(ch)
	}
	if s.fired.Load() {
		return struct{}{}, true
	}
	return struct{}{}, false
}

func (s *sleepFuture) wait(ch <-chan time.Time) {
	select {
	case <-ch:
		s.fired.Store(true)
		s.slot.wake()
	case <-s.stop:
	}
}

func (s *sleepFuture) Drop(*PollContext) {
	if s.started {
		s.stopOnce.Do(func() { close(s.stop) })
	}
}

// Recv returns a future that completes with the next value received from ch,
// or the zero value once ch is closed.
//
// Values are only taken from ch inside Poll, so dropping a pending Recv
// leaves any unread value in the channel. While pending, a helper goroutine
// wakes the task on a backoff between recvMinBackoff and recvMaxBackoff so
// the next Poll retries the receive.
func Recv[T any](ch <-chan T) Future[T] {
	return &recvFuture[T]{ch: ch}
}

const (
	recvMinBackoff = 50 * time.Microsecond
	recvMaxBackoff = 5 * time.Millisecond
)

//nolint:govet // Field order optimized for readability over memory
type recvFuture[T any] struct {
	ch       <-chan T
	slot     wakeSlot
	stop     chan struct{}
	stopOnce sync.Once
	done     bool
}

func (r *recvFuture[T]) Poll(pc *PollContext) (T, bool) {
	var zero T
	if r.done {
		return zero, false
	}
	select {
	case v := <-r.ch:
		r.done = true
		r.halt()
		return v, true
	default:
	}

	r.slot.set(pc.Waker())
	if r.stop == nil {
		r.stop = make(chan struct{})
		go r.nudge(r.stop)
	}
	return zero, false
}

// nudge wakes the task until stopped. It never reads from ch.
func (r *recvFuture[T]) nudge(stop <-chan struct{}) {
	delay := recvMinBackoff
	timer := time.NewTimer(delay)
	defer timer.Stop()
	for {
		select {
		case <-stop:
			return
		case <-timer.C:
		}
		r.slot.wake()
		if delay < recvMaxBackoff {
			delay = min(delay*2, recvMaxBackoff)
		}
		timer.Reset(delay)
	}
}

func (r *recvFuture[T]) halt() {
	if r.stop != nil {
		r.stopOnce.Do(func() { close(r.stop) })
	}
}

func (r *recvFuture[T]) Drop(*PollContext) {
	r.done = true
	r.halt()
}
