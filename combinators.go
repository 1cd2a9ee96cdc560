package stackz

// Ready returns a future that completes immediately with v.
func Ready[T any](v T) Future[T] {
	return readyFuture[T]{v: v}
}

type readyFuture[T any] struct {
	v T
}

func (f readyFuture[T]) Poll(*PollContext) (T, bool) {
	return f.v, true
}

// Pending returns a future that never completes and never wakes its task.
func Pending[T any]() Future[T] {
	return pendingFuture[T]{}
}

type pendingFuture[T any] struct{}

func (pendingFuture[T]) Poll(*PollContext) (T, bool) {
	var zero T
	return zero, false
}

// PollFunc adapts a poll function to a Future.
func PollFunc[T any](fn func(pc *PollContext) (T, bool)) Future[T] {
	return funcFuture[T](fn)
}

type funcFuture[T any] func(pc *PollContext) (T, bool)

func (f funcFuture[T]) Poll(pc *PollContext) (T, bool) {
	return f(pc)
}

// Lazy defers building a future until it is first polled.
func Lazy[T any](build func() Future[T]) Future[T] {
	return &lazyFuture[T]{build: build}
}

type lazyFuture[T any] struct {
	build func() Future[T]
	f     Future[T]
}

func (l *lazyFuture[T]) Poll(pc *PollContext) (T, bool) {
	if l.f == nil {
		l.f = l.build()
	}
	return l.f.Poll(pc)
}

func (l *lazyFuture[T]) Drop(pc *PollContext) {
	if l.f != nil {
		Drop(pc, l.f)
	}
}

// Map transforms the output of f.
func Map[A, B any](f Future[A], fn func(A) B) Future[B] {
	return &mapFuture[A, B]{f: f, fn: fn}
}

type mapFuture[A, B any] struct {
	f    Future[A]
	fn   func(A) B
	done bool
}

func (m *mapFuture[A, B]) Poll(pc *PollContext) (B, bool) {
	v, ok := m.f.Poll(pc)
	if !ok {
		var zero B
		return zero, false
	}
	m.done = true
	return m.fn(v), true
}

func (m *mapFuture[A, B]) Drop(pc *PollContext) {
	if !m.done {
		Drop(pc, m.f)
	}
}

// Discard drops the output of f.
func Discard[T any](f Future[T]) Future[struct{}] {
	return Map(f, func(T) struct{} { return struct{}{} })
}

// Then runs f, then the future built from its output.
func Then[A, B any](f Future[A], next func(A) Future[B]) Future[B] {
	return &thenFuture[A, B]{first: f, next: next}
}

type thenFuture[A, B any] struct {
	first  Future[A]
	next   func(A) Future[B]
	second Future[B]
	done   bool
}

func (t *thenFuture[A, B]) Poll(pc *PollContext) (B, bool) {
	if t.second == nil {
		v, ok := t.first.Poll(pc)
		if !ok {
			var zero B
			return zero, false
		}
		t.first = nil
		t.second = t.next(v)
	}
	out, ok := t.second.Poll(pc)
	if ok {
		t.done = true
	}
	return out, ok
}

func (t *thenFuture[A, B]) Drop(pc *PollContext) {
	switch {
	case t.done:
	case t.second != nil:
		Drop(pc, t.second)
	case t.first != nil:
		Drop(pc, t.first)
	}
}

// Seq runs futures one after another.
func Seq(futs ...Future[struct{}]) Future[struct{}] {
	return &seqFuture{futs: futs}
}

type seqFuture struct {
	futs []Future[struct{}]
	next int
}

func (s *seqFuture) Poll(pc *PollContext) (struct{}, bool) {
	for s.next < len(s.futs) {
		if _, ok := s.futs[s.next].Poll(pc); !ok {
			return struct{}{}, false
		}
		s.next++
	}
	return struct{}{}, true
}

func (s *seqFuture) Drop(pc *PollContext) {
	for ; s.next < len(s.futs); s.next++ {
		Drop(pc, s.futs[s.next])
	}
}

// Join polls all futures on every poll and completes when all of them have.
// Outputs keep the order of futs.
func Join[T any](futs ...Future[T]) Future[[]T] {
	return &joinFuture[T]{
		futs:      futs,
		out:       make([]T, len(futs)),
		done:      make([]bool, len(futs)),
		remaining: len(futs),
	}
}

type joinFuture[T any] struct {
	futs      []Future[T]
	out       []T
	done      []bool
	remaining int
}

func (j *joinFuture[T]) Poll(pc *PollContext) ([]T, bool) {
	for i, f := range j.futs {
		if j.done[i] {
			continue
		}
		if v, ok := f.Poll(pc); ok {
			j.out[i] = v
			j.done[i] = true
			j.remaining--
		}
	}
	if j.remaining > 0 {
		return nil, false
	}
	return j.out, true
}

func (j *joinFuture[T]) Drop(pc *PollContext) {
	for i, f := range j.futs {
		if !j.done[i] {
			j.done[i] = true
			Drop(pc, f)
		}
	}
}

// Selected is the output of Select.
type Selected[T any] struct {
	Value T
	Index int
}

// Select completes with the first future to complete.
// The remaining futures are dropped as soon as a winner is known.
func Select[T any](futs ...Future[T]) Future[Selected[T]] {
	if len(futs) == 0 {
		panic("stackz: select of no futures")
	}
	return &selectFuture[T]{futs: futs}
}

type selectFuture[T any] struct {
	futs     []Future[T]
	finished bool
}

func (s *selectFuture[T]) Poll(pc *PollContext) (Selected[T], bool) {
	for i, f := range s.futs {
		v, ok := f.Poll(pc)
		if !ok {
			continue
		}
		s.finished = true
		for j, loser := range s.futs {
			if j != i {
				Drop(pc, loser)
			}
		}
		return Selected[T]{Index: i, Value: v}, true
	}
	return Selected[T]{}, false
}

func (s *selectFuture[T]) Drop(pc *PollContext) {
	if s.finished {
		return
	}
	s.finished = true
	for _, f := range s.futs {
		Drop(pc, f)
	}
}

// Borrow polls f without taking ownership: dropping the returned future
// leaves f untouched so it can be polled again later.
func Borrow[T any](f Future[T]) Future[T] {
	return borrowFuture[T]{f: f}
}

type borrowFuture[T any] struct {
	f Future[T]
}

func (b borrowFuture[T]) Poll(pc *PollContext) (T, bool) {
	return b.f.Poll(pc)
}
