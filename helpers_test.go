package stackz

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/zoobzio/clockz"
)

// gate is a future that stays pending until opened.
type gate struct {
	slot    wakeSlot
	open    atomic.Bool
	polls   atomic.Int64
	dropped atomic.Bool
}

func newGate() *gate {
	return &gate{}
}

func (g *gate) Poll(pc *PollContext) (struct{}, bool) {
	g.polls.Add(1)
	g.slot.set(pc.Waker())
	return struct{}{}, g.open.Load()
}

func (g *gate) Drop(*PollContext) {
	g.dropped.Store(true)
}

func (g *gate) Open() {
	g.open.Store(true)
	g.slot.wake()
}

// syncBuffer is a bytes.Buffer safe for concurrent log writes.
type syncBuffer struct {
	buf bytes.Buffer
	mu  sync.Mutex
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// logContext returns a context whose clog logger writes text into the buffer.
func logContext() (context.Context, *syncBuffer) {
	buf := &syncBuffer{}
	logger := clog.New(slog.NewTextHandler(buf, nil))
	return clog.WithLogger(context.Background(), logger), buf
}

// fakeClock is the part of the clockz fake clock used by tests.
type fakeClock interface {
	clockz.Clock
	Advance(d time.Duration)
	BlockUntilReady()
}

func newFake() fakeClock {
	return clockz.NewFakeClock()
}

// newTestContext creates a trace context on a fake clock.
func newTestContext(root Label) (*TraceContext, fakeClock) {
	clock := newFake()
	return New().WithClock(clock).NewContext(root), clock
}

// scopedPC returns a poll context bound to tc.
func scopedPC(ctx context.Context, tc *TraceContext) *PollContext {
	return NewPollContext(ctx, nil).scoped(tc)
}

func mustPanic(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("%s: expected panic", name)
		}
	}()
	fn()
}

// childLabels lists the labels of the children of node in render order.
func childLabels(tc *TraceContext, node NodeID) []Label {
	var out []Label
	for _, c := range tc.sortedChildren(node) {
		out = append(out, tc.Tree().Get(c).Label)
	}
	return out
}

// reachable reports whether node can be reached from the root through parent links.
func reachable(tc *TraceContext, node NodeID) bool {
	for {
		if node == tc.Root() {
			return true
		}
		parent, ok := tc.Tree().Parent(node)
		if !ok {
			return false
		}
		node = parent
	}
}
