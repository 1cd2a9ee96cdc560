package stackz

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestScopePublishesImmediately(t *testing.T) {
	clock := newFake()
	tracer := New().WithClock(clock)
	tx, rx := NewChannel()
	g := newGate()

	scope := Scope[struct{}](tracer, WithSpan[struct{}](g, "waiting"), "actor", tx, time.Second)
	pc := NewPollContext(context.Background(), nil)

	if _, ok := scope.Poll(pc); ok {
		t.Fatal("Expected pending scope")
	}
	changed, err := rx.HasChanged()
	if !changed || err != nil {
		t.Fatalf("Expected an immediate report, got %v %v", changed, err)
	}
	want := "actor [0s]\n  waiting [0s]\n"
	if got := rx.BorrowAndUpdate().Text; got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}

	g.Open()
	if _, ok := scope.Poll(pc); !ok {
		t.Fatal("Expected the scope to complete with its future")
	}
	if _, err := rx.HasChanged(); !errors.Is(err, ErrSenderClosed) {
		t.Errorf("Expected the sender to close with the scope, got %v", err)
	}
}

func TestScopeReportsOnInterval(t *testing.T) {
	clock := newFake()
	tracer := New().WithClock(clock)
	tx, rx := NewChannel()
	g := newGate()

	scope := Scope[struct{}](tracer, WithSpan[struct{}](g, "slow"), "actor", tx, time.Second)
	waker := newChanWaker()
	pc := NewPollContext(context.Background(), waker)

	scope.Poll(pc)
	rx.BorrowAndUpdate()

	clock.Advance(2 * time.Second)
	clock.BlockUntilReady()

	select {
	case <-waker.ch:
	case <-time.After(time.Second):
		t.Fatal("Expected the reporter timer to wake the task")
	}
	scope.Poll(pc)

	if changed, _ := rx.HasChanged(); !changed {
		t.Fatal("Expected a second report after the interval")
	}
	want := "actor [2s]\n  slow [!!! 2s]\n"
	if got := rx.BorrowAndUpdate().Text; got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}

	g.Open()
	scope.Poll(pc)
}

func TestScopeParksOnClosedReceiver(t *testing.T) {
	ctx, logs := logContext()
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	tracer := New().WithClock(newFake()).WithMetrics(metrics)
	tx, rx := NewChannel()
	rx.Close()
	g := newGate()

	scope := Scope[int](tracer, Map[struct{}, int](WithSpan[struct{}](g, "work"), func(struct{}) int { return 7 }), "actor", tx, time.Millisecond)
	pc := NewPollContext(ctx, nil)

	if _, ok := scope.Poll(pc); ok {
		t.Fatal("Expected pending")
	}
	if !strings.Contains(logs.String(), "failed to send trace") {
		t.Errorf("Expected an error log, got %q", logs.String())
	}
	if got := testutil.ToFloat64(metrics.PublishFailures); got != 1 {
		t.Errorf("Expected 1 publish failure, got %v", got)
	}

	// The parked reporter does not fail the traced work.
	scope.Poll(pc)
	if got := testutil.ToFloat64(metrics.PublishFailures); got != 1 {
		t.Errorf("Expected the reporter to stay parked, got %v failures", got)
	}
	g.Open()
	out, ok := scope.Poll(pc)
	if !ok || out != 7 {
		t.Errorf("Expected 7, got %d (ready=%v)", out, ok)
	}
}

func TestScopeRunsHandlersAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	tracer := New().WithClock(newFake()).WithMetrics(metrics)
	collector := NewCollector("handler", 10)
	collector.SetSyncMode(true)
	defer collector.Close()
	tracer.OnReport(collector.Collect)

	tx, _ := NewChannel()
	g := newGate()
	scope := Scope[struct{}](tracer, WithSpan[struct{}](g, "work"), "actor", tx, time.Second)
	pc := NewPollContext(context.Background(), nil)

	scope.Poll(pc)
	if got := testutil.ToFloat64(metrics.ActiveContexts); got != 1 {
		t.Errorf("Expected 1 active context, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.ActiveSpans); got != 1 {
		t.Errorf("Expected 1 active span, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.ReportsPublished); got != 1 {
		t.Errorf("Expected 1 report, got %v", got)
	}
	latest, ok := collector.Latest()
	if !ok || latest.Root != "actor" {
		t.Errorf("Expected the handler to see the report, got %+v", latest)
	}

	g.Open()
	scope.Poll(pc)
	if got := testutil.ToFloat64(metrics.ActiveContexts); got != 0 {
		t.Errorf("Expected the context to close, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.ActiveSpans); got != 0 {
		t.Errorf("Expected no spans, got %v", got)
	}
}

func TestScopeDropCleansUp(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	tracer := New().WithClock(newFake()).WithMetrics(metrics)
	tx, rx := NewChannel()
	g := newGate()

	scope := Scope[struct{}](tracer, WithSpan[struct{}](g, "cancelled"), "actor", tx, time.Second)
	pc := NewPollContext(context.Background(), nil)
	scope.Poll(pc)

	Drop(pc, scope)

	if !g.dropped.Load() {
		t.Error("Expected the inner future to be dropped")
	}
	if _, err := rx.HasChanged(); !errors.Is(err, ErrSenderClosed) {
		t.Errorf("Expected the sender closed, got %v", err)
	}
	if got := testutil.ToFloat64(metrics.ActiveSpans); got != 0 {
		t.Errorf("Expected the span reclaimed inside the scope, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.ActiveContexts); got != 0 {
		t.Errorf("Expected no open contexts, got %v", got)
	}
}

func TestScopeWithoutSender(t *testing.T) {
	tracer := New().WithClock(newFake())
	var inside ContextID
	probe := PollFunc(func(pc *PollContext) (ContextID, bool) {
		tc, ok := ContextOf(pc)
		if !ok {
			t.Fatal("Expected an ambient context")
		}
		inside = tc.ID()
		return tc.ID(), true
	})

	out, err := BlockOn(context.Background(), Scope(tracer, probe, "quiet", nil, 0))
	if err != nil {
		t.Fatalf("BlockOn: %v", err)
	}
	if out != inside || out == 0 {
		t.Errorf("Expected the scope's context id, got %d", out)
	}
}

func TestScopeRejectsZeroInterval(t *testing.T) {
	tx, _ := NewChannel()
	mustPanic(t, "zero interval", func() {
		Scope(New(), Ready(1), "R", tx, 0)
	})
}

func TestRunTracedEndToEnd(t *testing.T) {
	tx, rx := NewChannel()
	g := newGate()
	h := Spawn(context.Background(), RunTraced[struct{}](WithSpan[struct{}](g, "blocked"), "actor 233", tx, 5*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rx.Changed(ctx); err != nil {
		t.Fatalf("Changed: %v", err)
	}
	text := rx.Borrow().Text
	if !strings.HasPrefix(text, "actor 233 [") || !strings.Contains(text, "\n  blocked [") {
		t.Errorf("Unexpected report %q", text)
	}

	g.Open()
	if _, err := h.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}
