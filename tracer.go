package stackz

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/clockz"
)

// DefaultSlowThreshold is the elapsed time after which a non-root span is
// flagged in reports.
const DefaultSlowThreshold = time.Second

// ReportHandler is called with every report a reporter publishes.
type ReportHandler func(report Report)

type handlerEntry struct {
	handler ReportHandler
	id      uint64
	async   bool
}

// Tracer holds the configuration shared by trace scopes: the clock, the slow
// span threshold, metrics, and report handlers.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field order optimized for functionality over memory
type Tracer struct {
	handlers       []handlerEntry
	panicHook      func(handlerID uint64, r interface{})
	workers        *workerPool
	metrics        *Metrics
	clock          clockz.Clock
	slowThreshold  time.Duration
	showDetached   bool
	handlersLock   sync.RWMutex
	nextID         atomic.Uint64
	droppedReports atomic.Uint64
}

// contextIDs hands out process-wide unique context identities.
var contextIDs atomic.Uint64

// defaultTracer backs RunTraced.
var defaultTracer = New()

// New creates a new tracer.
// Uses the real clock for production behavior.
func New() *Tracer {
	return &Tracer{
		handlers:      make([]handlerEntry, 0),
		clock:         clockz.RealClock,
		slowThreshold: DefaultSlowThreshold,
	}
}

// derive copies the configuration of t into a tracer without handlers.
func (t *Tracer) derive() *Tracer {
	return &Tracer{
		handlers:      make([]handlerEntry, 0),
		metrics:       t.metrics,
		clock:         t.clock,
		slowThreshold: t.slowThreshold,
		showDetached:  t.showDetached,
	}
}

// WithClock returns a new tracer with the specified clock.
// Enables clock injection for deterministic testing.
func (t *Tracer) WithClock(clock clockz.Clock) *Tracer {
	d := t.derive()
	if clock == nil {
		clock = clockz.RealClock
	}
	d.clock = clock
	return d
}

// WithSlowThreshold returns a new tracer flagging spans older than threshold.
func (t *Tracer) WithSlowThreshold(threshold time.Duration) *Tracer {
	d := t.derive()
	d.slowThreshold = threshold
	return d
}

// WithMetrics returns a new tracer recording into m.
func (t *Tracer) WithMetrics(m *Metrics) *Tracer {
	d := t.derive()
	d.metrics = m
	return d
}

// WithDetached returns a new tracer whose reports also render subtrees that
// were detached from the root by cancellation.
func (t *Tracer) WithDetached(show bool) *Tracer {
	d := t.derive()
	d.showDetached = show
	return d
}

// Clock returns the clock used for span timing.
func (t *Tracer) Clock() clockz.Clock {
	return t.clock
}

// NewContext creates a trace context rooted at a span with the given label.
func (t *Tracer) NewContext(root Label) *TraceContext {
	return newTraceContext(t, ContextID(contextIDs.Add(1)), root)
}

// OnReport registers a synchronous handler called for every published report.
func (t *Tracer) OnReport(handler ReportHandler) uint64 {
	return t.registerHandler(handler, false)
}

// OnReportAsync registers an asynchronous handler called for every published report.
func (t *Tracer) OnReportAsync(handler ReportHandler) uint64 {
	return t.registerHandler(handler, true)
}

func (t *Tracer) registerHandler(handler ReportHandler, async bool) uint64 {
	if handler == nil {
		return 0
	}

	id := t.nextID.Add(1)

	t.handlersLock.Lock()
	defer t.handlersLock.Unlock()

	t.handlers = append(t.handlers, handlerEntry{
		id:      id,
		handler: handler,
		async:   async,
	})

	return id
}

// RemoveHandler removes a handler by ID.
func (t *Tracer) RemoveHandler(id uint64) {
	t.handlersLock.Lock()
	defer t.handlersLock.Unlock()

	// Preserve order
	for i, h := range t.handlers {
		if h.id == id {
			copy(t.handlers[i:], t.handlers[i+1:])
			t.handlers = t.handlers[:len(t.handlers)-1]
			return
		}
	}
}

// HasHandlers reports whether any report handler is registered.
func (t *Tracer) HasHandlers() bool {
	t.handlersLock.RLock()
	defer t.handlersLock.RUnlock()
	return len(t.handlers) > 0
}

// SetPanicHook sets a function to be called when a handler panics.
func (t *Tracer) SetPanicHook(hook func(handlerID uint64, r interface{})) {
	t.handlersLock.Lock()
	t.panicHook = hook
	t.handlersLock.Unlock()
}

// executeHandlers calls all registered handlers with the published report.
func (t *Tracer) executeHandlers(report Report) {
	t.handlersLock.RLock()
	if len(t.handlers) == 0 {
		t.handlersLock.RUnlock()
		return
	}

	handlers := make([]handlerEntry, len(t.handlers))
	copy(handlers, t.handlers)
	workers := t.workers
	t.handlersLock.RUnlock()

	for _, h := range handlers {
		if h.async {
			entry := h
			if workers != nil {
				workers.submit(func() {
					t.safeCall(entry, report)
				})
			} else {
				go t.safeCall(entry, report)
			}
		} else {
			t.safeCall(h, report)
		}
	}
}

func (t *Tracer) safeCall(entry handlerEntry, report Report) {
	defer func() {
		if r := recover(); r != nil {
			t.handlersLock.RLock()
			hook := t.panicHook
			t.handlersLock.RUnlock()
			if hook != nil {
				hook(entry.id, r)
			}
		}
	}()
	entry.handler(report)
}

// EnableWorkerPool creates a bounded worker pool for async handlers.
func (t *Tracer) EnableWorkerPool(workers, queueSize int) error {
	if workers <= 0 {
		return errors.New("workers must be > 0")
	}
	if queueSize <= 0 {
		return errors.New("queueSize must be > 0")
	}

	t.handlersLock.Lock()
	defer t.handlersLock.Unlock()

	if t.workers != nil {
		return errors.New("worker pool already enabled")
	}

	t.workers = &workerPool{
		tasks:   make(chan func(), queueSize),
		stop:    make(chan struct{}),
		dropped: &t.droppedReports,
	}

	t.workers.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go t.workers.run()
	}

	return nil
}

// DroppedReports returns the number of async handler calls dropped due to a
// full worker queue.
func (t *Tracer) DroppedReports() uint64 {
	return t.droppedReports.Load()
}

// Close removes all handlers and stops the worker pool.
// Scopes already running keep tracing but stop notifying handlers.
func (t *Tracer) Close() {
	t.handlersLock.Lock()
	t.handlers = nil
	workers := t.workers
	t.workers = nil
	t.handlersLock.Unlock()

	// Wait for in-flight async handlers
	if workers != nil {
		workers.shutdown()
	}
}

// workerPool manages a fixed number of workers for processing async handlers.
//
//nolint:govet // Field order optimized for functionality over memory
type workerPool struct {
	tasks   chan func()
	stop    chan struct{}
	dropped *atomic.Uint64
	wg      sync.WaitGroup
}

func (w *workerPool) run() {
	defer w.wg.Done()
	for {
		select {
		case task := <-w.tasks:
			task()
		case <-w.stop:
			return
		}
	}
}

func (w *workerPool) submit(task func()) {
	select {
	case w.tasks <- task:
	default:
		w.dropped.Add(1)
	}
}

func (w *workerPool) shutdown() {
	close(w.stop)
	w.wg.Wait()
}
