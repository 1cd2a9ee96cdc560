package stackz

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Collector buffers published reports for batch export, keeping the history
// a single-slot channel throws away. Feed it from Tracer.OnReport or from a
// Receiver with Watch.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field alignment optimized for readability over memory efficiency
type Collector struct {
	reports      []Report
	reportsCh    chan Report
	stopCh       chan struct{}
	done         chan struct{}
	droppedCount atomic.Int64
	name         string
	mu           sync.Mutex
	closeOnce    sync.Once
	closed       atomic.Bool
	syncMode     atomic.Bool // Bypass channel for synchronous collection.
}

// NewCollector creates a new collector with the specified name and buffer size.
func NewCollector(name string, bufferSize int) *Collector {
	c := &Collector{
		name:      name,
		reports:   make([]Report, 0, 8),
		reportsCh: make(chan Report, bufferSize),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	go c.start()
	return c
}

// Name returns the collector name.
func (c *Collector) Name() string {
	return c.name
}

// start runs the collector's main loop, receiving reports from the channel.
func (c *Collector) start() {
	defer close(c.done)

	for {
		select {
		case <-c.stopCh:
			// Drain remaining reports before shutdown.
			for {
				select {
				case r := <-c.reportsCh:
					c.buffer(r)
				default:
					return
				}
			}
		case r := <-c.reportsCh:
			c.buffer(r)
		}
	}
}

// Close shuts down the collector gracefully.
func (c *Collector) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.stopCh)
		select {
		case <-c.done:
		case <-time.After(100 * time.Millisecond):
		}
	})
}

// Collect buffers a report with backpressure protection.
// If the internal channel is full the report is dropped and counted.
// In sync mode, reports are buffered directly for deterministic testing.
func (c *Collector) Collect(r Report) {
	if c.closed.Load() {
		c.droppedCount.Add(1)
		return
	}

	if c.syncMode.Load() {
		c.buffer(r)
		return
	}

	select {
	case c.reportsCh <- r:
	default:
		c.droppedCount.Add(1)
	}
}

// Watch collects every change seen on rx until the sender closes or ctx is
// done. It blocks; run it on its own goroutine.
func (c *Collector) Watch(ctx context.Context, rx *Receiver) error {
	for {
		if err := rx.Changed(ctx); err != nil {
			return err
		}
		c.Collect(rx.Borrow())
	}
}

func (c *Collector) buffer(r Report) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.reports) >= cap(c.reports) {
		currentCap := cap(c.reports)
		var newCap int
		if currentCap < 1024 {
			newCap = currentCap * 2
		} else {
			newCap = currentCap + currentCap/2
		}
		if newCap < 32 {
			newCap = 32
		}
		grown := make([]Report, len(c.reports), newCap)
		copy(grown, c.reports)
		c.reports = grown
	}
	c.reports = append(c.reports, r)
}

// Export returns all buffered reports in arrival order and clears the buffer.
func (c *Collector) Export() []Report {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.reports) == 0 {
		return nil
	}

	result := make([]Report, len(c.reports))
	copy(result, c.reports)

	// Only shrink if buffer is very oversized to avoid allocation churn.
	if cap(c.reports) > 256 && len(c.reports) < cap(c.reports)/8 {
		newCap := cap(c.reports) / 4
		if newCap < 32 {
			newCap = 32
		}
		c.reports = make([]Report, 0, newCap)
	} else {
		c.reports = c.reports[:0]
	}

	return result
}

// Latest returns the most recently buffered report without clearing.
func (c *Collector) Latest() (Report, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.reports) == 0 {
		return Report{}, false
	}
	return c.reports[len(c.reports)-1], true
}

// Count returns the current number of buffered reports.
func (c *Collector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reports)
}

// DroppedCount returns the total number of reports dropped due to backpressure.
func (c *Collector) DroppedCount() int64 {
	return c.droppedCount.Load()
}

// SetSyncMode enables synchronous collection for testing.
func (c *Collector) SetSyncMode(sync bool) {
	c.syncMode.Store(sync)
}

// Reset clears all buffered reports and resets the drop counter.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reports = c.reports[:0]
	c.droppedCount.Store(0)
}
