package stackz

import (
	"errors"
	"fmt"
	"iter"
	"sync"
)

// Manager keeps the report channels of many traced tasks, keyed by K.
// Safe for concurrent use by multiple goroutines, though reads of changes are
// meant for a single supervising consumer.
type Manager[K comparable] struct {
	rxs map[K]*Receiver
	mu  sync.Mutex
}

// NewManager creates an empty manager.
func NewManager[K comparable]() *Manager[K] {
	return &Manager[K]{rxs: make(map[K]*Receiver)}
}

// Register creates a report channel for key and returns its sender, to be
// handed to Scope or RunTraced. Registering a key twice panics.
func (m *Manager[K]) Register(key K) *Sender {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rxs == nil {
		m.rxs = make(map[K]*Receiver)
	}
	if _, exists := m.rxs[key]; exists {
		panic(fmt.Sprintf("stackz: key %v is already registered", key))
	}
	tx, rx := NewChannel()
	m.rxs[key] = rx
	return tx
}

// Deregister forgets key and closes its receiver, so its reporter parks.
func (m *Manager[K]) Deregister(key K) {
	m.mu.Lock()
	rx, ok := m.rxs[key]
	delete(m.rxs, key)
	m.mu.Unlock()

	if ok {
		rx.Close()
	}
}

// Len returns the number of registered keys.
func (m *Manager[K]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rxs)
}

// GetAllChanged returns every key whose report changed since it was last read,
// marking those reports as read. Keys whose sender has closed are pruned; a
// final report nobody has read yet is still returned once.
//
// Reports may be stale if a traced task is busy and never yields; compare
// CaptureTime to detect that.
func (m *Manager[K]) GetAllChanged() iter.Seq2[K, Report] {
	type entry struct {
		key    K
		report Report
	}

	m.mu.Lock()
	var changed []entry
	for key, rx := range m.rxs {
		has, err := rx.HasChanged()
		if has {
			changed = append(changed, entry{key: key, report: rx.BorrowAndUpdate()})
		}
		if errors.Is(err, ErrSenderClosed) {
			delete(m.rxs, key)
		}
	}
	m.mu.Unlock()

	return func(yield func(K, Report) bool) {
		for _, e := range changed {
			if !yield(e.key, e.report) {
				return
			}
		}
	}
}

// All returns the latest report of every live key, marking them read.
// Keys whose sender has closed are pruned first.
func (m *Manager[K]) All() map[K]Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[K]Report, len(m.rxs))
	for key, rx := range m.rxs {
		if _, err := rx.HasChanged(); err != nil {
			delete(m.rxs, key)
			continue
		}
		out[key] = rx.BorrowAndUpdate()
	}
	return out
}
