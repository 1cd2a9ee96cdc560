package stackz

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrReceiverClosed is returned by Sender.Send once the receiver is closed.
	ErrReceiverClosed = errors.New("stackz: report receiver closed")
	// ErrSenderClosed is returned by Receiver methods once the sender is closed.
	ErrSenderClosed = errors.New("stackz: report sender closed")
)

// watch is a single-slot channel holding the latest report.
// Each send overwrites the slot and bumps the version; receivers compare
// versions to notice changes.
//
//nolint:govet // Field order optimized for readability over memory
type watch struct {
	value    Report
	changed  chan struct{}
	version  uint64
	mu       sync.Mutex
	txClosed bool
	rxClosed bool
}

// notifyLocked wakes every waiter. Must be called with mu held.
func (w *watch) notifyLocked() {
	close(w.changed)
	w.changed = make(chan struct{})
}

// Sender publishes reports into a single-slot channel.
type Sender struct {
	w *watch
}

// Receiver observes the latest report of a single-slot channel.
// A Receiver tracks which version it has seen and is not meant to be shared
// between consumers that each need their own change notifications.
type Receiver struct {
	w    *watch
	mu   sync.Mutex
	seen uint64
}

// NewChannel creates a connected sender and receiver.
// The receiver starts with a "<not reported>" report that counts as seen.
func NewChannel() (*Sender, *Receiver) {
	w := &watch{
		value:   emptyReport(),
		changed: make(chan struct{}),
	}
	return &Sender{w: w}, &Receiver{w: w}
}

// Send replaces the latest report. It fails only if the receiver was closed.
func (s *Sender) Send(r Report) error {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()

	if s.w.rxClosed {
		return ErrReceiverClosed
	}
	if s.w.txClosed {
		return ErrSenderClosed
	}
	s.w.value = r
	s.w.version++
	s.w.notifyLocked()
	return nil
}

// Close marks the producer side closed. Safe to call multiple times.
func (s *Sender) Close() {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()

	if s.w.txClosed {
		return
	}
	s.w.txClosed = true
	s.w.notifyLocked()
}

// IsClosed reports whether the receiver side has gone away.
func (s *Sender) IsClosed() bool {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	return s.w.rxClosed
}

// Borrow returns the latest report without marking it seen.
func (r *Receiver) Borrow() Report {
	r.w.mu.Lock()
	defer r.w.mu.Unlock()
	return r.w.value
}

// BorrowAndUpdate returns the latest report and marks it seen.
func (r *Receiver) BorrowAndUpdate() Report {
	r.w.mu.Lock()
	v, version := r.w.value, r.w.version
	r.w.mu.Unlock()

	r.mu.Lock()
	r.seen = version
	r.mu.Unlock()
	return v
}

// HasChanged reports whether a report newer than the last seen one exists.
// It returns ErrSenderClosed once the sender is closed, even if an unseen
// report remains.
func (r *Receiver) HasChanged() (bool, error) {
	r.w.mu.Lock()
	version, closed := r.w.version, r.w.txClosed
	r.w.mu.Unlock()

	r.mu.Lock()
	changed := version != r.seen
	r.mu.Unlock()

	if closed {
		return changed, ErrSenderClosed
	}
	return changed, nil
}

// Changed blocks until a report newer than the last seen one is published and
// marks it seen. It returns ErrSenderClosed if the sender closes first, or the
// context error if ctx is done.
func (r *Receiver) Changed(ctx context.Context) error {
	for {
		r.w.mu.Lock()
		version, closed, wait := r.w.version, r.w.txClosed, r.w.changed
		r.w.mu.Unlock()

		r.mu.Lock()
		if version != r.seen {
			r.seen = version
			r.mu.Unlock()
			return nil
		}
		r.mu.Unlock()

		if closed {
			return ErrSenderClosed
		}

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close drops the consumer side; later sends fail with ErrReceiverClosed.
func (r *Receiver) Close() {
	r.w.mu.Lock()
	defer r.w.mu.Unlock()

	if r.w.rxClosed {
		return
	}
	r.w.rxClosed = true
	r.w.notifyLocked()
}
