// Package integration exercises traced scopes end to end through the public API.
package integration

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/stackz"
)

// MockCollector wraps a real collector with test utilities.
// Provides synchronous collection and verification helpers.
//
//nolint:govet // Field alignment optimized for test helper readability
type MockCollector struct {
	exported []stackz.Report
	*stackz.Collector
	t  *testing.T
	mu sync.Mutex
}

// NewMockCollector creates a collector for testing.
func NewMockCollector(t *testing.T, name string, bufferSize int) *MockCollector {
	collector := stackz.NewCollector(name, bufferSize)
	collector.SetSyncMode(true) // Enable synchronous collection for testing.
	t.Cleanup(collector.Close)
	return &MockCollector{
		Collector: collector,
		t:         t,
	}
}

// GetAll returns every report collected so far.
func (m *MockCollector) GetAll() []stackz.Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.exported = append(m.exported, m.Collector.Export()...)
	all := make([]stackz.Report, len(m.exported))
	copy(all, m.exported)
	return all
}

// WaitForReports waits until at least expected reports arrived.
func (m *MockCollector) WaitForReports(expected int, timeout time.Duration) []stackz.Report {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		if all := m.GetAll(); len(all) >= expected {
			return all
		}
		<-ticker.C
	}

	all := m.GetAll()
	m.t.Errorf("Timeout waiting for reports: expected %d, got %d", expected, len(all))
	return all
}

// AssertParsed parses every report and fails on the first malformed one.
func (m *MockCollector) AssertParsed() []*stackz.ParsedReport {
	var out []*stackz.ParsedReport
	for _, r := range m.GetAll() {
		parsed, err := stackz.ParseReport(r.Text)
		if err != nil {
			m.t.Fatalf("Malformed report: %v\n%s", err, r.Text)
		}
		out = append(out, parsed)
	}
	return out
}

// FindNode returns the first node labeled label in depth-first order.
func FindNode(n *stackz.ReportNode, label string) *stackz.ReportNode {
	if n == nil {
		return nil
	}
	if n.Label == label {
		return n
	}
	for _, c := range n.Children {
		if found := FindNode(c, label); found != nil {
			return found
		}
	}
	return nil
}

// PathTo returns the labels from n down to the first node labeled label.
func PathTo(n *stackz.ReportNode, label string) []string {
	if n.Label == label {
		return []string{n.Label}
	}
	for _, c := range n.Children {
		if path := PathTo(c, label); path != nil {
			return append([]string{n.Label}, path...)
		}
	}
	return nil
}

// Labels lists every label of the tree in depth-first order.
func Labels(n *stackz.ReportNode) []string {
	out := []string{n.Label}
	for _, c := range n.Children {
		out = append(out, Labels(c)...)
	}
	return out
}

// Actor runs body inside its own scope on a new goroutine and reports into
// the returned receiver.
func Actor[T any](ctx context.Context, tracer *stackz.Tracer, root string, interval time.Duration, body stackz.Future[T]) (*stackz.JoinHandle[T], *stackz.Receiver) {
	tx, rx := stackz.NewChannel()
	return stackz.Spawn(ctx, stackz.Scope(tracer, body, root, tx, interval)), rx
}

// Gate is a future released from outside.
type Gate struct {
	ch   chan struct{}
	once sync.Once
}

// NewGate creates a closed gate.
func NewGate() *Gate {
	return &Gate{ch: make(chan struct{})}
}

// Wait returns a future completing once the gate opens.
func (g *Gate) Wait() stackz.Future[struct{}] {
	return stackz.Recv[struct{}](g.ch)
}

// Open releases every waiter.
func (g *Gate) Open() {
	g.once.Do(func() { close(g.ch) })
}

// Indent returns the number of leading spaces of the line containing label.
func Indent(text, label string) int {
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimLeft(line, " ")
		if strings.HasPrefix(trimmed, label+" [") {
			return len(line) - len(trimmed)
		}
	}
	return -1
}
