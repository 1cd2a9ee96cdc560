package stackz

import (
	"time"
)

// SpanNode is the value stored for each node of a span tree.
type SpanNode struct {
	StartTime time.Time
	Label     Label
}

// Span is a read-only snapshot of a span subtree.
// Snapshots are detached copies and safe to keep after the trace moves on.
//
//nolint:govet // Field alignment optimized for JSON serialization order
type Span struct {
	Children  []Span        `json:"children,omitempty"`
	StartTime time.Time     `json:"start_time"`
	Elapsed   time.Duration `json:"elapsed"`
	Label     Label         `json:"label"`
	Slow      bool          `json:"slow,omitempty"`
}

// Count returns the number of spans in the subtree, including s.
func (s Span) Count() int {
	n := 1
	for _, c := range s.Children {
		n += c.Count()
	}
	return n
}

// Find returns the first span in depth-first order with the given label.
func (s *Span) Find(label Label) *Span {
	if s.Label == label {
		return s
	}
	for i := range s.Children {
		if found := s.Children[i].Find(label); found != nil {
			return found
		}
	}
	return nil
}
