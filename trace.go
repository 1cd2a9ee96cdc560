package stackz

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// ContextID identifies one TraceContext within the process.
type ContextID uint64

// slowMarker prefixes the elapsed time of slow non-root spans in reports.
const slowMarker = "!!! "

// TraceContext is the span tree of one trace scope together with the cursor
// naming the span whose subtree is currently being polled.
//
// Only the goroutine polling the scope touches a TraceContext, so it holds no
// locks and is NOT safe for concurrent use.
type TraceContext struct {
	tracer  *Tracer
	arena   *Arena
	id      ContextID
	root    NodeID
	current NodeID
}

func newTraceContext(t *Tracer, id ContextID, root Label) *TraceContext {
	arena := NewArena()
	r := arena.NewNode(SpanNode{Label: root, StartTime: t.clock.Now()})
	t.metrics.contextOpened()
	return &TraceContext{
		tracer:  t,
		arena:   arena,
		id:      id,
		root:    r,
		current: r,
	}
}

// ID returns the identity of the context.
func (c *TraceContext) ID() ContextID {
	return c.id
}

// Root returns the root node.
func (c *TraceContext) Root() NodeID {
	return c.root
}

// Current returns the cursor.
func (c *TraceContext) Current() NodeID {
	return c.current
}

// Tree returns a read-only view of the span tree.
func (c *TraceContext) Tree() TreeView {
	return TreeView{arena: c.arena}
}

// TreeView is a read-only view of a trace context's span tree.
type TreeView struct {
	arena *Arena
}

// Live reports whether id names a node still in the tree.
func (v TreeView) Live(id NodeID) bool { return v.arena.Live(id) }

// Get returns a copy of the span stored at id.
func (v TreeView) Get(id NodeID) SpanNode { return *v.arena.Get(id) }

// Parent returns the parent of id, or false for a root.
func (v TreeView) Parent(id NodeID) (NodeID, bool) { return v.arena.Parent(id) }

// HasChildren reports whether id has at least one child.
func (v TreeView) HasChildren(id NodeID) bool { return v.arena.HasChildren(id) }

// Children returns the children of id in insertion order.
func (v TreeView) Children(id NodeID) []NodeID { return v.arena.Children(id) }

// Roots returns every parentless node, the context root included.
func (v TreeView) Roots() []NodeID { return v.arena.Roots() }

// ActiveNodeCount returns the number of live nodes, including the root and
// any detached subtrees.
func (c *TraceContext) ActiveNodeCount() int {
	return c.arena.Len()
}

// Push creates a child of the cursor and moves the cursor to it.
func (c *TraceContext) Push(label Label) NodeID {
	child := c.arena.NewNode(SpanNode{Label: label, StartTime: c.tracer.clock.Now()})
	c.arena.Append(c.current, child)
	c.current = child
	c.tracer.metrics.nodeAdded()
	return child
}

// StepIn moves the cursor to node.
// If node is not a child of the cursor it has been moved to a new poller, so
// it is reparented under the cursor first.
func (c *TraceContext) StepIn(node NodeID) {
	if parent, ok := c.arena.Parent(node); !ok || parent != c.current {
		c.arena.Append(c.current, node)
	}
	c.current = node
}

// Pop removes the cursor node and moves the cursor to its parent.
// The cursor must have no children and must not be the root.
func (c *TraceContext) Pop() {
	if c.arena.HasChildren(c.current) {
		panic(fmt.Sprintf("stackz: popping span %q which still has children", c.arena.Get(c.current).Label))
	}
	parent, ok := c.arena.Parent(c.current)
	if !ok {
		panic("stackz: the root span must not be popped")
	}
	c.arena.Remove(c.current)
	c.current = parent
	c.tracer.metrics.nodeRemoved()
}

// StepOut moves the cursor to its parent, leaving the node in the tree.
func (c *TraceContext) StepOut() {
	parent, ok := c.arena.Parent(c.current)
	if !ok {
		panic("stackz: the root span must not be stepped out")
	}
	c.current = parent
}

// RemoveAndDetach removes node and detaches its children, which become
// orphans until a later poll steps into them again. Used when a future is
// dropped before completion.
func (c *TraceContext) RemoveAndDetach(node NodeID) {
	if node == c.root {
		panic("stackz: the root span must not be removed")
	}
	c.arena.Detach(node)
	for _, child := range c.arena.Children(node) {
		c.arena.Detach(child)
	}
	c.arena.Remove(node)
	c.tracer.metrics.nodeRemoved()
}

// close releases the context's metrics. The tree itself is garbage collected.
func (c *TraceContext) close() {
	c.tracer.metrics.contextClosed(c.arena.Len())
}

// sortedChildren returns the children of node stably ordered by label.
func (c *TraceContext) sortedChildren(node NodeID) []NodeID {
	children := c.arena.Children(node)
	slices.SortStableFunc(children, func(a, b NodeID) int {
		return strings.Compare(c.arena.Get(a).Label, c.arena.Get(b).Label)
	})
	return children
}

func (c *TraceContext) writeNode(b *strings.Builder, now time.Time, node NodeID, depth int) {
	span := c.arena.Get(node)
	elapsed := now.Sub(span.StartTime)

	b.WriteString(strings.Repeat(" ", depth*2))
	b.WriteString(formatLabel(span.Label))
	b.WriteString(" [")
	if depth > 0 && elapsed >= c.tracer.slowThreshold {
		b.WriteString(slowMarker)
	}
	b.WriteString(elapsed.String())
	b.WriteString("]\n")

	for _, child := range c.sortedChildren(node) {
		c.writeNode(b, now, child, depth+1)
	}
}

// String renders the tree from the root, one line per span.
func (c *TraceContext) String() string {
	return c.render(c.tracer.clock.Now())
}

func (c *TraceContext) render(now time.Time) string {
	var b strings.Builder
	c.writeNode(&b, now, c.root, 0)

	if c.tracer.showDetached {
		for _, orphan := range c.arena.Roots() {
			if orphan == c.root {
				continue
			}
			fmt.Fprintf(&b, "[Detached %s]\n", orphan)
			c.writeNode(&b, now, orphan, 1)
		}
	}
	return b.String()
}

// Report captures the current tree as a report.
func (c *TraceContext) Report() Report {
	now := c.tracer.clock.Now()
	return Report{
		Text:        c.render(now),
		CaptureTime: now,
		Context:     c.id,
		Root:        c.arena.Get(c.root).Label,
	}
}

// Snapshot copies the tree reachable from the root.
func (c *TraceContext) Snapshot() Span {
	return c.snapshot(c.tracer.clock.Now(), c.root, 0)
}

func (c *TraceContext) snapshot(now time.Time, node NodeID, depth int) Span {
	span := c.arena.Get(node)
	elapsed := now.Sub(span.StartTime)
	s := Span{
		Label:     span.Label,
		StartTime: span.StartTime,
		Elapsed:   elapsed,
		Slow:      depth > 0 && elapsed >= c.tracer.slowThreshold,
	}
	for _, child := range c.sortedChildren(node) {
		s.Children = append(s.Children, c.snapshot(now, child, depth+1))
	}
	return s
}
