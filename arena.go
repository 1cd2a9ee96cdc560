package stackz

import "fmt"

// NodeID addresses a node in an Arena.
// The stamp detects use of an id whose slot has been freed and reused.
type NodeID struct {
	index uint32
	stamp uint32
}

// String returns the slot index of the node.
func (id NodeID) String() string {
	return fmt.Sprintf("#%d", id.index)
}

const noSlot int32 = -1

//nolint:govet // Field order optimized for readability over memory
type slot struct {
	span   SpanNode
	parent int32
	first  int32
	last   int32
	prev   int32
	next   int32
	stamp  uint32
	live   bool
}

// Arena is a tree of span nodes stored in a flat table.
// Parent, child and sibling links are slot indices, so attaching, detaching
// and removing a node are O(1). Freed slots are reused.
//
// Misusing the arena (stale ids, cycles, removing a node with children) is a
// programming error and panics. Arena is NOT safe for concurrent use.
type Arena struct {
	slots []slot
	free  []int32
	live  int
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{slots: make([]slot, 0, 16)}
}

// NewNode allocates a detached node.
func (a *Arena) NewNode(span SpanNode) NodeID {
	s := slot{
		span:   span,
		parent: noSlot,
		first:  noSlot,
		last:   noSlot,
		prev:   noSlot,
		next:   noSlot,
		live:   true,
	}

	var idx int32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
		s.stamp = a.slots[idx].stamp + 1
		a.slots[idx] = s
	} else {
		idx = int32(len(a.slots))
		a.slots = append(a.slots, s)
	}
	a.live++
	return NodeID{index: uint32(idx), stamp: s.stamp}
}

// Live reports whether id refers to a node that has not been removed.
func (a *Arena) Live(id NodeID) bool {
	if int(id.index) >= len(a.slots) {
		return false
	}
	s := &a.slots[id.index]
	return s.live && s.stamp == id.stamp
}

func (a *Arena) at(id NodeID) *slot {
	if !a.Live(id) {
		panic(fmt.Sprintf("stackz: use of removed node %s", id))
	}
	return &a.slots[id.index]
}

func (a *Arena) idAt(idx int32) NodeID {
	return NodeID{index: uint32(idx), stamp: a.slots[idx].stamp}
}

// Get returns the span stored at id.
func (a *Arena) Get(id NodeID) *SpanNode {
	return &a.at(id).span
}

// Parent returns the parent of id, or false if id is detached.
func (a *Arena) Parent(id NodeID) (NodeID, bool) {
	s := a.at(id)
	if s.parent == noSlot {
		return NodeID{}, false
	}
	return a.idAt(s.parent), true
}

// HasChildren reports whether id has at least one child.
func (a *Arena) HasChildren(id NodeID) bool {
	return a.at(id).first != noSlot
}

// Children returns the children of id in insertion order.
func (a *Arena) Children(id NodeID) []NodeID {
	s := a.at(id)
	var out []NodeID
	for c := s.first; c != noSlot; c = a.slots[c].next {
		out = append(out, a.idAt(c))
	}
	return out
}

// Append attaches child as the last child of parent, detaching it from its
// previous parent first.
func (a *Arena) Append(parent, child NodeID) {
	p := a.at(parent)
	a.at(child)

	for anc := int32(parent.index); anc != noSlot; anc = a.slots[anc].parent {
		if anc == int32(child.index) {
			panic(fmt.Sprintf("stackz: appending %s under %s would create a cycle", child, parent))
		}
	}

	a.Detach(child)

	c := &a.slots[child.index]
	c.parent = int32(parent.index)
	c.prev = p.last
	if p.last != noSlot {
		a.slots[p.last].next = int32(child.index)
	} else {
		p.first = int32(child.index)
	}
	p.last = int32(child.index)
}

// Detach severs id from its parent. Its subtree stays attached to it.
func (a *Arena) Detach(id NodeID) {
	s := a.at(id)
	if s.parent == noSlot {
		return
	}
	p := &a.slots[s.parent]
	if s.prev != noSlot {
		a.slots[s.prev].next = s.next
	} else {
		p.first = s.next
	}
	if s.next != noSlot {
		a.slots[s.next].prev = s.prev
	} else {
		p.last = s.prev
	}
	s.parent, s.prev, s.next = noSlot, noSlot, noSlot
}

// Remove frees id. The node must have no children.
func (a *Arena) Remove(id NodeID) {
	if a.HasChildren(id) {
		panic(fmt.Sprintf("stackz: removing %s which still has children", id))
	}
	a.Detach(id)
	s := &a.slots[id.index]
	s.live = false
	s.span = SpanNode{}
	a.free = append(a.free, int32(id.index))
	a.live--
}

// Len returns the number of live nodes.
func (a *Arena) Len() int {
	return a.live
}

// Roots returns every live node without a parent, in slot order.
func (a *Arena) Roots() []NodeID {
	var out []NodeID
	for i := range a.slots {
		if a.slots[i].live && a.slots[i].parent == noSlot {
			out = append(out, a.idAt(int32(i)))
		}
	}
	return out
}
