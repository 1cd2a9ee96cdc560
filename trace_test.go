package stackz

import (
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestTraceContextPushPop(t *testing.T) {
	tc, _ := newTestContext("R")
	root := tc.Root()

	a := tc.Push("A")
	if tc.Current() != a {
		t.Fatalf("Expected cursor at A, got %s", tc.Current())
	}
	b := tc.Push("B")
	if parent, _ := tc.Tree().Parent(b); parent != a {
		t.Errorf("Expected B under A, got %s", parent)
	}

	tc.Pop()
	if tc.Current() != a {
		t.Errorf("Expected cursor back at A, got %s", tc.Current())
	}
	if tc.Tree().Live(b) {
		t.Error("Expected B to be removed")
	}

	tc.Pop()
	if tc.Current() != root {
		t.Errorf("Expected cursor back at root, got %s", tc.Current())
	}
	if tc.ActiveNodeCount() != 1 {
		t.Errorf("Expected only the root, got %d nodes", tc.ActiveNodeCount())
	}
	if got := tc.String(); got != "R [0s]\n" {
		t.Errorf("Expected bare root render, got %q", got)
	}
}

func TestTraceContextStepOutAndIn(t *testing.T) {
	tc, _ := newTestContext("R")
	a := tc.Push("A")
	tc.StepOut()
	if tc.Current() != tc.Root() {
		t.Fatalf("Expected cursor at root after step out")
	}
	if !tc.Tree().Live(a) {
		t.Fatal("Expected step out to keep the node")
	}

	tc.StepIn(a)
	if tc.Current() != a {
		t.Errorf("Expected cursor at A after step in")
	}
	if parent, _ := tc.Tree().Parent(a); parent != tc.Root() {
		t.Error("Expected step in to leave an existing child in place")
	}
}

func TestTraceContextStepInReparents(t *testing.T) {
	tc, _ := newTestContext("R")
	sel := tc.Push("select")
	fut := tc.Push("fut")
	tc.StepOut()
	tc.StepOut()

	// Poll fut later from the root instead of from select.
	tc.StepIn(fut)

	if parent, _ := tc.Tree().Parent(fut); parent != tc.Root() {
		t.Errorf("Expected fut to move under the root, got %s", parent)
	}
	if tc.Tree().HasChildren(sel) {
		t.Error("Expected select to lose its child")
	}
	tc.Pop()
	if tc.Current() != tc.Root() {
		t.Error("Expected cursor at root after popping fut")
	}
}

func TestTraceContextRemoveAndDetach(t *testing.T) {
	tc, _ := newTestContext("R")
	parent := tc.Push("parent")
	child := tc.Push("child")
	grandchild := tc.Push("grandchild")
	tc.StepOut()
	tc.StepOut()
	tc.StepOut()

	tc.RemoveAndDetach(parent)

	if tc.Tree().Live(parent) {
		t.Error("Expected parent to be removed")
	}
	if _, ok := tc.Tree().Parent(child); ok {
		t.Error("Expected child to be orphaned")
	}
	if p, _ := tc.Tree().Parent(grandchild); p != child {
		t.Error("Expected grandchild to stay under child")
	}
	if tc.ActiveNodeCount() != 3 {
		t.Errorf("Expected root, child and grandchild alive, got %d", tc.ActiveNodeCount())
	}
	if got := tc.String(); got != "R [0s]\n" {
		t.Errorf("Expected orphans to be hidden, got %q", got)
	}

	// The orphan is reattached when polled again.
	tc.StepIn(child)
	if p, _ := tc.Tree().Parent(child); p != tc.Root() {
		t.Error("Expected child to be reattached under the cursor")
	}
}

func TestTraceContextContractViolations(t *testing.T) {
	tc, _ := newTestContext("R")
	mustPanic(t, "pop root", tc.Pop)
	mustPanic(t, "step out of root", tc.StepOut)
	mustPanic(t, "remove root", func() { tc.RemoveAndDetach(tc.Root()) })

	tc.Push("A")
	tc.Push("B")
	tc.StepOut()
	mustPanic(t, "pop with children", tc.Pop)
}

func TestTraceContextRender(t *testing.T) {
	tc, clock := newTestContext("actor")
	tc.Push("zeta")
	tc.StepOut()
	clock.Advance(500 * time.Millisecond)
	tc.Push("alpha")
	tc.Push("nested")
	tc.StepOut()
	tc.StepOut()
	clock.Advance(1500 * time.Millisecond)

	want := "actor [2s]\n" +
		"  alpha [!!! 1.5s]\n" +
		"    nested [!!! 1.5s]\n" +
		"  zeta [!!! 2s]\n"
	if got := tc.String(); got != want {
		t.Errorf("render mismatch:\nwant:\n%s\ngot:\n%s", want, got)
	}

	// Rendering an unchanged tree is stable.
	if tc.String() != tc.String() {
		t.Error("Expected repeated renders to match")
	}
}

func TestTraceContextRenderThreshold(t *testing.T) {
	clock := newFake()
	tc := New().WithClock(clock).WithSlowThreshold(time.Minute).NewContext("R")
	tc.Push("A")
	tc.StepOut()
	clock.Advance(2 * time.Second)

	if strings.Contains(tc.String(), slowMarker) {
		t.Errorf("Expected no slow marker below threshold, got %q", tc.String())
	}
}

func TestTraceContextRenderSortsStably(t *testing.T) {
	tc, _ := newTestContext("R")
	for _, l := range []Label{"b", "a", "b", "a"} {
		tc.Push(l)
		tc.StepOut()
	}
	if diff := cmp.Diff([]Label{"a", "a", "b", "b"}, childLabels(tc, tc.Root())); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestTraceContextRenderDetached(t *testing.T) {
	clock := newFake()
	tc := New().WithClock(clock).WithDetached(true).NewContext("R")
	parent := tc.Push("parent")
	tc.Push("orphan")
	tc.StepOut()
	tc.StepOut()
	tc.RemoveAndDetach(parent)

	got := tc.String()
	if !strings.Contains(got, "[Detached #") || !strings.Contains(got, "  orphan [0s]\n") {
		t.Errorf("Expected detached section, got %q", got)
	}
}

func TestTraceContextReport(t *testing.T) {
	tc, _ := newTestContext("R")
	tc.Push("A")
	tc.StepOut()

	r := tc.Report()
	if r.Root != "R" {
		t.Errorf("Expected root label R, got %q", r.Root)
	}
	if r.Context != tc.ID() {
		t.Errorf("Expected context %d, got %d", tc.ID(), r.Context)
	}
	if r.Text != tc.String() {
		t.Errorf("Expected report text to match render")
	}
	if !strings.Contains(r.String(), "[captured ") {
		t.Errorf("Expected capture header, got %q", r.String())
	}
}

func TestTraceContextIDsAreUnique(t *testing.T) {
	tracer := New()
	first := tracer.NewContext("one")
	second := tracer.NewContext("two")
	if second.ID() <= first.ID() {
		t.Errorf("Expected increasing ids, got %d then %d", first.ID(), second.ID())
	}
}

func TestTraceContextSnapshot(t *testing.T) {
	tc, clock := newTestContext("R")
	tc.Push("A")
	tc.Push("B")
	tc.StepOut()
	tc.StepOut()
	clock.Advance(3 * time.Second)

	snap := tc.Snapshot()
	if snap.Count() != 3 {
		t.Errorf("Expected 3 spans, got %d", snap.Count())
	}
	if snap.Slow {
		t.Error("Expected the root never to be slow")
	}
	b := snap.Find("B")
	if b == nil || !b.Slow || b.Elapsed != 3*time.Second {
		t.Errorf("Expected slow B with 3s elapsed, got %+v", b)
	}
}

// TestTraceContextCursorInvariant drives random operations and checks that the
// cursor always names a live node reachable from the root.
func TestTraceContextCursorInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 50; round++ {
		tc, _ := newTestContext("R")
		var nodes []NodeID

		for step := 0; step < 200; step++ {
			switch op := rng.Intn(5); {
			case op == 0 || len(nodes) == 0:
				nodes = append(nodes, tc.Push(Label(rune('a'+rng.Intn(26)))))
			case op == 1:
				if tc.Current() != tc.Root() {
					tc.StepOut()
				}
			case op == 2:
				if n, ok := pickMovable(rng, tc, nodes); ok {
					tc.StepIn(n)
				}
			case op == 3:
				if tc.Current() != tc.Root() && !tc.Tree().HasChildren(tc.Current()) {
					tc.Pop()
				}
			case op == 4:
				if n, ok := pickMovable(rng, tc, nodes); ok {
					tc.RemoveAndDetach(n)
				}
			}

			if !tc.Tree().Live(tc.Current()) {
				t.Fatalf("round %d step %d: cursor %s is not live", round, step, tc.Current())
			}
			if !reachable(tc, tc.Current()) {
				t.Fatalf("round %d step %d: cursor %s is not reachable from root", round, step, tc.Current())
			}
		}
	}
}

// pickMovable picks a live non-root node that is neither the cursor nor one of
// its ancestors: the only nodes a traced future can step into or drop.
func pickMovable(rng *rand.Rand, tc *TraceContext, nodes []NodeID) (NodeID, bool) {
	ancestors := map[NodeID]bool{}
	for n, ok := tc.Current(), true; ok; n, ok = tc.Tree().Parent(n) {
		ancestors[n] = true
	}
	var candidates []NodeID
	for _, n := range nodes {
		if tc.Tree().Live(n) && !ancestors[n] {
			candidates = append(candidates, n)
		}
	}
	if len(candidates) == 0 {
		return NodeID{}, false
	}
	return candidates[rng.Intn(len(candidates))], true
}

func TestTraceContextTreeIsReadOnly(t *testing.T) {
	tc, _ := newTestContext("R")
	a := tc.Push("a")
	tc.StepOut()

	span := tc.Tree().Get(a)
	span.Label = "renamed"
	if got := tc.Tree().Get(a).Label; got != "a" {
		t.Errorf("Expected the tree to keep label 'a', got %q", got)
	}
	if diff := cmp.Diff([]NodeID{tc.Root()}, tc.Tree().Roots(), cmp.AllowUnexported(NodeID{})); diff != "" {
		t.Errorf("roots mismatch (-want +got):\n%s", diff)
	}
	if children := tc.Tree().Children(tc.Root()); len(children) != 1 || children[0] != a {
		t.Errorf("Expected [%s], got %v", a, children)
	}
}
