package depgraph

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"testing"

	"ilc/internal/objwriter"
)

type testNode struct {
	name  string
	deps  []Edge
	calls atomic.Int32
	boom  bool
}

func (n *testNode) Name() string { return n.name }

func (n *testNode) StaticDependencies() []Edge {
	n.calls.Add(1)
	if n.boom {
		panic("oracle exploded")
	}
	return n.deps
}

type member struct {
	testNode
	region *Region
	size   int
}

func (m *member) Region() *Region            { return m.region }
func (m *member) Alignment() int             { return 8 }
func (m *member) OnMarked() []MarkMessage    { return RegisterIn(m) }
func (m *member) Encode(b *objwriter.Builder, _ bool) error {
	b.EmitZeros(m.size)
	return nil
}

func link(from *testNode, reason string, to ...Node) {
	for _, t := range to {
		from.deps = append(from.deps, Edge{Target: t, Reason: reason})
	}
}

// graph builds a small DAG with a cycle and an unreachable node.
func graph() (roots []*testNode, all []*testNode) {
	names := []string{"A", "B", "C", "D", "E", "F", "G", "H", "Unreached"}
	nodes := make(map[string]*testNode, len(names))
	for _, n := range names {
		nodes[n] = &testNode{name: n}
		all = append(all, nodes[n])
	}
	link(nodes["A"], "base type", nodes["B"], nodes["C"])
	link(nodes["B"], "field", nodes["D"])
	link(nodes["C"], "field", nodes["D"], nodes["E"])
	link(nodes["D"], "cycle", nodes["A"])
	link(nodes["F"], "interface", nodes["G"])
	link(nodes["G"], "statics", nodes["H"])
	link(nodes["Unreached"], "never", nodes["A"])
	return []*testNode{nodes["A"], nodes["F"]}, all
}

func markedNames(a *Analyzer) []string {
	var out []string
	for _, n := range a.MarkedNodes() {
		out = append(out, n.Name())
	}
	return out
}

func run(t *testing.T, opts ...Option) (*Analyzer, []*testNode) {
	t.Helper()
	roots, all := graph()
	a := NewAnalyzer(opts...)
	for _, r := range roots {
		if err := a.AddRoot(r, "root"); err != nil {
			t.Fatalf("AddRoot: %v", err)
		}
	}
	if err := a.ComputeMarkedNodes(context.Background()); err != nil {
		t.Fatalf("ComputeMarkedNodes: %v", err)
	}
	return a, all
}

func TestMarkReachesTransitiveClosure(t *testing.T) {
	a, all := run(t)
	want := []string{"A", "B", "C", "D", "E", "F", "G", "H"}
	if got := markedNames(a); !slices.Equal(got, want) {
		t.Fatalf("marked = %v, want %v", got, want)
	}
	for _, n := range all {
		if c := n.calls.Load(); n.name != "Unreached" && c != 1 {
			t.Fatalf("%s: dependencies computed %d times, want 1", n.name, c)
		}
	}
	if a.IsMarked(all[len(all)-1]) {
		t.Fatalf("unreachable node was marked")
	}
}

func TestMarkedSetIsOrderIndependent(t *testing.T) {
	base, _ := run(t)
	want := markedNames(base)
	for seed := range uint64(20) {
		a, _ := run(t, WithShuffle(seed))
		if got := markedNames(a); !slices.Equal(got, want) {
			t.Fatalf("seed %d: marked = %v, want %v", seed, got, want)
		}
		p, _ := run(t, WithParallelism(4), WithShuffle(seed))
		if got := markedNames(p); !slices.Equal(got, want) {
			t.Fatalf("parallel seed %d: marked = %v, want %v", seed, got, want)
		}
	}
}

func TestWhyMarked(t *testing.T) {
	a, all := run(t)
	h := all[7]
	chain := a.WhyMarked(h)
	var got []string
	for _, e := range chain {
		got = append(got, fmt.Sprintf("%s:%s", e.Target.Name(), e.Reason))
	}
	want := []string{"F:root", "G:interface", "H:statics"}
	if !slices.Equal(got, want) {
		t.Fatalf("WhyMarked(H) = %v, want %v", got, want)
	}
	if a.WhyMarked(all[8]) != nil {
		t.Fatalf("WhyMarked of an unmarked node should be nil")
	}
}

func TestDependencyPanicBecomesError(t *testing.T) {
	bad := &testNode{name: "Bad", boom: true}
	root := &testNode{name: "Root"}
	link(root, "uses", bad)
	for _, par := range []int{1, 4} {
		a := NewAnalyzer(WithParallelism(par))
		_ = a.AddRoot(root, "root")
		err := a.ComputeMarkedNodes(context.Background())
		var gerr *Error
		if !errors.As(err, &gerr) || gerr.Kind != ErrDependencyPanic || gerr.Node != "Bad" {
			t.Fatalf("parallelism %d: err = %v, want ErrDependencyPanic on Bad", par, err)
		}
	}
}

func TestRegionMembersFollowNameOrder(t *testing.T) {
	region := NewRegion("__Region")
	mk := func(name string, size int) *member {
		m := &member{testNode: testNode{name: name}, region: region, size: size}
		m.deps = []Edge{{Target: region, Reason: "region"}}
		return m
	}
	zeta, alpha, mid := mk("zeta", 3), mk("alpha", 16), mk("mid", 8)
	root := &testNode{name: "root"}
	link(root, "statics", zeta, alpha, mid)

	a := NewAnalyzer(WithShuffle(7))
	_ = a.AddRoot(root, "root")
	if err := a.ComputeMarkedNodes(context.Background()); err != nil {
		t.Fatalf("ComputeMarkedNodes: %v", err)
	}
	if _, err := region.OffsetOf(alpha); !isKind(err, ErrRegionNotFinalized) {
		t.Fatalf("OffsetOf before Finalize: err = %v", err)
	}
	if err := a.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if _, err := region.Size(); !isKind(err, ErrRegionNotLaidOut) {
		t.Fatalf("Size before layout: err = %v", err)
	}

	b := objwriter.NewBuilder(8)
	if err := region.Encode(b, true); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	wantOffsets := map[*member]int{alpha: 0, mid: 16, zeta: 24}
	for m, want := range wantOffsets {
		got, err := region.OffsetOf(m)
		if err != nil || got != want {
			t.Fatalf("OffsetOf(%s) = %d, %v; want %d", m.name, got, err, want)
		}
	}
	if size, _ := region.Size(); size != 27 {
		t.Fatalf("Size = %d, want 27", size)
	}

	if err := a.AddRoot(root, "late"); !isKind(err, ErrMarkAfterFinalize) {
		t.Fatalf("AddRoot after Finalize: err = %v", err)
	}
}

func TestForeignMemberIsRejected(t *testing.T) {
	home, other := NewRegion("home"), NewRegion("other")
	m := &member{testNode: testNode{name: "m"}, region: home}
	wrong := &redirect{member: m, to: other}
	a := NewAnalyzer()
	_ = a.AddRoot(wrong, "root")
	if err := a.ComputeMarkedNodes(context.Background()); !isKind(err, ErrForeignMember) {
		t.Fatalf("err = %v, want ErrForeignMember", err)
	}
}

func TestMembersRequireMarkedRegion(t *testing.T) {
	region := NewRegion("orphan")
	m := &member{testNode: testNode{name: "m"}, region: region}
	a := NewAnalyzer()
	_ = a.AddRoot(m, "root")
	if err := a.ComputeMarkedNodes(context.Background()); err != nil {
		t.Fatalf("ComputeMarkedNodes: %v", err)
	}
	if err := a.Finalize(); !isKind(err, ErrUnmarkedRegion) {
		t.Fatalf("Finalize: err = %v, want ErrUnmarkedRegion", err)
	}
}

type redirect struct {
	*member
	to *Region
}

func (r *redirect) OnMarked() []MarkMessage {
	return []MarkMessage{{Region: r.to, Member: r.member}}
}

func isKind(err error, kind ErrorKind) bool {
	var gerr *Error
	return errors.As(err, &gerr) && gerr.Kind == kind
}
