package nodes

import (
	"ilc/internal/depgraph"
	"ilc/internal/objwriter"
	"ilc/internal/typesys"
)

// statics is the part shared by the three storage classes of a type's
// static fields.
type statics struct {
	f    *Factory
	typ  typesys.TypeID
	name string
}

func (s *statics) Name() string { return s.name }

// Type is the owning type.
func (s *statics) Type() typesys.TypeID { return s.typ }

func (s *statics) layout() typesys.StaticsLayout { return s.f.oracle.Statics(s.typ) }

// regionDeps is the dependency list of an embedded statics node: the region
// it lives in, the descriptor type of its blob, and the eager static
// constructor cell when the type has one.
func (s *statics) regionDeps(region *depgraph.Region, desc GCDesc) []depgraph.Edge {
	deps := make([]depgraph.Edge, 0, 3)
	deps = append(deps,
		depgraph.Edge{Target: region, Reason: "statics region"},
		depgraph.Edge{Target: s.f.GCStaticDescType(desc), Reason: "GC static descriptor"},
	)
	if e, ok := s.f.eagerCctorEdge(s.typ); ok {
		deps = append(deps, e)
	}
	return deps
}

// ThreadStaticsNode is a type's slot in the thread statics region. The
// runtime allocates the per-thread blob from the descriptor it points at.
type ThreadStaticsNode struct {
	statics
}

func (n *ThreadStaticsNode) Desc() GCDesc {
	l := n.layout()
	return NewGCDesc(l.ThreadSize, n.f.ptr, l.ThreadRefOffsets)
}

func (n *ThreadStaticsNode) StaticDependencies() []depgraph.Edge {
	return n.regionDeps(n.f.threadRegion, n.Desc())
}

func (n *ThreadStaticsNode) OnMarked() []depgraph.MarkMessage { return depgraph.RegisterIn(n) }

func (n *ThreadStaticsNode) Region() *depgraph.Region { return n.f.threadRegion }

func (n *ThreadStaticsNode) Alignment() int { return n.f.ptr }

func (n *ThreadStaticsNode) Encode(b *objwriter.Builder, _ bool) error {
	b.EmitPointerReloc(n.f.GCStaticDescType(n.Desc()), 0)
	return b.Err()
}

// GCStaticsNode is a type's slot in the GC statics region. It reaches its
// descriptor through an indirection cell because the blob is allocated on
// the managed heap at startup.
type GCStaticsNode struct {
	statics
}

func (n *GCStaticsNode) Desc() GCDesc {
	l := n.layout()
	return NewGCDesc(l.GCSize, n.f.ptr, l.GCRefOffsets)
}

func (n *GCStaticsNode) StaticDependencies() []depgraph.Edge {
	return n.regionDeps(n.f.gcRegion, n.Desc())
}

func (n *GCStaticsNode) OnMarked() []depgraph.MarkMessage { return depgraph.RegisterIn(n) }

func (n *GCStaticsNode) Region() *depgraph.Region { return n.f.gcRegion }

func (n *GCStaticsNode) Alignment() int { return n.f.ptr }

func (n *GCStaticsNode) Encode(b *objwriter.Builder, _ bool) error {
	b.EmitIndirectionReloc(n.f.GCStaticDescType(n.Desc()))
	return b.Err()
}

// NonGCStaticsNode holds a type's plain static data in the data section.
type NonGCStaticsNode struct {
	statics
}

// StaticDependencies is only the eager constructor cell, if any.
func (n *NonGCStaticsNode) StaticDependencies() []depgraph.Edge {
	if e, ok := n.f.eagerCctorEdge(n.typ); ok {
		return []depgraph.Edge{e}
	}
	return nil
}

func (n *NonGCStaticsNode) Section() objwriter.SectionKind { return objwriter.SectionData }

// Size is the byte size of the blob.
func (n *NonGCStaticsNode) Size() int { return n.layout().NonGCSize }

func (n *NonGCStaticsNode) Encode(b *objwriter.Builder, _ bool) error {
	b.RequireAlignment(n.f.ptr)
	b.EmitZeros(n.Size())
	return nil
}
