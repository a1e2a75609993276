package nodes

import (
	"bytes"
	"context"
	"testing"

	"ilc/internal/depgraph"
	"ilc/internal/objwriter"
	"ilc/internal/typesys"
)

func newFoo(t *testing.T) (*typesys.Universe, typesys.TypeID) {
	t.Helper()
	u := typesys.NewUniverse(typesys.X64())
	obj := u.DefineType(typesys.TypeDef{Name: "Object", Namespace: "System"})
	foo := u.DefineType(typesys.TypeDef{Name: "Foo", Base: obj})
	u.AddField(foo, typesys.Field{Name: "cache", Type: obj, Static: true, IsGCRef: true})
	u.AddField(foo, typesys.Field{Name: "count", Type: obj, Static: true, Size: 4})
	u.AddField(foo, typesys.Field{Name: "current", Type: obj, Static: true, ThreadStatic: true, IsGCRef: true})
	return u, foo
}

func TestGCDescLength(t *testing.T) {
	tests := []struct {
		size, ptr int
		refs      []int
		want      string
	}{
		{24, 8, nil, "0000"},
		{24, 8, []int{0, 16}, "1010"},
		{0, 8, nil, "0"},
		{12, 4, []int{4, 6}, "0100"},
		{7, 8, []int{8}, "0"},
	}
	for _, tt := range tests {
		d := NewGCDesc(tt.size, tt.ptr, tt.refs)
		if d.Len() != tt.size/tt.ptr+1 {
			t.Fatalf("NewGCDesc(%d, %d).Len() = %d, want %d", tt.size, tt.ptr, d.Len(), tt.size/tt.ptr+1)
		}
		if got := d.String(); got != tt.want {
			t.Fatalf("NewGCDesc(%d, %d, %v) = %s, want %s", tt.size, tt.ptr, tt.refs, got, tt.want)
		}
	}
}

func TestStaticsSymbolNames(t *testing.T) {
	u, foo := newFoo(t)
	f := NewFactory(u)
	tests := []struct {
		got, want string
	}{
		{f.ThreadStatics(foo).Name(), "__ThreadStaticBase_Foo"},
		{f.GCStatics(foo).Name(), "__GCStaticBase_Foo"},
		{f.NonGCStatics(foo).Name(), "__NonGCStaticBase_Foo"},
		{f.TypeNode(foo).Name(), "__EEType_Foo"},
		{f.GCStatics(foo).Desc().String(), "10"},
		{f.GCStaticDescType(NewGCDesc(16, 8, []int{8})).Name(), "__GCStaticEEType_010"},
		{f.ThreadStaticsRegion().Name(), ThreadStaticRegionName},
		{f.GCStaticsRegion().Name(), GCStaticRegionName},
		{f.MetadataBlob().Name(), MetadataBlobName},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("name = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestFactoryIsMemoized(t *testing.T) {
	u, foo := newFoo(t)
	f := NewFactory(u)
	if f.TypeNode(foo) != f.TypeNode(foo) {
		t.Fatalf("TypeNode is not memoized")
	}
	if f.ThreadStatics(foo) != f.ThreadStatics(foo) {
		t.Fatalf("ThreadStatics is not memoized")
	}
	a := f.GCStaticDescType(NewGCDesc(24, 8, []int{8}))
	b := f.GCStaticDescType(NewGCDesc(24, 8, []int{8}))
	if a != b {
		t.Fatalf("equal descriptors produced different nodes")
	}
	if a == f.GCStaticDescType(NewGCDesc(24, 8, nil)) {
		t.Fatalf("different descriptors share a node")
	}
}

func TestEagerCctorGatesDependency(t *testing.T) {
	u, foo := newFoo(t)
	f := NewFactory(u)
	if n := len(f.ThreadStatics(foo).StaticDependencies()); n != 2 {
		t.Fatalf("thread statics deps without cctor = %d, want 2", n)
	}
	if n := len(f.NonGCStatics(foo).StaticDependencies()); n != 0 {
		t.Fatalf("non-GC statics deps without cctor = %d, want 0", n)
	}

	cctor := u.AddMethod(foo, typesys.Method{Name: ".cctor", Static: true})
	u.SetEagerCctor(foo, cctor)
	g := NewFactory(u)
	deps := g.ThreadStatics(foo).StaticDependencies()
	if len(deps) != 3 {
		t.Fatalf("thread statics deps with cctor = %d, want 3", len(deps))
	}
	cell := g.EagerCctorIndirection(cctor)
	if deps[2].Target != cell {
		t.Fatalf("third dependency = %s, want %s", deps[2].Target.Name(), cell.Name())
	}
	if cell.Name() != "__EagerCctorIndirection_"+u.MethodMangledName(cctor) {
		t.Fatalf("cell name = %q", cell.Name())
	}
	if len(g.GCStatics(foo).StaticDependencies()) != 3 {
		t.Fatalf("GC statics should also depend on the cctor cell")
	}
	if ep := cell.StaticDependencies()[0].Target; ep != g.MethodEntrypoint(cctor) {
		t.Fatalf("cell does not depend on the entrypoint")
	}
}

func TestDescTypeEncoding(t *testing.T) {
	n := &GCStaticDescTypeNode{desc: NewGCDesc(72, 8, []int{0, 64}), name: "d"}
	b := objwriter.NewBuilder(8)
	if err := n.Encode(b, true); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := []byte{10, 0, 0, 0, 80, 0, 0, 0, 0x01, 0x01}
	if got := b.Build().Data; !bytes.Equal(got, want) {
		t.Fatalf("descriptor bytes = % x, want % x", got, want)
	}
}

func TestStaticsRegionsLayout(t *testing.T) {
	u, foo := newFoo(t)
	bar := u.DefineType(typesys.TypeDef{Name: "Bar"})
	u.AddField(bar, typesys.Field{Name: "tls", Type: foo, Static: true, ThreadStatic: true, Size: 4})
	f := NewFactory(u)

	a := depgraph.NewAnalyzer()
	for _, n := range []depgraph.Node{f.ThreadStatics(foo), f.ThreadStatics(bar), f.GCStatics(foo)} {
		if err := a.AddRoot(n, "test"); err != nil {
			t.Fatalf("AddRoot: %v", err)
		}
	}
	if err := a.ComputeMarkedNodes(context.Background()); err != nil {
		t.Fatalf("ComputeMarkedNodes: %v", err)
	}
	if err := a.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	members := f.ThreadStaticsRegion().Members()
	if len(members) != 2 || members[0].Name() != "__ThreadStaticBase_Bar" {
		t.Fatalf("thread region members = %v", members)
	}
	if !a.IsMarked(f.GCStaticsRegion()) || !a.IsMarked(f.GCStaticDescType(NewGCDesc(8, 8, []int{0}))) {
		t.Fatalf("GC region or its descriptor type not marked")
	}

	var symbols []objwriter.Symbol
	for _, n := range a.MarkedNodes() {
		if _, embedded := n.(depgraph.EmbeddedNode); embedded {
			continue
		}
		symbols = append(symbols, n)
	}
	obj, err := objwriter.NewWriter(u.Target()).Write(context.Background(), symbols)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	fooSlot, ok := obj.Address("__ThreadStaticBase_Foo")
	if !ok {
		t.Fatalf("thread statics slot of Foo has no address")
	}
	barSlot, _ := obj.Address("__ThreadStaticBase_Bar")
	if fooSlot-barSlot != 8 {
		t.Fatalf("Foo slot at %#x, Bar slot at %#x; want 8 bytes apart", fooSlot, barSlot)
	}
	desc, _ := obj.Address("__GCStaticEEType_10")
	if got, err := obj.ReadPointer("__ThreadStaticBase_Foo", 0); err != nil || got != desc {
		t.Fatalf("Foo thread slot holds %#x (%v), want descriptor at %#x", got, err, desc)
	}
}
