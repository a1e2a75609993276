// Package nodes defines the concrete artifact nodes of a compilation and
// the Factory that hands them out.
//
// Every accessor is memoized: asking twice for the same entity returns the
// same node, so the dependency graph can compare nodes by identity.
package nodes

import (
	"ilc/internal/depgraph"
	"ilc/internal/registry"
	"ilc/internal/typesys"
)

const (
	ThreadStaticRegionName = "__ThreadStaticRegionStart"
	GCStaticRegionName     = "__GCStaticRegionStart"
	MetadataBlobName       = "__embedded_metadata"
)

// Factory owns the oracle and the registries of every node kind.
type Factory struct {
	oracle typesys.Oracle
	ptr    int

	threadRegion *depgraph.Region
	gcRegion     *depgraph.Region
	metadata     *MetadataBlobNode

	types       *registry.Registry[typesys.TypeID, *TypeNode]
	threadStat  *registry.Registry[typesys.TypeID, *ThreadStaticsNode]
	gcStat      *registry.Registry[typesys.TypeID, *GCStaticsNode]
	nonGCStat   *registry.Registry[typesys.TypeID, *NonGCStaticsNode]
	descTypes   *registry.Registry[string, *GCStaticDescTypeNode]
	cctorCells  *registry.Registry[typesys.MethodID, *EagerCctorIndirectionNode]
	entrypoints *registry.Registry[typesys.MethodID, *MethodEntrypointNode]
}

func NewFactory(oracle typesys.Oracle) *Factory {
	return &Factory{
		oracle:       oracle,
		ptr:          oracle.Target().PointerSize,
		threadRegion: depgraph.NewRegion(ThreadStaticRegionName),
		gcRegion:     depgraph.NewRegion(GCStaticRegionName),
		metadata:     &MetadataBlobNode{},
		types:        registry.New[typesys.TypeID, *TypeNode](),
		threadStat:   registry.New[typesys.TypeID, *ThreadStaticsNode](),
		gcStat:       registry.New[typesys.TypeID, *GCStaticsNode](),
		nonGCStat:    registry.New[typesys.TypeID, *NonGCStaticsNode](),
		descTypes:    registry.New[string, *GCStaticDescTypeNode](),
		cctorCells:   registry.New[typesys.MethodID, *EagerCctorIndirectionNode](),
		entrypoints:  registry.New[typesys.MethodID, *MethodEntrypointNode](),
	}
}

func (f *Factory) Oracle() typesys.Oracle { return f.oracle }

func (f *Factory) PointerSize() int { return f.ptr }

func (f *Factory) ThreadStaticsRegion() *depgraph.Region { return f.threadRegion }

func (f *Factory) GCStaticsRegion() *depgraph.Region { return f.gcRegion }

func (f *Factory) MetadataBlob() *MetadataBlobNode { return f.metadata }

// TypeNode returns the runtime type descriptor node of t.
func (f *Factory) TypeNode(t typesys.TypeID) *TypeNode {
	return f.types.GetOrCreate(t, func(typesys.TypeID) *TypeNode {
		return &TypeNode{f: f, typ: t, name: "__EEType_" + f.oracle.MangledName(t)}
	})
}

func (f *Factory) ThreadStatics(t typesys.TypeID) *ThreadStaticsNode {
	return f.threadStat.GetOrCreate(t, func(typesys.TypeID) *ThreadStaticsNode {
		return &ThreadStaticsNode{statics: f.newStatics(t, "__ThreadStaticBase_")}
	})
}

func (f *Factory) GCStatics(t typesys.TypeID) *GCStaticsNode {
	return f.gcStat.GetOrCreate(t, func(typesys.TypeID) *GCStaticsNode {
		return &GCStaticsNode{statics: f.newStatics(t, "__GCStaticBase_")}
	})
}

func (f *Factory) NonGCStatics(t typesys.TypeID) *NonGCStaticsNode {
	return f.nonGCStat.GetOrCreate(t, func(typesys.TypeID) *NonGCStaticsNode {
		return &NonGCStaticsNode{statics: f.newStatics(t, "__NonGCStaticBase_")}
	})
}

func (f *Factory) newStatics(t typesys.TypeID, prefix string) statics {
	return statics{f: f, typ: t, name: prefix + f.oracle.MangledName(t)}
}

// GCStaticDescType returns the synthetic type node describing a statics
// blob with the given GC layout. Equal descriptors share one node.
func (f *Factory) GCStaticDescType(desc GCDesc) *GCStaticDescTypeNode {
	key := desc.String()
	return f.descTypes.GetOrCreate(key, func(string) *GCStaticDescTypeNode {
		return &GCStaticDescTypeNode{desc: desc, name: "__GCStaticEEType_" + key}
	})
}

// EagerCctorIndirection returns the cell through which the startup code
// runs m.
func (f *Factory) EagerCctorIndirection(m typesys.MethodID) *EagerCctorIndirectionNode {
	return f.cctorCells.GetOrCreate(m, func(typesys.MethodID) *EagerCctorIndirectionNode {
		return &EagerCctorIndirectionNode{f: f, method: m, name: "__EagerCctorIndirection_" + f.oracle.MethodMangledName(m)}
	})
}

// MethodEntrypoint returns the extern symbol of m's compiled code.
func (f *Factory) MethodEntrypoint(m typesys.MethodID) *MethodEntrypointNode {
	return f.entrypoints.GetOrCreate(m, func(typesys.MethodID) *MethodEntrypointNode {
		return &MethodEntrypointNode{method: m, name: f.oracle.MethodMangledName(m)}
	})
}

// eagerCctorEdge returns the edge to t's eager constructor cell, if any.
func (f *Factory) eagerCctorEdge(t typesys.TypeID) (depgraph.Edge, bool) {
	m, ok := f.oracle.EagerStaticConstructor(t)
	if !ok {
		return depgraph.Edge{}, false
	}
	return depgraph.Edge{Target: f.EagerCctorIndirection(m), Reason: "eager static constructor"}, true
}
