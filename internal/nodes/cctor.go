package nodes

import (
	"ilc/internal/depgraph"
	"ilc/internal/objwriter"
	"ilc/internal/typesys"
)

// EagerCctorIndirectionNode is a pointer cell holding the entrypoint of a
// static constructor that startup code runs before main.
type EagerCctorIndirectionNode struct {
	f      *Factory
	method typesys.MethodID
	name   string
}

func (n *EagerCctorIndirectionNode) Name() string { return n.name }

func (n *EagerCctorIndirectionNode) Method() typesys.MethodID { return n.method }

func (n *EagerCctorIndirectionNode) StaticDependencies() []depgraph.Edge {
	return []depgraph.Edge{{Target: n.f.MethodEntrypoint(n.method), Reason: "static constructor code"}}
}

func (n *EagerCctorIndirectionNode) Section() objwriter.SectionKind { return objwriter.SectionData }

func (n *EagerCctorIndirectionNode) Encode(b *objwriter.Builder, _ bool) error {
	b.EmitPointerReloc(n.f.MethodEntrypoint(n.method), 0)
	return b.Err()
}

// MethodEntrypointNode is the compiled code of a method. Code is produced
// elsewhere, so here it is only an extern symbol.
type MethodEntrypointNode struct {
	method typesys.MethodID
	name   string
}

func (n *MethodEntrypointNode) Name() string { return n.name }

func (n *MethodEntrypointNode) Method() typesys.MethodID { return n.method }

func (n *MethodEntrypointNode) StaticDependencies() []depgraph.Edge { return nil }

func (n *MethodEntrypointNode) IsExtern() bool { return true }
