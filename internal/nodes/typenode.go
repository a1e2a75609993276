package nodes

import (
	"fmt"

	"fortio.org/safecast"

	"ilc/internal/depgraph"
	"ilc/internal/objwriter"
	"ilc/internal/typesys"
)

// Type descriptor flag bits, above the typesys.Kind in the low byte.
const (
	typeFlagValueType uint16 = 1 << 8
	typeFlagInterface uint16 = 1 << 9
	typeFlagGeneric   uint16 = 1 << 10
)

// TypeNode is the runtime descriptor of one type.
//
// Layout, pointer aligned:
//
//	u16 kind | flags
//	u16 interface count
//	u32 base size
//	ptr related type (base type, element type or generic definition)
//	ptr interfaces...
type TypeNode struct {
	f    *Factory
	typ  typesys.TypeID
	name string
}

func (n *TypeNode) Name() string { return n.name }

// Type is the described type.
func (n *TypeNode) Type() typesys.TypeID { return n.typ }

func (n *TypeNode) Section() objwriter.SectionKind { return objwriter.SectionReadOnly }

func (n *TypeNode) StaticDependencies() []depgraph.Edge {
	typ, ok := n.f.oracle.Lookup(n.typ)
	if !ok {
		panic(fmt.Sprintf("nodes: unknown type#%d", n.typ))
	}
	var deps []depgraph.Edge
	switch typ.Kind {
	case typesys.KindNamed:
		def, _ := n.f.oracle.Definition(n.typ)
		if def.Base != typesys.NoTypeID {
			deps = append(deps, depgraph.Edge{Target: n.f.TypeNode(def.Base), Reason: "base type"})
		}
		for _, iface := range def.Interfaces {
			deps = append(deps, depgraph.Edge{Target: n.f.TypeNode(iface), Reason: "interface"})
		}
	case typesys.KindSzArray, typesys.KindMdArray, typesys.KindByRef, typesys.KindPointer:
		deps = append(deps, depgraph.Edge{Target: n.f.TypeNode(typ.Elem), Reason: "element type"})
	case typesys.KindInstantiated:
		deps = append(deps, depgraph.Edge{Target: n.f.TypeNode(typ.Elem), Reason: "generic definition"})
		for _, arg := range typ.Args {
			deps = append(deps, depgraph.Edge{Target: n.f.TypeNode(arg), Reason: "generic argument"})
		}
		// the instantiation inherits the definition's interfaces
		if def, ok := n.f.oracle.Definition(typ.Elem); ok {
			for _, iface := range def.Interfaces {
				deps = append(deps, depgraph.Edge{Target: n.f.TypeNode(iface), Reason: "interface"})
			}
		}
	case typesys.KindTypeVar, typesys.KindMethodVar:
	case typesys.KindInvalid:
		panic(fmt.Sprintf("nodes: invalid type#%d", n.typ))
	}
	return deps
}

// related returns the type stored in the related-type slot and the
// interfaces of the descriptor.
func (n *TypeNode) related() (typesys.Type, typesys.TypeID, []typesys.TypeID) {
	typ, _ := n.f.oracle.Lookup(n.typ)
	switch typ.Kind {
	case typesys.KindNamed:
		def, _ := n.f.oracle.Definition(n.typ)
		return typ, def.Base, def.Interfaces
	case typesys.KindInstantiated:
		var ifaces []typesys.TypeID
		if def, ok := n.f.oracle.Definition(typ.Elem); ok {
			ifaces = def.Interfaces
		}
		return typ, typ.Elem, ifaces
	case typesys.KindSzArray, typesys.KindMdArray, typesys.KindByRef, typesys.KindPointer:
		return typ, typ.Elem, nil
	default:
		return typ, typesys.NoTypeID, nil
	}
}

func (n *TypeNode) flags(typ typesys.Type) uint16 {
	flags := uint16(typ.Kind)
	id := n.typ
	if typ.Kind == typesys.KindInstantiated {
		flags |= typeFlagGeneric
		id = typ.Elem
	}
	if def, ok := n.f.oracle.Definition(id); ok {
		if def.IsValueType {
			flags |= typeFlagValueType
		}
		if def.IsInterface {
			flags |= typeFlagInterface
		}
	}
	return flags
}

// baseSize is the instance size: the declared layout size of named value
// types, a pointer for everything else.
func (n *TypeNode) baseSize(typ typesys.Type) int64 {
	id := n.typ
	if typ.Kind == typesys.KindInstantiated {
		id = typ.Elem
	}
	if def, ok := n.f.oracle.Definition(id); ok && def.Layout.Size > 0 {
		return def.Layout.Size
	}
	return int64(n.f.ptr)
}

func (n *TypeNode) Encode(b *objwriter.Builder, _ bool) error {
	typ, related, ifaces := n.related()
	count, err := safecast.Conv[uint16](len(ifaces))
	if err != nil {
		return &objwriter.Error{Kind: objwriter.ErrValueOverflow, Node: n.name, Detail: "interface count", Err: err}
	}
	size, err := safecast.Conv[uint32](n.baseSize(typ))
	if err != nil {
		return &objwriter.Error{Kind: objwriter.ErrValueOverflow, Node: n.name, Detail: "base size", Err: err}
	}
	b.RequireAlignment(b.PointerSize())
	b.EmitUint16(n.flags(typ))
	b.EmitUint16(count)
	b.EmitUint32(size)
	b.PadAlignment(b.PointerSize())
	if related != typesys.NoTypeID {
		b.EmitPointerReloc(n.f.TypeNode(related), 0)
	} else {
		b.EmitZeros(b.PointerSize())
	}
	for _, iface := range ifaces {
		b.EmitPointerReloc(n.f.TypeNode(iface), 0)
	}
	return b.Err()
}
