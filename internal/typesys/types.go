package typesys

import "fmt"

// TypeID uniquely identifies a type descriptor inside a Universe.
type TypeID uint32

// NoTypeID marks the absence of a type.
const NoTypeID TypeID = 0

// FieldID, MethodID and PropertyID identify members. Zero is invalid.
type (
	FieldID    uint32
	MethodID   uint32
	PropertyID uint32
)

const (
	NoFieldID    FieldID    = 0
	NoMethodID   MethodID   = 0
	NoPropertyID PropertyID = 0
)

// Kind enumerates the closed set of descriptor shapes.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindNamed
	KindSzArray
	KindMdArray
	KindByRef
	KindPointer
	KindTypeVar
	KindMethodVar
	KindInstantiated
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindNamed:
		return "named"
	case KindSzArray:
		return "szarray"
	case KindMdArray:
		return "mdarray"
	case KindByRef:
		return "byref"
	case KindPointer:
		return "pointer"
	case KindTypeVar:
		return "typevar"
	case KindMethodVar:
		return "methodvar"
	case KindInstantiated:
		return "instantiated"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Type is a compact structural descriptor. Two descriptors with equal
// fields intern to the same TypeID.
type Type struct {
	Kind  Kind
	Elem  TypeID   // array element, byref/pointer referent, generic definition
	Rank  uint32   // md arrays
	Index uint32   // generic variable position
	Def   uint32   // named types: index into the definition table
	Args  []TypeID // instantiation arguments, in order
}

// IsNamed reports whether the descriptor names a definition.
func (t Type) IsNamed() bool { return t.Kind == KindNamed }

// Descriptor helpers ---------------------------------------------------------

// MakeSzArray describes a single-dimensional zero-based array.
func MakeSzArray(elem TypeID) Type {
	return Type{Kind: KindSzArray, Elem: elem}
}

// MakeMdArray describes a multi-dimensional array of the given rank.
func MakeMdArray(elem TypeID, rank uint32) Type {
	return Type{Kind: KindMdArray, Elem: elem, Rank: rank}
}

// MakeByRef describes a managed reference.
func MakeByRef(elem TypeID) Type {
	return Type{Kind: KindByRef, Elem: elem}
}

// MakePointer describes an unmanaged pointer.
func MakePointer(elem TypeID) Type {
	return Type{Kind: KindPointer, Elem: elem}
}

// MakeTypeVar describes !index.
func MakeTypeVar(index uint32) Type {
	return Type{Kind: KindTypeVar, Index: index}
}

// MakeMethodVar describes !!index.
func MakeMethodVar(index uint32) Type {
	return Type{Kind: KindMethodVar, Index: index}
}

// MakeInstantiation describes def<args...>.
func MakeInstantiation(def TypeID, args ...TypeID) Type {
	return Type{Kind: KindInstantiated, Elem: def, Args: append([]TypeID(nil), args...)}
}
