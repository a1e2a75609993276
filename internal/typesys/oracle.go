package typesys

// Oracle is the read-only view of the managed type universe consumed by the
// graph, the node factory and the metadata transform. Returned definitions
// and slices are owned by the oracle and must not be modified.
type Oracle interface {
	Target() Target

	// Lookup returns the structural descriptor for id.
	Lookup(id TypeID) (Type, bool)
	// Definition returns the body of a named type (KindNamed only).
	Definition(id TypeID) (*TypeDef, bool)

	Field(id FieldID) (*Field, bool)
	Method(id MethodID) (*Method, bool)
	Property(id PropertyID) (*Property, bool)

	// EagerStaticConstructor reports the type's static constructor when it
	// must run at startup instead of lazily on first access.
	EagerStaticConstructor(id TypeID) (MethodID, bool)
	// Statics returns the static storage shape of a named type.
	Statics(id TypeID) StaticsLayout

	// MangledName is the deterministic, collision-free symbol stem for id.
	MangledName(id TypeID) string
	MethodMangledName(id MethodID) string
}

// LayoutKind selects how instance fields are placed.
type LayoutKind uint8

const (
	LayoutAuto LayoutKind = iota
	LayoutSequential
	LayoutExplicit
)

// TypeLayout carries the layout metadata declared on a type. Values are
// int64 because the oracle does not know the output's representable range.
type TypeLayout struct {
	Kind    LayoutKind
	Size    int64
	Packing int64
}

// GenericParam is a formal type parameter of a generic definition.
type GenericParam struct {
	Name string
}

// TypeDef is the body of a named type.
type TypeDef struct {
	Name          string
	Namespace     string
	Module        string
	Containing    TypeID // NoTypeID for top-level types
	Base          TypeID
	Interfaces    []TypeID
	GenericParams []GenericParam
	Fields        []FieldID
	Methods       []MethodID
	Properties    []PropertyID
	Layout        TypeLayout

	IsInterface     bool
	IsValueType     bool
	Sealed          bool
	BeforeFieldInit bool

	// Attributes holds the raw attribute word when the type wraps an
	// existing on-disk definition; HasAttributes says whether it is valid.
	Attributes    uint32
	HasAttributes bool

	EagerCctor MethodID
}

// Field describes one field.
type Field struct {
	Name         string
	Owner        TypeID
	Type         TypeID
	Static       bool
	ThreadStatic bool
	IsGCRef      bool // slot holds an object reference
	Size         int  // bytes; 0 means pointer sized
}

// Method describes one method.
type Method struct {
	Name         string
	Owner        TypeID
	Params       []TypeID
	Return       TypeID // NoTypeID means void
	Static       bool
	GenericArity uint32
}

// Property describes one property.
type Property struct {
	Name   string
	Owner  TypeID
	Type   TypeID
	Getter MethodID
	Setter MethodID
}

// StaticsLayout is the static storage of a type split by storage class.
// Ref offsets are byte offsets of object reference slots in their block.
type StaticsLayout struct {
	NonGCSize        int
	GCSize           int
	GCRefOffsets     []int
	ThreadSize       int
	ThreadRefOffsets []int
}
