package typesys

import (
	"encoding/binary"
	"fmt"
	"strings"

	"fortio.org/safecast"
)

// Universe is an in-memory Oracle. Descriptors are interned structurally,
// so equal shapes share a TypeID.
//
// A Universe is built single-threaded and then only read; reads are safe
// for concurrent use once building is done.
type Universe struct {
	target  Target
	types   []Type
	index   map[typeKey]TypeID
	defs    []*TypeDef
	fields  []*Field
	methods []*Method
	props   []*Property
	byName  map[string]TypeID
}

type typeKey struct {
	Kind  Kind
	Elem  TypeID
	Rank  uint32
	Index uint32
	Def   uint32
	Args  string
}

// NewUniverse constructs an empty universe for target.
func NewUniverse(target Target) *Universe {
	u := &Universe{
		target: target,
		index:  make(map[typeKey]TypeID, 64),
		byName: make(map[string]TypeID, 64),
	}
	// index 0 is the invalid sentinel in every table
	u.types = append(u.types, Type{Kind: KindInvalid})
	u.defs = append(u.defs, nil)
	u.fields = append(u.fields, nil)
	u.methods = append(u.methods, nil)
	u.props = append(u.props, nil)
	return u
}

// Target implements Oracle.
func (u *Universe) Target() Target { return u.target }

func keyOf(t Type) typeKey {
	k := typeKey{Kind: t.Kind, Elem: t.Elem, Rank: t.Rank, Index: t.Index, Def: t.Def}
	if len(t.Args) > 0 {
		buf := make([]byte, 4*len(t.Args))
		for i, a := range t.Args {
			binary.LittleEndian.PutUint32(buf[i*4:], uint32(a))
		}
		k.Args = string(buf)
	}
	return k
}

// Intern ensures the provided descriptor has a stable TypeID.
func (u *Universe) Intern(t Type) TypeID {
	if t.Kind == KindInvalid {
		return NoTypeID
	}
	key := keyOf(t)
	if id, ok := u.index[key]; ok {
		return id
	}
	n, err := safecast.Conv[uint32](len(u.types))
	if err != nil {
		panic(fmt.Errorf("len(types) overflow: %w", err))
	}
	id := TypeID(n)
	t.Args = append([]TypeID(nil), t.Args...)
	u.types = append(u.types, t)
	u.index[key] = id
	return id
}

// SzArray interns elem[].
func (u *Universe) SzArray(elem TypeID) TypeID { return u.Intern(MakeSzArray(elem)) }

// MdArray interns elem[,...] of the given rank.
func (u *Universe) MdArray(elem TypeID, rank uint32) TypeID {
	return u.Intern(MakeMdArray(elem, rank))
}

// ByRef interns elem&.
func (u *Universe) ByRef(elem TypeID) TypeID { return u.Intern(MakeByRef(elem)) }

// Pointer interns elem*.
func (u *Universe) Pointer(elem TypeID) TypeID { return u.Intern(MakePointer(elem)) }

// TypeVar interns !index.
func (u *Universe) TypeVar(index uint32) TypeID { return u.Intern(MakeTypeVar(index)) }

// MethodVar interns !!index.
func (u *Universe) MethodVar(index uint32) TypeID { return u.Intern(MakeMethodVar(index)) }

// Instantiate interns def<args...>.
func (u *Universe) Instantiate(def TypeID, args ...TypeID) TypeID {
	return u.Intern(MakeInstantiation(def, args...))
}

// DefineType registers a named type. Member lists on def are ignored; use
// AddField, AddMethod and AddProperty to populate them.
func (u *Universe) DefineType(def TypeDef) TypeID {
	n, err := safecast.Conv[uint32](len(u.defs))
	if err != nil {
		panic(fmt.Errorf("len(defs) overflow: %w", err))
	}
	stored := def
	stored.Interfaces = append([]TypeID(nil), def.Interfaces...)
	stored.GenericParams = append([]GenericParam(nil), def.GenericParams...)
	stored.Fields = nil
	stored.Methods = nil
	stored.Properties = nil
	u.defs = append(u.defs, &stored)
	id := u.Intern(Type{Kind: KindNamed, Def: n})
	u.byName[u.FullName(id)] = id
	return id
}

// AddField appends a field to owner in declaration order.
func (u *Universe) AddField(owner TypeID, f Field) FieldID {
	def := u.mustDef(owner)
	n, err := safecast.Conv[uint32](len(u.fields))
	if err != nil {
		panic(fmt.Errorf("len(fields) overflow: %w", err))
	}
	f.Owner = owner
	u.fields = append(u.fields, &f)
	id := FieldID(n)
	def.Fields = append(def.Fields, id)
	return id
}

// AddMethod appends a method to owner in declaration order.
func (u *Universe) AddMethod(owner TypeID, m Method) MethodID {
	def := u.mustDef(owner)
	n, err := safecast.Conv[uint32](len(u.methods))
	if err != nil {
		panic(fmt.Errorf("len(methods) overflow: %w", err))
	}
	m.Owner = owner
	m.Params = append([]TypeID(nil), m.Params...)
	u.methods = append(u.methods, &m)
	id := MethodID(n)
	def.Methods = append(def.Methods, id)
	return id
}

// AddProperty appends a property to owner in declaration order.
func (u *Universe) AddProperty(owner TypeID, p Property) PropertyID {
	def := u.mustDef(owner)
	n, err := safecast.Conv[uint32](len(u.props))
	if err != nil {
		panic(fmt.Errorf("len(props) overflow: %w", err))
	}
	p.Owner = owner
	u.props = append(u.props, &p)
	id := PropertyID(n)
	def.Properties = append(def.Properties, id)
	return id
}

// SetEagerCctor marks m as owner's eager static constructor.
func (u *Universe) SetEagerCctor(owner TypeID, m MethodID) {
	u.mustDef(owner).EagerCctor = m
}

func (u *Universe) mustDef(id TypeID) *TypeDef {
	def, ok := u.Definition(id)
	if !ok {
		panic(fmt.Sprintf("typesys: type#%d is not a named type", id))
	}
	return def
}

// Lookup implements Oracle.
func (u *Universe) Lookup(id TypeID) (Type, bool) {
	if id == NoTypeID || int(id) >= len(u.types) {
		return Type{}, false
	}
	return u.types[id], true
}

// Definition implements Oracle.
func (u *Universe) Definition(id TypeID) (*TypeDef, bool) {
	t, ok := u.Lookup(id)
	if !ok || t.Kind != KindNamed {
		return nil, false
	}
	if t.Def == 0 || int(t.Def) >= len(u.defs) {
		return nil, false
	}
	return u.defs[t.Def], true
}

// Field implements Oracle.
func (u *Universe) Field(id FieldID) (*Field, bool) {
	if id == NoFieldID || int(id) >= len(u.fields) {
		return nil, false
	}
	return u.fields[id], true
}

// Method implements Oracle.
func (u *Universe) Method(id MethodID) (*Method, bool) {
	if id == NoMethodID || int(id) >= len(u.methods) {
		return nil, false
	}
	return u.methods[id], true
}

// Property implements Oracle.
func (u *Universe) Property(id PropertyID) (*Property, bool) {
	if id == NoPropertyID || int(id) >= len(u.props) {
		return nil, false
	}
	return u.props[id], true
}

// EagerStaticConstructor implements Oracle.
func (u *Universe) EagerStaticConstructor(id TypeID) (MethodID, bool) {
	def, ok := u.Definition(id)
	if !ok || def.EagerCctor == NoMethodID {
		return NoMethodID, false
	}
	return def.EagerCctor, true
}

// ByName resolves a full type name produced by FullName.
func (u *Universe) ByName(name string) (TypeID, bool) {
	id, ok := u.byName[name]
	return id, ok
}

// FullName renders the qualified name of id. Nested types are joined to
// their containing type with '+'.
func (u *Universe) FullName(id TypeID) string {
	var sb strings.Builder
	u.writeName(&sb, id, 0)
	return sb.String()
}

func (u *Universe) writeName(sb *strings.Builder, id TypeID, depth int) {
	if depth > 64 {
		sb.WriteString("<cycle>")
		return
	}
	t, ok := u.Lookup(id)
	if !ok {
		sb.WriteString("<invalid>")
		return
	}
	switch t.Kind {
	case KindNamed:
		def, _ := u.Definition(id)
		if def.Containing != NoTypeID {
			u.writeName(sb, def.Containing, depth+1)
			sb.WriteByte('+')
		} else if def.Namespace != "" {
			sb.WriteString(def.Namespace)
			sb.WriteByte('.')
		}
		sb.WriteString(def.Name)
	case KindSzArray:
		u.writeName(sb, t.Elem, depth+1)
		sb.WriteString("[]")
	case KindMdArray:
		u.writeName(sb, t.Elem, depth+1)
		sb.WriteByte('[')
		for i := uint32(1); i < t.Rank; i++ {
			sb.WriteByte(',')
		}
		sb.WriteByte(']')
	case KindByRef:
		u.writeName(sb, t.Elem, depth+1)
		sb.WriteByte('&')
	case KindPointer:
		u.writeName(sb, t.Elem, depth+1)
		sb.WriteByte('*')
	case KindTypeVar:
		fmt.Fprintf(sb, "!%d", t.Index)
	case KindMethodVar:
		fmt.Fprintf(sb, "!!%d", t.Index)
	case KindInstantiated:
		u.writeName(sb, t.Elem, depth+1)
		sb.WriteByte('<')
		for i, a := range t.Args {
			if i > 0 {
				sb.WriteByte(',')
			}
			u.writeName(sb, a, depth+1)
		}
		sb.WriteByte('>')
	default:
		sb.WriteString("<invalid>")
	}
}

// MangledName implements Oracle.
func (u *Universe) MangledName(id TypeID) string {
	return Mangle(u.FullName(id))
}

// MethodMangledName implements Oracle. The generic arity, parameter types
// and return type are part of the name so overloads stay distinct:
// Owner::Name`1(P1,P2):R.
func (u *Universe) MethodMangledName(id MethodID) string {
	m, ok := u.Method(id)
	if !ok {
		return Mangle(fmt.Sprintf("<method#%d>", id))
	}
	var sb strings.Builder
	sb.WriteString(u.FullName(m.Owner))
	sb.WriteString("::")
	sb.WriteString(m.Name)
	if m.GenericArity > 0 {
		fmt.Fprintf(&sb, "`%d", m.GenericArity)
	}
	sb.WriteByte('(')
	for i, p := range m.Params {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(u.FullName(p))
	}
	sb.WriteByte(')')
	if m.Return != NoTypeID {
		sb.WriteByte(':')
		sb.WriteString(u.FullName(m.Return))
	}
	return Mangle(sb.String())
}

// Statics implements Oracle. Static fields are packed per storage class in
// declaration order; object references always take a pointer-sized,
// pointer-aligned slot.
func (u *Universe) Statics(id TypeID) StaticsLayout {
	def, ok := u.Definition(id)
	if !ok {
		return StaticsLayout{}
	}
	ptr := u.target.PointerSize
	var s StaticsLayout
	for _, fid := range def.Fields {
		f, ok := u.Field(fid)
		if !ok || !f.Static {
			continue
		}
		size := f.Size
		if size <= 0 || f.IsGCRef {
			size = ptr
		}
		align := min(size, ptr)
		switch {
		case f.ThreadStatic:
			off := roundUp(s.ThreadSize, align)
			if f.IsGCRef {
				s.ThreadRefOffsets = append(s.ThreadRefOffsets, off)
			}
			s.ThreadSize = off + size
		case f.IsGCRef:
			off := roundUp(s.GCSize, ptr)
			s.GCRefOffsets = append(s.GCRefOffsets, off)
			s.GCSize = off + ptr
		default:
			off := roundUp(s.NonGCSize, align)
			s.NonGCSize = off + size
		}
	}
	return s
}

func roundUp(n, align int) int {
	if align <= 1 {
		return n
	}
	r := n % align
	if r == 0 {
		return n
	}
	return n + (align - r)
}

var _ Oracle = (*Universe)(nil)
