// Package metadata maps type-system entities to interned metadata records
// and serializes them into the embedded metadata blob.
//
// Every type maps to exactly one record variant: a TypeDefinition when the
// policy asks for full metadata, a TypeReference otherwise, and a
// TypeSpecification for constructed types. Records are memoized by the
// oracle's interned TypeID, so structurally equal types share a record.
package metadata

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"sync"

	"fortio.org/safecast"

	"ilc/internal/registry"
	"ilc/internal/typesys"
)

type nsKey struct {
	module    string
	namespace string
}

// Transform builds records on demand. It is safe for concurrent use; calls
// are serialized because populating one record recursively populates
// others.
type Transform struct {
	mu     sync.Mutex
	oracle typesys.Oracle
	policy Policy

	types      *registry.Registry[typesys.TypeID, Record]
	fields     *registry.Registry[typesys.FieldID, *Field]
	methods    *registry.Registry[typesys.MethodID, *Method]
	properties *registry.Registry[typesys.PropertyID, *Property]
	memberRefs *registry.Registry[memberKey, *MemberReference]

	scopes        *registry.Registry[string, *ScopeDefinition]
	scopeRefs     *registry.Registry[string, *ScopeReference]
	namespaces    *registry.Registry[nsKey, *NamespaceDefinition]
	namespaceRefs *registry.Registry[nsKey, *NamespaceReference]

	populated map[typesys.TypeID]bool
	failed    map[typesys.TypeID]error
}

// memberKey distinguishes field and method references in one registry.
type memberKey struct {
	field  typesys.FieldID
	method typesys.MethodID
}

func NewTransform(oracle typesys.Oracle, policy Policy) *Transform {
	if policy == nil {
		policy = AllPolicy{}
	}
	return &Transform{
		oracle:        oracle,
		policy:        policy,
		types:         registry.New[typesys.TypeID, Record](),
		fields:        registry.New[typesys.FieldID, *Field](),
		methods:       registry.New[typesys.MethodID, *Method](),
		properties:    registry.New[typesys.PropertyID, *Property](),
		memberRefs:    registry.New[memberKey, *MemberReference](),
		scopes:        registry.New[string, *ScopeDefinition](),
		scopeRefs:     registry.New[string, *ScopeReference](),
		namespaces:    registry.New[nsKey, *NamespaceDefinition](),
		namespaceRefs: registry.New[nsKey, *NamespaceReference](),
		populated:     make(map[typesys.TypeID]bool),
		failed:        make(map[typesys.TypeID]error),
	}
}

// Policy returns the policy the transform was built with.
func (t *Transform) Policy() Policy { return t.policy }

// HandleType returns the record for id, creating and populating it on
// first use. Repeated calls return the identical record.
func (t *Transform) HandleType(id typesys.TypeID) (Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handleType(id)
}

func (t *Transform) handleType(id typesys.TypeID) (Record, error) {
	typ, ok := t.oracle.Lookup(id)
	if !ok {
		return nil, &Error{Kind: ErrUnknownType, Entity: fmt.Sprintf("type#%d", id)}
	}
	if err, bad := t.failed[id]; bad {
		return nil, err
	}
	rec := t.types.GetOrCreate(id, func(typesys.TypeID) Record { return t.newShell(id, typ) })
	if rec == nil {
		return nil, &Error{Kind: ErrUnknownType, Entity: t.oracle.MangledName(id)}
	}
	if t.populated[id] {
		// possibly still being populated further up the stack; self
		// references see the shell
		return rec, nil
	}
	t.populated[id] = true
	if err := t.populate(id, typ, rec); err != nil {
		t.failed[id] = err
		return nil, err
	}
	return rec, nil
}

// newShell creates the empty record of the right variant. It must not
// recurse: it runs inside the registry constructor.
func (t *Transform) newShell(id typesys.TypeID, typ typesys.Type) Record {
	if typ.Kind != typesys.KindNamed {
		return &TypeSpecification{Type: id}
	}
	def, ok := t.oracle.Definition(id)
	if !ok {
		return nil
	}
	if t.policy.GeneratesMetadataType(id) {
		return &TypeDefinition{Type: id, Name: def.Name, IsValueType: def.IsValueType}
	}
	return &TypeReference{Type: id, Name: def.Name, IsValueType: def.IsValueType}
}

func (t *Transform) populate(id typesys.TypeID, typ typesys.Type, rec Record) error {
	switch typ.Kind {
	case typesys.KindSzArray:
		elem, err := t.handleType(typ.Elem)
		if err != nil {
			return err
		}
		rec.(*TypeSpecification).Signature = &SzArraySignature{Element: elem}
	case typesys.KindMdArray:
		elem, err := t.handleType(typ.Elem)
		if err != nil {
			return err
		}
		rec.(*TypeSpecification).Signature = &ArraySignature{Element: elem, Rank: typ.Rank}
	case typesys.KindByRef:
		elem, err := t.handleType(typ.Elem)
		if err != nil {
			return err
		}
		rec.(*TypeSpecification).Signature = &ByRefSignature{Element: elem}
	case typesys.KindPointer:
		elem, err := t.handleType(typ.Elem)
		if err != nil {
			return err
		}
		rec.(*TypeSpecification).Signature = &PointerSignature{Element: elem}
	case typesys.KindTypeVar:
		rec.(*TypeSpecification).Signature = &TypeVariableSignature{Index: typ.Index}
	case typesys.KindMethodVar:
		rec.(*TypeSpecification).Signature = &MethodVariableSignature{Index: typ.Index}
	case typesys.KindInstantiated:
		return t.populateInstantiation(typ, rec.(*TypeSpecification))
	case typesys.KindNamed:
		def, _ := t.oracle.Definition(id)
		switch r := rec.(type) {
		case *TypeDefinition:
			return t.populateDefinition(id, def, r)
		case *TypeReference:
			return t.populateReference(id, def, r)
		}
	case typesys.KindInvalid:
		return &Error{Kind: ErrUnknownType, Entity: fmt.Sprintf("type#%d", id)}
	default:
		panic(fmt.Sprintf("metadata: unhandled type kind %v", typ.Kind))
	}
	return nil
}

func (t *Transform) populateInstantiation(typ typesys.Type, spec *TypeSpecification) error {
	generic, err := t.handleType(typ.Elem)
	if err != nil {
		return err
	}
	sig := &TypeInstantiationSignature{GenericType: generic, Args: make([]Record, 0, len(typ.Args))}
	for _, arg := range typ.Args {
		rec, err := t.handleType(arg)
		if err != nil {
			return err
		}
		sig.Args = append(sig.Args, rec)
	}
	spec.Signature = sig
	return nil
}

// checkContainment walks the oracle's containing chain of id and fails if
// it loops.
func (t *Transform) checkContainment(id typesys.TypeID) error {
	seen := make(map[typesys.TypeID]struct{}, 4)
	var chain []string
	for cur := id; cur != typesys.NoTypeID; {
		chain = append(chain, t.oracle.MangledName(cur))
		if _, loop := seen[cur]; loop {
			return &Error{
				Kind:   ErrContainingTypeCycle,
				Entity: t.oracle.MangledName(id),
				Detail: strings.Join(chain, " -> "),
			}
		}
		seen[cur] = struct{}{}
		def, ok := t.oracle.Definition(cur)
		if !ok {
			return nil
		}
		cur = def.Containing
	}
	return nil
}

func (t *Transform) populateReference(id typesys.TypeID, def *typesys.TypeDef, ref *TypeReference) error {
	if def.Containing == typesys.NoTypeID {
		ref.Parent = t.namespaceReference(def.Module, def.Namespace)
		return nil
	}
	if err := t.checkContainment(id); err != nil {
		return err
	}
	parent, err := t.referenceTo(def.Containing, []typesys.TypeID{id})
	if err != nil {
		return err
	}
	ref.Parent = parent
	return nil
}

// referenceTo returns a reference record for id: the interned one when id
// is reference-only, otherwise a synthesized, uninterned wrapper whose
// parent chain is built the same way. stack holds the types whose parents
// are being resolved.
func (t *Transform) referenceTo(id typesys.TypeID, stack []typesys.TypeID) (*TypeReference, error) {
	if slices.Contains(stack, id) {
		names := make([]string, 0, len(stack)+1)
		for _, s := range stack {
			names = append(names, t.oracle.MangledName(s))
		}
		names = append(names, t.oracle.MangledName(id))
		return nil, &Error{Kind: ErrContainingTypeCycle, Entity: t.oracle.MangledName(id), Detail: strings.Join(names, " -> ")}
	}
	rec, err := t.handleType(id)
	if err != nil {
		return nil, err
	}
	if ref, ok := rec.(*TypeReference); ok {
		return ref, nil
	}
	def, ok := t.oracle.Definition(id)
	if !ok {
		return nil, &Error{Kind: ErrUnknownType, Entity: t.oracle.MangledName(id)}
	}
	ref := &TypeReference{Type: id, Name: def.Name, IsValueType: def.IsValueType, Synthesized: true}
	if def.Containing == typesys.NoTypeID {
		ref.Parent = t.namespaceReference(def.Module, def.Namespace)
		return ref, nil
	}
	parent, err := t.referenceTo(def.Containing, append(stack, id))
	if err != nil {
		return nil, err
	}
	ref.Parent = parent
	return ref, nil
}

func (t *Transform) populateDefinition(id typesys.TypeID, def *typesys.TypeDef, rd *TypeDefinition) error {
	name := t.oracle.MangledName(id)
	// layout is checked before the record is linked into its parent
	size, err := safecast.Conv[uint32](def.Layout.Size)
	if err != nil {
		return &Error{Kind: ErrLayoutOverflow, Entity: name, Detail: fmt.Sprintf("size %d", def.Layout.Size), Cause: err}
	}
	packing, err := safecast.Conv[uint16](def.Layout.Packing)
	if err != nil {
		return &Error{Kind: ErrLayoutOverflow, Entity: name, Detail: fmt.Sprintf("packing %d", def.Layout.Packing), Cause: err}
	}
	rd.Size, rd.PackingSize = size, packing

	if def.Containing != typesys.NoTypeID {
		if err := t.checkContainment(id); err != nil {
			return err
		}
		enc, err := t.handleType(def.Containing)
		if err != nil {
			return err
		}
		encDef, ok := enc.(*TypeDefinition)
		if !ok {
			return &Error{Kind: ErrInconsistentPolicy, Entity: name, Detail: "enclosing type is reference only"}
		}
		rd.EnclosingType = encDef
		encDef.NestedTypes = append(encDef.NestedTypes, rd)
	} else {
		ns := t.namespaceDefinition(def.Module, def.Namespace)
		rd.Namespace = ns
		ns.TypeDefinitions = append(ns.TypeDefinitions, rd)
	}

	rd.Flags = typeAttributes(def)

	if def.Base != typesys.NoTypeID {
		base, err := t.handleType(def.Base)
		if err != nil {
			return err
		}
		rd.BaseType = base
	}
	for _, iface := range def.Interfaces {
		if !t.interfaceApproved(iface) {
			continue
		}
		rec, err := t.handleType(iface)
		if err != nil {
			return err
		}
		rd.Interfaces = append(rd.Interfaces, rec)
	}
	for i, gp := range def.GenericParams {
		idx, err := safecast.Conv[uint32](i)
		if err != nil {
			return &Error{Kind: ErrLayoutOverflow, Entity: name, Cause: err}
		}
		rd.GenericParameters = append(rd.GenericParameters, &GenericParameter{Index: idx, Name: gp.Name})
	}
	for _, fid := range def.Fields {
		if !t.policy.GeneratesMetadataField(fid) {
			continue
		}
		f, err := t.defineField(fid, rd)
		if err != nil {
			return err
		}
		rd.Fields = append(rd.Fields, f)
	}
	for _, mid := range def.Methods {
		if !t.policy.GeneratesMetadataMethod(mid) {
			continue
		}
		m, err := t.defineMethod(mid, rd)
		if err != nil {
			return err
		}
		rd.Methods = append(rd.Methods, m)
	}
	for _, pid := range def.Properties {
		if !t.policy.GeneratesMetadataProperty(pid) {
			continue
		}
		p, err := t.defineProperty(pid, rd)
		if err != nil {
			return err
		}
		rd.Properties = append(rd.Properties, p)
	}
	return nil
}

// interfaceApproved filters interfaces through the policy: a named or
// instantiated interface is kept only when its definition is emitted.
func (t *Transform) interfaceApproved(iface typesys.TypeID) bool {
	typ, ok := t.oracle.Lookup(iface)
	if !ok {
		return true // reported by handleType
	}
	switch typ.Kind {
	case typesys.KindNamed:
		return t.policy.GeneratesMetadataType(iface)
	case typesys.KindInstantiated:
		return t.policy.GeneratesMetadataType(typ.Elem)
	default:
		return true
	}
}

// typeAttributes copies the attribute word when the oracle has one and
// otherwise synthesizes the layout and shape bits. Visibility and
// abstractness are not known to the oracle and stay unset.
func typeAttributes(def *typesys.TypeDef) TypeAttributes {
	if def.HasAttributes {
		return TypeAttributes(def.Attributes)
	}
	var flags TypeAttributes
	switch def.Layout.Kind {
	case typesys.LayoutExplicit:
		flags |= TypeAttrExplicitLayout
	case typesys.LayoutSequential:
		flags |= TypeAttrSequentialLayout
	}
	if def.IsInterface {
		flags |= TypeAttrInterface
	}
	if def.Sealed {
		flags |= TypeAttrSealed
	}
	if def.BeforeFieldInit {
		flags |= TypeAttrBeforeFieldInit
	}
	return flags
}

func (t *Transform) defineField(fid typesys.FieldID, owner *TypeDefinition) (*Field, error) {
	fd, ok := t.oracle.Field(fid)
	if !ok {
		return nil, &Error{Kind: ErrUnknownMember, Entity: fmt.Sprintf("field#%d", fid)}
	}
	f := t.fields.GetOrCreate(fid, func(typesys.FieldID) *Field {
		return &Field{ID: fid, Name: fd.Name, Owner: owner}
	})
	if fd.Static {
		f.Flags |= FieldAttrStatic
	}
	if fd.ThreadStatic {
		f.Flags |= FieldAttrStatic | FieldAttrThreadStatic
	}
	typ, err := t.handleType(fd.Type)
	if err != nil {
		return nil, err
	}
	f.Signature = FieldSignature{Type: typ}
	return f, nil
}

func (t *Transform) methodSignature(md *typesys.Method) (MethodSignature, error) {
	sig := MethodSignature{Static: md.Static, GenericArity: md.GenericArity}
	if md.Return != typesys.NoTypeID {
		ret, err := t.handleType(md.Return)
		if err != nil {
			return sig, err
		}
		sig.Return = ret
	}
	for _, p := range md.Params {
		rec, err := t.handleType(p)
		if err != nil {
			return sig, err
		}
		sig.Params = append(sig.Params, rec)
	}
	return sig, nil
}

func (t *Transform) defineMethod(mid typesys.MethodID, owner *TypeDefinition) (*Method, error) {
	md, ok := t.oracle.Method(mid)
	if !ok {
		return nil, &Error{Kind: ErrUnknownMember, Entity: fmt.Sprintf("method#%d", mid)}
	}
	m := t.methods.GetOrCreate(mid, func(typesys.MethodID) *Method {
		return &Method{ID: mid, Name: md.Name, Owner: owner}
	})
	if md.Static {
		m.Flags |= MethodAttrStatic
	}
	sig, err := t.methodSignature(md)
	if err != nil {
		return nil, err
	}
	m.Signature = sig
	return m, nil
}

func (t *Transform) defineProperty(pid typesys.PropertyID, owner *TypeDefinition) (*Property, error) {
	pd, ok := t.oracle.Property(pid)
	if !ok {
		return nil, &Error{Kind: ErrUnknownMember, Entity: fmt.Sprintf("property#%d", pid)}
	}
	typ, err := t.handleType(pd.Type)
	if err != nil {
		return nil, err
	}
	p := t.properties.GetOrCreate(pid, func(typesys.PropertyID) *Property {
		return &Property{ID: pid, Name: pd.Name, Owner: owner}
	})
	static := false
	if pd.Getter != typesys.NoMethodID {
		p.Getter, _ = t.methods.Lookup(pd.Getter)
		if md, ok := t.oracle.Method(pd.Getter); ok {
			static = md.Static
		}
	}
	if pd.Setter != typesys.NoMethodID {
		p.Setter, _ = t.methods.Lookup(pd.Setter)
	}
	p.Signature = PropertySignature{Static: static, Type: typ}
	return p, nil
}

// HandleField returns the Field record of a field of an emitted type, or
// a MemberReference when the owner is only referenced. Asking for a field
// of an emitted type that the policy trims is a contract violation.
func (t *Transform) HandleField(fid typesys.FieldID) (Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fd, ok := t.oracle.Field(fid)
	if !ok {
		return nil, &Error{Kind: ErrUnknownMember, Entity: fmt.Sprintf("field#%d", fid)}
	}
	owner, err := t.handleType(fd.Owner)
	if err != nil {
		return nil, err
	}
	if _, isDef := owner.(*TypeDefinition); isDef {
		if !t.policy.GeneratesMetadataField(fid) {
			return nil, &Error{Kind: ErrExcludedByPolicy, Entity: t.oracle.MangledName(fd.Owner) + "::" + fd.Name}
		}
		if f, ok := t.fields.Lookup(fid); ok {
			return f, nil
		}
		return nil, &Error{Kind: ErrUnknownMember, Entity: fd.Name, Detail: "field not declared by its owner"}
	}
	// resolve before storing; a failed signature must not be memoized
	typ, err := t.handleType(fd.Type)
	if err != nil {
		return nil, err
	}
	ref := t.memberRefs.GetOrCreate(memberKey{field: fid}, func(memberKey) *MemberReference {
		return &MemberReference{Parent: owner, Name: fd.Name, Field: &FieldSignature{Type: typ}}
	})
	return ref, nil
}

// HandleMethod is HandleField for methods.
func (t *Transform) HandleMethod(mid typesys.MethodID) (Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	md, ok := t.oracle.Method(mid)
	if !ok {
		return nil, &Error{Kind: ErrUnknownMember, Entity: fmt.Sprintf("method#%d", mid)}
	}
	owner, err := t.handleType(md.Owner)
	if err != nil {
		return nil, err
	}
	if _, isDef := owner.(*TypeDefinition); isDef {
		if !t.policy.GeneratesMetadataMethod(mid) {
			return nil, &Error{Kind: ErrExcludedByPolicy, Entity: t.oracle.MethodMangledName(mid)}
		}
		if m, ok := t.methods.Lookup(mid); ok {
			return m, nil
		}
		return nil, &Error{Kind: ErrUnknownMember, Entity: md.Name, Detail: "method not declared by its owner"}
	}
	sig, err := t.methodSignature(md)
	if err != nil {
		return nil, err
	}
	ref := t.memberRefs.GetOrCreate(memberKey{method: mid}, func(memberKey) *MemberReference {
		return &MemberReference{Parent: owner, Name: md.Name, Method: &sig}
	})
	return ref, nil
}

func (t *Transform) scopeDefinition(module string) *ScopeDefinition {
	return t.scopes.GetOrCreate(module, func(string) *ScopeDefinition {
		return &ScopeDefinition{Name: module}
	})
}

func (t *Transform) scopeReference(module string) *ScopeReference {
	return t.scopeRefs.GetOrCreate(module, func(string) *ScopeReference {
		return &ScopeReference{Name: module}
	})
}

// namespaceDefinition returns the definition for one namespace of module,
// creating its parents down to the module's root namespace.
func (t *Transform) namespaceDefinition(module, namespace string) *NamespaceDefinition {
	return t.namespaces.GetOrCreate(nsKey{module, namespace}, func(k nsKey) *NamespaceDefinition {
		if namespace == "" {
			scope := t.scopeDefinition(module)
			root := &NamespaceDefinition{Scope: scope}
			scope.RootNamespace = root
			return root
		}
		parentName, leaf := splitNamespace(namespace)
		parent := t.namespaceDefinition(module, parentName)
		ns := &NamespaceDefinition{Name: leaf, Parent: parent, Scope: parent.Scope}
		parent.Children = append(parent.Children, ns)
		return ns
	})
}

func (t *Transform) namespaceReference(module, namespace string) *NamespaceReference {
	return t.namespaceRefs.GetOrCreate(nsKey{module, namespace}, func(nsKey) *NamespaceReference {
		if namespace == "" {
			return &NamespaceReference{Scope: t.scopeReference(module)}
		}
		parentName, leaf := splitNamespace(namespace)
		parent := t.namespaceReference(module, parentName)
		return &NamespaceReference{Name: leaf, Parent: parent, Scope: parent.Scope}
	})
}

func splitNamespace(ns string) (parent, leaf string) {
	if i := strings.LastIndexByte(ns, '.'); i >= 0 {
		return ns[:i], ns[i+1:]
	}
	return "", ns
}

// Scopes returns the emitted modules sorted by name.
func (t *Transform) Scopes() []*ScopeDefinition {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.scopes.Values()
	slices.SortFunc(out, func(a, b *ScopeDefinition) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

// TypeDefinitions returns every emitted definition sorted by full name.
func (t *Transform) TypeDefinitions() []*TypeDefinition {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*TypeDefinition
	for _, rec := range t.types.Values() {
		if d, ok := rec.(*TypeDefinition); ok {
			out = append(out, d)
		}
	}
	slices.SortFunc(out, func(a, b *TypeDefinition) int { return cmp.Compare(a.FullName(), b.FullName()) })
	return out
}
