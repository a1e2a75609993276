package metadata

import (
	"slices"
	"strings"

	"ilc/internal/typesys"
)

// RecordKind identifies a record table.
type RecordKind uint8

const (
	KindScopeDefinition RecordKind = iota + 1
	KindScopeReference
	KindNamespaceDefinition
	KindNamespaceReference
	KindTypeDefinition
	KindTypeReference
	KindTypeSpecification
	KindField
	KindMethod
	KindProperty
	KindMemberReference
	KindGenericParameter
)

var recordKindNames = [...]string{
	KindScopeDefinition:     "ScopeDefinition",
	KindScopeReference:      "ScopeReference",
	KindNamespaceDefinition: "NamespaceDefinition",
	KindNamespaceReference:  "NamespaceReference",
	KindTypeDefinition:      "TypeDefinition",
	KindTypeReference:       "TypeReference",
	KindTypeSpecification:   "TypeSpecification",
	KindField:               "Field",
	KindMethod:              "Method",
	KindProperty:            "Property",
	KindMemberReference:     "MemberReference",
	KindGenericParameter:    "GenericParameter",
}

func (k RecordKind) String() string {
	if int(k) < len(recordKindNames) && recordKindNames[k] != "" {
		return recordKindNames[k]
	}
	return "Record?"
}

// Record is a metadata row.
type Record interface {
	Kind() RecordKind
}

// ScopeDefinition is a module being emitted.
type ScopeDefinition struct {
	Name          string
	RootNamespace *NamespaceDefinition
}

// ScopeReference is a module referenced from the emitted metadata.
type ScopeReference struct {
	Name string
}

// NamespaceDefinition is one namespace segment inside an emitted module.
// The root namespace has an empty name and a nil Parent.
type NamespaceDefinition struct {
	Name            string
	Parent          *NamespaceDefinition
	Scope           *ScopeDefinition
	Children        []*NamespaceDefinition
	TypeDefinitions []*TypeDefinition
}

// NamespaceReference is one namespace segment of a referenced module.
type NamespaceReference struct {
	Name   string
	Parent *NamespaceReference // nil for the root namespace
	Scope  *ScopeReference
}

// TypeAttributes is the attribute word of a type definition.
type TypeAttributes uint32

const (
	TypeAttrSequentialLayout TypeAttributes = 0x00000008
	TypeAttrExplicitLayout   TypeAttributes = 0x00000010
	TypeAttrInterface        TypeAttributes = 0x00000020
	TypeAttrSealed           TypeAttributes = 0x00000100
	TypeAttrBeforeFieldInit  TypeAttributes = 0x00100000
)

// TypeDefinition is a fully emitted type.
type TypeDefinition struct {
	Type          typesys.TypeID
	Name          string
	Namespace     *NamespaceDefinition // nil for nested types
	EnclosingType *TypeDefinition
	NestedTypes   []*TypeDefinition

	Flags       TypeAttributes
	IsValueType bool
	Size        uint32
	PackingSize uint16

	BaseType          Record // nil when the type has none
	Interfaces        []Record
	GenericParameters []*GenericParameter
	Fields            []*Field
	Methods           []*Method
	Properties        []*Property
}

// TypeReference names a type without describing it. Parent is either a
// *NamespaceReference or, for nested types, another *TypeReference.
type TypeReference struct {
	Type        typesys.TypeID
	Name        string
	IsValueType bool
	Parent      Record
	// Synthesized references are built only to give a nested reference a
	// reference parent; they are never interned.
	Synthesized bool
}

// TypeSpecification is a constructed type described by its signature.
type TypeSpecification struct {
	Type      typesys.TypeID
	Signature Signature
}

// GenericParameter is a formal type parameter of a definition.
type GenericParameter struct {
	Index uint32
	Name  string
}

// FieldAttributes is the attribute word of a field.
type FieldAttributes uint16

const (
	FieldAttrStatic       FieldAttributes = 0x0010
	FieldAttrThreadStatic FieldAttributes = 0x8000 // private to this format
)

// Field is an emitted field of a TypeDefinition.
type Field struct {
	ID        typesys.FieldID
	Name      string
	Owner     *TypeDefinition
	Flags     FieldAttributes
	Signature FieldSignature
}

// MethodAttributes is the attribute word of a method.
type MethodAttributes uint16

const MethodAttrStatic MethodAttributes = 0x0010

// Method is an emitted method of a TypeDefinition.
type Method struct {
	ID        typesys.MethodID
	Name      string
	Owner     *TypeDefinition
	Flags     MethodAttributes
	Signature MethodSignature
}

// Property is an emitted property. Accessors are nil when the policy
// trimmed them.
type Property struct {
	ID        typesys.PropertyID
	Name      string
	Owner     *TypeDefinition
	Signature PropertySignature
	Getter    *Method
	Setter    *Method
}

// MemberReference names a field or method of a type that is not defined
// in the emitted metadata. Exactly one of Field and Method is set.
type MemberReference struct {
	Parent Record
	Name   string
	Field  *FieldSignature
	Method *MethodSignature
}

func (*ScopeDefinition) Kind() RecordKind     { return KindScopeDefinition }
func (*ScopeReference) Kind() RecordKind      { return KindScopeReference }
func (*NamespaceDefinition) Kind() RecordKind { return KindNamespaceDefinition }
func (*NamespaceReference) Kind() RecordKind  { return KindNamespaceReference }
func (*TypeDefinition) Kind() RecordKind      { return KindTypeDefinition }
func (*TypeReference) Kind() RecordKind       { return KindTypeReference }
func (*TypeSpecification) Kind() RecordKind   { return KindTypeSpecification }
func (*GenericParameter) Kind() RecordKind    { return KindGenericParameter }
func (*Field) Kind() RecordKind               { return KindField }
func (*Method) Kind() RecordKind              { return KindMethod }
func (*Property) Kind() RecordKind            { return KindProperty }
func (*MemberReference) Kind() RecordKind     { return KindMemberReference }

// FullName returns "Ns.Name" for top-level definitions and
// "Outer+Inner" for nested ones.
func (d *TypeDefinition) FullName() string {
	if d.EnclosingType != nil {
		return d.EnclosingType.FullName() + "+" + d.Name
	}
	if d.Namespace != nil {
		if ns := d.Namespace.FullName(); ns != "" {
			return ns + "." + d.Name
		}
	}
	return d.Name
}

// FullName joins the namespace segments with dots.
func (n *NamespaceDefinition) FullName() string {
	var parts []string
	for cur := n; cur != nil && cur.Name != ""; cur = cur.Parent {
		parts = append(parts, cur.Name)
	}
	slices.Reverse(parts)
	return strings.Join(parts, ".")
}

// FullName joins the namespace segments with dots.
func (n *NamespaceReference) FullName() string {
	var parts []string
	for cur := n; cur != nil && cur.Name != ""; cur = cur.Parent {
		parts = append(parts, cur.Name)
	}
	slices.Reverse(parts)
	return strings.Join(parts, ".")
}
