package metadata

import "ilc/internal/typesys"

// Policy decides which entities get full metadata. A named type the policy
// rejects is emitted as a reference; a member it rejects is left out.
type Policy interface {
	GeneratesMetadataType(t typesys.TypeID) bool
	GeneratesMetadataField(f typesys.FieldID) bool
	GeneratesMetadataMethod(m typesys.MethodID) bool
	GeneratesMetadataProperty(p typesys.PropertyID) bool
}

// AllPolicy emits everything.
type AllPolicy struct{}

func (AllPolicy) GeneratesMetadataType(typesys.TypeID) bool         { return true }
func (AllPolicy) GeneratesMetadataField(typesys.FieldID) bool       { return true }
func (AllPolicy) GeneratesMetadataMethod(typesys.MethodID) bool     { return true }
func (AllPolicy) GeneratesMetadataProperty(typesys.PropertyID) bool { return true }

// FuncPolicy adapts predicates to Policy. A nil predicate approves all.
type FuncPolicy struct {
	Type     func(typesys.TypeID) bool
	Field    func(typesys.FieldID) bool
	Method   func(typesys.MethodID) bool
	Property func(typesys.PropertyID) bool
}

func (p FuncPolicy) GeneratesMetadataType(t typesys.TypeID) bool {
	return p.Type == nil || p.Type(t)
}

func (p FuncPolicy) GeneratesMetadataField(f typesys.FieldID) bool {
	return p.Field == nil || p.Field(f)
}

func (p FuncPolicy) GeneratesMetadataMethod(m typesys.MethodID) bool {
	return p.Method == nil || p.Method(m)
}

func (p FuncPolicy) GeneratesMetadataProperty(pr typesys.PropertyID) bool {
	return p.Property == nil || p.Property(pr)
}

// RootedPolicy defines exactly the given named types plus the types that
// contain them, and every member of those types. Everything else is
// referenced.
type RootedPolicy struct {
	oracle typesys.Oracle
	types  map[typesys.TypeID]struct{}
}

func NewRootedPolicy(oracle typesys.Oracle, types []typesys.TypeID) *RootedPolicy {
	p := &RootedPolicy{oracle: oracle, types: make(map[typesys.TypeID]struct{}, len(types))}
	for _, id := range types {
		for cur := id; cur != typesys.NoTypeID; {
			if _, seen := p.types[cur]; seen {
				break
			}
			def, ok := oracle.Definition(cur)
			if !ok {
				break
			}
			p.types[cur] = struct{}{}
			cur = def.Containing
		}
	}
	return p
}

func (p *RootedPolicy) GeneratesMetadataType(t typesys.TypeID) bool {
	_, ok := p.types[t]
	return ok
}

func (p *RootedPolicy) GeneratesMetadataField(f typesys.FieldID) bool {
	fd, ok := p.oracle.Field(f)
	return ok && p.GeneratesMetadataType(fd.Owner)
}

func (p *RootedPolicy) GeneratesMetadataMethod(m typesys.MethodID) bool {
	md, ok := p.oracle.Method(m)
	return ok && p.GeneratesMetadataType(md.Owner)
}

func (p *RootedPolicy) GeneratesMetadataProperty(pr typesys.PropertyID) bool {
	pd, ok := p.oracle.Property(pr)
	return ok && p.GeneratesMetadataType(pd.Owner)
}
