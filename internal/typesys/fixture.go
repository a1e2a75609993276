package typesys

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// UniverseFile is the on-disk description of a type universe. It exists so
// the driver and tests can run without a front end attached.
type UniverseFile struct {
	Target string     `toml:"target" yaml:"target"`
	Roots  []string   `toml:"roots" yaml:"roots"`
	Types  []TypeSpec `toml:"types" yaml:"types"`
}

// TypeSpec describes one named type in a UniverseFile.
type TypeSpec struct {
	Name            string         `toml:"name" yaml:"name"`
	Namespace       string         `toml:"namespace" yaml:"namespace"`
	Module          string         `toml:"module" yaml:"module"`
	Containing      string         `toml:"containing" yaml:"containing"`
	Base            string         `toml:"base" yaml:"base"`
	Interfaces      []string       `toml:"interfaces" yaml:"interfaces"`
	GenericParams   []string       `toml:"generic_params" yaml:"generic_params"`
	Interface       bool           `toml:"interface" yaml:"interface"`
	ValueType       bool           `toml:"value_type" yaml:"value_type"`
	Sealed          bool           `toml:"sealed" yaml:"sealed"`
	BeforeFieldInit bool           `toml:"before_field_init" yaml:"before_field_init"`
	Layout          string         `toml:"layout" yaml:"layout"`
	Size            int64          `toml:"size" yaml:"size"`
	Packing         int64          `toml:"packing" yaml:"packing"`
	Attributes      *uint32        `toml:"attributes" yaml:"attributes"`
	EagerCctor      string         `toml:"eager_cctor" yaml:"eager_cctor"`
	Fields          []FieldSpec    `toml:"fields" yaml:"fields"`
	Methods         []MethodSpec   `toml:"methods" yaml:"methods"`
	Properties      []PropertySpec `toml:"properties" yaml:"properties"`
}

// FieldSpec describes one field in a UniverseFile.
type FieldSpec struct {
	Name         string `toml:"name" yaml:"name"`
	Type         string `toml:"type" yaml:"type"`
	Static       bool   `toml:"static" yaml:"static"`
	ThreadStatic bool   `toml:"thread_static" yaml:"thread_static"`
	GCRef        bool   `toml:"gc_ref" yaml:"gc_ref"`
	Size         int    `toml:"size" yaml:"size"`
}

// MethodSpec describes one method in a UniverseFile.
type MethodSpec struct {
	Name         string   `toml:"name" yaml:"name"`
	Static       bool     `toml:"static" yaml:"static"`
	Params       []string `toml:"params" yaml:"params"`
	Return       string   `toml:"return" yaml:"return"`
	GenericArity uint32   `toml:"generic_arity" yaml:"generic_arity"`
}

// PropertySpec describes one property in a UniverseFile.
type PropertySpec struct {
	Name   string `toml:"name" yaml:"name"`
	Type   string `toml:"type" yaml:"type"`
	Getter string `toml:"getter" yaml:"getter"`
	Setter string `toml:"setter" yaml:"setter"`
}

// LoadUniverse reads a .toml, .yaml or .yml universe description and
// returns the built universe together with its resolved roots.
func LoadUniverse(path string) (*Universe, []TypeID, error) {
	var file UniverseFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		meta, err := toml.DecodeFile(path, &file)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
		}
		if !meta.IsDefined("types") {
			return nil, nil, fmt.Errorf("%s: missing [[types]]", path)
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, err
		}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, nil, fmt.Errorf("%s: failed to parse YAML: %w", path, err)
		}
	default:
		return nil, nil, fmt.Errorf("%s: unsupported universe format (expected .toml, .yaml or .yml)", path)
	}
	u, roots, err := BuildUniverse(&file)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return u, roots, nil
}

// BuildUniverse materializes a decoded UniverseFile.
func BuildUniverse(file *UniverseFile) (*Universe, []TypeID, error) {
	target, err := ParseTarget(file.Target)
	if err != nil {
		return nil, nil, err
	}
	u := NewUniverse(target)

	// Containing types must be defined before the types nested in them, so
	// define in rounds until nothing is left or no round makes progress.
	ids := make([]TypeID, len(file.Types))
	pending := make([]int, 0, len(file.Types))
	for i := range file.Types {
		pending = append(pending, i)
	}
	for len(pending) > 0 {
		next := pending[:0:0]
		for _, i := range pending {
			spec := &file.Types[i]
			containing := NoTypeID
			if spec.Containing != "" {
				id, ok := u.ByName(spec.Containing)
				if !ok {
					next = append(next, i)
					continue
				}
				containing = id
			}
			layoutKind, err := parseLayoutKind(spec.Layout)
			if err != nil {
				return nil, nil, fmt.Errorf("type %q: %w", spec.Name, err)
			}
			def := TypeDef{
				Name:            spec.Name,
				Namespace:       spec.Namespace,
				Module:          spec.Module,
				Containing:      containing,
				IsInterface:     spec.Interface,
				IsValueType:     spec.ValueType,
				Sealed:          spec.Sealed,
				BeforeFieldInit: spec.BeforeFieldInit,
				Layout:          TypeLayout{Kind: layoutKind, Size: spec.Size, Packing: spec.Packing},
			}
			for _, gp := range spec.GenericParams {
				def.GenericParams = append(def.GenericParams, GenericParam{Name: gp})
			}
			if spec.Attributes != nil {
				def.Attributes = *spec.Attributes
				def.HasAttributes = true
			}
			ids[i] = u.DefineType(def)
		}
		if len(next) == len(pending) {
			names := make([]string, 0, len(next))
			for _, i := range next {
				names = append(names, fmt.Sprintf("%q (in %q)", file.Types[i].Name, file.Types[i].Containing))
			}
			return nil, nil, fmt.Errorf("unknown or cyclic containing types: %s", strings.Join(names, ", "))
		}
		pending = next
	}

	p := refParser{u: u}
	for i := range file.Types {
		spec := &file.Types[i]
		id := ids[i]
		def := u.mustDef(id)
		if spec.Base != "" {
			if def.Base, err = p.parse(spec.Base); err != nil {
				return nil, nil, fmt.Errorf("type %q base: %w", spec.Name, err)
			}
		}
		for _, iface := range spec.Interfaces {
			it, err := p.parse(iface)
			if err != nil {
				return nil, nil, fmt.Errorf("type %q interface: %w", spec.Name, err)
			}
			def.Interfaces = append(def.Interfaces, it)
		}
		for _, fs := range spec.Fields {
			ft, err := p.parse(fs.Type)
			if err != nil {
				return nil, nil, fmt.Errorf("field %s.%s: %w", spec.Name, fs.Name, err)
			}
			u.AddField(id, Field{
				Name:         fs.Name,
				Type:         ft,
				Static:       fs.Static || fs.ThreadStatic,
				ThreadStatic: fs.ThreadStatic,
				IsGCRef:      fs.GCRef,
				Size:         fs.Size,
			})
		}
		methodsByName := make(map[string]MethodID, len(spec.Methods))
		for _, ms := range spec.Methods {
			m := Method{Name: ms.Name, Static: ms.Static, GenericArity: ms.GenericArity}
			for _, ps := range ms.Params {
				pt, err := p.parse(ps)
				if err != nil {
					return nil, nil, fmt.Errorf("method %s.%s: %w", spec.Name, ms.Name, err)
				}
				m.Params = append(m.Params, pt)
			}
			if ms.Return != "" {
				if m.Return, err = p.parse(ms.Return); err != nil {
					return nil, nil, fmt.Errorf("method %s.%s: %w", spec.Name, ms.Name, err)
				}
			}
			methodsByName[ms.Name] = u.AddMethod(id, m)
		}
		for _, ps := range spec.Properties {
			pt, err := p.parse(ps.Type)
			if err != nil {
				return nil, nil, fmt.Errorf("property %s.%s: %w", spec.Name, ps.Name, err)
			}
			u.AddProperty(id, Property{
				Name:   ps.Name,
				Type:   pt,
				Getter: methodsByName[ps.Getter],
				Setter: methodsByName[ps.Setter],
			})
		}
		if spec.EagerCctor != "" {
			m, ok := methodsByName[spec.EagerCctor]
			if !ok {
				return nil, nil, fmt.Errorf("type %q: eager_cctor %q is not a method of the type", spec.Name, spec.EagerCctor)
			}
			u.SetEagerCctor(id, m)
		}
	}

	roots := make([]TypeID, 0, len(file.Roots))
	for _, r := range file.Roots {
		id, err := p.parse(r)
		if err != nil {
			return nil, nil, fmt.Errorf("root: %w", err)
		}
		roots = append(roots, id)
	}
	return u, roots, nil
}

func parseLayoutKind(s string) (LayoutKind, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return LayoutAuto, nil
	case "sequential":
		return LayoutSequential, nil
	case "explicit":
		return LayoutExplicit, nil
	default:
		return LayoutAuto, fmt.Errorf("invalid layout: %q (expected: auto|sequential|explicit)", s)
	}
}

// refParser resolves textual type references:
//
//	Ns.Name, Ns.Outer+Inner, T[], T[,], T&, T*, !0, !!0, Ns.List<A,B>
type refParser struct {
	u *Universe
}

// ParseTypeRef resolves a textual type reference against u.
func (u *Universe) ParseTypeRef(s string) (TypeID, error) {
	return refParser{u: u}.parse(s)
}

func (p refParser) parse(s string) (TypeID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return NoTypeID, fmt.Errorf("empty type reference")
	}
	switch {
	case strings.HasSuffix(s, "&"):
		elem, err := p.parse(s[:len(s)-1])
		if err != nil {
			return NoTypeID, err
		}
		return p.u.ByRef(elem), nil
	case strings.HasSuffix(s, "*"):
		elem, err := p.parse(s[:len(s)-1])
		if err != nil {
			return NoTypeID, err
		}
		return p.u.Pointer(elem), nil
	case strings.HasSuffix(s, "]"):
		open := strings.LastIndexByte(s, '[')
		if open <= 0 {
			return NoTypeID, fmt.Errorf("malformed array type %q", s)
		}
		inner := s[open+1 : len(s)-1]
		if strings.Trim(inner, ",") != "" {
			return NoTypeID, fmt.Errorf("malformed array rank in %q", s)
		}
		elem, err := p.parse(s[:open])
		if err != nil {
			return NoTypeID, err
		}
		if inner == "" {
			return p.u.SzArray(elem), nil
		}
		return p.u.MdArray(elem, uint32(len(inner))+1), nil
	case strings.HasPrefix(s, "!!"):
		n, err := strconv.ParseUint(s[2:], 10, 32)
		if err != nil {
			return NoTypeID, fmt.Errorf("malformed method variable %q: %w", s, err)
		}
		return p.u.MethodVar(uint32(n)), nil
	case strings.HasPrefix(s, "!"):
		n, err := strconv.ParseUint(s[1:], 10, 32)
		if err != nil {
			return NoTypeID, fmt.Errorf("malformed type variable %q: %w", s, err)
		}
		return p.u.TypeVar(uint32(n)), nil
	case strings.HasSuffix(s, ">"):
		open := matchingOpen(s)
		if open <= 0 {
			return NoTypeID, fmt.Errorf("malformed generic instantiation %q", s)
		}
		def, err := p.parse(s[:open])
		if err != nil {
			return NoTypeID, err
		}
		var args []TypeID
		for _, part := range splitTopLevel(s[open+1 : len(s)-1]) {
			a, err := p.parse(part)
			if err != nil {
				return NoTypeID, err
			}
			args = append(args, a)
		}
		return p.u.Instantiate(def, args...), nil
	}
	id, ok := p.u.ByName(s)
	if !ok {
		return NoTypeID, fmt.Errorf("unknown type %q", s)
	}
	return id, nil
}

// matchingOpen finds the '<' matching the trailing '>' of s.
func matchingOpen(s string) int {
	depth := 0
	for i := len(s) - 1; i >= 0; i-- {
		switch s[i] {
		case '>':
			depth++
		case '<':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func splitTopLevel(s string) []string {
	var parts []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '<', '[':
			depth++
		case '>', ']':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}
