package metadata

// Element type bytes of the signature encoding.
const (
	ElementVoid        byte = 0x01
	ElementPtr         byte = 0x0F
	ElementByRef       byte = 0x10
	ElementValueType   byte = 0x11
	ElementClass       byte = 0x12
	ElementVar         byte = 0x13
	ElementArray       byte = 0x14
	ElementGenericInst byte = 0x15
	ElementSzArray     byte = 0x1D
	ElementMVar        byte = 0x1E
)

// Calling convention bytes.
const (
	sigField    byte = 0x06
	sigProperty byte = 0x08
	sigGeneric  byte = 0x10
	sigHasThis  byte = 0x20
)

// Signature is the payload of a TypeSpecification. The set of variants is
// closed; encoders switch over it exhaustively.
type Signature interface {
	signature()
}

type SzArraySignature struct{ Element Record }

type ArraySignature struct {
	Element Record
	Rank    uint32
}

type ByRefSignature struct{ Element Record }

type PointerSignature struct{ Element Record }

type TypeVariableSignature struct{ Index uint32 }

type MethodVariableSignature struct{ Index uint32 }

// TypeInstantiationSignature applies Args, in order, to GenericType.
type TypeInstantiationSignature struct {
	GenericType Record
	Args        []Record
}

func (*SzArraySignature) signature()           {}
func (*ArraySignature) signature()             {}
func (*ByRefSignature) signature()             {}
func (*PointerSignature) signature()           {}
func (*TypeVariableSignature) signature()      {}
func (*MethodVariableSignature) signature()    {}
func (*TypeInstantiationSignature) signature() {}

// FieldSignature is the type of a field.
type FieldSignature struct {
	Type Record
}

// MethodSignature describes a method's calling shape. A nil Return is void.
type MethodSignature struct {
	Static       bool
	GenericArity uint32
	Return       Record
	Params       []Record
}

// PropertySignature is the type of a property.
type PropertySignature struct {
	Static bool
	Type   Record
}

// handleFunc resolves a record to its coded handle in the blob.
type handleFunc func(Record) (uint32, error)

// sigEncoder serializes signatures. Type definitions and references are
// written as coded handles; specifications are expanded inline.
type sigEncoder struct {
	buf    []byte
	handle handleFunc
}

func (e *sigEncoder) u(v uint32) { e.buf = appendCompressed(e.buf, v) }

func (e *sigEncoder) typ(rec Record) error {
	switch r := rec.(type) {
	case *TypeDefinition:
		return e.named(r, r.IsValueType)
	case *TypeReference:
		return e.named(r, r.IsValueType)
	case *TypeSpecification:
		return e.spec(r.Signature)
	default:
		return &Error{Kind: ErrUnknownType, Detail: "record " + rec.Kind().String() + " in a type position"}
	}
}

func (e *sigEncoder) named(rec Record, valueType bool) error {
	if valueType {
		e.buf = append(e.buf, ElementValueType)
	} else {
		e.buf = append(e.buf, ElementClass)
	}
	h, err := e.handle(rec)
	if err != nil {
		return err
	}
	e.u(h)
	return nil
}

func (e *sigEncoder) spec(sig Signature) error {
	switch s := sig.(type) {
	case *SzArraySignature:
		e.buf = append(e.buf, ElementSzArray)
		return e.typ(s.Element)
	case *ArraySignature:
		e.buf = append(e.buf, ElementArray)
		if err := e.typ(s.Element); err != nil {
			return err
		}
		e.u(s.Rank)
		e.u(0) // no sizes
		e.u(0) // no lower bounds
		return nil
	case *ByRefSignature:
		e.buf = append(e.buf, ElementByRef)
		return e.typ(s.Element)
	case *PointerSignature:
		e.buf = append(e.buf, ElementPtr)
		return e.typ(s.Element)
	case *TypeVariableSignature:
		e.buf = append(e.buf, ElementVar)
		e.u(s.Index)
		return nil
	case *MethodVariableSignature:
		e.buf = append(e.buf, ElementMVar)
		e.u(s.Index)
		return nil
	case *TypeInstantiationSignature:
		e.buf = append(e.buf, ElementGenericInst)
		var valueType bool
		switch g := s.GenericType.(type) {
		case *TypeDefinition:
			valueType = g.IsValueType
		case *TypeReference:
			valueType = g.IsValueType
		default:
			return &Error{Kind: ErrUnknownType, Detail: "generic instantiation over a specification"}
		}
		if err := e.named(s.GenericType, valueType); err != nil {
			return err
		}
		n, err := count(len(s.Args))
		if err != nil {
			return err
		}
		e.u(n)
		for _, a := range s.Args {
			if err := e.typ(a); err != nil {
				return err
			}
		}
		return nil
	default:
		panic("metadata: unhandled signature variant")
	}
}

func (e *sigEncoder) field(s FieldSignature) error {
	e.buf = append(e.buf, sigField)
	return e.typ(s.Type)
}

func (e *sigEncoder) method(s MethodSignature) error {
	conv := byte(0)
	if !s.Static {
		conv |= sigHasThis
	}
	if s.GenericArity > 0 {
		conv |= sigGeneric
	}
	e.buf = append(e.buf, conv)
	if s.GenericArity > 0 {
		e.u(s.GenericArity)
	}
	n, err := count(len(s.Params))
	if err != nil {
		return err
	}
	e.u(n)
	if s.Return == nil {
		e.buf = append(e.buf, ElementVoid)
	} else if err := e.typ(s.Return); err != nil {
		return err
	}
	for _, p := range s.Params {
		if err := e.typ(p); err != nil {
			return err
		}
	}
	return nil
}

func (e *sigEncoder) property(s PropertySignature) error {
	conv := sigProperty
	if !s.Static {
		conv |= sigHasThis
	}
	e.buf = append(e.buf, conv)
	e.u(0)
	return e.typ(s.Type)
}
