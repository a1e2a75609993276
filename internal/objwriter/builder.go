package objwriter

import (
	"encoding/binary"
	"fmt"

	"fortio.org/safecast"
)

// Symbol is anything a relocation can point at.
type Symbol interface {
	Name() string
}

// Node is a standalone artifact that produces bytes.
//
// Encode is called twice: first with relocsOnly set, when no addresses are
// known yet, then again for the final bytes. Both calls must produce the
// same length and alignment; only relocation values may differ.
type Node interface {
	Symbol
	Encode(b *Builder, relocsOnly bool) error
}

// ExternSymbol is a symbol defined outside this object. It occupies no
// bytes and relocations to it stay symbolic.
type ExternSymbol interface {
	Symbol
	IsExtern() bool
}

// SectionKind selects the output section of a node.
type SectionKind uint8

const (
	SectionData SectionKind = iota
	SectionReadOnly
	SectionIndirection
)

func (k SectionKind) String() string {
	switch k {
	case SectionData:
		return ".data"
	case SectionReadOnly:
		return ".rdata"
	case SectionIndirection:
		return ".idata"
	default:
		return fmt.Sprintf("section(%d)", k)
	}
}

// Sectioned lets a node choose its section; nodes without it go to data.
type Sectioned interface {
	Section() SectionKind
}

// RelocKind enumerates relocation flavours.
type RelocKind uint8

const (
	// RelocPointer stores target address + addend.
	RelocPointer RelocKind = iota + 1
	// RelocIndirection stores the address of the target's indirection cell.
	RelocIndirection
)

func (k RelocKind) String() string {
	switch k {
	case RelocPointer:
		return "ptr"
	case RelocIndirection:
		return "indirect"
	default:
		return fmt.Sprintf("reloc(%d)", k)
	}
}

// Reloc is a pointer-sized slot inside a node's bytes.
type Reloc struct {
	Offset int
	Kind   RelocKind
	Target Symbol
	Addend int64
}

// SymbolDef defines an additional symbol inside a node.
type SymbolDef struct {
	Symbol Symbol
	Offset int
}

// ObjectData is the encoded form of one node.
type ObjectData struct {
	Data      []byte
	Relocs    []Reloc
	Alignment int
	Defined   []SymbolDef
}

// resolver maps symbols to final addresses during the final pass.
type resolver interface {
	address(sym Symbol) (uint64, bool)
	indirectionCell(sym Symbol) (uint64, bool)
}

// Builder accumulates the bytes and relocations of one node.
type Builder struct {
	node       string
	ptrSize    int
	relocsOnly bool
	res        resolver
	data       []byte
	relocs     []Reloc
	defs       []SymbolDef
	align      int
	err        error
}

// NewBuilder creates a builder for a discovery pass. It is exported for
// tests that encode a single node outside a Writer.
func NewBuilder(pointerSize int) *Builder {
	return newBuilder("", pointerSize, true, nil)
}

func newBuilder(node string, ptrSize int, relocsOnly bool, res resolver) *Builder {
	return &Builder{node: node, ptrSize: ptrSize, relocsOnly: relocsOnly, res: res, align: 1}
}

// RelocsOnly reports whether this is the discovery pass.
func (b *Builder) RelocsOnly() bool { return b.relocsOnly }

// PointerSize returns the target pointer width in bytes.
func (b *Builder) PointerSize() int { return b.ptrSize }

// Len returns the number of bytes emitted so far.
func (b *Builder) Len() int { return len(b.data) }

// Err returns the first error recorded while emitting.
func (b *Builder) Err() error { return b.err }

func (b *Builder) fail(err *Error) {
	if b.err == nil {
		if err.Node == "" {
			err.Node = b.node
		}
		b.err = err
	}
}

func (b *Builder) EmitByte(v byte) { b.data = append(b.data, v) }

func (b *Builder) EmitBytes(p []byte) { b.data = append(b.data, p...) }

// EmitZeros appends n zero bytes.
func (b *Builder) EmitZeros(n int) {
	for range n {
		b.data = append(b.data, 0)
	}
}

func (b *Builder) EmitUint16(v uint16) { b.data = binary.LittleEndian.AppendUint16(b.data, v) }

func (b *Builder) EmitUint32(v uint32) { b.data = binary.LittleEndian.AppendUint32(b.data, v) }

func (b *Builder) EmitUint64(v uint64) { b.data = binary.LittleEndian.AppendUint64(b.data, v) }

// EmitNaturalUint writes v as a pointer-sized unsigned integer.
func (b *Builder) EmitNaturalUint(v uint64) {
	if b.ptrSize == 4 {
		n, err := safecast.Conv[uint32](v)
		if err != nil {
			b.fail(&Error{Kind: ErrValueOverflow, Offset: len(b.data), Err: err})
		}
		b.EmitUint32(n)
		return
	}
	b.EmitUint64(v)
}

// EmitCompressedUint writes v in the 1/2/4 byte compressed form used by
// metadata signatures.
func (b *Builder) EmitCompressedUint(v uint32) {
	b.data = AppendCompressedUint(b.data, v)
}

// RequireAlignment raises the node's alignment to at least n.
func (b *Builder) RequireAlignment(n int) {
	if n > b.align {
		b.align = n
	}
}

// PadAlignment pads with zeros to a multiple of n and requires n.
func (b *Builder) PadAlignment(n int) {
	if n <= 1 {
		return
	}
	b.RequireAlignment(n)
	if r := len(b.data) % n; r != 0 {
		b.EmitZeros(n - r)
	}
}

// DefineSymbol places sym at offset inside this node.
func (b *Builder) DefineSymbol(sym Symbol, offset int) {
	b.defs = append(b.defs, SymbolDef{Symbol: sym, Offset: offset})
}

// EmitPointerReloc reserves a pointer slot holding target's address plus
// addend. The slot must be pointer aligned within the node.
func (b *Builder) EmitPointerReloc(target Symbol, addend int64) {
	b.emitReloc(RelocPointer, target, addend)
}

// EmitIndirectionReloc reserves a pointer slot holding the address of the
// cell that points at target. The Writer creates the cell.
func (b *Builder) EmitIndirectionReloc(target Symbol) {
	b.emitReloc(RelocIndirection, target, 0)
}

func (b *Builder) emitReloc(kind RelocKind, target Symbol, addend int64) {
	off := len(b.data)
	name := "<nil>"
	if target != nil {
		name = target.Name()
	}
	if off%b.ptrSize != 0 {
		b.fail(&Error{Kind: ErrMisalignedReloc, Target: name, Offset: off})
	}
	b.RequireAlignment(b.ptrSize)
	b.relocs = append(b.relocs, Reloc{Offset: off, Kind: kind, Target: target, Addend: addend})

	if b.relocsOnly || b.res == nil || target == nil {
		b.EmitZeros(b.ptrSize)
		return
	}
	var (
		addr uint64
		ok   bool
	)
	switch kind {
	case RelocIndirection:
		addr, ok = b.res.indirectionCell(target)
	default:
		addr, ok = b.res.address(target)
	}
	if !ok {
		// extern: the value is left for the linker
		b.EmitZeros(b.ptrSize)
		return
	}
	base, err := safecast.Conv[int64](addr)
	if err != nil {
		b.fail(&Error{Kind: ErrValueOverflow, Target: name, Offset: off, Err: err})
		b.EmitZeros(b.ptrSize)
		return
	}
	value, err := safecast.Conv[uint64](base + addend)
	if err != nil {
		b.fail(&Error{Kind: ErrValueOverflow, Target: name, Offset: off, Err: err})
		b.EmitZeros(b.ptrSize)
		return
	}
	b.EmitNaturalUint(value)
}

// Build returns the encoded node.
func (b *Builder) Build() ObjectData {
	return ObjectData{
		Data:      b.data,
		Relocs:    b.relocs,
		Alignment: b.align,
		Defined:   b.defs,
	}
}

// AppendCompressedUint appends v using the ECMA-335 compressed unsigned
// integer encoding. Values above 0x1FFFFFFF do not fit and panic.
func AppendCompressedUint(dst []byte, v uint32) []byte {
	switch {
	case v <= 0x7F:
		return append(dst, byte(v))
	case v <= 0x3FFF:
		return append(dst, byte(v>>8)|0x80, byte(v))
	case v <= 0x1FFFFFFF:
		return append(dst, byte(v>>24)|0xC0, byte(v>>16), byte(v>>8), byte(v))
	default:
		panic(fmt.Sprintf("objwriter: %d does not fit a compressed integer", v))
	}
}
