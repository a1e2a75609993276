package objwriter

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Object is the relocatable output of a compilation.
type Object struct {
	Target      string
	PointerSize int
	Sections    []Section
}

// Section is a contiguous block of bytes with its relocations and symbols.
// Base is the address the Writer assumed when resolving relocations.
type Section struct {
	Name    string          `msgpack:"name"`
	Kind    SectionKind     `msgpack:"kind"`
	Base    uint64          `msgpack:"base"`
	Align   int             `msgpack:"align"`
	Data    []byte          `msgpack:"-"`
	Relocs  []SectionReloc  `msgpack:"relocs"`
	Symbols []SectionSymbol `msgpack:"symbols"`
}

// SectionReloc is a resolved relocation kept for the linker.
type SectionReloc struct {
	Offset int       `msgpack:"offset"`
	Kind   RelocKind `msgpack:"kind"`
	Symbol string    `msgpack:"symbol"`
	Addend int64     `msgpack:"addend,omitempty"`
}

// SectionSymbol is a symbol defined in a section. Size is zero for symbols
// defined inside another node.
type SectionSymbol struct {
	Name   string `msgpack:"name"`
	Offset int    `msgpack:"offset"`
	Size   int    `msgpack:"size,omitempty"`
}

// Section returns the section of the given kind.
func (o *Object) Section(kind SectionKind) (*Section, bool) {
	for i := range o.Sections {
		if o.Sections[i].Kind == kind {
			return &o.Sections[i], true
		}
	}
	return nil, false
}

// LookupSymbol finds a symbol by name.
func (o *Object) LookupSymbol(name string) (*Section, SectionSymbol, bool) {
	for i := range o.Sections {
		for _, s := range o.Sections[i].Symbols {
			if s.Name == name {
				return &o.Sections[i], s, true
			}
		}
	}
	return nil, SectionSymbol{}, false
}

// Address returns the absolute address assigned to name.
func (o *Object) Address(name string) (uint64, bool) {
	sec, sym, ok := o.LookupSymbol(name)
	if !ok {
		return 0, false
	}
	return sec.Base + uint64(sym.Offset), true //nolint:gosec // offsets are non-negative
}

// ReadPointer reads the pointer-sized value at name+delta.
func (o *Object) ReadPointer(name string, delta int) (uint64, error) {
	sec, sym, ok := o.LookupSymbol(name)
	if !ok {
		return 0, fmt.Errorf("symbol %q not found", name)
	}
	off := sym.Offset + delta
	if off < 0 || off+o.PointerSize > len(sec.Data) {
		return 0, fmt.Errorf("pointer at %s+%d is outside %s", name, delta, sec.Name)
	}
	if o.PointerSize == 4 {
		return uint64(binary.LittleEndian.Uint32(sec.Data[off:])), nil
	}
	return binary.LittleEndian.Uint64(sec.Data[off:]), nil
}

// RelocsOf returns the relocations inside the sized symbol name.
func (o *Object) RelocsOf(name string) []SectionReloc {
	sec, sym, ok := o.LookupSymbol(name)
	if !ok {
		return nil
	}
	var out []SectionReloc
	for _, r := range sec.Relocs {
		if r.Offset >= sym.Offset && r.Offset < sym.Offset+sym.Size {
			out = append(out, r)
		}
	}
	return out
}

// Digest is a content hash of an object.
type Digest [32]byte

func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// Digest hashes the uncompressed container encoding of o. Two objects with
// the same sections, bytes, relocations and symbols hash equal regardless
// of how they were produced.
func (o *Object) Digest() (Digest, error) {
	data, err := o.Marshal(CompressionNone)
	if err != nil {
		return Digest{}, err
	}
	return Digest(blake3.Sum256(data)), nil
}
