package objwriter

import (
	"context"
	"errors"
	"testing"

	"ilc/internal/typesys"
)

type testReloc struct {
	target   Symbol
	addend   int64
	indirect bool
}

type blob struct {
	name    string
	section SectionKind
	prefix  []byte
	relocs  []testReloc
	align   int
	// grow makes the final pass longer than the discovery pass.
	grow bool
}

func (b *blob) Name() string          { return b.name }
func (b *blob) Section() SectionKind { return b.section }

func (b *blob) Encode(bld *Builder, relocsOnly bool) error {
	if b.align > 0 {
		bld.RequireAlignment(b.align)
	}
	bld.EmitBytes(b.prefix)
	bld.PadAlignment(bld.PointerSize())
	for _, r := range b.relocs {
		if r.indirect {
			bld.EmitIndirectionReloc(r.target)
		} else {
			bld.EmitPointerReloc(r.target, r.addend)
		}
	}
	if b.grow && !relocsOnly {
		bld.EmitByte(0xFF)
	}
	return nil
}

type extern struct{ name string }

func (e *extern) Name() string   { return e.name }
func (e *extern) IsExtern() bool { return true }

func TestWriteResolvesPointerRelocs(t *testing.T) {
	a := &blob{name: "A", section: SectionReadOnly, prefix: []byte{1, 2, 3}}
	b := &blob{name: "B", section: SectionData, relocs: []testReloc{{target: a, addend: 4}}}

	obj, err := NewWriter(typesys.X64()).Write(context.Background(), []Symbol{a, b})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	addrA, ok := obj.Address("A")
	if !ok {
		t.Fatalf("A not placed")
	}
	got, err := obj.ReadPointer("B", 0)
	if err != nil {
		t.Fatalf("ReadPointer: %v", err)
	}
	if got != addrA+4 {
		t.Fatalf("B -> %#x, want %#x", got, addrA+4)
	}
	relocs := obj.RelocsOf("B")
	if len(relocs) != 1 || relocs[0].Symbol != "A" || relocs[0].Addend != 4 {
		t.Fatalf("relocs = %+v", relocs)
	}
	if len(obj.Sections) != 2 || obj.Sections[0].Kind != SectionData || obj.Sections[1].Kind != SectionReadOnly {
		t.Fatalf("sections = %+v", obj.Sections)
	}
}

func TestWriteRejectsUnmarkedTarget(t *testing.T) {
	missing := &blob{name: "Missing"}
	b := &blob{name: "B", relocs: []testReloc{{target: missing}}}

	_, err := NewWriter(typesys.X64()).Write(context.Background(), []Symbol{b})
	var oerr *Error
	if !errors.As(err, &oerr) || oerr.Kind != ErrUnmarkedTarget {
		t.Fatalf("err = %v, want ErrUnmarkedTarget", err)
	}
	if oerr.Node != "B" || oerr.Target != "Missing" {
		t.Fatalf("err = %+v", oerr)
	}
}

func TestWriteExternStaysSymbolic(t *testing.T) {
	ext := &extern{name: "Entry"}
	b := &blob{name: "B", relocs: []testReloc{{target: ext}}}

	obj, err := NewWriter(typesys.X86()).Write(context.Background(), []Symbol{ext, b})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if v, _ := obj.ReadPointer("B", 0); v != 0 {
		t.Fatalf("extern slot = %#x, want 0", v)
	}
	if r := obj.RelocsOf("B"); len(r) != 1 || r[0].Symbol != "Entry" {
		t.Fatalf("relocs = %+v", r)
	}
	if _, _, ok := obj.LookupSymbol("Entry"); ok {
		t.Fatalf("extern symbol was placed")
	}
}

func TestWriteIndirectionCells(t *testing.T) {
	ext := &extern{name: "Cctor"}
	a := &blob{name: "A", relocs: []testReloc{{target: ext, indirect: true}}}
	b := &blob{name: "B", relocs: []testReloc{{target: ext, indirect: true}}}

	obj, err := NewWriter(typesys.X64()).Write(context.Background(), []Symbol{ext, a, b})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	cell, ok := obj.Address("__indirection_Cctor")
	if !ok {
		t.Fatalf("indirection cell not emitted")
	}
	for _, name := range []string{"A", "B"} {
		if v, _ := obj.ReadPointer(name, 0); v != cell {
			t.Fatalf("%s -> %#x, want cell %#x", name, v, cell)
		}
	}
	sec, _ := obj.Section(SectionIndirection)
	if len(sec.Symbols) != 1 {
		t.Fatalf("want one shared cell, got %+v", sec.Symbols)
	}
}

func TestWriteDetectsLayoutMismatch(t *testing.T) {
	b := &blob{name: "B", prefix: []byte{1}, grow: true}
	_, err := NewWriter(typesys.X64()).Write(context.Background(), []Symbol{b})
	var oerr *Error
	if !errors.As(err, &oerr) || oerr.Kind != ErrLayoutMismatch {
		t.Fatalf("err = %v, want ErrLayoutMismatch", err)
	}
}

func TestMisalignedRelocIsRejected(t *testing.T) {
	target := &blob{name: "T"}
	bld := NewBuilder(8)
	bld.EmitByte(1)
	bld.EmitPointerReloc(target, 0)
	var oerr *Error
	if !errors.As(bld.Err(), &oerr) || oerr.Kind != ErrMisalignedReloc {
		t.Fatalf("err = %v, want ErrMisalignedReloc", bld.Err())
	}
}

func TestWriteHonoursAlignment(t *testing.T) {
	a := &blob{name: "A", prefix: []byte{1}}
	b := &blob{name: "B", prefix: []byte{2}, align: 32}
	obj, err := NewWriter(typesys.X64()).Write(context.Background(), []Symbol{a, b})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	addr, _ := obj.Address("B")
	if addr%32 != 0 {
		t.Fatalf("B at %#x is not 32-byte aligned", addr)
	}
	if sec, _ := obj.Section(SectionData); sec.Align != 32 {
		t.Fatalf("section align = %d, want 32", sec.Align)
	}
}

func TestCompressedUint(t *testing.T) {
	cases := []struct {
		v    uint32
		want []byte
	}{
		{0x03, []byte{0x03}},
		{0x7F, []byte{0x7F}},
		{0x80, []byte{0x80, 0x80}},
		{0x2E57, []byte{0xAE, 0x57}},
		{0x4000, []byte{0xC0, 0x00, 0x40, 0x00}},
		{0x1FFFFFFF, []byte{0xDF, 0xFF, 0xFF, 0xFF}},
	}
	for _, tc := range cases {
		got := AppendCompressedUint(nil, tc.v)
		if string(got) != string(tc.want) {
			t.Fatalf("AppendCompressedUint(%#x) = % x, want % x", tc.v, got, tc.want)
		}
	}
}
