package testkit

import (
	"encoding/binary"
	"fmt"
	"slices"

	"ilc/internal/depgraph"
	"ilc/internal/objwriter"
)

// CheckObject verifies the structural invariants of an emitted object:
// sections do not overlap, symbols lie inside their section, and every
// relocation slot is pointer aligned and holds the value its target
// resolves to. Relocations to names in externs must hold zero.
func CheckObject(obj *objwriter.Object, externs map[string]bool) error {
	ptr := obj.PointerSize
	if ptr != 4 && ptr != 8 {
		return fmt.Errorf("pointer size %d", ptr)
	}
	secs := slices.Clone(obj.Sections)
	slices.SortFunc(secs, func(a, b objwriter.Section) int {
		switch {
		case a.Base < b.Base:
			return -1
		case a.Base > b.Base:
			return 1
		}
		return 0
	})
	for i := 1; i < len(secs); i++ {
		prev := secs[i-1]
		if prev.Base+uint64(len(prev.Data)) > secs[i].Base {
			return fmt.Errorf("section %s overlaps %s", prev.Name, secs[i].Name)
		}
	}

	for _, sec := range obj.Sections {
		if sec.Align > 0 && sec.Base%uint64(sec.Align) != 0 {
			return fmt.Errorf("section %s base %#x is not %d aligned", sec.Name, sec.Base, sec.Align)
		}
		for _, sym := range sec.Symbols {
			if sym.Offset < 0 || sym.Offset+sym.Size > len(sec.Data) {
				return fmt.Errorf("symbol %s [%d, +%d) outside %s", sym.Name, sym.Offset, sym.Size, sec.Name)
			}
		}
		for _, r := range sec.Relocs {
			if r.Offset%ptr != 0 {
				return fmt.Errorf("%s+%#x: relocation to %s is not pointer aligned", sec.Name, r.Offset, r.Symbol)
			}
			if r.Offset < 0 || r.Offset+ptr > len(sec.Data) {
				return fmt.Errorf("%s+%#x: relocation to %s outside the section", sec.Name, r.Offset, r.Symbol)
			}
			got := readPointer(sec.Data[r.Offset:], ptr)
			want, err := relocValue(obj, r, externs)
			if err != nil {
				return fmt.Errorf("%s+%#x: %w", sec.Name, r.Offset, err)
			}
			if got != want {
				return fmt.Errorf("%s+%#x: relocation to %s holds %#x, want %#x", sec.Name, r.Offset, r.Symbol, got, want)
			}
		}
	}
	return nil
}

func relocValue(obj *objwriter.Object, r objwriter.SectionReloc, externs map[string]bool) (uint64, error) {
	if externs[r.Symbol] {
		return 0, nil
	}
	target := r.Symbol
	if r.Kind == objwriter.RelocIndirection {
		target = "__indirection_" + r.Symbol
	}
	addr, ok := obj.Address(target)
	if !ok {
		return 0, fmt.Errorf("relocation target %s is not defined", target)
	}
	if r.Kind == objwriter.RelocIndirection {
		return addr, nil
	}
	return uint64(int64(addr) + r.Addend), nil //nolint:gosec // test addresses are small
}

func readPointer(b []byte, ptr int) uint64 {
	if ptr == 4 {
		return uint64(binary.LittleEndian.Uint32(b))
	}
	return binary.LittleEndian.Uint64(b)
}

// CheckClosure verifies that the marked set is closed under dependencies
// and that every region holding members is marked along with its members.
func CheckClosure(a *depgraph.Analyzer) error {
	for _, n := range a.MarkedNodes() {
		for _, e := range a.Dependencies(n) {
			if !a.IsMarked(e.Target) {
				return fmt.Errorf("%s is marked but its dependency %s (%s) is not", n.Name(), e.Target.Name(), e.Reason)
			}
		}
	}
	for _, r := range a.Regions() {
		members := r.Members()
		if len(members) > 0 && !a.IsMarked(r) {
			return fmt.Errorf("region %s has members but is not marked", r.Name())
		}
		for _, m := range members {
			if !a.IsMarked(m) {
				return fmt.Errorf("region %s holds unmarked member %s", r.Name(), m.Name())
			}
		}
	}
	return nil
}
