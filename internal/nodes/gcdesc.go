package nodes

import (
	"strings"

	"fortio.org/safecast"

	"ilc/internal/depgraph"
	"ilc/internal/objwriter"
)

// GCDesc marks which pointer-sized slots of a statics blob hold object
// references. It has one slot more than the blob has whole pointers, so a
// trailing partial slot is always covered.
type GCDesc struct {
	slots []bool
}

// NewGCDesc describes a blob of fieldSize bytes whose reference slots start
// at refOffsets. Offsets outside the blob are ignored.
func NewGCDesc(fieldSize, ptrSize int, refOffsets []int) GCDesc {
	if ptrSize <= 0 {
		ptrSize = 8
	}
	slots := make([]bool, max(fieldSize, 0)/ptrSize+1)
	for _, off := range refOffsets {
		if off < 0 || off%ptrSize != 0 {
			continue
		}
		if i := off / ptrSize; i < len(slots) {
			slots[i] = true
		}
	}
	return GCDesc{slots: slots}
}

// Len is the number of slots.
func (d GCDesc) Len() int { return len(d.slots) }

// IsRef reports whether slot i holds a reference.
func (d GCDesc) IsRef(i int) bool { return i >= 0 && i < len(d.slots) && d.slots[i] }

// RefCount counts the reference slots.
func (d GCDesc) RefCount() int {
	n := 0
	for _, s := range d.slots {
		if s {
			n++
		}
	}
	return n
}

// String renders the slots as '0' and '1' characters.
func (d GCDesc) String() string {
	var sb strings.Builder
	sb.Grow(len(d.slots))
	for _, s := range d.slots {
		if s {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

// GCStaticDescTypeNode is the synthetic type a statics blob points at so
// the collector can find its references.
type GCStaticDescTypeNode struct {
	desc GCDesc
	name string
}

func (n *GCStaticDescTypeNode) Name() string { return n.name }

func (n *GCStaticDescTypeNode) Desc() GCDesc { return n.desc }

func (n *GCStaticDescTypeNode) StaticDependencies() []depgraph.Edge { return nil }

func (n *GCStaticDescTypeNode) Section() objwriter.SectionKind { return objwriter.SectionReadOnly }

// Encode writes the slot count, the blob size and the slot bitmap, least
// significant bit first.
func (n *GCStaticDescTypeNode) Encode(b *objwriter.Builder, _ bool) error {
	b.RequireAlignment(4)
	count, err := safecast.Conv[uint32](n.desc.Len())
	if err != nil {
		return &objwriter.Error{Kind: objwriter.ErrValueOverflow, Node: n.name, Detail: "slot count", Err: err}
	}
	size, err := safecast.Conv[uint32](n.desc.Len() * b.PointerSize())
	if err != nil {
		return &objwriter.Error{Kind: objwriter.ErrValueOverflow, Node: n.name, Detail: "blob size", Err: err}
	}
	b.EmitUint32(count)
	b.EmitUint32(size)
	bitmap := make([]byte, (n.desc.Len()+7)/8)
	for i, s := range n.desc.slots {
		if s {
			bitmap[i/8] |= 1 << (i % 8)
		}
	}
	b.EmitBytes(bitmap)
	return nil
}
