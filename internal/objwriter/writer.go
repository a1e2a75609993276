package objwriter

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"fortio.org/safecast"
	"go.uber.org/zap"

	"ilc/internal/trace"
	"ilc/internal/typesys"
)

// Writer lays out marked nodes into sections and resolves relocations.
//
// Emission always runs two passes over every node. The discovery pass
// encodes with relocsOnly set to learn sizes, alignments and relocation
// targets. After layout the final pass encodes again with real addresses;
// any difference in size or alignment between the passes is an error.
type Writer struct {
	target typesys.Target
	log    *zap.Logger
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithLogger sets the logger; the default discards everything.
func WithLogger(l *zap.Logger) WriterOption {
	return func(w *Writer) {
		if l != nil {
			w.log = l
		}
	}
}

func NewWriter(target typesys.Target, opts ...WriterOption) *Writer {
	w := &Writer{target: target, log: zap.NewNop()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

type item struct {
	node    Node
	section SectionKind
	first   ObjectData
	offset  int
	addr    uint64
}

// indirectionCell is the pointer-sized slot behind an indirection reloc.
type indirectionCell struct {
	target Symbol
}

func (c *indirectionCell) Name() string          { return "__indirection_" + c.target.Name() }
func (c *indirectionCell) Section() SectionKind { return SectionIndirection }

func (c *indirectionCell) Encode(b *Builder, _ bool) error {
	b.EmitPointerReloc(c.target, 0)
	return nil
}

type addressMap struct {
	addrs map[Symbol]uint64
	cells map[Symbol]uint64
}

func (m *addressMap) address(sym Symbol) (uint64, bool) {
	a, ok := m.addrs[sym]
	return a, ok
}

func (m *addressMap) indirectionCell(sym Symbol) (uint64, bool) {
	a, ok := m.cells[sym]
	return a, ok
}

// Write emits symbols in the given order. Each symbol must be a Node or
// an ExternSymbol; embedded members are reached through the node that
// contains them and must not be passed here.
func (w *Writer) Write(ctx context.Context, symbols []Symbol) (*Object, error) {
	tr := trace.FromContext(ctx)
	span := trace.Begin(tr, trace.ScopePass, "emit", 0)
	defer span.End("")

	externs := make(map[Symbol]bool)
	seen := make(map[Symbol]bool, len(symbols))
	items := make([]*item, 0, len(symbols))
	for _, sym := range symbols {
		if seen[sym] {
			continue
		}
		seen[sym] = true
		if ext, ok := sym.(ExternSymbol); ok && ext.IsExtern() {
			externs[sym] = true
			continue
		}
		n, ok := sym.(Node)
		if !ok {
			return nil, &Error{Kind: ErrNotEncodable, Node: sym.Name()}
		}
		section := SectionData
		if s, ok := n.(Sectioned); ok {
			section = s.Section()
		}
		items = append(items, &item{node: n, section: section})
	}

	discover := trace.Begin(tr, trace.ScopeRegion, "emit.discover", span.ID())
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := w.encode(it.node, true, nil)
		if err != nil {
			return nil, err
		}
		it.first = data
	}

	cells := make(map[Symbol]*indirectionCell)
	for _, it := range items {
		for _, r := range it.first.Relocs {
			if r.Kind == RelocIndirection && r.Target != nil && cells[r.Target] == nil {
				cells[r.Target] = &indirectionCell{target: r.Target}
			}
		}
	}
	cellList := make([]*indirectionCell, 0, len(cells))
	for _, c := range cells {
		cellList = append(cellList, c)
	}
	slices.SortFunc(cellList, func(a, b *indirectionCell) int { return strings.Compare(a.Name(), b.Name()) })
	for _, c := range cellList {
		data, err := w.encode(c, true, nil)
		if err != nil {
			return nil, err
		}
		items = append(items, &item{node: c, section: SectionIndirection, first: data})
	}
	discover.WithExtra("nodes", fmt.Sprint(len(items))).End("")

	sections, addrs, err := w.layout(items)
	if err != nil {
		return nil, err
	}
	for target, c := range cells {
		addrs.cells[target] = addrs.addrs[c]
	}
	if err := validateTargets(items, addrs, externs); err != nil {
		return nil, err
	}

	final := trace.Begin(tr, trace.ScopeRegion, "emit.final", span.ID())
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := w.encode(it.node, false, addrs)
		if err != nil {
			return nil, err
		}
		if len(data.Data) != len(it.first.Data) || data.Alignment != it.first.Alignment || len(data.Relocs) != len(it.first.Relocs) {
			return nil, &Error{
				Kind: ErrLayoutMismatch,
				Node: it.node.Name(),
				Detail: fmt.Sprintf("size %d/%d, align %d/%d, relocs %d/%d",
					len(it.first.Data), len(data.Data), it.first.Alignment, data.Alignment,
					len(it.first.Relocs), len(data.Relocs)),
			}
		}
		sec := sections[it.section]
		copy(sec.Data[it.offset:], data.Data)
		for _, r := range data.Relocs {
			sec.Relocs = append(sec.Relocs, SectionReloc{
				Offset: it.offset + r.Offset,
				Kind:   r.Kind,
				Symbol: r.Target.Name(),
				Addend: r.Addend,
			})
		}
		sec.Symbols = append(sec.Symbols, SectionSymbol{Name: it.node.Name(), Offset: it.offset, Size: len(data.Data)})
		for _, d := range data.Defined {
			sec.Symbols = append(sec.Symbols, SectionSymbol{Name: d.Symbol.Name(), Offset: it.offset + d.Offset})
		}
	}
	final.End("")

	obj := &Object{Target: w.target.String(), PointerSize: w.target.PointerSize}
	for _, kind := range sectionOrder {
		sec := sections[kind]
		if sec == nil || len(sec.Data) == 0 {
			continue
		}
		obj.Sections = append(obj.Sections, *sec)
	}
	w.log.Debug("object written",
		zap.Int("nodes", len(items)),
		zap.Int("externs", len(externs)),
		zap.Int("indirection_cells", len(cellList)),
		zap.Int("sections", len(obj.Sections)))
	span.WithExtra("sections", fmt.Sprint(len(obj.Sections)))
	return obj, nil
}

var sectionOrder = []SectionKind{SectionData, SectionReadOnly, SectionIndirection}

func (w *Writer) encode(n Node, relocsOnly bool, res resolver) (data ObjectData, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &Error{Kind: ErrEncode, Node: n.Name(), Detail: fmt.Sprint(r)}
		}
	}()
	b := newBuilder(n.Name(), w.target.PointerSize, relocsOnly, res)
	if err := n.Encode(b, relocsOnly); err != nil {
		return ObjectData{}, &Error{Kind: ErrEncode, Node: n.Name(), Err: err}
	}
	if err := b.Err(); err != nil {
		return ObjectData{}, err
	}
	return b.Build(), nil
}

// layout assigns section-relative offsets and absolute addresses. Sections
// follow each other in sectionOrder starting at address zero.
func (w *Writer) layout(items []*item) (map[SectionKind]*Section, *addressMap, error) {
	sections := make(map[SectionKind]*Section, len(sectionOrder))
	addrs := &addressMap{
		addrs: make(map[Symbol]uint64, len(items)),
		cells: make(map[Symbol]uint64),
	}
	var base uint64
	for _, kind := range sectionOrder {
		align := w.target.PointerSize
		size := 0
		for _, it := range items {
			if it.section != kind {
				continue
			}
			a := max(it.first.Alignment, 1)
			align = max(align, a)
			it.offset = roundUp(size, a)
			size = it.offset + len(it.first.Data)
		}
		alignU, err := safecast.Conv[uint64](align)
		if err != nil {
			return nil, nil, err
		}
		base = (base + alignU - 1) / alignU * alignU
		sections[kind] = &Section{Name: kind.String(), Kind: kind, Base: base, Align: align, Data: make([]byte, size)}
		for _, it := range items {
			if it.section != kind {
				continue
			}
			off, err := safecast.Conv[uint64](it.offset)
			if err != nil {
				return nil, nil, err
			}
			it.addr = base + off
			if _, dup := addrs.addrs[it.node]; dup {
				return nil, nil, &Error{Kind: ErrEncode, Node: it.node.Name(), Detail: "symbol placed twice"}
			}
			addrs.addrs[it.node] = it.addr
			for _, d := range it.first.Defined {
				if _, dup := addrs.addrs[d.Symbol]; dup {
					return nil, nil, &Error{Kind: ErrEncode, Node: it.node.Name(), Target: d.Symbol.Name(), Detail: "symbol defined twice"}
				}
				doff, err := safecast.Conv[uint64](d.Offset)
				if err != nil {
					return nil, nil, err
				}
				addrs.addrs[d.Symbol] = it.addr + doff
			}
		}
		sizeU, err := safecast.Conv[uint64](size)
		if err != nil {
			return nil, nil, err
		}
		base += sizeU
	}
	return sections, addrs, nil
}

func validateTargets(items []*item, addrs *addressMap, externs map[Symbol]bool) error {
	for _, it := range items {
		for _, r := range it.first.Relocs {
			if r.Target == nil {
				return &Error{Kind: ErrUnmarkedTarget, Node: it.node.Name(), Offset: r.Offset, Target: "<nil>"}
			}
			if r.Kind == RelocIndirection {
				continue // the cell carries its own pointer reloc
			}
			if _, ok := addrs.addrs[r.Target]; ok || externs[r.Target] {
				continue
			}
			return &Error{Kind: ErrUnmarkedTarget, Node: it.node.Name(), Offset: r.Offset, Target: r.Target.Name()}
		}
	}
	return nil
}

func roundUp(n, align int) int {
	if align <= 1 {
		return n
	}
	return (n + align - 1) / align * align
}
