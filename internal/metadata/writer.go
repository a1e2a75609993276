package metadata

import (
	"encoding/binary"
	"fmt"

	"fortio.org/safecast"

	"ilc/internal/objwriter"
)

// Handle addresses a row: the table kind in the top byte, the 1-based row
// in the low 24 bits. The zero Handle means "none".
type Handle uint32

const maxRows = 1<<24 - 1

func makeHandle(kind RecordKind, row int) (Handle, error) {
	r, err := safecast.Conv[uint32](row)
	if err != nil || r > maxRows {
		return 0, &Error{Kind: ErrTooManyRecords, Detail: fmt.Sprintf("%s table exceeds %d rows", kind, maxRows)}
	}
	return Handle(uint32(kind)<<24 | r), nil
}

func (h Handle) Kind() RecordKind { return RecordKind(h >> 24) }
func (h Handle) Row() uint32      { return uint32(h) & maxRows }

func (h Handle) String() string {
	if h == 0 {
		return "nil"
	}
	return fmt.Sprintf("%s#%d", h.Kind(), h.Row())
}

const (
	blobMagic   = "ILMD"
	blobVersion = 1
	tableCount  = int(KindGenericParameter)
)

// Writer assigns handles to records and serializes them.
//
// Records get handles in the order they are reached from Add, depth first
// in field order, so the same sequence of Add calls always produces the
// same bytes.
type Writer struct {
	tables  [tableCount + 1][]Record
	handles map[Record]Handle
}

func NewWriter() *Writer {
	return &Writer{handles: make(map[Record]Handle, 256)}
}

// Add registers rec and everything it refers to.
func (w *Writer) Add(rec Record) error {
	work := []Record{rec}
	for len(work) > 0 {
		last := len(work) - 1
		cur := work[last]
		work = work[:last]
		if cur == nil {
			continue
		}
		if _, ok := w.handles[cur]; ok {
			continue
		}
		kind := cur.Kind()
		h, err := makeHandle(kind, len(w.tables[kind])+1)
		if err != nil {
			return err
		}
		w.tables[kind] = append(w.tables[kind], cur)
		w.handles[cur] = h
		refs := references(cur)
		for i := len(refs) - 1; i >= 0; i-- {
			work = append(work, refs[i])
		}
	}
	return nil
}

// Handle returns the handle assigned to rec.
func (w *Writer) Handle(rec Record) (Handle, bool) {
	h, ok := w.handles[rec]
	return h, ok
}

// Rows returns the records of one table in handle order.
func (w *Writer) Rows(kind RecordKind) []Record {
	if int(kind) > tableCount {
		return nil
	}
	return w.tables[kind]
}

// refs collects non-nil records; typed nil pointers are dropped.
type refs []Record

func (r *refs) add(rec Record) {
	switch v := rec.(type) {
	case nil:
		return
	case *NamespaceDefinition:
		if v == nil {
			return
		}
	case *NamespaceReference:
		if v == nil {
			return
		}
	case *ScopeDefinition:
		if v == nil {
			return
		}
	case *ScopeReference:
		if v == nil {
			return
		}
	case *TypeDefinition:
		if v == nil {
			return
		}
	case *TypeReference:
		if v == nil {
			return
		}
	case *Method:
		if v == nil {
			return
		}
	}
	*r = append(*r, rec)
}

func references(rec Record) []Record {
	var out refs
	switch r := rec.(type) {
	case *ScopeDefinition:
		out.add(r.RootNamespace)
	case *ScopeReference:
	case *NamespaceDefinition:
		out.add(r.Scope)
		out.add(r.Parent)
		for _, c := range r.Children {
			out.add(c)
		}
		for _, d := range r.TypeDefinitions {
			out.add(d)
		}
	case *NamespaceReference:
		out.add(r.Scope)
		out.add(r.Parent)
	case *TypeDefinition:
		out.add(r.Namespace)
		out.add(r.EnclosingType)
		out.add(r.BaseType)
		for _, i := range r.Interfaces {
			out.add(i)
		}
		for _, g := range r.GenericParameters {
			out = append(out, g)
		}
		for _, f := range r.Fields {
			out = append(out, f)
		}
		for _, m := range r.Methods {
			out = append(out, m)
		}
		for _, p := range r.Properties {
			out = append(out, p)
		}
		for _, n := range r.NestedTypes {
			out.add(n)
		}
	case *TypeReference:
		out.add(r.Parent)
	case *TypeSpecification:
		signatureRefs(&out, r.Signature)
	case *Field:
		out.add(r.Owner)
		out.add(r.Signature.Type)
	case *Method:
		out.add(r.Owner)
		methodRefs(&out, r.Signature)
	case *Property:
		out.add(r.Owner)
		out.add(r.Signature.Type)
		out.add(r.Getter)
		out.add(r.Setter)
	case *MemberReference:
		out.add(r.Parent)
		if r.Field != nil {
			out.add(r.Field.Type)
		}
		if r.Method != nil {
			methodRefs(&out, *r.Method)
		}
	case *GenericParameter:
	}
	return out
}

func methodRefs(out *refs, s MethodSignature) {
	out.add(s.Return)
	for _, p := range s.Params {
		out.add(p)
	}
}

func signatureRefs(out *refs, sig Signature) {
	switch s := sig.(type) {
	case *SzArraySignature:
		out.add(s.Element)
	case *ArraySignature:
		out.add(s.Element)
	case *ByRefSignature:
		out.add(s.Element)
	case *PointerSignature:
		out.add(s.Element)
	case *TypeInstantiationSignature:
		out.add(s.GenericType)
		for _, a := range s.Args {
			out.add(a)
		}
	case *TypeVariableSignature, *MethodVariableSignature, nil:
	}
}

type heaps struct {
	strings  []byte
	strIndex map[string]uint32
	blobs    []byte
	blobIdx  map[string]uint32
}

func newHeaps() *heaps {
	// offset 0 is the empty string and the empty blob
	return &heaps{
		strings:  []byte{0},
		strIndex: map[string]uint32{"": 0},
		blobs:    []byte{0},
		blobIdx:  map[string]uint32{"": 0},
	}
}

func (h *heaps) str(s string) (uint32, error) {
	if off, ok := h.strIndex[s]; ok {
		return off, nil
	}
	off, err := safecast.Conv[uint32](len(h.strings))
	if err != nil {
		return 0, &Error{Kind: ErrTooManyRecords, Detail: "string heap", Cause: err}
	}
	h.strings = append(h.strings, s...)
	h.strings = append(h.strings, 0)
	h.strIndex[s] = off
	return off, nil
}

func (h *heaps) blob(b []byte) (uint32, error) {
	if off, ok := h.blobIdx[string(b)]; ok {
		return off, nil
	}
	off, err := safecast.Conv[uint32](len(h.blobs))
	if err != nil {
		return 0, &Error{Kind: ErrTooManyRecords, Detail: "blob heap", Cause: err}
	}
	n, err := count(len(b))
	if err != nil {
		return 0, err
	}
	h.blobs = appendCompressed(h.blobs, n)
	h.blobs = append(h.blobs, b...)
	h.blobIdx[string(b)] = off
	return off, nil
}

// Bytes serializes the tables:
//
//	magic "ILMD" | version u16 | table count u16
//	per table: rows u32, columns u32
//	string heap: size u32, bytes
//	blob heap: size u32, bytes
//	rows, each column a little-endian u32
func (w *Writer) Bytes() ([]byte, error) {
	hp := newHeaps()
	rows := make([][][]uint32, tableCount+1)
	for kind := 1; kind <= tableCount; kind++ {
		for _, rec := range w.tables[kind] {
			row, err := w.row(hp, rec)
			if err != nil {
				return nil, err
			}
			rows[kind] = append(rows[kind], row)
		}
	}

	out := make([]byte, 0, 1024)
	out = append(out, blobMagic...)
	out = binary.LittleEndian.AppendUint16(out, blobVersion)
	out = binary.LittleEndian.AppendUint16(out, uint16(tableCount))
	for kind := 1; kind <= tableCount; kind++ {
		n, err := count(len(rows[kind]))
		if err != nil {
			return nil, err
		}
		out = binary.LittleEndian.AppendUint32(out, n)
		out = binary.LittleEndian.AppendUint32(out, columnCount[kind])
	}
	for _, heap := range [][]byte{hp.strings, hp.blobs} {
		n, err := safecast.Conv[uint32](len(heap))
		if err != nil {
			return nil, &Error{Kind: ErrTooManyRecords, Cause: err}
		}
		out = binary.LittleEndian.AppendUint32(out, n)
		out = append(out, heap...)
	}
	for kind := 1; kind <= tableCount; kind++ {
		for _, row := range rows[kind] {
			for _, col := range row {
				out = binary.LittleEndian.AppendUint32(out, col)
			}
		}
	}
	return out, nil
}

var columnCount = [tableCount + 1]uint32{
	KindScopeDefinition:     2,
	KindScopeReference:      1,
	KindNamespaceDefinition: 5,
	KindNamespaceReference:  2,
	KindTypeDefinition:      13,
	KindTypeReference:       2,
	KindTypeSpecification:   1,
	KindField:               4,
	KindMethod:              4,
	KindProperty:            5,
	KindMemberReference:     3,
	KindGenericParameter:    2,
}

// rowBuilder accumulates columns and remembers the first failure.
type rowBuilder struct {
	w    *Writer
	hp   *heaps
	cols []uint32
	err  error
}

func (b *rowBuilder) u32(v uint32) { b.cols = append(b.cols, v) }

func (b *rowBuilder) str(s string) {
	off, err := b.hp.str(s)
	b.keep(err)
	b.u32(off)
}

func (b *rowBuilder) h(rec Record) {
	var rs refs
	rs.add(rec)
	if len(rs) == 0 {
		b.u32(0)
		return
	}
	handle, ok := b.w.handles[rs[0]]
	if !ok {
		b.keep(&Error{Kind: ErrUnknownType, Detail: "record " + rec.Kind().String() + " was not added"})
	}
	b.u32(uint32(handle))
}

func (b *rowBuilder) list(recs []Record) {
	n, err := count(len(recs))
	b.keep(err)
	enc := appendCompressed(nil, n)
	for _, r := range recs {
		handle, ok := b.w.handles[r]
		if !ok {
			b.keep(&Error{Kind: ErrUnknownType, Detail: "listed record was not added"})
		}
		enc = appendCompressed(enc, uint32(handle))
	}
	b.blob(enc)
}

func (b *rowBuilder) blob(data []byte) {
	off, err := b.hp.blob(data)
	b.keep(err)
	b.u32(off)
}

func (b *rowBuilder) sig(encode func(*sigEncoder) error) {
	enc := &sigEncoder{handle: func(rec Record) (uint32, error) {
		h, ok := b.w.handles[rec]
		if !ok {
			return 0, &Error{Kind: ErrUnknownType, Detail: "signature refers to a record that was not added"}
		}
		return uint32(h), nil
	}}
	b.keep(encode(enc))
	b.blob(enc.buf)
}

func (b *rowBuilder) keep(err error) {
	if err != nil && b.err == nil {
		b.err = err
	}
}

func asRecords[T Record](in []T) []Record {
	out := make([]Record, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}

func (w *Writer) row(hp *heaps, rec Record) ([]uint32, error) {
	b := &rowBuilder{w: w, hp: hp}
	switch r := rec.(type) {
	case *ScopeDefinition:
		b.str(r.Name)
		b.h(r.RootNamespace)
	case *ScopeReference:
		b.str(r.Name)
	case *NamespaceDefinition:
		b.str(r.Name)
		b.h(r.Parent)
		b.h(r.Scope)
		b.list(asRecords(r.Children))
		b.list(asRecords(r.TypeDefinitions))
	case *NamespaceReference:
		b.str(r.Name)
		if r.Parent != nil {
			b.h(r.Parent)
		} else {
			b.h(r.Scope)
		}
	case *TypeDefinition:
		b.u32(uint32(r.Flags))
		b.str(r.Name)
		b.h(r.Namespace)
		b.h(r.EnclosingType)
		b.h(r.BaseType)
		b.u32(r.Size)
		b.u32(uint32(r.PackingSize))
		b.list(asRecords(r.NestedTypes))
		b.list(r.Interfaces)
		b.list(asRecords(r.GenericParameters))
		b.list(asRecords(r.Fields))
		b.list(asRecords(r.Methods))
		b.list(asRecords(r.Properties))
	case *TypeReference:
		b.str(r.Name)
		b.h(r.Parent)
	case *TypeSpecification:
		b.sig(func(e *sigEncoder) error { return e.spec(r.Signature) })
	case *Field:
		b.u32(uint32(r.Flags))
		b.str(r.Name)
		b.h(r.Owner)
		b.sig(func(e *sigEncoder) error { return e.field(r.Signature) })
	case *Method:
		b.u32(uint32(r.Flags))
		b.str(r.Name)
		b.h(r.Owner)
		b.sig(func(e *sigEncoder) error { return e.method(r.Signature) })
	case *Property:
		b.str(r.Name)
		b.h(r.Owner)
		b.sig(func(e *sigEncoder) error { return e.property(r.Signature) })
		b.h(r.Getter)
		b.h(r.Setter)
	case *MemberReference:
		b.str(r.Name)
		b.h(r.Parent)
		b.sig(func(e *sigEncoder) error {
			if r.Field != nil {
				return e.field(*r.Field)
			}
			return e.method(*r.Method)
		})
	case *GenericParameter:
		b.u32(r.Index)
		b.str(r.Name)
	default:
		return nil, &Error{Kind: ErrUnknownType, Detail: fmt.Sprintf("cannot serialize %T", rec)}
	}
	if b.err != nil {
		return nil, b.err
	}
	return b.cols, nil
}

func appendCompressed(dst []byte, v uint32) []byte {
	return objwriter.AppendCompressedUint(dst, v)
}

// count converts a length to the compressed integer range.
func count(n int) (uint32, error) {
	v, err := safecast.Conv[uint32](n)
	if err != nil || v > 0x1FFFFFFF {
		return 0, &Error{Kind: ErrTooManyRecords, Detail: fmt.Sprintf("count %d", n)}
	}
	return v, nil
}
