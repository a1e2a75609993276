package objwriter

import (
	"fmt"
	"strings"
)

// ErrorKind enumerates emission failures. All of them are fatal for the
// compilation: the output would reference something that is not there or
// would disagree with its own layout.
type ErrorKind uint8

const (
	// ErrUnmarkedTarget is a relocation to a symbol that was never placed.
	ErrUnmarkedTarget ErrorKind = iota + 1
	// ErrLayoutMismatch means the final pass produced a different size or
	// alignment than the discovery pass.
	ErrLayoutMismatch
	ErrMisalignedReloc
	ErrEncode
	ErrNotEncodable
	ErrValueOverflow
	ErrCorruptContainer
)

func (k ErrorKind) String() string {
	switch k {
	case ErrUnmarkedTarget:
		return "unmarked relocation target"
	case ErrLayoutMismatch:
		return "layout mismatch between passes"
	case ErrMisalignedReloc:
		return "misaligned relocation"
	case ErrEncode:
		return "encode failed"
	case ErrNotEncodable:
		return "symbol is neither encodable nor extern"
	case ErrValueOverflow:
		return "relocation value overflow"
	case ErrCorruptContainer:
		return "corrupt object container"
	default:
		return fmt.Sprintf("ErrorKind(%d)", k)
	}
}

// Error reports an emission failure with the offending node.
type Error struct {
	Kind   ErrorKind
	Node   string // node being encoded
	Target string // relocation target, when relevant
	Offset int    // offset inside Node, when relevant
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Node != "" {
		fmt.Fprintf(&b, " in %s", e.Node)
	}
	if e.Kind == ErrUnmarkedTarget || e.Kind == ErrMisalignedReloc || e.Kind == ErrValueOverflow {
		fmt.Fprintf(&b, " at +%d", e.Offset)
	}
	if e.Target != "" {
		fmt.Fprintf(&b, " -> %s", e.Target)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
