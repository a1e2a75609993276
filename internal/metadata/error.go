package metadata

import (
	"fmt"
	"strings"
)

// ErrorKind enumerates transform failures. All of them abort the
// compilation: they mean the oracle and the policy disagree with each
// other or with the output format.
type ErrorKind uint8

const (
	// ErrExcludedByPolicy is a request for a member the policy trims away.
	ErrExcludedByPolicy ErrorKind = iota + 1
	// ErrLayoutOverflow is a size or packing that does not fit the record.
	ErrLayoutOverflow
	ErrContainingTypeCycle
	ErrUnknownType
	ErrUnknownMember
	// ErrInconsistentPolicy is a nested definition inside a reference-only type.
	ErrInconsistentPolicy
	ErrTooManyRecords
)

func (k ErrorKind) String() string {
	switch k {
	case ErrExcludedByPolicy:
		return "excluded by policy"
	case ErrLayoutOverflow:
		return "layout value overflow"
	case ErrContainingTypeCycle:
		return "containing type cycle"
	case ErrUnknownType:
		return "unknown type"
	case ErrUnknownMember:
		return "unknown member"
	case ErrInconsistentPolicy:
		return "inconsistent policy"
	case ErrTooManyRecords:
		return "too many records"
	default:
		return fmt.Sprintf("ErrorKind(%d)", k)
	}
}

// Error is a fatal metadata failure.
type Error struct {
	Kind   ErrorKind
	Entity string // mangled name of the type or member involved
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString("metadata: ")
	b.WriteString(e.Kind.String())
	if e.Entity != "" {
		fmt.Fprintf(&b, " (%s)", e.Entity)
	}
	if e.Detail != "" {
		b.WriteString(": " + e.Detail)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}
