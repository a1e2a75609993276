package depgraph

import (
	"fmt"
	"strings"
)

// ErrorKind enumerates graph failures.
type ErrorKind uint8

const (
	// ErrDependencyPanic is a panic raised while computing a dependency list.
	ErrDependencyPanic ErrorKind = iota + 1
	ErrNilDependency
	// ErrMarkAfterFinalize means marking was attempted after region layout began.
	ErrMarkAfterFinalize
	ErrRegionNotFinalized
	ErrRegionNotLaidOut
	// ErrForeignMember is a mark message whose member belongs to another region.
	ErrForeignMember
	// ErrUnmarkedRegion is a region that received members but was never marked.
	ErrUnmarkedRegion
)

func (k ErrorKind) String() string {
	switch k {
	case ErrDependencyPanic:
		return "dependency computation panicked"
	case ErrNilDependency:
		return "nil dependency"
	case ErrMarkAfterFinalize:
		return "mark after finalize"
	case ErrRegionNotFinalized:
		return "region not finalized"
	case ErrRegionNotLaidOut:
		return "region not laid out"
	case ErrForeignMember:
		return "member registered into a foreign region"
	case ErrUnmarkedRegion:
		return "region has members but is not marked"
	default:
		return fmt.Sprintf("ErrorKind(%d)", k)
	}
}

// Error is a fatal graph inconsistency.
type Error struct {
	Kind   ErrorKind
	Node   string
	Reason string // edge label that led to Node, if known
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Node != "" {
		fmt.Fprintf(&b, ": %s", e.Node)
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, " (%s)", e.Reason)
	}
	if e.Detail != "" {
		fmt.Fprintf(&b, ": %s", e.Detail)
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
