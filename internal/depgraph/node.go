// Package depgraph decides what gets emitted. Artifacts form a lazily
// expanding graph; the Analyzer marks everything reachable from the roots
// and Regions collect embedded artifacts into shared blobs.
package depgraph

import "ilc/internal/objwriter"

// Node is one artifact of the dependency graph. Nodes are created through
// a memoizing factory, so two requests for the same entity yield the same
// Node value and edges can be compared with ==.
type Node interface {
	Name() string
	// StaticDependencies lists what must exist for this node to exist. It
	// must be side effect free and return the same list on every call; it
	// may be called from several goroutines for different nodes.
	StaticDependencies() []Edge
}

// Edge is a dependency with a human readable reason.
type Edge struct {
	Target Node
	Reason string
}

// MarkNotifier is implemented by nodes that need bookkeeping when they
// become marked. OnMarked runs exactly once and must only describe that
// bookkeeping; the Analyzer applies the returned messages.
type MarkNotifier interface {
	OnMarked() []MarkMessage
}

// MarkMessage asks the Analyzer to register Member into Region.
type MarkMessage struct {
	Region *Region
	Member EmbeddedNode
}

// EmbeddedNode has no location of its own; it lives at an offset inside
// its Region's blob.
type EmbeddedNode interface {
	Node
	Region() *Region
	Alignment() int
	Encode(b *objwriter.Builder, relocsOnly bool) error
}

// RegisterIn is the usual OnMarked body of an embedded node.
func RegisterIn(m EmbeddedNode) []MarkMessage {
	return []MarkMessage{{Region: m.Region(), Member: m}}
}
