package nodes

import (
	"sync"

	"github.com/zeebo/blake3"

	"ilc/internal/depgraph"
	"ilc/internal/objwriter"
)

// MetadataBlobNode carries the serialized metadata. Its contents depend on
// what marking reached, so they are set after Finalize and before emission.
type MetadataBlobNode struct {
	mu   sync.Mutex
	data []byte
	set  bool
}

func (n *MetadataBlobNode) Name() string { return MetadataBlobName }

func (n *MetadataBlobNode) StaticDependencies() []depgraph.Edge { return nil }

func (n *MetadataBlobNode) Section() objwriter.SectionKind { return objwriter.SectionReadOnly }

// SetContents installs the blob. It may be called once.
func (n *MetadataBlobNode) SetContents(data []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.set {
		return &objwriter.Error{Kind: objwriter.ErrEncode, Node: MetadataBlobName, Detail: "contents already set"}
	}
	n.data = data
	n.set = true
	return nil
}

// Contents returns the installed blob.
func (n *MetadataBlobNode) Contents() ([]byte, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.data, n.set
}

// Digest hashes the installed blob.
func (n *MetadataBlobNode) Digest() [32]byte {
	data, _ := n.Contents()
	return blake3.Sum256(data)
}

func (n *MetadataBlobNode) Encode(b *objwriter.Builder, _ bool) error {
	data, ok := n.Contents()
	if !ok {
		return &objwriter.Error{Kind: objwriter.ErrEncode, Node: MetadataBlobName, Detail: "contents were never set"}
	}
	b.RequireAlignment(4)
	b.EmitBytes(data)
	return nil
}
