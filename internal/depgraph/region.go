package depgraph

import (
	"cmp"
	"fmt"
	"slices"
	"sync"

	"ilc/internal/objwriter"
)

// Region aggregates embedded members into one blob. Members are appended
// while marking, sorted by name at Finalize and laid out back to back by
// the discovery encoding pass.
type Region struct {
	name string

	mu        sync.Mutex
	members   []EmbeddedNode
	index     map[EmbeddedNode]struct{}
	finalized bool
	laidOut   bool
	offsets   map[EmbeddedNode]int
	size      int
}

func NewRegion(name string) *Region {
	return &Region{name: name, index: make(map[EmbeddedNode]struct{})}
}

func (r *Region) Name() string { return r.name }

// StaticDependencies is empty: members carry their own dependencies.
func (r *Region) StaticDependencies() []Edge { return nil }

func (r *Region) Section() objwriter.SectionKind { return objwriter.SectionData }

func (r *Region) add(m EmbeddedNode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return &Error{Kind: ErrMarkAfterFinalize, Node: m.Name(), Detail: "region " + r.name}
	}
	if _, ok := r.index[m]; ok {
		return nil
	}
	r.index[m] = struct{}{}
	r.members = append(r.members, m)
	return nil
}

func (r *Region) finalize() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return
	}
	slices.SortStableFunc(r.members, func(a, b EmbeddedNode) int {
		return cmp.Compare(a.Name(), b.Name())
	})
	r.finalized = true
}

// Finalized reports whether membership is frozen.
func (r *Region) Finalized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finalized
}

// Members returns the members in layout order. Before Finalize the order is
// the marking order.
func (r *Region) Members() []EmbeddedNode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.members)
}

// Size returns the blob size once the region has been laid out.
func (r *Region) Size() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkLaidOut(r.name); err != nil {
		return 0, err
	}
	return r.size, nil
}

// OffsetOf returns m's offset inside the blob.
func (r *Region) OffsetOf(m EmbeddedNode) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkLaidOut(m.Name()); err != nil {
		return 0, err
	}
	off, ok := r.offsets[m]
	if !ok {
		return 0, &Error{Kind: ErrForeignMember, Node: m.Name(), Detail: "not a member of " + r.name}
	}
	return off, nil
}

func (r *Region) checkLaidOut(node string) error {
	if !r.finalized {
		return &Error{Kind: ErrRegionNotFinalized, Node: node, Detail: "region " + r.name}
	}
	if !r.laidOut {
		return &Error{Kind: ErrRegionNotLaidOut, Node: node, Detail: "region " + r.name}
	}
	return nil
}

// Encode writes the members back to back, each padded to its alignment,
// and defines every member's symbol at its offset. The discovery pass
// records the offsets; the final pass must reproduce them.
func (r *Region) Encode(b *objwriter.Builder, relocsOnly bool) error {
	r.mu.Lock()
	finalized := r.finalized
	members := r.members
	prev := r.offsets
	r.mu.Unlock()
	if !finalized {
		return &Error{Kind: ErrRegionNotFinalized, Node: r.name}
	}

	offsets := make(map[EmbeddedNode]int, len(members))
	for _, m := range members {
		b.PadAlignment(max(m.Alignment(), 1))
		off := b.Len()
		if !relocsOnly {
			if want, ok := prev[m]; !ok || want != off {
				return fmt.Errorf("member %s moved from +%d to +%d", m.Name(), want, off)
			}
		}
		offsets[m] = off
		b.DefineSymbol(m, off)
		if err := m.Encode(b, relocsOnly); err != nil {
			return fmt.Errorf("member %s: %w", m.Name(), err)
		}
	}
	if relocsOnly {
		r.mu.Lock()
		r.offsets = offsets
		r.size = b.Len()
		r.laidOut = true
		r.mu.Unlock()
	}
	return nil
}
