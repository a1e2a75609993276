package depgraph

import (
	"cmp"
	"context"
	"fmt"
	"math/rand/v2"
	"slices"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ilc/internal/trace"
)

type nodeState struct {
	marked   bool
	deps     []Edge
	depsDone bool
	parent   Node // nil for roots
	reason   string
}

type root struct {
	node   Node
	reason string
}

// Analyzer computes the set of nodes reachable from its roots.
//
// The Analyzer itself is not safe for concurrent use. With parallelism
// above one it fans dependency computation out to workers, but marking
// and region bookkeeping stay on the calling goroutine.
type Analyzer struct {
	states    map[Node]*nodeState
	roots     []root
	marked    []Node
	regions   []*Region
	regionSet map[*Region]struct{}
	finalized bool

	parallelism int
	rng         *rand.Rand
	log         *zap.Logger
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithParallelism computes dependency lists on up to n goroutines.
func WithParallelism(n int) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.parallelism = n
		}
	}
}

// WithShuffle randomizes worklist order with a fixed seed. The marked set
// does not depend on it.
func WithShuffle(seed uint64) Option {
	return func(a *Analyzer) {
		a.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(a *Analyzer) {
		if l != nil {
			a.log = l
		}
	}
}

func NewAnalyzer(opts ...Option) *Analyzer {
	a := &Analyzer{
		states:      make(map[Node]*nodeState, 256),
		regionSet:   make(map[*Region]struct{}),
		parallelism: 1,
		log:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Analyzer) state(n Node) *nodeState {
	st, ok := a.states[n]
	if !ok {
		st = &nodeState{}
		a.states[n] = st
	}
	return st
}

// AddRoot adds a compilation root.
func (a *Analyzer) AddRoot(n Node, reason string) error {
	if a.finalized {
		return &Error{Kind: ErrMarkAfterFinalize, Node: n.Name(), Reason: reason}
	}
	a.roots = append(a.roots, root{node: n, reason: reason})
	a.log.Debug("root added", zap.String("node", n.Name()), zap.String("reason", reason))
	return nil
}

// ComputeMarkedNodes runs marking to a fixpoint. It may be called again
// after adding more roots; already marked nodes are not revisited.
func (a *Analyzer) ComputeMarkedNodes(ctx context.Context) error {
	if a.finalized {
		return &Error{Kind: ErrMarkAfterFinalize, Detail: "ComputeMarkedNodes"}
	}
	span := trace.Begin(trace.FromContext(ctx), trace.ScopePass, "mark", 0)
	before := len(a.marked)
	roots := a.roots
	a.roots = nil

	var err error
	if a.parallelism > 1 {
		err = a.markParallel(ctx, roots, span.ID())
	} else {
		err = a.markSequential(ctx, roots)
	}
	span.WithExtra("marked", fmt.Sprint(len(a.marked)-before)).End("")
	if err != nil {
		return err
	}
	a.log.Debug("mark fixpoint reached",
		zap.Int("marked", len(a.marked)),
		zap.Int("new", len(a.marked)-before),
		zap.Int("parallelism", a.parallelism))
	return nil
}

type pending struct {
	node   Node
	parent Node
	reason string
}

// markSequential is a stack worklist; with a shuffle seed it pops a random
// entry instead of the top.
func (a *Analyzer) markSequential(ctx context.Context, roots []root) error {
	work := make([]pending, 0, len(roots))
	for i := len(roots) - 1; i >= 0; i-- {
		work = append(work, pending{node: roots[i].node, reason: roots[i].reason})
	}
	for len(work) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		last := len(work) - 1
		if a.rng != nil {
			j := a.rng.IntN(len(work))
			work[j], work[last] = work[last], work[j]
		}
		p := work[last]
		work = work[:last]
		if a.state(p.node).marked {
			continue
		}
		if err := a.mark(p.node, p.parent, p.reason); err != nil {
			return err
		}
		deps, err := a.dependencies(p.node)
		if err != nil {
			return err
		}
		for i := len(deps) - 1; i >= 0; i-- {
			if !a.state(deps[i].Target).marked {
				work = append(work, pending{node: deps[i].Target, parent: p.node, reason: deps[i].Reason})
			}
		}
	}
	return nil
}

// markParallel processes the graph in waves: the dependency lists of the
// whole frontier are computed concurrently, then the coordinator marks the
// new targets, which become the next frontier.
func (a *Analyzer) markParallel(ctx context.Context, roots []root, parentSpan uint64) error {
	var frontier []Node
	for _, r := range roots {
		if a.state(r.node).marked {
			continue
		}
		if err := a.mark(r.node, nil, r.reason); err != nil {
			return err
		}
		frontier = append(frontier, r.node)
	}

	tr := trace.FromContext(ctx)
	for wave := 0; len(frontier) > 0; wave++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		results := make([][]Edge, len(frontier))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(min(a.parallelism, len(frontier)))
		for i, n := range frontier {
			st := a.state(n)
			if st.depsDone {
				results[i] = st.deps
				continue
			}
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				deps, err := computeDependencies(n)
				results[i] = deps
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		var next []Node
		for i, n := range frontier {
			st := a.state(n)
			st.deps, st.depsDone = results[i], true
			for _, e := range results[i] {
				if a.state(e.Target).marked {
					continue
				}
				if err := a.mark(e.Target, n, e.Reason); err != nil {
					return err
				}
				next = append(next, e.Target)
			}
		}
		trace.Point(tr, trace.ScopeRegion, "mark.wave", fmt.Sprintf("#%d frontier=%d", wave, len(frontier)), parentSpan)
		if a.rng != nil {
			a.rng.Shuffle(len(next), func(i, j int) { next[i], next[j] = next[j], next[i] })
		}
		frontier = next
	}
	return nil
}

func (a *Analyzer) mark(n Node, parent Node, reason string) error {
	st := a.state(n)
	st.marked = true
	st.parent = parent
	st.reason = reason
	a.marked = append(a.marked, n)

	if r, ok := n.(*Region); ok {
		a.trackRegion(r)
	}
	notifier, ok := n.(MarkNotifier)
	if !ok {
		return nil
	}
	for _, msg := range notifier.OnMarked() {
		if err := a.apply(msg); err != nil {
			return err
		}
	}
	return nil
}

func (a *Analyzer) apply(msg MarkMessage) error {
	if msg.Region == nil || msg.Member == nil {
		return &Error{Kind: ErrForeignMember, Detail: "incomplete mark message"}
	}
	if msg.Member.Region() != msg.Region {
		return &Error{
			Kind:   ErrForeignMember,
			Node:   msg.Member.Name(),
			Detail: fmt.Sprintf("asked to join %s", msg.Region.Name()),
		}
	}
	if err := msg.Region.add(msg.Member); err != nil {
		return err
	}
	a.trackRegion(msg.Region)
	return nil
}

func (a *Analyzer) trackRegion(r *Region) {
	if _, ok := a.regionSet[r]; ok {
		return
	}
	a.regionSet[r] = struct{}{}
	a.regions = append(a.regions, r)
}

func (a *Analyzer) dependencies(n Node) ([]Edge, error) {
	st := a.state(n)
	if st.depsDone {
		return st.deps, nil
	}
	deps, err := computeDependencies(n)
	if err != nil {
		return nil, err
	}
	st.deps, st.depsDone = deps, true
	return deps, nil
}

func computeDependencies(n Node) (deps []Edge, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &Error{Kind: ErrDependencyPanic, Node: n.Name(), Detail: fmt.Sprint(r)}
		}
	}()
	deps = n.StaticDependencies()
	for _, e := range deps {
		if e.Target == nil {
			return nil, &Error{Kind: ErrNilDependency, Node: n.Name(), Reason: e.Reason}
		}
	}
	return deps, nil
}

// IsMarked reports whether n was reached.
func (a *Analyzer) IsMarked(n Node) bool {
	st, ok := a.states[n]
	return ok && st.marked
}

// Dependencies returns the memoized dependency list of a marked node.
func (a *Analyzer) Dependencies(n Node) []Edge {
	if st, ok := a.states[n]; ok && st.depsDone {
		return st.deps
	}
	return nil
}

// MarkedNodes returns every marked node sorted by name.
func (a *Analyzer) MarkedNodes() []Node {
	out := slices.Clone(a.marked)
	slices.SortFunc(out, compareNodes)
	return out
}

func compareNodes(x, y Node) int {
	if c := cmp.Compare(x.Name(), y.Name()); c != 0 {
		return c
	}
	return cmp.Compare(fmt.Sprintf("%T", x), fmt.Sprintf("%T", y))
}

// WhyMarked returns the chain of edges that first reached n, starting at
// its root. The root's edge carries the reason given to AddRoot.
func (a *Analyzer) WhyMarked(n Node) []Edge {
	var chain []Edge
	seen := make(map[Node]struct{})
	for cur := n; cur != nil; {
		st, ok := a.states[cur]
		if !ok || !st.marked {
			return nil
		}
		if _, loop := seen[cur]; loop {
			break
		}
		seen[cur] = struct{}{}
		chain = append(chain, Edge{Target: cur, Reason: st.reason})
		cur = st.parent
	}
	slices.Reverse(chain)
	return chain
}

// Regions returns the regions touched by marking, in first-touch order.
func (a *Analyzer) Regions() []*Region {
	return slices.Clone(a.regions)
}

// Finalize freezes marking and orders every region's members. Regions
// that received members must themselves be marked.
func (a *Analyzer) Finalize() error {
	if a.finalized {
		return nil
	}
	for _, r := range a.regions {
		if len(r.Members()) > 0 && !a.IsMarked(r) {
			return &Error{Kind: ErrUnmarkedRegion, Node: r.Name()}
		}
	}
	for _, r := range a.regions {
		r.finalize()
	}
	a.finalized = true
	a.log.Debug("regions finalized", zap.Int("regions", len(a.regions)))
	return nil
}

// Finalized reports whether Finalize ran.
func (a *Analyzer) Finalized() bool { return a.finalized }
