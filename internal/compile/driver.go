package compile

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"ilc/internal/depgraph"
	"ilc/internal/metadata"
	"ilc/internal/nodes"
	"ilc/internal/objwriter"
	"ilc/internal/observ"
	"ilc/internal/trace"
	"ilc/internal/typesys"
)

// Result is everything a compilation produced.
type Result struct {
	Object    *objwriter.Object
	Container []byte
	Digest    objwriter.Digest
	Metadata  []byte

	Analyzer *depgraph.Analyzer
	Factory  *nodes.Factory
	Marked   []depgraph.Node
	Timing   observ.Report
}

// ResolveRoots maps full type names to TypeIDs.
func ResolveRoots(u *typesys.Universe, names []string) ([]typesys.TypeID, error) {
	out := make([]typesys.TypeID, 0, len(names))
	for _, name := range names {
		id, err := u.ParseTypeRef(name)
		if err != nil {
			return nil, fmt.Errorf("root %q: %w", name, err)
		}
		out = append(out, id)
	}
	return out, nil
}

// Compile emits everything reachable from the given root types.
func Compile(ctx context.Context, oracle typesys.Oracle, roots []typesys.TypeID, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Target != "" {
		want, _ := typesys.ParseTarget(opts.Target)
		if want != oracle.Target() {
			return nil, fmt.Errorf("universe targets %s but %s was requested", oracle.Target(), want)
		}
	}
	compression, _ := objwriter.ParseCompression(opts.Compression)
	log := opts.Logger

	tr := trace.FromContext(ctx)
	span := trace.Begin(tr, trace.ScopeDriver, "compile", 0)
	defer span.End("")
	timer := observ.NewTimer()

	factory := nodes.NewFactory(oracle)
	aopts := []depgraph.Option{
		depgraph.WithParallelism(opts.Parallelism),
		depgraph.WithLogger(log.Named("depgraph")),
	}
	if opts.Shuffle {
		aopts = append(aopts, depgraph.WithShuffle(opts.ShuffleSeed))
	}
	analyzer := depgraph.NewAnalyzer(aopts...)

	phase := timer.Begin("roots")
	if err := addRoots(analyzer, factory, oracle, roots, opts.Metadata != MetadataNone); err != nil {
		return nil, err
	}
	timer.End(phase, fmt.Sprintf("%d types", len(roots)))

	phase = timer.Begin("mark")
	if err := analyzer.ComputeMarkedNodes(ctx); err != nil {
		log.Error("marking failed", zap.Error(err))
		return nil, err
	}
	marked := analyzer.MarkedNodes()
	timer.End(phase, fmt.Sprintf("%d nodes", len(marked)))

	phase = timer.Begin("layout")
	layoutSpan := trace.Begin(tr, trace.ScopePass, "layout", span.ID())
	if err := analyzer.Finalize(); err != nil {
		layoutSpan.End("failed")
		log.Error("region layout failed", zap.Error(err))
		return nil, err
	}
	layoutSpan.End("")
	timer.End(phase, fmt.Sprintf("%d regions", len(analyzer.Regions())))

	res := &Result{Analyzer: analyzer, Factory: factory, Marked: marked}

	if opts.Metadata != MetadataNone {
		phase = timer.Begin("metadata")
		blob, err := buildMetadata(ctx, oracle, marked, opts.Metadata, span.ID())
		if err != nil {
			log.Error("metadata failed", zap.Error(err))
			return nil, err
		}
		if err := factory.MetadataBlob().SetContents(blob); err != nil {
			return nil, err
		}
		res.Metadata = blob
		timer.End(phase, fmt.Sprintf("%d bytes", len(blob)))
	}

	phase = timer.Begin("emit")
	symbols := make([]objwriter.Symbol, 0, len(marked))
	for _, n := range marked {
		// embedded nodes are emitted by their region
		if _, embedded := n.(depgraph.EmbeddedNode); embedded {
			continue
		}
		symbols = append(symbols, n)
	}
	writer := objwriter.NewWriter(oracle.Target(), objwriter.WithLogger(log.Named("objwriter")))
	obj, err := writer.Write(ctx, symbols)
	if err != nil {
		log.Error("emission failed", zap.Error(err))
		return nil, err
	}
	timer.End(phase, fmt.Sprintf("%d sections", len(obj.Sections)))

	phase = timer.Begin("container")
	container, err := obj.Marshal(compression)
	if err != nil {
		return nil, err
	}
	digest, err := obj.Digest()
	if err != nil {
		return nil, err
	}
	timer.End(phase, compression.String())

	res.Object, res.Container, res.Digest = obj, container, digest
	res.Timing = timer.Report()
	log.Info("compilation finished",
		zap.Int("marked", len(marked)),
		zap.Int("container_bytes", len(container)),
		zap.Stringer("digest", digest))
	return res, nil
}

// addRoots roots each type's descriptor and every statics blob it has.
func addRoots(a *depgraph.Analyzer, f *nodes.Factory, oracle typesys.Oracle, roots []typesys.TypeID, withMetadata bool) error {
	for _, id := range roots {
		if _, ok := oracle.Lookup(id); !ok {
			return fmt.Errorf("root type#%d is not in the universe", id)
		}
		if err := a.AddRoot(f.TypeNode(id), "root type"); err != nil {
			return err
		}
		layout := oracle.Statics(id)
		_, eager := oracle.EagerStaticConstructor(id)
		if layout.NonGCSize > 0 || eager {
			if err := a.AddRoot(f.NonGCStatics(id), "statics of root type"); err != nil {
				return err
			}
		}
		if layout.GCSize > 0 {
			if err := a.AddRoot(f.GCStatics(id), "statics of root type"); err != nil {
				return err
			}
		}
		if layout.ThreadSize > 0 {
			if err := a.AddRoot(f.ThreadStatics(id), "statics of root type"); err != nil {
				return err
			}
		}
	}
	if withMetadata {
		return a.AddRoot(f.MetadataBlob(), "embedded metadata")
	}
	return nil
}

// buildMetadata transforms every marked type and serializes the records
// reachable from the emitted scopes, then the marked types themselves.
func buildMetadata(ctx context.Context, oracle typesys.Oracle, marked []depgraph.Node, mode MetadataMode, parent uint64) ([]byte, error) {
	span := trace.Begin(trace.FromContext(ctx), trace.ScopePass, "metadata", parent)
	defer span.End("")

	var types []typesys.TypeID
	for _, n := range marked {
		if tn, ok := n.(*nodes.TypeNode); ok {
			types = append(types, tn.Type())
		}
	}
	var policy metadata.Policy = metadata.AllPolicy{}
	if mode == MetadataRooted {
		var named []typesys.TypeID
		for _, id := range types {
			if typ, ok := oracle.Lookup(id); ok && typ.IsNamed() {
				named = append(named, id)
			}
		}
		policy = metadata.NewRootedPolicy(oracle, named)
	}
	tr := metadata.NewTransform(oracle, policy)
	records := make([]metadata.Record, 0, len(types))
	for _, id := range types {
		typ, _ := oracle.Lookup(id)
		if typ.Kind == typesys.KindTypeVar || typ.Kind == typesys.KindMethodVar {
			continue
		}
		rec, err := tr.HandleType(id)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	w := metadata.NewWriter()
	for _, s := range tr.Scopes() {
		if err := w.Add(s); err != nil {
			return nil, err
		}
	}
	for _, rec := range records {
		if err := w.Add(rec); err != nil {
			return nil, err
		}
	}
	blob, err := w.Bytes()
	if err != nil {
		return nil, err
	}
	span.WithExtra("bytes", fmt.Sprint(len(blob)))
	return blob, nil
}
