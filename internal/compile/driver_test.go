package compile

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"ilc/internal/depgraph"
	"ilc/internal/nodes"
	"ilc/internal/objwriter"
	"ilc/internal/testkit"
	"ilc/internal/trace"
	"ilc/internal/typesys"
)

func compileSample(t *testing.T, mutate func(*Options)) (*Result, *typesys.Universe) {
	t.Helper()
	u, roots := testkit.SampleUniverse(t)
	opts := DefaultOptions()
	opts.Parallelism = 1
	if mutate != nil {
		mutate(&opts)
	}
	res, err := Compile(context.Background(), u, roots, opts)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return res, u
}

func externNames(res *Result) map[string]bool {
	out := make(map[string]bool)
	for _, n := range res.Marked {
		if ext, ok := n.(objwriter.ExternSymbol); ok && ext.IsExtern() {
			out[n.Name()] = true
		}
	}
	return out
}

func TestCompileSample(t *testing.T) {
	res, u := compileSample(t, nil)
	if err := testkit.CheckClosure(res.Analyzer); err != nil {
		t.Fatalf("closure: %v", err)
	}
	if err := testkit.CheckObject(res.Object, externNames(res)); err != nil {
		t.Fatalf("object: %v", err)
	}

	for _, name := range []string{
		"__EEType_App.Program",
		"__EEType_System.Object",
		"__EEType_System.IDisposable",
		"__NonGCStaticBase_App.Program",
		"__GCStaticBase_App.Program",
		"__ThreadStaticBase_App.Program",
		nodes.ThreadStaticRegionName,
		nodes.GCStaticRegionName,
		nodes.MetadataBlobName,
		"__EagerCctorIndirection_" + u.MethodMangledName(mustCctor(t, u)),
	} {
		if _, ok := res.Object.Address(name); !ok {
			t.Errorf("symbol %s missing from the object", name)
		}
	}

	members := res.Factory.ThreadStaticsRegion().Members()
	var names []string
	for _, m := range members {
		names = append(names, m.Name())
	}
	want := []string{"__ThreadStaticBase_App.Program", "__ThreadStaticBase_App.Program$2B_Options"}
	if !slices.Equal(names, want) {
		t.Fatalf("thread statics members = %v, want %v", names, want)
	}

	blob, ok := res.Factory.MetadataBlob().Contents()
	if !ok || !strings.HasPrefix(string(blob), "ILMD") {
		t.Fatalf("metadata blob not installed")
	}
	if len(res.Timing.Phases) == 0 {
		t.Fatalf("no timings recorded")
	}
}

func mustCctor(t *testing.T, u *typesys.Universe) typesys.MethodID {
	t.Helper()
	m, ok := u.EagerStaticConstructor(testkit.MustType(t, u, "App.Program"))
	if !ok {
		t.Fatalf("App.Program has no eager cctor")
	}
	return m
}

func TestEagerCctorCellPointsAtExternEntrypoint(t *testing.T) {
	res, u := compileSample(t, nil)
	cctor := mustCctor(t, u)
	cell := "__EagerCctorIndirection_" + u.MethodMangledName(cctor)
	relocs := res.Object.RelocsOf(cell)
	if len(relocs) != 1 || relocs[0].Symbol != u.MethodMangledName(cctor) {
		t.Fatalf("cell relocations = %+v", relocs)
	}
	if v, err := res.Object.ReadPointer(cell, 0); err != nil || v != 0 {
		t.Fatalf("extern slot = %#x, %v; want 0", v, err)
	}
}

func TestCompileIsDeterministic(t *testing.T) {
	base, _ := compileSample(t, nil)
	variants := map[string]func(*Options){
		"again":    nil,
		"parallel": func(o *Options) { o.Parallelism = 4 },
		"shuffled": func(o *Options) { o.Shuffle, o.ShuffleSeed = true, 42 },
		"both":     func(o *Options) { o.Parallelism, o.Shuffle, o.ShuffleSeed = 3, true, 7 },
	}
	for name, mutate := range variants {
		res, _ := compileSample(t, mutate)
		if res.Digest != base.Digest {
			t.Fatalf("%s: digest %s, want %s", name, res.Digest, base.Digest)
		}
		if len(res.Marked) != len(base.Marked) {
			t.Fatalf("%s: marked %d nodes, want %d", name, len(res.Marked), len(base.Marked))
		}
	}
}

func TestCompressionModesShareDigest(t *testing.T) {
	var digests []objwriter.Digest
	for _, c := range []string{"none", "lz4", "zstd"} {
		res, _ := compileSample(t, func(o *Options) { o.Compression = c })
		back, err := objwriter.Unmarshal(res.Container)
		if err != nil {
			t.Fatalf("%s: Unmarshal: %v", c, err)
		}
		d, err := back.Digest()
		if err != nil {
			t.Fatalf("%s: Digest: %v", c, err)
		}
		digests = append(digests, d)
	}
	if digests[0] != digests[1] || digests[1] != digests[2] {
		t.Fatalf("digests differ across compression modes: %v", digests)
	}
}

func TestMetadataModes(t *testing.T) {
	none, _ := compileSample(t, func(o *Options) { o.Metadata = MetadataNone })
	if none.Metadata != nil {
		t.Fatalf("metadata emitted with mode none")
	}
	if _, ok := none.Object.Address(nodes.MetadataBlobName); ok {
		t.Fatalf("metadata symbol present with mode none")
	}
	rooted, _ := compileSample(t, nil)
	// String only appears in a field signature: referenced when rooted,
	// defined with all
	if _, ok := rooted.Object.Address("__EEType_System.String"); ok {
		t.Fatalf("System.String was marked")
	}
	all, _ := compileSample(t, func(o *Options) { o.Metadata = MetadataAll })
	if len(all.Metadata) <= len(rooted.Metadata) {
		t.Fatalf("all-metadata blob (%d bytes) should exceed rooted (%d bytes)", len(all.Metadata), len(rooted.Metadata))
	}
}

func TestCompileTracesPasses(t *testing.T) {
	u, roots := testkit.SampleUniverse(t)
	ring := trace.NewRingTracer(1024, trace.LevelDetail)
	ctx := trace.WithTracer(context.Background(), ring)
	if _, err := Compile(ctx, u, roots, DefaultOptions()); err != nil {
		t.Fatalf("Compile: %v", err)
	}
	seen := make(map[string]bool)
	for _, ev := range ring.Snapshot() {
		seen[ev.Name] = true
	}
	for _, name := range []string{"compile", "mark", "layout", "metadata", "emit"} {
		if !seen[name] {
			t.Errorf("no %q span traced", name)
		}
	}
}

func TestTargetMismatch(t *testing.T) {
	u, roots := testkit.SampleUniverse(t)
	opts := DefaultOptions()
	opts.Target = "x86"
	if _, err := Compile(context.Background(), u, roots, opts); err == nil {
		t.Fatalf("expected a target mismatch error")
	}
}

// dangling points at a node that was never marked.
type dangling struct {
	target objwriter.Symbol
}

func (d *dangling) Name() string                         { return "dangling" }
func (d *dangling) StaticDependencies() []depgraph.Edge { return nil }
func (d *dangling) Encode(b *objwriter.Builder, _ bool) error {
	b.EmitPointerReloc(d.target, 0)
	return nil
}

func TestRelocationToUnmarkedNodeFails(t *testing.T) {
	u, _ := testkit.SampleUniverse(t)
	f := nodes.NewFactory(u)
	d := &dangling{target: f.TypeNode(testkit.MustType(t, u, "System.Object"))}
	_, err := objwriter.NewWriter(u.Target()).Write(context.Background(), []objwriter.Symbol{d})
	var oerr *objwriter.Error
	if !errors.As(err, &oerr) || oerr.Kind != objwriter.ErrUnmarkedTarget {
		t.Fatalf("err = %v, want ErrUnmarkedTarget", err)
	}
}
