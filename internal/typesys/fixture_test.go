package typesys

import (
	"os"
	"path/filepath"
	"testing"
)

const fixtureTOML = `
target = "x64"
roots = ["App.Program"]

[[types]]
name = "Object"
namespace = "System"
module = "CoreLib"

[[types]]
name = "Inner"
namespace = "App"
containing = "App.Program"
sealed = true

[[types]]
name = "Program"
namespace = "App"
module = "App"
base = "System.Object"
before_field_init = true
eager_cctor = ".cctor"

  [[types.fields]]
  name = "s_cache"
  type = "System.Object[]"
  static = true
  gc_ref = true

  [[types.fields]]
  name = "t_slot"
  type = "System.Object"
  thread_static = true
  gc_ref = true

  [[types.methods]]
  name = ".cctor"
  static = true

  [[types.methods]]
  name = "get_Cache"
  return = "System.Object[]"

  [[types.properties]]
  name = "Cache"
  type = "System.Object[]"
  getter = "get_Cache"
`

const fixtureYAML = `
target: arm64
roots: [App.Program]
types:
  - name: Object
    namespace: System
  - name: Program
    namespace: App
    base: System.Object
    layout: sequential
    size: 16
    attributes: 1048832
`

func writeFixture(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestLoadUniverseTOML(t *testing.T) {
	u, roots, err := LoadUniverse(writeFixture(t, "universe.toml", fixtureTOML))
	if err != nil {
		t.Fatalf("LoadUniverse: %v", err)
	}
	if len(roots) != 1 {
		t.Fatalf("roots = %v, want 1 root", roots)
	}
	prog := roots[0]
	def, ok := u.Definition(prog)
	if !ok {
		t.Fatalf("root is not a named type")
	}
	if def.Base == NoTypeID || u.FullName(def.Base) != "System.Object" {
		t.Fatalf("base = %q", u.FullName(def.Base))
	}
	if len(def.Fields) != 2 || len(def.Methods) != 2 || len(def.Properties) != 1 {
		t.Fatalf("members = %d fields, %d methods, %d properties", len(def.Fields), len(def.Methods), len(def.Properties))
	}
	cctor, ok := u.EagerStaticConstructor(prog)
	if !ok || cctor != def.Methods[0] {
		t.Fatalf("eager cctor = %d, %v", cctor, ok)
	}
	prop, _ := u.Property(def.Properties[0])
	if prop.Getter != def.Methods[1] {
		t.Fatalf("property getter = %d, want %d", prop.Getter, def.Methods[1])
	}
	inner, ok := u.ByName("App.Program+Inner")
	if !ok {
		t.Fatalf("nested type declared before its container was not resolved")
	}
	innerDef, _ := u.Definition(inner)
	if innerDef.Containing != prog {
		t.Fatalf("Inner.Containing = %d, want %d", innerDef.Containing, prog)
	}
	s := u.Statics(prog)
	if s.GCSize != 8 || s.ThreadSize != 8 {
		t.Fatalf("statics = %+v", s)
	}
}

func TestLoadUniverseYAML(t *testing.T) {
	u, roots, err := LoadUniverse(writeFixture(t, "universe.yaml", fixtureYAML))
	if err != nil {
		t.Fatalf("LoadUniverse: %v", err)
	}
	if u.Target().Arch != ArchARM64 {
		t.Fatalf("target = %v, want arm64", u.Target())
	}
	def, _ := u.Definition(roots[0])
	if def.Layout.Kind != LayoutSequential || def.Layout.Size != 16 {
		t.Fatalf("layout = %+v", def.Layout)
	}
	if !def.HasAttributes || def.Attributes != 1048832 {
		t.Fatalf("attributes = %d (%v)", def.Attributes, def.HasAttributes)
	}
}

func TestLoadUniverseRejectsCyclicContainment(t *testing.T) {
	file := &UniverseFile{Types: []TypeSpec{
		{Name: "A", Namespace: "N", Containing: "N.B"},
		{Name: "B", Namespace: "N", Containing: "N.A"},
	}}
	if _, _, err := BuildUniverse(file); err == nil {
		t.Fatalf("expected error for cyclic containment")
	}
}

func TestLoadUniverseUnknownExtension(t *testing.T) {
	if _, _, err := LoadUniverse(writeFixture(t, "universe.json", "{}")); err == nil {
		t.Fatalf("expected error for unsupported extension")
	}
}
