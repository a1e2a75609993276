// Package testkit holds fixtures and invariant checks shared by tests.
package testkit

import (
	"os"
	"path/filepath"
	"testing"

	"ilc/internal/typesys"
)

// SampleTOML is a small program: a class with every kind of static, an
// eager static constructor, a nested type, a generic collection and an
// interface. System.String is reached only through a field signature, so
// nothing marks its descriptor.
const SampleTOML = `
target = "x64"
roots = ["App.Program", "App.Program+Options", "System.Collections.Generic.List` + "`" + `1<System.Int32>", "System.Int32[]"]

[[types]]
name = "Object"
namespace = "System"
module = "CoreLib"

[[types]]
name = "Int32"
namespace = "System"
module = "CoreLib"
value_type = true
sealed = true
layout = "sequential"
size = 4

[[types]]
name = "IDisposable"
namespace = "System"
module = "CoreLib"
interface = true

[[types]]
name = "String"
namespace = "System"
module = "CoreLib"
base = "System.Object"
sealed = true

[[types]]
name = "List` + "`" + `1"
namespace = "System.Collections.Generic"
module = "CoreLib"
base = "System.Object"
generic_params = ["T"]

  [[types.fields]]
  name = "_items"
  type = "!0[]"

  [[types.methods]]
  name = "get_Count"
  return = "System.Int32"

[[types]]
name = "Program"
namespace = "App"
module = "App"
base = "System.Object"
interfaces = ["System.IDisposable"]
before_field_init = true
eager_cctor = ".cctor"

  [[types.fields]]
  name = "s_cache"
  type = "System.Object[]"
  static = true
  gc_ref = true

  [[types.fields]]
  name = "s_count"
  type = "System.Int32"
  static = true
  size = 4

  [[types.fields]]
  name = "t_current"
  type = "System.Object"
  thread_static = true
  gc_ref = true

  [[types.fields]]
  name = "_name"
  type = "System.String"

  [[types.fields]]
  name = "_numbers"
  type = "System.Collections.Generic.List` + "`" + `1<System.Int32>"

  [[types.methods]]
  name = ".cctor"
  static = true

  [[types.methods]]
  name = "Main"
  static = true
  params = ["System.Int32[]"]
  return = "System.Int32"

  [[types.methods]]
  name = "get_Count"
  return = "System.Int32"

  [[types.properties]]
  name = "Count"
  type = "System.Int32"
  getter = "get_Count"

[[types]]
name = "Options"
namespace = "App"
module = "App"
containing = "App.Program"
base = "System.Object"
sealed = true

  [[types.fields]]
  name = "t_depth"
  type = "System.Int32"
  thread_static = true
  size = 4
`

// WriteFile writes content to name inside a fresh temporary directory.
func WriteFile(t testing.TB, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// SampleUniverse loads SampleTOML through the fixture loader.
func SampleUniverse(t testing.TB) (*typesys.Universe, []typesys.TypeID) {
	t.Helper()
	u, roots, err := typesys.LoadUniverse(WriteFile(t, "sample.toml", SampleTOML))
	if err != nil {
		t.Fatalf("load sample universe: %v", err)
	}
	return u, roots
}

// MustType resolves a type reference or fails the test.
func MustType(t testing.TB, u *typesys.Universe, ref string) typesys.TypeID {
	t.Helper()
	id, err := u.ParseTypeRef(ref)
	if err != nil {
		t.Fatalf("resolve %s: %v", ref, err)
	}
	return id
}
