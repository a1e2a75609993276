package typesys

import "testing"

func newTestUniverse() (*Universe, TypeID, TypeID) {
	u := NewUniverse(X64())
	obj := u.DefineType(TypeDef{Name: "Object", Namespace: "System", Module: "System.Private.CoreLib"})
	i32 := u.DefineType(TypeDef{Name: "Int32", Namespace: "System", Module: "System.Private.CoreLib", IsValueType: true})
	return u, obj, i32
}

func TestUniverseDeduplicatesDescriptors(t *testing.T) {
	u, _, i32 := newTestUniverse()
	a1 := u.SzArray(i32)
	a2 := u.SzArray(i32)
	if a1 != a2 {
		t.Fatalf("array types should be deduplicated")
	}
	if u.MdArray(i32, 2) == u.MdArray(i32, 3) {
		t.Fatalf("arrays of different rank must differ")
	}
	if u.ByRef(i32) == u.Pointer(i32) {
		t.Fatalf("byref and pointer must differ")
	}
}

func TestUniverseInstantiationArgsAffectIdentity(t *testing.T) {
	u, obj, i32 := newTestUniverse()
	list := u.DefineType(TypeDef{Name: "List`1", Namespace: "System.Collections.Generic", GenericParams: []GenericParam{{Name: "T"}}})
	li := u.Instantiate(list, i32)
	lo := u.Instantiate(list, obj)
	if li == lo {
		t.Fatalf("instantiations over different args must differ")
	}
	if again := u.Instantiate(list, i32); again != li {
		t.Fatalf("instantiation not deduplicated: %d vs %d", again, li)
	}
	pair := u.DefineType(TypeDef{Name: "Pair`2", Namespace: "App"})
	if u.Instantiate(pair, i32, obj) == u.Instantiate(pair, obj, i32) {
		t.Fatalf("argument order must affect identity")
	}
}

func TestUniverseFullNames(t *testing.T) {
	u, obj, i32 := newTestUniverse()
	outer := u.DefineType(TypeDef{Name: "Outer", Namespace: "App"})
	inner := u.DefineType(TypeDef{Name: "Inner", Namespace: "App", Containing: outer})
	list := u.DefineType(TypeDef{Name: "List`1", Namespace: "Gen"})

	tests := []struct {
		id   TypeID
		want string
	}{
		{obj, "System.Object"},
		{inner, "App.Outer+Inner"},
		{u.SzArray(i32), "System.Int32[]"},
		{u.MdArray(i32, 3), "System.Int32[,,]"},
		{u.ByRef(obj), "System.Object&"},
		{u.Pointer(i32), "System.Int32*"},
		{u.TypeVar(1), "!1"},
		{u.MethodVar(0), "!!0"},
		{u.Instantiate(list, i32), "Gen.List`1<System.Int32>"},
	}
	for _, tt := range tests {
		if got := u.FullName(tt.id); got != tt.want {
			t.Errorf("FullName(%d) = %q, want %q", tt.id, got, tt.want)
		}
	}
	if got, ok := u.ByName("App.Outer+Inner"); !ok || got != inner {
		t.Fatalf("ByName(App.Outer+Inner) = %d, %v", got, ok)
	}
}

func TestUniverseStaticsLayout(t *testing.T) {
	u, obj, i32 := newTestUniverse()
	foo := u.DefineType(TypeDef{Name: "Foo"})
	u.AddField(foo, Field{Name: "count", Type: i32, Static: true, Size: 4})
	u.AddField(foo, Field{Name: "cache", Type: obj, Static: true, IsGCRef: true})
	u.AddField(foo, Field{Name: "flag", Type: i32, Static: true, Size: 1})
	u.AddField(foo, Field{Name: "tls", Type: obj, Static: true, ThreadStatic: true, IsGCRef: true})
	u.AddField(foo, Field{Name: "tlsCount", Type: i32, Static: true, ThreadStatic: true, Size: 4})
	u.AddField(foo, Field{Name: "instance", Type: i32, Size: 4})

	s := u.Statics(foo)
	if s.NonGCSize != 5 {
		t.Errorf("NonGCSize = %d, want 5", s.NonGCSize)
	}
	if s.GCSize != 8 || len(s.GCRefOffsets) != 1 || s.GCRefOffsets[0] != 0 {
		t.Errorf("GC statics = %d %v, want 8 [0]", s.GCSize, s.GCRefOffsets)
	}
	if s.ThreadSize != 12 || len(s.ThreadRefOffsets) != 1 || s.ThreadRefOffsets[0] != 0 {
		t.Errorf("thread statics = %d %v, want 12 [0]", s.ThreadSize, s.ThreadRefOffsets)
	}
}

func TestUniverseEagerStaticConstructor(t *testing.T) {
	u, _, _ := newTestUniverse()
	foo := u.DefineType(TypeDef{Name: "Foo"})
	if _, ok := u.EagerStaticConstructor(foo); ok {
		t.Fatalf("type without cctor reported one")
	}
	cctor := u.AddMethod(foo, Method{Name: ".cctor", Static: true})
	u.SetEagerCctor(foo, cctor)
	got, ok := u.EagerStaticConstructor(foo)
	if !ok || got != cctor {
		t.Fatalf("EagerStaticConstructor = %d, %v; want %d, true", got, ok, cctor)
	}
	if name := u.MethodMangledName(cctor); name != "Foo$3A_$3A_.cctor$28_$29_" {
		t.Fatalf("MethodMangledName = %q", name)
	}
}

func TestMangle(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Foo", "Foo"},
		{"App.Foo", "App.Foo"},
		{"App.Outer+Inner", "App.Outer$2B_Inner"},
		{"List`1<Int32>", "List$60_1$3C_Int32$3E_"},
		{"a$b", "a$24_b"},
	}
	for _, tt := range tests {
		if got := Mangle(tt.in); got != tt.want {
			t.Errorf("Mangle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	// NFC: precomposed and decomposed spellings share a symbol
	if Mangle("caf\u00e9") != Mangle("cafe\u0301") {
		t.Fatalf("canonically equivalent names must mangle identically")
	}
	if Mangle("A<B>") == Mangle("A_B_") {
		t.Fatalf("mangling must be injective")
	}

	u, obj, i32 := newTestUniverse()
	overloads := []MethodID{
		u.AddMethod(obj, Method{Name: "Foo", Params: []TypeID{i32}}),
		u.AddMethod(obj, Method{Name: "Foo", Params: []TypeID{obj}}),
		u.AddMethod(obj, Method{Name: "Foo"}),
		u.AddMethod(obj, Method{Name: "Foo", GenericArity: 1}),
		u.AddMethod(obj, Method{Name: "Foo", Return: i32}),
	}
	seen := make(map[string]MethodID)
	for _, m := range overloads {
		name := u.MethodMangledName(m)
		if prev, dup := seen[name]; dup {
			t.Fatalf("methods %d and %d both mangle to %q", prev, m, name)
		}
		seen[name] = m
	}
	if got, want := u.MethodMangledName(overloads[0]), "System.Object$3A_$3A_Foo$28_System.Int32$29_"; got != want {
		t.Fatalf("MethodMangledName = %q, want %q", got, want)
	}
}

func TestParseTypeRef(t *testing.T) {
	u, obj, i32 := newTestUniverse()
	dict := u.DefineType(TypeDef{Name: "Dictionary`2", Namespace: "Gen"})

	tests := []struct {
		in   string
		want TypeID
	}{
		{"System.Int32", i32},
		{"System.Int32[]", u.SzArray(i32)},
		{"System.Int32[,]", u.MdArray(i32, 2)},
		{"System.Object&", u.ByRef(obj)},
		{"System.Int32**", u.Pointer(u.Pointer(i32))},
		{"!2", u.TypeVar(2)},
		{"!!1", u.MethodVar(1)},
		{"Gen.Dictionary`2<System.Int32[],System.Object>", u.Instantiate(dict, u.SzArray(i32), obj)},
		{"Gen.Dictionary`2<System.Int32,System.Object>[]", u.SzArray(u.Instantiate(dict, i32, obj))},
	}
	for _, tt := range tests {
		got, err := u.ParseTypeRef(tt.in)
		if err != nil {
			t.Fatalf("ParseTypeRef(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseTypeRef(%q) = %s, want %s", tt.in, u.FullName(got), u.FullName(tt.want))
		}
	}
	if _, err := u.ParseTypeRef("Nope.Missing"); err == nil {
		t.Fatalf("expected error for unknown type")
	}
}
