package objwriter

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"ilc/internal/typesys"
)

func sampleObject(t *testing.T) *Object {
	t.Helper()
	big := make([]byte, 4096)
	for i := range big {
		big[i] = byte(i % 7)
	}
	a := &blob{name: "A", section: SectionReadOnly, prefix: big}
	b := &blob{name: "B", relocs: []testReloc{{target: a, addend: 16}}}
	obj, err := NewWriter(typesys.X64()).Write(context.Background(), []Symbol{a, b})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	return obj
}

func TestContainerRoundTripsEveryCompression(t *testing.T) {
	obj := sampleObject(t)
	want, err := obj.Digest()
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		data, err := obj.Marshal(c)
		if err != nil {
			t.Fatalf("%s: Marshal: %v", c, err)
		}
		back, err := Unmarshal(data)
		if err != nil {
			t.Fatalf("%s: Unmarshal: %v", c, err)
		}
		got, err := back.Digest()
		if err != nil {
			t.Fatalf("%s: Digest: %v", c, err)
		}
		if got != want {
			t.Fatalf("%s: digest changed across container round trip", c)
		}
		rd, _ := back.Section(SectionReadOnly)
		orig, _ := obj.Section(SectionReadOnly)
		if !bytes.Equal(rd.Data, orig.Data) {
			t.Fatalf("%s: section bytes differ", c)
		}
	}
}

func TestCompressionShrinksRepetitiveSections(t *testing.T) {
	obj := sampleObject(t)
	raw, _ := obj.Marshal(CompressionNone)
	z, _ := obj.Marshal(CompressionZstd)
	if len(z) >= len(raw) {
		t.Fatalf("zstd container %d bytes, raw %d", len(z), len(raw))
	}
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	_, err := Unmarshal([]byte{0xc1, 0x00})
	var oerr *Error
	if !errors.As(err, &oerr) || oerr.Kind != ErrCorruptContainer {
		t.Fatalf("err = %v, want ErrCorruptContainer", err)
	}
}

func TestParseCompression(t *testing.T) {
	for in, want := range map[string]Compression{"": CompressionNone, "LZ4": CompressionLZ4, "zstd": CompressionZstd} {
		got, err := ParseCompression(in)
		if err != nil || got != want {
			t.Fatalf("ParseCompression(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseCompression("gzip"); err == nil {
		t.Fatalf("expected error for gzip")
	}
}
