package objwriter

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// Compression selects how section bytes are stored in the container.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionLZ4
	CompressionZstd
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", c)
	}
}

// ParseCompression converts a flag or config value to a Compression.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return CompressionNone, fmt.Errorf("invalid compression: %q (expected: none|lz4|zstd)", s)
	}
}

const (
	containerMagic   = "ILCOBJ"
	containerVersion = 1
)

type containerFile struct {
	Magic       string             `msgpack:"magic"`
	Version     int                `msgpack:"version"`
	Target      string             `msgpack:"target"`
	PointerSize int                `msgpack:"ptr_size"`
	Sections    []containerSection `msgpack:"sections"`
}

type containerSection struct {
	Section
	Compression Compression `msgpack:"compression"`
	RawSize     int         `msgpack:"raw_size"`
	Payload     []byte      `msgpack:"payload"`
}

// Marshal encodes o as a msgpack container. Each section payload is
// compressed with c unless compression would not shrink it, in which case
// that section is stored raw.
func (o *Object) Marshal(c Compression) ([]byte, error) {
	file := containerFile{
		Magic:       containerMagic,
		Version:     containerVersion,
		Target:      o.Target,
		PointerSize: o.PointerSize,
		Sections:    make([]containerSection, 0, len(o.Sections)),
	}
	for _, sec := range o.Sections {
		payload, used, err := compressPayload(sec.Data, c)
		if err != nil {
			return nil, fmt.Errorf("section %s: %w", sec.Name, err)
		}
		file.Sections = append(file.Sections, containerSection{
			Section:     sec,
			Compression: used,
			RawSize:     len(sec.Data),
			Payload:     payload,
		})
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.Encode(&file); err != nil {
		return nil, fmt.Errorf("encode object: %w", err)
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a container produced by Marshal.
func Unmarshal(data []byte) (*Object, error) {
	var file containerFile
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&file); err != nil {
		return nil, &Error{Kind: ErrCorruptContainer, Err: err}
	}
	if file.Magic != containerMagic {
		return nil, &Error{Kind: ErrCorruptContainer, Detail: fmt.Sprintf("bad magic %q", file.Magic)}
	}
	if file.Version != containerVersion {
		return nil, &Error{Kind: ErrCorruptContainer, Detail: fmt.Sprintf("unsupported version %d", file.Version)}
	}
	obj := &Object{Target: file.Target, PointerSize: file.PointerSize}
	for _, cs := range file.Sections {
		raw, err := decompressPayload(cs.Payload, cs.Compression, cs.RawSize)
		if err != nil {
			return nil, &Error{Kind: ErrCorruptContainer, Node: cs.Name, Err: err}
		}
		sec := cs.Section
		sec.Data = raw
		obj.Sections = append(obj.Sections, sec)
	}
	return obj, nil
}

var errIncompressible = errors.New("data is incompressible")

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("objwriter: zstd encoder: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("objwriter: zstd decoder: " + err.Error())
	}
}

func compressPayload(data []byte, c Compression) ([]byte, Compression, error) {
	var (
		out []byte
		err error
	)
	switch c {
	case CompressionNone:
		return data, CompressionNone, nil
	case CompressionLZ4:
		out, err = compressLZ4(data)
	case CompressionZstd:
		out, err = compressZstd(data)
	default:
		return nil, c, fmt.Errorf("unsupported compression %s", c)
	}
	if errors.Is(err, errIncompressible) {
		return data, CompressionNone, nil
	}
	if err != nil {
		return nil, c, err
	}
	return out, c, nil
}

func decompressPayload(payload []byte, c Compression, rawSize int) ([]byte, error) {
	switch c {
	case CompressionNone:
		if len(payload) != rawSize {
			return nil, fmt.Errorf("raw payload is %d bytes, expected %d", len(payload), rawSize)
		}
		return payload, nil
	case CompressionLZ4:
		dst := make([]byte, rawSize)
		n, err := lz4.UncompressBlock(payload, dst)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if n != rawSize {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", n, rawSize)
		}
		return dst, nil
	case CompressionZstd:
		out, err := zstdDecoder.DecodeAll(payload, make([]byte, 0, rawSize))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(out) != rawSize {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(out), rawSize)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported compression tag %d", c)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if n == 0 || n >= len(data) {
		return nil, errIncompressible
	}
	return dst[:n], nil
}

func compressZstd(data []byte) ([]byte, error) {
	out := zstdEncoder.EncodeAll(data, nil)
	if len(out) >= len(data) {
		return nil, errIncompressible
	}
	return out, nil
}
