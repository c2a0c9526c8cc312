// Package outputstore implements compressed blob storage for stdout,
// stderr, error, and wavefunction payloads (spec.md §4.B).
package outputstore

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Compression names a codec applied to an output payload.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
)

// Entry is a compressed payload plus the metadata needed to decompress it.
type Entry struct {
	ID               int64
	OutputType       string // "stdout" | "stderr" | "error" | "wavefunction"
	Compression      Compression
	CompressionLevel int
	Data             []byte
}

// Compress encodes raw into the requested codec at level.
func Compress(outputType string, raw []byte, compression Compression, level int) (Entry, error) {
	switch compression {
	case "", CompressionNone:
		return Entry{OutputType: outputType, Compression: CompressionNone, Data: raw}, nil
	case CompressionZstd:
		data, err := compressZstd(raw, level)
		if err != nil {
			return Entry{}, fmt.Errorf("compress zstd: %w", err)
		}
		return Entry{OutputType: outputType, Compression: CompressionZstd, CompressionLevel: level, Data: data}, nil
	default:
		return Entry{}, fmt.Errorf("unsupported compression %q", compression)
	}
}

// Decompress returns the original payload bytes for e.
func Decompress(e Entry) ([]byte, error) {
	switch e.Compression {
	case "", CompressionNone:
		return e.Data, nil
	case CompressionZstd:
		return decompressZstd(e.Data)
	default:
		return nil, fmt.Errorf("unsupported compression %q", e.Compression)
	}
}

// Append implements "decompress, concatenate, recompress" (spec.md §4.B,
// §9): the simplest correct semantics given an opaque compressed blob, at
// the cost of a full round-trip on every append. Appending to a payload
// re-uses the existing entry's codec and level.
func Append(existing Entry, more []byte) (Entry, error) {
	raw, err := Decompress(existing)
	if err != nil {
		return Entry{}, fmt.Errorf("decompress for append: %w", err)
	}
	combined := append(raw, more...)
	return Compress(existing.OutputType, combined, existing.Compression, existing.CompressionLevel)
}

func compressZstd(raw []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	encLevel := zstd.EncoderLevelFromZstd(level)
	if level <= 0 {
		encLevel = zstd.SpeedDefault
	}
	enc, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(encLevel))
	if err != nil {
		return nil, err
	}
	if _, err := enc.Write(raw); err != nil {
		enc.Close()
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressZstd(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	out, err := io.ReadAll(dec)
	if err != nil {
		return nil, err
	}
	return out, nil
}
