// Package cachefile implements the chunked, compressed container that stores
// repacked harmonic data.
//
// A file is laid out as
//
//	magic | version u16 | chunk blocks ... | footer | footer length u64 | footer xxhash u64 | magic
//
// The footer is zstd-compressed JSON describing dimensions, variables and the
// location of every chunk. Chunks hold little-endian row-major elements behind
// an [uncompressed u32][compressed u32] block header; a compressed size of zero
// means the payload is stored raw.
package cachefile

import (
	"errors"
	"fmt"
	"strings"

	"github.com/couchcryptid/tidal-current-service/internal/domain"
)

const (
	magic         = "TIDECACH"
	formatVersion = 1
	headerSize    = len(magic) + 2
	trailerSize   = 8 + 8 + len(magic)
)

// Extension is the file extension of cache files.
const Extension = ".tcache"

// ErrCorrupt is returned for files that fail structural or checksum checks.
var ErrCorrupt = errors.New("corrupt cache file")

// Compression selects the chunk codec.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionLZ4  Compression = "lz4"
	CompressionZSTD Compression = "zstd"
)

// ParseCompression validates a codec name. The empty string selects zstd.
func ParseCompression(s string) (Compression, error) {
	switch c := Compression(strings.ToLower(strings.TrimSpace(s))); c {
	case "":
		return CompressionZSTD, nil
	case CompressionNone, CompressionLZ4, CompressionZSTD:
		return c, nil
	default:
		return "", fmt.Errorf("unknown compression %q (want none, lz4 or zstd)", s)
	}
}

// Element types.
const (
	Float32 = "float32"
	Float64 = "float64"
	Char    = "char"
)

func elementSize(dtype string) (int, error) {
	switch dtype {
	case Float32:
		return 4, nil
	case Float64:
		return 8, nil
	case Char:
		return 1, nil
	default:
		return 0, fmt.Errorf("unknown element type %q", dtype)
	}
}

// Dimension is a named axis length.
type Dimension struct {
	Name string `json:"name"`
	Len  int    `json:"len"`
}

// ChunkRef locates one stored chunk.
type ChunkRef struct {
	Offset   int64  `json:"offset"`
	Length   int64  `json:"length"`
	Checksum uint64 `json:"xxhash"`
}

// Variable describes a stored array. Chunks are ordered row-major over the
// chunk grid; edge chunks cover only the remaining extent.
type Variable struct {
	Name        string             `json:"name"`
	DType       string             `json:"dtype"`
	Dims        []string           `json:"dims"`
	Shape       []int              `json:"shape"`
	ChunkShape  []int              `json:"chunk_shape"`
	Compression Compression        `json:"compression"`
	FillValue   *float64           `json:"fill_value,omitempty"`
	Attributes  []domain.Attribute `json:"attributes,omitempty"`
	Chunks      []ChunkRef         `json:"chunks"`
}

// grid views a rank 1 or 2 variable as a matrix so both share chunk math.
func (v Variable) grid() (rows, cols, chunkRows, chunkCols int) {
	if len(v.Shape) == 1 {
		return 1, v.Shape[0], 1, v.ChunkShape[0]
	}
	return v.Shape[0], v.Shape[1], v.ChunkShape[0], v.ChunkShape[1]
}

// gridSize returns the number of chunk rows and chunk columns.
func (v Variable) gridSize() (int, int) {
	rows, cols, cr, cc := v.grid()
	return ceilDiv(rows, cr), ceilDiv(cols, cc)
}

// Len returns the number of elements.
func (v Variable) Len() int {
	n := 1
	for _, s := range v.Shape {
		n *= s
	}
	return n
}

// Attribute returns the attribute called name.
func (v Variable) Attribute(name string) (domain.Attribute, bool) {
	return domain.FindAttribute(v.Attributes, name)
}

type footer struct {
	Version    int                `json:"version"`
	Attributes []domain.Attribute `json:"attributes,omitempty"`
	Dimensions []Dimension        `json:"dimensions"`
	Variables  []Variable         `json:"variables"`
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// DefaultChunkShape returns the harmonic chunk shape for a (rows, cols) array:
// half the rows by a quarter of the columns, at least one of each.
func DefaultChunkShape(rows, cols int) []int {
	return []int{max(1, rows/2), max(1, cols/4)}
}
