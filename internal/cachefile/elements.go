package cachefile

import (
	"encoding/binary"
	"fmt"
	"math"
)

// encodeElements packs values as dtype. NaN becomes the fill value when one is set.
func encodeElements(values []float64, dtype string, fill *float64) ([]byte, error) {
	size, err := elementSize(dtype)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(values)*size)
	for i, v := range values {
		if fill != nil && math.IsNaN(v) {
			v = *fill
		}
		switch dtype {
		case Float32:
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(float32(v)))
		case Float64:
			binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(v))
		case Char:
			out[i] = byte(v)
		}
	}
	return out, nil
}

// decodeElements unpacks dtype elements, mapping the fill value to NaN.
func decodeElements(raw []byte, dtype string, fill *float64) ([]float64, error) {
	size, err := elementSize(dtype)
	if err != nil {
		return nil, err
	}
	if len(raw)%size != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %s", ErrCorrupt, len(raw), dtype)
	}
	n := len(raw) / size
	out := make([]float64, n)
	for i := range n {
		var v float64
		switch dtype {
		case Float32:
			v = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:])))
		case Float64:
			v = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
		case Char:
			v = float64(raw[i])
		}
		if fill != nil && dtype != Char && isFill(v, *fill, dtype) {
			v = math.NaN()
		}
		out[i] = v
	}
	return out, nil
}

// isFill compares at the stored precision so float32 sentinels match exactly.
func isFill(v, fill float64, dtype string) bool {
	if dtype == Float32 {
		return float32(v) == float32(fill)
	}
	return v == fill
}
