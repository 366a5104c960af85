package source

import (
	"fmt"
	"reflect"

	"github.com/couchcryptid/tidal-current-service/internal/domain"
)

// attribute converts a backend attribute value into a domain.Attribute.
// Character data becomes Text; numeric scalars and slices become Values.
func attribute(name string, val any) domain.Attribute {
	switch v := val.(type) {
	case string:
		return domain.Attribute{Name: name, Type: "char", Text: v}
	case []string:
		text := ""
		if len(v) > 0 {
			text = v[0]
		}
		return domain.Attribute{Name: name, Type: "char", Text: text}
	}

	rv := reflect.ValueOf(val)
	if !rv.IsValid() {
		return domain.Attribute{Name: name, Type: "unknown"}
	}
	if rv.Kind() != reflect.Slice {
		f, ok := scalarFloat(rv)
		if !ok {
			return domain.Attribute{Name: name, Type: rv.Type().String(), Text: fmt.Sprint(val)}
		}
		return domain.Attribute{Name: name, Type: rv.Type().String(), Values: []float64{f}}
	}

	out := domain.Attribute{Name: name, Type: rv.Type().Elem().String()}
	for i := range rv.Len() {
		if f, ok := scalarFloat(rv.Index(i)); ok {
			out.Values = append(out.Values, f)
		}
	}
	return out
}

func scalarFloat(v reflect.Value) (float64, bool) {
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return v.Float(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint()), true
	default:
		return 0, false
	}
}

// toFloat64 converts a flat numeric slice into float64 values.
func toFloat64(buf any) ([]float64, error) {
	switch b := buf.(type) {
	case []float64:
		out := make([]float64, len(b))
		copy(out, b)
		return out, nil
	case []float32:
		out := make([]float64, len(b))
		for i, v := range b {
			out[i] = float64(v)
		}
		return out, nil
	}

	rv := reflect.ValueOf(buf)
	if rv.Kind() != reflect.Slice {
		return nil, fmt.Errorf("unsupported value type %T", buf)
	}
	out := make([]float64, rv.Len())
	for i := range out {
		f, ok := scalarFloat(rv.Index(i))
		if !ok {
			return nil, fmt.Errorf("unsupported element type %s", rv.Type().Elem())
		}
		out[i] = f
	}
	return out, nil
}

// toBytes converts character data into raw bytes.
func toBytes(buf any) ([]byte, error) {
	switch b := buf.(type) {
	case []byte:
		return b, nil
	case []int8:
		out := make([]byte, len(b))
		for i, v := range b {
			out[i] = byte(v)
		}
		return out, nil
	case string:
		return []byte(b), nil
	default:
		return nil, fmt.Errorf("unsupported character type %T", buf)
	}
}

// flatten walks a nested slice and returns its leaves with the array shape.
// Ragged input is rejected.
func flatten(val any) ([]float64, []int, error) {
	rv := reflect.ValueOf(val)
	if rv.Kind() != reflect.Slice {
		f, ok := scalarFloat(rv)
		if !ok {
			return nil, nil, fmt.Errorf("unsupported value type %T", val)
		}
		return []float64{f}, nil, nil
	}

	var shape []int
	for t := rv; t.Kind() == reflect.Slice; {
		shape = append(shape, t.Len())
		if t.Len() == 0 {
			break
		}
		t = t.Index(0)
	}

	n := 1
	for _, s := range shape {
		n *= s
	}
	out := make([]float64, 0, n)
	var walk func(v reflect.Value, depth int) error
	walk = func(v reflect.Value, depth int) error {
		if depth == len(shape) {
			f, ok := scalarFloat(v)
			if !ok {
				return fmt.Errorf("unsupported element type %s", v.Type())
			}
			out = append(out, f)
			return nil
		}
		if v.Kind() != reflect.Slice || v.Len() != shape[depth] {
			return fmt.Errorf("ragged array at depth %d", depth)
		}
		for i := range v.Len() {
			if err := walk(v.Index(i), depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(rv, 0); err != nil {
		return nil, nil, err
	}
	return out, shape, nil
}

// slab copies the hyperslab [begin, end) out of a row-major array.
func slab(data []float64, shape, begin, end []int) ([]float64, error) {
	if len(begin) != len(shape) || len(end) != len(shape) {
		return nil, fmt.Errorf("slab rank %d/%d does not match array rank %d", len(begin), len(end), len(shape))
	}
	n := 1
	for k := range shape {
		if begin[k] < 0 || end[k] > shape[k] || begin[k] > end[k] {
			return nil, fmt.Errorf("slab [%v, %v) out of bounds for shape %v", begin, end, shape)
		}
		n *= end[k] - begin[k]
	}
	out := make([]float64, 0, n)
	if n == 0 {
		return out, nil
	}

	strides := make([]int, len(shape))
	stride := 1
	for k := len(shape) - 1; k >= 0; k-- {
		strides[k] = stride
		stride *= shape[k]
	}

	idx := make([]int, len(shape))
	copy(idx, begin)
	for {
		off := 0
		for k := range idx {
			off += idx[k] * strides[k]
		}
		out = append(out, data[off])

		k := len(idx) - 1
		for ; k >= 0; k-- {
			idx[k]++
			if idx[k] < end[k] {
				break
			}
			idx[k] = begin[k]
		}
		if k < 0 {
			return out, nil
		}
	}
}
