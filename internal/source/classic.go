package source

import (
	"fmt"
	"os"

	"github.com/ctessum/cdf"

	"github.com/couchcryptid/tidal-current-service/internal/domain"
)

// classicDataset reads NetCDF classic (CDF-1/CDF-2) files.
type classicDataset struct {
	path string
	file *os.File
	cf   *cdf.File
}

func openClassic(path string) (*classicDataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, domain.NewFormatError(path, "cannot open", err)
	}
	cf, err := cdf.Open(f)
	if err != nil {
		_ = f.Close()
		return nil, domain.NewFormatError(path, "invalid NetCDF classic header", err)
	}
	return &classicDataset{path: path, file: f, cf: cf}, nil
}

func (d *classicDataset) Path() string { return d.path }

func (d *classicDataset) GlobalAttributes() []domain.Attribute {
	return d.attributes("")
}

func (d *classicDataset) Variables() []string {
	return d.cf.Header.Variables()
}

func (d *classicDataset) Attributes(v string) []domain.Attribute {
	return d.attributes(v)
}

func (d *classicDataset) attributes(v string) []domain.Attribute {
	names := d.cf.Header.Attributes(v)
	out := make([]domain.Attribute, 0, len(names))
	for _, name := range names {
		out = append(out, attribute(name, d.cf.Header.GetAttribute(v, name)))
	}
	return out
}

func (d *classicDataset) Dimensions(v string) []string {
	return d.cf.Header.Dimensions(v)
}

func (d *classicDataset) Shape(v string) []int {
	return d.cf.Header.Lengths(v)
}

func (d *classicDataset) DataType(v string) string {
	if !d.hasVariable(v) {
		return ""
	}
	switch d.cf.Reader(v, nil, nil).Zero(1).(type) {
	case []float64:
		return "double"
	case []float32:
		return "float"
	case []int32:
		return "int"
	case []int16:
		return "short"
	case []int8:
		return "byte"
	case []byte, string:
		return "char"
	default:
		return "unknown"
	}
}

func (d *classicDataset) hasVariable(v string) bool {
	for _, name := range d.cf.Header.Variables() {
		if name == v {
			return true
		}
	}
	return false
}

func (d *classicDataset) ReadSlab(v string, begin, end []int) ([]float64, error) {
	if !d.hasVariable(v) {
		return nil, fmt.Errorf("read %s: no such variable", v)
	}
	shape := d.cf.Header.Lengths(v)
	if begin == nil {
		begin = make([]int, len(shape))
	}
	if end == nil {
		end = append([]int(nil), shape...)
	}
	n := 1
	for k := range shape {
		if begin[k] < 0 || end[k] > shape[k] || begin[k] > end[k] {
			return nil, fmt.Errorf("read %s: slab [%v, %v) out of bounds for shape %v", v, begin, end, shape)
		}
		n *= end[k] - begin[k]
	}
	if n == 0 {
		return []float64{}, nil
	}

	r := d.cf.Reader(v, begin, end)
	buf := r.Zero(n)
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("read %s: %w", v, err)
	}
	out, err := toFloat64(buf)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", v, err)
	}
	return out, nil
}

func (d *classicDataset) ReadChars(v string) ([]byte, int, error) {
	if !d.hasVariable(v) {
		return nil, 0, fmt.Errorf("read %s: no such variable", v)
	}
	shape := d.cf.Header.Lengths(v)
	if len(shape) == 0 {
		return nil, 0, fmt.Errorf("read %s: scalar character variable", v)
	}
	r := d.cf.Reader(v, nil, nil)
	buf := r.Zero(-1)
	if _, err := r.Read(buf); err != nil {
		return nil, 0, fmt.Errorf("read %s: %w", v, err)
	}
	raw, err := toBytes(buf)
	if err != nil {
		return nil, 0, fmt.Errorf("read %s: %w", v, err)
	}
	return raw, shape[len(shape)-1], nil
}

func (d *classicDataset) Close() error {
	return d.file.Close()
}
