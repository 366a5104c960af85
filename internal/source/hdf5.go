package source

import (
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"

	"github.com/couchcryptid/tidal-current-service/internal/domain"
)

// hdf5Dataset reads NetCDF-4 (HDF5) files. Reads inside a band of the first
// dimension go through GetSlice. A read spanning the whole first dimension
// decodes the variable, and only the most recently decoded one is kept.
type hdf5Dataset struct {
	path  string
	group api.Group

	mu     sync.Mutex
	shapes map[string][]int
	last   *decodedVar
}

type decodedVar struct {
	name  string
	data  []float64
	shape []int
}

func openHDF5(path string) (*hdf5Dataset, error) {
	g, err := netcdf.Open(path)
	if err != nil {
		return nil, domain.NewFormatError(path, "invalid NetCDF-4 file", err)
	}
	return newHDF5(path, g), nil
}

func newHDF5(path string, g api.Group) *hdf5Dataset {
	return &hdf5Dataset{path: path, group: g, shapes: make(map[string][]int)}
}

func (d *hdf5Dataset) Path() string { return d.path }

func (d *hdf5Dataset) GlobalAttributes() []domain.Attribute {
	return mapAttributes(d.group.Attributes())
}

func (d *hdf5Dataset) Variables() []string {
	return d.group.ListVariables()
}

func (d *hdf5Dataset) Attributes(v string) []domain.Attribute {
	g, err := d.group.GetVarGetter(v)
	if err != nil {
		return nil
	}
	return mapAttributes(g.Attributes())
}

func mapAttributes(m api.AttributeMap) []domain.Attribute {
	if m == nil {
		return nil
	}
	keys := m.Keys()
	out := make([]domain.Attribute, 0, len(keys))
	for _, k := range keys {
		val, _ := m.Get(k)
		out = append(out, attribute(k, val))
	}
	return out
}

func (d *hdf5Dataset) Dimensions(v string) []string {
	g, err := d.group.GetVarGetter(v)
	if err != nil {
		return nil
	}
	return g.Dimensions()
}

func (d *hdf5Dataset) Shape(v string) []int {
	if t := d.DataType(v); t == "string" || t == "char" {
		raw, width, err := d.ReadChars(v)
		if err != nil || width == 0 {
			return nil
		}
		return []int{len(raw) / width, width}
	}
	shape, err := d.shape(v)
	if err != nil {
		return nil
	}
	return shape
}

func (d *hdf5Dataset) DataType(v string) string {
	g, err := d.group.GetVarGetter(v)
	if err != nil {
		return ""
	}
	return g.Type()
}

// shape takes the first dimension from Len and the rest from a one-row slice.
func (d *hdf5Dataset) shape(v string) ([]int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.shapes[v]; ok {
		return s, nil
	}
	g, err := d.group.GetVarGetter(v)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", v, err)
	}
	rank := len(g.Dimensions())
	if rank == 0 {
		return nil, nil
	}
	shape := make([]int, rank)
	shape[0] = int(g.Len())
	if shape[0] > 0 {
		head, err := g.GetSlice(0, 1)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", v, err)
		}
		_, inner, err := flatten(head)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", v, err)
		}
		if len(inner) != rank {
			return nil, fmt.Errorf("read %s: rank %d for %d dimensions", v, len(inner), rank)
		}
		copy(shape[1:], inner[1:])
	}
	d.shapes[v] = shape
	return shape, nil
}

func (d *hdf5Dataset) ReadSlab(v string, begin, end []int) ([]float64, error) {
	if begin == nil && end == nil {
		vr, err := d.group.GetVariable(v)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", v, err)
		}
		data, _, err := flatten(vr.Values)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", v, err)
		}
		return data, nil
	}

	shape, err := d.shape(v)
	if err != nil {
		return nil, err
	}
	if len(shape) == 0 || len(begin) != len(shape) || len(end) != len(shape) {
		return nil, fmt.Errorf("read %s: slab rank %d/%d does not match array rank %d", v, len(begin), len(end), len(shape))
	}
	if begin[0] < 0 || end[0] > shape[0] || begin[0] > end[0] {
		return nil, fmt.Errorf("read %s: slab [%v, %v) out of bounds for shape %v", v, begin, end, shape)
	}
	if begin[0] == end[0] {
		return []float64{}, nil
	}

	if begin[0] == 0 && end[0] == shape[0] {
		dv, err := d.decode(v, shape)
		if err != nil {
			return nil, err
		}
		out, err := slab(dv.data, dv.shape, begin, end)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", v, err)
		}
		return out, nil
	}

	band, err := d.band(v, shape, begin[0], end[0])
	if err != nil {
		return nil, err
	}
	bandShape := append([]int{end[0] - begin[0]}, shape[1:]...)
	bandBegin := append([]int{0}, begin[1:]...)
	bandEnd := append([]int{end[0] - begin[0]}, end[1:]...)
	out, err := slab(band, bandShape, bandBegin, bandEnd)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", v, err)
	}
	return out, nil
}

// band reads rows [from, to) of the first dimension.
func (d *hdf5Dataset) band(v string, shape []int, from, to int) ([]float64, error) {
	g, err := d.group.GetVarGetter(v)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", v, err)
	}
	vals, err := g.GetSlice(int64(from), int64(to))
	if err != nil {
		return nil, fmt.Errorf("read %s rows [%d, %d): %w", v, from, to, err)
	}
	data, _, err := flatten(vals)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", v, err)
	}
	want := to - from
	for _, n := range shape[1:] {
		want *= n
	}
	if len(data) != want {
		return nil, fmt.Errorf("read %s rows [%d, %d): got %d values, want %d", v, from, to, len(data), want)
	}
	return data, nil
}

// decode returns v whole, replacing any previously decoded variable.
func (d *hdf5Dataset) decode(v string, shape []int) (*decodedVar, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last != nil && d.last.name == v {
		return d.last, nil
	}
	d.last = nil
	vr, err := d.group.GetVariable(v)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", v, err)
	}
	data, got, err := flatten(vr.Values)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", v, err)
	}
	if !slices.Equal(got, shape) {
		return nil, fmt.Errorf("read %s: shape %v, want %v", v, got, shape)
	}
	d.last = &decodedVar{name: v, data: data, shape: got}
	return d.last, nil
}

// ReadChars packs string rows into fixed-width rows. The width is the longest
// row, since the string dimension is folded into the values by the backend.
func (d *hdf5Dataset) ReadChars(v string) ([]byte, int, error) {
	vr, err := d.group.GetVariable(v)
	if err != nil {
		return nil, 0, fmt.Errorf("read %s: %w", v, err)
	}

	var rows []string
	switch vals := vr.Values.(type) {
	case []string:
		rows = vals
	case string:
		rows = []string{vals}
	default:
		rv := reflect.ValueOf(vr.Values)
		if rv.Kind() != reflect.Slice {
			return nil, 0, fmt.Errorf("read %s: unsupported character type %T", v, vr.Values)
		}
		for i := range rv.Len() {
			raw, err := toBytes(rv.Index(i).Interface())
			if err != nil {
				return nil, 0, fmt.Errorf("read %s: %w", v, err)
			}
			rows = append(rows, string(raw))
		}
	}

	width := 1
	for _, r := range rows {
		width = max(width, len(r))
	}
	raw := make([]byte, len(rows)*width)
	for i, r := range rows {
		copy(raw[i*width:], r)
	}
	return raw, width, nil
}

func (d *hdf5Dataset) Close() error {
	d.group.Close()
	return nil
}
