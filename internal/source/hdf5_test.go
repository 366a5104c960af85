package source

import (
	"errors"
	"reflect"
	"testing"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memGroup is an in-memory api.Group that counts whole-variable reads.
type memGroup struct {
	vars       map[string]*memVar
	wholeReads map[string]int
}

type memVar struct {
	values any // nested slice, first dimension outermost
	dims   []string
	slices int
}

func (v *memVar) Len() int64 { return int64(reflect.ValueOf(v.values).Len()) }
func (v *memVar) Values() (any, error) {
	return v.values, nil
}
func (v *memVar) GetSlice(begin, end int64) (any, error) {
	v.slices++
	return reflect.ValueOf(v.values).Slice(int(begin), int(end)).Interface(), nil
}
func (v *memVar) Dimensions() []string         { return v.dims }
func (v *memVar) Attributes() api.AttributeMap { return nil }
func (v *memVar) Type() string                 { return "double" }
func (v *memVar) GoType() string               { return "float64" }

func (g *memGroup) Close()                       {}
func (g *memGroup) Attributes() api.AttributeMap { return nil }
func (g *memGroup) ListVariables() []string {
	var names []string
	for n := range g.vars {
		names = append(names, n)
	}
	return names
}
func (g *memGroup) GetVariable(name string) (*api.Variable, error) {
	v, ok := g.vars[name]
	if !ok {
		return nil, errors.New("no such variable")
	}
	g.wholeReads[name]++
	return &api.Variable{Values: v.values, Dimensions: v.dims}, nil
}
func (g *memGroup) GetVarGetter(name string) (api.VarGetter, error) {
	v, ok := g.vars[name]
	if !ok {
		return nil, errors.New("no such variable")
	}
	return v, nil
}
func (g *memGroup) ListSubgroups() []string            { return nil }
func (g *memGroup) GetGroup(string) (api.Group, error) { return nil, errors.New("no subgroups") }
func (g *memGroup) ListTypes() []string                { return nil }
func (g *memGroup) GetType(string) (string, bool)      { return "", false }
func (g *memGroup) GetGoType(string) (string, bool)    { return "", false }

// grid returns rows x cols values where element (r, c) is base + 10r + c.
func grid(rows, cols int, base float64) [][]float64 {
	out := make([][]float64, rows)
	for r := range out {
		out[r] = make([]float64, cols)
		for c := range out[r] {
			out[r][c] = base + float64(10*r+c)
		}
	}
	return out
}

var harmonicNames = []string{"u_amp", "v_amp", "u_phase", "v_phase"}

func newMemGroup(rows, cols int, dims []string) *memGroup {
	g := &memGroup{vars: make(map[string]*memVar), wholeReads: make(map[string]int)}
	for k, name := range harmonicNames {
		g.vars[name] = &memVar{values: grid(rows, cols, float64(1000*k)), dims: dims}
	}
	g.vars["lon"] = &memVar{values: []float64{1, 2, 3}, dims: []string{"node"}}
	return g
}

func TestHDF5_RowMajorReadsStreamRows(t *testing.T) {
	g := newMemGroup(3, 4, []string{"ntides", "nlocs"})
	d := newHDF5("mem.nc", g)

	for k, name := range harmonicNames {
		require.Equal(t, []int{3, 4}, d.Shape(name))
		for i := range 3 {
			row, err := d.ReadSlab(name, []int{i, 0}, []int{i + 1, 4})
			require.NoError(t, err)
			base := float64(1000*k + 10*i)
			assert.Equal(t, []float64{base, base + 1, base + 2, base + 3}, row)
		}
	}

	assert.Empty(t, g.wholeReads, "rows come from GetSlice")
	assert.Nil(t, d.last)
	// one slice for the shape plus one per row
	assert.Equal(t, 4, g.vars["u_amp"].slices)
}

func TestHDF5_TransposedReadsKeepOneVariable(t *testing.T) {
	g := newMemGroup(4, 3, []string{"nlocs", "ntides"})
	d := newHDF5("mem.nc", g)

	for k, name := range harmonicNames {
		require.Equal(t, []int{4, 3}, d.Shape(name))
		for i := range 3 {
			col, err := d.ReadSlab(name, []int{0, i}, []int{4, i + 1})
			require.NoError(t, err)
			base := float64(1000*k + i)
			assert.Equal(t, []float64{base, base + 10, base + 20, base + 30}, col)
		}
		require.NotNil(t, d.last)
		assert.Equal(t, name, d.last.name)
		assert.Equal(t, 1, g.wholeReads[name], "%s decoded once", name)
	}
	assert.Len(t, g.wholeReads, len(harmonicNames))
}

func TestHDF5_ReadSlabBounds(t *testing.T) {
	g := newMemGroup(3, 4, []string{"ntides", "nlocs"})
	d := newHDF5("mem.nc", g)

	_, err := d.ReadSlab("u_amp", []int{2, 0}, []int{4, 4})
	require.Error(t, err)
	_, err = d.ReadSlab("u_amp", []int{0}, []int{1})
	require.Error(t, err)
	_, err = d.ReadSlab("missing", []int{0, 0}, []int{1, 1})
	require.Error(t, err)

	empty, err := d.ReadSlab("u_amp", []int{1, 0}, []int{1, 4})
	require.NoError(t, err)
	assert.Empty(t, empty)

	sub, err := d.ReadSlab("u_amp", []int{1, 1}, []int{3, 3})
	require.NoError(t, err)
	assert.Equal(t, []float64{11, 12, 21, 22}, sub)
}

func TestHDF5_WholeVariable(t *testing.T) {
	g := newMemGroup(2, 2, []string{"ntides", "nlocs"})
	d := newHDF5("mem.nc", g)

	assert.Equal(t, []int{3}, d.Shape("lon"))
	lon, err := d.ReadSlab("lon", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, lon)
	assert.Nil(t, d.last, "whole reads are not retained")
	assert.Equal(t, "double", d.DataType("lon"))
}
