package main

import (
	"fmt"
	"math"
	"slices"

	"github.com/couchcryptid/tidal-current-service/internal/cachefile"
	"github.com/couchcryptid/tidal-current-service/internal/constituent"
	"github.com/couchcryptid/tidal-current-service/internal/domain"
	"github.com/couchcryptid/tidal-current-service/internal/source"
)

// maxReported caps the mismatches listed per check.
const maxReported = 5

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

// inputs holds the opened pair and what was learned about the source.
type inputs struct {
	src    source.Dataset
	cache  *cachefile.File
	vars   source.HarmonicVariables
	topo   domain.MeshTopology
	loc    domain.Location
	coords domain.Coordinates
	orient domain.Orientation
	ntides int
	nlocs  int
}

func load(sourcePath, cachePath string) (*inputs, error) {
	src, err := source.Open(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	in := &inputs{src: src}

	if in.vars, err = source.FindHarmonicVariables(src); err != nil {
		src.Close()
		return nil, err
	}
	if in.topo, in.loc, in.coords, err = source.LoadLocation(src, in.vars.UAmp); err != nil {
		src.Close()
		return nil, err
	}
	shape := src.Shape(in.vars.UAmp)
	if in.orient, err = source.Orient(src.Dimensions(in.vars.UAmp), shape); err != nil {
		src.Close()
		return nil, err
	}
	in.ntides, in.nlocs = shape[0], shape[1]
	if in.orient.Transposed {
		in.ntides, in.nlocs = shape[1], shape[0]
	}

	if in.cache, err = cachefile.Open(cachePath); err != nil {
		src.Close()
		return nil, fmt.Errorf("open cache: %w", err)
	}
	return in, nil
}

func (in *inputs) close() {
	in.cache.Close()
	in.src.Close()
}

// checkLayout verifies dimensions, variable shapes and descriptive attributes.
func checkLayout(in *inputs) *phase {
	p := &phase{name: "cache layout"}
	locDim := domain.LocationDim(in.topo.Name, in.loc)

	want := map[string]int{
		domain.DimTides:   in.ntides,
		domain.DimNameLen: domain.NameWidth,
		locDim:            in.nlocs,
	}
	for name, n := range want {
		got, ok := in.cache.Dimension(name)
		switch {
		case !ok:
			p.errorf("dimension %s missing", name)
		case got != n:
			p.errorf("dimension %s = %d, want %d", name, got, n)
		}
	}

	for _, name := range domain.HarmonicVariables {
		v, ok := in.cache.Variable(name)
		if !ok {
			p.errorf("variable %s missing", name)
			continue
		}
		if !slices.Equal(v.Dims, []string{domain.DimTides, locDim}) {
			p.errorf("variable %s dims %v, want [%s %s]", name, v.Dims, domain.DimTides, locDim)
		}
		if v.FillValue == nil {
			p.errorf("variable %s has no fill value", name)
		}
	}
	for _, name := range []string{domain.CacheNames, domain.CacheFreqs} {
		if _, ok := in.cache.Variable(name); !ok {
			p.errorf("variable %s missing", name)
		}
	}

	for attr, want := range map[string]string{
		domain.AttrMesh:     in.topo.Name,
		domain.AttrLocation: string(in.loc),
	} {
		a, ok := in.cache.Attribute(attr)
		switch {
		case !ok:
			p.errorf("global attribute %s missing", attr)
		case a.Text != want:
			p.errorf("global attribute %s = %q, want %q", attr, a.Text, want)
		}
	}
	return p
}

// checkOrientation compares every harmonic value with the source after
// reorienting the source to (ntides, nlocs).
func checkOrientation(in *inputs) *phase {
	p := &phase{name: "orientation parity"}
	if a, ok := in.cache.Attribute(domain.AttrTransposed); ok {
		if got := a.Text == "true"; got != in.orient.Transposed {
			p.errorf("cache records transposed=%s, source orientation says %t", a.Text, in.orient.Transposed)
		}
	}

	for k, srcVar := range in.vars.Harmonic() {
		name := domain.HarmonicVariables[k]
		raw, err := in.src.ReadSlab(srcVar, nil, nil)
		if err != nil {
			p.errorf("read source %s: %v", srcVar, err)
			continue
		}
		cached, err := in.cache.ReadVar(name)
		if err != nil {
			p.errorf("read cache %s: %v", name, err)
			continue
		}
		if len(raw) != len(cached) || len(raw) != in.ntides*in.nlocs {
			p.errorf("%s: source has %d values, cache %d", name, len(raw), len(cached))
			continue
		}
		fill, hasFill := source.FillValue(in.src, srcVar)

		reported := 0
		for i := range in.ntides {
			for j := range in.nlocs {
				sv := raw[i*in.nlocs+j]
				if in.orient.Transposed {
					sv = raw[j*in.ntides+i]
				}
				if hasFill && sv == fill {
					sv = math.NaN()
				}
				cv := cached[i*in.nlocs+j]
				if sameValue(sv, cv) {
					continue
				}
				if reported < maxReported {
					p.errorf("%s[%d,%d] = %g, source %g", name, i, j, cv, sv)
				}
				reported++
			}
		}
		if reported > maxReported {
			p.errorf("%s: %d more mismatches", name, reported-maxReported)
		}
	}
	return p
}

// checkConstituents compares decoded names and frequencies.
func checkConstituents(in *inputs) *phase {
	p := &phase{name: "constituent metadata"}

	raw, width, err := in.src.ReadChars(in.vars.Names)
	if err != nil {
		p.errorf("read source names: %v", err)
		return p
	}
	want := constituent.DecodeNames(raw, width)
	cachedRaw, err := in.cache.ReadChars(domain.CacheNames)
	if err != nil {
		p.errorf("read cache names: %v", err)
		return p
	}
	if got := constituent.DecodeNames(cachedRaw, domain.NameWidth); !slices.Equal(got, want) {
		p.errorf("names %v, source %v", got, want)
	}

	wantFreqs, err := in.src.ReadSlab(in.vars.Frequencies, nil, nil)
	if err != nil {
		p.errorf("read source frequencies: %v", err)
		return p
	}
	gotFreqs, err := in.cache.ReadVar(domain.CacheFreqs)
	if err != nil {
		p.errorf("read cache frequencies: %v", err)
		return p
	}
	if !slices.EqualFunc(gotFreqs, wantFreqs, sameValue) {
		p.errorf("frequencies %v, source %v", gotFreqs, wantFreqs)
	}
	return p
}

// checkCoordinates compares the location coordinates with the mesh.
func checkCoordinates(in *inputs) *phase {
	p := &phase{name: "mesh coordinates"}
	lonVar, latVar := domain.CoordinateVariables(in.topo.Name, in.loc)

	for _, c := range []struct {
		name string
		want []float64
	}{
		{lonVar, in.coords.Lon},
		{latVar, in.coords.Lat},
	} {
		got, err := in.cache.ReadVar(c.name)
		if err != nil {
			p.errorf("read %s: %v", c.name, err)
			continue
		}
		if len(got) != len(c.want) {
			p.errorf("%s has %d values, want %d", c.name, len(got), len(c.want))
			continue
		}
		for j := range got {
			if !sameValue(got[j], c.want[j]) {
				p.errorf("%s[%d] = %g, mesh %g", c.name, j, got[j], c.want[j])
				break
			}
		}
	}
	return p
}

// sameValue treats NaNs as equal and allows float32 rounding.
func sameValue(a, b float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.IsNaN(a) && math.IsNaN(b)
	}
	return math.Abs(a-b) <= 1e-6*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}
