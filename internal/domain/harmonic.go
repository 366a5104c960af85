package domain

import (
	"fmt"
	"math"
	"time"
)

// Attribute is a NetCDF attribute. Text is set for character attributes,
// Values for numeric ones; Type keeps the source type name (e.g. "float32").
type Attribute struct {
	Name   string    `json:"name"`
	Type   string    `json:"type"`
	Text   string    `json:"text,omitempty"`
	Values []float64 `json:"values,omitempty"`
}

// Float returns the first numeric value of the attribute.
func (a Attribute) Float() (float64, bool) {
	if len(a.Values) == 0 {
		return 0, false
	}
	return a.Values[0], true
}

// FindAttribute returns the attribute named name.
func FindAttribute(attrs []Attribute, name string) (Attribute, bool) {
	for _, a := range attrs {
		if a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}

// ConstituentSet lists the constituents of a dataset. Index i is the identity of
// constituent i across every harmonic array.
type ConstituentSet struct {
	Names       []string
	Frequencies []float64 // radians per second
}

// Len returns ntides.
func (c ConstituentSet) Len() int { return len(c.Names) }

// HourlyFrequency returns the angular frequency of constituent i in radians per hour.
func (c ConstituentSet) HourlyFrequency(i int) float64 {
	return c.Frequencies[i] * 3600
}

// HarmonicField holds amplitude and phase arrays in row-major (NTides, NLocs)
// order. Phases are in degrees. Missing values are NaN.
type HarmonicField struct {
	NTides int
	NLocs  int
	UAmp   []float64
	VAmp   []float64
	UPhase []float64
	VPhase []float64
}

// NewHarmonicField allocates a field of the given shape.
func NewHarmonicField(ntides, nlocs int) HarmonicField {
	n := ntides * nlocs
	return HarmonicField{
		NTides: ntides,
		NLocs:  nlocs,
		UAmp:   make([]float64, n),
		VAmp:   make([]float64, n),
		UPhase: make([]float64, n),
		VPhase: make([]float64, n),
	}
}

// Validate checks that all four arrays match the declared shape.
func (h HarmonicField) Validate() error {
	n := h.NTides * h.NLocs
	for name, arr := range map[string][]float64{"u": h.UAmp, "v": h.VAmp, "u_phase": h.UPhase, "v_phase": h.VPhase} {
		if len(arr) != n {
			return fmt.Errorf("harmonic array %s has %d values, want %d", name, len(arr), n)
		}
	}
	return nil
}

// BBox is a longitude/latitude bounding box in degrees.
type BBox struct {
	MinLon float64 `json:"min_lon"`
	MinLat float64 `json:"min_lat"`
	MaxLon float64 `json:"max_lon"`
	MaxLat float64 `json:"max_lat"`
}

// Validate rejects inverted or non-finite boxes.
func (b BBox) Validate() error {
	for _, v := range []float64{b.MinLon, b.MinLat, b.MaxLon, b.MaxLat} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("bbox has non-finite bound")
		}
	}
	if b.MinLon > b.MaxLon || b.MinLat > b.MaxLat {
		return fmt.Errorf("bbox min exceeds max: %+v", b)
	}
	return nil
}

// Expand grows the box by pad degrees on every side.
func (b BBox) Expand(pad float64) BBox {
	return BBox{
		MinLon: b.MinLon - pad,
		MinLat: b.MinLat - pad,
		MaxLon: b.MaxLon + pad,
		MaxLat: b.MaxLat + pad,
	}
}

// Contains reports whether the point lies inside the box, bounds included.
func (b BBox) Contains(lon, lat float64) bool {
	return lon >= b.MinLon && lon <= b.MaxLon && lat >= b.MinLat && lat <= b.MaxLat
}

// SynthesisRequest describes one reconstruction.
type SynthesisRequest struct {
	Time        time.Time
	BBox        BBox
	VectorScale float64 // display scale of vector glyphs
	VectorStep  int     // display stride of vector glyphs
}

// VectorField holds reconstructed currents with their positions.
type VectorField struct {
	U   []float64
	V   []float64
	Lon []float64
	Lat []float64
}

// Len returns the number of vectors.
func (f VectorField) Len() int { return len(f.U) }

// MagnitudeRange summarises current speed over a vector field.
// Count is the number of finite magnitudes; Min and Max are NaN when it is zero.
type MagnitudeRange struct {
	Min   float64
	Max   float64
	Count int
}

// Orientation records how the source harmonic arrays were laid out.
type Orientation struct {
	Transposed bool
	// Rule is "dimension" when an ntides dimension name decided, "shape" when the
	// axis-length comparison did.
	Rule string
}
