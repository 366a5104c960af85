// Package synth reconstructs tidal current vectors from cached harmonic
// constituents.
package synth

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/couchcryptid/tidal-current-service/internal/constituent"
	"github.com/couchcryptid/tidal-current-service/internal/domain"
	"github.com/couchcryptid/tidal-current-service/internal/nodal"
)

// ReferenceLatitude is passed to the nodal corrector.
const ReferenceLatitude = 55.0

// Reader is the cache access synthesis needs. *cachefile.File implements it.
type Reader interface {
	ReadVar(name string) ([]float64, error)
	ReadChars(name string) ([]byte, error)
	ReadSubset(name string, rows, cols []int) ([]float64, error)
}

// Synthesizer sums harmonic constituents. It holds no per-call state and is
// safe for concurrent use.
type Synthesizer struct {
	matcher   *constituent.Matcher
	corrector nodal.Corrector
	epoch     time.Time
	latitude  float64
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithEpoch moves the origin of elapsed time.
func WithEpoch(t time.Time) Option { return func(s *Synthesizer) { s.epoch = t.UTC() } }

// WithLatitude sets the latitude handed to the corrector.
func WithLatitude(lat float64) Option { return func(s *Synthesizer) { s.latitude = lat } }

// New returns a Synthesizer using the reference table behind m.
func New(m *constituent.Matcher, c nodal.Corrector, opts ...Option) *Synthesizer {
	s := &Synthesizer{matcher: m, corrector: c, epoch: nodal.ReferenceEpoch, latitude: ReferenceLatitude}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Constituents reads the constituent names and frequencies of a cache.
func Constituents(r Reader) (domain.ConstituentSet, error) {
	raw, err := r.ReadChars(domain.CacheNames)
	if err != nil {
		return domain.ConstituentSet{}, fmt.Errorf("read constituent names: %w", err)
	}
	freqs, err := r.ReadVar(domain.CacheFreqs)
	if err != nil {
		return domain.ConstituentSet{}, fmt.Errorf("read constituent frequencies: %w", err)
	}
	names := constituent.DecodeNames(raw, domain.NameWidth)
	if len(names) != len(freqs) {
		return domain.ConstituentSet{}, fmt.Errorf("%d constituent names for %d frequencies", len(names), len(freqs))
	}
	return domain.ConstituentSet{Names: names, Frequencies: freqs}, nil
}

// Match returns the names of set known to the reference table and the
// matching mask.
func (s *Synthesizer) Match(set domain.ConstituentSet) ([]string, []bool) {
	return s.matcher.Match(set.Names)
}

// term is one retained constituent.
type term struct {
	row   int
	omega float64 // radians per hour
	corr  nodal.Correction
}

// Synthesize returns the eastward and northward currents at the locations in
// indices at time t. Constituents outside mask or unknown to the reference
// table are skipped, as are missing amplitude or phase values. With no retained
// constituent every location is zero; a location whose retained terms are all
// missing is NaN. Empty indices give empty slices.
func (s *Synthesizer) Synthesize(r Reader, set domain.ConstituentSet, mask []bool, indices []int, t time.Time) (u, v []float64, err error) {
	if len(mask) != set.Len() {
		return nil, nil, fmt.Errorf("mask has %d entries for %d constituents", len(mask), set.Len())
	}
	if len(indices) == 0 {
		return []float64{}, []float64{}, nil
	}

	terms := s.terms(set, mask, t)
	rows := make([]int, len(terms))
	for k, tm := range terms {
		rows[k] = tm.row
	}

	var arrays [4][]float64
	if len(rows) > 0 {
		for a, name := range domain.HarmonicVariables {
			arrays[a], err = r.ReadSubset(name, rows, indices)
			if err != nil {
				return nil, nil, fmt.Errorf("read %s: %w", name, err)
			}
		}
	}
	ua, va, up, vp := arrays[0], arrays[1], arrays[2], arrays[3]

	hours := t.Sub(s.epoch).Hours()
	n := len(indices)
	u = make([]float64, n)
	v = make([]float64, n)
	uTerms := make([]int, n)
	vTerms := make([]int, n)
	for k, tm := range terms {
		arg := tm.corr.V + hours*tm.omega + tm.corr.U
		base := k * n
		for j := range n {
			if amp, ph := ua[base+j], up[base+j]; !math.IsNaN(amp) && !math.IsNaN(ph) {
				u[j] += tm.corr.F * amp * math.Cos(arg-ph*math.Pi/180)
				uTerms[j]++
			}
			if amp, ph := va[base+j], vp[base+j]; !math.IsNaN(amp) && !math.IsNaN(ph) {
				v[j] += tm.corr.F * amp * math.Cos(arg-ph*math.Pi/180)
				vTerms[j]++
			}
		}
	}
	if len(terms) == 0 {
		return u, v, nil
	}
	for j := range n {
		if uTerms[j] == 0 {
			u[j] = math.NaN()
		}
		if vTerms[j] == 0 {
			v[j] = math.NaN()
		}
	}
	return u, v, nil
}

// terms resolves the masked constituents against the table and corrects them
// for time t. Rows are ascending.
func (s *Synthesizer) terms(set domain.ConstituentSet, mask []bool, t time.Time) []term {
	table := s.matcher.Table()
	var (
		out  []term
		cons []constituent.Constituent
	)
	for i, keep := range mask {
		if !keep {
			continue
		}
		c, ok := table.Lookup(constituent.Normalize(set.Names[i]))
		if !ok {
			continue
		}
		out = append(out, term{row: i, omega: set.HourlyFrequency(i)})
		cons = append(cons, c)
	}
	if len(cons) == 0 {
		return nil
	}

	corr := s.corrector.Correct(t, cons, s.latitude)
	kept := out[:0]
	for k, tm := range out {
		c := corr[k]
		if math.IsNaN(c.F) || math.IsNaN(c.U) || math.IsNaN(c.V) {
			continue
		}
		tm.corr = c
		kept = append(kept, tm)
	}
	return kept
}

// Vectors synthesizes at indices and pairs the result with the matching
// coordinates.
func (s *Synthesizer) Vectors(r Reader, set domain.ConstituentSet, mask []bool, indices []int, coords domain.Coordinates, t time.Time) (domain.VectorField, error) {
	for _, j := range indices {
		if j < 0 || j >= coords.Len() {
			return domain.VectorField{}, fmt.Errorf("location %d out of range [0, %d)", j, coords.Len())
		}
	}
	u, v, err := s.Synthesize(r, set, mask, indices, t)
	if err != nil {
		return domain.VectorField{}, err
	}
	pos := coords.Subset(indices)
	return domain.VectorField{U: u, V: v, Lon: pos.Lon, Lat: pos.Lat}, nil
}

// MagnitudeRange returns the smallest and largest current speed in f.
// NaN vectors are ignored.
func MagnitudeRange(f domain.VectorField) domain.MagnitudeRange {
	speeds := make([]float64, 0, f.Len())
	for j := range f.U {
		m := math.Hypot(f.U[j], f.V[j])
		if !math.IsNaN(m) {
			speeds = append(speeds, m)
		}
	}
	if len(speeds) == 0 {
		return domain.MagnitudeRange{Min: math.NaN(), Max: math.NaN()}
	}
	return domain.MagnitudeRange{Min: floats.Min(speeds), Max: floats.Max(speeds), Count: len(speeds)}
}
