package nodal

import (
	"maps"
	"math"
	"slices"
	"time"

	"github.com/couchcryptid/tidal-current-service/internal/constituent"
)

// ReferenceEpoch is the origin synthesis measures elapsed hours from.
var ReferenceEpoch = time.Unix(0, 0).UTC()

// Correction is the astronomical argument and nodal modulation of one constituent.
type Correction struct {
	V float64 // equilibrium argument at the target time, radians
	U float64 // nodal phase correction, radians
	F float64 // nodal amplitude factor
}

// Corrector produces per-constituent corrections for a target time.
// Implementations must be pure functions of their inputs.
type Corrector interface {
	Correct(t time.Time, cons []constituent.Constituent, lat float64) []Correction
}

// Astronomical is the standard Corrector. V, f and u are all evaluated at the
// target time; synthesis adds the elapsed-time term on top of V. Latitude does
// not enter the formula set. Table resolves the parents of compound
// constituents.
type Astronomical struct {
	Table *constituent.Table
}

// NewAstronomical returns a corrector resolving compounds through tbl.
func NewAstronomical(tbl *constituent.Table) *Astronomical {
	return &Astronomical{Table: tbl}
}

// Correct implements Corrector. A compound constituent whose parents are
// unknown gets F = NaN.
func (a *Astronomical) Correct(t time.Time, cons []constituent.Constituent, _ float64) []Correction {
	astro := Arguments(t)
	n := astro.NodeLongitude() * math.Pi / 180

	lookup := func(string) (constituent.Constituent, bool) { return constituent.Constituent{}, false }
	if a.Table != nil {
		lookup = a.Table.Lookup
	}

	out := make([]Correction, len(cons))
	for i, c := range cons {
		out[i] = correct(c, astro, n, lookup)
	}
	return out
}

type lookupFunc func(name string) (constituent.Constituent, bool)

func correct(c constituent.Constituent, astro Astro, n float64, lookup lookupFunc) Correction {
	if !c.IsCompound() {
		return simple(c, astro, n)
	}
	corr := Correction{F: 1}
	for _, name := range slices.Sorted(maps.Keys(c.Compound)) {
		mult := c.Compound[name]
		p, ok := lookup(name)
		if !ok {
			return Correction{F: math.NaN()}
		}
		pc := simple(p, astro, n)
		m := float64(mult)
		corr.V += m * pc.V
		corr.U += m * pc.U
		corr.F *= math.Pow(pc.F, math.Abs(m))
	}
	corr.V = wrap(corr.V)
	return corr
}

func simple(c constituent.Constituent, astro Astro, n float64) Correction {
	var v float64
	for k, mult := range c.Doodson {
		v += float64(mult) * astro[k]
	}
	v = math.Mod(v+c.Semi, 1) * 2 * math.Pi
	f, uDeg := Factors(c.Nodal, n)
	return Correction{V: wrap(v), U: uDeg * math.Pi / 180, F: f}
}

func wrap(rad float64) float64 {
	r := math.Mod(rad, 2*math.Pi)
	if r < 0 {
		r += 2 * math.Pi
	}
	return r
}

// Factors returns the nodal amplitude factor f and phase correction u (degrees)
// of a nodal family for lunar node longitude n (radians).
func Factors(family string, n float64) (f, u float64) {
	c1, c2, c3 := math.Cos(n), math.Cos(2*n), math.Cos(3*n)
	s1, s2, s3 := math.Sin(n), math.Sin(2*n), math.Sin(3*n)

	switch family {
	case constituent.NodalM2:
		return 1.0004 - 0.0373*c1 + 0.0002*c2, -2.14 * s1
	case constituent.NodalO1:
		return 1.0089 + 0.1871*c1 - 0.0147*c2 + 0.0014*c3,
			10.80*s1 - 1.34*s2 + 0.19*s3
	case constituent.NodalK1:
		return 1.0060 + 0.1150*c1 - 0.0088*c2 + 0.0006*c3,
			-8.86*s1 + 0.68*s2 - 0.07*s3
	case constituent.NodalK2:
		return 1.0241 + 0.2863*c1 + 0.0083*c2 - 0.0015*c3,
			-17.74*s1 + 0.68*s2 - 0.04*s3
	case constituent.NodalJ1:
		return 1.0129 + 0.1676*c1 - 0.0170*c2 + 0.0016*c3,
			-12.94*s1 + 1.34*s2 - 0.19*s3
	case constituent.NodalOO1:
		return 1.1027 + 0.6504*c1 + 0.0317*c2 - 0.0014*c3,
			-36.68*s1 + 4.02*s2 - 0.57*s3
	case constituent.NodalMM:
		return 1 - 0.1300*c1 + 0.0013*c2, 0
	case constituent.NodalMF:
		return 1.043 + 0.414*c1, -23.7*s1 + 2.7*s2 - 0.4*s3
	case constituent.NodalM3:
		fm2, um2 := Factors(constituent.NodalM2, n)
		return math.Pow(fm2, 1.5), 1.5 * um2
	default:
		return 1, 0
	}
}
