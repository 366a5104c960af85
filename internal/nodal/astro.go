// Package nodal computes astronomical arguments and nodal corrections for tidal
// constituents.
package nodal

import (
	"math"
	"time"
)

// astroEpoch is the origin of the mean longitude polynomials.
var astroEpoch = time.Date(1899, 12, 31, 12, 0, 0, 0, time.UTC)

// Polynomial coefficients in degrees for [1, d, D², D³], d in days since
// astroEpoch and D = d/10000.
var (
	coefS      = [4]float64{270.434164, 13.1763965268, -0.0000850, 0.000000039}
	coefH      = [4]float64{279.696678, 0.9856473354, 0.00002267, 0}
	coefP      = [4]float64{334.329556, 0.1114040803, -0.0007739, -0.00000026}
	coefNPrime = [4]float64{-259.183275, 0.0529539222, -0.0001557, -0.000000050}
	coefPPrime = [4]float64{281.220844, 0.0000470684, 0.0000339, 0.000000070}
)

// Astro holds mean longitudes in cycles, in the Doodson argument order.
type Astro [6]float64

// Mean longitude indices.
const (
	Tau    = iota // mean lunar time
	S             // moon
	H             // sun
	P             // lunar perigee
	NPrime        // negative of the lunar ascending node
	PPrime        // solar perigee
)

// Arguments returns the mean longitudes at t.
func Arguments(t time.Time) Astro {
	t = t.UTC()
	d := t.Sub(astroEpoch).Hours() / 24
	dd := d / 10000
	args := [4]float64{1, d, dd * dd, dd * dd * dd}

	poly := func(c [4]float64) float64 {
		var deg float64
		for k := range c {
			deg += c[k] * args[k]
		}
		return math.Mod(deg/360, 1)
	}

	var a Astro
	a[S] = poly(coefS)
	a[H] = poly(coefH)
	a[P] = poly(coefP)
	a[NPrime] = poly(coefNPrime)
	a[PPrime] = poly(coefPPrime)

	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	dayFrac := t.Sub(midnight).Hours() / 24
	a[Tau] = dayFrac + a[H] - a[S]
	return a
}

// Degrees returns the longitude at index k in [0, 360).
func (a Astro) Degrees(k int) float64 {
	deg := math.Mod(a[k]*360, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

// NodeLongitude returns the longitude of the moon's ascending node in degrees.
func (a Astro) NodeLongitude() float64 {
	n := math.Mod(-a[NPrime]*360, 360)
	if n < 0 {
		n += 360
	}
	return n
}
