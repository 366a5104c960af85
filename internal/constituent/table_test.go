package constituent_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/tidal-current-service/internal/constituent"
)

func TestDefaultTable(t *testing.T) {
	tbl, err := constituent.Default()
	require.NoError(t, err)
	assert.Equal(t, 84, tbl.Len())

	again, err := constituent.Default()
	require.NoError(t, err)
	assert.Same(t, tbl, again, "table is loaded once")

	m2, ok := tbl.Lookup("M2")
	require.True(t, ok)
	assert.Equal(t, [6]int{2, 0, 0, 0, 0, 0}, m2.Doodson)
	assert.Equal(t, constituent.NodalM2, m2.Nodal)
	assert.InDelta(t, 1/12.4206012, m2.CyclesPerHour(), 1e-7)

	z0, ok := tbl.Lookup("Z0")
	require.True(t, ok)
	assert.Zero(t, z0.Speed)

	m4, ok := tbl.Lookup("M4")
	require.True(t, ok)
	assert.True(t, m4.IsCompound())
	assert.Equal(t, map[string]int{"M2": 2}, m4.Compound)

	_, ok = tbl.Lookup("STEADY")
	assert.False(t, ok, "aliases are resolved by Normalize, not stored")
}

func TestDefaultTable_CoversCommonSourceConstituents(t *testing.T) {
	tbl, err := constituent.Default()
	require.NoError(t, err)

	names := []string{
		"SIG1", "NO1", "SO1", "CHI1", "THE1", "TAU1", "ALP1", "BET1", "UPS1",
		"EPS2", "ETA2", "GAM2", "H1", "H2", "LDA2",
		"OQ2", "MKS2", "2SM2", "MSN2", "MNS2", "SO3", "2MK3",
		"SN4", "SK4", "2MK5", "2SK5", "2MN6", "2MK6", "2SM6", "MSK6", "3MK7", "M10",
	}
	for _, name := range names {
		c, ok := tbl.Lookup(name)
		if assert.True(t, ok, name) {
			assert.Positive(t, c.Speed, name)
		}
	}

	mks2, _ := tbl.Lookup("MKS2")
	assert.Equal(t, map[string]int{"M2": 1, "K2": 1, "S2": -1}, mks2.Compound)
	sig1, _ := tbl.Lookup("SIG1")
	assert.Equal(t, [6]int{1, -3, 2, 0, 0, 0}, sig1.Doodson)
	assert.Equal(t, constituent.NodalO1, sig1.Nodal)
}

func TestDefaultTable_DoodsonSpeeds(t *testing.T) {
	tbl, err := constituent.Default()
	require.NoError(t, err)

	// degrees per hour of tau, s, h, p, N', p'
	rates := [6]float64{14.4920521, 0.5490165, 0.0410686, 0.0046418, 0.0022064, 0.0000020}
	for _, name := range tbl.Names() {
		c, _ := tbl.Lookup(name)
		if c.IsCompound() {
			continue
		}
		var sum float64
		for k, mult := range c.Doodson {
			sum += float64(mult) * rates[k]
		}
		assert.InDelta(t, c.Speed, sum, 1e-5, name)
	}
}

func TestDefaultTable_CompoundSpeeds(t *testing.T) {
	tbl, err := constituent.Default()
	require.NoError(t, err)

	for _, name := range tbl.Names() {
		c, _ := tbl.Lookup(name)
		if !c.IsCompound() {
			continue
		}
		var sum float64
		for parent, mult := range c.Compound {
			p, ok := tbl.Lookup(parent)
			require.True(t, ok, parent)
			sum += float64(mult) * p.Speed
		}
		assert.InDelta(t, c.Speed, sum, 1e-6, name)
	}
}

func TestNamesSortedCopy(t *testing.T) {
	tbl, err := constituent.Default()
	require.NoError(t, err)

	names := tbl.Names()
	assert.IsNonDecreasing(t, names)
	names[0] = "mutated"
	assert.NotEqual(t, "mutated", tbl.Names()[0])
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown parent", "- {name: X4, speed: 1, compound: {NOPE: 2}}", "unknown parent"},
		{"short doodson", "- {name: A1, speed: 1, doodson: [1, 0]}", "6 doodson"},
		{"bad family", "- {name: A1, speed: 1, doodson: [1, 0, 0, 0, 0, 0], nodal: zz}", "nodal family"},
		{"duplicate", "- {name: A1, speed: 1, doodson: [1, 0, 0, 0, 0, 0]}\n- {name: A1, speed: 1, doodson: [1, 0, 0, 0, 0, 0]}", "defined twice"},
		{"unknown field", "- {name: A1, speed: 1, doodson: [1, 0, 0, 0, 0, 0], amp: 3}", "decode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := constituent.Load(strings.NewReader(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_DefaultsNodalFamily(t *testing.T) {
	tbl, err := constituent.Load(strings.NewReader("- {name: A1, speed: 15, doodson: [1, 1, 0, 0, 0, 0]}"))
	require.NoError(t, err)
	c, ok := tbl.Lookup("A1")
	require.True(t, ok)
	assert.Equal(t, constituent.NodalNone, c.Nodal)
}
