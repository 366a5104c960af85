package source

import (
	"fmt"

	"github.com/couchcryptid/tidal-current-service/internal/domain"
)

// Standard names of the variables of a tidal harmonic dataset.
const (
	StdEastAmplitude  = "eastward_sea_water_velocity_amplitude"
	StdNorthAmplitude = "northward_sea_water_velocity_amplitude"
	StdEastPhase      = "eastward_sea_water_velocity_phase"
	StdNorthPhase     = "northward_sea_water_velocity_phase"
	StdConstituent    = "tide_constituent"
	StdFrequency      = "tide_frequency"
)

// FindStandardName returns the first variable whose standard_name is std.
func FindStandardName(ds Dataset, std string) (string, error) {
	for _, v := range ds.Variables() {
		if name, ok := TextAttribute(ds, v, "standard_name"); ok && name == std {
			return v, nil
		}
	}
	return "", &domain.MissingVariableError{Source: ds.Path(), StandardName: std}
}

// HarmonicVariables names the six variables a cache is built from.
type HarmonicVariables struct {
	UAmp, VAmp, UPhase, VPhase string
	Names, Frequencies         string
}

// Harmonic returns the four harmonic arrays in cache order: u, v, u_phase, v_phase.
func (h HarmonicVariables) Harmonic() [4]string {
	return [4]string{h.UAmp, h.VAmp, h.UPhase, h.VPhase}
}

// FindHarmonicVariables locates all six variables by standard name. The first
// missing one is reported as a *domain.MissingVariableError.
func FindHarmonicVariables(ds Dataset) (HarmonicVariables, error) {
	var h HarmonicVariables
	targets := []struct {
		std string
		dst *string
	}{
		{StdEastAmplitude, &h.UAmp},
		{StdNorthAmplitude, &h.VAmp},
		{StdEastPhase, &h.UPhase},
		{StdNorthPhase, &h.VPhase},
		{StdConstituent, &h.Names},
		{StdFrequency, &h.Frequencies},
	}
	for _, t := range targets {
		v, err := FindStandardName(ds, t.std)
		if err != nil {
			return HarmonicVariables{}, err
		}
		*t.dst = v
	}
	return h, nil
}

// VariableLocation returns the mesh and location attributes of a data variable.
func VariableLocation(ds Dataset, v string) (string, domain.Location, error) {
	mesh, ok := TextAttribute(ds, v, "mesh")
	if !ok || mesh == "" {
		return "", "", domain.NewFormatError(ds.Path(), fmt.Sprintf("variable %s has no mesh attribute", v), nil)
	}
	locText, ok := TextAttribute(ds, v, "location")
	if !ok {
		return "", "", domain.NewFormatError(ds.Path(), fmt.Sprintf("variable %s has no location attribute", v), nil)
	}
	loc, err := domain.ParseLocation(locText)
	if err != nil {
		return "", "", domain.NewFormatError(ds.Path(), fmt.Sprintf("variable %s", v), err)
	}
	return mesh, loc, nil
}

// Orient decides whether a harmonic variable is stored (nlocs, ntides).
// The plain rule is by shape: a first axis longer than the second marks the
// location axis. A dimension named "ntides" overrides that rule when present,
// so a mesh with fewer locations than constituents is still read the way its
// producer labelled it. The Rule field of the result records which one decided.
func Orient(dims []string, shape []int) (domain.Orientation, error) {
	if len(shape) != 2 {
		return domain.Orientation{}, fmt.Errorf("harmonic variable has rank %d, want 2", len(shape))
	}
	if len(dims) == 2 {
		switch {
		case dims[0] == "ntides":
			return domain.Orientation{Transposed: false, Rule: "dimension"}, nil
		case dims[1] == "ntides":
			return domain.Orientation{Transposed: true, Rule: "dimension"}, nil
		}
	}
	return domain.Orientation{Transposed: shape[0] > shape[1], Rule: "shape"}, nil
}
