// Package domain models tidal harmonic current data defined on unstructured meshes.
//
// # Data Source
//
// Source datasets are self-describing NetCDF files produced by harmonic analysis of
// ocean model output (for example ADCIRC tidal databases). A dataset is recognised by
// its global "Conventions" attribute, which must mention "UTIDES" (case-insensitive),
// usually alongside a UGRID version: "UGRID-0.9.0 UTIDES".
//
// # Variable Conventions
//
// Variables are located by their "standard_name" attribute rather than by name:
//
//	eastward_sea_water_velocity_amplitude   u amplitude, (ntides, nlocs) or (nlocs, ntides)
//	northward_sea_water_velocity_amplitude  v amplitude
//	eastward_sea_water_velocity_phase       u phase in degrees
//	northward_sea_water_velocity_phase      v phase in degrees
//	tide_constituent                        fixed-width character names, (ntides, strlen)
//	tide_frequency                          angular frequency in radians per second
//
// Every data variable carries a UGRID "mesh" attribute naming the mesh topology
// variable and a "location" attribute of node, face or edge. The location decides which
// coordinate set (node positions, face centroids or edge midpoints) pairs with the
// second axis of the harmonic arrays.
//
// Constituent names are space or NUL padded byte rows. They are decoded and trimmed,
// and the legacy name "STEADY" (the mean flow) is mapped to "Z0" before they are
// matched against the reference constituent table.
//
// # Orientation
//
// Some producers write the harmonic arrays as (nlocs, ntides). The cache always stores
// (ntides, nlocs). Orientation is detected from a dimension literally named "ntides"
// when present, otherwise by comparing axis lengths: a first axis longer than the
// second is taken to be the location axis. See [Orientation].
//
// # Synthesis
//
// The current at location j and time t is the sum over retained constituents i of
//
//	f_i · A[i,j] · cos(v_i + s·ω_i + u_i − φ[i,j]·π/180)
//
// where s is hours since the reference epoch, ω_i the angular frequency in radians per
// hour, and v_i, f_i, u_i the astronomical argument, nodal amplitude factor and phase
// correction at t. Missing values are surfaced as NaN and contribute nothing to the sum.
package domain
