package domain

// Cache variable and dimension names.
const (
	CacheU      = "u"
	CacheV      = "v"
	CacheUPhase = "u_phase"
	CacheVPhase = "v_phase"
	CacheNames  = "tidenames"
	CacheFreqs  = "tidefreqs"

	DimTides   = "ntides"
	DimNameLen = "maxStrlen64"
	NameWidth  = 64
)

// Global attributes written by the cache builder.
const (
	AttrSource          = "source"
	AttrBuiltAt         = "built_at"
	AttrMesh            = "mesh"
	AttrLocation        = "location"
	AttrOrientationRule = "orientation_rule"
	AttrTransposed      = "transposed"
)

// HarmonicVariables lists the four harmonic cache variables in storage order.
var HarmonicVariables = [4]string{CacheU, CacheV, CacheUPhase, CacheVPhase}

// CoordinateVariables names the cache variables holding the coordinates of a
// mesh location, e.g. "adcirc_mesh_node_lon" and "adcirc_mesh_node_lat".
func CoordinateVariables(mesh string, loc Location) (lon, lat string) {
	return mesh + "_" + string(loc) + "_lon", mesh + "_" + string(loc) + "_lat"
}
