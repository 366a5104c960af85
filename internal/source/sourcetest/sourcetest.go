// Package sourcetest writes small synthetic tidal harmonic datasets in NetCDF
// classic format.
package sourcetest

import (
	"fmt"
	"math"
	"os"
	"slices"

	"github.com/ctessum/cdf"

	"github.com/couchcryptid/tidal-current-service/internal/constituent"
	"github.com/couchcryptid/tidal-current-service/internal/domain"
)

// DefaultNames are used when Options.Names is empty.
var DefaultNames = []string{"M2", "S2", "N2", "K1", "O1", "STEADY", "M4", "Q1", "XX9", "K2"}

// Options shapes a fixture. Zero values select defaults.
type Options struct {
	NTides int // default len(Names) or 4
	NLocs  int // default 12
	Names  []string
	// NameWidth is the length of the character dimension, default 10.
	NameWidth int
	// Transposed stores the harmonic arrays as (nlocs, ntides).
	Transposed bool
	// AnonymousDims names the harmonic dimensions so that only the shape
	// reveals the orientation.
	AnonymousDims bool
	Location      domain.Location // node (default) or face
	// FaceCoordinates writes explicit face centres; otherwise only the
	// face_node_connectivity table is written.
	FaceCoordinates bool
	Mesh            string // default "adcirc_mesh"
	Conventions     string // default "UGRID-0.9.0 UTIDES"
	// Omit leaves out the variables with these standard names.
	Omit      []string
	FillValue float32 // default -99999
	// Missing lists canonical (tide, loc) cells written as the fill value in
	// every harmonic array.
	Missing [][2]int
	// Amplitude overrides the generated data when set. It receives canonical
	// indices and returns u amplitude, v amplitude, u phase, v phase.
	Amplitude func(tide, loc int) (ua, va, up, vp float64)
}

// Fixture describes what was written, in canonical (ntides, nlocs) order.
type Fixture struct {
	Path         string
	Names        []string
	Frequencies  []float64 // radians per second
	Field        domain.HarmonicField
	Mesh         domain.MeshTopology
	Location     domain.Location
	Coordinates  domain.Coordinates
	FillValue    float64
	HarmonicDims [2]string // as stored
}

func (o *Options) defaults() {
	if o.NTides == 0 {
		if len(o.Names) > 0 {
			o.NTides = len(o.Names)
		} else {
			o.NTides = 4
		}
	}
	if len(o.Names) == 0 {
		for i := range o.NTides {
			if i < len(DefaultNames) {
				o.Names = append(o.Names, DefaultNames[i])
			} else {
				o.Names = append(o.Names, fmt.Sprintf("C%d", i))
			}
		}
	}
	if o.NLocs == 0 {
		o.NLocs = 12
	}
	if o.NameWidth == 0 {
		o.NameWidth = 10
	}
	if o.Location == "" {
		o.Location = domain.LocationNode
	}
	if o.Mesh == "" {
		o.Mesh = "adcirc_mesh"
	}
	if o.Conventions == "" {
		o.Conventions = "UGRID-0.9.0 UTIDES"
	}
	if o.FillValue == 0 {
		o.FillValue = -99999
	}
	if o.Amplitude == nil {
		o.Amplitude = defaultAmplitude
	}
}

func defaultAmplitude(i, j int) (ua, va, up, vp float64) {
	ua = 0.1*float64(i+1) + 0.01*float64(j)
	va = 0.05*float64(i+1) + 0.02*float64(j)
	up = math.Mod(30*float64(i)+7*float64(j), 360)
	vp = math.Mod(45*float64(i)+3*float64(j), 360)
	return ua, va, up, vp
}

// Write creates a fixture dataset at path.
func Write(path string, opts Options) (*Fixture, error) {
	opts.defaults()
	if len(opts.Names) != opts.NTides {
		return nil, fmt.Errorf("sourcetest: %d names for %d tides", len(opts.Names), opts.NTides)
	}
	if opts.Location != domain.LocationNode && opts.Location != domain.LocationFace {
		return nil, fmt.Errorf("sourcetest: location %s not supported", opts.Location)
	}

	fx := &Fixture{
		Path:      path,
		Names:     opts.Names,
		Location:  opts.Location,
		FillValue: float64(opts.FillValue),
	}
	fx.Frequencies = frequencies(opts.Names)
	fx.Mesh = meshFor(opts)
	fx.Coordinates, _ = fx.Mesh.CoordinatesFor(opts.Location)
	fx.Field = fieldFor(opts)

	ntides, nlocs := opts.NTides, opts.NLocs
	locDim := domain.LocationDim(opts.Mesh, opts.Location)
	tideDim := "ntides"
	if opts.AnonymousDims {
		tideDim, locDim = "dim_a", "dim_b"
	}
	nodeDim := domain.LocationDim(opts.Mesh, domain.LocationNode)
	faceDim := domain.LocationDim(opts.Mesh, domain.LocationFace)
	hdims := []string{tideDim, locDim}
	if opts.Transposed {
		hdims = []string{locDim, tideDim}
	}
	fx.HarmonicDims = [2]string{hdims[0], hdims[1]}

	dimNames := []string{tideDim, "namelen"}
	dimLens := []int{ntides, opts.NameWidth}
	addDim := func(name string, n int) {
		if !slices.Contains(dimNames, name) {
			dimNames = append(dimNames, name)
			dimLens = append(dimLens, n)
		}
	}
	addDim(locDim, nlocs)
	addDim(nodeDim, fx.Mesh.Nodes.Len())
	if opts.Location == domain.LocationFace {
		addDim(faceDim, fx.Mesh.Faces.Len())
		addDim("nvertex", 3)
	}

	h := cdf.NewHeader(dimNames, dimLens)
	h.AddAttribute("", "Conventions", opts.Conventions)
	h.AddAttribute("", "title", "synthetic tidal harmonic currents")

	mesh := opts.Mesh
	nodeLon, nodeLat := mesh+"_node_lon", mesh+"_node_lat"
	h.AddVariable(mesh, []string{}, []int32{0})
	h.AddAttribute(mesh, "cf_role", "mesh_topology")
	h.AddAttribute(mesh, "topology_dimension", []int32{2})
	h.AddAttribute(mesh, "node_coordinates", nodeLon+" "+nodeLat)

	h.AddVariable(nodeLon, []string{nodeDim}, []float64{0})
	h.AddAttribute(nodeLon, "standard_name", "longitude")
	h.AddAttribute(nodeLon, "units", "degrees_east")
	h.AddVariable(nodeLat, []string{nodeDim}, []float64{0})
	h.AddAttribute(nodeLat, "standard_name", "latitude")
	h.AddAttribute(nodeLat, "units", "degrees_north")

	faceNodes, faceLon, faceLat := mesh+"_face_nodes", mesh+"_face_lon", mesh+"_face_lat"
	if opts.Location == domain.LocationFace {
		h.AddAttribute(mesh, "face_node_connectivity", faceNodes)
		h.AddVariable(faceNodes, []string{faceDim, "nvertex"}, []int32{0})
		h.AddAttribute(faceNodes, "cf_role", "face_node_connectivity")
		h.AddAttribute(faceNodes, "start_index", []int32{0})
		h.AddAttribute(faceNodes, "_FillValue", []int32{-1})
		if opts.FaceCoordinates {
			// lat listed first to exercise detection by attributes
			h.AddAttribute(mesh, "face_coordinates", faceLat+" "+faceLon)
			h.AddVariable(faceLon, []string{faceDim}, []float64{0})
			h.AddAttribute(faceLon, "units", "degrees_east")
			h.AddVariable(faceLat, []string{faceDim}, []float64{0})
			h.AddAttribute(faceLat, "units", "degrees_north")
		}
	}

	harmonic := []struct {
		name, std, units string
		data             []float64
	}{
		{"u_amp", "eastward_sea_water_velocity_amplitude", "m s-1", fx.Field.UAmp},
		{"v_amp", "northward_sea_water_velocity_amplitude", "m s-1", fx.Field.VAmp},
		{"u_phase", "eastward_sea_water_velocity_phase", "degrees", fx.Field.UPhase},
		{"v_phase", "northward_sea_water_velocity_phase", "degrees", fx.Field.VPhase},
	}
	omitted := func(std string) bool { return slices.Contains(opts.Omit, std) }

	for _, hv := range harmonic {
		if omitted(hv.std) {
			continue
		}
		h.AddVariable(hv.name, hdims, []float32{0})
		h.AddAttribute(hv.name, "standard_name", hv.std)
		h.AddAttribute(hv.name, "units", hv.units)
		h.AddAttribute(hv.name, "mesh", mesh)
		h.AddAttribute(hv.name, "location", string(opts.Location))
		h.AddAttribute(hv.name, "_FillValue", []float32{opts.FillValue})
	}
	if !omitted("tide_constituent") {
		h.AddVariable("tidenames", []string{tideDim, "namelen"}, []byte{0})
		h.AddAttribute("tidenames", "standard_name", "tide_constituent")
		h.AddAttribute("tidenames", "long_name", "name of tidal constituent")
	}
	if !omitted("tide_frequency") {
		h.AddVariable("tidefreqs", []string{tideDim}, []float64{0})
		h.AddAttribute("tidefreqs", "standard_name", "tide_frequency")
		h.AddAttribute("tidefreqs", "units", "radians/second")
	}
	h.Define()

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("sourcetest: create %s: %w", path, err)
	}
	defer f.Close()

	cf, err := cdf.Create(f, h)
	if err != nil {
		return nil, fmt.Errorf("sourcetest: write header: %w", err)
	}

	write := func(v string, data any) error {
		end := cf.Header.Lengths(v)
		start := make([]int, len(end))
		if _, err := cf.Writer(v, start, end).Write(data); err != nil {
			return fmt.Errorf("sourcetest: write %s: %w", v, err)
		}
		return nil
	}

	if err := write(nodeLon, fx.Mesh.Nodes.Lon); err != nil {
		return nil, err
	}
	if err := write(nodeLat, fx.Mesh.Nodes.Lat); err != nil {
		return nil, err
	}
	if opts.Location == domain.LocationFace {
		conn := make([]int32, 0, fx.Mesh.Faces.Len()*3)
		for i := range fx.Mesh.Faces.Len() {
			conn = append(conn, int32(i), int32(i+1), int32(i+2))
		}
		if err := write(faceNodes, conn); err != nil {
			return nil, err
		}
		if opts.FaceCoordinates {
			if err := write(faceLon, fx.Mesh.Faces.Lon); err != nil {
				return nil, err
			}
			if err := write(faceLat, fx.Mesh.Faces.Lat); err != nil {
				return nil, err
			}
		}
	}

	for _, hv := range harmonic {
		if omitted(hv.std) {
			continue
		}
		if err := write(hv.name, stored(hv.data, ntides, nlocs, opts)); err != nil {
			return nil, err
		}
	}
	if !omitted("tide_constituent") {
		if err := write("tidenames", constituent.EncodeNames(opts.Names, opts.NameWidth)); err != nil {
			return nil, err
		}
	}
	if !omitted("tide_frequency") {
		if err := write("tidefreqs", fx.Frequencies); err != nil {
			return nil, err
		}
	}
	return fx, nil
}

// stored converts canonical values to the on-disk float32 layout, writing
// NaN as the fill value.
func stored(canonical []float64, ntides, nlocs int, opts Options) []float32 {
	out := make([]float32, len(canonical))
	for i := range ntides {
		for j := range nlocs {
			v := float32(canonical[i*nlocs+j])
			if math.IsNaN(canonical[i*nlocs+j]) {
				v = opts.FillValue
			}
			if opts.Transposed {
				out[j*ntides+i] = v
			} else {
				out[i*nlocs+j] = v
			}
		}
	}
	return out
}

func frequencies(names []string) []float64 {
	tbl, _ := constituent.Default()
	out := make([]float64, len(names))
	for i, name := range names {
		if tbl != nil {
			if c, ok := tbl.Lookup(constituent.Normalize(name)); ok {
				out[i] = c.Speed * math.Pi / 180 / 3600
				continue
			}
		}
		out[i] = 1e-4 * float64(i+1)
	}
	return out
}

// meshFor lays nodes out on a 0.1 degree grid ten columns wide. Face meshes
// get a strip of triangles (i, i+1, i+2).
func meshFor(opts Options) domain.MeshTopology {
	nnodes := opts.NLocs
	if opts.Location == domain.LocationFace {
		nnodes = opts.NLocs + 2
	}
	m := domain.MeshTopology{Name: opts.Mesh}
	for j := range nnodes {
		m.Nodes.Lon = append(m.Nodes.Lon, -70+0.1*float64(j%10))
		m.Nodes.Lat = append(m.Nodes.Lat, 40+0.1*float64(j/10))
	}
	if opts.Location == domain.LocationFace {
		for i := range opts.NLocs {
			m.Faces.Lon = append(m.Faces.Lon, (m.Nodes.Lon[i]+m.Nodes.Lon[i+1]+m.Nodes.Lon[i+2])/3)
			m.Faces.Lat = append(m.Faces.Lat, (m.Nodes.Lat[i]+m.Nodes.Lat[i+1]+m.Nodes.Lat[i+2])/3)
		}
	}
	return m
}

// fieldFor generates canonical data with NaN at the missing cells. Values are
// rounded through float32 so they compare equal to what a reader decodes.
func fieldFor(opts Options) domain.HarmonicField {
	f := domain.NewHarmonicField(opts.NTides, opts.NLocs)
	for i := range opts.NTides {
		for j := range opts.NLocs {
			ua, va, up, vp := opts.Amplitude(i, j)
			k := i*opts.NLocs + j
			f.UAmp[k] = float64(float32(ua))
			f.VAmp[k] = float64(float32(va))
			f.UPhase[k] = float64(float32(up))
			f.VPhase[k] = float64(float32(vp))
		}
	}
	for _, m := range opts.Missing {
		k := m[0]*opts.NLocs + m[1]
		f.UAmp[k], f.VAmp[k], f.UPhase[k], f.VPhase[k] = math.NaN(), math.NaN(), math.NaN(), math.NaN()
	}
	return f
}
