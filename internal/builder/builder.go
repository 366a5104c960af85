// Package builder repacks a source harmonic dataset into a cache file.
package builder

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/couchcryptid/tidal-current-service/internal/cachefile"
	"github.com/couchcryptid/tidal-current-service/internal/constituent"
	"github.com/couchcryptid/tidal-current-service/internal/domain"
	"github.com/couchcryptid/tidal-current-service/internal/observability"
	"github.com/couchcryptid/tidal-current-service/internal/source"
)

// Result describes a built cache.
type Result struct {
	Target      string
	NTides      int
	NLocs       int
	Mesh        string
	Location    domain.Location
	Orientation domain.Orientation
	Names       []string
	Bytes       int64
	Duration    time.Duration
}

// Builder writes caches. It always rebuilds; whether a rebuild is needed is
// decided by the caller.
type Builder struct {
	opts    cachefile.WriterOptions
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates a Builder.
func New(opts cachefile.WriterOptions, logger *slog.Logger, metrics *observability.Metrics) *Builder {
	return &Builder{opts: opts, logger: logger, metrics: metrics}
}

// layout is what the builder learned about the source before writing.
type layout struct {
	vars    source.HarmonicVariables
	topo    domain.MeshTopology
	loc     domain.Location
	coords  domain.Coordinates
	orient  domain.Orientation
	ntides  int
	nlocs   int
	names   []byte // repacked to domain.NameWidth
	freqs   []float64
	decoded []string
	target  string
}

// Build reads sourcePath and writes the cache to target. Source problems are
// returned as *domain.FormatError or *domain.MissingVariableError and leave
// the file system untouched; write failures are *domain.CacheWriteError and
// leave any previous cache at target in place.
func (b *Builder) Build(sourcePath, target string) (Result, error) {
	start := time.Now()

	ds, err := source.Open(sourcePath)
	if err != nil {
		return Result{}, err
	}
	defer ds.Close()

	lay, err := inspect(ds)
	if err != nil {
		return Result{}, err
	}
	lay.target = target
	if lay.orient.Transposed {
		b.logger.Info("source stored location-major, transposing",
			"source", sourcePath, "rule", lay.orient.Rule, "ntides", lay.ntides, "nlocs", lay.nlocs)
	}

	w, err := cachefile.Create(target, b.opts)
	if err != nil {
		return Result{}, &domain.CacheWriteError{Target: target, Err: err}
	}
	defer w.Abort()

	if err := b.write(ds, w, lay); err != nil {
		return Result{}, err
	}
	if err := w.Commit(); err != nil {
		return Result{}, &domain.CacheWriteError{Target: target, Err: err}
	}

	res := Result{
		Target:      target,
		NTides:      lay.ntides,
		NLocs:       lay.nlocs,
		Mesh:        lay.topo.Name,
		Location:    lay.loc,
		Orientation: lay.orient,
		Names:       lay.decoded,
		Duration:    time.Since(start),
	}
	if fi, err := os.Stat(target); err == nil {
		res.Bytes = fi.Size()
	}
	b.logger.Info("cache build finished",
		"source", sourcePath, "target", target, "ntides", res.NTides, "nlocs", res.NLocs,
		"location", res.Location, "bytes", res.Bytes, "duration", res.Duration)
	return res, nil
}

// inspect locates and validates everything needed before the first byte is
// written.
func inspect(ds source.Dataset) (layout, error) {
	vars, err := source.FindHarmonicVariables(ds)
	if err != nil {
		return layout{}, err
	}
	topo, loc, coords, err := source.LoadLocation(ds, vars.UAmp)
	if err != nil {
		return layout{}, err
	}

	shape := ds.Shape(vars.UAmp)
	orient, err := source.Orient(ds.Dimensions(vars.UAmp), shape)
	if err != nil {
		return layout{}, domain.NewFormatError(ds.Path(), vars.UAmp, err)
	}
	lay := layout{vars: vars, topo: topo, loc: loc, coords: coords, orient: orient}
	lay.ntides, lay.nlocs = shape[0], shape[1]
	if orient.Transposed {
		lay.ntides, lay.nlocs = shape[1], shape[0]
	}

	for _, v := range vars.Harmonic()[1:] {
		if got := ds.Shape(v); len(got) != 2 || got[0] != shape[0] || got[1] != shape[1] {
			return layout{}, domain.NewFormatError(ds.Path(),
				fmt.Sprintf("variable %s has shape %v, %s has %v", v, got, vars.UAmp, shape), nil)
		}
	}
	if coords.Len() != lay.nlocs {
		return layout{}, domain.NewFormatError(ds.Path(),
			fmt.Sprintf("%d %s coordinates for %d harmonic locations", coords.Len(), loc, lay.nlocs), nil)
	}

	raw, width, err := ds.ReadChars(vars.Names)
	if err != nil {
		return layout{}, domain.NewFormatError(ds.Path(), "constituent names", err)
	}
	if width == 0 || len(raw) != lay.ntides*width {
		return layout{}, domain.NewFormatError(ds.Path(),
			fmt.Sprintf("%s holds %d bytes, want %d rows", vars.Names, len(raw), lay.ntides), nil)
	}
	lay.names = repack(raw, width, domain.NameWidth)
	lay.decoded = constituent.DecodeNames(lay.names, domain.NameWidth)

	if got := ds.Shape(vars.Frequencies); len(got) != 1 || got[0] != lay.ntides {
		return layout{}, domain.NewFormatError(ds.Path(),
			fmt.Sprintf("%s has shape %v, want [%d]", vars.Frequencies, got, lay.ntides), nil)
	}
	lay.freqs, err = ds.ReadSlab(vars.Frequencies, nil, nil)
	if err != nil {
		return layout{}, domain.NewFormatError(ds.Path(), "constituent frequencies", err)
	}
	return lay, nil
}

func (b *Builder) write(ds source.Dataset, w *cachefile.Writer, lay layout) error {
	wrap := func(err error) error { return &domain.CacheWriteError{Target: lay.target, Err: err} }
	mesh := lay.topo.Name
	locDim := domain.LocationDim(mesh, lay.loc)

	w.SetAttributes(globalAttributes(ds, lay))
	for _, d := range []cachefile.Dimension{
		{Name: domain.DimTides, Len: lay.ntides},
		{Name: domain.DimNameLen, Len: domain.NameWidth},
		{Name: locDim, Len: lay.nlocs},
	} {
		if err := w.AddDimension(d.Name, d.Len); err != nil {
			return wrap(err)
		}
	}

	for k, src := range lay.vars.Harmonic() {
		if err := b.writeHarmonic(ds, w, lay, domain.HarmonicVariables[k], src); err != nil {
			return err
		}
	}

	if err := w.WriteChars(cachefile.VarSpec{
		Name:       domain.CacheNames,
		Dims:       []string{domain.DimTides, domain.DimNameLen},
		Attributes: ds.Attributes(lay.vars.Names),
	}, lay.names); err != nil {
		return wrap(err)
	}
	if err := w.WriteVar(cachefile.VarSpec{
		Name:       domain.CacheFreqs,
		DType:      cachefile.Float64,
		Dims:       []string{domain.DimTides},
		Attributes: ds.Attributes(lay.vars.Frequencies),
	}, lay.freqs); err != nil {
		return wrap(err)
	}

	for _, set := range []struct {
		loc    domain.Location
		coords domain.Coordinates
	}{
		{domain.LocationNode, lay.topo.Nodes},
		{domain.LocationFace, lay.topo.Faces},
		{domain.LocationEdge, lay.topo.Edges},
	} {
		if set.coords.Len() == 0 {
			continue
		}
		if err := writeCoordinates(w, mesh, set.loc, set.coords); err != nil {
			return wrap(err)
		}
	}
	return nil
}

// writeHarmonic streams one harmonic variable into the cache, one constituent
// row at a time. A transposed source is read a column at a time instead.
func (b *Builder) writeHarmonic(ds source.Dataset, w *cachefile.Writer, lay layout, name, src string) error {
	spec := cachefile.VarSpec{
		Name:       name,
		DType:      cachefile.Float64,
		Dims:       []string{domain.DimTides, domain.LocationDim(lay.topo.Name, lay.loc)},
		ChunkShape: cachefile.DefaultChunkShape(lay.ntides, lay.nlocs),
	}
	// single precision sources stay single precision; everything else widens
	if ds.DataType(src) == "float" {
		spec.DType = cachefile.Float32
	}
	for _, a := range ds.Attributes(src) {
		if a.Name != "_FillValue" {
			spec.Attributes = append(spec.Attributes, a)
		}
	}
	if fill, ok := source.FillValue(ds, src); ok {
		spec.FillValue = &fill
	}

	rw, err := w.Rows(spec)
	if err != nil {
		return &domain.CacheWriteError{Target: lay.target, Err: err}
	}
	for i := range lay.ntides {
		begin, end := []int{i, 0}, []int{i + 1, lay.nlocs}
		if lay.orient.Transposed {
			begin, end = []int{0, i}, []int{lay.nlocs, i + 1}
		}
		row, err := ds.ReadSlab(src, begin, end)
		if err != nil {
			_ = rw.Close()
			return domain.NewFormatError(ds.Path(), fmt.Sprintf("read %s row %d", src, i), err)
		}
		if err := rw.WriteRow(row); err != nil {
			_ = rw.Close()
			return &domain.CacheWriteError{Target: lay.target, Err: err}
		}
		b.logger.Debug("harmonic row written", "variable", name, "row", i)
	}
	if err := rw.Close(); err != nil {
		return &domain.CacheWriteError{Target: lay.target, Err: err}
	}
	b.metrics.CacheRowsWritten.Add(float64(lay.ntides))
	return nil
}

func writeCoordinates(w *cachefile.Writer, mesh string, loc domain.Location, c domain.Coordinates) error {
	dim := domain.LocationDim(mesh, loc)
	if err := w.AddDimension(dim, c.Len()); err != nil {
		return err
	}
	lon, lat := domain.CoordinateVariables(mesh, loc)
	if err := w.WriteVar(cachefile.VarSpec{
		Name:  lon,
		DType: cachefile.Float64,
		Dims:  []string{dim},
		Attributes: []domain.Attribute{
			{Name: "standard_name", Type: "string", Text: "longitude"},
			{Name: "units", Type: "string", Text: "degrees_east"},
		},
	}, c.Lon); err != nil {
		return err
	}
	return w.WriteVar(cachefile.VarSpec{
		Name:  lat,
		DType: cachefile.Float64,
		Dims:  []string{dim},
		Attributes: []domain.Attribute{
			{Name: "standard_name", Type: "string", Text: "latitude"},
			{Name: "units", Type: "string", Text: "degrees_north"},
		},
	}, c.Lat)
}

func globalAttributes(ds source.Dataset, lay layout) []domain.Attribute {
	own := map[string]bool{
		domain.AttrSource: true, domain.AttrBuiltAt: true, domain.AttrMesh: true,
		domain.AttrLocation: true, domain.AttrOrientationRule: true, domain.AttrTransposed: true,
	}
	var attrs []domain.Attribute
	for _, a := range ds.GlobalAttributes() {
		if !own[a.Name] {
			attrs = append(attrs, a)
		}
	}
	text := func(name, val string) domain.Attribute {
		return domain.Attribute{Name: name, Type: "string", Text: val}
	}
	return append(attrs,
		text(domain.AttrSource, ds.Path()),
		text(domain.AttrBuiltAt, domain.Now().Format(time.RFC3339)),
		text(domain.AttrMesh, lay.topo.Name),
		text(domain.AttrLocation, string(lay.loc)),
		text(domain.AttrOrientationRule, lay.orient.Rule),
		text(domain.AttrTransposed, strconv.FormatBool(lay.orient.Transposed)),
	)
}

// repack copies fixed-width character rows into rows of width out, padding
// with NUL and truncating longer rows.
func repack(raw []byte, in, out int) []byte {
	rows := len(raw) / in
	packed := make([]byte, rows*out)
	for r := range rows {
		copy(packed[r*out:(r+1)*out], raw[r*in:(r+1)*in])
	}
	return packed
}
