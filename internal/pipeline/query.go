package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/couchcryptid/tidal-current-service/internal/cachefile"
	"github.com/couchcryptid/tidal-current-service/internal/domain"
	"github.com/couchcryptid/tidal-current-service/internal/observability"
	"github.com/couchcryptid/tidal-current-service/internal/spatial"
	"github.com/couchcryptid/tidal-current-service/internal/synth"
)

// Query operations, used as metric labels.
const (
	OpVectors     = "vectors"
	OpMinMax      = "minmax"
	OpFeatureInfo = "featureinfo"
)

// Query selects a reconstruction.
type Query struct {
	Dataset     string
	Time        time.Time // zero means now
	BBox        domain.BBox
	VectorScale float64 // default 1
	VectorStep  int     // default 1
	// ImageType is the requested rendering; only vectors can be produced.
	ImageType string
}

func (q Query) withDefaults() Query {
	if q.Time.IsZero() {
		q.Time = domain.Now()
	}
	if q.VectorScale == 0 {
		q.VectorScale = 1
	}
	if q.VectorStep == 0 {
		q.VectorStep = 1
	}
	return q
}

func (q Query) checkImageType() error {
	switch strings.ToLower(q.ImageType) {
	case "", "vectors":
		return nil
	default:
		return &domain.UnsupportedOperationError{
			Operation: "image type " + q.ImageType,
			Detail:    "harmonic current datasets render as vectors only",
		}
	}
}

// Layer is the virtual vector layer a dataset exposes.
type Layer struct {
	Name         string `json:"name"`
	StandardName string `json:"standard_name"`
	Units        string `json:"units"`
	Description  string `json:"description"`
	Style        string `json:"style"`
}

// Description summarises a cached dataset.
type Description struct {
	Name         string          `json:"name"`
	Kind         string          `json:"kind"`
	Layers       []Layer         `json:"layers"`
	NTides       int             `json:"ntides"`
	NLocs        int             `json:"nlocs"`
	Location     domain.Location `json:"location"`
	Mesh         string          `json:"mesh"`
	Constituents []string        `json:"constituents"`
	Source       string          `json:"source,omitempty"`
	BuiltAt      string          `json:"built_at,omitempty"`
}

// DatasetKind is reported for every cached dataset.
const DatasetKind = "UTIDES"

var currentLayer = Layer{
	Name:         "u,v",
	StandardName: "barotropic_sea_water_velocity",
	Units:        "m/s",
	Description:  "depth averaged tidal current reconstructed from harmonic constituents",
	Style:        "vectors_cubehelix",
}

// openDataset is a memoised cache with everything a query needs. refs counts
// queries in flight; a retired dataset closes when the last one finishes.
type openDataset struct {
	name    string
	file    *cachefile.File
	info    fs.FileInfo
	set     domain.ConstituentSet
	mask    []bool
	matched []string
	coords  domain.Coordinates
	index   *spatial.Index
	mesh    string
	loc     domain.Location

	refs    int
	retired bool
}

// QueryService answers reconstruction queries against caches in a directory.
// It is safe for concurrent use.
type QueryService struct {
	cacheDir   string
	synth      *synth.Synthesizer
	logger     *slog.Logger
	metrics    *observability.Metrics
	chunkCache int

	mu   sync.Mutex
	open map[string]*openDataset
}

// NewQueryService creates a QueryService. chunkCache bounds the decoded
// chunks kept per open cache.
func NewQueryService(cacheDir string, s *synth.Synthesizer, chunkCache int, logger *slog.Logger, metrics *observability.Metrics) *QueryService {
	return &QueryService{
		cacheDir:   cacheDir,
		synth:      s,
		logger:     logger,
		metrics:    metrics,
		chunkCache: chunkCache,
		open:       make(map[string]*openDataset),
	}
}

// CheckReadiness reports whether the cache directory is reachable.
func (q *QueryService) CheckReadiness(_ context.Context) error {
	fi, err := os.Stat(q.cacheDir)
	if err != nil {
		return fmt.Errorf("cache directory: %w", err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("cache directory %s is not a directory", q.cacheDir)
	}
	return nil
}

// NearestTime returns the closest time the dataset can answer for. Harmonic
// data has no time axis, so every instant is available.
func (q *QueryService) NearestTime(t time.Time) time.Time { return t }

// Vectors reconstructs the current field inside the padded query box.
func (q *QueryService) Vectors(ctx context.Context, query Query) (vf domain.VectorField, err error) {
	defer q.observe(OpVectors, time.Now(), &err)
	if err := query.checkImageType(); err != nil {
		return domain.VectorField{}, err
	}
	return q.vectors(ctx, query.withDefaults())
}

// MinMax returns the range of current speed inside the padded query box.
func (q *QueryService) MinMax(ctx context.Context, query Query) (r domain.MagnitudeRange, err error) {
	defer q.observe(OpMinMax, time.Now(), &err)
	vf, err := q.vectors(ctx, query.withDefaults())
	if err != nil {
		return domain.MagnitudeRange{}, err
	}
	return synth.MagnitudeRange(vf), nil
}

// FeatureInfo is not available for harmonic current datasets.
func (q *QueryService) FeatureInfo(_ context.Context, query Query) (err error) {
	defer q.observe(OpFeatureInfo, time.Now(), &err)
	return &domain.UnsupportedOperationError{Operation: "feature info", Detail: query.Dataset}
}

func (q *QueryService) vectors(ctx context.Context, query Query) (domain.VectorField, error) {
	if err := query.BBox.Validate(); err != nil {
		return domain.VectorField{}, fmt.Errorf("invalid query: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return domain.VectorField{}, err
	}
	ds, err := q.acquire(query.Dataset)
	if err != nil {
		return domain.VectorField{}, err
	}
	defer q.release(ds)

	indices := ds.index.Subset(query.BBox, query.VectorScale, query.VectorStep)
	q.metrics.SubsetSize.Observe(float64(len(indices)))
	return q.synth.Vectors(ds.file, ds.set, ds.mask, indices, ds.coords, query.Time)
}

// Describe summarises a cached dataset.
func (q *QueryService) Describe(name string) (Description, error) {
	ds, err := q.acquire(name)
	if err != nil {
		return Description{}, err
	}
	defer q.release(ds)

	d := Description{
		Name:         ds.name,
		Kind:         DatasetKind,
		Layers:       []Layer{currentLayer},
		NTides:       ds.set.Len(),
		NLocs:        ds.coords.Len(),
		Location:     ds.loc,
		Mesh:         ds.mesh,
		Constituents: ds.matched,
	}
	if a, ok := ds.file.Attribute(domain.AttrSource); ok {
		d.Source = a.Text
	}
	if a, ok := ds.file.Attribute(domain.AttrBuiltAt); ok {
		d.BuiltAt = a.Text
	}
	return d, nil
}

// Close closes every open cache.
func (q *QueryService) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	var errs []error
	for name, ds := range q.open {
		delete(q.open, name)
		ds.retired = true
		if ds.refs == 0 {
			errs = append(errs, ds.file.Close())
		}
	}
	return errors.Join(errs...)
}

func (q *QueryService) observe(op string, start time.Time, err *error) {
	outcome := "success"
	var unsupported *domain.UnsupportedOperationError
	switch {
	case errors.As(*err, &unsupported):
		outcome = "unsupported"
	case *err != nil:
		outcome = "error"
	}
	q.metrics.SynthesisRequests.WithLabelValues(op, outcome).Inc()
	q.metrics.SynthesisDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// acquire returns the open dataset, reopening it when the file on disk has
// been replaced since it was memoised.
func (q *QueryService) acquire(name string) (*openDataset, error) {
	if !domain.ValidDatasetName(name) {
		return nil, fmt.Errorf("%w: %q", domain.ErrDatasetNotFound, name)
	}
	path := CachePath(q.cacheDir, name)
	fi, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", domain.ErrDatasetNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("stat cache %s: %w", name, err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if ds, ok := q.open[name]; ok {
		// a rebuild renames a new file into place
		if os.SameFile(ds.info, fi) && ds.info.ModTime().Equal(fi.ModTime()) {
			ds.refs++
			return ds, nil
		}
		q.logger.Info("cache changed on disk, reopening", "dataset", name)
		delete(q.open, name)
		ds.retired = true
		if ds.refs == 0 {
			_ = ds.file.Close()
		}
	}

	ds, err := q.load(name, path, fi)
	if err != nil {
		return nil, err
	}
	q.open[name] = ds
	ds.refs++
	return ds, nil
}

func (q *QueryService) release(ds *openDataset) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ds.refs--
	if ds.retired && ds.refs == 0 {
		_ = ds.file.Close()
	}
}

func (q *QueryService) load(name, path string, info fs.FileInfo) (*openDataset, error) {
	f, err := cachefile.Open(path, cachefile.WithChunkCache(q.chunkCache), cachefile.WithObserver(q.metrics))
	if err != nil {
		return nil, fmt.Errorf("open cache %s: %w", name, err)
	}
	ds, err := describeCache(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("open cache %s: %w", name, err)
	}
	ds.name = name
	ds.info = info
	ds.matched, ds.mask = q.synth.Match(ds.set)

	q.logger.Info("cache opened", "dataset", name, "ntides", ds.set.Len(), "nlocs", ds.coords.Len(),
		"matched", len(ds.matched), "location", ds.loc)
	return ds, nil
}

// describeCache reads the constituents and coordinates of a cache and indexes
// the coordinates.
func describeCache(f *cachefile.File) (*openDataset, error) {
	meshAttr, ok := f.Attribute(domain.AttrMesh)
	if !ok {
		return nil, errors.New("no mesh attribute")
	}
	locAttr, ok := f.Attribute(domain.AttrLocation)
	if !ok {
		return nil, errors.New("no location attribute")
	}
	loc, err := domain.ParseLocation(locAttr.Text)
	if err != nil {
		return nil, err
	}

	set, err := synth.Constituents(f)
	if err != nil {
		return nil, err
	}
	lonVar, latVar := domain.CoordinateVariables(meshAttr.Text, loc)
	lon, err := f.ReadVar(lonVar)
	if err != nil {
		return nil, err
	}
	lat, err := f.ReadVar(latVar)
	if err != nil {
		return nil, err
	}
	if u, ok := f.Variable(domain.CacheU); !ok || len(u.Shape) != 2 || u.Shape[1] != len(lon) {
		return nil, fmt.Errorf("harmonic variables do not match %d coordinates", len(lon))
	}
	index, err := spatial.NewIndex(lon, lat)
	if err != nil {
		return nil, err
	}
	return &openDataset{
		file:   f,
		set:    set,
		coords: domain.Coordinates{Lon: lon, Lat: lat},
		index:  index,
		mesh:   meshAttr.Text,
		loc:    loc,
	}, nil
}
