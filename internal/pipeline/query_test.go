package pipeline_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/tidal-current-service/internal/builder"
	"github.com/couchcryptid/tidal-current-service/internal/cachefile"
	"github.com/couchcryptid/tidal-current-service/internal/constituent"
	"github.com/couchcryptid/tidal-current-service/internal/domain"
	"github.com/couchcryptid/tidal-current-service/internal/nodal"
	"github.com/couchcryptid/tidal-current-service/internal/observability"
	"github.com/couchcryptid/tidal-current-service/internal/pipeline"
	"github.com/couchcryptid/tidal-current-service/internal/source/sourcetest"
	"github.com/couchcryptid/tidal-current-service/internal/synth"
)

// unitCorrector leaves every constituent uncorrected.
type unitCorrector struct{}

func (unitCorrector) Correct(_ time.Time, cons []constituent.Constituent, _ float64) []nodal.Correction {
	out := make([]nodal.Correction, len(cons))
	for i := range out {
		out[i].F = 1
	}
	return out
}

var wholeGrid = domain.BBox{MinLon: -71, MinLat: 39, MaxLon: -69, MaxLat: 41}

type queryEnv struct {
	service  *pipeline.QueryService
	metrics  *observability.Metrics
	cacheDir string
	rebuild  func(scale float64)
}

// newQueryEnv builds a 20 node M2-only cache whose eastward amplitude at node
// j is scale·(j+1) with zero phase, so at the epoch U[j] = scale·(j+1), V = 0.
func newQueryEnv(t *testing.T) queryEnv {
	t.Helper()
	dir := t.TempDir()
	cacheDir := filepath.Join(dir, "cache")
	require.NoError(t, os.MkdirAll(cacheDir, 0o755))
	m := observability.NewMetricsForTesting()
	b := builder.New(cachefile.WriterOptions{}, slog.Default(), m)

	rebuild := func(scale float64) {
		fx, err := sourcetest.Write(filepath.Join(dir, "gom.nc"), sourcetest.Options{
			Names: []string{"M2", "XX9"},
			NLocs: 20,
			Amplitude: func(tide, loc int) (float64, float64, float64, float64) {
				if tide == 0 {
					return scale * float64(loc+1), 0, 0, 0
				}
				return 100, 100, 0, 0
			},
		})
		require.NoError(t, err)
		_, err = b.Build(fx.Path, pipeline.CachePath(cacheDir, "gom"))
		require.NoError(t, err)
	}
	rebuild(0.1)

	tbl, err := constituent.Default()
	require.NoError(t, err)
	s := synth.New(constituent.NewMatcher(tbl), unitCorrector{})
	svc := pipeline.NewQueryService(cacheDir, s, 16, slog.Default(), m)
	t.Cleanup(func() { _ = svc.Close() })
	return queryEnv{service: svc, metrics: m, cacheDir: cacheDir, rebuild: rebuild}
}

func TestQueryService_Vectors(t *testing.T) {
	env := newQueryEnv(t)

	vf, err := env.service.Vectors(context.Background(), pipeline.Query{
		Dataset: "gom", Time: nodal.ReferenceEpoch, BBox: wholeGrid,
	})
	require.NoError(t, err)
	require.Equal(t, 20, vf.Len())
	for j := range 20 {
		assert.InDelta(t, 0.1*float64(j+1), vf.U[j], 1e-6, "node %d", j)
		assert.InDelta(t, 0, vf.V[j], 1e-9)
	}
	assert.InDelta(t, -70, vf.Lon[0], 1e-9)
	assert.InDelta(t, 40.1, vf.Lat[10], 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(env.metrics.SynthesisRequests.WithLabelValues(pipeline.OpVectors, "success")), 0)
	assert.Positive(t, testutil.ToFloat64(env.metrics.ChunkCache.WithLabelValues("miss")))
}

func TestQueryService_VectorsSubset(t *testing.T) {
	env := newQueryEnv(t)

	box := domain.BBox{MinLon: -69.65, MinLat: 40.05, MaxLon: -69.55, MaxLat: 40.15}
	vf, err := env.service.Vectors(context.Background(), pipeline.Query{
		Dataset: "gom", Time: nodal.ReferenceEpoch, BBox: box, VectorScale: 0.01, VectorStep: 1,
	})
	require.NoError(t, err)
	require.Positive(t, vf.Len())
	assert.Less(t, vf.Len(), 20)
	for j := range vf.Len() {
		assert.True(t, box.Expand(0.2).Contains(vf.Lon[j], vf.Lat[j]))
	}
}

func TestQueryService_DefaultTimeIsNow(t *testing.T) {
	domain.SetClock(clockwork.NewFakeClockAt(nodal.ReferenceEpoch))
	t.Cleanup(func() { domain.SetClock(nil) })
	env := newQueryEnv(t)

	vf, err := env.service.Vectors(context.Background(), pipeline.Query{Dataset: "gom", BBox: wholeGrid})
	require.NoError(t, err)
	assert.InDelta(t, 0.1, vf.U[0], 1e-6)
}

func TestQueryService_MinMax(t *testing.T) {
	env := newQueryEnv(t)

	r, err := env.service.MinMax(context.Background(), pipeline.Query{
		Dataset: "gom", Time: nodal.ReferenceEpoch, BBox: wholeGrid,
	})
	require.NoError(t, err)
	assert.Equal(t, 20, r.Count)
	assert.InDelta(t, 0.1, r.Min, 1e-6)
	assert.InDelta(t, 2.0, r.Max, 1e-6)
}

func TestQueryService_Unsupported(t *testing.T) {
	env := newQueryEnv(t)
	var ue *domain.UnsupportedOperationError

	// rejected before the dataset is looked up
	_, err := env.service.Vectors(context.Background(), pipeline.Query{Dataset: "absent", ImageType: "filledcontours"})
	require.ErrorAs(t, err, &ue)

	err = env.service.FeatureInfo(context.Background(), pipeline.Query{Dataset: "gom"})
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, domain.KindUnsupported, domain.ErrorKind(err))
	assert.InDelta(t, 1, testutil.ToFloat64(env.metrics.SynthesisRequests.WithLabelValues(pipeline.OpFeatureInfo, "unsupported")), 0)

	_, err = env.service.Vectors(context.Background(), pipeline.Query{Dataset: "gom", BBox: wholeGrid, ImageType: "Vectors"})
	require.NoError(t, err)
}

func TestQueryService_NotFound(t *testing.T) {
	env := newQueryEnv(t)

	for _, name := range []string{"absent", "../cache/gom", ""} {
		_, err := env.service.Vectors(context.Background(), pipeline.Query{Dataset: name, BBox: wholeGrid})
		require.ErrorIs(t, err, domain.ErrDatasetNotFound, name)
	}
	_, err := env.service.Describe("absent")
	require.ErrorIs(t, err, domain.ErrDatasetNotFound)
}

func TestQueryService_InvalidBBox(t *testing.T) {
	env := newQueryEnv(t)
	_, err := env.service.Vectors(context.Background(), pipeline.Query{
		Dataset: "gom", BBox: domain.BBox{MinLon: 1, MaxLon: 0},
	})
	require.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrDatasetNotFound))
}

func TestQueryService_Describe(t *testing.T) {
	env := newQueryEnv(t)

	d, err := env.service.Describe("gom")
	require.NoError(t, err)
	assert.Equal(t, "gom", d.Name)
	assert.Equal(t, pipeline.DatasetKind, d.Kind)
	assert.Equal(t, 2, d.NTides)
	assert.Equal(t, 20, d.NLocs)
	assert.Equal(t, domain.LocationNode, d.Location)
	assert.Equal(t, "adcirc_mesh", d.Mesh)
	assert.Equal(t, []string{"M2"}, d.Constituents)
	require.Len(t, d.Layers, 1)
	assert.Equal(t, "u,v", d.Layers[0].Name)
	assert.Equal(t, "vectors_cubehelix", d.Layers[0].Style)
	assert.NotEmpty(t, d.BuiltAt)
}

func TestQueryService_ReopensRebuiltCache(t *testing.T) {
	env := newQueryEnv(t)
	q := pipeline.Query{Dataset: "gom", Time: nodal.ReferenceEpoch, BBox: wholeGrid}

	vf, err := env.service.Vectors(context.Background(), q)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, vf.U[0], 1e-6)

	env.rebuild(0.5)

	vf, err = env.service.Vectors(context.Background(), q)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, vf.U[0], 1e-6)
}

func TestQueryService_Concurrent(t *testing.T) {
	env := newQueryEnv(t)
	q := pipeline.Query{Dataset: "gom", Time: nodal.ReferenceEpoch, BBox: wholeGrid}

	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = env.service.Vectors(context.Background(), q)
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
}

func TestQueryService_NearestTimeIsIdentity(t *testing.T) {
	env := newQueryEnv(t)
	at := time.Date(2031, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, at, env.service.NearestTime(at))
	require.NoError(t, env.service.CheckReadiness(context.Background()))
}
