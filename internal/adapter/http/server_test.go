package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/couchcryptid/tidal-current-service/internal/adapter/http"
	"github.com/couchcryptid/tidal-current-service/internal/domain"
	"github.com/couchcryptid/tidal-current-service/internal/observability"
	"github.com/couchcryptid/tidal-current-service/internal/pipeline"
)

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

// fakeQueries records the last query and answers from fixed values.
type fakeQueries struct {
	last   pipeline.Query
	field  domain.VectorField
	rng    domain.MagnitudeRange
	err    error
	descr  pipeline.Description
	called int
}

func (f *fakeQueries) Vectors(_ context.Context, q pipeline.Query) (domain.VectorField, error) {
	f.last = q
	f.called++
	return f.field, f.err
}

func (f *fakeQueries) MinMax(_ context.Context, q pipeline.Query) (domain.MagnitudeRange, error) {
	f.last = q
	f.called++
	return f.rng, f.err
}

func (f *fakeQueries) FeatureInfo(_ context.Context, q pipeline.Query) error {
	f.last = q
	f.called++
	return &domain.UnsupportedOperationError{Operation: pipeline.OpFeatureInfo}
}

func (f *fakeQueries) Describe(name string) (pipeline.Description, error) {
	f.called++
	if f.err != nil {
		return pipeline.Description{}, f.err
	}
	d := f.descr
	d.Name = name
	return d, nil
}

func newTestServer(readyErr error) *httpadapter.Server {
	return httpadapter.NewServer(":0", &mockReadiness{err: readyErr}, nil, httpadapter.Options{}, slog.Default())
}

func newQueryServer(q *fakeQueries, opts httpadapter.Options) *httpadapter.Server {
	return httpadapter.NewServer(":0", &mockReadiness{}, q, opts, slog.Default())
}

func get(t *testing.T, srv http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthzReturns200(t *testing.T) {
	rec := get(t, newTestServer(nil), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	rec := get(t, newTestServer(nil), "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	rec := get(t, newTestServer(fmt.Errorf("cache dir missing")), "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := get(t, newTestServer(nil), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestDatasetRoutesAbsentWithoutQueries(t *testing.T) {
	rec := get(t, newTestServer(nil), "/datasets/bay/vectors")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVectors_ParsesParameters(t *testing.T) {
	q := &fakeQueries{field: domain.VectorField{
		U:   []float64{0.5, math.NaN()},
		V:   []float64{-0.25, math.NaN()},
		Lon: []float64{-70.1, -70.2},
		Lat: []float64{42.1, 42.2},
	}}
	srv := newQueryServer(q, httpadapter.Options{})

	rec := get(t, srv, "/datasets/bay/vectors?time=2024-03-01T06:00:00Z&bbox=-71,41,-69,43&vectorscale=2&vectorstep=3&image_type=vectors")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	assert.Equal(t, "bay", q.last.Dataset)
	assert.Equal(t, time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC), q.last.Time)
	assert.Equal(t, domain.BBox{MinLon: -71, MinLat: 41, MaxLon: -69, MaxLat: 43}, q.last.BBox)
	assert.InDelta(t, 2.0, q.last.VectorScale, 0)
	assert.Equal(t, 3, q.last.VectorStep)
	assert.Equal(t, "vectors", q.last.ImageType)

	var body struct {
		Dataset string     `json:"dataset"`
		Count   int        `json:"count"`
		U       []*float64 `json:"u"`
		V       []*float64 `json:"v"`
		Lon     []float64  `json:"lon"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "bay", body.Dataset)
	assert.Equal(t, 2, body.Count)
	require.Len(t, body.U, 2)
	require.NotNil(t, body.U[0])
	assert.InDelta(t, 0.5, *body.U[0], 0)
	assert.Nil(t, body.U[1], "NaN encodes as null")
	assert.Nil(t, body.V[1])
	assert.Equal(t, []float64{-70.1, -70.2}, body.Lon)
}

func TestVectors_DefaultsLeaveTimeToService(t *testing.T) {
	q := &fakeQueries{}
	rec := get(t, newQueryServer(q, httpadapter.Options{}), "/datasets/bay/vectors")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.True(t, q.last.Time.IsZero())
	assert.Equal(t, domain.BBox{MinLon: -180, MinLat: -90, MaxLon: 180, MaxLat: 90}, q.last.BBox)
	assert.Zero(t, q.last.VectorStep)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []any{}, body["u"])
}

func TestVectors_BadParameters(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"time", "time=yesterday"},
		{"bbox arity", "bbox=1,2,3"},
		{"bbox number", "bbox=a,2,3,4"},
		{"bbox inverted", "bbox=10,0,0,10"},
		{"scale", "vectorscale=-1"},
		{"scale nan", "vectorscale=NaN"},
		{"step", "vectorstep=0"},
		{"step text", "vectorstep=two"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &fakeQueries{}
			rec := get(t, newQueryServer(q, httpadapter.Options{}), "/datasets/bay/vectors?"+tt.query)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Zero(t, q.called, "service must not be reached")

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestMinMax_NullWhenEmpty(t *testing.T) {
	q := &fakeQueries{rng: domain.MagnitudeRange{Min: math.NaN(), Max: math.NaN()}}
	rec := get(t, newQueryServer(q, httpadapter.Options{}), "/datasets/bay/minmax?bbox=0,0,1,1")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Nil(t, body["min"])
	assert.Nil(t, body["max"])
	assert.InDelta(t, 0.0, body["count"], 0)
}

func TestMinMax_Values(t *testing.T) {
	q := &fakeQueries{rng: domain.MagnitudeRange{Min: 0.1, Max: 1.5, Count: 4}}
	rec := get(t, newQueryServer(q, httpadapter.Options{}), "/datasets/bay/minmax")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.InDelta(t, 0.1, body["min"], 1e-12)
	assert.InDelta(t, 1.5, body["max"], 1e-12)
	assert.InDelta(t, 4.0, body["count"], 0)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", fmt.Errorf("open bay: %w", domain.ErrDatasetNotFound), http.StatusNotFound},
		{"unsupported", &domain.UnsupportedOperationError{Operation: "image type raster"}, http.StatusNotImplemented},
		{"internal", fmt.Errorf("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &fakeQueries{err: tt.err}
			rec := get(t, newQueryServer(q, httpadapter.Options{}), "/datasets/bay/vectors")
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestInternalErrorHidesDetail(t *testing.T) {
	q := &fakeQueries{err: fmt.Errorf("open /srv/cache/bay.nc: permission denied")}
	rec := get(t, newQueryServer(q, httpadapter.Options{}), "/datasets/bay/minmax")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "/srv/cache")
}

func TestFeatureInfoNotImplemented(t *testing.T) {
	q := &fakeQueries{}
	rec := get(t, newQueryServer(q, httpadapter.Options{}), "/datasets/bay/featureinfo")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
	assert.Equal(t, "bay", q.last.Dataset)
}

func TestDescribe(t *testing.T) {
	q := &fakeQueries{descr: pipeline.Description{
		Kind:         pipeline.DatasetKind,
		NTides:       2,
		NLocs:        20,
		Location:     domain.LocationNode,
		Constituents: []string{"M2", "S2"},
	}}
	rec := get(t, newQueryServer(q, httpadapter.Options{}), "/datasets/bay")
	require.Equal(t, http.StatusOK, rec.Code)

	var d pipeline.Description
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.Equal(t, "bay", d.Name)
	assert.Equal(t, "UTIDES", d.Kind)
	assert.Equal(t, []string{"M2", "S2"}, d.Constituents)
}

func TestDescribeNotFound(t *testing.T) {
	q := &fakeQueries{err: domain.ErrDatasetNotFound}
	rec := get(t, newQueryServer(q, httpadapter.Options{}), "/datasets/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimit(t *testing.T) {
	m := observability.NewMetricsForTesting()
	q := &fakeQueries{}
	srv := newQueryServer(q, httpadapter.Options{RateLimit: 0.001, RateBurst: 2, Metrics: m})

	assert.Equal(t, http.StatusOK, get(t, srv, "/datasets/bay/vectors").Code)
	assert.Equal(t, http.StatusOK, get(t, srv, "/datasets/bay/minmax").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(t, srv, "/datasets/bay/vectors").Code)
	assert.Equal(t, 2, q.called)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.QueryRateLimited), 0)

	// health endpoints are never limited
	assert.Equal(t, http.StatusOK, get(t, srv, "/healthz").Code)
}
