package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/tidal-current-service/internal/domain"
	"github.com/couchcryptid/tidal-current-service/internal/pipeline"
)

// worldBBox is used when a request names no bbox.
var worldBBox = domain.BBox{MinLon: -180, MinLat: -90, MaxLon: 180, MaxLat: 90}

type vectorsResponse struct {
	Dataset string     `json:"dataset"`
	Time    time.Time  `json:"time"`
	Count   int        `json:"count"`
	U       nullFloats `json:"u"`
	V       nullFloats `json:"v"`
	Lon     nullFloats `json:"lon"`
	Lat     nullFloats `json:"lat"`
}

type minMaxResponse struct {
	Dataset string    `json:"dataset"`
	Time    time.Time `json:"time"`
	Min     nullFloat `json:"min"`
	Max     nullFloat `json:"max"`
	Count   int       `json:"count"`
}

func (s *Server) handleDescribe(w http.ResponseWriter, r *http.Request) {
	d, err := s.queries.Describe(r.PathValue("name"))
	if err != nil {
		s.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleVectors(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	vf, err := s.queries.Vectors(r.Context(), q)
	if err != nil {
		s.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, vectorsResponse{
		Dataset: q.Dataset,
		Time:    q.Time,
		Count:   vf.Len(),
		U:       vf.U,
		V:       vf.V,
		Lon:     vf.Lon,
		Lat:     vf.Lat,
	})
}

func (s *Server) handleMinMax(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	mr, err := s.queries.MinMax(r.Context(), q)
	if err != nil {
		s.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, minMaxResponse{
		Dataset: q.Dataset,
		Time:    q.Time,
		Min:     nullFloat(mr.Min),
		Max:     nullFloat(mr.Max),
		Count:   mr.Count,
	})
}

func (s *Server) handleFeatureInfo(w http.ResponseWriter, r *http.Request) {
	err := s.queries.FeatureInfo(r.Context(), pipeline.Query{Dataset: r.PathValue("name")})
	s.writeQueryError(w, r, err)
}

// parseQuery reads time, bbox, vectorscale, vectorstep and image_type.
// Missing time is left zero for the service to default.
func parseQuery(r *http.Request) (pipeline.Query, error) {
	v := r.URL.Query()
	q := pipeline.Query{
		Dataset:   r.PathValue("name"),
		BBox:      worldBBox,
		ImageType: v.Get("image_type"),
	}

	if s := v.Get("time"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return pipeline.Query{}, fmt.Errorf("invalid time %q: want RFC 3339", s)
		}
		q.Time = t.UTC()
	}
	if s := v.Get("bbox"); s != "" {
		b, err := parseBBox(s)
		if err != nil {
			return pipeline.Query{}, err
		}
		q.BBox = b
	}
	var err error
	if q.VectorScale, err = floatParam(v, "vectorscale"); err != nil {
		return pipeline.Query{}, err
	}
	if s := v.Get("vectorstep"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return pipeline.Query{}, fmt.Errorf("invalid vectorstep %q: want a positive integer", s)
		}
		q.VectorStep = n
	}
	return q, nil
}

func parseBBox(s string) (domain.BBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return domain.BBox{}, fmt.Errorf("invalid bbox %q: want minx,miny,maxx,maxy", s)
	}
	var vals [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return domain.BBox{}, fmt.Errorf("invalid bbox %q: %w", s, err)
		}
		vals[i] = f
	}
	b := domain.BBox{MinLon: vals[0], MinLat: vals[1], MaxLon: vals[2], MaxLat: vals[3]}
	if err := b.Validate(); err != nil {
		return domain.BBox{}, fmt.Errorf("invalid bbox %q: %w", s, err)
	}
	return b, nil
}

func floatParam(v url.Values, name string) (float64, error) {
	s := v.Get(name)
	if s == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, fmt.Errorf("invalid %s %q", name, s)
	}
	return f, nil
}

func (s *Server) writeQueryError(w http.ResponseWriter, r *http.Request, err error) {
	var unsupported *domain.UnsupportedOperationError
	switch {
	case errors.Is(err, domain.ErrDatasetNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &unsupported):
		writeError(w, http.StatusNotImplemented, err.Error())
	default:
		s.logger.Error("query failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // client went away
}

// nullFloat encodes NaN and infinities as null.
type nullFloat float64

func (f nullFloat) MarshalJSON() ([]byte, error) {
	return appendNullFloat(nil, float64(f)), nil
}

// nullFloats encodes a float slice with NaN and infinities as null.
type nullFloats []float64

func (fs nullFloats) MarshalJSON() ([]byte, error) {
	out := make([]byte, 0, 2+len(fs)*8)
	out = append(out, '[')
	for i, f := range fs {
		if i > 0 {
			out = append(out, ',')
		}
		out = appendNullFloat(out, f)
	}
	return append(out, ']'), nil
}

func appendNullFloat(b []byte, f float64) []byte {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return append(b, "null"...)
	}
	return strconv.AppendFloat(b, f, 'g', -1, 64)
}
