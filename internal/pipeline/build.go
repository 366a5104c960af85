package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/couchcryptid/tidal-current-service/internal/builder"
	"github.com/couchcryptid/tidal-current-service/internal/cachefile"
	"github.com/couchcryptid/tidal-current-service/internal/domain"
	"github.com/couchcryptid/tidal-current-service/internal/observability"
)

// CacheBuilder writes the cache for one source.
type CacheBuilder interface {
	Build(sourcePath, target string) (builder.Result, error)
}

// Publisher copies a built cache somewhere readers can fetch it.
type Publisher interface {
	Publish(ctx context.Context, dataset, path string) (object string, err error)
}

// BuildService decides whether a dataset needs a rebuild, runs the builder and
// optionally publishes the result.
type BuildService struct {
	builder   CacheBuilder
	cacheDir  string
	publisher Publisher
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewBuildService creates a BuildService writing into cacheDir. publisher may be nil.
func NewBuildService(b CacheBuilder, cacheDir string, publisher Publisher, logger *slog.Logger, metrics *observability.Metrics) *BuildService {
	return &BuildService{builder: b, cacheDir: cacheDir, publisher: publisher, logger: logger, metrics: metrics}
}

// CachePath returns where the cache of dataset lives.
func CachePath(cacheDir, dataset string) string {
	return filepath.Join(cacheDir, dataset+cachefile.Extension)
}

// Build handles one request. The returned result always describes the
// outcome; the error is the build failure, if any. A cache at least as new as
// its source is kept unless the request is forced.
func (s *BuildService) Build(ctx context.Context, req domain.BuildRequest) (domain.BuildResult, error) {
	res := domain.BuildResult{
		ID:      uuid.NewString(),
		Dataset: req.Dataset,
		Source:  req.Source,
	}
	fail := func(err error) (domain.BuildResult, error) {
		res.Status = domain.StatusFailed
		res.Error = err.Error()
		res.ErrorKind = domain.ErrorKind(err)
		res.FinishedAt = domain.Now()
		s.metrics.CacheBuilds.WithLabelValues(domain.StatusFailed).Inc()
		s.logger.Warn("cache build failed", "dataset", req.Dataset, "source", req.Source, "error", err)
		return res, err
	}

	if err := req.Validate(); err != nil {
		return fail(err)
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	target := CachePath(s.cacheDir, req.Dataset)
	res.Cache = target

	if !req.Force {
		fresh, err := isFresh(req.Source, target)
		if err != nil {
			return fail(err)
		}
		if fresh {
			res.Status = domain.StatusSkipped
			res.FinishedAt = domain.Now()
			s.metrics.CacheBuilds.WithLabelValues(domain.StatusSkipped).Inc()
			s.logger.Info("cache is up to date", "dataset", req.Dataset, "cache", target)
			return res, nil
		}
	}

	if err := os.MkdirAll(s.cacheDir, 0o755); err != nil {
		return fail(&domain.CacheWriteError{Target: target, Err: err})
	}
	built, err := s.builder.Build(req.Source, target)
	if err != nil {
		return fail(err)
	}
	s.metrics.CacheBuildDuration.Observe(built.Duration.Seconds())

	res.NTides = built.NTides
	res.NLocs = built.NLocs
	res.Location = built.Location
	res.Mesh = built.Mesh
	res.Transposed = built.Orientation.Transposed
	res.Bytes = built.Bytes

	if s.publisher != nil {
		object, err := s.publisher.Publish(ctx, req.Dataset, target)
		if err != nil {
			s.metrics.CachePublishes.WithLabelValues("error").Inc()
			return fail(fmt.Errorf("publish cache: %w", err))
		}
		s.metrics.CachePublishes.WithLabelValues("success").Inc()
		res.Object = object
	}

	res.Status = domain.StatusBuilt
	res.FinishedAt = domain.Now()
	s.metrics.CacheBuilds.WithLabelValues(domain.StatusBuilt).Inc()
	return res, nil
}

// isFresh reports whether the cache exists and is not older than the source.
// A source that cannot be stat'ed is left for the builder to report.
func isFresh(sourcePath, target string) (bool, error) {
	ci, err := os.Stat(target)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, &domain.CacheWriteError{Target: target, Err: err}
	}
	si, err := os.Stat(sourcePath)
	if err != nil {
		return false, nil
	}
	return !ci.ModTime().Before(si.ModTime()), nil
}

// BuildTransformer adapts BuildService to the pipeline's Transformer. Only
// unparseable requests are errors; failed builds become failed results.
type BuildTransformer struct {
	service *BuildService
}

// NewBuildTransformer creates a BuildTransformer.
func NewBuildTransformer(s *BuildService) *BuildTransformer {
	return &BuildTransformer{service: s}
}

// Transform implements Transformer.
func (t *BuildTransformer) Transform(ctx context.Context, raw domain.RawEvent) (domain.OutputEvent, error) {
	req, err := domain.ParseBuildRequest(raw)
	if err != nil {
		return domain.OutputEvent{}, err
	}
	res, err := t.service.Build(ctx, req)
	if err != nil && ctx.Err() != nil {
		return domain.OutputEvent{}, err
	}
	return domain.SerializeBuildResult(res)
}
