// Command tidesvc serves tidal current vectors reconstructed from harmonic
// caches and, when Kafka is enabled, builds caches on request.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/tidal-current-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/tidal-current-service/internal/adapter/kafka"
	minioadapter "github.com/couchcryptid/tidal-current-service/internal/adapter/minio"
	"github.com/couchcryptid/tidal-current-service/internal/builder"
	"github.com/couchcryptid/tidal-current-service/internal/cachefile"
	"github.com/couchcryptid/tidal-current-service/internal/config"
	"github.com/couchcryptid/tidal-current-service/internal/constituent"
	"github.com/couchcryptid/tidal-current-service/internal/nodal"
	"github.com/couchcryptid/tidal-current-service/internal/observability"
	"github.com/couchcryptid/tidal-current-service/internal/pipeline"
	"github.com/couchcryptid/tidal-current-service/internal/synth"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	tbl, err := constituent.Default()
	if err != nil {
		logger.Error("failed to load constituent table", "error", err)
		os.Exit(1)
	}
	synthesizer := synth.New(constituent.NewMatcher(tbl), nodal.NewAstronomical(tbl))
	queries := pipeline.NewQueryService(cfg.CacheDir, synthesizer, cfg.ChunkCacheSize, logger, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, queries, queries, httpadapter.Options{
		RateLimit: cfg.QueryRateLimit,
		RateBurst: cfg.QueryRateBurst,
		Metrics:   metrics,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	var (
		reader *kafkaadapter.Reader
		writer *kafkaadapter.Writer
	)
	if cfg.KafkaEnabled {
		var publisher pipeline.Publisher
		if cfg.MinioEnabled() {
			pub, err := minioadapter.NewPublisher(cfg, logger)
			if err != nil {
				logger.Error("failed to create cache publisher", "error", err)
				os.Exit(1)
			}
			if err := pub.EnsureBucket(ctx); err != nil {
				logger.Error("cache bucket unavailable", "error", err)
				os.Exit(1)
			}
			publisher = pub
			logger.Info("cache publishing enabled", "endpoint", cfg.MinioEndpoint, "bucket", cfg.MinioBucket)
		}

		b := builder.New(cachefile.WriterOptions{
			Compression: cfg.CacheCompression,
			Workers:     cfg.BuildWorkers,
		}, logger, metrics)
		builds := pipeline.NewBuildService(b, cfg.CacheDir, publisher, logger, metrics)

		reader = kafkaadapter.NewReader(cfg, logger)
		writer = kafkaadapter.NewWriter(cfg, logger)
		p := pipeline.New(reader, pipeline.NewBuildTransformer(builds), writer, logger, metrics, cfg.BatchSize,
			pipeline.WithConcurrency(cfg.BuildConcurrency))

		go func() {
			if err := p.Run(ctx); err != nil {
				logger.Error("build pipeline error", "error", err)
			}
		}()
	} else {
		logger.Info("kafka build consumer disabled")
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if reader != nil {
		if err := reader.Close(); err != nil {
			logger.Error("kafka reader close error", "error", err)
		}
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}
	if err := queries.Close(); err != nil {
		logger.Error("close cached datasets", "error", err)
	}

	logger.Info("shutdown complete")
}
