// Command tidecache builds the query cache of one harmonic source dataset.
//
// Usage:
//
//	go run ./cmd/tidecache \
//	  -source data/adcirc_ec2015.nc \
//	  -dataset ec2015 \
//	  -cache-dir /var/cache/tides \
//	  -compression zstd
//
// The build result is printed as JSON. A cache at least as new as its source
// is left alone unless -force is given.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime"

	"github.com/couchcryptid/tidal-current-service/internal/builder"
	"github.com/couchcryptid/tidal-current-service/internal/cachefile"
	"github.com/couchcryptid/tidal-current-service/internal/domain"
	"github.com/couchcryptid/tidal-current-service/internal/observability"
	"github.com/couchcryptid/tidal-current-service/internal/pipeline"
)

type logFlags struct{ level string }

func (l logFlags) LogLevelName() string  { return l.level }
func (l logFlags) LogFormatName() string { return "text" }

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "tidecache:", err)
		os.Exit(1)
	}
}

func run() error {
	sourcePath := flag.String("source", "", "source UTIDES NetCDF dataset")
	dataset := flag.String("dataset", "", "dataset name; the cache is <cache-dir>/<dataset>"+cachefile.Extension)
	cacheDir := flag.String("cache-dir", ".", "directory holding caches")
	force := flag.Bool("force", false, "rebuild even when the cache is up to date")
	compression := flag.String("compression", string(cachefile.CompressionZSTD), "chunk compression: none, lz4 or zstd")
	workers := flag.Int("workers", runtime.GOMAXPROCS(0), "parallel chunk compression workers")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	if *sourcePath == "" || *dataset == "" {
		flag.Usage()
		return fmt.Errorf("missing required flags: -source, -dataset")
	}
	comp, err := cachefile.ParseCompression(*compression)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(logFlags{level: *logLevel})
	metrics := observability.NewMetricsForTesting()

	b := builder.New(cachefile.WriterOptions{Compression: comp, Workers: *workers}, logger, metrics)
	svc := pipeline.NewBuildService(b, *cacheDir, nil, logger, metrics)

	res, buildErr := svc.Build(context.Background(), domain.BuildRequest{
		Dataset: *dataset,
		Source:  *sourcePath,
		Force:   *force,
	})

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}
	return buildErr
}
