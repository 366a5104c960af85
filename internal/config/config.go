package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"

	"github.com/couchcryptid/tidal-current-service/internal/cachefile"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	CacheDir         string
	CacheCompression cachefile.Compression
	ChunkCacheSize   int
	BuildWorkers     int
	// BuildConcurrency is how many datasets the build consumer builds at once.
	BuildConcurrency int

	// QueryRateLimit is requests per second across query endpoints; 0 disables limiting.
	QueryRateLimit float64
	QueryRateBurst int

	KafkaEnabled       bool
	KafkaBrokers       []string
	KafkaRequestTopic  string
	KafkaResultTopic   string
	KafkaGroupID       string
	BatchSize          int
	BatchFlushInterval time.Duration

	// Object storage publishing of built caches, enabled when MinioEndpoint is set.
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
}

// LogLevelName implements observability.LogSettings.
func (c *Config) LogLevelName() string { return c.LogLevel }

// LogFormatName implements observability.LogSettings.
func (c *Config) LogFormatName() string { return c.LogFormat }

// MinioEnabled reports whether built caches are published.
func (c *Config) MinioEnabled() bool { return c.MinioEndpoint != "" }

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}
	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}
	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	compression, err := cachefile.ParseCompression(sharedcfg.EnvOrDefault("CACHE_COMPRESSION", "zstd"))
	if err != nil {
		return nil, fmt.Errorf("invalid CACHE_COMPRESSION: %w", err)
	}
	chunkCache, err := parseInt("CHUNK_CACHE_SIZE", cachefile.DefaultChunkCacheSize, 0)
	if err != nil {
		return nil, err
	}
	workers, err := parseInt("BUILD_WORKERS", 4, 1)
	if err != nil {
		return nil, err
	}
	concurrency, err := parseInt("BUILD_CONCURRENCY", 2, 1)
	if err != nil {
		return nil, err
	}
	burst, err := parseInt("QUERY_RATE_BURST", 10, 1)
	if err != nil {
		return nil, err
	}
	rateLimit, err := strconv.ParseFloat(sharedcfg.EnvOrDefault("QUERY_RATE_LIMIT", "0"), 64)
	if err != nil || rateLimit < 0 {
		return nil, errors.New("invalid QUERY_RATE_LIMIT")
	}
	kafkaEnabled, err := parseBool("KAFKA_ENABLED", false)
	if err != nil {
		return nil, err
	}
	minioSSL, err := parseBool("MINIO_USE_SSL", false)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		CacheDir:         sharedcfg.EnvOrDefault("CACHE_DIR", "./cache"),
		CacheCompression: compression,
		ChunkCacheSize:   chunkCache,
		BuildWorkers:     workers,
		BuildConcurrency: concurrency,
		QueryRateLimit:   rateLimit,
		QueryRateBurst:   burst,

		KafkaEnabled:       kafkaEnabled,
		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaRequestTopic:  sharedcfg.EnvOrDefault("KAFKA_REQUEST_TOPIC", "tide-cache-requests"),
		KafkaResultTopic:   sharedcfg.EnvOrDefault("KAFKA_RESULT_TOPIC", "tide-cache-builds"),
		KafkaGroupID:       sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "tide-cache-builder"),
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,

		MinioEndpoint:  os.Getenv("MINIO_ENDPOINT"),
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:    sharedcfg.EnvOrDefault("MINIO_BUCKET", "tide-caches"),
		MinioUseSSL:    minioSSL,
	}

	if strings.TrimSpace(cfg.CacheDir) == "" {
		return nil, errors.New("CACHE_DIR is required")
	}
	if cfg.KafkaEnabled {
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_BROKERS is required")
		}
		if cfg.KafkaRequestTopic == "" {
			return nil, errors.New("KAFKA_REQUEST_TOPIC is required")
		}
		if cfg.KafkaResultTopic == "" {
			return nil, errors.New("KAFKA_RESULT_TOPIC is required")
		}
	}
	if cfg.MinioEnabled() && (cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "") {
		return nil, errors.New("MINIO_ENDPOINT is set but MINIO_ACCESS_KEY or MINIO_SECRET_KEY is not")
	}

	return cfg, nil
}

func parseInt(name string, def, minimum int) (int, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < minimum {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return n, nil
}

func parseBool(name string, def bool) (bool, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s", name)
	}
	return b, nil
}
