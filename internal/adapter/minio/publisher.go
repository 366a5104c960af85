// Package minio publishes built caches to MinIO or any S3-compatible store.
package minio

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/couchcryptid/tidal-current-service/internal/config"
)

// ContentType is set on uploaded cache objects.
const ContentType = "application/x-tide-cache"

// objectStore is the slice of *minio.Client the publisher uses.
type objectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Publisher uploads cache files after a successful build.
// It implements pipeline.Publisher.
type Publisher struct {
	store  objectStore
	bucket string
	prefix string
	logger *slog.Logger
}

// NewPublisher connects to the configured endpoint. No request is made until
// EnsureBucket or Publish is called.
func NewPublisher(cfg *config.Config, logger *slog.Logger) (*Publisher, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return newPublisher(client, cfg.MinioBucket, "caches", logger), nil
}

func newPublisher(store objectStore, bucket, prefix string, logger *slog.Logger) *Publisher {
	return &Publisher{store: store, bucket: bucket, prefix: prefix, logger: logger}
}

// EnsureBucket creates the bucket when it does not exist.
func (p *Publisher) EnsureBucket(ctx context.Context) error {
	ok, err := p.store.BucketExists(ctx, p.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", p.bucket, err)
	}
	if ok {
		return nil
	}
	if err := p.store.MakeBucket(ctx, p.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", p.bucket, err)
	}
	p.logger.Info("created cache bucket", "bucket", p.bucket)
	return nil
}

// Publish uploads the cache at cachePath and returns its object URI.
func (p *Publisher) Publish(ctx context.Context, dataset, cachePath string) (string, error) {
	key := path.Join(p.prefix, filepath.Base(cachePath))
	info, err := p.store.FPutObject(ctx, p.bucket, key, cachePath, minio.PutObjectOptions{
		ContentType:  ContentType,
		UserMetadata: map[string]string{"dataset": dataset},
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	p.logger.Info("published cache", "dataset", dataset, "bucket", p.bucket, "object", key, "bytes", info.Size)
	return "s3://" + p.bucket + "/" + key, nil
}
