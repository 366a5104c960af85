package minio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/tidal-current-service/internal/config"
)

type fakeStore struct {
	exists  bool
	made    []string
	puts    []string
	file    string
	opts    minio.PutObjectOptions
	putErr  error
	statErr error
}

func (f *fakeStore) BucketExists(_ context.Context, _ string) (bool, error) {
	return f.exists, f.statErr
}

func (f *fakeStore) MakeBucket(_ context.Context, bucket string, _ minio.MakeBucketOptions) error {
	f.made = append(f.made, bucket)
	return nil
}

func (f *fakeStore) FPutObject(_ context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.putErr != nil {
		return minio.UploadInfo{}, f.putErr
	}
	f.puts = append(f.puts, bucket+"/"+object)
	f.file = filePath
	f.opts = opts
	return minio.UploadInfo{Bucket: bucket, Key: object, Size: 128}, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPublish(t *testing.T) {
	store := &fakeStore{}
	p := newPublisher(store, "tide-caches", "caches", quietLogger())

	uri, err := p.Publish(context.Background(), "bay", "/var/cache/tides/bay.tcache")
	require.NoError(t, err)

	assert.Equal(t, "s3://tide-caches/caches/bay.tcache", uri)
	assert.Equal(t, []string{"tide-caches/caches/bay.tcache"}, store.puts)
	assert.Equal(t, "/var/cache/tides/bay.tcache", store.file)
	assert.Equal(t, ContentType, store.opts.ContentType)
	assert.Equal(t, "bay", store.opts.UserMetadata["dataset"])
}

func TestPublish_Error(t *testing.T) {
	store := &fakeStore{putErr: errors.New("access denied")}
	p := newPublisher(store, "tide-caches", "caches", quietLogger())

	_, err := p.Publish(context.Background(), "bay", "/tmp/bay.tcache")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestEnsureBucket(t *testing.T) {
	store := &fakeStore{}
	p := newPublisher(store, "tide-caches", "caches", quietLogger())
	require.NoError(t, p.EnsureBucket(context.Background()))
	assert.Equal(t, []string{"tide-caches"}, store.made)

	store = &fakeStore{exists: true}
	p = newPublisher(store, "tide-caches", "caches", quietLogger())
	require.NoError(t, p.EnsureBucket(context.Background()))
	assert.Empty(t, store.made)

	store = &fakeStore{statErr: errors.New("unreachable")}
	p = newPublisher(store, "tide-caches", "caches", quietLogger())
	assert.Error(t, p.EnsureBucket(context.Background()))
}

func TestNewPublisher(t *testing.T) {
	p, err := NewPublisher(&config.Config{
		MinioEndpoint:  "localhost:9000",
		MinioAccessKey: "minioadmin",
		MinioSecretKey: "minioadmin",
		MinioBucket:    "tide-caches",
	}, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, "tide-caches", p.bucket)
}
