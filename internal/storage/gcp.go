package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	gcs "cloud.google.com/go/storage"
	"github.com/imgmeta/imgmeta/internal/config"
)

// GCSAPI defines the subset of the GCS client interface that the backend
// uses. This allows mocking in tests.
type GCSAPI interface {
	// NewReader returns a reader for the given GCS object and its size.
	NewReader(ctx context.Context, bucket, object string) (io.ReadCloser, int64, error)
	// BucketAttrs fetches bucket metadata; used as a reachability probe.
	BucketAttrs(ctx context.Context, bucket string) error
}

// realGCSClient wraps the official GCS client to satisfy GCSAPI.
type realGCSClient struct {
	client *gcs.Client
}

func (c *realGCSClient) NewReader(ctx context.Context, bucket, object string) (io.ReadCloser, int64, error) {
	r, err := c.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, 0, err
	}
	return r, r.Attrs.Size, nil
}

func (c *realGCSClient) BucketAttrs(ctx context.Context, bucket string) error {
	_, err := c.client.Bucket(bucket).Attrs(ctx)
	return err
}

// GCPBackend reads objects from Google Cloud Storage. Record buckets map
// one-to-one onto GCS buckets.
type GCPBackend struct {
	// Project is the GCP project ID, informational only.
	Project string
	// HealthBucket is probed by HealthCheck. Empty skips the probe.
	HealthBucket string
	client       GCSAPI
}

// NewGCPBackend creates a GCPBackend using Application Default Credentials.
func NewGCPBackend(ctx context.Context, cfg *config.GCPConfig) (*GCPBackend, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating GCS client: %w", err)
	}

	slog.Info("GCP storage backend initialized", "project", cfg.Project)
	return NewGCPBackendWithClient(cfg.Project, cfg.HealthBucket, &realGCSClient{client: client}), nil
}

// NewGCPBackendWithClient creates a GCPBackend with a pre-configured GCS
// client. This is primarily used for testing with mock clients.
func NewGCPBackendWithClient(project, healthBucket string, client GCSAPI) *GCPBackend {
	return &GCPBackend{
		Project:      project,
		HealthBucket: healthBucket,
		client:       client,
	}
}

func (b *GCPBackend) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	reader, size, err := b.client.NewReader(ctx, bucket, key)
	if err != nil {
		if isGCSNotFound(err) {
			return nil, 0, fmt.Errorf("object not found: %s/%s: %w", bucket, key, err)
		}
		return nil, 0, fmt.Errorf("getting object from GCS: %w", err)
	}
	return reader, size, nil
}

func (b *GCPBackend) HealthCheck(ctx context.Context) error {
	if b.HealthBucket == "" {
		return nil
	}
	return b.client.BucketAttrs(ctx, b.HealthBucket)
}

// isGCSNotFound checks if a GCS error is a 404/not-found error.
func isGCSNotFound(err error) bool {
	return errors.Is(err, gcs.ErrObjectNotExist) || errors.Is(err, gcs.ErrBucketNotExist)
}

var _ ObjectStore = (*GCPBackend)(nil)
