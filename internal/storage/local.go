package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	storeerr "github.com/imgmeta/imgmeta/internal/errors"
)

// LocalBackend serves objects from the local filesystem. Each bucket is a
// directory under RootDir and each key a path inside it.
type LocalBackend struct {
	// RootDir is the base directory under which all bucket data is stored.
	RootDir string
}

// NewLocalBackend creates a new LocalBackend rooted at the given directory,
// creating the directory if it does not exist. Objects are placed under it
// by uploaders; the backend only reads them.
func NewLocalBackend(rootDir string) (*LocalBackend, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage root directory %q: %w", rootDir, err)
	}
	return &LocalBackend{RootDir: rootDir}, nil
}

// objectPath returns the filesystem path for an object. Keys that would
// escape the bucket directory are rejected.
func (b *LocalBackend) objectPath(bucket, key string) (string, error) {
	bucketDir := filepath.Join(b.RootDir, bucket)
	p := filepath.Join(bucketDir, key)
	if bucket == "" || bucket == ".." || strings.ContainsAny(bucket, `/\`) ||
		!strings.HasPrefix(p, bucketDir+string(filepath.Separator)) {
		return "", storeerr.InvalidArgument("invalid object path: %s/%s", bucket, key)
	}
	return p, nil
}

// GetObject opens the object file for reading. The caller is responsible
// for closing the returned ReadCloser.
func (b *LocalBackend) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	objPath, err := b.objectPath(bucket, key)
	if err != nil {
		return nil, 0, err
	}

	file, err := os.Open(objPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, storeerr.NotFound("object not found: %s/%s", bucket, key)
		}
		return nil, 0, fmt.Errorf("opening object file %q/%q: %w", bucket, key, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, fmt.Errorf("stat object file %q/%q: %w", bucket, key, err)
	}
	if info.IsDir() {
		file.Close()
		return nil, 0, storeerr.NotFound("object not found: %s/%s", bucket, key)
	}

	return file, info.Size(), nil
}

// HealthCheck verifies that the local storage root directory is accessible.
func (b *LocalBackend) HealthCheck(ctx context.Context) error {
	_, err := os.Stat(b.RootDir)
	return err
}

var _ ObjectStore = (*LocalBackend)(nil)
