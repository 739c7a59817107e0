package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"sync"

	storeerr "github.com/imgmeta/imgmeta/internal/errors"
)

// MemoryBackend holds objects in a map. Tests and local development seed it
// through PutObject.
type MemoryBackend struct {
	mu      sync.RWMutex
	objects map[string][]byte // key: "bucket/key"
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		objects: make(map[string][]byte),
	}
}

// objectKey builds the map key for an object from its bucket and key.
func objectKey(bucket, key string) string {
	return bucket + "/" + key
}

// PutObject stores a copy of data and returns its MD5 ETag, quoted the way
// S3 reports it.
func (b *MemoryBackend) PutObject(bucket, key string, data []byte) string {
	buf := make([]byte, len(data))
	copy(buf, data)

	b.mu.Lock()
	b.objects[objectKey(bucket, key)] = buf
	b.mu.Unlock()

	return fmt.Sprintf(`"%x"`, md5.Sum(data))
}

func (b *MemoryBackend) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error) {
	b.mu.RLock()
	data, ok := b.objects[objectKey(bucket, key)]
	b.mu.RUnlock()

	if !ok {
		return nil, 0, storeerr.NotFound("object not found: %s/%s", bucket, key)
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (b *MemoryBackend) HealthCheck(ctx context.Context) error {
	return nil
}

var _ ObjectStore = (*MemoryBackend)(nil)
