// Package storage defines the interface and implementations for imgmeta's
// read path into object storage. imgmeta never writes payloads itself; the
// upload flow that fires ingest notifications owns the objects.
package storage

import (
	"context"
	"io"
)

// ObjectStore reads raw object payloads. Implementations must be safe for
// concurrent use.
type ObjectStore interface {
	// GetObject opens the object at bucket/key. The caller is responsible
	// for closing the returned ReadCloser. The returned size is the size
	// reported by the store, or -1 when the store does not report one.
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, int64, error)

	// HealthCheck verifies that the object store is reachable.
	HealthCheck(ctx context.Context) error
}
