// Package metadata defines the interface and implementations for imgmeta's
// metadata record store, which holds one record per ingested object keyed
// by the object's content hash.
package metadata

import (
	"context"
	"io"
)

// Record is the metadata for a single uploaded object. The JSON layout is
// the public wire format returned by the lookup operation.
type Record struct {
	// Bucket is the object-store bucket holding the payload.
	Bucket string `json:"bucket"`
	// Key is the object key exactly as delivered by the upload notification.
	// It may be URL-encoded, with "+" standing for a space.
	Key string `json:"key"`
	// Size is the object size in bytes.
	Size int64 `json:"size"`
	// ContentHash is the primary key (the storage ETag).
	ContentHash string `json:"s3objectkey"`
}

// DefaultScanLimit is the page size used when ScanOptions.Limit is unset.
const DefaultScanLimit = 100

// ScanOptions selects one page of a full-table scan.
type ScanOptions struct {
	// Cursor is the NextCursor of the previous page, or empty for the first page.
	Cursor string
	// Limit is the maximum number of records per page.
	Limit int
}

// ScanPage is one page of scan results.
type ScanPage struct {
	Records []Record
	// NextCursor continues the scan. Empty when the scan is exhausted.
	NextCursor string
}

// Store defines the interface for all metadata operations required by
// imgmeta. Implementations must be safe for concurrent use.
type Store interface {
	io.Closer

	// Ping checks connectivity to the metadata store.
	Ping(ctx context.Context) error

	// PutRecord creates or replaces the record keyed by rec.ContentHash.
	PutRecord(ctx context.Context, rec *Record) error

	// GetRecord retrieves the record for contentHash. It returns (nil, nil)
	// when no record exists.
	GetRecord(ctx context.Context, contentHash string) (*Record, error)

	// ScanRecords returns one page of all records. Pages are ordered by
	// content hash where the engine supports ordering.
	ScanRecords(ctx context.Context, opts ScanOptions) (*ScanPage, error)
}

// Describer is implemented by stores that can name their backing table,
// collection or file for diagnostics.
type Describer interface {
	TableName() string
}

// TableName returns the table name of s, or its engine name when s does
// not implement Describer.
func TableName(s Store) string {
	if d, ok := s.(Describer); ok {
		return d.TableName()
	}
	return "metadata"
}

// ScanAll walks every page of s, calling fn for each page in order. It stops
// at the first error from the store or from fn.
func ScanAll(ctx context.Context, s Store, limit int, fn func(page []Record) error) error {
	if limit <= 0 {
		limit = DefaultScanLimit
	}
	cursor := ""
	for {
		page, err := s.ScanRecords(ctx, ScanOptions{Cursor: cursor, Limit: limit})
		if err != nil {
			return err
		}
		if len(page.Records) > 0 {
			if err := fn(page.Records); err != nil {
				return err
			}
		}
		if page.NextCursor == "" {
			return nil
		}
		cursor = page.NextCursor
	}
}

func scanLimit(opts ScanOptions) int {
	if opts.Limit <= 0 {
		return DefaultScanLimit
	}
	return opts.Limit
}
