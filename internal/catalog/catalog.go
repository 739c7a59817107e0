// Package catalog implements the four image-metadata operations: ingest of
// upload notifications, point lookup, object download and collection
// statistics. It talks to the metadata store and the object store only
// through their interfaces and knows nothing about transports.
package catalog

import (
	"log/slog"
	"net/http"

	"github.com/imgmeta/imgmeta/internal/config"
	storeerr "github.com/imgmeta/imgmeta/internal/errors"
	"github.com/imgmeta/imgmeta/internal/metadata"
	"github.com/imgmeta/imgmeta/internal/storage"
)

// Defaults for the tunable options.
const (
	DefaultIngestConcurrency = 8
	DefaultScanPageSize      = metadata.DefaultScanLimit
)

// NotFoundPolicy decides what a lookup of an absent record returns.
type NotFoundPolicy int

const (
	// NotFoundEmpty reports an absent record as a successful lookup with
	// empty data. This is the historical behavior clients depend on.
	NotFoundEmpty NotFoundPolicy = iota
	// NotFoundStrict reports an absent record as a 404 failure.
	NotFoundStrict
)

// String returns the policy name as used in logs.
func (p NotFoundPolicy) String() string {
	if p == NotFoundStrict {
		return "strict"
	}
	return "empty"
}

// absent resolves a missing record under the policy. It returns nil when the
// caller should report success with empty data.
func (p NotFoundPolicy) absent(op string, params []storeerr.Param, contentHash string) *storeerr.StoreError {
	if p == NotFoundEmpty {
		return nil
	}
	return notFound(op, params, contentHash)
}

func notFound(op string, params []storeerr.Param, contentHash string) *storeerr.StoreError {
	return storeerr.NewStoreError(op, storeerr.NotFound("no record for s3objectkey %s", contentHash), params...)
}

// Catalog wires the operations to a metadata store and an object store.
// It holds no mutable state and is safe for concurrent use.
type Catalog struct {
	meta              metadata.Store
	objects           storage.ObjectStore
	notFound          NotFoundPolicy
	ingestConcurrency int
	scanPageSize      int
	logger            *slog.Logger
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithNotFoundPolicy sets how lookups report absent records.
func WithNotFoundPolicy(p NotFoundPolicy) Option {
	return func(c *Catalog) {
		c.notFound = p
	}
}

// WithIngestConcurrency bounds the number of concurrent writes per ingest
// batch. Values below 1 select the default.
func WithIngestConcurrency(n int) Option {
	return func(c *Catalog) {
		if n > 0 {
			c.ingestConcurrency = n
		}
	}
}

// WithScanPageSize sets the page size used by statistics scans. Values
// below 1 select the default.
func WithScanPageSize(n int) Option {
	return func(c *Catalog) {
		if n > 0 {
			c.scanPageSize = n
		}
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Catalog) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Catalog over the given stores.
func New(meta metadata.Store, objects storage.ObjectStore, opts ...Option) *Catalog {
	c := &Catalog{
		meta:              meta,
		objects:           objects,
		notFound:          NotFoundEmpty,
		ingestConcurrency: DefaultIngestConcurrency,
		scanPageSize:      DefaultScanPageSize,
		logger:            slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OptionsFromConfig translates the catalog section of the configuration.
func OptionsFromConfig(cfg *config.CatalogConfig) []Option {
	policy := NotFoundEmpty
	if cfg.StrictNotFound {
		policy = NotFoundStrict
	}
	return []Option{
		WithNotFoundPolicy(policy),
		WithIngestConcurrency(cfg.IngestConcurrency),
		WithScanPageSize(cfg.ScanPageSize),
	}
}

// NotFoundPolicy returns the configured policy.
func (c *Catalog) NotFoundPolicy() NotFoundPolicy {
	return c.notFound
}

// outcome labels an operation result for metrics.
func outcome(err error) string {
	if err == nil {
		return "success"
	}
	if storeerr.HTTPStatus(err) == http.StatusNotFound {
		return "not_found"
	}
	return "error"
}
