package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"

	storeerr "github.com/imgmeta/imgmeta/internal/errors"
	"github.com/imgmeta/imgmeta/internal/metadata"
	"github.com/imgmeta/imgmeta/internal/metrics"
)

const (
	opGetRecord   = "metadata.GetRecord"
	opGetObject   = "storage.GetObject"
	opScanRecords = "metadata.ScanRecords"
)

func (c *Catalog) getParams(contentHash string) []storeerr.Param {
	return []storeerr.Param{
		storeerr.P("TableName", metadata.TableName(c.meta)),
		storeerr.P("s3objectkey", contentHash),
	}
}

// getRecord performs the point read shared by Lookup and Download. A nil
// record with a nil error means the record is absent.
func (c *Catalog) getRecord(ctx context.Context, contentHash string) (*metadata.Record, *storeerr.StoreError) {
	params := c.getParams(contentHash)
	if contentHash == "" {
		return nil, storeerr.NewStoreError(opGetRecord, storeerr.InvalidArgument("s3objectkey is required"), params...)
	}
	rec, err := c.meta.GetRecord(ctx, contentHash)
	if err != nil {
		return nil, storeerr.NewStoreError(opGetRecord, err, params...)
	}
	return rec, nil
}

// Lookup reads the record for contentHash. When the record is absent the
// NotFoundPolicy decides the result: (nil, nil) under NotFoundEmpty, a 404
// *errors.StoreError under NotFoundStrict. Every error returned is a
// *errors.StoreError.
func (c *Catalog) Lookup(ctx context.Context, contentHash string) (*metadata.Record, error) {
	rec, serr := c.getRecord(ctx, contentHash)
	if serr == nil && rec == nil {
		serr = c.notFound.absent(opGetRecord, c.getParams(contentHash), contentHash)
	}
	if serr != nil {
		c.logFailure("Lookup", serr)
		metrics.OperationsTotal.WithLabelValues("Lookup", outcome(serr)).Inc()
		return nil, serr
	}
	metrics.OperationsTotal.WithLabelValues("Lookup", "success").Inc()
	return rec, nil
}

// Download is a fetched object framed for delivery.
type Download struct {
	Record metadata.Record
	// DecodedKey is the key the object was fetched by.
	DecodedKey string
	// Filename is the content hash followed by the key's extension.
	Filename string
	// ContentLength is the size recorded at ingest time.
	ContentLength int64
	// Body holds the raw object bytes.
	Body []byte
}

// ObjectError reports a failed object fetch for a record that was read
// successfully. It carries the record so failure responses can echo it.
type ObjectError struct {
	*storeerr.StoreError
	Record metadata.Record
}

// Unwrap returns the StoreError naming the object-store call.
func (e *ObjectError) Unwrap() error {
	return e.StoreError
}

// Download reads the record for contentHash and then fetches its object.
// An absent record is always a 404 failure regardless of the
// NotFoundPolicy, since there is nothing to frame. Every error returned
// unwraps to a *errors.StoreError naming the failed call; object-store
// failures are an *ObjectError.
func (c *Catalog) Download(ctx context.Context, contentHash string) (*Download, error) {
	d, err := c.download(ctx, contentHash)
	if err != nil {
		var serr *storeerr.StoreError
		if errors.As(err, &serr) {
			c.logFailure("Download", serr)
		}
		metrics.OperationsTotal.WithLabelValues("Download", outcome(err)).Inc()
		return nil, err
	}
	metrics.OperationsTotal.WithLabelValues("Download", "success").Inc()
	metrics.BytesSentTotal.Add(float64(len(d.Body)))
	return d, nil
}

func (c *Catalog) download(ctx context.Context, contentHash string) (*Download, error) {
	rec, serr := c.getRecord(ctx, contentHash)
	if serr != nil {
		return nil, serr
	}
	if rec == nil {
		return nil, notFound(opGetRecord, c.getParams(contentHash), contentHash)
	}

	key, decodeErr := DecodeKey(rec.Key)
	if decodeErr != nil {
		c.logger.Warn("Malformed percent-encoding in object key, using raw key",
			"s3objectkey", rec.ContentHash, "key", rec.Key, "error", decodeErr)
	}

	body, err := c.readObject(ctx, rec.Bucket, key)
	if err != nil {
		return nil, &ObjectError{
			StoreError: storeerr.NewStoreError(opGetObject, err, storeerr.P("Bucket", rec.Bucket), storeerr.P("Key", key)),
			Record:     *rec,
		}
	}

	return &Download{
		Record:        *rec,
		DecodedKey:    key,
		Filename:      Filename(rec.ContentHash, key),
		ContentLength: rec.Size,
		Body:          body,
	}, nil
}

func (c *Catalog) readObject(ctx context.Context, bucket, key string) ([]byte, error) {
	rc, _, err := c.objects.GetObject(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	body, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading object body: %w", err)
	}
	return body, nil
}

func (c *Catalog) logFailure(operation string, serr *storeerr.StoreError) {
	level := c.logger.Error
	if serr.Status < 500 {
		level = c.logger.Warn
	}
	level("Catalog operation failed",
		"operation", operation,
		"call", serr.Call(),
		"status", serr.Status,
		"error", serr.Err,
	)
}
