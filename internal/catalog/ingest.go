package catalog

import (
	"context"
	"sync/atomic"

	"github.com/aws/aws-lambda-go/events"
	"github.com/imgmeta/imgmeta/internal/metadata"
	"github.com/imgmeta/imgmeta/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// Notification is one upload-notification entry.
type Notification struct {
	Bucket      string
	Key         string
	Size        int64
	ContentHash string
}

// Record maps the notification onto the metadata record it produces.
func (n Notification) Record() *metadata.Record {
	return &metadata.Record{
		Bucket:      n.Bucket,
		Key:         n.Key,
		Size:        n.Size,
		ContentHash: n.ContentHash,
	}
}

// NotificationsFromS3Event maps the records of an S3 event onto
// notifications. The object key is kept exactly as delivered.
func NotificationsFromS3Event(ev events.S3Event) []Notification {
	out := make([]Notification, 0, len(ev.Records))
	for _, r := range ev.Records {
		out = append(out, Notification{
			Bucket:      r.S3.Bucket.Name,
			Key:         r.S3.Object.Key,
			Size:        r.S3.Object.Size,
			ContentHash: r.S3.Object.ETag,
		})
	}
	return out
}

// IngestReport summarizes a batch. It exists for logging and metrics only.
type IngestReport struct {
	Received int `json:"received"`
	Written  int `json:"written"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// Ingest writes one record per notification. Writes are independent: each
// runs as its own task, a failed write is logged and counted, and nothing
// is retried or reported to the caller as an error.
func (c *Catalog) Ingest(ctx context.Context, batch []Notification) IngestReport {
	report := IngestReport{Received: len(batch)}
	var written, failed atomic.Int64

	var g errgroup.Group
	g.SetLimit(c.ingestConcurrency)

	for _, n := range batch {
		if n.ContentHash == "" {
			report.Skipped++
			metrics.IngestRecordsTotal.WithLabelValues("skipped").Inc()
			c.logger.Warn("Skipping notification without eTag", "bucket", n.Bucket, "key", n.Key)
			continue
		}

		g.Go(func() error {
			if err := c.meta.PutRecord(ctx, n.Record()); err != nil {
				failed.Add(1)
				metrics.IngestRecordsTotal.WithLabelValues("failed").Inc()
				c.logger.Error("Failed to write record",
					"table", metadata.TableName(c.meta),
					"s3objectkey", n.ContentHash,
					"bucket", n.Bucket,
					"key", n.Key,
					"error", err,
				)
				return nil
			}
			written.Add(1)
			metrics.IngestRecordsTotal.WithLabelValues("written").Inc()
			c.logger.Debug("Record written", "s3objectkey", n.ContentHash, "bucket", n.Bucket, "key", n.Key, "size", n.Size)
			return nil
		})
	}
	// Tasks never return an error.
	_ = g.Wait()

	report.Written = int(written.Load())
	report.Failed = int(failed.Load())

	status := "success"
	if report.Failed > 0 {
		status = "error"
	}
	metrics.OperationsTotal.WithLabelValues("Ingest", status).Inc()
	c.logger.Info("Ingest batch processed",
		"received", report.Received,
		"written", report.Written,
		"skipped", report.Skipped,
		"failed", report.Failed,
	)
	return report
}
