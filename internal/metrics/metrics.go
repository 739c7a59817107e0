// Package metrics defines custom Prometheus metrics for imgmeta.
package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// registerOnce ensures Register() is idempotent.
var registerOnce sync.Once

// sizeBuckets are exponential buckets for request/response size histograms (bytes).
var sizeBuckets = []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216, 67108864}

// HTTP metrics (RED: Rate, Errors, Duration).
var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgmeta_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency in seconds by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "imgmeta_http_request_duration_seconds",
			Help:    "Request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// HTTPResponseSize observes response body size in bytes.
	HTTPResponseSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "imgmeta_http_response_size_bytes",
			Help:    "Response body size in bytes",
			Buckets: sizeBuckets,
		},
		[]string{"method", "path"},
	)
)

// Catalog metrics.
var (
	// OperationsTotal counts catalog operations by name and outcome
	// ("success", "not_found" or "error").
	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgmeta_operations_total",
			Help: "Catalog operations by type and outcome",
		},
		[]string{"operation", "status"},
	)

	// IngestRecordsTotal counts ingested notification entries by result
	// ("written", "skipped" or "failed").
	IngestRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgmeta_ingest_records_total",
			Help: "Ingested notification entries by result",
		},
		[]string{"result"},
	)

	// ScannedRecordsTotal counts records read by statistics scans.
	ScannedRecordsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "imgmeta_scanned_records_total",
			Help: "Records read by collection statistics scans",
		},
	)

	// BytesSentTotal counts object payload bytes served by downloads.
	BytesSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "imgmeta_download_bytes_total",
			Help: "Object payload bytes served by downloads",
		},
	)
)

// Register registers all Prometheus collectors with the default registry.
// This must be called explicitly (typically from main) so that metrics
// registration can be made conditional on configuration. It is safe to call
// multiple times; subsequent calls are no-ops.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			HTTPResponseSize,
			OperationsTotal,
			IngestRecordsTotal,
			ScannedRecordsTotal,
			BytesSentTotal,
		)
		// Pre-create the series so they appear in /metrics output before
		// the first operation.
		for _, op := range []string{"Ingest", "Lookup", "Download", "Stats"} {
			OperationsTotal.WithLabelValues(op, "success")
		}
		for _, r := range []string{"written", "skipped", "failed"} {
			IngestRecordsTotal.WithLabelValues(r)
		}
	})
}

// NormalizePath maps actual request paths to normalized path templates
// suitable for use as Prometheus metric labels. This avoids high-cardinality
// labels from individual content hashes.
func NormalizePath(path string) string {
	switch path {
	case "/health", "/readyz", "/metrics", "/info", "/events/s3", "/openapi.json", "/openapi.yaml":
		return path
	case "/docs", "/docs/":
		return "/docs"
	case "/", "":
		return "/"
	}

	// Stoplight Elements assets.
	if strings.HasPrefix(path, "/docs") {
		return "/docs"
	}
	if strings.HasPrefix(path, "/metadata/") {
		return "/metadata/{s3objectkey}"
	}
	if strings.HasPrefix(path, "/image/") {
		return "/image/{s3objectkey}"
	}
	return "/{other}"
}
