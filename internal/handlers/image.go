// Package handlers implements the HTTP handlers for the image catalog
// routes. Each handler delegates to the catalog and writes the rendered
// api.Response.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/aws/aws-lambda-go/events"
	"github.com/go-chi/chi/v5"
	"github.com/imgmeta/imgmeta/internal/api"
	"github.com/imgmeta/imgmeta/internal/catalog"
	"github.com/imgmeta/imgmeta/internal/metadata"
)

// maxEventBytes bounds the size of a notification body.
const maxEventBytes = 8 << 20

// ContentHashParam is the route parameter carrying the content hash.
const ContentHashParam = "s3objectkey"

// Catalog is the subset of *catalog.Catalog the handlers call.
type Catalog interface {
	Ingest(ctx context.Context, batch []catalog.Notification) catalog.IngestReport
	Lookup(ctx context.Context, contentHash string) (*metadata.Record, error)
	Download(ctx context.Context, contentHash string) (*catalog.Download, error)
	Stats(ctx context.Context) (*catalog.Stats, error)
}

// ImageHandler serves the four catalog operations over HTTP.
type ImageHandler struct {
	catalog Catalog
}

// NewImageHandler creates an ImageHandler over c.
func NewImageHandler(c Catalog) *ImageHandler {
	return &ImageHandler{catalog: c}
}

// GetMetadata handles GET /metadata/{s3objectkey}.
func (h *ImageHandler) GetMetadata(w http.ResponseWriter, r *http.Request) {
	rec, err := h.catalog.Lookup(r.Context(), chi.URLParam(r, ContentHashParam))
	api.Write(w, api.Lookup(rec, err))
}

// GetImage handles GET /image/{s3objectkey}. The body is written raw; the
// base64 framing with IsBase64Encoded belongs to the API Gateway adapter in
// lambdafn, where the proxy response body must be text. When the fetched
// object's length disagrees with the recorded size the actual length is
// sent, since a mismatched Content-Length breaks the connection.
func (h *ImageHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	d, err := h.catalog.Download(r.Context(), chi.URLParam(r, ContentHashParam))
	resp := api.Download(d, err)
	if err == nil && int64(len(d.Body)) != d.ContentLength {
		slog.Warn("Object size differs from recorded size",
			"s3objectkey", d.Record.ContentHash,
			"recorded", d.ContentLength,
			"actual", len(d.Body),
		)
		resp.Headers["Content-Length"] = strconv.Itoa(len(d.Body))
	}
	api.Write(w, resp)
}

// GetInfo handles GET /info.
func (h *ImageHandler) GetInfo(w http.ResponseWriter, r *http.Request) {
	s, err := h.catalog.Stats(r.Context())
	api.Write(w, api.Stats(s, err))
}

// PostS3Event handles POST /events/s3. The body is an S3 event
// notification. The batch is processed before replying, but write
// failures never change the reply.
func (h *ImageHandler) PostS3Event(w http.ResponseWriter, r *http.Request) {
	ev, err := decodeS3Event(r.Body)
	if err != nil {
		slog.Warn("Rejected S3 event body", "error", err)
		api.Write(w, api.BadRequest("events.DecodeS3Event", err))
		return
	}
	report := h.catalog.Ingest(r.Context(), catalog.NotificationsFromS3Event(ev))
	api.Write(w, api.Ingest(report))
}

func decodeS3Event(body io.Reader) (events.S3Event, error) {
	var ev events.S3Event
	data, err := io.ReadAll(io.LimitReader(body, maxEventBytes+1))
	if err != nil {
		return ev, fmt.Errorf("reading event body: %w", err)
	}
	if len(data) > maxEventBytes {
		return ev, fmt.Errorf("event body exceeds %d bytes", maxEventBytes)
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("decoding S3 event: %w", err)
	}
	return ev, nil
}

var _ Catalog = (*catalog.Catalog)(nil)
