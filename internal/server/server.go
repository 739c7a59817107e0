// Package server implements the imgmeta HTTP server: the catalog routes on
// a chi router plus the documented system endpoints served through Huma.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/imgmeta/imgmeta/internal/config"
	"github.com/imgmeta/imgmeta/internal/handlers"
	"github.com/imgmeta/imgmeta/internal/metadata"
	"github.com/imgmeta/imgmeta/internal/storage"
)

// probeTimeout bounds each store probe made by /health and /readyz.
const probeTimeout = 5 * time.Second

// Server is the imgmeta HTTP server.
type Server struct {
	cfg        *config.Config
	router     chi.Router
	api        huma.API
	meta       metadata.Store
	objects    storage.ObjectStore
	images     *handlers.ImageHandler
	httpServer *http.Server
}

// HealthCheck is the result of probing one dependency.
type HealthCheck struct {
	Status    string `json:"status" example:"ok" doc:"ok or error"`
	LatencyMs int64  `json:"latency_ms" doc:"Probe latency in milliseconds"`
	Error     string `json:"error,omitempty" doc:"Probe error, if any"`
}

// HealthBody is the JSON body returned by the health check endpoint.
type HealthBody struct {
	Status string                 `json:"status" example:"ok" doc:"Health status"`
	Checks map[string]HealthCheck `json:"checks,omitempty" doc:"Per-dependency probes"`
}

// HealthOutput is the Huma output struct for the health check endpoint.
type HealthOutput struct {
	Status int
	Body   HealthBody
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithMetadataStore sets the metadata store probed by the health endpoints.
func WithMetadataStore(meta metadata.Store) ServerOption {
	return func(s *Server) {
		s.meta = meta
	}
}

// WithObjectStore sets the object store probed by the health endpoints.
func WithObjectStore(objects storage.ObjectStore) ServerOption {
	return func(s *Server) {
		s.objects = objects
	}
}

// New creates a Server that serves the catalog routes over c.
func New(cfg *config.Config, c handlers.Catalog, opts ...ServerOption) *Server {
	router := chi.NewMux()

	humaConfig := huma.DefaultConfig("imgmeta API", "1.0.0")
	humaConfig.DocsPath = "/docs"
	humaConfig.OpenAPIPath = "/openapi"
	api := humachi.New(router, humaConfig)

	s := &Server{
		cfg:    cfg,
		router: router,
		api:    api,
		images: handlers.NewImageHandler(c),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registerRoutes()
	return s
}

// Handler returns the router wrapped in the middleware chain:
// metricsMiddleware -> commonHeaders -> requestID -> router.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.router
	handler = requestID(handler)
	handler = commonHeaders(handler)
	if s.cfg.Observability.Metrics {
		handler = metricsMiddleware(handler)
	}
	return handler
}

// ListenAndServe starts the HTTP server on the given address.
// The returned http.Server is stored so it can be shut down gracefully.
func (s *Server) ListenAndServe(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server, waiting for in-flight
// requests to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// registerRoutes configures all routes on the Chi router. Huma owns
// /health, /docs and /openapi; the catalog routes are plain chi handlers
// because the download route streams binary bodies.
func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health status of the server and, when health checks are enabled, of both stores.",
		Tags:        []string{"System"},
	}, func(ctx context.Context, input *struct{}) (*HealthOutput, error) {
		return s.health(ctx), nil
	})

	// Huma only does one method per registration.
	s.router.Head("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
	})

	if s.cfg.Observability.HealthCheck {
		s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		s.router.Get("/readyz", s.readyz)
	}

	if s.cfg.Observability.Metrics {
		s.router.Handle("/metrics", promhttp.Handler())
	}

	s.router.Get("/metadata/{"+handlers.ContentHashParam+"}", s.images.GetMetadata)
	s.router.Get("/image/{"+handlers.ContentHashParam+"}", s.images.GetImage)
	s.router.Get("/info", s.images.GetInfo)
	s.router.Post("/events/s3", s.images.PostS3Event)
}

// probes runs every configured store probe.
func (s *Server) probes(ctx context.Context) map[string]HealthCheck {
	checks := make(map[string]HealthCheck)
	if s.meta != nil {
		checks["metadata"] = probe(ctx, s.meta.Ping)
	}
	if s.objects != nil {
		checks["storage"] = probe(ctx, s.objects.HealthCheck)
	}
	return checks
}

func probe(ctx context.Context, fn func(context.Context) error) HealthCheck {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	check := HealthCheck{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		check.Status = "error"
		check.Error = err.Error()
	}
	return check
}

func (s *Server) health(ctx context.Context) *HealthOutput {
	out := &HealthOutput{Status: http.StatusOK, Body: HealthBody{Status: "ok"}}
	if !s.cfg.Observability.HealthCheck {
		return out
	}
	checks := s.probes(ctx)
	if len(checks) == 0 {
		return out
	}
	out.Body.Checks = checks
	for _, c := range checks {
		if c.Status != "ok" {
			out.Status = http.StatusServiceUnavailable
			out.Body.Status = "degraded"
		}
	}
	return out
}

// readyz answers 200 with an empty body when both stores respond, 503
// otherwise.
func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	for _, c := range s.probes(r.Context()) {
		if c.Status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}
