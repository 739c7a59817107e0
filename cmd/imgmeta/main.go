// Package main is the entry point for the imgmeta HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/imgmeta/imgmeta/internal/catalog"
	"github.com/imgmeta/imgmeta/internal/config"
	"github.com/imgmeta/imgmeta/internal/logging"
	"github.com/imgmeta/imgmeta/internal/metadata"
	"github.com/imgmeta/imgmeta/internal/metrics"
	"github.com/imgmeta/imgmeta/internal/server"
	"github.com/imgmeta/imgmeta/internal/storage"
)

func main() {
	configPath := flag.String("config", "imgmeta.yaml", "path to configuration file")
	port := flag.Int("port", 0, "override listening port (default: from config or 8080)")
	host := flag.String("host", "", "override listening host (default: from config or 0.0.0.0)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (default: from config or info)")
	logFormat := flag.String("log-format", "", "log format: text, json (default: from config or text)")
	shutdownTimeout := flag.Int("shutdown-timeout", 0, "graceful shutdown timeout in seconds (default: from config or 30)")
	strictNotFound := flag.Bool("strict-not-found", false, "answer 404 for unknown content hashes instead of 200 with empty data")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := config.ApplyEnv(cfg, os.Getenv); err != nil {
		fmt.Fprintf(os.Stderr, "invalid environment: %v\n", err)
		os.Exit(1)
	}

	// Command-line flags override config file values and the environment.
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}
	if *shutdownTimeout != 0 {
		cfg.Server.ShutdownTimeout = *shutdownTimeout
	}
	if *strictNotFound {
		cfg.Catalog.StrictNotFound = true
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, "server", os.Stderr)

	ctx := context.Background()
	metaStore, err := metadata.Open(ctx, &cfg.Metadata)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize metadata store: %v\n", err)
		os.Exit(1)
	}
	defer metaStore.Close()

	objects, err := storage.Open(ctx, &cfg.Storage)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize storage backend: %v\n", err)
		os.Exit(1)
	}

	if cfg.Observability.Metrics {
		metrics.Register()
	}

	cat := catalog.New(metaStore, objects, catalog.OptionsFromConfig(&cfg.Catalog)...)
	slog.Info("Catalog ready",
		"metadata_engine", cfg.Metadata.Engine,
		"table", metadata.TableName(metaStore),
		"storage_backend", cfg.Storage.Backend,
		"not_found_policy", cat.NotFoundPolicy(),
	)

	srv := server.New(cfg, cat, server.WithMetadataStore(metaStore), server.WithObjectStore(objects))
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	// Start the server in a goroutine so we can handle shutdown signals.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("imgmeta listening", "addr", addr)
		if err := srv.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("Received signal, shutting down", "signal", sig)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Shutdown error", "error", err)
		}
		slog.Info("Server stopped")

	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}
}
