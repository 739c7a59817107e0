package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/imgmeta/imgmeta/internal/config"
)

// Open constructs the ObjectStore selected by cfg.Backend.
func Open(ctx context.Context, cfg *config.StorageConfig) (ObjectStore, error) {
	switch cfg.Backend {
	case "memory":
		slog.Info("Storage backend initialized", "backend", "memory")
		return NewMemoryBackend(), nil
	case "", "local":
		b, err := NewLocalBackend(cfg.Local.RootDir)
		if err != nil {
			return nil, err
		}
		slog.Info("Storage backend initialized", "backend", "local", "root", cfg.Local.RootDir)
		return b, nil
	case "aws":
		return NewAWSBackend(ctx, &cfg.AWS)
	case "gcp":
		return NewGCPBackend(ctx, &cfg.GCP)
	case "azure":
		return NewAzureBackend(ctx, &cfg.Azure)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
