package metadata

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/imgmeta/imgmeta/internal/config"
)

// Open constructs the Store selected by cfg.Engine.
func Open(ctx context.Context, cfg *config.MetadataConfig) (Store, error) {
	switch cfg.Engine {
	case "memory":
		slog.Info("Metadata store initialized", "engine", "memory")
		return NewMemoryStore(), nil
	case "local":
		s, err := NewLocalStore(&cfg.Local)
		if err != nil {
			return nil, err
		}
		slog.Info("Metadata store initialized", "engine", "local", "root", cfg.Local.RootDir)
		return s, nil
	case "", "sqlite":
		dbPath := cfg.SQLite.Path
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating metadata directory: %w", err)
		}
		s, err := NewSQLiteStore(dbPath)
		if err != nil {
			return nil, err
		}
		slog.Info("Metadata store initialized", "engine", "sqlite", "path", dbPath)
		return s, nil
	case "dynamodb":
		s, err := NewDynamoDBStore(ctx, &cfg.DynamoDB)
		if err != nil {
			return nil, err
		}
		slog.Info("Metadata store initialized", "engine", "dynamodb", "table", cfg.DynamoDB.Table, "region", cfg.DynamoDB.Region)
		return s, nil
	case "firestore":
		s, err := NewFirestoreStore(ctx, &cfg.Firestore)
		if err != nil {
			return nil, err
		}
		slog.Info("Metadata store initialized", "engine", "firestore", "project", cfg.Firestore.ProjectID, "collection", cfg.Firestore.Collection)
		return s, nil
	case "cosmos":
		s, err := NewCosmosStore(ctx, &cfg.Cosmos)
		if err != nil {
			return nil, err
		}
		slog.Info("Metadata store initialized", "engine", "cosmos", "database", cfg.Cosmos.Database, "container", cfg.Cosmos.Container)
		return s, nil
	default:
		return nil, fmt.Errorf("unknown metadata engine %q", cfg.Engine)
	}
}
