// Package main is the AWS Lambda entry point. IMGMETA_HANDLER selects the
// function: ingest, metadata, image or stats. Configuration comes from the
// environment, optionally on top of the file named by IMGMETA_CONFIG.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/imgmeta/imgmeta/internal/catalog"
	"github.com/imgmeta/imgmeta/internal/config"
	"github.com/imgmeta/imgmeta/internal/lambdafn"
	"github.com/imgmeta/imgmeta/internal/logging"
	"github.com/imgmeta/imgmeta/internal/metadata"
	"github.com/imgmeta/imgmeta/internal/storage"
)

func main() {
	name := os.Getenv("IMGMETA_HANDLER")

	cfg := config.Default()
	// Lambda deployments talk to DynamoDB and S3 unless told otherwise.
	cfg.Metadata.Engine = "dynamodb"
	cfg.Storage.Backend = "aws"
	cfg.Logging.Format = "json"
	if path := os.Getenv("IMGMETA_CONFIG"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			fatal("failed to load config", err)
		}
		cfg = loaded
	}
	if err := config.ApplyEnv(cfg, os.Getenv); err != nil {
		fatal("invalid environment", err)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, "lambda/"+name, os.Stdout)

	ctx := context.Background()
	metaStore, err := metadata.Open(ctx, &cfg.Metadata)
	if err != nil {
		fatal("failed to initialize metadata store", err)
	}
	objects, err := storage.Open(ctx, &cfg.Storage)
	if err != nil {
		fatal("failed to initialize storage backend", err)
	}

	fns := lambdafn.New(catalog.New(metaStore, objects, catalog.OptionsFromConfig(&cfg.Catalog)...))
	handler, err := fns.Select(name)
	if err != nil {
		fatal("invalid IMGMETA_HANDLER", err)
	}

	slog.Info("Starting Lambda handler", "handler", name, "table", metadata.TableName(metaStore))
	lambda.Start(handler)
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
