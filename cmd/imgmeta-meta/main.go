// Package main is the entry point for imgmeta-meta, the metadata
// export/import tool. It works against any configured metadata engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/imgmeta/imgmeta/internal/config"
	"github.com/imgmeta/imgmeta/internal/logging"
	"github.com/imgmeta/imgmeta/internal/metadata"
	"github.com/imgmeta/imgmeta/internal/serialization"
)

const usage = "Usage: imgmeta-meta <export|import> [flags]"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}

	switch command := os.Args[1]; command {
	case "export":
		os.Exit(runExport(os.Args[2:]))
	case "import":
		os.Exit(runImport(os.Args[2:]))
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n%s\n", command, usage)
		os.Exit(1)
	}
}

// openStore loads the config and opens its metadata engine. A non-empty
// engine overrides the configured one, and a non-empty db sets the SQLite
// path.
func openStore(ctx context.Context, configPath, engine, db string) (metadata.Store, *config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		cfg = config.Default()
	}
	if engine != "" {
		cfg.Metadata.Engine = engine
	}
	if db != "" {
		cfg.Metadata.SQLite.Path = db
	}
	logging.Setup("warn", "text", "meta", os.Stderr)

	store, err := metadata.Open(ctx, &cfg.Metadata)
	if err != nil {
		return nil, nil, err
	}
	return store, cfg, nil
}

func runExport(args []string) int {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configPath := fs.String("config", "imgmeta.yaml", "Config file path")
	engine := fs.String("engine", "", "Metadata engine (overrides config)")
	dbPath := fs.String("db", "", "SQLite database path (overrides config)")
	output := fs.String("output", "-", "Output file path (- for stdout)")
	pageSize := fs.Int("page-size", 0, "Scan page size")
	fs.Parse(args)

	ctx := context.Background()
	store, cfg, err := openStore(ctx, *configPath, *engine, *dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening metadata store: %v\n", err)
		return 1
	}
	defer store.Close()

	result, err := serialization.Export(ctx, store, &serialization.ExportOptions{
		Engine:   cfg.Metadata.Engine,
		PageSize: *pageSize,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error exporting: %v\n", err)
		return 1
	}

	if *output == "-" {
		fmt.Println(result)
		return 0
	}
	if err := os.WriteFile(*output, []byte(result+"\n"), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing output: %v\n", err)
		return 1
	}
	fmt.Fprintf(os.Stderr, "Exported to %s\n", *output)
	return 0
}

func runImport(args []string) int {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	configPath := fs.String("config", "imgmeta.yaml", "Config file path")
	engine := fs.String("engine", "", "Metadata engine (overrides config)")
	dbPath := fs.String("db", "", "SQLite database path (overrides config)")
	input := fs.String("input", "-", "Input file path (- for stdin)")
	replace := fs.Bool("replace", false, "Overwrite records that already exist")
	fs.Parse(args)

	var jsonData []byte
	var err error
	if *input == "-" {
		jsonData, err = io.ReadAll(os.Stdin)
	} else {
		jsonData, err = os.ReadFile(*input)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
		return 1
	}

	ctx := context.Background()
	store, _, err := openStore(ctx, *configPath, *engine, *dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening metadata store: %v\n", err)
		return 1
	}
	defer store.Close()

	result, err := serialization.Import(ctx, store, string(jsonData), &serialization.ImportOptions{Replace: *replace})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error importing: %v\n", err)
		return 1
	}

	msg := fmt.Sprintf("  records: %d imported", result.Imported)
	if result.Skipped > 0 {
		msg += fmt.Sprintf(", %d skipped", result.Skipped)
	}
	fmt.Fprintln(os.Stderr, msg)
	for _, w := range result.Warnings {
		fmt.Fprintf(os.Stderr, "  WARNING: %s\n", w)
	}
	return 0
}
