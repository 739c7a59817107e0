// Package config handles loading and parsing of imgmeta configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for imgmeta.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
	Catalog       CatalogConfig       `yaml:"catalog"`
	Metadata      MetadataConfig      `yaml:"metadata"`
	Storage       StorageConfig       `yaml:"storage"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// ShutdownTimeout is the graceful shutdown window in seconds.
	ShutdownTimeout int `yaml:"shutdown_timeout"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `yaml:"level"`
	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// ObservabilityConfig toggles the operational endpoints.
type ObservabilityConfig struct {
	Metrics     bool `yaml:"metrics"`
	HealthCheck bool `yaml:"health_check"`
}

// CatalogConfig holds settings for the ingest and read operations.
type CatalogConfig struct {
	// StrictNotFound makes a lookup of an unknown content hash answer 404
	// instead of 200 with an empty data object.
	StrictNotFound bool `yaml:"strict_not_found"`
	// IngestConcurrency bounds the number of metadata writes in flight per
	// notification batch.
	IngestConcurrency int `yaml:"ingest_concurrency"`
	// ScanPageSize is the page size requested from the metadata store while
	// computing collection statistics.
	ScanPageSize int `yaml:"scan_page_size"`
}

// MetadataConfig holds metadata store settings.
type MetadataConfig struct {
	// Engine is the metadata backend engine: "memory", "local", "sqlite",
	// "dynamodb", "firestore" or "cosmos".
	Engine    string          `yaml:"engine"`
	Local     LocalMetaConfig `yaml:"local"`
	SQLite    SQLiteConfig    `yaml:"sqlite"`
	DynamoDB  DynamoDBConfig  `yaml:"dynamodb"`
	Firestore FirestoreConfig `yaml:"firestore"`
	Cosmos    CosmosConfig    `yaml:"cosmos"`
}

// LocalMetaConfig holds settings for the JSONL file metadata engine.
type LocalMetaConfig struct {
	RootDir string `yaml:"root_dir"`
	// CompactOnStartup rewrites the log with one line per live record.
	CompactOnStartup bool `yaml:"compact_on_startup"`
}

// SQLiteConfig holds SQLite-specific metadata store settings.
type SQLiteConfig struct {
	// Path is the filesystem path for the SQLite database file.
	Path string `yaml:"path"`
}

// DynamoDBConfig holds DynamoDB metadata store settings.
type DynamoDBConfig struct {
	// Table is the table name. The table's partition key is "s3objectkey".
	Table       string `yaml:"table"`
	Region      string `yaml:"region"`
	EndpointURL string `yaml:"endpoint_url"`
}

// FirestoreConfig holds Firestore metadata store settings.
type FirestoreConfig struct {
	ProjectID       string `yaml:"project_id"`
	Collection      string `yaml:"collection"`
	CredentialsFile string `yaml:"credentials_file"`
}

// CosmosConfig holds Azure Cosmos DB metadata store settings.
type CosmosConfig struct {
	Endpoint  string `yaml:"endpoint"`
	MasterKey string `yaml:"master_key"`
	Database  string `yaml:"database"`
	Container string `yaml:"container"`
}

// StorageConfig holds object storage backend settings.
type StorageConfig struct {
	// Backend is the object store type: "memory", "local", "aws", "gcp" or "azure".
	Backend string      `yaml:"backend"`
	Local   LocalConfig `yaml:"local"`
	AWS     AWSConfig   `yaml:"aws"`
	GCP     GCPConfig   `yaml:"gcp"`
	Azure   AzureConfig `yaml:"azure"`
}

// LocalConfig holds local filesystem storage backend settings.
type LocalConfig struct {
	// RootDir holds one directory per bucket.
	RootDir string `yaml:"root_dir"`
}

// AWSConfig holds S3 client settings.
type AWSConfig struct {
	Region          string `yaml:"region"`
	EndpointURL     string `yaml:"endpoint_url"`
	UsePathStyle    bool   `yaml:"use_path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	// HealthBucket, when set, is probed with HeadBucket by the readiness check.
	HealthBucket string `yaml:"health_bucket"`
}

// GCPConfig holds Cloud Storage client settings.
type GCPConfig struct {
	Project      string `yaml:"project"`
	HealthBucket string `yaml:"health_bucket"`
}

// AzureConfig holds Azure Blob Storage client settings. Buckets map to
// containers of the same name.
type AzureConfig struct {
	// AccountURL is the storage account URL. If empty, it is built from
	// Account as https://{account}.blob.core.windows.net.
	AccountURL         string `yaml:"account_url"`
	Account            string `yaml:"account"`
	ConnectionString   string `yaml:"connection_string"`
	UseManagedIdentity bool   `yaml:"use_managed_identity"`
	HealthContainer    string `yaml:"health_container"`
}

// Load reads a YAML configuration file from the given path and returns
// a parsed Config with defaults applied for unset values. If the file does
// not exist, it falls back to imgmeta.example.yaml in the same or the
// parent directory.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		fallbackPaths := []string{
			filepath.Join(filepath.Dir(path), "imgmeta.example.yaml"),
			filepath.Join(filepath.Dir(path), "..", "imgmeta.example.yaml"),
		}
		var fallbackErr error
		for _, fp := range fallbackPaths {
			data, fallbackErr = os.ReadFile(fp)
			if fallbackErr == nil {
				break
			}
		}
		if fallbackErr != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

// Default returns a Config with sensible defaults for local development.
func Default() *Config {
	cfg := &Config{
		Observability: ObservabilityConfig{
			Metrics:     true,
			HealthCheck: true,
		},
	}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults fills in any fields that are still at their zero value
// after YAML unmarshaling.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Catalog.IngestConcurrency <= 0 {
		cfg.Catalog.IngestConcurrency = 8
	}
	if cfg.Catalog.ScanPageSize <= 0 {
		cfg.Catalog.ScanPageSize = 100
	}
	if cfg.Metadata.Engine == "" {
		cfg.Metadata.Engine = "sqlite"
	}
	if cfg.Metadata.Local.RootDir == "" {
		cfg.Metadata.Local.RootDir = "./data/metadata"
	}
	if cfg.Metadata.SQLite.Path == "" {
		cfg.Metadata.SQLite.Path = "./data/metadata.db"
	}
	if cfg.Metadata.DynamoDB.Table == "" {
		cfg.Metadata.DynamoDB.Table = "imgmeta"
	}
	if cfg.Metadata.DynamoDB.Region == "" {
		cfg.Metadata.DynamoDB.Region = "us-east-1"
	}
	if cfg.Metadata.Firestore.Collection == "" {
		cfg.Metadata.Firestore.Collection = "imgmeta"
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "local"
	}
	if cfg.Storage.Local.RootDir == "" {
		cfg.Storage.Local.RootDir = "./data/objects"
	}
	if cfg.Storage.AWS.Region == "" {
		cfg.Storage.AWS.Region = "us-east-1"
	}
}

// ApplyEnv overlays environment variables onto cfg. It is used by the
// Lambda entry point, where configuration arrives through the function
// environment rather than a file. Unset variables leave cfg untouched.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}

	if v := getenv("IMGMETA_METADATA_ENGINE"); v != "" {
		cfg.Metadata.Engine = v
	}
	if v := getenv("DYNAMODB_TABLE"); v != "" {
		cfg.Metadata.DynamoDB.Table = v
	}
	if v := getenv("IMGMETA_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := getenv("AWS_REGION"); v != "" {
		cfg.Metadata.DynamoDB.Region = v
		cfg.Storage.AWS.Region = v
	}
	if v := getenv("IMGMETA_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := getenv("IMGMETA_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := getenv("IMGMETA_STRICT_NOT_FOUND"); v != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parsing IMGMETA_STRICT_NOT_FOUND: %w", err)
		}
		cfg.Catalog.StrictNotFound = b
	}
	if v := getenv("IMGMETA_INGEST_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parsing IMGMETA_INGEST_CONCURRENCY: %w", err)
		}
		cfg.Catalog.IngestConcurrency = n
	}

	applyDefaults(cfg)
	return nil
}
