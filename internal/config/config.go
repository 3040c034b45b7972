// Package config handles s3pipe configuration: the YAML file consumed by the
// CLI and the per-transfer property builder consumed by the pipeline.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/bleepstore/s3pipe/internal/logging"
)

// Config is the top-level configuration for s3pipe.
type Config struct {
	Server  ServerConfig    `yaml:"server"`
	Logging logging.Options `yaml:"logging"`
	Journal JournalConfig   `yaml:"journal"`
	Metrics MetricsConfig   `yaml:"metrics"`
	// Transfer holds default transfer properties keyed by property name
	// (e.g. "region", "part-size"). Every transfer starts from these.
	Transfer map[string]string `yaml:"transfer"`
}

// ServerConfig holds HTTP ingest server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// ShutdownTimeout is the graceful shutdown timeout in seconds.
	ShutdownTimeout int `yaml:"shutdown_timeout"`
	// ReadChunkSize is the size of each read from a request body.
	ReadChunkSize int `yaml:"read_chunk_size"`
}

// JournalConfig holds transfer journal settings.
type JournalConfig struct {
	// Engine is the journal engine ("sqlite", "dynamodb", "firestore",
	// "cosmos", "memory" or "none").
	Engine    string          `yaml:"engine"`
	SQLite    SQLiteConfig    `yaml:"sqlite"`
	DynamoDB  DynamoDBConfig  `yaml:"dynamodb"`
	Firestore FirestoreConfig `yaml:"firestore"`
	Cosmos    CosmosConfig    `yaml:"cosmos"`
}

// SQLiteConfig holds SQLite-specific journal settings.
type SQLiteConfig struct {
	// Path is the filesystem path for the SQLite database file.
	Path string `yaml:"path"`
}

// DynamoDBConfig holds settings for the DynamoDB journal.
type DynamoDBConfig struct {
	Table  string `yaml:"table"`
	Region string `yaml:"region"`
	// EndpointURL overrides the DynamoDB endpoint (e.g. DynamoDB Local).
	EndpointURL string `yaml:"endpoint_url"`
}

// FirestoreConfig holds settings for the Firestore journal.
type FirestoreConfig struct {
	ProjectID       string `yaml:"project_id"`
	Collection      string `yaml:"collection"`
	CredentialsFile string `yaml:"credentials_file"`
}

// CosmosConfig holds settings for the Azure Cosmos DB journal.
type CosmosConfig struct {
	Endpoint  string `yaml:"endpoint"`
	MasterKey string `yaml:"master_key"`
	Database  string `yaml:"database"`
	Container string `yaml:"container"`
}

// MetricsConfig controls Prometheus instrumentation.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads a YAML configuration file from the given path and returns
// a parsed Config. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            9300,
			ShutdownTimeout: 30,
			ReadChunkSize:   64 * 1024,
		},
		Logging: logging.Options{
			Level:  "info",
			Format: "text",
		},
		Journal: JournalConfig{
			Engine: "sqlite",
			SQLite: SQLiteConfig{
				Path: "./data/journal.db",
			},
		},
		Metrics:  MetricsConfig{Enabled: true},
		Transfer: map[string]string{},
	}
}

// applyDefaults fills in any fields that are still at their zero value
// after YAML unmarshaling.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9300
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30
	}
	if cfg.Server.ReadChunkSize == 0 {
		cfg.Server.ReadChunkSize = 64 * 1024
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Journal.Engine == "" {
		cfg.Journal.Engine = "sqlite"
	}
	if cfg.Journal.SQLite.Path == "" {
		cfg.Journal.SQLite.Path = "./data/journal.db"
	}
	if cfg.Transfer == nil {
		cfg.Transfer = map[string]string{}
	}
}
