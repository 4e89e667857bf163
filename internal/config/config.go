// Package config loads application settings from configs/optistock.yaml, the .env
// file and the process environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/BartekS5/optistock/internal/etl"
	"github.com/BartekS5/optistock/pkg/models"
)

// Config holds all configuration for the application.
type Config struct {
	API       APIConfig             `mapstructure:"api"`
	Extract   ExtractConfig         `mapstructure:"extract"`
	Warehouse WarehouseConfig       `mapstructure:"warehouse"`
	Mapping   []models.MappingEntry `mapstructure:"mapping"`
	Log       LogConfig             `mapstructure:"log"`
	Mongo     MongoConfig           `mapstructure:"mongo"`
	SQLServer SQLServerConfig       `mapstructure:"sqlserver"`
}

type APIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Key     string        `mapstructure:"key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type RetryConfig struct {
	Attempts        int           `mapstructure:"attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

type ExtractConfig struct {
	OutputDir  string `mapstructure:"output_dir"`
	BatchSize  int    `mapstructure:"batch_size"`
	PageSize   int    `mapstructure:"page_size"`
	// Checkpoints is "file", "mongo" or "none".
	Checkpoints   string      `mapstructure:"checkpoints"`
	CheckpointDir string      `mapstructure:"checkpoint_dir"`
	WarehouseID   string      `mapstructure:"warehouse_id"`
	Retry         RetryConfig `mapstructure:"retry"`
}

type WarehouseConfig struct {
	// Driver is "bigquery" or "sqlserver".
	Driver   string `mapstructure:"driver"`
	Project  string `mapstructure:"project"`
	Dataset  string `mapstructure:"dataset"`
	Location string `mapstructure:"location"`
	// CredentialsPath is a service account key file. Empty or "ambient" uses
	// application default credentials.
	CredentialsPath string `mapstructure:"credentials_path"`
	SampleSize      int    `mapstructure:"sample_size"`
}

// AmbientCredentials reports whether application default credentials should be used.
func (w WarehouseConfig) AmbientCredentials() bool {
	p := strings.TrimSpace(w.CredentialsPath)
	return p == "" || strings.EqualFold(p, "ambient")
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
	// RecordRuns stores every batch report in the load_runs collection.
	RecordRuns bool `mapstructure:"record_runs"`
}

type SQLServerConfig struct {
	ConnectionString string `mapstructure:"connection_string"`
}

// DefaultMapping is used when the configuration declares no mapping entries.
func DefaultMapping() []models.MappingEntry {
	return []models.MappingEntry{
		{File: "warehouse_movements.csv", Table: "warehouse_movements", Mode: "APPEND"},
		{File: "items_inventory.csv", Table: "inventory", Mode: "APPEND"},
		{File: "purchase_orders.csv", Table: "purchases", Mode: "APPEND"},
		{File: "factura_items.csv", Table: "sales", Mode: "APPEND"},
		{File: "warehouse_inventory.csv", Table: "warehouse_inventory", Mode: "APPEND"},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "https://api.alegra.com/api/v1")
	v.SetDefault("api.timeout", "30s")
	v.SetDefault("extract.output_dir", ".")
	v.SetDefault("extract.batch_size", 300)
	v.SetDefault("extract.page_size", 30)
	v.SetDefault("extract.checkpoints", "file")
	v.SetDefault("extract.checkpoint_dir", ".checkpoints")
	v.SetDefault("extract.retry.attempts", 3)
	v.SetDefault("extract.retry.initial_interval", "1s")
	v.SetDefault("extract.retry.max_interval", "30s")
	v.SetDefault("warehouse.driver", "bigquery")
	v.SetDefault("warehouse.dataset", "optistock")
	v.SetDefault("warehouse.location", "US")
	v.SetDefault("warehouse.sample_size", 1000)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("mongo.database", "optistock")
}

// Load reads configuration. configPath may be empty, in which case optistock.yaml is
// looked up in ./configs and the working directory; a missing file is not an error.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("optistock")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("OPTISTOCK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	_ = v.BindEnv("api.key", "OPTISTOCK_API_KEY", "KEY_ALEGRA")
	_ = v.BindEnv("warehouse.credentials_path", "OPTISTOCK_WAREHOUSE_CREDENTIALS_PATH", "GOOGLE_APPLICATION_CREDENTIALS")
	_ = v.BindEnv("warehouse.project", "OPTISTOCK_WAREHOUSE_PROJECT", "GOOGLE_CLOUD_PROJECT")
	_ = v.BindEnv("sqlserver.connection_string", "OPTISTOCK_SQLSERVER_CONNECTION_STRING", "SQL_CONNECTION_STRING")
	_ = v.BindEnv("mongo.uri", "OPTISTOCK_MONGO_URI", "MONGO_CONNECTION_STRING")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if len(cfg.Mapping) == 0 {
		cfg.Mapping = DefaultMapping()
	}
	return &cfg, nil
}

// Validate checks the settings every command relies on. Command-specific requirements
// (the API key, the mapping) are checked where they are used.
func (c *Config) Validate() error {
	switch c.Warehouse.Driver {
	case "bigquery":
	case "sqlserver":
		if c.SQLServer.ConnectionString == "" {
			return errors.New("SQL_CONNECTION_STRING environment variable not set")
		}
	default:
		return fmt.Errorf("unknown warehouse driver %q (want bigquery or sqlserver)", c.Warehouse.Driver)
	}
	switch c.Extract.Checkpoints {
	case "", "none", "file":
	case "mongo":
		if c.Mongo.URI == "" {
			return errors.New("MONGO_CONNECTION_STRING environment variable not set")
		}
	default:
		return fmt.Errorf("unknown checkpoint store %q (want file, mongo or none)", c.Extract.Checkpoints)
	}
	if c.Mongo.RecordRuns && c.Mongo.URI == "" {
		return errors.New("mongo.record_runs needs MONGO_CONNECTION_STRING")
	}
	if c.Extract.BatchSize <= 0 {
		return fmt.Errorf("extract.batch_size must be positive, got %d", c.Extract.BatchSize)
	}
	if c.Extract.PageSize <= 0 || c.Extract.PageSize > etl.MaxPageSize {
		return fmt.Errorf("extract.page_size must be between 1 and %d, got %d", etl.MaxPageSize, c.Extract.PageSize)
	}
	if c.Extract.Retry.Attempts < 1 {
		return fmt.Errorf("extract.retry.attempts must be at least 1, got %d", c.Extract.Retry.Attempts)
	}
	return nil
}
