package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Cache    CacheConfig
	Schema   SchemaConfig
	Store    StoreConfig
	External ExternalConfig
	Log      LogConfig
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host        string
	Port        int // gRPC health port
	HTTPPort    int
	MetricsPort int // Port for Prometheus metrics HTTP server
}

// CacheConfig represents cache configuration
type CacheConfig struct {
	Enabled        bool
	MaxMemoryBytes int64 // Maximum memory usage in bytes (e.g., 104857600 = 100MB)
	TTLMinutes     int   // Time-to-live for cache entries in minutes
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// SchemaConfig locates the schema definition served by this process
type SchemaConfig struct {
	File  string
	Watch bool
	Tag   string
}

// StoreConfig tunes the entity store
type StoreConfig struct {
	MaxParams int // Bind parameter ceiling of bulk statements
	History   bool
}

// ExternalConfig selects the store for documents, instances and file references
type ExternalConfig struct {
	Backend  string // memory or dynamodb
	Table    string
	Region   string
	Endpoint string
}

// LogConfig represents logger configuration
type LogConfig struct {
	Level       string
	Development bool
}

// FindProjectRoot finds the project root directory by looking for go.mod
func FindProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	// Walk up the directory tree until we find go.mod
	for {
		goModPath := filepath.Join(dir, "go.mod")
		if _, err := os.Stat(goModPath); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached the root directory
			return "", fmt.Errorf("go.mod not found in any parent directory")
		}
		dir = parent
	}
}

// InitConfig initializes viper configuration
// env: environment name (dev, test, prod)
func InitConfig(env string) error {
	if env == "" {
		env = "dev"
	}

	projectRoot, err := FindProjectRoot()
	if err != nil {
		return fmt.Errorf("failed to find project root: %w", err)
	}

	viper.SetConfigName(fmt.Sprintf(".env.%s", env))
	viper.SetConfigType("env")
	viper.AddConfigPath(projectRoot)

	// Read config file (optional, ignore error if not found)
	_ = viper.ReadInConfig()

	// Environment variables take precedence over config file
	viper.AutomaticEnv()

	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("SERVER_PORT", 50051)
	viper.SetDefault("HTTP_PORT", 8080)
	viper.SetDefault("METRICS_PORT", 9090)
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", 15432)
	viper.SetDefault("DB_USER", "wrd")
	viper.SetDefault("DB_NAME", "wrd_dev")
	viper.SetDefault("DB_SSLMODE", "disable")

	viper.SetDefault("CACHE_ENABLED", true)
	viper.SetDefault("CACHE_MAX_MEMORY_BYTES", 100*1024*1024) // 100MB
	viper.SetDefault("CACHE_TTL_MINUTES", 5)

	viper.SetDefault("SCHEMA_FILE", "schema.yaml")
	viper.SetDefault("SCHEMA_WATCH", true)
	viper.SetDefault("STORE_MAX_PARAMS", 65535)
	viper.SetDefault("STORE_HISTORY", true)

	viper.SetDefault("EXTERNAL_BACKEND", "memory")
	viper.SetDefault("EXTERNAL_TABLE", "wrd_external")
	viper.SetDefault("EXTERNAL_REGION", "eu-west-1")

	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_DEVELOPMENT", env == "dev")

	return nil
}

// Load loads configuration from viper
func Load() (*Config, error) {
	// DB_PASSWORD is required for security
	dbPassword := viper.GetString("DB_PASSWORD")
	if dbPassword == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required (set via environment variable or .env file)")
	}

	config := &Config{
		Server: ServerConfig{
			Host:        viper.GetString("SERVER_HOST"),
			Port:        viper.GetInt("SERVER_PORT"),
			HTTPPort:    viper.GetInt("HTTP_PORT"),
			MetricsPort: viper.GetInt("METRICS_PORT"),
		},
		Database: DatabaseConfig{
			Host:     viper.GetString("DB_HOST"),
			Port:     viper.GetInt("DB_PORT"),
			User:     viper.GetString("DB_USER"),
			Password: dbPassword,
			Database: viper.GetString("DB_NAME"),
			SSLMode:  viper.GetString("DB_SSLMODE"),
		},
		Cache: CacheConfig{
			Enabled:        viper.GetBool("CACHE_ENABLED"),
			MaxMemoryBytes: viper.GetInt64("CACHE_MAX_MEMORY_BYTES"),
			TTLMinutes:     viper.GetInt("CACHE_TTL_MINUTES"),
		},
		Schema: SchemaConfig{
			File:  viper.GetString("SCHEMA_FILE"),
			Watch: viper.GetBool("SCHEMA_WATCH"),
			Tag:   viper.GetString("SCHEMA_TAG"),
		},
		Store: StoreConfig{
			MaxParams: viper.GetInt("STORE_MAX_PARAMS"),
			History:   viper.GetBool("STORE_HISTORY"),
		},
		External: ExternalConfig{
			Backend:  viper.GetString("EXTERNAL_BACKEND"),
			Table:    viper.GetString("EXTERNAL_TABLE"),
			Region:   viper.GetString("EXTERNAL_REGION"),
			Endpoint: viper.GetString("EXTERNAL_ENDPOINT"),
		},
		Log: LogConfig{
			Level:       viper.GetString("LOG_LEVEL"),
			Development: viper.GetBool("LOG_DEVELOPMENT"),
		},
	}

	switch config.External.Backend {
	case "memory", "dynamodb":
	default:
		return nil, fmt.Errorf("EXTERNAL_BACKEND must be memory or dynamodb, got %q", config.External.Backend)
	}

	return config, nil
}

// ConnectionString returns PostgreSQL connection string
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Database,
		c.SSLMode,
	)
}
