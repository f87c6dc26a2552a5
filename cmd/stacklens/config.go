package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Resolve  ResolveConfig  `mapstructure:"resolve"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// APIToken guards /api/v1 when set.
	// Set via STACKLENS_SERVER_API_TOKEN environment variable.
	APIToken string `mapstructure:"api_token"`
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ResolveConfig holds defaults for loading and resolving projects.
type ResolveConfig struct {
	// RootFiles are the root document names tried, in order, when a
	// directory is loaded without an explicit root.
	RootFiles []string `mapstructure:"root_files"`

	// MaxConcurrency bounds how many projects resolve at once.
	MaxConcurrency int `mapstructure:"max_concurrency"`

	// MaxFileBytes skips larger files when reading a project directory.
	MaxFileBytes int64 `mapstructure:"max_file_bytes"`

	// EnvFiles are read after each project's .env.
	EnvFiles []string `mapstructure:"env_files"`

	// UseOSEnv adds the process environment to interpolation.
	UseOSEnv bool `mapstructure:"use_os_env"`
}

// =============================================================================
// Config Loading
// =============================================================================

// flagKeys maps persistent flags onto config keys.
var flagKeys = map[string]string{
	"log-level":  "log.level",
	"log-format": "log.format",
	"db":         "database.dsn",
}

// LoadConfig loads configuration from file, environment and, when flags is
// not nil, command line flags that were set explicitly.
func LoadConfig(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.api_token", "")
	v.SetDefault("database.dsn", "./data/stacklens.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("resolve.root_files", []string{"compose.yaml", "compose.yml", "docker-compose.yaml", "docker-compose.yml"})
	v.SetDefault("resolve.max_concurrency", 4)
	v.SetDefault("resolve.max_file_bytes", 1<<20)
	v.SetDefault("resolve.env_files", []string{})
	v.SetDefault("resolve.use_os_env", false)

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified and is invalid
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("STACKLENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects values no command can work with.
func (c *Config) Validate() error {
	if c.Resolve.MaxConcurrency < 1 {
		return fmt.Errorf("resolve.max_concurrency must be at least 1, got %d", c.Resolve.MaxConcurrency)
	}
	if c.Resolve.MaxFileBytes < 1 {
		return fmt.Errorf("resolve.max_file_bytes must be positive, got %d", c.Resolve.MaxFileBytes)
	}
	if len(c.Resolve.RootFiles) == 0 {
		return fmt.Errorf("resolve.root_files must not be empty")
	}
	return nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format. Logs go
// to w so command output on stdout stays machine readable.
func SetupLogger(cfg *Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}
