// Package config provides configuration management for the bridge server.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the bridge server.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Files    FilesConfig    `mapstructure:"files" yaml:"files"`
	Auth     AuthConfig     `mapstructure:"auth" yaml:"auth"`
	Events   EventsConfig   `mapstructure:"events" yaml:"events"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host" yaml:"host"`
	Port         int    `mapstructure:"port" yaml:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout" yaml:"readTimeout"`   // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout" yaml:"writeTimeout"` // in seconds
	ExternalURL  string `mapstructure:"externalUrl" yaml:"externalUrl"`   // public URL advertised by the banner
}

// DatabaseConfig holds database connection configuration.
// The default driver is sqlite3 backed by a single database file; pgx selects
// PostgreSQL, in which case the host/port/user/dbName fields apply.
type DatabaseConfig struct {
	Driver        string `mapstructure:"driver" yaml:"driver"` // sqlite3 or pgx
	Path          string `mapstructure:"path" yaml:"path"`     // sqlite database file
	BusyTimeoutMs int    `mapstructure:"busyTimeoutMs" yaml:"busyTimeoutMs"`
	Host          string `mapstructure:"host" yaml:"host"`
	Port          int    `mapstructure:"port" yaml:"port"`
	User          string `mapstructure:"user" yaml:"user"`
	Password      string `mapstructure:"password" yaml:"password"`
	DBName        string `mapstructure:"dbName" yaml:"dbName"`
	SSLMode       string `mapstructure:"sslMode" yaml:"sslMode"`
	MaxConns      int    `mapstructure:"maxConns" yaml:"maxConns"`
	MinConns      int    `mapstructure:"minConns" yaml:"minConns"`
}

// FilesConfig holds blob storage configuration.
type FilesConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	AdminSecret string `mapstructure:"adminSecret" yaml:"adminSecret"`
	SecretFile  string `mapstructure:"secretFile" yaml:"secretFile"`
}

// EventsConfig holds event bus configuration. An empty URL selects the
// in-memory bus; otherwise the server connects to NATS at the given URL.
type EventsConfig struct {
	NATSURL       string `mapstructure:"natsUrl" yaml:"natsUrl"`
	ClientID      string `mapstructure:"clientId" yaml:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects" yaml:"maxReconnects"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	OutputPath string `mapstructure:"outputPath" yaml:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// Addr returns the host:port listen address.
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// IsPostgres reports whether the configured driver is PostgreSQL.
func (d *DatabaseConfig) IsPostgres() bool {
	return d.Driver == "pgx" || d.Driver == "postgres"
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// BusyTimeout returns the SQLite busy timeout as a time.Duration.
func (d *DatabaseConfig) BusyTimeout() time.Duration {
	return time.Duration(d.BusyTimeoutMs) * time.Millisecond
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
// Returns "json" if running in Kubernetes or other production environments.
// Returns "text" for terminal/development use (human-readable console format).
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("BRIDGE_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 60)
	v.SetDefault("server.writeTimeout", 60)
	v.SetDefault("server.externalUrl", "")

	// Database defaults - sqlite file next to the working directory
	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.path", "./bridge.db")
	v.SetDefault("database.busyTimeoutMs", 10000)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "bridge")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbName", "bridge")
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)

	// Files defaults
	v.SetDefault("files.dir", "./bridge_files")

	// Auth defaults - empty secret resolves through the secret file
	v.SetDefault("auth.adminSecret", "")
	v.SetDefault("auth.secretFile", "")

	// Events defaults - empty URL means use in-memory event bus
	v.SetDefault("events.natsUrl", "")
	v.SetDefault("events.clientId", "agent-bridge")
	v.SetDefault("events.maxReconnects", 10)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// LoadWithPath reads configuration from environment variables, config file,
// and defaults. Environment variables use the prefix BRIDGE_ with snake_case
// naming. The config file is config.yaml in configPath, the current directory
// or /etc/agent-bridge/, whichever is found first.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for env vars whose names predate the config layout.
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion, so keys
	// with camelCase names or historical spellings are bound by hand.
	_ = v.BindEnv("auth.adminSecret", "BRIDGE_ADMIN_SECRET")
	_ = v.BindEnv("database.path", "BRIDGE_DB_PATH")
	_ = v.BindEnv("files.dir", "BRIDGE_FILES_DIR")
	_ = v.BindEnv("events.natsUrl", "BRIDGE_NATS_URL")
	_ = v.BindEnv("server.externalUrl", "BRIDGE_EXTERNAL_URL")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/agent-bridge/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	switch {
	case cfg.Database.Driver == "sqlite3":
		if cfg.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite3 driver")
		}
	case cfg.Database.IsPostgres():
		if cfg.Database.Host == "" {
			errs = append(errs, "database.host is required for the pgx driver")
		}
		if cfg.Database.DBName == "" {
			errs = append(errs, "database.dbName is required for the pgx driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported (sqlite3 or pgx)", cfg.Database.Driver))
	}

	if cfg.Database.BusyTimeoutMs <= 0 {
		errs = append(errs, "database.busyTimeoutMs must be positive")
	}

	if cfg.Files.Dir == "" {
		errs = append(errs, "files.dir is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text, console")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}

// SecretFilePath returns the path of the admin secret file: the configured
// path if set, otherwise admin_secret.txt next to the sqlite database.
func (c *Config) SecretFilePath() string {
	if c.Auth.SecretFile != "" {
		return c.Auth.SecretFile
	}
	return filepath.Join(filepath.Dir(c.Database.Path), "admin_secret.txt")
}

// ResolveAdminSecret returns the admin secret, resolving it in order from the
// config value (which BRIDGE_ADMIN_SECRET overrides), the secret file, and
// finally a freshly generated secret persisted to the secret file with 0600
// permissions so restarts keep the same value.
func ResolveAdminSecret(cfg *Config) (string, error) {
	if cfg.Auth.AdminSecret != "" {
		return cfg.Auth.AdminSecret, nil
	}

	path := cfg.SecretFilePath()
	if data, err := os.ReadFile(path); err == nil {
		if secret := strings.TrimSpace(string(data)); secret != "" {
			return secret, nil
		}
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate admin secret: %w", err)
	}
	secret := hex.EncodeToString(buf)

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("failed to prepare secret directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(secret+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("failed to persist admin secret: %w", err)
	}
	return secret, nil
}
