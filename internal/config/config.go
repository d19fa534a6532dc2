package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// DefaultPath is read when SCRIBE_CONFIG is unset. A missing file is not an error.
const DefaultPath = "config.toml"

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Storage  StorageConfig  `toml:"storage"`
	OpenAI   OpenAIConfig   `toml:"openai"`
	Auth     AuthConfig     `toml:"auth"`
	Logging  LoggingConfig  `toml:"logging"`
	Tracing  TracingConfig  `toml:"tracing"`
	Metrics  MetricsConfig  `toml:"metrics"`
}

// ServerConfig represents the HTTP server configuration
type ServerConfig struct {
	Host               string   `toml:"host"`
	Port               int      `toml:"port"`
	PublicBaseURL      string   `toml:"public_base_url"`
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`
	ReadTimeoutSecs    int      `toml:"read_timeout_secs"`
	WriteTimeoutSecs   int      `toml:"write_timeout_secs"`
	IdleTimeoutSecs    int      `toml:"idle_timeout_secs"`
	ShutdownTimeoutSec int      `toml:"shutdown_timeout_secs"`
	MaxConnections     int      `toml:"max_connections"`
	UploadDir          string   `toml:"upload_dir"`
	UploadMaxBytes     int64    `toml:"upload_max_bytes"`
}

// Address returns the listen address
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// BaseURL returns the public base URL, defaulting to localhost on the configured port
func (s ServerConfig) BaseURL() string {
	if s.PublicBaseURL != "" {
		return strings.TrimRight(s.PublicBaseURL, "/")
	}
	return fmt.Sprintf("http://localhost:%d", s.Port)
}

// DatabaseConfig represents the relational store configuration
type DatabaseConfig struct {
	// URL is either a postgres:// DSN or a sqlite file path
	URL                string `toml:"url"`
	MaxOpenConns       int    `toml:"max_open_conns"`
	ConnectTimeoutSecs int    `toml:"connect_timeout_secs"`
}

// StorageConfig represents the audio storage configuration
type StorageConfig struct {
	S3Bucket           string `toml:"s3_bucket"`
	S3Endpoint         string `toml:"s3_endpoint"`
	AWSRegion          string `toml:"aws_region"`
	AWSAccessKeyID     string `toml:"aws_access_key_id"`
	AWSSecretAccessKey string `toml:"aws_secret_access_key"`
	URLExpiresSecs     int    `toml:"url_expires_secs"`
}

// OpenAIConfig represents the language-model provider configuration
type OpenAIConfig struct {
	APIKey             string `toml:"api_key"`
	BaseURL            string `toml:"base_url"`
	Model              string `toml:"model"`
	TranscriptionModel string `toml:"transcription_model"`
	TimeoutSeconds     int    `toml:"timeout_seconds"`
}

// Enabled reports whether a provider credential is configured
func (o OpenAIConfig) Enabled() bool {
	return o.APIKey != ""
}

// AuthConfig represents the basic-auth pair. Either field empty disables auth.
type AuthConfig struct {
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// Enabled reports whether basic auth is enforced
func (a AuthConfig) Enabled() bool {
	return a.Username != "" && a.Password != ""
}

// LoggingConfig represents the logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// TracingConfig represents the OpenTelemetry configuration
type TracingConfig struct {
	Enabled     bool    `toml:"enabled"`
	ServiceName string  `toml:"service_name"`
	Endpoint    string  `toml:"endpoint"`
	SampleRate  float64 `toml:"sample_rate"`
}

// MetricsConfig represents the prometheus configuration
type MetricsConfig struct {
	Enabled   bool   `toml:"enabled"`
	Namespace string `toml:"namespace"`
}

// Default returns a configuration populated with defaults
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               4000,
			ReadTimeoutSecs:    30,
			WriteTimeoutSecs:   300,
			IdleTimeoutSecs:    120,
			ShutdownTimeoutSec: 15,
			UploadDir:          "uploads",
			UploadMaxBytes:     20 * 1024 * 1024,
		},
		Database: DatabaseConfig{
			URL:                "scribe.db",
			MaxOpenConns:       10,
			ConnectTimeoutSecs: 30,
		},
		Storage: StorageConfig{
			AWSRegion:      "us-east-1",
			URLExpiresSecs: 3600,
		},
		OpenAI: OpenAIConfig{
			Model:              "gpt-3.5-turbo-1106",
			TranscriptionModel: "whisper-1",
			TimeoutSeconds:     60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Tracing: TracingConfig{
			ServiceName: "oasis-scribe",
			SampleRate:  1.0,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "scribe",
		},
	}
}

// Load resolves configuration from defaults, an optional TOML file, an
// optional .env file and finally the process environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("SCRIBE_CONFIG")
	}
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if !errors.Is(err, fs.ErrNotExist) || explicit {
			return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
		}
	}

	// .env never overrides variables already present in the environment
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg.applyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// lookupFunc matches os.LookupEnv
type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) {
	setString(lookup, "HOST", &c.Server.Host)
	setInt(lookup, "PORT", &c.Server.Port)
	setString(lookup, "PUBLIC_BASE_URL", &c.Server.PublicBaseURL)
	setSlice(lookup, "ALLOWED_ORIGINS", &c.Server.CORSAllowedOrigins)
	setInt(lookup, "MAX_CONNECTIONS", &c.Server.MaxConnections)
	setString(lookup, "UPLOAD_DIR", &c.Server.UploadDir)
	setInt64(lookup, "UPLOAD_MAX_BYTES", &c.Server.UploadMaxBytes)
	setInt(lookup, "SHUTDOWN_TIMEOUT_SECS", &c.Server.ShutdownTimeoutSec)

	setString(lookup, "DATABASE_URL", &c.Database.URL)
	setInt(lookup, "DB_MAX_OPEN_CONNS", &c.Database.MaxOpenConns)

	setString(lookup, "S3_BUCKET", &c.Storage.S3Bucket)
	setString(lookup, "S3_ENDPOINT", &c.Storage.S3Endpoint)
	setString(lookup, "AWS_REGION", &c.Storage.AWSRegion)
	setString(lookup, "AWS_ACCESS_KEY_ID", &c.Storage.AWSAccessKeyID)
	setString(lookup, "AWS_SECRET_ACCESS_KEY", &c.Storage.AWSSecretAccessKey)
	setInt(lookup, "S3_URL_EXPIRES", &c.Storage.URLExpiresSecs)

	setString(lookup, "OPENAI_API_KEY", &c.OpenAI.APIKey)
	setString(lookup, "OPENAI_BASE_URL", &c.OpenAI.BaseURL)
	setString(lookup, "OPENAI_MODEL", &c.OpenAI.Model)
	setString(lookup, "OPENAI_TRANSCRIPTION_MODEL", &c.OpenAI.TranscriptionModel)
	setInt(lookup, "OPENAI_TIMEOUT", &c.OpenAI.TimeoutSeconds)

	setString(lookup, "AUTH_USER", &c.Auth.Username)
	setString(lookup, "AUTH_PASS", &c.Auth.Password)

	setString(lookup, "LOG_LEVEL", &c.Logging.Level)
	setString(lookup, "LOG_FORMAT", &c.Logging.Format)

	setBool(lookup, "TRACING_ENABLED", &c.Tracing.Enabled)
	setString(lookup, "OTEL_EXPORTER_OTLP_ENDPOINT", &c.Tracing.Endpoint)
	setString(lookup, "OTEL_SERVICE_NAME", &c.Tracing.ServiceName)

	setBool(lookup, "METRICS_ENABLED", &c.Metrics.Enabled)
}

// Validate collects every configuration problem into one error
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("PORT must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.UploadMaxBytes <= 0 {
		errs = append(errs, "UPLOAD_MAX_BYTES must be positive")
	}
	if c.Server.UploadDir == "" {
		errs = append(errs, "UPLOAD_DIR is required")
	}
	if c.Storage.URLExpiresSecs <= 0 {
		errs = append(errs, "S3_URL_EXPIRES must be positive")
	}
	if c.Database.URL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("LOG_FORMAT must be json or console, got %q", c.Logging.Format))
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		errs = append(errs, "OTEL_EXPORTER_OTLP_ENDPOINT is required when tracing is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ReadTimeout returns the HTTP read timeout
func (s ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutSecs) * time.Second
}

// WriteTimeout returns the HTTP write timeout
func (s ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutSecs) * time.Second
}

// IdleTimeout returns the keep-alive idle timeout
func (s ServerConfig) IdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeoutSecs) * time.Second
}

// ShutdownTimeout bounds graceful shutdown and trace flushing
func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutSec) * time.Second
}

func setString(lookup lookupFunc, key string, dst *string) {
	if v, ok := lookup(key); ok {
		*dst = strings.TrimSpace(v)
	}
}

func setInt(lookup lookupFunc, key string, dst *int) {
	if v, ok := lookup(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = i
		}
	}
}

func setInt64(lookup lookupFunc, key string, dst *int64) {
	if v, ok := lookup(key); ok {
		if i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			*dst = i
		}
	}
}

func setBool(lookup lookupFunc, key string, dst *bool) {
	if v, ok := lookup(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			*dst = b
		}
	}
}

func setSlice(lookup lookupFunc, key string, dst *[]string) {
	v, ok := lookup(key)
	if !ok {
		return
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			result = append(result, t)
		}
	}
	*dst = result
}
