// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Publish targets.
const (
	PublishNone  = ""
	PublishS3    = "s3"
	PublishGCS   = "gcs"
	PublishAzure = "azure"
)

// PublishConfig selects the object store that report files are uploaded to.
type PublishConfig struct {
	Target string // "", s3, gcs or azure
	Bucket string // bucket, or container for azure
	Prefix string // key prefix inside the bucket

	// S3 static credentials. Endpoint is optional (AWS when nil); region
	// defaults to us-east-1.
	S3KeyID    *string
	S3Secret   *string
	S3Endpoint *string
	S3Region   *string

	GCSCredentialsFile string

	AzureAccountName      string
	AzureAccountKey       string
	AzureConnectionString string
}

// Enabled reports whether a publish target is configured.
func (p *PublishConfig) Enabled() bool {
	return p.Target != PublishNone
}

// HasS3Keys returns true if a static S3 key pair is set.
func (p *PublishConfig) HasS3Keys() bool {
	return p.S3KeyID != nil && p.S3Secret != nil
}

// Validate checks that the publish configuration is internally consistent.
func (p *PublishConfig) Validate() error {
	switch p.Target {
	case PublishNone:
		return nil
	case PublishS3:
		if !p.HasS3Keys() {
			return fmt.Errorf("KEY_ID and SECRET are required for s3 publishing")
		}
	case PublishGCS:
	case PublishAzure:
		if p.AzureConnectionString == "" && (p.AzureAccountName == "" || p.AzureAccountKey == "") {
			return fmt.Errorf("AZURE_STORAGE_CONNECTION_STRING or AZURE_STORAGE_ACCOUNT with AZURE_STORAGE_KEY is required for azure publishing")
		}
	default:
		return fmt.Errorf("unsupported PUBLISH_TARGET %q (want s3, gcs or azure)", p.Target)
	}
	if p.Bucket == "" {
		return fmt.Errorf("PUBLISH_BUCKET is required when PUBLISH_TARGET is set")
	}
	if (p.S3KeyID == nil) != (p.S3Secret == nil) {
		return fmt.Errorf("both KEY_ID and SECRET must be set together")
	}
	return nil
}

// Config holds process-level settings for the CLI and the HTTP API.
type Config struct {
	DuckDBPath   string // DuckDB database file; empty or ":memory:" for in-memory
	RunLogPath   string // SQLite run ledger file
	PipelinePath string // pipeline definition YAML
	ListenAddr   string // HTTP listen address (default ":8080")
	LogLevel     string // log level: debug, info, warn, error (default "info")
	LogFormat    string // text (default) or json
	Env          string // environment: "development" (default) or "production"

	// Rate limiting
	RateLimitRPS   float64 // sustained requests per second (default 50)
	RateLimitBurst int     // burst capacity (default 100)

	// CORS
	CORSAllowedOrigins []string // allowed origins for CORS (default: ["*"])

	Publish PublishConfig

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// NewLogger builds the process logger from LogLevel and LogFormat.
func (c *Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// LoadFromEnv loads configuration from environment variables.
// Publishing is optional; the pipeline runs without it.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		DuckDBPath:   os.Getenv("DUCKDB_PATH"),
		RunLogPath:   os.Getenv("RUNLOG_PATH"),
		PipelinePath: os.Getenv("PIPELINE_FILE"),
		ListenAddr:   os.Getenv("LISTEN_ADDR"),
		LogLevel:     os.Getenv("LOG_LEVEL"),
		LogFormat:    os.Getenv("LOG_FORMAT"),
		Env:          os.Getenv("ENV"),
	}

	// Rate limiting
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimitRPS = f
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitBurst = n
		}
	}

	// CORS
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.CORSAllowedOrigins = compactNonEmpty(origins)
	}

	cfg.Publish = PublishConfig{
		Target:                strings.ToLower(strings.TrimSpace(os.Getenv("PUBLISH_TARGET"))),
		Bucket:                os.Getenv("PUBLISH_BUCKET"),
		Prefix:                strings.Trim(os.Getenv("PUBLISH_PREFIX"), "/"),
		GCSCredentialsFile:    os.Getenv("GCS_CREDENTIALS_FILE"),
		AzureAccountName:      os.Getenv("AZURE_STORAGE_ACCOUNT"),
		AzureAccountKey:       os.Getenv("AZURE_STORAGE_KEY"),
		AzureConnectionString: os.Getenv("AZURE_STORAGE_CONNECTION_STRING"),
	}
	// S3 fields are optional; only set if present
	if v := os.Getenv("KEY_ID"); v != "" {
		cfg.Publish.S3KeyID = &v
	}
	if v := os.Getenv("SECRET"); v != "" {
		cfg.Publish.S3Secret = &v
	}
	if v := os.Getenv("ENDPOINT"); v != "" {
		cfg.Publish.S3Endpoint = &v
	}
	if v := os.Getenv("REGION"); v != "" {
		cfg.Publish.S3Region = &v
	}
	if err := cfg.Publish.Validate(); err != nil {
		return nil, err
	}

	// Defaults
	if cfg.DuckDBPath == "" {
		cfg.DuckDBPath = "ev_population.duckdb"
	}
	if cfg.RunLogPath == "" {
		cfg.RunLogPath = "ev_runs.sqlite"
	}
	if cfg.PipelinePath == "" {
		cfg.PipelinePath = "pipeline.yaml"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 50
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 100
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}
	if cfg.DuckDBPath == ":memory:" {
		cfg.Warnings = append(cfg.Warnings, "DUCKDB_PATH is :memory:, loaded tables are lost on exit")
	}

	// Production mode: insecure defaults are fatal errors.
	if cfg.IsProduction() {
		if len(cfg.CORSAllowedOrigins) == 1 && cfg.CORSAllowedOrigins[0] == "*" {
			return nil, fmt.Errorf("CORS wildcard (*) is not allowed in production (ENV=production)")
		}
	}

	return cfg, nil
}

func compactNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		// Only set if not already in the environment (env vars take precedence)
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
// Only strips if both the first and last characters are matching quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
