// Package config loads settings from defaults, an optional split-hd.toml,
// SPLIT_HD_* environment variables, and bound command-line flags, in that
// order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/boxtvstar/ai-split-hd/internal/archive"
	"github.com/boxtvstar/ai-split-hd/internal/enhance"
)

// EnvPrefix is prepended to every environment variable, with dots replaced
// by underscores: gemini.model -> SPLIT_HD_GEMINI_MODEL.
const EnvPrefix = "SPLIT_HD"

// Config is the fully resolved configuration.
type Config struct {
	LogLevel string        `mapstructure:"log_level"`
	Gemini   GeminiConfig  `mapstructure:"gemini"`
	Grid     GridConfig    `mapstructure:"grid"`
	Archive  ArchiveConfig `mapstructure:"archive"`
	Server   ServerConfig  `mapstructure:"server"`
	S3       S3Config      `mapstructure:"s3"`
	Metrics  MetricsConfig `mapstructure:"metrics"`
}

// GeminiConfig selects the image model. An empty APIKey falls back to
// GEMINI_API_KEY or the GPG credentials file.
type GeminiConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

// GridConfig holds the default grid used when no rows/cols are given.
type GridConfig struct {
	Rows int `mapstructure:"rows"`
	Cols int `mapstructure:"cols"`
}

// ArchiveConfig selects the zip compression method.
type ArchiveConfig struct {
	Method string `mapstructure:"method"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int `mapstructure:"port"`
	MaxUploadMB int `mapstructure:"max_upload_mb"`
}

// S3Config enables uploading finished archives. Endpoint is set for
// S3-compatible stores such as MinIO.
type S3Config struct {
	Bucket     string        `mapstructure:"bucket"`
	Prefix     string        `mapstructure:"prefix"`
	Region     string        `mapstructure:"region"`
	Endpoint   string        `mapstructure:"endpoint"`
	AccessKey  string        `mapstructure:"access_key"`
	SecretKey  string        `mapstructure:"secret_key"`
	PresignTTL time.Duration `mapstructure:"presign_ttl"`
}

// Enabled reports whether archives should be uploaded.
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

// WithBucket returns a copy of c pointed at bucket.
func (c S3Config) WithBucket(bucket string) S3Config {
	c.Bucket = bucket
	return c
}

// MetricsConfig toggles EMF metric output on stderr.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// New returns a viper instance with defaults and environment binding applied.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model", enhance.DefaultModel)
	v.SetDefault("gemini.base_url", "")
	v.SetDefault("grid.rows", 3)
	v.SetDefault("grid.cols", 3)
	v.SetDefault("archive.method", string(archive.MethodDeflate))
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_upload_mb", 10)
	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.prefix", "split-hd/")
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.access_key", "")
	v.SetDefault("s3.secret_key", "")
	v.SetDefault("s3.presign_ttl", time.Hour)
	v.SetDefault("metrics.enabled", false)
}

// Load reads configFile (or split-hd.toml from the working directory or
// ~/.config/split-hd when configFile is empty) and returns the validated
// configuration. Grid values below 1 are clamped to 1. A missing default file is not an error; a missing explicit
// file is.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("split-hd")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/split-hd")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Grid.Rows = ClampGrid(cfg.Grid.Rows)
	cfg.Grid.Cols = ClampGrid(cfg.Grid.Cols)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Grid.Rows < 1 || c.Grid.Cols < 1 {
		return fmt.Errorf("grid.rows and grid.cols must be at least 1 (got %d x %d)", c.Grid.Rows, c.Grid.Cols)
	}
	if _, err := archive.ParseMethod(c.Archive.Method); err != nil {
		return fmt.Errorf("archive.method: %w", err)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535 (got %d)", c.Server.Port)
	}
	if c.Server.MaxUploadMB < 1 {
		return fmt.Errorf("server.max_upload_mb must be positive (got %d)", c.Server.MaxUploadMB)
	}
	if c.S3.Enabled() && c.S3.PresignTTL <= 0 {
		return fmt.Errorf("s3.presign_ttl must be positive when s3.bucket is set")
	}
	if (c.S3.AccessKey == "") != (c.S3.SecretKey == "") {
		return fmt.Errorf("s3.access_key and s3.secret_key must be set together")
	}
	return nil
}

// ClampGrid returns n, or 1 if n is below 1.
func ClampGrid(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
