package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultPath = "config.yaml"

// Config is the full service configuration. It is loaded once at startup and
// passed by value; nothing mutates it afterwards.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logger      LoggerConfig      `yaml:"logger"`
	Merge       MergeConfig       `yaml:"merge"`
	Cache       CacheConfig       `yaml:"cache"`
	RateLimiter RateLimiterConfig `yaml:"rate_limiter"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	Prefork         bool          `yaml:"prefork"`
	BodyLimitBytes  int           `yaml:"body_limit_bytes"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LoggerConfig struct {
	File       string `yaml:"file"`
	Level      string `yaml:"level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// MergeConfig drives the merge orchestration core.
type MergeConfig struct {
	UploadRoot        string        `yaml:"upload_root"`
	MaxUploadBytes    int64         `yaml:"max_upload_bytes"`
	AllowedExtensions []string      `yaml:"allowed_extensions"`
	CleanupDelay      time.Duration `yaml:"cleanup_delay"`
	PreviewChars      int           `yaml:"preview_chars"`
	ValidateWorkers   int           `yaml:"validate_workers"`
	ValidationMode    string        `yaml:"validation_mode"`
}

type CacheConfig struct {
	RedisHost   string `yaml:"redis_host"`
	RateLimitDB int    `yaml:"rate_limit_db"`
}

type RateLimiterConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Limit    int           `yaml:"limit"`
	Interval time.Duration `yaml:"interval"`
}

// Default returns the configuration used for any key missing from the file.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            ":8080",
			ShutdownTimeout: 5 * time.Second,
		},
		Logger: LoggerConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
		Merge: MergeConfig{
			UploadRoot:        "uploads",
			MaxUploadBytes:    50 * 1024 * 1024,
			AllowedExtensions: []string{"pdf"},
			CleanupDelay:      30 * time.Second,
			PreviewChars:      200,
			ValidateWorkers:   4,
			ValidationMode:    "relaxed",
		},
		RateLimiter: RateLimiterConfig{
			Limit:    60,
			Interval: time.Minute,
		},
	}
}

// Load reads the file named by CONFIG_PATH, or config.yaml.
func Load() Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = defaultPath
	}
	return LoadFrom(path)
}

// LoadFrom reads and validates the YAML file at path. It panics on unreadable
// files and invalid values; the service cannot run with either.
func LoadFrom(path string) Config {
	data, err := os.ReadFile(path)
	if err != nil {
		panic(fmt.Sprintf("config: read %s: %v", path, err))
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		panic(fmt.Sprintf("config: parse %s: %v", path, err))
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("config: %s: %v", path, err))
	}
	return cfg
}

func (c *Config) normalize() {
	exts := make([]string, 0, len(c.Merge.AllowedExtensions))
	for _, e := range c.Merge.AllowedExtensions {
		e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
		if e != "" {
			exts = append(exts, e)
		}
	}
	c.Merge.AllowedExtensions = exts
	c.Merge.ValidationMode = strings.ToLower(c.Merge.ValidationMode)

	// Leave headroom over the merge ceiling for multipart framing so oversized
	// uploads are reported by the merge core rather than cut off by the server.
	if c.Server.BodyLimitBytes <= 0 {
		c.Server.BodyLimitBytes = int(c.Merge.MaxUploadBytes) + 1024*1024
	}
	if c.Merge.ValidateWorkers <= 0 {
		c.Merge.ValidateWorkers = 1
	}
}

// Validate reports the first invalid value.
func (c Config) Validate() error {
	m := c.Merge
	switch {
	case m.UploadRoot == "":
		return fmt.Errorf("merge.upload_root is empty")
	case m.MaxUploadBytes <= 0:
		return fmt.Errorf("merge.max_upload_bytes must be positive")
	case len(m.AllowedExtensions) == 0:
		return fmt.Errorf("merge.allowed_extensions is empty")
	case m.CleanupDelay < 0:
		return fmt.Errorf("merge.cleanup_delay must not be negative")
	case m.PreviewChars < 1:
		return fmt.Errorf("merge.preview_chars must be at least 1")
	case m.ValidationMode != "relaxed" && m.ValidationMode != "strict":
		return fmt.Errorf("merge.validation_mode must be 'relaxed' or 'strict'")
	}

	r := c.RateLimiter
	if r.Enabled && (r.Limit <= 0 || r.Interval <= 0) {
		return fmt.Errorf("rate_limiter.limit and rate_limiter.interval must be positive when enabled")
	}
	return nil
}
