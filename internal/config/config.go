// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper. It is
// treated as immutable for the process lifetime.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	DB       DBConfig       `mapstructure:"db"`
	Media    MediaConfig    `mapstructure:"media"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Search   SearchConfig   `mapstructure:"search"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	// Provider selects "postgres" or "memory".
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// MediaConfig locates the local file cache shared across worker hosts.
type MediaConfig struct {
	Root string `mapstructure:"root"`
}

// HTTPConfig configures outbound HTTP retry behavior for downloads.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// PipelineConfig governs the worker pool and stage retry scheduling.
type PipelineConfig struct {
	Workers       int `mapstructure:"workers"`
	QueueDepth    int `mapstructure:"queue_depth"`
	MaxAttempts   int `mapstructure:"max_attempts"`
	BackoffBaseMs int `mapstructure:"backoff_base_ms"`
	BackoffMaxSec int `mapstructure:"backoff_max_seconds"`
}

// TelegramConfig holds durable store credentials and policy limits.
type TelegramConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	BotToken     string `mapstructure:"bot_token"`
	Channel      string `mapstructure:"channel"`
	CaptionLimit int    `mapstructure:"caption_limit"`
	MaxFileBytes int64  `mapstructure:"max_file_bytes"`
}

// SearchConfig points at the full-text index.
type SearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Index     string   `mapstructure:"index"`
	PageSize  int      `mapstructure:"page_size"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FILEBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("db.provider", "memory")
	v.SetDefault("media.root", "media")
	v.SetDefault("http.timeout_seconds", 180)
	v.SetDefault("http.max_retries", 5)
	v.SetDefault("http.backoff_initial_ms", 500)
	v.SetDefault("http.backoff_max_ms", 30000)
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.queue_depth", 256)
	v.SetDefault("pipeline.max_attempts", 5)
	v.SetDefault("pipeline.backoff_base_ms", 500)
	v.SetDefault("pipeline.backoff_max_seconds", 60)
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.caption_limit", 1000)
	v.SetDefault("telegram.max_file_bytes", int64(50*1024*1024))
	v.SetDefault("search.addresses", []string{"http://localhost:9200"})
	v.SetDefault("search.index", "documents")
	v.SetDefault("search.page_size", 10)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.DB.Provider != "postgres" && c.DB.Provider != "memory" {
		return fmt.Errorf("db.provider must be postgres or memory")
	}
	if c.DB.Provider == "postgres" && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set when db.provider is postgres")
	}
	if strings.TrimSpace(c.Media.Root) == "" {
		return fmt.Errorf("media.root must be set")
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be > 0")
	}
	if c.Pipeline.MaxAttempts <= 0 {
		return fmt.Errorf("pipeline.max_attempts must be > 0")
	}
	if c.Telegram.Enabled && (c.Telegram.BotToken == "" || c.Telegram.Channel == "") {
		return fmt.Errorf("telegram.bot_token and telegram.channel must be set when telegram is enabled")
	}
	if c.Telegram.MaxFileBytes <= 0 {
		return fmt.Errorf("telegram.max_file_bytes must be > 0")
	}
	if len(c.Search.Addresses) == 0 {
		return fmt.Errorf("search.addresses must not be empty")
	}
	if c.Search.PageSize <= 0 {
		return fmt.Errorf("search.page_size must be > 0")
	}
	return nil
}

// HTTPTimeout converts the download timeout into a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// StageBackoffBase returns the base delay for stage retry backoff.
func (c Config) StageBackoffBase() time.Duration {
	return time.Duration(c.Pipeline.BackoffBaseMs) * time.Millisecond
}

// StageBackoffMax returns the backoff ceiling for stage retries.
func (c Config) StageBackoffMax() time.Duration {
	return time.Duration(c.Pipeline.BackoffMaxSec) * time.Second
}
