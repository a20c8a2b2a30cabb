// Package config loads and validates docsift configuration via Viper.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures every service knob, loaded once at startup and passed to
// components by value.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Scrape   ScrapeConfig   `mapstructure:"scrape"`
	Cleaner  CleanerConfig  `mapstructure:"cleaner"`
	Analyzer AnalyzerConfig `mapstructure:"analyzer"`
	Storage  StorageConfig  `mapstructure:"storage"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// ScrapeConfig governs discovery and page retrieval.
type ScrapeConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxRetries     int    `mapstructure:"max_retries"`
	DelayMs        int    `mapstructure:"delay_ms"`
	RespectRobots  bool   `mapstructure:"respect_robots"`
}

// CleanerConfig bounds text normalization output.
type CleanerConfig struct {
	MinWords int `mapstructure:"min_words"`
	MaxChars int `mapstructure:"max_chars"`
}

// AnalyzerConfig configures the evaluation backend and scoring fan-out.
type AnalyzerConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	Temperature float32 `mapstructure:"temperature"`
	MaxRetries  int     `mapstructure:"max_retries"`
	BackoffBase float64 `mapstructure:"backoff_base"`
	Concurrency int     `mapstructure:"concurrency"`
}

// StorageConfig sets the data directory and lock behavior for the envelope
// stores.
type StorageConfig struct {
	DataDir            string `mapstructure:"data_dir"`
	LockTimeoutSeconds int    `mapstructure:"lock_timeout_seconds"`
}

// Load builds a Config from disk and environment. Environment variables use
// the DOCSIFT prefix, e.g. DOCSIFT_ANALYZER_API_KEY.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DOCSIFT")
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
	v.SetDefault("scrape.base_url", "https://support.workways.com/docs/presentation/")
	v.SetDefault("scrape.user_agent", "docsift/1.0 (+https://github.com/docsift/docsift)")
	v.SetDefault("scrape.timeout_seconds", 15)
	v.SetDefault("scrape.max_retries", 3)
	v.SetDefault("scrape.delay_ms", 350)
	v.SetDefault("scrape.respect_robots", true)
	v.SetDefault("cleaner.min_words", 30)
	v.SetDefault("cleaner.max_chars", 16000)
	// Registered empty so AutomaticEnv can bind DOCSIFT_ANALYZER_API_KEY.
	v.SetDefault("analyzer.api_key", "")
	v.SetDefault("analyzer.model", "gpt-4o-mini")
	v.SetDefault("analyzer.temperature", 0)
	v.SetDefault("analyzer.max_retries", 3)
	v.SetDefault("analyzer.backoff_base", 1.5)
	v.SetDefault("analyzer.concurrency", 10)
	v.SetDefault("storage.data_dir", "data")
	v.SetDefault("storage.lock_timeout_seconds", 10)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if strings.TrimSpace(c.Scrape.BaseURL) == "" {
		return fmt.Errorf("scrape.base_url must be set")
	}
	if c.Scrape.TimeoutSeconds <= 0 {
		return fmt.Errorf("scrape.timeout_seconds must be > 0")
	}
	if c.Scrape.MaxRetries <= 0 {
		return fmt.Errorf("scrape.max_retries must be > 0")
	}
	if c.Cleaner.MinWords < 0 {
		return fmt.Errorf("cleaner.min_words must be >= 0")
	}
	if c.Cleaner.MaxChars <= len("\n...\n") {
		return fmt.Errorf("cleaner.max_chars is too small")
	}
	if c.Analyzer.MaxRetries <= 0 {
		return fmt.Errorf("analyzer.max_retries must be > 0")
	}
	if c.Analyzer.BackoffBase <= 0 {
		return fmt.Errorf("analyzer.backoff_base must be > 0")
	}
	if c.Analyzer.Concurrency <= 0 {
		return fmt.Errorf("analyzer.concurrency must be > 0")
	}
	if c.Storage.LockTimeoutSeconds <= 0 {
		return fmt.Errorf("storage.lock_timeout_seconds must be > 0")
	}
	return nil
}

// RequestTimeout converts the configured scrape timeout to a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Scrape.TimeoutSeconds) * time.Second
}

// RequestDelay converts the inter-request pacing delay to a duration.
func (c Config) RequestDelay() time.Duration {
	return time.Duration(c.Scrape.DelayMs) * time.Millisecond
}

// LockTimeout converts the file-lock wait budget to a duration.
func (c Config) LockTimeout() time.Duration {
	return time.Duration(c.Storage.LockTimeoutSeconds) * time.Second
}

// RawPath is the raw collection file.
func (c Config) RawPath() string {
	return filepath.Join(c.Storage.DataDir, "docs_raw.json")
}

// CleanPath is the clean collection file.
func (c Config) CleanPath() string {
	return filepath.Join(c.Storage.DataDir, "docs_clean.json")
}

// ScoredPath is the scored collection file.
func (c Config) ScoredPath() string {
	return filepath.Join(c.Storage.DataDir, "docs_scored.json")
}
