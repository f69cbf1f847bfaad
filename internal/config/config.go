// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/dircrawl/internal/output"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Store    StoreConfig    `mapstructure:"store"`
	Output   OutputConfig   `mapstructure:"output"`
	Augment  AugmentConfig  `mapstructure:"augment"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// CrawlerConfig governs fetching and crawl budgets.
type CrawlerConfig struct {
	UserAgent         string   `mapstructure:"user_agent"`
	RateLimit         float64  `mapstructure:"rate_limit"`
	TimeoutSeconds    int      `mapstructure:"timeout_seconds"`
	MaxPages          int      `mapstructure:"max_pages"`
	MaxRuntimeSeconds int      `mapstructure:"max_runtime_seconds"`
	RespectRobots     bool     `mapstructure:"respect_robots"`
	DetailLinkCap     int      `mapstructure:"detail_link_cap"`
	NumberedCap       int      `mapstructure:"numbered_cap"`
	DedupKeys         []string `mapstructure:"dedup_keys"`
}

// RetryConfig shapes the exponential backoff at the fetch boundary.
type RetryConfig struct {
	MaxAttempts  int `mapstructure:"max_attempts"`
	MultiplierMs int `mapstructure:"multiplier_ms"`
	FloorMs      int `mapstructure:"floor_ms"`
	CeilingMs    int `mapstructure:"ceiling_ms"`
}

// HeadlessConfig configures the browser fetch path.
type HeadlessConfig struct {
	Enabled            bool `mapstructure:"enabled"`
	MaxParallel        int  `mapstructure:"max_parallel"`
	NavTimeoutSec      int  `mapstructure:"nav_timeout_seconds"`
	MaxScrolls         int  `mapstructure:"max_scrolls"`
	ScrollSettleMs     int  `mapstructure:"scroll_settle_ms"`
	PromotionThreshold int  `mapstructure:"promotion_threshold"`
}

// StoreConfig selects the run store.
type StoreConfig struct {
	Driver      string `mapstructure:"driver"`
	Path        string `mapstructure:"path"`
	DSN         string `mapstructure:"dsn"`
	TablePrefix string `mapstructure:"table_prefix"`
	RedisAddr   string `mapstructure:"redis_addr"`
}

// OutputConfig sets the format and destination of crawl output.
type OutputConfig struct {
	Format    string `mapstructure:"format"`
	Dir       string `mapstructure:"dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// AugmentConfig controls the LLM augmenter.
type AugmentConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model"`
	MaxTokens int64  `mapstructure:"max_tokens"`
	Budget    int    `mapstructure:"budget"`
	BaseURL   string `mapstructure:"base_url"`
}

// PubSubConfig names where run summaries are published. Empty disables it.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// MetricsConfig sets the Prometheus listener. Empty disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig selects the zap encoder, level and sink.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
	Output      string `mapstructure:"output"`
}

// Load builds a Config from disk and the DIRCRAWL_* environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DIRCRAWL")
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
	v.SetDefault("crawler.user_agent", "dircrawl/0.1 (+https://github.com/JakeFAU/dircrawl)")
	v.SetDefault("crawler.rate_limit", 10.0)
	v.SetDefault("crawler.timeout_seconds", 30)
	v.SetDefault("crawler.max_pages", 100)
	v.SetDefault("crawler.max_runtime_seconds", 0)
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.detail_link_cap", 50)
	v.SetDefault("crawler.numbered_cap", 0)
	v.SetDefault("crawler.dedup_keys", []string{"page_url", "name"})
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.multiplier_ms", 1000)
	v.SetDefault("retry.floor_ms", 2000)
	v.SetDefault("retry.ceiling_ms", 10000)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 30)
	v.SetDefault("headless.max_scrolls", 10)
	v.SetDefault("headless.scroll_settle_ms", 1000)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.path", "dircrawl.db")
	v.SetDefault("store.table_prefix", "dircrawl_")
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("output.format", string(output.FormatJSONL))
	v.SetDefault("output.dir", "out")
	v.SetDefault("augment.enabled", false)
	v.SetDefault("augment.model", "claude-haiku-4-5")
	v.SetDefault("augment.max_tokens", 1024)
	v.SetDefault("augment.budget", 1000)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("logging.output", "stderr")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Crawler.UserAgent) == "" {
		return fmt.Errorf("crawler.user_agent must be set")
	}
	if c.Crawler.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.timeout_seconds must be > 0")
	}
	if c.Crawler.MaxPages < 0 || c.Crawler.MaxRuntimeSeconds < 0 {
		return fmt.Errorf("crawler budgets must be >= 0")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	if c.Retry.FloorMs > c.Retry.CeilingMs {
		return fmt.Errorf("retry.floor_ms must not exceed retry.ceiling_ms")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	switch c.Store.Driver {
	case DriverMemory, DriverRedis:
	case DriverSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	if _, err := output.ParseFormat(c.Output.Format); err != nil {
		return err
	}
	if c.Output.GCSBucket == "" && c.Output.Dir == "" {
		return fmt.Errorf("output.dir or output.gcs_bucket must be set")
	}
	if c.Augment.Enabled && c.Augment.APIKey == "" {
		return fmt.Errorf("augment.api_key must be set when augment is enabled")
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic is set")
	}
	return nil
}

// Timeout is the per-request fetch timeout.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.Crawler.TimeoutSeconds) * time.Second
}

// MaxRuntime is the crawl time budget; zero means unlimited.
func (c Config) MaxRuntime() time.Duration {
	return time.Duration(c.Crawler.MaxRuntimeSeconds) * time.Second
}
