// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/skumap/shelfcrawler/internal/catalog"
	"github.com/skumap/shelfcrawler/internal/extract"
	"github.com/skumap/shelfcrawler/internal/pacing"
	"github.com/skumap/shelfcrawler/internal/session"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig                     `mapstructure:"server"`
	Logging   LoggingConfig                    `mapstructure:"logging"`
	Crawler   CrawlerConfig                    `mapstructure:"crawler"`
	Pacing    PacingConfig                     `mapstructure:"pacing"`
	Session   SessionConfig                    `mapstructure:"session"`
	Block     BlockConfig                      `mapstructure:"block"`
	Selectors SelectorConfig                   `mapstructure:"selectors"`
	Probe     ProbeConfig                      `mapstructure:"probe"`
	Sinks     SinksConfig                      `mapstructure:"sinks"`
	Targets   map[string][]catalog.CrawlTarget `mapstructure:"targets"`
}

// ServerConfig controls the status HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// CrawlerConfig governs traversal and harvest behavior.
type CrawlerConfig struct {
	RetailerID           string `mapstructure:"retailer_id"`
	DiscoveryConcurrency int    `mapstructure:"discovery_concurrency"`
	HarvestConcurrency   int    `mapstructure:"harvest_concurrency"`
	MaxDepthDefault      int    `mapstructure:"max_depth_default"`
	MaxPagesDefault      int    `mapstructure:"max_pages_default"`
	MaxRetries           int    `mapstructure:"max_retries"`
	URLsOnly             bool   `mapstructure:"urls_only"`
}

// PacingConfig sets the randomized inter-request delays and the per-host
// request budget.
type PacingConfig struct {
	NavMinMs  int     `mapstructure:"nav_min_ms"`
	NavMaxMs  int     `mapstructure:"nav_max_ms"`
	GridMinMs int     `mapstructure:"grid_min_ms"`
	GridMaxMs int     `mapstructure:"grid_max_ms"`
	HostQPS   float64 `mapstructure:"host_qps"`
	HostBurst int     `mapstructure:"host_burst"`
}

// SessionConfig configures the headless browser.
type SessionConfig struct {
	UserAgent     string `mapstructure:"user_agent"`
	Headless      bool   `mapstructure:"headless"`
	NavTimeoutSec int    `mapstructure:"nav_timeout_seconds"`
	ReadySelector string `mapstructure:"ready_selector"`
}

// BlockConfig lists the per-retailer block indicators.
type BlockConfig struct {
	URLMarkers     []string `mapstructure:"url_markers"`
	MarkerSelector string   `mapstructure:"marker_selector"`
}

// SelectorConfig names the CSS selectors driving extraction.
type SelectorConfig struct {
	CategoryLinks string `mapstructure:"category_links"`
	ProductTile   string `mapstructure:"product_tile"`
	Title         string `mapstructure:"title"`
	Price         string `mapstructure:"price"`
	Link          string `mapstructure:"link"`
	SKUAttr       string `mapstructure:"sku_attr"`
	NextPage      string `mapstructure:"next_page"`
	LazyLoad      bool   `mapstructure:"lazy_load"`
}

// ProbeConfig controls the advisory plain-HTTP reachability check.
type ProbeConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	TimeoutSeconds int  `mapstructure:"timeout_seconds"`
}

// SinksConfig selects the output destinations. Empty sections are disabled.
type SinksConfig struct {
	RecordsPath string         `mapstructure:"records_path"`
	TreePath    string         `mapstructure:"tree_path"`
	TreeIndent  bool           `mapstructure:"tree_indent"`
	PubSub      PubSubConfig   `mapstructure:"pubsub"`
	Postgres    PostgresConfig `mapstructure:"postgres"`
	GCS         GCSConfig      `mapstructure:"gcs"`
}

// PubSubConfig holds metadata for record publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// PostgresConfig controls relational record persistence.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// GCSConfig controls hierarchy uploads.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SHELFCRAWLER")
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
	v.SetDefault("crawler.retailer_id", "")
	v.SetDefault("crawler.discovery_concurrency", 2)
	v.SetDefault("crawler.harvest_concurrency", 4)
	v.SetDefault("crawler.max_depth_default", 3)
	v.SetDefault("crawler.max_pages_default", 10)
	v.SetDefault("crawler.max_retries", 3)
	v.SetDefault("crawler.urls_only", false)
	v.SetDefault("pacing.nav_min_ms", 500)
	v.SetDefault("pacing.nav_max_ms", 2000)
	v.SetDefault("pacing.grid_min_ms", 250)
	v.SetDefault("pacing.grid_max_ms", 1000)
	v.SetDefault("pacing.host_qps", 1.0)
	v.SetDefault("pacing.host_burst", 2)
	v.SetDefault("session.user_agent", "shelfcrawler/0.1")
	v.SetDefault("session.headless", true)
	v.SetDefault("session.nav_timeout_seconds", 30)
	v.SetDefault("session.ready_selector", "body")
	v.SetDefault("probe.enabled", true)
	v.SetDefault("probe.timeout_seconds", 15)
	v.SetDefault("sinks.tree_indent", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.DiscoveryConcurrency <= 0 {
		return fmt.Errorf("crawler.discovery_concurrency must be > 0")
	}
	if c.Crawler.HarvestConcurrency <= 0 {
		return fmt.Errorf("crawler.harvest_concurrency must be > 0")
	}
	if c.Crawler.MaxDepthDefault < 0 {
		return fmt.Errorf("crawler.max_depth_default must be >= 0")
	}
	if c.Crawler.MaxPagesDefault <= 0 {
		return fmt.Errorf("crawler.max_pages_default must be > 0")
	}
	if c.Pacing.NavMinMs > c.Pacing.NavMaxMs {
		return fmt.Errorf("pacing.nav_min_ms must not exceed pacing.nav_max_ms")
	}
	if c.Pacing.GridMinMs > c.Pacing.GridMaxMs {
		return fmt.Errorf("pacing.grid_min_ms must not exceed pacing.grid_max_ms")
	}
	if c.Session.NavTimeoutSec <= 0 {
		return fmt.Errorf("session.nav_timeout_seconds must be > 0")
	}
	if c.Sinks.Postgres.DSN == "" && c.Sinks.Postgres.Table != "" {
		return fmt.Errorf("sinks.postgres.dsn is required when a table is set")
	}
	return nil
}

// Pacer builds the configured delay ranges.
func (c Config) Pacer() *pacing.Pacer {
	return pacing.New(
		pacing.Range{Min: time.Duration(c.Pacing.NavMinMs) * time.Millisecond, Max: time.Duration(c.Pacing.NavMaxMs) * time.Millisecond},
		pacing.Range{Min: time.Duration(c.Pacing.GridMinMs) * time.Millisecond, Max: time.Duration(c.Pacing.GridMaxMs) * time.Millisecond},
	)
}

// HostBudget builds the per-host request limiter.
func (c Config) HostBudget() *pacing.HostBudget {
	return pacing.NewHostBudget(c.Pacing.HostQPS, c.Pacing.HostBurst)
}

// BrowserConfig converts to the browser package's config.
func (c Config) BrowserConfig() session.Config {
	return session.Config{
		UserAgent:     c.Session.UserAgent,
		Headless:      c.Session.Headless,
		NavTimeout:    time.Duration(c.Session.NavTimeoutSec) * time.Second,
		ReadySelector: c.Session.ReadySelector,
	}
}

// ExtractorConfig converts to the selector extractor's config.
func (c Config) ExtractorConfig() extract.Config {
	return extract.Config{
		RetailerID:    c.Crawler.RetailerID,
		CategoryLinks: c.Selectors.CategoryLinks,
		ProductTile:   c.Selectors.ProductTile,
		Title:         c.Selectors.Title,
		Price:         c.Selectors.Price,
		Link:          c.Selectors.Link,
		SKUAttr:       c.Selectors.SKUAttr,
		NextPage:      c.Selectors.NextPage,
		LazyLoad:      c.Selectors.LazyLoad,
	}
}

// ProbeTimeout converts the probe timeout config into a duration.
func (c Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Probe.TimeoutSeconds) * time.Second
}
