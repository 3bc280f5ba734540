// Package config loads and validates snapshot crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/metrics-snapshot-crawler/internal/buffer"
	"github.com/JakeFAU/metrics-snapshot-crawler/internal/extract"
)

// Store drivers accepted in store.driver.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config captures all run configuration knobs loaded via Viper.
type Config struct {
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Store    StoreConfig    `mapstructure:"store"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Locators LocatorConfig  `mapstructure:"locators"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-"`
}

// CrawlerConfig governs fetching and politeness.
type CrawlerConfig struct {
	EntryURL             string        `mapstructure:"entry_url"`
	AllowedDomains       []string      `mapstructure:"allowed_domains"`
	UserAgent            string        `mapstructure:"user_agent"`
	Referer              string        `mapstructure:"referer"`
	Concurrency          int           `mapstructure:"concurrency"`
	PerDomainParallelism int           `mapstructure:"per_domain_parallelism"`
	Delay                time.Duration `mapstructure:"delay"`
	RandomDelay          time.Duration `mapstructure:"random_delay"`
	RequestTimeout       time.Duration `mapstructure:"request_timeout"`
	RespectRobots        bool          `mapstructure:"respect_robots"`
	CacheDir             string        `mapstructure:"cache_dir"`
	AutoThrottle         AutoThrottle  `mapstructure:"autothrottle"`
}

// AutoThrottle adapts the per-host delay to response latency, between
// crawler.delay and MaxDelay.
type AutoThrottle struct {
	Enabled           bool          `mapstructure:"enabled"`
	StartDelay        time.Duration `mapstructure:"start_delay"`
	MaxDelay          time.Duration `mapstructure:"max_delay"`
	TargetConcurrency float64       `mapstructure:"target_concurrency"`
}

// RetryConfig configures retries of transient fetch failures.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	StatusCodes []int         `mapstructure:"status_codes"`
}

// CacheConfig enables the shared Redis response cache when RedisAddr is set.
type CacheConfig struct {
	RedisAddr string        `mapstructure:"redis_addr"`
	TTL       time.Duration `mapstructure:"ttl"`
	Prefix    string        `mapstructure:"prefix"`
}

// StoreConfig selects and configures the snapshot store.
type StoreConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PipelineConfig tunes the controller. BatchSize is resolved leniently from
// whatever pipeline.batch_size holds.
type PipelineConfig struct {
	BatchSize     int           `mapstructure:"-"`
	TargetDate    string        `mapstructure:"target_date"`
	ProgressEvery int           `mapstructure:"progress_every"`
	DrainTimeout  time.Duration `mapstructure:"drain_timeout"`
}

// LocatorConfig overrides the XPath locators for listing and detail pages.
type LocatorConfig struct {
	Listing extract.ListingLocators `mapstructure:"listing"`
	Fields  extract.FieldLocators   `mapstructure:"fields"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// MetricsConfig controls where run metrics are exported.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
	Textfile       string `mapstructure:"textfile"`
}

// Load builds a Config from defaults, an optional file, the environment
// and overrides, in increasing precedence. Override keys are dotted paths
// such as "pipeline.batch_size".
func Load(path string, overrides map[string]any) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SNAPSHOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// The legacy job read its database location from MARKET_DB_PATH.
	if err := v.BindEnv("store.path", "SNAPSHOT_STORE_PATH", "MARKET_DB_PATH"); err != nil {
		return Config{}, fmt.Errorf("bind store path env: %w", err)
	}

	setDefaults(v)

	if err := readConfigFile(v, path); err != nil {
		return Config{}, err
	}
	for key, value := range overrides {
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Pipeline.BatchSize = buffer.ResolveThreshold(v.Get("pipeline.batch_size"))
	cfg.File = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// readConfigFile reads path when given. Otherwise it looks for
// snapshot.yaml in the working directory and $HOME/.metrics-snapshot, and
// carries on with defaults when neither exists.
func readConfigFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		return nil
	}
	v.SetConfigName("snapshot")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.metrics-snapshot")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.entry_url", "https://example.com/markets/list/")
	v.SetDefault("crawler.allowed_domains", []string{"example.com"})
	v.SetDefault("crawler.user_agent",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36")
	v.SetDefault("crawler.referer", "https://example.com")
	v.SetDefault("crawler.concurrency", 2)
	v.SetDefault("crawler.per_domain_parallelism", 1)
	v.SetDefault("crawler.delay", 2*time.Second)
	v.SetDefault("crawler.random_delay", 2*time.Second)
	v.SetDefault("crawler.request_timeout", 25*time.Second)
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.cache_dir", "httpcache")
	v.SetDefault("crawler.autothrottle.enabled", true)
	v.SetDefault("crawler.autothrottle.start_delay", 3*time.Second)
	v.SetDefault("crawler.autothrottle.max_delay", 30*time.Second)
	v.SetDefault("crawler.autothrottle.target_concurrency", 0.5)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", 500*time.Millisecond)
	v.SetDefault("retry.max_delay", 30*time.Second)
	v.SetDefault("retry.status_codes", []int{500, 502, 503, 504, 522, 524, 408, 429})
	v.SetDefault("cache.ttl", 24*time.Hour)
	v.SetDefault("cache.prefix", "snapshot:doc:")
	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.path", "./market_data.db")
	v.SetDefault("store.table", "metrics_snapshot")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("pipeline.batch_size", buffer.DefaultThreshold)
	v.SetDefault("pipeline.progress_every", 50)
	v.SetDefault("pipeline.drain_timeout", 30*time.Second)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("metrics.job", "metrics_snapshot")

	listing := extract.DefaultListingLocators()
	v.SetDefault("locators.listing.rows", listing.Rows)
	v.SetDefault("locators.listing.code", listing.Code)
	v.SetDefault("locators.listing.name", listing.Name)
	v.SetDefault("locators.listing.href", listing.Href)
	v.SetDefault("locators.listing.next_label", listing.NextLabel)
	fields := extract.DefaultFieldLocators()
	v.SetDefault("locators.fields.sector", fields.Sector)
	v.SetDefault("locators.fields.price_text", fields.PriceText)
	v.SetDefault("locators.fields.pe", fields.PE)
	v.SetDefault("locators.fields.dividend_yield", fields.DividendYield)
	v.SetDefault("locators.fields.pb", fields.PB)
	v.SetDefault("locators.fields.roe", fields.ROE)
	v.SetDefault("locators.fields.earning_yield", fields.EarningYield)
}

// Validate enforces required values and reasonable limits. The target date
// is checked by the pipeline itself.
func (c Config) Validate() error {
	var errs []error
	if u, err := url.Parse(c.Crawler.EntryURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("crawler.entry_url must be an absolute URL, got %q", c.Crawler.EntryURL))
	}
	if c.Crawler.Concurrency <= 0 {
		errs = append(errs, errors.New("crawler.concurrency must be > 0"))
	}
	if c.Crawler.PerDomainParallelism <= 0 {
		errs = append(errs, errors.New("crawler.per_domain_parallelism must be > 0"))
	}
	if c.Crawler.RequestTimeout <= 0 {
		errs = append(errs, errors.New("crawler.request_timeout must be > 0"))
	}
	if at := c.Crawler.AutoThrottle; at.Enabled {
		if at.TargetConcurrency <= 0 {
			errs = append(errs, errors.New("crawler.autothrottle.target_concurrency must be > 0"))
		}
		if at.MaxDelay < c.Crawler.Delay {
			errs = append(errs, errors.New("crawler.autothrottle.max_delay must be >= crawler.delay"))
		}
	}
	if c.Retry.MaxAttempts < 0 {
		errs = append(errs, errors.New("retry.max_attempts must be >= 0"))
	}
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path must be set for the sqlite driver"))
		}
	case DriverPostgres:
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn must be set for the postgres driver"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}
	if c.Cache.RedisAddr != "" && c.Cache.TTL < 0 {
		errs = append(errs, errors.New("cache.ttl must be >= 0"))
	}
	return errors.Join(errs...)
}
