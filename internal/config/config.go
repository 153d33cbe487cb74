// Package config loads the barsync configuration from YAML with environment
// overrides. The resulting Config is built once at startup and passed
// explicitly to every component.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for barsync.
type Config struct {
	Storage  Storage  `yaml:"storage"`
	Alpaca   Alpaca   `yaml:"alpaca"`
	Logging  Logging  `yaml:"logging"`
	Ingest   Ingest   `yaml:"ingest"`
	Quality  Quality  `yaml:"quality"`
	Calendar Calendar `yaml:"calendar"`
	Server   Server   `yaml:"server"`
}

// Storage selects and configures the bar store backend.
type Storage struct {
	Backend      string        `yaml:"backend"` // sqlite | postgres | parquet
	DataDir      string        `yaml:"data_dir"`
	SQLitePath   string        `yaml:"sqlite_path"`
	PostgresDSN  string        `yaml:"postgres_dsn"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

// Alpaca holds credentials and endpoints for the Alpaca APIs.
type Alpaca struct {
	APIKey          string `yaml:"api_key"`
	APISecret       string `yaml:"api_secret"`
	BaseURL         string `yaml:"base_url"`
	DataURL         string `yaml:"data_url"`
	Feed            string `yaml:"feed"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
	// BreakerFailures is the number of consecutive failures that opens the
	// upstream circuit breaker.
	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
}

// Logging configures the application logger.
type Logging struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Ingest controls backfill, gap filling and the worker pool.
type Ingest struct {
	Symbols         []string      `yaml:"symbols"`
	SymbolsFile     string        `yaml:"symbols_file"` // CSV, first column, header row
	StartDate       string        `yaml:"start_date"`
	MaxConcurrency  int           `yaml:"max_concurrency"`
	SymbolTimeout   time.Duration `yaml:"symbol_timeout"`
	FetchMaxDays    int           `yaml:"fetch_max_days"`
	BatchSize       int           `yaml:"batch_size"`
	RetryAttempts   int           `yaml:"retry_attempts"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
	GapLookback     time.Duration `yaml:"gap_lookback"`
	MaxGapMinutes   int           `yaml:"max_gap_minutes"`
	MarketHoursOnly bool          `yaml:"market_hours_only"`
	GapInterval     time.Duration `yaml:"gap_interval"`
}

// Quality holds verification thresholds. Each pair is two-tier: the warn
// threshold must be below the fail threshold.
type Quality struct {
	MissingWarnPct  float64       `yaml:"missing_warn_pct"`
	MissingFailPct  float64       `yaml:"missing_fail_pct"`
	OHLCWarnCount   int64         `yaml:"ohlc_warn_count"`
	OHLCFailCount   int64         `yaml:"ohlc_fail_count"`
	GapLookback     time.Duration `yaml:"gap_lookback"`
	MarketHoursOnly bool          `yaml:"market_hours_only"`
	SampleLimit     int           `yaml:"sample_limit"`
}

// Calendar selects the trading-calendar source and cache.
type Calendar struct {
	Source      string            `yaml:"source"` // alpaca | static
	Cache       string            `yaml:"cache"`  // memory | redis
	RedisAddr   string            `yaml:"redis_addr"`
	RedisDB     int               `yaml:"redis_db"`
	CacheTTL    time.Duration     `yaml:"cache_ttl"`
	Holidays    []string          `yaml:"holidays"`     // YYYY-MM-DD, static source only
	EarlyCloses map[string]string `yaml:"early_closes"` // YYYY-MM-DD -> HH:MM, static source only
}

// Server holds network listener configuration for `barsync serve`.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies environment variable overrides and defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if cfg.Ingest.SymbolsFile != "" {
		extra, err := LoadSymbolsFile(cfg.Ingest.SymbolsFile)
		if err != nil {
			return nil, err
		}
		cfg.Ingest.Symbols = mergeSymbols(cfg.Ingest.Symbols, extra)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration populated only with defaults.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.Storage.PostgresDSN = v
	}
	if v := os.Getenv("STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}
	if v := os.Getenv("ALPACA_FEED"); v != "" {
		cfg.Alpaca.Feed = v
	}

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Calendar.RedisAddr = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("BARSYNC_SYMBOLS"); v != "" {
		cfg.Ingest.Symbols = SplitSymbols(v)
	}

	// Standard Alpaca env vars (highest priority, canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

func applyDefaults(cfg *Config) {
	s := &cfg.Storage
	if s.Backend == "" {
		s.Backend = "sqlite"
	}
	if s.SQLitePath == "" {
		s.SQLitePath = "data/barsync.db"
	}
	if s.DataDir == "" {
		s.DataDir = "data"
	}
	if s.MaxOpenConns == 0 {
		s.MaxOpenConns = 10
	}
	if s.QueryTimeout == 0 {
		s.QueryTimeout = 30 * time.Second
	}

	a := &cfg.Alpaca
	if a.Feed == "" {
		a.Feed = "sip"
	}
	if a.RateLimitPerMin == 0 {
		a.RateLimitPerMin = 200
	}
	if a.BreakerFailures == 0 {
		a.BreakerFailures = 5
	}
	if a.BreakerCooldown == 0 {
		a.BreakerCooldown = 30 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	in := &cfg.Ingest
	if in.StartDate == "" {
		in.StartDate = "2020-01-01"
	}
	if in.MaxConcurrency == 0 {
		in.MaxConcurrency = 5
	}
	if in.SymbolTimeout == 0 {
		in.SymbolTimeout = 30 * time.Minute
	}
	if in.FetchMaxDays == 0 {
		in.FetchMaxDays = 30
	}
	if in.BatchSize == 0 {
		in.BatchSize = 1000
	}
	if in.RetryAttempts == 0 {
		in.RetryAttempts = 3
	}
	if in.RetryDelay == 0 {
		in.RetryDelay = 5 * time.Second
	}
	if in.GapLookback == 0 {
		in.GapLookback = 24 * time.Hour
	}
	if in.MaxGapMinutes == 0 {
		in.MaxGapMinutes = 120
	}
	if in.GapInterval == 0 {
		in.GapInterval = 5 * time.Minute
	}

	q := &cfg.Quality
	if q.MissingWarnPct == 0 && q.MissingFailPct == 0 {
		q.MissingWarnPct, q.MissingFailPct = 2, 10
	}
	if q.OHLCWarnCount == 0 && q.OHLCFailCount == 0 {
		q.OHLCWarnCount, q.OHLCFailCount = 1, 100
	}
	if q.GapLookback == 0 {
		q.GapLookback = 30 * 24 * time.Hour
	}
	if q.SampleLimit == 0 {
		q.SampleLimit = 5
	}

	c := &cfg.Calendar
	if c.Source == "" {
		c.Source = "alpaca"
	}
	if c.Cache == "" {
		c.Cache = "memory"
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = 24 * time.Hour
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.GRPCPort == 0 {
		cfg.Server.GRPCPort = 9090
	}
}

// Validate reports configuration errors that would otherwise surface deep
// inside a run.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Backend {
	case "sqlite", "parquet":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q: want sqlite, postgres or parquet", c.Storage.Backend))
	}

	if _, err := time.Parse("2006-01-02", c.Ingest.StartDate); err != nil {
		errs = append(errs, fmt.Errorf("ingest.start_date: %w", err))
	}
	if c.Ingest.MaxConcurrency < 1 {
		errs = append(errs, errors.New("ingest.max_concurrency must be at least 1"))
	}
	if c.Ingest.BatchSize < 1 {
		errs = append(errs, errors.New("ingest.batch_size must be at least 1"))
	}
	if c.Ingest.FetchMaxDays < 1 {
		errs = append(errs, errors.New("ingest.fetch_max_days must be at least 1"))
	}
	if c.Quality.MissingWarnPct >= c.Quality.MissingFailPct {
		errs = append(errs, errors.New("quality.missing_warn_pct must be below missing_fail_pct"))
	}
	if c.Quality.OHLCWarnCount >= c.Quality.OHLCFailCount {
		errs = append(errs, errors.New("quality.ohlc_warn_count must be below ohlc_fail_count"))
	}

	switch c.Calendar.Source {
	case "alpaca", "static":
	default:
		errs = append(errs, fmt.Errorf("calendar.source %q: want alpaca or static", c.Calendar.Source))
	}
	switch c.Calendar.Cache {
	case "memory":
	case "redis":
		if c.Calendar.RedisAddr == "" {
			errs = append(errs, errors.New("calendar.redis_addr is required for the redis cache"))
		}
	default:
		errs = append(errs, fmt.Errorf("calendar.cache %q: want memory or redis", c.Calendar.Cache))
	}

	return errors.Join(errs...)
}

// StartDate returns the parsed ingest start date (UTC midnight).
func (c *Config) StartDate() time.Time {
	t, _ := time.Parse("2006-01-02", c.Ingest.StartDate)
	return t
}

// SplitSymbols parses a comma-separated symbol list, upper-casing and
// dropping blanks and repeats.
func SplitSymbols(s string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, part := range strings.Split(s, ",") {
		sym := strings.ToUpper(strings.TrimSpace(part))
		if sym == "" {
			continue
		}
		if _, dup := seen[sym]; dup {
			continue
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
	}
	return out
}
