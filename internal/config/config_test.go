package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "barsync.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"ALPACA_API_KEY", "ALPACA_API_SECRET", "APCA_API_KEY_ID", "APCA_API_SECRET_KEY",
		"DATA_DIR", "SQLITE_PATH", "POSTGRES_DSN", "STORAGE_BACKEND", "REDIS_ADDR",
		"LOG_LEVEL", "BARSYNC_SYMBOLS", "ALPACA_FEED",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
storage:
  backend: "sqlite"
  sqlite_path: "/tmp/barsync/barsync.db"
alpaca:
  api_key: "test-key"
  api_secret: "test-secret"
  base_url: "https://paper-api.alpaca.markets"
  feed: "iex"
logging:
  level: "debug"
ingest:
  symbols: ["AAPL", "MSFT"]
  start_date: "2021-01-01"
  retry_delay: 2s
  symbol_timeout: 10m
quality:
  missing_warn_pct: 1
  missing_fail_pct: 5
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	// -- Storage --
	if cfg.Storage.SQLitePath != "/tmp/barsync/barsync.db" {
		t.Errorf("Storage.SQLitePath = %q", cfg.Storage.SQLitePath)
	}
	if cfg.Storage.QueryTimeout != 30*time.Second {
		t.Errorf("Storage.QueryTimeout = %v, want default 30s", cfg.Storage.QueryTimeout)
	}

	// -- Alpaca --
	if cfg.Alpaca.APIKey != "test-key" || cfg.Alpaca.APISecret != "test-secret" {
		t.Errorf("Alpaca credentials = %q/%q", cfg.Alpaca.APIKey, cfg.Alpaca.APISecret)
	}
	if cfg.Alpaca.Feed != "iex" {
		t.Errorf("Alpaca.Feed = %q, want iex", cfg.Alpaca.Feed)
	}

	// -- Ingest --
	if !reflect.DeepEqual(cfg.Ingest.Symbols, []string{"AAPL", "MSFT"}) {
		t.Errorf("Ingest.Symbols = %v", cfg.Ingest.Symbols)
	}
	if cfg.Ingest.RetryDelay != 2*time.Second {
		t.Errorf("Ingest.RetryDelay = %v, want 2s", cfg.Ingest.RetryDelay)
	}
	if cfg.Ingest.SymbolTimeout != 10*time.Minute {
		t.Errorf("Ingest.SymbolTimeout = %v, want 10m", cfg.Ingest.SymbolTimeout)
	}
	if cfg.Ingest.MaxConcurrency != 5 {
		t.Errorf("Ingest.MaxConcurrency = %d, want 5", cfg.Ingest.MaxConcurrency)
	}
	if cfg.Ingest.RetryAttempts != 3 || cfg.Ingest.BatchSize != 1000 {
		t.Errorf("Ingest retry/batch defaults = %d/%d", cfg.Ingest.RetryAttempts, cfg.Ingest.BatchSize)
	}
	if cfg.Ingest.GapLookback != 24*time.Hour {
		t.Errorf("Ingest.GapLookback = %v, want 24h", cfg.Ingest.GapLookback)
	}
	if got := cfg.StartDate(); got.Year() != 2021 {
		t.Errorf("StartDate() = %v", got)
	}

	// -- Quality --
	if cfg.Quality.MissingWarnPct != 1 || cfg.Quality.MissingFailPct != 5 {
		t.Errorf("Quality missing thresholds = %v/%v", cfg.Quality.MissingWarnPct, cfg.Quality.MissingFailPct)
	}
	if cfg.Quality.OHLCWarnCount != 1 || cfg.Quality.OHLCFailCount != 100 {
		t.Errorf("Quality OHLC thresholds = %d/%d", cfg.Quality.OHLCWarnCount, cfg.Quality.OHLCFailCount)
	}

	// -- Logging / Calendar --
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if cfg.Calendar.Source != "alpaca" || cfg.Calendar.Cache != "memory" {
		t.Errorf("Calendar = %+v", cfg.Calendar)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
alpaca:
  api_key: "file-key"
ingest:
  symbols: ["AAPL"]
`)

	t.Setenv("APCA_API_KEY_ID", "env-key")
	t.Setenv("BARSYNC_SYMBOLS", "spy, qqq ,SPY,")
	t.Setenv("SQLITE_PATH", "/var/lib/barsync.db")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Alpaca.APIKey != "env-key" {
		t.Errorf("Alpaca.APIKey = %q, want env-key", cfg.Alpaca.APIKey)
	}
	if !reflect.DeepEqual(cfg.Ingest.Symbols, []string{"SPY", "QQQ"}) {
		t.Errorf("Ingest.Symbols = %v, want [SPY QQQ]", cfg.Ingest.Symbols)
	}
	if cfg.Storage.SQLitePath != "/var/lib/barsync.db" {
		t.Errorf("Storage.SQLitePath = %q", cfg.Storage.SQLitePath)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults ok", func(*Config) {}, ""},
		{"postgres without dsn", func(c *Config) { c.Storage.Backend = "postgres" }, "postgres_dsn"},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "mongo" }, "storage.backend"},
		{"warn above fail", func(c *Config) { c.Quality.MissingWarnPct = 20 }, "missing_warn_pct"},
		{"ohlc warn equals fail", func(c *Config) { c.Quality.OHLCWarnCount = 100 }, "ohlc_warn_count"},
		{"bad start date", func(c *Config) { c.Ingest.StartDate = "2020/01/01" }, "start_date"},
		{"redis without addr", func(c *Config) { c.Calendar.Cache = "redis" }, "redis_addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Load() of a missing file should fail")
	}
}

func TestLoadSymbolsFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "symbols.csv")
	csv := "symbol,description\n# comment line\nmsft,Microsoft\nNVDA,Nvidia,extra\n\nAAPL,dup\n"
	if err := os.WriteFile(csvPath, []byte(csv), 0o644); err != nil {
		t.Fatal(err)
	}

	path := writeConfig(t, `
ingest:
  symbols: [AAPL]
  symbols_file: "`+csvPath+`"
calendar:
  source: static
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []string{"AAPL", "MSFT", "NVDA"}
	if !reflect.DeepEqual(cfg.Ingest.Symbols, want) {
		t.Errorf("Symbols = %v, want %v", cfg.Ingest.Symbols, want)
	}
}

func TestLoadSymbolsFileMissing(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
ingest:
  symbols_file: "/nonexistent/symbols.csv"
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "symbols file") {
		t.Errorf("err = %v, want symbols file error", err)
	}
}

func TestLoadSymbolsFileHeaderOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.csv")
	if err := os.WriteFile(path, []byte("symbol\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	syms, err := LoadSymbolsFile(path)
	if err != nil || len(syms) != 0 {
		t.Errorf("LoadSymbolsFile = %v, %v", syms, err)
	}
}
