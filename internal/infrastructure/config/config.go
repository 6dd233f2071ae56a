package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	LedgerMemory   = "memory"
	LedgerSQLite   = "sqlite"
	LedgerPostgres = "postgres"
	LedgerRedis    = "redis"
)

type Config struct {
	App struct {
		IntervalSec  int      `toml:"interval_sec"`
		Agents       []string `toml:"agents"`
		TotalMargin  float64  `toml:"total_margin"`
		CleanOrphans bool     `toml:"clean_orphans"`
		DryRun       bool     `toml:"dry_run"`
		DryRunFunds  float64  `toml:"dry_run_balance"`
	} `toml:"app"`

	Risk struct {
		PriceTolerance  float64            `toml:"price_tolerance"`
		SymbolTolerance map[string]float64 `toml:"symbol_tolerance"`
	} `toml:"risk"`

	Execution struct {
		CloseVerifyAttempts int    `toml:"close_verify_attempts"`
		CloseVerifyDelayMs  int    `toml:"close_verify_delay_ms"`
		QuoteAsset          string `toml:"quote_asset"`
		ProtectiveOrders    *bool  `toml:"protective_orders"`
	} `toml:"execution"`

	Exchange struct {
		Binance struct {
			RestURL      string   `toml:"rest_url"`
			WsURL        string   `toml:"ws_url"`
			APIKey       string   `toml:"api_key"`
			APISecret    string   `toml:"api_secret"`
			RecvWindow   int64    `toml:"recv_window"`
			StreamPrices bool     `toml:"stream_prices"`
			Symbols      []string `toml:"stream_symbols"`
			PriceMaxAge  int      `toml:"price_max_age_sec"`
			TimeoutSec   int      `toml:"timeout_sec"`
		} `toml:"binance"`
	} `toml:"exchange"`

	AgentFeed struct {
		BaseURL    string `toml:"base_url"`
		TimeoutSec int    `toml:"timeout_sec"`
	} `toml:"agent_feed"`

	Ledger struct {
		Backend string   `toml:"backend"`
		Mirrors []string `toml:"mirrors"`
	} `toml:"ledger"`

	SQLite struct {
		Path string `toml:"path"`
	} `toml:"sqlite"`

	Postgres struct {
		DSN string `toml:"dsn"`
	} `toml:"postgres"`

	Redis struct {
		Addr          string `toml:"addr"`
		Password      string `toml:"password"`
		DB            int    `toml:"db"`
		Prefix        string `toml:"prefix"`
		ActionStream  string `toml:"action_stream"`
		ActionChannel string `toml:"action_channel"`
		StreamMaxLen  int64  `toml:"stream_maxlen"`
		PublishEvents bool   `toml:"publish_events"`
	} `toml:"redis"`

	Metrics struct {
		Addr string `toml:"addr"`
	} `toml:"metrics"`

	Log struct {
		Level      string `toml:"level"`
		Format     string `toml:"format"`
		File       string `toml:"file"`
		MaxSizeMB  int    `toml:"max_size_mb"`
		MaxBackups int    `toml:"max_backups"`
		MaxAgeDays int    `toml:"max_age_days"`
	} `toml:"log"`
}

const defaultPriceTolerance = 1.0

// Load reads the TOML file, then overlays secrets from the environment. A .env
// next to the config file (or in the working directory) is loaded first if present.
func Load(path string) (*Config, error) {
	loadDotEnv(path)

	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	// 0 is a valid tolerance, so only an absent key takes the default
	if !md.IsDefined("risk", "price_tolerance") {
		cfg.Risk.PriceTolerance = defaultPriceTolerance
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a config with only defaults applied, for running without a file.
func Default() *Config {
	var cfg Config
	cfg.Risk.PriceTolerance = defaultPriceTolerance
	applyEnv(&cfg)
	applyDefaults(&cfg)
	return &cfg
}

func loadDotEnv(path string) {
	candidates := []string{".env"}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		candidates = append([]string{filepath.Join(dir, ".env")}, candidates...)
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			// godotenv.Load does not override variables already set
			_ = godotenv.Load(p)
		}
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		cfg.Exchange.Binance.APIKey = v
	}
	if v := os.Getenv("BINANCE_API_SECRET"); v != "" {
		cfg.Exchange.Binance.APISecret = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.App.IntervalSec <= 0 {
		cfg.App.IntervalSec = 60
	}
	if cfg.App.DryRunFunds <= 0 {
		cfg.App.DryRunFunds = 10000
	}
	if cfg.Execution.CloseVerifyAttempts <= 0 {
		cfg.Execution.CloseVerifyAttempts = 5
	}
	if cfg.Execution.CloseVerifyDelayMs <= 0 {
		cfg.Execution.CloseVerifyDelayMs = 1000
	}
	if cfg.Execution.QuoteAsset == "" {
		cfg.Execution.QuoteAsset = "USDT"
	}
	if cfg.Execution.ProtectiveOrders == nil {
		on := true
		cfg.Execution.ProtectiveOrders = &on
	}
	if cfg.Exchange.Binance.RecvWindow <= 0 {
		cfg.Exchange.Binance.RecvWindow = 5000
	}
	if len(cfg.Exchange.Binance.Symbols) == 0 {
		cfg.Exchange.Binance.Symbols = []string{"BTC", "ETH", "SOL", "BNB", "XRP", "DOGE"}
	}
	if cfg.Exchange.Binance.PriceMaxAge <= 0 {
		cfg.Exchange.Binance.PriceMaxAge = 30
	}
	if cfg.Exchange.Binance.TimeoutSec <= 0 {
		cfg.Exchange.Binance.TimeoutSec = 10
	}
	if cfg.AgentFeed.BaseURL == "" {
		cfg.AgentFeed.BaseURL = "https://nof1.ai"
	}
	if cfg.AgentFeed.TimeoutSec <= 0 {
		cfg.AgentFeed.TimeoutSec = 10
	}
	if cfg.Ledger.Backend == "" {
		cfg.Ledger.Backend = LedgerSQLite
	}
	if cfg.SQLite.Path == "" {
		cfg.SQLite.Path = "data/agentmirror.db"
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "agentmirror"
	}
	if cfg.Redis.ActionStream == "" {
		cfg.Redis.ActionStream = "actions"
	}
	if cfg.Redis.ActionChannel == "" {
		cfg.Redis.ActionChannel = "actions"
	}
	if cfg.Redis.StreamMaxLen <= 0 {
		cfg.Redis.StreamMaxLen = 10000
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = 100
	}
	if cfg.Log.MaxBackups <= 0 {
		cfg.Log.MaxBackups = 5
	}
	if cfg.Log.MaxAgeDays <= 0 {
		cfg.Log.MaxAgeDays = 30
	}
}

func validate(cfg *Config) error {
	cfg.App.Agents = normalizeAgents(cfg.App.Agents)
	cfg.Execution.QuoteAsset = strings.ToUpper(strings.TrimSpace(cfg.Execution.QuoteAsset))
	cfg.Exchange.Binance.Symbols = normalizeSymbols(cfg.Exchange.Binance.Symbols)

	if cfg.App.TotalMargin < 0 {
		return errors.New("app.total_margin must not be negative")
	}
	if cfg.Risk.PriceTolerance < 0 {
		return errors.New("risk.price_tolerance must not be negative")
	}
	for sym, tol := range cfg.Risk.SymbolTolerance {
		if tol < 0 {
			return fmt.Errorf("risk.symbol_tolerance.%s must not be negative", sym)
		}
	}

	cfg.Ledger.Backend = strings.ToLower(strings.TrimSpace(cfg.Ledger.Backend))
	if err := checkBackend(cfg, "ledger.backend", cfg.Ledger.Backend); err != nil {
		return err
	}
	for i, m := range cfg.Ledger.Mirrors {
		m = strings.ToLower(strings.TrimSpace(m))
		cfg.Ledger.Mirrors[i] = m
		if m == cfg.Ledger.Backend {
			return fmt.Errorf("ledger.mirrors: %q is already the primary backend", m)
		}
		if err := checkBackend(cfg, "ledger.mirrors", m); err != nil {
			return err
		}
	}

	if cfg.Redis.PublishEvents && strings.TrimSpace(cfg.Redis.Addr) == "" {
		return errors.New("redis.publish_events set but redis.addr empty")
	}
	if !cfg.App.DryRun && (cfg.Exchange.Binance.APIKey == "") != (cfg.Exchange.Binance.APISecret == "") {
		return errors.New("exchange.binance: api_key and api_secret must be set together")
	}
	return nil
}

func checkBackend(cfg *Config, field, backend string) error {
	switch backend {
	case LedgerMemory:
	case LedgerSQLite:
		if strings.TrimSpace(cfg.SQLite.Path) == "" {
			return fmt.Errorf("%s=sqlite but sqlite.path empty", field)
		}
	case LedgerPostgres:
		if strings.TrimSpace(cfg.Postgres.DSN) == "" {
			return fmt.Errorf("%s=postgres but postgres.dsn empty", field)
		}
	case LedgerRedis:
		if strings.TrimSpace(cfg.Redis.Addr) == "" {
			return fmt.Errorf("%s=redis but redis.addr empty", field)
		}
	default:
		return fmt.Errorf("%s: unknown backend %q", field, backend)
	}
	return nil
}

func normalizeAgents(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, s := range in {
		a := strings.TrimSpace(s)
		if a == "" {
			continue
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}

func normalizeSymbols(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, s := range in {
		u := strings.ToUpper(strings.TrimSpace(s))
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
