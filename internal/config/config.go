// Package config defines the copybot configuration and its validation rules.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// Config is the root configuration. Fields come from a TOML file and are
// then overridden by COPYBOT_* environment variables.
type Config struct {
	Wallet   WalletConfig   `toml:"wallet"`
	Chain    ChainConfig    `toml:"chain"`
	Exchange ExchangeConfig `toml:"exchange"`
	Copy     CopyConfig     `toml:"copy"`
	Retry    RetryConfig    `toml:"retry"`
	Tracker  TrackerConfig  `toml:"tracker"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Log      LogConfig      `toml:"log"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// WalletConfig holds the trading wallet credentials. Either PrivateKey or
// EncryptedKeyPath with KeyPassword must be set in copy mode.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	Address          string `toml:"address"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ChainConfig selects the node, the venue contract and the wallets to follow.
type ChainConfig struct {
	RPCURL        string   `toml:"rpc_url"`
	Contract      string   `toml:"contract"`
	SourceWallets []string `toml:"source_wallets"`
	FromBlock     int64    `toml:"from_block"`
	MaxBlocks     int      `toml:"max_blocks"`
	PollInterval  duration `toml:"poll_interval"`
	Timeout       duration `toml:"timeout"`
	PriceDecimals int      `toml:"price_decimals"`
	SizeDecimals  int      `toml:"size_decimals"`
	DefaultMarket string   `toml:"default_market"`
}

// ExchangeConfig holds the Kuru API endpoints and request budget.
type ExchangeConfig struct {
	APIURL      string   `toml:"api_url"`
	WSURL       string   `toml:"ws_url"`
	Markets     []string `toml:"markets"`
	MarginToken string   `toml:"margin_token"`
	Timeout     duration `toml:"timeout"`
	// RateLimit requests per RateWindow, shared through Redis. Zero disables.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// CopyConfig holds sizing and risk parameters. A zero amount disables the
// corresponding optional limit.
type CopyConfig struct {
	CopyRatio         amount   `toml:"copy_ratio"`
	MaxPositionSize   amount   `toml:"max_position_size"`
	MinOrderSize      amount   `toml:"min_order_size"`
	MinBalance        amount   `toml:"min_balance"`
	MaxTotalExposure  amount   `toml:"max_total_exposure"`
	TickSize          amount   `toml:"tick_size"`
	MarginRequirement amount   `toml:"margin_requirement"`
	RespectBalance    bool     `toml:"respect_balance"`
	EnforceMinimum    bool     `toml:"enforce_minimum"`
	OrderType         string   `toml:"order_type"`
	DryRun            bool     `toml:"dry_run"`
	MarketWhitelist   []string `toml:"market_whitelist"`
	MarketBlacklist   []string `toml:"market_blacklist"`
	CallTimeout       duration `toml:"call_timeout"`
	StatsInterval     duration `toml:"stats_interval"`
}

// RetryConfig tunes the retry queue and its circuit breaker.
type RetryConfig struct {
	MaxRetries       int      `toml:"max_retries"`
	BaseDelay        duration `toml:"base_delay"`
	Multiplier       float64  `toml:"multiplier"`
	CircuitThreshold int      `toml:"circuit_threshold"`
	CircuitWindow    duration `toml:"circuit_window"`
	CircuitCooldown  duration `toml:"circuit_cooldown"`
	Interval         duration `toml:"interval"`
}

// TrackerConfig bounds the fill tracker's memory.
type TrackerConfig struct {
	OrderTTL        duration `toml:"order_ttl"`
	CleanupInterval duration `toml:"cleanup_interval"`
}

// PostgresConfig holds the audit and history database settings.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds the shared cache settings.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	SeenTTL    duration `toml:"seen_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	// Prefix namespaces object keys when bots share a bucket.
	Prefix         string `toml:"prefix"`
}

// ArchiveConfig controls the dead-letter upload loop.
type ArchiveConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
}

// ServerConfig holds the status API parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	// RateLimit caps requests per client IP per RateWindow. Needs redis.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds operator alert channels.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	Cooldown          duration `toml:"cooldown"`
}

// LogConfig selects the log format and optional rotated log file.
type LogConfig struct {
	Format     string `toml:"format"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// duration wraps time.Duration so TOML strings like "5s" decode.
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// amount is a decimal that decodes from a TOML string, integer or float.
// Strings keep full precision.
type amount struct {
	decimal.Decimal
}

// UnmarshalTOML implements toml.Unmarshaler.
func (a *amount) UnmarshalTOML(v any) error {
	switch x := v.(type) {
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(x))
		if err != nil {
			return fmt.Errorf("invalid decimal %q: %w", x, err)
		}
		a.Decimal = d
	case int64:
		a.Decimal = decimal.NewFromInt(x)
	case float64:
		a.Decimal = decimal.NewFromFloat(x)
	default:
		return fmt.Errorf("invalid decimal value %v (%T)", v, v)
	}
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (a amount) MarshalText() ([]byte, error) {
	return []byte(a.Decimal.String()), nil
}

// Null converts a to an optional limit: zero (or negative) means unset.
func (a amount) Null() decimal.NullDecimal {
	if !a.IsPositive() {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(a.Decimal)
}

func amt(s string) amount { return amount{decimal.RequireFromString(s)} }

// Modes.
const (
	ModeCopy    = "copy"
	ModeMonitor = "monitor"
)

// Defaults returns a Config with the stock values, matching
// config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RPCURL:        "https://testnet-rpc.monad.xyz",
			Contract:      "0xc816865f172d640d93712C68a7E1F83F3fA63235",
			MaxBlocks:     1000,
			PollInterval:  duration{5 * time.Second},
			Timeout:       duration{10 * time.Second},
			PriceDecimals: 18,
			SizeDecimals:  18,
			DefaultMarket: "UNKNOWN",
		},
		Exchange: ExchangeConfig{
			APIURL:     "https://api.testnet.kuru.io",
			WSURL:      "wss://ws.testnet.kuru.io",
			Timeout:    duration{10 * time.Second},
			RateWindow: duration{time.Second},
		},
		Copy: CopyConfig{
			CopyRatio:        amt("1.0"),
			MaxPositionSize:  amt("1000"),
			MinOrderSize:     amt("10"),
			MinBalance:       amt("100"),
			MaxTotalExposure: amt("5000"),
			RespectBalance:   true,
			EnforceMinimum:   false,
			OrderType:        string(domain.OrderTypeLimit),
			CallTimeout:      duration{10 * time.Second},
			StatsInterval:    duration{time.Minute},
		},
		Retry: RetryConfig{
			MaxRetries:       3,
			BaseDelay:        duration{time.Second},
			Multiplier:       2.0,
			CircuitThreshold: 10,
			CircuitWindow:    duration{60 * time.Second},
			CircuitCooldown:  duration{300 * time.Second},
			Interval:         duration{time.Second},
		},
		Tracker: TrackerConfig{
			OrderTTL:        duration{time.Hour},
			CleanupInterval: duration{5 * time.Minute},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "copybot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			SeenTTL:    duration{24 * time.Hour},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "copybot-data",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Interval: duration{time.Hour},
		},
		Server: ServerConfig{
			Enabled:    true,
			Port:       8000,
			RateWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events:   []string{"order_dead_lettered", "circuit_opened", "circuit_closed"},
			Cooldown: duration{time.Minute},
		},
		Log: LogConfig{
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Mode:     ModeCopy,
		LogLevel: "info",
	}
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks c and returns one error listing every problem found.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	mode := strings.ToLower(c.Mode)
	if mode != ModeCopy && mode != ModeMonitor {
		add("unknown mode %q (valid: copy, monitor)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	// Wallet is needed to sign exchange requests in copy mode.
	if mode == ModeCopy {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			add("wallet: either private_key or encrypted_key_path must be set for mode copy")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			add("wallet: key_password is required when encrypted_key_path is set")
		}
	}
	if c.Wallet.Address != "" && !domain.IsAddress(c.Wallet.Address) {
		add("wallet: invalid address %q", c.Wallet.Address)
	}

	// Chain
	if !hasHTTPScheme(c.Chain.RPCURL) {
		add("chain: rpc_url must start with http:// or https://")
	}
	if !domain.IsAddress(c.Chain.Contract) {
		add("chain: invalid contract address %q", c.Chain.Contract)
	}
	if len(c.Chain.SourceWallets) == 0 {
		add("chain: at least one source wallet is required")
	}
	for _, w := range c.Chain.SourceWallets {
		if !domain.IsAddress(w) {
			add("chain: invalid source wallet address %q", w)
		}
	}
	if c.Chain.FromBlock < 0 {
		add("chain: from_block must be >= 0")
	}
	if c.Chain.PollInterval.Duration <= 0 || c.Chain.PollInterval.Duration > time.Hour {
		add("chain: poll_interval must be in (0, 1h], got %s", c.Chain.PollInterval.Duration)
	}
	if c.Chain.PriceDecimals < 0 || c.Chain.SizeDecimals < 0 {
		add("chain: price_decimals and size_decimals must be >= 0")
	}

	// Exchange
	if mode == ModeCopy {
		if !hasHTTPScheme(c.Exchange.APIURL) {
			add("exchange: api_url must start with http:// or https://")
		}
		if c.Exchange.WSURL != "" && !strings.HasPrefix(c.Exchange.WSURL, "ws://") && !strings.HasPrefix(c.Exchange.WSURL, "wss://") {
			add("exchange: ws_url must start with ws:// or wss://")
		}
	}
	if c.Exchange.RateLimit < 0 {
		add("exchange: rate_limit must be >= 0")
	}
	if c.Exchange.RateLimit > 0 && !c.Redis.Enabled {
		add("exchange: rate_limit requires redis.enabled")
	}

	// Copy
	cp := c.Copy
	if !cp.CopyRatio.IsPositive() {
		add("copy: copy_ratio must be > 0, got %s", cp.CopyRatio)
	}
	for _, f := range []struct {
		name string
		v    amount
	}{
		{"max_position_size", cp.MaxPositionSize},
		{"min_order_size", cp.MinOrderSize},
		{"min_balance", cp.MinBalance},
		{"max_total_exposure", cp.MaxTotalExposure},
		{"tick_size", cp.TickSize},
		{"margin_requirement", cp.MarginRequirement},
	} {
		if f.v.IsNegative() {
			add("copy: %s must be >= 0, got %s", f.name, f.v)
		}
	}
	if cp.MarginRequirement.GreaterThan(decimal.NewFromInt(1)) {
		add("copy: margin_requirement must be in (0, 1], got %s", cp.MarginRequirement)
	}
	if cp.MinOrderSize.IsPositive() && cp.MaxPositionSize.IsPositive() && !cp.MinOrderSize.LessThan(cp.MaxPositionSize.Decimal) {
		add("copy: min_order_size (%s) must be less than max_position_size (%s)", cp.MinOrderSize, cp.MaxPositionSize)
	}
	if cp.MaxPositionSize.IsPositive() && cp.MaxTotalExposure.IsPositive() && cp.MaxPositionSize.GreaterThan(cp.MaxTotalExposure.Decimal) {
		add("copy: max_position_size (%s) cannot exceed max_total_exposure (%s)", cp.MaxPositionSize, cp.MaxTotalExposure)
	}
	switch domain.OrderType(strings.ToLower(cp.OrderType)) {
	case domain.OrderTypeLimit, domain.OrderTypeMarket:
	default:
		add("copy: unknown order_type %q (valid: limit, market)", cp.OrderType)
	}

	// Retry
	if c.Retry.MaxRetries < 0 {
		add("retry: max_retries must be >= 0")
	}
	if c.Retry.Multiplier < 1 {
		add("retry: multiplier must be >= 1, got %g", c.Retry.Multiplier)
	}
	if c.Retry.CircuitThreshold < 1 {
		add("retry: circuit_threshold must be >= 1")
	}
	if c.Retry.Interval.Duration <= 0 {
		add("retry: interval must be > 0")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				add("postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
			if c.Postgres.Database == "" {
				add("postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			add("postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
	}

	// Archive needs S3
	if c.Archive.Enabled {
		if c.S3.Bucket == "" {
			add("s3: bucket must not be empty when archive is enabled")
		}
		if c.S3.Region == "" {
			add("s3: region must not be empty when archive is enabled")
		}
		if c.Archive.Interval.Duration <= 0 {
			add("archive: interval must be > 0")
		}
	}

	// Server
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		add("server: port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Server.RateLimit < 0 {
		add("server: rate_limit must be >= 0")
	}
	if c.Server.RateLimit > 0 && !c.Redis.Enabled {
		add("server: rate_limit requires redis.enabled")
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		add("notify: telegram_token and telegram_chat_id must be set together")
	}

	// Log
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		add("log: unknown format %q (valid: json, text)", c.Log.Format)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", domain.ErrConfiguration, strings.Join(errs, "\n  - "))
	}
	return nil
}

func hasHTTPScheme(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}
