package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Load reads the TOML file at path over Defaults, loads .env when present
// and applies COPYBOT_* overrides. An empty path skips the file. The result
// is not validated; call Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// A missing .env is fine.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides lets operators inject secrets and per-deploy values
// without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "COPYBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.Address, "COPYBOT_WALLET_ADDRESS")
	setStr(&cfg.Wallet.EncryptedKeyPath, "COPYBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "COPYBOT_WALLET_KEY_PASSWORD")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "COPYBOT_CHAIN_RPC_URL")
	setStr(&cfg.Chain.Contract, "COPYBOT_CHAIN_CONTRACT")
	setStringSlice(&cfg.Chain.SourceWallets, "COPYBOT_CHAIN_SOURCE_WALLETS")
	setInt64(&cfg.Chain.FromBlock, "COPYBOT_CHAIN_FROM_BLOCK")
	setInt(&cfg.Chain.MaxBlocks, "COPYBOT_CHAIN_MAX_BLOCKS")
	setDuration(&cfg.Chain.PollInterval, "COPYBOT_CHAIN_POLL_INTERVAL")
	setDuration(&cfg.Chain.Timeout, "COPYBOT_CHAIN_TIMEOUT")
	setStr(&cfg.Chain.DefaultMarket, "COPYBOT_CHAIN_DEFAULT_MARKET")

	// ── Exchange ──
	setStr(&cfg.Exchange.APIURL, "COPYBOT_EXCHANGE_API_URL")
	setStr(&cfg.Exchange.WSURL, "COPYBOT_EXCHANGE_WS_URL")
	setStringSlice(&cfg.Exchange.Markets, "COPYBOT_EXCHANGE_MARKETS")
	setStr(&cfg.Exchange.MarginToken, "COPYBOT_EXCHANGE_MARGIN_TOKEN")
	setDuration(&cfg.Exchange.Timeout, "COPYBOT_EXCHANGE_TIMEOUT")
	setInt(&cfg.Exchange.RateLimit, "COPYBOT_EXCHANGE_RATE_LIMIT")

	// ── Copy ──
	setDecimal(&cfg.Copy.CopyRatio, "COPYBOT_COPY_RATIO")
	setDecimal(&cfg.Copy.MaxPositionSize, "COPYBOT_COPY_MAX_POSITION_SIZE")
	setDecimal(&cfg.Copy.MinOrderSize, "COPYBOT_COPY_MIN_ORDER_SIZE")
	setDecimal(&cfg.Copy.MinBalance, "COPYBOT_COPY_MIN_BALANCE")
	setDecimal(&cfg.Copy.MaxTotalExposure, "COPYBOT_COPY_MAX_TOTAL_EXPOSURE")
	setDecimal(&cfg.Copy.TickSize, "COPYBOT_COPY_TICK_SIZE")
	setDecimal(&cfg.Copy.MarginRequirement, "COPYBOT_COPY_MARGIN_REQUIREMENT")
	setBool(&cfg.Copy.RespectBalance, "COPYBOT_COPY_RESPECT_BALANCE")
	setBool(&cfg.Copy.EnforceMinimum, "COPYBOT_COPY_ENFORCE_MINIMUM")
	setStr(&cfg.Copy.OrderType, "COPYBOT_COPY_ORDER_TYPE")
	setBool(&cfg.Copy.DryRun, "COPYBOT_COPY_DRY_RUN")
	setStringSlice(&cfg.Copy.MarketWhitelist, "COPYBOT_COPY_MARKET_WHITELIST")
	setStringSlice(&cfg.Copy.MarketBlacklist, "COPYBOT_COPY_MARKET_BLACKLIST")

	// ── Retry ──
	setInt(&cfg.Retry.MaxRetries, "COPYBOT_RETRY_MAX_RETRIES")
	setDuration(&cfg.Retry.BaseDelay, "COPYBOT_RETRY_BASE_DELAY")
	setFloat64(&cfg.Retry.Multiplier, "COPYBOT_RETRY_MULTIPLIER")
	setInt(&cfg.Retry.CircuitThreshold, "COPYBOT_RETRY_CIRCUIT_THRESHOLD")
	setDuration(&cfg.Retry.CircuitWindow, "COPYBOT_RETRY_CIRCUIT_WINDOW")
	setDuration(&cfg.Retry.CircuitCooldown, "COPYBOT_RETRY_CIRCUIT_COOLDOWN")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "COPYBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "COPYBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "COPYBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "COPYBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "COPYBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "COPYBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "COPYBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "COPYBOT_POSTGRES_SSL_MODE")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "COPYBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "COPYBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "COPYBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "COPYBOT_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "COPYBOT_REDIS_TLS_ENABLED")

	// ── S3 / archive ──
	setStr(&cfg.S3.Endpoint, "COPYBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "COPYBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "COPYBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "COPYBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "COPYBOT_S3_SECRET_KEY")
	setBool(&cfg.Archive.Enabled, "COPYBOT_ARCHIVE_ENABLED")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "COPYBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "COPYBOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "COPYBOT_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "COPYBOT_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "COPYBOT_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "COPYBOT_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "COPYBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "COPYBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "COPYBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "COPYBOT_NOTIFY_EVENTS")

	// ── Log ──
	setStr(&cfg.Log.Format, "COPYBOT_LOG_FORMAT")
	setStr(&cfg.Log.File, "COPYBOT_LOG_FILE")

	// ── Top-level ──
	setStr(&cfg.Mode, "COPYBOT_MODE")
	setStr(&cfg.LogLevel, "COPYBOT_LOG_LEVEL")
}

// Typed helpers. Each only touches dst when the variable is set, non-empty
// and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

// setBool also accepts yes/y, which the reference settings allowed.
func setBool(dst *bool, key string) {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "":
	case "yes", "y":
		*dst = true
	case "no", "n":
		*dst = false
	default:
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setDecimal(dst *amount, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(strings.TrimSpace(v)); err == nil {
			dst.Decimal = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
