package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SHPRODUCT_* environment variable overrides, and
// returns the final Config. A missing file is not an error when path is the
// empty string. The returned Config has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SHPRODUCT_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "SHPRODUCT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "SHPRODUCT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "SHPRODUCT_WALLET_KEY_PASSWORD")

	// ── Chain ──
	setInt64(&cfg.Chain.ChainID, "SHPRODUCT_CHAIN_ID")
	setStr(&cfg.Chain.CurrencyName, "SHPRODUCT_CHAIN_CURRENCY_NAME")
	setStr(&cfg.Chain.CurrencySymbol, "SHPRODUCT_CHAIN_CURRENCY_SYMBOL")

	// ── Product ──
	setBool(&cfg.Product.Enabled, "SHPRODUCT_PRODUCT_ENABLED")
	setStr(&cfg.Product.Name, "SHPRODUCT_PRODUCT_NAME")
	setStr(&cfg.Product.Underlying, "SHPRODUCT_PRODUCT_UNDERLYING")
	setStr(&cfg.Product.Manager, "SHPRODUCT_PRODUCT_MANAGER")
	setStr(&cfg.Product.ExWallet, "SHPRODUCT_PRODUCT_EX_WALLET")
	setStr(&cfg.Product.Router, "SHPRODUCT_PRODUCT_ROUTER")
	setStr(&cfg.Product.Market, "SHPRODUCT_PRODUCT_MARKET")
	setInt64(&cfg.Product.MaxCapacity, "SHPRODUCT_PRODUCT_MAX_CAPACITY")
	setStringSlice(&cfg.Product.Whitelist, "SHPRODUCT_PRODUCT_WHITELIST")
	setInt64(&cfg.Product.Cycle.Coupon, "SHPRODUCT_PRODUCT_COUPON")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "SHPRODUCT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "SHPRODUCT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SHPRODUCT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SHPRODUCT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SHPRODUCT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SHPRODUCT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SHPRODUCT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SHPRODUCT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SHPRODUCT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SHPRODUCT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SHPRODUCT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SHPRODUCT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SHPRODUCT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SHPRODUCT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SHPRODUCT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SHPRODUCT_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.LockTTL, "SHPRODUCT_REDIS_LOCK_TTL")
	setInt64(&cfg.Redis.StreamMaxLen, "SHPRODUCT_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "SHPRODUCT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "SHPRODUCT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SHPRODUCT_S3_REGION")
	setStr(&cfg.S3.Bucket, "SHPRODUCT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SHPRODUCT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SHPRODUCT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SHPRODUCT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SHPRODUCT_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SHPRODUCT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SHPRODUCT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SHPRODUCT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SHPRODUCT_SERVER_API_KEY")
	setBool(&cfg.Server.Insecure, "SHPRODUCT_SERVER_INSECURE")
	setInt(&cfg.Server.RateLimit, "SHPRODUCT_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "SHPRODUCT_SERVER_RATE_WINDOW")
	setDuration(&cfg.Server.ShutdownTimeout, "SHPRODUCT_SERVER_SHUTDOWN_TIMEOUT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SHPRODUCT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SHPRODUCT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SHPRODUCT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SHPRODUCT_NOTIFY_EVENTS")
	setInt(&cfg.Notify.MaxPerMinute, "SHPRODUCT_NOTIFY_MAX_PER_MINUTE")

	// ── Top-level ──
	setStr(&cfg.Mode, "SHPRODUCT_MODE")
	setStr(&cfg.LogLevel, "SHPRODUCT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

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

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
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

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
