// Package config defines the top-level configuration for the product ledger
// service and provides validation helpers.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SHPRODUCT_* environment variables.
type Config struct {
	Wallet   WalletConfig   `toml:"wallet"`
	Chain    ChainConfig    `toml:"chain"`
	Product  ProductConfig  `toml:"product"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// WalletConfig holds the deployer key. The deployer owns the registry and
// signs the genesis calls.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ChainConfig holds the execution environment parameters.
type ChainConfig struct {
	ChainID        int64         `toml:"chain_id"`
	CurrencyName   string        `toml:"currency_name"`
	CurrencySymbol string        `toml:"currency_symbol"`
	Faucet         []FaucetGrant `toml:"faucet"`
}

// FaucetGrant mints Amount whole currency units to Address at genesis.
type FaucetGrant struct {
	Address string `toml:"address"`
	Amount  int64  `toml:"amount"`
}

// ProductConfig describes the product created at genesis.
type ProductConfig struct {
	Enabled     bool        `toml:"enabled"`
	Name        string      `toml:"name"`
	Underlying  string      `toml:"underlying"`
	Manager     string      `toml:"manager"`
	ExWallet    string      `toml:"ex_wallet"`
	MaxCapacity int64       `toml:"max_capacity"`
	Router      string      `toml:"router"`
	Market      string      `toml:"market"`
	Whitelist   []string    `toml:"whitelist"`
	Cycle       CycleConfig `toml:"cycle"`
}

// CycleConfig holds the initial issuance cycle terms.
type CycleConfig struct {
	Coupon             int64  `toml:"coupon"`
	StrikePrice1       int64  `toml:"strike_price1"`
	StrikePrice2       int64  `toml:"strike_price2"`
	StrikePrice3       int64  `toml:"strike_price3"`
	StrikePrice4       int64  `toml:"strike_price4"`
	TR1                int64  `toml:"tr1"`
	TR2                int64  `toml:"tr2"`
	IssuanceDate       int64  `toml:"issuance_date"`
	MaturityDate       int64  `toml:"maturity_date"`
	APY                string `toml:"apy"`
	UnderlyingSpotRef  int64  `toml:"underlying_spot_ref"`
	OptionMinOrderSize int64  `toml:"option_min_order_size"`
	SubAccountID       string `toml:"sub_account_id"`
	Participation      int64  `toml:"participation"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr         string   `toml:"addr"` // host:port or redis:// URL
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	LockTTL      duration `toml:"lock_ttl"`
	StreamMaxLen int64    `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey, when set, is required on every request except the health check.
	// Several comma-separated keys may be active during a rotation.
	APIKey string `toml:"api_key"`
	// Insecure accepts unsigned call envelopes. Local tooling only.
	Insecure        bool     `toml:"insecure"`
	RateLimit       int      `toml:"rate_limit"`
	RateWindow      duration `toml:"rate_window"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
}

// NotifyConfig holds notification channel credentials. Events lists the
// event kinds that trigger a message.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	// MaxPerMinute caps messages per channel in full mode; 0 disables it.
	MaxPerMinute int `toml:"max_per_minute"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			ChainID:        31337,
			CurrencyName:   "USD Coin",
			CurrencySymbol: "USDC",
		},
		Product: ProductConfig{
			Enabled:     true,
			Name:        "BTC Bullish Spread 01",
			Underlying:  "BTC/USDC",
			MaxCapacity: 1_000_000,
			Cycle: CycleConfig{
				Coupon:        10,
				APY:           "5%",
				Participation: 1,
			},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "shproduct",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			LockTTL:      duration{10 * time.Second},
			StreamMaxLen: 10_000,
		},
		S3: S3Config{
			Enabled:        true,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "shproduct-statements",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       120,
			RateWindow:      duration{time.Minute},
			ShutdownTimeout: duration{10 * time.Second},
		},
		Notify: NotifyConfig{
			Events:       []string{"Issuance", "Mature", "Coupon", "OptionPayout"},
			MaxPerMinute: 20,
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validEvents enumerates the event kinds Notify.Events may name.
var validEvents = map[string]bool{
	"Whitelisted": true, "Initialized": true, "Deposit": true,
	"WithdrawPrincipal": true, "WithdrawCoupon": true, "WithdrawOption": true,
	"Coupon": true, "ProductCreated": true, "TokenCreated": true,
	"FundAccept": true, "FundLock": true, "Issuance": true, "Mature": true,
	"UpdateCoupon": true, "UpdateParameters": true, "RedeemOptionPayout": true,
	"OptionPayout": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet: every mode signs genesis calls with the deployer key.
	if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
		errs = append(errs, "wallet: either private_key or encrypted_key_path must be set")
	}
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}

	// Chain
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}
	if c.Chain.CurrencySymbol == "" {
		errs = append(errs, "chain: currency_symbol must not be empty")
	}
	for i, g := range c.Chain.Faucet {
		if !common.IsHexAddress(g.Address) {
			errs = append(errs, fmt.Sprintf("chain: faucet[%d].address %q is not a hex address", i, g.Address))
		}
		if g.Amount <= 0 {
			errs = append(errs, fmt.Sprintf("chain: faucet[%d].amount must be > 0", i))
		}
	}

	// Product
	if c.Product.Enabled {
		if strings.TrimSpace(c.Product.Name) == "" {
			errs = append(errs, "product: name must not be empty")
		}
		if c.Product.MaxCapacity < 0 {
			errs = append(errs, "product: max_capacity must be >= 0")
		}
		if c.Product.Cycle.Coupon < 0 || c.Product.Cycle.Coupon > 100 {
			errs = append(errs, fmt.Sprintf("product: cycle.coupon must be 0-100, got %d", c.Product.Cycle.Coupon))
		}
		addrs := map[string]string{
			"manager":   c.Product.Manager,
			"ex_wallet": c.Product.ExWallet,
			"router":    c.Product.Router,
			"market":    c.Product.Market,
		}
		for name, v := range addrs {
			if v != "" && !common.IsHexAddress(v) {
				errs = append(errs, fmt.Sprintf("product: %s %q is not a hex address", name, v))
			}
		}
		for i, v := range c.Product.Whitelist {
			if !common.IsHexAddress(v) {
				errs = append(errs, fmt.Sprintf("product: whitelist[%d] %q is not a hex address", i, v))
			}
		}
	}

	// Persistence and messaging are only required in full mode.
	if strings.EqualFold(c.Mode, "full") {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}

		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.LockTTL.Duration <= 0 {
			errs = append(errs, "redis: lock_ttl must be > 0")
		}

		if c.S3.Enabled {
			if c.S3.Endpoint == "" {
				errs = append(errs, "s3: endpoint must not be empty")
			}
			if c.S3.Bucket == "" {
				errs = append(errs, "s3: bucket must not be empty")
			}
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	// Notify
	for _, e := range c.Notify.Events {
		if !validEvents[e] {
			errs = append(errs, fmt.Sprintf("notify: unknown event %q", e))
		}
	}
	if c.Notify.MaxPerMinute < 0 {
		errs = append(errs, "notify: max_per_minute must be >= 0")
	}
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// LockTTL returns the configured per-contract lock lease.
func (c *Config) LockTTL() time.Duration { return c.Redis.LockTTL.Duration }

// RateWindow returns the HTTP rate limiter window.
func (c *Config) RateWindow() time.Duration { return c.Server.RateWindow.Duration }

// ShutdownTimeout returns the HTTP graceful shutdown budget.
func (c *Config) ShutdownTimeout() time.Duration { return c.Server.ShutdownTimeout.Duration }

// MaxCapacityInt returns MaxCapacity as a big integer.
func (p ProductConfig) MaxCapacityInt() *big.Int { return big.NewInt(p.MaxCapacity) }
