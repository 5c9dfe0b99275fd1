package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func validConfig() Config {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = testKey
	return cfg
}

func TestDefaults_RequireWallet(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallet")

	cfg = validConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10*time.Second, cfg.LockTTL())
	assert.Equal(t, time.Minute, cfg.RateWindow())
	assert.Equal(t, "1000000", cfg.Product.MaxCapacityInt().String())
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "trade"
	cfg.LogLevel = "loud"
	cfg.Chain.ChainID = 0
	cfg.Product.Cycle.Coupon = 101
	cfg.Product.Manager = "not-an-address"
	cfg.Chain.Faucet = []FaucetGrant{{Address: "0x01", Amount: 0}}
	cfg.Notify.Events = []string{"Nope"}

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "trade"`,
		`unknown log_level "loud"`,
		"chain_id must be positive",
		"cycle.coupon must be 0-100",
		"manager",
		"faucet[0].address",
		"faucet[0].amount",
		`unknown event "Nope"`,
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_FullModeChecksInfrastructure(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Host = ""
	cfg.Redis.Addr = ""
	cfg.S3.Bucket = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: host")
	assert.Contains(t, err.Error(), "redis: addr")
	assert.Contains(t, err.Error(), "s3: bucket")

	cfg.Mode = "server"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_EncryptedKeyNeedsPassword(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.EncryptedKeyPath = "/tmp/key.json"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key_password")
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "server"
log_level = "debug"

[wallet]
private_key = "`+testKey+`"

[chain]
chain_id = 5

[[chain.faucet]]
address = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
amount = 5000

[product]
name = "ETH Bearish Spread"
max_capacity = 250
whitelist = ["0x70997970C51812dc3A010C7d01b50e0d17dc79C8"]

[product.cycle]
coupon = 25
apy = "9%"

[redis]
lock_ttl = "3s"
`), 0o600))

	t.Setenv("SHPRODUCT_SERVER_PORT", "9100")
	t.Setenv("SHPRODUCT_PRODUCT_COUPON", "30")
	t.Setenv("SHPRODUCT_SERVER_CORS_ORIGINS", "https://a.example, ,https://b.example")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "server", cfg.Mode)
	assert.Equal(t, int64(5), cfg.Chain.ChainID)
	require.Len(t, cfg.Chain.Faucet, 1)
	assert.Equal(t, int64(5000), cfg.Chain.Faucet[0].Amount)
	assert.Equal(t, "ETH Bearish Spread", cfg.Product.Name)
	assert.Equal(t, int64(250), cfg.Product.MaxCapacity)
	assert.Equal(t, int64(30), cfg.Product.Cycle.Coupon)
	assert.Equal(t, "9%", cfg.Product.Cycle.APY)
	assert.Equal(t, 3*time.Second, cfg.LockTTL())
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	// Defaults survive for keys the file does not mention.
	assert.Equal(t, "USDC", cfg.Chain.CurrencySymbol)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "full", cfg.Mode)
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Password = "pg-secret"
	cfg.S3.SecretKey = "s3-secret"
	cfg.Notify.TelegramToken = "tg"
	cfg.Server.APIKey = "key"
	cfg.Product.Whitelist = []string{"0x01"}

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Wallet.PrivateKey)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.S3.SecretKey)
	assert.Equal(t, "***", out.Notify.TelegramToken)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Equal(t, "", out.Redis.Password)

	out.Product.Whitelist[0] = "changed"
	assert.Equal(t, "0x01", cfg.Product.Whitelist[0])
	assert.Equal(t, testKey, cfg.Wallet.PrivateKey)
}

func TestLoad_ExampleMatchesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config.example.toml"))
	require.NoError(t, err)

	want := Defaults()
	assert.Equal(t, want.Chain.ChainID, cfg.Chain.ChainID)
	assert.Equal(t, want.Product.Cycle, cfg.Product.Cycle)
	assert.Equal(t, want.Postgres, cfg.Postgres)
	assert.Equal(t, want.Redis, cfg.Redis)
	assert.Equal(t, want.S3, cfg.S3)
	assert.Equal(t, want.Server, cfg.Server)
	assert.Equal(t, want.Notify, cfg.Notify)

	cfg.Wallet.PrivateKey = testKey
	assert.NoError(t, cfg.Validate())
}
