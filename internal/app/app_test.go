package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/shproduct/internal/config"
	"github.com/alanyoungcy/shproduct/internal/crypto"
)

const (
	deployerKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	alice       = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
)

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Mode = "server"
	cfg.Wallet.PrivateKey = deployerKey
	cfg.Server.Enabled = false
	cfg.Chain.Faucet = []config.FaucetGrant{{Address: alice, Amount: 500}}
	cfg.Product.Whitelist = []string{alice}
	return &cfg
}

func TestGenesisFrom(t *testing.T) {
	cfg := testConfig()
	cfg.Product.Router = "0x000000000000000000000000000000000000bEEF"
	signer, err := crypto.NewSigner(deployerKey, cfg.Chain.ChainID)
	require.NoError(t, err)

	g, err := genesisFrom(cfg, signer)
	require.NoError(t, err)
	require.Len(t, g.Faucet, 1)
	assert.Equal(t, common.HexToAddress(alice), g.Faucet[0].To)
	assert.EqualValues(t, 500, g.Faucet[0].Amount)
	require.NotNil(t, g.Product)
	assert.Equal(t, cfg.Product.Name, g.Product.Name)
	assert.Equal(t, common.Address{}, g.Product.Manager)
	assert.Equal(t, common.HexToAddress("0xbeef"), g.Product.Router)
	assert.Equal(t, []common.Address{common.HexToAddress(alice)}, g.Product.Whitelist)
	assert.EqualValues(t, 10, g.Product.Cycle.Coupon)

	cfg.Product.Enabled = false
	g, err = genesisFrom(cfg, signer)
	require.NoError(t, err)
	assert.Nil(t, g.Product)

	cfg.Chain.Faucet[0].Address = "nope"
	_, err = genesisFrom(cfg, signer)
	assert.Error(t, err)
}

func TestServerModeRunsUntilCancelled(t *testing.T) {
	cfg := testConfig()
	a := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := a.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunRejectsUnknownMode(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = "trade"
	a := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer a.Close()
	assert.ErrorContains(t, a.Run(context.Background()), "unsupported mode")
}
