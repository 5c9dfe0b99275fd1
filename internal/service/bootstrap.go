package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/alanyoungcy/shproduct/internal/chain"
	"github.com/alanyoungcy/shproduct/internal/crypto"
	"github.com/alanyoungcy/shproduct/internal/domain"
	"github.com/alanyoungcy/shproduct/internal/units"
)

// Grant mints Amount whole currency units to To at genesis.
type Grant struct {
	To     common.Address
	Amount int64
}

// ProductSpec describes the product created at genesis. MaxCapacity is in
// whole currency units; Currency is always the genesis currency.
type ProductSpec struct {
	Name        string
	Underlying  string
	Manager     common.Address
	ExWallet    common.Address
	Router      common.Address
	Market      common.Address
	MaxCapacity int64
	Cycle       domain.IssuanceCycle
	Whitelist   []common.Address
}

// Genesis is the set of deployer-signed calls that seed an empty ledger.
type Genesis struct {
	Signer  *crypto.Signer
	Faucet  []Grant
	Product *ProductSpec
}

// Bootstrap seeds an empty ledger: it initialises the registry, funds the
// faucet accounts and creates the configured product. It does nothing when
// the ledger already has blocks.
func (s *LedgerService) Bootstrap(ctx context.Context, g Genesis) (bool, error) {
	if s.rt.Block() > 0 {
		return false, nil
	}
	if g.Signer == nil || g.Signer.Address() != s.cfg.Deployer {
		return false, fmt.Errorf("service: bootstrap: signer is not the deployer %s", s.cfg.Deployer.Hex())
	}

	if _, err := s.signAndSubmit(ctx, g.Signer, s.factory.Address(), "initialize",
		initializeArgs{TokenFactory: s.tokens.Address()}); err != nil {
		return false, fmt.Errorf("service: bootstrap initialize: %w", err)
	}

	decimals := s.currency.Decimals()
	for _, grant := range g.Faucet {
		args := transferArgs{To: grant.To, Amount: hexOf(units.Scale(grant.Amount, decimals))}
		if _, err := s.signAndSubmit(ctx, g.Signer, s.currency.Address(), "mint", args); err != nil {
			return false, fmt.Errorf("service: bootstrap faucet %s: %w", grant.To.Hex(), err)
		}
	}

	if g.Product != nil {
		if err := s.bootstrapProduct(ctx, g.Signer, *g.Product); err != nil {
			return false, err
		}
	}

	s.logger.InfoContext(ctx, "genesis applied",
		slog.Uint64("block", s.rt.Block()),
		slog.Int("faucet", len(g.Faucet)),
		slog.Bool("product", g.Product != nil),
	)
	return true, nil
}

func (s *LedgerService) bootstrapProduct(ctx context.Context, signer *crypto.Signer, spec ProductSpec) error {
	manager := spec.Manager
	if manager == (common.Address{}) {
		manager = signer.Address()
	}

	receipt, err := s.signAndSubmit(ctx, signer, s.factory.Address(), "createProduct", createProductArgs{
		Name:        spec.Name,
		Underlying:  spec.Underlying,
		Currency:    s.currency.Address(),
		Manager:     manager,
		ExWallet:    spec.ExWallet,
		MaxCapacity: hexOf(big.NewInt(spec.MaxCapacity)),
		Cycle:       spec.Cycle,
		Router:      spec.Router,
		Market:      spec.Market,
	})
	if err != nil {
		return fmt.Errorf("service: bootstrap product: %w", err)
	}
	addr, ok := createdProduct(receipt.Events)
	if !ok {
		return fmt.Errorf("service: bootstrap product: no ProductCreated event")
	}

	if len(spec.Whitelist) > 0 && manager != signer.Address() {
		s.logger.WarnContext(ctx, "whitelist skipped: manager is not the deployer",
			slog.String("product", addr.Hex()),
			slog.String("manager", manager.Hex()),
		)
		return nil
	}
	for _, investor := range spec.Whitelist {
		if _, err := s.signAndSubmit(ctx, signer, addr, "whitelist", addressArgs{Investor: investor}); err != nil {
			return fmt.Errorf("service: bootstrap whitelist %s: %w", investor.Hex(), err)
		}
	}
	return nil
}

// signAndSubmit signs a call with the caller's next nonce and submits it.
func (s *LedgerService) signAndSubmit(ctx context.Context, signer *crypto.Signer, contract common.Address, method string, args any) (*chain.Receipt, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal %s args: %w", method, err)
	}
	call := domain.Call{
		Contract: contract,
		Method:   method,
		Args:     raw,
		Nonce:    s.Nonce(signer.Address()) + 1,
	}
	if err := signer.SignCall(&call); err != nil {
		return nil, err
	}
	return s.Submit(ctx, call)
}

func createdProduct(events []domain.Event) (common.Address, bool) {
	for _, e := range events {
		if e.Kind != domain.EventProductCreated {
			continue
		}
		if v, ok := e.Data["product"].(string); ok && common.IsHexAddress(v) {
			return common.HexToAddress(v), true
		}
	}
	return common.Address{}, false
}

func hexOf(v *big.Int) *math.HexOrDecimal256 {
	return (*math.HexOrDecimal256)(v)
}
