// Package product implements the structured product contract: the lifecycle
// state machine, the per-investor ledger, deposits and withdrawals, and the
// manager-driven payout distribution. Every mutating method runs inside a
// chain.Tx and either applies completely or returns a *domain.RevertError;
// the runtime restores the snapshot taken before the call on any error.
package product

import (
	"fmt"
	"maps"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/shproduct/internal/chain"
	"github.com/alanyoungcy/shproduct/internal/domain"
)

// Currency is the unit-of-account token the product takes custody of.
type Currency interface {
	Address() common.Address
	Symbol() string
	Decimals() uint8
	BalanceOf(owner common.Address) *big.Int
	Transfer(tx *chain.Tx, to common.Address, amount *big.Int) error
	TransferFrom(tx *chain.Tx, from, to common.Address, amount *big.Int) error
}

// ShareToken is the per-product token minted against principal.
type ShareToken interface {
	Address() common.Address
	Mint(tx *chain.Tx, to common.Address, amount *big.Int) error
	Burn(tx *chain.Tx, from common.Address, amount *big.Int) error
}

// Config holds the immutable identity of a product plus its initial cycle.
type Config struct {
	Address     common.Address
	Name        string
	Underlying  string
	Manager     common.Address
	ExWallet    common.Address
	Router      common.Address
	Market      common.Address
	MaxCapacity *big.Int
	Cycle       domain.IssuanceCycle
}

// Product is one deployed product instance.
type Product struct {
	address    common.Address
	name       string
	underlying string
	currency   Currency
	shares     ShareToken
	manager    common.Address
	exWallet   common.Address
	router     common.Address
	market     common.Address

	maxCapacity *big.Int
	status      domain.Phase
	cycle       domain.IssuanceCycle
	whitelist   map[common.Address]bool
	ledger      *ledger
}

// New creates a product in the Created phase. shares may be nil, in which
// case no share tokens are minted or burned.
func New(cfg Config, currency Currency, shares ShareToken) (*Product, error) {
	if currency == nil {
		return nil, fmt.Errorf("product: currency is required")
	}
	if cfg.Manager == (common.Address{}) {
		return nil, fmt.Errorf("product: manager is required")
	}
	if cfg.MaxCapacity == nil || cfg.MaxCapacity.Sign() < 0 {
		return nil, fmt.Errorf("product: max capacity must be non-negative")
	}
	if err := validateCoupon(cfg.Cycle.Coupon); err != nil {
		return nil, fmt.Errorf("product: %w", err)
	}
	return &Product{
		address:     cfg.Address,
		name:        cfg.Name,
		underlying:  cfg.Underlying,
		currency:    currency,
		shares:      shares,
		manager:     cfg.Manager,
		exWallet:    cfg.ExWallet,
		router:      cfg.Router,
		market:      cfg.Market,
		maxCapacity: new(big.Int).Set(cfg.MaxCapacity),
		status:      domain.PhaseCreated,
		cycle:       cfg.Cycle,
		whitelist:   make(map[common.Address]bool),
		ledger:      newLedger(),
	}, nil
}

func (p *Product) Address() common.Address  { return p.address }
func (p *Product) Name() string             { return p.name }
func (p *Product) Manager() common.Address  { return p.manager }
func (p *Product) ExWallet() common.Address { return p.exWallet }
func (p *Product) Currency() Currency       { return p.currency }

// Status returns the current lifecycle phase.
func (p *Product) Status() domain.Phase { return p.status }

// IssuanceCycle returns the current cycle terms.
func (p *Product) IssuanceCycle() domain.IssuanceCycle { return p.cycle }

// UserInfo returns addr's ledger entry; never-seen addresses read as zero.
func (p *Product) UserInfo(addr common.Address) domain.UserInfo {
	return p.ledger.get(addr)
}

// PrincipalBalance returns addr's principal.
func (p *Product) PrincipalBalance(addr common.Address) *big.Int {
	return p.ledger.get(addr).Principal
}

// TotalPrincipal returns the sum of all principal balances.
func (p *Product) TotalPrincipal() *big.Int {
	return new(big.Int).Set(p.ledger.totalPrincipal)
}

// Custody returns the currency balance held by the product itself.
func (p *Product) Custody() *big.Int {
	return p.currency.BalanceOf(p.address)
}

// CapacityLimit is maxCapacity expressed in currency base units.
func (p *Product) CapacityLimit() *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(p.currency.Decimals())), nil)
	return scale.Mul(scale, p.maxCapacity)
}

// Ledger returns every non-empty entry ordered by address.
func (p *Product) Ledger() []domain.LedgerLine {
	return p.ledger.lines()
}

// CheckInvariants verifies the ledger's aggregate consistency.
func (p *Product) CheckInvariants() error {
	return p.ledger.check()
}

// State returns the read model of the product.
func (p *Product) State() domain.ProductSnapshot {
	st := domain.ProductSnapshot{
		Address:        p.address,
		Name:           p.name,
		Underlying:     p.underlying,
		Currency:       p.currency.Address(),
		Manager:        p.manager,
		ExWallet:       p.exWallet,
		Router:         p.router,
		Market:         p.market,
		Status:         p.status,
		MaxCapacity:    new(big.Int).Set(p.maxCapacity),
		CapacityLimit:  p.CapacityLimit(),
		TotalPrincipal: p.TotalPrincipal(),
		Custody:        p.Custody(),
		Cycle:          p.cycle,
		Investors:      len(p.ledger.entries),
		Whitelisted:    len(p.whitelist),
	}
	if p.shares != nil {
		st.ShareToken = p.shares.Address()
	}
	return st
}

// Snapshot implements chain.Journaled.
func (p *Product) Snapshot() func() {
	status := p.status
	cycle := p.cycle
	whitelist := maps.Clone(p.whitelist)
	l := p.ledger.clone()
	return func() {
		p.status = status
		p.cycle = cycle
		p.whitelist = whitelist
		p.ledger = l
	}
}

func (p *Product) emit(tx *chain.Tx, kind domain.EventKind, data map[string]any) {
	tx.Emit(p.address, kind, data)
}
