package service

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/shproduct/internal/domain"
	"github.com/alanyoungcy/shproduct/internal/units"
)

// ChainInfo describes the genesis contracts and the callable surface.
type ChainInfo struct {
	ChainID      int64               `json:"chainId"`
	Block        uint64              `json:"block"`
	Registry     common.Address      `json:"registry"`
	TokenFactory common.Address      `json:"tokenFactory"`
	Currency     common.Address      `json:"currency"`
	Symbol       string              `json:"symbol"`
	Decimals     uint8               `json:"decimals"`
	Initialized  bool                `json:"initialized"`
	Products     int                 `json:"products"`
	Methods      map[string][]string `json:"methods"`
}

// UserView is an investor's entry in base units plus a token-unit rendering.
type UserView struct {
	Product     common.Address    `json:"product"`
	Investor    common.Address    `json:"investor"`
	Whitelisted bool              `json:"whitelisted"`
	Info        domain.UserInfo   `json:"userInfo"`
	Display     map[string]string `json:"display"`
	Symbol      string            `json:"symbol"`
}

// Balance is a token balance of one owner.
type Balance struct {
	Token    common.Address `json:"token"`
	Owner    common.Address `json:"owner"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
	Amount   *big.Int       `json:"amount"`
	Display  string         `json:"display"`
}

// Info returns the genesis addresses and the method table.
func (s *LedgerService) Info() ChainInfo {
	info := ChainInfo{
		ChainID:      s.cfg.ChainID,
		Registry:     s.factory.Address(),
		TokenFactory: s.tokens.Address(),
		Currency:     s.currency.Address(),
		Symbol:       s.currency.Symbol(),
		Decimals:     s.currency.Decimals(),
		Methods:      Methods(),
	}
	s.rt.ViewAt(func(block uint64) {
		info.Block = block
		info.Initialized = s.factory.Initialized()
		info.Products = len(s.factory.Products())
	})
	return info
}

// Products returns the snapshot of every product in creation order.
func (s *LedgerService) Products() []domain.ProductSnapshot {
	var out []domain.ProductSnapshot
	s.rt.View(func() {
		for _, p := range s.factory.Products() {
			out = append(out, p.State())
		}
	})
	return out
}

// Product returns the snapshot of the product at addr.
func (s *LedgerService) Product(addr common.Address) (domain.ProductSnapshot, error) {
	var (
		st domain.ProductSnapshot
		ok bool
	)
	s.rt.View(func() {
		p, found := s.factory.Product(addr)
		if ok = found; ok {
			st = p.State()
		}
	})
	if !ok {
		return st, fmt.Errorf("service: product %s: %w", addr.Hex(), domain.ErrNotFound)
	}
	return st, nil
}

// ProductName resolves a product address to its name.
func (s *LedgerService) ProductName(addr common.Address) (string, bool) {
	var name string
	var ok bool
	s.rt.View(func() {
		if p, found := s.factory.Product(addr); found {
			name, ok = p.Name(), true
		}
	})
	return name, ok
}

// UserInfo returns investor's entry on the product at addr. Unknown
// investors read as zero.
func (s *LedgerService) UserInfo(addr, investor common.Address) (UserView, error) {
	v := UserView{Product: addr, Investor: investor}
	var decimals uint8
	var ok bool
	s.rt.View(func() {
		p, found := s.factory.Product(addr)
		if ok = found; !ok {
			return
		}
		v.Info = p.UserInfo(investor)
		v.Whitelisted = p.Whitelisted(investor)
		decimals = p.Currency().Decimals()
		v.Symbol = p.Currency().Symbol()
	})
	if !ok {
		return v, fmt.Errorf("service: product %s: %w", addr.Hex(), domain.ErrNotFound)
	}
	v.Display = map[string]string{
		"principal":    units.Format(v.Info.Principal, decimals),
		"coupon":       units.Format(v.Info.Coupon, decimals),
		"optionPayout": units.Format(v.Info.OptionPayout, decimals),
	}
	return v, nil
}

// Ledger returns every non-empty entry of the product at addr.
func (s *LedgerService) Ledger(addr common.Address) ([]domain.LedgerLine, error) {
	var lines []domain.LedgerLine
	var ok bool
	s.rt.View(func() {
		p, found := s.factory.Product(addr)
		if ok = found; ok {
			lines = p.Ledger()
		}
	})
	if !ok {
		return nil, fmt.Errorf("service: product %s: %w", addr.Hex(), domain.ErrNotFound)
	}
	return lines, nil
}

// Statement captures the full ledger of the product at addr as of the last
// committed block.
func (s *LedgerService) Statement(addr common.Address) (domain.Statement, error) {
	var (
		st domain.Statement
		ok bool
	)
	s.rt.ViewAt(func(block uint64) {
		st, ok = s.statementLocked(addr, block, s.now())
	})
	if !ok {
		return st, fmt.Errorf("service: product %s: %w", addr.Hex(), domain.ErrNotFound)
	}
	return st, nil
}

// statementLocked builds a statement; the caller holds the runtime lock.
func (s *LedgerService) statementLocked(addr common.Address, block uint64, at time.Time) (domain.Statement, bool) {
	p, ok := s.factory.Product(addr)
	if !ok {
		return domain.Statement{}, false
	}
	entries := p.Ledger()
	return domain.Statement{
		Product:    p.State(),
		Block:      block,
		Time:       at,
		Entries:    entries,
		EntryCount: len(entries),
	}, true
}

// Events queries the event log. The persistent store is used when attached.
func (s *LedgerService) Events(ctx context.Context, f domain.EventFilter) ([]domain.Event, error) {
	if s.events != nil {
		events, err := s.events.ListEvents(ctx, f)
		if err != nil {
			return nil, fmt.Errorf("service: events: %w", err)
		}
		return events, nil
	}
	return s.rt.Logs(f), nil
}

// Balance returns owner's balance of the currency or a share token.
func (s *LedgerService) Balance(tokenAddr, owner common.Address) (Balance, error) {
	b := Balance{Token: tokenAddr, Owner: owner}
	var ok bool
	s.rt.View(func() {
		t, found := s.token(tokenAddr)
		if ok = found; !ok {
			return
		}
		b.Symbol = t.Symbol()
		b.Decimals = t.Decimals()
		b.Amount = t.BalanceOf(owner)
	})
	if !ok {
		return b, fmt.Errorf("service: token %s: %w", tokenAddr.Hex(), domain.ErrNotFound)
	}
	b.Display = units.Format(b.Amount, b.Decimals)
	return b, nil
}

// Nonce returns the last accepted nonce of caller.
func (s *LedgerService) Nonce(caller common.Address) uint64 {
	var n uint64
	s.rt.View(func() { n = s.nonces.last[caller] })
	return n
}

// Audit lists the audit trail, newest first.
func (s *LedgerService) Audit(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	if s.audit == nil {
		return nil, nil
	}
	return s.audit.List(ctx, opts)
}

// CurrencySymbol and CurrencyDecimals describe the genesis currency.
func (s *LedgerService) CurrencySymbol() string  { return s.currency.Symbol() }
func (s *LedgerService) CurrencyDecimals() uint8 { return s.currency.Decimals() }

func (s *LedgerService) now() time.Time {
	if s.cfg.Clock != nil {
		return s.cfg.Clock()
	}
	return time.Now().UTC()
}
