package product

import (
	"bytes"
	"fmt"
	"math/big"
	"slices"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/shproduct/internal/domain"
)

// ledger holds per-investor balances plus the running principal total.
// Entries that drop to zero are removed.
type ledger struct {
	entries        map[common.Address]*domain.UserInfo
	totalPrincipal *big.Int
}

func newLedger() *ledger {
	return &ledger{
		entries:        make(map[common.Address]*domain.UserInfo),
		totalPrincipal: new(big.Int),
	}
}

func (l *ledger) get(addr common.Address) domain.UserInfo {
	if e, ok := l.entries[addr]; ok {
		return e.Clone()
	}
	return domain.ZeroUserInfo()
}

func (l *ledger) entry(addr common.Address) *domain.UserInfo {
	e, ok := l.entries[addr]
	if !ok {
		z := domain.ZeroUserInfo()
		e = &z
		l.entries[addr] = e
	}
	return e
}

func (l *ledger) prune(addr common.Address) {
	if e, ok := l.entries[addr]; ok && e.IsZero() && !e.IsIssuanceRollover {
		delete(l.entries, addr)
	}
}

func (l *ledger) creditPrincipal(addr common.Address, amount *big.Int, rollover bool) {
	e := l.entry(addr)
	e.Principal.Add(e.Principal, amount)
	e.IsIssuanceRollover = rollover
	l.totalPrincipal.Add(l.totalPrincipal, amount)
}

// takePrincipal zeroes addr's principal and returns what it held.
func (l *ledger) takePrincipal(addr common.Address) *big.Int {
	e, ok := l.entries[addr]
	if !ok {
		return new(big.Int)
	}
	amount := new(big.Int).Set(e.Principal)
	e.Principal.SetInt64(0)
	e.IsIssuanceRollover = false
	l.totalPrincipal.Sub(l.totalPrincipal, amount)
	l.prune(addr)
	return amount
}

func (l *ledger) creditCoupon(addr common.Address, amount *big.Int) {
	e := l.entry(addr)
	e.Coupon.Add(e.Coupon, amount)
	l.prune(addr)
}

func (l *ledger) takeCoupon(addr common.Address) *big.Int {
	e, ok := l.entries[addr]
	if !ok {
		return new(big.Int)
	}
	amount := new(big.Int).Set(e.Coupon)
	e.Coupon.SetInt64(0)
	l.prune(addr)
	return amount
}

func (l *ledger) creditOption(addr common.Address, amount *big.Int) {
	e := l.entry(addr)
	e.OptionPayout.Add(e.OptionPayout, amount)
	l.prune(addr)
}

func (l *ledger) takeOption(addr common.Address) *big.Int {
	e, ok := l.entries[addr]
	if !ok {
		return new(big.Int)
	}
	amount := new(big.Int).Set(e.OptionPayout)
	e.OptionPayout.SetInt64(0)
	l.prune(addr)
	return amount
}

func (l *ledger) lines() []domain.LedgerLine {
	out := make([]domain.LedgerLine, 0, len(l.entries))
	for addr, e := range l.entries {
		out = append(out, domain.LedgerLine{Investor: addr, UserInfo: e.Clone()})
	}
	slices.SortFunc(out, func(a, b domain.LedgerLine) int {
		return bytes.Compare(a.Investor[:], b.Investor[:])
	})
	return out
}

// check verifies that balances are non-negative and that the principal total
// matches the sum of entries.
func (l *ledger) check() error {
	sum := new(big.Int)
	for addr, e := range l.entries {
		if e.Principal.Sign() < 0 || e.Coupon.Sign() < 0 || e.OptionPayout.Sign() < 0 {
			return fmt.Errorf("product: negative balance for %s", addr.Hex())
		}
		sum.Add(sum, e.Principal)
	}
	if sum.Cmp(l.totalPrincipal) != 0 {
		return fmt.Errorf("product: total principal %s does not match ledger sum %s", l.totalPrincipal, sum)
	}
	return nil
}

func (l *ledger) clone() *ledger {
	c := &ledger{
		entries:        make(map[common.Address]*domain.UserInfo, len(l.entries)),
		totalPrincipal: new(big.Int).Set(l.totalPrincipal),
	}
	for addr, e := range l.entries {
		v := e.Clone()
		c.entries[addr] = &v
	}
	return c
}
