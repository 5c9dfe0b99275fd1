package product

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/shproduct/internal/chain"
	"github.com/alanyoungcy/shproduct/internal/domain"
)

func (p *Product) requireManager(tx *chain.Tx) error {
	if tx.Caller() != p.manager {
		return domain.Revert(domain.ErrUnauthorized, "Not a manager")
	}
	return nil
}

func (p *Product) requireWhitelisted(tx *chain.Tx) error {
	if !p.whitelist[tx.Caller()] {
		return domain.Revert(domain.ErrNotWhitelisted, "Not whitelisted")
	}
	return nil
}

func (p *Product) requirePhase(allowed domain.PhaseSet, kind error, reason string) error {
	if !allowed.Has(p.status) {
		return domain.Revert(kind, reason)
	}
	return nil
}

// Whitelist admits investor to deposit. Manager only; idempotent.
func (p *Product) Whitelist(tx *chain.Tx, investor common.Address) error {
	if err := p.requireManager(tx); err != nil {
		return err
	}
	if investor == (common.Address{}) {
		return domain.Revert(domain.ErrInvalidArgument, "Zero address")
	}
	if p.whitelist[investor] {
		return nil
	}
	p.whitelist[investor] = true
	p.emit(tx, domain.EventWhitelisted, map[string]any{
		"investor": investor.Hex(),
	})
	return nil
}

// Whitelisted reports whether investor may deposit.
func (p *Product) Whitelisted(investor common.Address) bool {
	return p.whitelist[investor]
}
