package product

import (
	"github.com/alanyoungcy/shproduct/internal/chain"
	"github.com/alanyoungcy/shproduct/internal/domain"
)

type transition struct {
	from   domain.PhaseSet
	reason string
	event  domain.EventKind
}

// transitions is keyed by the target phase.
var transitions = map[domain.Phase]transition{
	domain.PhaseFundAccept: {
		from:   domain.Phases(domain.PhaseCreated, domain.PhaseFundLocked, domain.PhaseMature),
		reason: "Not locked or matured",
		event:  domain.EventFundAccept,
	},
	domain.PhaseFundLocked: {
		from:   domain.Phases(domain.PhaseFundAccept),
		reason: "Not accepted",
		event:  domain.EventFundLock,
	},
	domain.PhaseIssuance: {
		from:   domain.Phases(domain.PhaseFundLocked),
		reason: "Not locked",
		event:  domain.EventIssuance,
	},
	domain.PhaseMature: {
		from:   domain.Phases(domain.PhaseIssuance),
		reason: "Not issued",
		event:  domain.EventMature,
	},
}

// CanTransition reports whether the product may move from its current phase
// to target.
func (p *Product) CanTransition(target domain.Phase) bool {
	t, ok := transitions[target]
	return ok && t.from.Has(p.status)
}

func (p *Product) moveTo(tx *chain.Tx, target domain.Phase) error {
	if err := p.requireManager(tx); err != nil {
		return err
	}
	t, ok := transitions[target]
	if !ok {
		return domain.Revertf(domain.ErrInvalidTransition, "No transition to %s", target)
	}
	if err := p.requirePhase(t.from, domain.ErrInvalidTransition, t.reason); err != nil {
		return err
	}
	from := p.status
	p.status = target
	switch target {
	case domain.PhaseIssuance:
		p.cycle.IssuanceDate = tx.Time().Unix()
	case domain.PhaseMature:
		p.cycle.MaturityDate = tx.Time().Unix()
	}
	p.emit(tx, t.event, map[string]any{
		"from": from.String(),
		"to":   target.String(),
	})
	return nil
}

// FundAccept opens the subscription window.
func (p *Product) FundAccept(tx *chain.Tx) error {
	return p.moveTo(tx, domain.PhaseFundAccept)
}

// FundLock closes the subscription window.
func (p *Product) FundLock(tx *chain.Tx) error {
	return p.moveTo(tx, domain.PhaseFundLocked)
}

// Issuance starts the cycle and records its issuance date.
func (p *Product) Issuance(tx *chain.Tx) error {
	return p.moveTo(tx, domain.PhaseIssuance)
}

// Mature ends the cycle and records its maturity date.
func (p *Product) Mature(tx *chain.Tx) error {
	return p.moveTo(tx, domain.PhaseMature)
}

// UpdateCoupon sets the coupon rate in basis points while the product is
// locked or matured.
func (p *Product) UpdateCoupon(tx *chain.Tx, bp int64) error {
	if err := p.requireManager(tx); err != nil {
		return err
	}
	if err := p.requirePhase(domain.Phases(domain.PhaseFundLocked, domain.PhaseMature),
		domain.ErrInvalidTransition, "Neither Locked nor Mature"); err != nil {
		return err
	}
	if err := validateCoupon(bp); err != nil {
		return err
	}
	p.cycle.Coupon = bp
	p.emit(tx, domain.EventUpdateCoupon, map[string]any{
		"coupon": bp,
	})
	return nil
}

// UpdateParameters replaces the cycle terms. Not allowed during Issuance.
func (p *Product) UpdateParameters(tx *chain.Tx, cycle domain.IssuanceCycle) error {
	if err := p.requireManager(tx); err != nil {
		return err
	}
	if p.status == domain.PhaseIssuance {
		return domain.Revert(domain.ErrInvalidPhase, "Already issued")
	}
	if err := validateCoupon(cycle.Coupon); err != nil {
		return err
	}
	p.cycle = cycle
	p.emit(tx, domain.EventUpdateParameters, map[string]any{
		"coupon":       cycle.Coupon,
		"issuanceDate": cycle.IssuanceDate,
		"maturityDate": cycle.MaturityDate,
		"apy":          cycle.APY,
	})
	return nil
}

func validateCoupon(bp int64) error {
	if bp < 0 || bp > domain.MaxCouponBp {
		return domain.Revert(domain.ErrOutOfRange, "Less than 0 or greater than 100")
	}
	return nil
}
