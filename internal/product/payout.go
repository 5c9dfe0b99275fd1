package product

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/shproduct/internal/chain"
	"github.com/alanyoungcy/shproduct/internal/domain"
)

// Coupon credits coupon amounts to investors during Issuance. Repeated
// addresses accumulate.
func (p *Product) Coupon(tx *chain.Tx, users []common.Address, amounts []*big.Int) error {
	if err := p.requireManager(tx); err != nil {
		return err
	}
	if err := p.requirePhase(domain.Phases(domain.PhaseIssuance), domain.ErrInvalidPhase, "Not issued"); err != nil {
		return err
	}
	total, err := validatePayouts(users, amounts)
	if err != nil {
		return err
	}
	for i, u := range users {
		p.ledger.creditCoupon(u, amounts[i])
	}
	p.emit(tx, domain.EventCoupon, payoutData(users, amounts, total))
	return nil
}

// AddOptionProfitList credits option payouts to investors while the
// subscription window is open. Repeated addresses accumulate.
func (p *Product) AddOptionProfitList(tx *chain.Tx, users []common.Address, amounts []*big.Int) error {
	if err := p.requireManager(tx); err != nil {
		return err
	}
	if err := p.requirePhase(domain.Phases(domain.PhaseFundAccept), domain.ErrInvalidPhase, "Not accepted"); err != nil {
		return err
	}
	total, err := validatePayouts(users, amounts)
	if err != nil {
		return err
	}
	for i, u := range users {
		p.ledger.creditOption(u, amounts[i])
	}
	p.emit(tx, domain.EventOptionPayout, payoutData(users, amounts, total))
	return nil
}

// RedeemOptionPayout pulls amount from the exchange wallet into custody using
// the allowance the exchange wallet granted the product.
func (p *Product) RedeemOptionPayout(tx *chain.Tx, amount *big.Int) error {
	if err := p.requireManager(tx); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return domain.Revert(domain.ErrInvalidArgument, "Amount must be greater than zero")
	}
	if err := p.currency.TransferFrom(tx.As(p.address), p.exWallet, p.address, amount); err != nil {
		return transferFailed(err)
	}
	p.emit(tx, domain.EventRedeemOptionPayout, map[string]any{
		"from":   p.exWallet.Hex(),
		"amount": amount.String(),
	})
	return nil
}

func validatePayouts(users []common.Address, amounts []*big.Int) (*big.Int, error) {
	if len(users) != len(amounts) {
		return nil, domain.Revert(domain.ErrInvalidArgument, "Length mismatch")
	}
	total := new(big.Int)
	for i, u := range users {
		if u == (common.Address{}) {
			return nil, domain.Revert(domain.ErrInvalidArgument, "Zero address")
		}
		a := amounts[i]
		if a == nil || a.Sign() < 0 {
			return nil, domain.Revert(domain.ErrOutOfRange, "Negative amount")
		}
		total.Add(total, a)
	}
	return total, nil
}

func payoutData(users []common.Address, amounts []*big.Int, total *big.Int) map[string]any {
	us := make([]string, len(users))
	as := make([]string, len(amounts))
	for i := range users {
		us[i] = users[i].Hex()
		as[i] = amounts[i].String()
	}
	return map[string]any{
		"userList":   us,
		"amountList": as,
		"total":      total.String(),
	}
}
