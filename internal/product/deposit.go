package product

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/shproduct/internal/chain"
	"github.com/alanyoungcy/shproduct/internal/domain"
)

// Deposit pulls amount of currency from the caller into custody and credits
// it as principal. The caller must have approved the product beforehand.
func (p *Product) Deposit(tx *chain.Tx, amount *big.Int, rollover bool) error {
	if err := p.requireWhitelisted(tx); err != nil {
		return err
	}
	if err := p.requirePhase(domain.Phases(domain.PhaseFundAccept), domain.ErrInvalidPhase, "Not accepted"); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return domain.Revert(domain.ErrInvalidArgument, "Amount must be greater than zero")
	}
	after := new(big.Int).Add(p.ledger.totalPrincipal, amount)
	if after.Cmp(p.CapacityLimit()) > 0 {
		return domain.Revert(domain.ErrCapacityExceeded, "Exceeded max capacity")
	}

	investor := tx.Caller()
	self := tx.As(p.address)
	if err := p.currency.TransferFrom(self, investor, p.address, amount); err != nil {
		return transferFailed(err)
	}
	if p.shares != nil {
		if err := p.shares.Mint(self, investor, amount); err != nil {
			return transferFailed(err)
		}
	}
	p.ledger.creditPrincipal(investor, amount, rollover)
	p.emit(tx, domain.EventDeposit, map[string]any{
		"user":       investor.Hex(),
		"amount":     amount.String(),
		"isRollover": rollover,
	})
	return nil
}

// WithdrawPrincipal returns the caller's whole principal. Only possible while
// the subscription window is open.
func (p *Product) WithdrawPrincipal(tx *chain.Tx) error {
	if err := p.requirePhase(domain.Phases(domain.PhaseFundAccept), domain.ErrInvalidPhase, "Not accepted"); err != nil {
		return err
	}
	investor := tx.Caller()
	if p.ledger.get(investor).Principal.Sign() == 0 {
		return domain.Revert(domain.ErrInsufficientBalance, "Amount must be greater than zero")
	}
	amount := p.ledger.takePrincipal(investor)

	self := tx.As(p.address)
	if p.shares != nil {
		if err := p.shares.Burn(self, investor, amount); err != nil {
			return transferFailed(err)
		}
	}
	if err := p.payOut(self, investor, amount); err != nil {
		return err
	}
	p.emit(tx, domain.EventWithdrawPrincipal, map[string]any{
		"user":   investor.Hex(),
		"amount": amount.String(),
	})
	return nil
}

// WithdrawCoupon pays out the caller's accrued coupon.
func (p *Product) WithdrawCoupon(tx *chain.Tx) error {
	investor := tx.Caller()
	if p.ledger.get(investor).Coupon.Sign() == 0 {
		return domain.Revert(domain.ErrInsufficientBalance, "Amount must be greater than zero")
	}
	amount := p.ledger.takeCoupon(investor)
	if err := p.payOut(tx.As(p.address), investor, amount); err != nil {
		return err
	}
	p.emit(tx, domain.EventWithdrawCoupon, map[string]any{
		"user":   investor.Hex(),
		"amount": amount.String(),
	})
	return nil
}

// WithdrawOption pays out the caller's accrued option payout.
func (p *Product) WithdrawOption(tx *chain.Tx) error {
	investor := tx.Caller()
	if p.ledger.get(investor).OptionPayout.Sign() == 0 {
		return domain.Revert(domain.ErrNoOptionPayout, "No option payout available")
	}
	amount := p.ledger.takeOption(investor)
	if err := p.payOut(tx.As(p.address), investor, amount); err != nil {
		return err
	}
	p.emit(tx, domain.EventWithdrawOption, map[string]any{
		"user":   investor.Hex(),
		"amount": amount.String(),
	})
	return nil
}

// payOut checks custody covers amount and transfers it. self must be a Tx
// whose caller is the product.
func (p *Product) payOut(self *chain.Tx, to common.Address, amount *big.Int) error {
	if p.Custody().Cmp(amount) < 0 {
		return domain.Revert(domain.ErrInsufficientContractBalance, "Insufficient contract balance")
	}
	if err := p.currency.Transfer(self, to, amount); err != nil {
		return transferFailed(err)
	}
	return nil
}

func transferFailed(err error) error {
	return &domain.RevertError{
		Kind:   domain.ErrExternalTransferFailed,
		Reason: "Transfer failed",
		Cause:  err,
	}
}
