// Package token implements the fungible tokens the product ledger settles in:
// the unit-of-account currency and the per-product share tokens.
package token

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/shproduct/internal/chain"
	"github.com/alanyoungcy/shproduct/internal/domain"
)

var errNotTransferable = domain.Revert(domain.ErrUnauthorized, "Non-transferable")

// Decimals is the precision of every token created here.
const Decimals uint8 = 6

// Role gates mint and burn.
type Role string

const (
	RoleMinter Role = "MINTER_ROLE"
	RoleBurner Role = "BURNER_ROLE"
)

// ERC20 is an in-process fungible token. Mutating methods take the calling
// Tx; the sender is tx.Caller().
type ERC20 struct {
	address     common.Address
	name        string
	symbol      string
	decimals    uint8
	totalSupply *big.Int
	balances    map[common.Address]*big.Int
	allowances  map[common.Address]map[common.Address]*big.Int
	roles       map[Role]map[common.Address]bool
	// locked tokens move only through mint and burn.
	locked bool
}

// NewERC20 creates a token at address with both roles granted to admin.
func NewERC20(address common.Address, name, symbol string, admin common.Address) *ERC20 {
	t := &ERC20{
		address:     address,
		name:        name,
		symbol:      symbol,
		decimals:    Decimals,
		totalSupply: new(big.Int),
		balances:    make(map[common.Address]*big.Int),
		allowances:  make(map[common.Address]map[common.Address]*big.Int),
		roles: map[Role]map[common.Address]bool{
			RoleMinter: {},
			RoleBurner: {},
		},
	}
	t.roles[RoleMinter][admin] = true
	t.roles[RoleBurner][admin] = true
	return t
}

func (t *ERC20) Address() common.Address { return t.address }
func (t *ERC20) Name() string            { return t.name }
func (t *ERC20) Symbol() string          { return t.symbol }
func (t *ERC20) Decimals() uint8         { return t.decimals }

// TotalSupply returns a copy of the outstanding supply.
func (t *ERC20) TotalSupply() *big.Int {
	return new(big.Int).Set(t.totalSupply)
}

// BalanceOf returns a copy of owner's balance; zero for unknown owners.
func (t *ERC20) BalanceOf(owner common.Address) *big.Int {
	if b, ok := t.balances[owner]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Allowance returns how much spender may still pull from owner.
func (t *ERC20) Allowance(owner, spender common.Address) *big.Int {
	if a, ok := t.allowances[owner][spender]; ok {
		return new(big.Int).Set(a)
	}
	return new(big.Int)
}

// HasRole reports whether account holds role.
func (t *ERC20) HasRole(role Role, account common.Address) bool {
	return t.roles[role][account]
}

// Transferable reports whether holders may move the token between accounts.
// Share tokens are not: the principal they represent stays with the
// depositor.
func (t *ERC20) Transferable() bool { return !t.locked }

// Transfer moves amount from the caller to to.
func (t *ERC20) Transfer(tx *chain.Tx, to common.Address, amount *big.Int) error {
	if t.locked {
		return errNotTransferable
	}
	return t.move(tx, tx.Caller(), to, amount)
}

// Approve sets the caller's allowance for spender.
func (t *ERC20) Approve(tx *chain.Tx, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return domain.Revert(domain.ErrInvalidArgument, "Invalid amount")
	}
	owner := tx.Caller()
	if t.allowances[owner] == nil {
		t.allowances[owner] = make(map[common.Address]*big.Int)
	}
	t.allowances[owner][spender] = new(big.Int).Set(amount)
	tx.Emit(t.address, domain.EventApproval, map[string]any{
		"owner":   owner.Hex(),
		"spender": spender.Hex(),
		"value":   amount.String(),
	})
	return nil
}

// TransferFrom moves amount from from to to, spending the caller's allowance.
func (t *ERC20) TransferFrom(tx *chain.Tx, from, to common.Address, amount *big.Int) error {
	if t.locked {
		return errNotTransferable
	}
	spender := tx.Caller()
	allowed := t.Allowance(from, spender)
	if amount == nil || allowed.Cmp(amount) < 0 {
		return domain.Revert(domain.ErrInsufficientBalance, "Insufficient allowance")
	}
	if err := t.move(tx, from, to, amount); err != nil {
		return err
	}
	if amount.Sign() > 0 {
		t.allowances[from][spender] = allowed.Sub(allowed, amount)
	}
	return nil
}

// Mint creates amount new tokens for to. Caller must hold RoleMinter.
func (t *ERC20) Mint(tx *chain.Tx, to common.Address, amount *big.Int) error {
	if !t.roles[RoleMinter][tx.Caller()] {
		return missingRole(tx.Caller(), RoleMinter)
	}
	if amount == nil || amount.Sign() <= 0 {
		return domain.Revert(domain.ErrInvalidArgument, "Invalid amount")
	}
	t.credit(to, amount)
	t.totalSupply.Add(t.totalSupply, amount)
	tx.Emit(t.address, domain.EventTransfer, map[string]any{
		"from":  common.Address{}.Hex(),
		"to":    to.Hex(),
		"value": amount.String(),
	})
	return nil
}

// Burn destroys amount of from's tokens. Caller must hold RoleBurner.
func (t *ERC20) Burn(tx *chain.Tx, from common.Address, amount *big.Int) error {
	if !t.roles[RoleBurner][tx.Caller()] {
		return missingRole(tx.Caller(), RoleBurner)
	}
	if amount == nil || amount.Sign() <= 0 {
		return domain.Revert(domain.ErrInvalidArgument, "Invalid amount")
	}
	if t.BalanceOf(from).Cmp(amount) < 0 {
		return domain.Revert(domain.ErrInsufficientBalance, "Insufficient balance")
	}
	t.debit(from, amount)
	t.totalSupply.Sub(t.totalSupply, amount)
	tx.Emit(t.address, domain.EventTransfer, map[string]any{
		"from":  from.Hex(),
		"to":    common.Address{}.Hex(),
		"value": amount.String(),
	})
	return nil
}

// GrantRole gives account role. Only an existing holder of the role may grant it.
func (t *ERC20) GrantRole(tx *chain.Tx, role Role, account common.Address) error {
	holders, ok := t.roles[role]
	if !ok {
		return domain.Revertf(domain.ErrInvalidArgument, "Unknown role %s", role)
	}
	if !holders[tx.Caller()] {
		return missingRole(tx.Caller(), role)
	}
	holders[account] = true
	return nil
}

func (t *ERC20) move(tx *chain.Tx, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return domain.Revert(domain.ErrInvalidArgument, "Invalid amount")
	}
	if to == (common.Address{}) {
		return domain.Revert(domain.ErrInvalidArgument, "Transfer to the zero address")
	}
	if t.BalanceOf(from).Cmp(amount) < 0 {
		return domain.Revert(domain.ErrInsufficientBalance, "Insufficient balance")
	}
	t.debit(from, amount)
	t.credit(to, amount)
	tx.Emit(t.address, domain.EventTransfer, map[string]any{
		"from":  from.Hex(),
		"to":    to.Hex(),
		"value": amount.String(),
	})
	return nil
}

func (t *ERC20) credit(to common.Address, amount *big.Int) {
	b, ok := t.balances[to]
	if !ok {
		b = new(big.Int)
		t.balances[to] = b
	}
	b.Add(b, amount)
}

func (t *ERC20) debit(from common.Address, amount *big.Int) {
	b := t.balances[from]
	b.Sub(b, amount)
	if b.Sign() == 0 {
		delete(t.balances, from)
	}
}

// Holders returns every address with a non-zero balance.
func (t *ERC20) Holders() []common.Address {
	out := make([]common.Address, 0, len(t.balances))
	for a := range t.balances {
		out = append(out, a)
	}
	return out
}

func missingRole(account common.Address, role Role) error {
	return domain.Revertf(domain.ErrUnauthorized,
		"AccessControl: account %s is missing role %s", account.Hex(), role)
}
