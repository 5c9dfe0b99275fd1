package token

import (
	"maps"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/shproduct/internal/chain"
	"github.com/alanyoungcy/shproduct/internal/domain"
)

// Snapshot implements chain.Journaled.
func (t *ERC20) Snapshot() func() {
	supply := new(big.Int).Set(t.totalSupply)
	balances := make(map[common.Address]*big.Int, len(t.balances))
	for a, b := range t.balances {
		balances[a] = new(big.Int).Set(b)
	}
	allowances := make(map[common.Address]map[common.Address]*big.Int, len(t.allowances))
	for owner, m := range t.allowances {
		inner := make(map[common.Address]*big.Int, len(m))
		for spender, v := range m {
			inner[spender] = new(big.Int).Set(v)
		}
		allowances[owner] = inner
	}
	roles := make(map[Role]map[common.Address]bool, len(t.roles))
	for r, holders := range t.roles {
		roles[r] = maps.Clone(holders)
	}
	return func() {
		t.totalSupply = supply
		t.balances = balances
		t.allowances = allowances
		t.roles = roles
	}
}

// Factory deploys share tokens, one per product.
type Factory struct {
	address common.Address
	nonce   uint64
	tokens  map[common.Address]*ERC20
}

// NewFactory creates a token factory at address.
func NewFactory(address common.Address) *Factory {
	return &Factory{
		address: address,
		tokens:  make(map[common.Address]*ERC20),
	}
}

// Address returns the factory address.
func (f *Factory) Address() common.Address { return f.address }

// CreateToken deploys a non-transferable token whose mint/burn roles belong
// to owner (the product the token is bound to) and emits TokenCreated.
func (f *Factory) CreateToken(tx *chain.Tx, name, symbol string, owner common.Address) (*ERC20, error) {
	if name == "" || symbol == "" {
		return nil, domain.Revert(domain.ErrInvalidArgument, "Empty token name or symbol")
	}
	addr := ethcrypto.CreateAddress(f.address, f.nonce)
	f.nonce++

	t := NewERC20(addr, name, symbol, owner)
	t.locked = true
	f.tokens[addr] = t
	tx.Register(t)
	tx.Emit(f.address, domain.EventTokenCreated, map[string]any{
		"token":  addr.Hex(),
		"name":   name,
		"symbol": symbol,
		"owner":  owner.Hex(),
	})
	return t, nil
}

// Token returns a token deployed by this factory.
func (f *Factory) Token(addr common.Address) (*ERC20, bool) {
	t, ok := f.tokens[addr]
	return t, ok
}

// Snapshot implements chain.Journaled.
func (f *Factory) Snapshot() func() {
	nonce := f.nonce
	tokens := maps.Clone(f.tokens)
	return func() {
		f.nonce = nonce
		f.tokens = tokens
	}
}
