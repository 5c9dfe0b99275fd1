// Package registry deploys structured products. The Factory derives each
// product's address, binds a freshly created share token to it, and keeps
// the list of every product it created.
package registry

import (
	"errors"
	"maps"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/shproduct/internal/chain"
	"github.com/alanyoungcy/shproduct/internal/domain"
	"github.com/alanyoungcy/shproduct/internal/product"
	"github.com/alanyoungcy/shproduct/internal/token"
)

// CurrencyResolver looks up the currency token deployed at addr.
type CurrencyResolver func(addr common.Address) (product.Currency, bool)

// Factory is the product registry.
type Factory struct {
	address  common.Address
	owner    common.Address
	currency CurrencyResolver

	tokens   *token.Factory
	nonce    uint64
	order    []common.Address
	products map[common.Address]*product.Product
}

// NewFactory creates an uninitialised registry at address owned by owner.
func NewFactory(address, owner common.Address, currency CurrencyResolver) *Factory {
	return &Factory{
		address:  address,
		owner:    owner,
		currency: currency,
		products: make(map[common.Address]*product.Product),
	}
}

func (f *Factory) Address() common.Address { return f.address }
func (f *Factory) Owner() common.Address   { return f.owner }

// Initialized reports whether a token factory has been bound.
func (f *Factory) Initialized() bool { return f.tokens != nil }

// TokenFactory returns the bound token factory, or nil.
func (f *Factory) TokenFactory() *token.Factory { return f.tokens }

// Initialize binds the token factory used for share tokens. Owner only, once.
func (f *Factory) Initialize(tx *chain.Tx, tokens *token.Factory) error {
	if tx.Caller() != f.owner {
		return domain.Revert(domain.ErrUnauthorized, "Not the owner")
	}
	if f.tokens != nil {
		return domain.Revert(domain.ErrAlreadyExists, "Already initialized")
	}
	if tokens == nil {
		return domain.Revert(domain.ErrInvalidArgument, "Token factory is required")
	}
	f.tokens = tokens
	tx.Emit(f.address, domain.EventInitialized, map[string]any{
		"tokenFactory": tokens.Address().Hex(),
	})
	return nil
}

// CreateProduct deploys a product with a bound share token. Owner only.
func (f *Factory) CreateProduct(tx *chain.Tx, params domain.ProductParams) (*product.Product, error) {
	if tx.Caller() != f.owner {
		return nil, domain.Revert(domain.ErrUnauthorized, "Not the owner")
	}
	if f.tokens == nil {
		return nil, domain.Revert(domain.ErrInvalidPhase, "Not initialized")
	}
	if strings.TrimSpace(params.Name) == "" {
		return nil, domain.Revert(domain.ErrInvalidArgument, "Empty product name")
	}
	currency, ok := f.currency(params.Currency)
	if !ok {
		return nil, domain.Revertf(domain.ErrInvalidArgument, "Unknown currency %s", params.Currency.Hex())
	}

	addr := ethcrypto.CreateAddress(f.address, f.nonce)
	f.nonce++

	shares, err := f.tokens.CreateToken(tx.As(f.address), params.Name, shareSymbol(params.Underlying), addr)
	if err != nil {
		return nil, err
	}
	p, err := product.New(product.Config{
		Address:     addr,
		Name:        params.Name,
		Underlying:  params.Underlying,
		Manager:     params.Manager,
		ExWallet:    params.ExWallet,
		Router:      params.Router,
		Market:      params.Market,
		MaxCapacity: params.MaxCapacity,
		Cycle:       params.Cycle,
	}, currency, shares)
	if err != nil {
		var re *domain.RevertError
		if errors.As(err, &re) {
			return nil, re
		}
		return nil, domain.Revert(domain.ErrInvalidArgument, err.Error())
	}

	f.products[addr] = p
	f.order = append(f.order, addr)
	tx.Register(p)
	tx.Emit(f.address, domain.EventProductCreated, map[string]any{
		"product":     addr.Hex(),
		"token":       shares.Address().Hex(),
		"name":        params.Name,
		"underlying":  params.Underlying,
		"currency":    params.Currency.Hex(),
		"manager":     params.Manager.Hex(),
		"exWallet":    params.ExWallet.Hex(),
		"maxCapacity": params.MaxCapacity.String(),
	})
	return p, nil
}

// Product returns the product deployed at addr.
func (f *Factory) Product(addr common.Address) (*product.Product, bool) {
	p, ok := f.products[addr]
	return p, ok
}

// Products returns every product in creation order.
func (f *Factory) Products() []*product.Product {
	out := make([]*product.Product, 0, len(f.order))
	for _, a := range f.order {
		out = append(out, f.products[a])
	}
	return out
}

// Snapshot implements chain.Journaled.
func (f *Factory) Snapshot() func() {
	tokens := f.tokens
	nonce := f.nonce
	order := slices.Clone(f.order)
	products := maps.Clone(f.products)
	return func() {
		f.tokens = tokens
		f.nonce = nonce
		f.order = order
		f.products = products
	}
}

func shareSymbol(underlying string) string {
	var b strings.Builder
	b.WriteString("SH-")
	for _, r := range strings.ToUpper(underlying) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
