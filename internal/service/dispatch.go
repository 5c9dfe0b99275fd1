package service

import (
	"encoding/json"
	"math/big"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/alanyoungcy/shproduct/internal/chain"
	"github.com/alanyoungcy/shproduct/internal/domain"
	"github.com/alanyoungcy/shproduct/internal/product"
	"github.com/alanyoungcy/shproduct/internal/registry"
	"github.com/alanyoungcy/shproduct/internal/token"
)

// Call arguments. Amounts accept decimal or 0x-hex, quoted or bare.

type addressArgs struct {
	Investor common.Address `json:"investor"`
}

type couponArgs struct {
	Coupon int64 `json:"coupon"`
}

type cycleArgs struct {
	Cycle domain.IssuanceCycle `json:"issuanceCycle"`
}

type depositArgs struct {
	Amount     *math.HexOrDecimal256 `json:"amount"`
	IsRollover bool                  `json:"isRollover"`
}

type amountArgs struct {
	Amount *math.HexOrDecimal256 `json:"amount"`
}

type payoutArgs struct {
	Users   []common.Address        `json:"userList"`
	Amounts []*math.HexOrDecimal256 `json:"amountList"`
}

type initializeArgs struct {
	TokenFactory common.Address `json:"tokenFactory"`
}

type createProductArgs struct {
	Name        string                `json:"name"`
	Underlying  string                `json:"underlying"`
	Currency    common.Address        `json:"currency"`
	Manager     common.Address        `json:"manager"`
	ExWallet    common.Address        `json:"exWallet"`
	MaxCapacity *math.HexOrDecimal256 `json:"maxCapacity"`
	Cycle       domain.IssuanceCycle  `json:"issuanceCycle"`
	Router      common.Address        `json:"router"`
	Market      common.Address        `json:"market"`
}

type transferArgs struct {
	From    common.Address        `json:"from"`
	To      common.Address        `json:"to"`
	Spender common.Address        `json:"spender"`
	Amount  *math.HexOrDecimal256 `json:"amount"`
}

type productMethod func(p *product.Product, tx *chain.Tx, args json.RawMessage) error

// productMethods maps product method names to the core operations.
var productMethods = map[string]productMethod{
	"whitelist": func(p *product.Product, tx *chain.Tx, raw json.RawMessage) error {
		var a addressArgs
		if err := decodeArgs(raw, &a); err != nil {
			return err
		}
		return p.Whitelist(tx, a.Investor)
	},
	"fundAccept": func(p *product.Product, tx *chain.Tx, _ json.RawMessage) error { return p.FundAccept(tx) },
	"fundLock":   func(p *product.Product, tx *chain.Tx, _ json.RawMessage) error { return p.FundLock(tx) },
	"issuance":   func(p *product.Product, tx *chain.Tx, _ json.RawMessage) error { return p.Issuance(tx) },
	"mature":     func(p *product.Product, tx *chain.Tx, _ json.RawMessage) error { return p.Mature(tx) },
	"updateCoupon": func(p *product.Product, tx *chain.Tx, raw json.RawMessage) error {
		var a couponArgs
		if err := decodeArgs(raw, &a); err != nil {
			return err
		}
		return p.UpdateCoupon(tx, a.Coupon)
	},
	"updateParameters": func(p *product.Product, tx *chain.Tx, raw json.RawMessage) error {
		var a cycleArgs
		if err := decodeArgs(raw, &a); err != nil {
			return err
		}
		return p.UpdateParameters(tx, a.Cycle)
	},
	"deposit": func(p *product.Product, tx *chain.Tx, raw json.RawMessage) error {
		var a depositArgs
		if err := decodeArgs(raw, &a); err != nil {
			return err
		}
		return p.Deposit(tx, bigOf(a.Amount), a.IsRollover)
	},
	"withdrawPrincipal": func(p *product.Product, tx *chain.Tx, _ json.RawMessage) error { return p.WithdrawPrincipal(tx) },
	"withdrawCoupon":    func(p *product.Product, tx *chain.Tx, _ json.RawMessage) error { return p.WithdrawCoupon(tx) },
	"withdrawOption":    func(p *product.Product, tx *chain.Tx, _ json.RawMessage) error { return p.WithdrawOption(tx) },
	"coupon": func(p *product.Product, tx *chain.Tx, raw json.RawMessage) error {
		var a payoutArgs
		if err := decodeArgs(raw, &a); err != nil {
			return err
		}
		return p.Coupon(tx, a.Users, bigsOf(a.Amounts))
	},
	"addOptionProfitList": func(p *product.Product, tx *chain.Tx, raw json.RawMessage) error {
		var a payoutArgs
		if err := decodeArgs(raw, &a); err != nil {
			return err
		}
		return p.AddOptionProfitList(tx, a.Users, bigsOf(a.Amounts))
	},
	"redeemOptionPayout": func(p *product.Product, tx *chain.Tx, raw json.RawMessage) error {
		var a amountArgs
		if err := decodeArgs(raw, &a); err != nil {
			return err
		}
		return p.RedeemOptionPayout(tx, bigOf(a.Amount))
	},
}

type tokenMethod func(t *token.ERC20, tx *chain.Tx, a transferArgs) error

// tokenMethods maps ERC-20 method names to token operations.
var tokenMethods = map[string]tokenMethod{
	"approve": func(t *token.ERC20, tx *chain.Tx, a transferArgs) error {
		return t.Approve(tx, a.Spender, bigOf(a.Amount))
	},
	"transfer": func(t *token.ERC20, tx *chain.Tx, a transferArgs) error {
		return t.Transfer(tx, a.To, bigOf(a.Amount))
	},
	"transferFrom": func(t *token.ERC20, tx *chain.Tx, a transferArgs) error {
		return t.TransferFrom(tx, a.From, a.To, bigOf(a.Amount))
	},
	"mint": func(t *token.ERC20, tx *chain.Tx, a transferArgs) error {
		return t.Mint(tx, a.To, bigOf(a.Amount))
	},
	"burn": func(t *token.ERC20, tx *chain.Tx, a transferArgs) error {
		return t.Burn(tx, a.From, bigOf(a.Amount))
	},
}

// Methods lists the callable method names per contract kind.
func Methods() map[string][]string {
	out := map[string][]string{
		"registry": {"initialize", "createProduct"},
	}
	for m := range productMethods {
		out["product"] = append(out["product"], m)
	}
	for m := range tokenMethods {
		out["token"] = append(out["token"], m)
	}
	slices.Sort(out["product"])
	slices.Sort(out["token"])
	return out
}

// dispatch routes call to the contract at call.Contract. It runs inside the
// runtime so contract lookups see the state of this block.
func (s *LedgerService) dispatch(tx *chain.Tx, call domain.Call) error {
	if call.Contract == s.factory.Address() {
		return s.callRegistry(tx, s.factory, call)
	}
	if p, ok := s.factory.Product(call.Contract); ok {
		fn, ok := productMethods[call.Method]
		if !ok {
			return unknownMethod(call.Method)
		}
		return fn(p, tx, call.Args)
	}
	if t, ok := s.token(call.Contract); ok {
		fn, ok := tokenMethods[call.Method]
		if !ok {
			return unknownMethod(call.Method)
		}
		var a transferArgs
		if err := decodeArgs(call.Args, &a); err != nil {
			return err
		}
		return fn(t, tx, a)
	}
	return domain.Revertf(domain.ErrNotFound, "Unknown contract %s", call.Contract.Hex())
}

func (s *LedgerService) callRegistry(tx *chain.Tx, f *registry.Factory, call domain.Call) error {
	switch call.Method {
	case "initialize":
		var a initializeArgs
		if err := decodeArgs(call.Args, &a); err != nil {
			return err
		}
		if a.TokenFactory != s.tokens.Address() {
			return domain.Revertf(domain.ErrInvalidArgument, "Unknown token factory %s", a.TokenFactory.Hex())
		}
		return f.Initialize(tx, s.tokens)
	case "createProduct":
		var a createProductArgs
		if err := decodeArgs(call.Args, &a); err != nil {
			return err
		}
		_, err := f.CreateProduct(tx, domain.ProductParams{
			Name:        a.Name,
			Underlying:  a.Underlying,
			Currency:    a.Currency,
			Manager:     a.Manager,
			ExWallet:    a.ExWallet,
			MaxCapacity: bigOf(a.MaxCapacity),
			Cycle:       a.Cycle,
			Router:      a.Router,
			Market:      a.Market,
		})
		return err
	default:
		return unknownMethod(call.Method)
	}
}

// token resolves the currency or a share token.
func (s *LedgerService) token(addr common.Address) (*token.ERC20, bool) {
	if addr == s.currency.Address() {
		return s.currency, true
	}
	return s.tokens.Token(addr)
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &domain.RevertError{Kind: domain.ErrInvalidArgument, Reason: "Malformed arguments", Cause: err}
	}
	return nil
}

func unknownMethod(m string) error {
	return domain.Revertf(domain.ErrInvalidArgument, "Unknown method %q", m)
}

func bigOf(h *math.HexOrDecimal256) *big.Int {
	if h == nil {
		return new(big.Int)
	}
	return new(big.Int).Set((*big.Int)(h))
}

func bigsOf(hs []*math.HexOrDecimal256) []*big.Int {
	out := make([]*big.Int, len(hs))
	for i, h := range hs {
		out[i] = bigOf(h)
	}
	return out
}
