package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// MaxCouponBp is the upper bound accepted for IssuanceCycle.Coupon.
const MaxCouponBp = 100

// IssuanceCycle holds the economic terms of one product cycle. Prices and
// thresholds are integers in the units the desk quotes them in; dates are
// unix seconds.
type IssuanceCycle struct {
	Coupon             int64  `json:"coupon"`
	StrikePrice1       int64  `json:"strikePrice1"`
	StrikePrice2       int64  `json:"strikePrice2"`
	StrikePrice3       int64  `json:"strikePrice3"`
	StrikePrice4       int64  `json:"strikePrice4"`
	TR1                int64  `json:"tr1"`
	TR2                int64  `json:"tr2"`
	IssuanceDate       int64  `json:"issuanceDate"`
	MaturityDate       int64  `json:"maturityDate"`
	APY                string `json:"apy"`
	UnderlyingSpotRef  int64  `json:"underlyingSpotRef"`
	OptionMinOrderSize int64  `json:"optionMinOrderSize"`
	SubAccountID       string `json:"subAccountId"`
	Participation      int64  `json:"participation"`
}

// UserInfo is one investor's ledger entry. All balances are currency base
// units and never negative.
type UserInfo struct {
	Principal          *big.Int `json:"principal"`
	Coupon             *big.Int `json:"coupon"`
	OptionPayout       *big.Int `json:"optionPayout"`
	IsIssuanceRollover bool     `json:"isIssuanceRollover"`
}

// ZeroUserInfo is the entry every address reads before it is first touched.
func ZeroUserInfo() UserInfo {
	return UserInfo{
		Principal:    new(big.Int),
		Coupon:       new(big.Int),
		OptionPayout: new(big.Int),
	}
}

// Clone returns a deep copy.
func (u UserInfo) Clone() UserInfo {
	return UserInfo{
		Principal:          cloneInt(u.Principal),
		Coupon:             cloneInt(u.Coupon),
		OptionPayout:       cloneInt(u.OptionPayout),
		IsIssuanceRollover: u.IsIssuanceRollover,
	}
}

// IsZero reports whether the entry holds no balance at all.
func (u UserInfo) IsZero() bool {
	return u.Principal.Sign() == 0 && u.Coupon.Sign() == 0 && u.OptionPayout.Sign() == 0
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// ProductParams are the arguments to the registry's createProduct.
type ProductParams struct {
	Name        string         `json:"name"`
	Underlying  string         `json:"underlying"`
	Currency    common.Address `json:"currency"`
	Manager     common.Address `json:"manager"`
	ExWallet    common.Address `json:"exWallet"`
	MaxCapacity *big.Int       `json:"maxCapacity"`
	Cycle       IssuanceCycle  `json:"issuanceCycle"`
	Router      common.Address `json:"router"`
	Market      common.Address `json:"market"`
}

// ProductSnapshot is the read model of a product at a given block.
type ProductSnapshot struct {
	Address        common.Address `json:"address"`
	Name           string         `json:"name"`
	Underlying     string         `json:"underlying"`
	Currency       common.Address `json:"currency"`
	ShareToken     common.Address `json:"shareToken"`
	Manager        common.Address `json:"manager"`
	ExWallet       common.Address `json:"exWallet"`
	Router         common.Address `json:"router"`
	Market         common.Address `json:"market"`
	Status         Phase          `json:"status"`
	MaxCapacity    *big.Int       `json:"maxCapacity"`
	CapacityLimit  *big.Int       `json:"capacityLimit"`
	TotalPrincipal *big.Int       `json:"totalPrincipal"`
	Custody        *big.Int       `json:"custody"`
	Cycle          IssuanceCycle  `json:"issuanceCycle"`
	Investors      int            `json:"investors"`
	Whitelisted    int            `json:"whitelisted"`
}

// LedgerLine pairs an investor with their entry, used by statements.
type LedgerLine struct {
	Investor common.Address `json:"investor"`
	UserInfo
}
