package domain

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// EventKind names a structured event record.
type EventKind string

const (
	EventWhitelisted        EventKind = "Whitelisted"
	EventInitialized        EventKind = "Initialized"
	EventDeposit            EventKind = "Deposit"
	EventWithdrawPrincipal  EventKind = "WithdrawPrincipal"
	EventWithdrawCoupon     EventKind = "WithdrawCoupon"
	EventWithdrawOption     EventKind = "WithdrawOption"
	EventCoupon             EventKind = "Coupon"
	EventProductCreated     EventKind = "ProductCreated"
	EventTokenCreated       EventKind = "TokenCreated"
	EventFundAccept         EventKind = "FundAccept"
	EventFundLock           EventKind = "FundLock"
	EventIssuance           EventKind = "Issuance"
	EventMature             EventKind = "Mature"
	EventUpdateCoupon       EventKind = "UpdateCoupon"
	EventUpdateParameters   EventKind = "UpdateParameters"
	EventRedeemOptionPayout EventKind = "RedeemOptionPayout"
	EventOptionPayout       EventKind = "OptionPayout"
	EventTransfer           EventKind = "Transfer"
	EventApproval           EventKind = "Approval"
)

// Topic returns the keccak256 of the kind name, the identifier external
// indexers key on.
func (k EventKind) Topic() common.Hash {
	return ethcrypto.Keccak256Hash([]byte(k))
}

// Event is one append-only log record produced by a committed call.
type Event struct {
	ID       string         `json:"id"`
	Block    uint64         `json:"block"`
	Index    int            `json:"index"`
	Contract common.Address `json:"contract"`
	Kind     EventKind      `json:"kind"`
	Topic    common.Hash    `json:"topic"`
	Caller   common.Address `json:"caller"`
	Data     map[string]any `json:"data"`
	Time     time.Time      `json:"time"`
}

// Call is the durable record of one submitted transaction. Replaying the
// call log in block order reproduces the full state.
type Call struct {
	Block     uint64          `json:"block"`
	Contract  common.Address  `json:"contract"`
	Method    string          `json:"method"`
	Caller    common.Address  `json:"caller"`
	Args      json.RawMessage `json:"args,omitempty"`
	Nonce     uint64          `json:"nonce"`
	Signature string          `json:"signature,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// EventFilter narrows an event query. Zero fields match everything.
type EventFilter struct {
	Contract  *common.Address
	Kind      EventKind
	FromBlock uint64
	Limit     int
	Offset    int
}

// Match reports whether e passes the filter (pagination is not applied).
func (f EventFilter) Match(e Event) bool {
	if f.Contract != nil && *f.Contract != e.Contract {
		return false
	}
	if f.Kind != "" && f.Kind != e.Kind {
		return false
	}
	return e.Block >= f.FromBlock
}
