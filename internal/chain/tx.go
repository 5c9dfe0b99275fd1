package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/shproduct/internal/domain"
)

// eventNamespace seeds deterministic event IDs so a replayed call log yields
// the same identifiers as the original run.
var eventNamespace = uuid.MustParse("6f1c1a52-3f4e-4d36-9f55-5c0b8f0f7a10")

type journal struct {
	events     []domain.Event
	registered []Journaled
}

// Tx is the context of one executing call. Nested contract calls share the
// journal but see a different caller.
type Tx struct {
	ctx     context.Context
	caller  common.Address
	origin  common.Address
	block   uint64
	time    time.Time
	journal *journal
}

// Context returns the request context of the call.
func (tx *Tx) Context() context.Context { return tx.ctx }

// Caller is the immediate sender: the external account, or the contract that
// made a nested call.
func (tx *Tx) Caller() common.Address { return tx.caller }

// Origin is the external account that submitted the call.
func (tx *Tx) Origin() common.Address { return tx.origin }

// Block is the number of the block this call will produce.
func (tx *Tx) Block() uint64 { return tx.block }

// Time is the block time.
func (tx *Tx) Time() time.Time { return tx.time }

// As returns a nested call context whose caller is contract.
func (tx *Tx) As(contract common.Address) *Tx {
	nested := *tx
	nested.caller = contract
	return &nested
}

// Emit buffers an event. It becomes part of the log only if the call commits.
func (tx *Tx) Emit(contract common.Address, kind domain.EventKind, data map[string]any) {
	idx := len(tx.journal.events)
	tx.journal.events = append(tx.journal.events, domain.Event{
		ID:       uuid.NewSHA1(eventNamespace, []byte(fmt.Sprintf("%d/%d", tx.block, idx))).String(),
		Block:    tx.block,
		Index:    idx,
		Contract: contract,
		Kind:     kind,
		Topic:    kind.Topic(),
		Caller:   tx.caller,
		Data:     data,
		Time:     tx.time,
	})
}

// Register adds state created during this call; it joins the runtime only
// when the call commits.
func (tx *Tx) Register(j Journaled) {
	tx.journal.registered = append(tx.journal.registered, j)
}

// Events returns the events emitted so far in this call.
func (tx *Tx) Events() []domain.Event {
	return tx.journal.events
}
