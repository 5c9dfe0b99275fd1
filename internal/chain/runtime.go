// Package chain provides the serialized, all-or-nothing execution runtime the
// product contracts run on. Every state-changing call executes under one
// lock against snapshots of all registered states; a failed call restores
// every snapshot and leaves no trace, a successful one produces a block and
// appends its events to the log.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/shproduct/internal/domain"
)

// Journaled is implemented by every piece of contract state. Snapshot captures
// the current state and returns a function that restores it.
type Journaled interface {
	Snapshot() (restore func())
}

// Receipt describes a committed call.
type Receipt struct {
	Block  uint64
	Call   domain.Call
	Events []domain.Event
	Time   time.Time
}

// CommitHook runs before a call is finalised. Returning an error reverts the
// call as if it had failed itself.
type CommitHook func(ctx context.Context, r *Receipt) error

// Observer runs after a call has been committed. It can not fail the call.
type Observer func(ctx context.Context, r *Receipt)

// Option configures a Runtime.
type Option func(*Runtime)

// WithClock overrides the block time source.
func WithClock(clock func() time.Time) Option {
	return func(r *Runtime) { r.clock = clock }
}

// Runtime is the serialized execution environment.
type Runtime struct {
	mu        sync.RWMutex
	states    []Journaled
	block     uint64
	log       []domain.Event
	clock     func() time.Time
	hooks     []CommitHook
	observers []Observer
	logger    *slog.Logger
}

// New creates an empty runtime at block 0.
func New(logger *slog.Logger, opts ...Option) *Runtime {
	r := &Runtime{
		clock:  time.Now,
		logger: logger.With(slog.String("component", "chain")),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register adds a state that exists outside of any call (genesis state).
func (r *Runtime) Register(j Journaled) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, j)
}

// OnCommit adds a commit hook. Hooks run in registration order.
func (r *Runtime) OnCommit(h CommitHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, h)
}

// Observe adds a post-commit observer.
func (r *Runtime) Observe(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

// Block returns the number of the last committed block.
func (r *Runtime) Block() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.block
}

// View runs fn under the read lock so it observes a consistent state.
func (r *Runtime) View(fn func()) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn()
}

// ViewAt is View with the number of the block fn observes.
func (r *Runtime) ViewAt(fn func(block uint64)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn(r.block)
}

// Logs returns the committed events matching f, oldest first.
func (r *Runtime) Logs(f domain.EventFilter) []domain.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Event
	skipped := 0
	for _, e := range r.log {
		if !f.Match(e) {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

// Execute runs fn as one atomic call. call.Caller becomes the transaction
// sender. A non-zero call.Timestamp is used as the block time (replay); a
// non-zero call.Block must be the next block number.
func (r *Runtime) Execute(ctx context.Context, call domain.Call, fn func(tx *Tx) error) (*Receipt, error) {
	r.mu.Lock()

	next := r.block + 1
	if call.Block != 0 && call.Block != next {
		r.mu.Unlock()
		return nil, fmt.Errorf("chain: call for block %d, next block is %d", call.Block, next)
	}
	call.Block = next
	if call.Timestamp.IsZero() {
		call.Timestamp = r.clock().UTC().Truncate(time.Second)
	}

	restores := make([]func(), len(r.states))
	for i, s := range r.states {
		restores[i] = s.Snapshot()
	}

	tx := &Tx{
		ctx:     ctx,
		caller:  call.Caller,
		origin:  call.Caller,
		block:   next,
		time:    call.Timestamp,
		journal: &journal{},
	}

	err := runGuarded(tx, fn)
	receipt := &Receipt{
		Block:  next,
		Call:   call,
		Events: tx.journal.events,
		Time:   call.Timestamp,
	}
	if err == nil {
		for _, h := range r.hooks {
			if err = h(ctx, receipt); err != nil {
				err = fmt.Errorf("chain: commit hook: %w", err)
				break
			}
		}
	}

	if err != nil {
		for i := len(restores) - 1; i >= 0; i-- {
			restores[i]()
		}
		r.mu.Unlock()
		r.logger.DebugContext(ctx, "call reverted",
			slog.String("method", call.Method),
			slog.String("caller", call.Caller.Hex()),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	r.block = next
	r.log = append(r.log, receipt.Events...)
	r.states = append(r.states, tx.journal.registered...)
	observers := r.observers
	r.mu.Unlock()

	for _, o := range observers {
		o(ctx, receipt)
	}
	return receipt, nil
}

// runGuarded converts a panic inside a call into a revert.
func runGuarded(tx *Tx, fn func(tx *Tx) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("chain: call panicked: %v", rec)
		}
	}()
	return fn(tx)
}
