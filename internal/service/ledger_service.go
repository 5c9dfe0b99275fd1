package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/shproduct/internal/chain"
	"github.com/alanyoungcy/shproduct/internal/crypto"
	"github.com/alanyoungcy/shproduct/internal/domain"
	"github.com/alanyoungcy/shproduct/internal/product"
	"github.com/alanyoungcy/shproduct/internal/registry"
	"github.com/alanyoungcy/shproduct/internal/token"
)

// LedgerConfig describes the genesis of the execution environment.
type LedgerConfig struct {
	ChainID        int64
	Deployer       common.Address
	CurrencyName   string
	CurrencySymbol string
	// Insecure accepts unsigned calls.
	Insecure bool
	// Clock overrides the block time source.
	Clock func() time.Time
}

// Genesis contract addresses derive from the deployer like contract
// creations: currency at nonce 0, token factory at 1, registry at 2.
func genesisAddresses(deployer common.Address) (currency, tokens, reg common.Address) {
	return ethcrypto.CreateAddress(deployer, 0),
		ethcrypto.CreateAddress(deployer, 1),
		ethcrypto.CreateAddress(deployer, 2)
}

// LedgerService executes signed calls against the product contracts,
// persists the committed ones and answers read queries.
type LedgerService struct {
	rt       *chain.Runtime
	currency *token.ERC20
	tokens   *token.Factory
	factory  *registry.Factory
	nonces   *nonceBook
	verifier *crypto.Verifier

	cfg     LedgerConfig
	calls   domain.CallStore
	events  domain.EventStore
	audit   domain.AuditStore
	locks   domain.LockManager
	lockTTL time.Duration

	replaying atomic.Bool
	logger    *slog.Logger
}

// NewLedgerService builds the genesis state: the currency token, the token
// factory and the (uninitialised) product registry, all owned by the
// deployer.
func NewLedgerService(cfg LedgerConfig, logger *slog.Logger) *LedgerService {
	var opts []chain.Option
	if cfg.Clock != nil {
		opts = append(opts, chain.WithClock(cfg.Clock))
	}
	rt := chain.New(logger, opts...)

	currencyAddr, tokensAddr, registryAddr := genesisAddresses(cfg.Deployer)
	currency := token.NewERC20(currencyAddr, cfg.CurrencyName, cfg.CurrencySymbol, cfg.Deployer)
	tokens := token.NewFactory(tokensAddr)

	s := &LedgerService{
		rt:       rt,
		currency: currency,
		tokens:   tokens,
		nonces:   &nonceBook{last: make(map[common.Address]uint64)},
		verifier: crypto.NewVerifier(cfg.ChainID),
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "ledger_service")),
	}
	s.factory = registry.NewFactory(registryAddr, cfg.Deployer, s.resolveCurrency)

	rt.Register(currency)
	rt.Register(tokens)
	rt.Register(s.factory)
	rt.Register(s.nonces)
	return s
}

// WithCallStore makes every committed call durable. A failed write reverts
// the call.
func (s *LedgerService) WithCallStore(calls domain.CallStore) *LedgerService {
	s.calls = calls
	s.rt.OnCommit(s.persist)
	return s
}

// WithEventStore serves event queries from a store instead of memory.
func (s *LedgerService) WithEventStore(events domain.EventStore) *LedgerService {
	s.events = events
	return s
}

// WithAudit records rejected calls.
func (s *LedgerService) WithAudit(audit domain.AuditStore) *LedgerService {
	s.audit = audit
	return s
}

// WithLocks serialises submissions per contract across instances.
func (s *LedgerService) WithLocks(locks domain.LockManager, ttl time.Duration) *LedgerService {
	s.locks = locks
	s.lockTTL = ttl
	return s
}

// OnCommit registers a hook that runs before each call is finalised.
func (s *LedgerService) OnCommit(h chain.CommitHook) { s.rt.OnCommit(h) }

// Observe registers a post-commit observer.
func (s *LedgerService) Observe(o chain.Observer) { s.rt.Observe(o) }

// Replaying reports whether the call log is currently being replayed.
func (s *LedgerService) Replaying() bool { return s.replaying.Load() }

// Block returns the last committed block.
func (s *LedgerService) Block() uint64 { return s.rt.Block() }

// Submit verifies and executes one call. Signed calls must come from their
// stated caller and carry a nonce above the caller's last one.
func (s *LedgerService) Submit(ctx context.Context, call domain.Call) (*chain.Receipt, error) {
	call.Block = 0
	call.Timestamp = time.Time{}

	if call.Method == "" {
		return nil, domain.Revert(domain.ErrInvalidArgument, "Missing method")
	}
	if call.Signature != "" {
		if err := s.verifier.Verify(call); err != nil {
			s.recordRejection(ctx, call, err)
			return nil, err
		}
	} else if !s.cfg.Insecure {
		err := fmt.Errorf("service: unsigned call: %w", domain.ErrBadSignature)
		s.recordRejection(ctx, call, err)
		return nil, err
	}

	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, domain.ContractLockKey(call.Contract), s.lockTTL)
		if err != nil {
			return nil, fmt.Errorf("service: lock %s: %w", call.Contract.Hex(), err)
		}
		defer unlock()
	}

	receipt, err := s.execute(ctx, call)
	if err != nil {
		s.recordRejection(ctx, call, err)
		return nil, err
	}

	s.logger.InfoContext(ctx, "call committed",
		slog.Uint64("block", receipt.Block),
		slog.String("contract", call.Contract.Hex()),
		slog.String("method", call.Method),
		slog.String("caller", call.Caller.Hex()),
		slog.Int("events", len(receipt.Events)),
	)
	return receipt, nil
}

// Replay re-executes every stored call after the current block, in block
// order with the stored timestamps. Nothing is persisted again.
func (s *LedgerService) Replay(ctx context.Context) (int, error) {
	if s.calls == nil {
		return 0, nil
	}
	calls, err := s.calls.List(ctx, s.rt.Block()+1)
	if err != nil {
		return 0, fmt.Errorf("service: replay: %w", err)
	}

	s.replaying.Store(true)
	defer s.replaying.Store(false)

	for i, call := range calls {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if _, err := s.execute(ctx, call); err != nil {
			return i, fmt.Errorf("service: replay block %d: %w", call.Block, err)
		}
	}

	last, err := s.calls.LastBlock(ctx)
	if err != nil {
		return len(calls), fmt.Errorf("service: replay: %w", err)
	}
	if last > s.rt.Block() {
		return len(calls), fmt.Errorf("service: replay: call log ends at block %d, ledger stopped at %d", last, s.rt.Block())
	}

	if len(calls) > 0 {
		s.logger.InfoContext(ctx, "call log replayed",
			slog.Int("calls", len(calls)),
			slog.Uint64("block", s.rt.Block()),
		)
	}
	return len(calls), nil
}

func (s *LedgerService) execute(ctx context.Context, call domain.Call) (*chain.Receipt, error) {
	return s.rt.Execute(ctx, call, func(tx *chain.Tx) error {
		if err := s.nonces.use(call); err != nil {
			return err
		}
		return s.dispatch(tx, call)
	})
}

func (s *LedgerService) persist(ctx context.Context, r *chain.Receipt) error {
	if s.replaying.Load() {
		return nil
	}
	return s.calls.Append(ctx, r.Call, r.Events)
}

func (s *LedgerService) recordRejection(ctx context.Context, call domain.Call, err error) {
	s.logger.WarnContext(ctx, "call rejected",
		slog.String("contract", call.Contract.Hex()),
		slog.String("method", call.Method),
		slog.String("caller", call.Caller.Hex()),
		slog.String("error", err.Error()),
	)
	if s.audit == nil {
		return
	}
	detail := map[string]any{
		"contract": call.Contract.Hex(),
		"method":   call.Method,
		"caller":   call.Caller.Hex(),
		"nonce":    call.Nonce,
		"reason":   domain.ReasonOf(err),
	}
	var re *domain.RevertError
	if errors.As(err, &re) {
		detail["kind"] = re.Kind.Error()
	}
	if aerr := s.audit.Log(ctx, "call.rejected", detail); aerr != nil {
		s.logger.ErrorContext(ctx, "audit log failed", slog.String("error", aerr.Error()))
	}
}

func (s *LedgerService) resolveCurrency(addr common.Address) (product.Currency, bool) {
	if addr == s.currency.Address() {
		return s.currency, true
	}
	return nil, false
}

// nonceBook tracks the last accepted nonce of every caller. It is journaled
// so a reverted call does not consume its nonce.
type nonceBook struct {
	last map[common.Address]uint64
}

// use accepts call's nonce. Unsigned calls with nonce 0 are not tracked.
func (b *nonceBook) use(call domain.Call) error {
	if call.Signature == "" && call.Nonce == 0 {
		return nil
	}
	if call.Nonce <= b.last[call.Caller] {
		return domain.Revertf(domain.ErrBadSignature, "Nonce too low: got %d, last %d", call.Nonce, b.last[call.Caller])
	}
	b.last[call.Caller] = call.Nonce
	return nil
}

// Snapshot implements chain.Journaled.
func (b *nonceBook) Snapshot() func() {
	saved := maps.Clone(b.last)
	return func() { b.last = saved }
}
