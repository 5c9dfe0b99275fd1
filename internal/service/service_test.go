package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/shproduct/internal/cache/memory"
	"github.com/alanyoungcy/shproduct/internal/crypto"
	"github.com/alanyoungcy/shproduct/internal/domain"
)

// Well-known local devnet accounts 0-2.
const (
	deployerKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	aliceKey    = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
	bobKey      = "5de4111afa1a4b94908f83103eb1f1706367c2e68ca870fc3fb9a804cdab365a"
	testChainID = 31337
)

var blockTime = time.Date(2026, 1, 5, 9, 30, 0, 0, time.UTC)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// --- fakes ---

type memCalls struct {
	mu     sync.Mutex
	calls  []domain.Call
	events []domain.Event
	fail   error
}

func (m *memCalls) Append(_ context.Context, call domain.Call, events []domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.calls = append(m.calls, call)
	m.events = append(m.events, events...)
	return nil
}

func (m *memCalls) List(_ context.Context, fromBlock uint64) ([]domain.Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Call
	for _, c := range m.calls {
		if c.Block >= fromBlock {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memCalls) LastBlock(context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return 0, nil
	}
	return m.calls[len(m.calls)-1].Block, nil
}

func (m *memCalls) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type memAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (a *memAudit) Log(_ context.Context, event string, detail map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, domain.AuditEntry{ID: int64(len(a.entries) + 1), Event: event, Detail: detail})
	return nil
}

func (a *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.AuditEntry(nil), a.entries...), nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	kinds []domain.EventKind
}

func (n *recordingNotifier) Notify(_ context.Context, e domain.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.kinds = append(n.kinds, e.Kind)
	return nil
}

type fakeArchiver struct {
	mu         sync.Mutex
	statements []domain.Statement
}

func (f *fakeArchiver) ArchiveStatement(_ context.Context, st domain.Statement) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statements = append(f.statements, st)
	return "statements/" + st.Product.Address.Hex(), nil
}

func (f *fakeArchiver) ListStatements(context.Context, common.Address) ([]domain.BlobInfo, error) {
	return nil, nil
}

func (f *fakeArchiver) ReadStatement(context.Context, string) (domain.Statement, error) {
	return domain.Statement{}, domain.ErrNotFound
}

func (f *fakeArchiver) archived() []domain.Statement {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Statement(nil), f.statements...)
}

// --- fixture ---

type fixture struct {
	svc      *LedgerService
	deployer *crypto.Signer
	alice    *crypto.Signer
	bob      *crypto.Signer
	product  common.Address
}

func signer(t *testing.T, key string) *crypto.Signer {
	t.Helper()
	s, err := crypto.NewSigner(key, testChainID)
	require.NoError(t, err)
	return s
}

func newService(t *testing.T, insecure bool) (*LedgerService, *crypto.Signer) {
	t.Helper()
	deployer := signer(t, deployerKey)
	svc := NewLedgerService(LedgerConfig{
		ChainID:        testChainID,
		Deployer:       deployer.Address(),
		CurrencyName:   "USD Coin",
		CurrencySymbol: "USDC",
		Insecure:       insecure,
		Clock:          func() time.Time { return blockTime },
	}, discard())
	return svc, deployer
}

func genesisFor(deployer *crypto.Signer, investors ...common.Address) Genesis {
	var faucet []Grant
	for _, a := range investors {
		faucet = append(faucet, Grant{To: a, Amount: 1000})
	}
	return Genesis{
		Signer: deployer,
		Faucet: faucet,
		Product: &ProductSpec{
			Name:        "BTC Bullish Spread 01",
			Underlying:  "BTC",
			MaxCapacity: 10_000,
			Cycle:       domain.IssuanceCycle{Coupon: 10, APY: "7-10%"},
			Whitelist:   investors[:1],
		},
	}
}

func newFixture(t *testing.T, svc *LedgerService, deployer *crypto.Signer) *fixture {
	t.Helper()
	f := &fixture{svc: svc, deployer: deployer, alice: signer(t, aliceKey), bob: signer(t, bobKey)}
	applied, err := svc.Bootstrap(context.Background(), genesisFor(deployer, f.alice.Address(), f.bob.Address()))
	require.NoError(t, err)
	require.True(t, applied)
	products := svc.Products()
	require.Len(t, products, 1)
	f.product = products[0].Address
	return f
}

func usdc(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000))
}

func (f *fixture) send(s *crypto.Signer, contract common.Address, method string, args any) error {
	_, err := f.svc.signAndSubmit(context.Background(), s, contract, method, args)
	return err
}

func (f *fixture) manage(t *testing.T, methods ...string) {
	t.Helper()
	for _, m := range methods {
		require.NoError(t, f.send(f.deployer, f.product, m, nil), m)
	}
}

func (f *fixture) deposit(s *crypto.Signer, amount *big.Int) error {
	currency := f.svc.Info().Currency
	if err := f.send(s, currency, "approve", transferArgs{Spender: f.product, Amount: hexOf(amount)}); err != nil {
		return err
	}
	return f.send(s, f.product, "deposit", depositArgs{Amount: hexOf(amount)})
}

// --- tests ---

func TestBootstrap_Genesis(t *testing.T) {
	svc, deployer := newService(t, false)
	f := newFixture(t, svc, deployer)

	info := svc.Info()
	assert.True(t, info.Initialized)
	assert.Equal(t, 1, info.Products)
	assert.Equal(t, "USDC", info.Symbol)
	assert.Equal(t, uint8(6), info.Decimals)
	// initialize, two mints, createProduct, one whitelist
	assert.Equal(t, uint64(5), info.Block)
	assert.Equal(t, uint64(5), svc.Nonce(deployer.Address()))

	st, err := svc.Product(f.product)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseCreated, st.Status)
	assert.Equal(t, deployer.Address(), st.Manager)
	assert.Equal(t, 1, st.Whitelisted)
	assert.Equal(t, usdc(10_000), st.CapacityLimit)
	assert.NotEqual(t, common.Address{}, st.ShareToken)

	bal, err := svc.Balance(info.Currency, f.alice.Address())
	require.NoError(t, err)
	assert.Equal(t, usdc(1000), bal.Amount)
	assert.Equal(t, "1000", bal.Display)

	applied, err := svc.Bootstrap(context.Background(), genesisFor(deployer, f.alice.Address()))
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, uint64(5), svc.Block())
}

func TestBootstrap_RequiresDeployer(t *testing.T) {
	svc, _ := newService(t, false)
	_, err := svc.Bootstrap(context.Background(), Genesis{Signer: signer(t, aliceKey)})
	require.Error(t, err)
	assert.Zero(t, svc.Block())
}

func TestSubmit_ProductCycle(t *testing.T) {
	svc, deployer := newService(t, false)
	f := newFixture(t, svc, deployer)

	f.manage(t, "fundAccept")
	require.NoError(t, f.deposit(f.alice, usdc(500)))
	f.manage(t, "fundLock", "issuance")

	require.NoError(t, f.send(deployer, f.product, "coupon", payoutArgs{
		Users:   []common.Address{f.alice.Address()},
		Amounts: []*math.HexOrDecimal256{hexOf(usdc(5))},
	}))
	view, err := svc.UserInfo(f.product, f.alice.Address())
	require.NoError(t, err)
	assert.True(t, view.Whitelisted)
	assert.Equal(t, usdc(500), view.Info.Principal)
	assert.Equal(t, "500", view.Display["principal"])
	assert.Equal(t, "5", view.Display["coupon"])

	require.NoError(t, f.send(f.alice, f.product, "withdrawCoupon", nil))
	f.manage(t, "mature")

	bal, err := svc.Balance(svc.Info().Currency, f.alice.Address())
	require.NoError(t, err)
	assert.Equal(t, "505", bal.Display)

	st, err := svc.Product(f.product)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseMature, st.Status)
	assert.Equal(t, usdc(500), st.TotalPrincipal)
	assert.Equal(t, usdc(495), st.Custody)

	shares, err := svc.Balance(st.ShareToken, f.alice.Address())
	require.NoError(t, err)
	assert.Equal(t, usdc(500), shares.Amount)

	events, err := svc.Events(context.Background(), domain.EventFilter{Contract: &f.product, Kind: domain.EventDeposit})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, usdc(500).String(), events[0].Data["amount"])
}

func TestSubmit_SharesStayWithDepositor(t *testing.T) {
	svc, deployer := newService(t, false)
	f := newFixture(t, svc, deployer)
	f.manage(t, "fundAccept")
	require.NoError(t, f.deposit(f.alice, usdc(500)))

	st, err := svc.Product(f.product)
	require.NoError(t, err)
	block := svc.Block()

	err = f.send(f.alice, st.ShareToken, "transfer", transferArgs{To: f.bob.Address(), Amount: hexOf(usdc(500))})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Equal(t, "Non-transferable", domain.ReasonOf(err))
	assert.Equal(t, block, svc.Block())

	require.NoError(t, f.send(f.alice, st.ShareToken, "approve", transferArgs{Spender: f.bob.Address(), Amount: hexOf(usdc(500))}))
	err = f.send(f.bob, st.ShareToken, "transferFrom", transferArgs{From: f.alice.Address(), To: f.bob.Address(), Amount: hexOf(usdc(500))})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	bobShares, err := svc.Balance(st.ShareToken, f.bob.Address())
	require.NoError(t, err)
	assert.Zero(t, bobShares.Amount.Sign())

	require.NoError(t, f.send(f.alice, f.product, "withdrawPrincipal", nil))
	view, err := svc.UserInfo(f.product, f.alice.Address())
	require.NoError(t, err)
	assert.Zero(t, view.Info.Principal.Sign())
	aliceShares, err := svc.Balance(st.ShareToken, f.alice.Address())
	require.NoError(t, err)
	assert.Zero(t, aliceShares.Amount.Sign())
	bal, err := svc.Balance(svc.Info().Currency, f.alice.Address())
	require.NoError(t, err)
	assert.Equal(t, usdc(1000), bal.Amount)
}

func TestSubmit_RevertLeavesNoTrace(t *testing.T) {
	svc, deployer := newService(t, false)
	audit := &memAudit{}
	svc.WithAudit(audit)
	f := newFixture(t, svc, deployer)
	f.manage(t, "fundAccept")
	block := svc.Block()

	err := f.send(f.bob, f.product, "deposit", depositArgs{Amount: hexOf(usdc(1))})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotWhitelisted)
	assert.Equal(t, "Not whitelisted", domain.ReasonOf(err))
	assert.Equal(t, block, svc.Block())
	assert.Zero(t, svc.Nonce(f.bob.Address()))

	err = f.deposit(f.alice, usdc(20_000))
	assert.ErrorIs(t, err, domain.ErrCapacityExceeded)

	entries, err := svc.Audit(context.Background(), domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "call.rejected", entries[0].Event)
	assert.Equal(t, "Not whitelisted", entries[0].Detail["reason"])
	assert.Equal(t, "not whitelisted", entries[0].Detail["kind"])
}

func TestSubmit_Signatures(t *testing.T) {
	svc, deployer := newService(t, false)
	f := newFixture(t, svc, deployer)
	ctx := context.Background()

	call := domain.Call{Contract: f.product, Method: "fundAccept", Nonce: svc.Nonce(deployer.Address()) + 1}
	require.NoError(t, deployer.SignCall(&call))

	tampered := call
	tampered.Method = "mature"
	_, err := svc.Submit(ctx, tampered)
	assert.ErrorIs(t, err, domain.ErrBadSignature)

	forged := call
	forged.Caller = f.alice.Address()
	_, err = svc.Submit(ctx, forged)
	assert.ErrorIs(t, err, domain.ErrBadSignature)

	_, err = svc.Submit(ctx, call)
	require.NoError(t, err)

	_, err = svc.Submit(ctx, call)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBadSignature)
	assert.Contains(t, domain.ReasonOf(err), "Nonce too low")

	unsigned := domain.Call{Contract: f.product, Method: "fundLock", Caller: deployer.Address()}
	_, err = svc.Submit(ctx, unsigned)
	assert.ErrorIs(t, err, domain.ErrBadSignature)
}

func TestSubmit_InsecureAcceptsUnsigned(t *testing.T) {
	svc, deployer := newService(t, true)
	f := newFixture(t, svc, deployer)

	_, err := svc.Submit(context.Background(), domain.Call{
		Contract: f.product,
		Method:   "fundAccept",
		Caller:   deployer.Address(),
	})
	require.NoError(t, err)
	st, err := svc.Product(f.product)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseFundAccept, st.Status)
}

func TestDispatch_Errors(t *testing.T) {
	svc, deployer := newService(t, false)
	f := newFixture(t, svc, deployer)

	err := f.send(deployer, f.product, "selfDestruct", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.Equal(t, `Unknown method "selfDestruct"`, domain.ReasonOf(err))

	err = f.send(deployer, common.HexToAddress("0x01"), "mint", nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = f.send(deployer, f.product, "updateCoupon", json.RawMessage(`{"coupon":"ten"}`))
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.Contains(t, domain.ReasonOf(err), "Malformed arguments")

	err = f.send(deployer, svc.Info().Registry, "initialize", initializeArgs{TokenFactory: svc.Info().TokenFactory})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	methods := Methods()
	assert.Equal(t, []string{"initialize", "createProduct"}, methods["registry"])
	assert.Contains(t, methods["product"], "redeemOptionPayout")
	assert.Equal(t, []string{"approve", "burn", "mint", "transfer", "transferFrom"}, methods["token"])
}

func TestPersistFailureRevertsCall(t *testing.T) {
	svc, deployer := newService(t, false)
	calls := &memCalls{}
	svc.WithCallStore(calls)
	f := newFixture(t, svc, deployer)
	block := svc.Block()

	calls.fail = assert.AnError
	err := f.send(deployer, f.product, "fundAccept", nil)
	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, block, svc.Block())

	st, err := svc.Product(f.product)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseCreated, st.Status)
}

func TestReplay_RebuildsState(t *testing.T) {
	calls := &memCalls{}
	svc, deployer := newService(t, false)
	svc.WithCallStore(calls)
	f := newFixture(t, svc, deployer)
	f.manage(t, "fundAccept")
	require.NoError(t, f.deposit(f.alice, usdc(250)))
	persisted := calls.count()
	assert.Equal(t, int(svc.Block()), persisted)

	replayed, _ := newService(t, false)
	replayed.WithCallStore(calls)
	bus := memory.NewBus(0)
	NewEventRelay(bus, nil, discard()).Attach(replayed)

	n, err := replayed.Replay(context.Background())
	require.NoError(t, err)
	assert.Equal(t, persisted, n)
	assert.Equal(t, svc.Block(), replayed.Block())
	assert.Equal(t, persisted, calls.count(), "replay must not persist again")

	want, err := svc.UserInfo(f.product, f.alice.Address())
	require.NoError(t, err)
	got, err := replayed.UserInfo(f.product, f.alice.Address())
	require.NoError(t, err)
	assert.Equal(t, want.Info.Principal.String(), got.Info.Principal.String())
	assert.Equal(t, usdc(250), got.Info.Principal)
	assert.Equal(t, svc.Nonce(f.alice.Address()), replayed.Nonce(f.alice.Address()))

	msgs, err := bus.StreamRead(context.Background(), EventsChannel, "0", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs, "replayed events are not relayed")
}

func TestEventRelay(t *testing.T) {
	svc, deployer := newService(t, false)
	bus := memory.NewBus(0)
	notifier := &recordingNotifier{}
	NewEventRelay(bus, notifier, discard()).Attach(svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := bus.Subscribe(ctx, EventsChannel)
	require.NoError(t, err)

	newFixture(t, svc, deployer)

	msgs, err := bus.StreamRead(ctx, EventsChannel, "0", 0)
	require.NoError(t, err)
	require.NotEmpty(t, msgs)
	var first domain.Event
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &first))
	assert.Equal(t, domain.EventInitialized, first.Kind)
	assert.Equal(t, uint64(1), first.Block)

	assert.Len(t, sub, len(msgs))
	assert.Contains(t, notifier.kinds, domain.EventProductCreated)
	assert.Contains(t, notifier.kinds, domain.EventWhitelisted)
}

func TestArchiveService_CapturesMaturity(t *testing.T) {
	svc, deployer := newService(t, false)
	archiver := &fakeArchiver{}
	archive := NewArchiveService(svc, archiver, 4, discard())
	archive.Attach()
	f := newFixture(t, svc, deployer)

	f.manage(t, "fundAccept")
	require.NoError(t, f.deposit(f.alice, usdc(100)))
	f.manage(t, "fundLock", "issuance")
	assert.Zero(t, archive.Pending())
	f.manage(t, "mature")
	matureBlock := svc.Block()
	require.Equal(t, 1, archive.Pending())

	// later blocks must not change the captured statement
	f.manage(t, "fundAccept")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- archive.Run(ctx) }()
	require.Eventually(t, func() bool { return len(archiver.archived()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	st := archiver.archived()[0]
	assert.Equal(t, matureBlock, st.Block)
	assert.Equal(t, domain.PhaseMature, st.Product.Status)
	assert.Equal(t, 1, st.EntryCount)
	assert.Equal(t, f.alice.Address(), st.Entries[0].Investor)

	path, err := archive.ArchiveNow(context.Background(), f.product)
	require.NoError(t, err)
	assert.NotEmpty(t, path)
	assert.Equal(t, domain.PhaseFundAccept, archiver.archived()[1].Product.Status)

	_, err = archive.ArchiveNow(context.Background(), common.HexToAddress("0x02"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
