package chain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/shproduct/internal/domain"
)

// counter is a minimal journaled state.
type counter struct{ n int }

func (c *counter) Snapshot() func() {
	n := c.n
	return func() { c.n = n }
}

var (
	caller   = common.HexToAddress("0x0000000000000000000000000000000000000101")
	contract = common.HexToAddress("0x0000000000000000000000000000000000000202")
	fixedNow = time.Date(2024, 5, 6, 7, 8, 9, 500, time.UTC)
)

func newTestRuntime() *Runtime {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithClock(func() time.Time { return fixedNow }))
}

func TestExecute_Commit(t *testing.T) {
	rt := newTestRuntime()
	c := &counter{}
	rt.Register(c)

	var observed *Receipt
	rt.Observe(func(_ context.Context, r *Receipt) { observed = r })

	r, err := rt.Execute(context.Background(), domain.Call{Caller: caller, Method: "inc"}, func(tx *Tx) error {
		assert.Equal(t, caller, tx.Caller())
		assert.Equal(t, caller, tx.Origin())
		assert.Equal(t, uint64(1), tx.Block())
		c.n++
		tx.Emit(contract, domain.EventDeposit, map[string]any{"amount": "1"})
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 1, c.n)
	assert.Equal(t, uint64(1), rt.Block())
	assert.Equal(t, uint64(1), r.Block)
	assert.Equal(t, fixedNow.Truncate(time.Second), r.Time)
	require.Len(t, r.Events, 1)
	assert.Equal(t, domain.EventDeposit.Topic(), r.Events[0].Topic)
	assert.Same(t, r, observed)
	assert.Len(t, rt.Logs(domain.EventFilter{}), 1)
}

func TestExecute_ErrorRestores(t *testing.T) {
	rt := newTestRuntime()
	c := &counter{n: 3}
	rt.Register(c)
	called := false
	rt.Observe(func(context.Context, *Receipt) { called = true })

	boom := errors.New("boom")
	_, err := rt.Execute(context.Background(), domain.Call{Caller: caller}, func(tx *Tx) error {
		c.n = 99
		tx.Emit(contract, domain.EventDeposit, nil)
		return boom
	})
	require.ErrorIs(t, err, boom)

	assert.Equal(t, 3, c.n)
	assert.Equal(t, uint64(0), rt.Block())
	assert.Empty(t, rt.Logs(domain.EventFilter{}))
	assert.False(t, called)
}

func TestExecute_PanicRestores(t *testing.T) {
	rt := newTestRuntime()
	c := &counter{}
	rt.Register(c)

	_, err := rt.Execute(context.Background(), domain.Call{Caller: caller}, func(tx *Tx) error {
		c.n = 7
		panic("kaboom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
	assert.Equal(t, 0, c.n)
}

func TestExecute_HookFailureReverts(t *testing.T) {
	rt := newTestRuntime()
	c := &counter{}
	rt.Register(c)
	rt.OnCommit(func(context.Context, *Receipt) error { return errors.New("disk full") })

	_, err := rt.Execute(context.Background(), domain.Call{Caller: caller}, func(tx *Tx) error {
		c.n++
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commit hook")
	assert.Equal(t, 0, c.n)
	assert.Equal(t, uint64(0), rt.Block())
}

func TestExecute_BlockOrder(t *testing.T) {
	rt := newTestRuntime()
	noop := func(*Tx) error { return nil }

	_, err := rt.Execute(context.Background(), domain.Call{Block: 2}, noop)
	require.Error(t, err)

	_, err = rt.Execute(context.Background(), domain.Call{Block: 1}, noop)
	require.NoError(t, err)

	stamp := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	r, err := rt.Execute(context.Background(), domain.Call{Block: 2, Timestamp: stamp}, noop)
	require.NoError(t, err)
	assert.Equal(t, stamp, r.Time)
}

func TestTx_AsAndRegister(t *testing.T) {
	rt := newTestRuntime()
	created := &counter{}

	_, err := rt.Execute(context.Background(), domain.Call{Caller: caller}, func(tx *Tx) error {
		nested := tx.As(contract)
		assert.Equal(t, contract, nested.Caller())
		assert.Equal(t, caller, nested.Origin())
		nested.Emit(contract, domain.EventTransfer, nil)
		tx.Emit(contract, domain.EventDeposit, nil)
		assert.Len(t, tx.Events(), 2)
		tx.Register(created)
		return nil
	})
	require.NoError(t, err)

	// The registered state is journaled from now on.
	_, err = rt.Execute(context.Background(), domain.Call{Caller: caller}, func(tx *Tx) error {
		created.n = 42
		return errors.New("nope")
	})
	require.Error(t, err)
	assert.Equal(t, 0, created.n)

	events := rt.Logs(domain.EventFilter{})
	require.Len(t, events, 2)
	assert.Equal(t, contract, events[0].Caller)
	assert.Equal(t, 0, events[0].Index)
	assert.Equal(t, 1, events[1].Index)
	assert.NotEqual(t, events[0].ID, events[1].ID)
}

func TestEventIDsAreDeterministic(t *testing.T) {
	run := func() []domain.Event {
		rt := newTestRuntime()
		for i := 0; i < 3; i++ {
			_, err := rt.Execute(context.Background(), domain.Call{Caller: caller}, func(tx *Tx) error {
				tx.Emit(contract, domain.EventCoupon, nil)
				return nil
			})
			require.NoError(t, err)
		}
		return rt.Logs(domain.EventFilter{})
	}
	a, b := run(), run()
	require.Len(t, a, 3)
	for i := range a {
		assert.Equal(t, a[i].ID, b[i].ID)
	}
}

func TestLogs_Filter(t *testing.T) {
	rt := newTestRuntime()
	other := common.HexToAddress("0x0000000000000000000000000000000000000303")
	for i := 0; i < 4; i++ {
		addr := contract
		if i%2 == 1 {
			addr = other
		}
		_, err := rt.Execute(context.Background(), domain.Call{Caller: caller}, func(tx *Tx) error {
			tx.Emit(addr, domain.EventDeposit, nil)
			return nil
		})
		require.NoError(t, err)
	}

	assert.Len(t, rt.Logs(domain.EventFilter{Contract: &contract}), 2)
	assert.Len(t, rt.Logs(domain.EventFilter{FromBlock: 3}), 2)
	assert.Len(t, rt.Logs(domain.EventFilter{Kind: domain.EventCoupon}), 0)

	page := rt.Logs(domain.EventFilter{Offset: 1, Limit: 2})
	require.Len(t, page, 2)
	assert.Equal(t, uint64(2), page[0].Block)
	assert.Equal(t, uint64(3), page[1].Block)
}
