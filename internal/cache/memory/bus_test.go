package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishSubscribe(t *testing.T) {
	b := NewBus(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exact, err := b.Subscribe(ctx, "events")
	require.NoError(t, err)
	pattern, err := b.Subscribe(ctx, "events:*")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "events", []byte("a")))
	require.NoError(t, b.Publish(ctx, "events:product", []byte("b")))

	select {
	case got := <-exact:
		assert.Equal(t, "a", string(got))
	case <-time.After(time.Second):
		t.Fatal("no message on exact channel")
	}
	select {
	case got := <-pattern:
		assert.Equal(t, "b", string(got))
	case <-time.After(time.Second):
		t.Fatal("no message on pattern channel")
	}
	assert.Empty(t, exact)
}

func TestBus_SubscriptionClosesWithContext(t *testing.T) {
	b := NewBus(0)
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := b.Subscribe(ctx, "events")
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}
}

func TestBus_Streams(t *testing.T) {
	b := NewBus(3)
	ctx := context.Background()
	for _, p := range []string{"1", "2", "3", "4"} {
		require.NoError(t, b.StreamAppend(ctx, "events", []byte(p)))
	}

	all, err := b.StreamRead(ctx, "events", "0", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "2", string(all[0].Payload))
	assert.Equal(t, "2-0", all[0].ID)

	rest, err := b.StreamRead(ctx, "events", all[0].ID, 1)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "3", string(rest[0].Payload))

	none, err := b.StreamRead(ctx, "other", "", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}
