package redis

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, prefix string) *Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = rdb.Close() })
	return wrap(rdb, prefix)
}

func TestClient_Key(t *testing.T) {
	assert.Equal(t, "shproduct:lock:0xabc", testClient(t, "").Key("lock", "0xabc"))
	assert.Equal(t, "staging:events", testClient(t, "staging").Key("events"))
}

func TestOptions(t *testing.T) {
	opts, err := options(ClientConfig{Addr: "localhost:6379", PoolSize: 8, TLSEnabled: true})
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, 8, opts.PoolSize)
	require.NotNil(t, opts.TLSConfig)

	opts, err = options(ClientConfig{Addr: "rediss://:pw@cache:6380/2"})
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, "pw", opts.Password)
	assert.Equal(t, 2, opts.DB)
	assert.NotNil(t, opts.TLSConfig)

	opts, err = options(ClientConfig{Addr: "redis://cache:6379/1", Password: "override", DB: 3})
	require.NoError(t, err)
	assert.Equal(t, "override", opts.Password)
	assert.Equal(t, 3, opts.DB)
	assert.Nil(t, opts.TLSConfig)

	_, err = options(ClientConfig{Addr: "http://cache:6379"})
	assert.Error(t, err)
}

func TestHasPattern(t *testing.T) {
	tests := []struct {
		channel string
		want    bool
	}{
		{"events", false},
		{"events:*", true},
		{"events:0x?", true},
		{"events:[ab]", true},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, hasPattern(tc.channel), tc.channel)
	}
}

func TestPayloadOf(t *testing.T) {
	b, ok := payloadOf(map[string]any{"payload": "abc"})
	assert.True(t, ok)
	assert.Equal(t, []byte("abc"), b)

	b, ok = payloadOf(map[string]any{"payload": []byte("xyz")})
	assert.True(t, ok)
	assert.Equal(t, []byte("xyz"), b)

	_, ok = payloadOf(map[string]any{"payload": 42})
	assert.False(t, ok)
	_, ok = payloadOf(map[string]any{})
	assert.False(t, ok)
}

func TestNewRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(testClient(t, ""), 0, 0)
	assert.Equal(t, 1, rl.limit)
	assert.Equal(t, time.Second, rl.window)
	assert.Contains(t, slidingWindowLua, "ZREMRANGEBYSCORE")
}

func TestNewSignalBus_DefaultMaxLen(t *testing.T) {
	assert.Equal(t, defaultStreamMaxLen, NewSignalBus(testClient(t, ""), 0).maxLen)
	assert.Equal(t, int64(50), NewSignalBus(testClient(t, ""), 50).maxLen)
}
