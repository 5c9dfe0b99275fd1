package domain

import (
	"context"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// RateLimiter counts requests per key in a sliding window. Allow takes the
// limit per call (HTTP buckets); Wait blocks under the limiter's own default
// (notification channels).
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager serialises calls against one contract across service
// instances sharing the same call log. The lease expires after ttl so a
// crashed holder can not wedge a product.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// ContractLockKey is the LockManager key guarding contract.
func ContractLockKey(contract common.Address) string {
	return "contract:" + strings.ToLower(contract.Hex())
}

// StreamMessage is one entry of the committed-event stream. ID orders the
// stream and is the resume point handed back by clients.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus carries committed events to subscribers. Publish is fire and
// forget; the stream keeps a bounded, replayable tail of the same payloads.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
