package port

import (
	"context"
	"time"
)

// Store is the external key-value/queue/pub-sub port. The engine treats
// it as Redis-shaped: blocking list pops for the input queue, list
// pushes for the audit queue, publish/subscribe for event fan-out and
// plain keys for persisted state.
type Store interface {
	Ping(ctx context.Context) error
	Close() error

	// PushQueue appends payload to the named list.
	PushQueue(ctx context.Context, queue string, payload []byte) error
	// PopQueue blocks up to timeout for the next element. An empty
	// queue returns (nil, nil) so callers can poll cooperatively.
	PopQueue(ctx context.Context, queue string, timeout time.Duration) ([]byte, error)

	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)

	Set(ctx context.Context, key string, value []byte) error
	// Get returns (nil, nil) when the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)
}

// Subscription delivers messages from one or more channels until closed.
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

type Message struct {
	Channel string
	Payload []byte
}
