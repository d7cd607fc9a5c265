package redisstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/papertrade/engine/internal/port"
)

var _ port.Store = (*Store)(nil)

// Store implements port.Store on a single Redis connection pool. Lists
// back the queues, pub/sub backs the event channels, plain keys back
// the persisted state.
type Store struct {
	client *redis.Client
}

func New(addr, password string, db int) *Store {
	return &Store{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) PushQueue(ctx context.Context, queue string, payload []byte) error {
	return s.client.RPush(ctx, queue, payload).Err()
}

// PopQueue blocks up to timeout on the named list. Redis answers a
// timed-out BLPOP with nil, which maps to the port's (nil, nil).
func (s *Store) PopQueue(ctx context.Context, queue string, timeout time.Duration) ([]byte, error) {
	res, err := s.client.BLPop(ctx, timeout, queue).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// BLPOP returns [key, value]
	if len(res) < 2 {
		return nil, nil
	}
	return []byte(res[1]), nil
}

func (s *Store) Publish(ctx context.Context, channel string, payload []byte) error {
	return s.client.Publish(ctx, channel, payload).Err()
}

// Subscribe confirms the subscription before returning so callers never
// miss messages published after the call succeeds.
func (s *Store) Subscribe(ctx context.Context, channels ...string) (port.Subscription, error) {
	ps := s.client.Subscribe(ctx, channels...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	sub := &subscription{ps: ps, out: make(chan port.Message, 256)}
	go sub.pump()
	return sub, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	return s.client.Set(ctx, key, value, 0).Err()
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return b, err
}

type subscription struct {
	ps  *redis.PubSub
	out chan port.Message
}

func (s *subscription) pump() {
	for m := range s.ps.Channel() {
		s.out <- port.Message{Channel: m.Channel, Payload: []byte(m.Payload)}
	}
	close(s.out)
}

func (s *subscription) Messages() <-chan port.Message {
	return s.out
}

func (s *subscription) Close() error {
	return s.ps.Close()
}
