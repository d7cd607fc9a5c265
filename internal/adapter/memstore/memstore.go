package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/papertrade/engine/internal/port"
)

var _ port.Store = (*Store)(nil)

// Store is the in-memory port.Store used by tests and the dev mode.
// It keeps a history of everything published so tests can assert on
// event flow without a live broker.
type Store struct {
	mu        sync.Mutex
	queues    map[string][][]byte
	keys      map[string][]byte
	published map[string][][]byte
	subs      map[*subscription]struct{}
}

func New() *Store {
	return &Store{
		queues:    make(map[string][][]byte),
		keys:      make(map[string][]byte),
		published: make(map[string][][]byte),
		subs:      make(map[*subscription]struct{}),
	}
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		sub.closeLocked()
	}
	s.subs = make(map[*subscription]struct{})
	return nil
}

func (s *Store) PushQueue(ctx context.Context, queue string, payload []byte) error {
	cp := append([]byte(nil), payload...)
	s.mu.Lock()
	s.queues[queue] = append(s.queues[queue], cp)
	s.mu.Unlock()
	return nil
}

// PopQueue polls until an element arrives or the timeout elapses,
// mirroring a blocking list pop.
func (s *Store) PopQueue(ctx context.Context, queue string, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		s.mu.Lock()
		if q := s.queues[queue]; len(q) > 0 {
			payload := q[0]
			s.queues[queue] = q[1:]
			s.mu.Unlock()
			return payload, nil
		}
		s.mu.Unlock()
		if !time.Now().Before(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func (s *Store) Publish(ctx context.Context, channel string, payload []byte) error {
	cp := append([]byte(nil), payload...)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published[channel] = append(s.published[channel], cp)
	for sub := range s.subs {
		sub.deliver(channel, cp)
	}
	return nil
}

func (s *Store) Subscribe(ctx context.Context, channels ...string) (port.Subscription, error) {
	sub := &subscription{
		store:    s,
		channels: make(map[string]bool, len(channels)),
		out:      make(chan port.Message, 256),
	}
	for _, ch := range channels {
		sub.channels[ch] = true
	}
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()
	return sub, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	cp := append([]byte(nil), value...)
	s.mu.Lock()
	s.keys[key] = cp
	s.mu.Unlock()
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.keys[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

// Test accessors.

// QueueLen reports how many elements sit in the named queue.
func (s *Store) QueueLen(queue string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues[queue])
}

// Published returns every payload published to channel, in order.
func (s *Store) Published(channel string) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.published[channel]))
	copy(out, s.published[channel])
	return out
}

type subscription struct {
	store    *Store
	channels map[string]bool
	out      chan port.Message
	closed   bool
}

// deliver runs under the store mutex. Slow subscribers drop messages
// rather than block publishers.
func (s *subscription) deliver(channel string, payload []byte) {
	if s.closed || !s.channels[channel] {
		return
	}
	select {
	case s.out <- port.Message{Channel: channel, Payload: payload}:
	default:
	}
}

func (s *subscription) Messages() <-chan port.Message {
	return s.out
}

func (s *subscription) Close() error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	delete(s.store.subs, s)
	s.closeLocked()
	return nil
}

func (s *subscription) closeLocked() {
	if !s.closed {
		s.closed = true
		close(s.out)
	}
}
