package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/papertrade/engine/internal/adapter/memstore"
	"github.com/papertrade/engine/internal/domain"
)

type fakeSink struct {
	mu      sync.Mutex
	rows    []domain.Trade
	failFor int
}

func (s *fakeSink) InsertTrade(_ context.Context, t domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFor > 0 {
		s.failFor--
		return errors.New("database down")
	}
	s.rows = append(s.rows, t)
	return nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func tradePayload(t *testing.T, id domain.TradeID) []byte {
	t.Helper()
	ev := domain.NewTradeEvent(domain.Trade{
		ID: id, Symbol: "AAPL", BuyOrderID: 2, SellOrderID: 1,
		BuyUserID: 2, SellUserID: 1, Price: 15025, Quantity: 10,
		ExecutedAt: time.Now(),
	})
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	return b
}

func TestWorkerWritesTrades(t *testing.T) {
	store := memstore.New()
	sink := &fakeSink{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, store.PushQueue(ctx, "db_write_queue", tradePayload(t, 1)))
	require.NoError(t, store.PushQueue(ctx, "db_write_queue", tradePayload(t, 2)))

	done := make(chan struct{})
	go func() {
		NewWorker(store, sink, "db_write_queue", zap.NewNop()).Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return sink.count() == 2 }, 3*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, domain.TradeID(1), sink.rows[0].ID)
	assert.Equal(t, domain.Price(15025), sink.rows[0].Price, "event price converts back to cents")
	assert.Equal(t, domain.Quantity(10), sink.rows[0].Quantity)
}

func TestWorkerDropsPoisonMessages(t *testing.T) {
	store := memstore.New()
	sink := &fakeSink{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, store.PushQueue(ctx, "db_write_queue", []byte(`{broken`)))
	require.NoError(t, store.PushQueue(ctx, "db_write_queue", []byte(`{"type":"tick"}`)))
	require.NoError(t, store.PushQueue(ctx, "db_write_queue", tradePayload(t, 3)))

	go NewWorker(store, sink, "db_write_queue", zap.NewNop()).Run(ctx)

	require.Eventually(t, func() bool { return sink.count() == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Zero(t, store.QueueLen("db_write_queue"), "poison messages are dropped, not requeued")
}

func TestWorkerRequeuesOnSinkFailure(t *testing.T) {
	store := memstore.New()
	sink := &fakeSink{failFor: 1}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, store.PushQueue(ctx, "db_write_queue", tradePayload(t, 4)))
	go NewWorker(store, sink, "db_write_queue", zap.NewNop()).Run(ctx)

	require.Eventually(t, func() bool { return sink.count() == 1 }, 5*time.Second, 10*time.Millisecond,
		"trade survives one sink failure via requeue")
}

func TestDecodeTradeValidation(t *testing.T) {
	_, err := decodeTrade([]byte(`{"type":"trade","tradeId":0,"quantity":5}`))
	assert.Error(t, err)
	_, err = decodeTrade([]byte(`{"type":"trade","tradeId":1,"quantity":0}`))
	assert.Error(t, err)
	_, err = decodeTrade([]byte(`{"type":"order_update"}`))
	assert.Error(t, err)
}
