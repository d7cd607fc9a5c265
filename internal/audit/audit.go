package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/papertrade/engine/internal/domain"
	"github.com/papertrade/engine/internal/metrics"
	"github.com/papertrade/engine/internal/port"
)

// TradeSink persists audited trades; the pg adapter is the production
// implementation.
type TradeSink interface {
	InsertTrade(ctx context.Context, t domain.Trade) error
}

// Worker drains the db_write_queue into the trade sink. Payloads that
// do not decode as trade events are logged and dropped, so one poison
// message never wedges the queue.
type Worker struct {
	store port.Store
	sink  TradeSink
	queue string
	log   *zap.Logger
}

func NewWorker(store port.Store, sink TradeSink, queue string, log *zap.Logger) *Worker {
	return &Worker{store: store, sink: sink, queue: queue, log: log}
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info("audit worker started", zap.String("queue", w.queue))
	for ctx.Err() == nil {
		payload, err := w.store.PopQueue(ctx, w.queue, time.Second)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			w.log.Error("audit queue pop failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		if payload == nil {
			continue
		}
		w.handle(ctx, payload)
	}
	w.log.Info("audit worker stopped")
}

func (w *Worker) handle(ctx context.Context, payload []byte) {
	t, err := decodeTrade(payload)
	if err != nil {
		metrics.AuditDecodeFailures.Inc()
		w.log.Warn("dropping undecodable audit payload", zap.ByteString("payload", payload), zap.Error(err))
		return
	}
	if err := w.sink.InsertTrade(ctx, t); err != nil {
		// Requeue so a transient database outage loses nothing.
		w.log.Error("trade insert failed, requeueing", zap.Uint64("tradeId", uint64(t.ID)), zap.Error(err))
		if err := w.store.PushQueue(ctx, w.queue, payload); err != nil {
			w.log.Error("requeue failed, trade lost", zap.Uint64("tradeId", uint64(t.ID)), zap.Error(err))
		}
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
		}
		return
	}
	metrics.AuditRowsWritten.Inc()
}

// decodeTrade turns a published trade event back into the engine's
// fixed-point trade record.
func decodeTrade(payload []byte) (domain.Trade, error) {
	var ev domain.TradeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return domain.Trade{}, err
	}
	if ev.Type != "trade" {
		return domain.Trade{}, fmt.Errorf("unexpected event type %q", ev.Type)
	}
	if ev.TradeID == 0 || ev.Quantity == 0 {
		return domain.Trade{}, fmt.Errorf("trade event missing id or quantity")
	}
	return domain.Trade{
		ID:          ev.TradeID,
		Symbol:      ev.Symbol,
		BuyOrderID:  ev.BuyOrderID,
		SellOrderID: ev.SellOrderID,
		BuyUserID:   ev.BuyUserID,
		SellUserID:  ev.SellUserID,
		Price:       domain.PriceFromFloat(ev.Price),
		Quantity:    ev.Quantity,
		ExecutedAt:  time.UnixMilli(ev.Timestamp),
	}, nil
}
