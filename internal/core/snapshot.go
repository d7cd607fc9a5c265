package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/papertrade/engine/internal/domain"
	"github.com/papertrade/engine/internal/port"
	"go.uber.org/zap"
)

// Key layout in the store. The REST gateway reads these keys directly,
// so the prefixes are part of the wire contract.
func orderKey(id domain.OrderID) string { return "order:" + strconv.FormatUint(uint64(id), 10) }

func balanceKey(user domain.UserID) string {
	return "balance:" + strconv.FormatUint(uint64(user), 10)
}

func bookKey(symbol string) string { return "orderbook:" + symbol }

func tradeKey(id domain.TradeID) string { return "trade:" + strconv.FormatUint(uint64(id), 10) }

func snapshotKey(id string) string { return "snapshot:" + id }

const latestSnapshotKey = "snapshot:latest"

// SnapshotService persists engine state as JSON at stable keys and
// feeds the audit queue. Persistence is best effort: failures are
// logged and returned, but matching never stops because a write failed.
type SnapshotService struct {
	store   port.Store
	dbQueue string
	log     *zap.Logger
}

func NewSnapshotService(store port.Store, dbQueue string, log *zap.Logger) *SnapshotService {
	return &SnapshotService{store: store, dbQueue: dbQueue, log: log}
}

func (s *SnapshotService) SaveOrder(ctx context.Context, o domain.Order) error {
	return s.set(ctx, orderKey(o.ID), domain.NewOrderEvent(o))
}

func (s *SnapshotService) SaveBalance(ctx context.Context, b domain.UserBalance) error {
	return s.set(ctx, balanceKey(b.UserID), domain.NewBalanceEvent(b))
}

func (s *SnapshotService) SaveMarketSnapshot(ctx context.Context, snap domain.MarketSnapshot) error {
	return s.set(ctx, bookKey(snap.Symbol), domain.NewTickEvent(snap))
}

// SaveTrade keys the trade and also enqueues the same payload for the
// audit writer.
func (s *SnapshotService) SaveTrade(ctx context.Context, t domain.Trade) error {
	payload, err := json.Marshal(domain.NewTradeEvent(t))
	if err != nil {
		return err
	}
	if err := s.store.Set(ctx, tradeKey(t.ID), payload); err != nil {
		s.log.Error("trade write failed", zap.Uint64("tradeId", uint64(t.ID)), zap.Error(err))
		return err
	}
	if err := s.store.PushQueue(ctx, s.dbQueue, payload); err != nil {
		s.log.Error("audit enqueue failed", zap.Uint64("tradeId", uint64(t.ID)), zap.Error(err))
		return err
	}
	return nil
}

func (s *SnapshotService) set(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := s.store.Set(ctx, key, b); err != nil {
		s.log.Error("state write failed", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

// CreateFullSnapshot writes the complete engine state under a
// timestamped id and repoints snapshot:latest at it.
func (s *SnapshotService) CreateFullSnapshot(ctx context.Context, state domain.EngineState) (string, error) {
	if state.ID == "" {
		state.ID = fmt.Sprintf("snapshot_%d", time.Now().Unix())
	}
	state.Timestamp = time.Now().UnixMilli()
	b, err := json.Marshal(state)
	if err != nil {
		return "", err
	}
	if err := s.store.Set(ctx, snapshotKey(state.ID), b); err != nil {
		s.log.Error("full snapshot write failed", zap.String("snapshotId", state.ID), zap.Error(err))
		return "", err
	}
	if err := s.store.Set(ctx, latestSnapshotKey, []byte(state.ID)); err != nil {
		return "", err
	}
	return state.ID, nil
}

// LoadSnapshot reads one full snapshot by id.
func (s *SnapshotService) LoadSnapshot(ctx context.Context, id string) (*domain.EngineState, error) {
	b, err := s.store.Get(ctx, snapshotKey(id))
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("%w: snapshot %s missing", domain.ErrSystemError, id)
	}
	var state domain.EngineState
	if err := json.Unmarshal(b, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// LoadLatestSnapshot follows snapshot:latest; (nil, nil) when no full
// snapshot has been taken yet.
func (s *SnapshotService) LoadLatestSnapshot(ctx context.Context) (*domain.EngineState, error) {
	id, err := s.store.Get(ctx, latestSnapshotKey)
	if err != nil {
		return nil, err
	}
	if id == nil {
		return nil, nil
	}
	return s.LoadSnapshot(ctx, string(id))
}
