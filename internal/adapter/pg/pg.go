package pg

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/papertrade/engine/internal/domain"
)

// TradeStore is the audit sink: trade events drained from the write
// queue land in a single Postgres table. Inserts are idempotent on
// trade id so a replayed queue element never duplicates a row.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore connects a pool; call Close when finished.
func NewTradeStore(ctx context.Context, dsn string) (*TradeStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: ping: %w", err)
	}
	return &TradeStore{pool: pool}, nil
}

func (s *TradeStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema creates the trades table when it is missing. Prices are
// stored in cents, the same fixed-point unit the engine computes in.
func (s *TradeStore) InitSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS trades(
  trade_id      BIGINT PRIMARY KEY,
  symbol        TEXT        NOT NULL,
  price_cents   BIGINT      NOT NULL,
  quantity      BIGINT      NOT NULL,
  buy_order_id  BIGINT      NOT NULL,
  sell_order_id BIGINT      NOT NULL,
  buy_user_id   BIGINT      NOT NULL,
  sell_user_id  BIGINT      NOT NULL,
  executed_at   TIMESTAMPTZ NOT NULL
)
`)
	if err != nil {
		return fmt.Errorf("pg: init schema: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`CREATE INDEX IF NOT EXISTS trades_symbol_executed_at ON trades(symbol, executed_at)`)
	if err != nil {
		return fmt.Errorf("pg: init schema: %w", err)
	}
	return nil
}

// InsertTrade writes one audited trade. Conflicting ids are silently
// skipped.
func (s *TradeStore) InsertTrade(ctx context.Context, t domain.Trade) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO trades(trade_id, symbol, price_cents, quantity, buy_order_id, sell_order_id, buy_user_id, sell_user_id, executed_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (trade_id) DO NOTHING
`, uint64(t.ID), t.Symbol, int64(t.Price), uint64(t.Quantity),
		uint64(t.BuyOrderID), uint64(t.SellOrderID), uint64(t.BuyUserID), uint64(t.SellUserID), t.ExecutedAt)
	if err != nil {
		return fmt.Errorf("pg: insert trade %d: %w", t.ID, err)
	}
	return nil
}
