package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/papertrade/engine/internal/config"
	"github.com/papertrade/engine/internal/domain"
	"github.com/papertrade/engine/internal/metrics"
	"github.com/papertrade/engine/internal/port"
)

// Engine is the facade that ties the queue workers, matcher, ledger,
// registry and snapshot service together. Matching callbacks publish
// events and persist state; worker goroutines drain the input queue.
type Engine struct {
	cfg   config.Config
	store port.Store
	log   *zap.Logger

	ledger   *Ledger
	registry *Registry
	matcher  *MatchingEngine
	snaps    *SnapshotService

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewEngine(cfg config.Config, store port.Store, log *zap.Logger) *Engine {
	ledger := NewLedger()
	registry := NewRegistry(ledger)
	e := &Engine{
		cfg:      cfg,
		store:    store,
		log:      log,
		ledger:   ledger,
		registry: registry,
		matcher:  NewMatchingEngine(ledger, registry, log),
		snaps:    NewSnapshotService(store, cfg.Queues.DBWrite, log),
	}
	e.matcher.SetTradeCallback(e.onTrade)
	e.matcher.SetOrderUpdateCallback(e.onOrderUpdate)
	e.matcher.SetErrorCallback(e.onError)
	return e
}

// Start pings the store, optionally restores the latest snapshot, and
// launches the worker and snapshot goroutines. The workers stop when
// ctx is cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: engine already running", domain.ErrSystemError)
	}
	if err := e.store.Ping(ctx); err != nil {
		e.running.Store(false)
		return fmt.Errorf("store unreachable: %w", err)
	}
	if e.cfg.Engine.RestoreOnStartup {
		if err := e.restore(ctx); err != nil {
			e.running.Store(false)
			return fmt.Errorf("snapshot restore: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	for i := 0; i < e.cfg.Engine.WorkerThreads; i++ {
		e.wg.Add(1)
		go e.worker(runCtx, i)
	}
	if e.cfg.Engine.EnableSnapshot {
		e.wg.Add(1)
		go e.snapshotLoop(runCtx)
	}
	e.log.Info("engine started",
		zap.Int("workers", e.cfg.Engine.WorkerThreads),
		zap.Bool("snapshots", e.cfg.Engine.EnableSnapshot))
	return nil
}

// Stop shuts the workers down cooperatively, takes a final snapshot and
// closes the store.
func (e *Engine) Stop() {
	if !e.running.CompareAndSwap(true, false) {
		return
	}
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	if e.cfg.Engine.EnableSnapshot {
		e.takeSnapshot(context.Background())
	}
	if err := e.store.Close(); err != nil {
		e.log.Warn("store close failed", zap.Error(err))
	}
	e.log.Info("engine stopped")
}

func (e *Engine) worker(ctx context.Context, id int) {
	defer e.wg.Done()
	log := e.log.With(zap.Int("worker", id))
	log.Info("worker started")
	for e.running.Load() && ctx.Err() == nil {
		payload, err := e.store.PopQueue(ctx, e.cfg.Queues.OrderInput, time.Second)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			metrics.QueuePopErrors.Inc()
			log.Error("input queue pop failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		if payload == nil {
			continue
		}
		e.handleMessage(ctx, payload, log)
	}
	log.Info("worker stopped")
}

// inputMessage is the wire form of queue commands. Price is a decimal
// so "150.25" and 150.25 both parse without float rounding.
type inputMessage struct {
	Action   string          `json:"action"`
	UserID   domain.UserID   `json:"userId"`
	Symbol   string          `json:"symbol"`
	Side     string          `json:"side"`
	Type     string          `json:"type"`
	TIF      string          `json:"timeInForce"`
	Price    decimal.Decimal `json:"price"`
	Quantity domain.Quantity `json:"quantity"`
	OrderID  domain.OrderID  `json:"orderId"`
}

func (e *Engine) handleMessage(ctx context.Context, payload []byte, log *zap.Logger) {
	var msg inputMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Warn("dropping malformed message", zap.ByteString("payload", payload), zap.Error(err))
		e.onError(0, domain.CodeSystemError, "malformed input message")
		return
	}
	switch msg.Action {
	case "place":
		e.placeFromMessage(ctx, msg, log)
	case "cancel":
		if _, err := e.CancelOrder(ctx, msg.OrderID); err != nil {
			log.Warn("cancel rejected", zap.Uint64("orderId", uint64(msg.OrderID)), zap.Error(err))
		}
	default:
		log.Warn("dropping message with unknown action", zap.String("action", msg.Action))
		e.onError(msg.UserID, domain.CodeSystemError, "unknown action "+msg.Action)
	}
}

func (e *Engine) placeFromMessage(ctx context.Context, msg inputMessage, log *zap.Logger) {
	side, typ, tif, err := parseOrderEnums(msg.Side, msg.Type, msg.TIF)
	if err != nil {
		log.Warn("dropping place message", zap.Error(err))
		e.onError(msg.UserID, domain.CodeOf(err), err.Error())
		return
	}
	var price domain.Price
	if typ == domain.Limit {
		price, err = domain.PriceFromDecimal(msg.Price)
		if err != nil {
			e.onError(msg.UserID, domain.CodeOf(err), err.Error())
			return
		}
	}
	if _, _, err := e.SubmitOrder(ctx, msg.UserID, msg.Symbol, side, typ, tif, price, msg.Quantity); err != nil {
		log.Warn("order rejected",
			zap.Uint64("userId", uint64(msg.UserID)),
			zap.String("symbol", msg.Symbol),
			zap.Error(err))
	}
}

// parseOrderEnums validates the wire enums; type defaults to LIMIT and
// tif to GFD, matching the queue contract.
func parseOrderEnums(side, typ, tif string) (domain.Side, domain.OrderType, domain.TimeInForce, error) {
	var s domain.Side
	switch side {
	case string(domain.Buy):
		s = domain.Buy
	case string(domain.Sell):
		s = domain.Sell
	default:
		return "", "", "", fmt.Errorf("%w: unknown side %q", domain.ErrSystemError, side)
	}
	var t domain.OrderType
	switch typ {
	case "", string(domain.Limit):
		t = domain.Limit
	case string(domain.Market):
		t = domain.Market
	default:
		return "", "", "", fmt.Errorf("%w: unknown order type %q", domain.ErrSystemError, typ)
	}
	var f domain.TimeInForce
	switch tif {
	case "", string(domain.GFD):
		f = domain.GFD
	case string(domain.IOC):
		f = domain.IOC
	case string(domain.FOK):
		f = domain.FOK
	default:
		return "", "", "", fmt.Errorf("%w: unknown tif %q", domain.ErrSystemError, tif)
	}
	return s, t, f, nil
}

// SubmitOrder validates, funds and matches one order, returning its
// post-matching state and the trades it executed. Rejections publish an
// error event and are not registered.
func (e *Engine) SubmitOrder(ctx context.Context, user domain.UserID, symbol string, side domain.Side,
	typ domain.OrderType, tif domain.TimeInForce, price domain.Price, qty domain.Quantity) (domain.Order, []domain.Trade, error) {

	start := time.Now()
	order, err := e.registry.Create(user, symbol, side, typ, tif, price, qty)
	if err != nil {
		metrics.OrdersRejected.WithLabelValues(domain.CodeOf(err).String()).Inc()
		e.onError(user, domain.CodeOf(err), err.Error())
		return *order, nil, err
	}
	trades := e.matcher.Process(order)
	metrics.OrdersProcessed.Inc()
	metrics.MatchDuration.Observe(time.Since(start).Seconds())

	final, err := e.registry.Get(order.ID)
	if err != nil {
		return *order, trades, err
	}
	return final, trades, nil
}

// CancelOrder cancels through the matcher so removal is atomic with the
// refund, then reports the update.
func (e *Engine) CancelOrder(ctx context.Context, id domain.OrderID) (domain.Order, error) {
	o, err := e.matcher.Cancel(id)
	if err != nil {
		e.onError(o.UserID, domain.CodeOf(err), err.Error())
		return o, err
	}
	e.onOrderUpdate(o)
	return o, nil
}

// InitializeUserBalance creates or resets a user's funds and persists
// the balance key.
func (e *Engine) InitializeUserBalance(ctx context.Context, user domain.UserID, amount int64) error {
	b := e.ledger.Initialize(user, amount)
	return e.snaps.SaveBalance(ctx, b)
}

func (e *Engine) GetOrder(id domain.OrderID) (domain.Order, error) {
	return e.registry.Get(id)
}

func (e *Engine) GetUserBalance(user domain.UserID) domain.UserBalance {
	return e.ledger.Get(user)
}

func (e *Engine) GetMarketSnapshot(symbol string) domain.MarketSnapshot {
	return e.matcher.BookFor(symbol).Snapshot()
}

func (e *Engine) GetOrderBookDepth(symbol string, side domain.Side, levels int) []domain.LevelQuote {
	return e.matcher.BookFor(symbol).Depth(side, levels)
}

func (e *Engine) UserOrders(user domain.UserID) []domain.Order {
	return e.registry.UserOrders(user)
}

// Matching callbacks run after the book lock is released. They use a
// background context so a shutdown does not drop events for orders that
// already matched.

func (e *Engine) onTrade(t domain.Trade, tick domain.MarketSnapshot) {
	ctx := context.Background()
	metrics.TradesMatched.Inc()
	e.publish(ctx, e.cfg.Channels.Trade, domain.NewTradeEvent(t))
	e.publish(ctx, e.cfg.Channels.MarketData, domain.NewTickEvent(tick))
	_ = e.snaps.SaveTrade(ctx, t)
	_ = e.snaps.SaveMarketSnapshot(ctx, tick)
}

func (e *Engine) onOrderUpdate(o domain.Order) {
	ctx := context.Background()
	e.publish(ctx, e.cfg.Channels.OrderUpdate, domain.NewOrderEvent(o))
	_ = e.snaps.SaveOrder(ctx, o)
}

func (e *Engine) onError(user domain.UserID, code domain.ErrorCode, msg string) {
	e.publish(context.Background(), e.cfg.Channels.Error, domain.NewErrorEvent(user, code, msg))
}

func (e *Engine) publish(ctx context.Context, channel string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		e.log.Error("event marshal failed", zap.String("channel", channel), zap.Error(err))
		return
	}
	if err := e.store.Publish(ctx, channel, b); err != nil {
		e.log.Error("event publish failed", zap.String("channel", channel), zap.Error(err))
	}
}

func (e *Engine) snapshotLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(time.Duration(e.cfg.Engine.SnapshotIntervalSeconds) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.takeSnapshot(ctx)
		}
	}
}

// takeSnapshot persists every book's market view, the balances, and one
// full state snapshot for restore.
func (e *Engine) takeSnapshot(ctx context.Context) {
	for _, book := range e.matcher.Books() {
		_ = e.snaps.SaveMarketSnapshot(ctx, book.Snapshot())
		metrics.RestingOrders.WithLabelValues(book.Symbol()).Set(float64(book.RestingOrders()))
	}
	for _, b := range e.ledger.All() {
		_ = e.snaps.SaveBalance(ctx, b)
	}
	id, err := e.snaps.CreateFullSnapshot(ctx, e.engineState())
	if err != nil {
		e.log.Error("full snapshot failed", zap.Error(err))
		return
	}
	e.log.Info("snapshot taken", zap.String("snapshotId", id))
}

func (e *Engine) engineState() domain.EngineState {
	st := domain.EngineState{LastTradeID: e.matcher.LastTradeID()}
	for _, b := range e.ledger.All() {
		st.Balances = append(st.Balances, domain.BalanceRecord{
			UserID:    b.UserID,
			Available: b.Available,
			Locked:    b.Locked,
		})
	}
	for _, o := range e.registry.AllOrders() {
		st.Orders = append(st.Orders, o.Record())
	}
	for _, book := range e.matcher.Books() {
		st.Books = append(st.Books, book.State())
	}
	return st
}

// restore loads the latest full snapshot. Per-book order records are
// captured atomically with their ladders, so they override the
// registry-wide records for resting orders.
func (e *Engine) restore(ctx context.Context) error {
	state, err := e.snaps.LoadLatestSnapshot(ctx)
	if err != nil {
		return err
	}
	if state == nil {
		e.log.Info("no snapshot to restore")
		return nil
	}
	e.ledger.Restore(state.Balances)

	byID := make(map[domain.OrderID]domain.OrderRecord, len(state.Orders))
	for _, r := range state.Orders {
		byID[r.ID] = r
	}
	for _, bs := range state.Books {
		for _, r := range bs.Orders {
			byID[r.ID] = r
		}
	}
	orders := make([]domain.Order, 0, len(byID))
	for _, r := range byID {
		orders = append(orders, r.Order())
	}
	e.registry.Restore(orders)
	e.matcher.RestoreTradeID(state.LastTradeID)

	for _, bs := range state.Books {
		if err := e.matcher.BookFor(bs.Symbol).RestoreState(bs, e.registry.ref); err != nil {
			return err
		}
	}
	e.log.Info("state restored",
		zap.String("snapshotId", state.ID),
		zap.Int("orders", len(orders)),
		zap.Int("balances", len(state.Balances)),
		zap.Int("books", len(state.Books)))
	return nil
}
