package core

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/papertrade/engine/internal/domain"
	"go.uber.org/zap"
)

// Callbacks carry matching results out to the facade. They are invoked
// only after the book mutex is released, in emission order, so a
// callback may safely call back into the engine.
type (
	TradeCallback       func(domain.Trade, domain.MarketSnapshot)
	OrderUpdateCallback func(domain.Order)
	ErrorCallback       func(domain.UserID, domain.ErrorCode, string)
)

// MatchingEngine crosses incoming orders against per-symbol books under
// price-time priority: best price first, FIFO within a level, trades at
// the resting order's price. The whole match of one order, and every
// cancellation, runs under that symbol's book mutex, which is what
// makes FOK all-or-nothing and keeps per-symbol trade ids causally
// ordered.
type MatchingEngine struct {
	ledger   *Ledger
	registry *Registry
	log      *zap.Logger

	nextTradeID atomic.Uint64

	mu    sync.RWMutex
	books map[string]*OrderBook

	onTrade  TradeCallback
	onUpdate OrderUpdateCallback
	onError  ErrorCallback
}

func NewMatchingEngine(ledger *Ledger, registry *Registry, log *zap.Logger) *MatchingEngine {
	return &MatchingEngine{
		ledger:   ledger,
		registry: registry,
		log:      log,
		books:    make(map[string]*OrderBook),
	}
}

// Callback setters are for wiring at startup, before any order flows.

func (m *MatchingEngine) SetTradeCallback(cb TradeCallback) { m.onTrade = cb }

func (m *MatchingEngine) SetOrderUpdateCallback(cb OrderUpdateCallback) { m.onUpdate = cb }

func (m *MatchingEngine) SetErrorCallback(cb ErrorCallback) { m.onError = cb }

// BookFor returns the symbol's book, creating it on first use.
func (m *MatchingEngine) BookFor(symbol string) *OrderBook {
	m.mu.RLock()
	b, ok := m.books[symbol]
	m.mu.RUnlock()
	if ok {
		return b
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.books[symbol]; ok {
		return b
	}
	b = NewOrderBook(symbol)
	m.books[symbol] = b
	return b
}

// Books returns every book, sorted by symbol for deterministic snapshots.
func (m *MatchingEngine) Books() []*OrderBook {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*OrderBook, 0, len(m.books))
	for _, b := range m.books {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].symbol < out[j].symbol })
	return out
}

// pendingEvent is one callback deferred until the book lock is
// released. Exactly one of trade/update/msg is set.
type pendingEvent struct {
	trade  *domain.Trade
	tick   domain.MarketSnapshot
	update *domain.Order
	user   domain.UserID
	code   domain.ErrorCode
	msg    string
}

func (m *MatchingEngine) deliver(evts []pendingEvent) {
	for _, ev := range evts {
		switch {
		case ev.trade != nil:
			if m.onTrade != nil {
				m.onTrade(*ev.trade, ev.tick)
			}
		case ev.update != nil:
			if m.onUpdate != nil {
				m.onUpdate(*ev.update)
			}
		default:
			if m.onError != nil {
				m.onError(ev.user, ev.code, ev.msg)
			}
		}
	}
}

// Process matches one accepted order and returns the executed trades.
// FOK orders are checked for complete fillability before the first
// trade; market and IOC remainders are cancelled; GFD limit remainders
// rest in the book.
func (m *MatchingEngine) Process(order *domain.Order) []domain.Trade {
	book := m.BookFor(order.Symbol)
	var evts []pendingEvent

	book.mu.Lock()
	if cur, err := m.registry.Get(order.ID); err != nil || cur.Status.Terminal() {
		// cancelled between acceptance and matching
		book.mu.Unlock()
		return nil
	}
	if order.TIF == domain.FOK && !m.canFillLocked(book, order) {
		m.cancelRemainderLocked(order, &evts)
		cp := *order
		evts = append(evts, pendingEvent{update: &cp})
		book.mu.Unlock()
		m.deliver(evts)
		return nil
	}
	trades := m.matchLocked(book, order, &evts)
	m.placeRemainderLocked(book, order, &evts)
	cp := *order
	evts = append(evts, pendingEvent{update: &cp})
	book.mu.Unlock()

	m.deliver(evts)
	return trades
}

// canFillLocked walks the contra ladder in price order, stopping at the
// first level the order's limit cannot cross, and reports whether the
// reachable quantity covers the order.
func (m *MatchingEngine) canFillLocked(book *OrderBook, o *domain.Order) bool {
	need := o.Remaining()
	var have domain.Quantity
	book.ladder(opposite(o.Side)).Ascend(func(lvl *priceLevel) bool {
		if !crosses(o, lvl.price) {
			return false
		}
		have += lvl.total
		return have < need
	})
	return have >= need
}

func (m *MatchingEngine) matchLocked(book *OrderBook, order *domain.Order, evts *[]pendingEvent) []domain.Trade {
	var trades []domain.Trade
	contraSide := opposite(order.Side)

	for order.Remaining() > 0 {
		lvl := book.bestLevelLocked(contraSide)
		if lvl == nil || !crosses(order, lvl.price) {
			break
		}
		contra := lvl.front()
		qty := min(order.Remaining(), contra.Remaining())
		price := contra.Price

		buy, sell := order, contra
		if order.Side == domain.Sell {
			buy, sell = contra, order
		}
		if err := m.settle(buy, sell, price, qty, evts); err != nil {
			m.log.Error("trade settlement aborted",
				zap.Uint64("orderId", uint64(order.ID)),
				zap.Uint64("contraId", uint64(contra.ID)),
				zap.Error(err))
			*evts = append(*evts, pendingEvent{user: order.UserID, code: domain.CodeOf(err), msg: err.Error()})
			break
		}

		trade := domain.Trade{
			ID:          domain.TradeID(m.nextTradeID.Add(1)),
			Symbol:      order.Symbol,
			BuyOrderID:  buy.ID,
			SellOrderID: sell.ID,
			BuyUserID:   buy.UserID,
			SellUserID:  sell.UserID,
			Price:       price,
			Quantity:    qty,
			ExecutedAt:  time.Now(),
		}
		if _, err := m.registry.ApplyFill(order.ID, qty); err != nil {
			m.log.Error("fill bookkeeping failed", zap.Uint64("orderId", uint64(order.ID)), zap.Error(err))
			*evts = append(*evts, pendingEvent{user: order.UserID, code: domain.CodeSystemError, msg: err.Error()})
			break
		}
		contraCopy, err := m.registry.ApplyFill(contra.ID, qty)
		if err != nil {
			m.log.Error("fill bookkeeping failed", zap.Uint64("orderId", uint64(contra.ID)), zap.Error(err))
			*evts = append(*evts, pendingEvent{user: contra.UserID, code: domain.CodeSystemError, msg: err.Error()})
			break
		}
		lvl.reduce(qty)
		if contra.Remaining() == 0 {
			book.removeLocked(contra.ID, contra.Side)
		}
		book.recordTradeLocked(price, qty)

		trades = append(trades, trade)
		tr := trade
		*evts = append(*evts, pendingEvent{trade: &tr, tick: book.snapshotLocked()})
		*evts = append(*evts, pendingEvent{update: &contraCopy})
	}
	return trades
}

// settle moves funds for one fill: the buyer's lock covering the fill
// is released, then the trade value transfers buyer to seller. An
// unfunded transfer (market buys lock nothing) is reported but does not
// undo the fill; a broken lock invariant aborts the match.
func (m *MatchingEngine) settle(buy, sell *domain.Order, price domain.Price, qty domain.Quantity, evts *[]pendingEvent) error {
	value := domain.Notional(price, qty)
	if err := m.ledger.CompleteTrade(buy.UserID, domain.Notional(buy.Price, qty), value); err != nil {
		return err
	}
	if err := m.ledger.Transfer(buy.UserID, sell.UserID, value); err != nil {
		m.log.Warn("trade payment failed",
			zap.Uint64("buyUserId", uint64(buy.UserID)),
			zap.Int64("value", value),
			zap.Error(err))
		*evts = append(*evts, pendingEvent{user: buy.UserID, code: domain.CodeOf(err), msg: err.Error()})
	}
	return nil
}

// placeRemainderLocked decides what happens to whatever the match loop
// left open: GFD limit remainders rest, everything else cancels.
func (m *MatchingEngine) placeRemainderLocked(book *OrderBook, order *domain.Order, evts *[]pendingEvent) {
	if order.Remaining() == 0 {
		return
	}
	if order.Type == domain.Limit && order.TIF == domain.GFD {
		book.addLocked(order)
		return
	}
	m.cancelRemainderLocked(order, evts)
}

// cancelRemainderLocked refunds the unspent lock and, when nothing
// traded, marks the order CANCELLED. A partial fill keeps
// PARTIALLY_FILLED as its final status.
func (m *MatchingEngine) cancelRemainderLocked(order *domain.Order, evts *[]pendingEvent) {
	if order.Side == domain.Buy {
		if err := m.ledger.Unlock(order.UserID, domain.Notional(order.Price, order.Remaining())); err != nil {
			m.log.Error("remainder refund failed", zap.Uint64("orderId", uint64(order.ID)), zap.Error(err))
			*evts = append(*evts, pendingEvent{user: order.UserID, code: domain.CodeOf(err), msg: err.Error()})
		}
	}
	if order.Filled == 0 {
		if _, err := m.registry.UpdateStatus(order.ID, domain.Cancelled); err != nil {
			m.log.Error("status update failed", zap.Uint64("orderId", uint64(order.ID)), zap.Error(err))
		}
	}
}

// Cancel refunds and removes an order, all under its book's mutex, so
// an in-flight match on the same symbol can never trade against a
// cancelled order.
func (m *MatchingEngine) Cancel(id domain.OrderID) (domain.Order, error) {
	cur, err := m.registry.Get(id)
	if err != nil {
		return domain.Order{}, err
	}
	book := m.BookFor(cur.Symbol)
	book.mu.Lock()
	defer book.mu.Unlock()
	o, err := m.registry.Cancel(id)
	if err != nil {
		return o, err
	}
	book.removeLocked(id, o.Side)
	return o, nil
}

// LastTradeID reports the highest trade id issued so far.
func (m *MatchingEngine) LastTradeID() domain.TradeID {
	return domain.TradeID(m.nextTradeID.Load())
}

// RestoreTradeID advances the trade id counter after a snapshot load so
// new trades never collide with persisted ones.
func (m *MatchingEngine) RestoreTradeID(id domain.TradeID) {
	m.nextTradeID.Store(uint64(id))
}

func crosses(o *domain.Order, restingPrice domain.Price) bool {
	if o.Type == domain.Market {
		return true
	}
	if o.Side == domain.Buy {
		return restingPrice <= o.Price
	}
	return restingPrice >= o.Price
}

func opposite(s domain.Side) domain.Side {
	if s == domain.Buy {
		return domain.Sell
	}
	return domain.Buy
}
