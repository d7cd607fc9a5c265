package core

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/papertrade/engine/internal/domain"
)

const ladderDegree = 32

// OrderBook holds the resting limit orders of one symbol in two price
// ladders. Both ladders are btrees whose comparator puts the best level
// first for its side, so Min() is always the top of book and Ascend
// walks in ladder order. One RWMutex guards the book; exported methods
// take it, the *Locked variants assume the caller holds it.
type OrderBook struct {
	symbol string

	mu     sync.RWMutex
	bids   *btree.BTreeG[*priceLevel]
	asks   *btree.BTreeG[*priceLevel]
	orders map[domain.OrderID]*domain.Order

	lastTradePrice domain.Price
	lastTradeQty   domain.Quantity
	totalVolume    domain.Quantity
}

func NewOrderBook(symbol string) *OrderBook {
	return &OrderBook{
		symbol: symbol,
		bids: btree.NewG(ladderDegree, func(a, b *priceLevel) bool {
			return a.price > b.price
		}),
		asks: btree.NewG(ladderDegree, func(a, b *priceLevel) bool {
			return a.price < b.price
		}),
		orders: make(map[domain.OrderID]*domain.Order),
	}
}

func (b *OrderBook) Symbol() string {
	return b.symbol
}

// ladder returns the side's resting ladder.
func (b *OrderBook) ladder(side domain.Side) *btree.BTreeG[*priceLevel] {
	if side == domain.Buy {
		return b.bids
	}
	return b.asks
}

// Add rests an order at the tail of its price level's queue.
func (b *OrderBook) Add(o *domain.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addLocked(o)
}

func (b *OrderBook) addLocked(o *domain.Order) {
	ladder := b.ladder(o.Side)
	lvl, ok := ladder.Get(&priceLevel{price: o.Price})
	if !ok {
		lvl = newPriceLevel(o.Price)
		ladder.ReplaceOrInsert(lvl)
	}
	lvl.add(o)
	b.orders[o.ID] = o
}

// Remove takes a resting order out of its level, dropping the level
// once empty. Returns false when the order is not resting here.
func (b *OrderBook) Remove(id domain.OrderID, side domain.Side) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removeLocked(id, side)
}

func (b *OrderBook) removeLocked(id domain.OrderID, side domain.Side) bool {
	if _, ok := b.orders[id]; !ok {
		return false
	}
	ladder := b.ladder(side)
	o := b.orders[id]
	lvl, ok := ladder.Get(&priceLevel{price: o.Price})
	if !ok {
		return false
	}
	if _, ok := lvl.remove(id); !ok {
		return false
	}
	if lvl.empty() {
		ladder.Delete(lvl)
	}
	delete(b.orders, id)
	return true
}

func (b *OrderBook) bestLevelLocked(side domain.Side) *priceLevel {
	lvl, ok := b.ladder(side).Min()
	if !ok {
		return nil
	}
	return lvl
}

func (b *OrderBook) BestBid() (domain.Price, domain.Quantity, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if lvl := b.bestLevelLocked(domain.Buy); lvl != nil {
		return lvl.price, lvl.total, true
	}
	return 0, 0, false
}

func (b *OrderBook) BestAsk() (domain.Price, domain.Quantity, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if lvl := b.bestLevelLocked(domain.Sell); lvl != nil {
		return lvl.price, lvl.total, true
	}
	return 0, 0, false
}

// BestBidOrder returns a copy of the oldest order at the best bid.
func (b *OrderBook) BestBidOrder() (domain.Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if lvl := b.bestLevelLocked(domain.Buy); lvl != nil {
		return *lvl.front(), true
	}
	return domain.Order{}, false
}

// BestAskOrder returns a copy of the oldest order at the best ask.
func (b *OrderBook) BestAskOrder() (domain.Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if lvl := b.bestLevelLocked(domain.Sell); lvl != nil {
		return *lvl.front(), true
	}
	return domain.Order{}, false
}

// Depth returns up to max aggregated levels in ladder order; max <= 0
// returns every level.
func (b *OrderBook) Depth(side domain.Side, max int) []domain.LevelQuote {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.depthLocked(side, max)
}

func (b *OrderBook) depthLocked(side domain.Side, max int) []domain.LevelQuote {
	var out []domain.LevelQuote
	b.ladder(side).Ascend(func(lvl *priceLevel) bool {
		out = append(out, domain.LevelQuote{Price: lvl.price, Quantity: lvl.total})
		return max <= 0 || len(out) < max
	})
	return out
}

// RecordTrade updates the last-trade fields and cumulative volume.
func (b *OrderBook) RecordTrade(price domain.Price, qty domain.Quantity) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recordTradeLocked(price, qty)
}

func (b *OrderBook) recordTradeLocked(price domain.Price, qty domain.Quantity) {
	b.lastTradePrice = price
	b.lastTradeQty = qty
	b.totalVolume += qty
}

func (b *OrderBook) Snapshot() domain.MarketSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snapshotLocked()
}

func (b *OrderBook) snapshotLocked() domain.MarketSnapshot {
	s := domain.MarketSnapshot{
		Symbol:         b.symbol,
		LastTradePrice: b.lastTradePrice,
		LastTradeQty:   b.lastTradeQty,
		TotalVolume:    b.totalVolume,
		At:             time.Now(),
	}
	if lvl := b.bestLevelLocked(domain.Buy); lvl != nil {
		s.BestBid, s.BidQty = lvl.price, lvl.total
	}
	if lvl := b.bestLevelLocked(domain.Sell); lvl != nil {
		s.BestAsk, s.AskQty = lvl.price, lvl.total
	}
	return s
}

// RestingOrders is the number of orders currently in the book.
func (b *OrderBook) RestingOrders() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.orders)
}

// State serializes the book for a full snapshot: per level, the resting
// order ids in queue order, plus the records of those orders. Both are
// captured under the same lock hold so the pair stays consistent.
func (b *OrderBook) State() domain.BookState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st := domain.BookState{
		Symbol:         b.symbol,
		LastTradePrice: b.lastTradePrice,
		LastTradeQty:   b.lastTradeQty,
		TotalVolume:    b.totalVolume,
	}
	st.Bids, st.Orders = ladderState(b.bids, st.Orders)
	st.Asks, st.Orders = ladderState(b.asks, st.Orders)
	return st
}

func ladderState(t *btree.BTreeG[*priceLevel], records []domain.OrderRecord) ([]domain.LadderLevel, []domain.OrderRecord) {
	var out []domain.LadderLevel
	t.Ascend(func(lvl *priceLevel) bool {
		ids := make([]domain.OrderID, 0, lvl.queue.Len())
		for e := lvl.queue.Front(); e != nil; e = e.Next() {
			o := e.Value.(*domain.Order)
			ids = append(ids, o.ID)
			records = append(records, o.Record())
		}
		out = append(out, domain.LadderLevel{Price: lvl.price, OrderIDs: ids})
		return true
	})
	return out, records
}

// RestoreState rebuilds the ladders from a snapshot, inserting resting
// orders in their recorded queue order. lookup resolves ids to the
// registry's live order pointers so the book and registry keep sharing
// state. Orders that are not restable reject the whole restore.
func (b *OrderBook) RestoreState(st domain.BookState, lookup func(domain.OrderID) *domain.Order) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastTradePrice = st.LastTradePrice
	b.lastTradeQty = st.LastTradeQty
	b.totalVolume = st.TotalVolume
	for _, side := range []struct {
		levels []domain.LadderLevel
		side   domain.Side
	}{{st.Bids, domain.Buy}, {st.Asks, domain.Sell}} {
		for _, lvl := range side.levels {
			for _, id := range lvl.OrderIDs {
				o := lookup(id)
				if o == nil {
					return fmt.Errorf("%w: snapshot references unknown order %d", domain.ErrSystemError, id)
				}
				if err := restable(o, side.side, lvl.Price); err != nil {
					return err
				}
				b.addLocked(o)
			}
		}
	}
	return nil
}

func restable(o *domain.Order, side domain.Side, price domain.Price) error {
	switch {
	case o.Side != side || o.Price != price:
		return fmt.Errorf("%w: order %d does not belong at %s %d", domain.ErrSystemError, o.ID, side, price)
	case o.Type != domain.Limit || o.TIF != domain.GFD:
		return fmt.Errorf("%w: order %d cannot rest (%s %s)", domain.ErrSystemError, o.ID, o.Type, o.TIF)
	case o.Remaining() == 0 || o.Status.Terminal():
		return fmt.Errorf("%w: order %d has nothing open", domain.ErrSystemError, o.ID)
	}
	return nil
}
