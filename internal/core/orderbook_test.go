package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papertrade/engine/internal/domain"
)

var nextTestOrderID domain.OrderID

func resting(side domain.Side, price domain.Price, qty domain.Quantity) *domain.Order {
	nextTestOrderID++
	return &domain.Order{
		ID:        nextTestOrderID,
		UserID:    1,
		Symbol:    "AAPL",
		Side:      side,
		Type:      domain.Limit,
		TIF:       domain.GFD,
		Price:     price,
		Quantity:  qty,
		Status:    domain.Pending,
		CreatedAt: time.Now(),
	}
}

func TestOrderBookBestAndDepth(t *testing.T) {
	b := NewOrderBook("AAPL")
	b.Add(resting(domain.Buy, 14900, 10))
	b.Add(resting(domain.Buy, 15000, 20))
	b.Add(resting(domain.Buy, 15000, 5))
	b.Add(resting(domain.Sell, 15100, 7))
	b.Add(resting(domain.Sell, 15200, 3))

	price, qty, ok := b.BestBid()
	require.True(t, ok)
	assert.Equal(t, domain.Price(15000), price)
	assert.Equal(t, domain.Quantity(25), qty)

	price, qty, ok = b.BestAsk()
	require.True(t, ok)
	assert.Equal(t, domain.Price(15100), price)
	assert.Equal(t, domain.Quantity(7), qty)

	bids := b.Depth(domain.Buy, 10)
	require.Len(t, bids, 2)
	assert.Equal(t, domain.Price(15000), bids[0].Price) // descending
	assert.Equal(t, domain.Price(14900), bids[1].Price)

	asks := b.Depth(domain.Sell, 1)
	require.Len(t, asks, 1)
	assert.Equal(t, domain.Price(15100), asks[0].Price) // ascending
}

func TestOrderBookFIFOWithinLevel(t *testing.T) {
	b := NewOrderBook("AAPL")
	first := resting(domain.Sell, 15000, 10)
	second := resting(domain.Sell, 15000, 10)
	b.Add(first)
	b.Add(second)

	front, ok := b.BestAskOrder()
	require.True(t, ok)
	assert.Equal(t, first.ID, front.ID)

	require.True(t, b.Remove(first.ID, domain.Sell))
	front, ok = b.BestAskOrder()
	require.True(t, ok)
	assert.Equal(t, second.ID, front.ID)
}

func TestOrderBookRemoveDropsEmptyLevel(t *testing.T) {
	b := NewOrderBook("AAPL")
	o := resting(domain.Buy, 15000, 10)
	b.Add(o)
	require.True(t, b.Remove(o.ID, domain.Buy))
	_, _, ok := b.BestBid()
	assert.False(t, ok)
	assert.False(t, b.Remove(o.ID, domain.Buy), "second removal is a no-op")
	assert.Zero(t, b.RestingOrders())
}

func TestOrderBookLevelTotalTracksPartialFills(t *testing.T) {
	b := NewOrderBook("AAPL")
	o := resting(domain.Sell, 15000, 10)
	o.Filled = 4 // partially filled before resting
	b.Add(o)
	_, qty, ok := b.BestAsk()
	require.True(t, ok)
	assert.Equal(t, domain.Quantity(6), qty)
}

func TestOrderBookSnapshotAndVolume(t *testing.T) {
	b := NewOrderBook("AAPL")
	b.Add(resting(domain.Buy, 15000, 20))
	b.Add(resting(domain.Sell, 15100, 7))
	b.RecordTrade(15050, 5)
	b.RecordTrade(15060, 3)

	s := b.Snapshot()
	assert.Equal(t, "AAPL", s.Symbol)
	assert.Equal(t, domain.Price(15060), s.LastTradePrice)
	assert.Equal(t, domain.Quantity(3), s.LastTradeQty)
	assert.Equal(t, domain.Quantity(8), s.TotalVolume)
	assert.Equal(t, domain.Price(15000), s.BestBid)
	assert.Equal(t, domain.Price(15100), s.BestAsk)
	assert.False(t, s.At.IsZero())
}

func TestOrderBookStateRestoreRoundTrip(t *testing.T) {
	b := NewOrderBook("AAPL")
	first := resting(domain.Sell, 15000, 10)
	second := resting(domain.Sell, 15000, 10)
	bid := resting(domain.Buy, 14900, 4)
	b.Add(first)
	b.Add(second)
	b.Add(bid)
	b.RecordTrade(15000, 2)

	st := b.State()
	require.Len(t, st.Asks, 1)
	assert.Equal(t, []domain.OrderID{first.ID, second.ID}, st.Asks[0].OrderIDs)
	require.Len(t, st.Orders, 3)

	byID := make(map[domain.OrderID]*domain.Order)
	for _, r := range st.Orders {
		o := r.Order()
		byID[o.ID] = &o
	}
	restored := NewOrderBook("AAPL")
	require.NoError(t, restored.RestoreState(st, func(id domain.OrderID) *domain.Order { return byID[id] }))

	front, ok := restored.BestAskOrder()
	require.True(t, ok)
	assert.Equal(t, first.ID, front.ID, "queue order survives the round trip")
	s := restored.Snapshot()
	assert.Equal(t, domain.Quantity(2), s.TotalVolume)
	assert.Equal(t, domain.Price(14900), s.BestBid)
}

func TestOrderBookRestoreRejectsBadOrders(t *testing.T) {
	cancelled := resting(domain.Sell, 15000, 10)
	cancelled.Status = domain.Cancelled
	st := domain.BookState{
		Symbol: "AAPL",
		Asks:   []domain.LadderLevel{{Price: 15000, OrderIDs: []domain.OrderID{cancelled.ID}}},
	}
	b := NewOrderBook("AAPL")
	err := b.RestoreState(st, func(domain.OrderID) *domain.Order { return cancelled })
	assert.Error(t, err)

	err = b.RestoreState(st, func(domain.OrderID) *domain.Order { return nil })
	assert.Error(t, err, "unknown ids refuse the restore")
}
