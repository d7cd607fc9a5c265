package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/papertrade/engine/internal/domain"
)

type matchFixture struct {
	ledger  *Ledger
	reg     *Registry
	matcher *MatchingEngine

	trades  []domain.Trade
	ticks   []domain.MarketSnapshot
	updates []domain.Order
	errors  []domain.ErrorCode
}

func newMatchFixture(t *testing.T) *matchFixture {
	t.Helper()
	f := &matchFixture{ledger: NewLedger()}
	for u := domain.UserID(1); u <= 5; u++ {
		f.ledger.Initialize(u, 10_000_000)
	}
	f.reg = NewRegistry(f.ledger)
	f.matcher = NewMatchingEngine(f.ledger, f.reg, zap.NewNop())
	f.matcher.SetTradeCallback(func(tr domain.Trade, tick domain.MarketSnapshot) {
		f.trades = append(f.trades, tr)
		f.ticks = append(f.ticks, tick)
	})
	f.matcher.SetOrderUpdateCallback(func(o domain.Order) { f.updates = append(f.updates, o) })
	f.matcher.SetErrorCallback(func(_ domain.UserID, code domain.ErrorCode, _ string) {
		f.errors = append(f.errors, code)
	})
	return f
}

func (f *matchFixture) place(t *testing.T, user domain.UserID, side domain.Side, typ domain.OrderType,
	tif domain.TimeInForce, price domain.Price, qty domain.Quantity) (*domain.Order, []domain.Trade) {
	t.Helper()
	o, err := f.reg.Create(user, "AAPL", side, typ, tif, price, qty)
	require.NoError(t, err)
	return o, f.matcher.Process(o)
}

func (f *matchFixture) status(t *testing.T, id domain.OrderID) domain.OrderStatus {
	t.Helper()
	o, err := f.reg.Get(id)
	require.NoError(t, err)
	return o.Status
}

func TestMatchExactQuantities(t *testing.T) {
	f := newMatchFixture(t)
	buy, trades := f.place(t, 1, domain.Buy, domain.Limit, domain.GFD, 15000, 10)
	assert.Empty(t, trades)

	sell, trades := f.place(t, 2, domain.Sell, domain.Limit, domain.GFD, 15000, 10)
	require.Len(t, trades, 1)
	tr := trades[0]
	assert.Equal(t, domain.Price(15000), tr.Price)
	assert.Equal(t, domain.Quantity(10), tr.Quantity)
	assert.Equal(t, buy.ID, tr.BuyOrderID)
	assert.Equal(t, sell.ID, tr.SellOrderID)

	assert.Equal(t, domain.Filled, f.status(t, buy.ID))
	assert.Equal(t, domain.Filled, f.status(t, sell.ID))
	assert.Zero(t, f.matcher.BookFor("AAPL").RestingOrders(), "both removed from the book")

	b1, b2 := f.ledger.Get(1), f.ledger.Get(2)
	assert.Equal(t, int64(9_850_000), b1.Available)
	assert.Zero(t, b1.Locked)
	assert.Equal(t, int64(10_150_000), b2.Available)
}

func TestMatchPartialFillRests(t *testing.T) {
	f := newMatchFixture(t)
	buy, _ := f.place(t, 1, domain.Buy, domain.Limit, domain.GFD, 15000, 100)
	sell, trades := f.place(t, 2, domain.Sell, domain.Limit, domain.GFD, 15000, 50)

	require.Len(t, trades, 1)
	assert.Equal(t, domain.Quantity(50), trades[0].Quantity)
	assert.Equal(t, domain.PartiallyFilled, f.status(t, buy.ID))
	assert.Equal(t, domain.Filled, f.status(t, sell.ID))

	price, qty, ok := f.matcher.BookFor("AAPL").BestBid()
	require.True(t, ok)
	assert.Equal(t, domain.Price(15000), price)
	assert.Equal(t, domain.Quantity(50), qty)
}

// The maker sets the price: a buy willing to pay 151 lifting a 150 ask
// trades at 150, and the cent-per-share difference returns to the buyer.
func TestMatchPriceImprovement(t *testing.T) {
	f := newMatchFixture(t)
	f.place(t, 2, domain.Sell, domain.Limit, domain.GFD, 15000, 10)
	buy, trades := f.place(t, 1, domain.Buy, domain.Limit, domain.GFD, 15100, 10)

	require.Len(t, trades, 1)
	assert.Equal(t, domain.Price(15000), trades[0].Price)
	assert.Equal(t, domain.Filled, f.status(t, buy.ID))

	b := f.ledger.Get(1)
	assert.Equal(t, int64(10_000_000-150_000), b.Available)
	assert.Zero(t, b.Locked)
}

func TestMatchPriceGuardHolds(t *testing.T) {
	f := newMatchFixture(t)
	f.place(t, 2, domain.Sell, domain.Limit, domain.GFD, 15100, 10)
	buy, trades := f.place(t, 1, domain.Buy, domain.Limit, domain.GFD, 15000, 10)
	assert.Empty(t, trades, "ask above limit does not cross")
	assert.Equal(t, domain.Pending, f.status(t, buy.ID))
	assert.Equal(t, 2, f.matcher.BookFor("AAPL").RestingOrders())
}

func TestMarketOrderWalksLevels(t *testing.T) {
	f := newMatchFixture(t)
	f.place(t, 2, domain.Sell, domain.Limit, domain.GFD, 15000, 30)
	f.place(t, 3, domain.Sell, domain.Limit, domain.GFD, 15100, 40)
	f.place(t, 4, domain.Sell, domain.Limit, domain.GFD, 15200, 50)

	buy, trades := f.place(t, 1, domain.Buy, domain.Market, domain.GFD, 0, 50)
	require.Len(t, trades, 2)
	assert.Equal(t, domain.Price(15000), trades[0].Price)
	assert.Equal(t, domain.Quantity(30), trades[0].Quantity)
	assert.Equal(t, domain.Price(15100), trades[1].Price)
	assert.Equal(t, domain.Quantity(20), trades[1].Quantity)
	assert.Equal(t, domain.Filled, f.status(t, buy.ID))

	price, qty, ok := f.matcher.BookFor("AAPL").BestAsk()
	require.True(t, ok)
	assert.Equal(t, domain.Price(15100), price)
	assert.Equal(t, domain.Quantity(20), qty)
}

func TestMarketOrderEmptyBook(t *testing.T) {
	f := newMatchFixture(t)
	o, trades := f.place(t, 1, domain.Buy, domain.Market, domain.GFD, 0, 50)
	assert.Empty(t, trades)
	assert.Equal(t, domain.Cancelled, f.status(t, o.ID))
	assert.Zero(t, f.matcher.BookFor("AAPL").RestingOrders(), "market orders never rest")
}

func TestIOCPartialFillCancelsRemainder(t *testing.T) {
	f := newMatchFixture(t)
	f.place(t, 2, domain.Sell, domain.Limit, domain.GFD, 15000, 30)

	buy, trades := f.place(t, 1, domain.Buy, domain.Limit, domain.IOC, 15000, 100)
	require.Len(t, trades, 1)
	assert.Equal(t, domain.Quantity(30), trades[0].Quantity)
	assert.Equal(t, domain.PartiallyFilled, f.status(t, buy.ID))
	assert.Zero(t, f.matcher.BookFor("AAPL").RestingOrders())

	b := f.ledger.Get(1)
	assert.Zero(t, b.Locked, "the 70-share remainder lock is refunded")
	assert.Equal(t, int64(10_000_000-30*15000), b.Available)
}

func TestIOCNoFillCancels(t *testing.T) {
	f := newMatchFixture(t)
	o, trades := f.place(t, 1, domain.Buy, domain.Limit, domain.IOC, 15000, 10)
	assert.Empty(t, trades)
	assert.Equal(t, domain.Cancelled, f.status(t, o.ID))
	assert.Zero(t, f.ledger.Get(1).Locked)
}

func TestFOKInsufficientLiquidity(t *testing.T) {
	f := newMatchFixture(t)
	sell, _ := f.place(t, 2, domain.Sell, domain.Limit, domain.GFD, 15000, 30)

	buy, trades := f.place(t, 1, domain.Buy, domain.Limit, domain.FOK, 15000, 100)
	assert.Empty(t, trades)
	assert.Equal(t, domain.Cancelled, f.status(t, buy.ID))
	assert.Equal(t, domain.Pending, f.status(t, sell.ID), "resting order undisturbed")
	_, qty, ok := f.matcher.BookFor("AAPL").BestAsk()
	require.True(t, ok)
	assert.Equal(t, domain.Quantity(30), qty)

	b := f.ledger.Get(1)
	assert.Zero(t, b.Locked)
	assert.Equal(t, int64(10_000_000), b.Available, "full lock released")
}

func TestFOKFillsAcrossLevels(t *testing.T) {
	f := newMatchFixture(t)
	f.place(t, 2, domain.Sell, domain.Limit, domain.GFD, 15000, 30)
	f.place(t, 3, domain.Sell, domain.Limit, domain.GFD, 15100, 40)

	buy, trades := f.place(t, 1, domain.Buy, domain.Limit, domain.FOK, 15100, 60)
	require.Len(t, trades, 2)
	assert.Equal(t, domain.Filled, f.status(t, buy.ID))
}

// FOK must not count levels its limit cannot reach toward fillability.
func TestFOKPriceGuardInPrecheck(t *testing.T) {
	f := newMatchFixture(t)
	f.place(t, 2, domain.Sell, domain.Limit, domain.GFD, 15000, 30)
	f.place(t, 3, domain.Sell, domain.Limit, domain.GFD, 15200, 100)

	buy, trades := f.place(t, 1, domain.Buy, domain.Limit, domain.FOK, 15100, 60)
	assert.Empty(t, trades)
	assert.Equal(t, domain.Cancelled, f.status(t, buy.ID))
}

func TestPriceTimePriorityWithinLevel(t *testing.T) {
	f := newMatchFixture(t)
	first, _ := f.place(t, 2, domain.Sell, domain.Limit, domain.GFD, 15000, 10)
	second, _ := f.place(t, 3, domain.Sell, domain.Limit, domain.GFD, 15000, 10)

	_, trades := f.place(t, 1, domain.Buy, domain.Limit, domain.GFD, 15000, 10)
	require.Len(t, trades, 1)
	assert.Equal(t, first.ID, trades[0].SellOrderID, "earlier arrival matches first")
	assert.Equal(t, domain.Pending, f.status(t, second.ID))
}

func TestSelfTradePermitted(t *testing.T) {
	f := newMatchFixture(t)
	f.place(t, 1, domain.Sell, domain.Limit, domain.GFD, 15000, 10)
	_, trades := f.place(t, 1, domain.Buy, domain.Limit, domain.GFD, 15000, 10)
	require.Len(t, trades, 1)
	b := f.ledger.Get(1)
	assert.Equal(t, int64(10_000_000), b.Total(), "self trade nets to zero")
}

func TestCancelRemovesFromBook(t *testing.T) {
	f := newMatchFixture(t)
	o, _ := f.place(t, 1, domain.Buy, domain.Limit, domain.GFD, 15000, 10)

	got, err := f.matcher.Cancel(o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Cancelled, got.Status)
	assert.Zero(t, f.matcher.BookFor("AAPL").RestingOrders())
	assert.Zero(t, f.ledger.Get(1).Locked)

	// a later sell finds no bid to hit
	sell, trades := f.place(t, 2, domain.Sell, domain.Limit, domain.GFD, 15000, 10)
	assert.Empty(t, trades)
	assert.Equal(t, domain.Pending, f.status(t, sell.ID))
}

func TestProcessSkipsOrderCancelledBeforeMatching(t *testing.T) {
	f := newMatchFixture(t)
	f.place(t, 2, domain.Sell, domain.Limit, domain.GFD, 15000, 10)
	o, err := f.reg.Create(1, "AAPL", domain.Buy, domain.Limit, domain.GFD, 15000, 10)
	require.NoError(t, err)
	_, err = f.reg.Cancel(o.ID)
	require.NoError(t, err)

	trades := f.matcher.Process(o)
	assert.Empty(t, trades, "a cancelled order never matches")
}

func TestTradeEventsAndIDsOrdered(t *testing.T) {
	f := newMatchFixture(t)
	f.place(t, 2, domain.Sell, domain.Limit, domain.GFD, 15000, 10)
	f.place(t, 3, domain.Sell, domain.Limit, domain.GFD, 15100, 10)
	f.place(t, 1, domain.Buy, domain.Limit, domain.GFD, 15100, 20)

	require.Len(t, f.trades, 2)
	assert.Less(t, uint64(f.trades[0].ID), uint64(f.trades[1].ID))
	require.Len(t, f.ticks, 2)
	assert.Equal(t, domain.Price(15000), f.ticks[0].LastTradePrice)
	assert.Equal(t, domain.Price(15100), f.ticks[1].LastTradePrice)
	assert.Empty(t, f.errors)

	// one update per contra fill plus one final aggressor update per submission
	require.NotEmpty(t, f.updates)
	last := f.updates[len(f.updates)-1]
	assert.Equal(t, domain.Filled, last.Status)
}
