package domain

import "time"

// MarketSnapshot is the top-of-book view of one symbol.
type MarketSnapshot struct {
	Symbol         string
	LastTradePrice Price
	LastTradeQty   Quantity
	BestBid        Price
	BidQty         Quantity
	BestAsk        Price
	AskQty         Quantity
	TotalVolume    Quantity
	At             time.Time
}

// LevelQuote is one aggregated price level of a depth view.
type LevelQuote struct {
	Price    Price    `json:"price"`
	Quantity Quantity `json:"quantity"`
}

// EngineState is the full-snapshot payload persisted under snapshot:{id}.
// Books record resting order IDs per level in FIFO order so a restore
// rebuilds queues exactly; the orders themselves live in Orders.
type EngineState struct {
	ID          string          `json:"snapshotId"`
	Timestamp   int64           `json:"timestamp"`
	LastTradeID TradeID         `json:"lastTradeId"`
	Balances    []BalanceRecord `json:"balances"`
	Orders      []OrderRecord   `json:"orders"`
	Books       []BookState     `json:"books"`
}

type BalanceRecord struct {
	UserID    UserID `json:"userId"`
	Available int64  `json:"availableBalance"`
	Locked    int64  `json:"lockedBalance"`
}

// OrderRecord is the lossless wire form of an Order: price in cents,
// creation time in Unix nanoseconds.
type OrderRecord struct {
	ID        OrderID     `json:"orderId"`
	UserID    UserID      `json:"userId"`
	Symbol    string      `json:"symbol"`
	Side      Side        `json:"side"`
	Type      OrderType   `json:"orderType"`
	TIF       TimeInForce `json:"timeInForce"`
	Price     Price       `json:"priceCents"`
	Quantity  Quantity    `json:"quantity"`
	Filled    Quantity    `json:"filledQuantity"`
	Status    OrderStatus `json:"status"`
	CreatedAt int64       `json:"createdAt"`
}

func (o *Order) Record() OrderRecord {
	return OrderRecord{
		ID:        o.ID,
		UserID:    o.UserID,
		Symbol:    o.Symbol,
		Side:      o.Side,
		Type:      o.Type,
		TIF:       o.TIF,
		Price:     o.Price,
		Quantity:  o.Quantity,
		Filled:    o.Filled,
		Status:    o.Status,
		CreatedAt: o.CreatedAt.UnixNano(),
	}
}

func (r OrderRecord) Order() Order {
	return Order{
		ID:        r.ID,
		UserID:    r.UserID,
		Symbol:    r.Symbol,
		Side:      r.Side,
		Type:      r.Type,
		TIF:       r.TIF,
		Price:     r.Price,
		Quantity:  r.Quantity,
		Filled:    r.Filled,
		Status:    r.Status,
		CreatedAt: time.Unix(0, r.CreatedAt),
	}
}

// BookState captures one book under its own lock: the ladders plus the
// records of the orders resting in them, so the pair is always
// internally consistent even when the wider snapshot is fuzzy.
type BookState struct {
	Symbol         string        `json:"symbol"`
	LastTradePrice Price         `json:"lastTradePrice"`
	LastTradeQty   Quantity      `json:"lastTradeQty"`
	TotalVolume    Quantity      `json:"totalVolume"`
	Bids           []LadderLevel `json:"bids"`
	Asks           []LadderLevel `json:"asks"`
	Orders         []OrderRecord `json:"orders"`
}

// LadderLevel lists resting order IDs at one price, queue order preserved.
type LadderLevel struct {
	Price    Price     `json:"price"`
	OrderIDs []OrderID `json:"orderIds"`
}
