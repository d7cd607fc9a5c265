package domain

import "time"

// Event payloads published to the pub/sub channels and stored at the
// state keys. Prices are decimal dollars, timestamps Unix milliseconds.

type TradeEvent struct {
	Type        string   `json:"type"`
	TradeID     TradeID  `json:"tradeId"`
	Symbol      string   `json:"symbol"`
	Price       float64  `json:"price"`
	Quantity    Quantity `json:"quantity"`
	BuyOrderID  OrderID  `json:"buyOrderId"`
	SellOrderID OrderID  `json:"sellOrderId"`
	BuyUserID   UserID   `json:"buyUserId"`
	SellUserID  UserID   `json:"sellUserId"`
	Timestamp   int64    `json:"timestamp"`
}

func NewTradeEvent(t Trade) TradeEvent {
	return TradeEvent{
		Type:        "trade",
		TradeID:     t.ID,
		Symbol:      t.Symbol,
		Price:       PriceToFloat(t.Price),
		Quantity:    t.Quantity,
		BuyOrderID:  t.BuyOrderID,
		SellOrderID: t.SellOrderID,
		BuyUserID:   t.BuyUserID,
		SellUserID:  t.SellUserID,
		Timestamp:   t.ExecutedAt.UnixMilli(),
	}
}

type TickEvent struct {
	Type         string   `json:"type"`
	Symbol       string   `json:"symbol"`
	LastPrice    float64  `json:"lastTradePrice"`
	LastQuantity Quantity `json:"lastTradeQuantity"`
	BidPrice     float64  `json:"bidPrice"`
	BidQuantity  Quantity `json:"bidQuantity"`
	AskPrice     float64  `json:"askPrice"`
	AskQuantity  Quantity `json:"askQuantity"`
	TotalVolume  Quantity `json:"totalVolume"`
	Timestamp    int64    `json:"timestamp"`
}

func NewTickEvent(s MarketSnapshot) TickEvent {
	return TickEvent{
		Type:         "tick",
		Symbol:       s.Symbol,
		LastPrice:    PriceToFloat(s.LastTradePrice),
		LastQuantity: s.LastTradeQty,
		BidPrice:     PriceToFloat(s.BestBid),
		BidQuantity:  s.BidQty,
		AskPrice:     PriceToFloat(s.BestAsk),
		AskQuantity:  s.AskQty,
		TotalVolume:  s.TotalVolume,
		Timestamp:    s.At.UnixMilli(),
	}
}

type OrderEvent struct {
	Type           string      `json:"type"`
	OrderID        OrderID     `json:"orderId"`
	UserID         UserID      `json:"userId"`
	Symbol         string      `json:"symbol"`
	Side           Side        `json:"side"`
	OrderType      OrderType   `json:"orderType"`
	TIF            TimeInForce `json:"timeInForce"`
	Price          float64     `json:"price"`
	Quantity       Quantity    `json:"quantity"`
	FilledQuantity Quantity    `json:"filledQuantity"`
	Status         OrderStatus `json:"status"`
	Timestamp      int64       `json:"timestamp"`
}

func NewOrderEvent(o Order) OrderEvent {
	return OrderEvent{
		Type:           "order_update",
		OrderID:        o.ID,
		UserID:         o.UserID,
		Symbol:         o.Symbol,
		Side:           o.Side,
		OrderType:      o.Type,
		TIF:            o.TIF,
		Price:          PriceToFloat(o.Price),
		Quantity:       o.Quantity,
		FilledQuantity: o.Filled,
		Status:         o.Status,
		Timestamp:      time.Now().UnixMilli(),
	}
}

type ErrorEvent struct {
	Type      string `json:"type"`
	Code      int    `json:"code"`
	Name      string `json:"name"`
	Message   string `json:"message"`
	UserID    UserID `json:"userId"`
	Timestamp int64  `json:"timestamp"`
}

func NewErrorEvent(user UserID, code ErrorCode, msg string) ErrorEvent {
	return ErrorEvent{
		Type:      "error",
		Code:      int(code),
		Name:      code.String(),
		Message:   msg,
		UserID:    user,
		Timestamp: time.Now().UnixMilli(),
	}
}

// BalanceEvent is the persisted form of a user balance, cents unscaled.
type BalanceEvent struct {
	UserID    UserID `json:"userId"`
	Available int64  `json:"availableBalance"`
	Locked    int64  `json:"lockedBalance"`
	Timestamp int64  `json:"timestamp"`
}

func NewBalanceEvent(b UserBalance) BalanceEvent {
	return BalanceEvent{
		UserID:    b.UserID,
		Available: b.Available,
		Locked:    b.Locked,
		Timestamp: time.Now().UnixMilli(),
	}
}
