package domain

import "time"

type (
	OrderID  uint64
	TradeID  uint64
	UserID   uint64
	Quantity uint64

	// Price is a fixed-point amount in cents.
	Price int64
)

type Side string
type OrderType string
type TimeInForce string
type OrderStatus string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"

	Limit  OrderType = "LIMIT"
	Market OrderType = "MARKET"

	GFD TimeInForce = "GFD"
	IOC TimeInForce = "IOC"
	FOK TimeInForce = "FOK"

	Pending         OrderStatus = "PENDING"
	PartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	Filled          OrderStatus = "FILLED"
	Cancelled       OrderStatus = "CANCELLED"
	Rejected        OrderStatus = "REJECTED"
)

func (s OrderStatus) Terminal() bool {
	return s == Filled || s == Cancelled || s == Rejected
}

type Order struct {
	ID        OrderID
	UserID    UserID
	Symbol    string
	Side      Side
	Type      OrderType
	TIF       TimeInForce
	Price     Price // 0 for MARKET orders
	Quantity  Quantity
	Filled    Quantity
	Status    OrderStatus
	CreatedAt time.Time
}

func (o *Order) Remaining() Quantity {
	return o.Quantity - o.Filled
}

// Notional is the cash value of q units at price p, in cents.
func Notional(p Price, q Quantity) int64 {
	return int64(p) * int64(q)
}
