package domain

import "time"

// Trade records one fill. Price is always the resting order's price.
type Trade struct {
	ID          TradeID
	Symbol      string
	BuyOrderID  OrderID
	SellOrderID OrderID
	BuyUserID   UserID
	SellUserID  UserID
	Price       Price
	Quantity    Quantity
	ExecutedAt  time.Time
}

// Value is the cash amount exchanged, in cents.
func (t *Trade) Value() int64 {
	return Notional(t.Price, t.Quantity)
}
