package dto

import (
	"github.com/shopspring/decimal"

	"github.com/papertrade/engine/internal/domain"
)

// Request bodies accepted by the REST gateway and the queue messages it
// produces. The message field names are the engine's input contract.

type PlaceOrderRequest struct {
	UserID   uint64          `json:"userId" binding:"required"`
	Symbol   string          `json:"symbol" binding:"required"`
	Side     string          `json:"side" binding:"required,oneof=BUY SELL"`
	Type     string          `json:"type" binding:"omitempty,oneof=LIMIT MARKET"`
	TIF      string          `json:"timeInForce" binding:"omitempty,oneof=GFD IOC FOK"`
	Price    decimal.Decimal `json:"price"`
	Quantity uint64          `json:"quantity" binding:"required,gt=0"`
}

// Validate applies the checks gin's binding tags cannot express: the
// price must be a clean two-decimal amount, and positive for limit
// orders. Market orders ignore any price sent.
func (r *PlaceOrderRequest) Validate() error {
	if r.Type == string(domain.Market) {
		return nil
	}
	p, err := domain.PriceFromDecimal(r.Price)
	if err != nil {
		return err
	}
	if p <= 0 {
		return domain.ErrInvalidPrice
	}
	return nil
}

// Message is the queue payload for this request.
func (r *PlaceOrderRequest) Message() PlaceMessage {
	msg := PlaceMessage{
		Action:   "place",
		UserID:   r.UserID,
		Symbol:   r.Symbol,
		Side:     r.Side,
		Type:     r.Type,
		TIF:      r.TIF,
		Quantity: r.Quantity,
	}
	if r.Type != string(domain.Market) {
		msg.Price = r.Price
	}
	return msg
}

type CancelOrderRequest struct {
	OrderID uint64 `json:"orderId" binding:"required"`
}

func (r *CancelOrderRequest) Message() CancelMessage {
	return CancelMessage{Action: "cancel", OrderID: r.OrderID}
}

type PlaceMessage struct {
	Action   string          `json:"action"`
	UserID   uint64          `json:"userId"`
	Symbol   string          `json:"symbol"`
	Side     string          `json:"side"`
	Type     string          `json:"type,omitempty"`
	TIF      string          `json:"timeInForce,omitempty"`
	Price    decimal.Decimal `json:"price"`
	Quantity uint64          `json:"quantity"`
}

type CancelMessage struct {
	Action  string `json:"action"`
	OrderID uint64 `json:"orderId"`
}

type QueuedResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
