package domain

import "errors"

// ErrorCode is the stable taxonomy shared across events, logs and the
// persisted error payloads. Values are part of the wire contract.
type ErrorCode uint8

const (
	CodeSuccess ErrorCode = iota
	CodeInvalidSymbol
	CodeInvalidQuantity
	CodeInvalidPrice
	CodeInsufficientBalance
	CodeOrderNotFound
	CodeDuplicateOrder
	CodeSystemError
)

func (c ErrorCode) String() string {
	switch c {
	case CodeSuccess:
		return "SUCCESS"
	case CodeInvalidSymbol:
		return "INVALID_SYMBOL"
	case CodeInvalidQuantity:
		return "INVALID_QUANTITY"
	case CodeInvalidPrice:
		return "INVALID_PRICE"
	case CodeInsufficientBalance:
		return "INSUFFICIENT_BALANCE"
	case CodeOrderNotFound:
		return "ORDER_NOT_FOUND"
	case CodeDuplicateOrder:
		return "DUPLICATE_ORDER"
	default:
		return "SYSTEM_ERROR"
	}
}

type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

var (
	ErrInvalidSymbol       = &Error{CodeInvalidSymbol, "invalid symbol"}
	ErrInvalidQuantity     = &Error{CodeInvalidQuantity, "invalid quantity"}
	ErrInvalidPrice        = &Error{CodeInvalidPrice, "invalid price"}
	ErrInsufficientBalance = &Error{CodeInsufficientBalance, "insufficient balance"}
	ErrOrderNotFound       = &Error{CodeOrderNotFound, "order not found"}
	ErrDuplicateOrder      = &Error{CodeDuplicateOrder, "duplicate order id"}
	ErrSystemError         = &Error{CodeSystemError, "system error"}
)

// CodeOf maps any error to its taxonomy code. nil is SUCCESS; errors
// that carry no code collapse to SYSTEM_ERROR.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return CodeSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeSystemError
}
