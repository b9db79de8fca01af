package exchange

import "errors"

var (
	// ErrSessionClosed rejects an order at admission time; the book is
	// never touched.
	ErrSessionClosed = errors.New("trading session is closed")

	ErrUnknownInstrument = errors.New("unknown instrument")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
	ErrInvalidPrice      = errors.New("price must be positive for limit orders")
)
