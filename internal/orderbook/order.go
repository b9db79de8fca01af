package orderbook

import (
	"time"
)

type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

type OrderType int

const (
	Limit OrderType = iota
	Market
)

func (t OrderType) String() string {
	if t == Market {
		return "market"
	}
	return "limit"
}

// Order is a buy or sell instruction for a single instrument.
// PortfolioID is empty for synthetic orders placed by the simulator.
type Order struct {
	ID          string    `json:"id"`
	PortfolioID string    `json:"portfolio_id,omitempty"`
	Symbol      string    `json:"symbol"`
	Side        Side      `json:"side"`
	Type        OrderType `json:"type"`
	Price       int64     `json:"price"` // Price in cents to avoid float issues
	Quantity    int64     `json:"quantity"`
	Filled      int64     `json:"filled"`
	Timestamp   time.Time `json:"timestamp"`
}

func (o *Order) Remaining() int64 {
	return o.Quantity - o.Filled
}

func (o *Order) IsFilled() bool {
	return o.Filled >= o.Quantity
}

// Fill is produced once per match event and never mutated afterwards.
// Price is always the resting order's price, never the aggressor's.
type Fill struct {
	ID                string    `json:"id"`
	Symbol            string    `json:"symbol"`
	Price             int64     `json:"price"`
	Quantity          int64     `json:"quantity"`
	BuyOrderID        string    `json:"buy_order_id"`
	SellOrderID       string    `json:"sell_order_id"`
	BuyerPortfolioID  string    `json:"buyer_portfolio_id,omitempty"`
	SellerPortfolioID string    `json:"seller_portfolio_id,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}
