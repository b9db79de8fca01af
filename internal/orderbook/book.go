package orderbook

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNoLiquidity is returned for a market order that finds no opposing
// resting volume at all. The book is left unchanged.
var ErrNoLiquidity = errors.New("no opposing liquidity for market order")

// PriceLevel holds all resting orders at a specific price, FIFO by submission.
type PriceLevel struct {
	Price  int64
	Orders []*Order
}

func (pl *PriceLevel) TotalQuantity() int64 {
	var total int64
	for _, o := range pl.Orders {
		total += o.Remaining()
	}
	return total
}

// Book is an in-memory limit order book for a single instrument.
//
// All mutations (Submit, Cancel) serialize on the write lock, so
// matching never runs concurrently on the same instrument. Read paths
// take the read lock and never stall a match for long.
type Book struct {
	Symbol string

	mu     sync.RWMutex
	bids   []*PriceLevel // Sorted descending by price (best bid first)
	asks   []*PriceLevel // Sorted ascending by price (best ask first)
	orders map[string]*Order

	lastFill *Fill
}

func New(symbol string) *Book {
	return &Book{
		Symbol: symbol,
		orders: make(map[string]*Order),
	}
}

// Submit places an order and returns the fills it produced.
//
// Limit orders cross against the opposing side while prices are
// compatible and rest in the book with any remainder. Market orders
// sweep the opposing side from the best price; whatever liquidity is
// available fills and the unfilled remainder is discarded (reported via
// the order's Remaining). A market order that fills nothing at all
// returns ErrNoLiquidity.
func (b *Book) Submit(order *Order) ([]Fill, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	if order.Timestamp.IsZero() {
		order.Timestamp = time.Now()
	}
	order.Symbol = b.Symbol

	var fills []Fill
	if order.Type == Market {
		fills = b.matchMarket(order)
		if len(fills) == 0 {
			return nil, ErrNoLiquidity
		}
		return fills, nil
	}

	fills = b.matchLimit(order)
	if !order.IsFilled() {
		b.rest(order)
	}
	return fills, nil
}

func (b *Book) matchMarket(order *Order) []Fill {
	var fills []Fill
	if order.Side == Buy {
		for len(b.asks) > 0 && !order.IsFilled() {
			level := b.asks[0]
			fills = append(fills, b.matchAtLevel(order, level)...)
			if len(level.Orders) == 0 {
				b.asks = b.asks[1:]
			}
		}
	} else {
		for len(b.bids) > 0 && !order.IsFilled() {
			level := b.bids[0]
			fills = append(fills, b.matchAtLevel(order, level)...)
			if len(level.Orders) == 0 {
				b.bids = b.bids[1:]
			}
		}
	}
	return fills
}

func (b *Book) matchLimit(order *Order) []Fill {
	var fills []Fill
	if order.Side == Buy {
		for len(b.asks) > 0 && !order.IsFilled() {
			level := b.asks[0]
			if level.Price > order.Price {
				break
			}
			fills = append(fills, b.matchAtLevel(order, level)...)
			if len(level.Orders) == 0 {
				b.asks = b.asks[1:]
			}
		}
	} else {
		for len(b.bids) > 0 && !order.IsFilled() {
			level := b.bids[0]
			if level.Price < order.Price {
				break
			}
			fills = append(fills, b.matchAtLevel(order, level)...)
			if len(level.Orders) == 0 {
				b.bids = b.bids[1:]
			}
		}
	}
	return fills
}

func (b *Book) matchAtLevel(incoming *Order, level *PriceLevel) []Fill {
	var fills []Fill

	for len(level.Orders) > 0 && !incoming.IsFilled() {
		resting := level.Orders[0]
		qty := min(incoming.Remaining(), resting.Remaining())

		incoming.Filled += qty
		resting.Filled += qty

		buyOrder, sellOrder := incoming, resting
		if incoming.Side == Sell {
			buyOrder, sellOrder = resting, incoming
		}

		fill := Fill{
			ID:                uuid.New().String(),
			Symbol:            b.Symbol,
			Price:             level.Price, // resting order's price
			Quantity:          qty,
			BuyOrderID:        buyOrder.ID,
			SellOrderID:       sellOrder.ID,
			BuyerPortfolioID:  buyOrder.PortfolioID,
			SellerPortfolioID: sellOrder.PortfolioID,
			Timestamp:         time.Now(),
		}
		fills = append(fills, fill)
		b.lastFill = &fill

		if resting.IsFilled() {
			delete(b.orders, resting.ID)
			level.Orders = level.Orders[1:]
		}
	}

	return fills
}

func (b *Book) rest(order *Order) {
	b.orders[order.ID] = order
	if order.Side == Buy {
		b.bids = insertLevel(b.bids, order, func(level, order int64) bool { return level < order })
	} else {
		b.asks = insertLevel(b.asks, order, func(level, order int64) bool { return level > order })
	}
}

// insertLevel appends the order to its price level, creating the level
// at the right position when absent. worse reports whether an existing
// level price is worse than the order's price for the given side.
func insertLevel(levels []*PriceLevel, order *Order, worse func(level, order int64) bool) []*PriceLevel {
	for i, level := range levels {
		if level.Price == order.Price {
			level.Orders = append(level.Orders, order)
			return levels
		}
		if worse(level.Price, order.Price) {
			fresh := &PriceLevel{Price: order.Price, Orders: []*Order{order}}
			return append(levels[:i], append([]*PriceLevel{fresh}, levels[i:]...)...)
		}
	}
	return append(levels, &PriceLevel{Price: order.Price, Orders: []*Order{order}})
}

// Cancel removes a still-resting order. It reports false for unknown or
// already-filled ids instead of returning an error: cancellation is
// idempotent.
func (b *Book) Cancel(orderID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	order, exists := b.orders[orderID]
	if !exists {
		return false
	}
	delete(b.orders, orderID)

	if order.Side == Buy {
		b.bids = removeFromLevels(b.bids, order)
	} else {
		b.asks = removeFromLevels(b.asks, order)
	}
	return true
}

func removeFromLevels(levels []*PriceLevel, order *Order) []*PriceLevel {
	for i, level := range levels {
		if level.Price != order.Price {
			continue
		}
		for j, o := range level.Orders {
			if o.ID == order.ID {
				level.Orders = append(level.Orders[:j], level.Orders[j+1:]...)
				break
			}
		}
		if len(level.Orders) == 0 {
			return append(levels[:i], levels[i+1:]...)
		}
		return levels
	}
	return levels
}

// GetOrder returns a resting order by ID.
func (b *Book) GetOrder(orderID string) (*Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	order, exists := b.orders[orderID]
	return order, exists
}

// OrdersByPortfolio returns all resting orders owned by a portfolio.
func (b *Book) OrdersByPortfolio(portfolioID string) []*Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*Order
	for _, o := range b.orders {
		if o.PortfolioID == portfolioID {
			out = append(out, o)
		}
	}
	return out
}

// snapshotDepth is the number of price levels per side exposed to the
// read-only display path.
const snapshotDepth = 2

type BookSnapshot struct {
	Symbol   string          `json:"symbol"`
	Bids     []LevelSnapshot `json:"bids"`
	Asks     []LevelSnapshot `json:"asks"`
	LastFill *Fill           `json:"last_fill,omitempty"`
}

type LevelSnapshot struct {
	Price    int64 `json:"price"`
	Quantity int64 `json:"quantity"`
}

// Snapshot returns the best two price levels per side plus the most
// recent fill.
func (b *Book) Snapshot() BookSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	snap := BookSnapshot{Symbol: b.Symbol, LastFill: b.lastFill}
	for _, level := range b.bids[:min(snapshotDepth, len(b.bids))] {
		snap.Bids = append(snap.Bids, LevelSnapshot{Price: level.Price, Quantity: level.TotalQuantity()})
	}
	for _, level := range b.asks[:min(snapshotDepth, len(b.asks))] {
		snap.Asks = append(snap.Asks, LevelSnapshot{Price: level.Price, Quantity: level.TotalQuantity()})
	}
	return snap
}

// RestingCount returns the number of resting orders.
func (b *Book) RestingCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.orders)
}

// BestBid returns the highest bid price, or 0 if no bids.
func (b *Book) BestBid() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.bids) == 0 {
		return 0
	}
	return b.bids[0].Price
}

// BestAsk returns the lowest ask price, or 0 if no asks.
func (b *Book) BestAsk() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.asks) == 0 {
		return 0
	}
	return b.asks[0].Price
}

// MidPrice returns the midpoint between best bid and ask, or 0 when
// either side is empty.
func (b *Book) MidPrice() int64 {
	bid, ask := b.BestBid(), b.BestAsk()
	if bid == 0 || ask == 0 {
		return 0
	}
	return (bid + ask) / 2
}

// LastFill returns the most recent fill on this book, if any.
func (b *Book) LastFill() *Fill {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastFill
}
