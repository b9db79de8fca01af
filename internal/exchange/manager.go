package exchange

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bourse/internal/orderbook"
)

// Ledger is the persistence collaborator fills are forwarded to. Writes
// are best-effort relative to the in-memory match: the book is the
// source of truth and a failed write never rolls a match back. On a
// persistence outage the portfolio ledger may lag the book; this is an
// at-least-once write path, not exactly-once.
type Ledger interface {
	RecordFill(ctx context.Context, fill orderbook.Fill) error
	AdjustPortfolio(ctx context.Context, portfolioID, symbol string, cashDelta, qtyDelta int64) error
}

// OrderRequest is what callers (the HTTP layer and the simulator) hand
// to PlaceOrder. PortfolioID is empty for synthetic orders.
type OrderRequest struct {
	PortfolioID string
	Symbol      string
	Side        orderbook.Side
	Type        orderbook.OrderType
	Price       int64 // cents, limit orders only
	Quantity    int64
}

// Manager is the single entry point for all order submission, real and
// synthetic. It owns one book per instrument and consults the session
// gate at admission time.
type Manager struct {
	gate   *SessionGate
	ledger Ledger
	log    *zap.Logger

	books map[string]*orderbook.Book
}

// NewManager builds a manager with one book per symbol. The books map
// is fixed after construction, so no lock guards it.
func NewManager(gate *SessionGate, ledger Ledger, symbols []string, log *zap.Logger) *Manager {
	books := make(map[string]*orderbook.Book, len(symbols))
	for _, sym := range symbols {
		books[sym] = orderbook.New(sym)
	}
	return &Manager{
		gate:   gate,
		ledger: ledger,
		log:    log,
		books:  books,
	}
}

// PlaceOrder validates and tags the request, routes it to the
// instrument's book, and forwards resulting fills to the ledger.
func (m *Manager) PlaceOrder(ctx context.Context, req OrderRequest) (*orderbook.Order, []orderbook.Fill, error) {
	if req.Quantity <= 0 {
		return nil, nil, ErrInvalidQuantity
	}
	if req.Type == orderbook.Limit && req.Price <= 0 {
		return nil, nil, ErrInvalidPrice
	}
	book, ok := m.books[req.Symbol]
	if !ok {
		return nil, nil, ErrUnknownInstrument
	}
	if !m.gate.IsOpen() {
		return nil, nil, ErrSessionClosed
	}

	order := &orderbook.Order{
		ID:          uuid.New().String(),
		PortfolioID: req.PortfolioID,
		Symbol:      req.Symbol,
		Side:        req.Side,
		Type:        req.Type,
		Price:       req.Price,
		Quantity:    req.Quantity,
		Timestamp:   time.Now(),
	}

	fills, err := book.Submit(order)
	if err != nil {
		return nil, nil, err
	}

	// The match is final at this point; persistence runs strictly after.
	m.settle(ctx, fills)

	return order, fills, nil
}

// settle forwards each fill to the ledger and adjusts both owning
// portfolios. Failures are logged and skipped, never propagated.
func (m *Manager) settle(ctx context.Context, fills []orderbook.Fill) {
	if m.ledger == nil {
		return
	}
	for _, fill := range fills {
		if err := m.ledger.RecordFill(ctx, fill); err != nil {
			m.log.Warn("fill not persisted",
				zap.String("fill_id", fill.ID),
				zap.String("symbol", fill.Symbol),
				zap.Error(err))
		}

		cost := fill.Price * fill.Quantity
		if fill.BuyerPortfolioID != "" {
			if err := m.ledger.AdjustPortfolio(ctx, fill.BuyerPortfolioID, fill.Symbol, -cost, fill.Quantity); err != nil {
				m.log.Warn("buyer portfolio not adjusted",
					zap.String("portfolio_id", fill.BuyerPortfolioID),
					zap.String("fill_id", fill.ID),
					zap.Error(err))
			}
		}
		if fill.SellerPortfolioID != "" {
			if err := m.ledger.AdjustPortfolio(ctx, fill.SellerPortfolioID, fill.Symbol, cost, -fill.Quantity); err != nil {
				m.log.Warn("seller portfolio not adjusted",
					zap.String("portfolio_id", fill.SellerPortfolioID),
					zap.String("fill_id", fill.ID),
					zap.Error(err))
			}
		}
	}
}

// CancelOrder removes a resting order from whichever book holds it.
// Idempotent: false for unknown or already-resolved ids.
func (m *Manager) CancelOrder(orderID string) bool {
	for _, book := range m.books {
		if book.Cancel(orderID) {
			return true
		}
	}
	return false
}

// GetOrder finds a resting order by id.
func (m *Manager) GetOrder(orderID string) (*orderbook.Order, bool) {
	for _, book := range m.books {
		if order, ok := book.GetOrder(orderID); ok {
			return order, true
		}
	}
	return nil, false
}

// OpenOrders returns a portfolio's resting orders across all books.
func (m *Manager) OpenOrders(portfolioID string) []*orderbook.Order {
	var out []*orderbook.Order
	for _, book := range m.books {
		out = append(out, book.OrdersByPortfolio(portfolioID)...)
	}
	return out
}

// BookSnapshot returns the display view of one instrument's book.
func (m *Manager) BookSnapshot(symbol string) (orderbook.BookSnapshot, error) {
	book, ok := m.books[symbol]
	if !ok {
		return orderbook.BookSnapshot{}, ErrUnknownInstrument
	}
	return book.Snapshot(), nil
}

// CurrentPrice reports the most recent traded price for an instrument,
// falling back to the book midpoint. The second return is false when
// the book has neither.
func (m *Manager) CurrentPrice(symbol string) (int64, bool) {
	book, ok := m.books[symbol]
	if !ok {
		return 0, false
	}
	if last := book.LastFill(); last != nil {
		return last.Price, true
	}
	if mid := book.MidPrice(); mid != 0 {
		return mid, true
	}
	return 0, false
}

// RestingCount sums resting orders across all books.
func (m *Manager) RestingCount() int {
	total := 0
	for _, book := range m.books {
		total += book.RestingCount()
	}
	return total
}

// Symbols lists the instruments this manager trades.
func (m *Manager) Symbols() []string {
	out := make([]string, 0, len(m.books))
	for sym := range m.books {
		out = append(out, sym)
	}
	return out
}
