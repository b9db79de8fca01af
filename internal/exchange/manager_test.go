package exchange

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"

	"bourse/internal/orderbook"
)

type fakeLedger struct {
	mu          sync.Mutex
	fills       []orderbook.Fill
	adjustments []adjustment
	failWrites  bool
}

type adjustment struct {
	portfolioID string
	symbol      string
	cashDelta   int64
	qtyDelta    int64
}

func (f *fakeLedger) RecordFill(_ context.Context, fill orderbook.Fill) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites {
		return errors.New("ledger down")
	}
	f.fills = append(f.fills, fill)
	return nil
}

func (f *fakeLedger) AdjustPortfolio(_ context.Context, portfolioID, symbol string, cashDelta, qtyDelta int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites {
		return errors.New("ledger down")
	}
	f.adjustments = append(f.adjustments, adjustment{portfolioID, symbol, cashDelta, qtyDelta})
	return nil
}

func newTestManager(ledger Ledger) (*Manager, *SessionGate) {
	gate := NewSessionGate()
	return NewManager(gate, ledger, []string{"ACME", "GLOB"}, zap.NewNop()), gate
}

func TestPlaceOrderValidation(t *testing.T) {
	mgr, _ := newTestManager(&fakeLedger{})
	ctx := context.Background()

	cases := []struct {
		name string
		req  OrderRequest
		want error
	}{
		{"zero quantity", OrderRequest{Symbol: "ACME", Type: orderbook.Limit, Price: 100, Quantity: 0}, ErrInvalidQuantity},
		{"negative quantity", OrderRequest{Symbol: "ACME", Type: orderbook.Limit, Price: 100, Quantity: -5}, ErrInvalidQuantity},
		{"zero limit price", OrderRequest{Symbol: "ACME", Type: orderbook.Limit, Price: 0, Quantity: 10}, ErrInvalidPrice},
		{"unknown instrument", OrderRequest{Symbol: "NOPE", Type: orderbook.Limit, Price: 100, Quantity: 10}, ErrUnknownInstrument},
	}

	for _, tc := range cases {
		if _, _, err := mgr.PlaceOrder(ctx, tc.req); !errors.Is(err, tc.want) {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}

	if mgr.RestingCount() != 0 {
		t.Errorf("rejected orders must not touch the book")
	}
}

func TestSessionGateBlocksAdmission(t *testing.T) {
	mgr, gate := newTestManager(&fakeLedger{})
	ctx := context.Background()

	gate.Close()
	_, _, err := mgr.PlaceOrder(ctx, OrderRequest{
		PortfolioID: "p1", Symbol: "ACME", Side: orderbook.Buy,
		Type: orderbook.Limit, Price: 10000, Quantity: 10,
	})
	if !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	if mgr.RestingCount() != 0 {
		t.Errorf("closed-session order must not rest in the book")
	}

	gate.Open()
	_, _, err = mgr.PlaceOrder(ctx, OrderRequest{
		PortfolioID: "p1", Symbol: "ACME", Side: orderbook.Buy,
		Type: orderbook.Limit, Price: 10000, Quantity: 10,
	})
	if err != nil {
		t.Fatalf("expected order accepted after reopen, got %v", err)
	}
	if mgr.RestingCount() != 1 {
		t.Errorf("expected 1 resting order, got %d", mgr.RestingCount())
	}
}

func TestFillsForwardedToLedger(t *testing.T) {
	ledger := &fakeLedger{}
	mgr, _ := newTestManager(ledger)
	ctx := context.Background()

	mgr.PlaceOrder(ctx, OrderRequest{
		PortfolioID: "seller", Symbol: "ACME", Side: orderbook.Sell,
		Type: orderbook.Limit, Price: 15000, Quantity: 100,
	})
	_, fills, err := mgr.PlaceOrder(ctx, OrderRequest{
		PortfolioID: "buyer", Symbol: "ACME", Side: orderbook.Buy,
		Type: orderbook.Limit, Price: 15000, Quantity: 100,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fills) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(fills))
	}

	if len(ledger.fills) != 1 {
		t.Fatalf("expected 1 recorded fill, got %d", len(ledger.fills))
	}
	if len(ledger.adjustments) != 2 {
		t.Fatalf("expected 2 portfolio adjustments, got %d", len(ledger.adjustments))
	}

	cost := int64(15000 * 100)
	for _, adj := range ledger.adjustments {
		switch adj.portfolioID {
		case "buyer":
			if adj.cashDelta != -cost || adj.qtyDelta != 100 {
				t.Errorf("buyer adjustment wrong: %+v", adj)
			}
		case "seller":
			if adj.cashDelta != cost || adj.qtyDelta != -100 {
				t.Errorf("seller adjustment wrong: %+v", adj)
			}
		default:
			t.Errorf("unexpected portfolio adjusted: %s", adj.portfolioID)
		}
	}
}

func TestSyntheticOrdersSkipPortfolioAdjustment(t *testing.T) {
	ledger := &fakeLedger{}
	mgr, _ := newTestManager(ledger)
	ctx := context.Background()

	// Synthetic seller (no portfolio) against a real buyer.
	mgr.PlaceOrder(ctx, OrderRequest{
		Symbol: "ACME", Side: orderbook.Sell,
		Type: orderbook.Limit, Price: 10000, Quantity: 10,
	})
	mgr.PlaceOrder(ctx, OrderRequest{
		PortfolioID: "buyer", Symbol: "ACME", Side: orderbook.Buy,
		Type: orderbook.Limit, Price: 10000, Quantity: 10,
	})

	if len(ledger.fills) != 1 {
		t.Fatalf("expected the fill recorded, got %d", len(ledger.fills))
	}
	if len(ledger.adjustments) != 1 {
		t.Fatalf("expected only the buyer adjusted, got %d adjustments", len(ledger.adjustments))
	}
	if ledger.adjustments[0].portfolioID != "buyer" {
		t.Errorf("expected buyer adjustment, got %+v", ledger.adjustments[0])
	}
}

func TestPersistenceFailureKeepsMatch(t *testing.T) {
	ledger := &fakeLedger{failWrites: true}
	mgr, _ := newTestManager(ledger)
	ctx := context.Background()

	mgr.PlaceOrder(ctx, OrderRequest{
		PortfolioID: "seller", Symbol: "ACME", Side: orderbook.Sell,
		Type: orderbook.Limit, Price: 10000, Quantity: 10,
	})
	_, fills, err := mgr.PlaceOrder(ctx, OrderRequest{
		PortfolioID: "buyer", Symbol: "ACME", Side: orderbook.Buy,
		Type: orderbook.Limit, Price: 10000, Quantity: 10,
	})

	// Ledger is down but the in-memory match stands.
	if err != nil {
		t.Fatalf("match must not fail on persistence errors, got %v", err)
	}
	if len(fills) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(fills))
	}
	if mgr.RestingCount() != 0 {
		t.Errorf("expected both orders consumed, %d resting", mgr.RestingCount())
	}
}

func TestCancelOrderAcrossBooks(t *testing.T) {
	mgr, _ := newTestManager(&fakeLedger{})
	ctx := context.Background()

	order, _, err := mgr.PlaceOrder(ctx, OrderRequest{
		PortfolioID: "p1", Symbol: "GLOB", Side: orderbook.Sell,
		Type: orderbook.Limit, Price: 20000, Quantity: 5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !mgr.CancelOrder(order.ID) {
		t.Error("expected cancel to succeed")
	}
	if mgr.CancelOrder(order.ID) {
		t.Error("expected repeat cancel to report false")
	}
	if mgr.CancelOrder("unknown") {
		t.Error("expected cancel of unknown id to report false")
	}
}

func TestCurrentPrice(t *testing.T) {
	mgr, _ := newTestManager(&fakeLedger{})
	ctx := context.Background()

	if _, ok := mgr.CurrentPrice("ACME"); ok {
		t.Error("expected no price on an empty book")
	}

	mgr.PlaceOrder(ctx, OrderRequest{PortfolioID: "a", Symbol: "ACME", Side: orderbook.Buy, Type: orderbook.Limit, Price: 9900, Quantity: 10})
	mgr.PlaceOrder(ctx, OrderRequest{PortfolioID: "b", Symbol: "ACME", Side: orderbook.Sell, Type: orderbook.Limit, Price: 10100, Quantity: 10})

	price, ok := mgr.CurrentPrice("ACME")
	if !ok || price != 10000 {
		t.Errorf("expected midpoint 10000, got %d ok=%v", price, ok)
	}

	mgr.PlaceOrder(ctx, OrderRequest{PortfolioID: "c", Symbol: "ACME", Side: orderbook.Buy, Type: orderbook.Market, Quantity: 10})
	price, ok = mgr.CurrentPrice("ACME")
	if !ok || price != 10100 {
		t.Errorf("expected last fill price 10100, got %d ok=%v", price, ok)
	}
}

func TestGateStartsOpen(t *testing.T) {
	gate := NewSessionGate()
	if !gate.IsOpen() {
		t.Fatal("gate must start open")
	}
	gate.Close()
	if gate.IsOpen() {
		t.Fatal("gate should be closed")
	}
	gate.Open()
	if !gate.IsOpen() {
		t.Fatal("gate should be open again")
	}
}
