package orderbook

import (
	"errors"
	"testing"
)

func TestLimitOrderRestsInBook(t *testing.T) {
	book := New("ACME")

	order := &Order{
		ID:          "order1",
		PortfolioID: "p1",
		Side:        Buy,
		Type:        Limit,
		Price:       10000, // $100.00
		Quantity:    10,
	}

	fills, err := book.Submit(order)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fills) != 0 {
		t.Errorf("expected 0 fills, got %d", len(fills))
	}

	snap := book.Snapshot()
	if len(snap.Bids) != 1 {
		t.Fatalf("expected 1 bid level, got %d", len(snap.Bids))
	}
	if snap.Bids[0].Price != 10000 {
		t.Errorf("expected bid price 10000, got %d", snap.Bids[0].Price)
	}
	if snap.Bids[0].Quantity != 10 {
		t.Errorf("expected bid quantity 10, got %d", snap.Bids[0].Quantity)
	}
}

func TestCrossFillsAtRestingPrice(t *testing.T) {
	book := New("ACME")

	// Resting buy 100 @ $150.00, then an aggressive sell at $149.00.
	buy := &Order{ID: "buy1", PortfolioID: "buyer", Side: Buy, Type: Limit, Price: 15000, Quantity: 100}
	book.Submit(buy)

	sell := &Order{ID: "sell1", PortfolioID: "seller", Side: Sell, Type: Limit, Price: 14900, Quantity: 100}
	fills, err := book.Submit(sell)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fills) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(fills))
	}

	// Fill price is the resting order's, not the aggressor's.
	if fills[0].Price != 15000 {
		t.Errorf("expected fill at 15000, got %d", fills[0].Price)
	}
	if fills[0].Quantity != 100 {
		t.Errorf("expected fill quantity 100, got %d", fills[0].Quantity)
	}
	if fills[0].BuyerPortfolioID != "buyer" || fills[0].SellerPortfolioID != "seller" {
		t.Errorf("fill attribution wrong: %+v", fills[0])
	}

	snap := book.Snapshot()
	if len(snap.Bids) != 0 || len(snap.Asks) != 0 {
		t.Errorf("expected empty book, got %d bids and %d asks", len(snap.Bids), len(snap.Asks))
	}
	if book.RestingCount() != 0 {
		t.Errorf("expected 0 resting orders, got %d", book.RestingCount())
	}
}

func TestPartialFill(t *testing.T) {
	book := New("ACME")

	sell := &Order{ID: "sell1", PortfolioID: "seller", Side: Sell, Type: Limit, Price: 10000, Quantity: 20}
	book.Submit(sell)

	buy := &Order{ID: "buy1", PortfolioID: "buyer", Side: Buy, Type: Limit, Price: 10000, Quantity: 10}
	fills, _ := book.Submit(buy)

	if len(fills) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(fills))
	}
	if fills[0].Quantity != 10 {
		t.Errorf("expected fill quantity 10, got %d", fills[0].Quantity)
	}
	if sell.Remaining() != 10 {
		t.Errorf("expected 10 remaining on resting order, got %d", sell.Remaining())
	}

	snap := book.Snapshot()
	if len(snap.Asks) != 1 || snap.Asks[0].Quantity != 10 {
		t.Errorf("expected 10 remaining on the ask, got %+v", snap.Asks)
	}
}

func TestPriceTimePriority(t *testing.T) {
	book := New("ACME")

	// Two sells at the same price - first in should match first.
	sell1 := &Order{ID: "sell1", PortfolioID: "early", Side: Sell, Type: Limit, Price: 10000, Quantity: 10}
	sell2 := &Order{ID: "sell2", PortfolioID: "late", Side: Sell, Type: Limit, Price: 10000, Quantity: 10}
	book.Submit(sell1)
	book.Submit(sell2)

	buy := &Order{ID: "buy1", PortfolioID: "buyer", Side: Buy, Type: Limit, Price: 10000, Quantity: 10}
	fills, _ := book.Submit(buy)

	if len(fills) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(fills))
	}
	if fills[0].SellOrderID != "sell1" {
		t.Errorf("expected sell1 to match first, got %s", fills[0].SellOrderID)
	}

	snap := book.Snapshot()
	if len(snap.Asks) != 1 || snap.Asks[0].Quantity != 10 {
		t.Errorf("expected sell2 still resting")
	}
}

func TestPricePriority(t *testing.T) {
	book := New("ACME")

	book.Submit(&Order{ID: "sell1", PortfolioID: "expensive", Side: Sell, Type: Limit, Price: 10100, Quantity: 10})
	book.Submit(&Order{ID: "sell2", PortfolioID: "cheap", Side: Sell, Type: Limit, Price: 10000, Quantity: 10})

	buy := &Order{ID: "buy1", PortfolioID: "buyer", Side: Buy, Type: Limit, Price: 10100, Quantity: 10}
	fills, _ := book.Submit(buy)

	if len(fills) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(fills))
	}
	if fills[0].Price != 10000 {
		t.Errorf("expected fill at 10000, got %d", fills[0].Price)
	}
	if fills[0].SellerPortfolioID != "cheap" {
		t.Errorf("expected cheap seller to match, got %s", fills[0].SellerPortfolioID)
	}
}

func TestMarketOrderSweepsLevels(t *testing.T) {
	book := New("ACME")

	book.Submit(&Order{ID: "sell1", Side: Sell, Type: Limit, Price: 10000, Quantity: 10})
	book.Submit(&Order{ID: "sell2", Side: Sell, Type: Limit, Price: 10100, Quantity: 10})

	buy := &Order{ID: "buy1", Side: Buy, Type: Market, Quantity: 15}
	fills, err := book.Submit(buy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(fills) != 2 {
		t.Fatalf("expected 2 fills, got %d", len(fills))
	}
	if fills[0].Quantity != 10 || fills[0].Price != 10000 {
		t.Errorf("first fill wrong: qty=%d price=%d", fills[0].Quantity, fills[0].Price)
	}
	if fills[1].Quantity != 5 || fills[1].Price != 10100 {
		t.Errorf("second fill wrong: qty=%d price=%d", fills[1].Quantity, fills[1].Price)
	}

	snap := book.Snapshot()
	if len(snap.Asks) != 1 || snap.Asks[0].Quantity != 5 {
		t.Errorf("expected 5 remaining at 10100, got %+v", snap.Asks)
	}
}

func TestMarketOrderNoLiquidity(t *testing.T) {
	book := New("ACME")

	buy := &Order{ID: "buy1", Side: Buy, Type: Market, Quantity: 50}
	fills, err := book.Submit(buy)
	if !errors.Is(err, ErrNoLiquidity) {
		t.Fatalf("expected ErrNoLiquidity, got %v", err)
	}
	if len(fills) != 0 {
		t.Errorf("expected no fills, got %d", len(fills))
	}
	if book.RestingCount() != 0 {
		t.Errorf("book should be unchanged")
	}
}

func TestMarketOrderPartialLiquidity(t *testing.T) {
	book := New("ACME")

	// Resting sell 50 @ $150.00, then a market buy of 80. Policy: the
	// available 50 fills, the unfilled 30 is discarded and reported via
	// Remaining.
	book.Submit(&Order{ID: "sell1", PortfolioID: "seller", Side: Sell, Type: Limit, Price: 15000, Quantity: 50})

	buy := &Order{ID: "buy1", PortfolioID: "buyer", Side: Buy, Type: Market, Quantity: 80}
	fills, err := book.Submit(buy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fills) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(fills))
	}
	if fills[0].Price != 15000 || fills[0].Quantity != 50 {
		t.Errorf("fill wrong: price=%d qty=%d", fills[0].Price, fills[0].Quantity)
	}
	if buy.Remaining() != 30 {
		t.Errorf("expected 30 unfilled, got %d", buy.Remaining())
	}
	if book.RestingCount() != 0 {
		t.Errorf("market remainder must not rest in the book")
	}
}

func TestCancelIdempotent(t *testing.T) {
	book := New("ACME")

	book.Submit(&Order{ID: "order1", PortfolioID: "p1", Side: Buy, Type: Limit, Price: 10000, Quantity: 10})

	if !book.Cancel("order1") {
		t.Fatal("expected cancel of resting order to succeed")
	}
	if snap := book.Snapshot(); len(snap.Bids) != 0 {
		t.Errorf("expected empty bids after cancel")
	}

	// Cancelling again, or cancelling an unknown id, is a no-op.
	if book.Cancel("order1") {
		t.Error("expected second cancel to report false")
	}
	if book.Cancel("never-existed") {
		t.Error("expected cancel of unknown order to report false")
	}
}

func TestCancelFilledOrder(t *testing.T) {
	book := New("ACME")

	book.Submit(&Order{ID: "sell1", Side: Sell, Type: Limit, Price: 10000, Quantity: 10})
	book.Submit(&Order{ID: "buy1", Side: Buy, Type: Limit, Price: 10000, Quantity: 10})

	if book.Cancel("sell1") {
		t.Error("cancel of a fully filled order should report false")
	}
}

func TestSnapshotDepthAndLastFill(t *testing.T) {
	book := New("ACME")

	book.Submit(&Order{ID: "bid1", Side: Buy, Type: Limit, Price: 9800, Quantity: 10})
	book.Submit(&Order{ID: "bid2", Side: Buy, Type: Limit, Price: 9900, Quantity: 10})
	book.Submit(&Order{ID: "bid3", Side: Buy, Type: Limit, Price: 10000, Quantity: 10})
	book.Submit(&Order{ID: "ask1", Side: Sell, Type: Limit, Price: 10100, Quantity: 10})
	book.Submit(&Order{ID: "ask2", Side: Sell, Type: Limit, Price: 10200, Quantity: 10})
	book.Submit(&Order{ID: "ask3", Side: Sell, Type: Limit, Price: 10300, Quantity: 10})

	snap := book.Snapshot()
	if len(snap.Bids) != 2 || len(snap.Asks) != 2 {
		t.Fatalf("expected 2 levels per side, got %d bids %d asks", len(snap.Bids), len(snap.Asks))
	}
	if snap.Bids[0].Price != 10000 || snap.Bids[1].Price != 9900 {
		t.Errorf("bid levels wrong: %+v", snap.Bids)
	}
	if snap.Asks[0].Price != 10100 || snap.Asks[1].Price != 10200 {
		t.Errorf("ask levels wrong: %+v", snap.Asks)
	}
	if snap.LastFill != nil {
		t.Errorf("expected no last fill yet")
	}

	book.Submit(&Order{ID: "buy-agg", Side: Buy, Type: Market, Quantity: 5})
	snap = book.Snapshot()
	if snap.LastFill == nil || snap.LastFill.Price != 10100 || snap.LastFill.Quantity != 5 {
		t.Errorf("expected last fill 5@10100, got %+v", snap.LastFill)
	}
}

func TestRestingOrderInvariant(t *testing.T) {
	book := New("ACME")

	// An arbitrary sequence of non-crossing limit orders: bids must stay
	// strictly descending by level, asks strictly ascending, and the best
	// bid must stay below the best ask.
	prices := []struct {
		side  Side
		price int64
	}{
		{Buy, 9900}, {Sell, 10100}, {Buy, 9950}, {Sell, 10050},
		{Buy, 9800}, {Sell, 10200}, {Buy, 9950}, {Sell, 10050},
	}
	for i, p := range prices {
		book.Submit(&Order{PortfolioID: "p", Side: p.side, Type: Limit, Price: p.price, Quantity: 10})
		if bid, ask := book.BestBid(), book.BestAsk(); bid != 0 && ask != 0 && bid >= ask {
			t.Fatalf("after order %d: best bid %d >= best ask %d", i, bid, ask)
		}
	}

	for i := 1; i < len(book.bids); i++ {
		if book.bids[i].Price >= book.bids[i-1].Price {
			t.Errorf("bids not strictly descending at level %d", i)
		}
	}
	for i := 1; i < len(book.asks); i++ {
		if book.asks[i].Price <= book.asks[i-1].Price {
			t.Errorf("asks not strictly ascending at level %d", i)
		}
	}
}

func TestQuantityConservation(t *testing.T) {
	book := New("ACME")

	sell := &Order{ID: "sell1", Side: Sell, Type: Limit, Price: 10000, Quantity: 35}
	book.Submit(sell)

	buy := &Order{ID: "buy1", Side: Buy, Type: Limit, Price: 10000, Quantity: 50}
	fills, _ := book.Submit(buy)

	var total int64
	for _, f := range fills {
		if f.Quantity <= 0 {
			t.Errorf("fill with non-positive quantity: %d", f.Quantity)
		}
		total += f.Quantity
	}
	// Sum of fill volumes equals the smaller pre-match remaining volume.
	if total != 35 {
		t.Errorf("expected 35 filled, got %d", total)
	}
	if buy.Remaining() != 15 {
		t.Errorf("expected aggressor remainder 15, got %d", buy.Remaining())
	}
}
