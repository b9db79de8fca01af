package store

import (
	"context"

	"bourse/internal/orderbook"
)

// RecordFill persists a matched trade. The in-memory book is the source
// of truth; callers treat a failure here as a logged warning, not a
// reason to unwind the match.
func (s *Store) RecordFill(ctx context.Context, fill orderbook.Fill) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions
			(id, symbol, price, quantity, buy_order_id, sell_order_id,
			 buyer_portfolio_id, seller_portfolio_id, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fill.ID, fill.Symbol, fill.Price, fill.Quantity,
		fill.BuyOrderID, fill.SellOrderID,
		fill.BuyerPortfolioID, fill.SellerPortfolioID, fill.Timestamp,
	)
	return err
}

// RecentTransactions returns the latest fills for a symbol, newest
// first.
func (s *Store) RecentTransactions(symbol string, limit int) ([]*Transaction, error) {
	rows, err := s.db.Query(`
		SELECT id, symbol, price, quantity, buy_order_id, sell_order_id,
		       buyer_portfolio_id, seller_portfolio_id, executed_at
		FROM transactions WHERE symbol = ?
		ORDER BY executed_at DESC LIMIT ?`,
		symbol, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []*Transaction
	for rows.Next() {
		t := &Transaction{}
		if err := rows.Scan(&t.ID, &t.Symbol, &t.Price, &t.Quantity,
			&t.BuyOrderID, &t.SellOrderID,
			&t.BuyerPortfolioID, &t.SellerPortfolioID, &t.ExecutedAt); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}
