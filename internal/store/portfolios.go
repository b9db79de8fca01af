package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var ErrPortfolioNotFound = errors.New("portfolio not found")

// GetPortfolioByUserID retrieves the portfolio for a user.
func (s *Store) GetPortfolioByUserID(userID string) (*Portfolio, error) {
	p := &Portfolio{}
	err := s.db.QueryRow(
		"SELECT id, user_id, cash, created_at FROM portfolios WHERE user_id = ?",
		userID,
	).Scan(&p.ID, &p.UserID, &p.Cash, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrPortfolioNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetPortfolioByID retrieves a portfolio by its ID.
func (s *Store) GetPortfolioByID(portfolioID string) (*Portfolio, error) {
	p := &Portfolio{}
	err := s.db.QueryRow(
		"SELECT id, user_id, cash, created_at FROM portfolios WHERE id = ?",
		portfolioID,
	).Scan(&p.ID, &p.UserID, &p.Cash, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrPortfolioNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// AdjustPortfolio applies one fill's effect to a portfolio: a cash
// delta and a holding delta for the traded symbol, inside a single SQL
// transaction. Called once per fill per owning side.
func (s *Store) AdjustPortfolio(ctx context.Context, portfolioID, symbol string, cashDelta, qtyDelta int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE portfolios SET cash = cash + ? WHERE id = ?",
		cashDelta, portfolioID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrPortfolioNotFound
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO holdings (portfolio_id, symbol, quantity, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(portfolio_id, symbol)
		DO UPDATE SET quantity = quantity + excluded.quantity, updated_at = excluded.updated_at`,
		portfolioID, symbol, qtyDelta, time.Now(),
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// GetHoldings returns all holdings for a portfolio.
func (s *Store) GetHoldings(portfolioID string) ([]*Holding, error) {
	rows, err := s.db.Query(
		"SELECT id, portfolio_id, symbol, quantity, updated_at FROM holdings WHERE portfolio_id = ? ORDER BY symbol",
		portfolioID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holdings []*Holding
	for rows.Next() {
		h := &Holding{}
		if err := rows.Scan(&h.ID, &h.PortfolioID, &h.Symbol, &h.Quantity, &h.UpdatedAt); err != nil {
			return nil, err
		}
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}
