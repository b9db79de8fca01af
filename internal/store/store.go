package store

import (
	"database/sql"
	"time"

	_ "modernc.org/sqlite"
)

// Store provides SQLite persistence for the exchange simulator: the
// fill ledger, portfolios and holdings, the instrument list with
// reference prices, and user accounts.
type Store struct {
	db *sql.DB
}

// New creates a Store and provisions the schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// A single connection keeps in-memory databases coherent and
	// serializes writes, which SQLite requires anyway.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS portfolios (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		cash INTEGER NOT NULL DEFAULT 10000000,  -- $100,000 in cents
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS holdings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		portfolio_id TEXT NOT NULL REFERENCES portfolios(id),
		symbol TEXT NOT NULL,
		quantity INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(portfolio_id, symbol)
	);

	CREATE TABLE IF NOT EXISTS instruments (
		symbol TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		last_close INTEGER NOT NULL  -- in cents
	);

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		price INTEGER NOT NULL,
		quantity INTEGER NOT NULL,
		buy_order_id TEXT NOT NULL,
		sell_order_id TEXT NOT NULL,
		buyer_portfolio_id TEXT,
		seller_portfolio_id TEXT,
		executed_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		token TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		portfolio_id TEXT NOT NULL REFERENCES portfolios(id),
		expires_at DATETIME NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_portfolios_user ON portfolios(user_id);
	CREATE INDEX IF NOT EXISTS idx_holdings_portfolio ON holdings(portfolio_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_symbol ON transactions(symbol);
	`
	_, err := s.db.Exec(schema)
	return err
}

// User is a registered player.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Portfolio holds a user's cash balance in cents.
type Portfolio struct {
	ID        string
	UserID    string
	Cash      int64
	CreatedAt time.Time
}

// Holding is a portfolio's share count in one instrument.
type Holding struct {
	ID          int64
	PortfolioID string
	Symbol      string
	Quantity    int64
	UpdatedAt   time.Time
}

// Instrument is a tradable symbol with its last settled price.
type Instrument struct {
	Symbol    string
	Name      string
	LastClose int64 // cents
}

// Transaction is one persisted fill.
type Transaction struct {
	ID                string
	Symbol            string
	Price             int64
	Quantity          int64
	BuyOrderID        string
	SellOrderID       string
	BuyerPortfolioID  string
	SellerPortfolioID string
	ExecutedAt        time.Time
}
