package store

import (
	"context"
	"errors"
)

var ErrInstrumentNotFound = errors.New("instrument not found")

// defaultInstruments seeds a fresh database with a small tradable
// universe. Prices are last closes in cents.
var defaultInstruments = []Instrument{
	{Symbol: "ACME", Name: "Acme Industrial", LastClose: 15000},
	{Symbol: "GLOB", Name: "Global Logistics", LastClose: 8200},
	{Symbol: "NOVA", Name: "Nova Semiconductors", LastClose: 31500},
	{Symbol: "QBIT", Name: "Quantum Bit Computing", LastClose: 12400},
	{Symbol: "PETRA", Name: "Petra Energy", LastClose: 6800},
	{Symbol: "HELIX", Name: "Helix Biotech", LastClose: 20900},
}

// SeedInstruments inserts the default instrument set when the table is
// empty. Existing rows are left untouched.
func (s *Store) SeedInstruments() error {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM instruments").Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	for _, inst := range defaultInstruments {
		_, err := s.db.Exec(
			"INSERT INTO instruments (symbol, name, last_close) VALUES (?, ?, ?)",
			inst.Symbol, inst.Name, inst.LastClose,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// Instruments returns all tradable instruments.
func (s *Store) Instruments() ([]Instrument, error) {
	rows, err := s.db.Query("SELECT symbol, name, last_close FROM instruments ORDER BY symbol")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Instrument
	for rows.Next() {
		var inst Instrument
		if err := rows.Scan(&inst.Symbol, &inst.Name, &inst.LastClose); err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// ReferencePrices returns each instrument's last settled price in
// cents. This is the simulator's price anchor.
func (s *Store) ReferencePrices(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT symbol, last_close FROM instruments")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	prices := make(map[string]int64)
	for rows.Next() {
		var symbol string
		var price int64
		if err := rows.Scan(&symbol, &price); err != nil {
			return nil, err
		}
		prices[symbol] = price
	}
	return prices, rows.Err()
}

// UpdateLastClose settles an instrument's reference price.
func (s *Store) UpdateLastClose(symbol string, price int64) error {
	res, err := s.db.Exec("UPDATE instruments SET last_close = ? WHERE symbol = ?", price, symbol)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrInstrumentNotFound
	}
	return nil
}
