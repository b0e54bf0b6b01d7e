package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"optionsfi-keeper/internal/state"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps :memory: databases coherent and serializes writers.
	db.SetMaxOpenConns(1)
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS kv (key TEXT PRIMARY KEY, value TEXT NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS price_samples (
			symbol TEXT NOT NULL,
			ts_ms INTEGER NOT NULL,
			price REAL NOT NULL,
			PRIMARY KEY (symbol, ts_ms)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	return err
}

func (s *Store) AppendPrice(ctx context.Context, p state.PricePoint) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO price_samples (symbol, ts_ms, price) VALUES (?, ?, ?) ON CONFLICT(symbol, ts_ms) DO UPDATE SET price = excluded.price`,
		p.Symbol, p.Time.UnixMilli(), p.Price)
	return err
}

func (s *Store) PriceHistory(ctx context.Context, symbol string, since time.Time) ([]state.PricePoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts_ms, price FROM price_samples WHERE symbol = ? AND ts_ms >= ? ORDER BY ts_ms ASC`,
		symbol, since.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []state.PricePoint
	for rows.Next() {
		var ts int64
		var price float64
		if err := rows.Scan(&ts, &price); err != nil {
			return nil, err
		}
		out = append(out, state.PricePoint{Symbol: symbol, Time: time.UnixMilli(ts).UTC(), Price: price})
	}
	return out, rows.Err()
}

func (s *Store) PrunePrices(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM price_samples WHERE ts_ms < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) Close() error {
	return s.db.Close()
}
