package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"a2e/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ OrderStore = (*SQLiteStore)(nil)
var _ RunLogStore = (*SQLiteStore)(nil)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// SQLiteStore implements OrderStore and RunLogStore backed by a SQLite
// database.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS orders (
	id               TEXT PRIMARY KEY,
	symbol           TEXT NOT NULL,
	side             TEXT NOT NULL,
	type             TEXT NOT NULL,
	qty              REAL NOT NULL,
	limit_price      REAL NOT NULL DEFAULT 0,
	status           TEXT NOT NULL,
	filled_qty       REAL NOT NULL DEFAULT 0,
	filled_avg_price REAL NOT NULL DEFAULT 0,
	created_at       INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status, created_at DESC);

CREATE TABLE IF NOT EXISTS run_entries (
	run_id TEXT NOT NULL,
	seq    INTEGER NOT NULL,
	entry  TEXT NOT NULL,
	PRIMARY KEY (run_id, seq)
);
`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", dbPath, err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// OrderStore implementation
// ---------------------------------------------------------------------------

// SaveOrder inserts the order, or replaces the existing row on a repeated
// save. Orders are saved at every status transition, so replacement is the
// common case.
func (s *SQLiteStore) SaveOrder(ctx context.Context, order *domain.Order) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders
			(id, symbol, side, type, qty, limit_price, status, filled_qty, filled_avg_price, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			filled_qty = excluded.filled_qty,
			filled_avg_price = excluded.filled_avg_price,
			updated_at = excluded.updated_at`,
		order.ID, order.Symbol, string(order.Side), string(order.Type),
		order.Qty, order.LimitPrice, string(order.Status),
		order.FilledQty, order.FilledAvgPrice,
		order.CreatedAt.UnixMilli(), order.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("saving order %s: %w", order.ID, err)
	}
	return nil
}

// GetOrder retrieves a single order by its ID. Returns ErrNotFound for an
// unknown ID.
func (s *SQLiteStore) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, symbol, side, type, qty, limit_price, status, filled_qty, filled_avg_price, created_at, updated_at
		FROM orders WHERE id = ?`, id)

	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: order %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting order %s: %w", id, err)
	}
	return order, nil
}

// ListOrders returns all orders with the given status, newest first.
func (s *SQLiteStore) ListOrders(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, side, type, qty, limit_price, status, filled_qty, filled_avg_price, created_at, updated_at
		FROM orders WHERE status = ? ORDER BY created_at DESC, id DESC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("listing %s orders: %w", status, err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("listing %s orders: %w", status, err)
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(r rowScanner) (*domain.Order, error) {
	var o domain.Order
	var side, typ, status string
	var createdAt, updatedAt int64
	if err := r.Scan(&o.ID, &o.Symbol, &side, &typ, &o.Qty, &o.LimitPrice,
		&status, &o.FilledQty, &o.FilledAvgPrice, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	o.Side = domain.OrderSide(side)
	o.Type = domain.OrderType(typ)
	o.Status = domain.OrderStatus(status)
	o.CreatedAt = time.UnixMilli(createdAt).UTC()
	o.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &o, nil
}

// ---------------------------------------------------------------------------
// RunLogStore implementation
// ---------------------------------------------------------------------------

// SaveRunEntries appends entries for a named run, continuing the run's
// sequence numbering. Entries are stored as JSON, matching the run-log
// export format.
func (s *SQLiteStore) SaveRunEntries(ctx context.Context, runID string, entries []domain.RunEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("saving run entries for %s: %w", runID, err)
	}
	defer tx.Rollback()

	var next int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), -1) + 1 FROM run_entries WHERE run_id = ?`, runID).Scan(&next); err != nil {
		return fmt.Errorf("saving run entries for %s: %w", runID, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO run_entries (run_id, seq, entry) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("saving run entries for %s: %w", runID, err)
	}
	defer stmt.Close()

	for i, e := range entries {
		blob, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encoding run entry %d: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx, runID, next+int64(i), blob); err != nil {
			return fmt.Errorf("saving run entry %d for %s: %w", i, runID, err)
		}
	}
	return tx.Commit()
}

// ListRunEntries returns all entries for a named run in append order.
func (s *SQLiteStore) ListRunEntries(ctx context.Context, runID string) ([]domain.RunEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entry FROM run_entries WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing run entries for %s: %w", runID, err)
	}
	defer rows.Close()

	var entries []domain.RunEntry
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("listing run entries for %s: %w", runID, err)
		}
		var e domain.RunEntry
		if err := json.Unmarshal(blob, &e); err != nil {
			return nil, fmt.Errorf("decoding run entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
