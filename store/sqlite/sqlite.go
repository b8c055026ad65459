/*
Package sqlite provides a SQLite-backed implementation of the ledger storage interfaces.

PURPOSE:
  Implements ledger.TxStore and ledger.AuditStore using SQLite through sqlx.
  Every invariant guard is a single conditional UPDATE whose affected-row
  count tells the caller whether the guard held.

INTERFACES IMPLEMENTED:
  ledger.Store:      products, pharmacies, both ledgers, orders, returns
  ledger.TxStore:    WithTx unit of work
  ledger.AuditStore: drift snapshots and audit runs

APPEND-ONLY ENFORCEMENT:
  stock_txs and balance_txs only ever see INSERT. Triggers reject UPDATE
  and DELETE on both tables so a stray statement fails loudly.

KEY TABLES:
  products, pharmacies:   running totals (quantity, balance)
  stock_txs, balance_txs: immutable ledgers
  orders, order_items:    purchase documents; order_items carries the
                          reserved_return_qty counter
  returns, return_items:  return documents
  audit_runs:             results of ledger.Audit

MONEY:
  Stored as INTEGER minor units (cents). Conversion happens only in this
  package (toMinor / fromMinor).

CONCURRENCY:
  Writers are serialized by a mutex around WithTx, and transactions begin
  IMMEDIATE so a second process waits on busy_timeout instead of failing
  mid-transaction. Every query inside fn runs on the transaction handle.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - ledger/store.go: interface definitions
  - ledger.go, orders.go, returns.go, catalog.go, audit.go: queries by area
*/
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/supply-ledger/ledger"
)

// Options tunes the connection pool.
type Options struct {
	MaxOpenConns  int
	BusyTimeoutMS int
}

// DefaultOptions returns the settings used by New.
func DefaultOptions() Options {
	return Options{MaxOpenConns: 4, BusyTimeoutMS: 5000}
}

// Store implements the ledger storage interfaces using SQLite.
type Store struct {
	queries
	db *sqlx.DB
	mu sync.Mutex
}

var (
	_ ledger.TxStore    = (*Store)(nil)
	_ ledger.AuditStore = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	return Open(dbPath, DefaultOptions())
}

// Open is New with explicit pool options.
func Open(dbPath string, opts Options) (*Store, error) {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=%d&_txlock=immediate",
		dbPath, opts.BusyTimeoutMS)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Each connection to :memory: is its own database.
	if dbPath == ":memory:" || opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 1
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetConnMaxLifetime(0)

	store := &Store{queries: queries{ext: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for health checks and tests.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS products (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		code TEXT NOT NULL UNIQUE,
		unit TEXT NOT NULL DEFAULT '',
		unit_price INTEGER NOT NULL CHECK (unit_price >= 0),
		quantity INTEGER NOT NULL DEFAULT 0 CHECK (quantity >= 0),
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pharmacies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		region TEXT NOT NULL DEFAULT '',
		contact TEXT NOT NULL DEFAULT '',
		balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
		created_at TEXT NOT NULL
	);

	-- Stock ledger (append-only)
	CREATE TABLE IF NOT EXISTS stock_txs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		product_id INTEGER NOT NULL REFERENCES products(id),
		tx_type TEXT NOT NULL,
		amount INTEGER NOT NULL CHECK (amount > 0),
		quantity_before INTEGER NOT NULL,
		quantity_after INTEGER NOT NULL,
		reference_type TEXT,
		reference_id INTEGER,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_stock_txs_product
		ON stock_txs(product_id, id DESC);
	CREATE INDEX IF NOT EXISTS idx_stock_txs_created
		ON stock_txs(created_at DESC);

	CREATE TRIGGER IF NOT EXISTS stock_txs_no_update BEFORE UPDATE ON stock_txs
	BEGIN
		SELECT RAISE(ABORT, 'stock_txs is append-only');
	END;
	CREATE TRIGGER IF NOT EXISTS stock_txs_no_delete BEFORE DELETE ON stock_txs
	BEGIN
		SELECT RAISE(ABORT, 'stock_txs is append-only');
	END;

	-- Balance ledger (append-only)
	CREATE TABLE IF NOT EXISTS balance_txs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pharmacy_id INTEGER NOT NULL REFERENCES pharmacies(id),
		tx_type TEXT NOT NULL,
		amount INTEGER NOT NULL CHECK (amount >= 0),
		balance_before INTEGER NOT NULL,
		balance_after INTEGER NOT NULL,
		reference_type TEXT,
		reference_id INTEGER,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_balance_txs_pharmacy
		ON balance_txs(pharmacy_id, id DESC);
	CREATE INDEX IF NOT EXISTS idx_balance_txs_type
		ON balance_txs(pharmacy_id, tx_type);

	CREATE TRIGGER IF NOT EXISTS balance_txs_no_update BEFORE UPDATE ON balance_txs
	BEGIN
		SELECT RAISE(ABORT, 'balance_txs is append-only');
	END;
	CREATE TRIGGER IF NOT EXISTS balance_txs_no_delete BEFORE DELETE ON balance_txs
	BEGIN
		SELECT RAISE(ABORT, 'balance_txs is append-only');
	END;

	CREATE TABLE IF NOT EXISTS orders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pharmacy_id INTEGER NOT NULL REFERENCES pharmacies(id),
		status TEXT NOT NULL,
		total_price INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_orders_pharmacy
		ON orders(pharmacy_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_orders_status
		ON orders(status);

	CREATE TABLE IF NOT EXISTS order_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id INTEGER NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		product_id INTEGER NOT NULL REFERENCES products(id),
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		unit_price INTEGER NOT NULL,
		subtotal INTEGER NOT NULL,
		reserved_return_qty INTEGER NOT NULL DEFAULT 0
			CHECK (reserved_return_qty >= 0 AND reserved_return_qty <= quantity),
		UNIQUE (order_id, product_id)
	);

	CREATE TABLE IF NOT EXISTS returns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pharmacy_id INTEGER NOT NULL REFERENCES pharmacies(id),
		order_id INTEGER NOT NULL REFERENCES orders(id),
		reason TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		total_price INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_returns_order
		ON returns(order_id);
	CREATE INDEX IF NOT EXISTS idx_returns_pharmacy
		ON returns(pharmacy_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS return_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		return_id INTEGER NOT NULL REFERENCES returns(id) ON DELETE CASCADE,
		order_item_id INTEGER NOT NULL REFERENCES order_items(id),
		product_id INTEGER NOT NULL REFERENCES products(id),
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		unit_price INTEGER NOT NULL,
		subtotal INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS audit_runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		products_checked INTEGER NOT NULL,
		pharmacies_checked INTEGER NOT NULL,
		drift_count INTEGER NOT NULL,
		drifts_json TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&txStore{queries: queries{ext: tx}}); err != nil {
		return err
	}
	return tx.Commit()
}

// txStore is the ledger.Store handed to WithTx callbacks. It shares every
// query with Store but runs them on the transaction.
type txStore struct {
	queries
}

// queries holds all statements behind ledger.Store. ext is either the
// *sqlx.DB or the *sqlx.Tx of an open transaction.
type queries struct {
	ext sqlx.ExtContext
}

// =============================================================================
// HELPERS
// =============================================================================

// timeLayout is fixed-width so TEXT comparison orders chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// toMinor converts money to cents. Values that do not fit in an INTEGER
// column are ErrInvalidAmount rather than wrapped.
func toMinor(d decimal.Decimal) (int64, error) {
	cents := d.Shift(ledger.MoneyPlaces).Round(0).BigInt()
	if !cents.IsInt64() {
		return 0, fmt.Errorf("%w: %s is out of range", ledger.ErrInvalidAmount, d)
	}
	return cents.Int64(), nil
}

func fromMinor(v int64) decimal.Decimal {
	return decimal.New(v, -ledger.MoneyPlaces)
}

func affected(res interface{ RowsAffected() (int64, error) }) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

// where accumulates AND-ed filter conditions for list queries.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, args ...any) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
}

func (w *where) timeRange(col string, r ledger.TimeRange) {
	if !r.From.IsZero() {
		w.add(col+" >= ?", formatTime(r.From))
	}
	if !r.To.IsZero() {
		w.add(col+" <= ?", formatTime(r.To))
	}
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// page runs a COUNT(*) and a LIMIT/OFFSET select with the same conditions.
func (q queries) page(ctx context.Context, dest any, selectSQL, countSQL, orderBy string, w *where, p ledger.PageRequest) (int, error) {
	p = p.Normalize()

	var total int
	if err := sqlx.GetContext(ctx, q.ext, &total, countSQL+w.String(), w.args...); err != nil {
		return 0, err
	}

	args := make([]any, 0, len(w.args)+2)
	args = append(args, w.args...)
	args = append(args, p.Size, p.Offset())
	query := selectSQL + w.String() + " ORDER BY " + orderBy + " LIMIT ? OFFSET ?"
	if err := sqlx.SelectContext(ctx, q.ext, dest, query, args...); err != nil {
		return 0, err
	}
	return total, nil
}
