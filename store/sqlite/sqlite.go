/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Persists everything the incentive engine needs: customers, the spend
  ledger, prize unlocks and unlock scanner runs. One Store satisfies
  customers.Store, so a service can be wired onto a single database.

INTERFACES IMPLEMENTED:
  ledger.Store:             Transaction persistence
  ledger.TransactionFinder: Single-transaction lookups for reversals
  customers.Directory:      Customer records
  customers.UnlockStore:    Prize unlocks

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on transactions table
  - No DELETE statements on transactions table (Reset aside)
  - Corrections via reversal transactions only

KEY TABLES:
  customers:     Retail and wholesale buyers
  transactions:  Immutable spend ledger
  tier_unlocks:  One row per customer and reached level
  scan_runs:     Unlock scanner history

CONSTRAINTS DOING DOMAIN WORK:
  - transactions.idempotency_key UNIQUE:  client retries are rejected
  - idx_unique_reversal:                  a transaction is reversed once
  - tier_unlocks(customer_id, level):     a prize is unlocked once

TIMESTAMPS:
  Stored as fixed-width UTC text so string order is time order.

USAGE:
  store, err := sqlite.New("./data/incentive.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := customers.NewService(store, incentive.DefaultTable(), "COP", log, m)

SEE ALSO:
  - ledger/store.go:    ledger interfaces
  - customers/types.go: directory and unlock interfaces
  - ledger/memory/:     in-memory ledger store for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/incentive-engine/customers"
	"github.com/warp/incentive-engine/incentive"
	"github.com/warp/incentive-engine/ledger"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (creating if needed) the database at dbPath and migrates it.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every pooled connection to ":memory:" would be its own database.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
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

// Ping checks the connection (used by /healthz).
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		phone TEXT,
		segment TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_customers_name
		ON customers(name);

	-- Spend ledger (append-only)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL REFERENCES customers(id),
		tx_type TEXT NOT NULL,
		effective_at TEXT NOT NULL,
		delta_value TEXT NOT NULL,
		currency TEXT NOT NULL,
		reference_id TEXT,
		reason TEXT,
		idempotency_key TEXT UNIQUE,
		metadata_json TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	-- Replay path
	CREATE INDEX IF NOT EXISTS idx_transactions_customer_date
		ON transactions(customer_id, effective_at, created_at);

	CREATE INDEX IF NOT EXISTS idx_transactions_reference
		ON transactions(reference_id) WHERE reference_id IS NOT NULL;

	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_reversal
		ON transactions(reference_id) WHERE tx_type = 'reversal';

	CREATE TABLE IF NOT EXISTS tier_unlocks (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL REFERENCES customers(id),
		level INTEGER NOT NULL,
		threshold INTEGER NOT NULL,
		prize TEXT NOT NULL,
		transaction_id TEXT,
		unlocked_at TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		delivered_at TEXT,
		UNIQUE(customer_id, level)
	);

	CREATE INDEX IF NOT EXISTS idx_tier_unlocks_status
		ON tier_unlocks(status);

	CREATE TABLE IF NOT EXISTS scan_runs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		customers INTEGER NOT NULL DEFAULT 0,
		unlocked INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_scan_runs_started
		ON scan_runs(started_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTION STORE (ledger.Store interface)
// =============================================================================

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) Append(ctx context.Context, tx ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return appendTx(ctx, s.db, tx)
}

func appendTx(ctx context.Context, db execer, tx ledger.Transaction) error {
	var metadata sql.NullString
	if len(tx.Metadata) > 0 {
		b, err := json.Marshal(tx.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}
		metadata = sql.NullString{String: string(b), Valid: true}
	}

	createdAt := tx.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO transactions
		(id, customer_id, tx_type, effective_at, delta_value, currency,
		 reference_id, reason, idempotency_key, metadata_json, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, query,
		tx.ID,
		tx.CustomerID,
		tx.Type,
		formatTime(tx.EffectiveAt),
		tx.Delta.Value.String(),
		tx.Delta.Currency,
		nullString(tx.ReferenceID),
		nullString(tx.Reason),
		nullString(tx.IdempotencyKey),
		metadata,
		nullString(tx.CreatedBy),
		formatTime(createdAt),
	)
	if err != nil {
		return translateInsertError(err)
	}
	return nil
}

// translateInsertError maps constraint violations onto ledger errors.
func translateInsertError(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch {
		case sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique && strings.Contains(sqliteErr.Error(), "reference_id"):
			return ledger.ErrAlreadyReversed
		case sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique,
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
			return ledger.ErrDuplicateIdempotencyKey
		case sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey:
			return ledger.ErrCustomerNotFound
		}
	}
	return fmt.Errorf("failed to append transaction: %w", err)
}

// AppendBatch adds multiple transactions atomically.
func (s *Store) AppendBatch(ctx context.Context, txs []ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make(map[string]bool)
	for _, tx := range txs {
		if tx.IdempotencyKey != "" {
			if keys[tx.IdempotencyKey] {
				return ledger.ErrDuplicateIdempotencyKey
			}
			keys[tx.IdempotencyKey] = true
		}
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, tx := range txs {
		if err := appendTx(ctx, sqlTx, tx); err != nil {
			return err
		}
	}

	return sqlTx.Commit()
}

const selectTransactions = `
	SELECT id, customer_id, tx_type, effective_at, delta_value, currency,
	       reference_id, reason, idempotency_key, metadata_json, created_by, created_at
	FROM transactions
`

// Load returns the customer's transactions in replay order.
func (s *Store) Load(ctx context.Context, customerID ledger.CustomerID) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryTransactions(ctx,
		selectTransactions+` WHERE customer_id = ? ORDER BY effective_at ASC, created_at ASC`,
		customerID)
}

// LoadRange returns the customer's transactions in [from, to].
func (s *Store) LoadRange(ctx context.Context, customerID ledger.CustomerID, from, to time.Time) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryTransactions(ctx,
		selectTransactions+`
		WHERE customer_id = ? AND effective_at >= ? AND effective_at <= ?
		ORDER BY effective_at ASC, created_at ASC`,
		customerID, formatTime(from), formatTime(to))
}

func (s *Store) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE idempotency_key = ?",
		idempotencyKey,
	).Scan(&count)

	return count > 0, err
}

// GetTransaction returns nil, nil when id is unknown.
func (s *Store) GetTransaction(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txs, err := s.queryTransactions(ctx, selectTransactions+` WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, nil
	}
	return &txs[0], nil
}

func (s *Store) IsReversed(ctx context.Context, id ledger.TransactionID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM transactions WHERE reference_id = ? AND tx_type = 'reversal'",
		id,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// RecentTransactions returns the latest transactions across customers.
func (s *Store) RecentTransactions(ctx context.Context, limit int) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryTransactions(ctx, selectTransactions+` ORDER BY created_at DESC LIMIT ?`, limit)
}

func (s *Store) queryTransactions(ctx context.Context, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}

	return transactions, rows.Err()
}

func scanTransaction(rows *sql.Rows) (ledger.Transaction, error) {
	var (
		tx             ledger.Transaction
		effectiveAt    string
		deltaValue     string
		currency       string
		referenceID    sql.NullString
		reason         sql.NullString
		idempotencyKey sql.NullString
		metadataJSON   sql.NullString
		createdBy      sql.NullString
		createdAt      string
	)

	err := rows.Scan(
		&tx.ID, &tx.CustomerID, &tx.Type, &effectiveAt, &deltaValue, &currency,
		&referenceID, &reason, &idempotencyKey, &metadataJSON, &createdBy, &createdAt,
	)
	if err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	value, err := decimal.NewFromString(deltaValue)
	if err != nil {
		return tx, fmt.Errorf("transaction %s: bad delta %q: %w", tx.ID, deltaValue, err)
	}
	tx.Delta = ledger.Amount{Value: value, Currency: ledger.Currency(currency)}
	tx.EffectiveAt = parseTime(effectiveAt)
	tx.CreatedAt = parseTime(createdAt)
	tx.ReferenceID = referenceID.String
	tx.Reason = reason.String
	tx.IdempotencyKey = idempotencyKey.String
	tx.CreatedBy = createdBy.String

	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &tx.Metadata); err != nil {
			return tx, fmt.Errorf("transaction %s: bad metadata: %w", tx.ID, err)
		}
	}

	return tx, nil
}

// =============================================================================
// CUSTOMERS (customers.Directory interface)
// =============================================================================

// SaveCustomer inserts or updates a customer.
func (s *Store) SaveCustomer(ctx context.Context, c customers.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO customers (id, name, email, phone, segment, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			phone = excluded.phone,
			segment = excluded.segment
	`

	_, err := s.db.ExecContext(ctx, query,
		c.ID, c.Name, nullString(c.Email), nullString(c.Phone), c.Segment, formatTime(c.CreatedAt),
	)
	return err
}

// GetCustomer returns nil, nil when id is unknown.
func (s *Store) GetCustomer(ctx context.Context, id ledger.CustomerID) (*customers.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list, err := s.queryCustomers(ctx, "SELECT id, name, email, phone, segment, created_at FROM customers WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return &list[0], nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]customers.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryCustomers(ctx, "SELECT id, name, email, phone, segment, created_at FROM customers ORDER BY name, id")
}

func (s *Store) queryCustomers(ctx context.Context, query string, args ...any) ([]customers.Customer, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query customers: %w", err)
	}
	defer rows.Close()

	var list []customers.Customer
	for rows.Next() {
		var (
			c            customers.Customer
			email, phone sql.NullString
			createdAt    string
		)
		if err := rows.Scan(&c.ID, &c.Name, &email, &phone, &c.Segment, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan customer: %w", err)
		}
		c.Email = email.String
		c.Phone = phone.String
		c.CreatedAt = parseTime(createdAt)
		list = append(list, c)
	}
	return list, rows.Err()
}

// =============================================================================
// UNLOCKS (customers.UnlockStore interface)
// =============================================================================

// SaveUnlocks inserts unlocks in one transaction. Rows for a customer+level
// that already exists are skipped; the inserted ones are returned.
func (s *Store) SaveUnlocks(ctx context.Context, unlocks []customers.Unlock) ([]customers.Unlock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	query := `
		INSERT INTO tier_unlocks
		(id, customer_id, level, threshold, prize, transaction_id, unlocked_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(customer_id, level) DO NOTHING
	`

	var inserted []customers.Unlock
	for _, u := range unlocks {
		if u.Status == "" {
			u.Status = customers.UnlockPending
		}
		res, err := sqlTx.ExecContext(ctx, query,
			u.ID, u.CustomerID, u.Level, int64(u.Threshold), u.Prize,
			nullString(string(u.TransactionID)), formatTime(u.UnlockedAt), u.Status,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to save unlock: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n > 0 {
			inserted = append(inserted, u)
		}
	}

	if err := sqlTx.Commit(); err != nil {
		return nil, err
	}
	return inserted, nil
}

const selectUnlocks = `
	SELECT id, customer_id, level, threshold, prize, transaction_id,
	       unlocked_at, status, delivered_at
	FROM tier_unlocks
`

// ListUnlocks returns the customer's unlocks, lowest level first.
func (s *Store) ListUnlocks(ctx context.Context, customerID ledger.CustomerID) ([]customers.Unlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryUnlocks(ctx, selectUnlocks+` WHERE customer_id = ? ORDER BY level`, customerID)
}

// PendingUnlocks returns every undelivered prize, oldest first.
func (s *Store) PendingUnlocks(ctx context.Context) ([]customers.Unlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryUnlocks(ctx, selectUnlocks+` WHERE status = 'pending' ORDER BY unlocked_at, level`)
}

// GetUnlock returns nil, nil when id is unknown.
func (s *Store) GetUnlock(ctx context.Context, id string) (*customers.Unlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list, err := s.queryUnlocks(ctx, selectUnlocks+` WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return &list[0], nil
}

func (s *Store) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE tier_unlocks SET status = 'delivered', delivered_at = ? WHERE id = ? AND status = 'pending'",
		formatTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark delivered: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tier_unlocks WHERE id = ?", id).Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		return customers.ErrUnlockNotFound
	}
	return customers.ErrAlreadyDelivered
}

func (s *Store) queryUnlocks(ctx context.Context, query string, args ...any) ([]customers.Unlock, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query unlocks: %w", err)
	}
	defer rows.Close()

	var list []customers.Unlock
	for rows.Next() {
		var (
			u           customers.Unlock
			threshold   int64
			txID        sql.NullString
			unlockedAt  string
			deliveredAt sql.NullString
		)
		if err := rows.Scan(&u.ID, &u.CustomerID, &u.Level, &threshold, &u.Prize, &txID,
			&unlockedAt, &u.Status, &deliveredAt); err != nil {
			return nil, fmt.Errorf("failed to scan unlock: %w", err)
		}
		u.Threshold = incentive.Money(threshold)
		u.TransactionID = ledger.TransactionID(txID.String)
		u.UnlockedAt = parseTime(unlockedAt)
		if deliveredAt.Valid {
			t := parseTime(deliveredAt.String)
			u.DeliveredAt = &t
		}
		list = append(list, u)
	}
	return list, rows.Err()
}

// =============================================================================
// SCAN RUNS
// =============================================================================

// ScanRun is one pass of the unlock scanner.
type ScanRun struct {
	ID          string
	Status      string // running, completed, failed
	Customers   int
	Unlocked    int
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}

// SaveScanRun inserts or updates a run by ID.
func (s *Store) SaveScanRun(ctx context.Context, r ScanRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO scan_runs (id, status, customers, unlocked, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			customers = excluded.customers,
			unlocked = excluded.unlocked,
			error = excluded.error,
			completed_at = excluded.completed_at
	`

	var completedAt sql.NullString
	if r.CompletedAt != nil {
		completedAt = sql.NullString{String: formatTime(*r.CompletedAt), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.Status, r.Customers, r.Unlocked, nullString(r.Error),
		formatTime(r.StartedAt), completedAt,
	)
	return err
}

// ListScanRuns returns the latest runs first. limit <= 0 means all.
func (s *Store) ListScanRuns(ctx context.Context, limit int) ([]ScanRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, customers, unlocked, error, started_at, completed_at
		FROM scan_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []ScanRun
	for rows.Next() {
		var (
			r           ScanRun
			runErr      sql.NullString
			startedAt   string
			completedAt sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Status, &r.Customers, &r.Unlocked, &runErr, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		r.Error = runErr.String
		r.StartedAt = parseTime(startedAt)
		if completedAt.Valid {
			t := parseTime(completedAt.String)
			r.CompletedAt = &t
		}
		runs = append(runs, r)
	}

	return runs, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for demo scenarios and tests).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"tier_unlocks", "transactions", "scan_runs", "customers"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}
