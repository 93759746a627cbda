/*
Package sqlite provides the SQLite-backed implementation of ledger.Store.

PURPOSE:
  Persists accounts, daily step records, rewards, orders, and the
  append-only ledger. In production the same patterns apply to PostgreSQL -
  only minor SQL dialect differences.

OPTIMISTIC CONCURRENCY:
  Every mutable row (accounts, daily_steps, rewards) carries a version
  column. Transaction reads record the version they observed; writes update
  WHERE version = observed and fail with ledger.ErrConflict when zero rows
  match. RunTransaction re-runs the whole function on conflict or on a
  busy/locked database, bounded by ledger.DefaultTxAttempts.

APPEND-ONLY ENFORCEMENT:
  ledger_entries has INSERT and SELECT paths only. No UPDATE, no DELETE.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging): readers don't block,
  one writer at a time, better crash recovery.

USAGE:
  st, err := sqlite.New("./data/stride.db")   // ":memory:" for tests
  if err != nil { log.Fatal(err) }
  defer st.Close()

SEE ALSO:
  - ledger/store.go: interface contract
  - ledger/store/memory.go: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/stridecoin/stride/ledger"
	"github.com/stridecoin/stride/metrics"
)

// Store implements ledger.Store on SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

var _ ledger.Store = (*Store)(nil)

// New opens (or creates) the database and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Accounts (one mutable balance document per user)
	CREATE TABLE IF NOT EXISTS accounts (
		uid TEXT PRIMARY KEY,
		balance TEXT NOT NULL DEFAULT '0',
		lifetime_steps INTEGER NOT NULL DEFAULT 0,
		lifetime_coins TEXT NOT NULL DEFAULT '0',
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	-- Daily step records, one per (uid, calendar date)
	CREATE TABLE IF NOT EXISTS daily_steps (
		uid TEXT NOT NULL,
		date TEXT NOT NULL,
		steps INTEGER NOT NULL,
		earned_steps INTEGER NOT NULL,
		device_id TEXT,
		last_sync TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (uid, date)
	);

	-- Ledger entries (append-only; no UPDATE or DELETE paths exist)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		uid TEXT NOT NULL,
		entry_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		description TEXT,
		reference_id TEXT,
		created_at TEXT NOT NULL
	);

	-- Wallet history hot path: newest entries per user
	CREATE INDEX IF NOT EXISTS idx_ledger_uid_created
		ON ledger_entries(uid, created_at DESC);

	-- Rewards catalog
	CREATE TABLE IF NOT EXISTS rewards (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		cost TEXT NOT NULL,
		stock INTEGER NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rewards_active_cost
		ON rewards(active, cost);

	-- Orders (immutable identity; status advanced by fulfillment)
	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		reward_id TEXT NOT NULL,
		reward_name TEXT NOT NULL,
		cost TEXT NOT NULL,
		shipping_json TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_orders_user
		ON orders(user_id, created_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// RunTransaction executes fn in a database transaction, re-running the whole
// read-compute-write cycle on optimistic conflicts, bounded attempts.
func (s *Store) RunTransaction(ctx context.Context, fn func(tx ledger.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < ledger.DefaultTxAttempts; attempt++ {
		err := s.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !ledger.IsRetryable(err) && !isBusyError(err) {
			return err
		}
		metrics.TxConflicts.Inc()
		lastErr = err
	}
	return fmt.Errorf("%w: %v", ledger.ErrRetriesExhausted, lastErr)
}

func (s *Store) runOnce(ctx context.Context, fn func(tx ledger.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	view := &txView{tx: sqlTx, vers: make(map[string]int64)}
	if err := fn(view); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txView is the in-transaction handle. Reads record row versions; writes
// validate them so interference from any out-of-band writer is detected.
type txView struct {
	tx   *sql.Tx
	vers map[string]int64 // docKey -> version observed (0 = absent)
}

var _ ledger.Tx = (*txView)(nil)

func accountKey(uid string) string    { return "account:" + uid }
func stepKey(uid, date string) string { return "steps:" + uid + ":" + date }
func rewardKey(id string) string      { return "reward:" + id }

func (v *txView) Account(ctx context.Context, uid string) (*ledger.Account, error) {
	var (
		a                       ledger.Account
		balance, coins, created string
		version                 int64
	)
	err := v.tx.QueryRowContext(ctx,
		`SELECT uid, balance, lifetime_steps, lifetime_coins, version, created_at
		 FROM accounts WHERE uid = ?`, uid,
	).Scan(&a.UID, &balance, &a.LifetimeSteps, &coins, &version, &created)
	if err == sql.ErrNoRows {
		v.vers[accountKey(uid)] = 0
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read account: %w", err)
	}

	v.vers[accountKey(uid)] = version
	a.Balance = mustDecimal(balance)
	a.LifetimeCoins = mustDecimal(coins)
	a.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return &a, nil
}

func (v *txView) PutAccount(ctx context.Context, a ledger.Account) error {
	seen, read := v.vers[accountKey(a.UID)]
	if !read || seen == 0 {
		// Accounts are provisioned out of band; engines always read first.
		res, err := v.tx.ExecContext(ctx,
			`INSERT INTO accounts (uid, balance, lifetime_steps, lifetime_coins, version, created_at)
			 VALUES (?, ?, ?, ?, 1, ?)
			 ON CONFLICT(uid) DO NOTHING`,
			a.UID, a.Balance.String(), a.LifetimeSteps, a.LifetimeCoins.String(),
			a.CreatedAt.UTC().Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("failed to insert account: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ledger.ErrConflict
		}
		return nil
	}

	res, err := v.tx.ExecContext(ctx,
		`UPDATE accounts
		 SET balance = ?, lifetime_steps = ?, lifetime_coins = ?, version = version + 1
		 WHERE uid = ? AND version = ?`,
		a.Balance.String(), a.LifetimeSteps, a.LifetimeCoins.String(), a.UID, seen)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrConflict
	}
	return nil
}

func (v *txView) DailyStepRecord(ctx context.Context, uid, date string) (*ledger.DailyStepRecord, error) {
	var (
		rec      ledger.DailyStepRecord
		device   sql.NullString
		lastSync string
		version  int64
	)
	err := v.tx.QueryRowContext(ctx,
		`SELECT uid, date, steps, earned_steps, device_id, last_sync, version
		 FROM daily_steps WHERE uid = ? AND date = ?`, uid, date,
	).Scan(&rec.UID, &rec.Date, &rec.Steps, &rec.EarnedSteps, &device, &lastSync, &version)
	if err == sql.ErrNoRows {
		v.vers[stepKey(uid, date)] = 0
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read daily steps: %w", err)
	}

	v.vers[stepKey(uid, date)] = version
	rec.DeviceID = device.String
	rec.LastSync, _ = time.Parse(time.RFC3339, lastSync)
	return &rec, nil
}

func (v *txView) PutDailyStepRecord(ctx context.Context, rec ledger.DailyStepRecord) error {
	seen, read := v.vers[stepKey(rec.UID, rec.Date)]
	if !read || seen == 0 {
		res, err := v.tx.ExecContext(ctx,
			`INSERT INTO daily_steps (uid, date, steps, earned_steps, device_id, last_sync, version)
			 VALUES (?, ?, ?, ?, ?, ?, 1)
			 ON CONFLICT(uid, date) DO NOTHING`,
			rec.UID, rec.Date, rec.Steps, rec.EarnedSteps,
			nullString(rec.DeviceID), rec.LastSync.UTC().Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("failed to insert daily steps: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ledger.ErrConflict
		}
		return nil
	}

	res, err := v.tx.ExecContext(ctx,
		`UPDATE daily_steps
		 SET steps = ?, earned_steps = ?, device_id = ?, last_sync = ?, version = version + 1
		 WHERE uid = ? AND date = ? AND version = ?`,
		rec.Steps, rec.EarnedSteps, nullString(rec.DeviceID),
		rec.LastSync.UTC().Format(time.RFC3339), rec.UID, rec.Date, seen)
	if err != nil {
		return fmt.Errorf("failed to update daily steps: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrConflict
	}
	return nil
}

func (v *txView) Reward(ctx context.Context, id string) (*ledger.Reward, error) {
	rw, version, err := scanReward(v.tx.QueryRowContext(ctx,
		`SELECT id, name, cost, stock, active, version, created_at
		 FROM rewards WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		v.vers[rewardKey(id)] = 0
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read reward: %w", err)
	}

	v.vers[rewardKey(id)] = version
	return rw, nil
}

func (v *txView) PutReward(ctx context.Context, rw ledger.Reward) error {
	seen, read := v.vers[rewardKey(rw.ID)]
	if !read || seen == 0 {
		return fmt.Errorf("reward %s was not read in this transaction", rw.ID)
	}

	res, err := v.tx.ExecContext(ctx,
		`UPDATE rewards
		 SET name = ?, cost = ?, stock = ?, active = ?, version = version + 1
		 WHERE id = ? AND version = ?`,
		rw.Name, rw.Cost.String(), rw.Stock, rw.Active, rw.ID, seen)
	if err != nil {
		return fmt.Errorf("failed to update reward: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrConflict
	}
	return nil
}

func (v *txView) PutOrder(ctx context.Context, o ledger.Order) error {
	shippingJSON, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return fmt.Errorf("failed to encode shipping address: %w", err)
	}

	_, err = v.tx.ExecContext(ctx,
		`INSERT INTO orders (id, user_id, reward_id, reward_name, cost, shipping_json, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.UserID, o.RewardID, o.RewardName, o.Cost.String(),
		string(shippingJSON), string(o.Status), o.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

func (v *txView) AppendEntry(ctx context.Context, e ledger.LedgerEntry) error {
	_, err := v.tx.ExecContext(ctx,
		`INSERT INTO ledger_entries (id, uid, entry_type, amount, description, reference_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UID, string(e.Type), e.Amount.String(), e.Description,
		nullString(e.ReferenceID), e.Timestamp.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

// =============================================================================
// BOUNDARY READS / PROVISIONING
// =============================================================================

// GetAccount returns an account outside any transaction, nil if missing.
func (s *Store) GetAccount(ctx context.Context, uid string) (*ledger.Account, error) {
	var (
		a                       ledger.Account
		balance, coins, created string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT uid, balance, lifetime_steps, lifetime_coins, created_at
		 FROM accounts WHERE uid = ?`, uid,
	).Scan(&a.UID, &balance, &a.LifetimeSteps, &coins, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read account: %w", err)
	}

	a.Balance = mustDecimal(balance)
	a.LifetimeCoins = mustDecimal(coins)
	a.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return &a, nil
}

// UpsertAccount provisions a zeroed account for a new identity. A retry is
// a no-op: DO NOTHING preserves any balance written since.
func (s *Store) UpsertAccount(ctx context.Context, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (uid, balance, lifetime_steps, lifetime_coins, version, created_at)
		 VALUES (?, '0', 0, '0', 1, ?)
		 ON CONFLICT(uid) DO NOTHING`,
		uid, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to provision account: %w", err)
	}
	return nil
}

// Entries returns the newest ledger entries for a user, timestamp descending.
func (s *Store) Entries(ctx context.Context, uid string, limit int) ([]ledger.LedgerEntry, error) {
	if limit <= 0 {
		limit = ledger.DefaultWalletLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, uid, entry_type, amount, description, reference_id, created_at
		 FROM ledger_entries
		 WHERE uid = ?
		 ORDER BY created_at DESC, rowid DESC
		 LIMIT ?`, uid, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.LedgerEntry
	for rows.Next() {
		var (
			e           ledger.LedgerEntry
			typ, amount string
			desc, ref   sql.NullString
			created     string
		)
		if err := rows.Scan(&e.ID, &e.UID, &typ, &amount, &desc, &ref, &created); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.Type = ledger.EntryType(typ)
		e.Amount = mustDecimal(amount)
		e.Description = desc.String
		e.ReferenceID = ref.String
		e.Timestamp, _ = time.Parse(time.RFC3339, created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ActiveRewards returns the catalog: active rewards, cost ascending.
func (s *Store) ActiveRewards(ctx context.Context) ([]ledger.Reward, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, cost, stock, active, version, created_at
		 FROM rewards
		 WHERE active = TRUE
		 ORDER BY CAST(cost AS REAL) ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rewards: %w", err)
	}
	defer rows.Close()

	var rewards []ledger.Reward
	for rows.Next() {
		rw, _, err := scanReward(rows)
		if err != nil {
			return nil, err
		}
		rewards = append(rewards, *rw)
	}
	return rewards, rows.Err()
}

// OrdersByUser returns a user's orders, newest first.
func (s *Store) OrdersByUser(ctx context.Context, uid string) ([]ledger.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, reward_id, reward_name, cost, shipping_json, status, created_at
		 FROM orders
		 WHERE user_id = ?
		 ORDER BY created_at DESC, rowid DESC`, uid)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []ledger.Order
	for rows.Next() {
		var (
			o                      ledger.Order
			cost, shipping, status string
			created                string
		)
		if err := rows.Scan(&o.ID, &o.UserID, &o.RewardID, &o.RewardName, &cost, &shipping, &status, &created); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		o.Cost = mustDecimal(cost)
		o.Status = ledger.OrderStatus(status)
		o.CreatedAt, _ = time.Parse(time.RFC3339, created)
		json.Unmarshal([]byte(shipping), &o.ShippingAddress)
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// SaveReward creates or replaces a catalog entry. Operator path only; never
// called from the engines.
func (s *Store) SaveReward(ctx context.Context, rw ledger.Reward) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	created := rw.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rewards (id, name, cost, stock, active, version, created_at)
		 VALUES (?, ?, ?, ?, ?, 1, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			cost = excluded.cost,
			stock = excluded.stock,
			active = excluded.active,
			version = rewards.version + 1`,
		rw.ID, rw.Name, rw.Cost.String(), rw.Stock, rw.Active,
		created.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save reward: %w", err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReward(row rowScanner) (*ledger.Reward, int64, error) {
	var (
		rw            ledger.Reward
		cost, created string
		version       int64
	)
	err := row.Scan(&rw.ID, &rw.Name, &cost, &rw.Stock, &rw.Active, &version, &created)
	if err != nil {
		return nil, 0, err
	}
	rw.Cost = mustDecimal(cost)
	rw.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return &rw, version, nil
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}
