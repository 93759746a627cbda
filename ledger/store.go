/*
store.go - Transactional persistence interfaces

PURPOSE:
  Defines the contract between the accounting engines and the database.
  The engines never touch storage directly; every mutation happens inside
  RunTransaction, which gives all-or-nothing semantics with optimistic
  conflict detection.

TRANSACTION MODEL:
  RunTransaction executes fn against a Tx view. Reads inside the view
  observe a consistent snapshot; writes are buffered (or held in a database
  transaction) and become visible atomically at commit. If another committed
  transaction changed any document this one read, commit fails with
  ErrConflict and the store re-runs fn from scratch, up to DefaultTxAttempts
  times. After that the error surfaces as ErrRetriesExhausted.

  fn must therefore be a pure read-compute-write cycle: no side effects
  outside the Tx, because it may run more than once.

APPEND-ONLY CONTRACT:
  Ledger entries have AppendEntry and read queries only. There is no update
  or delete for entries, and no API that changes an account balance without
  an accompanying entry (see balance.go).

IMPLEMENTATIONS:
  - store/sqlite:        production store
  - ledger/store.Memory: in-memory store for tests and dev
*/
package ledger

import "context"

// DefaultTxAttempts bounds how often a conflicting transaction is re-run
// before RunTransaction gives up with ErrRetriesExhausted.
const DefaultTxAttempts = 5

// =============================================================================
// TX - Per-transaction view of the store
// =============================================================================

// Tx is the read/write handle passed to a transaction function. All reads
// record the document version so the commit can detect interference.
// Missing documents are returned as nil with a nil error.
type Tx interface {
	Account(ctx context.Context, uid string) (*Account, error)
	PutAccount(ctx context.Context, a Account) error

	DailyStepRecord(ctx context.Context, uid, date string) (*DailyStepRecord, error)
	PutDailyStepRecord(ctx context.Context, rec DailyStepRecord) error

	Reward(ctx context.Context, id string) (*Reward, error)
	PutReward(ctx context.Context, rw Reward) error

	PutOrder(ctx context.Context, o Order) error

	// AppendEntry adds an immutable ledger entry. The ONLY entry write.
	AppendEntry(ctx context.Context, e LedgerEntry) error
}

// =============================================================================
// STORE - Transactions plus boundary reads
// =============================================================================

// Store is the full persistence surface. The boundary operations outside
// RunTransaction are pure reads or idempotent upserts; they carry no
// invariant beyond ordering and never touch balances.
type Store interface {
	// RunTransaction executes fn atomically, retrying bounded times on
	// optimistic conflicts. If fn returns an error the transaction is
	// rolled back and the error returned unchanged.
	RunTransaction(ctx context.Context, fn func(tx Tx) error) error

	// GetAccount returns an account outside any transaction, nil if missing.
	GetAccount(ctx context.Context, uid string) (*Account, error)

	// UpsertAccount provisions a zeroed account for a new identity.
	// Idempotent merge semantics: a retry never clobbers later writes.
	UpsertAccount(ctx context.Context, uid string) error

	// Entries returns the newest ledger entries for a user, timestamp
	// descending, at most limit rows (DefaultWalletLimit if limit <= 0).
	Entries(ctx context.Context, uid string, limit int) ([]LedgerEntry, error)

	// ActiveRewards returns rewards with Active=true, cost ascending.
	ActiveRewards(ctx context.Context) ([]Reward, error)

	// OrdersByUser returns a user's orders, newest first.
	OrdersByUser(ctx context.Context, uid string) ([]Order, error)

	// SaveReward creates or replaces a catalog entry. Operator path only.
	SaveReward(ctx context.Context, rw Reward) error
}

// DefaultWalletLimit is the page size for wallet history when the caller
// does not specify one.
const DefaultWalletLimit = 20
