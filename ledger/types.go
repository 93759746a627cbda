/*
Package ledger provides the core accounting model for the step-rewards engine.

PURPOSE:
  This package contains the shared data model and transactional discipline
  used by both the step accounting engine and the redemption engine. A user's
  coin balance is backed by an append-only ledger: every balance change is
  justified by exactly one immutable LedgerEntry written in the same atomic
  transaction.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account: wallet owner with balance and lifetime counters
  - DailyStepRecord: per-day step bookkeeping, keyed by (uid, date)
  - LedgerEntry: immutable record of a balance-affecting event
  - Reward / Order: redeemable inventory and its redemption records

DESIGN PRINCIPLES:
  1. Immutability: Ledger entries are never modified or deleted
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Auditability: balance is always derivable from the entry stream

SEE ALSO:
  - store.go: Transactional persistence interfaces
  - balance.go: Balance mutation helpers (the one way to change a balance)
  - errors.go: Error taxonomy
*/
package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DateFormat is the calendar-date key format used for daily step records
// and for earn entry references.
const DateFormat = "2006-01-02"

// =============================================================================
// ACCOUNT - Wallet owner
// =============================================================================

// Account is the single mutable balance document for a user.
//
// INVARIANT: Balance == sum of all LedgerEntry.Amount for this UID, at every
// observable point in time. The only way to uphold this is to mutate accounts
// exclusively through ApplyEntry inside a store transaction.
type Account struct {
	UID           string
	Balance       decimal.Decimal
	LifetimeSteps int64           // monotonic, total capped steps ever recorded
	LifetimeCoins decimal.Decimal // monotonic, total coins ever earned
	CreatedAt     time.Time
}

// =============================================================================
// DAILY STEP RECORD - One row per user per calendar day
// =============================================================================

// DailyStepRecord tracks a single day's reported and compensated steps.
// Steps holds the capped raw total; EarnedSteps holds the portion that has
// already produced coins. Both only ever increase.
type DailyStepRecord struct {
	UID         string
	Date        string // YYYY-MM-DD
	Steps       int64
	EarnedSteps int64
	DeviceID    string
	LastSync    time.Time
}

// =============================================================================
// LEDGER ENTRY - Immutable balance change
// =============================================================================

type EntryType string

const (
	EntryEarn  EntryType = "earn"  // steps converted to coins
	EntrySpend EntryType = "spend" // reward redemption
)

// LedgerEntry records one signed balance change. Append-only: no update,
// no delete, ever.
type LedgerEntry struct {
	ID          string
	UID         string
	Type        EntryType
	Amount      decimal.Decimal // signed: positive for earn, negative for spend
	Description string
	ReferenceID string // date string for earns, order id for spends
	Timestamp   time.Time
}

// NewEntry builds a ledger entry with a fresh ID.
func NewEntry(uid string, typ EntryType, amount decimal.Decimal, description, referenceID string, at time.Time) LedgerEntry {
	return LedgerEntry{
		ID:          uuid.NewString(),
		UID:         uid,
		Type:        typ,
		Amount:      amount,
		Description: description,
		ReferenceID: referenceID,
		Timestamp:   at,
	}
}

// DerivedBalance replays entries and returns the signed sum.
// Used to audit the balance invariant.
func DerivedBalance(entries []LedgerEntry) decimal.Decimal {
	sum := decimal.Zero
	for _, e := range entries {
		sum = sum.Add(e.Amount)
	}
	return sum
}

// =============================================================================
// REWARD - Redeemable inventory
// =============================================================================

// Reward is a physical item purchasable with coins. Stock is decremented
// only by successful redemptions and never goes negative.
type Reward struct {
	ID        string
	Name      string
	Cost      decimal.Decimal
	Stock     int64
	Active    bool
	CreatedAt time.Time
}

// =============================================================================
// ORDER - Result of a successful redemption
// =============================================================================

type OrderStatus string

const (
	OrderPending OrderStatus = "pending"
	OrderShipped OrderStatus = "shipped" // advanced by fulfillment, not by this engine
)

// Order is created exactly once per successful redemption. Identity fields
// are immutable; only Status may later be advanced by fulfillment.
type Order struct {
	ID              string
	UserID          string
	RewardID        string
	RewardName      string
	Cost            decimal.Decimal
	ShippingAddress map[string]any // opaque to the accounting core
	Status          OrderStatus
	CreatedAt       time.Time
}
