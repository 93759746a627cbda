package sqlite

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stridecoin/stride/ledger"
	"github.com/stridecoin/stride/redeem"
	"github.com/stridecoin/stride/steps"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func credit(t *testing.T, s *Store, uid, coins string, at time.Time) {
	t.Helper()
	ctx := context.Background()
	err := s.RunTransaction(ctx, func(tx ledger.Tx) error {
		acct, err := tx.Account(ctx, uid)
		if err != nil {
			return err
		}
		e := ledger.NewEntry(uid, ledger.EntryEarn, dec(coins), "Steps for 2025-06-14", "2025-06-14", at)
		return ledger.ApplyEntry(ctx, tx, acct, e)
	})
	require.NoError(t, err)
}

// =============================================================================
// PROVISIONING
// =============================================================================

func TestUpsertAccount_RetryPreservesBalance(t *testing.T) {
	// GIVEN: a provisioned account that has since earned coins
	// WHEN: the provisioning event is delivered again
	// THEN: the balance is untouched (DO NOTHING merge, not replace)

	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertAccount(ctx, "user-1"))
	credit(t, s, "user-1", "42", time.Now().UTC())

	require.NoError(t, s.UpsertAccount(ctx, "user-1"))

	acct, err := s.GetAccount(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, acct)
	assert.True(t, dec("42").Equal(acct.Balance))
}

func TestGetAccount_Unknown_ReturnsNil(t *testing.T) {
	s := newTestStore(t)
	acct, err := s.GetAccount(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, acct)
}

// =============================================================================
// TRANSACTION ATOMICITY
// =============================================================================

func TestRunTransaction_ErrorRollsBackEveryWrite(t *testing.T) {
	// GIVEN: a transaction that puts an account, a step record, and an entry
	// WHEN: the callback then fails
	// THEN: none of the writes are visible afterwards

	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertAccount(ctx, "user-1"))

	err := s.RunTransaction(ctx, func(tx ledger.Tx) error {
		acct, err := tx.Account(ctx, "user-1")
		if err != nil {
			return err
		}
		e := ledger.NewEntry("user-1", ledger.EntryEarn, dec("10"), "Steps for 2025-06-15", "2025-06-15", time.Now())
		if err := ledger.ApplyEntry(ctx, tx, acct, e); err != nil {
			return err
		}
		if err := tx.PutDailyStepRecord(ctx, ledger.DailyStepRecord{
			UID: "user-1", Date: "2025-06-15", Steps: 1000, EarnedSteps: 1000, LastSync: time.Now(),
		}); err != nil {
			return err
		}
		return ledger.ErrOutOfStock // abort after the writes
	})
	require.Error(t, err)

	acct, err := s.GetAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, acct.Balance.IsZero())

	entries, err := s.Entries(ctx, "user-1", 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunTransaction_RereadSeesCommittedState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertAccount(ctx, "user-1"))
	credit(t, s, "user-1", "7", time.Now().UTC())

	err := s.RunTransaction(ctx, func(tx ledger.Tx) error {
		acct, err := tx.Account(ctx, "user-1")
		if err != nil {
			return err
		}
		require.NotNil(t, acct)
		assert.True(t, dec("7").Equal(acct.Balance))
		return nil
	})
	require.NoError(t, err)
}

// =============================================================================
// LEDGER READS
// =============================================================================

func TestEntries_NewestFirstDefaultLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertAccount(ctx, "user-1"))

	base := time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 25; i++ {
		credit(t, s, "user-1", "1", base.Add(time.Duration(i)*time.Minute))
	}

	entries, err := s.Entries(ctx, "user-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 20, "limit defaults to 20")
	assert.Equal(t, base.Add(24*time.Minute), entries[0].Timestamp)
	for i := 1; i < len(entries); i++ {
		assert.False(t, entries[i].Timestamp.After(entries[i-1].Timestamp))
	}

	entries, err = s.Entries(ctx, "user-1", 3)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

// =============================================================================
// REWARDS AND ORDERS
// =============================================================================

func TestRewards_CatalogOrderAndUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveReward(ctx, ledger.Reward{ID: "r-bike", Name: "Bike", Cost: dec("500"), Stock: 1, Active: true}))
	require.NoError(t, s.SaveReward(ctx, ledger.Reward{ID: "r-sticker", Name: "Sticker", Cost: dec("5"), Stock: 10, Active: true}))
	require.NoError(t, s.SaveReward(ctx, ledger.Reward{ID: "r-retired", Name: "Retired", Cost: dec("1"), Stock: 3, Active: false}))

	rewards, err := s.ActiveRewards(ctx)
	require.NoError(t, err)
	require.Len(t, rewards, 2)
	assert.Equal(t, "r-sticker", rewards[0].ID)
	assert.Equal(t, "r-bike", rewards[1].ID)

	// Upsert replaces the catalog row in place.
	require.NoError(t, s.SaveReward(ctx, ledger.Reward{ID: "r-sticker", Name: "Sticker", Cost: dec("6"), Stock: 8, Active: true}))
	rewards, err = s.ActiveRewards(ctx)
	require.NoError(t, err)
	assert.True(t, dec("6").Equal(rewards[0].Cost))
	assert.Equal(t, int64(8), rewards[0].Stock)
}

func TestOrders_RoundTripWithShippingAddress(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	shipping := map[string]any{"name": "Pat Example", "street": "1 Main St", "zip": "12345"}
	at := time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)
	err := s.RunTransaction(ctx, func(tx ledger.Tx) error {
		return tx.PutOrder(ctx, ledger.Order{
			ID: "order-1", UserID: "user-1", RewardID: "r-1", RewardName: "Bottle",
			Cost: dec("40"), ShippingAddress: shipping,
			Status: ledger.OrderPending, CreatedAt: at,
		})
	})
	require.NoError(t, err)

	orders, err := s.OrdersByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "order-1", orders[0].ID)
	assert.Equal(t, ledger.OrderPending, orders[0].Status)
	assert.True(t, dec("40").Equal(orders[0].Cost))
	assert.Equal(t, shipping, orders[0].ShippingAddress)
	assert.True(t, at.Equal(orders[0].CreatedAt))

	other, err := s.OrdersByUser(ctx, "user-2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

// =============================================================================
// ENGINE INTEGRATION
// =============================================================================

func TestEngines_FullFlowOnSQLite(t *testing.T) {
	// End to end on the real store: provision, earn across two syncs, list
	// the catalog, redeem, and audit the ledger.

	s := newTestStore(t)
	ctx := context.Background()
	log := logrus.New()
	log.SetOutput(io.Discard)

	now := time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)
	stepsEng := steps.New(s, log)
	stepsEng.Now = func() time.Time { return now }
	redeemEng := redeem.New(s, log)
	redeemEng.Now = func() time.Time { return now }

	require.NoError(t, s.UpsertAccount(ctx, "user-1"))
	require.NoError(t, s.SaveReward(ctx, ledger.Reward{ID: "r-1", Name: "Bottle", Cost: dec("40"), Stock: 2, Active: true}))

	res, err := stepsEng.Sync(ctx, "user-1", "2025-06-15", 5000, "device-a")
	require.NoError(t, err)
	assert.True(t, dec("50").Equal(res.Earned))

	res, err = stepsEng.Sync(ctx, "user-15", "2025-06-15", 5000, "device-a")
	require.Error(t, err, "unknown account")
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)

	res, err = stepsEng.Sync(ctx, "user-1", "2025-06-15", 12000, "device-b")
	require.NoError(t, err)
	assert.True(t, dec("70").Equal(res.Earned))
	assert.True(t, dec("120").Equal(res.Balance))
	assert.Equal(t, int64(12000), res.StepsSaved)

	rres, err := redeemEng.Redeem(ctx, "user-1", "r-1", map[string]any{"street": "1 Main St"})
	require.NoError(t, err)

	acct, err := s.GetAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, dec("80").Equal(acct.Balance))
	assert.Equal(t, int64(12000), acct.LifetimeSteps)
	assert.True(t, dec("120").Equal(acct.LifetimeCoins))

	rewards, err := s.ActiveRewards(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rewards[0].Stock)

	orders, err := s.OrdersByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, rres.OrderID, orders[0].ID)

	entries, err := s.Entries(ctx, "user-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.True(t, acct.Balance.Equal(ledger.DerivedBalance(entries)))
}
