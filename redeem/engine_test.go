package redeem_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stridecoin/stride/ledger"
	memstore "github.com/stridecoin/stride/ledger/store"
	"github.com/stridecoin/stride/redeem"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testNow = time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)

var shipping = map[string]any{
	"name":   "Pat Example",
	"street": "1 Main St",
	"city":   "Springfield",
}

func newTestEngine(t *testing.T) (*redeem.Engine, *memstore.Memory) {
	t.Helper()
	mem := memstore.NewMemory()
	log := logrus.New()
	log.SetOutput(io.Discard)

	e := redeem.New(mem, log)
	e.Now = func() time.Time { return testNow }
	return e, mem
}

// fund provisions uid and credits it with coins through the ledger, the same
// way the earning side does.
func fund(t *testing.T, mem *memstore.Memory, uid string, coins string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, mem.UpsertAccount(ctx, uid))

	amount := dec(coins)
	err := mem.RunTransaction(ctx, func(tx ledger.Tx) error {
		acct, err := tx.Account(ctx, uid)
		if err != nil {
			return err
		}
		entry := ledger.NewEntry(uid, ledger.EntryEarn, amount, "Steps for 2025-06-14", "2025-06-14", testNow.Add(-time.Hour))
		return ledger.ApplyEntry(ctx, tx, acct, entry)
	})
	require.NoError(t, err)
}

func seedReward(t *testing.T, mem *memstore.Memory, id, name, cost string, stock int64) {
	t.Helper()
	require.NoError(t, mem.SaveReward(context.Background(), ledger.Reward{
		ID:     id,
		Name:   name,
		Cost:   dec(cost),
		Stock:  stock,
		Active: true,
	}))
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// =============================================================================
// HAPPY PATH
// =============================================================================

func TestRedeem_Success(t *testing.T) {
	// GIVEN: a user with 100 coins and a reward costing 40 with 3 in stock
	// WHEN: the user redeems it
	// THEN: a pending order exists, stock is 2, balance is 60, and a spend
	//       entry for -40 references the order

	e, mem := newTestEngine(t)
	ctx := context.Background()
	fund(t, mem, "user-1", "100")
	seedReward(t, mem, "reward-1", "Water Bottle", "40", 3)

	res, err := e.Redeem(ctx, "user-1", "reward-1", shipping)
	require.NoError(t, err)
	require.NotEmpty(t, res.OrderID)

	orders, err := mem.OrdersByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, res.OrderID, orders[0].ID)
	assert.Equal(t, ledger.OrderPending, orders[0].Status)
	assert.Equal(t, "reward-1", orders[0].RewardID)
	assert.Equal(t, "Water Bottle", orders[0].RewardName)
	assert.True(t, dec("40").Equal(orders[0].Cost))
	assert.Equal(t, shipping, orders[0].ShippingAddress)

	rewards, err := mem.ActiveRewards(ctx)
	require.NoError(t, err)
	require.Len(t, rewards, 1)
	assert.Equal(t, int64(2), rewards[0].Stock)

	acct, err := mem.GetAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, dec("60").Equal(acct.Balance), "balance = %s", acct.Balance)

	entries, err := mem.Entries(ctx, "user-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	spend := entries[0] // newest first
	assert.Equal(t, ledger.EntrySpend, spend.Type)
	assert.True(t, dec("-40").Equal(spend.Amount))
	assert.Equal(t, res.OrderID, spend.ReferenceID)
	assert.Equal(t, "Redeemed Water Bottle", spend.Description)

	assert.True(t, acct.Balance.Equal(ledger.DerivedBalance(entries)))
}

// =============================================================================
// PRECONDITIONS
// =============================================================================

func TestRedeem_InsufficientBalance_NothingChanges(t *testing.T) {
	// GIVEN: a user with 50 coins and a reward costing 60
	// WHEN: the user tries to redeem
	// THEN: failed-precondition, and neither order, stock, nor balance moved

	e, mem := newTestEngine(t)
	ctx := context.Background()
	fund(t, mem, "user-1", "50")
	seedReward(t, mem, "reward-1", "Water Bottle", "60", 3)

	_, err := e.Redeem(ctx, "user-1", "reward-1", shipping)
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	assert.Equal(t, ledger.KindFailedPrecondition, ledger.KindOf(err))

	var insErr *ledger.InsufficientBalanceError
	require.ErrorAs(t, err, &insErr)
	assert.True(t, dec("50").Equal(insErr.Available))
	assert.True(t, dec("60").Equal(insErr.Requested))

	orders, err := mem.OrdersByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, orders)

	rewards, err := mem.ActiveRewards(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), rewards[0].Stock)

	acct, err := mem.GetAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, dec("50").Equal(acct.Balance))
}

func TestRedeem_OutOfStock(t *testing.T) {
	e, mem := newTestEngine(t)
	ctx := context.Background()
	fund(t, mem, "user-1", "100")
	seedReward(t, mem, "reward-1", "Water Bottle", "40", 0)

	_, err := e.Redeem(ctx, "user-1", "reward-1", shipping)
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrOutOfStock)
	assert.Equal(t, ledger.KindFailedPrecondition, ledger.KindOf(err))

	acct, err := mem.GetAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, dec("100").Equal(acct.Balance))
}

func TestRedeem_RewardNotFound(t *testing.T) {
	e, mem := newTestEngine(t)
	fund(t, mem, "user-1", "100")

	_, err := e.Redeem(context.Background(), "user-1", "no-such-reward", shipping)
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrRewardNotFound)
	assert.Equal(t, ledger.KindNotFound, ledger.KindOf(err))
}

func TestRedeem_AccountNotFound(t *testing.T) {
	e, mem := newTestEngine(t)
	seedReward(t, mem, "reward-1", "Water Bottle", "40", 3)

	_, err := e.Redeem(context.Background(), "ghost", "reward-1", shipping)
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestRedeem_ExactBalance_Succeeds(t *testing.T) {
	// Balance exactly equal to cost must redeem down to zero, not fail.

	e, mem := newTestEngine(t)
	ctx := context.Background()
	fund(t, mem, "user-1", "40")
	seedReward(t, mem, "reward-1", "Water Bottle", "40", 1)

	_, err := e.Redeem(ctx, "user-1", "reward-1", shipping)
	require.NoError(t, err)

	acct, err := mem.GetAccount(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, acct.Balance.IsZero())
}

// =============================================================================
// INPUT VALIDATION
// =============================================================================

func TestRedeem_InvalidInput(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	t.Run("missing identity", func(t *testing.T) {
		_, err := e.Redeem(ctx, "", "reward-1", shipping)
		require.Error(t, err)
		assert.ErrorIs(t, err, ledger.ErrUnauthenticated)
	})

	t.Run("empty reward id", func(t *testing.T) {
		_, err := e.Redeem(ctx, "user-1", "", shipping)
		require.Error(t, err)
		assert.Equal(t, ledger.KindInvalidArgument, ledger.KindOf(err))
	})

	t.Run("missing shipping address", func(t *testing.T) {
		_, err := e.Redeem(ctx, "user-1", "reward-1", nil)
		require.Error(t, err)
		assert.Equal(t, ledger.KindInvalidArgument, ledger.KindOf(err))
	})
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestRedeem_LastUnit_ExactlyOneWinner(t *testing.T) {
	// GIVEN: one unit of stock and two funded users racing for it
	// WHEN: both redeem concurrently
	// THEN: exactly one succeeds; the loser gets a clean out-of-stock, never
	//       a negative stock or a double decrement

	e, mem := newTestEngine(t)
	ctx := context.Background()
	fund(t, mem, "user-a", "100")
	fund(t, mem, "user-b", "100")
	seedReward(t, mem, "reward-1", "Water Bottle", "40", 1)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, uid := range []string{"user-a", "user-b"} {
		wg.Add(1)
		go func(i int, uid string) {
			defer wg.Done()
			_, errs[i] = e.Redeem(ctx, uid, "reward-1", shipping)
		}(i, uid)
	}
	wg.Wait()

	var ok, outOfStock int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		default:
			assert.ErrorIs(t, err, ledger.ErrOutOfStock)
			outOfStock++
		}
	}
	assert.Equal(t, 1, ok, "exactly one redemption must win")
	assert.Equal(t, 1, outOfStock)

	rewards, err := mem.ActiveRewards(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rewards[0].Stock)

	var totalOrders int
	for _, uid := range []string{"user-a", "user-b"} {
		orders, err := mem.OrdersByUser(ctx, uid)
		require.NoError(t, err)
		totalOrders += len(orders)
	}
	assert.Equal(t, 1, totalOrders)
}
