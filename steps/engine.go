/*
Package steps implements the step accounting engine: converting a day's
reported step total into coins, idempotently, inside one store transaction.

PURPOSE:
  Clients report a cumulative daily step total (not an increment), possibly
  many times, from multiple devices, out of order. The engine must mint
  coins for each step at most once. It does so by tracking, per (uid, date),
  how many steps have already been compensated (EarnedSteps) and only paying
  for the marginal portion below the earnable cap.

CONVERSION RULES:
  - 100 steps = 1 coin (StepsPerCoin)
  - at most MaxEarnableSteps (15000) of a day's steps ever convert to coins
  - at most MaxTotalSteps (30000) are recorded for a day at all
  - reports older than MaxBackdateHours (48h, measured to the start of the
    reported date) or dated in the future are rejected before any write

IDEMPOTENCE:
  A report that is not strictly greater than the stored total is a
  stale/duplicate and is a defined no-op success, not an error. Re-syncing a
  day that already hit the earnable cap never mints additional coins.

SEE ALSO:
  - ledger/balance.go: the balance/entry write discipline
  - redeem: the spending side of the ledger
*/
package steps

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/stridecoin/stride/ledger"
	"github.com/stridecoin/stride/metrics"
)

// Conversion constants. These are part of the product contract; changing
// them alters what historical re-syncs would pay out.
const (
	StepsPerCoin     = 100
	MaxEarnableSteps = 15000 // 150 coins/day ceiling
	MaxTotalSteps    = 30000
	MaxBackdateHours = 48
)

// Engine executes step syncs against a transactional store.
type Engine struct {
	store ledger.Store
	log   *logrus.Logger

	// Now is the clock used for date-window validation and timestamps.
	// Overridable in tests.
	Now func() time.Time
}

func New(store ledger.Store, log *logrus.Logger) *Engine {
	return &Engine{store: store, log: log, Now: time.Now}
}

// SyncResult reports the outcome of one sync call.
type SyncResult struct {
	Balance    decimal.Decimal // post-transaction balance
	Earned     decimal.Decimal // coins minted by this call (zero on no-op)
	StepsSaved int64           // step total actually persisted, post-cap
}

// Sync processes one client-reported daily total for the authenticated user.
// Validation happens before any state is touched; the read-compute-write
// cycle runs inside a single atomic transaction and is retried as a whole
// on conflicts.
func (e *Engine) Sync(ctx context.Context, uid, date string, stepCount int64, deviceID string) (SyncResult, error) {
	if uid == "" {
		return SyncResult{}, ledger.ErrUnauthenticated
	}
	if stepCount < 0 {
		return SyncResult{}, &ledger.InvalidArgumentError{Field: "steps", Reason: "must be non-negative"}
	}
	if deviceID == "" {
		return SyncResult{}, &ledger.InvalidArgumentError{Field: "deviceId", Reason: "must not be empty"}
	}
	day, err := time.ParseInLocation(ledger.DateFormat, date, time.UTC)
	if err != nil {
		return SyncResult{}, &ledger.InvalidArgumentError{Field: "date", Reason: "must be YYYY-MM-DD"}
	}

	now := e.Now().UTC()
	if now.Sub(day) > MaxBackdateHours*time.Hour {
		return SyncResult{}, ledger.ErrDateOutOfRange
	}
	if day.After(now) {
		return SyncResult{}, ledger.ErrDateOutOfRange
	}

	var res SyncResult
	err = e.store.RunTransaction(ctx, func(tx ledger.Tx) error {
		res = SyncResult{} // fresh on every retry
		acct, err := tx.Account(ctx, uid)
		if err != nil {
			return err
		}
		if acct == nil {
			return ledger.ErrAccountNotFound
		}

		var existingSteps, existingEarned int64
		rec, err := tx.DailyStepRecord(ctx, uid, date)
		if err != nil {
			return err
		}
		if rec != nil {
			existingSteps = rec.Steps
			existingEarned = rec.EarnedSteps
		}

		// Stale or duplicate report: defined no-op success.
		if stepCount <= existingSteps {
			res = SyncResult{Balance: acct.Balance, Earned: decimal.Zero, StepsSaved: existingSteps}
			return nil
		}

		stepsToRecord := min64(stepCount, MaxTotalSteps)
		stepsForCoins := min64(stepsToRecord, MaxEarnableSteps)
		newEarnedSteps := stepsForCoins - existingEarned

		if newEarnedSteps <= 0 {
			// Past the earnable cap: bookkeeping only, no coins.
			if stepsToRecord > existingSteps {
				if err := tx.PutDailyStepRecord(ctx, ledger.DailyStepRecord{
					UID:         uid,
					Date:        date,
					Steps:       stepsToRecord,
					EarnedSteps: existingEarned,
					DeviceID:    deviceID,
					LastSync:    now,
				}); err != nil {
					return err
				}
			}
			res = SyncResult{Balance: acct.Balance, Earned: decimal.Zero, StepsSaved: stepsToRecord}
			return nil
		}

		coinsEarned := decimal.NewFromInt(newEarnedSteps).Div(decimal.NewFromInt(StepsPerCoin))

		if err := tx.PutDailyStepRecord(ctx, ledger.DailyStepRecord{
			UID:         uid,
			Date:        date,
			Steps:       stepsToRecord,
			EarnedSteps: stepsForCoins,
			DeviceID:    deviceID,
			LastSync:    now,
		}); err != nil {
			return err
		}

		acct.LifetimeSteps += stepsToRecord - existingSteps
		acct.LifetimeCoins = acct.LifetimeCoins.Add(coinsEarned)

		entry := ledger.NewEntry(uid, ledger.EntryEarn, coinsEarned, "Steps for "+date, date, now)
		if err := ledger.ApplyEntry(ctx, tx, acct, entry); err != nil {
			return err
		}

		res = SyncResult{Balance: acct.Balance, Earned: coinsEarned, StepsSaved: stepsToRecord}
		return nil
	})
	if err != nil {
		if ledger.KindOf(err) == ledger.KindInternal {
			e.log.WithError(err).WithFields(logrus.Fields{
				"uid":  uid,
				"date": date,
			}).Error("step sync transaction failed")
		}
		metrics.StepSyncs.WithLabelValues("error").Inc()
		return SyncResult{}, err
	}

	if res.Earned.IsZero() {
		metrics.StepSyncs.WithLabelValues("noop").Inc()
	} else {
		metrics.StepSyncs.WithLabelValues("earned").Inc()
		f, _ := res.Earned.Float64()
		metrics.CoinsMinted.Add(f)
	}
	return res, nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
