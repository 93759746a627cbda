/*
Package redeem implements the redemption engine: atomically exchanging a
user's coin balance for one unit of finite reward stock.

PURPOSE:
  A redemption moves value across three documents at once — the reward's
  stock, the user's balance, and the order book — and must leave an audit
  trail. All five writes (order, stock, balance, ledger entry, via the
  account put) commit together or not at all: stock is never decremented
  without a matching order and spend entry, and a balance never drops
  without a matching spend entry.

PRECONDITION ORDER:
  1. reward exists          -> not-found otherwise
  2. stock > 0              -> failed-precondition ("out of stock")
  3. balance >= cost        -> failed-precondition ("insufficient balance")

  Concurrent redemptions racing for the last unit are resolved by the
  store's optimistic conflict detection: the loser's transaction re-runs,
  re-reads stock 0, and fails the precondition cleanly.
*/
package redeem

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/stridecoin/stride/ledger"
	"github.com/stridecoin/stride/metrics"
)

// Engine executes redemptions against a transactional store.
type Engine struct {
	store ledger.Store
	log   *logrus.Logger

	// Now is the clock used for order and entry timestamps. Overridable in tests.
	Now func() time.Time
}

func New(store ledger.Store, log *logrus.Logger) *Engine {
	return &Engine{store: store, log: log, Now: time.Now}
}

// Result reports a successful redemption.
type Result struct {
	OrderID string
}

// Redeem exchanges the reward's cost in coins for one unit of stock,
// creating a pending order. Runs as a single atomic transaction.
func (e *Engine) Redeem(ctx context.Context, uid, rewardID string, shippingAddress map[string]any) (Result, error) {
	if uid == "" {
		return Result{}, ledger.ErrUnauthenticated
	}
	if rewardID == "" {
		return Result{}, &ledger.InvalidArgumentError{Field: "rewardId", Reason: "must not be empty"}
	}
	if len(shippingAddress) == 0 {
		return Result{}, &ledger.InvalidArgumentError{Field: "shippingAddress", Reason: "must be present"}
	}

	now := e.Now().UTC()
	var res Result
	err := e.store.RunTransaction(ctx, func(tx ledger.Tx) error {
		reward, err := tx.Reward(ctx, rewardID)
		if err != nil {
			return err
		}
		if reward == nil {
			return ledger.ErrRewardNotFound
		}
		if reward.Stock <= 0 {
			return ledger.ErrOutOfStock
		}

		acct, err := tx.Account(ctx, uid)
		if err != nil {
			return err
		}
		if acct == nil {
			return ledger.ErrAccountNotFound
		}
		if acct.Balance.LessThan(reward.Cost) {
			return &ledger.InsufficientBalanceError{
				UID:       uid,
				Available: acct.Balance,
				Requested: reward.Cost,
			}
		}

		order := ledger.Order{
			ID:              uuid.NewString(),
			UserID:          uid,
			RewardID:        reward.ID,
			RewardName:      reward.Name,
			Cost:            reward.Cost,
			ShippingAddress: shippingAddress,
			Status:          ledger.OrderPending,
			CreatedAt:       now,
		}
		if err := tx.PutOrder(ctx, order); err != nil {
			return err
		}

		reward.Stock--
		if err := tx.PutReward(ctx, *reward); err != nil {
			return err
		}

		entry := ledger.NewEntry(uid, ledger.EntrySpend, reward.Cost.Neg(),
			"Redeemed "+reward.Name, order.ID, now)
		if err := ledger.ApplyEntry(ctx, tx, acct, entry); err != nil {
			return err
		}

		res = Result{OrderID: order.ID}
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrOutOfStock):
			metrics.Redemptions.WithLabelValues("out_of_stock").Inc()
		case errors.Is(err, ledger.ErrInsufficientBalance):
			metrics.Redemptions.WithLabelValues("insufficient_balance").Inc()
		default:
			if ledger.KindOf(err) == ledger.KindInternal {
				e.log.WithError(err).WithFields(logrus.Fields{
					"uid":    uid,
					"reward": rewardID,
				}).Error("redemption transaction failed")
			}
			metrics.Redemptions.WithLabelValues("error").Inc()
		}
		return Result{}, err
	}

	metrics.Redemptions.WithLabelValues("ok").Inc()
	return res, nil
}
