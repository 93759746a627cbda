/*
balance.go - Account Balance Manager

PURPOSE:
  The one sanctioned way to change a balance. Both engines route every
  balance mutation through ApplyEntry, which adjusts the account and appends
  the justifying ledger entry through the same transaction handle. Nothing
  else in the repository writes Account.Balance.

WHY A SHARED HELPER INSTEAD OF A SERVICE:
  The invariant (balance == sum of entries) is a write discipline, not a
  component. Putting it in one function makes the discipline greppable and
  keeps the engines from drifting apart.
*/
package ledger

import "context"

// ApplyEntry applies a signed ledger entry to an account: the balance moves
// by e.Amount and the entry is appended, both through tx so they commit
// together or not at all.
//
// The caller may have adjusted other account fields (lifetime counters)
// on acct beforehand; they are persisted by the same PutAccount.
func ApplyEntry(ctx context.Context, tx Tx, acct *Account, e LedgerEntry) error {
	if e.UID != acct.UID {
		return &InvalidArgumentError{Field: "entry", Reason: "entry uid does not match account"}
	}
	if e.Amount.IsZero() {
		return &InvalidArgumentError{Field: "entry", Reason: "zero-amount entries are not recorded"}
	}

	acct.Balance = acct.Balance.Add(e.Amount)
	if acct.Balance.IsNegative() {
		return &InsufficientBalanceError{
			UID:       acct.UID,
			Available: acct.Balance.Sub(e.Amount),
			Requested: e.Amount.Neg(),
		}
	}

	if err := tx.AppendEntry(ctx, e); err != nil {
		return err
	}
	return tx.PutAccount(ctx, *acct)
}
