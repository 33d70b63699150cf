// Package ledger accrues points to user balances. Balances only ever grow:
// there is no debit operation, and the single call site is the approve
// transition.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
)

type Ledger struct {
	DB *sql.DB
}

// CreditTx adds amount to the user's balance inside the caller's transaction,
// so the credit commits atomically with the status change that caused it.
func (l Ledger) CreditTx(ctx context.Context, tx *sql.Tx, userID string, amount int) error {
	if amount < 0 {
		return fmt.Errorf("credit amount must not be negative: %d", amount)
	}
	res, err := tx.ExecContext(ctx, `UPDATE users SET points = points + ? WHERE id=?`, amount, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("credit user %s: no such user", userID)
	}
	return nil
}

// Balance reads a user's current point balance.
func (l Ledger) Balance(ctx context.Context, userID string) (int, error) {
	var points int
	err := l.DB.QueryRowContext(ctx, `SELECT points FROM users WHERE id=?`, userID).Scan(&points)
	return points, err
}
