package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/kallerud/artmarket/internal/clock"
	"github.com/kallerud/artmarket/internal/store"
)

// BalanceRepo implements store.BalanceRepository with sqlx. All mutating
// operations are conditional updates so the funds invariant holds even
// when two transactions race on the same user.
type BalanceRepo struct {
	ext sqlx.ExtContext
	clk clock.Clock
}

func (r *BalanceRepo) Get(ctx context.Context, userID int64) (*store.Balance, error) {
	var b store.Balance
	err := sqlx.GetContext(ctx, r.ext, &b, `SELECT * FROM balances WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return &store.Balance{UserID: userID, Available: decimal.Zero, Pending: decimal.Zero}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting balance: %w", err)
	}
	return &b, nil
}

func (r *BalanceRepo) Ensure(ctx context.Context, userID int64) error {
	_, err := r.ext.ExecContext(ctx,
		`INSERT INTO balances (user_id, available_balance, pending_balance, updated_at)
		 VALUES ($1, 0, 0, $2)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, r.clk.Now().UTC())
	if err != nil {
		return fmt.Errorf("ensuring balance row: %w", err)
	}
	return nil
}

// Hold moves amount from available to pending. Reports false when the
// user does not have the funds; the caller decides whether that is
// ErrInsufficientFunds or something else.
func (r *BalanceRepo) Hold(ctx context.Context, userID int64, amount decimal.Decimal) (bool, error) {
	result, err := r.ext.ExecContext(ctx,
		`UPDATE balances SET available_balance = available_balance - $1, pending_balance = pending_balance + $1, updated_at = $2
		 WHERE user_id = $3 AND available_balance >= $1`,
		amount, r.clk.Now().UTC(), userID)
	if err != nil {
		return false, fmt.Errorf("holding funds: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// Release moves amount from pending back to available. The full amount
// is credited; only pending is clamped at zero so a stray double
// release cannot drive it negative.
func (r *BalanceRepo) Release(ctx context.Context, userID int64, amount decimal.Decimal) error {
	_, err := r.ext.ExecContext(ctx,
		`UPDATE balances
		 SET available_balance = available_balance + $1,
		     pending_balance = GREATEST(pending_balance - $1, 0),
		     updated_at = $2
		 WHERE user_id = $3`,
		amount, r.clk.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("releasing funds: %w", err)
	}
	return nil
}

// SpendPending consumes held funds at settlement; the money leaves the
// buyer entirely, it does not return to available.
func (r *BalanceRepo) SpendPending(ctx context.Context, userID int64, amount decimal.Decimal) error {
	_, err := r.ext.ExecContext(ctx,
		`UPDATE balances SET pending_balance = GREATEST(pending_balance - $1, 0), updated_at = $2
		 WHERE user_id = $3`,
		amount, r.clk.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("spending held funds: %w", err)
	}
	return nil
}

func (r *BalanceRepo) Credit(ctx context.Context, userID int64, amount decimal.Decimal) error {
	if err := r.Ensure(ctx, userID); err != nil {
		return err
	}
	_, err := r.ext.ExecContext(ctx,
		`UPDATE balances SET available_balance = available_balance + $1, updated_at = $2 WHERE user_id = $3`,
		amount, r.clk.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("crediting funds: %w", err)
	}
	return nil
}

func (r *BalanceRepo) Debit(ctx context.Context, userID int64, amount decimal.Decimal) (bool, error) {
	result, err := r.ext.ExecContext(ctx,
		`UPDATE balances SET available_balance = available_balance - $1, updated_at = $2
		 WHERE user_id = $3 AND available_balance >= $1`,
		amount, r.clk.Now().UTC(), userID)
	if err != nil {
		return false, fmt.Errorf("debiting funds: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}
