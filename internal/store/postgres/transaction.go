package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/kallerud/artmarket/internal/clock"
	"github.com/kallerud/artmarket/internal/store"
)

// TransactionRepo implements store.TransactionRepository with sqlx.
type TransactionRepo struct {
	ext sqlx.ExtContext
	clk clock.Clock
}

func (r *TransactionRepo) Create(ctx context.Context, t *store.Transaction) error {
	t.CreatedAt = r.clk.Now().UTC()
	query := `INSERT INTO transactions (user_id, type, amount, status, description, artwork_id, created_at)
	           VALUES ($1, $2, $3, $4, $5, $6, $7)
	           RETURNING id`
	err := r.ext.QueryRowxContext(ctx, query,
		t.UserID, t.Type, t.Amount, t.Status, t.Description, t.ArtworkID, t.CreatedAt).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("creating transaction: %w", err)
	}
	return nil
}

// FlipPendingBids resolves a bidder's pending bid entries for one artwork
// in a single statement, either completing them (the bidder won) or
// cancelling them (refund).
func (r *TransactionRepo) FlipPendingBids(ctx context.Context, userID, artworkID int64, status string) error {
	_, err := r.ext.ExecContext(ctx,
		`UPDATE transactions SET status = $1
		 WHERE user_id = $2 AND artwork_id = $3 AND status = 'pending'
		   AND type IN ('bid', 'bid_increase')`,
		status, userID, artworkID)
	if err != nil {
		return fmt.Errorf("flipping pending bid transactions: %w", err)
	}
	return nil
}

func (r *TransactionRepo) ListByUser(ctx context.Context, userID int64, limit int) ([]store.Transaction, error) {
	var txs []store.Transaction
	err := sqlx.SelectContext(ctx, r.ext, &txs,
		`SELECT * FROM transactions WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	return txs, nil
}

// HistoryRepo implements store.HistoryRepository with sqlx.
type HistoryRepo struct {
	ext sqlx.ExtContext
	clk clock.Clock
}

func (r *HistoryRepo) LogPrice(ctx context.Context, artworkID int64, fromUserID *int64, amount decimal.Decimal) error {
	_, err := r.ext.ExecContext(ctx,
		`INSERT INTO price_history (artwork_id, from_user_id, amount, created_at) VALUES ($1, $2, $3, $4)`,
		artworkID, fromUserID, amount, r.clk.Now().UTC())
	if err != nil {
		return fmt.Errorf("recording price: %w", err)
	}
	return nil
}

func (r *HistoryRepo) LogActivity(ctx context.Context, a *store.Activity) error {
	_, err := r.ext.ExecContext(ctx,
		`INSERT INTO activity (artwork_id, user_id, activity_type, price, from_user_id, to_user_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ArtworkID, a.UserID, a.Type, a.Price, a.FromUserID, a.ToUserID, r.clk.Now().UTC())
	if err != nil {
		return fmt.Errorf("recording activity: %w", err)
	}
	return nil
}
