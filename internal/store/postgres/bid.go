package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/kallerud/artmarket/internal/clock"
	"github.com/kallerud/artmarket/internal/market"
	"github.com/kallerud/artmarket/internal/store"
)

// BidRepo implements store.BidRepository with sqlx.
type BidRepo struct {
	ext sqlx.ExtContext
	clk clock.Clock
}

func (r *BidRepo) Create(ctx context.Context, b *store.Bid) error {
	now := r.clk.Now().UTC()
	b.IsActive = true
	b.CreatedAt = now
	b.UpdatedAt = now
	query := `INSERT INTO bids (auction_id, bidder_id, amount, is_active, created_at, updated_at)
	           VALUES ($1, $2, $3, $4, $5, $6)
	           RETURNING id`
	err := r.ext.QueryRowxContext(ctx, query,
		b.AuctionID, b.BidderID, b.Amount, b.IsActive, b.CreatedAt, b.UpdatedAt).Scan(&b.ID)
	if err != nil {
		// One active bid per (auction, bidder) is enforced by a partial
		// unique index; raises go through SetAmount instead.
		return fmt.Errorf("creating bid: %w", mapErr(err))
	}
	return nil
}

func (r *BidRepo) GetByID(ctx context.Context, id int64) (*store.Bid, error) {
	var b store.Bid
	err := sqlx.GetContext(ctx, r.ext, &b, `SELECT * FROM bids WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("bid %d: %w", id, market.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting bid: %w", err)
	}
	return &b, nil
}

func (r *BidRepo) ActiveByBidder(ctx context.Context, auctionID, bidderID int64) (*store.Bid, error) {
	var b store.Bid
	err := sqlx.GetContext(ctx, r.ext, &b,
		`SELECT * FROM bids WHERE auction_id = $1 AND bidder_id = $2 AND is_active`,
		auctionID, bidderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting active bid: %w", err)
	}
	return &b, nil
}

// HighestActive returns the winning candidate: highest amount, with ties
// going to the bid placed first. Returns nil when the auction has no
// active bids.
func (r *BidRepo) HighestActive(ctx context.Context, auctionID int64) (*store.Bid, error) {
	var b store.Bid
	err := sqlx.GetContext(ctx, r.ext, &b,
		`SELECT * FROM bids WHERE auction_id = $1 AND is_active
		 ORDER BY amount DESC, created_at ASC
		 LIMIT 1`, auctionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting highest bid: %w", err)
	}
	return &b, nil
}

func (r *BidRepo) SetAmount(ctx context.Context, id int64, amount decimal.Decimal, updatedAt time.Time) error {
	result, err := r.ext.ExecContext(ctx,
		`UPDATE bids SET amount = $1, updated_at = $2 WHERE id = $3 AND is_active`,
		amount, updatedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("raising bid: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("bid %d: %w", id, market.ErrNotFound)
	}
	return nil
}

func (r *BidRepo) Deactivate(ctx context.Context, id int64) error {
	_, err := r.ext.ExecContext(ctx,
		`UPDATE bids SET is_active = FALSE, updated_at = $1 WHERE id = $2`,
		r.clk.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("deactivating bid: %w", err)
	}
	return nil
}

func (r *BidRepo) DeactivateForBidder(ctx context.Context, auctionID, bidderID int64) error {
	_, err := r.ext.ExecContext(ctx,
		`UPDATE bids SET is_active = FALSE, updated_at = $1
		 WHERE auction_id = $2 AND bidder_id = $3 AND is_active`,
		r.clk.Now().UTC(), auctionID, bidderID)
	if err != nil {
		return fmt.Errorf("deactivating bids for bidder: %w", err)
	}
	return nil
}

// ActiveTotals sums each bidder's active bids on an auction, which is the
// amount held from that bidder and therefore the amount a refund releases.
func (r *BidRepo) ActiveTotals(ctx context.Context, auctionID int64) ([]store.BidderTotal, error) {
	var totals []store.BidderTotal
	err := sqlx.SelectContext(ctx, r.ext, &totals,
		`SELECT bidder_id, SUM(amount) AS total, COUNT(*) AS bid_count
		 FROM bids WHERE auction_id = $1 AND is_active
		 GROUP BY bidder_id
		 ORDER BY bidder_id`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("summing active bids: %w", err)
	}
	return totals, nil
}

func (r *BidRepo) ListByAuction(ctx context.Context, auctionID int64) ([]store.Bid, error) {
	var bids []store.Bid
	err := sqlx.SelectContext(ctx, r.ext, &bids,
		`SELECT * FROM bids WHERE auction_id = $1 ORDER BY amount DESC, created_at ASC`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("listing bids: %w", err)
	}
	return bids, nil
}

func (r *BidRepo) ListActiveByBidder(ctx context.Context, bidderID int64) ([]store.Bid, error) {
	var bids []store.Bid
	err := sqlx.SelectContext(ctx, r.ext, &bids,
		`SELECT * FROM bids WHERE bidder_id = $1 AND is_active ORDER BY created_at DESC`, bidderID)
	if err != nil {
		return nil, fmt.Errorf("listing active bids: %w", err)
	}
	return bids, nil
}
