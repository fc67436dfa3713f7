package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kallerud/artmarket/internal/clock"
	"github.com/kallerud/artmarket/internal/market"
	"github.com/kallerud/artmarket/internal/store"
)

// AuctionRepo implements store.AuctionRepository with sqlx.
type AuctionRepo struct {
	ext sqlx.ExtContext
	clk clock.Clock
}

func (r *AuctionRepo) Create(ctx context.Context, a *store.Auction) error {
	a.Status = store.AuctionOpen
	a.CreatedAt = r.clk.Now().UTC()
	query := `INSERT INTO auctions (artwork_id, seller_id, start_price, reserve_price, end_time, status, created_at)
	           VALUES ($1, $2, $3, $4, $5, $6, $7)
	           RETURNING id`
	err := r.ext.QueryRowxContext(ctx, query,
		a.ArtworkID, a.SellerID, a.StartPrice, a.ReservePrice, a.EndTime, a.Status, a.CreatedAt).Scan(&a.ID)
	if err != nil {
		// The partial unique index rejects a second open auction per artwork.
		return fmt.Errorf("creating auction: %w", mapErr(err))
	}
	return nil
}

func (r *AuctionRepo) GetByID(ctx context.Context, id int64) (*store.Auction, error) {
	return r.get(ctx, id, `SELECT * FROM auctions WHERE id = $1`)
}

// GetForUpdate locks the auction row so bid admission and settlement
// serialize per auction for the remainder of the transaction.
func (r *AuctionRepo) GetForUpdate(ctx context.Context, id int64) (*store.Auction, error) {
	return r.get(ctx, id, `SELECT * FROM auctions WHERE id = $1 FOR UPDATE`)
}

func (r *AuctionRepo) get(ctx context.Context, id int64, query string) (*store.Auction, error) {
	var a store.Auction
	err := sqlx.GetContext(ctx, r.ext, &a, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("auction %d: %w", id, market.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting auction: %w", err)
	}
	return &a, nil
}

func (r *AuctionRepo) OpenByArtwork(ctx context.Context, artworkID int64) (*store.Auction, error) {
	var a store.Auction
	err := sqlx.GetContext(ctx, r.ext, &a,
		`SELECT * FROM auctions WHERE artwork_id = $1 AND status = 'open'`, artworkID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting open auction for artwork: %w", err)
	}
	return &a, nil
}

func (r *AuctionRepo) ListOpen(ctx context.Context) ([]store.Auction, error) {
	var auctions []store.Auction
	err := sqlx.SelectContext(ctx, r.ext, &auctions,
		`SELECT * FROM auctions WHERE status = 'open' ORDER BY end_time ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing open auctions: %w", err)
	}
	return auctions, nil
}

func (r *AuctionRepo) ListDue(ctx context.Context, now time.Time) ([]store.Auction, error) {
	var auctions []store.Auction
	err := sqlx.SelectContext(ctx, r.ext, &auctions,
		`SELECT * FROM auctions WHERE status = 'open' AND end_time <= $1 ORDER BY end_time ASC`,
		now.UTC())
	if err != nil {
		return nil, fmt.Errorf("listing due auctions: %w", err)
	}
	return auctions, nil
}

func (r *AuctionRepo) CountDue(ctx context.Context, now time.Time) (int, error) {
	var count int
	err := sqlx.GetContext(ctx, r.ext, &count,
		`SELECT COUNT(*) FROM auctions WHERE status = 'open' AND end_time <= $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("counting due auctions: %w", err)
	}
	return count, nil
}

// Close is a conditional update: it only transitions an auction that is
// still open, so a concurrent second settlement attempt reports false
// instead of double-settling.
func (r *AuctionRepo) Close(ctx context.Context, id int64, winnerID *int64, closedAt time.Time) (bool, error) {
	result, err := r.ext.ExecContext(ctx,
		`UPDATE auctions SET status = 'closed', winner_id = $1, closed_at = $2
		 WHERE id = $3 AND status = 'open'`,
		winnerID, closedAt.UTC(), id,
	)
	if err != nil {
		return false, fmt.Errorf("closing auction: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

func (r *AuctionRepo) Cancel(ctx context.Context, id int64, closedAt time.Time) (bool, error) {
	result, err := r.ext.ExecContext(ctx,
		`UPDATE auctions SET status = 'cancelled', closed_at = $1 WHERE id = $2 AND status = 'open'`,
		closedAt.UTC(), id,
	)
	if err != nil {
		return false, fmt.Errorf("cancelling auction: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

func (r *AuctionRepo) ListBySeller(ctx context.Context, sellerID int64) ([]store.Auction, error) {
	var auctions []store.Auction
	err := sqlx.SelectContext(ctx, r.ext, &auctions,
		`SELECT * FROM auctions WHERE seller_id = $1 ORDER BY created_at DESC`, sellerID)
	if err != nil {
		return nil, fmt.Errorf("listing auctions by seller: %w", err)
	}
	return auctions, nil
}
