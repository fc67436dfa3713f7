package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/kallerud/artmarket/internal/clock"
	"github.com/kallerud/artmarket/internal/market"
	"github.com/kallerud/artmarket/internal/store"
)

// ArtworkRepo implements store.ArtworkRepository with sqlx.
type ArtworkRepo struct {
	ext sqlx.ExtContext
	clk clock.Clock
}

func (r *ArtworkRepo) Create(ctx context.Context, a *store.Artwork) error {
	if a.Listing == "" {
		a.Listing = store.ListingNone
	}
	a.CreatedAt = r.clk.Now().UTC()
	query := `INSERT INTO artworks (owner_id, artist_id, title, listing, price, created_at)
	           VALUES ($1, $2, $3, $4, $5, $6)
	           RETURNING id`
	err := r.ext.QueryRowxContext(ctx, query,
		a.OwnerID, a.ArtistID, a.Title, a.Listing, a.Price, a.CreatedAt).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("creating artwork: %w", mapErr(err))
	}
	return nil
}

func (r *ArtworkRepo) GetByID(ctx context.Context, id int64) (*store.Artwork, error) {
	var a store.Artwork
	err := sqlx.GetContext(ctx, r.ext, &a, `SELECT * FROM artworks WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("artwork %d: %w", id, market.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting artwork: %w", err)
	}
	return &a, nil
}

func (r *ArtworkRepo) SetListing(ctx context.Context, id int64, listing string, price *decimal.Decimal) error {
	result, err := r.ext.ExecContext(ctx,
		`UPDATE artworks SET listing = $1, price = $2 WHERE id = $3`,
		listing, price, id,
	)
	if err != nil {
		return fmt.Errorf("updating artwork listing: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("artwork %d: %w", id, market.ErrNotFound)
	}
	return nil
}

func (r *ArtworkRepo) Transfer(ctx context.Context, id, newOwnerID int64) error {
	result, err := r.ext.ExecContext(ctx,
		`UPDATE artworks SET owner_id = $1, listing = 'unlisted', price = NULL WHERE id = $2`,
		newOwnerID, id,
	)
	if err != nil {
		return fmt.Errorf("transferring artwork: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("artwork %d: %w", id, market.ErrNotFound)
	}
	return nil
}

func (r *ArtworkRepo) ListByOwner(ctx context.Context, ownerID int64) ([]store.Artwork, error) {
	var artworks []store.Artwork
	err := sqlx.SelectContext(ctx, r.ext, &artworks,
		`SELECT * FROM artworks WHERE owner_id = $1 ORDER BY id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing artworks by owner: %w", err)
	}
	return artworks, nil
}
