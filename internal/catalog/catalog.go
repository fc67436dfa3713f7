// Package catalog manages artworks outside the auction flow: creation,
// fixed-price listings and direct purchases.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kallerud/artmarket/internal/ledger"
	"github.com/kallerud/artmarket/internal/market"
	"github.com/kallerud/artmarket/internal/notify"
	"github.com/kallerud/artmarket/internal/store"
)

// Service coordinates catalog operations.
type Service struct {
	store      store.Store
	dispatcher *notify.Dispatcher
	feeRate    decimal.Decimal
	logger     *slog.Logger
	tracer     trace.Tracer
}

// NewService creates a catalog Service. feeRate is the platform fee
// fraction applied to fixed-price sales, same as auction settlement.
func NewService(st store.Store, dispatcher *notify.Dispatcher, feeRate float64, logger *slog.Logger, tp trace.TracerProvider) *Service {
	return &Service{
		store:      st,
		dispatcher: dispatcher,
		feeRate:    decimal.NewFromFloat(feeRate),
		logger:     logger,
		tracer:     tp.Tracer("github.com/kallerud/artmarket/internal/catalog"),
	}
}

// CreateArtwork registers a new artwork. The creator is both owner and
// artist.
func (s *Service) CreateArtwork(ctx context.Context, ownerID int64, title string) (*store.Artwork, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("title is required: %w", market.ErrValidation)
	}

	a := &store.Artwork{OwnerID: ownerID, ArtistID: ownerID, Title: title}
	if err := s.store.Repos().Artworks.Create(ctx, a); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "artwork created",
		slog.Int64("artwork_id", a.ID),
		slog.Int64("owner_id", ownerID),
	)
	return a, nil
}

// ListFixed puts an artwork up for sale at a fixed price. Listing is
// refused while an open auction exists for the artwork.
func (s *Service) ListFixed(ctx context.Context, callerID, artworkID int64, price decimal.Decimal) error {
	if !price.IsPositive() {
		return fmt.Errorf("price must be positive: %w", market.ErrValidation)
	}
	return s.store.InTx(ctx, func(r *store.Repos) error {
		artwork, err := r.Artworks.GetByID(ctx, artworkID)
		if err != nil {
			return err
		}
		if artwork.OwnerID != callerID {
			return fmt.Errorf("user %d does not own artwork %d: %w", callerID, artworkID, market.ErrPermission)
		}
		open, err := r.Auctions.OpenByArtwork(ctx, artworkID)
		if err != nil {
			return err
		}
		if open != nil {
			return fmt.Errorf("artwork %d has an open auction: %w", artworkID, market.ErrConflict)
		}
		return r.Artworks.SetListing(ctx, artworkID, store.ListingFixed, &price)
	})
}

// Delist takes an artwork off fixed-price sale.
func (s *Service) Delist(ctx context.Context, callerID, artworkID int64) error {
	return s.store.InTx(ctx, func(r *store.Repos) error {
		artwork, err := r.Artworks.GetByID(ctx, artworkID)
		if err != nil {
			return err
		}
		if artwork.OwnerID != callerID {
			return fmt.Errorf("user %d does not own artwork %d: %w", callerID, artworkID, market.ErrPermission)
		}
		open, err := r.Auctions.OpenByArtwork(ctx, artworkID)
		if err != nil {
			return err
		}
		if open != nil {
			return fmt.Errorf("artwork %d has an open auction: %w", artworkID, market.ErrConflict)
		}
		return r.Artworks.SetListing(ctx, artworkID, store.ListingNone, nil)
	})
}

// Purchase buys a fixed-price artwork outright: the buyer pays the
// asking price, the seller receives it net of the platform fee, and
// ownership transfers immediately.
func (s *Service) Purchase(ctx context.Context, buyerID, artworkID int64) (*store.Artwork, error) {
	ctx, span := s.tracer.Start(ctx, "Catalog.Purchase",
		trace.WithAttributes(
			attribute.Int64("artwork_id", artworkID),
			attribute.Int64("buyer_id", buyerID),
		),
	)
	defer span.End()

	var (
		bought        *store.Artwork
		notifications []notify.Notification
	)
	err := s.store.InTx(ctx, func(r *store.Repos) error {
		artwork, err := r.Artworks.GetByID(ctx, artworkID)
		if err != nil {
			return err
		}
		if artwork.OwnerID == buyerID {
			return fmt.Errorf("cannot purchase your own artwork: %w", market.ErrValidation)
		}
		if artwork.Listing != store.ListingFixed || artwork.Price == nil {
			return fmt.Errorf("artwork %d is not listed for sale: %w", artworkID, market.ErrConflict)
		}

		price := *artwork.Price
		fee := price.Mul(s.feeRate).Round(2)
		proceeds := price.Sub(fee)
		sellerID := artwork.OwnerID

		buyDesc := fmt.Sprintf("purchased %q", artwork.Title)
		if err := ledger.Debit(ctx, r, buyerID, price, store.TxPurchase, buyDesc, &artworkID); err != nil {
			return err
		}
		sellDesc := fmt.Sprintf("sold %q, fee %s", artwork.Title, fee)
		if err := ledger.Credit(ctx, r, sellerID, proceeds, store.TxSale, sellDesc, &artworkID); err != nil {
			return err
		}
		if err := r.Artworks.Transfer(ctx, artworkID, buyerID); err != nil {
			return err
		}
		if err := r.History.LogPrice(ctx, artworkID, &sellerID, price); err != nil {
			return err
		}
		activity := &store.Activity{
			ArtworkID:  artworkID,
			UserID:     buyerID,
			Type:       "sold",
			Price:      price,
			FromUserID: &sellerID,
			ToUserID:   &buyerID,
		}
		if err := r.History.LogActivity(ctx, activity); err != nil {
			return err
		}

		notifications = append(notifications, notify.Notification{
			UserID:    sellerID,
			Kind:      notify.KindSale,
			Title:     "Artwork sold",
			Message:   fmt.Sprintf("%q sold for %s, you received %s after fees", artwork.Title, price, proceeds),
			ArtworkID: &artworkID,
			Email:     true,
		})

		artwork.OwnerID = buyerID
		artwork.Listing = store.ListingNone
		artwork.Price = nil
		bought = artwork
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.dispatcher.Dispatch(ctx, notifications)
	s.logger.InfoContext(ctx, "artwork purchased",
		slog.Int64("artwork_id", artworkID),
		slog.Int64("buyer_id", buyerID),
	)
	return bought, nil
}

// ListByOwner returns a user's artworks.
func (s *Service) ListByOwner(ctx context.Context, ownerID int64) ([]store.Artwork, error) {
	return s.store.Repos().Artworks.ListByOwner(ctx, ownerID)
}
