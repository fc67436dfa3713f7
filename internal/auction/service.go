// Package auction implements the auction lifecycle: creation, bid
// admission and seller cancellation. Settlement of ended auctions lives
// in the settlement package.
package auction

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kallerud/artmarket/internal/clock"
	"github.com/kallerud/artmarket/internal/ledger"
	"github.com/kallerud/artmarket/internal/market"
	"github.com/kallerud/artmarket/internal/notify"
	"github.com/kallerud/artmarket/internal/store"
)

// Service coordinates auction lifecycle operations.
type Service struct {
	store      store.Store
	dispatcher *notify.Dispatcher
	logger     *slog.Logger
	tracer     trace.Tracer
	clock      clock.Clock
}

// NewService creates an auction Service.
func NewService(st store.Store, dispatcher *notify.Dispatcher, logger *slog.Logger, tp trace.TracerProvider, clk clock.Clock) *Service {
	return &Service{
		store:      st,
		dispatcher: dispatcher,
		logger:     logger,
		tracer:     tp.Tracer("github.com/kallerud/artmarket/internal/auction"),
		clock:      clk,
	}
}

// Create opens a new auction for an artwork owned by the caller. The
// seller is snapshotted on the auction row and stays authoritative for
// settlement even if ownership changes later.
func (s *Service) Create(ctx context.Context, sellerID, artworkID int64, startPrice decimal.Decimal, reservePrice *decimal.Decimal, endTime time.Time) (*store.Auction, error) {
	ctx, span := s.tracer.Start(ctx, "Auction.Create",
		trace.WithAttributes(
			attribute.Int64("artwork_id", artworkID),
			attribute.Int64("seller_id", sellerID),
		),
	)
	defer span.End()

	if !startPrice.IsPositive() {
		return nil, fmt.Errorf("start price must be positive: %w", market.ErrValidation)
	}
	if reservePrice != nil && reservePrice.LessThan(startPrice) {
		return nil, fmt.Errorf("reserve price below start price: %w", market.ErrValidation)
	}
	if !endTime.After(s.clock.Now()) {
		return nil, fmt.Errorf("end time must be in the future: %w", market.ErrValidation)
	}

	var auction *store.Auction
	err := s.store.InTx(ctx, func(r *store.Repos) error {
		artwork, err := r.Artworks.GetByID(ctx, artworkID)
		if err != nil {
			return err
		}
		if artwork.OwnerID != sellerID {
			return fmt.Errorf("user %d does not own artwork %d: %w", sellerID, artworkID, market.ErrPermission)
		}

		a := &store.Auction{
			ArtworkID:    artworkID,
			SellerID:     sellerID,
			StartPrice:   startPrice,
			ReservePrice: reservePrice,
			EndTime:      endTime.UTC(),
		}
		if err := r.Auctions.Create(ctx, a); err != nil {
			return err
		}
		if err := r.Artworks.SetListing(ctx, artworkID, store.ListingAuction, nil); err != nil {
			return err
		}
		auction = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "auction created",
		slog.Int64("auction_id", auction.ID),
		slog.Int64("artwork_id", artworkID),
		slog.String("start_price", startPrice.String()),
	)
	return auction, nil
}

// Get returns an auction with its full bid history.
func (s *Service) Get(ctx context.Context, auctionID int64) (*store.Auction, []store.Bid, error) {
	repos := s.store.Repos()
	auction, err := repos.Auctions.GetByID(ctx, auctionID)
	if err != nil {
		return nil, nil, err
	}
	bids, err := repos.Bids.ListByAuction(ctx, auctionID)
	if err != nil {
		return nil, nil, err
	}
	return auction, bids, nil
}

// ListOpen returns all open auctions ordered by end time.
func (s *Service) ListOpen(ctx context.Context) ([]store.Auction, error) {
	return s.store.Repos().Auctions.ListOpen(ctx)
}

// ListBySeller returns every auction the user has run, any status.
func (s *Service) ListBySeller(ctx context.Context, sellerID int64) ([]store.Auction, error) {
	return s.store.Repos().Auctions.ListBySeller(ctx, sellerID)
}

// ListActiveBids returns the user's active bids across all auctions.
func (s *Service) ListActiveBids(ctx context.Context, bidderID int64) ([]store.Bid, error) {
	return s.store.Repos().Bids.ListActiveByBidder(ctx, bidderID)
}

// Cancel aborts an open auction and refunds every active bidder in
// full. Only the seller may cancel. Cancelling an auction that is no
// longer open is a no-op.
func (s *Service) Cancel(ctx context.Context, auctionID, callerID int64) error {
	ctx, span := s.tracer.Start(ctx, "Auction.Cancel",
		trace.WithAttributes(attribute.Int64("auction_id", auctionID)),
	)
	defer span.End()

	var notifications []notify.Notification
	err := s.store.InTx(ctx, func(r *store.Repos) error {
		auction, err := r.Auctions.GetForUpdate(ctx, auctionID)
		if err != nil {
			return err
		}
		if auction.SellerID != callerID {
			return fmt.Errorf("only the seller may cancel auction %d: %w", auctionID, market.ErrPermission)
		}
		if auction.Status != store.AuctionOpen {
			return nil
		}

		refunded, err := refundActiveBidders(ctx, r, auction, "auction cancelled")
		if err != nil {
			return err
		}
		for _, rf := range refunded {
			notifications = append(notifications, notify.Notification{
				UserID:    rf.BidderID,
				Kind:      notify.KindAuctionCancelled,
				Title:     "Auction cancelled",
				Message:   fmt.Sprintf("Auction %d was cancelled; %s returned from %d bid(s)", auctionID, rf.Total, rf.BidCount),
				ArtworkID: &auction.ArtworkID,
				Email:     true,
			})
		}

		// The artwork row is left alone: clearing or changing the
		// listing is the catalog's business, not the cancel's.
		_, err = r.Auctions.Cancel(ctx, auctionID, s.clock.Now().UTC())
		return err
	})
	if err != nil {
		return err
	}

	s.dispatcher.Dispatch(ctx, notifications)
	s.logger.InfoContext(ctx, "auction cancelled",
		slog.Int64("auction_id", auctionID),
		slog.Int("bidders_refunded", len(notifications)),
	)
	return nil
}

// refundActiveBidders releases every bidder's held funds for the
// auction, flips their pending transactions, and deactivates their
// bids. Returns the per-bidder totals for notification. Shared with
// the settlement package.
func refundActiveBidders(ctx context.Context, r *store.Repos, auction *store.Auction, reason string) ([]store.BidderTotal, error) {
	return RefundActiveBidders(ctx, r, auction, reason, 0)
}

// RefundActiveBidders runs the refund cascade for all active bidders
// except skipBidderID (0 to refund everyone). Each bidder's refund is
// the sum of their active bid amounts on this auction only.
func RefundActiveBidders(ctx context.Context, r *store.Repos, auction *store.Auction, reason string, skipBidderID int64) ([]store.BidderTotal, error) {
	totals, err := r.Bids.ActiveTotals(ctx, auction.ID)
	if err != nil {
		return nil, err
	}

	var refunded []store.BidderTotal
	for _, bt := range totals {
		if bt.BidderID == skipBidderID {
			continue
		}
		if err := ledger.Refund(ctx, r, bt.BidderID, bt.Total, reason, &auction.ArtworkID); err != nil {
			return nil, fmt.Errorf("refunding bidder %d: %w", bt.BidderID, err)
		}
		if err := r.Bids.DeactivateForBidder(ctx, auction.ID, bt.BidderID); err != nil {
			return nil, err
		}
		refunded = append(refunded, bt)
	}
	return refunded, nil
}
