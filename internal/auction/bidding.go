package auction

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kallerud/artmarket/internal/ledger"
	"github.com/kallerud/artmarket/internal/market"
	"github.com/kallerud/artmarket/internal/notify"
	"github.com/kallerud/artmarket/internal/store"
)

// PlaceBid admits a fresh bid or raises the bidder's existing one. The
// auction row is locked for the whole admission so concurrent bids on
// the same auction serialize, and the end time is re-checked under that
// lock.
func (s *Service) PlaceBid(ctx context.Context, auctionID, bidderID int64, amount decimal.Decimal) (*store.Bid, error) {
	ctx, span := s.tracer.Start(ctx, "Auction.PlaceBid",
		trace.WithAttributes(
			attribute.Int64("auction_id", auctionID),
			attribute.Int64("bidder_id", bidderID),
			attribute.String("amount", amount.String()),
		),
	)
	defer span.End()

	if !amount.IsPositive() {
		return nil, fmt.Errorf("bid amount must be positive: %w", market.ErrValidation)
	}

	var (
		bid           *store.Bid
		notifications []notify.Notification
	)
	err := s.store.InTx(ctx, func(r *store.Repos) error {
		auction, err := r.Auctions.GetForUpdate(ctx, auctionID)
		if err != nil {
			return err
		}
		if auction.Status != store.AuctionOpen {
			return fmt.Errorf("auction %d is %s: %w", auctionID, auction.Status, market.ErrAuctionNotOpen)
		}
		if !s.clock.Now().Before(auction.EndTime) {
			return fmt.Errorf("auction %d has ended: %w", auctionID, market.ErrAuctionNotOpen)
		}
		if bidderID == auction.SellerID {
			return fmt.Errorf("seller cannot bid on own auction: %w", market.ErrSelfBid)
		}

		previous, err := r.Bids.HighestActive(ctx, auctionID)
		if err != nil {
			return err
		}
		existing, err := r.Bids.ActiveByBidder(ctx, auctionID, bidderID)
		if err != nil {
			return err
		}

		if existing != nil {
			// A raise only has to beat the bidder's own standing amount;
			// only the difference is held.
			if amount.LessThanOrEqual(existing.Amount) {
				return fmt.Errorf("raise %s must exceed current bid %s: %w", amount, existing.Amount, market.ErrBidTooLow)
			}
			delta := amount.Sub(existing.Amount)
			desc := fmt.Sprintf("bid raised to %s on auction %d", amount, auctionID)
			if err := ledger.Hold(ctx, r, bidderID, delta, store.TxBidIncrease, desc, &auction.ArtworkID); err != nil {
				return err
			}
			if err := r.Bids.SetAmount(ctx, existing.ID, amount, s.clock.Now().UTC()); err != nil {
				return err
			}
			existing.Amount = amount
			bid = existing
		} else {
			if previous == nil {
				if amount.LessThan(auction.StartPrice) {
					return fmt.Errorf("bid %s below start price %s: %w", amount, auction.StartPrice, market.ErrBidTooLow)
				}
			} else if amount.LessThanOrEqual(previous.Amount) {
				return fmt.Errorf("bid %s does not beat current highest %s: %w", amount, previous.Amount, market.ErrBidTooLow)
			}
			desc := fmt.Sprintf("bid %s on auction %d", amount, auctionID)
			if err := ledger.Hold(ctx, r, bidderID, amount, store.TxBid, desc, &auction.ArtworkID); err != nil {
				return err
			}
			b := &store.Bid{AuctionID: auctionID, BidderID: bidderID, Amount: amount}
			if err := r.Bids.Create(ctx, b); err != nil {
				return err
			}
			bid = b
		}

		if previous != nil && previous.BidderID != bidderID && amount.GreaterThan(previous.Amount) {
			notifications = append(notifications, notify.Notification{
				UserID:    previous.BidderID,
				Kind:      notify.KindOutbid,
				Title:     "You have been outbid",
				Message:   fmt.Sprintf("Your bid of %s on auction %d was beaten by %s", previous.Amount, auctionID, amount),
				ArtworkID: &auction.ArtworkID,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.dispatcher.Dispatch(ctx, notifications)
	s.logger.InfoContext(ctx, "bid placed",
		slog.Int64("auction_id", auctionID),
		slog.Int64("bidder_id", bidderID),
		slog.String("amount", amount.String()),
	)
	return bid, nil
}

// CancelBid withdraws the bidder's active bid on an open auction and
// refunds the full held amount.
func (s *Service) CancelBid(ctx context.Context, auctionID, bidderID int64) error {
	ctx, span := s.tracer.Start(ctx, "Auction.CancelBid",
		trace.WithAttributes(
			attribute.Int64("auction_id", auctionID),
			attribute.Int64("bidder_id", bidderID),
		),
	)
	defer span.End()

	err := s.store.InTx(ctx, func(r *store.Repos) error {
		auction, err := r.Auctions.GetForUpdate(ctx, auctionID)
		if err != nil {
			return err
		}
		if auction.Status != store.AuctionOpen {
			return fmt.Errorf("auction %d is %s: %w", auctionID, auction.Status, market.ErrAuctionNotOpen)
		}
		existing, err := r.Bids.ActiveByBidder(ctx, auctionID, bidderID)
		if err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("no active bid on auction %d: %w", auctionID, market.ErrNotFound)
		}

		reason := fmt.Sprintf("bid withdrawn from auction %d", auctionID)
		if err := ledger.Refund(ctx, r, bidderID, existing.Amount, reason, &auction.ArtworkID); err != nil {
			return err
		}
		return r.Bids.Deactivate(ctx, existing.ID)
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "bid cancelled",
		slog.Int64("auction_id", auctionID),
		slog.Int64("bidder_id", bidderID),
	)
	return nil
}

// CancelBidByID resolves a bid id to its auction and withdraws it.
// Only the bid's owner may cancel it.
func (s *Service) CancelBidByID(ctx context.Context, bidID, callerID int64) error {
	bid, err := s.store.Repos().Bids.GetByID(ctx, bidID)
	if err != nil {
		return err
	}
	if bid.BidderID != callerID {
		return fmt.Errorf("bid %d belongs to another user: %w", bidID, market.ErrPermission)
	}
	return s.CancelBid(ctx, bid.AuctionID, callerID)
}
