// Package settlement closes ended auctions and moves the money: it
// spends the winner's held funds, credits the seller net of the
// platform fee, and refunds everyone else. The scheduler in this
// package drives it on a timer.
package settlement

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kallerud/artmarket/internal/auction"
	"github.com/kallerud/artmarket/internal/clock"
	"github.com/kallerud/artmarket/internal/ledger"
	"github.com/kallerud/artmarket/internal/market"
	"github.com/kallerud/artmarket/internal/notify"
	"github.com/kallerud/artmarket/internal/store"
)

// Settlement outcomes.
const (
	OutcomeSold          = "sold"
	OutcomeReserveNotMet = "reserve_not_met"
	OutcomeNoBids        = "no_bids"
	// OutcomeSkipped means the auction was no longer open: a concurrent
	// settlement got there first.
	OutcomeSkipped = "skipped"
)

// Processor settles individual auctions.
type Processor struct {
	store      store.Store
	dispatcher *notify.Dispatcher
	feeRate    decimal.Decimal
	logger     *slog.Logger
	tracer     trace.Tracer
	clock      clock.Clock
}

// NewProcessor creates a settlement Processor. feeRate is the platform
// fee fraction, e.g. 0.025.
func NewProcessor(st store.Store, dispatcher *notify.Dispatcher, feeRate float64, logger *slog.Logger, tp trace.TracerProvider, clk clock.Clock) *Processor {
	return &Processor{
		store:      st,
		dispatcher: dispatcher,
		feeRate:    decimal.NewFromFloat(feeRate),
		logger:     logger,
		tracer:     tp.Tracer("github.com/kallerud/artmarket/internal/settlement"),
		clock:      clk,
	}
}

// Settle resolves one ended auction inside a single atomic unit with
// the auction row locked. Settling an auction that is no longer open
// reports OutcomeSkipped; any failure rolls the whole unit back and
// leaves the auction open for retry.
func (p *Processor) Settle(ctx context.Context, auctionID int64) (string, error) {
	ctx, span := p.tracer.Start(ctx, "Settlement.Settle",
		trace.WithAttributes(attribute.Int64("auction_id", auctionID)),
	)
	defer span.End()

	var (
		outcome       string
		notifications []notify.Notification
	)
	err := p.store.InTx(ctx, func(r *store.Repos) error {
		a, err := r.Auctions.GetForUpdate(ctx, auctionID)
		if err != nil {
			return err
		}
		if a.Status != store.AuctionOpen {
			outcome = OutcomeSkipped
			return nil
		}

		artwork, err := r.Artworks.GetByID(ctx, a.ArtworkID)
		if err != nil {
			return fmt.Errorf("loading artwork %d: %w", a.ArtworkID, err)
		}

		highest, err := r.Bids.HighestActive(ctx, auctionID)
		if err != nil {
			return err
		}

		switch {
		case highest == nil:
			outcome = OutcomeNoBids
			notifications, err = p.settleNoBids(ctx, r, a)
		case a.ReservePrice != nil && highest.Amount.LessThan(*a.ReservePrice):
			outcome = OutcomeReserveNotMet
			notifications, err = p.settleReserveNotMet(ctx, r, a, highest)
		default:
			outcome = OutcomeSold
			notifications, err = p.settleSale(ctx, r, a, artwork, highest)
		}
		return err
	})
	if err != nil {
		return "", &market.SettlementError{AuctionID: auctionID, Err: err}
	}

	p.dispatcher.Dispatch(ctx, notifications)
	if outcome != OutcomeSkipped {
		p.logger.InfoContext(ctx, "auction settled",
			slog.Int64("auction_id", auctionID),
			slog.String("outcome", outcome),
		)
	}
	return outcome, nil
}

func (p *Processor) settleNoBids(ctx context.Context, r *store.Repos, a *store.Auction) ([]notify.Notification, error) {
	if _, err := r.Auctions.Close(ctx, a.ID, nil, p.clock.Now().UTC()); err != nil {
		return nil, err
	}
	if err := r.Artworks.SetListing(ctx, a.ArtworkID, store.ListingNone, nil); err != nil {
		return nil, err
	}
	return []notify.Notification{{
		UserID:    a.SellerID,
		Kind:      notify.KindAuctionEnded,
		Title:     "Auction ended without bids",
		Message:   fmt.Sprintf("Auction %d closed with no bids", a.ID),
		ArtworkID: &a.ArtworkID,
		Email:     true,
	}}, nil
}

func (p *Processor) settleReserveNotMet(ctx context.Context, r *store.Repos, a *store.Auction, highest *store.Bid) ([]notify.Notification, error) {
	refunded, err := auction.RefundActiveBidders(ctx, r, a, "reserve not met", 0)
	if err != nil {
		return nil, err
	}
	if _, err := r.Auctions.Close(ctx, a.ID, nil, p.clock.Now().UTC()); err != nil {
		return nil, err
	}
	if err := r.Artworks.SetListing(ctx, a.ArtworkID, store.ListingNone, nil); err != nil {
		return nil, err
	}

	notifications := refundNotifications(a, refunded)
	notifications = append(notifications, notify.Notification{
		UserID:    a.SellerID,
		Kind:      notify.KindReserveNotMet,
		Title:     "Reserve not met",
		Message:   fmt.Sprintf("Auction %d closed: highest bid %s did not meet the reserve", a.ID, highest.Amount),
		ArtworkID: &a.ArtworkID,
		Email:     true,
	})
	return notifications, nil
}

func (p *Processor) settleSale(ctx context.Context, r *store.Repos, a *store.Auction, artwork *store.Artwork, winning *store.Bid) ([]notify.Notification, error) {
	price := winning.Amount
	fee := price.Mul(p.feeRate).Round(2)
	proceeds := price.Sub(fee)

	// The winner's held funds become the payment.
	if err := ledger.Spend(ctx, r, winning.BidderID, price, a.ArtworkID); err != nil {
		return nil, err
	}
	purchase := &store.Transaction{
		UserID:      winning.BidderID,
		Type:        store.TxPurchase,
		Amount:      price,
		Status:      store.TxCompleted,
		Description: fmt.Sprintf("won auction %d", a.ID),
		ArtworkID:   &a.ArtworkID,
	}
	if err := r.Transactions.Create(ctx, purchase); err != nil {
		return nil, err
	}
	saleDesc := fmt.Sprintf("auction %d sale, fee %s", a.ID, fee)
	if err := ledger.Credit(ctx, r, a.SellerID, proceeds, store.TxSale, saleDesc, &a.ArtworkID); err != nil {
		return nil, err
	}

	// Everyone else gets their held funds back.
	refunded, err := auction.RefundActiveBidders(ctx, r, a, "auction lost", winning.BidderID)
	if err != nil {
		return nil, err
	}
	if err := r.Bids.Deactivate(ctx, winning.ID); err != nil {
		return nil, err
	}

	if _, err := r.Auctions.Close(ctx, a.ID, &winning.BidderID, p.clock.Now().UTC()); err != nil {
		return nil, err
	}
	if err := r.Artworks.Transfer(ctx, a.ArtworkID, winning.BidderID); err != nil {
		return nil, err
	}
	if err := r.History.LogPrice(ctx, a.ArtworkID, &a.SellerID, price); err != nil {
		return nil, err
	}
	activity := &store.Activity{
		ArtworkID:  a.ArtworkID,
		UserID:     winning.BidderID,
		Type:       "sold",
		Price:      price,
		FromUserID: &a.SellerID,
		ToUserID:   &winning.BidderID,
	}
	if err := r.History.LogActivity(ctx, activity); err != nil {
		return nil, err
	}

	notifications := refundNotifications(a, refunded)
	notifications = append(notifications,
		notify.Notification{
			UserID:    winning.BidderID,
			Kind:      notify.KindAuctionWon,
			Title:     "You won the auction",
			Message:   fmt.Sprintf("You won %q for %s", artwork.Title, price),
			ArtworkID: &a.ArtworkID,
			Email:     true,
		},
		notify.Notification{
			UserID:    a.SellerID,
			Kind:      notify.KindSale,
			Title:     "Artwork sold",
			Message:   fmt.Sprintf("%q sold for %s, you received %s after fees", artwork.Title, price, proceeds),
			ArtworkID: &a.ArtworkID,
			Email:     true,
		},
	)
	return notifications, nil
}

func refundNotifications(a *store.Auction, refunded []store.BidderTotal) []notify.Notification {
	var notifications []notify.Notification
	for _, rf := range refunded {
		notifications = append(notifications, notify.Notification{
			UserID:    rf.BidderID,
			Kind:      notify.KindBidRefunded,
			Title:     "Bid refunded",
			Message:   fmt.Sprintf("%s returned from %d bid(s) on auction %d", rf.Total, rf.BidCount, a.ID),
			ArtworkID: &a.ArtworkID,
			Email:     true,
		})
	}
	return notifications
}
