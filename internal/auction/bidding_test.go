package auction_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kallerud/artmarket/internal/market"
	"github.com/kallerud/artmarket/internal/notify"
)

func TestPlaceBidHoldsFullAmount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.openAuction(t, 1, 10, nil)
	f.fund(t, 2, 100)

	bid, err := f.svc.PlaceBid(ctx, a.ID, 2, decimal.NewFromInt(25))
	if err != nil {
		t.Fatalf("PlaceBid: %v", err)
	}
	if !bid.Amount.Equal(decimal.NewFromInt(25)) {
		t.Errorf("Amount = %s, want 25", bid.Amount)
	}
	if !f.available(t, 2).Equal(decimal.NewFromInt(75)) {
		t.Errorf("available = %s, want 75", f.available(t, 2))
	}
	if !f.pending(t, 2).Equal(decimal.NewFromInt(25)) {
		t.Errorf("pending = %s, want 25", f.pending(t, 2))
	}
}

func TestPlaceBidAdmission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.openAuction(t, 1, 10, nil)
	f.fund(t, 2, 100)
	f.fund(t, 3, 100)

	// Bidder 2 leads with 30.
	if _, err := f.svc.PlaceBid(ctx, a.ID, 2, decimal.NewFromInt(30)); err != nil {
		t.Fatalf("PlaceBid: %v", err)
	}

	tests := []struct {
		name     string
		bidderID int64
		amount   int64
		wantErr  error
	}{
		{"below start price rejected even from fresh bidder", 3, 5, market.ErrBidTooLow},
		{"tie with leader rejected", 3, 30, market.ErrBidTooLow},
		{"seller cannot bid", 1, 50, market.ErrSelfBid},
		{"beating the leader succeeds", 3, 35, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.PlaceBid(ctx, a.ID, tt.bidderID, decimal.NewFromInt(tt.amount))
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("PlaceBid: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("PlaceBid error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPlaceBidInsufficientFundsLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.openAuction(t, 1, 10, nil)
	f.fund(t, 2, 20)

	_, err := f.svc.PlaceBid(ctx, a.ID, 2, decimal.NewFromInt(50))
	if !errors.Is(err, market.ErrInsufficientFunds) {
		t.Fatalf("PlaceBid error = %v, want ErrInsufficientFunds", err)
	}

	// The rolled-back admission leaves no bid and no hold.
	bids, err := f.mem.Repos().Bids.ListByAuction(ctx, a.ID)
	if err != nil {
		t.Fatalf("ListByAuction: %v", err)
	}
	if len(bids) != 0 {
		t.Errorf("bids = %d, want 0", len(bids))
	}
	if !f.available(t, 2).Equal(decimal.NewFromInt(20)) || !f.pending(t, 2).IsZero() {
		t.Errorf("balance = %s/%s, want 20/0", f.available(t, 2), f.pending(t, 2))
	}
}

func TestRaiseHoldsOnlyDelta(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.openAuction(t, 1, 10, nil)
	f.fund(t, 2, 100)

	if _, err := f.svc.PlaceBid(ctx, a.ID, 2, decimal.NewFromInt(30)); err != nil {
		t.Fatalf("PlaceBid: %v", err)
	}
	bid, err := f.svc.PlaceBid(ctx, a.ID, 2, decimal.NewFromInt(45))
	if err != nil {
		t.Fatalf("raise: %v", err)
	}
	if !bid.Amount.Equal(decimal.NewFromInt(45)) {
		t.Errorf("Amount = %s, want 45", bid.Amount)
	}

	// Exactly one active bid row; held amount matches it.
	bids, err := f.mem.Repos().Bids.ListByAuction(ctx, a.ID)
	if err != nil {
		t.Fatalf("ListByAuction: %v", err)
	}
	if len(bids) != 1 {
		t.Fatalf("bid rows = %d, want 1", len(bids))
	}
	if !f.pending(t, 2).Equal(decimal.NewFromInt(45)) {
		t.Errorf("pending = %s, want 45", f.pending(t, 2))
	}
	if !f.available(t, 2).Equal(decimal.NewFromInt(55)) {
		t.Errorf("available = %s, want 55", f.available(t, 2))
	}
}

func TestRaiseOnlyComparedToOwnBid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.openAuction(t, 1, 10, nil)
	f.fund(t, 2, 100)
	f.fund(t, 3, 100)

	if _, err := f.svc.PlaceBid(ctx, a.ID, 2, decimal.NewFromInt(20)); err != nil {
		t.Fatalf("PlaceBid: %v", err)
	}
	if _, err := f.svc.PlaceBid(ctx, a.ID, 3, decimal.NewFromInt(50)); err != nil {
		t.Fatalf("PlaceBid: %v", err)
	}

	// Bidder 2 raises to 25: above their own 20, below the leader's 50.
	// The raise is admitted; it just doesn't take the lead.
	if _, err := f.svc.PlaceBid(ctx, a.ID, 2, decimal.NewFromInt(25)); err != nil {
		t.Fatalf("raise below leader: %v", err)
	}
	leader, err := f.mem.Repos().Bids.HighestActive(ctx, a.ID)
	if err != nil {
		t.Fatalf("HighestActive: %v", err)
	}
	if leader.BidderID != 3 {
		t.Errorf("leader = bidder %d, want 3", leader.BidderID)
	}

	// A raise at or below the bidder's own amount is rejected.
	if _, err := f.svc.PlaceBid(ctx, a.ID, 2, decimal.NewFromInt(25)); !errors.Is(err, market.ErrBidTooLow) {
		t.Errorf("equal raise error = %v, want ErrBidTooLow", err)
	}
}

func TestPlaceBidAfterEndTimeRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.openAuction(t, 1, 10, nil)
	f.fund(t, 2, 100)

	f.clk.Advance(2 * time.Hour)

	_, err := f.svc.PlaceBid(ctx, a.ID, 2, decimal.NewFromInt(20))
	if !errors.Is(err, market.ErrAuctionNotOpen) {
		t.Fatalf("PlaceBid error = %v, want ErrAuctionNotOpen", err)
	}
}

func TestOutbidNotification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.openAuction(t, 1, 10, nil)
	f.fund(t, 2, 100)
	f.fund(t, 3, 100)

	if _, err := f.svc.PlaceBid(ctx, a.ID, 2, decimal.NewFromInt(20)); err != nil {
		t.Fatalf("PlaceBid: %v", err)
	}
	if _, err := f.svc.PlaceBid(ctx, a.ID, 3, decimal.NewFromInt(30)); err != nil {
		t.Fatalf("PlaceBid: %v", err)
	}

	var outbid []notify.Notification
	for _, n := range f.sink.sent {
		if n.Kind == notify.KindOutbid {
			outbid = append(outbid, n)
		}
	}
	if len(outbid) != 1 || outbid[0].UserID != 2 {
		t.Fatalf("outbid notifications = %+v, want one for user 2", outbid)
	}
}

func TestCancelBidRefunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.openAuction(t, 1, 10, nil)
	f.fund(t, 2, 100)

	bid, err := f.svc.PlaceBid(ctx, a.ID, 2, decimal.NewFromInt(40))
	if err != nil {
		t.Fatalf("PlaceBid: %v", err)
	}
	if err := f.svc.CancelBidByID(ctx, bid.ID, 2); err != nil {
		t.Fatalf("CancelBidByID: %v", err)
	}

	if !f.available(t, 2).Equal(decimal.NewFromInt(100)) || !f.pending(t, 2).IsZero() {
		t.Errorf("balance = %s/%s, want 100/0", f.available(t, 2), f.pending(t, 2))
	}

	// The bid row survives, deactivated.
	got, err := f.mem.Repos().Bids.GetByID(ctx, bid.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.IsActive {
		t.Error("bid still active after cancellation")
	}

	// Fresh bids are admitted again.
	if _, err := f.svc.PlaceBid(ctx, a.ID, 2, decimal.NewFromInt(15)); err != nil {
		t.Fatalf("rebid: %v", err)
	}
}

func TestCancelBidPermission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.openAuction(t, 1, 10, nil)
	f.fund(t, 2, 100)

	bid, err := f.svc.PlaceBid(ctx, a.ID, 2, decimal.NewFromInt(40))
	if err != nil {
		t.Fatalf("PlaceBid: %v", err)
	}
	if err := f.svc.CancelBidByID(ctx, bid.ID, 3); !errors.Is(err, market.ErrPermission) {
		t.Fatalf("CancelBidByID error = %v, want ErrPermission", err)
	}
}
