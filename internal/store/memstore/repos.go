package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kallerud/artmarket/internal/market"
	"github.com/kallerud/artmarket/internal/store"
)

type artworkRepo queries

func (r *artworkRepo) q() *queries { return (*queries)(r) }

func (r *artworkRepo) Create(_ context.Context, a *store.Artwork) error {
	return r.q().write(func(s *state) error {
		a.ID = s.id()
		a.CreatedAt = r.m.clk.Now().UTC()
		if a.Listing == "" {
			a.Listing = store.ListingNone
		}
		s.artworks[a.ID] = *a
		return nil
	})
}

func (r *artworkRepo) GetByID(_ context.Context, id int64) (*store.Artwork, error) {
	var out *store.Artwork
	err := r.q().read(func(s *state) error {
		a, ok := s.artworks[id]
		if !ok {
			return fmt.Errorf("artwork %d: %w", id, market.ErrNotFound)
		}
		out = &a
		return nil
	})
	return out, err
}

func (r *artworkRepo) SetListing(_ context.Context, id int64, listing string, price *decimal.Decimal) error {
	return r.q().write(func(s *state) error {
		a, ok := s.artworks[id]
		if !ok {
			return fmt.Errorf("artwork %d: %w", id, market.ErrNotFound)
		}
		a.Listing = listing
		a.Price = price
		s.artworks[id] = a
		return nil
	})
}

func (r *artworkRepo) Transfer(_ context.Context, id, newOwnerID int64) error {
	return r.q().write(func(s *state) error {
		a, ok := s.artworks[id]
		if !ok {
			return fmt.Errorf("artwork %d: %w", id, market.ErrNotFound)
		}
		a.OwnerID = newOwnerID
		a.Listing = store.ListingNone
		a.Price = nil
		s.artworks[id] = a
		return nil
	})
}

func (r *artworkRepo) ListByOwner(_ context.Context, ownerID int64) ([]store.Artwork, error) {
	var out []store.Artwork
	err := r.q().read(func(s *state) error {
		for _, a := range s.artworks {
			if a.OwnerID == ownerID {
				out = append(out, a)
			}
		}
		sortByID(out, func(a store.Artwork) int64 { return a.ID })
		return nil
	})
	return out, err
}

type auctionRepo queries

func (r *auctionRepo) q() *queries { return (*queries)(r) }

func (r *auctionRepo) Create(_ context.Context, a *store.Auction) error {
	return r.q().write(func(s *state) error {
		for _, other := range s.auctions {
			if other.ArtworkID == a.ArtworkID && other.Status == store.AuctionOpen {
				return fmt.Errorf("artwork %d already has an open auction: %w", a.ArtworkID, market.ErrConflict)
			}
		}
		a.ID = s.id()
		a.Status = store.AuctionOpen
		a.CreatedAt = r.m.clk.Now().UTC()
		s.auctions[a.ID] = *a
		return nil
	})
}

func (r *auctionRepo) GetByID(_ context.Context, id int64) (*store.Auction, error) {
	var out *store.Auction
	err := r.q().read(func(s *state) error {
		a, ok := s.auctions[id]
		if !ok {
			return fmt.Errorf("auction %d: %w", id, market.ErrNotFound)
		}
		out = &a
		return nil
	})
	return out, err
}

// GetForUpdate is equivalent to GetByID here: InTx already holds the
// store-wide lock, which subsumes row-level locking.
func (r *auctionRepo) GetForUpdate(ctx context.Context, id int64) (*store.Auction, error) {
	return r.GetByID(ctx, id)
}

func (r *auctionRepo) OpenByArtwork(_ context.Context, artworkID int64) (*store.Auction, error) {
	var out *store.Auction
	err := r.q().read(func(s *state) error {
		for _, a := range s.auctions {
			if a.ArtworkID == artworkID && a.Status == store.AuctionOpen {
				a := a
				out = &a
				return nil
			}
		}
		return nil
	})
	return out, err
}

func (r *auctionRepo) ListOpen(_ context.Context) ([]store.Auction, error) {
	var out []store.Auction
	err := r.q().read(func(s *state) error {
		for _, a := range s.auctions {
			if a.Status == store.AuctionOpen {
				out = append(out, a)
			}
		}
		sortByID(out, func(a store.Auction) int64 { return a.ID })
		return nil
	})
	return out, err
}

func (r *auctionRepo) ListDue(_ context.Context, now time.Time) ([]store.Auction, error) {
	var out []store.Auction
	err := r.q().read(func(s *state) error {
		for _, a := range s.auctions {
			if a.Status == store.AuctionOpen && !a.EndTime.After(now) {
				out = append(out, a)
			}
		}
		sortByID(out, func(a store.Auction) int64 { return a.ID })
		return nil
	})
	return out, err
}

func (r *auctionRepo) CountDue(ctx context.Context, now time.Time) (int, error) {
	due, err := r.ListDue(ctx, now)
	if err != nil {
		return 0, err
	}
	return len(due), nil
}

func (r *auctionRepo) Close(_ context.Context, id int64, winnerID *int64, closedAt time.Time) (bool, error) {
	var closed bool
	err := r.q().write(func(s *state) error {
		a, ok := s.auctions[id]
		if !ok || a.Status != store.AuctionOpen {
			return nil
		}
		a.Status = store.AuctionClosed
		a.WinnerID = winnerID
		t := closedAt
		a.ClosedAt = &t
		s.auctions[id] = a
		closed = true
		return nil
	})
	return closed, err
}

func (r *auctionRepo) Cancel(_ context.Context, id int64, closedAt time.Time) (bool, error) {
	var cancelled bool
	err := r.q().write(func(s *state) error {
		a, ok := s.auctions[id]
		if !ok || a.Status != store.AuctionOpen {
			return nil
		}
		a.Status = store.AuctionCancelled
		t := closedAt
		a.ClosedAt = &t
		s.auctions[id] = a
		cancelled = true
		return nil
	})
	return cancelled, err
}

func (r *auctionRepo) ListBySeller(_ context.Context, sellerID int64) ([]store.Auction, error) {
	var out []store.Auction
	err := r.q().read(func(s *state) error {
		for _, a := range s.auctions {
			if a.SellerID == sellerID {
				out = append(out, a)
			}
		}
		sortByID(out, func(a store.Auction) int64 { return a.ID })
		return nil
	})
	return out, err
}

type bidRepo queries

func (r *bidRepo) q() *queries { return (*queries)(r) }

func (r *bidRepo) Create(_ context.Context, b *store.Bid) error {
	return r.q().write(func(s *state) error {
		for _, other := range s.bids {
			if other.AuctionID == b.AuctionID && other.BidderID == b.BidderID && other.IsActive {
				return fmt.Errorf("bidder %d already has an active bid on auction %d: %w",
					b.BidderID, b.AuctionID, market.ErrConflict)
			}
		}
		b.ID = s.id()
		b.IsActive = true
		now := r.m.clk.Now().UTC()
		b.CreatedAt = now
		b.UpdatedAt = now
		s.bids[b.ID] = *b
		return nil
	})
}

func (r *bidRepo) GetByID(_ context.Context, id int64) (*store.Bid, error) {
	var out *store.Bid
	err := r.q().read(func(s *state) error {
		b, ok := s.bids[id]
		if !ok {
			return fmt.Errorf("bid %d: %w", id, market.ErrNotFound)
		}
		out = &b
		return nil
	})
	return out, err
}

func (r *bidRepo) ActiveByBidder(_ context.Context, auctionID, bidderID int64) (*store.Bid, error) {
	var out *store.Bid
	err := r.q().read(func(s *state) error {
		for _, b := range s.bids {
			if b.AuctionID == auctionID && b.BidderID == bidderID && b.IsActive {
				b := b
				out = &b
				return nil
			}
		}
		return nil
	})
	return out, err
}

func (r *bidRepo) HighestActive(_ context.Context, auctionID int64) (*store.Bid, error) {
	var out *store.Bid
	err := r.q().read(func(s *state) error {
		for _, b := range s.bids {
			if b.AuctionID != auctionID || !b.IsActive {
				continue
			}
			b := b
			if out == nil {
				out = &b
				continue
			}
			// Larger amount wins; on a tie the earlier bid wins.
			switch b.Amount.Cmp(out.Amount) {
			case 1:
				out = &b
			case 0:
				if b.CreatedAt.Before(out.CreatedAt) {
					out = &b
				}
			}
		}
		return nil
	})
	return out, err
}

func (r *bidRepo) SetAmount(_ context.Context, id int64, amount decimal.Decimal, updatedAt time.Time) error {
	return r.q().write(func(s *state) error {
		b, ok := s.bids[id]
		if !ok {
			return fmt.Errorf("bid %d: %w", id, market.ErrNotFound)
		}
		b.Amount = amount
		b.UpdatedAt = updatedAt
		s.bids[id] = b
		return nil
	})
}

func (r *bidRepo) Deactivate(_ context.Context, id int64) error {
	return r.q().write(func(s *state) error {
		b, ok := s.bids[id]
		if !ok {
			return fmt.Errorf("bid %d: %w", id, market.ErrNotFound)
		}
		b.IsActive = false
		s.bids[id] = b
		return nil
	})
}

func (r *bidRepo) DeactivateForBidder(_ context.Context, auctionID, bidderID int64) error {
	return r.q().write(func(s *state) error {
		for id, b := range s.bids {
			if b.AuctionID == auctionID && b.BidderID == bidderID && b.IsActive {
				b.IsActive = false
				s.bids[id] = b
			}
		}
		return nil
	})
}

func (r *bidRepo) ActiveTotals(_ context.Context, auctionID int64) ([]store.BidderTotal, error) {
	var out []store.BidderTotal
	err := r.q().read(func(s *state) error {
		totals := make(map[int64]*store.BidderTotal)
		for _, b := range s.bids {
			if b.AuctionID != auctionID || !b.IsActive {
				continue
			}
			t, ok := totals[b.BidderID]
			if !ok {
				t = &store.BidderTotal{BidderID: b.BidderID, Total: decimal.Zero}
				totals[b.BidderID] = t
			}
			t.Total = t.Total.Add(b.Amount)
			t.BidCount++
		}
		for _, t := range totals {
			out = append(out, *t)
		}
		sortByID(out, func(t store.BidderTotal) int64 { return t.BidderID })
		return nil
	})
	return out, err
}

func (r *bidRepo) ListByAuction(_ context.Context, auctionID int64) ([]store.Bid, error) {
	var out []store.Bid
	err := r.q().read(func(s *state) error {
		for _, b := range s.bids {
			if b.AuctionID == auctionID {
				out = append(out, b)
			}
		}
		sortByID(out, func(b store.Bid) int64 { return b.ID })
		return nil
	})
	return out, err
}

func (r *bidRepo) ListActiveByBidder(_ context.Context, bidderID int64) ([]store.Bid, error) {
	var out []store.Bid
	err := r.q().read(func(s *state) error {
		for _, b := range s.bids {
			if b.BidderID == bidderID && b.IsActive {
				out = append(out, b)
			}
		}
		sortByID(out, func(b store.Bid) int64 { return b.ID })
		return nil
	})
	return out, err
}

type balanceRepo queries

func (r *balanceRepo) q() *queries { return (*queries)(r) }

func (r *balanceRepo) Get(_ context.Context, userID int64) (*store.Balance, error) {
	var out *store.Balance
	err := r.q().read(func(s *state) error {
		b, ok := s.balances[userID]
		if !ok {
			b = store.Balance{UserID: userID, Available: decimal.Zero, Pending: decimal.Zero}
		}
		out = &b
		return nil
	})
	return out, err
}

func (r *balanceRepo) Ensure(_ context.Context, userID int64) error {
	return r.q().write(func(s *state) error {
		if _, ok := s.balances[userID]; !ok {
			s.balances[userID] = store.Balance{
				UserID:    userID,
				Available: decimal.Zero,
				Pending:   decimal.Zero,
				UpdatedAt: r.m.clk.Now().UTC(),
			}
		}
		return nil
	})
}

func (r *balanceRepo) Hold(_ context.Context, userID int64, amount decimal.Decimal) (bool, error) {
	var held bool
	err := r.q().write(func(s *state) error {
		b, ok := s.balances[userID]
		if !ok || b.Available.LessThan(amount) {
			return nil
		}
		b.Available = b.Available.Sub(amount)
		b.Pending = b.Pending.Add(amount)
		b.UpdatedAt = r.m.clk.Now().UTC()
		s.balances[userID] = b
		held = true
		return nil
	})
	return held, err
}

func (r *balanceRepo) Release(_ context.Context, userID int64, amount decimal.Decimal) error {
	return r.q().write(func(s *state) error {
		b, ok := s.balances[userID]
		if !ok {
			b = store.Balance{UserID: userID, Available: decimal.Zero, Pending: decimal.Zero}
		}
		b.Available = b.Available.Add(amount)
		b.Pending = decimal.Max(decimal.Zero, b.Pending.Sub(amount))
		b.UpdatedAt = r.m.clk.Now().UTC()
		s.balances[userID] = b
		return nil
	})
}

func (r *balanceRepo) SpendPending(_ context.Context, userID int64, amount decimal.Decimal) error {
	return r.q().write(func(s *state) error {
		b, ok := s.balances[userID]
		if !ok {
			return nil
		}
		b.Pending = decimal.Max(decimal.Zero, b.Pending.Sub(amount))
		b.UpdatedAt = r.m.clk.Now().UTC()
		s.balances[userID] = b
		return nil
	})
}

func (r *balanceRepo) Credit(_ context.Context, userID int64, amount decimal.Decimal) error {
	return r.q().write(func(s *state) error {
		b, ok := s.balances[userID]
		if !ok {
			b = store.Balance{UserID: userID, Available: decimal.Zero, Pending: decimal.Zero}
		}
		b.Available = b.Available.Add(amount)
		b.UpdatedAt = r.m.clk.Now().UTC()
		s.balances[userID] = b
		return nil
	})
}

func (r *balanceRepo) Debit(_ context.Context, userID int64, amount decimal.Decimal) (bool, error) {
	var debited bool
	err := r.q().write(func(s *state) error {
		b, ok := s.balances[userID]
		if !ok || b.Available.LessThan(amount) {
			return nil
		}
		b.Available = b.Available.Sub(amount)
		b.UpdatedAt = r.m.clk.Now().UTC()
		s.balances[userID] = b
		debited = true
		return nil
	})
	return debited, err
}

type txRepo queries

func (r *txRepo) q() *queries { return (*queries)(r) }

func (r *txRepo) Create(_ context.Context, t *store.Transaction) error {
	return r.q().write(func(s *state) error {
		t.ID = s.id()
		t.CreatedAt = r.m.clk.Now().UTC()
		s.transactions = append(s.transactions, *t)
		return nil
	})
}

func (r *txRepo) FlipPendingBids(_ context.Context, userID, artworkID int64, status string) error {
	return r.q().write(func(s *state) error {
		for i, t := range s.transactions {
			if t.UserID != userID || t.Status != store.TxPending {
				continue
			}
			if t.ArtworkID == nil || *t.ArtworkID != artworkID {
				continue
			}
			if t.Type != store.TxBid && t.Type != store.TxBidIncrease {
				continue
			}
			s.transactions[i].Status = status
		}
		return nil
	})
}

func (r *txRepo) ListByUser(_ context.Context, userID int64, limit int) ([]store.Transaction, error) {
	var out []store.Transaction
	err := r.q().read(func(s *state) error {
		for i := len(s.transactions) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
			if s.transactions[i].UserID == userID {
				out = append(out, s.transactions[i])
			}
		}
		return nil
	})
	return out, err
}

type historyRepo queries

func (r *historyRepo) q() *queries { return (*queries)(r) }

func (r *historyRepo) LogPrice(_ context.Context, artworkID int64, fromUserID *int64, amount decimal.Decimal) error {
	return r.q().write(func(s *state) error {
		s.prices = append(s.prices, priceRow{artworkID: artworkID, fromUserID: fromUserID, amount: amount})
		return nil
	})
}

func (r *historyRepo) LogActivity(_ context.Context, a *store.Activity) error {
	return r.q().write(func(s *state) error {
		s.activity = append(s.activity, *a)
		return nil
	})
}

// sortByID keeps list results deterministic despite map iteration order.
func sortByID[T any](items []T, key func(T) int64) {
	sort.Slice(items, func(i, j int) bool { return key(items[i]) < key(items[j]) })
}
