package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Listing states for an artwork.
const (
	ListingNone    = "unlisted"
	ListingFixed   = "fixed"
	ListingAuction = "auction"
)

// Auction statuses. Closed and cancelled are terminal.
const (
	AuctionOpen      = "open"
	AuctionClosed    = "closed"
	AuctionCancelled = "cancelled"
)

// Transaction types.
const (
	TxDeposit     = "deposit"
	TxWithdrawal  = "withdrawal"
	TxBid         = "bid"
	TxBidIncrease = "bid_increase"
	// TxBidDecrease has no producer yet: lowering a bid goes through
	// cancel-and-rebid, which emits bid_refund and bid rows instead.
	TxBidDecrease = "bid_decrease"
	TxBidRefund   = "bid_refund"
	TxPurchase    = "purchase"
	TxSale        = "sale"
)

// Transaction statuses.
const (
	TxPending   = "pending"
	TxCompleted = "completed"
	TxCancelled = "cancelled"
)

// Artwork is a sellable item. ArtistID is the original creator and never
// changes; OwnerID moves on every sale.
type Artwork struct {
	ID        int64            `db:"id" json:"id"`
	OwnerID   int64            `db:"owner_id" json:"owner_id"`
	ArtistID  int64            `db:"artist_id" json:"artist_id"`
	Title     string           `db:"title" json:"title"`
	Listing   string           `db:"listing" json:"listing"`
	Price     *decimal.Decimal `db:"price" json:"price"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
}

// Auction is a timed sale of one artwork. SellerID is snapshotted at
// creation and is authoritative for settlement even if artwork ownership
// changes in the meantime. The current highest bid is derived from the
// bids table, never stored here.
type Auction struct {
	ID           int64            `db:"id" json:"id"`
	ArtworkID    int64            `db:"artwork_id" json:"artwork_id"`
	SellerID     int64            `db:"seller_id" json:"seller_id"`
	StartPrice   decimal.Decimal  `db:"start_price" json:"start_price"`
	ReservePrice *decimal.Decimal `db:"reserve_price" json:"reserve_price"`
	EndTime      time.Time        `db:"end_time" json:"end_time"`
	Status       string           `db:"status" json:"status"`
	WinnerID     *int64           `db:"winner_id" json:"winner_id"`
	CreatedAt    time.Time        `db:"created_at" json:"created_at"`
	ClosedAt     *time.Time       `db:"closed_at" json:"closed_at"`
}

// Bid is a bidder's standing offer on an auction. At most one active bid
// exists per (auction, bidder); raises mutate Amount in place. Bids are
// deactivated on refund or supersession, never deleted.
type Bid struct {
	ID        int64           `db:"id" json:"id"`
	AuctionID int64           `db:"auction_id" json:"auction_id"`
	BidderID  int64           `db:"bidder_id" json:"bidder_id"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	IsActive  bool            `db:"is_active" json:"is_active"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// BidderTotal aggregates one bidder's active bids on a single auction.
type BidderTotal struct {
	BidderID int64           `db:"bidder_id" json:"bidder_id"`
	Total    decimal.Decimal `db:"total" json:"total"`
	BidCount int             `db:"bid_count" json:"bid_count"`
}

// Balance is a user's internal ledger row. Available is spendable;
// Pending is held against active bids.
type Balance struct {
	UserID    int64           `db:"user_id" json:"user_id"`
	Available decimal.Decimal `db:"available_balance" json:"available_balance"`
	Pending   decimal.Decimal `db:"pending_balance" json:"pending_balance"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// Transaction is an immutable audit row for a ledger movement. Bid holds
// start pending and are later flipped to completed (win) or cancelled
// (refund); rows are never deleted.
type Transaction struct {
	ID          int64           `db:"id" json:"id"`
	UserID      int64           `db:"user_id" json:"user_id"`
	Type        string          `db:"type" json:"type"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
	Status      string          `db:"status" json:"status"`
	Description string          `db:"description" json:"description"`
	ArtworkID   *int64          `db:"artwork_id" json:"artwork_id"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// Activity is a consolidated marketplace event row written on sales.
type Activity struct {
	ArtworkID  int64           `db:"artwork_id" json:"artwork_id"`
	UserID     int64           `db:"user_id" json:"user_id"`
	Type       string          `db:"activity_type" json:"activity_type"`
	Price      decimal.Decimal `db:"price" json:"price"`
	FromUserID *int64          `db:"from_user_id" json:"from_user_id"`
	ToUserID   *int64          `db:"to_user_id" json:"to_user_id"`
}

// ArtworkRepository defines artwork persistence operations.
type ArtworkRepository interface {
	Create(ctx context.Context, a *Artwork) error
	GetByID(ctx context.Context, id int64) (*Artwork, error)
	// SetListing updates the listing state and, for fixed listings, the
	// asking price.
	SetListing(ctx context.Context, id int64, listing string, price *decimal.Decimal) error
	// Transfer moves ownership to newOwner and unlists the artwork.
	Transfer(ctx context.Context, id, newOwnerID int64) error
	ListByOwner(ctx context.Context, ownerID int64) ([]Artwork, error)
}

// AuctionRepository defines auction persistence operations.
type AuctionRepository interface {
	Create(ctx context.Context, a *Auction) error
	GetByID(ctx context.Context, id int64) (*Auction, error)
	// GetForUpdate loads the auction with a row-level lock so bid
	// admission and settlement serialize per auction.
	GetForUpdate(ctx context.Context, id int64) (*Auction, error)
	// OpenByArtwork returns the open auction for an artwork, or nil.
	OpenByArtwork(ctx context.Context, artworkID int64) (*Auction, error)
	ListOpen(ctx context.Context) ([]Auction, error)
	// ListDue returns open auctions whose end time has passed.
	ListDue(ctx context.Context, now time.Time) ([]Auction, error)
	CountDue(ctx context.Context, now time.Time) (int, error)
	// Close transitions open→closed and records the winner. It reports
	// false when the auction was not open, making repeated settlement a
	// no-op.
	Close(ctx context.Context, id int64, winnerID *int64, closedAt time.Time) (bool, error)
	// Cancel transitions open→cancelled. False when not open.
	Cancel(ctx context.Context, id int64, closedAt time.Time) (bool, error)
	ListBySeller(ctx context.Context, sellerID int64) ([]Auction, error)
}

// BidRepository defines bid persistence operations. Bid rows are
// load-bearing history: there is no delete.
type BidRepository interface {
	Create(ctx context.Context, b *Bid) error
	GetByID(ctx context.Context, id int64) (*Bid, error)
	// ActiveByBidder returns the bidder's active bid on an auction, or
	// nil when they have none.
	ActiveByBidder(ctx context.Context, auctionID, bidderID int64) (*Bid, error)
	// HighestActive returns the winning candidate: largest active amount,
	// ties broken by earliest creation. Nil when there are no active bids.
	HighestActive(ctx context.Context, auctionID int64) (*Bid, error)
	SetAmount(ctx context.Context, id int64, amount decimal.Decimal, updatedAt time.Time) error
	Deactivate(ctx context.Context, id int64) error
	DeactivateForBidder(ctx context.Context, auctionID, bidderID int64) error
	// ActiveTotals groups active bids by bidder for the refund cascade.
	ActiveTotals(ctx context.Context, auctionID int64) ([]BidderTotal, error)
	ListByAuction(ctx context.Context, auctionID int64) ([]Bid, error)
	ListActiveByBidder(ctx context.Context, bidderID int64) ([]Bid, error)
}

// BalanceRepository defines ledger-row operations. Every caller pairs
// these with a Transaction row inside the same atomic unit; the pairing
// lives in the ledger package.
type BalanceRepository interface {
	// Get returns the user's balance, or a zero-valued record when the
	// user has no row yet.
	Get(ctx context.Context, userID int64) (*Balance, error)
	// Ensure creates a zero balance row if the user has none.
	Ensure(ctx context.Context, userID int64) error
	// Hold moves amount from available to pending. False when available
	// is insufficient; no partial movement occurs.
	Hold(ctx context.Context, userID int64, amount decimal.Decimal) (bool, error)
	// Release moves amount from pending back to available, clamping
	// pending at zero. Never fails on balance grounds.
	Release(ctx context.Context, userID int64, amount decimal.Decimal) error
	// SpendPending consumes held funds permanently, clamping at zero.
	SpendPending(ctx context.Context, userID int64, amount decimal.Decimal) error
	// Credit adds to available, creating the row if needed.
	Credit(ctx context.Context, userID int64, amount decimal.Decimal) error
	// Debit subtracts from available. False when insufficient.
	Debit(ctx context.Context, userID int64, amount decimal.Decimal) (bool, error)
}

// TransactionRepository defines append-only audit operations.
type TransactionRepository interface {
	Create(ctx context.Context, t *Transaction) error
	// FlipPendingBids updates the user's pending bid/bid_increase rows
	// for an artwork to the given terminal status.
	FlipPendingBids(ctx context.Context, userID, artworkID int64, status string) error
	ListByUser(ctx context.Context, userID int64, limit int) ([]Transaction, error)
}

// HistoryRepository records price history and activity rows on sales.
type HistoryRepository interface {
	LogPrice(ctx context.Context, artworkID int64, fromUserID *int64, amount decimal.Decimal) error
	LogActivity(ctx context.Context, a *Activity) error
}

// Repos groups the repository set. Inside InTx all repos share one
// transaction; outside they auto-commit per call.
type Repos struct {
	Artworks     ArtworkRepository
	Auctions     AuctionRepository
	Bids         BidRepository
	Balances     BalanceRepository
	Transactions TransactionRepository
	History      HistoryRepository
}
