// Package market defines the domain error taxonomy shared by the
// marketplace services. Handlers map these to HTTP status codes; the
// services themselves only ever wrap them.
package market

import (
	"errors"
	"fmt"
)

// Sentinel errors for domain failures.
var (
	// ErrValidation covers malformed input: bad amounts, reserve below
	// start price, end time in the past.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound covers absent auctions, artworks and bids.
	ErrNotFound = errors.New("not found")
	// ErrPermission covers acting on another user's auction or bid.
	ErrPermission = errors.New("permission denied")
	// ErrConflict covers state collisions, e.g. an artwork that already
	// has an open auction.
	ErrConflict = errors.New("conflict")
	// ErrInsufficientFunds is surfaced distinctly so clients can prompt
	// for a deposit.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrAuctionNotOpen covers bids on closed, cancelled or expired
	// auctions, and repeated settlement attempts.
	ErrAuctionNotOpen = errors.New("auction is not open")
	// ErrSelfBid rejects a seller bidding on their own auction.
	ErrSelfBid = errors.New("cannot bid on your own auction")
	// ErrBidTooLow rejects bids at or below the current highest bid, or
	// raises that do not increase the bidder's own amount.
	ErrBidTooLow = errors.New("bid amount too low")
)

// SettlementError wraps an unexpected failure while settling one auction.
// The enclosing transaction has been rolled back; the auction remains open
// and will be retried on the next reconciliation tick.
type SettlementError struct {
	AuctionID int64
	Err       error
}

func (e *SettlementError) Error() string {
	return fmt.Sprintf("settling auction %d: %v", e.AuctionID, e.Err)
}

func (e *SettlementError) Unwrap() error { return e.Err }
