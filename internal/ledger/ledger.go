// Package ledger pairs every balance movement with an immutable audit
// row. The package-level helpers operate on repositories that are
// already inside an atomic unit; Service wraps them for the standalone
// deposit and withdrawal operations.
package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kallerud/artmarket/internal/market"
	"github.com/kallerud/artmarket/internal/store"
)

// Hold moves amount from the user's available balance to pending and
// records a pending audit row of the given type. Fails with
// ErrInsufficientFunds without any partial movement.
func Hold(ctx context.Context, r *store.Repos, userID int64, amount decimal.Decimal, txType, description string, artworkID *int64) error {
	if err := r.Balances.Ensure(ctx, userID); err != nil {
		return err
	}
	ok, err := r.Balances.Hold(ctx, userID, amount)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("holding %s for user %d: %w", amount, userID, market.ErrInsufficientFunds)
	}
	return r.Transactions.Create(ctx, &store.Transaction{
		UserID:      userID,
		Type:        txType,
		Amount:      amount,
		Status:      store.TxPending,
		Description: description,
		ArtworkID:   artworkID,
	})
}

// Refund returns held funds to the user's available balance, cancels
// the matching pending bid rows, and records a completed refund row.
func Refund(ctx context.Context, r *store.Repos, userID int64, amount decimal.Decimal, description string, artworkID *int64) error {
	if err := r.Balances.Release(ctx, userID, amount); err != nil {
		return err
	}
	if artworkID != nil {
		if err := r.Transactions.FlipPendingBids(ctx, userID, *artworkID, store.TxCancelled); err != nil {
			return err
		}
	}
	return r.Transactions.Create(ctx, &store.Transaction{
		UserID:      userID,
		Type:        store.TxBidRefund,
		Amount:      amount,
		Status:      store.TxCompleted,
		Description: description,
		ArtworkID:   artworkID,
	})
}

// Spend consumes the winner's held funds at settlement and completes
// the matching pending bid rows. The money does not return to the
// buyer; the seller is credited separately.
func Spend(ctx context.Context, r *store.Repos, userID int64, amount decimal.Decimal, artworkID int64) error {
	if err := r.Balances.SpendPending(ctx, userID, amount); err != nil {
		return err
	}
	return r.Transactions.FlipPendingBids(ctx, userID, artworkID, store.TxCompleted)
}

// Credit adds amount to the user's available balance with a completed
// audit row.
func Credit(ctx context.Context, r *store.Repos, userID int64, amount decimal.Decimal, txType, description string, artworkID *int64) error {
	if err := r.Balances.Credit(ctx, userID, amount); err != nil {
		return err
	}
	return r.Transactions.Create(ctx, &store.Transaction{
		UserID:      userID,
		Type:        txType,
		Amount:      amount,
		Status:      store.TxCompleted,
		Description: description,
		ArtworkID:   artworkID,
	})
}

// Debit removes amount from the user's available balance with a
// completed audit row. Fails with ErrInsufficientFunds when available
// does not cover it.
func Debit(ctx context.Context, r *store.Repos, userID int64, amount decimal.Decimal, txType, description string, artworkID *int64) error {
	ok, err := r.Balances.Debit(ctx, userID, amount)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("debiting %s from user %d: %w", amount, userID, market.ErrInsufficientFunds)
	}
	return r.Transactions.Create(ctx, &store.Transaction{
		UserID:      userID,
		Type:        txType,
		Amount:      amount,
		Status:      store.TxCompleted,
		Description: description,
		ArtworkID:   artworkID,
	})
}

// Service exposes user-facing account operations.
type Service struct {
	store  store.Store
	logger *slog.Logger
	tracer trace.Tracer
}

// NewService creates a ledger Service.
func NewService(st store.Store, logger *slog.Logger, tp trace.TracerProvider) *Service {
	return &Service{
		store:  st,
		logger: logger,
		tracer: tp.Tracer("github.com/kallerud/artmarket/internal/ledger"),
	}
}

// Deposit adds external funds to a user's available balance.
func (s *Service) Deposit(ctx context.Context, userID int64, amount decimal.Decimal) (*store.Balance, error) {
	ctx, span := s.tracer.Start(ctx, "Ledger.Deposit",
		trace.WithAttributes(
			attribute.Int64("user_id", userID),
			attribute.String("amount", amount.String()),
		),
	)
	defer span.End()

	if !amount.IsPositive() {
		return nil, fmt.Errorf("deposit amount must be positive: %w", market.ErrValidation)
	}

	var balance *store.Balance
	err := s.store.InTx(ctx, func(r *store.Repos) error {
		if err := Credit(ctx, r, userID, amount, store.TxDeposit, "deposit", nil); err != nil {
			return err
		}
		b, err := r.Balances.Get(ctx, userID)
		if err != nil {
			return err
		}
		balance = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "deposit completed",
		slog.Int64("user_id", userID),
		slog.String("amount", amount.String()),
	)
	return balance, nil
}

// Withdraw removes funds from a user's available balance. Held funds
// cannot be withdrawn.
func (s *Service) Withdraw(ctx context.Context, userID int64, amount decimal.Decimal) (*store.Balance, error) {
	ctx, span := s.tracer.Start(ctx, "Ledger.Withdraw",
		trace.WithAttributes(
			attribute.Int64("user_id", userID),
			attribute.String("amount", amount.String()),
		),
	)
	defer span.End()

	if !amount.IsPositive() {
		return nil, fmt.Errorf("withdrawal amount must be positive: %w", market.ErrValidation)
	}

	var balance *store.Balance
	err := s.store.InTx(ctx, func(r *store.Repos) error {
		if err := Debit(ctx, r, userID, amount, store.TxWithdrawal, "withdrawal", nil); err != nil {
			return err
		}
		b, err := r.Balances.Get(ctx, userID)
		if err != nil {
			return err
		}
		balance = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "withdrawal completed",
		slog.Int64("user_id", userID),
		slog.String("amount", amount.String()),
	)
	return balance, nil
}

// Balance returns the user's current available and pending balances.
func (s *Service) Balance(ctx context.Context, userID int64) (*store.Balance, error) {
	return s.store.Repos().Balances.Get(ctx, userID)
}

// History returns the user's most recent ledger movements.
func (s *Service) History(ctx context.Context, userID int64, limit int) ([]store.Transaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.Repos().Transactions.ListByUser(ctx, userID, limit)
}
