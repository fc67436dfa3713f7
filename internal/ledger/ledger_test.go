package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kallerud/artmarket/internal/clock"
	"github.com/kallerud/artmarket/internal/ledger"
	"github.com/kallerud/artmarket/internal/market"
	"github.com/kallerud/artmarket/internal/store"
	"github.com/kallerud/artmarket/internal/store/memstore"
	"github.com/kallerud/artmarket/internal/telemetry"
)

func newService(t *testing.T) (*ledger.Service, *memstore.Mem) {
	t.Helper()
	mem := memstore.New(clock.NewMock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))
	tp := telemetry.NewNopProvider()
	return ledger.NewService(mem, tp.Logger, tp.TracerProvider), mem
}

func TestDepositAndWithdraw(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	b, err := svc.Deposit(ctx, 1, decimal.NewFromInt(100))
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if !b.Available.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Available = %s, want 100", b.Available)
	}

	b, err = svc.Withdraw(ctx, 1, decimal.NewFromInt(40))
	if err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if !b.Available.Equal(decimal.NewFromInt(60)) {
		t.Errorf("Available = %s, want 60", b.Available)
	}

	history, err := svc.History(ctx, 1, 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("History returned %d rows, want 2", len(history))
	}
}

func TestWithdrawInsufficientFunds(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	if _, err := svc.Deposit(ctx, 1, decimal.NewFromInt(30)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	_, err := svc.Withdraw(ctx, 1, decimal.NewFromInt(50))
	if !errors.Is(err, market.ErrInsufficientFunds) {
		t.Fatalf("error = %v, want ErrInsufficientFunds", err)
	}

	// The failed withdrawal must leave no audit row behind.
	history, err := svc.History(ctx, 1, 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("History returned %d rows, want only the deposit", len(history))
	}
}

func TestWithdrawCannotTouchHeldFunds(t *testing.T) {
	svc, mem := newService(t)
	ctx := context.Background()

	if _, err := svc.Deposit(ctx, 1, decimal.NewFromInt(100)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	err := mem.InTx(ctx, func(r *store.Repos) error {
		return ledger.Hold(ctx, r, 1, decimal.NewFromInt(80), store.TxBid, "bid", nil)
	})
	if err != nil {
		t.Fatalf("Hold: %v", err)
	}

	if _, err := svc.Withdraw(ctx, 1, decimal.NewFromInt(50)); !errors.Is(err, market.ErrInsufficientFunds) {
		t.Fatalf("error = %v, want ErrInsufficientFunds", err)
	}
}

func TestDepositRejectsNonPositive(t *testing.T) {
	svc, _ := newService(t)

	for _, amount := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(-5)} {
		if _, err := svc.Deposit(context.Background(), 1, amount); !errors.Is(err, market.ErrValidation) {
			t.Errorf("Deposit(%s) error = %v, want ErrValidation", amount, err)
		}
	}
}

func TestHoldThenRefundRestoresBalance(t *testing.T) {
	svc, mem := newService(t)
	ctx := context.Background()

	if _, err := svc.Deposit(ctx, 1, decimal.NewFromInt(100)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	artworkID := int64(9)
	err := mem.InTx(ctx, func(r *store.Repos) error {
		return ledger.Hold(ctx, r, 1, decimal.NewFromInt(60), store.TxBid, "bid", &artworkID)
	})
	if err != nil {
		t.Fatalf("Hold: %v", err)
	}
	err = mem.InTx(ctx, func(r *store.Repos) error {
		return ledger.Refund(ctx, r, 1, decimal.NewFromInt(60), "outbid", &artworkID)
	})
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}

	b, err := svc.Balance(ctx, 1)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if !b.Available.Equal(decimal.NewFromInt(100)) || !b.Pending.IsZero() {
		t.Errorf("balance = available %s pending %s, want 100/0", b.Available, b.Pending)
	}

	// The original hold row flips to cancelled; the refund is recorded.
	history, err := svc.History(ctx, 1, 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	var sawCancelledBid, sawRefund bool
	for _, tx := range history {
		if tx.Type == store.TxBid && tx.Status == store.TxCancelled {
			sawCancelledBid = true
		}
		if tx.Type == store.TxBidRefund && tx.Status == store.TxCompleted {
			sawRefund = true
		}
	}
	if !sawCancelledBid || !sawRefund {
		t.Errorf("history = %+v, want cancelled bid and completed refund", history)
	}
}
