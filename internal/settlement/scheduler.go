package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/kallerud/artmarket/internal/clock"
	"github.com/kallerud/artmarket/internal/market"
	"github.com/kallerud/artmarket/internal/store"
)

// Status is a snapshot of the scheduler for the health endpoint.
type Status struct {
	LastRun    *time.Time `json:"last_run"`
	Processed  int        `json:"last_processed"`
	Failed     int        `json:"last_failed"`
	PendingDue int        `json:"pending_due"`
}

// Scheduler periodically settles auctions whose end time has passed.
// Failures are isolated per auction: one bad auction never blocks the
// rest of the batch, and the failed auction stays open for the next
// tick.
type Scheduler struct {
	processor *Processor
	store     store.Store
	interval  time.Duration
	logger    *slog.Logger
	clock     clock.Clock
	settled   metric.Int64Counter

	mu            sync.Mutex
	lastRun       *time.Time
	lastProcessed int
	lastFailed    int
}

// NewScheduler creates a Scheduler driving the given processor.
func NewScheduler(p *Processor, st store.Store, interval time.Duration, logger *slog.Logger, mp metric.MeterProvider, clk clock.Clock) (*Scheduler, error) {
	meter := mp.Meter("github.com/kallerud/artmarket/internal/settlement")
	settled, err := meter.Int64Counter("auctions_settled_total",
		metric.WithDescription("Auctions settled by the reconciliation scheduler, by outcome."),
	)
	if err != nil {
		return nil, fmt.Errorf("creating settled counter: %w", err)
	}
	return &Scheduler{
		processor: p,
		store:     st,
		interval:  interval,
		logger:    logger,
		clock:     clk,
		settled:   settled,
	}, nil
}

// Run loops until ctx is cancelled, settling due auctions every
// interval. Intended to run on the leader only when leader election is
// enabled.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.InfoContext(ctx, "reconciliation scheduler started",
		slog.Duration("interval", s.interval),
	)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("reconciliation scheduler stopped")
			return
		case <-ticker.C:
			if _, _, err := s.ProcessDue(ctx); err != nil {
				s.logger.ErrorContext(ctx, "reconciliation tick failed", slog.Any("error", err))
			}
		}
	}
}

// ProcessDue settles every open auction whose end time has passed, each
// in its own atomic unit. Returns how many were settled and how many
// failed. Safe to call concurrently with the ticker: settlement is
// idempotent.
func (s *Scheduler) ProcessDue(ctx context.Context) (processed, failed int, err error) {
	runID := uuid.NewString()
	logger := s.logger.With(slog.String("run_id", runID))

	due, err := s.store.Repos().Auctions.ListDue(ctx, s.clock.Now())
	if err != nil {
		return 0, 0, fmt.Errorf("listing due auctions: %w", err)
	}

	for _, a := range due {
		outcome, settleErr := s.processor.Settle(ctx, a.ID)
		if settleErr != nil {
			failed++
			logger.ErrorContext(ctx, "settlement failed, auction left open for retry",
				slog.Int64("auction_id", a.ID),
				slog.Any("error", settleErr),
			)
			continue
		}
		processed++
		s.settled.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}

	if len(due) > 0 {
		logger.InfoContext(ctx, "reconciliation run complete",
			slog.Int("due", len(due)),
			slog.Int("processed", processed),
			slog.Int("failed", failed),
		)
	}

	now := s.clock.Now()
	s.mu.Lock()
	s.lastRun = &now
	s.lastProcessed = processed
	s.lastFailed = failed
	s.mu.Unlock()
	return processed, failed, nil
}

// CloseNow lets the seller end their auction early, running the same
// settlement as the scheduler would at expiry.
func (s *Scheduler) CloseNow(ctx context.Context, auctionID, callerID int64) (string, error) {
	a, err := s.store.Repos().Auctions.GetByID(ctx, auctionID)
	if err != nil {
		return "", err
	}
	if a.SellerID != callerID {
		return "", fmt.Errorf("only the seller may close auction %d: %w", auctionID, market.ErrPermission)
	}
	outcome, err := s.processor.Settle(ctx, auctionID)
	if err != nil {
		return "", err
	}
	s.settled.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	return outcome, nil
}

// Status reports the last run and how many expired auctions are still
// waiting for settlement.
func (s *Scheduler) Status(ctx context.Context) (*Status, error) {
	pending, err := s.store.Repos().Auctions.CountDue(ctx, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("counting due auctions: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Status{
		LastRun:    s.lastRun,
		Processed:  s.lastProcessed,
		Failed:     s.lastFailed,
		PendingDue: pending,
	}, nil
}
