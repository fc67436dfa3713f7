// Package postgres implements the store interfaces with sqlx over lib/pq,
// instrumented through otelsql.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/XSAM/otelsql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/kallerud/artmarket/internal/clock"
	"github.com/kallerud/artmarket/internal/config"
	"github.com/kallerud/artmarket/internal/market"
	"github.com/kallerud/artmarket/internal/store"
)

func init() {
	store.Register("postgres", func(ctx context.Context, cfg config.DatabaseConfig, clk clock.Clock) (store.Store, error) {
		db, err := Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewStore(db, clk), nil
	})
}

// Connect opens and verifies a Postgres connection with OTEL instrumentation.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	dsn := cfg.DSN()

	// Register the OTel-instrumented driver wrapping lib/pq.
	driverName, err := otelsql.Register("postgres",
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
	)
	if err != nil {
		return nil, fmt.Errorf("registering otel driver: %w", err)
	}

	db, err := sqlx.ConnectContext(ctx, driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return db, nil
}

// Store implements store.Store over a sqlx connection pool.
type Store struct {
	db  *sqlx.DB
	clk clock.Clock
}

// NewStore wraps an open connection pool.
func NewStore(db *sqlx.DB, clk clock.Clock) *Store {
	return &Store{db: db, clk: clk}
}

// Repos returns repositories that auto-commit each call.
func (s *Store) Repos() *store.Repos {
	return reposFor(s.db, s.clk)
}

// InTx runs fn with repositories bound to a single database transaction.
// Any error from fn rolls the whole unit back.
func (s *Store) InTx(ctx context.Context, fn func(r *store.Repos) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(reposFor(tx, s.clk)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Ping checks the underlying connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func reposFor(ext sqlx.ExtContext, clk clock.Clock) *store.Repos {
	return &store.Repos{
		Artworks:     &ArtworkRepo{ext: ext, clk: clk},
		Auctions:     &AuctionRepo{ext: ext, clk: clk},
		Bids:         &BidRepo{ext: ext, clk: clk},
		Balances:     &BalanceRepo{ext: ext, clk: clk},
		Transactions: &TransactionRepo{ext: ext, clk: clk},
		History:      &HistoryRepo{ext: ext, clk: clk},
	}
}

// mapErr translates low-level driver errors into domain sentinels.
func mapErr(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%v: %w", pqErr.Constraint, market.ErrConflict)
	}
	return err
}
