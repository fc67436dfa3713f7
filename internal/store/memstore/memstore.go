// Package memstore is an in-memory store driver. It backs unit tests and
// local development; the snapshot-based InTx gives it the same
// rollback-on-error semantics as the Postgres driver.
package memstore

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/kallerud/artmarket/internal/clock"
	"github.com/kallerud/artmarket/internal/config"
	"github.com/kallerud/artmarket/internal/store"
)

func init() {
	store.Register("memory", func(_ context.Context, _ config.DatabaseConfig, clk clock.Clock) (store.Store, error) {
		return New(clk), nil
	})
}

// state holds every table. It is deep-copied for transaction snapshots.
type state struct {
	artworks     map[int64]store.Artwork
	auctions     map[int64]store.Auction
	bids         map[int64]store.Bid
	balances     map[int64]store.Balance
	transactions []store.Transaction
	activity     []store.Activity
	prices       []priceRow
	nextID       int64
}

type priceRow struct {
	artworkID  int64
	fromUserID *int64
	amount     decimal.Decimal
}

func (s *state) clone() *state {
	c := &state{
		artworks:     make(map[int64]store.Artwork, len(s.artworks)),
		auctions:     make(map[int64]store.Auction, len(s.auctions)),
		bids:         make(map[int64]store.Bid, len(s.bids)),
		balances:     make(map[int64]store.Balance, len(s.balances)),
		transactions: append([]store.Transaction(nil), s.transactions...),
		activity:     append([]store.Activity(nil), s.activity...),
		prices:       append([]priceRow(nil), s.prices...),
		nextID:       s.nextID,
	}
	for k, v := range s.artworks {
		c.artworks[k] = v
	}
	for k, v := range s.auctions {
		c.auctions[k] = v
	}
	for k, v := range s.bids {
		c.bids[k] = v
	}
	for k, v := range s.balances {
		c.balances[k] = v
	}
	return c
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

// Mem implements store.Store over in-process maps. A single RWMutex
// serializes transactions, which also satisfies the per-auction
// serialization the settlement engine relies on.
type Mem struct {
	mu    sync.RWMutex
	clk   clock.Clock
	state *state
}

// New returns an empty in-memory store.
func New(clk clock.Clock) *Mem {
	return &Mem{
		clk: clk,
		state: &state{
			artworks: make(map[int64]store.Artwork),
			auctions: make(map[int64]store.Auction),
			bids:     make(map[int64]store.Bid),
			balances: make(map[int64]store.Balance),
		},
	}
}

// Repos returns auto-committing repositories: each call takes the lock.
func (m *Mem) Repos() *store.Repos {
	q := &queries{m: m, locked: false}
	return reposFor(q)
}

// InTx runs fn against a snapshot-guarded repository set. On error the
// pre-transaction state is restored wholesale.
func (m *Mem) InTx(_ context.Context, fn func(r *store.Repos) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	q := &queries{m: m, locked: true}
	if err := fn(reposFor(q)); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

// Ping reports the store as always reachable.
func (m *Mem) Ping(context.Context) error { return nil }

// Close is a no-op.
func (m *Mem) Close() error { return nil }

func reposFor(q *queries) *store.Repos {
	return &store.Repos{
		Artworks:     (*artworkRepo)(q),
		Auctions:     (*auctionRepo)(q),
		Bids:         (*bidRepo)(q),
		Balances:     (*balanceRepo)(q),
		Transactions: (*txRepo)(q),
		History:      (*historyRepo)(q),
	}
}

// queries carries the locking mode shared by one repository set.
type queries struct {
	m      *Mem
	locked bool // true inside InTx, where the caller already holds the lock
}

func (q *queries) write(fn func(s *state) error) error {
	if !q.locked {
		q.m.mu.Lock()
		defer q.m.mu.Unlock()
	}
	return fn(q.m.state)
}

func (q *queries) read(fn func(s *state) error) error {
	if !q.locked {
		q.m.mu.RLock()
		defer q.m.mu.RUnlock()
	}
	return fn(q.m.state)
}
