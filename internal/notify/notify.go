// Package notify delivers marketplace events to users. Sinks are
// best-effort: delivery happens after the owning transaction commits,
// and a failing sink never unwinds settled money.
package notify

import (
	"context"
	"log/slog"
)

// Notification kinds.
const (
	KindOutbid           = "outbid"
	KindAuctionWon       = "auction_won"
	KindAuctionCancelled = "auction_cancelled"
	KindReserveNotMet    = "reserve_not_met"
	KindAuctionEnded     = "auction_ended"
	KindBidRefunded      = "bid_refunded"
	KindSale             = "sale"
)

// Notification is one message for one user. Email marks messages
// worth delivering out-of-band; chatty kinds like outbid leave it
// unset.
type Notification struct {
	UserID    int64
	Kind      string
	Title     string
	Message   string
	ArtworkID *int64
	Email     bool
}

// Sink delivers a single notification.
type Sink interface {
	Send(ctx context.Context, n Notification) error
}

// Dispatcher fans notifications out to every configured sink.
type Dispatcher struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewDispatcher creates a Dispatcher. Zero sinks is valid; Dispatch
// becomes a no-op.
func NewDispatcher(logger *slog.Logger, sinks ...Sink) *Dispatcher {
	return &Dispatcher{sinks: sinks, logger: logger}
}

// Dispatch sends each notification to every sink. Failures are logged
// and swallowed.
func (d *Dispatcher) Dispatch(ctx context.Context, notifications []Notification) {
	for _, n := range notifications {
		for _, sink := range d.sinks {
			if err := sink.Send(ctx, n); err != nil {
				d.logger.WarnContext(ctx, "notification delivery failed",
					slog.Int64("user_id", n.UserID),
					slog.String("kind", n.Kind),
					slog.Any("error", err),
				)
			}
		}
	}
}

// LogSink writes notifications to the structured log. It is always
// installed so every notification leaves a trace even with no external
// sink configured.
type LogSink struct {
	Logger *slog.Logger
}

func (s *LogSink) Send(ctx context.Context, n Notification) error {
	s.Logger.InfoContext(ctx, "notification",
		slog.Int64("user_id", n.UserID),
		slog.String("kind", n.Kind),
		slog.String("title", n.Title),
		slog.String("message", n.Message),
	)
	return nil
}
