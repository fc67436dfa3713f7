package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/kallerud/artmarket/internal/config"
)

// Announcer posts marketplace notifications to a Discord channel.
type Announcer struct {
	session *discordgo.Session
	channel string
	logger  *slog.Logger
}

// NewAnnouncer creates a Discord announcer and opens the session.
func NewAnnouncer(cfg config.NotifyConfig, logger *slog.Logger) (*Announcer, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("opening discord session: %w", err)
	}
	logger.Info("discord announcer connected", slog.String("channel", cfg.DiscordChannel))
	return &Announcer{session: session, channel: cfg.DiscordChannel, logger: logger}, nil
}

// Send posts the notification as a channel message.
func (a *Announcer) Send(_ context.Context, n Notification) error {
	content := fmt.Sprintf("**%s** (user %d): %s", n.Title, n.UserID, n.Message)
	if _, err := a.session.ChannelMessageSend(a.channel, content); err != nil {
		return fmt.Errorf("sending discord announcement: %w", err)
	}
	return nil
}

// Close shuts the Discord session down.
func (a *Announcer) Close() error {
	return a.session.Close()
}
