package announce

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/codeGROOVE-dev/retry"
)

// ErrUnusableChannel is returned when the destination is not a text channel.
var ErrUnusableChannel = errors.New("destination is not a text channel")

// DiscordAPI is the part of *discordgo.Session the provider needs.
type DiscordAPI interface {
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordProvider posts embeds through the Discord REST API.
type DiscordProvider struct {
	api    DiscordAPI
	logger *slog.Logger
	delay  time.Duration
}

// NewDiscordSession opens a REST-only bot session.
func NewDiscordSession(token string) (*discordgo.Session, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	s.Client = &http.Client{Timeout: 30 * time.Second}
	return s, nil
}

// NewDiscordProvider creates a new Discord provider.
func NewDiscordProvider(api DiscordAPI, logger *slog.Logger) *DiscordProvider {
	return &DiscordProvider{
		api:    api,
		logger: logger,
		delay:  time.Second,
	}
}

// Send implements Provider. The channel is fetched first so that deleted or
// non-text destinations fail without a send attempt.
func (d *DiscordProvider) Send(ctx context.Context, channelID string, embed *discordgo.MessageEmbed) error {
	return retry.Do(
		func() error {
			d.logger.Info("Discord API request starting", "method", "POST", "endpoint", "channels/messages", "channel_id", channelID)
			start := time.Now()

			ch, err := d.api.Channel(channelID, discordgo.WithContext(ctx))
			if err != nil {
				return classify(fmt.Errorf("fetch channel %s: %w", channelID, err))
			}
			if !isTextChannel(ch) {
				return retry.Unrecoverable(fmt.Errorf("channel %s type %d: %w", channelID, ch.Type, ErrUnusableChannel))
			}

			msg, err := d.api.ChannelMessageSendEmbed(channelID, embed, discordgo.WithContext(ctx))
			duration := time.Since(start)
			if err != nil {
				d.logger.Warn("Discord API request failed",
					"channel_id", channelID,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return classify(fmt.Errorf("send embed: %w", err))
			}

			d.logger.Info("Discord API request completed",
				"channel_id", channelID,
				"message_id", msg.ID,
				"duration_ms", duration.Milliseconds())
			return nil
		},
		retry.Attempts(3),
		retry.Delay(d.delay),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(d.delay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			d.logger.Info("Retrying Discord send after error", "attempt", n, "channel_id", channelID, "error", err)
		}),
	)
}

func isTextChannel(ch *discordgo.Channel) bool {
	if ch == nil {
		return false
	}
	switch ch.Type {
	case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews:
		return true
	}
	return false
}

// classify marks client errors as unrecoverable. Rate limits and server
// errors stay retryable.
func classify(err error) error {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		code := restErr.Response.StatusCode
		if code >= 400 && code < 500 && code != http.StatusTooManyRequests {
			return retry.Unrecoverable(err)
		}
	}
	return err
}
