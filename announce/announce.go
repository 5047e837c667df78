// Package announce delivers rendered threads to chat channels through a
// pluggable provider.
package announce

import (
	"context"
	"errors"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"spectrum-notifier/pkg/notifier"
)

const (
	embedColor  = 0x0a5ab4
	footerText  = "Spectrum"
	maxAuthor   = 256
	maxEmbedURL = 2048
)

// ErrNoDestination is returned for an empty destination id.
var ErrNoDestination = errors.New("no destination channel")

// Provider posts an embed to a channel.
type Provider interface {
	Send(ctx context.Context, channelID string, embed *discordgo.MessageEmbed) error
}

// Sender turns announcements into embeds and hands them to a provider.
type Sender struct {
	provider Provider
	logger   *slog.Logger
}

// New creates a new announcement sender with the given provider.
func New(provider Provider, logger *slog.Logger) *Sender {
	return &Sender{
		provider: provider,
		logger:   logger,
	}
}

// Send delivers one announcement.
func (s *Sender) Send(ctx context.Context, destinationID string, msg notifier.RenderedThread) error {
	if destinationID == "" {
		return ErrNoDestination
	}
	s.logger.Info("Sending announcement",
		"destination_id", destinationID,
		"title", msg.Title,
		"url", msg.URL,
		"description_length", utf8.RuneCountInString(msg.Description))
	return s.provider.Send(ctx, destinationID, Embed(msg))
}

// Embed builds the chat embed for an announcement.
func Embed(msg notifier.RenderedThread) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Type:        discordgo.EmbedTypeRich,
		Title:       msg.Title,
		Description: msg.Description,
		Color:       embedColor,
		Footer:      &discordgo.MessageEmbedFooter{Text: footerText},
	}
	if len(msg.URL) <= maxEmbedURL {
		e.URL = msg.URL
	}
	if msg.AuthorName != "" {
		e.Author = &discordgo.MessageEmbedAuthor{
			Name:    clip(msg.AuthorName, maxAuthor),
			IconURL: msg.AuthorAvatarURL,
		}
	}
	if msg.ImageURL != "" {
		e.Image = &discordgo.MessageEmbedImage{URL: msg.ImageURL}
	}
	if !msg.Timestamp.IsZero() {
		e.Timestamp = msg.Timestamp.UTC().Format(time.RFC3339)
	}
	return e
}

func clip(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
