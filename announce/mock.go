package announce

import (
	"context"
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

// MockProvider is a mock provider for local development.
type MockProvider struct {
	logger *slog.Logger
}

// NewMockProvider creates a new mock provider.
func NewMockProvider(logger *slog.Logger) *MockProvider {
	return &MockProvider{
		logger: logger,
	}
}

// Send logs the embed instead of posting it.
func (m *MockProvider) Send(_ context.Context, channelID string, embed *discordgo.MessageEmbed) error {
	m.logger.Info("MOCK ANNOUNCEMENT",
		"channel_id", channelID,
		"title", embed.Title,
		"url", embed.URL,
		"description_length", len(embed.Description))
	return nil
}
