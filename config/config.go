// Package config loads the service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultBaseURL      = "https://robertsspaceindustries.com"
	DefaultCommunity    = "SC"
	DefaultPollInterval = 5 * time.Minute
	MinPollInterval     = time.Minute
	DefaultSessionTTL   = 30 * time.Minute
	DefaultSQLitePath   = "./data/spectrum.db"
	DefaultPort         = "8080"
)

// Backend names the durable store selected by the environment.
type Backend string

// Available backends, in selection priority order.
const (
	BackendPostgres Backend = "postgres"
	BackendGCS      Backend = "gcs"
	BackendLocal    Backend = "local"
	BackendSQLite   Backend = "sqlite"
)

// Config holds the process settings.
type Config struct {
	BaseURL               string
	Community             string
	DBDSN                 string
	SQLitePath            string
	StorageBucket         string
	LocalStorage          string
	GoogleCredentialsJSON string
	SubscribersFile       string
	DiscordToken          string
	Port                  string
	LogLevel              string
	LogFormat             string
	PollInterval          time.Duration
	SessionTTL            time.Duration
}

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	// Local dev convenience only; a missing file is fine.
	_ = godotenv.Load() //nolint:errcheck // optional file

	cfg := &Config{
		BaseURL:               strings.TrimSuffix(envOr("SPECTRUM_BASE_URL", DefaultBaseURL), "/"),
		Community:             envOr("SPECTRUM_COMMUNITY", DefaultCommunity),
		DBDSN:                 os.Getenv("DB_DSN"),
		SQLitePath:            envOr("SQLITE_PATH", DefaultSQLitePath),
		StorageBucket:         os.Getenv("STORAGE_BUCKET"),
		LocalStorage:          os.Getenv("LOCAL_STORAGE"),
		GoogleCredentialsJSON: os.Getenv("GOOGLE_CREDENTIALS_JSON"),
		SubscribersFile:       os.Getenv("SUBSCRIBERS_FILE"),
		DiscordToken:          os.Getenv("DISCORD_TOKEN"),
		Port:                  envOr("PORT", DefaultPort),
		LogLevel:              strings.ToLower(os.Getenv("LOG_LEVEL")),
		LogFormat:             strings.ToLower(envOr("LOG_FORMAT", "json")),
		PollInterval:          ParsePollInterval(os.Getenv("SPECTRUM_POLL_INTERVAL")),
		SessionTTL:            parseTTL(os.Getenv("SPECTRUM_SESSION_TTL")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Backend reports which durable store the settings select.
func (c *Config) Backend() Backend {
	switch {
	case c.DBDSN != "":
		return BackendPostgres
	case c.StorageBucket != "":
		return BackendGCS
	case c.LocalStorage != "":
		return BackendLocal
	}
	return BackendSQLite
}

// Validate checks settings that cannot be defaulted.
func (c *Config) Validate() error {
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("PORT %q is not a number", c.Port)
	}
	if c.Community == "" {
		return errors.New("SPECTRUM_COMMUNITY must not be empty")
	}
	switch c.Backend() {
	case BackendGCS, BackendLocal:
		// Object stores hold cursors only.
		if c.SubscribersFile == "" {
			return fmt.Errorf("SUBSCRIBERS_FILE is required with the %s backend", c.Backend())
		}
	}
	return nil
}

// ParsePollInterval accepts a Go duration ("90s", "5m") or an integer number
// of milliseconds. Invalid or too small values give the default.
func ParsePollInterval(s string) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultPollInterval
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		ms, convErr := strconv.ParseInt(s, 10, 64)
		if convErr != nil {
			return DefaultPollInterval
		}
		d = time.Duration(ms) * time.Millisecond
	}
	if d < MinPollInterval {
		return DefaultPollInterval
	}
	return d
}

func parseTTL(s string) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil || d <= 0 {
		return DefaultSessionTTL
	}
	return d
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
