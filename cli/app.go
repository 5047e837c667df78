package cli

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"spectrum-notifier/announce"
	"spectrum-notifier/config"
	"spectrum-notifier/poll"
	"spectrum-notifier/render"
	"spectrum-notifier/session"
	"spectrum-notifier/spectrum"
	"spectrum-notifier/storage"
)

// app holds the wired service.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	monitor *poll.Monitor
	closers []func() error
}

func newLogger(level, format string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// buildApp wires every component from the configuration.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	backend, subs, err := a.openStorage(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	cursors := storage.New(backend, storage.NewMemoryCache(), logger)
	if _, err := cursors.LoadAll(ctx); err != nil {
		// Cursors are still read lazily; a cold cache is not fatal.
		logger.Warn("Failed to hydrate cursor cache", "error", err)
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	sessions := session.New(httpClient, session.NewMemoryCache(), session.Config{
		BaseURL:   cfg.BaseURL,
		Community: cfg.Community,
		TTL:       cfg.SessionTTL,
	}, logger)
	api := spectrum.New(httpClient, sessions, cfg.BaseURL, logger)
	renderer := render.New(render.Config{BaseURL: cfg.BaseURL, Community: cfg.Community})

	provider, err := a.openProvider()
	if err != nil {
		a.close()
		return nil, err
	}

	a.monitor = poll.New(api, cursors, renderer, announce.New(provider, logger), subs, logger)
	return a, nil
}

func (a *app) openStorage(ctx context.Context) (storage.Backend, poll.SubscriberSource, error) {
	var fileSource poll.SubscriberSource
	if a.cfg.SubscribersFile != "" {
		fileSource = config.NewFileSource(a.cfg.SubscribersFile)
	}

	switch a.cfg.Backend() {
	case config.BackendPostgres, config.BackendSQLite:
		var db *sql.DB
		var dialect storage.Dialect
		var err error
		if a.cfg.Backend() == config.BackendPostgres {
			db, err = storage.OpenPostgres(a.cfg.DBDSN)
			dialect = storage.Postgres
		} else {
			db, err = storage.OpenSQLite(a.cfg.SQLitePath)
			dialect = storage.SQLite
		}
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, db.Close)
		if err := db.PingContext(ctx); err != nil {
			return nil, nil, fmt.Errorf("ping database: %w", err)
		}

		sqlBackend := storage.NewSQLBackend(db, dialect)
		if err := sqlBackend.Migrate(ctx); err != nil {
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		a.logger.Info("Using SQL storage", "backend", a.cfg.Backend())
		if fileSource != nil {
			return sqlBackend, fileSource, nil
		}
		return sqlBackend, sqlBackend, nil

	case config.BackendGCS:
		var opts []option.ClientOption
		if a.cfg.GoogleCredentialsJSON != "" {
			opts = append(opts, option.WithCredentialsJSON([]byte(a.cfg.GoogleCredentialsJSON)))
		}
		client, err := gcs.NewClient(ctx, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("create storage client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		a.logger.Info("Using Cloud Storage", "bucket", a.cfg.StorageBucket)
		return storage.NewObjectBackend(client, a.cfg.StorageBucket, "", a.logger), fileSource, nil

	default:
		a.logger.Info("Using local object storage", "storage_path", a.cfg.LocalStorage)
		return storage.NewObjectBackend(nil, "", a.cfg.LocalStorage, a.logger), fileSource, nil
	}
}

func (a *app) openProvider() (announce.Provider, error) {
	if a.cfg.DiscordToken == "" {
		a.logger.Info("Mock announcement mode enabled (no DISCORD_TOKEN)")
		return announce.NewMockProvider(a.logger), nil
	}
	s, err := announce.NewDiscordSession(a.cfg.DiscordToken)
	if err != nil {
		return nil, err
	}
	return announce.NewDiscordProvider(s, a.logger), nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Failed to close resource", "error", err)
		}
	}
	a.closers = nil
}

// setup loads configuration and wires the service.
func setup(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	return buildApp(ctx, cfg, logger)
}
