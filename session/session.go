// Package session acquires and caches the short-lived Spectrum access tokens.
//
// Spectrum's API is unauthenticated but every request must carry the
// Rsi-Token cookie and the page "mark" that a normal page load hands out.
// A Manager obtains both with a preflight GET and shares them process-wide.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"spectrum-notifier/telemetry"
)

const (
	// DefaultTTL is how long freshly acquired credentials are trusted.
	DefaultTTL = 30 * time.Minute

	tokenCookie     = "Rsi-Token"
	maxPreflightLen = 4 << 20
)

var (
	doubleQuotedMark = regexp.MustCompile(`"mark"\s*:\s*"([^"]+)"`)
	singleQuotedMark = regexp.MustCompile(`'mark'\s*:\s*'([^']+)'`)
)

// Credentials is one complete token pair. Partial pairs are never stored.
type Credentials struct {
	ExpiresAt time.Time
	Token     string
	Mark      string
}

func (c *Credentials) complete() bool {
	return c != nil && c.Token != "" && c.Mark != ""
}

// Expired reports whether the credentials are past their TTL at now.
func (c *Credentials) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Session is a set of credentials bound to one forum.
type Session struct {
	Credentials
	ForumID string
	Referer string
	Cookie  string
}

// Cache holds the process-wide credentials.
type Cache interface {
	Load() *Credentials
	Store(creds *Credentials)
}

// MemoryCache is an in-process Cache.
type MemoryCache struct {
	creds *Credentials
	mu    sync.RWMutex
}

// NewMemoryCache creates an empty credentials cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{}
}

// Load returns a copy of the cached credentials, or nil.
func (c *MemoryCache) Load() *Credentials {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.creds == nil {
		return nil
	}
	cp := *c.creds
	return &cp
}

// Store replaces the cached credentials.
func (c *MemoryCache) Store(creds *Credentials) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if creds == nil {
		c.creds = nil
		return
	}
	cp := *creds
	c.creds = &cp
}

// Config holds manager settings.
type Config struct {
	BaseURL   string        // e.g. https://robertsspaceindustries.com
	Community string        // Spectrum community slug, e.g. SC
	TTL       time.Duration // Zero means DefaultTTL
}

// Manager acquires Spectrum sessions.
type Manager struct {
	client    *http.Client
	cache     Cache
	logger    *slog.Logger
	now       func() time.Time
	baseURL   string
	community string
	ttl       time.Duration
	mu        sync.Mutex // serializes refreshes
}

// New creates a session manager. A nil cache gets an in-memory one.
func New(client *http.Client, cache Cache, cfg Config, logger *slog.Logger) *Manager {
	if cache == nil {
		cache = NewMemoryCache()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		client:    client,
		cache:     cache,
		logger:    logger,
		now:       time.Now,
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		community: cfg.Community,
		ttl:       ttl,
	}
}

// ForumURL is the public page of a forum, used as preflight target and referer.
func (m *Manager) ForumURL(forumID string) string {
	return fmt.Sprintf("%s/spectrum/community/%s/forum/%s", m.baseURL, m.community, forumID)
}

// Acquire returns a session for forumID, or nil when no credentials can be
// obtained. It never fails: callers treat nil as "skip this cycle".
func (m *Manager) Acquire(ctx context.Context, forumID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	cached := m.cache.Load()
	if cached.complete() && !cached.Expired(m.now()) {
		telemetry.SessionAcquisitions.WithLabelValues(telemetry.SessionCached).Inc()
		return m.wrap(cached, forumID)
	}

	for _, candidate := range m.candidates(forumID) {
		creds, err := m.preflight(ctx, candidate)
		if err != nil {
			m.logger.Warn("Session preflight failed", "forum_id", forumID, "url", candidate, "error", err)
			continue
		}
		m.cache.Store(creds)
		telemetry.SessionAcquisitions.WithLabelValues(telemetry.SessionRefreshed).Inc()
		m.logger.Info("Session acquired", "forum_id", forumID, "url", candidate, "expires_at", creds.ExpiresAt.Format(time.RFC3339))
		return m.wrap(creds, forumID)
	}

	if cached.complete() {
		telemetry.SessionAcquisitions.WithLabelValues(telemetry.SessionStale).Inc()
		m.logger.Warn("All session preflights failed, reusing expired credentials (degraded)",
			"forum_id", forumID,
			"expired_at", cached.ExpiresAt.Format(time.RFC3339))
		return m.wrap(cached, forumID)
	}

	telemetry.SessionAcquisitions.WithLabelValues(telemetry.SessionAbsent).Inc()
	m.logger.Error("No Spectrum session available", "forum_id", forumID)
	return nil
}

func (m *Manager) candidates(forumID string) []string {
	forumURL := m.ForumURL(forumID)
	return []string{
		forumURL,
		forumURL + "/",
		fmt.Sprintf("%s/spectrum/community/%s", m.baseURL, m.community),
		m.baseURL + "/",
	}
}

func (m *Manager) wrap(creds *Credentials, forumID string) *Session {
	return &Session{
		Credentials: *creds,
		ForumID:     forumID,
		Referer:     m.ForumURL(forumID),
		Cookie:      tokenCookie + "=" + creds.Token,
	}
}

// preflight loads pageURL like a browser would and extracts both tokens.
func (m *Manager) preflight(ctx context.Context, pageURL string) (*Credentials, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	m.logger.Debug("HTTP request starting", "method", "GET", "url", pageURL, "purpose", "session_preflight")
	startTime := time.Now()
	resp, err := m.client.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			m.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	m.logger.Debug("HTTP request completed",
		"url", pageURL,
		"status_code", resp.StatusCode,
		"duration_ms", duration.Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	token := extractToken(resp.Header)
	if token == "" {
		return nil, errors.New("no Rsi-Token cookie in response")
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPreflightLen))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	mark := extractMark(body)
	if mark == "" {
		return nil, errors.New("no mark token in page")
	}

	return &Credentials{
		Token:     token,
		Mark:      mark,
		ExpiresAt: m.now().Add(m.ttl),
	}, nil
}

// extractToken returns the first Rsi-Token value from the Set-Cookie headers.
func extractToken(h http.Header) string {
	for _, line := range h.Values("Set-Cookie") {
		pair, _, _ := strings.Cut(line, ";")
		name, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(name), tokenCookie) {
			continue
		}
		if value = strings.Trim(strings.TrimSpace(value), `"`); value != "" {
			return value
		}
	}
	return ""
}

// extractMark finds the mark token in the page's inline scripts, falling
// back to the whole document for data blobs outside script tags.
func extractMark(body []byte) string {
	var mark string
	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body)); err == nil {
		doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			mark = findMark(s.Text())
			return mark == ""
		})
	}
	if mark == "" {
		mark = findMark(string(body))
	}
	return mark
}

func findMark(text string) string {
	if m := doubleQuotedMark.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	if m := singleQuotedMark.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}
