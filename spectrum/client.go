// Package spectrum talks to the Spectrum forum API.
//
// Every call needs a session; failures of any kind are logged and reported
// as "no data" so the poller can simply try again next cycle.
package spectrum

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"spectrum-notifier/pkg/notifier"
	"spectrum-notifier/session"
)

const (
	threadsPath = "/api/spectrum/forum/channel/threads"
	detailPath  = "/api/spectrum/forum/thread/nested"
	maxBodyLen  = 8 << 20
)

// StatusError is a non-2xx reply.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.URL)
}

// SessionSource hands out forum sessions.
type SessionSource interface {
	Acquire(ctx context.Context, forumID string) *session.Session
}

// Client calls the Spectrum forum API.
type Client struct {
	client   *http.Client
	sessions SessionSource
	logger   *slog.Logger
	baseURL  string
	attempts uint
	delay    time.Duration
}

// New creates a forum API client.
func New(client *http.Client, sessions SessionSource, baseURL string, logger *slog.Logger) *Client {
	return &Client{
		client:   client,
		sessions: sessions,
		logger:   logger,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		attempts: 3,
		delay:    time.Second,
	}
}

// ListThreads returns the newest threads of a forum together with the session
// used to fetch them. A nil session means no credentials were available.
func (c *Client) ListThreads(ctx context.Context, forumID string) ([]notifier.ThreadSummary, *session.Session) {
	sess := c.sessions.Acquire(ctx, forumID)
	if sess == nil {
		c.logger.Warn("Skipping thread listing, no session", "forum_id", forumID)
		return nil, nil
	}

	payload := map[string]any{
		"channel_id": forumID,
		"page":       1,
		"sort":       "newest",
		"label_id":   nil,
	}
	status, body, err := c.post(ctx, sess, threadsPath, payload)
	if err != nil {
		c.logger.Warn("Thread listing request failed", "forum_id", forumID, "error", err)
		return nil, sess
	}

	switch resp := DecodeList(status, body).(type) {
	case ListResponse:
		c.logger.Debug("Thread listing decoded", "forum_id", forumID, "threads", len(resp.Threads))
		return resp.Threads, sess
	case ErrorResponse:
		c.logger.Warn("Thread listing rejected", "forum_id", forumID, "response", resp.String())
	}
	return nil, sess
}

// ThreadDetail fetches the full document of one thread, or nil.
func (c *Client) ThreadDetail(ctx context.Context, sess *session.Session, slug string) *notifier.ThreadDetail {
	if sess == nil {
		return nil
	}

	payload := map[string]any{
		"slug":            slug,
		"sort":            "votes",
		"target_reply_id": nil,
	}
	status, body, err := c.post(ctx, sess, detailPath, payload)
	if err != nil {
		c.logger.Warn("Thread detail request failed", "forum_id", sess.ForumID, "slug", slug, "error", err)
		return nil
	}

	switch resp := DecodeDetail(status, body).(type) {
	case DetailResponse:
		resp.Detail.ForumID = sess.ForumID
		if resp.Detail.Slug == "" {
			resp.Detail.Slug = slug
		}
		return resp.Detail
	case ErrorResponse:
		c.logger.Warn("Thread detail rejected", "forum_id", sess.ForumID, "slug", slug, "response", resp.String())
	}
	return nil
}

// post sends an authenticated JSON request. Transport failures, 429 and 5xx
// are retried; any other status is returned to the decoder as-is.
func (c *Client) post(ctx context.Context, sess *session.Session, path string, payload any) (int, []byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal request: %w", err)
	}
	endpoint := c.baseURL + path

	var status int
	var body []byte
	err = retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Accept", "application/json")
			req.Header.Set("x-rsi-token", sess.Token)
			req.Header.Set("x-tavern-id", sess.Mark)
			req.Header.Set("Referer", sess.Referer)
			req.Header.Set("Cookie", sess.Cookie)

			c.logger.Debug("HTTP request starting", "method", "POST", "url", endpoint, "forum_id", sess.ForumID)
			startTime := time.Now()
			resp, err := c.client.Do(req)
			duration := time.Since(startTime)
			if err != nil {
				c.logger.Warn("HTTP request failed, will retry", "url", endpoint, "duration_ms", duration.Milliseconds(), "error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					c.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			c.logger.Debug("HTTP request completed",
				"url", endpoint,
				"status_code", resp.StatusCode,
				"duration_ms", duration.Milliseconds())

			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return &StatusError{URL: endpoint, StatusCode: resp.StatusCode}
			}

			b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyLen))
			if err != nil {
				return fmt.Errorf("read body: %w", err)
			}
			status, body = resp.StatusCode, b
			return nil
		},
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(c.delay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("Retrying Spectrum request after error", "attempt", n, "path", path, "error", err)
		}),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, context.Canceled)
		}),
	)
	if err != nil {
		return 0, nil, fmt.Errorf("after retries: %w", err)
	}
	return status, body, nil
}
