// Package poll runs the announcement cycles: list threads per subscriber,
// announce the ones newer than the stored cursor, and advance the cursor
// only once delivery is confirmed.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"spectrum-notifier/pkg/notifier"
	"spectrum-notifier/session"
	"spectrum-notifier/telemetry"
)

var (
	// ErrCycleInProgress is returned when a trigger overlaps a running cycle.
	ErrCycleInProgress = errors.New("poll cycle already in progress")
	// ErrUnknownSubscriber is returned by PostLatest for ids not in the configuration.
	ErrUnknownSubscriber = errors.New("unknown subscriber")
	// ErrNoThreads is returned by PostLatest when the forum lists nothing usable.
	ErrNoThreads = errors.New("no threads found")
	// ErrSessionUnavailable is returned by PostLatest when no credentials could be acquired.
	ErrSessionUnavailable = errors.New("forum session unavailable")
	// ErrDetailUnavailable is returned by PostLatest when the thread detail cannot be fetched.
	ErrDetailUnavailable = errors.New("thread detail unavailable")
)

// ForumAPI lists threads and fetches their details.
type ForumAPI interface {
	ListThreads(ctx context.Context, forumID string) ([]notifier.ThreadSummary, *session.Session)
	ThreadDetail(ctx context.Context, sess *session.Session, slug string) *notifier.ThreadDetail
}

// CursorStore persists the last announced thread per subscriber.
type CursorStore interface {
	Get(ctx context.Context, subscriberID string) (*notifier.ThreadID, error)
	Set(ctx context.Context, subscriberID string, value any) (*notifier.ThreadID, error)
}

// Renderer turns a thread detail into an announcement.
type Renderer interface {
	Render(d *notifier.ThreadDetail) notifier.RenderedThread
}

// Sender delivers an announcement to a destination channel.
type Sender interface {
	Send(ctx context.Context, destinationID string, msg notifier.RenderedThread) error
}

// SubscriberSource provides the configuration snapshot for a cycle.
type SubscriberSource interface {
	Subscribers(ctx context.Context) ([]notifier.Subscriber, error)
}

// Monitor runs poll cycles.
type Monitor struct {
	api         ForumAPI
	cursors     CursorStore
	renderer    Renderer
	sender      Sender
	subscribers SubscriberSource
	logger      *slog.Logger
	running     atomic.Bool
}

// New creates a new poll monitor.
func New(api ForumAPI, cursors CursorStore, renderer Renderer, sender Sender, subscribers SubscriberSource, logger *slog.Logger) *Monitor {
	return &Monitor{
		api:         api,
		cursors:     cursors,
		renderer:    renderer,
		sender:      sender,
		subscribers: subscribers,
		logger:      logger,
	}
}

// Running reports whether a cycle is in flight.
func (m *Monitor) Running() bool {
	return m.running.Load()
}

func (m *Monitor) acquire() bool {
	if m.running.CompareAndSwap(false, true) {
		return true
	}
	telemetry.CyclesOverlapped.Inc()
	return false
}

// CheckAll runs one cycle over every subscriber, sequentially. An overlapping
// call returns ErrCycleInProgress without doing any work.
func (m *Monitor) CheckAll(ctx context.Context) error {
	if !m.acquire() {
		m.logger.Info("Poll cycle already running, skipping trigger")
		return ErrCycleInProgress
	}
	defer m.running.Store(false)

	telemetry.CyclesStarted.Inc()
	start := time.Now()
	logger := m.logger.With("cycle_id", uuid.NewString())

	subs, err := m.subscribers.Subscribers(ctx)
	if err != nil {
		return fmt.Errorf("list subscribers: %w", err)
	}
	logger.Info("Checking subscribers", "count", len(subs), "timestamp", start.Format(time.RFC3339))

	var announced int
	for _, sub := range subs {
		select {
		case <-ctx.Done():
			logger.Info("Context cancelled, stopping poll cycle", "error", ctx.Err())
			return ctx.Err()
		default:
		}
		announced += m.checkSubscriber(ctx, logger.With("subscriber_id", sub.ID, "forum_id", sub.ForumID), sub)
	}

	d := telemetry.ObserveSince(telemetry.CycleDuration, start)
	logger.Info("Poll cycle completed", "subscribers", len(subs), "announced", announced, "duration_ms", d.Milliseconds())
	return nil
}

type candidate struct {
	id     *notifier.ThreadID
	thread notifier.ThreadSummary
}

// sortedCandidates drops threads without a parsable id and orders the rest
// oldest to newest.
func sortedCandidates(threads []notifier.ThreadSummary) []candidate {
	out := make([]candidate, 0, len(threads))
	for _, t := range threads {
		if t.ID == nil {
			continue
		}
		out = append(out, candidate{id: t.ID, thread: t})
	}
	slices.SortStableFunc(out, func(a, b candidate) int {
		return notifier.CompareThreadIDs(a.id, b.id)
	})
	return out
}

// checkSubscriber runs one subscriber's step and returns the number of
// threads announced.
func (m *Monitor) checkSubscriber(ctx context.Context, logger *slog.Logger, sub notifier.Subscriber) int {
	if sub.ForumID == "" || sub.DestinationID == "" {
		logger.Debug("Skipping subscriber without forum or destination")
		return 0
	}

	threads, sess := m.api.ListThreads(ctx, sub.ForumID)
	if sess == nil || len(threads) == 0 {
		logger.Info("No threads available this cycle", "has_session", sess != nil)
		return 0
	}

	candidates := sortedCandidates(threads)
	if len(candidates) == 0 {
		logger.Warn("No thread identifiers could be parsed", "listed", len(threads))
		return 0
	}
	newest := candidates[len(candidates)-1]

	cursor, err := m.cursors.Get(ctx, sub.ID)
	if err != nil {
		logger.Error("Failed to read cursor", "error", err)
		return 0
	}

	if cursor == nil {
		// First contact: remember where the forum is, announce nothing.
		if _, err := m.cursors.Set(ctx, sub.ID, newest.id); err != nil {
			telemetry.CursorWriteFailures.Inc()
			logger.Error("Failed to record initial cursor", "thread_id", newest.id.String(), "error", err)
			return 0
		}
		logger.Info("Initial cursor recorded", "thread_id", newest.id.String(), "listed", len(candidates))
		return 0
	}

	var pending []candidate
	for _, c := range candidates {
		if notifier.IsNewer(c.id, cursor) {
			pending = append(pending, c)
		}
	}
	if len(pending) == 0 {
		logger.Debug("No new threads", "cursor", cursor.String(), "newest", newest.id.String())
		return 0
	}
	logger.Info("New threads detected", "count", len(pending), "cursor", cursor.String(), "newest", newest.id.String())

	announced := 0
	for _, c := range pending {
		if c.thread.Slug == "" {
			logger.Warn("Skipping thread without slug", "thread_id", c.id.String())
			continue
		}
		if err := m.announce(ctx, logger, sub, sess, c); err != nil {
			logger.Warn("Halting subscriber for this cycle", "thread_id", c.id.String(), "error", err)
			break
		}
		announced++
	}
	return announced
}

// announce fetches, renders and sends one thread, then advances the cursor.
func (m *Monitor) announce(ctx context.Context, logger *slog.Logger, sub notifier.Subscriber, sess *session.Session, c candidate) error {
	detail := m.api.ThreadDetail(ctx, sess, c.thread.Slug)
	if detail == nil {
		return fmt.Errorf("fetch detail %s: %w", c.thread.Slug, ErrDetailUnavailable)
	}
	if detail.ID == nil {
		detail.ID = c.id
	}

	msg := m.renderer.Render(detail)
	if err := m.sender.Send(ctx, sub.DestinationID, msg); err != nil {
		telemetry.AnnouncementsFailed.Inc()
		return fmt.Errorf("send announcement: %w", err)
	}
	telemetry.AnnouncementsSent.Inc()

	if _, err := m.cursors.Set(ctx, sub.ID, c.id); err != nil {
		telemetry.CursorWriteFailures.Inc()
		logger.Error("Announcement sent but cursor write failed, thread may be announced again",
			"thread_id", c.id.String(), "error", err)
		return fmt.Errorf("advance cursor: %w", err)
	}
	logger.Info("Thread announced", "thread_id", c.id.String(), "slug", c.thread.Slug, "title", msg.Title)
	return nil
}

// PostLatest announces the newest thread of a subscriber's forum right away.
// The cursor moves only if that thread is newer than the current cursor.
func (m *Monitor) PostLatest(ctx context.Context, subscriberID string) (*notifier.RenderedThread, error) {
	if !m.acquire() {
		return nil, ErrCycleInProgress
	}
	defer m.running.Store(false)

	logger := m.logger.With("subscriber_id", subscriberID, "trigger", "manual")

	sub, err := m.lookup(ctx, subscriberID)
	if err != nil {
		return nil, err
	}
	if sub.ForumID == "" || sub.DestinationID == "" {
		return nil, fmt.Errorf("subscriber %s has no forum or destination: %w", subscriberID, ErrUnknownSubscriber)
	}

	threads, sess := m.api.ListThreads(ctx, sub.ForumID)
	if sess == nil {
		return nil, ErrSessionUnavailable
	}
	candidates := sortedCandidates(threads)
	var latest *candidate
	for i := len(candidates) - 1; i >= 0; i-- {
		if candidates[i].thread.Slug != "" {
			latest = &candidates[i]
			break
		}
	}
	if latest == nil {
		return nil, ErrNoThreads
	}

	detail := m.api.ThreadDetail(ctx, sess, latest.thread.Slug)
	if detail == nil {
		return nil, fmt.Errorf("fetch detail %s: %w", latest.thread.Slug, ErrDetailUnavailable)
	}
	if detail.ID == nil {
		detail.ID = latest.id
	}
	msg := m.renderer.Render(detail)
	if err := m.sender.Send(ctx, sub.DestinationID, msg); err != nil {
		telemetry.AnnouncementsFailed.Inc()
		return nil, fmt.Errorf("send announcement: %w", err)
	}
	telemetry.AnnouncementsSent.Inc()

	cursor, err := m.cursors.Get(ctx, sub.ID)
	if err != nil {
		logger.Error("Failed to read cursor after manual post", "error", err)
		return &msg, nil
	}
	if notifier.IsNewer(latest.id, cursor) {
		if _, err := m.cursors.Set(ctx, sub.ID, latest.id); err != nil {
			telemetry.CursorWriteFailures.Inc()
			logger.Error("Manual post sent but cursor write failed", "thread_id", latest.id.String(), "error", err)
			return &msg, fmt.Errorf("advance cursor: %w", err)
		}
	}
	logger.Info("Latest thread posted", "thread_id", latest.id.String(), "slug", latest.thread.Slug)
	return &msg, nil
}

func (m *Monitor) lookup(ctx context.Context, subscriberID string) (notifier.Subscriber, error) {
	subs, err := m.subscribers.Subscribers(ctx)
	if err != nil {
		return notifier.Subscriber{}, fmt.Errorf("list subscribers: %w", err)
	}
	for _, sub := range subs {
		if sub.ID == subscriberID {
			return sub, nil
		}
	}
	return notifier.Subscriber{}, fmt.Errorf("subscriber %s: %w", subscriberID, ErrUnknownSubscriber)
}
