// Package storage persists the per-subscriber watch cursors.
//
// A Store keeps an in-memory cache in front of a durable Backend. The cache
// is only written after the backend accepted the value, so it never runs
// ahead of what is persisted.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"spectrum-notifier/pkg/notifier"
)

// ErrInvalidID is returned for identifiers that cannot be stored.
var ErrInvalidID = errors.New("invalid identifier")

// Backend is the durable side of the cursor store.
type Backend interface {
	// LoadCursor returns the stored thread id text and whether a row exists.
	LoadCursor(ctx context.Context, subscriberID string) (string, bool, error)
	// SaveCursor upserts the thread id text of a subscriber.
	SaveCursor(ctx context.Context, subscriberID, threadID string, at time.Time) error
	// ListCursors returns every stored cursor keyed by subscriber id.
	ListCursors(ctx context.Context) (map[string]string, error)
}

// Cache is the in-memory side of the cursor store.
type Cache interface {
	Get(subscriberID string) (*notifier.ThreadID, bool)
	Put(subscriberID string, id *notifier.ThreadID)
}

// MemoryCache is a mutex-guarded map Cache.
type MemoryCache struct {
	cursors map[string]*notifier.ThreadID
	mu      sync.RWMutex
}

// NewMemoryCache creates an empty cursor cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{cursors: make(map[string]*notifier.ThreadID)}
}

// Get returns the cached cursor of a subscriber.
func (c *MemoryCache) Get(subscriberID string) (*notifier.ThreadID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.cursors[subscriberID]
	return id, ok
}

// Put caches the cursor of a subscriber.
func (c *MemoryCache) Put(subscriberID string, id *notifier.ThreadID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cursors[subscriberID] = id
}

// Store is the cursor store used by the poller.
type Store struct {
	backend Backend
	cache   Cache
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a cursor store. A nil cache gets an in-memory one.
func New(backend Backend, cache Cache, logger *slog.Logger) *Store {
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Store{
		backend: backend,
		cache:   cache,
		logger:  logger,
		now:     time.Now,
	}
}

// Get returns the cursor of a subscriber, or nil when none is stored.
func (s *Store) Get(ctx context.Context, subscriberID string) (*notifier.ThreadID, error) {
	if id, ok := s.cache.Get(subscriberID); ok {
		return id, nil
	}

	raw, found, err := s.backend.LoadCursor(ctx, subscriberID)
	if err != nil {
		return nil, fmt.Errorf("load cursor: %w", err)
	}
	if !found {
		return nil, nil
	}
	id := notifier.ParseThreadID(raw)
	if id == nil {
		s.logger.Warn("Ignoring unparsable stored cursor", "subscriber_id", subscriberID, "value", raw)
		return nil, nil
	}
	s.cache.Put(subscriberID, id)
	return id, nil
}

// Set persists value as the cursor of a subscriber and then caches it.
func (s *Store) Set(ctx context.Context, subscriberID string, value any) (*notifier.ThreadID, error) {
	id := notifier.ParseThreadID(value)
	if id == nil {
		return nil, fmt.Errorf("set cursor for %s: %w", subscriberID, ErrInvalidID)
	}
	if err := s.backend.SaveCursor(ctx, subscriberID, id.String(), s.now().UTC()); err != nil {
		return nil, fmt.Errorf("save cursor: %w", err)
	}
	s.cache.Put(subscriberID, id)
	s.logger.Debug("Cursor saved", "subscriber_id", subscriberID, "thread_id", id.String())
	return id, nil
}

// LoadAll hydrates the cache from the backend and returns how many cursors were loaded.
func (s *Store) LoadAll(ctx context.Context) (int, error) {
	rows, err := s.backend.ListCursors(ctx)
	if err != nil {
		return 0, fmt.Errorf("list cursors: %w", err)
	}
	loaded := 0
	for subscriberID, raw := range rows {
		id := notifier.ParseThreadID(raw)
		if id == nil {
			s.logger.Warn("Skipping unparsable stored cursor", "subscriber_id", subscriberID, "value", raw)
			continue
		}
		s.cache.Put(subscriberID, id)
		loaded++
	}
	s.logger.Info("Cursors loaded", "count", loaded, "rows", len(rows))
	return loaded, nil
}
