package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/iterator"
)

const (
	cursorPrefix = "cursor-"
	cursorSuffix = ".json"
)

var safeID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// cursorObject is the JSON document stored per subscriber.
type cursorObject struct {
	UpdatedAt    time.Time `json:"updated_at"`
	SubscriberID string    `json:"subscriber_id"`
	LastThreadID string    `json:"last_thread_id"`
}

// ObjectBackend keeps one JSON object per cursor, in Cloud Storage or a
// local directory when localPath is set.
type ObjectBackend struct {
	client    *storage.Client
	logger    *slog.Logger
	localPath string
	bucket    string
}

// NewObjectBackend creates an object backend. Client may be nil in local mode.
func NewObjectBackend(client *storage.Client, bucket, localPath string, logger *slog.Logger) *ObjectBackend {
	return &ObjectBackend{
		client:    client,
		logger:    logger,
		localPath: localPath,
		bucket:    bucket,
	}
}

// CursorKey returns the object name for a subscriber, or "" when the id
// contains characters that are unsafe in a path.
func CursorKey(subscriberID string) string {
	if !safeID.MatchString(subscriberID) {
		return ""
	}
	return cursorPrefix + subscriberID + cursorSuffix
}

func retryOptions(ctx context.Context, logger *slog.Logger, op, key string) []retry.Option {
	return []retry.Option{
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30 * time.Second),
		retry.MaxJitter(2 * time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			logger.Info("Retrying storage operation after error", "op", op, "attempt", n, "key", key, "error", err)
		}),
	}
}

// LoadCursor implements Backend.
func (b *ObjectBackend) LoadCursor(ctx context.Context, subscriberID string) (string, bool, error) {
	key := CursorKey(subscriberID)
	if key == "" {
		return "", false, fmt.Errorf("load cursor %q: %w", subscriberID, ErrInvalidID)
	}

	data, err := b.read(ctx, key)
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, storage.ErrObjectNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	var obj cursorObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", false, fmt.Errorf("unmarshal cursor: %w", err)
	}
	return obj.LastThreadID, true, nil
}

// SaveCursor implements Backend.
func (b *ObjectBackend) SaveCursor(ctx context.Context, subscriberID, threadID string, at time.Time) error {
	key := CursorKey(subscriberID)
	if key == "" {
		return fmt.Errorf("save cursor %q: %w", subscriberID, ErrInvalidID)
	}

	data, err := json.MarshalIndent(cursorObject{
		SubscriberID: subscriberID,
		LastThreadID: threadID,
		UpdatedAt:    at,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cursor: %w", err)
	}

	if b.localPath != "" {
		return b.writeLocal(key, data)
	}

	err = retry.Do(
		func() error {
			w := b.client.Bucket(b.bucket).Object(key).NewWriter(ctx)
			w.ContentType = "application/json"
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					b.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retryOptions(ctx, b.logger, "save", key)...,
	)
	if err != nil {
		return fmt.Errorf("save after retries: %w", err)
	}
	return nil
}

// writeLocal replaces the file through a rename so a crash never leaves a
// half-written cursor behind.
func (b *ObjectBackend) writeLocal(key string, data []byte) error {
	if err := os.MkdirAll(b.localPath, 0o755); err != nil {
		return fmt.Errorf("create local storage dir: %w", err)
	}
	path := filepath.Join(b.localPath, key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write to local storage: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace local cursor: %w", err)
	}
	return nil
}

func (b *ObjectBackend) read(ctx context.Context, key string) ([]byte, error) {
	if b.localPath != "" {
		data, err := os.ReadFile(filepath.Join(b.localPath, key))
		if err != nil {
			return nil, fmt.Errorf("read from local storage: %w", err)
		}
		return data, nil
	}

	var data []byte
	err := retry.Do(
		func() error {
			r, openErr := b.client.Bucket(b.bucket).Object(key).NewReader(ctx)
			if openErr != nil {
				if errors.Is(openErr, storage.ErrObjectNotExist) {
					return retry.Unrecoverable(fmt.Errorf("open storage reader: %w", openErr))
				}
				return fmt.Errorf("open storage reader: %w", openErr)
			}
			defer func() {
				if closeErr := r.Close(); closeErr != nil {
					b.logger.Warn("Failed to close storage reader", "error", closeErr)
				}
			}()

			var readErr error
			data, readErr = io.ReadAll(r)
			if readErr != nil {
				return fmt.Errorf("read from storage: %w", readErr)
			}
			return nil
		},
		retryOptions(ctx, b.logger, "load", key)...,
	)
	if err != nil {
		return nil, fmt.Errorf("load after retries: %w", err)
	}
	return data, nil
}

// ListCursors implements Backend.
func (b *ObjectBackend) ListCursors(ctx context.Context) (map[string]string, error) {
	names, err := b.listKeys(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(names))
	for _, name := range names {
		subscriberID := strings.TrimSuffix(strings.TrimPrefix(name, cursorPrefix), cursorSuffix)
		raw, found, err := b.LoadCursor(ctx, subscriberID)
		if err != nil {
			b.logger.Warn("Failed to load cursor", "key", name, "error", err)
			continue
		}
		if found {
			out[subscriberID] = raw
		}
	}
	return out, nil
}

func (b *ObjectBackend) listKeys(ctx context.Context) ([]string, error) {
	var names []string

	if b.localPath != "" {
		entries, err := os.ReadDir(b.localPath)
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read local storage directory: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasPrefix(entry.Name(), cursorPrefix) || !strings.HasSuffix(entry.Name(), cursorSuffix) {
				continue
			}
			names = append(names, entry.Name())
		}
		return names, nil
	}

	it := b.client.Bucket(b.bucket).Objects(ctx, &storage.Query{Prefix: cursorPrefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate storage: %w", err)
		}
		if strings.HasSuffix(attrs.Name, cursorSuffix) {
			names = append(names, attrs.Name)
		}
	}
	return names, nil
}
