package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"spectrum-notifier/pkg/notifier"
)

type subscribersFile struct {
	Subscribers []notifier.Subscriber `yaml:"subscribers"`
}

// FileSource reads subscribers from a YAML file. The file is re-read on
// every call so edits apply on the next cycle without a restart.
type FileSource struct {
	path string
}

// NewFileSource creates a file-backed subscriber source.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Subscribers returns the current snapshot.
func (f *FileSource) Subscribers(_ context.Context) ([]notifier.Subscriber, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read subscribers: %w", err)
	}
	return ParseSubscribers(data)
}

// ParseSubscribers decodes and checks a subscribers document.
func ParseSubscribers(data []byte) ([]notifier.Subscriber, error) {
	var doc subscribersFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse subscribers: %w", err)
	}

	seen := make(map[string]bool, len(doc.Subscribers))
	for i := range doc.Subscribers {
		sub := &doc.Subscribers[i]
		sub.ID = strings.TrimSpace(sub.ID)
		sub.ForumID = strings.TrimSpace(sub.ForumID)
		sub.DestinationID = strings.TrimSpace(sub.DestinationID)
		if sub.ID == "" {
			return nil, fmt.Errorf("subscribers[%d]: id is required", i)
		}
		if seen[sub.ID] {
			return nil, fmt.Errorf("subscribers[%d]: duplicate id %q", i, sub.ID)
		}
		seen[sub.ID] = true
	}
	return doc.Subscribers, nil
}
