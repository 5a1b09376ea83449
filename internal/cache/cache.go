// Package cache stores short-lived lookup results (datasource and dashboard
// IDs) on disk so shell completion does not hit the backend on every tab.
package cache

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

// Entry is one cached value list.
type Entry struct {
	Values    []string  `json:"values"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Manager reads and writes cache entries under one directory.
type Manager struct {
	cacheDir string
	ttl      time.Duration
	now      func() time.Time
}

var unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// NewManager creates the cache directory when needed. An empty cacheDir means
// ~/.studio/cache.
func NewManager(cacheDir string, ttl time.Duration) (*Manager, error) {
	if cacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		cacheDir = filepath.Join(home, ".studio", "cache")
	}

	if err := os.MkdirAll(cacheDir, 0700); err != nil {
		return nil, err
	}

	return &Manager{
		cacheDir: cacheDir,
		ttl:      ttl,
		now:      time.Now,
	}, nil
}

func (m *Manager) path(key string) string {
	return filepath.Join(m.cacheDir, unsafeKeyChars.ReplaceAllString(key, "_")+".json")
}

// Get returns the values stored under key unless they expired.
func (m *Manager) Get(key string) ([]string, bool) {
	data, err := os.ReadFile(m.path(key))
	if err != nil {
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false
	}
	if m.now().After(entry.ExpiresAt) {
		return nil, false
	}
	return entry.Values, true
}

// Set stores values under key for the manager's TTL.
func (m *Manager) Set(key string, values []string) error {
	now := m.now()
	data, err := json.Marshal(Entry{
		Values:    values,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	})
	if err != nil {
		return err
	}
	return os.WriteFile(m.path(key), data, 0600)
}

// GetOrLoad returns the cached values for key, calling load and caching its
// result on a miss. A failed Set does not fail the lookup.
func (m *Manager) GetOrLoad(key string, load func() ([]string, error)) ([]string, error) {
	if values, ok := m.Get(key); ok {
		return values, nil
	}
	values, err := load()
	if err != nil {
		return nil, err
	}
	_ = m.Set(key, values)
	return values, nil
}

// Clear removes one entry. A missing entry is not an error.
func (m *Manager) Clear(key string) error {
	err := os.Remove(m.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// ClearAll removes every entry.
func (m *Manager) ClearAll() error {
	entries, err := os.ReadDir(m.cacheDir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if filepath.Ext(entry.Name()) == ".json" {
			if err := os.Remove(filepath.Join(m.cacheDir, entry.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}
