package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Store is the persistence contract for the configuration record. Snapshot
// returns a copy of the current record; Update applies a mutation and
// persists the result before returning it.
type Store interface {
	Snapshot() Settings
	Update(mutate func(*Settings)) (Settings, error)
	Close(ctx context.Context) error
}

// FileStore keeps the configuration record in a JSON file, creating it with
// defaults on first run. It is safe for concurrent use.
type FileStore struct {
	mu       sync.RWMutex
	path     string
	settings Settings
}

// NewFileStore opens (or creates) the JSON configuration file at path.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("config path required")
	}
	store := &FileStore{path: path}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.settings = Defaults()
		return s.persistLocked()
	}
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var settings Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return fmt.Errorf("parse config %s: %w", s.path, err)
	}
	settings.normalize()
	s.settings = settings
	return nil
}

// Snapshot returns a copy of the current configuration record.
func (s *FileStore) Snapshot() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Update applies the mutation and rewrites the file before returning the
// resulting record.
func (s *FileStore) Update(mutate func(*Settings)) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	updated := s.settings
	mutate(&updated)
	updated.normalize()
	previous := s.settings
	s.settings = updated
	if err := s.persistLocked(); err != nil {
		s.settings = previous
		return Settings{}, err
	}
	return updated, nil
}

// persistLocked writes the record atomically via a temp file rename.
func (s *FileStore) persistLocked() error {
	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(s.settings, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

// Close is a no-op for the file-backed store.
func (s *FileStore) Close(context.Context) error {
	return nil
}
