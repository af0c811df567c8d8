// Package session persists the single logged-in session bundle.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"smartswap/pkg/types"
)

const (
	// Key is the one key the session bundle is stored under
	Key = "session_token"

	DefaultFileName = ".smartswap-session.json"
)

// Store persists exactly one session bundle. Load returns nil, nil when
// nothing is stored.
type Store interface {
	Load(ctx context.Context) (*types.Session, error)
	Save(ctx context.Context, s *types.Session) error
	Clear(ctx context.Context) error
}

// FileStore keeps the session in a JSON file under Key
type FileStore struct {
	filePath string
	mu       sync.RWMutex
}

// NewFileStore creates a file-backed store. An empty path defaults to the home directory.
func NewFileStore(filePath string) (*FileStore, error) {
	if filePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		filePath = filepath.Join(home, DefaultFileName)
	}
	return &FileStore{filePath: filePath}, nil
}

// Load reads the stored session
func (s *FileStore) Load(_ context.Context) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	var stored map[string]*types.Session
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return stored[Key], nil
}

// Save replaces the stored session
func (s *FileStore) Save(_ context.Context, sess *types.Session) error {
	if sess == nil {
		return fmt.Errorf("session is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(map[string]*types.Session{Key: sess}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Write to temporary file first, then rename for atomic write
	tempFile := s.filePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	if err := os.Rename(tempFile, s.filePath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Clear removes the stored session
func (s *FileStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove session: %w", err)
	}
	return nil
}

// Path returns the session file path
func (s *FileStore) Path() string {
	return s.filePath
}

var _ Store = (*FileStore)(nil)
