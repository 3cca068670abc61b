package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileStore keeps the most recent credential in a single JSON file, replacing it on every Save.
type FileStore struct {
	path string
	mu   sync.Mutex
	nowF func() time.Time
}

// NewFileStore returns a store backed by path. The parent directory is created on first Save.
func NewFileStore(path string) *FileStore {
	return &FileStore{
		path: path,
		nowF: func() time.Time { return time.Now().UTC() },
	}
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// Save writes c to the file atomically with owner-only permissions.
func (s *FileStore) Save(ctx context.Context, c *Credential) error {
	raw, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("credential: create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".session-*.json")
	if err != nil {
		return fmt.Errorf("credential: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

// Get returns the stored credential if its id matches and it has not expired.
func (s *FileStore) Get(ctx context.Context, id string) (*Credential, error) {
	c, err := s.Current(ctx)
	if err != nil || c == nil || c.ID != id {
		return nil, err
	}
	return c, nil
}

// Current returns whatever credential is in the file, or nil when there is none or it expired.
func (s *FileStore) Current(ctx context.Context) (*Credential, error) {
	s.mu.Lock()
	raw, err := os.ReadFile(s.path)
	s.mu.Unlock()
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var c Credential
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("credential: decode %s: %w", s.path, err)
	}
	if c.Expired(s.nowF()) {
		return nil, nil
	}
	return &c, nil
}

// Clear removes the file. Missing files are not an error.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
