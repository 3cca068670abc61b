package credential

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store. Credentials vanish with the process.
type MemoryStore struct {
	mu   sync.RWMutex
	m    map[string]*Credential
	nowF func() time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		m:    make(map[string]*Credential),
		nowF: func() time.Time { return time.Now().UTC() },
	}
}

// Save stores a copy of c.
func (s *MemoryStore) Save(ctx context.Context, c *Credential) error {
	cp := *c
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[c.ID] = &cp
	return nil
}

// Get returns a copy of the credential for id if present and not expired.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Credential, error) {
	s.mu.RLock()
	c, ok := s.m[id]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if c.Expired(s.nowF()) {
		s.mu.Lock()
		delete(s.m, id)
		s.mu.Unlock()
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

// Len returns the number of stored credentials, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}
