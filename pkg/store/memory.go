package store

import (
	"sync"

	"github.com/bedekelly/twistchat/pkg/model"
)

// MemoryStore provides an in-memory CredentialStore for tests. It keeps a
// private copy of every saved mapping and can be told to fail saves.
type MemoryStore struct {
	mu      sync.Mutex
	creds   model.Credentials
	saved   bool
	saves   int
	saveErr error
}

// NewMemory returns an empty MemoryStore; Load reports ErrNotExist until the
// first successful Save.
func NewMemory() *MemoryStore {
	return &MemoryStore{}
}

// Load returns a copy of the last saved mapping.
func (s *MemoryStore) Load() (model.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.saved {
		return nil, ErrNotExist
	}
	return s.creds.Clone(), nil
}

// Save stores a copy of creds, or returns the configured failure.
func (s *MemoryStore) Save(creds model.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.creds = creds.Clone()
	s.saved = true
	s.saves++
	return nil
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}

// FailSaves makes every following Save return err; nil restores normal
// behaviour.
func (s *MemoryStore) FailSaves(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveErr = err
}

// Saves returns the number of successful saves.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
