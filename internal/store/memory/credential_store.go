package memory

import (
	"sync"

	"github.com/wolfeidau/lessongate/internal/models"
	"github.com/wolfeidau/lessongate/internal/store"
)

// CredentialStore implements store.CredentialStore using in-memory storage.
type CredentialStore struct {
	mu     sync.RWMutex
	record models.CredentialRecord
	writes int
}

var _ store.CredentialStore = (*CredentialStore)(nil)

// NewCredentialStore creates an empty credential store.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{}
}

func (s *CredentialStore) Read() (*models.CredentialRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Clone to avoid external modifications
	clone := s.record
	return &clone, nil
}

func (s *CredentialStore) Write(record *models.CredentialRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.record = *record
	s.writes++
	return nil
}

func (s *CredentialStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.record = models.CredentialRecord{}
	return nil
}

// Writes returns how many times Write has been called.
func (s *CredentialStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}
