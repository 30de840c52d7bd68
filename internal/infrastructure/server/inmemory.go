package server

import (
	"sync"

	"github.com/lucas-1000/mcp-glucose/internal/domain"
)

// InMemoryCredentialStore implements domain.CredentialStore on a sync.Map, so
// operations on distinct sessions never contend on a shared lock.
type InMemoryCredentialStore struct {
	credentials sync.Map
}

// NewInMemoryCredentialStore creates a new InMemoryCredentialStore.
func NewInMemoryCredentialStore() *InMemoryCredentialStore {
	return &InMemoryCredentialStore{}
}

// Put stores or replaces the credential for a session.
func (s *InMemoryCredentialStore) Put(sessionID string, credential domain.Credential) {
	s.credentials.Store(sessionID, credential)
}

// Get returns the credential for a session.
func (s *InMemoryCredentialStore) Get(sessionID string) (domain.Credential, bool) {
	v, ok := s.credentials.Load(sessionID)
	if !ok {
		return domain.Credential{}, false
	}
	return v.(domain.Credential), true
}

// Remove deletes the credential for a session.
func (s *InMemoryCredentialStore) Remove(sessionID string) {
	s.credentials.Delete(sessionID)
}

// Count returns the number of stored credentials.
func (s *InMemoryCredentialStore) Count() int {
	n := 0
	s.credentials.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}
