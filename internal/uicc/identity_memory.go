package uicc

import (
	"context"
	"fmt"
	"maps"
	"sync"
)

// MemoryIdentityStore keeps identities in memory only. IDs survive radio
// power cycles but not a process restart.
type MemoryIdentityStore struct {
	mu  sync.Mutex
	ids map[string]int
}

// NewMemoryIdentityStore creates an empty store.
func NewMemoryIdentityStore() *MemoryIdentityStore {
	return &MemoryIdentityStore{ids: make(map[string]int)}
}

// LoadAll returns a copy of every mapping.
func (s *MemoryIdentityStore) LoadAll(context.Context) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.ids), nil
}

// Insert stores identifier as cardID, rejecting duplicates on either side.
func (s *MemoryIdentityStore) Insert(_ context.Context, identifier string, cardID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[identifier]; ok {
		return fmt.Errorf("identifier already stored")
	}
	for _, id := range s.ids {
		if id == cardID {
			return fmt.Errorf("card id %d already assigned", cardID)
		}
	}
	s.ids[identifier] = cardID
	return nil
}
