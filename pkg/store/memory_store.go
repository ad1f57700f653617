package store

import (
	"sort"
	"sync"

	"craftai/pkg/domain"
)

// MemoryStore keeps creations in-process. Used in tests and local runs.
type MemoryStore struct {
	mu        sync.RWMutex
	creations map[string]domain.Creation
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creations: make(map[string]domain.Creation)}
}

// SaveCreation stores or replaces a creation record.
func (m *MemoryStore) SaveCreation(c domain.Creation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creations[c.ID] = c
	return nil
}

// GetCreation retrieves a creation by ID.
func (m *MemoryStore) GetCreation(id string) (domain.Creation, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.creations[id]
	return c, ok, nil
}

// ListByOwner returns the owner's creations, newest first.
func (m *MemoryStore) ListByOwner(ownerID string) ([]domain.Creation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Creation, 0, len(m.creations))
	for _, c := range m.creations {
		if c.OwnerID == ownerID {
			res = append(res, c)
		}
	}
	sortNewestFirst(res)
	return res, nil
}

// ListPublished returns published creations, newest first.
func (m *MemoryStore) ListPublished() ([]domain.Creation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Creation, 0, len(m.creations))
	for _, c := range m.creations {
		if c.Published {
			res = append(res, c)
		}
	}
	sortNewestFirst(res)
	return res, nil
}

// ToggleLike flips set membership for userID. The write lock serializes
// concurrent toggles on the same creation.
func (m *MemoryStore) ToggleLike(id, userID string) (bool, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creations[id]
	if !ok {
		return false, false, nil
	}
	likers, liked := toggleMembership(c.Likers, userID)
	c.Likers = likers
	m.creations[id] = c
	return liked, true, nil
}

// SetPublished flips the published flag.
func (m *MemoryStore) SetPublished(id string, published bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creations[id]
	if !ok {
		return false, nil
	}
	c.Published = published
	m.creations[id] = c
	return true, nil
}

func sortNewestFirst(creations []domain.Creation) {
	sort.SliceStable(creations, func(i, j int) bool {
		return creations[i].CreatedAt.After(creations[j].CreatedAt)
	})
}
