package entity

import (
	"context"
	"sync"
)

// Memory is an in-process Store for tests and local runs.
type Memory struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]Entity
}

func NewMemory() *Memory {
	return &Memory{nextID: 1, byID: map[int64]Entity{}}
}

// Put inserts e with its own id (fixtures).
func (m *Memory) Put(e Entity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[e.ID] = e
	if e.ID >= m.nextID {
		m.nextID = e.ID + 1
	}
}

func (m *Memory) Get(_ context.Context, id int64) (Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[id]
	if !ok {
		return Entity{}, ErrNotFound
	}
	return e, nil
}

func (m *Memory) FindByCustomClaimID(_ context.Context, cid string) (Entity, error) {
	return m.find(func(e Entity) bool { return cid != "" && e.CustomClaimID == cid })
}

func (m *Memory) FindByRepositoryNodeID(_ context.Context, nodeID string) (Entity, error) {
	return m.find(func(e Entity) bool { return nodeID != "" && e.RepositoryNodeID == nodeID })
}

func (m *Memory) find(match func(Entity) bool) (Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		best  Entity
		found bool
	)
	for _, e := range m.byID {
		if match(e) && (!found || e.ID < best.ID) {
			best, found = e, true
		}
	}
	if !found {
		return Entity{}, ErrNotFound
	}
	return best, nil
}

func (m *Memory) Create(_ context.Context, n New) (Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.byID {
		if (n.CustomClaimID != "" && e.CustomClaimID == n.CustomClaimID) ||
			(n.RepositoryNodeID != "" && e.RepositoryNodeID == n.RepositoryNodeID) {
			return Entity{}, ErrConflict
		}
	}
	e := Entity{
		ID:                m.nextID,
		ResourceLinkID:    n.ResourceLinkID,
		CustomClaimID:     n.CustomClaimID,
		RepositoryNodeID:  n.RepositoryNodeID,
		Content:           n.Content,
		IDTokenOnCreation: n.IDTokenOnCreation,
	}
	m.nextID++
	m.byID[e.ID] = e
	return e, nil
}

func (m *Memory) SetResourceLinkID(_ context.Context, id int64, rl string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[id]
	if !ok {
		return false, ErrNotFound
	}
	if e.ResourceLinkID != "" {
		return false, nil
	}
	e.ResourceLinkID = rl
	m.byID[id] = e
	return true, nil
}

func (m *Memory) SaveContent(_ context.Context, id int64, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	e.Content = content
	m.byID[id] = e
	return nil
}
