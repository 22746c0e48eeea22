package followup

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("followup: session not found")

// Manager keeps the follow-up controllers in progress. Controllers idle for
// longer than the TTL are dropped by Sweep.
type Manager struct {
	deps Deps
	ttl  time.Duration

	mu    sync.RWMutex
	items map[uuid.UUID]*Controller
}

func NewManager(deps Deps, ttl time.Duration) *Manager {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Manager{deps: deps, ttl: ttl, items: make(map[uuid.UUID]*Controller)}
}

func (m *Manager) New() *Controller {
	c := NewController(m.deps)
	m.mu.Lock()
	m.items[c.ID] = c
	m.mu.Unlock()
	return c
}

func (m *Manager) Get(id uuid.UUID) (*Controller, error) {
	m.mu.RLock()
	c, ok := m.items[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

func (m *Manager) Remove(id uuid.UUID) {
	m.mu.Lock()
	delete(m.items, id)
	m.mu.Unlock()
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// Sweep removes controllers untouched for longer than the TTL and returns
// how many were removed. Controllers are inspected outside the manager lock.
func (m *Manager) Sweep() int {
	cutoff := m.deps.Now().Add(-m.ttl)

	m.mu.RLock()
	items := make(map[uuid.UUID]*Controller, len(m.items))
	for id, c := range m.items {
		items[id] = c
	}
	m.mu.RUnlock()

	var expired []uuid.UUID
	for id, c := range items {
		if c.UpdatedAt().Before(cutoff) {
			expired = append(expired, id)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, id := range expired {
		// only the controller that was inspected
		if m.items[id] == items[id] {
			delete(m.items, id)
			n++
		}
	}
	return n
}
