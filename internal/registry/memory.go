package registry

import "sync"

// MemoryStore is an in-process Store. Snapshots are deep enough that callers
// mutating a loaded mapping never touch the stored one.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions Sessions
}

func NewMemoryStore(initial Sessions) *MemoryStore {
	return &MemoryStore{sessions: clone(initial)}
}

func (m *MemoryStore) Load() (Sessions, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return clone(m.sessions), nil
}

func (m *MemoryStore) Save(s Sessions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = clone(s)
	return nil
}

func (m *MemoryStore) Update(fn func(Sessions) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	working := clone(m.sessions)
	if err := fn(working); err != nil {
		return err
	}
	m.sessions = working
	return nil
}

func clone(s Sessions) Sessions {
	out := make(Sessions, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
