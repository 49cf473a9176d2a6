package lwm2m

import "sync"

// MemoryStorage is an in-memory Storage implementation.
// Useful for testing and development. Data is lost when the process exits.
type MemoryStorage struct {
	mu     sync.RWMutex
	server *StoredServer
}

// NewMemoryStorage creates a new in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

// Load returns a copy of the stored server.
func (m *MemoryStorage) Load() (*StoredServer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.server.Clone(), nil
}

// Save stores a copy of s.
func (m *MemoryStorage) Save(s *StoredServer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.server = s.Clone()
	return nil
}

var _ Storage = (*MemoryStorage)(nil)
