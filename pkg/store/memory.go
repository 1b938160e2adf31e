package store

import (
	"sync"

	"github.com/backkem/blemesh/pkg/message"
)

// MemoryStore is an in-memory Store. State is lost when the process exits.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[message.Address]NetworkState
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[message.Address]NetworkState)}
}

// LoadNetworkState returns the state stored for node.
func (m *MemoryStore) LoadNetworkState(node message.Address) (NetworkState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.states[node]
	if !ok {
		return NetworkState{}, ErrNotFound
	}
	return s, nil
}

// SaveNetworkState stores or replaces the state of node.
func (m *MemoryStore) SaveNetworkState(node message.Address, state NetworkState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.states[node] = state
	return nil
}

// DeleteNetworkState removes the state of node.
func (m *MemoryStore) DeleteNetworkState(node message.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.states, node)
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
