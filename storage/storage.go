// Package storage persists the credentials a client holds. The client only
// needs a flat string key-value namespace, so any backend that can do get, set
// and delete of strings can be used.
package storage

import (
	"context"
	"sync"
)

// KeyValueStore is the persistence the client writes its tokens through.
// Implementations must be safe for concurrent use.
type KeyValueStore interface {
	// Get returns the value stored under key. If the key is not set, found is
	// false and err is nil.
	Get(ctx context.Context, key string) (value string, found bool, err error)
	// Set stores value under key, replacing any existing value.
	Set(ctx context.Context, key, value string) error
	// Delete removes key. Removing a key that is not set is not an error.
	Delete(ctx context.Context, key string) error
}

var _ KeyValueStore = (*Memory)(nil)

// Memory is a process-local store. Its contents are lost when the process
// exits.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = make(map[string]string)
	}
	m.values[key] = value
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// Keys returns the keys currently set, in no particular order.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ks := make([]string, 0, len(m.values))
	for k := range m.values {
		ks = append(ks, k)
	}
	return ks
}
