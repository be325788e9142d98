package testutil

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/marvin/pkg/cache"
)

// MockCache implements cache.Store for testing. Values are kept as JSON.
type MockCache struct {
	entries map[string][]byte
	loads   int
	stores  int
	mu      sync.Mutex
}

// NewMockCache creates a new MockCache.
func NewMockCache() *MockCache {
	return &MockCache{entries: make(map[string][]byte)}
}

// Load decodes the value under key into v.
func (m *MockCache) Load(key string, v any) cache.HitType {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.loads++
	raw, ok := m.entries[key]
	if !ok {
		return cache.Miss
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return cache.Miss
	}
	return cache.HitMemory
}

// Store encodes v under key. The TTL is ignored.
func (m *MockCache) Store(key string, v any, _ time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.stores++
	m.entries[key] = raw
	return nil
}

// Counts returns the number of Load and Store calls.
func (m *MockCache) Counts() (loads, stores int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loads, m.stores
}

var _ cache.Store = (*MockCache)(nil)
