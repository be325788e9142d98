package blame

import "sync"

// Cache memoizes blame lookups for one analysis run.
// Each key is written at most once; later writes are ignored.
type Cache struct {
	files map[Key]*File
	mu    sync.RWMutex
}

// NewCache returns an empty run cache.
func NewCache() *Cache {
	return &Cache{files: make(map[Key]*File)}
}

// Get returns the blame stored for (path, commit).
func (c *Cache) Get(path, commit string) (*File, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.files[Key{Path: path, Commit: commit}]
	return f, ok
}

// Put stores f under (path, commit). It reports false when the key was
// already populated, in which case the existing value is kept.
func (c *Cache) Put(path, commit string, f *File) bool {
	k := Key{Path: path, Commit: commit}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.files[k]; ok {
		return false
	}
	c.files[k] = f
	return true
}

// Keys returns the populated keys sorted by path then commit.
func (c *Cache) Keys() []Key {
	c.mu.RLock()
	keys := make([]Key, 0, len(c.files))
	for k := range c.files {
		keys = append(keys, k)
	}
	c.mu.RUnlock()

	sortKeys(keys)
	return keys
}

// Len returns the number of populated keys.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.files)
}
