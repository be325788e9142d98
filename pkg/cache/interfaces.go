package cache

import "time"

// Store defines the operations callers need from a persistent cache.
type Store interface {
	Load(key string, v any) HitType
	Store(key string, v any, ttl time.Duration) error
}

var _ Store = (*DiskCache)(nil)
