package cache

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/xxh3"
)

const (
	// cacheRetentionPeriod is how long cache files are kept before cleanup.
	cacheRetentionPeriod = 30 * 24 * time.Hour // 30 days
	// cacheDirPerms is the permission for cache directories.
	cacheDirPerms = 0o700
	// cacheFilePerms is the permission for cache files.
	cacheFilePerms = 0o600
	// cacheFileExt is the suffix of every cache file.
	cacheFileExt = ".json.lz4"
)

// Recommended TTLs for different data types.
const (
	// TTLBlame is for blame of a pinned commit, which never changes.
	TTLBlame = 28 * 24 * time.Hour // 28 days

	// TTLMovingRef is for blame of a branch name or HEAD.
	TTLMovingRef = 10 * time.Minute
)

// Frame modes. A frame is one mode byte, the uncompressed length, then the body.
const (
	frameRaw byte = 0
	frameLZ4 byte = 1
)

const frameHeader = 1 + 4

// diskEntry represents a cache entry on disk with TTL.
type diskEntry struct {
	Value      json.RawMessage `json:"value"`
	Expiration time.Time       `json:"expiration"`
	CachedAt   time.Time       `json:"cached_at"`
}

// DiskCache provides two-tier caching: in-memory + disk persistence.
// Values are stored as JSON; disk files are LZ4 block-compressed.
type DiskCache struct {
	mem      *Cache[[]byte]
	logger   *slog.Logger
	done     chan struct{}
	cacheDir string
	once     sync.Once
	enabled  bool
}

// NewDiskCache creates a new cache with disk persistence.
// If cacheDir is empty, falls back to memory-only cache.
func NewDiskCache(logger *slog.Logger, ttl time.Duration, cacheDir string) (*DiskCache, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dc := &DiskCache{
		mem:      New[[]byte](ttl),
		logger:   logger.With("component", "cache"),
		done:     make(chan struct{}),
		cacheDir: cacheDir,
		enabled:  cacheDir != "",
	}

	if dc.enabled {
		cleanPath := filepath.Clean(cacheDir)
		if !filepath.IsAbs(cleanPath) {
			dc.mem.Close()
			return nil, errors.New("cache directory must be absolute path")
		}

		if err := os.MkdirAll(cleanPath, cacheDirPerms); err != nil {
			dc.logger.Warn("Failed to create cache directory, falling back to memory-only", "error", err, "path", cleanPath)
			dc.enabled = false
		} else {
			dc.cacheDir = cleanPath
			go dc.cleanOldCaches()
		}
	}

	return dc, nil
}

// HitType indicates where a cache value was found.
type HitType string

// Lookup outcomes.
const (
	HitMemory HitType = "memory"
	HitDisk   HitType = "disk"
	Miss      HitType = "miss"
)

// Load decodes the value stored under key into v and reports where it was found.
func (c *DiskCache) Load(key string, v any) HitType {
	if raw, found := c.mem.Get(key); found {
		if err := json.Unmarshal(raw, v); err == nil {
			return HitMemory
		}
		c.mem.Delete(key)
	}

	if !c.enabled {
		return Miss
	}

	var entry diskEntry
	if !c.loadFromDisk(key, &entry) {
		return Miss
	}

	if time.Now().After(entry.Expiration) {
		c.logger.Debug("Disk cache entry expired", "key", key, "expired_at", entry.Expiration)
		c.removeFromDisk(key)
		return Miss
	}

	if err := json.Unmarshal(entry.Value, v); err != nil {
		c.logger.Warn("Failed to unmarshal disk cache entry", "key", key, "error", err)
		c.removeFromDisk(key)
		return Miss
	}

	c.logger.Debug("Disk cache hit", "key", key, "cached_at", entry.CachedAt, "ttl_remaining", time.Until(entry.Expiration))

	if ttl := time.Until(entry.Expiration); ttl > 0 {
		c.mem.SetWithTTL(key, entry.Value, ttl)
	}
	return HitDisk
}

// Store saves v under key in memory and, when enabled, on disk.
func (c *DiskCache) Store(key string, v any, ttl time.Duration) error {
	valueJSON, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling cache value: %w", err)
	}

	c.mem.SetWithTTL(key, valueJSON, ttl)

	if !c.enabled {
		return nil
	}

	now := time.Now()
	entry := diskEntry{
		Value:      valueJSON,
		Expiration: now.Add(ttl),
		CachedAt:   now,
	}
	if err := c.saveToDisk(key, entry); err != nil {
		c.logger.Debug("Failed to save to disk cache", "key", key, "error", err)
		return err
	}
	c.logger.Debug("Disk cache write successful", "key", key, "file", c.path(key))
	return nil
}

// Close stops the background cleanup goroutines.
func (c *DiskCache) Close() {
	c.mem.Close()
	c.once.Do(func() { close(c.done) })
}

// cacheKey hashes the key with XXH3 for the filename.
func cacheKey(key string) string {
	return strconv.FormatUint(xxh3.HashString(key), 16)
}

func (c *DiskCache) path(key string) string {
	return filepath.Join(c.cacheDir, cacheKey(key)+cacheFileExt)
}

// loadFromDisk loads and decodes a cache entry from disk.
func (c *DiskCache) loadFromDisk(key string, v any) bool {
	path := c.path(key)

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Debug("Failed to read disk cache file", "error", err, "path", path)
		}
		return false
	}

	plain, err := decodeFrame(data)
	if err != nil {
		c.logger.Debug("Failed to decompress disk cache file", "error", err, "path", path)
		return false
	}

	if err := json.Unmarshal(plain, v); err != nil {
		c.logger.Debug("Failed to decode disk cache file", "error", err, "path", path)
		return false
	}
	return true
}

// saveToDisk saves a cache entry to disk atomically.
func (c *DiskCache) saveToDisk(key string, v any) error {
	plain, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding cache data: %w", err)
	}

	path := c.path(key)
	tmpPath := path + ".tmp"

	if err := os.WriteFile(tmpPath, encodeFrame(plain), cacheFilePerms); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("writing cache file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("renaming cache file: %w", err)
	}
	return nil
}

// removeFromDisk removes a cache entry from disk.
func (c *DiskCache) removeFromDisk(key string) {
	path := c.path(key)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		c.logger.Debug("Failed to remove disk cache file", "error", err, "path", path)
	}
}

// encodeFrame compresses plain with LZ4, storing it raw when it does not shrink.
func encodeFrame(plain []byte) []byte {
	compressed := make([]byte, frameHeader+lz4.CompressBlockBound(len(plain)))
	binary.LittleEndian.PutUint32(compressed[1:frameHeader], uint32(len(plain)))

	written, err := lz4.CompressBlock(plain, compressed[frameHeader:], nil)
	if err != nil || written == 0 || written >= len(plain) {
		out := make([]byte, frameHeader+len(plain))
		out[0] = frameRaw
		binary.LittleEndian.PutUint32(out[1:frameHeader], uint32(len(plain)))
		copy(out[frameHeader:], plain)
		return out
	}

	compressed[0] = frameLZ4
	return compressed[:frameHeader+written]
}

func decodeFrame(data []byte) ([]byte, error) {
	if len(data) < frameHeader {
		return nil, errors.New("cache frame too short")
	}
	size := int(binary.LittleEndian.Uint32(data[1:frameHeader]))
	body := data[frameHeader:]

	switch data[0] {
	case frameRaw:
		if len(body) != size {
			return nil, fmt.Errorf("raw cache frame has %d bytes, expected %d", len(body), size)
		}
		return body, nil
	case frameLZ4:
		plain := make([]byte, size)
		n, err := lz4.UncompressBlock(body, plain)
		if err != nil {
			return nil, fmt.Errorf("lz4: %w", err)
		}
		if n != size {
			return nil, fmt.Errorf("lz4 cache frame decoded to %d bytes, expected %d", n, size)
		}
		return plain, nil
	default:
		return nil, fmt.Errorf("unknown cache frame mode %d", data[0])
	}
}

// cleanOldCaches periodically removes stale cache files.
func (c *DiskCache) cleanOldCaches() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.removeStale(time.Now().Add(-cacheRetentionPeriod))
		}
	}
}

func (c *DiskCache) removeStale(cutoff time.Time) int {
	entries, err := os.ReadDir(c.cacheDir)
	if err != nil {
		c.logger.Error("Failed to read cache directory", "error", err)
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), cacheFileExt) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		if info.ModTime().Before(cutoff) {
			path := filepath.Join(c.cacheDir, entry.Name())
			if err := os.Remove(path); err != nil {
				c.logger.Debug("Failed to remove old cache file", "path", path, "error", err)
			} else {
				removed++
			}
		}
	}

	if removed > 0 {
		c.logger.Info("Cleaned old cache files", "removed", removed)
	}
	return removed
}
