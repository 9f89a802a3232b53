package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

const seenBucket = "seen_urls"

// DedupCache answers "have we ingested this URL before" ahead of the
// relational store, so repeat probes against the same feed stay cheap.
type DedupCache interface {
	Seen(url string) (bool, error)
	Mark(url string) error
}

// BoltDedupCache is a bbolt-backed DedupCache.
type BoltDedupCache struct {
	db *bolt.DB
}

// OpenBoltDedupCache opens (or creates) the cache file and its bucket.
func OpenBoltDedupCache(path string) (*BoltDedupCache, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create dedup cache directory: %w", err)
		}
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open dedup cache: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(seenBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init dedup bucket: %w", err)
	}
	return &BoltDedupCache{db: db}, nil
}

// Seen implements DedupCache.
func (c *BoltDedupCache) Seen(url string) (bool, error) {
	var seen bool
	err := c.db.View(func(tx *bolt.Tx) error {
		seen = tx.Bucket([]byte(seenBucket)).Get([]byte(url)) != nil
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("read dedup cache: %w", err)
	}
	return seen, nil
}

// Mark implements DedupCache.
func (c *BoltDedupCache) Mark(url string) error {
	err := c.db.Update(func(tx *bolt.Tx) error {
		ts := []byte(time.Now().UTC().Format(time.RFC3339))
		return tx.Bucket([]byte(seenBucket)).Put([]byte(url), ts)
	})
	if err != nil {
		return fmt.Errorf("write dedup cache: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (c *BoltDedupCache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// MemoryDedupCache is a map-backed DedupCache for tests.
type MemoryDedupCache struct {
	mu   sync.Mutex
	seen map[string]bool
}

// NewMemoryDedupCache returns an empty cache.
func NewMemoryDedupCache() *MemoryDedupCache {
	return &MemoryDedupCache{seen: make(map[string]bool)}
}

// Seen implements DedupCache.
func (c *MemoryDedupCache) Seen(url string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seen[url], nil
}

// Mark implements DedupCache.
func (c *MemoryDedupCache) Mark(url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen[url] = true
	return nil
}
