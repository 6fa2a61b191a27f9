package redo

import (
	"sync"
	"time"

	"github.com/chainvault/chainvault/internal/eventmodel"
)

// readCache is a bounded, optionally-TTL'd cache of recently
// read-or-written log entries, shaped after this stack's
// internal/p2p.LRUCache: a map plus an insertion-order slice (the
// oldest insert is evicted first; get does not refresh an entry's
// position), with a background goroutine sweeping expired entries
// when a TTL is set.
type readCache struct {
	maxSize int
	ttl     time.Duration

	mu      sync.Mutex
	entries map[eventmodel.Hash]cacheItem
	order   []eventmodel.Hash

	cleanup *time.Ticker
	done    chan struct{}
}

type cacheItem struct {
	entry     LogEntry
	expiresAt time.Time
}

func newReadCache(maxSize int, ttl time.Duration) *readCache {
	c := &readCache{
		maxSize: maxSize,
		ttl:     ttl,
		entries: make(map[eventmodel.Hash]cacheItem),
		done:    make(chan struct{}),
	}
	if ttl > 0 {
		c.cleanup = time.NewTicker(ttl / 2)
		go c.cleanupLoop()
	}
	return c
}

func (c *readCache) cleanupLoop() {
	for {
		select {
		case <-c.cleanup.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

func (c *readCache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	kept := c.order[:0]
	for _, h := range c.order {
		item, ok := c.entries[h]
		if !ok {
			continue
		}
		if c.ttl > 0 && now.After(item.expiresAt) {
			delete(c.entries, h)
			continue
		}
		kept = append(kept, h)
	}
	c.order = kept
}

func (c *readCache) get(hash eventmodel.Hash) (LogEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.entries[hash]
	if !ok {
		return LogEntry{}, false
	}
	if c.ttl > 0 && time.Now().After(item.expiresAt) {
		delete(c.entries, hash)
		return LogEntry{}, false
	}
	return item.entry, true
}

func (c *readCache) put(hash eventmodel.Hash, entry LogEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[hash]; !exists {
		c.order = append(c.order, hash)
		if c.maxSize > 0 && len(c.order) > c.maxSize {
			evict := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, evict)
		}
	}
	expires := time.Time{}
	if c.ttl > 0 {
		expires = time.Now().Add(c.ttl)
	}
	c.entries[hash] = cacheItem{entry: entry, expiresAt: expires}
}

func (c *readCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[eventmodel.Hash]cacheItem)
	c.order = nil
}

func (c *readCache) close() {
	if c.cleanup != nil {
		c.cleanup.Stop()
	}
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}
