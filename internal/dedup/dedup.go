// Package dedup suppresses re-delivery of records the pipeline has
// already handed to the uploader.
//
// Two caches with different policies are required because the sources
// churn differently: the notification feed re-delivers the same logical
// envelope under a changing render generation within seconds, while the
// UI-snapshot source re-renders the same on-screen content at high volume
// over longer spans. A key present in either cache guarantees the record
// was handed to the uploader at least once (the content cache is stronger
// still: its keys are recorded only after a confirmed commit); absence
// guarantees nothing (eviction is allowed), which the uploader's
// merge-by-id makes safe.
package dedup

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Deduper bundles the two cache policies behind one constructor.
type Deduper struct {
	Window  *WindowCache
	Content *ContentCache
}

// New builds a Deduper with the configured window and LRU capacity.
func New(window time.Duration, contentSize int) (*Deduper, error) {
	content, err := NewContentCache(contentSize)
	if err != nil {
		return nil, err
	}
	return &Deduper{
		Window:  NewWindowCache(window),
		Content: content,
	}, nil
}

// WindowCache suppresses duplicate keys within a fixed time window.
// Entries expire by age; they are purged lazily on each check.
type WindowCache struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time
	now    func() time.Time
}

// NewWindowCache creates a time-windowed cache.
func NewWindowCache(window time.Duration) *WindowCache {
	return &WindowCache{
		window: window,
		seen:   make(map[string]time.Time),
		now:    time.Now,
	}
}

// ShouldEmit reports whether a key is new within the window, recording it
// when true. The check-and-insert is atomic: two contexts racing on the
// same key cannot both observe "not seen".
func (c *WindowCache) ShouldEmit(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	cutoff := now.Add(-c.window)
	for k, seen := range c.seen {
		if seen.Before(cutoff) {
			delete(c.seen, k)
		}
	}

	if seen, ok := c.seen[key]; ok && !seen.Before(cutoff) {
		return false
	}
	c.seen[key] = now
	return true
}

// Len returns the number of live entries (after a lazy purge).
func (c *WindowCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := c.now().Add(-c.window)
	n := 0
	for _, seen := range c.seen {
		if !seen.Before(cutoff) {
			n++
		}
	}
	return n
}

// ContentCache suppresses duplicate content keys with a bounded LRU.
// Entries are retained until evicted by capacity, never by age.
type ContentCache struct {
	mu    sync.Mutex
	cache *lru.Cache[string, time.Time]
}

// NewContentCache creates a content LRU of the given capacity.
func NewContentCache(size int) (*ContentCache, error) {
	cache, err := lru.New[string, time.Time](size)
	if err != nil {
		return nil, err
	}
	return &ContentCache{cache: cache}, nil
}

// Contains reports whether a content key is recorded. A hit refreshes
// the entry's recency so hot content stays cached.
func (c *ContentCache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.cache.Get(key)
	return ok
}

// Add records a content key. Callers add keys only after the remote
// confirmed the record, so a cached key always means "delivered": a
// cycle that fails mid-upload must leave the cache untouched for the
// retry to re-attempt delivery.
func (c *ContentCache) Add(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Add(key, time.Now())
}

// Len returns the current entry count.
func (c *ContentCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Len()
}
