// ABOUTME: Thread-safe TTL cache mapping raw credentials to verified identities.
// ABOUTME: Used by StaticVerifier so repeated tokens skip the bcrypt comparison.

package auth

import (
	"container/list"
	"sync"
	"time"
)

// maxCachedIdentities bounds the static verifier's credential cache.
const maxCachedIdentities = 10_000

// identityEntry stores the identity, timestamp, and list element for a cached credential.
type identityEntry struct {
	identity  *Identity
	timestamp time.Time
	element   *list.Element
}

// identityCache provides a thread-safe, TTL-based, size-limited cache of
// verified identities keyed by the raw credential. Uses a doubly-linked list
// to maintain insertion order for O(1) eviction.
type identityCache struct {
	mu      sync.RWMutex
	seen    map[string]*identityEntry
	order   *list.List // List of credentials in insertion order (oldest at front)
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// newIdentityCache creates a cache with the specified TTL and maximum size.
// A background goroutine periodically cleans up expired entries.
func newIdentityCache(ttl time.Duration, maxSize int) *identityCache {
	c := &identityCache{
		seen:    make(map[string]*identityEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// get returns the cached identity for a credential if present and unexpired.
func (c *identityCache) get(credential string) (*Identity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.seen[credential]
	if !ok {
		return nil, false
	}
	if time.Since(entry.timestamp) >= c.ttl {
		return nil, false
	}
	return entry.identity, true
}

// put records a verified identity. If the cache is at capacity, the oldest
// entry is evicted to make room.
func (c *identityCache) put(credential string, id *Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	now := time.Now()

	// If credential already exists, update in place and move to back
	if entry, exists := c.seen[credential]; exists {
		entry.identity = id
		entry.timestamp = now
		c.order.MoveToBack(entry.element)
		return
	}

	// Evict oldest if at capacity
	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(credential)
	c.seen[credential] = &identityEntry{
		identity:  id,
		timestamp: now,
		element:   elem,
	}
}

// evictOldest removes the oldest entry from the cache.
// Must be called with mu held. O(1) operation using linked list.
func (c *identityCache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	credential, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, credential)
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (c *identityCache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

// runCleanup removes all expired entries from the cache.
func (c *identityCache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for credential, entry := range c.seen {
		if now.Sub(entry.timestamp) > c.ttl {
			c.order.Remove(entry.element)
			delete(c.seen, credential)
		}
	}
}

// close stops the background cleanup goroutine. It is safe to call multiple times.
func (c *identityCache) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
