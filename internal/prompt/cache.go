package prompt

import (
	"sync"

	"graphchat/internal/logging"
	"graphchat/internal/types"
)

// Bundle is a resolved set of prompts for one (agent, user) pair.
type Bundle map[types.PromptRole]string

// UserCache is a small LRU of resolved prompt bundles keyed by user id.
// It is owned by an orchestrator instance, not process-global, and is
// invalidated whenever prompt templates change on disk. Resolution is
// idempotent, so a duplicate concurrent first-time fill is harmless.
type UserCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]Bundle
	order    []string // least recently used first
}

// NewUserCache creates a cache with the given capacity (minimum 1).
func NewUserCache(capacity int) *UserCache {
	if capacity < 1 {
		capacity = 1
	}
	return &UserCache{
		capacity: capacity,
		entries:  make(map[string]Bundle, capacity),
	}
}

// Get returns the cached bundle for a user, if present.
func (c *UserCache) Get(userID string) (Bundle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bundle, ok := c.entries[userID]
	if ok {
		c.touch(userID)
	}
	return bundle, ok
}

// Put stores a bundle for a user, evicting the least recently used entry
// when over capacity.
func (c *UserCache) Put(userID string, bundle Bundle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[userID]; !exists && len(c.entries) >= c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
		logging.Get(logging.CategoryPrompts).Debug("Prompt cache evicted user=%s", oldest)
	}
	c.entries[userID] = bundle
	c.touch(userID)
}

// Invalidate drops one user's cached bundle.
func (c *UserCache) Invalidate(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, userID)
	c.remove(userID)
}

// InvalidateAll drops every cached bundle. Called when prompt templates
// change on disk.
func (c *UserCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.entries)
	c.entries = make(map[string]Bundle, c.capacity)
	c.order = c.order[:0]
	if n > 0 {
		logging.Prompts("Prompt cache invalidated: %d entries dropped", n)
	}
}

// Len returns the number of cached bundles.
func (c *UserCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// touch marks userID as most recently used. Callers hold c.mu.
func (c *UserCache) touch(userID string) {
	c.remove(userID)
	c.order = append(c.order, userID)
}

// remove deletes userID from the order list. Callers hold c.mu.
func (c *UserCache) remove(userID string) {
	for i, id := range c.order {
		if id == userID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
