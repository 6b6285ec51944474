// Package cache implements the List Cache that fronts tools/resources/
// prompts listings for the bridge: one TTL'd entry per kind, invalidated
// wholesale by server notifications, with lazy eviction on access. Reads
// and writes come from two different goroutines — one per IPC connection
// calling Get/Put, and the mcpclient dispatch loop calling Invalidate on
// notification — so the entry map is guarded by a mutex
// rather than relying on a single owning goroutine.
package cache

import (
	"sync"
	"time"
)

// Kind identifies which listing an entry caches.
type Kind string

const (
	KindTools             Kind = "tools"
	KindResources         Kind = "resources"
	KindResourceTemplates Kind = "resourceTemplates"
	KindPrompts           Kind = "prompts"
)

// DefaultTTL is the age after which an entry is treated as a miss.
const DefaultTTL = 5 * time.Minute

type entry struct {
	payload    any
	insertedAt time.Time
}

// Cache holds at most one entry per Kind.
type Cache struct {
	ttl     time.Duration
	mu      sync.Mutex
	entries map[Kind]entry
}

// New constructs an empty Cache with the given TTL (DefaultTTL if zero).
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{ttl: ttl, entries: map[Kind]entry{}}
}

// Get returns the cached payload for kind and true, or nil/false on a miss
// — either nothing was ever stored, or the entry aged past the TTL.
// Eviction of an expired entry happens here, on access, rather than on a
// background timer.
func (c *Cache) Get(kind Kind) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[kind]
	if !ok {
		return nil, false
	}
	if time.Since(e.insertedAt) > c.ttl {
		delete(c.entries, kind)
		return nil, false
	}
	return e.payload, true
}

// Put stores payload for kind, stamping the current time as insertedAt.
// The bridge stores the first page of a successful listing; later pages
// reached through a cursor are not cached.
func (c *Cache) Put(kind Kind, payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[kind] = entry{payload: payload, insertedAt: time.Now()}
}

// Invalidate drops the cached entry for kind, if present. Called when a
// */list_changed notification arrives for that kind.
func (c *Cache) Invalidate(kind Kind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, kind)
}

// InvalidateAll drops every cached entry at once. The bridge's
// notification handler invalidates per kind and does not call it.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[Kind]entry{}
}
