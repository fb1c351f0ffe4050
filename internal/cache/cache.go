// Package cache is the optional, best-effort collaborator named in spec.md
// §6: put(qname, raw) / get(qname) -> raw, with no TTL awareness. It is
// disabled by default (spec.md §1: "caching is an optional, disabled
// feature"). Grounded on the teacher's cache/cache.go, cut down from its
// full dns.Msg/answer-set model (which needed per-qtype freshness tracking
// for its multi-resolver racing) to the flat qname -> raw datagram mapping
// this proxy's transparent, single-upstream forwarding actually needs.
package cache

import "sync"

// Cache maps a question name to the last raw reply datagram seen for it.
// The zero value is a disabled cache; pass enabled=true to New to turn it
// on.
type Cache struct {
	mu      sync.RWMutex
	enabled bool
	entries map[string][]byte
}

// New returns a Cache; enabled controls whether Get/Put do anything.
func New(enabled bool) *Cache {
	c := &Cache{enabled: enabled}
	if enabled {
		c.entries = make(map[string][]byte)
	}
	return c
}

// Get returns the cached reply bytes for qname, or nil if disabled or
// absent. The caller must copy before mutating (e.g. to rewrite the ID),
// since the returned slice is shared.
func (c *Cache) Get(qname string) []byte {
	if !c.enabled {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[qname]
}

// Put stores raw as the cached reply for qname. A no-op when the cache is
// disabled.
func (c *Cache) Put(qname string, raw []byte) {
	if !c.enabled {
		return
	}
	cp := make([]byte, len(raw))
	copy(cp, raw)

	c.mu.Lock()
	c.entries[qname] = cp
	c.mu.Unlock()
}

// Enabled reports whether the cache is active.
func (c *Cache) Enabled() bool {
	return c.enabled
}
