package plan

import "sync/atomic"

// entry pairs a cached plan with its reference count (spec section 4.3: "the
// cached plan is returned with its reference count incremented").
type entry struct {
	plan *Plan
	refs int32
}

// Cache memoizes plans by (algorithm_id, collective-signature) (spec section
// 4.3). Cached plans are immutable; per-invocation state lives exclusively
// in the op. A Cache is owned by exactly one group and is not safe for
// concurrent use across groups, matching the single-threaded-per-group
// model of spec section 5.
type Cache struct {
	entries map[CacheKey]*entry
}

// NewCache constructs an empty cache. Callers typically register its Flush
// method with group.Group.OnClose so destroying the group drops the cache
// (spec section 4.3).
func NewCache() *Cache {
	return &Cache{entries: make(map[CacheKey]*entry)}
}

// Get returns the cached plan for key, incrementing its reference count, or
// (nil, false) on a miss.
func (c *Cache) Get(k CacheKey) (*Plan, bool) {
	e, ok := c.entries[k]
	if !ok {
		return nil, false
	}
	atomic.AddInt32(&e.refs, 1)
	return e.plan, true
}

// Put stores p under key with an initial reference count of 1. Calling Put
// for a key that already exists replaces the cached plan (used when a
// topology-affecting reconfiguration forces a rebuild after Flush).
func (c *Cache) Put(k CacheKey, p *Plan) {
	c.entries[k] = &entry{plan: p, refs: 1}
}

// Release decrements key's reference count. It does not evict at zero —
// eviction happens only via Flush, since a plan may be re-requested by a
// later invocation with the same signature.
func (c *Cache) Release(k CacheKey) {
	if e, ok := c.entries[k]; ok && e.refs > 0 {
		atomic.AddInt32(&e.refs, -1)
	}
}

// Len reports the number of distinct cached plans, for diagnostics.
func (c *Cache) Len() int {
	return len(c.entries)
}

// Flush drops every cached plan. Wired to group destruction (spec section
// 4.3: "destroying the group drops the cache") and to topology-affecting
// reconfigurations, which trigger a full flush rather than selective
// invalidation.
func (c *Cache) Flush() {
	c.entries = make(map[CacheKey]*entry)
}
