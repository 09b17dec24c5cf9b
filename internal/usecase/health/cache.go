package health

import (
	"sync"
	"time"

	"modelgate/internal/domain"
)

// Cache is a concurrency-safe keyed store of health records with explicit
// TTL freshness and eviction. The request path and the background sweep
// share one instance.
type Cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	records map[string]domain.HealthRecord
}

// NewCache creates a cache whose records are fresh for ttl. now may be nil.
func NewCache(ttl time.Duration, now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{
		ttl:     ttl,
		now:     now,
		records: make(map[string]domain.HealthRecord),
	}
}

// Get returns the record for id regardless of age.
func (c *Cache) Get(id string) (domain.HealthRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[id]
	return rec, ok
}

// Fresh returns the record for id only if it is younger than the TTL.
func (c *Cache) Fresh(id string) (domain.HealthRecord, bool) {
	c.mu.RLock()
	rec, ok := c.records[id]
	c.mu.RUnlock()
	if !ok || c.now().Sub(rec.CheckedAt) >= c.ttl {
		return domain.HealthRecord{}, false
	}
	return rec, true
}

// Set overwrites the record for id.
func (c *Cache) Set(id string, rec domain.HealthRecord) {
	c.mu.Lock()
	c.records[id] = rec
	c.mu.Unlock()
}

// EvictExpired removes records older than maxAge and returns how many went.
func (c *Cache) EvictExpired(maxAge time.Duration) int {
	cutoff := c.now().Add(-maxAge)
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for id, rec := range c.records {
		if rec.CheckedAt.Before(cutoff) {
			delete(c.records, id)
			n++
		}
	}
	return n
}

// Retain drops every record whose id keep rejects.
func (c *Cache) Retain(keep func(id string) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for id := range c.records {
		if !keep(id) {
			delete(c.records, id)
			n++
		}
	}
	return n
}

// Len returns the number of records held.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}
