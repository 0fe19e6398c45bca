// Package cache provides the TTL key/value cache used as a read-through layer
// in front of the record store.
//
// All operations are non-throwing: a cache that cannot serve a request simply
// reports a miss, so callers never branch on cache failures.
package cache

import (
	"strings"
	"sync"
	"time"
)

// Cache is the contract the services depend on.
type Cache interface {
	// Get returns the cached payload and whether it was present and fresh.
	Get(key string) ([]byte, bool)
	// Set stores a payload under key for the given TTL.
	Set(key string, value []byte, ttl time.Duration)
	// Delete removes a single key.
	Delete(key string)
	// DeleteByPrefix removes every key beginning with prefix.
	DeleteByPrefix(prefix string)
	// Close stops background maintenance.
	Close()
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is an in-process Cache. A background goroutine periodically removes
// expired entries; reads also treat expired entries as misses, so correctness
// does not depend on the sweeper's timing.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
	done    chan struct{}
	closed  bool
}

// Verify *Memory satisfies Cache at compile time.
var _ Cache = (*Memory)(nil)

// NewMemory creates a new in-memory cache.
func NewMemory() *Memory {
	c := &Memory{
		entries: make(map[string]entry),
		done:    make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Get returns the payload stored under key if it has not expired.
func (c *Memory) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

// Set stores value under key for the given TTL. Non-positive TTLs are ignored.
func (c *Memory) Set(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, expiresAt: time.Now().Add(ttl)}
}

// Delete removes a single key.
func (c *Memory) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// DeleteByPrefix removes every key beginning with prefix. This is the bulk
// invalidation path used after record mutations.
func (c *Memory) DeleteByPrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
}

// Len returns the number of live entries, counting expired but unswept ones.
func (c *Memory) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// sweep runs in a background goroutine, periodically removing expired entries.
func (c *Memory) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runSweep()
		case <-c.done:
			return
		}
	}
}

func (c *Memory) runSweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}

// Close stops the background sweeper. It is safe to call multiple times.
func (c *Memory) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
