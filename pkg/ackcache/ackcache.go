// Package ackcache remembers the acknowledgment published for each command
// id so that QoS1 redeliveries replay the original ack instead of
// reapplying the command.
package ackcache

import (
	"sync"
	"time"
)

type entry struct {
	topic   string
	payload []byte // nil while the command is still in flight
	exp     time.Time
}

type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	entries map[string]entry
}

func New(ttl time.Duration, max int) *Cache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if max <= 0 {
		max = 10000
	}
	return &Cache{ttl: ttl, max: max, entries: make(map[string]entry, max)}
}

// Begin marks a command id as in flight. It returns false if the id was
// already seen (pending or acknowledged), in which case the caller must not
// apply the command again.
func (c *Cache) Begin(id string) bool {
	if id == "" {
		return true
	}
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[id]; ok && now.Before(e.exp) {
		return false
	}
	c.entries[id] = entry{exp: now.Add(c.ttl)}
	c.evictLocked(now)
	return true
}

// Remember stores the acknowledgment published for id.
func (c *Cache) Remember(id, topic string, payload []byte) {
	if id == "" {
		return
	}
	c.mu.Lock()
	c.entries[id] = entry{topic: topic, payload: payload, exp: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

// Lookup returns the stored acknowledgment for id. ok is false when the id
// is unknown; a known id still in flight returns ok with a nil payload.
func (c *Cache) Lookup(id string) (topic string, payload []byte, ok bool) {
	if id == "" {
		return "", nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, found := c.entries[id]
	if !found || time.Now().After(e.exp) {
		return "", nil, false
	}
	return e.topic, e.payload, true
}

func (c *Cache) evictLocked(now time.Time) {
	if len(c.entries) <= c.max {
		return
	}
	for k, v := range c.entries {
		if now.After(v.exp) {
			delete(c.entries, k)
		}
		if len(c.entries) <= c.max {
			break
		}
	}
}
