// Package cache holds the most recent traded price per instrument.
package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 16

// LastPrices is a sharded map of instrument code to last traded price.
type LastPrices struct {
	shards [numShards]*shard
	now    func() time.Time
}

type shard struct {
	mu    sync.RWMutex
	items map[string]Quote
}

// Quote is a cached price and the time of the tick that carried it.
type Quote struct {
	Price int64     `json:"price"`
	At    time.Time `json:"at"`
}

// NewLastPrices creates an empty cache.
func NewLastPrices() *LastPrices {
	c := &LastPrices{now: time.Now}
	for i := range c.shards {
		c.shards[i] = &shard{items: make(map[string]Quote)}
	}
	return c
}

func (c *LastPrices) shardFor(code string) *shard {
	h := fnv.New32a()
	h.Write([]byte(code))
	return c.shards[h.Sum32()%numShards]
}

// Set stores price for code. Older ticks never overwrite newer ones.
func (c *LastPrices) Set(code string, price int64, at time.Time) {
	if at.IsZero() {
		at = c.now()
	}
	s := c.shardFor(code)
	s.mu.Lock()
	if cur, ok := s.items[code]; !ok || !at.Before(cur.At) {
		s.items[code] = Quote{Price: price, At: at}
	}
	s.mu.Unlock()
}

// Get returns the cached quote for code.
func (c *LastPrices) Get(code string) (Quote, bool) {
	s := c.shardFor(code)
	s.mu.RLock()
	q, ok := s.items[code]
	s.mu.RUnlock()
	return q, ok
}

// Fresh returns the price when it is younger than maxAge. maxAge <= 0
// accepts any age.
func (c *LastPrices) Fresh(code string, maxAge time.Duration) (int64, bool) {
	q, ok := c.Get(code)
	if !ok {
		return 0, false
	}
	if maxAge > 0 && c.now().Sub(q.At) > maxAge {
		return 0, false
	}
	return q.Price, true
}

// Retain drops every code not in keep and returns how many were removed.
func (c *LastPrices) Retain(keep []string) int {
	valid := make(map[string]bool, len(keep))
	for _, k := range keep {
		valid[k] = true
	}
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for code := range s.items {
			if !valid[code] {
				delete(s.items, code)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len returns the number of cached instruments.
func (c *LastPrices) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.RLock()
		total += len(s.items)
		s.mu.RUnlock()
	}
	return total
}

// Snapshot copies every cached quote.
func (c *LastPrices) Snapshot() map[string]Quote {
	out := make(map[string]Quote)
	for _, s := range c.shards {
		s.mu.RLock()
		for code, q := range s.items {
			out[code] = q
		}
		s.mu.RUnlock()
	}
	return out
}
