package services

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// SessionCache maps a credential digest to the last submission count seen
// for it. Entries are hints: any of them may vanish at any time and the
// store is always consulted for decisions. Counts only grow, so Set never
// lowers a cached value.
type SessionCache interface {
	Get(digest string) (int, bool)
	Set(digest string, count int)
	Evict(digest string)
}

type LRUSessionCache struct {
	mu  sync.Mutex
	lru *expirable.LRU[string, int]
}

func NewLRUSessionCache(size int, ttl time.Duration) *LRUSessionCache {
	if size <= 0 {
		size = 4096
	}
	return &LRUSessionCache{lru: expirable.NewLRU[string, int](size, nil, ttl)}
}

func (c *LRUSessionCache) Get(digest string) (int, bool) { return c.lru.Get(digest) }

// Set records count unless a larger one is already cached. A read that
// counted rows before a concurrent submission committed must not replace
// the count that submission stored.
func (c *LRUSessionCache) Set(digest string, count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.lru.Peek(digest); ok && old > count {
		return
	}
	c.lru.Add(digest, count)
}

func (c *LRUSessionCache) Evict(digest string) { c.lru.Remove(digest) }
func (c *LRUSessionCache) Len() int            { return c.lru.Len() }

type NopSessionCache struct{}

func (NopSessionCache) Get(string) (int, bool) { return 0, false }
func (NopSessionCache) Set(string, int)        {}
func (NopSessionCache) Evict(string)           {}
