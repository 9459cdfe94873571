package gateway

import (
	"encoding/json"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/ananta888/hubgate/pkg/clock"
)

type cacheEntry struct {
	data   json.RawMessage
	stored time.Time
}

// responseCache is a bounded LRU whose entries expire on read. There is no
// background eviction.
type responseCache struct {
	entries *lru.Cache[string, cacheEntry]
	flights singleflight.Group
	clock   clock.Clock
}

func newResponseCache(size int, c clock.Clock) *responseCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, err := lru.New[string, cacheEntry](size)
	if err != nil {
		// only reachable with a non-positive size
		panic(err)
	}
	return &responseCache{entries: entries, clock: c}
}

func cacheKey(baseURL, tag string) string {
	return baseURL + "\x00" + tag
}

// get returns a fresh entry and its age.
func (c *responseCache) get(key string, ttl time.Duration) (json.RawMessage, time.Duration, bool) {
	entry, ok := c.entries.Get(key)
	if !ok {
		return nil, 0, false
	}
	age := c.clock.Now().Sub(entry.stored)
	if age >= ttl {
		c.entries.Remove(key)
		return nil, 0, false
	}
	return entry.data, age, true
}

func (c *responseCache) put(key string, data json.RawMessage) {
	c.entries.Add(key, cacheEntry{data: data, stored: c.clock.Now()})
}

func (c *responseCache) len() int { return c.entries.Len() }
