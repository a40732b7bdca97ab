package thinkingcache

import (
	"encoding/json"
	"log"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"anthroproxy/internal/restkv"
)

const remoteKeyPrefix = "anthroproxy:thinking:"

const defaultLocalCapacity = 100

// ThinkingBlock is a captured signed thinking block, cached apart from the
// message that produced it so it can be re-attached on later turns.
type ThinkingBlock struct {
	Thinking  string `json:"thinking"`
	Signature string `json:"signature"`
}

type entry struct {
	Block     ThinkingBlock `json:"block"`
	Timestamp int64         `json:"timestamp"`
}

// Cache is the two-tier thinking-block cache: a small in-process LRU tier
// backed by an optional persistent REST key-value tier. The local tier
// evicts by recency (github.com/hashicorp/golang-lru/v2), which approximates
// but does not exactly match oldest-write-wins eviction; the persistent
// tier is authoritative across restarts and instances.
type Cache struct {
	local      *lru.Cache[string, entry]
	persistent *restkv.Client
	ttl        time.Duration
}

// New returns a Cache. persistent may be nil, in which case only the local
// tier is used and cached thinking blocks do not survive a restart.
func New(persistent *restkv.Client, ttl time.Duration) *Cache {
	local, err := lru.New[string, entry](defaultLocalCapacity)
	if err != nil {
		// Only returns an error for a non-positive size, which never happens
		// with the constant above.
		panic(err)
	}
	return &Cache{local: local, persistent: persistent, ttl: ttl}
}

// HasPersistentTier reports whether a persistent tier is configured.
func (c *Cache) HasPersistentTier() bool {
	return c.persistent != nil
}

// Get returns the cached thinking block for key, checking the local tier
// first and falling back to the persistent tier (backfilling local on hit).
func (c *Cache) Get(key string) (ThinkingBlock, bool) {
	if v, ok := c.local.Get(key); ok {
		return v.Block, true
	}
	if c.persistent == nil {
		return ThinkingBlock{}, false
	}

	raw, ok, err := c.persistent.Get(remoteKeyPrefix + key)
	if err != nil {
		log.Printf("[thinking-cache] persistent read failed: %v", err)
		return ThinkingBlock{}, false
	}
	if !ok {
		return ThinkingBlock{}, false
	}

	var e entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		log.Printf("[thinking-cache] persistent entry decode failed: %v", err)
		return ThinkingBlock{}, false
	}
	c.local.Add(key, e)
	return e.Block, true
}

// Put stores block under key in the local tier synchronously and, if a
// persistent tier is configured, fire-and-forgets a write to it -- a
// persistent-write failure is logged and never fails the caller's request.
func (c *Cache) Put(key string, block ThinkingBlock) {
	e := entry{Block: block, Timestamp: time.Now().UnixMilli()}
	c.local.Add(key, e)

	if c.persistent == nil {
		return
	}
	go func() {
		data, err := json.Marshal(e)
		if err != nil {
			log.Printf("[thinking-cache] persistent entry encode failed: %v", err)
			return
		}
		if err := c.persistent.SetEX(remoteKeyPrefix+key, string(data), c.ttl); err != nil {
			log.Printf("[thinking-cache] persistent write failed: %v", err)
		}
	}()
}
