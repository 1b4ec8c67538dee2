package dotori

import (
	"math"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/mrchypark/dotori/pkg/clock"
	"github.com/mrchypark/dotori/pkg/list"
)

// Cache is the LRU + TTL engine.
//
// A key index maps each key to its node in a recency-ordered list (front =
// most recently used). Both structures are owned by the Cache and are only
// mutated under mu, which is held for the full body of every public method
// so the index and the list always describe the same set of entries.
type Cache struct {
	mu     sync.Mutex
	logger log.Logger
	cfg    Config
	clock  clock.Clock

	nodes *list.List[Entry]
	index map[string]list.Handle
}

// Get returns the value stored under key and marks it most recently used.
//
// An entry whose expiry is strictly before the current time is removed and
// reported as ErrNotFound.
func (c *Cache) Get(key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.index[key]
	if !ok {
		return "", ErrNotFound
	}

	e := c.nodes.Value(h)
	if now := c.clock.Now(); e.ExpiresAt < now {
		level.Debug(c.logger).Log("msg", "lazy expiration", "key", key, "expired_at", e.ExpiresAt, "now", now)
		c.removeLocked(key, h)
		return "", ErrNotFound
	}

	c.nodes.InsertFront(h)
	return e.Value, nil
}

// Set stores value under key for ttl seconds.
//
// The key and value are first checked against their size limits. With
// OverflowThrow an oversized key or value fails with ErrPayloadTooLarge
// before anything is modified; with OverflowTruncate it is silently cut
// down, so the entry may end up under a shorter key than the one given.
//
// Setting an existing key replaces its value and expiry and marks it most
// recently used without consuming capacity. Setting a new key while the
// cache is full evicts the least recently used entry first.
func (c *Cache) Set(key, value string, ttl clock.Seconds) error {
	key, err := c.enforce(key, c.cfg.MaxKeySize, c.cfg.KeyOverflowBehavior, "key")
	if err != nil {
		return err
	}
	value, err = c.enforce(value, c.cfg.MaxValueSize, c.cfg.ValueOverflowBehavior, "value")
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := expiryAt(c.clock.Now(), ttl)

	if h, ok := c.index[key]; ok {
		e := c.nodes.Value(h)
		e.Value = value
		e.ExpiresAt = expiresAt
		c.nodes.InsertFront(h)
		return nil
	}

	if c.cfg.MaxValueBlockCount == 0 {
		level.Debug(c.logger).Log("msg", "zero capacity, entry not retained", "key", key)
		return nil
	}

	for c.nodes.Len() >= c.cfg.MaxValueBlockCount {
		if !c.evictLocked() {
			break
		}
	}

	h := c.nodes.Alloc(Entry{Key: key, Value: value, ExpiresAt: expiresAt})
	c.nodes.InsertFront(h)
	c.index[key] = h
	return nil
}

// Delete removes key from the cache, or returns ErrNotFound if it is absent.
func (c *Cache) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.index[key]
	if !ok {
		return ErrNotFound
	}
	c.removeLocked(key, h)
	return nil
}

// Len returns the number of stored entries.
//
// Note: Len includes entries that have expired but have not been read
// since, because expiration is lazy.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nodes.Len()
}

// Keys returns the stored keys from most to least recently used.
// It does not affect recency.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, c.nodes.Len())
	for h := c.nodes.Front(); h != list.Nil; h = c.nodes.Next(h) {
		out = append(out, c.nodes.Value(h).Key)
	}
	return out
}

// Config returns the effective configuration.
func (c *Cache) Config() Config {
	return c.cfg
}

// enforce applies the size policy and logs truncations. It only reads the
// immutable configuration, so it runs outside the lock.
func (c *Cache) enforce(s string, max int, b OverflowBehavior, what string) (string, error) {
	out, err := EnforceMaxSize(s, max, b)
	if err != nil {
		level.Debug(c.logger).Log("msg", what+" rejected", "size", len(s), "limit", max, "err", err)
		return "", err
	}
	if len(out) != len(s) {
		level.Debug(c.logger).Log("msg", what+" truncated", "size", len(s), "limit", max, "stored", len(out))
	}
	return out, nil
}

// evictLocked drops the least recently used entry. It reports false when
// the list is empty.
func (c *Cache) evictLocked() bool {
	h, ok := c.nodes.PopBack()
	if !ok {
		return false
	}
	key := c.nodes.Value(h).Key
	delete(c.index, key)
	c.nodes.Free(h)
	level.Debug(c.logger).Log("msg", "evicted least recently used entry", "key", key)
	return true
}

func (c *Cache) removeLocked(key string, h list.Handle) {
	c.nodes.PopNode(h)
	c.nodes.Free(h)
	delete(c.index, key)
}

// expiryAt returns now+ttl, saturating at the int64 bounds so a huge ttl
// never wraps into the past.
func expiryAt(now, ttl clock.Seconds) clock.Seconds {
	switch {
	case ttl > 0 && now > math.MaxInt64-ttl:
		return math.MaxInt64
	case ttl < 0 && now < math.MinInt64-ttl:
		return math.MinInt64
	}
	return now + ttl
}
