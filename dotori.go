// Package dotori is a bounded, in-memory key-value cache with strict LRU
// eviction, per-entry time-to-live and configurable handling of oversized
// keys and values.
//
// A Cache combines a recency-ordered node list (pkg/list) with a key index
// so Get, Set and Delete run in O(1). Expiration is lazy: an expired entry
// is only reclaimed when it is read, overwritten, or pushed out by LRU
// pressure. There is no background sweeper.
//
// Example usage:
//
//	c, err := dotori.New(logger,
//	    dotori.WithMaxValueBlockCount(10000),
//	    dotori.WithMaxValueSize(64*1024),
//	    dotori.WithValueOverflowBehavior(dotori.OverflowTruncate),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := c.Set("user:123", payload, 60); err != nil {
//	    return err
//	}
//	v, err := c.Get("user:123")
//	if errors.Is(err, dotori.ErrNotFound) {
//	    // miss or expired
//	}
package dotori

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/mrchypark/dotori/pkg/clock"
	"github.com/mrchypark/dotori/pkg/list"
)

// ErrNotFound is returned when a key is absent from the cache.
//
// Occurrence scenarios:
//   - The key was never set, or was removed with Delete
//   - The key was evicted as the least recently used entry
//   - The entry's TTL elapsed; the Get that discovers this also removes it
//
// Example handling in HTTP handlers:
//
//	v, err := cache.Get(key)
//	if errors.Is(err, dotori.ErrNotFound) {
//	    http.Error(w, "Not Found", http.StatusNotFound)
//	    return
//	}
var ErrNotFound = errors.New("dotori: key not found")

// ErrPayloadTooLarge is returned by Set when a key or value is longer than
// its configured limit and the matching overflow behavior is
// OverflowThrow. The cache is left untouched when this error is returned.
//
// The returned error wraps ErrPayloadTooLarge with the offending size, so
// callers must use errors.Is rather than ==.
var ErrPayloadTooLarge = errors.New("dotori: payload too large")

// Entry is one cached key-value pair together with its absolute expiry.
type Entry struct {
	Key       string
	Value     string
	ExpiresAt clock.Seconds
}

// MaxBlockCountLimit is the largest accepted MaxValueBlockCount, bounded by
// the number of nodes a list.Handle can address.
const MaxBlockCountLimit = math.MaxInt32

// Config holds all the configurable settings for a Cache.
// Option functions modify fields within this struct.
type Config struct {
	// MaxKeySize is the maximum key length in bytes (UTF-8).
	MaxKeySize int
	// MaxValueSize is the maximum value length in bytes (UTF-8).
	MaxValueSize int
	// MaxValueBlockCount is the maximum number of entries held at once.
	MaxValueBlockCount int

	KeyOverflowBehavior   OverflowBehavior
	ValueOverflowBehavior OverflowBehavior

	// Clock supplies the current time for TTL bookkeeping.
	Clock clock.Clock
}

// DefaultConfig returns the configuration New starts from before applying
// options.
func DefaultConfig() Config {
	return Config{
		MaxKeySize:            256,
		MaxValueSize:          1 << 20,
		MaxValueBlockCount:    1024,
		KeyOverflowBehavior:   OverflowThrow,
		ValueOverflowBehavior: OverflowThrow,
		Clock:                 clock.System{},
	}
}

// validate checks the fields options cannot check in isolation, which
// matters for values supplied through WithConfig.
func (cfg Config) validate() error {
	switch {
	case cfg.MaxKeySize < 0:
		return &ConfigError{"max key size cannot be negative"}
	case cfg.MaxValueSize < 0:
		return &ConfigError{"max value size cannot be negative"}
	case cfg.MaxValueBlockCount < 0:
		return &ConfigError{"max value block count cannot be negative"}
	case cfg.MaxValueBlockCount > MaxBlockCountLimit:
		return &ConfigError{fmt.Sprintf("max value block count cannot exceed %d", MaxBlockCountLimit)}
	case cfg.Clock == nil:
		return &ConfigError{"clock cannot be nil"}
	}
	if !cfg.KeyOverflowBehavior.valid() {
		return &ConfigError{"unknown key overflow behavior: " + string(cfg.KeyOverflowBehavior)}
	}
	if !cfg.ValueOverflowBehavior.valid() {
		return &ConfigError{"unknown value overflow behavior: " + string(cfg.ValueOverflowBehavior)}
	}
	return nil
}

// New creates and configures a new Cache.
//
// The returned Cache is meant to be built once by the program's
// composition root and handed to every consumer; there is no package-level
// instance. A nil logger disables logging.
func New(logger log.Logger, opts ...Option) (*Cache, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}

	cfg := DefaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	c := &Cache{
		logger: logger,
		cfg:    cfg,
		clock:  cfg.Clock,
		nodes:  list.New[Entry](min(cfg.MaxValueBlockCount, 4096)),
		index:  make(map[string]list.Handle),
	}

	level.Info(logger).Log(
		"msg", "dotori cache initialized",
		"max_key_size", cfg.MaxKeySize,
		"max_value_size", cfg.MaxValueSize,
		"max_value_block_count", cfg.MaxValueBlockCount,
		"key_overflow", cfg.KeyOverflowBehavior,
		"value_overflow", cfg.ValueOverflowBehavior,
	)
	return c, nil
}
