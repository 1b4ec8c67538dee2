package dotori

import (
	"fmt"

	"github.com/mrchypark/dotori/pkg/clock"
)

// ConfigError represents an error that occurs during the configuration process.
type ConfigError struct {
	Message string
}

// Error returns the error message for ConfigError.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("dotori: configuration error: %s", e.Message)
}

// Option is a function type that modifies the Config.
type Option func(cfg *Config) error

// WithConfig replaces the whole configuration. Options applied after it
// still take effect. A nil Clock in c keeps the current clock.
func WithConfig(c Config) Option {
	return func(cfg *Config) error {
		if c.Clock == nil {
			c.Clock = cfg.Clock
		}
		*cfg = c
		return nil
	}
}

// WithMaxKeySize sets the maximum key length in bytes.
func WithMaxKeySize(bytes int) Option {
	return func(cfg *Config) error {
		if bytes < 0 {
			return &ConfigError{"max key size cannot be negative"}
		}
		cfg.MaxKeySize = bytes
		return nil
	}
}

// WithMaxValueSize sets the maximum value length in bytes.
func WithMaxValueSize(bytes int) Option {
	return func(cfg *Config) error {
		if bytes < 0 {
			return &ConfigError{"max value size cannot be negative"}
		}
		cfg.MaxValueSize = bytes
		return nil
	}
}

// WithMaxValueBlockCount sets how many entries the cache holds before it
// starts evicting the least recently used one.
// A count of 0 is accepted: Set then succeeds without retaining anything.
func WithMaxValueBlockCount(count int) Option {
	return func(cfg *Config) error {
		if count < 0 {
			return &ConfigError{"max value block count cannot be negative"}
		}
		if count > MaxBlockCountLimit {
			return &ConfigError{fmt.Sprintf("max value block count cannot exceed %d", MaxBlockCountLimit)}
		}
		cfg.MaxValueBlockCount = count
		return nil
	}
}

// WithKeyOverflowBehavior sets what Set does with keys over MaxKeySize.
func WithKeyOverflowBehavior(b OverflowBehavior) Option {
	return func(cfg *Config) error {
		if !b.valid() {
			return &ConfigError{"unknown key overflow behavior: " + string(b)}
		}
		cfg.KeyOverflowBehavior = b
		return nil
	}
}

// WithValueOverflowBehavior sets what Set does with values over MaxValueSize.
func WithValueOverflowBehavior(b OverflowBehavior) Option {
	return func(cfg *Config) error {
		if !b.valid() {
			return &ConfigError{"unknown value overflow behavior: " + string(b)}
		}
		cfg.ValueOverflowBehavior = b
		return nil
	}
}

// WithClock replaces the time source. Tests use clock.Simulated.
func WithClock(c clock.Clock) Option {
	return func(cfg *Config) error {
		if c == nil {
			return &ConfigError{"clock cannot be nil"}
		}
		cfg.Clock = c
		return nil
	}
}
