package dotori

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// OverflowBehavior decides what happens to a key or value that is longer
// than its configured limit.
type OverflowBehavior string

const (
	// OverflowTruncate shortens the data to the longest valid UTF-8 prefix
	// that fits. It never fails.
	OverflowTruncate OverflowBehavior = "TRUNCATE"
	// OverflowThrow rejects the data with ErrPayloadTooLarge.
	OverflowThrow OverflowBehavior = "THROW"
)

func (b OverflowBehavior) valid() bool {
	return b == OverflowTruncate || b == OverflowThrow
}

// ParseOverflowBehavior parses "truncate" or "throw", ignoring case and
// surrounding whitespace.
func ParseOverflowBehavior(s string) (OverflowBehavior, error) {
	b := OverflowBehavior(strings.ToUpper(strings.TrimSpace(s)))
	if !b.valid() {
		return "", &ConfigError{fmt.Sprintf("unknown overflow behavior %q (want TRUNCATE or THROW)", s)}
	}
	return b, nil
}

// EnforceMaxSize returns s if its UTF-8 byte length is at most max.
// Otherwise it truncates or fails according to b.
func EnforceMaxSize(s string, max int, b OverflowBehavior) (string, error) {
	if len(s) <= max {
		return s, nil
	}
	switch b {
	case OverflowTruncate:
		return truncateUTF8(s, max), nil
	case OverflowThrow:
		return "", fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrPayloadTooLarge, len(s), max)
	default:
		return "", &ConfigError{"unknown overflow behavior: " + string(b)}
	}
}

// truncateUTF8 cuts s to at most max bytes without splitting a rune.
// Invalid bytes already present in s are treated as one-byte runes.
func truncateUTF8(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	// s[max] is the first dropped byte. If it continues a rune, back up to
	// that rune's start so the rune is dropped whole.
	for cut := max; cut >= 0 && max-cut < utf8.UTFMax; cut-- {
		if utf8.RuneStart(s[cut]) {
			return s[:cut]
		}
	}
	// No rune start within reach: the bytes are stray continuations.
	return s[:max]
}
