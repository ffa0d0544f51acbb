// Package idempotency makes unsafe requests safe to retry. A request carrying
// an idempotency key either runs once inside a transaction that also stores
// its response, or replays the response stored by the run that did.
package idempotency

import (
	"errors"
	"fmt"
)

// MaxKeyLen is the exclusive upper bound on key length in bytes.
const MaxKeyLen = 50

// ErrInvalidKey is returned by ParseKey for keys that are empty or too long.
var ErrInvalidKey = errors.New("invalid idempotency key")

// Key is a validated, client-supplied idempotency key. Keys are opaque:
// they are compared byte for byte and never normalized.
type Key struct {
	raw string
}

// ParseKey validates s as an idempotency key.
func ParseKey(s string) (Key, error) {
	if s == "" {
		return Key{}, fmt.Errorf("%w: must not be empty", ErrInvalidKey)
	}
	if len(s) >= MaxKeyLen {
		return Key{}, fmt.Errorf("%w: must be shorter than %d bytes", ErrInvalidKey, MaxKeyLen)
	}
	return Key{raw: s}, nil
}

// String returns the raw key as supplied by the client.
func (k Key) String() string { return k.raw }

// IsZero reports whether k was never parsed.
func (k Key) IsZero() bool { return k.raw == "" }
