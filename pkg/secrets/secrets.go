// Package secrets holds credential material that must be overwritten, not just
// garbage collected, once it is no longer needed.
package secrets

import (
	"sync"

	dErrors "issuesink/pkg/domain-errors"
)

// ErrDestroyed is returned by Use after Destroy has run.
var ErrDestroyed = dErrors.New(dErrors.CodeClosed, "secret has been destroyed")

// Secret is a password or token kept in a byte slice so it can be scrubbed.
// The zero value is an empty, usable secret.
type Secret struct {
	mu        sync.Mutex
	value     []byte
	destroyed bool
}

// New takes ownership of value. The caller must not retain or modify it.
func New(value []byte) *Secret {
	return &Secret{value: value}
}

// FromString copies a plain string into a Secret.
// The string itself cannot be scrubbed; prefer New when the source is a byte slice.
func FromString(value string) *Secret {
	return &Secret{value: []byte(value)}
}

// Use lends fn a temporary copy of the secret. The copy is overwritten on
// every exit path, including panics in fn.
func (s *Secret) Use(fn func(plain []byte) error) error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return ErrDestroyed
	}
	plain := make([]byte, len(s.value))
	copy(plain, s.value)
	s.mu.Unlock()

	defer Zero(plain)
	return fn(plain)
}

// Len returns the secret length without revealing it.
func (s *Secret) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.value)
}

// Destroy overwrites the stored bytes. Safe to call more than once.
func (s *Secret) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}
	Zero(s.value)
	s.value = nil
	s.destroyed = true
}

// Destroyed reports whether Destroy has run.
func (s *Secret) Destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

// String never reveals the secret, so a Secret is safe to pass to loggers.
func (s *Secret) String() string {
	return "[REDACTED]"
}

// Zero overwrites b in place.
func Zero(b []byte) {
	clear(b)
}
