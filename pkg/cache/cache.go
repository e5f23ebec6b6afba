// Package cache defines the response cache contract shared by the SQLite and
// Redis backends: prompt fingerprints, the Store interface and CacheError.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ledgerlens/ledgerlens/pkg/models"
)

// ErrUnavailable marks storage failures. Callers may bypass the cache on it.
var ErrUnavailable = errors.New("cache unavailable")

// Error is returned for every storage failure of a cache backend.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("cache %s: %v", e.Op, e.Err)
}

// Unwrap exposes both ErrUnavailable and the underlying storage error.
func (e *Error) Unwrap() []error {
	return []error{ErrUnavailable, e.Err}
}

// Store maps prompt fingerprints to model completions with expiry.
type Store interface {
	// Get returns the cached response when an entry exists and has not expired.
	Get(ctx context.Context, fingerprint string) (string, bool, error)
	// Put upserts the response; the entry expires ttl after now.
	Put(ctx context.Context, fingerprint, prompt, response string, ttl time.Duration) error
	// Stats returns entry counts and hit/miss counters.
	Stats(ctx context.Context) (models.CacheStats, error)
	// Clear removes entries. If expiredOnly is true, only expired entries are removed.
	Clear(ctx context.Context, expiredOnly bool) error
	// Close releases the backend connection.
	Close() error
}

// Canonical returns the stable serialization fingerprints are computed over.
func Canonical(messages []models.ChatMessage) string {
	if messages == nil {
		messages = []models.ChatMessage{}
	}
	// Marshalling a slice of fixed-field structs is deterministic.
	data, _ := json.Marshal(messages)
	return string(data)
}

// Fingerprint computes a SHA-256 hex digest of the ordered message list.
func Fingerprint(messages []models.ChatMessage) string {
	h := sha256.Sum256([]byte(Canonical(messages)))
	return hex.EncodeToString(h[:])
}
