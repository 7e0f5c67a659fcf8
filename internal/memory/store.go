// Package memory provides the key/value memory store behind the /memory
// routes and the stub conversation history.
//
// Entries live only as long as the process. Expired entries are removed
// lazily when read; there is no background sweep.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"uas-server/internal/util"
)

var (
	ErrNotFound = errors.New("memory: key not found")
	ErrExpired  = errors.New("memory: key expired")
)

// Backends accepted by Open.
const (
	BackendMap    = "map"
	BackendSQLite = "sqlite"
)

// Entry is one stored value.
type Entry struct {
	Key       string
	Value     json.RawMessage
	CreatedAt time.Time
	ExpiresAt *time.Time
}

// Expired reports whether the entry has a deadline before now.
func (e Entry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && e.ExpiresAt.Before(now)
}

// Store is a key/value store with optional per-entry expiry.
type Store interface {
	// Put stores value under key, replacing any previous entry. A zero
	// ttl means the entry never expires; a negative one stores it already
	// expired.
	Put(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) (Entry, error)

	// Get returns the entry for key. An expired entry is deleted and
	// reported as ErrExpired.
	Get(ctx context.Context, key string) (Entry, error)

	// Search returns up to limit entries, in insertion order, whose key or
	// JSON value contains query case-insensitively, and the total number of
	// matches. Expiry is not checked.
	Search(ctx context.Context, query string, limit int) ([]Entry, int, error)

	// Len returns the number of stored entries, expired or not.
	Len(ctx context.Context) (int, error)

	Close() error
}

// Open returns the store for backend.
func Open(backend string, logger *slog.Logger) (Store, error) {
	switch backend {
	case "", BackendMap:
		return NewMapStore(), nil
	case BackendSQLite:
		return NewSQLiteStore(logger)
	default:
		return nil, fmt.Errorf("unknown memory backend %q", backend)
	}
}

func newEntry(key string, value json.RawMessage, ttl time.Duration, now time.Time) Entry {
	e := Entry{
		Key:       key,
		Value:     json.RawMessage(util.CompactJSON(value)),
		CreatedAt: now.UTC(),
	}
	if ttl != 0 {
		exp := now.Add(ttl).UTC()
		e.ExpiresAt = &exp
	}
	return e
}

func matches(e Entry, needle string) bool {
	return strings.Contains(strings.ToLower(e.Key), needle) ||
		strings.Contains(strings.ToLower(string(e.Value)), needle)
}

func window[T any](items []T, limit int) []T {
	if limit < 0 {
		limit = 0
	}
	if limit > len(items) {
		limit = len(items)
	}
	return items[:limit]
}
