//go:build mips64 || mips64le || ppc64 || s390x

package memory

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"
)

var errSQLiteUnavailable = errors.New("SQLite memory backend is not supported on this platform, use the map backend instead")

// SQLiteStore is a stub for platforms the pure Go driver does not build on.
type SQLiteStore struct{}

func NewSQLiteStore(logger *slog.Logger) (*SQLiteStore, error) {
	return nil, errSQLiteUnavailable
}

func (s *SQLiteStore) Put(context.Context, string, json.RawMessage, time.Duration) (Entry, error) {
	return Entry{}, errSQLiteUnavailable
}

func (s *SQLiteStore) Get(context.Context, string) (Entry, error) {
	return Entry{}, errSQLiteUnavailable
}

func (s *SQLiteStore) Search(context.Context, string, int) ([]Entry, int, error) {
	return nil, 0, errSQLiteUnavailable
}

func (s *SQLiteStore) Len(context.Context) (int, error) {
	return 0, errSQLiteUnavailable
}

func (s *SQLiteStore) Close() error {
	return nil
}
