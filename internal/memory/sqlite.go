//go:build !mips64 && !mips64le && !ppc64 && !s390x

package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO required)
)

const schema = `
CREATE TABLE IF NOT EXISTS entries (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    expires_at INTEGER
);
`

// SQLiteStore implements Store on a private in-memory SQLite database.
// Nothing is written to disk.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore opens a fresh in-memory database.
func NewSQLiteStore(logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Every connection to :memory: is its own database, so keep exactly one.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	logger.Debug("memory store opened", "backend", BackendSQLite)
	return &SQLiteStore{db: db, logger: logger, now: time.Now}, nil
}

func (s *SQLiteStore) Put(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) (Entry, error) {
	e := newEntry(key, value, ttl, s.now())

	var exp sql.NullInt64
	if e.ExpiresAt != nil {
		exp = sql.NullInt64{Int64: e.ExpiresAt.UnixMilli(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entries (key, value, created_at, expires_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`,
		e.Key, string(e.Value), e.CreatedAt.UnixMilli(), exp)
	if err != nil {
		return Entry{}, fmt.Errorf("store %q: %w", key, err)
	}
	return e, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT key, value, created_at, expires_at FROM entries WHERE key = ?`, key)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("retrieve %q: %w", key, err)
	}
	if !e.Expired(s.now()) {
		return e, nil
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM entries WHERE key = ? AND created_at = ?`, key, e.CreatedAt.UnixMilli()); err != nil {
		s.logger.Warn("failed to delete expired entry", "key", key, "err", err)
	}
	return Entry{}, ErrExpired
}

// Search matches with SQLite's lower(), which folds ASCII only.
func (s *SQLiteStore) Search(ctx context.Context, query string, limit int) ([]Entry, int, error) {
	needle := strings.ToLower(query)
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, value, created_at, expires_at FROM entries
		WHERE instr(lower(key), ?) > 0 OR instr(lower(value), ?) > 0
		ORDER BY rowid`, needle, needle)
	if err != nil {
		return nil, 0, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	var found []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("search: %w", err)
		}
		found = append(found, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("search: %w", err)
	}
	return window(found, limit), len(found), nil
}

func (s *SQLiteStore) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (Entry, error) {
	var (
		e       Entry
		value   string
		created int64
		exp     sql.NullInt64
	)
	if err := sc.Scan(&e.Key, &value, &created, &exp); err != nil {
		return Entry{}, err
	}
	e.Value = json.RawMessage(value)
	e.CreatedAt = time.UnixMilli(created).UTC()
	if exp.Valid {
		t := time.UnixMilli(exp.Int64).UTC()
		e.ExpiresAt = &t
	}
	return e, nil
}
