package memory

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

type backend struct {
	store Store
	clock *clock
}

// stores returns every backend with a controllable clock.
func stores(t *testing.T) map[string]backend {
	t.Helper()

	mc := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	m := NewMapStore()
	m.now = mc.now

	sc := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	s, err := NewSQLiteStore(quietLogger())
	require.NoError(t, err)
	s.now = sc.now
	t.Cleanup(func() { s.Close() })

	return map[string]backend{
		"map":    {m, mc},
		"sqlite": {s, sc},
	}
}

func TestPutGet(t *testing.T) {
	ctx := context.Background()
	for name, tc := range stores(t) {
		t.Run(name, func(t *testing.T) {
			e, err := tc.store.Put(ctx, "user:1", json.RawMessage(`{ "name": "Ada" }`), 0)
			require.NoError(t, err)
			assert.Nil(t, e.ExpiresAt)

			got, err := tc.store.Get(ctx, "user:1")
			require.NoError(t, err)
			assert.JSONEq(t, `{"name":"Ada"}`, string(got.Value))
			assert.True(t, tc.clock.t.Equal(got.CreatedAt))

			_, err = tc.store.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestTTLExpiry(t *testing.T) {
	ctx := context.Background()
	for name, tc := range stores(t) {
		t.Run(name, func(t *testing.T) {
			e, err := tc.store.Put(ctx, "k", json.RawMessage(`"v"`), time.Second)
			require.NoError(t, err)
			require.NotNil(t, e.ExpiresAt)
			assert.True(t, tc.clock.t.Add(time.Second).Equal(*e.ExpiresAt))

			_, err = tc.store.Get(ctx, "k")
			require.NoError(t, err)

			tc.clock.advance(2 * time.Second)
			_, err = tc.store.Get(ctx, "k")
			assert.ErrorIs(t, err, ErrExpired)

			_, err = tc.store.Get(ctx, "k")
			assert.ErrorIs(t, err, ErrNotFound, "expired key should be removed on read")

			n, err := tc.store.Len(ctx)
			require.NoError(t, err)
			assert.Equal(t, 0, n)
		})
	}
}

func TestNegativeTTLStoresExpired(t *testing.T) {
	ctx := context.Background()
	for name, tc := range stores(t) {
		t.Run(name, func(t *testing.T) {
			e, err := tc.store.Put(ctx, "k", json.RawMessage(`"v"`), -5*time.Second)
			require.NoError(t, err)
			require.NotNil(t, e.ExpiresAt)
			assert.True(t, e.ExpiresAt.Before(tc.clock.t))

			_, err = tc.store.Get(ctx, "k")
			assert.ErrorIs(t, err, ErrExpired)
		})
	}
}

func TestReplaceKeepsOrder(t *testing.T) {
	ctx := context.Background()
	for name, tc := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{"a-note", "b-note", "c-note"} {
				_, err := tc.store.Put(ctx, k, json.RawMessage(`1`), 0)
				require.NoError(t, err)
			}
			_, err := tc.store.Put(ctx, "a-note", json.RawMessage(`2`), 0)
			require.NoError(t, err)

			found, total, err := tc.store.Search(ctx, "note", 10)
			require.NoError(t, err)
			assert.Equal(t, 3, total)
			require.Len(t, found, 3)
			assert.Equal(t, "a-note", found[0].Key)
			assert.Equal(t, "2", string(found[0].Value))
		})
	}
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	for name, tc := range stores(t) {
		t.Run(name, func(t *testing.T) {
			put := func(k, v string) {
				_, err := tc.store.Put(ctx, k, json.RawMessage(v), 0)
				require.NoError(t, err)
			}
			put("Project-Alpha", `{"lang":"go"}`)
			put("shopping", `["Milk","Eggs"]`)
			put("settings", `{"theme":"dark","project":"beta"}`)

			found, total, err := tc.store.Search(ctx, "PROJECT", 10)
			require.NoError(t, err)
			assert.Equal(t, 2, total)
			assert.Equal(t, "Project-Alpha", found[0].Key)
			assert.Equal(t, "settings", found[1].Key)

			found, total, err = tc.store.Search(ctx, "milk", 10)
			require.NoError(t, err)
			assert.Equal(t, 1, total)
			assert.Equal(t, "shopping", found[0].Key)

			found, total, err = tc.store.Search(ctx, "e", 1)
			require.NoError(t, err)
			assert.Equal(t, 3, total)
			assert.Len(t, found, 1)

			found, total, err = tc.store.Search(ctx, "nothing-here", 10)
			require.NoError(t, err)
			assert.Equal(t, 0, total)
			assert.Empty(t, found)
		})
	}
}

func TestSearchIgnoresExpiry(t *testing.T) {
	ctx := context.Background()
	for name, tc := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := tc.store.Put(ctx, "temp", json.RawMessage(`"x"`), time.Second)
			require.NoError(t, err)
			tc.clock.advance(time.Hour)

			_, total, err := tc.store.Search(ctx, "temp", 10)
			require.NoError(t, err)
			assert.Equal(t, 1, total)
		})
	}
}

func TestOpen(t *testing.T) {
	s, err := Open("", quietLogger())
	require.NoError(t, err)
	assert.IsType(t, &MapStore{}, s)

	s, err = Open(BackendSQLite, quietLogger())
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open("redis", quietLogger())
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestConversations(t *testing.T) {
	c := NewConversations()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	list := c.List()
	require.Len(t, list, 3)
	assert.Equal(t, "conv-1", list[0].ID)
	assert.Equal(t, "General Chat", list[0].Name)
	assert.Equal(t, 15, list[0].MessageCount)
	assert.Equal(t, "2024-05-01T11:00:00.000Z", list[0].LastUpdated)
	assert.Equal(t, 23, list[2].MessageCount)

	msgs, total := c.Messages("conv-1", DefaultMessageLimit, 0)
	assert.Equal(t, 4, total)
	assert.Len(t, msgs, 4)
	assert.Equal(t, "user", msgs[0].Role)

	msgs, total = c.Messages("conv-1", 2, 1)
	assert.Equal(t, 4, total)
	require.Len(t, msgs, 2)
	assert.Equal(t, "assistant", msgs[0].Role)

	msgs, _ = c.Messages("conv-1", 10, 9)
	assert.Empty(t, msgs)

	msgs, _ = c.Messages("conv-1", -1, -5)
	assert.Empty(t, msgs)
}
