// SessionGuard - Session Risk & Anomaly Detection Engine
// Copyright 2026 Perimetra Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perimetra/sessionguard

package session

import (
	"context"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

// storeFactories exercises the same behavior contract against both
// implementations.
func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"badger": func(t *testing.T) Store {
			opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
			db, err := badger.Open(opts)
			require.NoError(t, err)
			t.Cleanup(func() { _ = db.Close() })
			return NewBadgerStore(db)
		},
	}
}

func newSession(id, identity string, createdAt time.Time, ttl time.Duration) *Session {
	return &Session{
		ID:             id,
		IdentityID:     identity,
		CreatedAt:      createdAt,
		ExpiresAt:      createdAt.Add(ttl),
		LastActivityAt: createdAt,
		IPAddress:      "203.0.113.1",
		City:           "New York",
		Country:        "US",
		Latitude:       40.7128,
		Longitude:      -74.0060,
		Device:         "Firefox on Linux",
	}
}

func TestStore_CreateAndGet(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()
			now := time.Now().UTC().Truncate(time.Millisecond)

			require.NoError(t, store.Create(ctx, newSession("s1", "alice", now, time.Hour)))

			got, err := store.Get(ctx, "s1")
			require.NoError(t, err)
			require.Equal(t, "alice", got.IdentityID)
			require.True(t, got.Active(now))

			_, err = store.Get(ctx, "missing")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_RevokeIsIdempotentAndMonotonic(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()
			now := time.Now().UTC().Truncate(time.Millisecond)

			require.NoError(t, store.Create(ctx, newSession("s1", "alice", now, time.Hour)))

			revokeAt := now.Add(10 * time.Minute)
			require.NoError(t, store.Revoke(ctx, "s1", revokeAt))

			first, err := store.Get(ctx, "s1")
			require.NoError(t, err)
			require.NotNil(t, first.RevokedAt)
			require.False(t, first.Active(revokeAt.Add(time.Second)))

			// Second revoke at a later time is a no-op; the original
			// revocation time stands.
			require.NoError(t, store.Revoke(ctx, "s1", revokeAt.Add(time.Hour)))

			second, err := store.Get(ctx, "s1")
			require.NoError(t, err)
			require.Equal(t, first.RevokedAt.UnixNano(), second.RevokedAt.UnixNano())
			require.Equal(t, first.ExpiresAt.UnixNano(), second.ExpiresAt.UnixNano())
		})
	}
}

func TestStore_ListActiveExcludesExpiredAndRevoked(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()
			now := time.Now().UTC().Truncate(time.Millisecond)

			require.NoError(t, store.Create(ctx, newSession("live", "alice", now, time.Hour)))
			require.NoError(t, store.Create(ctx, newSession("expired", "alice", now.Add(-2*time.Hour), time.Hour)))
			require.NoError(t, store.Create(ctx, newSession("revoked", "bob", now, time.Hour)))
			require.NoError(t, store.Revoke(ctx, "revoked", now))

			active, err := store.ListActive(ctx, now)
			require.NoError(t, err)
			require.Len(t, active, 1)
			require.Equal(t, "live", active[0].ID)

			all, err := store.ListAll(ctx)
			require.NoError(t, err)
			require.Len(t, all, 3)
		})
	}
}

func TestStore_MarkSuspiciousAndTouch(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()
			now := time.Now().UTC().Truncate(time.Millisecond)

			require.NoError(t, store.Create(ctx, newSession("s1", "alice", now, time.Hour)))

			require.NoError(t, store.MarkSuspicious(ctx, "s1", true))
			got, err := store.Get(ctx, "s1")
			require.NoError(t, err)
			require.True(t, got.Suspicious)

			later := now.Add(5 * time.Minute)
			require.NoError(t, store.Touch(ctx, "s1", later))
			got, err = store.Get(ctx, "s1")
			require.NoError(t, err)
			require.Equal(t, later.UnixNano(), got.LastActivityAt.UnixNano())

			// Touch never moves activity backwards.
			require.NoError(t, store.Touch(ctx, "s1", now))
			got, err = store.Get(ctx, "s1")
			require.NoError(t, err)
			require.Equal(t, later.UnixNano(), got.LastActivityAt.UnixNano())

			require.ErrorIs(t, store.MarkSuspicious(ctx, "missing", true), ErrNotFound)
		})
	}
}

func TestStore_LoginOrderIndependentOfInsertion(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()
			base := time.Now().UTC().Truncate(time.Millisecond)

			// Deliberately scrambled arrival, including an earliest-last event.
			arrivals := []struct {
				id     string
				offset time.Duration
			}{
				{"mid", 10 * time.Minute},
				{"late", 20 * time.Minute},
				{"early", -10 * time.Minute},
				{"first", -20 * time.Minute},
			}
			for _, a := range arrivals {
				require.NoError(t, store.RecordLogin(ctx, &LoginEvent{
					ID:         a.id,
					IdentityID: "alice",
					At:         base.Add(a.offset),
				}))
			}

			events, err := store.ListLoginsSince(ctx, base.Add(-time.Hour))
			require.NoError(t, err)
			require.Len(t, events, 4)
			for i, want := range []string{"first", "early", "mid", "late"} {
				require.Equal(t, want, events[i].ID)
			}

			prev, err := store.LastLoginBefore(ctx, "alice", base)
			require.NoError(t, err)
			require.NotNil(t, prev)
			require.Equal(t, "early", prev.ID)
		})
	}
}

func TestStore_LoginEvents(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()
			base := time.Now().UTC().Truncate(time.Millisecond)

			// Create also records a login event.
			require.NoError(t, store.Create(ctx, newSession("s1", "alice", base, time.Hour)))
			require.NoError(t, store.Create(ctx, newSession("s2", "alice", base.Add(30*time.Minute), time.Hour)))
			require.NoError(t, store.Create(ctx, newSession("s3", "bob", base.Add(10*time.Minute), time.Hour)))

			prev, err := store.LastLoginBefore(ctx, "alice", base.Add(30*time.Minute))
			require.NoError(t, err)
			require.NotNil(t, prev)
			require.Equal(t, "s1", prev.ID)

			none, err := store.LastLoginBefore(ctx, "alice", base)
			require.NoError(t, err)
			require.Nil(t, none)

			since, err := store.ListLoginsSince(ctx, base.Add(5*time.Minute))
			require.NoError(t, err)
			require.Len(t, since, 2)
			// Ascending order across identities.
			require.Equal(t, "s3", since[0].ID)
			require.Equal(t, "s2", since[1].ID)
		})
	}
}
