// SessionGuard - Session Risk & Anomaly Detection Engine
// Copyright 2026 Perimetra Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perimetra/sessionguard

package revocation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/perimetra/sessionguard/internal/session"
)

// faultyStore fails revocation for a chosen set of session IDs.
type faultyStore struct {
	session.Store
	failing map[string]bool
}

func (s *faultyStore) Revoke(ctx context.Context, id string, at time.Time) error {
	if s.failing[id] {
		return fmt.Errorf("%w: simulated backend outage", session.ErrStoreUnavailable)
	}
	return s.Store.Revoke(ctx, id, at)
}

func newCoordinator(t *testing.T, store session.Store, now time.Time) *Coordinator {
	t.Helper()
	registry := session.NewRegistry(store).WithClock(func() time.Time { return now })
	return NewCoordinator(store, registry, 2*time.Second).WithClock(func() time.Time { return now })
}

func seedSession(t *testing.T, store session.Store, id, identity string, now time.Time) {
	t.Helper()
	err := store.Create(context.Background(), &session.Session{
		ID:             id,
		IdentityID:     identity,
		CreatedAt:      now.Add(-time.Hour),
		ExpiresAt:      now.Add(time.Hour),
		LastActivityAt: now.Add(-time.Hour),
		IPAddress:      "203.0.113.1",
	})
	require.NoError(t, err)
}

func TestCoordinator_RevokeIsIdempotent(t *testing.T) {
	store := session.NewMemoryStore()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	c := newCoordinator(t, store, now)
	ctx := context.Background()

	seedSession(t, store, "s1", "alice", now)

	require.NoError(t, c.Revoke(ctx, "s1"))

	first, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, first.RevokedAt)

	// Retrying after success succeeds again and changes nothing.
	require.NoError(t, c.Revoke(ctx, "s1"))

	second, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, first.RevokedAt.UnixNano(), second.RevokedAt.UnixNano())
}

func TestCoordinator_RevokeAllReportsPartialFailure(t *testing.T) {
	base := session.NewMemoryStore()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("s%d", i)
		seedSession(t, base, id, "alice", now)
		ids = append(ids, id)
	}

	store := &faultyStore{Store: base, failing: map[string]bool{"s3": true, "s7": true}}
	c := newCoordinator(t, store, now)

	result := c.RevokeAll(ctx, ids)
	require.Equal(t, 8, result.Succeeded)
	require.Len(t, result.Failed, 2)
	require.True(t, result.PartialFailure())

	failedIDs := []string{result.Failed[0].ID, result.Failed[1].ID}
	require.ElementsMatch(t, []string{"s3", "s7"}, failedIDs)
	for _, f := range result.Failed {
		require.NotEmpty(t, f.Reason)
	}

	// The eight successes are really revoked; the two failures remain live.
	for _, id := range ids {
		got, err := base.Get(ctx, id)
		require.NoError(t, err)
		if id == "s3" || id == "s7" {
			require.Nil(t, got.RevokedAt, "session %s should be untouched", id)
		} else {
			require.NotNil(t, got.RevokedAt, "session %s should be revoked", id)
		}
	}
}

func TestCoordinator_RevokeSuspicious(t *testing.T) {
	store := session.NewMemoryStore()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	c := newCoordinator(t, store, now)
	ctx := context.Background()

	seedSession(t, store, "clean", "alice", now)
	seedSession(t, store, "sus1", "alice", now)
	seedSession(t, store, "sus2", "bob", now)
	require.NoError(t, store.MarkSuspicious(ctx, "sus1", true))
	require.NoError(t, store.MarkSuspicious(ctx, "sus2", true))

	result, err := c.RevokeSuspicious(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, result.Succeeded)
	require.Empty(t, result.Failed)

	clean, err := store.Get(ctx, "clean")
	require.NoError(t, err)
	require.Nil(t, clean.RevokedAt)
}

func TestCoordinator_RevokeIdentity(t *testing.T) {
	store := session.NewMemoryStore()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	c := newCoordinator(t, store, now)
	ctx := context.Background()

	seedSession(t, store, "a1", "alice", now)
	seedSession(t, store, "a2", "alice", now)
	seedSession(t, store, "b1", "bob", now)

	// Already revoked sessions are skipped, not retried.
	require.NoError(t, store.Revoke(ctx, "a2", now.Add(-time.Minute)))

	require.NoError(t, c.RevokeIdentity(ctx, "alice"))

	a1, err := store.Get(ctx, "a1")
	require.NoError(t, err)
	require.NotNil(t, a1.RevokedAt)

	b1, err := store.Get(ctx, "b1")
	require.NoError(t, err)
	require.Nil(t, b1.RevokedAt)
}
