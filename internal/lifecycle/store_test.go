// SessionGuard - Session Risk & Anomaly Detection Engine
// Copyright 2026 Perimetra Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perimetra/sessionguard

package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

func threatStoreFactories(t *testing.T) map[string]func(t *testing.T) ThreatStore {
	t.Helper()
	return map[string]func(t *testing.T) ThreatStore{
		"memory": func(t *testing.T) ThreatStore {
			return NewMemoryThreatStore()
		},
		"badger": func(t *testing.T) ThreatStore {
			opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
			db, err := badger.Open(opts)
			require.NoError(t, err)
			t.Cleanup(func() { _ = db.Close() })
			return NewBadgerThreatStore(db)
		},
	}
}

func testThreat(id string, status ThreatStatus, detectedAt time.Time) *Threat {
	return &Threat{
		ID:                 id,
		Severity:           ThreatHigh,
		Category:           "impossible_travel",
		Description:        "login velocity exceeds feasible transport",
		AffectedIdentities: []string{"alice"},
		Status:             status,
		DetectedAt:         detectedAt,
		UpdatedAt:          detectedAt,
	}
}

func TestThreatStore_SaveGetUpdate(t *testing.T) {
	for name, factory := range threatStoreFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()
			now := time.Now().UTC().Truncate(time.Millisecond)

			require.NoError(t, store.Save(ctx, testThreat("t1", ThreatActive, now)))

			got, err := store.Get(ctx, "t1")
			require.NoError(t, err)
			require.Equal(t, ThreatActive, got.Status)
			require.Equal(t, []string{"alice"}, got.AffectedIdentities)

			require.NoError(t, store.Update(ctx, "t1", func(th *Threat) {
				th.Status = ThreatInvestigating
			}))

			got, err = store.Get(ctx, "t1")
			require.NoError(t, err)
			require.Equal(t, ThreatInvestigating, got.Status)

			_, err = store.Get(ctx, "missing")
			require.ErrorIs(t, err, ErrThreatNotFound)
			require.ErrorIs(t, store.Update(ctx, "missing", func(*Threat) {}), ErrThreatNotFound)
		})
	}
}

func TestThreatStore_ListFiltersAndOrders(t *testing.T) {
	for name, factory := range threatStoreFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()
			now := time.Now().UTC().Truncate(time.Millisecond)

			require.NoError(t, store.Save(ctx, testThreat("old", ThreatResolved, now.Add(-2*time.Hour))))
			require.NoError(t, store.Save(ctx, testThreat("mid", ThreatActive, now.Add(-time.Hour))))
			require.NoError(t, store.Save(ctx, testThreat("new", ThreatActive, now)))

			all, err := store.List(ctx, ThreatFilter{})
			require.NoError(t, err)
			require.Len(t, all, 3)
			require.Equal(t, "new", all[0].ID)
			require.Equal(t, "old", all[2].ID)

			active, err := store.List(ctx, ThreatFilter{Status: ThreatActive})
			require.NoError(t, err)
			require.Len(t, active, 2)

			capped, err := store.List(ctx, ThreatFilter{Limit: 1})
			require.NoError(t, err)
			require.Len(t, capped, 1)
			require.Equal(t, "new", capped[0].ID)
		})
	}
}
