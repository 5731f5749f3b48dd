// SessionGuard - Session Risk & Anomaly Detection Engine
// Copyright 2026 Perimetra Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perimetra/sessionguard

package aggregator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/perimetra/sessionguard/internal/risk"
	"github.com/perimetra/sessionguard/internal/session"
)

// outageStore simulates a store outage for list operations.
type outageStore struct {
	session.Store
	down bool
}

func (s *outageStore) ListActive(ctx context.Context, now time.Time) ([]*session.Session, error) {
	if s.down {
		return nil, fmt.Errorf("%w: simulated outage", session.ErrStoreUnavailable)
	}
	return s.Store.ListActive(ctx, now)
}

func testConfig() Config {
	return Config{
		StatsInterval:     30 * time.Second,
		TimelineInterval:  10 * time.Second,
		RecentLoginWindow: 24 * time.Hour,
		TickTimeout:       2 * time.Second,
	}
}

func seed(t *testing.T, store session.Store, id, identity string, now time.Time, suspicious bool) {
	t.Helper()
	err := store.Create(context.Background(), &session.Session{
		ID:             id,
		IdentityID:     identity,
		CreatedAt:      now.Add(-time.Hour),
		ExpiresAt:      now.Add(time.Hour),
		LastActivityAt: now.Add(-time.Hour),
		IPAddress:      "203.0.113.1",
		Suspicious:     suspicious,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestAggregator_TickStats(t *testing.T) {
	store := session.NewMemoryStore()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	registry := session.NewRegistry(store).WithClock(func() time.Time { return now })
	agg := New(registry, store, risk.NewScorer(20, 100), testConfig()).
		WithClock(func() time.Time { return now })
	ctx := context.Background()

	seed(t, store, "a1", "alice", now, false)
	seed(t, store, "a2", "alice", now, true)
	seed(t, store, "b1", "bob", now, false)

	if err := agg.TickStats(ctx); err != nil {
		t.Fatalf("TickStats() error = %v", err)
	}

	stats := agg.Stats()
	if stats.ActiveSessions != 3 {
		t.Errorf("ActiveSessions = %d, want 3", stats.ActiveSessions)
	}
	if stats.SuspiciousSessions != 1 {
		t.Errorf("SuspiciousSessions = %d, want 1", stats.SuspiciousSessions)
	}
	if stats.DistinctActiveUsers != 2 {
		t.Errorf("DistinctActiveUsers = %d, want 2", stats.DistinctActiveUsers)
	}
	if stats.RecentLogins != 3 {
		t.Errorf("RecentLogins = %d, want 3", stats.RecentLogins)
	}
	if stats.Generation == 0 {
		t.Error("Generation should advance on commit")
	}

	profiles := agg.Profiles(SortByRisk)
	if len(profiles) != 2 {
		t.Fatalf("got %d profiles, want 2", len(profiles))
	}
	if profiles[0].IdentityID != "alice" || profiles[0].RiskScore != 20 {
		t.Errorf("top profile = %+v, want alice with score 20", profiles[0])
	}
	if profiles[1].RiskScore != 0 {
		t.Errorf("bob profile score = %d, want 0", profiles[1].RiskScore)
	}
}

func TestAggregator_ProfileSortOrders(t *testing.T) {
	store := session.NewMemoryStore()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	registry := session.NewRegistry(store).WithClock(func() time.Time { return now })
	agg := New(registry, store, risk.NewScorer(20, 100), testConfig()).
		WithClock(func() time.Time { return now })

	seed(t, store, "z1", "zoe", now, false)
	seed(t, store, "z2", "zoe", now, false)
	seed(t, store, "a1", "alice", now, true)

	if err := agg.TickStats(context.Background()); err != nil {
		t.Fatal(err)
	}

	byName := agg.Profiles(SortByName)
	if byName[0].IdentityID != "alice" {
		t.Errorf("name sort first = %s, want alice", byName[0].IdentityID)
	}
	bySessions := agg.Profiles(SortBySessions)
	if bySessions[0].IdentityID != "zoe" {
		t.Errorf("sessions sort first = %s, want zoe", bySessions[0].IdentityID)
	}
	byRisk := agg.Profiles(SortByRisk)
	if byRisk[0].IdentityID != "alice" {
		t.Errorf("risk sort first = %s, want alice", byRisk[0].IdentityID)
	}
}

// A slow tick that finishes after a newer tick committed is discarded.
func TestAggregator_StaleTickNeverOverwrites(t *testing.T) {
	store := session.NewMemoryStore()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	registry := session.NewRegistry(store).WithClock(func() time.Time { return now })
	agg := New(registry, store, risk.NewScorer(20, 100), testConfig()).
		WithClock(func() time.Time { return now })

	// Tick 1 starts first but commits last.
	gen1 := agg.statsGen.Add(1)
	gen2 := agg.statsGen.Add(1)

	fresh := PopulationStats{ActiveSessions: 5, Generation: gen2, ComputedAt: now}
	agg.commitStats(gen2, fresh, nil)

	stale := PopulationStats{ActiveSessions: 2, Generation: gen1, ComputedAt: now.Add(-time.Minute)}
	agg.commitStats(gen1, stale, nil)

	got := agg.Stats()
	if got.ActiveSessions != 5 || got.Generation != gen2 {
		t.Fatalf("stale tick overwrote newer snapshot: %+v", got)
	}

	// Same rule for the timeline consumer.
	tgen1 := agg.timelineGen.Add(1)
	tgen2 := agg.timelineGen.Add(1)

	newer := []session.TimelineEvent{{IdentityID: "alice", Kind: session.TimelineLogin, Timestamp: now}}
	agg.commitTimeline(tgen2, newer)
	agg.commitTimeline(tgen1, []session.TimelineEvent{})

	if events := agg.Timeline(); len(events) != 1 || events[0].IdentityID != "alice" {
		t.Fatalf("stale timeline tick overwrote newer snapshot: %+v", events)
	}
}

// A store outage skips the tick and keeps serving the previous snapshot.
func TestAggregator_OutageRetainsLastSnapshot(t *testing.T) {
	base := session.NewMemoryStore()
	store := &outageStore{Store: base}
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	registry := session.NewRegistry(store).WithClock(func() time.Time { return now })
	agg := New(registry, store, risk.NewScorer(20, 100), testConfig()).
		WithClock(func() time.Time { return now })
	ctx := context.Background()

	seed(t, base, "a1", "alice", now, false)

	if err := agg.TickStats(ctx); err != nil {
		t.Fatalf("warm tick error = %v", err)
	}
	before := agg.Stats()

	store.down = true
	if err := agg.TickStats(ctx); err == nil {
		t.Fatal("expected error during outage")
	}

	after := agg.Stats()
	if after.Generation != before.Generation || after.ActiveSessions != before.ActiveSessions {
		t.Fatalf("outage tick disturbed snapshot: before %+v after %+v", before, after)
	}

	// Recovery resumes committing.
	store.down = false
	seed(t, base, "b1", "bob", now, false)
	if err := agg.TickStats(ctx); err != nil {
		t.Fatalf("recovery tick error = %v", err)
	}
	if agg.Stats().ActiveSessions != 2 {
		t.Errorf("ActiveSessions after recovery = %d, want 2", agg.Stats().ActiveSessions)
	}
}

func TestAggregator_TickTimeline(t *testing.T) {
	store := session.NewMemoryStore()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	registry := session.NewRegistry(store).WithClock(func() time.Time { return now })
	agg := New(registry, store, risk.NewScorer(20, 100), testConfig()).
		WithClock(func() time.Time { return now })
	ctx := context.Background()

	seed(t, store, "a1", "alice", now, false)
	seed(t, store, "b1", "bob", now, false)

	if err := agg.TickTimeline(ctx); err != nil {
		t.Fatalf("TickTimeline() error = %v", err)
	}

	events := agg.Timeline()
	if len(events) < 2 {
		t.Fatalf("got %d timeline events, want at least 2", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].Timestamp.After(events[i-1].Timestamp) {
			t.Errorf("timeline out of order at %d", i)
		}
	}
}
