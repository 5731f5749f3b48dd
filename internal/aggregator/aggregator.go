// SessionGuard - Session Risk & Anomaly Detection Engine
// Copyright 2026 Perimetra Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perimetra/sessionguard

// Package aggregator maintains the continuously refreshed population stats,
// risk profiles, and timeline snapshots the API serves.
//
// Reads never hit the store directly: every read returns the last committed
// snapshot, so API latency is independent of population size.
package aggregator

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/perimetra/sessionguard/internal/logging"
	"github.com/perimetra/sessionguard/internal/metrics"
	"github.com/perimetra/sessionguard/internal/risk"
	"github.com/perimetra/sessionguard/internal/session"
)

// PopulationStats is one committed aggregation snapshot.
type PopulationStats struct {
	ActiveSessions      int       `json:"active_sessions"`
	SuspiciousSessions  int       `json:"suspicious_sessions"`
	DistinctActiveUsers int       `json:"distinct_active_users"`
	RecentLogins        int       `json:"recent_logins"`
	ComputedAt          time.Time `json:"computed_at"`

	// Generation increases with every committed snapshot. Consumers can
	// detect whether two reads saw the same tick.
	Generation uint64 `json:"generation"`
}

// Profile sort orders accepted by Profiles.
const (
	SortByName     = "name"
	SortBySessions = "sessions"
	SortByRisk     = "risk"
)

// timelineLimit caps the cached timeline snapshot.
const timelineLimit = 200

// Config holds aggregation cadences.
type Config struct {
	StatsInterval     time.Duration
	TimelineInterval  time.Duration
	RecentLoginWindow time.Duration
	TickTimeout       time.Duration
}

// Aggregator computes and caches population-level snapshots.
//
// Each consumer (stats, timeline) carries a generation counter. A tick takes
// a generation at start and commits only if no newer tick committed in the
// meantime; a slow tick that lost the race is dropped, never letting stale
// data overwrite fresh data.
type Aggregator struct {
	registry *session.Registry
	store    session.Store
	scorer   *risk.Scorer
	cfg      Config

	statsGen    atomic.Uint64
	timelineGen atomic.Uint64

	mu                sync.RWMutex
	stats             PopulationStats
	statsCommitted    uint64
	profiles          []risk.Profile
	timeline          []session.TimelineEvent
	timelineCommitted uint64

	now func() time.Time
}

// New creates an aggregator.
func New(registry *session.Registry, store session.Store, scorer *risk.Scorer, cfg Config) *Aggregator {
	return &Aggregator{
		registry: registry,
		store:    store,
		scorer:   scorer,
		cfg:      cfg,
		now:      time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

// Stats returns the last committed population snapshot.
func (a *Aggregator) Stats() PopulationStats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.stats
}

// Profiles returns the last committed risk profiles in the requested order.
func (a *Aggregator) Profiles(sortBy string) []risk.Profile {
	a.mu.RLock()
	out := make([]risk.Profile, len(a.profiles))
	copy(out, a.profiles)
	a.mu.RUnlock()

	switch sortBy {
	case SortBySessions:
		sort.Slice(out, func(i, j int) bool {
			if out[i].ActiveSessions != out[j].ActiveSessions {
				return out[i].ActiveSessions > out[j].ActiveSessions
			}
			return out[i].IdentityID < out[j].IdentityID
		})
	case SortByRisk:
		sort.Slice(out, func(i, j int) bool {
			if out[i].RiskScore != out[j].RiskScore {
				return out[i].RiskScore > out[j].RiskScore
			}
			return out[i].IdentityID < out[j].IdentityID
		})
	default:
		sort.Slice(out, func(i, j int) bool {
			return out[i].IdentityID < out[j].IdentityID
		})
	}
	return out
}

// Timeline returns the last committed timeline snapshot, most recent first.
func (a *Aggregator) Timeline() []session.TimelineEvent {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]session.TimelineEvent, len(a.timeline))
	copy(out, a.timeline)
	return out
}

// ServeStats runs the stats tick loop until the context ends. Satisfies the
// supervisor's service contract.
func (a *Aggregator) ServeStats(ctx context.Context) error {
	return a.run(ctx, "stats", a.cfg.StatsInterval, a.TickStats)
}

// ServeTimeline runs the timeline tick loop until the context ends.
func (a *Aggregator) ServeTimeline(ctx context.Context) error {
	return a.run(ctx, "timeline", a.cfg.TimelineInterval, a.TickTimeline)
}

// run drives one consumer's cadence. An immediate first tick warms the
// snapshot before the first interval elapses.
func (a *Aggregator) run(ctx context.Context, consumer string, interval time.Duration, tick func(context.Context) error) error {
	logging.Info().
		Str("consumer", consumer).
		Dur("interval", interval).
		Msg("aggregator loop starting")

	a.tickOnce(ctx, consumer, tick)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info().Str("consumer", consumer).Msg("aggregator loop stopping")
			return ctx.Err()
		case <-ticker.C:
			a.tickOnce(ctx, consumer, tick)
		}
	}
}

// tickOnce executes one tick with a bounded timeout. Store outages skip the
// tick; the previous snapshot keeps serving until the store recovers.
func (a *Aggregator) tickOnce(ctx context.Context, consumer string, tick func(context.Context) error) {
	tickCtx, cancel := context.WithTimeout(ctx, a.cfg.TickTimeout)
	defer cancel()

	start := time.Now()
	err := tick(tickCtx)
	metrics.TickDuration.WithLabelValues(consumer).Observe(time.Since(start).Seconds())

	if err != nil && !errors.Is(err, context.Canceled) {
		metrics.TickErrors.WithLabelValues(consumer).Inc()
		logging.Warn().Err(err).
			Str("consumer", consumer).
			Msg("aggregation tick skipped, serving previous snapshot")
	}
}

// TickStats computes and commits one stats and risk-profile snapshot in a
// single store traversal.
func (a *Aggregator) TickStats(ctx context.Context) error {
	gen := a.statsGen.Add(1)
	now := a.now().UTC()

	groups, err := a.registry.ActiveByIdentity(ctx)
	if err != nil {
		return err
	}

	logins, err := a.store.ListLoginsSince(ctx, now.Add(-a.cfg.RecentLoginWindow))
	if err != nil {
		return err
	}

	stats := PopulationStats{
		DistinctActiveUsers: len(groups),
		RecentLogins:        len(logins),
		ComputedAt:          now,
		Generation:          gen,
	}

	profiles := make([]risk.Profile, 0, len(groups))
	for identityID, sessions := range groups {
		p := a.scorer.Score(identityID, sessions)
		stats.ActiveSessions += p.ActiveSessions
		stats.SuspiciousSessions += p.SuspiciousSessions
		profiles = append(profiles, p)
	}

	a.commitStats(gen, stats, profiles)
	return nil
}

// TickTimeline computes and commits one timeline snapshot.
func (a *Aggregator) TickTimeline(ctx context.Context) error {
	gen := a.timelineGen.Add(1)
	now := a.now().UTC()

	events, err := a.registry.Timeline(ctx, now.Add(-a.cfg.RecentLoginWindow), timelineLimit)
	if err != nil {
		return err
	}

	a.commitTimeline(gen, events)
	return nil
}

// commitStats installs a stats snapshot unless a newer tick already
// committed.
func (a *Aggregator) commitStats(gen uint64, stats PopulationStats, profiles []risk.Profile) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if gen <= a.statsCommitted {
		metrics.TicksStale.WithLabelValues("stats").Inc()
		logging.Debug().
			Uint64("generation", gen).
			Uint64("committed", a.statsCommitted).
			Msg("stale stats tick dropped")
		return
	}

	a.stats = stats
	a.profiles = profiles
	a.statsCommitted = gen
}

// commitTimeline installs a timeline snapshot unless a newer tick already
// committed.
func (a *Aggregator) commitTimeline(gen uint64, events []session.TimelineEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if gen <= a.timelineCommitted {
		metrics.TicksStale.WithLabelValues("timeline").Inc()
		logging.Debug().
			Uint64("generation", gen).
			Uint64("committed", a.timelineCommitted).
			Msg("stale timeline tick dropped")
		return
	}

	a.timeline = events
	a.timelineCommitted = gen
}
