// SessionGuard - Session Risk & Anomaly Detection Engine
// Copyright 2026 Perimetra Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perimetra/sessionguard

package session

import (
	"context"
	"sort"
	"time"

	"github.com/perimetra/sessionguard/internal/geo"
)

// Registry is the read-mostly view over current and expired sessions that
// the risk scorer, detector, and aggregator consume. It owns no state of its
// own; every read reflects the store as of the call.
type Registry struct {
	store Store
	now   func() time.Time
}

// NewRegistry creates a registry over the given store.
func NewRegistry(store Store) *Registry {
	return &Registry{store: store, now: time.Now}
}

// WithClock overrides the clock. Used by tests.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// Store exposes the underlying store for components that mutate sessions.
func (r *Registry) Store() Store {
	return r.store
}

// ActiveByIdentity groups all live sessions by identity in one pass.
func (r *Registry) ActiveByIdentity(ctx context.Context) (map[string][]*Session, error) {
	active, err := r.store.ListActive(ctx, r.now())
	if err != nil {
		return nil, err
	}

	groups := make(map[string][]*Session)
	for _, s := range active {
		groups[s.IdentityID] = append(groups[s.IdentityID], s)
	}
	return groups, nil
}

// IdentitySessions returns all sessions for one identity, newest first.
func (r *Registry) IdentitySessions(ctx context.Context, identityID string) ([]*Session, error) {
	sessions, err := r.store.ListByIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// ActiveSuspicious returns the IDs of all live sessions flagged suspicious,
// across all identities. This is the input to bulk revocation.
func (r *Registry) ActiveSuspicious(ctx context.Context) ([]string, error) {
	active, err := r.store.ListActive(ctx, r.now())
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, s := range active {
		if s.Suspicious {
			ids = append(ids, s.ID)
		}
	}
	return ids, nil
}

// Timeline projects recent session and login activity into an ordered
// event list, most recent first, capped at limit.
func (r *Registry) Timeline(ctx context.Context, since time.Time, limit int) ([]TimelineEvent, error) {
	now := r.now()

	logins, err := r.store.ListLoginsSince(ctx, since)
	if err != nil {
		return nil, err
	}

	var events []TimelineEvent
	for _, ev := range logins {
		events = append(events, TimelineEvent{
			IdentityID: ev.IdentityID,
			Kind:       TimelineLogin,
			Timestamp:  ev.At,
			Location:   geo.FormatLocation(ev.City, ev.Country),
			Device:     ev.Device,
		})
	}

	// Session state contributes the non-login entries. A session can appear
	// more than once (e.g. suspicious and later revoked); each state change
	// is its own event.
	sessions, err := r.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	events = append(events, sessionStateEvents(sessions, since, now)...)

	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp)
	})
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// sessionStateEvents derives suspicious/revoked/logout/activity entries from
// session records with state changes newer than since.
func sessionStateEvents(sessions []*Session, since, now time.Time) []TimelineEvent {
	var events []TimelineEvent
	for _, s := range sessions {
		loc := geo.FormatLocation(s.City, s.Country)

		if s.RevokedAt != nil && s.RevokedAt.After(since) {
			events = append(events, TimelineEvent{
				IdentityID: s.IdentityID,
				Kind:       TimelineRevoked,
				Timestamp:  *s.RevokedAt,
				Location:   loc,
				Device:     s.Device,
			})
		}
		if s.RevokedAt == nil && !now.Before(s.ExpiresAt) && s.ExpiresAt.After(since) {
			// Natural expiration reads as a logout.
			events = append(events, TimelineEvent{
				IdentityID: s.IdentityID,
				Kind:       TimelineLogout,
				Timestamp:  s.ExpiresAt,
				Location:   loc,
				Device:     s.Device,
			})
		}
		if s.LastActivityAt.After(since) && s.LastActivityAt.After(s.CreatedAt) {
			kind := TimelineActivity
			if s.Suspicious {
				kind = TimelineSuspicious
			}
			events = append(events, TimelineEvent{
				IdentityID: s.IdentityID,
				Kind:       kind,
				Timestamp:  s.LastActivityAt,
				Location:   loc,
				Device:     s.Device,
			})
		}
	}
	return events
}
