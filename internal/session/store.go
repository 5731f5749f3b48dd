// SessionGuard - Session Risk & Anomaly Detection Engine
// Copyright 2026 Perimetra Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perimetra/sessionguard

package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store defines the session and login-event persistence interface.
//
// All mutations are atomic per session; bulk operations at higher layers are
// sequences of independent per-session mutations, never cross-session
// transactions.
type Store interface {
	// Create stores a new session and records the corresponding login event.
	Create(ctx context.Context, s *Session) error

	// Get retrieves a session by ID. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (*Session, error)

	// ListActive returns all sessions live at the given instant.
	ListActive(ctx context.Context, now time.Time) ([]*Session, error)

	// ListAll returns every session regardless of state. Used by the
	// timeline projection, which also reports expired and revoked sessions.
	ListAll(ctx context.Context) ([]*Session, error)

	// ListByIdentity returns all sessions (active and expired) for an identity.
	ListByIdentity(ctx context.Context, identityID string) ([]*Session, error)

	// MarkSuspicious sets the suspicious flag. Returns ErrNotFound if absent.
	MarkSuspicious(ctx context.Context, id string, suspicious bool) error

	// Touch bumps the session's last-activity time. Returns ErrNotFound if absent.
	Touch(ctx context.Context, id string, at time.Time) error

	// Revoke forces the session's expiration to the given instant and records
	// RevokedAt. Revoking an already-revoked session is a no-op, not an error.
	Revoke(ctx context.Context, id string, at time.Time) error

	// RecordLogin appends a login event.
	RecordLogin(ctx context.Context, ev *LoginEvent) error

	// LastLoginBefore returns the identity's most recent login strictly before
	// the given instant, or nil if none exists.
	LastLoginBefore(ctx context.Context, identityID string, before time.Time) (*LoginEvent, error)

	// ListLoginsSince returns login events at or after since, ordered by
	// timestamp ascending, across all identities.
	ListLoginsSince(ctx context.Context, since time.Time) ([]*LoginEvent, error)
}

// MemoryStore is an in-memory Store implementation. Suitable for
// development and tests; production deployments use BadgerStore.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logins   []*LoginEvent
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
	}
}

// Create stores a new session and records its login event.
func (m *MemoryStore) Create(ctx context.Context, s *Session) error {
	m.mu.Lock()
	cp := *s
	m.sessions[s.ID] = &cp
	m.mu.Unlock()

	return m.RecordLogin(ctx, &LoginEvent{
		ID:         s.ID,
		IdentityID: s.IdentityID,
		At:         s.CreatedAt,
		IPAddress:  s.IPAddress,
		City:       s.City,
		Country:    s.Country,
		Latitude:   s.Latitude,
		Longitude:  s.Longitude,
		Device:     s.Device,
	})
}

// Get retrieves a session by ID.
func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

// ListActive returns all live sessions.
func (m *MemoryStore) ListActive(_ context.Context, now time.Time) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Session
	for _, s := range m.sessions {
		if s.Active(now) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sortSessions(out)
	return out, nil
}

// ListAll returns every session regardless of state.
func (m *MemoryStore) ListAll(_ context.Context) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		cp := *s
		out = append(out, &cp)
	}
	sortSessions(out)
	return out, nil
}

// ListByIdentity returns all sessions for an identity.
func (m *MemoryStore) ListByIdentity(_ context.Context, identityID string) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Session
	for _, s := range m.sessions {
		if s.IdentityID == identityID {
			cp := *s
			out = append(out, &cp)
		}
	}
	sortSessions(out)
	return out, nil
}

// MarkSuspicious sets the suspicious flag.
func (m *MemoryStore) MarkSuspicious(_ context.Context, id string, suspicious bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.Suspicious = suspicious
	return nil
}

// Touch bumps the last-activity time.
func (m *MemoryStore) Touch(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if at.After(s.LastActivityAt) {
		s.LastActivityAt = at
	}
	return nil
}

// Revoke forces expiration to the given instant. Idempotent.
func (m *MemoryStore) Revoke(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if s.RevokedAt != nil {
		return nil // already revoked, monotonic
	}
	revoked := at
	s.RevokedAt = &revoked
	s.ExpiresAt = at
	return nil
}

// RecordLogin inserts a login event, keeping the slice ordered by timestamp.
func (m *MemoryStore) RecordLogin(_ context.Context, ev *LoginEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *ev
	// The slice is always sorted; binary-search the insertion point instead
	// of re-sorting. Equal timestamps keep arrival order.
	idx := sort.Search(len(m.logins), func(i int) bool {
		return m.logins[i].At.After(cp.At)
	})
	m.logins = append(m.logins, nil)
	copy(m.logins[idx+1:], m.logins[idx:])
	m.logins[idx] = &cp
	return nil
}

// LastLoginBefore returns the most recent login strictly before the instant.
func (m *MemoryStore) LastLoginBefore(_ context.Context, identityID string, before time.Time) (*LoginEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var last *LoginEvent
	for _, ev := range m.logins {
		if ev.IdentityID != identityID || !ev.At.Before(before) {
			continue
		}
		if last == nil || ev.At.After(last.At) {
			last = ev
		}
	}
	if last == nil {
		return nil, nil
	}
	cp := *last
	return &cp, nil
}

// ListLoginsSince returns login events at or after since, ascending.
func (m *MemoryStore) ListLoginsSince(_ context.Context, since time.Time) ([]*LoginEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*LoginEvent
	for _, ev := range m.logins {
		if !ev.At.Before(since) {
			cp := *ev
			out = append(out, &cp)
		}
	}
	return out, nil
}

// sortSessions orders sessions by creation time ascending, then ID for
// deterministic output.
func sortSessions(sessions []*Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
}
