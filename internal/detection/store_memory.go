// SessionGuard - Session Risk & Anomaly Detection Engine
// Copyright 2026 Perimetra Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perimetra/sessionguard

package detection

import (
	"context"
	"sort"
	"sync"
)

// MemoryAlertStore is an in-memory AlertStore for development and tests.
type MemoryAlertStore struct {
	mu     sync.RWMutex
	alerts map[string]*TravelAlert
	pairs  map[string]string // pair key -> alert ID
}

// NewMemoryAlertStore creates an empty in-memory alert store.
func NewMemoryAlertStore() *MemoryAlertStore {
	return &MemoryAlertStore{
		alerts: make(map[string]*TravelAlert),
		pairs:  make(map[string]string),
	}
}

// Save persists a new alert, enforcing pair uniqueness.
func (s *MemoryAlertStore) Save(_ context.Context, alert *TravelAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.pairs[alert.PairKey]; exists {
		return ErrDuplicatePair
	}

	cp := *alert
	s.alerts[alert.ID] = &cp
	s.pairs[alert.PairKey] = alert.ID
	return nil
}

// Get retrieves an alert by ID.
func (s *MemoryAlertStore) Get(_ context.Context, id string) (*TravelAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	alert, ok := s.alerts[id]
	if !ok {
		return nil, ErrAlertNotFound
	}
	cp := *alert
	return &cp, nil
}

// List retrieves alerts matching the filter, newest first.
func (s *MemoryAlertStore) List(_ context.Context, filter AlertFilter) ([]*TravelAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*TravelAlert
	for _, alert := range s.alerts {
		if filter.Status != "" && alert.Status != filter.Status {
			continue
		}
		if filter.IdentityID != "" && alert.IdentityID != filter.IdentityID {
			continue
		}
		cp := *alert
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Transition moves a pending alert to a terminal status. The returned status
// is the one the alert held before the call.
func (s *MemoryAlertStore) Transition(_ context.Context, id string, to AlertStatus) (AlertStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	alert, ok := s.alerts[id]
	if !ok {
		return "", ErrAlertNotFound
	}

	prev := alert.Status
	if prev == StatusPending {
		alert.Status = to
	}
	return prev, nil
}
