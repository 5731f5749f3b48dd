// SessionGuard - Session Risk & Anomaly Detection Engine
// Copyright 2026 Perimetra Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perimetra/sessionguard

package lifecycle

import (
	"context"
	"sort"
	"sync"
)

// MemoryThreatStore is an in-memory ThreatStore for development and tests.
type MemoryThreatStore struct {
	mu      sync.RWMutex
	threats map[string]*Threat
}

// NewMemoryThreatStore creates an empty in-memory threat store.
func NewMemoryThreatStore() *MemoryThreatStore {
	return &MemoryThreatStore{threats: make(map[string]*Threat)}
}

// Save persists a threat.
func (s *MemoryThreatStore) Save(_ context.Context, threat *Threat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := cloneThreat(threat)
	s.threats[threat.ID] = cp
	return nil
}

// Get retrieves a threat by ID.
func (s *MemoryThreatStore) Get(_ context.Context, id string) (*Threat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	threat, ok := s.threats[id]
	if !ok {
		return nil, ErrThreatNotFound
	}
	return cloneThreat(threat), nil
}

// List retrieves threats matching the filter, newest first.
func (s *MemoryThreatStore) List(_ context.Context, filter ThreatFilter) ([]*Threat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Threat
	for _, threat := range s.threats {
		if filter.Status != "" && threat.Status != filter.Status {
			continue
		}
		out = append(out, cloneThreat(threat))
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].DetectedAt.After(out[j].DetectedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Update applies fn to the stored threat under the store lock.
func (s *MemoryThreatStore) Update(_ context.Context, id string, fn func(*Threat)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	threat, ok := s.threats[id]
	if !ok {
		return ErrThreatNotFound
	}
	fn(threat)
	return nil
}

func cloneThreat(t *Threat) *Threat {
	cp := *t
	cp.AffectedIdentities = append([]string(nil), t.AffectedIdentities...)
	return &cp
}
