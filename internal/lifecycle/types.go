// SessionGuard - Session Risk & Anomaly Detection Engine
// Copyright 2026 Perimetra Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perimetra/sessionguard

// Package lifecycle manages the forward-only state machines for threats and
// travel alerts.
package lifecycle

import (
	"context"
	"errors"
	"time"
)

// ErrThreatNotFound is returned when a threat is not in the store.
var ErrThreatNotFound = errors.New("threat not found")

// ThreatStatus is the lifecycle state of a threat. Transitions only move
// forward: active -> investigating -> resolved. Resolved is terminal.
type ThreatStatus string

// Threat statuses.
const (
	ThreatActive        ThreatStatus = "active"
	ThreatInvestigating ThreatStatus = "investigating"
	ThreatResolved      ThreatStatus = "resolved"
)

// rank orders statuses along the forward-only progression.
func (s ThreatStatus) rank() int {
	switch s {
	case ThreatActive:
		return 0
	case ThreatInvestigating:
		return 1
	case ThreatResolved:
		return 2
	default:
		return -1
	}
}

// Terminal reports whether the status permits no further transitions.
func (s ThreatStatus) Terminal() bool {
	return s == ThreatResolved
}

// ThreatSeverity classifies threat impact.
type ThreatSeverity string

// Threat severities.
const (
	ThreatCritical ThreatSeverity = "critical"
	ThreatHigh     ThreatSeverity = "high"
	ThreatMedium   ThreatSeverity = "medium"
	ThreatLow      ThreatSeverity = "low"
)

// Threat is a detected or operator-reported security concern spanning one or
// more identities.
type Threat struct {
	ID          string         `json:"id"`
	Severity    ThreatSeverity `json:"severity"`
	Category    string         `json:"category"`
	Description string         `json:"description"`

	AffectedIdentities []string `json:"affected_identities,omitempty"`

	Status     ThreatStatus `json:"status"`
	DetectedAt time.Time    `json:"detected_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// ThreatFilter selects threats for listing.
type ThreatFilter struct {
	Status ThreatStatus `json:"status,omitempty"`
	Limit  int          `json:"limit,omitempty"`
}

// ThreatStore persists threats.
type ThreatStore interface {
	// Save persists a threat, overwriting any existing record with the same ID.
	Save(ctx context.Context, threat *Threat) error

	// Get retrieves a threat by ID. Returns ErrThreatNotFound if absent.
	Get(ctx context.Context, id string) (*Threat, error)

	// List retrieves threats matching the filter, newest first by DetectedAt.
	List(ctx context.Context, filter ThreatFilter) ([]*Threat, error)

	// Update applies fn to the stored threat atomically. Returns
	// ErrThreatNotFound if absent.
	Update(ctx context.Context, id string, fn func(*Threat)) error
}
