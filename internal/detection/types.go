// SessionGuard - Session Risk & Anomaly Detection Engine
// Copyright 2026 Perimetra Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perimetra/sessionguard

// Package detection implements impossible-travel detection over consecutive
// login events.
package detection

import (
	"context"
	"errors"
	"time"
)

// Detection errors.
var (
	// ErrAlertNotFound is returned when an alert is not in the store.
	ErrAlertNotFound = errors.New("travel alert not found")

	// ErrDuplicatePair is returned by Save when an alert for the same login
	// pair already exists. Detection treats it as "already raised", not a
	// failure; re-running detection on a pair never duplicates alerts.
	ErrDuplicatePair = errors.New("alert already exists for login pair")
)

// AlertStatus is the lifecycle state of a travel alert.
// Transitions only move forward: pending -> dismissed or pending -> blocked.
// Both outcomes are terminal; an alert is never re-opened.
type AlertStatus string

// Travel alert statuses.
const (
	StatusPending   AlertStatus = "pending"
	StatusDismissed AlertStatus = "dismissed"
	StatusBlocked   AlertStatus = "blocked"
)

// Terminal reports whether the status permits no further transitions.
func (s AlertStatus) Terminal() bool {
	return s == StatusDismissed || s == StatusBlocked
}

// Severity classifies how implausible the travel is.
type Severity string

// Severities. Critical means the required speed exceeds any feasible human
// transport; high means it exceeds commercial flight.
const (
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Endpoint is one side of a detected transition.
type Endpoint struct {
	City      string    `json:"city,omitempty"`
	Country   string    `json:"country,omitempty"`
	IPAddress string    `json:"ip_address,omitempty"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	At        time.Time `json:"at"`
}

// TravelAlert is one detected anomalous identity transition.
type TravelAlert struct {
	ID         string `json:"id"`
	IdentityID string `json:"identity_id"`

	// PairKey identifies the (identity, previous login, current login)
	// triple; at most one alert exists per pair.
	PairKey string `json:"pair_key"`

	From Endpoint `json:"from"`
	To   Endpoint `json:"to"`

	DistanceKm       float64 `json:"distance_km"`
	HoursElapsed     float64 `json:"hours_elapsed"`
	RequiredSpeedKmh float64 `json:"required_speed_kmh"`

	Severity  Severity    `json:"severity"`
	Status    AlertStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
}

// AlertFilter selects alerts for listing.
type AlertFilter struct {
	Status     AlertStatus `json:"status,omitempty"`
	IdentityID string      `json:"identity_id,omitempty"`
	Limit      int         `json:"limit,omitempty"`
}

// AlertStore persists travel alerts.
type AlertStore interface {
	// Save persists a new alert. Returns ErrDuplicatePair when an alert for
	// the same PairKey already exists.
	Save(ctx context.Context, alert *TravelAlert) error

	// Get retrieves an alert by ID. Returns ErrAlertNotFound if absent.
	Get(ctx context.Context, id string) (*TravelAlert, error)

	// List retrieves alerts matching the filter, newest first.
	List(ctx context.Context, filter AlertFilter) ([]*TravelAlert, error)

	// Transition atomically moves a pending alert to the given terminal
	// status. It returns the status the alert held before the call: callers
	// distinguish "transitioned" (previous was pending) from "already
	// terminal" without a separate read.
	Transition(ctx context.Context, id string, to AlertStatus) (AlertStatus, error)
}
