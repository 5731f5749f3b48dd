// SessionGuard - Session Risk & Anomaly Detection Engine
// Copyright 2026 Perimetra Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perimetra/sessionguard

// Package session holds the session data model, the session store, and the
// read-mostly registry the scoring and aggregation components consume.
package session

import (
	"errors"
	"time"
)

// Session-related errors.
var (
	// ErrNotFound is returned when a session is not found in the store.
	ErrNotFound = errors.New("session not found")

	// ErrStoreUnavailable is returned when the backing store cannot be
	// reached. Callers treat it as retryable.
	ErrStoreUnavailable = errors.New("session store unavailable")
)

// Session represents one authenticated login instance.
//
// Sessions are created by the external authentication collaborator; this
// engine mutates them only through activity touches, suspicious flagging,
// and revocation.
type Session struct {
	// ID is the unique session identifier (opaque token).
	ID string `json:"id"`

	// IdentityID is the authenticated principal this session belongs to.
	IdentityID string `json:"identity_id"`

	// CreatedAt is when the session was issued. ExpiresAt is always >= CreatedAt.
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt is when the session expires. Revocation forces it to the
	// revocation time.
	ExpiresAt time.Time `json:"expires_at"`

	// LastActivityAt is the most recent activity touch.
	LastActivityAt time.Time `json:"last_activity_at"`

	// IPAddress is the origin network address.
	IPAddress string `json:"ip_address"`

	// City and Country are the approximate origin location (best-effort).
	City    string `json:"city,omitempty"`
	Country string `json:"country,omitempty"`

	// Latitude and Longitude are (0, 0) when geolocation is unavailable.
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`

	// Device is the client descriptor (user agent or device name).
	Device string `json:"device,omitempty"`

	// Suspicious marks the session as flagged by an operator or a detector.
	Suspicious bool `json:"suspicious"`

	// RevokedAt is set exactly once when the session is revoked and never
	// cleared: revocation is monotonic.
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// Active reports whether the session is live at the given instant:
// not expired and not revoked.
func (s *Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// Revoked reports whether the session has been revoked.
func (s *Session) Revoked() bool {
	return s.RevokedAt != nil
}

// LoginEvent is one login observation used by the impossible-travel
// detector and the timeline projection.
type LoginEvent struct {
	// ID is the login event identifier (usually the session ID).
	ID string `json:"id"`

	// IdentityID is the principal that logged in.
	IdentityID string `json:"identity_id"`

	// At is the login timestamp.
	At time.Time `json:"at"`

	IPAddress string  `json:"ip_address"`
	City      string  `json:"city,omitempty"`
	Country   string  `json:"country,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
	Device    string  `json:"device,omitempty"`
}

// TimelineEventKind classifies a timeline entry.
type TimelineEventKind string

// Timeline event kinds.
const (
	TimelineLogin      TimelineEventKind = "login"
	TimelineLogout     TimelineEventKind = "logout"
	TimelineSuspicious TimelineEventKind = "suspicious"
	TimelineRevoked    TimelineEventKind = "revoked"
	TimelineActivity   TimelineEventKind = "activity"
)

// TimelineEvent is an append-only, read-only projection for operator
// visibility. This engine never mutates timeline entries.
type TimelineEvent struct {
	IdentityID string            `json:"identity_id"`
	Kind       TimelineEventKind `json:"kind"`
	Timestamp  time.Time         `json:"timestamp"`
	Location   string            `json:"location,omitempty"`
	Device     string            `json:"device,omitempty"`
}
