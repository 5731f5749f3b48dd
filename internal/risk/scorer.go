// SessionGuard - Session Risk & Anomaly Detection Engine
// Copyright 2026 Perimetra Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perimetra/sessionguard

// Package risk computes per-identity risk profiles from active sessions.
//
// Profiles are derived state: recomputed on every aggregation pass and
// never persisted. Every read is "as of last tick".
package risk

import (
	"time"

	"github.com/perimetra/sessionguard/internal/session"
)

// Profile summarizes one identity's current suspicious-session exposure.
type Profile struct {
	IdentityID         string    `json:"identity_id"`
	ActiveSessions     int       `json:"active_sessions"`
	SuspiciousSessions int       `json:"suspicious_sessions"`

	// RiskScore is min(SuspiciousSessions*weight, cap), an integer in [0, cap].
	// The function is monotonic and saturating: every additional suspicious
	// session raises risk sharply, but the score never exceeds the cap.
	RiskScore int `json:"risk_score"`

	LastActivityAt time.Time `json:"last_activity_at"`
}

// Scorer computes risk profiles. Pure CPU work, no I/O.
type Scorer struct {
	suspiciousWeight int
	maxScore         int
}

// NewScorer creates a scorer with the given per-suspicious-session weight
// and score cap.
func NewScorer(suspiciousWeight, maxScore int) *Scorer {
	return &Scorer{
		suspiciousWeight: suspiciousWeight,
		maxScore:         maxScore,
	}
}

// Score computes the profile for one identity's active sessions in a single
// pass. An identity with at least one active session always gets a profile;
// zero suspicious sessions means score 0, not an absent profile.
func (s *Scorer) Score(identityID string, sessions []*session.Session) Profile {
	p := Profile{IdentityID: identityID}

	for _, sess := range sessions {
		p.ActiveSessions++
		if sess.Suspicious {
			p.SuspiciousSessions++
		}
		if sess.LastActivityAt.After(p.LastActivityAt) {
			p.LastActivityAt = sess.LastActivityAt
		}
	}

	p.RiskScore = p.SuspiciousSessions * s.suspiciousWeight
	if p.RiskScore > s.maxScore {
		p.RiskScore = s.maxScore
	}
	return p
}
