// SessionGuard - Session Risk & Anomaly Detection Engine
// Copyright 2026 Perimetra Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perimetra/sessionguard

package risk

import (
	"testing"
	"time"

	"github.com/perimetra/sessionguard/internal/session"
)

func makeSessions(total, suspicious int, lastActivity time.Time) []*session.Session {
	out := make([]*session.Session, 0, total)
	for i := 0; i < total; i++ {
		out = append(out, &session.Session{
			ID:             "s" + string(rune('a'+i)),
			IdentityID:     "alice",
			Suspicious:     i < suspicious,
			LastActivityAt: lastActivity.Add(-time.Duration(i) * time.Minute),
		})
	}
	return out
}

func TestScorer_Score(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	scorer := NewScorer(20, 100)

	tests := []struct {
		name       string
		total      int
		suspicious int
		wantScore  int
	}{
		{"no sessions", 0, 0, 0},
		{"clean sessions score zero", 3, 0, 0},
		{"one suspicious", 3, 1, 20},
		{"two suspicious of three", 3, 2, 40},
		{"saturates at five", 6, 5, 100},
		{"stays saturated beyond five", 10, 8, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := scorer.Score("alice", makeSessions(tt.total, tt.suspicious, now))
			if p.RiskScore != tt.wantScore {
				t.Errorf("RiskScore = %d, want %d", p.RiskScore, tt.wantScore)
			}
			if p.ActiveSessions != tt.total {
				t.Errorf("ActiveSessions = %d, want %d", p.ActiveSessions, tt.total)
			}
			if p.SuspiciousSessions != tt.suspicious {
				t.Errorf("SuspiciousSessions = %d, want %d", p.SuspiciousSessions, tt.suspicious)
			}
		})
	}
}

// Monotonicity: adding one suspicious session never lowers the score, and
// the score stays within [0, 100].
func TestScorer_Monotonic(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	scorer := NewScorer(20, 100)

	prev := -1
	for suspicious := 0; suspicious <= 12; suspicious++ {
		p := scorer.Score("alice", makeSessions(12, suspicious, now))
		if p.RiskScore < prev {
			t.Fatalf("score decreased: %d suspicious -> %d, previous %d", suspicious, p.RiskScore, prev)
		}
		if p.RiskScore < 0 || p.RiskScore > 100 {
			t.Fatalf("score out of range: %d", p.RiskScore)
		}
		prev = p.RiskScore
	}
}

func TestScorer_TracksLatestActivity(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	scorer := NewScorer(20, 100)

	sessions := makeSessions(4, 1, now)
	p := scorer.Score("alice", sessions)
	if !p.LastActivityAt.Equal(now) {
		t.Errorf("LastActivityAt = %v, want %v", p.LastActivityAt, now)
	}
}
