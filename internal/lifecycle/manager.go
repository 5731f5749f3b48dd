// SessionGuard - Session Risk & Anomaly Detection Engine
// Copyright 2026 Perimetra Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perimetra/sessionguard

package lifecycle

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/perimetra/sessionguard/internal/detection"
	"github.com/perimetra/sessionguard/internal/logging"
	"github.com/perimetra/sessionguard/internal/metrics"
)

// Outcome reports what a lifecycle request did. Requests against records
// already past the requested state are no-ops, not errors: operators retry
// freely and concurrent duplicate actions are harmless.
type Outcome string

// Outcomes.
const (
	// OutcomeApplied means the transition was performed.
	OutcomeApplied Outcome = "applied"

	// OutcomeUnchanged means the record already held the requested state.
	OutcomeUnchanged Outcome = "unchanged"

	// OutcomeAlreadyTerminal means the record is in a terminal state and the
	// request was ignored.
	OutcomeAlreadyTerminal Outcome = "already_terminal"
)

// Revoker terminates an identity's active sessions. Implemented by the
// revocation coordinator; declared here to keep this package free of a
// dependency on it.
type Revoker interface {
	RevokeIdentity(ctx context.Context, identityID string) error
}

// lockStripes bounds lock memory while keeping contention on distinct
// records unlikely.
const lockStripes = 64

// Manager drives the threat and travel-alert state machines.
//
// All transitions on the same record are serialized through striped mutexes,
// so concurrent requests observe a consistent before-state and the stores
// see one writer per record at a time.
type Manager struct {
	threats ThreatStore
	alerts  detection.AlertStore
	revoker Revoker

	locks [lockStripes]sync.Mutex
	now   func() time.Time
}

// NewManager creates a lifecycle manager. revoker may be nil, in which case
// block actions record the transition but revoke nothing.
func NewManager(threats ThreatStore, alerts detection.AlertStore, revoker Revoker) *Manager {
	return &Manager{
		threats: threats,
		alerts:  alerts,
		revoker: revoker,
		now:     time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// lock acquires the stripe for a record ID.
func (m *Manager) lock(id string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &m.locks[h.Sum32()%lockStripes]
}

// Report registers a new active threat and returns it.
func (m *Manager) Report(ctx context.Context, severity ThreatSeverity, category, description string, identities []string) (*Threat, error) {
	threat := &Threat{
		ID:                 uuid.New().String(),
		Severity:           severity,
		Category:           category,
		Description:        description,
		AffectedIdentities: identities,
		Status:             ThreatActive,
		DetectedAt:         m.now().UTC(),
		UpdatedAt:          m.now().UTC(),
	}
	if err := m.threats.Save(ctx, threat); err != nil {
		return nil, fmt.Errorf("report threat: %w", err)
	}
	return threat, nil
}

// Investigate moves a threat from active to investigating.
func (m *Manager) Investigate(ctx context.Context, threatID string) (Outcome, error) {
	return m.transitionThreat(ctx, threatID, ThreatInvestigating)
}

// Resolve moves a threat to resolved from any earlier state.
func (m *Manager) Resolve(ctx context.Context, threatID string) (Outcome, error) {
	return m.transitionThreat(ctx, threatID, ThreatResolved)
}

// Block resolves a threat and revokes every affected identity's active
// sessions. The resolution is persisted before any revocation starts: if the
// process dies in between, the threat is closed and the sweep of a retried
// block (or manual revocation) finishes the cleanup.
func (m *Manager) Block(ctx context.Context, threatID string) (Outcome, error) {
	mu := m.lock(threatID)
	mu.Lock()

	outcome, threat, err := m.applyThreat(ctx, threatID, ThreatResolved)
	mu.Unlock()
	if err != nil || outcome != OutcomeApplied {
		return outcome, err
	}

	if m.revoker == nil {
		return outcome, nil
	}
	for _, identityID := range threat.AffectedIdentities {
		if err := m.revoker.RevokeIdentity(ctx, identityID); err != nil {
			return outcome, fmt.Errorf("revoke identity %s: %w", identityID, err)
		}
	}
	return outcome, nil
}

// transitionThreat performs a forward-only status change under the record's
// stripe lock.
func (m *Manager) transitionThreat(ctx context.Context, threatID string, to ThreatStatus) (Outcome, error) {
	mu := m.lock(threatID)
	mu.Lock()
	defer mu.Unlock()

	outcome, _, err := m.applyThreat(ctx, threatID, to)
	return outcome, err
}

// applyThreat decides and persists one threat transition. Caller holds the
// stripe lock.
func (m *Manager) applyThreat(ctx context.Context, threatID string, to ThreatStatus) (Outcome, *Threat, error) {
	current, err := m.threats.Get(ctx, threatID)
	if err != nil {
		return "", nil, err
	}

	switch {
	case current.Status == to:
		if to.Terminal() {
			return OutcomeAlreadyTerminal, current, nil
		}
		return OutcomeUnchanged, current, nil
	case current.Status.Terminal():
		return OutcomeAlreadyTerminal, current, nil
	case current.Status.rank() > to.rank():
		// Backwards request against a non-terminal record. Forward-only:
		// refuse silently rather than rewind.
		return OutcomeUnchanged, current, nil
	}

	err = m.threats.Update(ctx, threatID, func(t *Threat) {
		t.Status = to
		t.UpdatedAt = m.now().UTC()
	})
	if err != nil {
		return "", nil, err
	}

	metrics.LifecycleTransitions.WithLabelValues("threat", string(to)).Inc()
	logging.Info().
		Str("threat_id", threatID).
		Str("from", string(current.Status)).
		Str("to", string(to)).
		Msg("threat transition")

	current.Status = to
	return OutcomeApplied, current, nil
}

// DismissAlert marks a pending travel alert as reviewed and harmless.
func (m *Manager) DismissAlert(ctx context.Context, alertID string) (Outcome, error) {
	outcome, _, err := m.transitionAlert(ctx, alertID, detection.StatusDismissed)
	return outcome, err
}

// BlockAlert marks a pending travel alert as blocked and revokes the
// identity's active sessions. Like Block, the transition is persisted before
// revocation: blocked-but-not-yet-revoked is recoverable, the reverse is not
// auditable.
func (m *Manager) BlockAlert(ctx context.Context, alertID string) (Outcome, error) {
	outcome, alert, err := m.transitionAlert(ctx, alertID, detection.StatusBlocked)
	if err != nil || outcome != OutcomeApplied {
		return outcome, err
	}

	if m.revoker == nil {
		return outcome, nil
	}
	if err := m.revoker.RevokeIdentity(ctx, alert.IdentityID); err != nil {
		return outcome, fmt.Errorf("revoke identity %s: %w", alert.IdentityID, err)
	}
	return outcome, nil
}

// transitionAlert performs one alert transition under the record's stripe
// lock. The alert store's Transition is itself atomic; the stripe lock keeps
// the read-back and metrics consistent with it.
func (m *Manager) transitionAlert(ctx context.Context, alertID string, to detection.AlertStatus) (Outcome, *detection.TravelAlert, error) {
	mu := m.lock(alertID)
	mu.Lock()
	defer mu.Unlock()

	prev, err := m.alerts.Transition(ctx, alertID, to)
	if err != nil {
		return "", nil, err
	}

	switch {
	case prev == to:
		return OutcomeAlreadyTerminal, nil, nil
	case prev.Terminal():
		return OutcomeAlreadyTerminal, nil, nil
	}

	alert, err := m.alerts.Get(ctx, alertID)
	if err != nil {
		return "", nil, err
	}

	metrics.LifecycleTransitions.WithLabelValues("alert", string(to)).Inc()
	logging.Info().
		Str("alert_id", alertID).
		Str("identity_id", alert.IdentityID).
		Str("to", string(to)).
		Msg("travel alert transition")

	return OutcomeApplied, alert, nil
}
