// SessionGuard - Session Risk & Anomaly Detection Engine
// Copyright 2026 Perimetra Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perimetra/sessionguard

package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/perimetra/sessionguard/internal/detection"
)

// recordingRevoker captures revocation requests.
type recordingRevoker struct {
	mu         sync.Mutex
	identities []string
}

func (r *recordingRevoker) RevokeIdentity(_ context.Context, identityID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.identities = append(r.identities, identityID)
	return nil
}

func (r *recordingRevoker) revoked() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.identities...)
}

func newTestManager(t *testing.T) (*Manager, ThreatStore, detection.AlertStore, *recordingRevoker) {
	t.Helper()
	threats := NewMemoryThreatStore()
	alerts := detection.NewMemoryAlertStore()
	revoker := &recordingRevoker{}
	m := NewManager(threats, alerts, revoker)
	return m, threats, alerts, revoker
}

func TestManager_ThreatForwardOnly(t *testing.T) {
	m, threats, _, _ := newTestManager(t)
	ctx := context.Background()

	threat, err := m.Report(ctx, ThreatHigh, "impossible_travel", "transatlantic login pair", []string{"alice"})
	require.NoError(t, err)
	require.Equal(t, ThreatActive, threat.Status)

	outcome, err := m.Investigate(ctx, threat.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)

	// Repeating the same request changes nothing.
	outcome, err = m.Investigate(ctx, threat.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomeUnchanged, outcome)

	outcome, err = m.Resolve(ctx, threat.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)

	// Resolved is terminal: further requests are reported no-ops and the
	// record is untouched.
	outcome, err = m.Investigate(ctx, threat.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomeAlreadyTerminal, outcome)

	outcome, err = m.Resolve(ctx, threat.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomeAlreadyTerminal, outcome)

	got, err := threats.Get(ctx, threat.ID)
	require.NoError(t, err)
	require.Equal(t, ThreatResolved, got.Status)
}

func TestManager_BlockResolvesThenRevokes(t *testing.T) {
	m, threats, _, revoker := newTestManager(t)
	ctx := context.Background()

	threat, err := m.Report(ctx, ThreatCritical, "credential_stuffing", "burst of failed logins", []string{"alice", "bob"})
	require.NoError(t, err)

	outcome, err := m.Block(ctx, threat.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)

	got, err := threats.Get(ctx, threat.ID)
	require.NoError(t, err)
	require.Equal(t, ThreatResolved, got.Status)
	require.ElementsMatch(t, []string{"alice", "bob"}, revoker.revoked())

	// Blocking again is a no-op and revokes nothing further.
	outcome, err = m.Block(ctx, threat.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomeAlreadyTerminal, outcome)
	require.Len(t, revoker.revoked(), 2)
}

func TestManager_AlertDismissAndBlock(t *testing.T) {
	m, _, alerts, revoker := newTestManager(t)
	ctx := context.Background()
	now := time.Now().UTC()

	pending := &detection.TravelAlert{
		ID:         "a1",
		IdentityID: "alice",
		PairKey:    "alice|l1|l2",
		Severity:   detection.SeverityHigh,
		Status:     detection.StatusPending,
		CreatedAt:  now,
	}
	require.NoError(t, alerts.Save(ctx, pending))

	outcome, err := m.DismissAlert(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)

	// A dismissed alert cannot be blocked afterwards.
	outcome, err = m.BlockAlert(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, OutcomeAlreadyTerminal, outcome)
	require.Empty(t, revoker.revoked())

	got, err := alerts.Get(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, detection.StatusDismissed, got.Status)

	blocked := &detection.TravelAlert{
		ID:         "a2",
		IdentityID: "bob",
		PairKey:    "bob|l1|l2",
		Severity:   detection.SeverityCritical,
		Status:     detection.StatusPending,
		CreatedAt:  now,
	}
	require.NoError(t, alerts.Save(ctx, blocked))

	outcome, err = m.BlockAlert(ctx, "a2")
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)
	require.Equal(t, []string{"bob"}, revoker.revoked())
}

// Concurrent transitions on the same record are serialized: exactly one
// caller applies each state change.
func TestManager_ConcurrentTransitionsSerialize(t *testing.T) {
	m, threats, _, _ := newTestManager(t)
	ctx := context.Background()

	threat, err := m.Report(ctx, ThreatMedium, "anomalous_activity", "burst of touches", nil)
	require.NoError(t, err)

	const workers = 16
	outcomes := make(chan Outcome, workers)
	errs := make(chan error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := m.Resolve(ctx, threat.ID)
			if err != nil {
				errs <- err
				return
			}
			outcomes <- outcome
		}()
	}
	wg.Wait()
	close(outcomes)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	applied := 0
	for outcome := range outcomes {
		if outcome == OutcomeApplied {
			applied++
		}
	}
	require.Equal(t, 1, applied, "exactly one resolve should apply")

	got, err := threats.Get(ctx, threat.ID)
	require.NoError(t, err)
	require.Equal(t, ThreatResolved, got.Status)
}
