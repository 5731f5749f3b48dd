// SessionGuard - Session Risk & Anomaly Detection Engine
// Copyright 2026 Perimetra Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perimetra/sessionguard

// Package revocation coordinates single and bulk session revocation.
package revocation

import (
	"context"
	"fmt"
	"time"

	"github.com/perimetra/sessionguard/internal/logging"
	"github.com/perimetra/sessionguard/internal/metrics"
	"github.com/perimetra/sessionguard/internal/session"
)

// FailedRevocation describes one session a bulk operation could not revoke.
type FailedRevocation struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// BulkResult reports the outcome of a bulk revocation. Sessions are revoked
// independently: one failure never aborts the rest, and partial success is
// reported rather than rolled back (a revoked session must stay revoked).
type BulkResult struct {
	Succeeded int                `json:"succeeded"`
	Failed    []FailedRevocation `json:"failed,omitempty"`
}

// PartialFailure reports whether some, but not all, sessions were revoked.
func (r *BulkResult) PartialFailure() bool {
	return r.Succeeded > 0 && len(r.Failed) > 0
}

// Coordinator performs revocations against the session store with a bounded
// per-operation timeout.
type Coordinator struct {
	store     session.Store
	registry  *session.Registry
	opTimeout time.Duration
	now       func() time.Time
}

// NewCoordinator creates a revocation coordinator.
func NewCoordinator(store session.Store, registry *session.Registry, opTimeout time.Duration) *Coordinator {
	return &Coordinator{
		store:     store,
		registry:  registry,
		opTimeout: opTimeout,
		now:       time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// Revoke terminates one session. Idempotent: revoking an already revoked
// session succeeds without touching it, so retries after timeouts are safe.
func (c *Coordinator) Revoke(ctx context.Context, sessionID string) error {
	opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	if err := c.store.Revoke(opCtx, sessionID, c.now().UTC()); err != nil {
		metrics.RevocationsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("revoke session %s: %w", sessionID, err)
	}

	metrics.RevocationsTotal.WithLabelValues("ok").Inc()
	return nil
}

// RevokeAll revokes the given sessions independently. The result accounts
// for every requested ID; callers inspect Failed for partial failures.
func (c *Coordinator) RevokeAll(ctx context.Context, sessionIDs []string) *BulkResult {
	result := &BulkResult{}

	for _, id := range sessionIDs {
		if err := ctx.Err(); err != nil {
			result.Failed = append(result.Failed, FailedRevocation{ID: id, Reason: err.Error()})
			continue
		}
		if err := c.Revoke(ctx, id); err != nil {
			result.Failed = append(result.Failed, FailedRevocation{ID: id, Reason: err.Error()})
			continue
		}
		result.Succeeded++
	}

	if len(result.Failed) > 0 {
		logging.Warn().
			Int("succeeded", result.Succeeded).
			Int("failed", len(result.Failed)).
			Msg("bulk revocation completed with failures")
	} else if result.Succeeded > 0 {
		logging.Info().
			Int("succeeded", result.Succeeded).
			Msg("bulk revocation completed")
	}
	return result
}

// RevokeSuspicious revokes every live session currently flagged suspicious.
// The set is snapshotted first; sessions flagged after the snapshot are left
// for the next invocation.
func (c *Coordinator) RevokeSuspicious(ctx context.Context) (*BulkResult, error) {
	ids, err := c.registry.ActiveSuspicious(ctx)
	if err != nil {
		return nil, fmt.Errorf("list suspicious sessions: %w", err)
	}
	return c.RevokeAll(ctx, ids), nil
}

// RevokeIdentity revokes all of one identity's live sessions. Satisfies the
// lifecycle manager's revoker contract for block actions.
func (c *Coordinator) RevokeIdentity(ctx context.Context, identityID string) error {
	sessions, err := c.store.ListByIdentity(ctx, identityID)
	if err != nil {
		return fmt.Errorf("list sessions for %s: %w", identityID, err)
	}

	now := c.now().UTC()
	var ids []string
	for _, s := range sessions {
		if s.Active(now) {
			ids = append(ids, s.ID)
		}
	}

	result := c.RevokeAll(ctx, ids)
	if len(result.Failed) > 0 {
		return fmt.Errorf("revoke identity %s: %d of %d sessions failed",
			identityID, len(result.Failed), len(ids))
	}
	return nil
}
