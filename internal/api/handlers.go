// SessionGuard - Session Risk & Anomaly Detection Engine
// Copyright 2026 Perimetra Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perimetra/sessionguard

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/perimetra/sessionguard/internal/aggregator"
	"github.com/perimetra/sessionguard/internal/detection"
	"github.com/perimetra/sessionguard/internal/lifecycle"
	"github.com/perimetra/sessionguard/internal/revocation"
	"github.com/perimetra/sessionguard/internal/session"
)

// defaultListLimit caps list endpoints when no limit is given.
const defaultListLimit = 100

var validate = validator.New()

// Handler serves all operator API endpoints.
type Handler struct {
	agg         *aggregator.Aggregator
	alerts      detection.AlertStore
	threats     lifecycle.ThreatStore
	manager     *lifecycle.Manager
	coordinator *revocation.Coordinator
	registry    *session.Registry
	sessions    session.Store
}

// NewHandler creates the API handler.
func NewHandler(
	agg *aggregator.Aggregator,
	alerts detection.AlertStore,
	threats lifecycle.ThreatStore,
	manager *lifecycle.Manager,
	coordinator *revocation.Coordinator,
	registry *session.Registry,
) *Handler {
	return &Handler{
		agg:         agg,
		alerts:      alerts,
		threats:     threats,
		manager:     manager,
		coordinator: coordinator,
		registry:    registry,
		sessions:    registry.Store(),
	}
}

// HealthLive reports process liveness.
func (h *Handler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	respondSuccess(w, http.StatusOK, map[string]string{"status": "alive"}, time.Now())
}

// HealthReady reports whether the store answers reads.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	_, err := h.sessions.Get(r.Context(), "readiness-probe")
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		respondError(w, http.StatusServiceUnavailable, codeStoreError, "session store unavailable", err)
		return
	}
	respondSuccess(w, http.StatusOK, map[string]string{"status": "ready"}, started)
}

// Stats returns the last committed population snapshot.
func (h *Handler) Stats(w http.ResponseWriter, _ *http.Request) {
	started := time.Now()
	respondSuccess(w, http.StatusOK, h.agg.Stats(), started)
}

// RiskProfiles returns per-identity risk profiles from the last committed
// tick. Supported sort orders: name (default), sessions, risk.
func (h *Handler) RiskProfiles(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	sortBy := r.URL.Query().Get("sort")
	switch sortBy {
	case "", aggregator.SortByName, aggregator.SortBySessions, aggregator.SortByRisk:
	default:
		respondError(w, http.StatusBadRequest, codeInvalidRequest,
			"sort must be one of: name, sessions, risk", nil)
		return
	}

	respondSuccess(w, http.StatusOK, h.agg.Profiles(sortBy), started)
}

// TravelAlerts lists travel alerts, optionally filtered by status.
func (h *Handler) TravelAlerts(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	status := detection.AlertStatus(r.URL.Query().Get("status"))
	switch status {
	case "", detection.StatusPending, detection.StatusDismissed, detection.StatusBlocked:
	default:
		respondError(w, http.StatusBadRequest, codeInvalidRequest,
			"status must be one of: pending, dismissed, blocked", nil)
		return
	}

	limit, err := parseLimit(r, defaultListLimit)
	if err != nil {
		respondError(w, http.StatusBadRequest, codeInvalidRequest, err.Error(), nil)
		return
	}

	alerts, err := h.alerts.List(r.Context(), detection.AlertFilter{
		Status:     status,
		IdentityID: r.URL.Query().Get("identity_id"),
		Limit:      limit,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, codeStoreError, "failed to list alerts", err)
		return
	}
	respondSuccess(w, http.StatusOK, alerts, started)
}

// actionResult is the payload for lifecycle transition endpoints.
type actionResult struct {
	ID      string            `json:"id"`
	Outcome lifecycle.Outcome `json:"outcome"`
}

// DismissAlert marks a pending travel alert as reviewed.
func (h *Handler) DismissAlert(w http.ResponseWriter, r *http.Request) {
	h.alertAction(w, r, h.manager.DismissAlert)
}

// BlockAlert blocks a pending travel alert and revokes the identity's
// sessions.
func (h *Handler) BlockAlert(w http.ResponseWriter, r *http.Request) {
	h.alertAction(w, r, h.manager.BlockAlert)
}

func (h *Handler) alertAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, id string) (lifecycle.Outcome, error)) {
	started := time.Now()
	alertID := chi.URLParam(r, "id")

	outcome, err := action(r.Context(), alertID)
	if err != nil {
		if errors.Is(err, detection.ErrAlertNotFound) {
			respondError(w, http.StatusNotFound, codeNotFound, "alert not found", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, codeInternal, "alert action failed", err)
		return
	}
	respondSuccess(w, http.StatusOK, actionResult{ID: alertID, Outcome: outcome}, started)
}

// Threats lists threats, optionally filtered by status.
func (h *Handler) Threats(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	status := lifecycle.ThreatStatus(r.URL.Query().Get("status"))
	switch status {
	case "", lifecycle.ThreatActive, lifecycle.ThreatInvestigating, lifecycle.ThreatResolved:
	default:
		respondError(w, http.StatusBadRequest, codeInvalidRequest,
			"status must be one of: active, investigating, resolved", nil)
		return
	}

	limit, err := parseLimit(r, defaultListLimit)
	if err != nil {
		respondError(w, http.StatusBadRequest, codeInvalidRequest, err.Error(), nil)
		return
	}

	threats, err := h.threats.List(r.Context(), lifecycle.ThreatFilter{Status: status, Limit: limit})
	if err != nil {
		respondError(w, http.StatusInternalServerError, codeStoreError, "failed to list threats", err)
		return
	}
	respondSuccess(w, http.StatusOK, threats, started)
}

// threatActionRequest is the body for POST /threats/{id}/action.
type threatActionRequest struct {
	Action string `json:"action" validate:"required,oneof=investigate block resolve"`
}

// ThreatAction applies a lifecycle action to a threat.
func (h *Handler) ThreatAction(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	threatID := chi.URLParam(r, "id")

	var req threatActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, codeInvalidRequest, "invalid request body", err)
		return
	}
	if err := validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, codeInvalidRequest,
			"action must be one of: investigate, block, resolve", nil)
		return
	}

	var (
		outcome lifecycle.Outcome
		err     error
	)
	switch req.Action {
	case "investigate":
		outcome, err = h.manager.Investigate(r.Context(), threatID)
	case "block":
		outcome, err = h.manager.Block(r.Context(), threatID)
	case "resolve":
		outcome, err = h.manager.Resolve(r.Context(), threatID)
	}
	if err != nil {
		if errors.Is(err, lifecycle.ErrThreatNotFound) {
			respondError(w, http.StatusNotFound, codeNotFound, "threat not found", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, codeInternal, "threat action failed", err)
		return
	}
	respondSuccess(w, http.StatusOK, actionResult{ID: threatID, Outcome: outcome}, started)
}

// RevokeSession revokes one session.
func (h *Handler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	sessionID := chi.URLParam(r, "id")

	if err := h.coordinator.Revoke(r.Context(), sessionID); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			respondError(w, http.StatusNotFound, codeNotFound, "session not found", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, codeStoreError, "revocation failed", err)
		return
	}
	respondSuccess(w, http.StatusOK, map[string]interface{}{
		"id":      sessionID,
		"revoked": true,
	}, started)
}

// RevokeSuspicious revokes all live suspicious sessions and reports partial
// failures. The HTTP status is 200 even on partial failure; callers inspect
// the result body.
func (h *Handler) RevokeSuspicious(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	result, err := h.coordinator.RevokeSuspicious(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, codeStoreError, "failed to list suspicious sessions", err)
		return
	}
	respondSuccess(w, http.StatusOK, result, started)
}

// markSuspiciousRequest is the optional body for POST /sessions/{id}/suspicious.
type markSuspiciousRequest struct {
	Suspicious *bool `json:"suspicious"`
}

// MarkSuspicious flags (or unflags) a session.
func (h *Handler) MarkSuspicious(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	sessionID := chi.URLParam(r, "id")

	suspicious := true
	if r.ContentLength > 0 {
		var req markSuspiciousRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, codeInvalidRequest, "invalid request body", err)
			return
		}
		if req.Suspicious != nil {
			suspicious = *req.Suspicious
		}
	}

	if err := h.sessions.MarkSuspicious(r.Context(), sessionID, suspicious); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			respondError(w, http.StatusNotFound, codeNotFound, "session not found", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, codeStoreError, "failed to flag session", err)
		return
	}
	respondSuccess(w, http.StatusOK, map[string]interface{}{
		"id":         sessionID,
		"suspicious": suspicious,
	}, started)
}

// IdentitySessions lists all sessions for one identity, newest first.
func (h *Handler) IdentitySessions(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	identityID := chi.URLParam(r, "id")

	sessions, err := h.registry.IdentitySessions(r.Context(), identityID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, codeStoreError, "failed to list sessions", err)
		return
	}
	respondSuccess(w, http.StatusOK, sessions, started)
}

// Timeline returns the last committed activity timeline, most recent first.
func (h *Handler) Timeline(w http.ResponseWriter, _ *http.Request) {
	started := time.Now()
	respondSuccess(w, http.StatusOK, h.agg.Timeline(), started)
}
