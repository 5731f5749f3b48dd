// SessionGuard - Session Risk & Anomaly Detection Engine
// Copyright 2026 Perimetra Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perimetra/sessionguard

// Package metrics provides Prometheus metrics for SessionGuard observability.
//
// Metrics are exposed at /metrics in Prometheus text format.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionguard_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sessionguard_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Aggregator metrics

	TickDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sessionguard_tick_duration_seconds",
			Help:    "Duration of live aggregator ticks in seconds",
			Buckets: []float64{.01, .05, .1, .5, 1, 2, 5, 10},
		},
		[]string{"consumer"},
	)

	TicksStale = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionguard_ticks_stale_total",
			Help: "Ticks discarded because a newer tick superseded them",
		},
		[]string{"consumer"},
	)

	TickErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionguard_tick_errors_total",
			Help: "Ticks skipped due to store errors",
		},
		[]string{"consumer"},
	)

	// Detection metrics

	LoginsEvaluated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sessionguard_logins_evaluated_total",
			Help: "Login events evaluated by the impossible-travel detector",
		},
	)

	TravelAlertsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionguard_travel_alerts_total",
			Help: "Travel alerts generated",
		},
		[]string{"severity"},
	)

	// Lifecycle metrics

	LifecycleTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionguard_lifecycle_transitions_total",
			Help: "Threat and alert lifecycle transitions",
		},
		[]string{"kind", "to"},
	)

	// Revocation metrics

	RevocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionguard_revocations_total",
			Help: "Session revocations by outcome",
		},
		[]string{"outcome"},
	)

	// Geolocation resolver metrics

	GeoLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionguard_geo_lookups_total",
			Help: "Geolocation lookups by outcome",
		},
		[]string{"outcome"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sessionguard_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"name"},
	)
)
