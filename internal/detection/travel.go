// SessionGuard - Session Risk & Anomaly Detection Engine
// Copyright 2026 Perimetra Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perimetra/sessionguard

package detection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/perimetra/sessionguard/internal/geo"
	"github.com/perimetra/sessionguard/internal/logging"
	"github.com/perimetra/sessionguard/internal/metrics"
	"github.com/perimetra/sessionguard/internal/session"
)

// Config holds impossible-travel detection thresholds.
type Config struct {
	// HighSpeedKmh is the required speed above which travel is flagged.
	// Defaults just above commercial flight speed.
	HighSpeedKmh float64

	// CriticalSpeedKmh upgrades an alert to critical severity. Travel this
	// fast is not physically possible for a person.
	CriticalSpeedKmh float64

	// MinDistanceKm suppresses alerts for short hops where geolocation
	// imprecision dominates (VPN exits, mobile carrier NAT).
	MinDistanceKm float64

	// OpTimeout bounds a single on-demand evaluation, including the
	// resolver enrichment hop. Zero disables the bound.
	OpTimeout time.Duration
}

// DefaultConfig returns the default detection thresholds.
func DefaultConfig() Config {
	return Config{
		HighSpeedKmh:     900,
		CriticalSpeedKmh: 15000,
		MinDistanceKm:    100,
		OpTimeout:        2 * time.Second,
	}
}

// Detector evaluates login events for impossible travel.
//
// Each new login is compared against the same identity's immediately
// preceding login. A login with no usable location is skipped silently;
// absence of data is never treated as an anomaly.
type Detector struct {
	mu  sync.RWMutex
	cfg Config

	sessions session.Store
	alerts   AlertStore
	resolver geo.Resolver

	now func() time.Time
}

// NewDetector creates a detector. resolver may be nil, in which case login
// events missing coordinates are never enriched and are skipped instead.
func NewDetector(cfg Config, sessions session.Store, alerts AlertStore, resolver geo.Resolver) *Detector {
	return &Detector{
		cfg:      cfg,
		sessions: sessions,
		alerts:   alerts,
		resolver: resolver,
		now:      time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (d *Detector) WithClock(now func() time.Time) *Detector {
	d.now = now
	return d
}

// UpdateConfig replaces the detection thresholds at runtime.
func (d *Detector) UpdateConfig(cfg Config) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg = cfg
}

// config returns a snapshot of the current thresholds.
func (d *Detector) config() Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

// OnNewLogin evaluates a login event against the identity's previous login.
//
// Returns the created alert, or nil when the pair is not anomalous, not
// evaluable, or an alert for it already exists. Evaluation is idempotent:
// replaying the same login pair never produces a second alert.
func (d *Detector) OnNewLogin(ctx context.Context, ev *session.LoginEvent) (*TravelAlert, error) {
	metrics.LoginsEvaluated.Inc()

	if timeout := d.config().OpTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	curr := *ev
	d.enrich(ctx, &curr)
	if geo.IsUnknownLocation(curr.Latitude, curr.Longitude) {
		logging.Debug().
			Str("identity_id", curr.IdentityID).
			Str("login_id", curr.ID).
			Msg("login has no usable location, skipping travel evaluation")
		return nil, nil
	}

	prev, err := d.sessions.LastLoginBefore(ctx, curr.IdentityID, curr.At)
	if err != nil {
		return nil, fmt.Errorf("lookup previous login: %w", err)
	}
	if prev == nil {
		return nil, nil
	}

	return d.evaluatePair(ctx, prev, &curr)
}

// Sweep re-evaluates consecutive login pairs over the recent window. It
// covers logins that arrived while detection was disabled or that raced the
// live path. Returns the number of new alerts raised.
func (d *Detector) Sweep(ctx context.Context, window time.Duration) (int, error) {
	since := d.now().Add(-window)

	logins, err := d.sessions.ListLoginsSince(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("list recent logins: %w", err)
	}

	// ListLoginsSince is ascending, so per-identity order is preserved.
	byIdentity := make(map[string][]*session.LoginEvent)
	for _, ev := range logins {
		byIdentity[ev.IdentityID] = append(byIdentity[ev.IdentityID], ev)
	}

	created := 0
	for _, events := range byIdentity {
		for i := 1; i < len(events); i++ {
			if ctx.Err() != nil {
				return created, ctx.Err()
			}
			alert, err := d.evaluatePair(ctx, events[i-1], events[i])
			if err != nil {
				logging.Warn().Err(err).
					Str("identity_id", events[i].IdentityID).
					Msg("sweep pair evaluation failed")
				continue
			}
			if alert != nil {
				created++
			}
		}
	}

	if created > 0 {
		logging.Info().
			Int("alerts", created).
			Dur("window", window).
			Msg("detection sweep raised alerts")
	}
	return created, nil
}

// evaluatePair applies the velocity check to one (previous, current) login
// pair and persists an alert when travel is implausible.
func (d *Detector) evaluatePair(ctx context.Context, prev, curr *session.LoginEvent) (*TravelAlert, error) {
	v, ok := geo.Evaluate(
		geo.Sample{Latitude: prev.Latitude, Longitude: prev.Longitude, At: prev.At},
		geo.Sample{Latitude: curr.Latitude, Longitude: curr.Longitude, At: curr.At},
	)
	if !ok {
		return nil, nil
	}

	cfg := d.config()
	if v.DistanceKm < cfg.MinDistanceKm || v.RequiredSpeedKmh <= cfg.HighSpeedKmh {
		return nil, nil
	}

	severity := SeverityHigh
	if v.RequiredSpeedKmh > cfg.CriticalSpeedKmh {
		severity = SeverityCritical
	}

	alert := &TravelAlert{
		ID:         uuid.New().String(),
		IdentityID: curr.IdentityID,
		PairKey:    pairKey(curr.IdentityID, prev.ID, curr.ID),
		From: Endpoint{
			City:      prev.City,
			Country:   prev.Country,
			IPAddress: prev.IPAddress,
			Latitude:  prev.Latitude,
			Longitude: prev.Longitude,
			At:        prev.At,
		},
		To: Endpoint{
			City:      curr.City,
			Country:   curr.Country,
			IPAddress: curr.IPAddress,
			Latitude:  curr.Latitude,
			Longitude: curr.Longitude,
			At:        curr.At,
		},
		DistanceKm:       geo.RoundTo2(v.DistanceKm),
		HoursElapsed:     geo.RoundTo2(v.HoursElapsed),
		RequiredSpeedKmh: geo.RoundTo2(v.RequiredSpeedKmh),
		Severity:         severity,
		Status:           StatusPending,
		CreatedAt:        d.now().UTC(),
	}

	if err := d.alerts.Save(ctx, alert); err != nil {
		if errors.Is(err, ErrDuplicatePair) {
			return nil, nil
		}
		return nil, fmt.Errorf("save alert: %w", err)
	}

	metrics.TravelAlertsGenerated.WithLabelValues(string(severity)).Inc()
	logging.Warn().
		Str("identity_id", alert.IdentityID).
		Str("alert_id", alert.ID).
		Str("severity", string(severity)).
		Float64("distance_km", alert.DistanceKm).
		Float64("required_speed_kmh", alert.RequiredSpeedKmh).
		Str("from", geo.FormatLocation(prev.City, prev.Country)).
		Str("to", geo.FormatLocation(curr.City, curr.Country)).
		Msg("impossible travel detected")

	return alert, nil
}

// enrich fills missing coordinates from the resolver. Resolution failures
// leave the event unchanged; detection then skips it.
func (d *Detector) enrich(ctx context.Context, ev *session.LoginEvent) {
	if d.resolver == nil || ev.IPAddress == "" {
		return
	}
	if geo.HasValidCoordinates(ev.Latitude, ev.Longitude) {
		return
	}

	loc, err := d.resolver.Resolve(ctx, ev.IPAddress)
	if err != nil {
		logging.Debug().Err(err).
			Str("ip", ev.IPAddress).
			Msg("geolocation enrichment failed")
		return
	}
	if loc == nil {
		return
	}

	ev.Latitude = loc.Latitude
	ev.Longitude = loc.Longitude
	if ev.City == "" {
		ev.City = loc.City
	}
	if ev.Country == "" {
		ev.Country = loc.Country
	}
}

// pairKey builds the idempotency key for one evaluated login pair.
func pairKey(identityID, prevID, currID string) string {
	return identityID + "|" + prevID + "|" + currID
}
