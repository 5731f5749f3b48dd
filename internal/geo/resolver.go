// SessionGuard - Session Risk & Anomaly Detection Engine
// Copyright 2026 Perimetra Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perimetra/sessionguard

package geo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"sync"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/perimetra/sessionguard/internal/logging"
	"github.com/perimetra/sessionguard/internal/metrics"
)

// ErrResolverUnavailable is returned when the resolver backend cannot be
// reached or the circuit breaker is open. Callers treat it as "location
// unknown" for detection purposes.
var ErrResolverUnavailable = errors.New("geolocation resolver unavailable")

// Location is the resolved geographic information for a network address.
type Location struct {
	IPAddress string  `json:"ip_address"`
	City      string  `json:"city,omitempty"`
	Country   string  `json:"country"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Resolver resolves a network address to an approximate location.
// Resolution is best-effort: a nil Location with nil error means "unknown".
type Resolver interface {
	Resolve(ctx context.Context, ipAddress string) (*Location, error)
}

// HTTPResolver resolves locations via an external IP geolocation API.
//
// Outbound calls are rate limited and wrapped in a circuit breaker so a slow
// or failing provider cannot stall detection; detection degrades to "no
// alert" when locations are unknown.
type HTTPResolver struct {
	urlFormat string
	client    *http.Client
	limiter   *rate.Limiter
	cb        *gobreaker.CircuitBreaker[*Location]
}

// HTTPResolverConfig configures an HTTPResolver.
type HTTPResolverConfig struct {
	// URLFormat is the endpoint with %s replaced by the IP address.
	URLFormat string

	// Timeout bounds a single lookup.
	Timeout time.Duration

	// RequestsPerSecond limits outbound lookups.
	RequestsPerSecond float64
}

// NewHTTPResolver creates a resolver with circuit breaker protection.
// The breaker opens after a 60% failure rate with at least 10 requests,
// and probes recovery after 2 minutes.
func NewHTTPResolver(cfg HTTPResolverConfig) *HTTPResolver {
	const cbName = "geo-resolver"

	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0)

	cb := gobreaker.NewCircuitBreaker[*Location](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &HTTPResolver{
		urlFormat: cfg.URLFormat,
		client:    &http.Client{Timeout: cfg.Timeout},
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		cb:        cb,
	}
}

// Resolve looks up the location for an IP address.
//
// Private and loopback addresses resolve to nil without a network call.
// Provider failures surface as ErrResolverUnavailable.
func (r *HTTPResolver) Resolve(ctx context.Context, ipAddress string) (*Location, error) {
	if isPrivateAddress(ipAddress) {
		return nil, nil
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("geolocation rate limit: %w", err)
	}

	loc, err := r.cb.Execute(func() (*Location, error) {
		return r.lookup(ctx, ipAddress)
	})
	if err != nil {
		metrics.GeoLookups.WithLabelValues("error").Inc()
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %s", ErrResolverUnavailable, err)
		}
		return nil, fmt.Errorf("%w: resolve %s: %s", ErrResolverUnavailable, ipAddress, err)
	}

	if loc == nil {
		metrics.GeoLookups.WithLabelValues("unknown").Inc()
	} else {
		metrics.GeoLookups.WithLabelValues("ok").Inc()
	}
	return loc, nil
}

// lookup performs the HTTP call against the provider.
func (r *HTTPResolver) lookup(ctx context.Context, ipAddress string) (*Location, error) {
	url := fmt.Sprintf(r.urlFormat, ipAddress)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Status  string  `json:"status"`
		Country string  `json:"country"`
		City    string  `json:"city"`
		Lat     float64 `json:"lat"`
		Lon     float64 `json:"lon"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	// Provider reports failures in-band; treat them as unknown, not errors.
	if body.Status != "" && body.Status != "success" {
		return nil, nil
	}
	if IsUnknownLocation(body.Lat, body.Lon) {
		return nil, nil
	}

	return &Location{
		IPAddress: ipAddress,
		City:      body.City,
		Country:   body.Country,
		Latitude:  body.Lat,
		Longitude: body.Lon,
	}, nil
}

// isPrivateAddress reports whether the address is loopback, link-local, or
// RFC 1918 private space, which no public provider can locate.
func isPrivateAddress(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	return addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast()
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}

// StaticResolver resolves from a fixed table. Used in development mode and
// tests where no outbound lookups are wanted.
type StaticResolver struct {
	mu        sync.RWMutex
	locations map[string]*Location
}

// NewStaticResolver creates an empty static resolver.
func NewStaticResolver() *StaticResolver {
	return &StaticResolver{locations: make(map[string]*Location)}
}

// Add registers a location for an IP address.
func (r *StaticResolver) Add(loc *Location) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locations[loc.IPAddress] = loc
}

// Resolve returns the registered location, or nil if unknown.
func (r *StaticResolver) Resolve(_ context.Context, ipAddress string) (*Location, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.locations[ipAddress], nil
}
