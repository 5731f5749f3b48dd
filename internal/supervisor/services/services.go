// SessionGuard - Session Risk & Anomaly Detection Engine
// Copyright 2026 Perimetra Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perimetra/sessionguard

// Package services wraps the engine's long-running components as supervised
// services. The wrappers depend only on small interfaces so this package
// imports none of the engine packages.
package services

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// LoopService supervises any run-until-canceled loop, such as the
// aggregator's stats and timeline tick loops.
type LoopService struct {
	name string
	run  func(ctx context.Context) error
}

// NewLoopService wraps a loop function as a supervised service.
func NewLoopService(name string, run func(ctx context.Context) error) *LoopService {
	return &LoopService{name: name, run: run}
}

// Serve implements suture.Service.
func (s *LoopService) Serve(ctx context.Context) error {
	return s.run(ctx)
}

// String identifies the service in supervisor logs.
func (s *LoopService) String() string {
	return s.name
}

// Sweeper matches the detector's batch re-evaluation method.
type Sweeper interface {
	Sweep(ctx context.Context, window time.Duration) (int, error)
}

// SweepService periodically re-runs detection over the recent login window,
// covering logins that raced the live path or arrived during downtime.
type SweepService struct {
	sweeper  Sweeper
	interval time.Duration
	window   time.Duration
}

// NewSweepService creates a sweep service.
func NewSweepService(sweeper Sweeper, interval, window time.Duration) *SweepService {
	return &SweepService{
		sweeper:  sweeper,
		interval: interval,
		window:   window,
	}
}

// Serve implements suture.Service. Sweep errors end the pass; the supervisor
// restarts the service with backoff.
func (s *SweepService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.sweeper.Sweep(ctx, s.window); err != nil {
				return err
			}
		}
	}
}

// String identifies the service in supervisor logs.
func (s *SweepService) String() string {
	return "detection-sweep"
}

// HTTPService supervises an http.Server, shutting it down gracefully when
// the context ends.
type HTTPService struct {
	server          *http.Server
	shutdownTimeout time.Duration
}

// NewHTTPService wraps an http.Server as a supervised service.
func NewHTTPService(server *http.Server, shutdownTimeout time.Duration) *HTTPService {
	return &HTTPService{
		server:          server,
		shutdownTimeout: shutdownTimeout,
	}
}

// Serve implements suture.Service.
func (s *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	}
}

// String identifies the service in supervisor logs.
func (s *HTTPService) String() string {
	return "http-server"
}
