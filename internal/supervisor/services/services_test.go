// SessionGuard - Session Risk & Anomaly Detection Engine
// Copyright 2026 Perimetra Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perimetra/sessionguard

package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestLoopService_DelegatesAndStops(t *testing.T) {
	ran := false
	svc := NewLoopService("test-loop", func(ctx context.Context) error {
		ran = true
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Serve() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
	if !ran {
		t.Error("loop function never ran")
	}
	if svc.String() != "test-loop" {
		t.Errorf("String() = %q", svc.String())
	}
}

type countingSweeper struct {
	calls atomic.Int32
}

func (s *countingSweeper) Sweep(_ context.Context, _ time.Duration) (int, error) {
	s.calls.Add(1)
	return 0, nil
}

func TestSweepService_RunsOnInterval(t *testing.T) {
	sweeper := &countingSweeper{}
	svc := NewSweepService(sweeper, 10*time.Millisecond, time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := svc.Serve(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Serve() error = %v, want deadline exceeded", err)
	}
	if sweeper.calls.Load() == 0 {
		t.Error("sweeper was never invoked")
	}
}

type failingSweeper struct{}

func (failingSweeper) Sweep(context.Context, time.Duration) (int, error) {
	return 0, errors.New("store offline")
}

// A sweep failure ends the pass so the supervisor restarts it with backoff.
func TestSweepService_SurfacesSweepErrors(t *testing.T) {
	svc := NewSweepService(failingSweeper{}, 5*time.Millisecond, time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := svc.Serve(ctx)
	if err == nil || errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Serve() error = %v, want sweep error", err)
	}
}
