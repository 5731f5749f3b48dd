// SessionGuard - Session Risk & Anomaly Detection Engine
// Copyright 2026 Perimetra Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perimetra/sessionguard

// Command server runs the SessionGuard engine: aggregation loops, the
// impossible-travel detection sweep, and the operator HTTP API under one
// supervision tree.
//
// The engine does not authenticate users and exposes no login ingestion
// endpoint. The authentication collaborator embeds the engine packages in
// its own process: it writes sessions and login events through
// session.Store, calls detection.Detector.OnNewLogin on each login for live
// evaluation, and raises threats via lifecycle.Manager.Report. Because the
// durable store is embedded BadgerDB (single-process), production
// deployments run this supervision tree inside the authenticating process
// rather than as a separate binary; run standalone, the binary serves the
// operator surface over whatever the store holds, with the periodic sweep
// as the only detection path.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/perimetra/sessionguard/internal/aggregator"
	"github.com/perimetra/sessionguard/internal/api"
	"github.com/perimetra/sessionguard/internal/config"
	"github.com/perimetra/sessionguard/internal/detection"
	"github.com/perimetra/sessionguard/internal/geo"
	"github.com/perimetra/sessionguard/internal/lifecycle"
	"github.com/perimetra/sessionguard/internal/logging"
	"github.com/perimetra/sessionguard/internal/revocation"
	"github.com/perimetra/sessionguard/internal/risk"
	"github.com/perimetra/sessionguard/internal/session"
	"github.com/perimetra/sessionguard/internal/supervisor"
	"github.com/perimetra/sessionguard/internal/supervisor/services"
)

// sweepInterval is how often the retroactive detection sweep runs. The sweep
// window itself comes from configuration.
const sweepInterval = time.Hour

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("server exited")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("addr", cfg.Server.Addr()).
		Bool("durable", cfg.Store.Path != "").
		Msg("starting sessionguard")

	// Stores. An empty path selects in-memory stores for development.
	var (
		sessions session.Store
		alerts   detection.AlertStore
		threats  lifecycle.ThreatStore
		db       *badger.DB
	)
	if cfg.Store.Path != "" {
		opts := badger.DefaultOptions(cfg.Store.Path).WithLogger(nil)
		db, err = badger.Open(opts)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := db.Close(); cerr != nil {
				logging.Error().Err(cerr).Msg("failed to close store")
			}
		}()
		sessions = session.NewBadgerStore(db)
		alerts = detection.NewBadgerAlertStore(db)
		threats = lifecycle.NewBadgerThreatStore(db)
	} else {
		sessions = session.NewMemoryStore()
		alerts = detection.NewMemoryAlertStore()
		threats = lifecycle.NewMemoryThreatStore()
	}

	registry := session.NewRegistry(sessions)
	scorer := risk.NewScorer(cfg.Risk.SuspiciousWeight, cfg.Risk.MaxScore)

	var resolver geo.Resolver
	if cfg.Geo.Enabled {
		resolver = geo.NewHTTPResolver(geo.HTTPResolverConfig{
			URLFormat:         cfg.Geo.URL,
			Timeout:           cfg.Geo.Timeout,
			RequestsPerSecond: cfg.Geo.RequestsPerSecond,
		})
	}

	detector := detection.NewDetector(detection.Config{
		HighSpeedKmh:     cfg.Detection.HighSpeedKmh,
		CriticalSpeedKmh: cfg.Detection.CriticalSpeedKmh,
		MinDistanceKm:    cfg.Detection.MinDistanceKm,
		OpTimeout:        cfg.Detection.OpTimeout,
	}, sessions, alerts, resolver)

	coordinator := revocation.NewCoordinator(sessions, registry, cfg.Revocation.OpTimeout)
	manager := lifecycle.NewManager(threats, alerts, coordinator)

	agg := aggregator.New(registry, sessions, scorer, aggregator.Config{
		StatsInterval:     cfg.Aggregator.StatsInterval,
		TimelineInterval:  cfg.Aggregator.TimelineInterval,
		RecentLoginWindow: cfg.Aggregator.RecentLoginWindow,
		TickTimeout:       cfg.Aggregator.TickTimeout,
	})

	handler := api.NewHandler(agg, alerts, threats, manager, coordinator, registry)
	router := api.NewRouter(handler, cfg.Server)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	slogger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	treeConfig := supervisor.DefaultTreeConfig()
	treeConfig.ShutdownTimeout = cfg.Server.ShutdownTimeout
	tree := supervisor.NewTree(slogger, treeConfig)

	tree.AddEngineService(services.NewLoopService("aggregator-stats", agg.ServeStats))
	tree.AddEngineService(services.NewLoopService("aggregator-timeline", agg.ServeTimeline))
	tree.AddEngineService(services.NewSweepService(detector, sweepInterval, cfg.Detection.SweepWindow))
	if db != nil {
		tree.AddEngineService(services.NewLoopService("badger-gc", badgerGC(db, cfg.Store.GCInterval)))
	}
	tree.AddAPIService(services.NewHTTPService(httpServer, cfg.Server.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logging.Info().Msg("sessionguard stopped")
	return nil
}

// badgerGC returns a loop that periodically runs Badger's value-log garbage
// collector. ErrNoRewrite just means there was nothing to collect.
func badgerGC(db *badger.DB, interval time.Duration) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if err := db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
					logging.Warn().Err(err).Msg("value log GC failed")
				}
			}
		}
	}
}
