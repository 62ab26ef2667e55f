// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Mail triage ingestion service
//
// Entry point for the webhook ingestion service. It:
//  1. Loads configuration from config.yaml and the environment
//  2. Opens the configured store (Postgres, SQLite or DynamoDB)
//  3. Connects to Redis when configured and wraps monitored lookups in a cache
//  4. Seeds monitored addresses from the organization roster
//  5. Serves the webhook and health endpoints
//  6. Handles graceful shutdown on SIGTERM/SIGINT, draining notifications
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bcem/mailtriage/internal/cache"
	"github.com/bcem/mailtriage/internal/config"
	"github.com/bcem/mailtriage/internal/ingest"
	"github.com/bcem/mailtriage/internal/notify"
	"github.com/bcem/mailtriage/internal/participant"
	"github.com/bcem/mailtriage/internal/roster"
	"github.com/bcem/mailtriage/internal/store"
	"github.com/bcem/mailtriage/internal/webhook"
)

const drainTimeout = 15 * time.Second

func main() {
	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	slog.Info("starting mail triage ingestion service",
		"store", cfg.Store.Backend,
		"downstream_mode", cfg.Downstream.Mode,
		"organizations", len(cfg.Organizations),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// --- Store ---
	db, err := store.Open(ctx, cfg.Store)
	if err != nil {
		slog.Error("failed to open store", "backend", cfg.Store.Backend, "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("store ready", "backend", cfg.Store.Backend)

	// --- Connect to Redis (optional) ---
	var rdb *redis.Client
	var lookup participant.Lookup = db
	var seedDst roster.Upserter = db
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		slog.Info("connected to Redis")
		monitored := cache.NewMonitoredCache(rdb, db, cfg.Redis.CacheTTL)
		lookup = monitored
		seedDst = monitored.WriteThrough(db)
	}

	// --- Seed monitored addresses ---
	seeded, err := roster.New(nil).Seed(ctx, seedDst, cfg.Organizations)
	if err != nil {
		slog.Error("failed to seed monitored addresses", "error", err)
		os.Exit(1)
	}
	slog.Info("monitored addresses seeded", "count", seeded)

	// --- Downstream notifier ---
	var queue redis.Cmdable
	if rdb != nil {
		queue = rdb
	}
	notifier, err := notify.New(ctx, cfg, queue)
	if err != nil {
		slog.Error("failed to configure downstream notifications", "error", err)
		os.Exit(1)
	}

	// --- Pipeline ---
	pipeline, err := ingest.New(ingest.Options{
		Store:                 db,
		Monitored:             lookup,
		Notifier:              notifier,
		DefaultOrganizationID: cfg.DefaultOrganizationID,
		NotifyTimeout:         cfg.Downstream.Timeout,
	})
	if err != nil {
		slog.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}

	// --- Webhook server ---
	handler := webhook.NewHandler(pipeline, db)
	ready, stopped, err := webhook.Serve(ctx, cfg.Server.Port, webhook.NewServer(handler, cfg.Server.BodyLimit))
	if err != nil {
		slog.Error("failed to start webhook server", "error", err)
		os.Exit(1)
	}
	<-ready

	// --- Graceful Shutdown ---
	// In-flight requests finish before notifications are drained and the
	// store and Redis are closed.
	<-ctx.Done()
	slog.Info("received shutdown signal")
	<-stopped

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := pipeline.Drain(drainCtx); err != nil {
		slog.Warn("pending notifications abandoned", "error", err)
	}

	slog.Info("ingestion service stopped")
}
