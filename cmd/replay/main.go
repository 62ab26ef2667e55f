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

// Mail triage payload replay command
//
// Standalone CLI tool that re-feeds saved webhook payloads through the
// ingestion pipeline. Already-ingested messages are reported as
// duplicates, so an archive can be replayed safely after an outage.
//
// Usage:
//
//	go run ./cmd/replay/ --dir <payload dir> [--workers 4] [--notify]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bcem/mailtriage/internal/config"
	"github.com/bcem/mailtriage/internal/ingest"
	"github.com/bcem/mailtriage/internal/notify"
	"github.com/bcem/mailtriage/internal/replay"
	"github.com/bcem/mailtriage/internal/store"
)

func main() {
	// --- CLI Flags ---
	dirFlag := flag.String("dir", "", "Directory of saved *.json webhook payloads (required)")
	workersFlag := flag.Int("workers", 4, "Number of payloads processed concurrently")
	notifyFlag := flag.Bool("notify", false, "Send downstream notifications for replayed messages")
	flag.Parse()

	if *dirFlag == "" {
		fmt.Fprintf(os.Stderr, "Error: --dir is required\n\n")
		flag.Usage()
		os.Exit(1)
	}

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	files, err := replay.Files(*dirFlag)
	if err != nil {
		slog.Error("failed to list payloads", "error", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		slog.Error("no payloads to replay", "dir", *dirFlag)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	db, err := store.Open(ctx, cfg.Store)
	if err != nil {
		slog.Error("failed to open store", "backend", cfg.Store.Backend, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	var notifier notify.Notifier = notify.Nop{}
	if *notifyFlag {
		var queue redis.Cmdable
		if cfg.Redis.URL != "" {
			opt, err := redis.ParseURL(cfg.Redis.URL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "error", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			defer rdb.Close()
			queue = rdb
		}
		notifier, err = notify.New(ctx, cfg, queue)
		if err != nil {
			slog.Error("failed to configure downstream notifications", "error", err)
			os.Exit(1)
		}
	}

	pipeline, err := ingest.New(ingest.Options{
		Store:                 db,
		Monitored:             db,
		Notifier:              notifier,
		DefaultOrganizationID: cfg.DefaultOrganizationID,
		NotifyTimeout:         cfg.Downstream.Timeout,
	})
	if err != nil {
		slog.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}

	// --- Run Replay ---
	result, err := replay.NewRunner(pipeline, *workersFlag).Run(ctx, files)

	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if derr := pipeline.Drain(drainCtx); derr != nil {
		slog.Warn("pending notifications abandoned", "error", derr)
	}

	if err != nil {
		slog.Error("replay failed", "error", err)
		os.Exit(1)
	}

	// --- Summary ---
	for status, n := range result.Counts {
		slog.Info("replay result", "status", status, "count", n)
	}
	for _, path := range result.Failed {
		slog.Warn("payload not replayed", "file", path)
	}
	if result.Errors > 0 {
		os.Exit(2)
	}
}
