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

// Package replay re-feeds saved webhook payloads through the ingestion
// pipeline. It is used to recover from downstream outages and to seed new
// deployments from an archive of captured deliveries. Replaying a payload
// that was already ingested yields duplicate_skipped.
package replay

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bcem/mailtriage/internal/ingest"
)

const defaultWorkers = 4

// Processor runs one payload through the pipeline.
type Processor interface {
	Process(ctx context.Context, body []byte) (*ingest.Result, error)
}

// Result summarises a completed replay run.
type Result struct {
	Files   int
	Counts  map[ingest.Status]int
	Errors  int
	Failed  []string
	Elapsed time.Duration
}

// Runner replays payload files with a bounded worker pool.
type Runner struct {
	pipeline Processor
	workers  int
}

// NewRunner creates a replay runner. workers <= 0 uses the default.
func NewRunner(pipeline Processor, workers int) *Runner {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Runner{pipeline: pipeline, workers: workers}
}

// Files lists the *.json payloads directly under dir in name order.
func Files(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("list payloads in %s: %w", dir, err)
	}
	sort.Strings(matches)
	return matches, nil
}

// Run processes every file. A file that cannot be read or that the pipeline
// rejects with an error is counted and logged; the run continues. Run
// returns an error only when ctx is cancelled.
func (r *Runner) Run(ctx context.Context, files []string) (*Result, error) {
	start := time.Now()
	result := &Result{
		Files:  len(files),
		Counts: make(map[ingest.Status]int),
	}

	slog.Info("starting payload replay", "files", len(files), "workers", r.workers)

	jobs := make(chan string)
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	for range r.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				status, err := r.replayFile(ctx, path)
				mu.Lock()
				if err != nil {
					result.Errors++
					result.Failed = append(result.Failed, path)
				} else {
					result.Counts[status]++
				}
				mu.Unlock()
			}
		}()
	}

feed:
	for _, path := range files {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- path:
		}
	}
	close(jobs)
	wg.Wait()

	sort.Strings(result.Failed)
	result.Elapsed = time.Since(start)

	slog.Info("payload replay complete",
		"files", result.Files,
		"processed", result.Counts[ingest.StatusProcessed],
		"duplicates", result.Counts[ingest.StatusDuplicate],
		"errors", result.Errors,
		"elapsed", result.Elapsed,
	)

	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("replay interrupted: %w", err)
	}
	return result, nil
}

func (r *Runner) replayFile(ctx context.Context, path string) (ingest.Status, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("replay: read payload failed", "file", path, "error", err)
		return "", err
	}

	res, err := r.pipeline.Process(ctx, body)
	if err != nil {
		slog.Warn("replay: payload failed", "file", path, "error", err)
		return "", err
	}

	slog.Debug("replayed payload",
		"file", path,
		"status", res.Status,
		"message_id", res.MessageID,
	)
	return res.Status, nil
}
