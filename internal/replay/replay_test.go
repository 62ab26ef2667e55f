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

package replay

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcem/mailtriage/internal/ingest"
	"github.com/bcem/mailtriage/internal/store"
)

// "Subject: Hi\nContent-Type: text/plain\n\nHello world"
const helloRaw = "U3ViamVjdDogSGkKQ29udGVudC1UeXBlOiB0ZXh0L3BsYWluCgpIZWxsbyB3b3JsZA=="

func writePayload(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func collectorPayload(messageID string) string {
	return fmt.Sprintf(`{"collector":"relay-collector","mail":{"messageId":%q,"source":"x@ext.com","destination":["a@co.com"]},"content":%q}`,
		messageID, helloRaw)
}

type statusProcessor struct{}

// Process answers with the status named in the body, or fails on "boom".
func (statusProcessor) Process(_ context.Context, body []byte) (*ingest.Result, error) {
	s := strings.TrimSpace(string(body))
	if s == "boom" {
		return nil, errors.New("boom")
	}
	return &ingest.Result{Status: ingest.Status(s)}, nil
}

func TestFiles_OnlyJSONInNameOrder(t *testing.T) {
	dir := t.TempDir()
	writePayload(t, dir, "b.json", "{}")
	writePayload(t, dir, "a.json", "{}")
	writePayload(t, dir, "notes.txt", "ignored")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.json.d"), 0o700))

	files, err := Files(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.json"), filepath.Join(dir, "b.json")}, files)
}

func TestRun_CountsByStatus(t *testing.T) {
	dir := t.TempDir()
	var files []string
	for i, status := range []string{"processed", "processed", "duplicate_skipped", "filtered_out", "skipped"} {
		files = append(files, writePayload(t, dir, fmt.Sprintf("%d.json", i), status))
	}
	failed := writePayload(t, dir, "fail.json", "boom")
	files = append(files, failed, filepath.Join(dir, "missing.json"))

	res, err := NewRunner(statusProcessor{}, 3).Run(context.Background(), files)
	require.NoError(t, err)

	assert.Equal(t, 7, res.Files)
	assert.Equal(t, 2, res.Counts[ingest.StatusProcessed])
	assert.Equal(t, 1, res.Counts[ingest.StatusDuplicate])
	assert.Equal(t, 1, res.Counts[ingest.StatusFilteredOut])
	assert.Equal(t, 1, res.Counts[ingest.StatusSkipped])
	assert.Equal(t, 2, res.Errors)
	assert.ElementsMatch(t, []string{failed, filepath.Join(dir, "missing.json")}, res.Failed)
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := NewRunner(statusProcessor{}, 1).Run(ctx, []string{"a.json", "b.json"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, res.Files)
}

func TestNewRunner_DefaultWorkers(t *testing.T) {
	assert.Equal(t, defaultWorkers, NewRunner(statusProcessor{}, 0).workers)
}

// TestRun_ReplayIsIdempotent replays the same archive twice through a real
// pipeline; the second pass only finds duplicates.
func TestRun_ReplayIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db, err := store.OpenSQLite(ctx, filepath.Join(t.TempDir(), "mail.db"))
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.UpsertMonitored(ctx, "org-1", "a@co.com"))

	pipeline, err := ingest.New(ingest.Options{
		Store:                 db,
		Monitored:             db,
		DefaultOrganizationID: "org-1",
	})
	require.NoError(t, err)

	dir := t.TempDir()
	for i := range 5 {
		writePayload(t, dir, fmt.Sprintf("m-%d.json", i), collectorPayload(fmt.Sprintf("m-%d", i)))
	}
	files, err := Files(dir)
	require.NoError(t, err)

	runner := NewRunner(pipeline, 2)

	first, err := runner.Run(ctx, files)
	require.NoError(t, err)
	assert.Equal(t, 5, first.Counts[ingest.StatusProcessed])

	second, err := runner.Run(ctx, files)
	require.NoError(t, err)
	assert.Equal(t, 5, second.Counts[ingest.StatusDuplicate])
	assert.Zero(t, second.Counts[ingest.StatusProcessed])

	n, err := db.CountEmails(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	drainCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, pipeline.Drain(drainCtx))
}
