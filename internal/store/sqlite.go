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

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bcem/mailtriage/internal/models"

	_ "modernc.org/sqlite"
)

// SQLite stores email records in a local SQLite database. It suits
// single-node deployments and in-process tests.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and runs migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer keeps conditional inserts serialised and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if err := migrateSQLite(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	slog.Info("sqlite store initialised", "path", path)
	return &SQLite{db: db}, nil
}

func migrateSQLite(ctx context.Context, db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS emails (
	id               TEXT PRIMARY KEY,
	message_id       TEXT NOT NULL UNIQUE,
	organization_id  TEXT NOT NULL DEFAULT '',
	timestamp        TEXT NOT NULL,
	source           TEXT NOT NULL,
	destination      TEXT NOT NULL DEFAULT '[]',
	common_headers   TEXT NOT NULL DEFAULT '{}',
	subject          TEXT NOT NULL DEFAULT '',
	headers          TEXT NOT NULL DEFAULT '{}',
	body             TEXT NOT NULL,
	body_html        TEXT NOT NULL DEFAULT '',
	sender           TEXT NOT NULL DEFAULT '',
	recipients       TEXT NOT NULL DEFAULT '[]',
	direction        TEXT NOT NULL,
	user_id          TEXT NOT NULL,
	urls             TEXT NOT NULL DEFAULT '[]',
	has_threat       INTEGER NOT NULL DEFAULT 0,
	size             INTEGER NOT NULL DEFAULT 0,
	status           TEXT NOT NULL DEFAULT 'received',
	threat_level     TEXT NOT NULL DEFAULT 'none',
	is_phishing      INTEGER NOT NULL DEFAULT 0,
	flagged_category TEXT NOT NULL DEFAULT 'none',
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS monitored_addresses (
	organization_id TEXT NOT NULL,
	address         TEXT NOT NULL,
	PRIMARY KEY (organization_id, address)
);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// InsertEmail writes rec unless a record with the same message ID exists.
func (s *SQLite) InsertEmail(ctx context.Context, rec *models.EmailRecord) (InsertOutcome, error) {
	cols, err := encodeColumns(rec)
	if err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO emails
			(id, message_id, organization_id, timestamp, source, destination,
			 common_headers, subject, headers, body, body_html, sender,
			 recipients, direction, user_id, urls, has_threat, size, status,
			 threat_level, is_phishing, flagged_category, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO NOTHING
	`, rec.ID, rec.MessageID, rec.OrganizationID, rec.Timestamp, rec.Source, cols.destination,
		cols.commonHeaders, rec.Subject, cols.headers, rec.Body, rec.BodyHTML, rec.Sender,
		cols.recipients, string(rec.Direction), rec.UserID, cols.urls, rec.HasThreat, rec.Size, rec.Status,
		rec.ThreatLevel, rec.IsPhishing, string(rec.FlaggedCategory),
		rec.CreatedAt.UTC().Format(timeLayout), rec.UpdatedAt.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("insert email %s: %w", rec.MessageID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("insert email %s: %w", rec.MessageID, err)
	}
	if n == 0 {
		return AlreadyExists, nil
	}
	return Inserted, nil
}

// IsMonitored reports whether address is monitored for orgID.
func (s *SQLite) IsMonitored(ctx context.Context, orgID, address string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM monitored_addresses WHERE organization_id = ? AND address = ?",
		orgID, strings.ToLower(address)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query monitored address: %w", err)
	}
	return n > 0, nil
}

// UpsertMonitored marks address as monitored for orgID.
func (s *SQLite) UpsertMonitored(ctx context.Context, orgID, address string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO monitored_addresses (organization_id, address) VALUES (?, ?)
		ON CONFLICT(organization_id, address) DO NOTHING
	`, orgID, strings.ToLower(address))
	if err != nil {
		return fmt.Errorf("upsert monitored address: %w", err)
	}
	return nil
}

// Ping runs a trivial query against the emails table.
func (s *SQLite) Ping(ctx context.Context) error {
	var n int
	return s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM (SELECT 1 FROM emails LIMIT 1)").Scan(&n)
}

// Close closes the database.
func (s *SQLite) Close() {
	if err := s.db.Close(); err != nil {
		slog.Warn("closing sqlite store", "error", err)
	}
}

// CountEmails returns the number of stored records.
func (s *SQLite) CountEmails(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM emails").Scan(&n)
	return n, err
}

// GetEmail loads the record with messageID, or nil when absent.
func (s *SQLite) GetEmail(ctx context.Context, messageID string) (*models.EmailRecord, error) {
	var (
		rec                                      models.EmailRecord
		dest, common, headers, recipients, urls  string
		direction, flagged, createdAt, updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, message_id, organization_id, timestamp, source, destination,
		       common_headers, subject, headers, body, body_html, sender,
		       recipients, direction, user_id, urls, has_threat, size, status,
		       threat_level, is_phishing, flagged_category, created_at, updated_at
		FROM emails WHERE message_id = ?
	`, messageID).Scan(&rec.ID, &rec.MessageID, &rec.OrganizationID, &rec.Timestamp, &rec.Source, &dest,
		&common, &rec.Subject, &headers, &rec.Body, &rec.BodyHTML, &rec.Sender,
		&recipients, &direction, &rec.UserID, &urls, &rec.HasThreat, &rec.Size, &rec.Status,
		&rec.ThreatLevel, &rec.IsPhishing, &flagged, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rec.Direction = models.Direction(direction)
	rec.FlaggedCategory = models.FlaggedCategory(flagged)
	if err := decodeColumns(&rec, jsonColumns{
		destination:   dest,
		commonHeaders: common,
		headers:       headers,
		recipients:    recipients,
		urls:          urls,
	}); err != nil {
		return nil, err
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}
