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
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bcem/mailtriage/internal/models"
)

// Postgres stores email records and monitored addresses in Postgres.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to databaseURL and ensures the schema exists.
func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s, err := NewPostgres(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgres creates a store backed by the given pool. It ensures the
// tables exist on creation.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool) (*Postgres, error) {
	s := &Postgres{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure email schema: %w", err)
	}
	slog.Info("postgres store initialised")
	return s, nil
}

func (s *Postgres) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS emails (
			id               TEXT PRIMARY KEY,
			message_id       TEXT NOT NULL UNIQUE,
			organization_id  TEXT NOT NULL DEFAULT '',
			timestamp        TEXT NOT NULL,
			source           TEXT NOT NULL,
			destination      JSONB NOT NULL DEFAULT '[]',
			common_headers   JSONB NOT NULL DEFAULT '{}',
			subject          TEXT NOT NULL DEFAULT '',
			headers          JSONB NOT NULL DEFAULT '{}',
			body             TEXT NOT NULL,
			body_html        TEXT NOT NULL DEFAULT '',
			sender           TEXT NOT NULL DEFAULT '',
			recipients       JSONB NOT NULL DEFAULT '[]',
			direction        TEXT NOT NULL,
			user_id          TEXT NOT NULL,
			urls             JSONB NOT NULL DEFAULT '[]',
			has_threat       BOOLEAN NOT NULL DEFAULT FALSE,
			size             INTEGER NOT NULL DEFAULT 0,
			status           TEXT NOT NULL DEFAULT 'received',
			threat_level     TEXT NOT NULL DEFAULT 'none',
			is_phishing      BOOLEAN NOT NULL DEFAULT FALSE,
			flagged_category TEXT NOT NULL DEFAULT 'none',
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_emails_org_user ON emails(organization_id, user_id);
		CREATE INDEX IF NOT EXISTS idx_emails_has_threat ON emails(has_threat);

		CREATE TABLE IF NOT EXISTS monitored_addresses (
			organization_id TEXT NOT NULL,
			address         TEXT NOT NULL,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (organization_id, address)
		);
	`)
	return err
}

// InsertEmail writes rec unless a record with the same message ID exists.
func (s *Postgres) InsertEmail(ctx context.Context, rec *models.EmailRecord) (InsertOutcome, error) {
	cols, err := encodeColumns(rec)
	if err != nil {
		return 0, err
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO emails
			(id, message_id, organization_id, timestamp, source, destination,
			 common_headers, subject, headers, body, body_html, sender,
			 recipients, direction, user_id, urls, has_threat, size, status,
			 threat_level, is_phishing, flagged_category, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb, $8, $9::jsonb, $10, $11, $12,
		        $13::jsonb, $14, $15, $16::jsonb, $17, $18, $19, $20, $21, $22, $23, $24)
		ON CONFLICT (message_id) DO NOTHING
	`, rec.ID, rec.MessageID, rec.OrganizationID, rec.Timestamp, rec.Source, cols.destination,
		cols.commonHeaders, rec.Subject, cols.headers, rec.Body, rec.BodyHTML, rec.Sender,
		cols.recipients, string(rec.Direction), rec.UserID, cols.urls, rec.HasThreat, rec.Size, rec.Status,
		rec.ThreatLevel, rec.IsPhishing, string(rec.FlaggedCategory), rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert email %s: %w", rec.MessageID, err)
	}
	if tag.RowsAffected() == 0 {
		return AlreadyExists, nil
	}
	return Inserted, nil
}

// IsMonitored reports whether address is monitored for orgID.
func (s *Postgres) IsMonitored(ctx context.Context, orgID, address string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM monitored_addresses
			WHERE organization_id = $1 AND address = $2
		)
	`, orgID, strings.ToLower(address)).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("query monitored address: %w", err)
	}
	return ok, nil
}

// UpsertMonitored marks address as monitored for orgID.
func (s *Postgres) UpsertMonitored(ctx context.Context, orgID, address string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO monitored_addresses (organization_id, address)
		VALUES ($1, $2)
		ON CONFLICT (organization_id, address) DO NOTHING
	`, orgID, strings.ToLower(address))
	if err != nil {
		return fmt.Errorf("upsert monitored address: %w", err)
	}
	return nil
}

// Ping runs a trivial query against the emails table.
func (s *Postgres) Ping(ctx context.Context) error {
	var n int
	return s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM (SELECT 1 FROM emails LIMIT 1) t`).Scan(&n)
}

// Close releases the pool.
func (s *Postgres) Close() {
	s.pool.Close()
}
