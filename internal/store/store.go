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

// Package store persists email records and answers monitored-address
// lookups. Postgres, SQLite and DynamoDB backends share one contract: a
// record is inserted at most once per message ID.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bcem/mailtriage/internal/config"
	"github.com/bcem/mailtriage/internal/models"
)

// InsertOutcome reports the result of a conditional insert.
type InsertOutcome int

const (
	// Inserted means the record was written.
	Inserted InsertOutcome = iota
	// AlreadyExists means a record with the same message ID was already
	// persisted. It is a success path for redelivered events.
	AlreadyExists
)

func (o InsertOutcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case AlreadyExists:
		return "already_exists"
	default:
		return fmt.Sprintf("InsertOutcome(%d)", int(o))
	}
}

// ErrUnknownBackend is returned by Open for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown store backend")

// EmailStore writes email records.
type EmailStore interface {
	InsertEmail(ctx context.Context, rec *models.EmailRecord) (InsertOutcome, error)
}

// MonitoredLookup reports whether an address belongs to a monitored account
// of an organization.
type MonitoredLookup interface {
	IsMonitored(ctx context.Context, orgID, address string) (bool, error)
}

// Store is the full persistence collaborator used by the service.
type Store interface {
	EmailStore
	MonitoredLookup

	// UpsertMonitored marks address as monitored for orgID.
	UpsertMonitored(ctx context.Context, orgID, address string) error
	// Ping performs a cheap read to confirm the backend is reachable.
	Ping(ctx context.Context) error
	Close()
}

// Open builds the backend named by cfg.Backend.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		return OpenPostgres(ctx, cfg.DatabaseURL)
	case config.BackendSQLite:
		return OpenSQLite(ctx, cfg.SQLitePath)
	case config.BackendDynamoDB:
		return OpenDynamo(ctx, cfg.DynamoDB)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

// jsonColumns holds the JSON-encoded list and map columns of a record,
// shared by the SQL backends.
type jsonColumns struct {
	destination   string
	commonHeaders string
	headers       string
	recipients    string
	urls          string
}

func encodeColumns(rec *models.EmailRecord) (jsonColumns, error) {
	var cols jsonColumns
	fields := []struct {
		dst *string
		v   any
	}{
		{&cols.destination, nonNil(rec.Destination)},
		{&cols.commonHeaders, rec.CommonHeaders},
		{&cols.headers, rec.Headers},
		{&cols.recipients, nonNil(rec.Recipients)},
		{&cols.urls, nonNil(rec.URLs)},
	}
	for _, f := range fields {
		b, err := json.Marshal(f.v)
		if err != nil {
			return cols, fmt.Errorf("encode record columns: %w", err)
		}
		*f.dst = string(b)
	}
	if cols.headers == "null" {
		cols.headers = "{}"
	}
	return cols, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func decodeColumns(rec *models.EmailRecord, cols jsonColumns) error {
	fields := []struct {
		src string
		dst any
	}{
		{cols.destination, &rec.Destination},
		{cols.commonHeaders, &rec.CommonHeaders},
		{cols.headers, &rec.Headers},
		{cols.recipients, &rec.Recipients},
		{cols.urls, &rec.URLs},
	}
	for _, f := range fields {
		if err := json.Unmarshal([]byte(f.src), f.dst); err != nil {
			return fmt.Errorf("decode record columns: %w", err)
		}
	}
	return nil
}

const timeLayout = time.RFC3339Nano

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}
