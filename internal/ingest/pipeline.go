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

// Package ingest runs one webhook delivery through classification,
// normalisation, MIME parsing, threat scoring, participant resolution and
// idempotent persistence, then fires the downstream notifications.
//
// Upstream delivers at least once. The conditional insert keyed on the
// message ID is the only concurrency guard: a redelivery observes
// AlreadyExists and is reported as duplicate_skipped.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bcem/mailtriage/internal/mimeparse"
	"github.com/bcem/mailtriage/internal/models"
	"github.com/bcem/mailtriage/internal/notify"
	"github.com/bcem/mailtriage/internal/participant"
	"github.com/bcem/mailtriage/internal/payload"
	"github.com/bcem/mailtriage/internal/store"
	"github.com/bcem/mailtriage/internal/threat"
)

// DefaultNotifyTimeout bounds each downstream notification.
const DefaultNotifyTimeout = 10 * time.Second

// Status is the terminal state of one delivery.
type Status string

const (
	StatusFilteredOut Status = "filtered_out"
	StatusSkipped     Status = "skipped"
	StatusDuplicate   Status = "duplicate_skipped"
	StatusProcessed   Status = "processed"
)

// Skip reasons.
const (
	ReasonNoParticipants          = "no-participants"
	ReasonNoMonitoredParticipants = "no-monitored-participants"
)

// Result is the non-error outcome of Process.
type Result struct {
	Status           Status
	Reason           string
	MessageID        string
	Direction        models.Direction
	ThreatsTriggered bool

	// Record is the persisted record when Status is processed.
	Record *models.EmailRecord
}

// MarshalJSON emits only the fields defined for the result's status.
func (r Result) MarshalJSON() ([]byte, error) {
	out := map[string]any{"status": r.Status}
	switch r.Status {
	case StatusFilteredOut, StatusSkipped:
		out["reason"] = r.Reason
	case StatusDuplicate:
		out["messageId"] = r.MessageID
	case StatusProcessed:
		out["messageId"] = r.MessageID
		out["direction"] = r.Direction
		out["threatsTriggered"] = r.ThreatsTriggered
	}
	return json.Marshal(out)
}

// Options configures a Pipeline.
type Options struct {
	Store     store.EmailStore
	Monitored participant.Lookup
	Notifier  notify.Notifier // nil disables notifications

	// DefaultOrganizationID applies when the payload carries no routing
	// organization.
	DefaultOrganizationID string

	NotifyTimeout time.Duration    // zero selects DefaultNotifyTimeout
	Now           func() time.Time // nil selects time.Now
	NewID         func() string    // nil selects uuid.NewString
}

// Pipeline processes webhook bodies. It is safe for concurrent use.
type Pipeline struct {
	store         store.EmailStore
	resolver      *participant.Resolver
	notifier      notify.Notifier
	defaultOrg    string
	notifyTimeout time.Duration
	now           func() time.Time
	newID         func() string

	inflight sync.WaitGroup
}

// New builds a Pipeline from opts.
func New(opts Options) (*Pipeline, error) {
	if opts.Store == nil {
		return nil, errors.New("ingest: store is required")
	}
	if opts.Monitored == nil {
		return nil, errors.New("ingest: monitored lookup is required")
	}

	p := &Pipeline{
		store:         opts.Store,
		resolver:      participant.NewResolver(opts.Monitored),
		notifier:      opts.Notifier,
		defaultOrg:    opts.DefaultOrganizationID,
		notifyTimeout: opts.NotifyTimeout,
		now:           opts.Now,
		newID:         opts.NewID,
	}
	if p.notifier == nil {
		p.notifier = notify.Nop{}
	}
	if p.notifyTimeout <= 0 {
		p.notifyTimeout = DefaultNotifyTimeout
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.newID == nil {
		p.newID = uuid.NewString
	}
	return p, nil
}

// Process runs body through the pipeline. Filtered, skipped and duplicate
// deliveries are results, not errors. A *payload.ValidationError is
// returned for an accepted payload that fails the envelope schema; any
// other error means a collaborator failed and the delivery should be
// retried upstream.
func (p *Pipeline) Process(ctx context.Context, body []byte) (*Result, error) {
	decision := payload.Classify(body)
	if !decision.Accepted {
		slog.Info("payload filtered", "reason", decision.Reason)
		return &Result{Status: StatusFilteredOut, Reason: string(decision.Reason)}, nil
	}

	mail, err := payload.Normalize(decision.Event, p.now)
	if err != nil {
		slog.Error("payload failed validation", "kind", decision.Event.Kind(), "error", err)
		return nil, err
	}
	log := slog.With("message_id", mail.MessageID, "kind", mail.Kind)

	orgID := mail.OrganizationID
	if orgID == "" {
		orgID = p.defaultOrg
	}

	parsed := p.parse(mail)
	scan := threat.ScanMessage(parsed.Body, parsed.BodyHTML)

	res, err := p.resolver.Resolve(ctx, orgID, mail.Source, mail.Destination, mail.Direction)
	if err != nil {
		return nil, fmt.Errorf("resolve participants for %s: %w", mail.MessageID, err)
	}
	if !res.HasParticipants() {
		log.Info("payload skipped", "reason", ReasonNoParticipants)
		return &Result{Status: StatusSkipped, Reason: ReasonNoParticipants}, nil
	}
	if !res.Monitored() {
		log.Info("payload skipped", "reason", ReasonNoMonitoredParticipants, "sender", res.Sender)
		return &Result{Status: StatusSkipped, Reason: ReasonNoMonitoredParticipants}, nil
	}

	rec := p.buildRecord(mail, orgID, parsed, scan, res)

	outcome, err := p.store.InsertEmail(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("persist %s: %w", mail.MessageID, err)
	}
	if outcome == store.AlreadyExists {
		log.Info("duplicate delivery skipped")
		return &Result{Status: StatusDuplicate, MessageID: mail.MessageID}, nil
	}

	log.Info("email ingested",
		"organization_id", orgID,
		"direction", rec.Direction,
		"user_id", rec.UserID,
		"has_threat", rec.HasThreat,
		"urls", len(rec.URLs),
		"parse_strategy", parsed.Strategy,
	)

	p.notifyDownstream(rec)

	return &Result{
		Status:           StatusProcessed,
		MessageID:        rec.MessageID,
		Direction:        rec.Direction,
		ThreatsTriggered: rec.HasThreat,
		Record:           rec,
	}, nil
}

// parse extracts the body from the embedded raw message. Payloads without
// one get the no-content body and whatever headers the envelope carried.
func (p *Pipeline) parse(mail *models.NormalizedMail) models.ParsedMessage {
	if len(mail.RawMessage) > 0 {
		return mimeparse.Parse(mail.RawMessage)
	}
	headers := mail.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	return models.ParsedMessage{Headers: headers, Body: mimeparse.NoContent, Strategy: "none"}
}

func (p *Pipeline) buildRecord(
	mail *models.NormalizedMail,
	orgID string,
	parsed models.ParsedMessage,
	scan threat.Result,
	res participant.Resolution,
) *models.EmailRecord {
	now := p.now().UTC()

	subject := mail.CommonHeaders.Subject
	if subject == "" {
		subject = parsed.Headers["subject"]
	}

	return &models.EmailRecord{
		ID:              p.newID(),
		MessageID:       mail.MessageID,
		OrganizationID:  orgID,
		Timestamp:       mail.Timestamp,
		Source:          mail.Source,
		Destination:     mail.Destination,
		CommonHeaders:   mail.CommonHeaders,
		Subject:         subject,
		Headers:         parsed.Headers,
		Body:            parsed.Body,
		BodyHTML:        parsed.BodyHTML,
		Sender:          res.Sender,
		Recipients:      res.Recipients,
		Direction:       res.Direction,
		UserID:          res.UserID,
		URLs:            scan.URLs,
		HasThreat:       scan.HasThreat,
		Size:            len(parsed.Body),
		Status:          models.DefaultStatus,
		ThreatLevel:     models.DefaultThreatLevel,
		IsPhishing:      false,
		FlaggedCategory: models.FlaggedNone,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// notifyDownstream fires the post-insert notifications on detached
// goroutines. Their outcome never reaches the caller.
func (p *Pipeline) notifyDownstream(rec *models.EmailRecord) {
	if rec.HasThreat {
		p.goNotify(rec, "threat_review", p.notifier.TriggerThreatReview)
	}
	p.goNotify(rec, "graph_update", p.notifier.UpdateRelationshipGraph)
}

func (p *Pipeline) goNotify(rec *models.EmailRecord, name string, fn func(context.Context, *models.EmailRecord) error) {
	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("downstream notification panicked", "notification", name, "message_id", rec.MessageID, "panic", r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), p.notifyTimeout)
		defer cancel()

		if err := fn(ctx, rec); err != nil {
			slog.Warn("downstream notification failed",
				"notification", name,
				"message_id", rec.MessageID,
				"error", err,
			)
			return
		}
		slog.Debug("downstream notification sent", "notification", name, "message_id", rec.MessageID)
	}()
}

// Drain waits for in-flight notifications or until ctx is done.
func (p *Pipeline) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
