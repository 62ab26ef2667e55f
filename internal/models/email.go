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

// Package models defines the data structures shared across the ingestion service.
package models

import "time"

// Direction is the flow of a message relative to the monitored organisation.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// FlaggedCategory records who (if anyone) flagged a record for review.
// Only the default is set here; triage workflows mutate it later.
type FlaggedCategory string

const (
	FlaggedNone   FlaggedCategory = "none"
	FlaggedAI     FlaggedCategory = "ai"
	FlaggedManual FlaggedCategory = "manual"
	FlaggedClean  FlaggedCategory = "clean"
)

// Defaults applied to every newly ingested record.
const (
	DefaultStatus      = "received"
	DefaultThreatLevel = "none"
)

// PayloadKind identifies which upstream shape a NormalizedMail came from.
type PayloadKind string

const (
	KindRelay   PayloadKind = "relay"
	KindMailbox PayloadKind = "mailbox"
	KindWrapped PayloadKind = "wrapped"
)

// CommonHeaders mirrors the relay-style structured header block.
type CommonHeaders struct {
	From    []string `json:"from" validate:"required,min=1,dive,required"`
	To      []string `json:"to" validate:"required,min=1,dive,required"`
	Subject string   `json:"subject"`
}

// NormalizedMail is the provider-independent envelope produced by the
// payload normalizer. MessageID is the idempotency key.
type NormalizedMail struct {
	MessageID     string        `json:"messageId" validate:"required"`
	Timestamp     string        `json:"timestamp" validate:"required"`
	Source        string        `json:"source" validate:"required"`
	Destination   []string      `json:"destination" validate:"required,min=1,dive,required"`
	CommonHeaders CommonHeaders `json:"commonHeaders"`

	// Routing context; not part of the validated envelope.
	Kind           PayloadKind       `json:"-"`
	Direction      Direction         `json:"-"` // empty when upstream did not say
	OrganizationID string            `json:"-"`
	RawMessage     []byte            `json:"-"`
	Headers        map[string]string `json:"-"`
}

// ParsedMessage is the output of the MIME parser. Body is never empty.
type ParsedMessage struct {
	Headers  map[string]string `json:"headers"`
	Body     string            `json:"body"`
	BodyHTML string            `json:"bodyHtml,omitempty"`

	// Strategy names the extraction step that produced Body.
	Strategy   string  `json:"-"`
	Confidence float64 `json:"-"`
}

// EmailRecord is the persisted entity, created once per MessageID.
type EmailRecord struct {
	ID             string `json:"id"`
	MessageID      string `json:"messageId"`
	OrganizationID string `json:"organizationId,omitempty"`

	Timestamp     string        `json:"timestamp"`
	Source        string        `json:"source"`
	Destination   []string      `json:"destination"`
	CommonHeaders CommonHeaders `json:"commonHeaders"`
	Subject       string        `json:"subject"`

	Headers  map[string]string `json:"headers"`
	Body     string            `json:"body"`
	BodyHTML string            `json:"bodyHtml,omitempty"`

	Sender     string    `json:"sender"`
	Recipients []string  `json:"recipients"`
	Direction  Direction `json:"direction"`
	UserID     string    `json:"userId"`

	URLs      []string `json:"urls"`
	HasThreat bool     `json:"hasThreat"`
	Size      int      `json:"size"`

	Status          string          `json:"status"`
	ThreatLevel     string          `json:"threatLevel"`
	IsPhishing      bool            `json:"isPhishing"`
	FlaggedCategory FlaggedCategory `json:"flaggedCategory"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
