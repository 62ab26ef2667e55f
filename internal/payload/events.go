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

// Package payload classifies incoming webhook bodies and normalises the
// accepted ones into a single NormalizedMail envelope.
//
// Upstream relay infrastructure delivers the same logical email through
// several channels. Only the collector-wrapped event is authoritative;
// direct relay and direct mailbox-provider notifications are filtered out
// before any parsing happens.
package payload

import "github.com/bcem/mailtriage/internal/models"

// Event is one of the closed set of upstream payload shapes.
type Event interface {
	Kind() models.PayloadKind
}

// CommonHeaders is the relay-style structured header block.
type CommonHeaders struct {
	From      []string `json:"from"`
	To        []string `json:"to"`
	Subject   string   `json:"subject"`
	MessageID string   `json:"messageId"`
	Date      string   `json:"date"`
}

// RelayMail is the "mail" object of a relay notification.
type RelayMail struct {
	MessageID     string        `json:"messageId"`
	Timestamp     string        `json:"timestamp"`
	Source        string        `json:"source"`
	Destination   []string      `json:"destination"`
	CommonHeaders CommonHeaders `json:"commonHeaders"`
}

// MailboxAddress is an address entry in a mailbox-provider envelope.
type MailboxAddress struct {
	Address string `json:"address"`
}

// MailboxEnvelope carries SMTP envelope data from a mailbox provider.
type MailboxEnvelope struct {
	MailFrom   MailboxAddress   `json:"mailFrom"`
	Recipients []MailboxAddress `json:"recipients"`
}

// Routing is the workmail-style routing metadata added by the collector.
type Routing struct {
	MessageID      string `json:"messageId"`
	OrganizationID string `json:"organizationId"`
	FlowDirection  string `json:"flowDirection"`
}

// RelayEvent is shape (a): a relay notification forwarded by the collector.
type RelayEvent struct {
	Mail RelayMail
}

// MailboxEvent is shape (b): a mailbox-provider event forwarded by the collector.
type MailboxEvent struct {
	MessageID      string
	Timestamp      string
	Subject        string
	FlowDirection  string
	OrganizationID string
	Envelope       MailboxEnvelope
	Headers        map[string]string
}

// WrappedEvent is shape (c): a relay event with the raw message embedded
// (base64) and routing metadata attached by the collector. The top-level
// fields are the collector's own copies, used when mail and routing are
// silent.
type WrappedEvent struct {
	Mail    *RelayMail
	Content string
	Routing Routing

	MessageID      string
	Timestamp      string
	Subject        string
	FlowDirection  string
	OrganizationID string
}

func (RelayEvent) Kind() models.PayloadKind   { return models.KindRelay }
func (MailboxEvent) Kind() models.PayloadKind { return models.KindMailbox }
func (WrappedEvent) Kind() models.PayloadKind { return models.KindWrapped }

// malformedEvent is an accepted payload whose body could not be decoded.
type malformedEvent struct {
	err error
}

func (malformedEvent) Kind() models.PayloadKind { return models.KindWrapped }
