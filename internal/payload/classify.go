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

package payload

import (
	"bytes"
	"encoding/json"
	"strings"
)

// RejectReason names why a payload was filtered out.
type RejectReason string

const (
	ReasonDirectRelay    RejectReason = "direct-relay-skipped"
	ReasonDirectMailbox  RejectReason = "direct-mailbox-provider-skipped"
	ReasonNotFromCollect RejectReason = "not-from-collector"
)

// Decision is the classifier verdict. Event is set only when Accepted.
type Decision struct {
	Accepted bool
	Reason   RejectReason
	Event    Event
}

// envelope is the superset of body fields across all shapes.
type envelope struct {
	Mail     *RelayMail       `json:"mail"`
	Envelope *MailboxEnvelope `json:"envelope"`
	Workmail *Routing         `json:"workmail"`

	Content    string `json:"content"`
	RawMessage string `json:"rawMessage"`

	MessageID      string            `json:"messageId"`
	Timestamp      string            `json:"timestamp"`
	Subject        string            `json:"subject"`
	FlowDirection  string            `json:"flowDirection"`
	OrganizationID string            `json:"organizationId"`
	Headers        map[string]string `json:"headers"`
}

// Classify decides whether body is the authoritative, collector-produced
// representation of a delivery. Only the presence of top-level marker
// fields is inspected. Undecodable bodies are rejected as
// not-from-collector.
func Classify(body []byte) Decision {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return Decision{Reason: ReasonNotFromCollect}
	}

	switch {
	case present(fields["collector"]):
		return Decision{Accepted: true, Event: decodeEvent(body)}
	case present(fields["mail"]) || present(fields["notificationType"]) || isSESSource(fields["eventSource"]):
		return Decision{Reason: ReasonDirectRelay}
	case present(fields["envelope"]) || present(fields["summaryVersion"]):
		return Decision{Reason: ReasonDirectMailbox}
	default:
		return Decision{Reason: ReasonNotFromCollect}
	}
}

// decodeEvent reads the body of an accepted payload. A body whose fields
// have the wrong types yields a malformedEvent, which normalisation
// reports as a schema failure.
func decodeEvent(body []byte) Event {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return malformedEvent{err: err}
	}
	return env.event()
}

func isSESSource(raw json.RawMessage) bool {
	var source string
	if err := json.Unmarshal(raw, &source); err != nil {
		return false
	}
	return strings.EqualFold(source, "aws:ses")
}

// event picks the inner variant of a collector payload.
func (e *envelope) event() Event {
	content := e.Content
	if content == "" {
		content = e.RawMessage
	}

	switch {
	case content != "" || e.Workmail != nil:
		ev := WrappedEvent{
			Mail:           e.Mail,
			Content:        content,
			MessageID:      e.MessageID,
			Timestamp:      e.Timestamp,
			Subject:        e.Subject,
			FlowDirection:  e.FlowDirection,
			OrganizationID: e.OrganizationID,
		}
		if e.Workmail != nil {
			ev.Routing = *e.Workmail
		}
		return ev
	case e.Envelope != nil:
		return MailboxEvent{
			MessageID:      e.MessageID,
			Timestamp:      e.Timestamp,
			Subject:        e.Subject,
			FlowDirection:  e.FlowDirection,
			OrganizationID: e.OrganizationID,
			Envelope:       *e.Envelope,
			Headers:        e.Headers,
		}
	case e.Mail != nil:
		return RelayEvent{Mail: *e.Mail}
	default:
		return WrappedEvent{}
	}
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
