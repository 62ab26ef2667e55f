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

// Package participant extracts bare addresses from an envelope and decides
// which monitored employee a message belongs to.
package participant

import (
	"context"
	"fmt"
	"strings"

	"github.com/bcem/mailtriage/internal/models"
)

// Lookup reports whether an address belongs to a monitored account.
type Lookup interface {
	IsMonitored(ctx context.Context, orgID, address string) (bool, error)
}

// Resolution is the attribution of one message.
type Resolution struct {
	Sender     string
	Recipients []string
	Direction  models.Direction
	UserID     string

	SenderMonitored     bool
	MonitoredRecipients []string
}

// HasParticipants is false when neither a sender nor a recipient address
// could be extracted.
func (r Resolution) HasParticipants() bool {
	return r.Sender != "" || len(r.Recipients) > 0
}

// Monitored is true when at least one participant is monitored. Messages
// without a monitored participant are not retained.
func (r Resolution) Monitored() bool {
	return r.SenderMonitored || len(r.MonitoredRecipients) > 0
}

// Resolver attributes messages using a monitored-address lookup.
type Resolver struct {
	lookup Lookup
}

// NewResolver creates a Resolver backed by lookup.
func NewResolver(lookup Lookup) *Resolver {
	return &Resolver{lookup: lookup}
}

// Resolve extracts participants from source and destination and consults
// the lookup once for the sender and once per distinct recipient. routing
// is the direction asserted upstream, empty when unknown. Lookup failures
// are returned unchanged in meaning so the caller can fail the delivery.
func (r *Resolver) Resolve(ctx context.Context, orgID, source string, destination []string, routing models.Direction) (Resolution, error) {
	res := Resolution{
		Sender:     ExtractAddress(source),
		Recipients: distinctAddresses(destination),
	}
	if !res.HasParticipants() {
		return res, nil
	}

	if res.Sender != "" {
		ok, err := r.lookup.IsMonitored(ctx, orgID, res.Sender)
		if err != nil {
			return res, fmt.Errorf("looking up sender %s: %w", res.Sender, err)
		}
		res.SenderMonitored = ok
	}
	for _, rcpt := range res.Recipients {
		ok, err := r.lookup.IsMonitored(ctx, orgID, rcpt)
		if err != nil {
			return res, fmt.Errorf("looking up recipient %s: %w", rcpt, err)
		}
		if ok {
			res.MonitoredRecipients = append(res.MonitoredRecipients, rcpt)
		}
	}

	switch routing {
	case models.DirectionOutbound, models.DirectionInbound:
		res.Direction = routing
	default:
		if res.SenderMonitored {
			res.Direction = models.DirectionOutbound
		} else {
			res.Direction = models.DirectionInbound
		}
	}

	res.UserID = res.Sender
	if res.Direction == models.DirectionInbound && len(res.MonitoredRecipients) > 0 {
		res.UserID = res.MonitoredRecipients[0]
	}
	return res, nil
}

// ExtractAddress returns the bare, lower-cased address of a header value
// such as "Name <user@host>". Without angle brackets the whole value is
// used.
func ExtractAddress(s string) string {
	if end := strings.LastIndexByte(s, '>'); end >= 0 {
		if start := strings.LastIndexByte(s[:end], '<'); start >= 0 {
			s = s[start+1 : end]
		}
	}
	return strings.ToLower(strings.TrimSpace(s))
}

func distinctAddresses(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		addr := ExtractAddress(v)
		if addr == "" || seen[addr] {
			continue
		}
		seen[addr] = true
		out = append(out, addr)
	}
	return out
}
