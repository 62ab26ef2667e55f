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
	"encoding/base64"
	"errors"
	"fmt"
	"net/mail"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/bcem/mailtriage/internal/mimeparse"
	"github.com/bcem/mailtriage/internal/models"
)

// ValidationError reports a normalised envelope that is missing required
// fields. It is fatal for the payload that produced it.
type ValidationError struct {
	Kind   models.PayloadKind
	Fields []string
	Err    error
}

func (e *ValidationError) Error() string {
	if len(e.Fields) > 0 {
		return fmt.Sprintf("invalid %s payload: missing or invalid %s", e.Kind, strings.Join(e.Fields, ", "))
	}
	return fmt.Sprintf("invalid %s payload: %v", e.Kind, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Normalize maps an accepted event onto the canonical envelope. Each field
// falls back independently: structured headers, then envelope and routing
// fields, then headers scanned from the embedded raw message. now supplies
// the timestamp of last resort.
func Normalize(ev Event, now func() time.Time) (*models.NormalizedMail, error) {
	var out *models.NormalizedMail
	switch e := ev.(type) {
	case RelayEvent:
		out = normalizeRelay(e)
	case MailboxEvent:
		out = normalizeMailbox(e)
	case WrappedEvent:
		out = normalizeWrapped(e)
	case malformedEvent:
		return nil, &ValidationError{Kind: e.Kind(), Err: e.err}
	default:
		return nil, &ValidationError{Kind: "unknown", Err: errors.New("no payload event")}
	}

	clean(out)

	if out.Timestamp == "" {
		out.Timestamp = now().UTC().Format(time.RFC3339)
	}
	if len(out.CommonHeaders.From) == 0 && out.Source != "" {
		out.CommonHeaders.From = []string{out.Source}
	}
	if len(out.CommonHeaders.To) == 0 {
		out.CommonHeaders.To = out.Destination
	}

	if err := validate.Struct(out); err != nil {
		return nil, validationError(out.Kind, err)
	}
	return out, nil
}

func normalizeRelay(e RelayEvent) *models.NormalizedMail {
	m := e.Mail
	ch := m.CommonHeaders
	return &models.NormalizedMail{
		Kind:        models.KindRelay,
		MessageID:   firstNonEmpty(m.MessageID, trimAngles(ch.MessageID)),
		Timestamp:   firstNonEmpty(m.Timestamp, toRFC3339(ch.Date)),
		Source:      firstNonEmpty(first(ch.From), m.Source),
		Destination: firstList(compact(m.Destination), compact(ch.To)),
		CommonHeaders: models.CommonHeaders{
			From:    compact(ch.From),
			To:      compact(ch.To),
			Subject: ch.Subject,
		},
	}
}

func normalizeMailbox(e MailboxEvent) *models.NormalizedMail {
	headers := lowerKeys(e.Headers)

	var recipients []string
	for _, r := range e.Envelope.Recipients {
		recipients = append(recipients, r.Address)
	}

	headerFrom := headers["from"]
	headerTo := addressList(headers["to"])

	return &models.NormalizedMail{
		Kind:           models.KindMailbox,
		MessageID:      firstNonEmpty(e.MessageID, trimAngles(headers["message-id"])),
		Timestamp:      firstNonEmpty(e.Timestamp, toRFC3339(headers["date"])),
		Source:         firstNonEmpty(headerFrom, e.Envelope.MailFrom.Address),
		Destination:    firstList(compact(recipients), headerTo),
		Direction:      parseDirection(e.FlowDirection),
		OrganizationID: e.OrganizationID,
		Headers:        headers,
		CommonHeaders: models.CommonHeaders{
			From:    compact([]string{headerFrom}),
			To:      headerTo,
			Subject: firstNonEmpty(headers["subject"], e.Subject),
		},
	}
}

func normalizeWrapped(e WrappedEvent) *models.NormalizedMail {
	m := RelayMail{}
	if e.Mail != nil {
		m = *e.Mail
	}
	ch := m.CommonHeaders

	raw := decodeContent(e.Content)
	rawHeaders, _ := mimeparse.SplitHeaders(mimeparse.SplitLines(string(raw)))

	return &models.NormalizedMail{
		Kind: models.KindWrapped,
		MessageID: firstNonEmpty(
			m.MessageID,
			e.Routing.MessageID,
			e.MessageID,
			trimAngles(ch.MessageID),
			trimAngles(rawHeaders["message-id"]),
		),
		Timestamp: firstNonEmpty(
			m.Timestamp,
			e.Timestamp,
			toRFC3339(ch.Date),
			toRFC3339(rawHeaders["date"]),
		),
		Source:         firstNonEmpty(first(ch.From), m.Source, rawHeaders["from"]),
		Destination:    firstList(compact(m.Destination), compact(ch.To), addressList(rawHeaders["to"])),
		Direction:      firstDirection(e.Routing.FlowDirection, e.FlowDirection),
		OrganizationID: firstNonEmpty(e.Routing.OrganizationID, e.OrganizationID),
		RawMessage:     raw,
		CommonHeaders: models.CommonHeaders{
			From:    firstList(compact(ch.From), compact([]string{rawHeaders["from"]})),
			To:      firstList(compact(ch.To), addressList(rawHeaders["to"])),
			Subject: firstNonEmpty(ch.Subject, e.Subject, rawHeaders["subject"]),
		},
	}
}

// decodeContent decodes the embedded base64 raw message. Content that is
// not valid base64 is assumed to be the raw message itself.
func decodeContent(content string) []byte {
	if content == "" {
		return nil
	}
	cleaned := strings.Join(strings.Fields(content), "")
	if raw, err := base64.StdEncoding.DecodeString(cleaned); err == nil {
		return raw
	}
	if raw, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(cleaned, "=")); err == nil {
		return raw
	}
	return []byte(content)
}

func validationError(kind models.PayloadKind, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ValidationError{Kind: kind, Err: err}
	}
	fields := make([]string, 0, len(verrs))
	seen := make(map[string]bool, len(verrs))
	for _, fe := range verrs {
		// Namespace is "NormalizedMail.commonHeaders.from[0]"; drop the type name.
		_, name, _ := strings.Cut(fe.Namespace(), ".")
		if !seen[name] {
			seen[name] = true
			fields = append(fields, name)
		}
	}
	return &ValidationError{Kind: kind, Fields: fields, Err: err}
}

// clean decodes encoded words and strips NUL bytes and invalid UTF-8 from
// every string of the envelope. Header values come straight from the
// sender and storage backends reject NUL.
func clean(m *models.NormalizedMail) {
	m.MessageID = mimeparse.CleanHeader(m.MessageID)
	m.Timestamp = mimeparse.CleanHeader(m.Timestamp)
	m.Source = mimeparse.CleanHeader(m.Source)
	m.OrganizationID = mimeparse.CleanHeader(m.OrganizationID)
	m.Destination = cleanList(m.Destination)
	m.CommonHeaders.From = cleanList(m.CommonHeaders.From)
	m.CommonHeaders.To = cleanList(m.CommonHeaders.To)
	m.CommonHeaders.Subject = mimeparse.CleanHeader(m.CommonHeaders.Subject)
	for k, v := range m.Headers {
		m.Headers[k] = mimeparse.CleanHeader(v)
	}
}

func cleanList(values []string) []string {
	for i, v := range values {
		values[i] = mimeparse.CleanHeader(v)
	}
	return compact(values)
}

// firstDirection returns the first flow value that names a direction.
func firstDirection(flows ...string) models.Direction {
	for _, f := range flows {
		if d := parseDirection(f); d != "" {
			return d
		}
	}
	return ""
}

func parseDirection(flow string) models.Direction {
	switch strings.ToLower(strings.TrimSpace(flow)) {
	case "outbound":
		return models.DirectionOutbound
	case "inbound":
		return models.DirectionInbound
	default:
		return ""
	}
}

// addressList splits a To-style header into bare addresses, falling back
// to a plain comma split when the header is not RFC 5322 clean.
func addressList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	addrs, err := mail.ParseAddressList(raw)
	if err != nil {
		return compact(strings.Split(raw, ","))
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Address)
	}
	return out
}

func toRFC3339(date string) string {
	if strings.TrimSpace(date) == "" {
		return ""
	}
	t, err := mail.ParseDate(date)
	if err != nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func lowerKeys(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[strings.ToLower(k)] = v
	}
	return out
}

func trimAngles(id string) string {
	return strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(id), "<"), ">")
}

func compact(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func first(values []string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func firstList(lists ...[]string) []string {
	for _, l := range lists {
		if len(l) > 0 {
			return l
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
