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

// Package mimeparse extracts headers and a readable body from raw email
// bytes. It is deliberately lenient: malformed, truncated or mislabelled
// messages still produce a body, and Parse never returns an error.
//
// Extraction runs as an ordered chain of strategies (multipart, single
// part, emergency prose scan). The first strategy that yields a readable
// body wins; if none does, a fixed sentinel is returned.
package mimeparse

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/bcem/mailtriage/internal/models"
)

// NoContent is the body used when nothing readable could be extracted.
const NoContent = "(no readable content)"

const (
	// minReadableLength is the shortest trimmed body a strategy may return
	// before the chain moves on to the next one.
	minReadableLength = 3

	// proseMinLength is the shortest line the emergency scan will keep.
	proseMinLength = 20

	// maxNestedDepth limits descent into multipart parts that are
	// themselves multipart.
	maxNestedDepth = 1
)

var (
	boundaryRe   = regexp.MustCompile(`(?i)boundary\s*=\s*(?:"([^"]+)"|([^\s;"]+))`)
	base64LineRe = regexp.MustCompile(`^[A-Za-z0-9+/]{40,}={0,2}$`)
)

// extraction is one strategy's answer.
type extraction struct {
	strategy   string
	body       string
	html       string
	confidence float64
}

// message is the working state shared by the strategies.
type message struct {
	raw     string
	headers map[string]string
	body    string
}

type strategy struct {
	name string
	run  func(m *message) (extraction, bool)
}

var chain = []strategy{
	{name: "multipart", run: extractMultipart},
	{name: "single-part", run: extractSinglePart},
	{name: "emergency", run: extractProse},
}

// Parse turns raw message bytes into headers and a best-effort body.
// Body is never empty. A panic during parsing is recovered into empty
// headers and a body describing the failure.
func Parse(raw []byte) (msg models.ParsedMessage) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("mime parse failed, using sentinel body", "error", r)
			msg = models.ParsedMessage{
				Headers:  map[string]string{},
				Body:     fmt.Sprintf("(message could not be parsed: %v)", r),
				Strategy: "failed",
			}
		}
	}()

	text := string(raw)
	lines := SplitLines(text)
	headers, bodyStart := SplitHeaders(lines)
	for k, v := range headers {
		headers[k] = sanitize(v)
	}
	if subject, ok := headers["subject"]; ok {
		headers["subject"] = CleanHeader(subject)
	}

	m := &message{
		raw:     strings.Join(lines, "\n"),
		headers: headers,
	}
	if bodyStart < len(lines) {
		m.body = strings.Join(lines[bodyStart:], "\n")
	}

	var html string
	var short *extraction
	for _, s := range chain {
		ex, ok := s.run(m)
		if !ok {
			continue
		}
		ex.strategy = s.name
		ex.body = sanitize(ex.body)
		if html == "" {
			html = sanitize(ex.html)
		}

		trimmed := strings.TrimSpace(ex.body)
		if len(trimmed) >= minReadableLength {
			return result(headers, ex, html)
		}
		if trimmed != "" && short == nil {
			short = &ex
		}
	}

	if short != nil {
		return result(headers, *short, html)
	}
	return models.ParsedMessage{
		Headers:  headers,
		Body:     NoContent,
		BodyHTML: html,
		Strategy: "sentinel",
	}
}

func result(headers map[string]string, ex extraction, html string) models.ParsedMessage {
	return models.ParsedMessage{
		Headers:    headers,
		Body:       ex.body,
		BodyHTML:   html,
		Strategy:   ex.strategy,
		Confidence: ex.confidence,
	}
}

// extractMultipart selects the first text/plain and text/html parts.
func extractMultipart(m *message) (extraction, bool) {
	contentType := m.headers["content-type"]
	if !strings.Contains(strings.ToLower(contentType), "multipart") {
		return extraction{}, false
	}

	boundary := boundaryOf(contentType)
	if boundary == "" {
		boundary = detectBoundary(m.body)
	}
	if boundary == "" {
		return extraction{}, false
	}

	plain, html := selectTextParts(m.body, boundary, 0)
	switch {
	case plain != "":
		return extraction{body: plain, html: html, confidence: 1.0}, true
	case html != "":
		return extraction{body: HTMLToText(html), html: html, confidence: 0.8}, true
	default:
		return extraction{}, false
	}
}

// extractSinglePart decodes a non-multipart body and strips header residue.
func extractSinglePart(m *message) (extraction, bool) {
	if strings.Contains(strings.ToLower(m.headers["content-type"]), "multipart") {
		return extraction{}, false
	}

	content := decodeTransfer(m.body, m.headers["content-transfer-encoding"])
	contentType := strings.ToLower(m.headers["content-type"])
	if strings.Contains(contentType, "text/html") || (contentType == "" && looksLikeHTML(content)) {
		html := strings.TrimSpace(content)
		return extraction{body: stripHeaderResidue(HTMLToText(html)), html: html, confidence: 0.7}, true
	}
	return extraction{body: stripHeaderResidue(content), confidence: 0.9}, true
}

// extractProse scans the whole raw message for lines that read like prose.
func extractProse(m *message) (extraction, bool) {
	var kept []string
	for _, line := range SplitLines(m.raw) {
		line = strings.TrimSpace(line)
		if looksLikeHTML(line) {
			line = HTMLToText(line)
		}
		if isProse(line) {
			kept = append(kept, line)
		}
	}
	if len(kept) == 0 {
		return extraction{}, false
	}
	return extraction{body: strings.Join(kept, "\n"), confidence: 0.3}, true
}

func isProse(line string) bool {
	switch {
	case len(line) <= proseMinLength:
		return false
	case strings.HasPrefix(line, "--"):
		return false
	case strings.Contains(strings.ToLower(line), "boundary="):
		return false
	case base64LineRe.MatchString(line):
		return false
	case isResidueLine(line):
		return false
	}
	_, _, isHeader := headerPair(line)
	return !isHeader
}

// selectTextParts splits body on --boundary and returns the first
// text/plain and text/html contents, transfer-decoded.
func selectTextParts(body, boundary string, depth int) (plain, html string) {
	for _, p := range splitParts(body, boundary) {
		partType := strings.ToLower(p.headers["content-type"])
		if partType == "" {
			partType = "text/plain"
		}
		if strings.HasPrefix(strings.ToLower(p.headers["content-disposition"]), "attachment") {
			continue
		}

		if strings.Contains(partType, "multipart") {
			if depth >= maxNestedDepth {
				continue
			}
			nested := boundaryOf(p.headers["content-type"])
			if nested == "" {
				continue
			}
			np, nh := selectTextParts(p.content, nested, depth+1)
			if plain == "" {
				plain = np
			}
			if html == "" {
				html = nh
			}
			continue
		}

		content := strings.TrimSpace(decodeTransfer(p.content, p.headers["content-transfer-encoding"]))
		switch {
		case strings.Contains(partType, "text/plain") && plain == "":
			plain = content
		case strings.Contains(partType, "text/html") && html == "":
			html = content
		}
	}
	return plain, html
}

type part struct {
	headers map[string]string
	content string
}

func splitParts(body, boundary string) []part {
	segments := strings.Split(body, "--"+boundary)
	if len(segments) < 2 {
		return nil
	}

	var parts []part
	// segments[0] is the preamble.
	for _, seg := range segments[1:] {
		if strings.HasPrefix(seg, "--") {
			break
		}
		// Drop the remainder of the boundary line.
		if nl := strings.IndexByte(seg, '\n'); nl >= 0 {
			seg = seg[nl+1:]
		} else {
			seg = ""
		}
		if isBlank(seg) {
			continue
		}

		lines := SplitLines(seg)
		headers, start := SplitHeaders(lines)
		content := ""
		if start < len(lines) {
			content = strings.Join(lines[start:], "\n")
		}
		parts = append(parts, part{headers: headers, content: content})
	}
	return parts
}

func boundaryOf(contentType string) string {
	m := boundaryRe.FindStringSubmatch(contentType)
	if m == nil {
		return ""
	}
	if m[1] != "" {
		return m[1]
	}
	return m[2]
}

// detectBoundary guesses the boundary from the first "--token" line.
func detectBoundary(body string) string {
	for _, line := range SplitLines(body) {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "--") && len(line) > 2 && !strings.ContainsAny(line, " \t") {
			return strings.TrimPrefix(line, "--")
		}
	}
	return ""
}

// CleanHeader decodes RFC 2047 encoded words in a header value and makes
// the result safe for storage.
func CleanHeader(value string) string {
	return sanitize(decodeHeaderWords(value))
}

// sanitize makes text safe for JSON and SQL storage.
func sanitize(s string) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	return strings.ReplaceAll(s, "\x00", "")
}
