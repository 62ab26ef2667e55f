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

package mimeparse

import (
	"encoding/base64"
	"mime"
	"regexp"
	"strings"
)

var (
	softBreakRe = regexp.MustCompile(`=\r?\n`)

	residueRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9-]{1,60}:\s+\S`)

	// Header names that mark residue even when the value is empty or
	// the separator space is missing.
	residueNames = []string{
		"received", "return-path", "dkim-signature", "domainkey-signature",
		"authentication-results", "received-spf", "arc-seal",
		"arc-message-signature", "arc-authentication-results", "message-id",
		"mime-version", "content-type", "content-transfer-encoding",
		"content-disposition", "date", "from", "to", "cc", "bcc", "subject",
		"reply-to", "sender", "thread-index", "thread-topic", "references",
		"in-reply-to", "list-unsubscribe", "feedback-id",
	}
)

// decodeTransfer undoes a Content-Transfer-Encoding. Unknown encodings and
// undecodable content are returned unchanged.
func decodeTransfer(content, encoding string) string {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "quoted-printable":
		return decodeQuotedPrintable(content)
	case "base64":
		if decoded, ok := decodeBase64(content); ok {
			return decoded
		}
		return content
	default:
		return content
	}
}

// decodeQuotedPrintable removes soft line breaks and decodes =XX escapes.
// Malformed escapes are kept literally.
func decodeQuotedPrintable(s string) string {
	s = softBreakRe.ReplaceAllString(s, "")

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '=' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
			b.WriteByte(unhex(s[i+1])<<4 | unhex(s[i+2]))
			i += 2
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// decodeBase64 strips whitespace and decodes padded or unpadded base64.
func decodeBase64(s string) (string, bool) {
	cleaned := strings.Join(strings.Fields(s), "")
	if cleaned == "" {
		return "", false
	}
	if decoded, err := base64.StdEncoding.DecodeString(cleaned); err == nil {
		return string(decoded), true
	}
	if decoded, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(cleaned, "=")); err == nil {
		return string(decoded), true
	}
	return "", false
}

// stripHeaderResidue drops leading header-shaped lines (and their
// continuations) left behind by upstream systems that failed to separate
// headers from the body.
func stripHeaderResidue(body string) string {
	lines := SplitLines(body)
	i := 0
	inHeader := false
	for i < len(lines) {
		line := lines[i]
		switch {
		case isBlank(line):
			inHeader = false
		case inHeader && isContinuation(line):
		case isResidueLine(line):
			inHeader = true
		default:
			return strings.TrimSpace(strings.Join(lines[i:], "\n"))
		}
		i++
	}
	return ""
}

func isResidueLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if residueRe.MatchString(trimmed) {
		return true
	}
	lower := strings.ToLower(trimmed)
	if name, _, found := strings.Cut(lower, ":"); found && strings.HasPrefix(name, "x-") {
		return !strings.ContainsAny(name, " \t")
	}
	for _, name := range residueNames {
		if strings.HasPrefix(lower, name+":") {
			return true
		}
	}
	return false
}

// decodeHeaderWords decodes RFC 2047 encoded words, returning the input on error.
func decodeHeaderWords(value string) string {
	if !strings.Contains(value, "=?") {
		return value
	}
	dec := new(mime.WordDecoder)
	decoded, err := dec.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
