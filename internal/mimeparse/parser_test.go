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
	"strings"
	"testing"
)

// TestParse_PlainText verifies the basic header/body split.
func TestParse_PlainText(t *testing.T) {
	msg := Parse([]byte("Subject: Hi\nContent-Type: text/plain\n\nHello world"))

	if msg.Body != "Hello world" {
		t.Errorf("body = %q, want %q", msg.Body, "Hello world")
	}
	if msg.Headers["subject"] != "Hi" {
		t.Errorf("subject = %q, want Hi", msg.Headers["subject"])
	}
	if msg.Headers["content-type"] != "text/plain" {
		t.Errorf("content-type = %q, want text/plain", msg.Headers["content-type"])
	}
	if msg.BodyHTML != "" {
		t.Errorf("bodyHTML = %q, want empty", msg.BodyHTML)
	}
	if msg.Strategy != "single-part" {
		t.Errorf("strategy = %q, want single-part", msg.Strategy)
	}
}

// TestParse_CRLFAndContinuation verifies folded headers and CRLF input.
func TestParse_CRLFAndContinuation(t *testing.T) {
	raw := strings.Join([]string{
		"From: Alice <alice@example.com>",
		"Subject: A very long",
		"\tsubject line",
		"X-Custom:  value  ",
		"",
		"Body text here",
	}, "\r\n")

	msg := Parse([]byte(raw))

	if got := msg.Headers["subject"]; got != "A very long subject line" {
		t.Errorf("subject = %q, want folded value", got)
	}
	if got := msg.Headers["x-custom"]; got != "value" {
		t.Errorf("x-custom = %q, want value", got)
	}
	if msg.Body != "Body text here" {
		t.Errorf("body = %q", msg.Body)
	}
}

// TestParse_MultipartVerbatim verifies plain and html parts are returned as-is.
func TestParse_MultipartVerbatim(t *testing.T) {
	tests := []struct {
		name     string
		boundary string
		header   string
	}{
		{name: "bare boundary", boundary: "b1", header: "multipart/alternative; boundary=b1"},
		{name: "quoted boundary", boundary: "=_Part_42", header: `multipart/alternative; boundary="=_Part_42"`},
		{name: "upper case param", boundary: "XYZ", header: "Multipart/Alternative; BOUNDARY=XYZ"},
	}

	plain := "Plain text body\nsecond line"
	html := "<html><body><p>HTML body</p></body></html>"

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := strings.Join([]string{
				"Subject: Multipart",
				"Content-Type: " + tt.header,
				"",
				"This is a preamble.",
				"--" + tt.boundary,
				"Content-Type: text/plain; charset=utf-8",
				"",
				plain,
				"--" + tt.boundary,
				"Content-Type: text/html; charset=utf-8",
				"",
				html,
				"--" + tt.boundary + "--",
				"",
			}, "\r\n")

			msg := Parse([]byte(raw))

			if msg.Body != plain {
				t.Errorf("body = %q, want %q", msg.Body, plain)
			}
			if msg.BodyHTML != html {
				t.Errorf("bodyHTML = %q, want %q", msg.BodyHTML, html)
			}
			if msg.Strategy != "multipart" {
				t.Errorf("strategy = %q, want multipart", msg.Strategy)
			}
		})
	}
}

// TestParse_MultipartHTMLOnly verifies text is synthesised from HTML.
func TestParse_MultipartHTMLOnly(t *testing.T) {
	html := `<html><head><style>p { color: red; }</style><script>alert("x")</script></head>` +
		`<body><p>Dear&nbsp;customer,</p><div>Tom &amp; Jerry &lt;3 &quot;you&quot; &#39;a lot&#39;</div></body></html>`
	raw := strings.Join([]string{
		"Content-Type: multipart/alternative; boundary=zz",
		"",
		"--zz",
		"Content-Type: text/html",
		"",
		html,
		"--zz--",
	}, "\n")

	msg := Parse([]byte(raw))

	want := "Dear customer,\nTom & Jerry <3 \"you\" 'a lot'"
	if msg.Body != want {
		t.Errorf("body = %q, want %q", msg.Body, want)
	}
	if msg.BodyHTML != html {
		t.Errorf("bodyHTML = %q", msg.BodyHTML)
	}
	if strings.Contains(msg.Body, "alert") || strings.Contains(msg.Body, "color") {
		t.Errorf("script/style content leaked into body: %q", msg.Body)
	}
}

// TestParse_MultipartEncodedParts verifies per-part transfer decoding.
func TestParse_MultipartEncodedParts(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte("Decoded plain part"))
	raw := strings.Join([]string{
		"Content-Type: multipart/mixed; boundary=outer",
		"",
		"--outer",
		"Content-Type: text/plain",
		"Content-Transfer-Encoding: base64",
		"",
		encoded[:10],
		encoded[10:],
		"--outer",
		"Content-Type: text/html",
		"Content-Transfer-Encoding: quoted-printable",
		"",
		"<p>caf=C3=A9 =",
		"ol&eacute;</p>",
		"--outer--",
	}, "\n")

	msg := Parse([]byte(raw))

	if msg.Body != "Decoded plain part" {
		t.Errorf("body = %q", msg.Body)
	}
	if msg.BodyHTML != "<p>café ol&eacute;</p>" {
		t.Errorf("bodyHTML = %q", msg.BodyHTML)
	}
}

// TestParse_NestedMultipart verifies one nested multipart level is descended
// and attachments are skipped.
func TestParse_NestedMultipart(t *testing.T) {
	raw := strings.Join([]string{
		"Content-Type: multipart/mixed; boundary=outer",
		"",
		"--outer",
		"Content-Type: multipart/alternative; boundary=inner",
		"",
		"--inner",
		"Content-Type: text/plain",
		"",
		"Nested plain",
		"--inner",
		"Content-Type: text/html",
		"",
		"<b>Nested html</b>",
		"--inner--",
		"--outer",
		"Content-Type: text/plain",
		"Content-Disposition: attachment; filename=notes.txt",
		"",
		"attachment text",
		"--outer--",
	}, "\n")

	msg := Parse([]byte(raw))

	if msg.Body != "Nested plain" {
		t.Errorf("body = %q, want Nested plain", msg.Body)
	}
	if msg.BodyHTML != "<b>Nested html</b>" {
		t.Errorf("bodyHTML = %q", msg.BodyHTML)
	}
}

// TestParse_MissingBoundaryParam verifies the boundary is detected from the body.
func TestParse_MissingBoundaryParam(t *testing.T) {
	raw := strings.Join([]string{
		"Content-Type: multipart/alternative",
		"",
		"--guess",
		"Content-Type: text/plain",
		"",
		"Found without a boundary parameter",
		"--guess--",
	}, "\n")

	msg := Parse([]byte(raw))

	if msg.Body != "Found without a boundary parameter" {
		t.Errorf("body = %q", msg.Body)
	}
}

// TestParse_QuotedPrintableSoftBreak verifies soft line breaks are removed.
func TestParse_QuotedPrintableSoftBreak(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "LF soft break", body: "Hello =\nworld", want: "Hello world"},
		{name: "CRLF soft break", body: "Hello=\r\nworld", want: "Helloworld"},
		{name: "hex escapes", body: "caf=C3=A9 =3D equals", want: "café = equals"},
		{name: "malformed escape kept", body: "100=ZZ sure", want: "100=ZZ sure"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := "Content-Type: text/plain\nContent-Transfer-Encoding: quoted-printable\n\n" + tt.body
			msg := Parse([]byte(raw))
			if msg.Body != tt.want {
				t.Errorf("body = %q, want %q", msg.Body, tt.want)
			}
		})
	}
}

// TestParse_Base64SinglePart verifies base64 bodies are decoded with
// embedded whitespace stripped.
func TestParse_Base64SinglePart(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte("Please review the attached invoice."))
	wrapped := encoded[:16] + "\n" + encoded[16:32] + "\n  " + encoded[32:]

	raw := "Content-Type: text/plain\nContent-Transfer-Encoding: BASE64\n\n" + wrapped
	msg := Parse([]byte(raw))

	if msg.Body != "Please review the attached invoice." {
		t.Errorf("body = %q", msg.Body)
	}
}

// TestParse_InvalidBase64PassesThrough verifies undecodable content is kept.
func TestParse_InvalidBase64PassesThrough(t *testing.T) {
	raw := "Content-Type: text/plain\nContent-Transfer-Encoding: base64\n\nthis is not base64 at all!"
	msg := Parse([]byte(raw))

	if msg.Body != "this is not base64 at all!" {
		t.Errorf("body = %q", msg.Body)
	}
}

// TestParse_SinglePartHTML verifies single-part HTML keeps the original.
func TestParse_SinglePartHTML(t *testing.T) {
	html := "<html><body>Click <a href=\"http://x.example\">here</a><br>now</body></html>"
	msg := Parse([]byte("Content-Type: text/html\n\n" + html))

	if msg.BodyHTML != html {
		t.Errorf("bodyHTML = %q", msg.BodyHTML)
	}
	if msg.Body != "Click here\nnow" {
		t.Errorf("body = %q", msg.Body)
	}
}

// TestParse_HeaderResidue verifies leaked header lines are stripped from
// single-part bodies.
func TestParse_HeaderResidue(t *testing.T) {
	raw := strings.Join([]string{
		"Subject: Residue",
		"",
		"Received: from mx.example.com by relay",
		"\twith ESMTP id 123",
		"DKIM-Signature: v=1; a=rsa-sha256;",
		"X-Mailer:",
		"",
		"Actual message content starts here.",
		"Second: line is kept once prose has started.",
	}, "\n")

	msg := Parse([]byte(raw))

	want := "Actual message content starts here.\nSecond: line is kept once prose has started."
	if msg.Body != want {
		t.Errorf("body = %q, want %q", msg.Body, want)
	}
}

// TestParse_NoBlankSeparator verifies the heuristic body start.
func TestParse_NoBlankSeparator(t *testing.T) {
	raw := "From: a@example.com\nSubject: No gap\nThe body begins without a blank line."
	msg := Parse([]byte(raw))

	if msg.Headers["subject"] != "No gap" {
		t.Errorf("subject = %q", msg.Headers["subject"])
	}
	if msg.Body != "The body begins without a blank line." {
		t.Errorf("body = %q", msg.Body)
	}
}

// TestParse_BodyOnly verifies input with no header block is all body.
func TestParse_BodyOnly(t *testing.T) {
	raw := "Just some text.\n\nAnother paragraph."
	msg := Parse([]byte(raw))

	if len(msg.Headers) != 0 {
		t.Errorf("headers = %v, want none", msg.Headers)
	}
	if msg.Body != raw {
		t.Errorf("body = %q", msg.Body)
	}
}

// TestParse_EmergencyScan verifies prose is recovered when the structured
// strategies find nothing.
func TestParse_EmergencyScan(t *testing.T) {
	encoded := strings.Repeat("QUJDREVGR0hJSktMTU5PUFFSU1RVVldYWVo", 3)
	raw := strings.Join([]string{
		"Content-Type: multipart/mixed; boundary=q",
		"",
		"--q",
		"Content-Type: application/pdf",
		"Content-Transfer-Encoding: base64",
		"",
		encoded,
		"--q--",
		"Trailing prose that someone appended after the parts.",
	}, "\n")

	msg := Parse([]byte(raw))

	if msg.Body != "Trailing prose that someone appended after the parts." {
		t.Errorf("body = %q", msg.Body)
	}
	if msg.Strategy != "emergency" {
		t.Errorf("strategy = %q, want emergency", msg.Strategy)
	}
}

// TestParse_ShortBodyKept verifies a short but real body beats the sentinel.
func TestParse_ShortBodyKept(t *testing.T) {
	msg := Parse([]byte("Subject: ok\n\nOK"))

	if msg.Body != "OK" {
		t.Errorf("body = %q, want OK", msg.Body)
	}
}

// TestParse_NeverEmpty verifies Body is non-empty for any input.
func TestParse_NeverEmpty(t *testing.T) {
	inputs := [][]byte{
		nil,
		{},
		[]byte("\n\n\n"),
		[]byte("Subject: only headers"),
		[]byte("Content-Type: multipart/mixed; boundary=x\n\n--x\n--x--"),
		[]byte("Content-Type: text/plain\nContent-Transfer-Encoding: base64\n\n    "),
		{0x00, 0xff, 0xfe, 0x00},
		[]byte(strings.Repeat("X-Header: v\n", 500)),
		[]byte("--\n--\n--"),
	}

	for i, in := range inputs {
		msg := Parse(in)
		if len(msg.Body) == 0 {
			t.Errorf("input %d: empty body", i)
		}
		if msg.Headers == nil {
			t.Errorf("input %d: nil headers", i)
		}
	}
}

// TestParse_Sentinel verifies the fixed sentinel for empty input.
func TestParse_Sentinel(t *testing.T) {
	msg := Parse(nil)

	if msg.Body != NoContent {
		t.Errorf("body = %q, want %q", msg.Body, NoContent)
	}
	if msg.Strategy != "sentinel" {
		t.Errorf("strategy = %q, want sentinel", msg.Strategy)
	}
}

// TestParse_SanitizesOutput verifies NUL bytes and invalid UTF-8 are removed.
func TestParse_SanitizesOutput(t *testing.T) {
	msg := Parse([]byte("Subject: a\x00b\n\nbad \xff byte\x00 here"))

	if strings.Contains(msg.Body, "\x00") || strings.Contains(msg.Headers["subject"], "\x00") {
		t.Error("NUL byte survived sanitising")
	}
	if msg.Body != "bad � byte here" {
		t.Errorf("body = %q", msg.Body)
	}
}

// TestParse_EncodedSubject verifies RFC 2047 subjects are decoded.
func TestParse_EncodedSubject(t *testing.T) {
	msg := Parse([]byte("Subject: =?UTF-8?B?SGVsbG8gV8O2cmxk?=\n\nbody text"))

	if got := msg.Headers["subject"]; got != "Hello Wörld" {
		t.Errorf("subject = %q, want Hello Wörld", got)
	}
}

// TestCleanHeader verifies decoding happens before sanitising, so an
// encoded NUL cannot survive.
func TestCleanHeader(t *testing.T) {
	tests := map[string]string{
		"plain":                  "plain",
		"a\x00b":                 "ab",
		"=?utf-8?B?SGVsbG8=?= x": "Hello x",
		"=?utf-8?B?YQBi?=":       "ab",
		"bad \xff":               "bad \uFFFD",
		"=?bogus":                "=?bogus",
	}
	for in, want := range tests {
		if got := CleanHeader(in); got != want {
			t.Errorf("CleanHeader(%q) = %q, want %q", in, got, want)
		}
	}
}

// TestSplitHeaders_FirstWins verifies repeated headers keep the first value.
func TestSplitHeaders_FirstWins(t *testing.T) {
	lines := SplitLines("Received: one\n  folded\nReceived: two\n  ignored\n\nbody")
	headers, start := SplitHeaders(lines)

	if headers["received"] != "one folded" {
		t.Errorf("received = %q", headers["received"])
	}
	if start != 5 {
		t.Errorf("body start = %d, want 5", start)
	}
}

// TestHTMLToText verifies whitespace collapsing.
func TestHTMLToText(t *testing.T) {
	got := HTMLToText("<p>  one   two\t three </p>\n\n\n\n<p>four</p>")
	if got != "one two three\n\nfour" {
		t.Errorf("HTMLToText = %q", got)
	}
}
