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
	"regexp"
	"strings"
)

var (
	scriptRe   = regexp.MustCompile(`(?is)<script\b.*?</script\s*>`)
	styleRe    = regexp.MustCompile(`(?is)<style\b.*?</style\s*>`)
	blockRe    = regexp.MustCompile(`(?i)<br\s*/?>|</(?:p|div|tr|li|table|h[1-6])\s*>`)
	tagRe      = regexp.MustCompile(`(?s)<[^>]*>`)
	spaceRunRe = regexp.MustCompile(`[ \t\f\v\x{00a0}]+`)
	blankRunRe = regexp.MustCompile(`\n{3,}`)
	htmlHintRe = regexp.MustCompile(`(?i)<(?:html|body|div|p|table|br)\b`)

	entityReplacer = strings.NewReplacer(
		"&nbsp;", " ",
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&apos;", "'",
	)
)

// HTMLToText converts an HTML body into readable plain text.
func HTMLToText(html string) string {
	text := scriptRe.ReplaceAllString(html, "")
	text = styleRe.ReplaceAllString(text, "")
	text = blockRe.ReplaceAllString(text, "\n")
	text = tagRe.ReplaceAllString(text, "")
	text = entityReplacer.Replace(text)

	lines := SplitLines(text)
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spaceRunRe.ReplaceAllString(line, " "))
	}
	text = blankRunRe.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(text)
}

func looksLikeHTML(s string) bool {
	return htmlHintRe.MatchString(s)
}
