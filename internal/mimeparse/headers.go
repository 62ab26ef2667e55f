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

// headerLookahead bounds the search for the blank line that ends the headers.
const headerLookahead = 100

var headerLineRe = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9_.-]*):[ \t]*(.*)$`)

// SplitLines normalises line endings and splits raw message text into lines.
func SplitLines(raw string) []string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	raw = strings.ReplaceAll(raw, "\r", "\n")
	return strings.Split(raw, "\n")
}

// SplitHeaders collects "name: value" pairs from the top of lines and
// returns them keyed by lower-cased name, along with the index of the first
// body line. Continuation lines are folded into the previous value with a
// single space. The first occurrence of a repeated header wins.
//
// The header block ends at the first blank line within headerLookahead
// lines. Without one, the first line that is neither a header nor a
// continuation starts the body, and failing that the lookahead offset does.
func SplitHeaders(lines []string) (map[string]string, int) {
	headers := make(map[string]string)
	if len(lines) == 0 {
		return headers, 0
	}
	if isBlank(lines[0]) {
		return headers, 1
	}
	if _, _, ok := headerPair(lines[0]); !ok {
		// No header block at all; everything is body.
		return headers, 0
	}

	limit, bodyStart := -1, -1
	if blank := blankLineWithin(lines, headerLookahead); blank >= 0 {
		limit, bodyStart = blank, blank+1
	} else {
		limit = heuristicBodyStart(lines)
		bodyStart = limit
	}

	last := ""
	for _, line := range lines[:limit] {
		if isContinuation(line) {
			if last != "" {
				headers[last] += " " + strings.TrimSpace(line)
			}
			continue
		}
		name, value, ok := headerPair(line)
		if !ok {
			last = ""
			continue
		}
		key := strings.ToLower(name)
		if _, seen := headers[key]; seen {
			last = ""
			continue
		}
		headers[key] = value
		last = key
	}

	return headers, bodyStart
}

// headerPair reports whether line is shaped like "Key: value".
// URL-looking lines ("https://...") are not headers.
func headerPair(line string) (name, value string, ok bool) {
	m := headerLineRe.FindStringSubmatch(strings.TrimRight(line, " \t"))
	if m == nil {
		return "", "", false
	}
	if strings.HasPrefix(m[2], "//") {
		return "", "", false
	}
	return m[1], strings.TrimSpace(m[2]), true
}

func isContinuation(line string) bool {
	return len(line) > 0 && (line[0] == ' ' || line[0] == '\t') && strings.TrimSpace(line) != ""
}

func isBlank(line string) bool {
	return strings.TrimSpace(line) == ""
}

func blankLineWithin(lines []string, n int) int {
	for i := 0; i < len(lines) && i < n; i++ {
		if isBlank(lines[i]) {
			return i
		}
	}
	return -1
}

func heuristicBodyStart(lines []string) int {
	n := min(len(lines), headerLookahead)
	for i := 0; i < n; i++ {
		if isContinuation(lines[i]) {
			continue
		}
		if _, _, ok := headerPair(lines[i]); ok {
			continue
		}
		return i
	}
	return n
}
