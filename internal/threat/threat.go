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

// Package threat implements the high-recall heuristics used to decide
// whether an ingested email should be sent for threat review.
package threat

import (
	"regexp"
	"strings"
)

var urlRe = regexp.MustCompile(`https?://[^\s<>"'()\[\]{}]+`)

// keywords are matched case-insensitively as substrings of the body.
var keywords = []string{
	"urgent",
	"verify account",
	"verify your account",
	"suspended",
	"click here",
	"prize",
	"winner",
	"password expire",
	"confirm your identity",
	"unusual activity",
	"gift card",
	"wire transfer",
}

// Result is the outcome of a scan. URLs keeps every match in order,
// duplicates included.
type Result struct {
	URLs      []string
	Keywords  []string
	HasThreat bool
}

// Scan extracts URLs and phishing-indicator keywords from body.
func Scan(body string) Result {
	res := Result{URLs: ExtractURLs(body)}

	lower := strings.ToLower(body)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			res.Keywords = append(res.Keywords, kw)
		}
	}

	res.HasThreat = len(res.URLs) > 0 || len(res.Keywords) > 0
	return res
}

// ScanMessage scans the text body and adds URLs that appear only in the
// HTML body, such as link targets dropped by text conversion. HTML URLs
// already present in the text body are not repeated.
func ScanMessage(body, html string) Result {
	res := Scan(body)
	if html == "" {
		return res
	}

	seen := make(map[string]bool, len(res.URLs))
	for _, u := range res.URLs {
		seen[u] = true
	}
	for _, u := range ExtractURLs(html) {
		if !seen[u] {
			seen[u] = true
			res.URLs = append(res.URLs, u)
		}
	}

	res.HasThreat = len(res.URLs) > 0 || len(res.Keywords) > 0
	return res
}

// ExtractURLs returns every http(s) URL in text. The result is never nil.
func ExtractURLs(text string) []string {
	urls := urlRe.FindAllString(text, -1)
	if urls == nil {
		return []string{}
	}
	return urls
}
