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

// Package roster seeds the monitored-address table from configuration.
// An organization either lists its monitored addresses explicitly or
// points at a directory endpoint that is paged through at startup.
package roster

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bcem/mailtriage/internal/config"
)

// Upserter records monitored addresses.
type Upserter interface {
	UpsertMonitored(ctx context.Context, orgID, address string) error
}

// Roster resolves and seeds monitored addresses.
type Roster struct {
	client *http.Client
}

// New creates a Roster that uses client for directory requests.
func New(client *http.Client) *Roster {
	if client == nil {
		client = http.DefaultClient
	}
	return &Roster{client: client}
}

// directoryEntry is one user in a directory page.
type directoryEntry struct {
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
}

// directoryPage is a paged directory response.
type directoryPage struct {
	Value    []directoryEntry `json:"value"`
	NextLink string           `json:"@odata.nextLink"`
}

// Addresses returns the monitored addresses of org, lower-cased and
// de-duplicated, with exclusions removed.
//
// Hybrid strategy:
//   - If org.Monitored is non-empty, only those addresses are used (no
//     directory call).
//   - Otherwise, if org.DirectoryURL is set, every page of it is read.
//   - In both cases, org.Exclude is removed from the final set.
func (r *Roster) Addresses(ctx context.Context, org config.OrganizationConfig) ([]string, error) {
	exclude := make(map[string]bool, len(org.Exclude))
	for _, a := range org.Exclude {
		exclude[normalize(a)] = true
	}

	var candidates []string
	switch {
	case len(org.Monitored) > 0:
		slog.Info("using explicit monitored list",
			"organization_id", org.ID,
			"count", len(org.Monitored),
		)
		candidates = org.Monitored
	case org.DirectoryURL != "":
		var err error
		candidates, err = r.fetchDirectory(ctx, org.DirectoryURL)
		if err != nil {
			return nil, fmt.Errorf("organization %s: %w", org.ID, err)
		}
	}

	seen := make(map[string]bool, len(candidates))
	var out []string
	for _, c := range candidates {
		addr := normalize(c)
		if addr == "" || seen[addr] {
			continue
		}
		seen[addr] = true
		if exclude[addr] {
			slog.Debug("excluding address", "address", addr, "organization_id", org.ID)
			continue
		}
		out = append(out, addr)
	}
	return out, nil
}

func (r *Roster) fetchDirectory(ctx context.Context, directoryURL string) ([]string, error) {
	var addrs []string
	for nextURL := directoryURL; nextURL != ""; {
		page, err := r.fetchPage(ctx, nextURL)
		if err != nil {
			return nil, err
		}
		for _, u := range page.Value {
			// Skip users without a mailbox
			if u.Mail == "" {
				continue
			}
			addrs = append(addrs, u.Mail)
		}
		nextURL = page.NextLink
	}
	return addrs, nil
}

func (r *Roster) fetchPage(ctx context.Context, pageURL string) (*directoryPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build directory request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch directory: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("directory returned HTTP %d", resp.StatusCode)
	}

	var page directoryPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode directory response: %w", err)
	}
	return &page, nil
}

// Seed upserts the monitored addresses of every organization into dst and
// returns how many were written. A failing organization is logged and
// skipped so one bad directory does not block the others.
func (r *Roster) Seed(ctx context.Context, dst Upserter, orgs []config.OrganizationConfig) (int, error) {
	total := 0
	for _, org := range orgs {
		addrs, err := r.Addresses(ctx, org)
		if err != nil {
			slog.Error("roster resolution failed", "organization_id", org.ID, "error", err)
			continue
		}
		for _, addr := range addrs {
			if err := dst.UpsertMonitored(ctx, org.ID, addr); err != nil {
				return total, fmt.Errorf("upsert monitored %s/%s: %w", org.ID, addr, err)
			}
			total++
		}
		slog.Info("roster seeded", "organization_id", org.ID, "addresses", len(addrs))
	}
	return total, nil
}

func normalize(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
