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

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/bcem/mailtriage/internal/config"
	"github.com/bcem/mailtriage/internal/models"
)

// HTTPNotifier posts records as JSON to the downstream services. An empty
// URL disables that notification.
type HTTPNotifier struct {
	client          *http.Client
	threatReviewURL string
	graphURL        string
}

// NewHTTPNotifier creates a notifier that uses client for every request.
func NewHTTPNotifier(client *http.Client, threatReviewURL, graphURL string) *HTTPNotifier {
	return &HTTPNotifier{
		client:          client,
		threatReviewURL: threatReviewURL,
		graphURL:        graphURL,
	}
}

// NewHTTPClient returns the client for downstream calls. When a token URL
// is configured the client authenticates with OAuth2 client credentials;
// token refresh is handled by the oauth2 transport.
func NewHTTPClient(ctx context.Context, cfg config.DownstreamConfig) *http.Client {
	client := &http.Client{Timeout: cfg.Timeout}
	if cfg.OAuth.TokenURL != "" {
		creds := &clientcredentials.Config{
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			TokenURL:     cfg.OAuth.TokenURL,
			Scopes:       cfg.OAuth.Scopes,
		}
		client = creds.Client(ctx)
		client.Timeout = cfg.Timeout
	}
	return client
}

// TriggerThreatReview posts the full record to the threat-review service.
func (n *HTTPNotifier) TriggerThreatReview(ctx context.Context, rec *models.EmailRecord) error {
	return n.post(ctx, n.threatReviewURL, rec)
}

// UpdateRelationshipGraph posts an add_email action to the graph service.
func (n *HTTPNotifier) UpdateRelationshipGraph(ctx context.Context, rec *models.EmailRecord) error {
	return n.post(ctx, n.graphURL, newGraphUpdate(rec))
}

func (n *HTTPNotifier) post(ctx context.Context, url string, v any) error {
	if url == "" {
		slog.Debug("downstream url not configured, skipping notification")
		return nil
	}

	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("post %s: status %d: %s", url, resp.StatusCode, bytes.TrimSpace(msg))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
