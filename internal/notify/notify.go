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

// Package notify delivers post-ingest notifications to downstream
// consumers: the threat-review service and the relationship graph. All
// deliveries are best-effort; callers log failures and move on.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/bcem/mailtriage/internal/config"
	"github.com/bcem/mailtriage/internal/models"
)

// Notifier is a downstream consumer of newly persisted records.
type Notifier interface {
	TriggerThreatReview(ctx context.Context, rec *models.EmailRecord) error
	UpdateRelationshipGraph(ctx context.Context, rec *models.EmailRecord) error
}

// graphUpdate is the relationship-graph request body.
type graphUpdate struct {
	Action string              `json:"action"`
	Data   *models.EmailRecord `json:"data"`
}

func newGraphUpdate(rec *models.EmailRecord) graphUpdate {
	return graphUpdate{Action: "add_email", Data: rec}
}

// Nop discards every notification.
type Nop struct{}

func (Nop) TriggerThreatReview(context.Context, *models.EmailRecord) error     { return nil }
func (Nop) UpdateRelationshipGraph(context.Context, *models.EmailRecord) error { return nil }

// Multi fans a notification out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) TriggerThreatReview(ctx context.Context, rec *models.EmailRecord) error {
	var errs []error
	for _, n := range m {
		if err := n.TriggerThreatReview(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) UpdateRelationshipGraph(ctx context.Context, rec *models.EmailRecord) error {
	var errs []error
	for _, n := range m {
		if err := n.UpdateRelationshipGraph(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// New builds the notifier selected by cfg.Downstream.Mode. rdb may be nil
// unless the mode uses the queue.
func New(ctx context.Context, cfg *config.Config, rdb redis.Cmdable) (Notifier, error) {
	mode := cfg.Downstream.Mode
	needsQueue := mode == config.ModeQueue || mode == config.ModeBoth
	if needsQueue && rdb == nil {
		return nil, fmt.Errorf("downstream mode %q requires redis.url", mode)
	}

	var httpN, queueN Notifier
	if mode == config.ModeHTTP || mode == config.ModeBoth {
		client := NewHTTPClient(ctx, cfg.Downstream)
		httpN = NewHTTPNotifier(client, cfg.Downstream.ThreatReviewURL, cfg.Downstream.GraphURL)
	}
	if needsQueue {
		queueN = NewQueueNotifier(rdb, cfg.Redis.Queues.ThreatReview, cfg.Redis.Queues.GraphUpdate)
	}

	switch mode {
	case config.ModeHTTP:
		return httpN, nil
	case config.ModeQueue:
		return queueN, nil
	case config.ModeBoth:
		return Multi{httpN, queueN}, nil
	case config.ModeNone:
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("unknown downstream mode %q", mode)
	}
}
