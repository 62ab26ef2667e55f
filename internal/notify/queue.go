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
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/bcem/mailtriage/internal/models"
)

// Celery task names consumed by the Python workers.
const (
	ThreatReviewTask = "analysis.tasks.review_threat"
	GraphUpdateTask  = "graph.tasks.add_email"
)

// QueueNotifier publishes notifications to Redis as Celery-compatible
// tasks, for deployments where downstream consumers are workers rather
// than HTTP services.
type QueueNotifier struct {
	rdb         redis.Cmdable
	threatQueue string
	graphQueue  string
}

// NewQueueNotifier creates a notifier targeting the given queues.
func NewQueueNotifier(rdb redis.Cmdable, threatQueue, graphQueue string) *QueueNotifier {
	return &QueueNotifier{
		rdb:         rdb,
		threatQueue: threatQueue,
		graphQueue:  graphQueue,
	}
}

// celeryTask represents a Celery-compatible task message.
// Celery reads tasks from Redis using this exact JSON structure.
type celeryTask struct {
	ID      string         `json:"id"`
	Task    string         `json:"task"`
	Args    []any          `json:"args"`
	Kwargs  map[string]any `json:"kwargs"`
	Retries int            `json:"retries"`
	ETA     *string        `json:"eta"`
}

// celeryMessage wraps a task for Redis transport.
type celeryMessage struct {
	Body            string         `json:"body"`
	ContentEncoding string         `json:"content-encoding"`
	ContentType     string         `json:"content-type"`
	Headers         map[string]any `json:"headers"`
	Properties      map[string]any `json:"properties"`
}

// TriggerThreatReview enqueues the full record for threat review.
func (q *QueueNotifier) TriggerThreatReview(ctx context.Context, rec *models.EmailRecord) error {
	return q.publish(ctx, q.threatQueue, ThreatReviewTask, rec.MessageID, rec)
}

// UpdateRelationshipGraph enqueues an add_email action.
func (q *QueueNotifier) UpdateRelationshipGraph(ctx context.Context, rec *models.EmailRecord) error {
	return q.publish(ctx, q.graphQueue, GraphUpdateTask, rec.MessageID, newGraphUpdate(rec))
}

func (q *QueueNotifier) publish(ctx context.Context, queue, taskName, messageID string, payload any) error {
	taskID := uuid.New().String()
	msg, err := celeryEnvelope(queue, taskName, taskID, payload)
	if err != nil {
		return err
	}

	// Celery consumes with BRPOP, so producers LPUSH.
	if err := q.rdb.LPush(ctx, queue, msg).Err(); err != nil {
		return fmt.Errorf("redis LPUSH %s: %w", queue, err)
	}

	slog.Debug("published downstream task",
		"task_id", taskID,
		"task", taskName,
		"message_id", messageID,
		"queue", queue,
	)
	return nil
}

// celeryEnvelope serialises payload as the single argument of a Celery
// task and wraps it in the Redis transport envelope.
func celeryEnvelope(queue, taskName, taskID string, payload any) (string, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal task payload: %w", err)
	}

	task := celeryTask{
		ID:     taskID,
		Task:   taskName,
		Args:   []any{string(payloadJSON)},
		Kwargs: map[string]any{},
	}
	taskBody, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("marshal celery task: %w", err)
	}

	msg := celeryMessage{
		Body:            string(taskBody),
		ContentEncoding: "utf-8",
		ContentType:     "application/json",
		Headers: map[string]any{
			"lang":    "py",
			"task":    taskName,
			"id":      taskID,
			"retries": 0,
		},
		Properties: map[string]any{
			"correlation_id": taskID,
			"delivery_mode":  2,
			"delivery_tag":   taskID,
			"body_encoding":  "utf-8",
			"exchange":       queue,
			"routing_key":    queue,
			"delivery_info": map[string]string{
				"exchange":    queue,
				"routing_key": queue,
			},
		},
	}
	msgJSON, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal celery message: %w", err)
	}
	return string(msgJSON), nil
}
