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

package store

import (
	"time"

	"github.com/bcem/mailtriage/internal/models"
)

func sampleRecord(messageID string) *models.EmailRecord {
	now := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	return &models.EmailRecord{
		ID:             "rec-" + messageID,
		MessageID:      messageID,
		OrganizationID: "org-1",
		Timestamp:      "2024-01-02T10:00:00Z",
		Source:         "x@ext.com",
		Destination:    []string{"a@co.com"},
		CommonHeaders: models.CommonHeaders{
			From:    []string{"x@ext.com"},
			To:      []string{"a@co.com"},
			Subject: "Hi",
		},
		Subject:         "Hi",
		Headers:         map[string]string{"subject": "Hi"},
		Body:            "Hello world",
		Sender:          "x@ext.com",
		Recipients:      []string{"a@co.com"},
		Direction:       models.DirectionInbound,
		UserID:          "a@co.com",
		URLs:            []string{},
		Size:            11,
		Status:          models.DefaultStatus,
		ThreatLevel:     models.DefaultThreatLevel,
		FlaggedCategory: models.FlaggedNone,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}
