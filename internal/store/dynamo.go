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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/bcem/mailtriage/internal/config"
	"github.com/bcem/mailtriage/internal/models"
)

// healthKey addresses an item that never exists; reading it proves the
// monitored table is reachable.
const healthKey = "__health__"

// DynamoAPI is the subset of the DynamoDB client used by the store.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// Dynamo stores email records keyed on messageId and monitored addresses
// keyed on (organizationId, address).
type Dynamo struct {
	client         DynamoAPI
	emailsTable    string
	monitoredTable string
}

// OpenDynamo builds a DynamoDB client from cfg.
func OpenDynamo(ctx context.Context, cfg config.DynamoDBConfig) (*Dynamo, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	slog.Info("dynamodb store initialised",
		"region", cfg.Region,
		"emails_table", cfg.EmailsTable,
		"monitored_table", cfg.MonitoredTable,
	)
	return NewDynamo(client, cfg.EmailsTable, cfg.MonitoredTable), nil
}

// NewDynamo creates a store with a custom client, used for testing.
func NewDynamo(client DynamoAPI, emailsTable, monitoredTable string) *Dynamo {
	return &Dynamo{
		client:         client,
		emailsTable:    emailsTable,
		monitoredTable: monitoredTable,
	}
}

// InsertEmail writes rec unless an item with the same messageId exists.
func (d *Dynamo) InsertEmail(ctx context.Context, rec *models.EmailRecord) (InsertOutcome, error) {
	_, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.emailsTable),
		Item:                emailItem(rec),
		ConditionExpression: aws.String("attribute_not_exists(messageId)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return AlreadyExists, nil
		}
		return 0, fmt.Errorf("put email %s: %w", rec.MessageID, err)
	}
	return Inserted, nil
}

// IsMonitored reports whether address is monitored for orgID.
func (d *Dynamo) IsMonitored(ctx context.Context, orgID, address string) (bool, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.monitoredTable),
		Key:       monitoredKey(orgID, strings.ToLower(address)),
	})
	if err != nil {
		return false, fmt.Errorf("get monitored address: %w", err)
	}
	return len(out.Item) > 0, nil
}

// UpsertMonitored marks address as monitored for orgID.
func (d *Dynamo) UpsertMonitored(ctx context.Context, orgID, address string) error {
	_, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.monitoredTable),
		Item:      monitoredKey(orgID, strings.ToLower(address)),
	})
	if err != nil {
		return fmt.Errorf("put monitored address: %w", err)
	}
	return nil
}

// Ping reads a probe key from the monitored table.
func (d *Dynamo) Ping(ctx context.Context) error {
	_, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.monitoredTable),
		Key:       monitoredKey(healthKey, healthKey),
	})
	return err
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (d *Dynamo) Close() {}

func monitoredKey(orgID, address string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"organizationId": &types.AttributeValueMemberS{Value: orgID},
		"address":        &types.AttributeValueMemberS{Value: address},
	}
}

func emailItem(rec *models.EmailRecord) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"messageId":      str(rec.MessageID),
		"id":             str(rec.ID),
		"organizationId": str(rec.OrganizationID),
		"timestamp":      str(rec.Timestamp),
		"source":         str(rec.Source),
		"destination":    strList(rec.Destination),
		"commonHeaders": &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			"from":    strList(rec.CommonHeaders.From),
			"to":      strList(rec.CommonHeaders.To),
			"subject": str(rec.CommonHeaders.Subject),
		}},
		"subject":         str(rec.Subject),
		"headers":         strMap(rec.Headers),
		"body":            str(rec.Body),
		"bodyHtml":        str(rec.BodyHTML),
		"sender":          str(rec.Sender),
		"recipients":      strList(rec.Recipients),
		"direction":       str(string(rec.Direction)),
		"userId":          str(rec.UserID),
		"urls":            strList(rec.URLs),
		"hasThreat":       &types.AttributeValueMemberBOOL{Value: rec.HasThreat},
		"size":            &types.AttributeValueMemberN{Value: strconv.Itoa(rec.Size)},
		"status":          str(rec.Status),
		"threatLevel":     str(rec.ThreatLevel),
		"isPhishing":      &types.AttributeValueMemberBOOL{Value: rec.IsPhishing},
		"flaggedCategory": str(string(rec.FlaggedCategory)),
		"createdAt":       str(rec.CreatedAt.UTC().Format(timeLayout)),
		"updatedAt":       str(rec.UpdatedAt.UTC().Format(timeLayout)),
	}
}

func str(s string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: s}
}

func strList(values []string) types.AttributeValue {
	list := make([]types.AttributeValue, 0, len(values))
	for _, v := range values {
		list = append(list, str(v))
	}
	return &types.AttributeValueMemberL{Value: list}
}

func strMap(m map[string]string) types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(m))
	for k, v := range m {
		out[k] = str(v)
	}
	return &types.AttributeValueMemberM{Value: out}
}
