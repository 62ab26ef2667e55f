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

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const defaultConfigPath = "/app/config/config.yaml"

// Downstream notification modes.
const (
	ModeHTTP  = "http"
	ModeQueue = "queue"
	ModeBoth  = "both"
	ModeNone  = "none"
)

// Store backends.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendDynamoDB = "dynamodb"
)

// Config holds all configuration for the ingestion service.
type Config struct {
	Server        ServerConfig         `yaml:"server"`
	LogLevel      string               `yaml:"log_level" validate:"oneof=debug info warn error"`
	Store         StoreConfig          `yaml:"store"`
	Redis         RedisConfig          `yaml:"redis"`
	Downstream    DownstreamConfig     `yaml:"downstream"`
	Organizations []OrganizationConfig `yaml:"organizations" validate:"dive"`

	// DefaultOrganizationID is used when a payload carries no routing
	// organization.
	DefaultOrganizationID string `yaml:"default_organization_id"`
}

// ServerConfig configures the webhook listener.
type ServerConfig struct {
	Port      int    `yaml:"port" validate:"min=1,max=65535"`
	BodyLimit string `yaml:"body_limit" validate:"required"` // echo size notation, e.g. "10M"
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Backend     string         `yaml:"backend" validate:"oneof=postgres sqlite dynamodb"`
	DatabaseURL string         `yaml:"database_url" validate:"required_if=Backend postgres"`
	SQLitePath  string         `yaml:"sqlite_path" validate:"required_if=Backend sqlite"`
	DynamoDB    DynamoDBConfig `yaml:"dynamodb"`
}

// DynamoDBConfig configures the DynamoDB backend.
type DynamoDBConfig struct {
	Region         string `yaml:"region" validate:"required"`
	EmailsTable    string `yaml:"emails_table" validate:"required"`
	MonitoredTable string `yaml:"monitored_table" validate:"required"`
	Endpoint       string `yaml:"endpoint" validate:"omitempty,url"` // local emulators only

	// Static credentials; the default AWS chain is used when empty.
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" validate:"required_with=AccessKeyID"`
}

// RedisConfig configures the monitored-address cache and the task queues.
// An empty URL disables both.
type RedisConfig struct {
	URL      string        `yaml:"url"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
	Queues   struct {
		ThreatReview string `yaml:"threat_review"`
		GraphUpdate  string `yaml:"graph_update"`
	} `yaml:"queues"`
}

// DownstreamConfig describes where post-ingest notifications go.
type DownstreamConfig struct {
	Mode            string        `yaml:"mode" validate:"oneof=http queue both none"`
	ThreatReviewURL string        `yaml:"threat_review_url" validate:"omitempty,url"`
	GraphURL        string        `yaml:"graph_url" validate:"omitempty,url"`
	Timeout         time.Duration `yaml:"timeout" validate:"gt=0"`
	OAuth           OAuthConfig   `yaml:"oauth"`
}

// OAuthConfig enables client-credentials auth on downstream HTTP calls when
// TokenURL is set.
type OAuthConfig struct {
	TokenURL     string   `yaml:"token_url" validate:"omitempty,url"`
	ClientID     string   `yaml:"client_id" validate:"required_with=TokenURL"`
	ClientSecret string   `yaml:"client_secret" validate:"required_with=TokenURL"`
	Scopes       []string `yaml:"scopes"`
}

// OrganizationConfig seeds the monitored addresses of one organization.
// With an empty Monitored list the addresses are read from DirectoryURL.
type OrganizationConfig struct {
	ID           string   `yaml:"id" validate:"required"`
	Monitored    []string `yaml:"monitored"`
	Exclude      []string `yaml:"exclude"`
	DirectoryURL string   `yaml:"directory_url" validate:"omitempty,url"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:      8080,
			BodyLimit: "10M",
		},
		LogLevel: "info",
		Store: StoreConfig{
			Backend: BackendPostgres,
			DynamoDB: DynamoDBConfig{
				Region:         "us-east-1",
				EmailsTable:    "emails",
				MonitoredTable: "monitored_addresses",
			},
		},
		Redis: RedisConfig{CacheTTL: 5 * time.Minute},
		Downstream: DownstreamConfig{
			Mode:    ModeHTTP,
			Timeout: 10 * time.Second,
		},
	}
	cfg.Redis.Queues.ThreatReview = "threat_review"
	cfg.Redis.Queues.GraphUpdate = "graph_update"
	return cfg
}

// Load reads configuration from CONFIG_PATH (default
// /app/config/config.yaml, with ${VAR} expansion) and then applies
// environment overrides. The file may be absent only when CONFIG_PATH is
// unset.
func Load() (*Config, error) {
	path, explicit := os.LookupEnv("CONFIG_PATH")
	if !explicit || path == "" {
		path, explicit = defaultConfigPath, false
	}
	return LoadFile(path, explicit)
}

// LoadFile is Load with an explicit path. When required is false a
// missing file yields an environment-only configuration.
func LoadFile(path string, required bool) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		// Expand ${VAR} references in the YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist) && !required:
	default:
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// SlogLevel maps LogLevel onto a slog level. Unknown values are info.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func applyEnv(cfg *Config) {
	cfg.Server.Port = envOrDefaultInt("PORT", cfg.Server.Port)
	cfg.LogLevel = strings.ToLower(envOrDefault("LOG_LEVEL", cfg.LogLevel))
	cfg.DefaultOrganizationID = envOrDefault("DEFAULT_ORGANIZATION_ID", cfg.DefaultOrganizationID)

	cfg.Store.Backend = strings.ToLower(envOrDefault("STORE_BACKEND", cfg.Store.Backend))
	cfg.Store.DatabaseURL = envOrDefault("DATABASE_URL", cfg.Store.DatabaseURL)
	cfg.Store.SQLitePath = envOrDefault("SQLITE_PATH", cfg.Store.SQLitePath)
	cfg.Store.DynamoDB.Region = envOrDefault("AWS_REGION", cfg.Store.DynamoDB.Region)
	cfg.Store.DynamoDB.EmailsTable = envOrDefault("DYNAMODB_EMAILS_TABLE", cfg.Store.DynamoDB.EmailsTable)
	cfg.Store.DynamoDB.MonitoredTable = envOrDefault("DYNAMODB_MONITORED_TABLE", cfg.Store.DynamoDB.MonitoredTable)
	cfg.Store.DynamoDB.Endpoint = envOrDefault("DYNAMODB_ENDPOINT", cfg.Store.DynamoDB.Endpoint)

	cfg.Redis.URL = envOrDefault("REDIS_URL", cfg.Redis.URL)

	cfg.Downstream.Mode = strings.ToLower(envOrDefault("DOWNSTREAM_MODE", cfg.Downstream.Mode))
	cfg.Downstream.ThreatReviewURL = envOrDefault("THREAT_REVIEW_URL", cfg.Downstream.ThreatReviewURL)
	cfg.Downstream.GraphURL = envOrDefault("GRAPH_UPDATE_URL", cfg.Downstream.GraphURL)
	cfg.Downstream.Timeout = envOrDefaultDuration("DOWNSTREAM_TIMEOUT", cfg.Downstream.Timeout)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
