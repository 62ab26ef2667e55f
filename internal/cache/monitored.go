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

// Package cache provides a Redis read-through cache in front of the
// monitored-address lookup. Every webhook consults the lookup once per
// participant, so caching the answers takes most of that load off the store.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bcem/mailtriage/internal/store"
)

const (
	// DefaultTTL is how long a lookup answer is remembered. Roster changes
	// become visible after at most this long.
	DefaultTTL = 5 * time.Minute

	// keyPrefix namespaces cache keys in Redis.
	keyPrefix = "mailtriage:monitored:"
)

// MonitoredCache wraps a MonitoredLookup with a Redis cache.
type MonitoredCache struct {
	rdb  redis.Cmdable
	next store.MonitoredLookup
	ttl  time.Duration
}

// NewMonitoredCache creates a cache in front of next. A non-positive ttl
// selects DefaultTTL.
func NewMonitoredCache(rdb redis.Cmdable, next store.MonitoredLookup, ttl time.Duration) *MonitoredCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MonitoredCache{rdb: rdb, next: next, ttl: ttl}
}

// IsMonitored answers from Redis when possible. Redis failures fall
// through to the wrapped lookup; lookup errors are returned and never
// cached.
func (c *MonitoredCache) IsMonitored(ctx context.Context, orgID, address string) (bool, error) {
	key := cacheKey(orgID, address)

	val, err := c.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		return val == "1", nil
	case errors.Is(err, redis.Nil):
	default:
		slog.Warn("monitored cache read failed, using store", "key", key, "error", err)
	}

	ok, err := c.next.IsMonitored(ctx, orgID, address)
	if err != nil {
		return false, err
	}

	v := "0"
	if ok {
		v = "1"
	}
	if err := c.rdb.Set(ctx, key, v, c.ttl).Err(); err != nil {
		slog.Warn("monitored cache write failed", "key", key, "error", err)
	}
	return ok, nil
}

// Invalidate drops the cached answer for address.
func (c *MonitoredCache) Invalidate(ctx context.Context, orgID, address string) error {
	if err := c.rdb.Del(ctx, cacheKey(orgID, address)).Err(); err != nil {
		return fmt.Errorf("monitored cache DEL: %w", err)
	}
	return nil
}

// Upserter records monitored addresses.
type Upserter interface {
	UpsertMonitored(ctx context.Context, orgID, address string) error
}

// WriteThrough returns an Upserter that writes to dst and then drops the
// cached answer, so a newly monitored address is seen on the next lookup
// instead of after the TTL. A failed invalidation is logged only.
func (c *MonitoredCache) WriteThrough(dst Upserter) Upserter {
	return &writeThrough{dst: dst, cache: c}
}

type writeThrough struct {
	dst   Upserter
	cache *MonitoredCache
}

func (w *writeThrough) UpsertMonitored(ctx context.Context, orgID, address string) error {
	if err := w.dst.UpsertMonitored(ctx, orgID, address); err != nil {
		return err
	}
	if err := w.cache.Invalidate(ctx, orgID, address); err != nil {
		slog.Warn("monitored cache invalidation failed", "organization_id", orgID, "address", address, "error", err)
	}
	return nil
}

func cacheKey(orgID, address string) string {
	return fmt.Sprintf("%s%s:%s", keyPrefix, orgID, strings.ToLower(address))
}
