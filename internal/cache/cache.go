// Package cache provides the best-effort Redis read-through layer for entity
// status and report lookups. Cache failures are never fatal: every error is
// logged and treated as a miss, so a Redis outage degrades to database reads.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intel-pipeline/internal/config"
	"github.com/sells-group/intel-pipeline/internal/model"
)

const (
	entityStatusPrefix = "intel:entity_status:"
	reportPrefix       = "intel:report:"
)

// Cache wraps a Redis client with the pipeline's two read paths: the entity
// status projection and full rendered reports.
type Cache struct {
	rdb             *redis.Client
	entityStatusTTL time.Duration
	reportTTL       time.Duration
}

// New connects to Redis. The connection is verified eagerly so a
// misconfigured address surfaces at startup rather than as a stream of
// logged misses.
func New(ctx context.Context, cfg config.CacheConfig) (*Cache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, eris.Wrap(err, "cache: ping redis")
	}
	return NewWithClient(rdb, cfg), nil
}

// NewWithClient wraps an existing Redis client, used by tests with miniredis.
func NewWithClient(rdb *redis.Client, cfg config.CacheConfig) *Cache {
	entityTTL := cfg.EntityStatusTTL
	if entityTTL <= 0 {
		entityTTL = 5 * time.Minute
	}
	reportTTL := cfg.ReportTTL
	if reportTTL <= 0 {
		reportTTL = time.Hour
	}
	return &Cache{rdb: rdb, entityStatusTTL: entityTTL, reportTTL: reportTTL}
}

// GetEntityStatus returns the cached status projection for an identifier, or
// nil on miss. Errors count as misses.
func (c *Cache) GetEntityStatus(ctx context.Context, identifier string) *model.EntityStatus {
	var status model.EntityStatus
	if !c.get(ctx, entityStatusPrefix+identifier, &status) {
		return nil
	}
	return &status
}

// SetEntityStatus stores the status projection under its identifier.
func (c *Cache) SetEntityStatus(ctx context.Context, identifier string, status *model.EntityStatus) {
	c.set(ctx, entityStatusPrefix+identifier, status, c.entityStatusTTL)
}

// InvalidateEntityStatus drops the cached projection after a mutation.
func (c *Cache) InvalidateEntityStatus(ctx context.Context, identifier string) {
	c.del(ctx, entityStatusPrefix+identifier)
}

// GetReport returns a cached report by id, or nil on miss.
func (c *Cache) GetReport(ctx context.Context, reportID string) *model.Report {
	var r model.Report
	if !c.get(ctx, reportPrefix+reportID, &r) {
		return nil
	}
	return &r
}

// SetReport stores a report under its id. Reports are immutable, so the TTL
// exists only to bound memory.
func (c *Cache) SetReport(ctx context.Context, report *model.Report) {
	c.set(ctx, reportPrefix+report.ID, report, c.reportTTL)
}

// InvalidateReport drops a cached report.
func (c *Cache) InvalidateReport(ctx context.Context, reportID string) {
	c.del(ctx, reportPrefix+reportID)
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	return c.rdb.Close()
}

func (c *Cache) get(ctx context.Context, key string, dst any) bool {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false
	}
	if err != nil {
		zap.L().Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		zap.L().Warn("cache entry corrupt", zap.String("key", key), zap.Error(err))
		c.del(ctx, key)
		return false
	}
	return true
}

func (c *Cache) set(ctx context.Context, key string, v any, ttl time.Duration) {
	data, err := json.Marshal(v)
	if err != nil {
		zap.L().Warn("cache marshal failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		zap.L().Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *Cache) del(ctx context.Context, key string) {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		zap.L().Warn("cache delete failed", zap.String("key", key), zap.Error(err))
	}
}
