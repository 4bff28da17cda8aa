package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chipx-network/chipx/pkg/db/models"
	"github.com/chipx-network/chipx/pkg/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// queryCache is a short-TTL Redis cache in front of the read queries the
// presentation side hits repeatedly. Purely an accelerator: any cache error
// falls through to ClickHouse, and a load pass drops the whole keyspace so
// fresh data is never masked for longer than one upsert.
type queryCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

const cachePrefix = "chipx:query:"

// newQueryCache returns a cache bound to REDIS_ADDR, or a disabled cache
// when the variable is unset.
func newQueryCache(logger *zap.Logger) *queryCache {
	addr := utils.Env("REDIS_ADDR", "")
	if addr == "" {
		return &queryCache{logger: logger}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: utils.Env("REDIS_PASSWORD", ""),
	})

	logger.Info("Query cache enabled", zap.String("addr", addr))
	return &queryCache{
		rdb:    rdb,
		ttl:    time.Duration(utils.EnvInt("QUERY_CACHE_TTL_SECONDS", 600)) * time.Second,
		logger: logger,
	}
}

func (c *queryCache) enabled() bool {
	return c != nil && c.rdb != nil
}

func (c *queryCache) get(ctx context.Context, key string, dest interface{}) bool {
	if !c.enabled() {
		return false
	}
	payload, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Debug("Query cache read failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		c.logger.Debug("Query cache payload invalid", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (c *queryCache) put(ctx context.Context, key string, value interface{}) {
	if !c.enabled() {
		return
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.logger.Debug("Query cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *queryCache) getHistory(ctx context.Context, stockID string, weeks int) ([]*models.Distribution, bool) {
	var rows []*models.Distribution
	ok := c.get(ctx, historyKey(stockID, weeks), &rows)
	return rows, ok
}

func (c *queryCache) putHistory(ctx context.Context, stockID string, weeks int, rows []*models.Distribution) {
	c.put(ctx, historyKey(stockID, weeks), rows)
}

func (c *queryCache) getSnapshot(ctx context.Context, date string, level uint8) ([]*models.Distribution, bool) {
	var rows []*models.Distribution
	ok := c.get(ctx, snapshotKey(date, level), &rows)
	return rows, ok
}

func (c *queryCache) putSnapshot(ctx context.Context, date string, level uint8, rows []*models.Distribution) {
	c.put(ctx, snapshotKey(date, level), rows)
}

// invalidate drops every cached query result after a successful upsert.
func (c *queryCache) invalidate(ctx context.Context) {
	if !c.enabled() {
		return
	}

	iter := c.rdb.Scan(ctx, 0, cachePrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			c.logger.Debug("Query cache invalidation failed", zap.String("key", iter.Val()), zap.Error(err))
		}
	}
	if err := iter.Err(); err != nil {
		c.logger.Debug("Query cache scan failed", zap.Error(err))
	}
}

func historyKey(stockID string, weeks int) string {
	return fmt.Sprintf("%shistory:%s:%d", cachePrefix, stockID, weeks)
}

func snapshotKey(date string, level uint8) string {
	return fmt.Sprintf("%ssnapshot:%s:%d", cachePrefix, date, level)
}
