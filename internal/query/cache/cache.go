package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/jeongwoohan/grantcat/internal/query"
	"github.com/jeongwoohan/grantcat/pkg/config"
	"github.com/jeongwoohan/grantcat/pkg/logger"
	pkgredis "github.com/jeongwoohan/grantcat/pkg/redis"
)

const keyPrefix = "search:"

// QueryCache fronts the query engine with a Redis-backed result cache.
// Concurrent lookups for the same key collapse through singleflight so a
// stampede after invalidation computes the search once.
type QueryCache struct {
	client *pkgredis.Client
	cfg    config.RedisConfig
	group  singleflight.Group
	logger *slog.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

func New(client *pkgredis.Client, cfg config.RedisConfig) *QueryCache {
	return &QueryCache{
		client: client,
		cfg:    cfg,
		logger: logger.WithComponent("query-cache"),
	}
}

func (c *QueryCache) Get(ctx context.Context, req query.Request) (*query.Result, bool) {
	key := c.buildKey(req)
	data, err := c.client.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.misses.Add(1)
		return nil, false
	}
	var result query.Result
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	c.logger.Debug("cache hit", "key", key)
	return &result, true
}

func (c *QueryCache) Set(ctx context.Context, req query.Request, result *query.Result) {
	key := c.buildKey(req)
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, data, c.cfg.CacheTTL); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns a cached result or computes, caches, and returns a
// fresh one. The bool reports whether the result came from cache.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	req query.Request,
	computeFn func() (*query.Result, error),
) (*query.Result, bool, error) {
	if result, ok := c.Get(ctx, req); ok {
		return result, true, nil
	}
	key := c.buildKey(req)
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		if result, ok := c.Get(ctx, req); ok {
			return result, nil
		}
		result, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, req, result)
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*query.Result), false, nil
}

// Invalidate drops every cached search result. The coordinator calls this
// after each committed mutation so readers never see results older than
// the catalog.
func (c *QueryCache) Invalidate(ctx context.Context) error {
	deleted, err := c.client.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Debug("cache invalidated", "keys_deleted", deleted)
	return nil
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// buildKey hashes a normalized rendering of the request so condition order
// does not fragment the cache.
func (c *QueryCache) buildKey(req query.Request) string {
	conds := make([]string, 0, len(req.Conditions))
	for _, cond := range req.Conditions {
		conds = append(conds, cond.Field+"="+strings.ToLower(cond.Value))
	}
	slices.Sort(conds)
	raw := fmt.Sprintf("%s|free=%s|limit=%d",
		strings.Join(conds, "&"),
		strings.ToLower(strings.TrimSpace(req.FreeText)),
		req.Limit,
	)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}
