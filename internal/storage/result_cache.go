package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	u "kdocs2pdf/internal/utils"
)

// ResultCache maps a source document URL to the filename of its last
// successful conversion. A nil *ResultCache is a valid, disabled cache.
type ResultCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewResultCache returns nil when rdb is nil.
func NewResultCache(rdb *redis.Client, ttl time.Duration) *ResultCache {
	if rdb == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &ResultCache{rdb: rdb, ttl: ttl}
}

func resultKey(sourceURL string) string {
	sum := sha256.Sum256([]byte(sourceURL))
	return "kdocs2pdf:result:" + hex.EncodeToString(sum[:])
}

// Get returns the cached filename, or "" on a miss or any Redis error.
func (c *ResultCache) Get(ctx context.Context, sourceURL string) string {
	if c == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	name, err := c.rdb.Get(ctx, resultKey(sourceURL)).Result()
	if errors.Is(err, redis.Nil) {
		return ""
	}
	if err != nil {
		u.Warn("Redis read failed", "error", err)
		return ""
	}
	return name
}

// Set records filename for sourceURL. Failures are logged, never returned.
func (c *ResultCache) Set(ctx context.Context, sourceURL, filename string) {
	if c == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	if err := c.rdb.Set(ctx, resultKey(sourceURL), filename, c.ttl).Err(); err != nil {
		u.Warn("Redis write failed", "error", err)
	}
}
