package fetch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "transcript:"

// CachedFetcher is a read-through Redis cache in front of another Fetcher.
// Transcripts for a given video never change, so a hit skips the network
// fetch entirely. Cache failures are logged and otherwise ignored: Redis
// being down must not fail a transcript.
type CachedFetcher struct {
	inner  Fetcher
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedFetcher wraps inner with a Redis transcript cache
func NewCachedFetcher(inner Fetcher, rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedFetcher {
	return &CachedFetcher{
		inner:  inner,
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

// Fetch returns a cached transcript when available, otherwise fetches and
// caches the result.
func (c *CachedFetcher) Fetch(ctx context.Context, videoID string) (string, error) {
	key := cacheKeyPrefix + videoID

	cached, err := c.rdb.Get(ctx, key).Result()
	if err == nil {
		c.logger.Debug("Transcript cache hit",
			slog.String("video_id", videoID),
		)
		return cached, nil
	}
	if !errors.Is(err, redis.Nil) {
		c.logger.Warn("Transcript cache read failed",
			slog.String("video_id", videoID),
			slog.String("error", err.Error()),
		)
	}

	data, err := c.inner.Fetch(ctx, videoID)
	if err != nil {
		return "", err
	}

	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("Transcript cache write failed",
			slog.String("video_id", videoID),
			slog.String("error", err.Error()),
		)
	}

	return data, nil
}
