package service

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/timmy/curator/internal/domain"
	"github.com/timmy/curator/internal/logger"
	"github.com/timmy/curator/internal/metrics"
)

const analysisCacheKeyPrefix = "analysis:"

// CachedAnalyzer serves repeated analyses of the same URL from redis.
// Cache errors never fail an analysis; they fall through to the wrapped analyzer.
type CachedAnalyzer struct {
	next Analyzer
	cli  *redis.Client
	ttl  time.Duration
}

var _ Analyzer = (*CachedAnalyzer)(nil)

// NewCachedAnalyzer wraps next with a redis cache. ttl <= 0 defaults to 24h.
func NewCachedAnalyzer(next Analyzer, cli *redis.Client, ttl time.Duration) *CachedAnalyzer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CachedAnalyzer{next: next, cli: cli, ttl: ttl}
}

// Analyze implements Analyzer. Hits are returned with Cached set.
func (c *CachedAnalyzer) Analyze(ctx context.Context, url string) (*domain.ContentAnalysis, error) {
	key := analysisCacheKey(url)

	raw, err := c.cli.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var analysis domain.ContentAnalysis
		if jsonErr := json.Unmarshal(raw, &analysis); jsonErr == nil {
			metrics.IncCacheRequest("analysis", "hit")
			analysis.Cached = true
			return &analysis, nil
		}
		logger.CtxWarn(ctx, "Dropping undecodable analysis cache entry: url=%s", url)
	case !errors.Is(err, redis.Nil):
		logger.CtxWarn(ctx, "Analysis cache read failed: url=%s, error=%v", url, err)
	}
	metrics.IncCacheRequest("analysis", "miss")

	analysis, err := c.next.Analyze(ctx, url)
	if err != nil {
		return nil, err
	}

	stored := *analysis
	stored.Cached = false
	if b, err := json.Marshal(&stored); err == nil {
		if err := c.cli.Set(ctx, key, b, c.ttl).Err(); err != nil {
			logger.CtxWarn(ctx, "Analysis cache write failed: url=%s, error=%v", url, err)
		}
	}
	return analysis, nil
}

func analysisCacheKey(url string) string {
	sum := sha1.Sum([]byte(url))
	return analysisCacheKeyPrefix + hex.EncodeToString(sum[:])
}
