package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ErrCacheMiss is returned by Get when the key is absent or caching is off.
var ErrCacheMiss = errors.New("cache miss")

// CacheService wraps Redis. A nil client turns every call into a no-op so the
// service runs without Redis in development and tests.
type CacheService struct {
	client *redis.Client
}

func NewCacheService(client *redis.Client) *CacheService {
	return &CacheService{
		client: client,
	}
}

// NewRedisClient parses REDIS_URL and pings the server. An empty URL yields a
// nil client.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

func (s *CacheService) Available() bool {
	return s != nil && s.client != nil
}

func (s *CacheService) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if !s.Available() {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	if err := s.client.Set(ctx, key, data, expiration).Err(); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}
	return nil
}

func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) error {
	if !s.Available() {
		return ErrCacheMiss
	}
	data, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheMiss
		}
		return fmt.Errorf("failed to get cache: %w", err)
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return fmt.Errorf("failed to unmarshal value: %w", err)
	}
	return nil
}

func (s *CacheService) Delete(ctx context.Context, keys ...string) error {
	if !s.Available() || len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete cache: %w", err)
	}
	return nil
}

// DeletePattern removes every key matching a glob pattern.
func (s *CacheService) DeletePattern(ctx context.Context, pattern string) error {
	if !s.Available() {
		return nil
	}
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}
	return s.Delete(ctx, keys...)
}

// Ping reports Redis health; a disabled cache is healthy.
func (s *CacheService) Ping(ctx context.Context) error {
	if !s.Available() {
		return nil
	}
	return s.client.Ping(ctx).Err()
}

func (s *CacheService) Close() error {
	if !s.Available() {
		return nil
	}
	return s.client.Close()
}

// InvalidateResults drops everything derived from results or ratings.
func (s *CacheService) InvalidateResults(ctx context.Context) {
	for _, pattern := range []string{"analysis:*", "courses:*", "course:*"} {
		if err := s.DeletePattern(ctx, pattern); err != nil {
			logrus.WithError(err).WithField("pattern", pattern).Warn("Cache invalidation failed")
		}
	}
}

// Cache key generators
func AnalysisCacheKey(minShared int, threshold, improvement float64, season int) string {
	return fmt.Sprintf("analysis:%d:%.3f:%.3f:%d", minShared, threshold, improvement, season)
}

func CourseListCacheKey(page, perPage int, search string) string {
	return fmt.Sprintf("courses:%d:%d:%s", page, perPage, search)
}

func CourseCacheKey(courseID uint) string {
	return fmt.Sprintf("course:%d", courseID)
}
