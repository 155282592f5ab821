package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

var ErrCacheMiss = errors.New("cache miss")

// ResultCacheService caches run results and GTO estimates in redis behind a
// circuit breaker. A nil client disables caching: every Get misses and every
// Set is a no-op.
type ResultCacheService struct {
	client  *redis.Client
	breaker *gobreaker.CircuitBreaker
	ttl     time.Duration
	logger  *logrus.Logger
}

func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// NewResultCacheService opens the breaker after threshold consecutive
// redis failures; threshold <= 0 means 3.
func NewResultCacheService(client *redis.Client, ttl time.Duration, threshold int, logger *logrus.Logger) *ResultCacheService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if threshold <= 0 {
		threshold = 3
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "result-cache",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(threshold)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, redis.Nil)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker":    name,
				"from_state": from.String(),
				"to_state":   to.String(),
			}).Warn("Cache circuit breaker state changed")
		},
	})
	return &ResultCacheService{client: client, breaker: cb, ttl: ttl, logger: logger}
}

func RunKey(runID string) string {
	return fmt.Sprintf("run:%s", runID)
}

func GTOKey(runID, site string) string {
	return fmt.Sprintf("gto:%s:%s", runID, site)
}

func (c *ResultCacheService) Enabled() bool {
	return c != nil && c.client != nil
}

// Set stores v as JSON under key for the configured TTL.
func (c *ResultCacheService) Set(ctx context.Context, key string, v any) error {
	if !c.Enabled() {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	_, err = c.breaker.Execute(func() (interface{}, error) {
		return nil, c.client.Set(ctx, key, data, c.ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to cache %s: %w", key, err)
	}

	c.logger.WithFields(logrus.Fields{
		"cache_key":  key,
		"expiration": c.ttl,
		"bytes":      len(data),
	}).Debug("Cached result")
	return nil
}

// Get decodes the value under key into v. It returns ErrCacheMiss when the
// key is absent or caching is disabled.
func (c *ResultCacheService) Get(ctx context.Context, key string, v any) error {
	if !c.Enabled() {
		return ErrCacheMiss
	}
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.client.Get(ctx, key).Bytes()
	})
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return fmt.Errorf("failed to read %s from cache: %w", key, err)
	}
	if err := json.Unmarshal(out.([]byte), v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	c.logger.WithField("cache_key", key).Debug("Retrieved result from cache")
	return nil
}

// InvalidateRun removes the run and every GTO estimate cached for it.
func (c *ResultCacheService) InvalidateRun(ctx context.Context, runID string) error {
	if !c.Enabled() {
		return nil
	}
	_, err := c.breaker.Execute(func() (interface{}, error) {
		keys := []string{RunKey(runID)}
		iter := c.client.Scan(ctx, 0, GTOKey(runID, "*"), 100).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return nil, err
		}
		return nil, c.client.Del(ctx, keys...).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to invalidate run %s: %w", runID, err)
	}
	return nil
}

// GetStatus reports cache health for the health endpoint.
func (c *ResultCacheService) GetStatus(ctx context.Context) map[string]interface{} {
	status := map[string]interface{}{
		"service":   "result-cache",
		"timestamp": time.Now(),
		"enabled":   c.Enabled(),
	}
	if !c.Enabled() {
		return status
	}
	status["breaker"] = c.breaker.State().String()
	status["connected"] = c.client.Ping(ctx).Err() == nil
	if dbSize := c.client.DBSize(ctx); dbSize.Err() == nil {
		status["db_size"] = dbSize.Val()
	}
	return status
}

func (c *ResultCacheService) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Close()
}
