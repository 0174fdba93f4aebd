package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/raaihank/contract-sentinel/internal/config"
	"github.com/raaihank/contract-sentinel/internal/masking"
	"go.uber.org/zap"
)

// MaskingCache stores masking results in Redis keyed by a hash of the
// document, the rules and the enabled detectors.
type MaskingCache struct {
	client *redis.Client
	config config.CacheConfig
	logger *zap.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

// Stats represents cache performance statistics
type Stats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	TotalKeys   int64   `json:"total_keys"`
	MemoryUsage int64   `json:"memory_usage_bytes"`
}

// NewMaskingCache connects to Redis and verifies the connection
func NewMaskingCache(cfg config.CacheConfig, logger *zap.Logger) (*MaskingCache, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if cfg.MaxConnections > 0 {
		opts.PoolSize = cfg.MaxConnections
	}
	opts.MinIdleConns = cfg.MinIdleConns

	mc := &MaskingCache{
		client: redis.NewClient(opts),
		config: cfg,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := mc.client.Ping(ctx).Err(); err != nil {
		_ = mc.client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Masking cache initialized",
		zap.String("redis_url", maskRedisURL(cfg.RedisURL)),
		zap.Int("max_connections", cfg.MaxConnections),
		zap.Duration("default_ttl", cfg.DefaultTTL))

	return mc, nil
}

// Lookup returns a cached result for the inputs
func (mc *MaskingCache) Lookup(ctx context.Context, original string, rules []masking.MaskRule, enabled masking.DetectorSet) (*masking.Result, bool) {
	key := mc.key(original, rules, enabled)

	data, err := mc.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		mc.misses.Add(1)
		return nil, false
	} else if err != nil {
		mc.misses.Add(1)
		mc.logger.Error("Cache lookup failed", zap.Error(err))
		return nil, false
	}

	var result masking.Result
	if err := json.Unmarshal(data, &result); err != nil {
		mc.misses.Add(1)
		mc.logger.Error("Failed to unmarshal cached masking result", zap.Error(err))
		mc.client.Del(ctx, key)
		return nil, false
	}

	mc.hits.Add(1)
	mc.logger.Debug("Cache hit", zap.String("key", key))
	return &result, true
}

// Store caches result with the configured TTL
func (mc *MaskingCache) Store(ctx context.Context, original string, rules []masking.MaskRule, enabled masking.DetectorSet, result *masking.Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal masking result: %w", err)
	}

	key := mc.key(original, rules, enabled)
	if err := mc.client.Set(ctx, key, data, mc.config.DefaultTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache masking result: %w", err)
	}

	mc.logger.Debug("Masking result cached",
		zap.String("key", key),
		zap.Int("total_replacements", result.TotalReplacements))

	return nil
}

// GetStats returns cache performance statistics
func (mc *MaskingCache) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		Hits:   mc.hits.Load(),
		Misses: mc.misses.Load(),
	}

	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}

	// Not every Redis-compatible server reports memory; treat it as optional.
	if info, err := mc.client.Info(ctx, "memory").Result(); err == nil {
		for _, line := range strings.Split(info, "\r\n") {
			if memStr := strings.TrimPrefix(line, "used_memory:"); memStr != line {
				if mem, err := strconv.ParseInt(memStr, 10, 64); err == nil {
					stats.MemoryUsage = mem
				}
			}
		}
	}

	keys, err := mc.scanKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count cache keys: %w", err)
	}
	stats.TotalKeys = int64(len(keys))

	return stats, nil
}

// Clear removes every cached masking result under the key prefix
func (mc *MaskingCache) Clear(ctx context.Context) error {
	keys, err := mc.scanKeys(ctx)
	if err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}

	batchSize := 100
	for i := 0; i < len(keys); i += batchSize {
		end := i + batchSize
		if end > len(keys) {
			end = len(keys)
		}
		if err := mc.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			return fmt.Errorf("failed to delete cache keys: %w", err)
		}
	}

	mc.logger.Info("Masking cache cleared", zap.Int("deleted_keys", len(keys)))
	return nil
}

// scanKeys lists the masking result keys under the configured prefix. Other
// data sharing the Redis database is not included.
func (mc *MaskingCache) scanKeys(ctx context.Context) ([]string, error) {
	iter := mc.client.Scan(ctx, 0, mc.config.KeyPrefix+":mask:*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

// Close closes the Redis connection
func (mc *MaskingCache) Close() error {
	if mc.client != nil {
		return mc.client.Close()
	}
	return nil
}

// key hashes every input that changes the masking outcome. Rule order is
// part of the key because ties in target length keep insertion order.
func (mc *MaskingCache) key(original string, rules []masking.MaskRule, enabled masking.DetectorSet) string {
	hasher := sha256.New()

	writeField := func(s string) {
		hasher.Write([]byte(strconv.Itoa(len(s))))
		hasher.Write([]byte{':'})
		hasher.Write([]byte(s))
	}

	writeField(original)
	for _, r := range rules {
		writeField(r.Target)
		writeField(r.Placeholder)
	}
	hasher.Write([]byte{'|'})
	for _, id := range enabled.IDs() {
		writeField(id)
	}

	return fmt.Sprintf("%s:mask:%s", mc.config.KeyPrefix, hex.EncodeToString(hasher.Sum(nil)))
}

// maskRedisURL masks the password in a Redis URL for logging
func maskRedisURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	userPart := url[:at]
	colon := strings.LastIndex(userPart, ":")
	if colon <= strings.Index(userPart, "://")+2 {
		return url
	}
	return userPart[:colon+1] + "***" + url[at:]
}
