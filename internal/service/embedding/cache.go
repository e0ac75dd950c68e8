// Package embedding 为 eino 向量化组件提供缓存层。
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	einoembedding "github.com/cloudwego/eino/components/embedding"
	"github.com/go-redis/redis/v8"
)

const keyPrefix = "cardfinder:embedding:"

// VectorCache 是向量缓存的存取接口。GetMany 返回与 keys 等长的切片，未命中的位置为 nil。
type VectorCache interface {
	GetMany(ctx context.Context, keys []string) ([][]float64, error)
	SetMany(ctx context.Context, entries map[string][]float64) error
}

// CachedEmbedder 在调用底层向量化器之前先查询缓存，只对未命中的文本发起一次批量请求。
type CachedEmbedder struct {
	inner  einoembedding.Embedder
	cache  VectorCache
	model  string
	logger *slog.Logger
}

// NewCachedEmbedder 构造带缓存的向量化器。model 参与缓存键计算，切换模型时缓存自然失效。
func NewCachedEmbedder(inner einoembedding.Embedder, cache VectorCache, model string, logger *slog.Logger) *CachedEmbedder {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedEmbedder{inner: inner, cache: cache, model: model, logger: logger}
}

// CacheKey 返回文本在给定模型下的缓存键。
func CacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return keyPrefix + hex.EncodeToString(sum[:])
}

// EmbedStrings 实现 embedding.Embedder，结果顺序与输入一致。
func (e *CachedEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...einoembedding.Option) ([][]float64, error) {
	if len(texts) == 0 {
		return [][]float64{}, nil
	}

	keys := make([]string, len(texts))
	for i, text := range texts {
		keys[i] = CacheKey(e.model, text)
	}

	out := make([][]float64, len(texts))
	cached, err := e.cache.GetMany(ctx, keys)
	if err != nil {
		e.logger.Warn("embedding cache: lookup failed", slog.String("error", err.Error()))
	} else if len(cached) == len(texts) {
		copy(out, cached)
	}

	var (
		missTexts []string
		missIdx   []int
	)
	for i := range texts {
		if out[i] == nil {
			missTexts = append(missTexts, texts[i])
			missIdx = append(missIdx, i)
		}
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vectors, err := e.inner.EmbedStrings(ctx, missTexts, opts...)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missTexts) {
		return nil, fmt.Errorf("embedding: embedder returned %d vectors for %d texts", len(vectors), len(missTexts))
	}

	fresh := make(map[string][]float64, len(vectors))
	for j, vec := range vectors {
		i := missIdx[j]
		out[i] = vec
		fresh[keys[i]] = vec
	}
	if err := e.cache.SetMany(ctx, fresh); err != nil {
		e.logger.Warn("embedding cache: store failed", slog.String("error", err.Error()))
	}

	return out, nil
}

// RedisCache 将向量以 JSON 形式存放在 Redis 中。
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache 使用已有客户端构造缓存。
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

// GetMany 通过 MGET 一次读取全部键。
func (c *RedisCache) GetMany(ctx context.Context, keys []string) ([][]float64, error) {
	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}

	out := make([][]float64, len(keys))
	for i, raw := range values {
		s, ok := raw.(string)
		if !ok {
			continue
		}
		var vec []float64
		if err := json.Unmarshal([]byte(s), &vec); err != nil {
			continue
		}
		out[i] = vec
	}
	return out, nil
}

// SetMany 通过 pipeline 批量写入并设置过期时间。
func (c *RedisCache) SetMany(ctx context.Context, entries map[string][]float64) error {
	if len(entries) == 0 {
		return nil
	}

	pipe := c.client.Pipeline()
	for key, vec := range entries {
		data, err := json.Marshal(vec)
		if err != nil {
			return fmt.Errorf("encode vector: %w", err)
		}
		pipe.Set(ctx, key, data, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}
