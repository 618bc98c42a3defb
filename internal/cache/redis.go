package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// scanBatchSize はDeletePrefixでSCANする1回あたりの件数。
const scanBatchSize = 100

// RedisCache はRedisをバックエンドとするCache。
// 複数のAPIインスタンス間でキャッシュを共有する場合に使用する。
type RedisCache struct {
	client     *redis.Client
	defaultTTL time.Duration
}

var _ Cache = (*RedisCache)(nil)

// NewRedisCache はredis://形式のURLからRedisCacheを生成する。
func NewRedisCache(url string, defaultTTL time.Duration) (*RedisCache, error) {
	if url == "" {
		return nil, fmt.Errorf("REDIS_URLが設定されていません")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("REDIS_URLの解析に失敗しました: %w", err)
	}
	return NewRedisCacheWithClient(redis.NewClient(opts), defaultTTL), nil
}

// NewRedisCacheWithClient は既存のクライアントからRedisCacheを生成する。
func NewRedisCacheWithClient(client *redis.Client, defaultTTL time.Duration) *RedisCache {
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	return &RedisCache{client: client, defaultTTL: defaultTTL}
}

// Get はキーに対応する値を返す。
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("キャッシュの取得に失敗しました: %w", err)
	}
	return b, true, nil
}

// Set は値をttlの間保持する。
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("キャッシュの保存に失敗しました: %w", err)
	}
	return nil
}

// DeletePrefix はprefixで始まるキーをSCANで列挙して削除する。
func (c *RedisCache) DeletePrefix(ctx context.Context, prefix string) error {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, prefix+"*", scanBatchSize).Result()
		if err != nil {
			return fmt.Errorf("キャッシュキーの列挙に失敗しました: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("キャッシュの削除に失敗しました: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Ping はRedisへの疎通を確認する。
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close はクライアントを閉じる。
func (c *RedisCache) Close() error {
	return c.client.Close()
}
