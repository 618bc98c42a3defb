// Package cache は推薦結果などの計算済みデータを保持するキャッシュを提供する。
//
// バックエンドはインメモリ（LRU + TTL）、Redis、無効化（常にミス）の3種類。
// いずれもスレッドセーフで、キャッシュ障害は呼び出し側でミスとして扱える。
package cache

import (
	"context"
	"fmt"
	"time"
)

// Backend はキャッシュバックエンドの種類。
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendRedis  Backend = "redis"
	BackendNone   Backend = "none"
)

// Cache はバイト列を保持するキー・バリューキャッシュのインターフェース。
type Cache interface {
	// Get はキーに対応する値を返す。存在しないか期限切れの場合はfalseを返す。
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set は値をttlの間保持する。ttlが0以下の場合はバックエンドの既定値を使う。
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// DeletePrefix はprefixで始まるキーをすべて削除する。
	DeletePrefix(ctx context.Context, prefix string) error
}

// Options はNewに渡す設定。
type Options struct {
	Backend    Backend
	Size       int
	DefaultTTL time.Duration
	RedisURL   string
}

// New は設定に応じたCacheを生成する。
func New(opts Options) (Cache, error) {
	switch opts.Backend {
	case BackendMemory, "":
		return NewMemoryCache(opts.Size, opts.DefaultTTL), nil
	case BackendRedis:
		return NewRedisCache(opts.RedisURL, opts.DefaultTTL)
	case BackendNone:
		return NopCache{}, nil
	default:
		return nil, fmt.Errorf("未対応のキャッシュバックエンドです: %s", opts.Backend)
	}
}

// NopCache は何も保持しないCache。常にミスを返す。
type NopCache struct{}

var _ Cache = NopCache{}

func (NopCache) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

func (NopCache) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (NopCache) DeletePrefix(context.Context, string) error { return nil }
