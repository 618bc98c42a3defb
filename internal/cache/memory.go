package cache

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// defaultMemorySize はサイズ未指定時の最大エントリ数。
const defaultMemorySize = 1024

// memoryEntry はエントリごとの有効期限を持つ値。
// LRU自体のTTLは既定値の上限として働き、個別のTTLはexpiresAtで判定する。
type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache はプロセス内のLRUキャッシュ。
// 容量を超えた場合は最も長く参照されていないエントリから追い出す。
type MemoryCache struct {
	lru        *expirable.LRU[string, memoryEntry]
	defaultTTL time.Duration
	now        func() time.Time
}

var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache はMemoryCacheを生成する。
// sizeが0以下の場合は1024、defaultTTLが0以下の場合は1時間を使う。
func NewMemoryCache(size int, defaultTTL time.Duration) *MemoryCache {
	if size <= 0 {
		size = defaultMemorySize
	}
	if defaultTTL <= 0 {
		defaultTTL = time.Hour
	}
	return &MemoryCache{
		lru:        expirable.NewLRU[string, memoryEntry](size, nil, defaultTTL),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// Get はキーに対応する値を返す。
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	e, ok := c.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(e.expiresAt) {
		c.lru.Remove(key)
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set は値を保持する。
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 || ttl > c.defaultTTL {
		ttl = c.defaultTTL
	}
	c.lru.Add(key, memoryEntry{value: value, expiresAt: c.now().Add(ttl)})
	return nil
}

// DeletePrefix はprefixで始まるキーをすべて削除する。
func (c *MemoryCache) DeletePrefix(_ context.Context, prefix string) error {
	for _, key := range c.lru.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.lru.Remove(key)
		}
	}
	return nil
}

// Len は保持しているエントリ数を返す。
func (c *MemoryCache) Len() int {
	return c.lru.Len()
}
