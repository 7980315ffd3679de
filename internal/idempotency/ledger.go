package idempotency

import (
	"context"
	"fmt"
	"time"

	"replyhub/backend/internal/cache"
	"replyhub/backend/internal/storage/redis"
)

// DefaultTTL 幂等键默认保留 24 小时
const DefaultTTL = 24 * time.Hour

// Ledger 幂等账本
type Ledger interface {
	// Claim 原子地登记键。键已存在时返回 duplicate=true。
	Claim(ctx context.Context, key string) (duplicate bool, err error)
}

// MemoryLedger 基于本地缓存的账本，仅在单进程内有效
type MemoryLedger struct {
	cache *cache.LocalCache
	ttl   time.Duration
}

// NewMemoryLedger 创建内存账本
func NewMemoryLedger(ttl time.Duration) *MemoryLedger {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryLedger{
		cache: cache.NewLocalCache(ttl, time.Minute),
		ttl:   ttl,
	}
}

// Claim 实现 Ledger
func (l *MemoryLedger) Claim(_ context.Context, key string) (bool, error) {
	return !l.cache.SetIfAbsent(key, struct{}{}, l.ttl), nil
}

// Close 停止后台清理
func (l *MemoryLedger) Close() {
	l.cache.Close()
}

// RedisLedger 基于 Redis SET NX EX 的账本，多实例共享
type RedisLedger struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLedger 创建 Redis 账本
func NewRedisLedger(client *redis.Client, ttl time.Duration) *RedisLedger {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisLedger{client: client, ttl: ttl}
}

// Claim 实现 Ledger
func (l *RedisLedger) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := l.client.SetNX(ctx, key, "1", l.ttl)
	if err != nil {
		return false, fmt.Errorf("claim idempotency key: %w", err)
	}
	return !ok, nil
}
