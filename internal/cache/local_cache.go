package cache

import (
	"context"
	"sync"
	"time"
)

// LocalCache 本地 TTL 占位表
//
// 特点：
// - SetIfAbsent 原子占位，作为单进程幂等账本
// - 后台定期清理过期条目
type LocalCache struct {
	mu      sync.Mutex
	data    map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
	stopped chan struct{}
	cancel  context.CancelFunc
}

type cacheEntry struct {
	value     interface{}
	expiresAt time.Time
}

// NewLocalCache 创建本地缓存
//
// 参数:
//   - ttl: 默认过期时间
//   - cleanupInterval: 清理周期，<=0 时不启动后台清理
func NewLocalCache(ttl, cleanupInterval time.Duration) *LocalCache {
	ctx, cancel := context.WithCancel(context.Background())
	c := &LocalCache{
		data:    make(map[string]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
		stopped: make(chan struct{}),
		cancel:  cancel,
	}

	if cleanupInterval > 0 {
		go c.cleanupLoop(ctx, cleanupInterval)
	} else {
		close(c.stopped)
	}
	return c
}

// SetIfAbsent 仅当键不存在（或已过期）时写入，返回是否写入成功
func (c *LocalCache) SetIfAbsent(key string, value interface{}, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.data[key]; ok && !c.now().After(entry.expiresAt) {
		return false
	}
	c.data[key] = cacheEntry{value: value, expiresAt: c.expiry(ttl)}
	return true
}

// Close 停止后台清理
func (c *LocalCache) Close() {
	c.cancel()
	<-c.stopped
}

func (c *LocalCache) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		ttl = c.ttl
	}
	return c.now().Add(ttl)
}

// cleanupLoop 定期清理过期条目
func (c *LocalCache) cleanupLoop(ctx context.Context, interval time.Duration) {
	defer close(c.stopped)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.purge()
		}
	}
}

func (c *LocalCache) purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.data {
		if now.After(entry.expiresAt) {
			delete(c.data, key)
		}
	}
}
