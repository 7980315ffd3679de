package cache

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLocalCache_SetIfAbsent(t *testing.T) {
	c := NewLocalCache(time.Hour, 0)
	defer c.Close()

	assert.True(t, c.SetIfAbsent("k", 1, 0))
	assert.False(t, c.SetIfAbsent("k", 2, 0))

	assert.Equal(t, 1, c.data["k"].value, "已占用的键保留首次写入的值")
}

func TestLocalCache_Expiry(t *testing.T) {
	c := NewLocalCache(time.Minute, 0)
	defer c.Close()

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	assert.True(t, c.SetIfAbsent("k", "v", 0))
	now = now.Add(30 * time.Second)
	assert.False(t, c.SetIfAbsent("k", "v", 0))

	now = now.Add(2 * time.Minute)
	assert.True(t, c.SetIfAbsent("k", "again", 0), "过期键可以重新占用")
}

func TestLocalCache_Purge(t *testing.T) {
	c := NewLocalCache(time.Minute, 0)
	defer c.Close()

	now := time.Now()
	c.now = func() time.Time { return now }
	c.SetIfAbsent("a", 1, time.Second)
	c.SetIfAbsent("b", 2, time.Hour)

	now = now.Add(time.Minute)
	c.purge()
	assert.Len(t, c.data, 1)
	assert.Contains(t, c.data, "b")
}

func TestLocalCache_ConcurrentSetIfAbsent(t *testing.T) {
	c := NewLocalCache(time.Hour, 10*time.Millisecond)
	defer c.Close()

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.SetIfAbsent("same", true, 0) {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}
