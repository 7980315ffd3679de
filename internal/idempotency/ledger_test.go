package idempotency

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replyhub/backend/internal/domain"
	"replyhub/backend/internal/storage/redis"
)

func TestKey(t *testing.T) {
	assert.Equal(t,
		"webhook:id:instantly:2024-01-01T00:00:00Z:a@b.com:c1:e1",
		Key(domain.PlatformInstantly, "2024-01-01T00:00:00Z", "a@b.com", "c1", "e1"))
	assert.Equal(t, "webhook:id:plusvibe:wh-1", Key(domain.PlatformPlusVibe, "wh-1"))
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("t1", "m1")
	assert.Len(t, a, 64)
	assert.Equal(t, a, Fingerprint("t1", "m1"))
	// 字段边界参与摘要
	assert.NotEqual(t, Fingerprint("t1m", "1"), Fingerprint("t1", "m1"))
}

func newRedisLedger(t *testing.T, ttl time.Duration) (*RedisLedger, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisLedger(redis.Wrap(rdb, nil), ttl), mr
}

func TestLedgers(t *testing.T) {
	ledgers := map[string]func(t *testing.T) Ledger{
		"memory": func(t *testing.T) Ledger {
			l := NewMemoryLedger(time.Hour)
			t.Cleanup(l.Close)
			return l
		},
		"redis": func(t *testing.T) Ledger {
			l, _ := newRedisLedger(t, time.Hour)
			return l
		},
	}

	for name, newLedger := range ledgers {
		t.Run(name+"/首次登记后重复", func(t *testing.T) {
			l := newLedger(t)
			ctx := context.Background()

			dup, err := l.Claim(ctx, "webhook:id:plusvibe:1")
			require.NoError(t, err)
			assert.False(t, dup)

			dup, err = l.Claim(ctx, "webhook:id:plusvibe:1")
			require.NoError(t, err)
			assert.True(t, dup)

			dup, err = l.Claim(ctx, "webhook:id:plusvibe:2")
			require.NoError(t, err)
			assert.False(t, dup)
		})

		t.Run(name+"/并发登记只有一个成功", func(t *testing.T) {
			l := newLedger(t)
			var fresh int32
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					dup, err := l.Claim(context.Background(), "same")
					if err == nil && !dup {
						atomic.AddInt32(&fresh, 1)
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, int32(1), fresh)
		})
	}
}

func TestRedisLedger_TTL(t *testing.T) {
	l, mr := newRedisLedger(t, 24*time.Hour)
	ctx := context.Background()

	_, err := l.Claim(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, mr.TTL("k"))

	mr.FastForward(25 * time.Hour)
	dup, err := l.Claim(ctx, "k")
	require.NoError(t, err)
	assert.False(t, dup, "过期后视为新事件")
}

func TestRedisLedger_Unavailable(t *testing.T) {
	l, mr := newRedisLedger(t, time.Hour)
	mr.Close()

	_, err := l.Claim(context.Background(), "k")
	assert.Error(t, err)
}
