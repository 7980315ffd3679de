package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-for-development-32-chars-long-at-least"

func TestLoad(t *testing.T) {
	t.Run("加载默认配置成功", func(t *testing.T) {
		t.Setenv("REPLYHUB_JWT_SECRET", testSecret)
		t.Setenv("REPLYHUB_REDIS_ADDRESS", "")
		t.Setenv("REPLYHUB_QUEUE_MODE", "")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
		assert.Equal(t, "info", cfg.Log.Level)
		assert.Equal(t, "", cfg.Database.Type)
		assert.Equal(t, 5*time.Minute, cfg.Database.ConnMaxLifetime)

		// 未配置 Redis 时队列降级为同步模式
		assert.Equal(t, QueueModeInline, cfg.Queue.Mode)
		assert.Equal(t, 5, cfg.Queue.Workers)
		assert.Equal(t, 3, cfg.Queue.MaxAttempts)
		assert.Equal(t, time.Second, cfg.Queue.BackoffBase)
		assert.Equal(t, 1000, cfg.Queue.RetainCompleted)

		assert.Equal(t, 24*time.Hour, cfg.Ingest.IdempotencyTTL)
		assert.Equal(t, int64(1<<20), cfg.Ingest.MaxBodyBytes)

		assert.Equal(t, "https://api.instantly.ai", cfg.Platforms.InstantlyBaseURL)
		assert.Equal(t, "https://api.plusvibe.ai/api/v1", cfg.Platforms.PlusVibeBaseURL)
		assert.Equal(t, 30*time.Second, cfg.Platforms.RequestTimeout)
		assert.Equal(t, 50, cfg.Platforms.PageSize)

		assert.Zero(t, cfg.Sync.Interval)
		assert.Nil(t, cfg.Security.CredentialKey)
		assert.Equal(t, 24*time.Hour, cfg.JWT.AccessExpiry)
	})

	t.Run("从环境变量覆盖配置", func(t *testing.T) {
		t.Setenv("REPLYHUB_JWT_SECRET", testSecret)
		t.Setenv("REPLYHUB_SERVER_PORT", "9090")
		t.Setenv("REPLYHUB_REDIS_ADDRESS", "localhost:6379")
		t.Setenv("REPLYHUB_QUEUE_MODE", "redis")
		t.Setenv("REPLYHUB_QUEUE_WORKERS", "8")
		t.Setenv("REPLYHUB_CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
		t.Setenv("REPLYHUB_PLATFORMS_INSTANTLY_BASE_URL", "http://127.0.0.1:9999/")
		t.Setenv("REPLYHUB_SYNC_INTERVAL", "5m")
		t.Setenv("REPLYHUB_SECURITY_CREDENTIAL_KEY", strings.Repeat("ab", 32))

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, QueueModeRedis, cfg.Queue.Mode)
		assert.Equal(t, 8, cfg.Queue.Workers)
		assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
		assert.Equal(t, "http://127.0.0.1:9999", cfg.Platforms.InstantlyBaseURL)
		assert.Equal(t, 5*time.Minute, cfg.Sync.Interval)
		assert.Len(t, cfg.Security.CredentialKey, 32)
	})

	t.Run("默认 JWT 密钥被拒绝", func(t *testing.T) {
		t.Setenv("REPLYHUB_JWT_SECRET", "change-me-in-production")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("过短的 JWT 密钥被拒绝", func(t *testing.T) {
		t.Setenv("REPLYHUB_JWT_SECRET", "short")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("无效的队列模式", func(t *testing.T) {
		t.Setenv("REPLYHUB_JWT_SECRET", testSecret)
		t.Setenv("REPLYHUB_QUEUE_MODE", "kafka")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("无效的凭据密钥", func(t *testing.T) {
		t.Setenv("REPLYHUB_JWT_SECRET", testSecret)
		t.Setenv("REPLYHUB_SECURITY_CREDENTIAL_KEY", "abcd")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("数据库类型缺少 DSN", func(t *testing.T) {
		t.Setenv("REPLYHUB_JWT_SECRET", testSecret)
		t.Setenv("REPLYHUB_DATABASE_TYPE", "postgres")
		t.Setenv("REPLYHUB_DATABASE_DSN", "")

		_, err := Load()
		assert.Error(t, err)
	})
}

func TestParseList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, parseList(" a, ,b "))
	assert.Empty(t, parseList(""))
}
