package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"replyhub/backend/internal/config"
	"replyhub/backend/internal/domain"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig(mode string) *config.Config {
	return &config.Config{
		CORS: config.CORSConfig{AllowedOrigins: []string{"*"}},
		Queue: config.QueueConfig{
			Mode:                mode,
			Prefix:              "test:jobs",
			Workers:             2,
			MaxAttempts:         3,
			BackoffBase:         time.Millisecond,
			BackoffMax:          10 * time.Millisecond,
			RetainCompleted:     10,
			PollInterval:        5 * time.Millisecond,
			MaintenanceInterval: 10 * time.Millisecond,
		},
		Ingest: config.IngestConfig{IdempotencyTTL: time.Hour, MaxBodyBytes: 1 << 20},
		Platforms: config.PlatformsConfig{
			InstantlyBaseURL: "http://127.0.0.1:1",
			PlusVibeBaseURL:  "http://127.0.0.1:1",
			RequestTimeout:   time.Second,
			PageSize:         10,
		},
		Sync: config.SyncConfig{Concurrency: 1},
		JWT: config.JWTConfig{
			Secret:       "test-secret-key-for-development-32-chars-long-at-least",
			Issuer:       "replyhub-test",
			AccessExpiry: time.Hour,
		},
		Security: config.SecurityConfig{CredentialKey: []byte(strings.Repeat("k", 32))},
	}
}

const instantlyReply = `{"event_type":"reply_received","timestamp":"2024-01-01T00:00:00Z","workspace":"w1","campaign_id":"c1","lead_email":"lead@example.com","email_account":"sdr@acme.com","email_id":"e1","reply_text":"sounds good"}`

func postWebhook(t *testing.T, r http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/instantly", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestNew_InlineMode(t *testing.T) {
	a, err := New(testConfig(config.QueueModeInline), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Queue)
	assert.Nil(t, a.WorkerPool())
	assert.Nil(t, a.Redis)

	w := postWebhook(t, a.Router(), instantlyReply)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"received":true`)

	conversations, err := a.Store.CountConversations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), conversations)

	// 同步模式没有队列，维护任务只刷新数据库指标
	require.NoError(t, a.Maintain(context.Background()))
}

func TestNew_MemoryQueue(t *testing.T) {
	a, err := New(testConfig(config.QueueModeMemory), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()

	wp := a.WorkerPool()
	require.NotNil(t, wp)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wp.Start(ctx)
	defer wp.Stop()

	w := postWebhook(t, a.Router(), instantlyReply)
	require.Equal(t, http.StatusOK, w.Code)

	require.Eventually(t, func() bool {
		stats, err := a.Queue.Stats(context.Background())
		return err == nil && stats[domain.JobCompleted] == 1
	}, 2*time.Second, 10*time.Millisecond)

	conversations, err := a.Store.CountConversations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), conversations)

	require.NoError(t, a.Maintain(context.Background()))
}

func TestNew_RedisBackends(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := testConfig(config.QueueModeRedis)
	cfg.Redis = config.RedisConfig{Address: mr.Addr()}

	a, err := New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.Redis)
	require.NotNil(t, a.Queue)

	r := a.Router()
	w := postWebhook(t, r, instantlyReply)
	require.Equal(t, http.StatusOK, w.Code)

	// 幂等键写入 Redis 后，重复投递被识别
	w = postWebhook(t, r, instantlyReply)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"duplicate":true`)

	stats, err := a.Queue.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[domain.JobWaiting])
}

func TestNew_RedisModeWithoutRedis(t *testing.T) {
	_, err := New(testConfig(config.QueueModeRedis), zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestNew_UnknownQueueMode(t *testing.T) {
	_, err := New(testConfig("kafka"), zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestRunSyncScheduler_Disabled(t *testing.T) {
	a, err := New(testConfig(config.QueueModeInline), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()

	// interval 为 0 时立即返回
	assert.NoError(t, a.RunSyncScheduler(context.Background()))
}

func TestRunMaintenance_StopsOnCancel(t *testing.T) {
	a, err := New(testConfig(config.QueueModeMemory), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(t, a.RunMaintenance(ctx))
}
