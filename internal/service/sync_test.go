package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"replyhub/backend/internal/domain"
	"replyhub/backend/internal/integration"
	"replyhub/backend/internal/monitoring"
	"replyhub/backend/internal/reconcile"
	"replyhub/backend/internal/security"
	"replyhub/backend/internal/storage/memory"
)

func testSealer(t *testing.T) *security.Sealer {
	t.Helper()
	sealer, err := security.NewSealer([]byte(strings.Repeat("k", 32)))
	require.NoError(t, err)
	return sealer
}

func TestConnectionService(t *testing.T) {
	ctx := context.Background()

	t.Run("创建连接时加密 API Key", func(t *testing.T) {
		store := memory.NewStore()
		svc := NewConnectionService(store, testSealer(t))

		conn, err := svc.Create(ctx, "user-1", CreateConnectionInput{Platform: "plusvibe", APIKey: " pv-secret ", WorkspaceID: "ws-1"})
		require.NoError(t, err)

		assert.NotEmpty(t, conn.ID)
		assert.Equal(t, domain.PlatformPlusVibe, conn.Platform)
		assert.Equal(t, "PLUSVIBE", conn.Name)
		assert.NotContains(t, conn.APIKeyEncrypted, "pv-secret")

		key, err := svc.APIKey(conn)
		require.NoError(t, err)
		assert.Equal(t, "pv-secret", key)

		list, err := svc.List(ctx, "user-1")
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("密文绑定用户和平台", func(t *testing.T) {
		store := memory.NewStore()
		svc := NewConnectionService(store, testSealer(t))

		conn, err := svc.Create(ctx, "user-1", CreateConnectionInput{Platform: "instantly", APIKey: "in-secret"})
		require.NoError(t, err)

		conn.UserID = "user-2"
		_, err = svc.APIKey(conn)
		assert.ErrorIs(t, err, security.ErrDecrypt)
	})

	t.Run("无效输入", func(t *testing.T) {
		svc := NewConnectionService(memory.NewStore(), testSealer(t))

		_, err := svc.Create(ctx, "user-1", CreateConnectionInput{Platform: "hubspot", APIKey: "x"})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)

		_, err = svc.Create(ctx, "user-1", CreateConnectionInput{Platform: "instantly", APIKey: "  "})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("未配置密钥", func(t *testing.T) {
		svc := NewConnectionService(memory.NewStore(), nil)

		_, err := svc.Create(ctx, "user-1", CreateConnectionInput{Platform: "instantly", APIKey: "x"})
		assert.ErrorIs(t, err, ErrCredentialKeyMissing)
	})
}

type syncFixture struct {
	store       *memory.Store
	connections *ConnectionService
	instantly   *MockLister
	plusvibe    *MockLister
	metrics     *monitoring.Metrics
	sync        *SyncService
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()
	store := memory.NewStore()
	connections := NewConnectionService(store, testSealer(t))
	instantly := new(MockLister)
	plusvibe := new(MockLister)
	metrics := monitoring.NewMetrics()

	listers := map[domain.Platform]integration.Lister{
		domain.PlatformInstantly: instantly,
		domain.PlatformPlusVibe:  plusvibe,
	}
	svc := NewSyncService(connections, listers, reconcile.NewEngine(store, nil), SyncOptions{
		PageSize:    25,
		Concurrency: 2,
		Timeout:     time.Second,
	}, metrics, nil)

	return &syncFixture{
		store:       store,
		connections: connections,
		instantly:   instantly,
		plusvibe:    plusvibe,
		metrics:     metrics,
		sync:        svc,
	}
}

func (f *syncFixture) connect(t *testing.T, userID, platform, apiKey, workspaceID string) *domain.PlatformConnection {
	t.Helper()
	conn, err := f.connections.Create(context.Background(), userID, CreateConnectionInput{
		Platform:    platform,
		APIKey:      apiKey,
		WorkspaceID: workspaceID,
	})
	require.NoError(t, err)
	return conn
}

func TestSyncService_SyncWorkspaceConnections(t *testing.T) {
	ctx := context.Background()

	t.Run("拉取的邮件走相同的对账流程", func(t *testing.T) {
		f := newSyncFixture(t)
		f.connect(t, "user-1", "instantly", "in-key", "")
		f.connect(t, "user-1", "plusvibe", "pv-key", "pv-ws")

		f.instantly.On("ListEmails", mock.Anything, "in-key", "", 25).Return([]json.RawMessage{
			json.RawMessage(`{"id":"em-1","lead":"a@b.com","organization_id":"org-1","subject":"Re: hi"}`),
			json.RawMessage(`{"id":"em-2","lead":"c@d.com","organization_id":"org-1"}`),
		}, nil)
		f.plusvibe.On("ListEmails", mock.Anything, "pv-key", "pv-ws", 25).Return([]json.RawMessage{
			json.RawMessage(`{"id":"pm-1","lead":"a@b.com","thread_id":"t1"}`),
		}, nil)

		res, err := f.sync.SyncWorkspaceConnections(ctx, "user-1")
		require.NoError(t, err)

		assert.Equal(t, 3, res.Processed)
		assert.Empty(t, res.Errors)

		messages, _ := f.store.CountMessages(ctx)
		assert.Equal(t, int64(3), messages)
		_, err = f.store.GetConversationByThread(ctx, domain.PlatformPlusVibe, "plusvibe-t1")
		assert.NoError(t, err)

		// 再次同步不会产生重复记录
		res, err = f.sync.SyncWorkspaceConnections(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, 3, res.Processed)
		messages, _ = f.store.CountMessages(ctx)
		assert.Equal(t, int64(3), messages)

		assert.Equal(t, float64(4), testutil.ToFloat64(f.metrics.SyncProcessed.WithLabelValues("instantly")))
	})

	t.Run("单个连接失败不影响其他连接", func(t *testing.T) {
		f := newSyncFixture(t)
		bad := f.connect(t, "user-1", "instantly", "in-key", "")
		f.connect(t, "user-1", "plusvibe", "pv-key", "pv-ws")

		f.instantly.On("ListEmails", mock.Anything, "in-key", "", 25).
			Return(nil, &integration.APIError{Platform: domain.PlatformInstantly, StatusCode: 401, Body: "unauthorized"})
		f.plusvibe.On("ListEmails", mock.Anything, "pv-key", "pv-ws", 25).Return([]json.RawMessage{
			json.RawMessage(`{"id":"pm-1","lead":"a@b.com","thread_id":"t1"}`),
		}, nil)

		res, err := f.sync.SyncWorkspaceConnections(ctx, "user-1")
		require.NoError(t, err)

		assert.Equal(t, 1, res.Processed)
		require.Len(t, res.Errors, 1)
		assert.Equal(t, bad.ID, res.Errors[0].ConnectionID)
		assert.Equal(t, domain.PlatformInstantly, res.Errors[0].Platform)
		assert.Contains(t, res.Errors[0].Error, "401")
		assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.SyncErrors.WithLabelValues("instantly")))
	})

	t.Run("跳过畸形的列表项", func(t *testing.T) {
		f := newSyncFixture(t)
		f.connect(t, "user-1", "plusvibe", "pv-key", "pv-ws")

		f.plusvibe.On("ListEmails", mock.Anything, "pv-key", "pv-ws", 25).Return([]json.RawMessage{
			json.RawMessage(`{"id":"pm-1"}`),
			json.RawMessage(`{"id":"pm-2","lead":"a@b.com","thread_id":"t2"}`),
		}, nil)

		res, err := f.sync.SyncWorkspaceConnections(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, 1, res.Processed)
		assert.Empty(t, res.Errors)
	})

	t.Run("单封邮件对账失败不阻塞同一连接的后续邮件", func(t *testing.T) {
		f := newSyncFixture(t)
		conn := f.connect(t, "user-1", "instantly", "in-key", "")

		f.sync = NewSyncService(f.connections, map[domain.Platform]integration.Lister{
			domain.PlatformInstantly: f.instantly,
		}, &selectiveReconciler{
			Reconciler: reconcile.NewEngine(f.store, nil),
			failFor:    "em-2",
		}, SyncOptions{PageSize: 25, Timeout: time.Second}, f.metrics, nil)

		f.instantly.On("ListEmails", mock.Anything, "in-key", "", 25).Return([]json.RawMessage{
			json.RawMessage(`{"id":"em-1","lead":"a@b.com"}`),
			json.RawMessage(`{"id":"em-2","lead":"c@d.com"}`),
			json.RawMessage(`{"id":"em-3","lead":"e@f.com"}`),
		}, nil)

		res, err := f.sync.SyncWorkspaceConnections(ctx, "user-1")
		require.NoError(t, err)

		assert.Equal(t, 2, res.Processed)
		require.Len(t, res.Errors, 1)
		assert.Equal(t, conn.ID, res.Errors[0].ConnectionID)
		assert.Contains(t, res.Errors[0].Error, "1 of 3")
		assert.Contains(t, res.Errors[0].Error, "em-2")

		for _, id := range []string{"em-1", "em-3"} {
			_, err := f.store.GetMessageByExternalID(ctx, domain.PlatformInstantly, id)
			assert.NoError(t, err, id)
		}
		_, err = f.store.GetMessageByExternalID(ctx, domain.PlatformInstantly, "em-2")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("没有连接时返回空结果", func(t *testing.T) {
		f := newSyncFixture(t)

		res, err := f.sync.SyncWorkspaceConnections(ctx, "nobody")
		require.NoError(t, err)
		assert.Zero(t, res.Processed)
		assert.NotNil(t, res.Errors)
	})
}

func TestSyncService_SyncAll(t *testing.T) {
	f := newSyncFixture(t)
	f.connect(t, "user-1", "instantly", "key-1", "")
	f.connect(t, "user-2", "instantly", "key-2", "")

	f.instantly.On("ListEmails", mock.Anything, "key-1", "", 25).Return([]json.RawMessage{
		json.RawMessage(`{"id":"em-1","lead":"a@b.com"}`),
	}, nil)
	f.instantly.On("ListEmails", mock.Anything, "key-2", "", 25).Return([]json.RawMessage{
		json.RawMessage(`{"id":"em-2","lead":"c@d.com"}`),
	}, nil)

	total, err := f.sync.SyncAll(context.Background(), f.store.ListConnectionOwners)
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	_, err = f.sync.SyncAll(context.Background(), func(context.Context) ([]string, error) {
		return nil, errors.New("db down")
	})
	assert.Error(t, err)
}
