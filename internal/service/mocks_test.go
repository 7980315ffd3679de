package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"

	"github.com/stretchr/testify/mock"

	"replyhub/backend/internal/domain"
	"replyhub/backend/internal/reconcile"
	"replyhub/backend/internal/storage/memory"
)

// MockLedger 模拟幂等账本
type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) Claim(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

// MockLister 模拟平台邮件列表接口
type MockLister struct {
	mock.Mock
}

func (m *MockLister) ListEmails(ctx context.Context, apiKey, workspaceID string, limit int) ([]json.RawMessage, error) {
	args := m.Called(ctx, apiKey, workspaceID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]json.RawMessage), args.Error(1)
}

// flakyStore 前 failures 次写入邮件时返回错误
type flakyStore struct {
	*memory.Store
	failures int32
	calls    int32
}

var errStoreUnavailable = errors.New("store unavailable")

func (s *flakyStore) CreateMessageIfAbsent(ctx context.Context, msg *domain.Message) (*domain.Message, bool, error) {
	if atomic.AddInt32(&s.calls, 1) <= s.failures {
		return nil, false, errStoreUnavailable
	}
	return s.Store.CreateMessageIfAbsent(ctx, msg)
}

// selectiveReconciler 对指定 externalMessageId 返回错误，其余交给真实引擎
type selectiveReconciler struct {
	Reconciler
	failFor string
}

func (r *selectiveReconciler) Reconcile(ctx context.Context, ev *domain.CanonicalEvent) (*reconcile.Result, error) {
	if ev.MessageExternalID == r.failFor {
		return nil, errStoreUnavailable
	}
	return r.Reconciler.Reconcile(ctx, ev)
}
