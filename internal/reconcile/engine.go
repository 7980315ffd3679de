// Package reconcile 把规范事件合并到 Workspace / Lead / Conversation / Message 四张表上。
package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"replyhub/backend/internal/domain"
	"replyhub/backend/internal/monitoring"
	"replyhub/backend/internal/normalize"
	"replyhub/backend/internal/storage"
)

// Result 对账结果
type Result struct {
	WorkspaceID    string `json:"workspaceId"`
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Created        bool   `json:"created"`
}

// Notification 新邮件入库通知
type Notification struct {
	Type           string          `json:"type"`
	WorkspaceID    string          `json:"workspaceId"`
	ConversationID string          `json:"conversationId"`
	MessageID      string          `json:"messageId"`
	Platform       domain.Platform `json:"platform"`
}

// NotificationMessageReconciled 通知类型
const NotificationMessageReconciled = "message.reconciled"

// Notifier 接收新邮件通知，实现不得阻塞
type Notifier interface {
	Notify(n Notification)
}

// Engine 对账引擎
type Engine struct {
	store    storage.Store
	notifier Notifier
	metrics  *monitoring.Metrics
	logger   *zap.Logger
}

// Option 引擎可选项
type Option func(*Engine)

// WithNotifier 设置新邮件通知接收方
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithMetrics 设置监控指标
func WithMetrics(m *monitoring.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine 创建对账引擎
func NewEngine(store storage.Store, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{store: store, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reconcile 依次获取或创建 Workspace、Lead、Conversation、Message。
//
// 对同一 (platform, messageExternalId) 重复调用不会产生新记录，并返回相同的 ID。
// 畸形事件返回包装 domain.ErrMalformedEvent 的错误。
func (e *Engine) Reconcile(ctx context.Context, ev *domain.CanonicalEvent) (*Result, error) {
	start := time.Now()

	if err := ev.Validate(); err != nil {
		return nil, err
	}
	ws, err := e.store.UpsertWorkspace(ctx, ev.WorkspaceExternalID, workspaceName(ev))
	if err != nil {
		return nil, fmt.Errorf("upsert workspace: %w", err)
	}

	lead, err := e.store.UpsertLead(ctx, ws.ID, ev.Platform, domain.NormalizeEmail(ev.LeadEmail), ev.Lead)
	if err != nil {
		return nil, fmt.Errorf("upsert lead: %w", err)
	}

	threadID, err := normalize.ThreadID(ev.Platform, ev.ThreadSeed, lead.ID)
	if err != nil {
		return nil, err
	}

	conv, err := e.store.UpsertConversation(ctx, domain.ConversationUpsert{
		LeadID:           lead.ID,
		Platform:         ev.Platform,
		ExternalThreadID: threadID,
		CampaignID:       ev.CampaignID,
		CampaignName:     ev.CampaignName,
		MessageAt:        ev.SentAt,
	})
	if err != nil {
		return nil, fmt.Errorf("upsert conversation: %w", err)
	}

	msg, created, err := e.store.CreateMessageIfAbsent(ctx, &domain.Message{
		ConversationID:    conv.ID,
		Platform:          ev.Platform,
		ExternalMessageID: ev.MessageExternalID,
		Direction:         ev.Direction,
		Subject:           ev.Subject,
		BodyText:          ev.BodyText,
		BodyHTML:          ev.BodyHTML,
		FromEmail:         ev.FromEmail,
		ToEmail:           ev.ToEmail,
		SentAt:            ev.SentAt,
		Metadata:          ev.RoutingMetadata,
	})
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	res := &Result{
		WorkspaceID:    ws.ID,
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		Created:        created,
	}

	if e.metrics != nil {
		e.metrics.RecordReconcile(ev.Platform.Tag(), created, time.Since(start))
	}
	e.logger.Debug("event reconciled",
		zap.String("platform", ev.Platform.Tag()),
		zap.String("conversation_id", res.ConversationID),
		zap.String("message_id", res.MessageID),
		zap.Bool("created", created),
	)

	if created && e.notifier != nil {
		e.notifier.Notify(Notification{
			Type:           NotificationMessageReconciled,
			WorkspaceID:    ws.ID,
			ConversationID: res.ConversationID,
			MessageID:      res.MessageID,
			Platform:       ev.Platform,
		})
	}
	return res, nil
}

func workspaceName(ev *domain.CanonicalEvent) string {
	if ev.WorkspaceName != "" {
		return ev.WorkspaceName
	}
	id := ev.WorkspaceExternalID
	if len(id) > 8 {
		id = id[:8]
	}
	return "Workspace " + id
}
