package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"replyhub/backend/internal/domain"
	"replyhub/backend/internal/normalize"
	"replyhub/backend/internal/reconcile"
)

// Reconciler 对账引擎接口
type Reconciler interface {
	Reconcile(ctx context.Context, ev *domain.CanonicalEvent) (*reconcile.Result, error)
}

// JobProcessor 规范化 webhook 报文并交给对账引擎，队列 worker 与同步模式共用
type JobProcessor struct {
	engine Reconciler
	logger *zap.Logger
	now    func() time.Time
}

// NewJobProcessor 创建任务处理器
func NewJobProcessor(engine Reconciler, logger *zap.Logger) *JobProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobProcessor{
		engine: engine,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Process 处理一条 webhook 报文。畸形事件返回包装 domain.ErrMalformedEvent 的错误。
func (p *JobProcessor) Process(ctx context.Context, platform domain.Platform, payload json.RawMessage, receivedAt time.Time) (*reconcile.Result, error) {
	ev, err := normalize.Webhook(platform, payload, receivedAt)
	if err != nil {
		return nil, fmt.Errorf("normalize %s webhook: %w", platform.Tag(), err)
	}
	return p.engine.Reconcile(ctx, ev)
}

// HandleJob 实现 pool.Handler，发送时间缺省取入队时间
func (p *JobProcessor) HandleJob(ctx context.Context, job *domain.Job) error {
	receivedAt := job.EnqueuedAt
	if receivedAt.IsZero() {
		receivedAt = p.now()
	}
	res, err := p.Process(ctx, job.Platform, job.Payload, receivedAt)
	if err != nil {
		return err
	}
	p.logger.Info("job reconciled",
		zap.String("job_id", job.ID),
		zap.String("platform", job.Platform.Tag()),
		zap.String("conversation_id", res.ConversationID),
		zap.String("message_id", res.MessageID),
		zap.Bool("created", res.Created),
	)
	return nil
}
