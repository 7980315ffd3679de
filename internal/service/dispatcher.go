package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"replyhub/backend/internal/domain"
	"replyhub/backend/internal/queue"
)

// Dispatcher 将通过去重检查的 webhook 交给后续处理，启动时选定实现
type Dispatcher interface {
	Dispatch(ctx context.Context, platform domain.Platform, payload json.RawMessage) error
	// Mode 返回实现名称，用于日志和健康检查
	Mode() string
}

// QueueDispatcher 入队后立即返回；入队失败时降级为同步处理
type QueueDispatcher struct {
	queue    queue.Queue
	fallback *InlineDispatcher
	logger   *zap.Logger
}

// NewQueueDispatcher 创建队列分发器，fallback 为 nil 时入队失败直接返回错误
func NewQueueDispatcher(q queue.Queue, fallback *InlineDispatcher, logger *zap.Logger) *QueueDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueDispatcher{queue: q, fallback: fallback, logger: logger}
}

// Dispatch 实现 Dispatcher
func (d *QueueDispatcher) Dispatch(ctx context.Context, platform domain.Platform, payload json.RawMessage) error {
	job, err := d.queue.Enqueue(ctx, platform, payload)
	if err == nil {
		d.logger.Debug("webhook enqueued", zap.String("job_id", job.ID), zap.String("platform", platform.Tag()))
		return nil
	}
	if d.fallback == nil {
		return fmt.Errorf("enqueue webhook: %w", err)
	}

	d.logger.Warn("queue unavailable, processing webhook inline",
		zap.String("platform", platform.Tag()),
		zap.Error(err),
	)
	return d.fallback.Dispatch(ctx, platform, payload)
}

// Mode 实现 Dispatcher
func (d *QueueDispatcher) Mode() string { return "queue" }

// InlineDispatcher 在请求内同步对账
type InlineDispatcher struct {
	processor *JobProcessor
	now       func() time.Time
}

// NewInlineDispatcher 创建同步分发器
func NewInlineDispatcher(processor *JobProcessor) *InlineDispatcher {
	return &InlineDispatcher{
		processor: processor,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Dispatch 实现 Dispatcher
func (d *InlineDispatcher) Dispatch(ctx context.Context, platform domain.Platform, payload json.RawMessage) error {
	_, err := d.processor.Process(ctx, platform, payload, d.now())
	return err
}

// Mode 实现 Dispatcher
func (d *InlineDispatcher) Mode() string { return "inline" }
