package service

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"replyhub/backend/internal/domain"
	"replyhub/backend/internal/idempotency"
	"replyhub/backend/internal/monitoring"
	"replyhub/backend/internal/normalize"
)

// Ack webhook 应答，发送方总是收到成功
type Ack struct {
	Received  bool `json:"received"`
	Duplicate bool `json:"duplicate,omitempty"`
}

// IngestService webhook 接入网关
type IngestService struct {
	ledger     idempotency.Ledger
	dispatcher Dispatcher
	metrics    *monitoring.Metrics
	logger     *zap.Logger
}

// NewIngestService 创建接入服务，ledger 为 nil 时不做去重
func NewIngestService(ledger idempotency.Ledger, dispatcher Dispatcher, metrics *monitoring.Metrics, logger *zap.Logger) *IngestService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestService{
		ledger:     ledger,
		dispatcher: dispatcher,
		metrics:    metrics,
		logger:     logger,
	}
}

// Accept 处理一次 webhook 投递：过滤事件类型、登记幂等键、分发。
// 任何错误都只记录日志，不返回给发送方，丢失的事件由拉取对账补回。
func (s *IngestService) Accept(ctx context.Context, platform domain.Platform, raw json.RawMessage) Ack {
	ack := Ack{Received: true}
	log := s.logger.With(zap.String("platform", platform.Tag()))

	descriptor, err := normalize.For(platform)
	if err != nil {
		log.Warn("webhook for unknown platform", zap.Error(err))
		s.record(platform, monitoring.WebhookInvalid)
		return ack
	}

	c, err := descriptor.Classify(raw)
	if err != nil {
		log.Warn("unreadable webhook payload", zap.Error(err))
		s.record(platform, monitoring.WebhookInvalid)
		return ack
	}
	if !c.Relevant {
		log.Debug("ignoring webhook event", zap.String("event_type", c.EventType))
		s.record(platform, monitoring.WebhookIgnored)
		return ack
	}

	key := idempotency.Key(platform, c.KeyFields...)
	log = log.With(zap.String("idempotency_key", key))

	if s.ledger != nil {
		duplicate, err := s.ledger.Claim(ctx, key)
		switch {
		case err != nil:
			// 账本不可用时按新事件处理，存储层唯一约束兜底
			log.Warn("idempotency ledger unavailable", zap.Error(err))
		case duplicate:
			log.Info("duplicate webhook suppressed")
			s.record(platform, monitoring.WebhookDuplicate)
			ack.Duplicate = true
			return ack
		}
	}

	if err := s.dispatcher.Dispatch(ctx, platform, raw); err != nil {
		if errors.Is(err, domain.ErrMalformedEvent) {
			log.Warn("malformed webhook rejected", zap.Error(err))
			s.record(platform, monitoring.WebhookInvalid)
		} else {
			log.Error("failed to dispatch webhook", zap.String("mode", s.dispatcher.Mode()), zap.Error(err))
			s.record(platform, monitoring.WebhookError)
		}
		return ack
	}

	s.record(platform, monitoring.WebhookAccepted)
	return ack
}

func (s *IngestService) record(platform domain.Platform, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordWebhook(platform.Tag(), outcome)
	}
}
