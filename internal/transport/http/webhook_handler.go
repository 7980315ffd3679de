package httptransport

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"replyhub/backend/internal/domain"
	"replyhub/backend/internal/middleware"
	"replyhub/backend/internal/monitoring"
	"replyhub/backend/internal/service"
)

// WebhookHandler 平台 webhook 入口。
// 无论处理结果如何都返回 200，避免触发平台侧的重试风暴。
type WebhookHandler struct {
	ingest       *service.IngestService
	maxBodyBytes int64
	metrics      *monitoring.Metrics
	logger       *zap.Logger
}

// NewWebhookHandler 创建 webhook 处理器
func NewWebhookHandler(ingest *service.IngestService, maxBodyBytes int64, metrics *monitoring.Metrics, logger *zap.Logger) *WebhookHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = middleware.DefaultBodyLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{ingest: ingest, maxBodyBytes: maxBodyBytes, metrics: metrics, logger: logger}
}

// Handle 返回指定平台的处理函数
func (h *WebhookHandler) Handle(platform domain.Platform) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes)
		body, err := c.GetRawData()
		if err != nil || !json.Valid(body) {
			h.logger.Warn("unreadable webhook body",
				zap.String("platform", platform.Tag()),
				zap.Int("size", len(body)),
				zap.Error(err),
			)
			if h.metrics != nil {
				h.metrics.RecordWebhook(platform.Tag(), monitoring.WebhookInvalid)
			}
			c.JSON(http.StatusOK, service.Ack{Received: true})
			return
		}

		ack := h.ingest.Accept(c.Request.Context(), platform, json.RawMessage(body))
		c.JSON(http.StatusOK, ack)
	}
}
