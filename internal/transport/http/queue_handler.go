package httptransport

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"replyhub/backend/internal/domain"
	"replyhub/backend/internal/queue"
)

const defaultParkedLimit = 100

// QueueHandler 停放任务的查看与重新入队
type QueueHandler struct {
	queue  queue.Queue
	logger *zap.Logger
}

// NewQueueHandler 创建队列处理器
func NewQueueHandler(q queue.Queue, logger *zap.Logger) *QueueHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueHandler{queue: q, logger: logger}
}

// ListParked 列出停放的任务
func (h *QueueHandler) ListParked(c *gin.Context) {
	limit := defaultParkedLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			BadRequest(c, MsgInvalidRequest)
			return
		}
		limit = n
	}

	jobs, err := h.queue.Parked(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list parked jobs", zap.Error(err))
		InternalError(c, MsgParkedListFailed)
		return
	}

	Success(c, jobs)
}

// Retry 把停放任务重新放回等待队列，尝试次数清零
func (h *QueueHandler) Retry(c *gin.Context) {
	job, err := h.queue.Requeue(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			NotFound(c, GetErrorMessage(err))
			return
		}
		h.logger.Error("failed to requeue job", zap.String("job_id", c.Param("id")), zap.Error(err))
		InternalError(c, MsgParkedRetryFailed)
		return
	}

	h.logger.Info("parked job requeued", zap.String("job_id", job.ID))
	Success(c, job)
}

// Stats 队列各状态任务数
func (h *QueueHandler) Stats(c *gin.Context) {
	stats, err := h.queue.Stats(c.Request.Context())
	if err != nil {
		InternalError(c, MsgInternalError)
		return
	}
	Success(c, stats)
}
