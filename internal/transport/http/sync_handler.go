package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"replyhub/backend/internal/middleware"
	"replyhub/backend/internal/service"
)

// SyncHandler 拉取对账入口
type SyncHandler struct {
	sync   *service.SyncService
	logger *zap.Logger
}

// NewSyncHandler 创建同步处理器
func NewSyncHandler(sync *service.SyncService, logger *zap.Logger) *SyncHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncHandler{sync: sync, logger: logger}
}

type syncResponse struct {
	Success   bool                      `json:"success"`
	Processed int                       `json:"processed"`
	Errors    []service.ConnectionError `json:"errors"`
}

// Run 同步当前用户的全部平台连接。
// 单个连接失败体现在 errors 中，只有整体失败才返回 500。
func (h *SyncHandler) Run(c *gin.Context) {
	userID := middleware.UserID(c)

	res, err := h.sync.SyncWorkspaceConnections(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("sync failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sync failed"})
		return
	}

	c.JSON(http.StatusOK, syncResponse{
		Success:   true,
		Processed: res.Processed,
		Errors:    res.Errors,
	})
}
