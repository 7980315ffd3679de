package httptransport

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"replyhub/backend/internal/domain"
	"replyhub/backend/internal/middleware"
	"replyhub/backend/internal/service"
)

// ConnectionHandler 平台连接管理
type ConnectionHandler struct {
	connections *service.ConnectionService
	logger      *zap.Logger
}

// NewConnectionHandler 创建连接处理器
func NewConnectionHandler(connections *service.ConnectionService, logger *zap.Logger) *ConnectionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConnectionHandler{connections: connections, logger: logger}
}

// Create 保存平台连接，响应中不包含密钥
func (h *ConnectionHandler) Create(c *gin.Context) {
	var input service.CreateConnectionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	conn, err := h.connections.Create(c.Request.Context(), middleware.UserID(c), input)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			BadRequest(c, GetErrorMessage(err))
			return
		}
		h.logger.Error("failed to create connection", zap.Error(err))
		InternalError(c, MsgConnectionCreateFailed)
		return
	}

	Created(c, conn)
}

// List 列出当前用户的连接
func (h *ConnectionHandler) List(c *gin.Context) {
	conns, err := h.connections.List(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		h.logger.Error("failed to list connections", zap.Error(err))
		InternalError(c, MsgConnectionListFailed)
		return
	}
	if conns == nil {
		conns = []domain.PlatformConnection{}
	}

	Success(c, conns)
}
