package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	jwtpkg "replyhub/backend/internal/auth/jwt"
	"replyhub/backend/internal/config"
	"replyhub/backend/internal/domain"
	"replyhub/backend/internal/health"
	"replyhub/backend/internal/middleware"
	"replyhub/backend/internal/monitoring"
	"replyhub/backend/internal/queue"
	"replyhub/backend/internal/service"
	"replyhub/backend/internal/websocket"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config            *config.Config
	IngestService     *service.IngestService
	SyncService       *service.SyncService
	ConnectionService *service.ConnectionService
	Queue             queue.Queue // 同步模式下为 nil，停放任务接口不注册
	JWTManager        *jwtpkg.Manager
	WebSocketHub      *websocket.Hub
	HealthChecker     *health.HealthChecker
	Metrics           *monitoring.Metrics
	Logger            *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()

	monitoringMW := middleware.NewMonitoringMiddleware(deps.Metrics, logger)
	router.Use(monitoringMW.PanicRecovery())
	router.Use(monitoringMW.HTTPMetrics())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.SecurityHeaders())

	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	// 健康检查与指标
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.HealthChecker != nil {
		router.GET("/health/live", gin.WrapF(deps.HealthChecker.LiveHandler()))
		router.GET("/health/ready", gin.WrapF(deps.HealthChecker.ReadyHandler()))
	}
	router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))

	// 平台 webhook：不需要认证，始终返回 200
	webhookHandler := NewWebhookHandler(deps.IngestService, deps.Config.Ingest.MaxBodyBytes, deps.Metrics, logger)
	webhooks := router.Group("/webhooks")
	{
		webhooks.POST("/instantly", webhookHandler.Handle(domain.PlatformInstantly))
		webhooks.POST("/plusvibe", webhookHandler.Handle(domain.PlatformPlusVibe))
	}

	jwtAuth := middleware.NewJWTAuth(deps.JWTManager, logger)

	if deps.WebSocketHub != nil {
		router.GET("/ws", websocket.HandleWebSocket(deps.WebSocketHub))
	}

	v1 := router.Group("/v1")
	v1.Use(middleware.BodySizeLimit(deps.Config.Ingest.MaxBodyBytes), jwtAuth.RequireAuth())
	{
		syncHandler := NewSyncHandler(deps.SyncService, logger)
		v1.POST("/sync/run", syncHandler.Run)

		connectionHandler := NewConnectionHandler(deps.ConnectionService, logger)
		v1.GET("/connections", connectionHandler.List)
		v1.POST("/connections", connectionHandler.Create)

		if deps.Queue != nil {
			queueHandler := NewQueueHandler(deps.Queue, logger)
			v1.GET("/queue/stats", queueHandler.Stats)
			v1.GET("/queue/parked", queueHandler.ListParked)
			v1.POST("/queue/parked/:id/retry", queueHandler.Retry)
		}
	}

	return router
}
