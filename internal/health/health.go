package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"replyhub/backend/internal/storage"
)

// checkTimeout 单项检查超时
const checkTimeout = 3 * time.Second

// Pinger 可探活的依赖（Redis、Postgres 连接池）
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker 健康检查器
type HealthChecker struct {
	health healthcheck.Handler
	store  storage.Store
	deps   map[string]Pinger
	logger *zap.Logger
}

// NewHealthChecker 创建健康检查器，deps 中的依赖计入就绪检查
func NewHealthChecker(store storage.Store, deps map[string]Pinger, logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := &HealthChecker{
		health: healthcheck.NewHandler(),
		store:  store,
		deps:   deps,
		logger: logger,
	}

	hc.addChecks()

	return hc
}

// addChecks 添加健康检查
func (hc *HealthChecker) addChecks() {
	hc.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(10000))

	hc.health.AddReadinessCheck("store", healthcheck.Timeout(hc.store.Health, checkTimeout))
	for name, dep := range hc.deps {
		hc.health.AddReadinessCheck(name, PingCheck(dep))
	}
}

// Handler 返回健康检查处理器（/live 与 /ready）
func (hc *HealthChecker) Handler() http.Handler {
	return hc.health
}

// LiveHandler 存活检查
func (hc *HealthChecker) LiveHandler() http.HandlerFunc {
	return hc.health.LiveEndpoint
}

// ReadyHandler 就绪检查
func (hc *HealthChecker) ReadyHandler() http.HandlerFunc {
	return hc.health.ReadyEndpoint
}

// CheckHealth 执行全部检查并返回可读结果
func (hc *HealthChecker) CheckHealth() map[string]string {
	results := make(map[string]string)

	if err := hc.store.Health(); err != nil {
		results["store"] = fmt.Sprintf("ERROR: %v", err)
		hc.logger.Warn("store health check failed", zap.Error(err))
	} else {
		results["store"] = "OK"
	}

	for name, dep := range hc.deps {
		if err := PingCheck(dep)(); err != nil {
			results[name] = fmt.Sprintf("ERROR: %v", err)
			hc.logger.Warn("dependency health check failed", zap.String("dependency", name), zap.Error(err))
		} else {
			results[name] = "OK"
		}
	}

	results["timestamp"] = time.Now().Format(time.RFC3339)

	return results
}

// PingCheck 把 Pinger 包装为带超时的检查
func PingCheck(p Pinger) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		defer cancel()

		return p.Ping(ctx)
	}
}
