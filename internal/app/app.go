// Package app 按配置装配各组件，cmd 下的进程共用这一套初始化逻辑。
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	jwtpkg "replyhub/backend/internal/auth/jwt"
	"replyhub/backend/internal/config"
	"replyhub/backend/internal/domain"
	"replyhub/backend/internal/health"
	"replyhub/backend/internal/idempotency"
	"replyhub/backend/internal/integration"
	"replyhub/backend/internal/monitoring"
	"replyhub/backend/internal/pool"
	"replyhub/backend/internal/queue"
	"replyhub/backend/internal/reconcile"
	"replyhub/backend/internal/security"
	"replyhub/backend/internal/service"
	"replyhub/backend/internal/storage"
	"replyhub/backend/internal/storage/memory"
	"replyhub/backend/internal/storage/postgres"
	"replyhub/backend/internal/storage/redis"
	sqlstore "replyhub/backend/internal/storage/sql"
	httptransport "replyhub/backend/internal/transport/http"
	"replyhub/backend/internal/websocket"
)

// App 持有进程内的全部组件
type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *monitoring.Metrics

	Store    storage.Store
	Redis    *redis.Client    // 未配置 Redis 时为 nil
	Postgres *postgres.Client // 仅 postgres 存储时存在

	Ledger      idempotency.Ledger
	Queue       queue.Queue // 同步模式下为 nil
	Engine      *reconcile.Engine
	Processor   *service.JobProcessor
	Ingest      *service.IngestService
	Connections *service.ConnectionService
	Sync        *service.SyncService
	Tokens      *jwtpkg.Manager
	Hub         *websocket.Hub
	Health      *health.HealthChecker

	closers []func() error
}

// New 根据配置创建全部组件。失败时已创建的资源会被释放。
func New(cfg *config.Config, log *zap.Logger) (_ *App, err error) {
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: log, Metrics: monitoring.NewMetrics()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err := a.initStorage(); err != nil {
		return nil, err
	}
	if err := a.initQueue(); err != nil {
		return nil, err
	}

	a.Tokens = jwtpkg.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessExpiry)
	a.Hub = websocket.NewHub(cfg.CORS.AllowedOrigins, a.Tokens, log.Named("websocket"))

	a.Engine = reconcile.NewEngine(a.Store, log.Named("reconcile"),
		reconcile.WithMetrics(a.Metrics),
		reconcile.WithNotifier(a.Hub),
	)
	a.Processor = service.NewJobProcessor(a.Engine, log.Named("processor"))

	inline := service.NewInlineDispatcher(a.Processor)
	var dispatcher service.Dispatcher = inline
	if a.Queue != nil {
		dispatcher = service.NewQueueDispatcher(a.Queue, inline, log.Named("dispatcher"))
	}
	a.Ingest = service.NewIngestService(a.Ledger, dispatcher, a.Metrics, log.Named("ingest"))

	var sealer *security.Sealer
	if len(cfg.Security.CredentialKey) > 0 {
		sealer, err = security.NewSealer(cfg.Security.CredentialKey)
		if err != nil {
			return nil, fmt.Errorf("init credential sealer: %w", err)
		}
	} else {
		log.Warn("credential key not configured, platform connections cannot be saved or synced")
	}
	a.Connections = service.NewConnectionService(a.Store, sealer)

	clientOpts := func(baseURL string) integration.Options {
		return integration.Options{
			BaseURL:           baseURL,
			Timeout:           cfg.Platforms.RequestTimeout,
			RequestsPerSecond: cfg.Platforms.RequestsPerSecond,
		}
	}
	listers := map[domain.Platform]integration.Lister{
		domain.PlatformInstantly: integration.NewInstantlyClient(clientOpts(cfg.Platforms.InstantlyBaseURL)),
		domain.PlatformPlusVibe:  integration.NewPlusVibeClient(clientOpts(cfg.Platforms.PlusVibeBaseURL)),
	}
	a.Sync = service.NewSyncService(a.Connections, listers, a.Engine, service.SyncOptions{
		PageSize:    cfg.Platforms.PageSize,
		Concurrency: cfg.Sync.Concurrency,
		Timeout:     cfg.Platforms.RequestTimeout,
	}, a.Metrics, log.Named("sync"))

	deps := map[string]health.Pinger{}
	if a.Redis != nil {
		deps["redis"] = a.Redis
	}
	if a.Postgres != nil {
		deps["postgres"] = a.Postgres
	}
	a.Health = health.NewHealthChecker(a.Store, deps, log.Named("health"))

	log.Info("components initialized",
		zap.String("store", storeKind(cfg)),
		zap.String("queue_mode", cfg.Queue.Mode),
		zap.String("dispatch_mode", dispatcher.Mode()),
		zap.Bool("redis", a.Redis != nil),
	)
	return a, nil
}

func storeKind(cfg *config.Config) string {
	if cfg.Database.Type == "" {
		return "memory"
	}
	return cfg.Database.Type
}

// initStorage 初始化规范存储、Redis 与 Postgres 探针
func (a *App) initStorage() error {
	cfg := a.Config

	if cfg.Database.Type != "" {
		store, err := sqlstore.Open(&cfg.Database)
		if err != nil {
			return fmt.Errorf("init database store: %w", err)
		}
		a.Store = store
		a.closers = append(a.closers, store.Close)

		if cfg.Database.Type == "postgres" {
			pg, err := postgres.New(&cfg.Database, a.Logger.Named("postgres"))
			if err != nil {
				return fmt.Errorf("init postgres probe: %w", err)
			}
			a.Postgres = pg
			a.closers = append(a.closers, func() error { pg.Close(); return nil })
		}
	} else {
		a.Logger.Warn("no database configured, using in-memory store")
		a.Store = memory.NewStore()
	}

	if cfg.Redis.Enabled() {
		client, err := redis.New(&cfg.Redis, a.Logger.Named("redis"))
		if err != nil {
			return fmt.Errorf("init redis: %w", err)
		}
		a.Redis = client
		a.closers = append(a.closers, client.Close)
		a.Ledger = idempotency.NewRedisLedger(client, cfg.Ingest.IdempotencyTTL)
	} else {
		ledger := idempotency.NewMemoryLedger(cfg.Ingest.IdempotencyTTL)
		a.Ledger = ledger
		a.closers = append(a.closers, func() error { ledger.Close(); return nil })
	}
	return nil
}

// initQueue 按队列模式创建任务队列
func (a *App) initQueue() error {
	opts := queue.Options{
		RetainCompleted: a.Config.Queue.RetainCompleted,
		MaxAttempts:     a.Config.Queue.MaxAttempts,
	}

	switch a.Config.Queue.Mode {
	case config.QueueModeRedis:
		if a.Redis == nil {
			return errors.New("redis queue mode requires redis")
		}
		a.Queue = queue.NewRedisQueue(a.Redis, a.Config.Queue.Prefix, opts)
	case config.QueueModeMemory:
		a.Queue = queue.NewMemoryQueue(opts)
	case config.QueueModeInline:
		a.Queue = nil
	default:
		return fmt.Errorf("unknown queue mode: %s", a.Config.Queue.Mode)
	}
	return nil
}

// Router 创建 HTTP 路由
func (a *App) Router() *gin.Engine {
	return httptransport.NewRouter(httptransport.RouterDependencies{
		Config:            a.Config,
		IngestService:     a.Ingest,
		SyncService:       a.Sync,
		ConnectionService: a.Connections,
		Queue:             a.Queue,
		JWTManager:        a.Tokens,
		WebSocketHub:      a.Hub,
		HealthChecker:     a.Health,
		Metrics:           a.Metrics,
		Logger:            a.Logger.Named("http"),
	})
}

// WorkerPool 创建处理队列任务的 worker 池，同步模式下返回 nil
func (a *App) WorkerPool() *pool.WorkerPool {
	if a.Queue == nil {
		return nil
	}
	q := a.Config.Queue
	return pool.NewWorkerPool(pool.Config{
		Workers:      q.Workers,
		MaxAttempts:  q.MaxAttempts,
		BackoffBase:  q.BackoffBase,
		BackoffMax:   q.BackoffMax,
		PollInterval: q.PollInterval,
	}, a.Queue, a.Processor.HandleJob, a.Logger.Named("worker"), a.Metrics)
}

// Maintain 执行一次队列维护并刷新队列深度与数据库连接指标
func (a *App) Maintain(ctx context.Context) error {
	if a.Queue != nil {
		promoted, recovered, err := a.Queue.Maintain(ctx)
		if err != nil {
			return fmt.Errorf("queue maintenance: %w", err)
		}
		if promoted > 0 || recovered > 0 {
			a.Logger.Info("queue maintenance",
				zap.Int("promoted", promoted),
				zap.Int("recovered", recovered),
			)
		}

		stats, err := a.Queue.Stats(ctx)
		if err != nil {
			return fmt.Errorf("queue stats: %w", err)
		}
		for state, n := range stats {
			a.Metrics.UpdateQueueDepth(string(state), n)
		}
	}

	switch {
	case a.Postgres != nil:
		a.Metrics.UpdateDatabaseConnections(int(a.Postgres.Stats().TotalConns()))
	default:
		if s, ok := a.Store.(*sqlstore.Store); ok {
			if db, err := s.DB().DB(); err == nil {
				a.Metrics.UpdateDatabaseConnections(db.Stats().OpenConnections)
			}
		}
	}
	return nil
}

// RunMaintenance 周期性执行 Maintain，直到 ctx 取消
func (a *App) RunMaintenance(ctx context.Context) error {
	interval := a.Config.Queue.MaintenanceInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.Logger.Info("starting queue maintenance task", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			a.Logger.Info("queue maintenance task stopped")
			return nil
		case <-ticker.C:
			if err := a.Maintain(ctx); err != nil && ctx.Err() == nil {
				a.Logger.Error("queue maintenance failed", zap.Error(err))
			}
		}
	}
}

// RunSyncScheduler 按 sync.interval 为所有拥有连接的用户执行拉取对账，interval 为 0 时直接返回
func (a *App) RunSyncScheduler(ctx context.Context) error {
	interval := a.Config.Sync.Interval
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.Logger.Info("starting pull sync scheduler", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			a.Logger.Info("pull sync scheduler stopped")
			return nil
		case <-ticker.C:
			processed, err := a.Sync.SyncAll(ctx, a.Store.ListConnectionOwners)
			if err != nil && ctx.Err() == nil {
				a.Logger.Error("scheduled sync failed", zap.Error(err))
				continue
			}
			a.Logger.Info("scheduled sync completed", zap.Int("processed", processed))
		}
	}
}

// Close 按创建的逆序释放资源
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn("failed to close resource", zap.Error(err))
		}
	}
	a.closers = nil
}
