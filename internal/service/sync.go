package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"replyhub/backend/internal/domain"
	"replyhub/backend/internal/integration"
	"replyhub/backend/internal/monitoring"
	"replyhub/backend/internal/normalize"
)

// SyncOptions 拉取对账参数
type SyncOptions struct {
	PageSize    int
	Concurrency int
	Timeout     time.Duration // 单个连接的拉取超时
}

// ConnectionError 单个连接的拉取失败
type ConnectionError struct {
	ConnectionID string          `json:"connectionId"`
	Platform     domain.Platform `json:"platform"`
	Error        string          `json:"error"`
}

// SyncResult 拉取对账结果
type SyncResult struct {
	Processed int               `json:"processed"`
	Errors    []ConnectionError `json:"errors"`
}

// SyncService 拉取对账：从平台 API 列出最近邮件，走与 webhook 相同的规范化和对账流程
type SyncService struct {
	connections *ConnectionService
	listers     map[domain.Platform]integration.Lister
	engine      Reconciler
	opts        SyncOptions
	metrics     *monitoring.Metrics
	logger      *zap.Logger
	now         func() time.Time
}

// NewSyncService 创建拉取对账服务
func NewSyncService(connections *ConnectionService, listers map[domain.Platform]integration.Lister, engine Reconciler, opts SyncOptions, metrics *monitoring.Metrics, logger *zap.Logger) *SyncService {
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncService{
		connections: connections,
		listers:     listers,
		engine:      engine,
		opts:        opts,
		metrics:     metrics,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SyncWorkspaceConnections 同步用户的全部平台连接。
//
// 连接之间互不影响：单个连接失败会记录在 Errors 中，其余连接照常处理。
// 只有在无法读取连接列表时才返回 error。
func (s *SyncService) SyncWorkspaceConnections(ctx context.Context, userID string) (*SyncResult, error) {
	conns, err := s.connections.List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}

	result := &SyncResult{Errors: []ConnectionError{}}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for i := range conns {
		conn := conns[i]
		g.Go(func() error {
			processed, err := s.syncConnection(gctx, &conn)

			mu.Lock()
			defer mu.Unlock()
			result.Processed += processed
			if err != nil {
				result.Errors = append(result.Errors, ConnectionError{
					ConnectionID: conn.ID,
					Platform:     conn.Platform,
					Error:        err.Error(),
				})
			}
			if s.metrics != nil {
				s.metrics.RecordSync(conn.Platform.Tag(), processed, err != nil)
			}
			// 单个连接的错误不取消其他连接
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info("pull sync finished",
		zap.String("user_id", userID),
		zap.Int("connections", len(conns)),
		zap.Int("processed", result.Processed),
		zap.Int("failed", len(result.Errors)),
	)
	return result, nil
}

// SyncAll 为每个拥有连接的用户执行一次同步，供定时任务使用
func (s *SyncService) SyncAll(ctx context.Context, owners func(ctx context.Context) ([]string, error)) (int, error) {
	users, err := owners(ctx)
	if err != nil {
		return 0, fmt.Errorf("list connection owners: %w", err)
	}

	total := 0
	for _, userID := range users {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		res, err := s.SyncWorkspaceConnections(ctx, userID)
		if err != nil {
			s.logger.Error("scheduled sync failed", zap.String("user_id", userID), zap.Error(err))
			continue
		}
		total += res.Processed
	}
	return total, nil
}

// syncConnection 拉取单个连接，返回成功对账的邮件数
func (s *SyncService) syncConnection(ctx context.Context, conn *domain.PlatformConnection) (int, error) {
	log := s.logger.With(
		zap.String("connection_id", conn.ID),
		zap.String("platform", conn.Platform.Tag()),
	)

	lister, ok := s.listers[conn.Platform]
	if !ok {
		return 0, fmt.Errorf("%w: %s", domain.ErrUnknownPlatform, conn.Platform)
	}
	apiKey, err := s.connections.APIKey(conn)
	if err != nil {
		return 0, fmt.Errorf("decrypt api key: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	items, err := lister.ListEmails(ctx, apiKey, conn.WorkspaceID, s.opts.PageSize)
	if err != nil {
		log.Warn("failed to list emails", zap.Error(err))
		return 0, err
	}

	now := s.now()
	processed, failed := 0, 0
	var firstErr error
	for _, item := range items {
		ev, err := normalize.Listed(conn.Platform, item, conn.WorkspaceID, now)
		if errors.Is(err, domain.ErrMalformedEvent) {
			log.Debug("skipping listed email", zap.Error(err))
			continue
		}
		if err != nil {
			return processed, err
		}

		// 单封邮件失败不阻塞后续邮件，下次同步会再次尝试
		if _, err := s.engine.Reconcile(ctx, ev); err != nil {
			log.Warn("failed to reconcile listed email", zap.String("message_external_id", ev.MessageExternalID), zap.Error(err))
			failed++
			if firstErr == nil {
				firstErr = fmt.Errorf("reconcile %s: %w", ev.MessageExternalID, err)
			}
			continue
		}
		processed++
	}
	if failed > 0 {
		return processed, fmt.Errorf("%d of %d listed emails failed, first: %w", failed, len(items), firstErr)
	}
	return processed, nil
}
