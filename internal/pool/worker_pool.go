package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"replyhub/backend/internal/domain"
	"replyhub/backend/internal/monitoring"
	"replyhub/backend/internal/queue"
)

// Handler 处理一条任务
type Handler func(ctx context.Context, job *domain.Job) error

// Config 协程池参数
type Config struct {
	Workers      int           // 并发 worker 数
	MaxAttempts  int           // 最大尝试次数，耗尽后停放
	BackoffBase  time.Duration // 第一次重试的延迟
	BackoffMax   time.Duration // 单次延迟上限
	PollInterval time.Duration // 队列为空时的轮询间隔
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 5
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffMax < c.BackoffBase {
		c.BackoffMax = time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 200 * time.Millisecond
	}
	return c
}

// WorkerPool 协程池
//
// 固定数量的 worker 共享一个队列。任务失败后按指数退避重试，
// 尝试次数耗尽后停放；畸形事件直接完成，不重试。
type WorkerPool struct {
	cfg     Config
	queue   queue.Queue
	handler Handler
	logger  *zap.Logger
	metrics *monitoring.Metrics
	now     func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorkerPool 创建协程池
func NewWorkerPool(cfg Config, q queue.Queue, handler Handler, logger *zap.Logger, metrics *monitoring.Metrics) *WorkerPool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkerPool{
		cfg:     cfg.withDefaults(),
		queue:   q,
		handler: handler,
		logger:  logger,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Start 启动协程池
func (p *WorkerPool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.Info("worker pool started", zap.Int("workers", p.cfg.Workers))
}

// Stop 停止协程池，等待正在执行的任务结束
func (p *WorkerPool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

// worker 工作协程
func (p *WorkerPool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		processed, err := p.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			p.logger.Error("worker failed to reserve job", zap.Int("worker", id), zap.Error(err))
		}
		if processed {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.cfg.PollInterval):
		}
	}
}

// RunOnce 取出并处理一条任务，没有任务时返回 false
func (p *WorkerPool) RunOnce(ctx context.Context) (bool, error) {
	job, err := p.queue.Reserve(ctx)
	if errors.Is(err, queue.ErrEmpty) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	// 任务一旦开始就执行到底，不随停机中断
	runCtx := context.WithoutCancel(ctx)
	p.settle(runCtx, job, p.execute(runCtx, job))
	return true, nil
}

// execute 执行任务（捕获 panic）
func (p *WorkerPool) execute(ctx context.Context, job *domain.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if p.metrics != nil {
				p.metrics.RecordPanic()
			}
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.handler(ctx, job)
}

// settle 根据执行结果完成、重试或停放任务
func (p *WorkerPool) settle(ctx context.Context, job *domain.Job, err error) {
	log := p.logger.With(
		zap.String("job_id", job.ID),
		zap.String("platform", job.Platform.Tag()),
		zap.Int("attempt", job.Attempts),
	)

	var outcome string
	var settleErr error
	switch {
	case err == nil:
		outcome = monitoring.JobCompleted
		settleErr = p.queue.Complete(ctx, job)

	case errors.Is(err, domain.ErrMalformedEvent):
		log.Warn("discarding malformed event", zap.Error(err))
		outcome = monitoring.JobDiscarded
		settleErr = p.queue.Complete(ctx, job)

	case job.Attempts >= p.cfg.MaxAttempts:
		log.Error("job exhausted retries, parking", zap.Error(err))
		outcome = monitoring.JobParked
		settleErr = p.queue.Park(ctx, job, err)

	default:
		delay := p.RetryDelay(job.Attempts)
		log.Warn("job failed, scheduling retry", zap.Duration("delay", delay), zap.Error(err))
		outcome = monitoring.JobRetried
		settleErr = p.queue.Retry(ctx, job, p.now().Add(delay), err)
	}

	if settleErr != nil {
		// 租约到期后维护任务会把它重新放回等待队列
		log.Error("failed to settle job", zap.String("outcome", outcome), zap.Error(settleErr))
		return
	}
	if p.metrics != nil {
		p.metrics.RecordJob(outcome)
	}
}

// RetryDelay 返回第 attempt 次失败后的等待时间：base * 2^(attempt-1)，不超过上限
func (p *WorkerPool) RetryDelay(attempt int) time.Duration {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.cfg.BackoffBase,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         p.cfg.BackoffMax,
	}
	b.Reset()

	delay := p.cfg.BackoffBase
	for i := 0; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}
