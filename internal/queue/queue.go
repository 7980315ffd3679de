// Package queue 实现带有限重试和停放状态的持久化任务队列。
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"replyhub/backend/internal/domain"
)

// ErrEmpty 当前没有可执行的任务
var ErrEmpty = errors.New("queue is empty")

// DefaultLease 任务被取走后的租约时长，超时未完成视为卡死并重新入队
const DefaultLease = 5 * time.Minute

// Queue 任务队列
type Queue interface {
	// Enqueue 持久化一条任务后立即返回
	Enqueue(ctx context.Context, platform domain.Platform, payload json.RawMessage) (*domain.Job, error)
	// Reserve 取出一条可执行任务并将尝试次数加一；没有任务时返回 ErrEmpty
	Reserve(ctx context.Context) (*domain.Job, error)
	// Complete 标记任务完成，只保留最近 N 条已完成任务
	Complete(ctx context.Context, job *domain.Job) error
	// Retry 记录失败原因，任务在 at 之后重新可执行
	Retry(ctx context.Context, job *domain.Job, at time.Time, cause error) error
	// Park 重试耗尽，停放任务等待人工处理
	Park(ctx context.Context, job *domain.Job, cause error) error
	// Parked 返回最近停放的任务
	Parked(ctx context.Context, limit int) ([]domain.Job, error)
	// Requeue 将停放的任务重置尝试次数后重新入队
	Requeue(ctx context.Context, id string) (*domain.Job, error)
	// Maintain 提升到期的延迟任务并回收租约过期的执行中任务，
	// 已用尽尝试次数的过期任务直接停放
	Maintain(ctx context.Context) (promoted, recovered int, err error)
	// Stats 返回各状态任务数
	Stats(ctx context.Context) (map[domain.JobState]int64, error)
}

// Options 队列参数
type Options struct {
	RetainCompleted int
	Lease           time.Duration
	// MaxAttempts 租约过期时尝试次数达到该值的任务被停放，<=0 表示不限制
	MaxAttempts int
	Now         func() time.Time
}

// errLeaseExpired 租约过期回收时写入停放任务的原因
var errLeaseExpired = errors.New("lease expired")

func (o Options) withDefaults() Options {
	if o.RetainCompleted <= 0 {
		o.RetainCompleted = 1000
	}
	if o.Lease <= 0 {
		o.Lease = DefaultLease
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	return o
}

// exhausted 判断过期任务是否已用尽尝试次数
func (o Options) exhausted(attempts int) bool {
	return o.MaxAttempts > 0 && attempts >= o.MaxAttempts
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
