package queue

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"replyhub/backend/internal/domain"
)

// MemoryQueue 进程内队列，进程退出即丢失，仅用于开发
type MemoryQueue struct {
	mu   sync.Mutex
	opts Options

	jobs      map[string]*domain.Job
	wait      []string
	active    map[string]time.Time // id -> 租约到期时间
	delayed   map[string]time.Time // id -> 可执行时间
	completed []string
	parked    []string // 最新的在前
}

// NewMemoryQueue 创建进程内队列
func NewMemoryQueue(opts Options) *MemoryQueue {
	return &MemoryQueue{
		opts:    opts.withDefaults(),
		jobs:    make(map[string]*domain.Job),
		active:  make(map[string]time.Time),
		delayed: make(map[string]time.Time),
	}
}

// Enqueue 实现 Queue
func (q *MemoryQueue) Enqueue(_ context.Context, platform domain.Platform, payload json.RawMessage) (*domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.opts.Now()
	job := &domain.Job{
		ID:         uuid.New().String(),
		Platform:   platform,
		Payload:    append(json.RawMessage(nil), payload...),
		State:      domain.JobWaiting,
		EnqueuedAt: now,
		UpdatedAt:  now,
	}
	q.jobs[job.ID] = job
	q.wait = append(q.wait, job.ID)

	out := *job
	return &out, nil
}

// Reserve 实现 Queue
func (q *MemoryQueue) Reserve(_ context.Context) (*domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.opts.Now()
	q.promoteLocked(now)

	if len(q.wait) == 0 {
		return nil, ErrEmpty
	}
	id := q.wait[0]
	q.wait = q.wait[1:]

	job := q.jobs[id]
	job.Attempts++
	job.State = domain.JobActive
	job.UpdatedAt = now
	q.active[id] = now.Add(q.opts.Lease)

	out := *job
	return &out, nil
}

// Complete 实现 Queue
func (q *MemoryQueue) Complete(_ context.Context, job *domain.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	stored, err := q.takeActiveLocked(job.ID)
	if err != nil {
		return err
	}
	stored.State = domain.JobCompleted
	stored.LastError = ""
	stored.UpdatedAt = q.opts.Now()

	q.completed = append([]string{job.ID}, q.completed...)
	if len(q.completed) > q.opts.RetainCompleted {
		for _, id := range q.completed[q.opts.RetainCompleted:] {
			delete(q.jobs, id)
		}
		q.completed = q.completed[:q.opts.RetainCompleted]
	}
	return nil
}

// Retry 实现 Queue
func (q *MemoryQueue) Retry(_ context.Context, job *domain.Job, at time.Time, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	stored, err := q.takeActiveLocked(job.ID)
	if err != nil {
		return err
	}
	stored.State = domain.JobDelayed
	stored.LastError = errorText(cause)
	stored.UpdatedAt = q.opts.Now()
	q.delayed[job.ID] = at
	return nil
}

// Park 实现 Queue
func (q *MemoryQueue) Park(_ context.Context, job *domain.Job, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	stored, err := q.takeActiveLocked(job.ID)
	if err != nil {
		return err
	}
	stored.State = domain.JobParked
	stored.LastError = errorText(cause)
	stored.UpdatedAt = q.opts.Now()
	q.parked = append([]string{job.ID}, q.parked...)
	return nil
}

// Parked 实现 Queue
func (q *MemoryQueue) Parked(_ context.Context, limit int) ([]domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ids := q.parked
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	jobs := make([]domain.Job, 0, len(ids))
	for _, id := range ids {
		jobs = append(jobs, *q.jobs[id])
	}
	return jobs, nil
}

// Requeue 实现 Queue
func (q *MemoryQueue) Requeue(_ context.Context, id string) (*domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := -1
	for i, parkedID := range q.parked {
		if parkedID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, domain.ErrJobNotFound
	}
	q.parked = append(q.parked[:idx], q.parked[idx+1:]...)

	job := q.jobs[id]
	job.Attempts = 0
	job.State = domain.JobWaiting
	job.UpdatedAt = q.opts.Now()
	q.wait = append(q.wait, id)

	out := *job
	return &out, nil
}

// Maintain 实现 Queue
func (q *MemoryQueue) Maintain(_ context.Context) (int, int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.opts.Now()
	promoted := q.promoteLocked(now)

	var stalled []string
	for id, deadline := range q.active {
		if !deadline.After(now) {
			stalled = append(stalled, id)
		}
	}
	sort.Strings(stalled)
	for _, id := range stalled {
		delete(q.active, id)
		job := q.jobs[id]
		job.UpdatedAt = now
		if q.opts.exhausted(job.Attempts) {
			job.State = domain.JobParked
			job.LastError = errLeaseExpired.Error()
			q.parked = append([]string{id}, q.parked...)
			continue
		}
		job.State = domain.JobWaiting
		q.wait = append(q.wait, id)
	}
	return promoted, len(stalled), nil
}

// Stats 实现 Queue
func (q *MemoryQueue) Stats(_ context.Context) (map[domain.JobState]int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return map[domain.JobState]int64{
		domain.JobWaiting:   int64(len(q.wait)),
		domain.JobActive:    int64(len(q.active)),
		domain.JobDelayed:   int64(len(q.delayed)),
		domain.JobCompleted: int64(len(q.completed)),
		domain.JobParked:    int64(len(q.parked)),
	}, nil
}

func (q *MemoryQueue) takeActiveLocked(id string) (*domain.Job, error) {
	if _, ok := q.active[id]; !ok {
		return nil, domain.ErrJobNotFound
	}
	delete(q.active, id)
	return q.jobs[id], nil
}

// promoteLocked 将到期的延迟任务移入等待队列，按到期时间先后排列
func (q *MemoryQueue) promoteLocked(now time.Time) int {
	type due struct {
		id string
		at time.Time
	}
	var ready []due
	for id, at := range q.delayed {
		if !at.After(now) {
			ready = append(ready, due{id, at})
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].at.Before(ready[j].at) })
	for _, d := range ready {
		delete(q.delayed, d.id)
		job := q.jobs[d.id]
		job.State = domain.JobWaiting
		job.UpdatedAt = now
		q.wait = append(q.wait, d.id)
	}
	return len(ready)
}
