package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"replyhub/backend/internal/domain"
	"replyhub/backend/internal/storage/redis"
)

// DefaultPrefix Redis 键前缀
const DefaultPrefix = "replyhub:jobs"

// 到期的延迟任务移入等待队列
const promoteLua = `
local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for _, id in ipairs(due) do
  redis.call('ZREM', KEYS[2], id)
  redis.call('LPUSH', KEYS[1], id)
end
return #due
`

var (
	// 尝试次数计数在脚本内递增；数据已被清理的 ID 直接丢弃
	reserveScript = goredis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for _, id in ipairs(due) do
  redis.call('ZREM', KEYS[2], id)
  redis.call('LPUSH', KEYS[1], id)
end
while true do
  local id = redis.call('RPOP', KEYS[1])
  if not id then return false end
  local data = redis.call('HGET', KEYS[4], id)
  if data then
    local attempts = redis.call('HINCRBY', KEYS[5], id, 1)
    redis.call('ZADD', KEYS[3], ARGV[2], id)
    return {id, data, attempts}
  end
  redis.call('HDEL', KEYS[5], id)
end
`)

	promoteScript = goredis.NewScript(promoteLua)

	completeScript = goredis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then return 0 end
redis.call('HSET', KEYS[3], ARGV[1], ARGV[2])
redis.call('HDEL', KEYS[4], ARGV[1])
redis.call('LPUSH', KEYS[2], ARGV[1])
local retain = tonumber(ARGV[3])
local extra = redis.call('LRANGE', KEYS[2], retain, -1)
if #extra > 0 then
  redis.call('LTRIM', KEYS[2], 0, retain - 1)
  for _, old in ipairs(extra) do redis.call('HDEL', KEYS[3], old) end
end
return 1
`)

	// 从执行中移出并放入延迟集合（ARGV[4]='zset'）或停放列表
	releaseScript = goredis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then return 0 end
redis.call('HSET', KEYS[3], ARGV[1], ARGV[2])
if ARGV[4] == 'zset' then
  redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
else
  redis.call('LPUSH', KEYS[2], ARGV[1])
end
return 1
`)

	requeueScript = goredis.NewScript(`
if redis.call('LREM', KEYS[1], 1, ARGV[1]) == 0 then return 0 end
redis.call('HSET', KEYS[3], ARGV[1], ARGV[2])
redis.call('HDEL', KEYS[4], ARGV[1])
redis.call('LPUSH', KEYS[2], ARGV[1])
return 1
`)

	// 过期任务按尝试次数回到等待队列或停放（ARGV[2]<=0 不限制），返回 {回收数, 停放的 ID}
	recoverScript = goredis.NewScript(`
local stalled = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
local max = tonumber(ARGV[2])
local parked = {}
for _, id in ipairs(stalled) do
  redis.call('ZREM', KEYS[1], id)
  local attempts = tonumber(redis.call('HGET', KEYS[4], id) or '0')
  if max > 0 and attempts >= max then
    redis.call('LPUSH', KEYS[3], id)
    parked[#parked + 1] = id
  else
    redis.call('LPUSH', KEYS[2], id)
  end
end
return {#stalled, parked}
`)
)

// RedisQueue 基于 Redis 的持久化队列。
//
// 键布局（prefix 默认 replyhub:jobs）：
//
//	:data      hash  id -> 任务 JSON
//	:attempts  hash  id -> 尝试次数，以此为准
//	:wait      list  等待执行（LPUSH 入队，RPOP 出队）
//	:active    zset  执行中，score 为租约到期时间
//	:delayed   zset  等待重试，score 为可执行时间
//	:completed list  最近完成的任务
//	:parked    list  重试耗尽的任务
type RedisQueue struct {
	rdb  *goredis.Client
	opts Options

	dataKey, attemptsKey, waitKey, activeKey, delayedKey, completedKey, parkedKey string
}

// NewRedisQueue 创建 Redis 队列
func NewRedisQueue(client *redis.Client, prefix string, opts Options) *RedisQueue {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisQueue{
		rdb:          client.Client(),
		opts:         opts.withDefaults(),
		dataKey:      prefix + ":data",
		attemptsKey:  prefix + ":attempts",
		waitKey:      prefix + ":wait",
		activeKey:    prefix + ":active",
		delayedKey:   prefix + ":delayed",
		completedKey: prefix + ":completed",
		parkedKey:    prefix + ":parked",
	}
}

// Enqueue 实现 Queue
func (q *RedisQueue) Enqueue(ctx context.Context, platform domain.Platform, payload json.RawMessage) (*domain.Job, error) {
	now := q.opts.Now()
	job := &domain.Job{
		ID:         uuid.New().String(),
		Platform:   platform,
		Payload:    payload,
		State:      domain.JobWaiting,
		EnqueuedAt: now,
		UpdatedAt:  now,
	}
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}

	_, err = q.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, q.dataKey, job.ID, data)
		pipe.LPush(ctx, q.waitKey, job.ID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	return job, nil
}

// Reserve 实现 Queue
func (q *RedisQueue) Reserve(ctx context.Context) (*domain.Job, error) {
	now := q.opts.Now()
	res, err := reserveScript.Run(ctx, q.rdb,
		[]string{q.waitKey, q.delayedKey, q.activeKey, q.dataKey, q.attemptsKey},
		now.UnixMilli(), now.Add(q.opts.Lease).UnixMilli(),
	).Slice()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("reserve job: %w", err)
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("reserve job: unexpected reply %v", res)
	}

	id, _ := res[0].(string)
	raw, _ := res[1].(string)
	attempts, _ := res[2].(int64)

	var job domain.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	job.Attempts = int(attempts)
	job.State = domain.JobActive
	job.UpdatedAt = now

	// 快照仅供查询，尝试次数已在脚本内落盘
	if err := q.save(ctx, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Complete 实现 Queue
func (q *RedisQueue) Complete(ctx context.Context, job *domain.Job) error {
	job.State = domain.JobCompleted
	job.LastError = ""
	job.UpdatedAt = q.opts.Now()
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	ok, err := completeScript.Run(ctx, q.rdb,
		[]string{q.activeKey, q.completedKey, q.dataKey, q.attemptsKey},
		job.ID, data, q.opts.RetainCompleted,
	).Int()
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if ok == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// Retry 实现 Queue
func (q *RedisQueue) Retry(ctx context.Context, job *domain.Job, at time.Time, cause error) error {
	job.State = domain.JobDelayed
	job.LastError = errorText(cause)
	return q.release(ctx, job, q.delayedKey, at.UnixMilli(), "zset")
}

// Park 实现 Queue
func (q *RedisQueue) Park(ctx context.Context, job *domain.Job, cause error) error {
	job.State = domain.JobParked
	job.LastError = errorText(cause)
	return q.release(ctx, job, q.parkedKey, 0, "list")
}

func (q *RedisQueue) release(ctx context.Context, job *domain.Job, target string, score int64, kind string) error {
	job.UpdatedAt = q.opts.Now()
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	ok, err := releaseScript.Run(ctx, q.rdb,
		[]string{q.activeKey, target, q.dataKey},
		job.ID, data, score, kind,
	).Int()
	if err != nil {
		return fmt.Errorf("release job: %w", err)
	}
	if ok == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// Parked 实现 Queue
func (q *RedisQueue) Parked(ctx context.Context, limit int) ([]domain.Job, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := q.rdb.LRange(ctx, q.parkedKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list parked jobs: %w", err)
	}
	if len(ids) == 0 {
		return []domain.Job{}, nil
	}

	values, err := q.rdb.HMGet(ctx, q.dataKey, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("load parked jobs: %w", err)
	}

	jobs := make([]domain.Job, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var job domain.Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Requeue 实现 Queue
func (q *RedisQueue) Requeue(ctx context.Context, id string) (*domain.Job, error) {
	raw, err := q.rdb.HGet(ctx, q.dataKey, id).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}

	var job domain.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	job.Attempts = 0
	job.State = domain.JobWaiting
	job.UpdatedAt = q.opts.Now()
	data, err := json.Marshal(&job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}

	ok, err := requeueScript.Run(ctx, q.rdb,
		[]string{q.parkedKey, q.waitKey, q.dataKey, q.attemptsKey},
		id, data,
	).Int()
	if err != nil {
		return nil, fmt.Errorf("requeue job: %w", err)
	}
	if ok == 0 {
		return nil, domain.ErrJobNotFound
	}
	return &job, nil
}

// Maintain 实现 Queue
func (q *RedisQueue) Maintain(ctx context.Context) (int, int, error) {
	now := q.opts.Now().UnixMilli()

	promoted, err := promoteScript.Run(ctx, q.rdb, []string{q.waitKey, q.delayedKey}, now).Int()
	if err != nil {
		return 0, 0, fmt.Errorf("promote delayed jobs: %w", err)
	}
	res, err := recoverScript.Run(ctx, q.rdb,
		[]string{q.activeKey, q.waitKey, q.parkedKey, q.attemptsKey},
		now, q.opts.MaxAttempts,
	).Slice()
	if err != nil {
		return promoted, 0, fmt.Errorf("recover stalled jobs: %w", err)
	}
	if len(res) != 2 {
		return promoted, 0, fmt.Errorf("recover stalled jobs: unexpected reply %v", res)
	}
	recovered, _ := res[0].(int64)
	parked, _ := res[1].([]interface{})

	for _, v := range parked {
		id, _ := v.(string)
		if err := q.markParked(ctx, id); err != nil {
			return promoted, int(recovered), err
		}
	}
	return promoted, int(recovered), nil
}

// markParked 更新回收时被停放任务的快照
func (q *RedisQueue) markParked(ctx context.Context, id string) error {
	raw, err := q.rdb.HGet(ctx, q.dataKey, id).Result()
	if errors.Is(err, goredis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}

	var job domain.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return fmt.Errorf("decode job %s: %w", id, err)
	}
	attempts, err := q.rdb.HGet(ctx, q.attemptsKey, id).Int()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("load job attempts: %w", err)
	}
	job.Attempts = attempts
	job.State = domain.JobParked
	job.LastError = errLeaseExpired.Error()
	job.UpdatedAt = q.opts.Now()
	return q.save(ctx, &job)
}

// Stats 实现 Queue
func (q *RedisQueue) Stats(ctx context.Context) (map[domain.JobState]int64, error) {
	var wait, active, delayed, completed, parked *goredis.IntCmd
	_, err := q.rdb.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		wait = pipe.LLen(ctx, q.waitKey)
		active = pipe.ZCard(ctx, q.activeKey)
		delayed = pipe.ZCard(ctx, q.delayedKey)
		completed = pipe.LLen(ctx, q.completedKey)
		parked = pipe.LLen(ctx, q.parkedKey)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	return map[domain.JobState]int64{
		domain.JobWaiting:   wait.Val(),
		domain.JobActive:    active.Val(),
		domain.JobDelayed:   delayed.Val(),
		domain.JobCompleted: completed.Val(),
		domain.JobParked:    parked.Val(),
	}, nil
}

func (q *RedisQueue) save(ctx context.Context, job *domain.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.rdb.HSet(ctx, q.dataKey, job.ID, data).Err(); err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	return nil
}
