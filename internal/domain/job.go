package domain

import (
	"encoding/json"
	"time"
)

// JobState 任务状态
type JobState string

const (
	JobWaiting   JobState = "waiting"
	JobDelayed   JobState = "delayed"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobParked    JobState = "parked" // 重试耗尽，等待人工处理
)

// Job 队列中的一条 webhook 处理任务
type Job struct {
	ID         string          `json:"id"`
	Platform   Platform        `json:"platform"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	LastError  string          `json:"lastError,omitempty"`
	State      JobState        `json:"state"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}
