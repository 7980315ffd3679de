package domain

import "errors"

var (
	// ErrMalformedEvent 事件缺少必填字段，属于永久性错误，不重试
	ErrMalformedEvent = errors.New("malformed event")
	// ErrUnknownPlatform 未知平台
	ErrUnknownPlatform = errors.New("unknown platform")
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("record not found")
	// ErrJobNotFound 任务不存在
	ErrJobNotFound = errors.New("job not found")
	// ErrInvalidInput 输入参数无效
	ErrInvalidInput = errors.New("invalid input")
)
