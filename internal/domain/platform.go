package domain

import (
	"fmt"
	"strings"
)

// Platform 外部外联平台标识
type Platform string

const (
	PlatformInstantly Platform = "INSTANTLY" // Instantly（线程 ID 需要拼接线索 ID）
	PlatformPlusVibe  Platform = "PLUSVIBE"  // PlusVibe（线程 ID 全局唯一）
)

// Platforms 返回系统支持的全部平台
func Platforms() []Platform {
	return []Platform{PlatformInstantly, PlatformPlusVibe}
}

// Tag 返回平台的小写标签，用于路由、幂等键和线程 ID 前缀
func (p Platform) Tag() string {
	return strings.ToLower(string(p))
}

// Valid 判断是否为已知平台
func (p Platform) Valid() bool {
	switch p {
	case PlatformInstantly, PlatformPlusVibe:
		return true
	}
	return false
}

// ParsePlatform 解析平台标签（大小写不敏感）
func ParsePlatform(value string) (Platform, error) {
	p := Platform(strings.ToUpper(strings.TrimSpace(value)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownPlatform, value)
	}
	return p, nil
}

// Direction 邮件方向
type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// ConversationStatus 会话状态
type ConversationStatus string

const (
	ConversationOpen    ConversationStatus = "OPEN"
	ConversationPending ConversationStatus = "PENDING"
	ConversationClosed  ConversationStatus = "CLOSED"
)
