package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// MaxIdentifierLen 外部标识列（唯一索引列）的长度上限，与 VARCHAR(255) 一致
	MaxIdentifierLen = 255
	// MaxEmailLen 邮箱地址长度上限（RFC 5321）
	MaxEmailLen = 254
)

// NormalizeEmail 去除空白并转为小写
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// BoundIdentifier 保证外部标识能写入 VARCHAR(255) 唯一索引列。
// 超长的标识保留前缀并以 "#<sha256>" 结尾，同一输入总是得到同一结果。
func BoundIdentifier(id string) string {
	if utf8.RuneCountInString(id) <= MaxIdentifierLen {
		return id
	}
	sum := sha256.Sum256([]byte(id))
	digest := hex.EncodeToString(sum[:])
	keep := MaxIdentifierLen - len(digest) - 1
	return string([]rune(id)[:keep]) + "#" + digest
}

// Validate 校验规范事件。
//
// leadEmail、threadSeed、messageExternalId、workspaceExternalId 任一缺失即视为畸形事件，
// 返回的错误包装 ErrMalformedEvent，调用方据此放弃而不是重试。
func (e *CanonicalEvent) Validate() error {
	if !e.Platform.Valid() {
		return fmt.Errorf("%w: %w %q", ErrMalformedEvent, ErrUnknownPlatform, e.Platform)
	}

	var missing []string
	if strings.TrimSpace(e.LeadEmail) == "" {
		missing = append(missing, "leadEmail")
	}
	if strings.TrimSpace(e.ThreadSeed) == "" {
		missing = append(missing, "threadSeed")
	}
	if strings.TrimSpace(e.MessageExternalID) == "" {
		missing = append(missing, "messageExternalId")
	}
	if strings.TrimSpace(e.WorkspaceExternalID) == "" {
		missing = append(missing, "workspaceExternalId")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrMalformedEvent, strings.Join(missing, ", "))
	}
	if utf8.RuneCountInString(strings.TrimSpace(e.LeadEmail)) > MaxEmailLen {
		return fmt.Errorf("%w: leadEmail longer than %d characters", ErrMalformedEvent, MaxEmailLen)
	}
	return nil
}
