// Package idempotency 提供 webhook 投递的幂等键推导和短期去重账本。
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"replyhub/backend/internal/domain"
)

// KeyPrefix 账本键前缀
const KeyPrefix = "webhook:id:"

// Key 由平台和事件的标识字段拼出账本键，例如
// webhook:id:instantly:2024-01-01T00:00:00Z:a@b.com:c1:e1
func Key(platform domain.Platform, fields ...string) string {
	var b strings.Builder
	b.WriteString(KeyPrefix)
	b.WriteString(platform.Tag())
	for _, f := range fields {
		b.WriteByte(':')
		b.WriteString(f)
	}
	return b.String()
}

// Fingerprint 对多个字段做 SHA-256 摘要，用于平台没有提供投递 ID 的情况
func Fingerprint(fields ...string) string {
	h := sha256.New()
	for _, f := range fields {
		h.Write([]byte(f))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
