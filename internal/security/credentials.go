// Package security 负责平台 API Key 的加密存储。
package security

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

var (
	// ErrInvalidKey 密钥长度不是 32 字节
	ErrInvalidKey = errors.New("credential key must be 32 bytes")
	// ErrDecrypt 密文被篡改或使用了错误的密钥
	ErrDecrypt = errors.New("failed to decrypt credential")
)

// sealedVersion 密文前缀，更换算法时递增
const sealedVersion = "v1."

// Sealer 使用 XChaCha20-Poly1305 加密凭据。
// 密文格式为 "v1." + base64url(nonce || ciphertext)，associatedData 绑定连接所属用户和平台。
type Sealer struct {
	key []byte
}

// NewSealer 创建加密器
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrInvalidKey
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Sealer{key: k}, nil
}

// Seal 加密明文
func (s *Sealer) Seal(plaintext, associatedData string) (string, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), []byte(associatedData))
	return sealedVersion + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open 解密密文
func (s *Sealer) Open(sealed, associatedData string) (string, error) {
	if len(sealed) < len(sealedVersion) || sealed[:len(sealedVersion)] != sealedVersion {
		return "", ErrDecrypt
	}
	raw, err := base64.RawURLEncoding.DecodeString(sealed[len(sealedVersion):])
	if err != nil {
		return "", ErrDecrypt
	}

	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return "", ErrDecrypt
	}

	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte(associatedData))
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plaintext), nil
}
