package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"replyhub/backend/internal/domain"
	"replyhub/backend/internal/security"
	"replyhub/backend/internal/storage"
)

// ErrCredentialKeyMissing 未配置凭据加密密钥
var ErrCredentialKeyMissing = errors.New("credential key is not configured")

// ConnectionService 管理用户的平台连接
type ConnectionService struct {
	repo   storage.ConnectionRepository
	sealer *security.Sealer
}

// NewConnectionService 创建连接服务，sealer 为 nil 时无法保存或解密连接
func NewConnectionService(repo storage.ConnectionRepository, sealer *security.Sealer) *ConnectionService {
	return &ConnectionService{repo: repo, sealer: sealer}
}

// CreateConnectionInput 创建连接输入
type CreateConnectionInput struct {
	Platform    string `json:"platform" binding:"required"`
	APIKey      string `json:"apiKey" binding:"required"`
	WorkspaceID string `json:"workspaceId"`
	Name        string `json:"name" binding:"omitempty,max=100"`
}

// Create 加密保存一个平台连接
func (s *ConnectionService) Create(ctx context.Context, userID string, input CreateConnectionInput) (*domain.PlatformConnection, error) {
	if s.sealer == nil {
		return nil, ErrCredentialKeyMissing
	}
	platform, err := domain.ParsePlatform(input.Platform)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	apiKey := strings.TrimSpace(input.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: apiKey is required", domain.ErrInvalidInput)
	}

	sealed, err := s.sealer.Seal(apiKey, associatedData(userID, platform))
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(input.Name)
	if name == "" {
		name = string(platform)
	}
	conn := &domain.PlatformConnection{
		UserID:          userID,
		Platform:        platform,
		Name:            name,
		WorkspaceID:     strings.TrimSpace(input.WorkspaceID),
		APIKeyEncrypted: sealed,
	}
	if err := s.repo.SaveConnection(ctx, conn); err != nil {
		return nil, fmt.Errorf("save connection: %w", err)
	}
	return conn, nil
}

// List 返回用户的连接（不含密钥）
func (s *ConnectionService) List(ctx context.Context, userID string) ([]domain.PlatformConnection, error) {
	return s.repo.ListConnectionsByUser(ctx, userID)
}

// APIKey 解密连接的 API Key
func (s *ConnectionService) APIKey(conn *domain.PlatformConnection) (string, error) {
	if s.sealer == nil {
		return "", ErrCredentialKeyMissing
	}
	return s.sealer.Open(conn.APIKeyEncrypted, associatedData(conn.UserID, conn.Platform))
}

func associatedData(userID string, platform domain.Platform) string {
	return userID + "|" + string(platform)
}
