package storage

import (
	"context"

	"replyhub/backend/internal/domain"
)

// WorkspaceRepository 定义工作区存取操作。
type WorkspaceRepository interface {
	// UpsertWorkspace 按 externalId 获取或创建工作区，name 只在创建时使用
	UpsertWorkspace(ctx context.Context, externalID, name string) (*domain.Workspace, error)
	GetWorkspaceByExternalID(ctx context.Context, externalID string) (*domain.Workspace, error)
}

// LeadRepository 定义线索存取操作。
type LeadRepository interface {
	// UpsertLead 按 (email, workspaceId, sourcePlatform) 获取或创建线索，并合并非空资料字段
	UpsertLead(ctx context.Context, workspaceID string, platform domain.Platform, email string, profile domain.LeadProfile) (*domain.Lead, error)
	GetLead(ctx context.Context, id string) (*domain.Lead, error)
}

// ConversationRepository 定义会话存取操作。
type ConversationRepository interface {
	// UpsertConversation 按 (platform, externalThreadId) 原子地获取或创建会话。
	// 已存在时 lastMessageAt 取较大值，campaignName 仅在为空时回填。
	UpsertConversation(ctx context.Context, in domain.ConversationUpsert) (*domain.Conversation, error)
	GetConversationByThread(ctx context.Context, platform domain.Platform, externalThreadID string) (*domain.Conversation, error)
	CountConversations(ctx context.Context) (int64, error)
}

// MessageRepository 定义邮件存取操作。
type MessageRepository interface {
	// CreateMessageIfAbsent 按 (platform, externalMessageId) 插入邮件。
	// 已存在时不做任何修改，返回已有记录且 created=false。
	CreateMessageIfAbsent(ctx context.Context, msg *domain.Message) (stored *domain.Message, created bool, err error)
	GetMessageByExternalID(ctx context.Context, platform domain.Platform, externalID string) (*domain.Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error)
	CountMessages(ctx context.Context) (int64, error)
}

// ConnectionRepository 定义平台连接存取操作。
type ConnectionRepository interface {
	SaveConnection(ctx context.Context, conn *domain.PlatformConnection) error
	GetConnection(ctx context.Context, id string) (*domain.PlatformConnection, error)
	ListConnectionsByUser(ctx context.Context, userID string) ([]domain.PlatformConnection, error)
	ListConnectionOwners(ctx context.Context) ([]string, error)
}

// Store 定义完整的存储接口。
type Store interface {
	WorkspaceRepository
	LeadRepository
	ConversationRepository
	MessageRepository
	ConnectionRepository

	// 工具方法
	Close() error
	Health() error
}
