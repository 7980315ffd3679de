package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"replyhub/backend/internal/domain"
)

// Store 使用内存保存规范数据，主要用于开发验证和测试。
//
// 所有 get-or-create 操作都在同一把写锁内完成查找与插入，
// 因此与数据库唯一约束一样，并发首条消息不会产生重复会话。
type Store struct {
	mu sync.RWMutex

	workspaces     map[string]*domain.Workspace // id -> workspace
	workspaceByExt map[string]string            // externalId -> id

	leads     map[string]*domain.Lead // id -> lead
	leadByKey map[string]string       // email|workspaceId|platform -> id

	conversations map[string]*domain.Conversation // id -> conversation
	convByThread  map[string]string               // platform|threadId -> id

	messages       map[string]*domain.Message // id -> message
	messageByExt   map[string]string          // platform|externalId -> id
	messagesByConv map[string][]string        // conversationId -> message ids

	connections map[string]*domain.PlatformConnection

	now func() time.Time
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		workspaces:     make(map[string]*domain.Workspace),
		workspaceByExt: make(map[string]string),
		leads:          make(map[string]*domain.Lead),
		leadByKey:      make(map[string]string),
		conversations:  make(map[string]*domain.Conversation),
		convByThread:   make(map[string]string),
		messages:       make(map[string]*domain.Message),
		messageByExt:   make(map[string]string),
		messagesByConv: make(map[string][]string),
		connections:    make(map[string]*domain.PlatformConnection),
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// ========== Workspace Repository ==========

// UpsertWorkspace 按 externalId 获取或创建工作区
func (s *Store) UpsertWorkspace(_ context.Context, externalID, name string) (*domain.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.workspaceByExt[externalID]; ok {
		ws := *s.workspaces[id]
		return &ws, nil
	}

	ws := &domain.Workspace{
		ID:         uuid.New().String(),
		ExternalID: externalID,
		Name:       name,
		CreatedAt:  s.now(),
	}
	s.workspaces[ws.ID] = ws
	s.workspaceByExt[externalID] = ws.ID

	out := *ws
	return &out, nil
}

// GetWorkspaceByExternalID 根据外部 ID 获取工作区
func (s *Store) GetWorkspaceByExternalID(_ context.Context, externalID string) (*domain.Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.workspaceByExt[externalID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	ws := *s.workspaces[id]
	return &ws, nil
}

// ========== Lead Repository ==========

// UpsertLead 获取或创建线索并合并资料
func (s *Store) UpsertLead(_ context.Context, workspaceID string, platform domain.Platform, email string, profile domain.LeadProfile) (*domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := fmt.Sprintf("%s|%s|%s", email, workspaceID, platform)
	if id, ok := s.leadByKey[key]; ok {
		lead := s.leads[id]
		if lead.Merge(profile) {
			lead.UpdatedAt = s.now()
		}
		out := *lead
		return &out, nil
	}

	now := s.now()
	lead := &domain.Lead{
		ID:             uuid.New().String(),
		Email:          email,
		WorkspaceID:    workspaceID,
		SourcePlatform: platform,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	lead.Merge(profile)
	s.leads[lead.ID] = lead
	s.leadByKey[key] = lead.ID

	out := *lead
	return &out, nil
}

// GetLead 根据 ID 获取线索
func (s *Store) GetLead(_ context.Context, id string) (*domain.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lead, ok := s.leads[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *lead
	return &out, nil
}

// ========== Conversation Repository ==========

// UpsertConversation 原子地获取或创建会话
func (s *Store) UpsertConversation(_ context.Context, in domain.ConversationUpsert) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := fmt.Sprintf("%s|%s", in.Platform, in.ExternalThreadID)
	if id, ok := s.convByThread[key]; ok {
		conv := s.conversations[id]
		if in.MessageAt.After(conv.LastMessageAt) {
			conv.LastMessageAt = in.MessageAt
			conv.UpdatedAt = s.now()
		}
		if conv.CampaignName == "" && in.CampaignName != "" {
			conv.CampaignName = in.CampaignName
			conv.UpdatedAt = s.now()
		}
		out := *conv
		return &out, nil
	}

	now := s.now()
	conv := &domain.Conversation{
		ID:               uuid.New().String(),
		LeadID:           in.LeadID,
		Platform:         in.Platform,
		ExternalThreadID: in.ExternalThreadID,
		CampaignID:       in.CampaignID,
		CampaignName:     in.CampaignName,
		Status:           domain.ConversationOpen,
		LastMessageAt:    in.MessageAt,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	s.conversations[conv.ID] = conv
	s.convByThread[key] = conv.ID

	out := *conv
	return &out, nil
}

// GetConversationByThread 根据平台线程 ID 获取会话
func (s *Store) GetConversationByThread(_ context.Context, platform domain.Platform, externalThreadID string) (*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.convByThread[fmt.Sprintf("%s|%s", platform, externalThreadID)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *s.conversations[id]
	return &out, nil
}

// CountConversations 返回会话总数
func (s *Store) CountConversations(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.conversations)), nil
}

// ========== Message Repository ==========

// CreateMessageIfAbsent 插入邮件，已存在时原样返回
func (s *Store) CreateMessageIfAbsent(_ context.Context, msg *domain.Message) (*domain.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := fmt.Sprintf("%s|%s", msg.Platform, msg.ExternalMessageID)
	if id, ok := s.messageByExt[key]; ok {
		out := *s.messages[id]
		return &out, false, nil
	}

	stored := *msg
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}
	s.messages[stored.ID] = &stored
	s.messageByExt[key] = stored.ID
	s.messagesByConv[stored.ConversationID] = append(s.messagesByConv[stored.ConversationID], stored.ID)

	out := stored
	return &out, true, nil
}

// GetMessageByExternalID 根据平台邮件 ID 获取邮件
func (s *Store) GetMessageByExternalID(_ context.Context, platform domain.Platform, externalID string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.messageByExt[fmt.Sprintf("%s|%s", platform, externalID)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *s.messages[id]
	return &out, nil
}

// ListMessages 按发送时间返回会话内的邮件
func (s *Store) ListMessages(_ context.Context, conversationID string) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.messagesByConv[conversationID]
	result := make([]domain.Message, 0, len(ids))
	for _, id := range ids {
		result = append(result, *s.messages[id])
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].SentAt.Before(result[j].SentAt)
	})
	return result, nil
}

// CountMessages 返回邮件总数
func (s *Store) CountMessages(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.messages)), nil
}

// ========== Connection Repository ==========

// SaveConnection 保存平台连接
func (s *Store) SaveConnection(_ context.Context, conn *domain.PlatformConnection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if conn.ID == "" {
		conn.ID = uuid.New().String()
	}
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = now
	}
	conn.UpdatedAt = now

	stored := *conn
	s.connections[conn.ID] = &stored
	return nil
}

// GetConnection 根据 ID 获取平台连接
func (s *Store) GetConnection(_ context.Context, id string) (*domain.PlatformConnection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conn, ok := s.connections[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *conn
	return &out, nil
}

// ListConnectionsByUser 返回用户的全部平台连接（按创建时间排序）
func (s *Store) ListConnectionsByUser(_ context.Context, userID string) ([]domain.PlatformConnection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.PlatformConnection, 0)
	for _, conn := range s.connections {
		if conn.UserID == userID {
			result = append(result, *conn)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// ListConnectionOwners 返回拥有至少一个连接的用户 ID
func (s *Store) ListConnectionOwners(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	owners := make([]string, 0)
	for _, conn := range s.connections {
		if _, ok := seen[conn.UserID]; ok {
			continue
		}
		seen[conn.UserID] = struct{}{}
		owners = append(owners, conn.UserID)
	}
	sort.Strings(owners)
	return owners, nil
}

// Close 内存存储无需关闭
func (s *Store) Close() error {
	return nil
}

// Health 内存存储总是健康
func (s *Store) Health() error {
	return nil
}
