package sql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"replyhub/backend/internal/config"
	"replyhub/backend/internal/domain"
)

// Store 基于 GORM 的规范数据存储（支持 PostgreSQL、MySQL 和 SQLite）
//
// 所有 get-or-create 都依赖唯一索引 + INSERT ... ON CONFLICT DO NOTHING，
// 不使用应用层锁。
type Store struct {
	db *gorm.DB
}

// Open 根据配置选择方言并创建存储
func Open(cfg *config.DatabaseConfig) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Type {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type: %s (supported: postgres, mysql, sqlite)", cfg.Type)
	}
	return NewStoreWithDialector(dialector, cfg.MaxOpenConns, cfg.MaxIdleConns, cfg.ConnMaxLifetime)
}

// NewStoreWithDialector 使用指定的 GORM dialector 创建存储实例并自动迁移
func NewStoreWithDialector(dialector gorm.Dialector, maxOpenConns, maxIdleConns int, connMaxLifetime time.Duration) (*Store, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	// SQLite 只允许单写者
	if db.Dialector.Name() == "sqlite" {
		maxOpenConns = 1
	}
	if maxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(maxOpenConns)
	}
	if maxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(maxIdleConns)
	}
	if connMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(connMaxLifetime)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate 自动迁移数据库表结构
func (s *Store) migrate() error {
	return s.db.AutoMigrate(
		&domain.Workspace{},
		&domain.Lead{},
		&domain.Conversation{},
		&domain.Message{},
		&domain.PlatformConnection{},
	)
}

// DB 返回底层 GORM 实例
func (s *Store) DB() *gorm.DB {
	return s.db
}

// ========== Workspace Repository ==========

// UpsertWorkspace 按 externalId 获取或创建工作区
func (s *Store) UpsertWorkspace(ctx context.Context, externalID, name string) (*domain.Workspace, error) {
	db := s.db.WithContext(ctx)

	ws := &domain.Workspace{
		ID:         uuid.New().String(),
		ExternalID: externalID,
		Name:       name,
	}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_id"}},
		DoNothing: true,
	}).Create(ws).Error
	if err != nil {
		return nil, fmt.Errorf("upsert workspace: %w", err)
	}

	return s.GetWorkspaceByExternalID(ctx, externalID)
}

// GetWorkspaceByExternalID 根据外部 ID 获取工作区
func (s *Store) GetWorkspaceByExternalID(ctx context.Context, externalID string) (*domain.Workspace, error) {
	var ws domain.Workspace
	if err := s.db.WithContext(ctx).Where("external_id = ?", externalID).First(&ws).Error; err != nil {
		return nil, mapNotFound(err)
	}
	return &ws, nil
}

// ========== Lead Repository ==========

// UpsertLead 获取或创建线索，已存在时只写入非空资料字段
//
// 插入、合并与回读在同一事务内完成。
func (s *Store) UpsertLead(ctx context.Context, workspaceID string, platform domain.Platform, email string, profile domain.LeadProfile) (*domain.Lead, error) {
	lead := &domain.Lead{
		ID:             uuid.New().String(),
		Email:          email,
		WorkspaceID:    workspaceID,
		SourcePlatform: platform,
	}
	lead.Merge(profile)

	var stored domain.Lead
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "email"}, {Name: "workspace_id"}, {Name: "source_platform"}},
			DoNothing: true,
		}).Create(lead)
		if result.Error != nil {
			return fmt.Errorf("upsert lead: %w", result.Error)
		}

		identity := func() *gorm.DB {
			return tx.Model(&domain.Lead{}).
				Where("email = ? AND workspace_id = ? AND source_platform = ?", email, workspaceID, platform)
		}

		if result.RowsAffected == 0 {
			if updates := profileUpdates(profile); len(updates) > 0 {
				updates["updated_at"] = time.Now().UTC()
				if err := identity().Updates(updates).Error; err != nil {
					return fmt.Errorf("merge lead profile: %w", err)
				}
			}
		}

		return identity().First(&stored).Error
	})
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &stored, nil
}

// GetLead 根据 ID 获取线索
func (s *Store) GetLead(ctx context.Context, id string) (*domain.Lead, error) {
	var lead domain.Lead
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&lead).Error; err != nil {
		return nil, mapNotFound(err)
	}
	return &lead, nil
}

// profileUpdates 只收集非空字段，空值永远不覆盖已知资料
func profileUpdates(p domain.LeadProfile) map[string]interface{} {
	updates := make(map[string]interface{})
	if p.ExternalLeadID != "" {
		updates["external_lead_id"] = p.ExternalLeadID
	}
	if p.FirstName != "" {
		updates["first_name"] = p.FirstName
	}
	if p.LastName != "" {
		updates["last_name"] = p.LastName
	}
	if p.CompanyName != "" {
		updates["company_name"] = p.CompanyName
	}
	return updates
}

// ========== Conversation Repository ==========

// UpsertConversation 原子地获取或创建会话
//
// 插入、lastMessageAt 推进、campaignName 回填与回读在同一事务内完成。
func (s *Store) UpsertConversation(ctx context.Context, in domain.ConversationUpsert) (*domain.Conversation, error) {
	messageAt := in.MessageAt.UTC()

	conv := &domain.Conversation{
		ID:               uuid.New().String(),
		LeadID:           in.LeadID,
		Platform:         in.Platform,
		ExternalThreadID: in.ExternalThreadID,
		CampaignID:       in.CampaignID,
		CampaignName:     in.CampaignName,
		Status:           domain.ConversationOpen,
		LastMessageAt:    messageAt,
	}

	var stored domain.Conversation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "platform"}, {Name: "external_thread_id"}},
			DoNothing: true,
		}).Create(conv)
		if result.Error != nil {
			return fmt.Errorf("upsert conversation: %w", result.Error)
		}

		thread := func() *gorm.DB {
			return tx.Model(&domain.Conversation{}).
				Where("platform = ? AND external_thread_id = ?", in.Platform, in.ExternalThreadID)
		}

		if result.RowsAffected == 0 {
			now := time.Now().UTC()

			// 单条 UPDATE 内比较，乱序事件不会让 lastMessageAt 回退
			err := thread().Where("last_message_at < ?", messageAt).
				Updates(map[string]interface{}{"last_message_at": messageAt, "updated_at": now}).Error
			if err != nil {
				return fmt.Errorf("advance conversation last_message_at: %w", err)
			}

			if in.CampaignName != "" {
				err := thread().Where("campaign_name IS NULL OR campaign_name = ''").
					Updates(map[string]interface{}{"campaign_name": in.CampaignName, "updated_at": now}).Error
				if err != nil {
					return fmt.Errorf("backfill conversation campaign_name: %w", err)
				}
			}
		}

		return thread().First(&stored).Error
	})
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &stored, nil
}

// GetConversationByThread 根据平台线程 ID 获取会话
func (s *Store) GetConversationByThread(ctx context.Context, platform domain.Platform, externalThreadID string) (*domain.Conversation, error) {
	var conv domain.Conversation
	err := s.db.WithContext(ctx).
		Where("platform = ? AND external_thread_id = ?", platform, externalThreadID).
		First(&conv).Error
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &conv, nil
}

// CountConversations 返回会话总数
func (s *Store) CountConversations(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&domain.Conversation{}).Count(&count).Error
	return count, err
}

// ========== Message Repository ==========

// CreateMessageIfAbsent 插入邮件，(platform, external_message_id) 冲突时返回已有记录
func (s *Store) CreateMessageIfAbsent(ctx context.Context, msg *domain.Message) (*domain.Message, bool, error) {
	db := s.db.WithContext(ctx)

	row := *msg
	if row.ID == "" {
		row.ID = uuid.New().String()
	}
	row.SentAt = row.SentAt.UTC()

	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "platform"}, {Name: "external_message_id"}},
		DoNothing: true,
	}).Create(&row)
	if result.Error != nil {
		return nil, false, fmt.Errorf("create message: %w", result.Error)
	}
	if result.RowsAffected == 1 {
		return &row, true, nil
	}

	existing, err := s.GetMessageByExternalID(ctx, msg.Platform, msg.ExternalMessageID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetMessageByExternalID 根据平台邮件 ID 获取邮件
func (s *Store) GetMessageByExternalID(ctx context.Context, platform domain.Platform, externalID string) (*domain.Message, error) {
	var msg domain.Message
	err := s.db.WithContext(ctx).
		Where("platform = ? AND external_message_id = ?", platform, externalID).
		First(&msg).Error
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &msg, nil
}

// ListMessages 按发送时间返回会话内的邮件
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	var messages []domain.Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("sent_at ASC").
		Find(&messages).Error
	return messages, err
}

// CountMessages 返回邮件总数
func (s *Store) CountMessages(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&domain.Message{}).Count(&count).Error
	return count, err
}

// ========== Connection Repository ==========

// SaveConnection 保存平台连接
func (s *Store) SaveConnection(ctx context.Context, conn *domain.PlatformConnection) error {
	if conn.ID == "" {
		conn.ID = uuid.New().String()
	}
	return s.db.WithContext(ctx).Save(conn).Error
}

// GetConnection 根据 ID 获取平台连接
func (s *Store) GetConnection(ctx context.Context, id string) (*domain.PlatformConnection, error) {
	var conn domain.PlatformConnection
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&conn).Error; err != nil {
		return nil, mapNotFound(err)
	}
	return &conn, nil
}

// ListConnectionsByUser 返回用户的全部平台连接
func (s *Store) ListConnectionsByUser(ctx context.Context, userID string) ([]domain.PlatformConnection, error) {
	var conns []domain.PlatformConnection
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&conns).Error
	return conns, err
}

// ListConnectionOwners 返回拥有至少一个连接的用户 ID
func (s *Store) ListConnectionOwners(ctx context.Context) ([]string, error) {
	var owners []string
	err := s.db.WithContext(ctx).
		Model(&domain.PlatformConnection{}).
		Distinct("user_id").
		Order("user_id").
		Pluck("user_id", &owners).Error
	return owners, err
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health 检查数据库健康状态
func (s *Store) Health() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

func mapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrNotFound
	}
	return err
}
