package domain

import "time"

// PlatformConnection 用户保存的平台 API 连接。密钥加密存储，任何读接口都不返回。
type PlatformConnection struct {
	ID              string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID          string    `json:"userId" gorm:"type:varchar(36);index;not null"`
	Platform        Platform  `json:"platform" gorm:"type:varchar(20);not null"`
	Name            string    `json:"name" gorm:"type:text"`
	WorkspaceID     string    `json:"workspaceId,omitempty" gorm:"type:varchar(255)"` // 平台侧 workspace ID（PlusVibe 必填）
	APIKeyEncrypted string    `json:"-" gorm:"type:text;not null"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}
