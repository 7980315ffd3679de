package domain

import "time"

// Workspace 租户边界，对应某个平台上的一个外部账号
type Workspace struct {
	ID         string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	ExternalID string    `json:"externalId" gorm:"type:varchar(255);uniqueIndex;not null"`
	Name       string    `json:"name" gorm:"type:text"`
	CreatedAt  time.Time `json:"createdAt"`
}
