package domain

import "time"

// Conversation 一个逻辑会话线程，(platform, externalThreadId) 唯一
type Conversation struct {
	ID               string             `json:"id" gorm:"primaryKey;type:varchar(36)"`
	LeadID           string             `json:"leadId" gorm:"type:varchar(36);index;not null"`
	Platform         Platform           `json:"platform" gorm:"type:varchar(20);not null;uniqueIndex:idx_conversation_thread,priority:1"`
	ExternalThreadID string             `json:"externalThreadId" gorm:"type:varchar(255);not null;uniqueIndex:idx_conversation_thread,priority:2"`
	CampaignID       string             `json:"campaignId,omitempty" gorm:"type:varchar(255)"`
	CampaignName     string             `json:"campaignName,omitempty" gorm:"type:text"`
	Status           ConversationStatus `json:"status" gorm:"type:varchar(20);default:OPEN;index"`
	AssignedTo       string             `json:"assignedTo,omitempty" gorm:"type:varchar(36)"`
	LastMessageAt    time.Time          `json:"lastMessageAt" gorm:"index"`
	CreatedAt        time.Time          `json:"createdAt"`
	UpdatedAt        time.Time          `json:"updatedAt"`
}

// ConversationUpsert 会话 get-or-create 参数
type ConversationUpsert struct {
	LeadID           string
	Platform         Platform
	ExternalThreadID string
	CampaignID       string
	CampaignName     string
	MessageAt        time.Time
}
