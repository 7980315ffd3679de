package domain

import "time"

// Message 一封入站或出站邮件。创建后不可变，(platform, externalMessageId) 唯一。
type Message struct {
	ID                string            `json:"id" gorm:"primaryKey;type:varchar(36)"`
	ConversationID    string            `json:"conversationId" gorm:"type:varchar(36);index;not null"`
	Platform          Platform          `json:"platform" gorm:"type:varchar(20);not null;uniqueIndex:idx_message_external,priority:1"`
	ExternalMessageID string            `json:"externalMessageId" gorm:"type:varchar(255);not null;uniqueIndex:idx_message_external,priority:2"`
	Direction         Direction         `json:"direction" gorm:"type:varchar(3);not null"`
	Subject           string            `json:"subject" gorm:"type:text"`
	BodyText          string            `json:"bodyText" gorm:"type:text"`
	BodyHTML          string            `json:"bodyHtml" gorm:"type:text"`
	FromEmail         string            `json:"fromEmail" gorm:"type:text"`
	ToEmail           string            `json:"toEmail" gorm:"type:text"`
	SentAt            time.Time         `json:"sentAt"`
	Metadata          map[string]string `json:"metadata,omitempty" gorm:"serializer:json;type:text"` // 平台路由信息，例如收信邮箱
	CreatedAt         time.Time         `json:"createdAt"`
}
