package domain

import "time"

// CanonicalEvent 与平台无关的入站邮件事件，是对账引擎的唯一输入
type CanonicalEvent struct {
	Platform            Platform
	WorkspaceExternalID string
	WorkspaceName       string
	LeadEmail           string
	Lead                LeadProfile
	CampaignID          string
	CampaignName        string
	ThreadSeed          string // 平台原生线程/邮件 ID，用于推导 externalThreadId
	MessageExternalID   string
	Direction           Direction
	Subject             string
	BodyText            string
	BodyHTML            string
	FromEmail           string
	ToEmail             string
	SentAt              time.Time
	RoutingMetadata     map[string]string // 原样透传，回复时需要用它选择发信邮箱
}
