package domain

import "time"

// Lead 联系人。同一邮箱在不同平台上是两条记录。
type Lead struct {
	ID             string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Email          string    `json:"email" gorm:"type:varchar(255);not null;uniqueIndex:idx_lead_identity,priority:1"`
	WorkspaceID    string    `json:"workspaceId" gorm:"type:varchar(36);not null;uniqueIndex:idx_lead_identity,priority:2"`
	SourcePlatform Platform  `json:"sourcePlatform" gorm:"type:varchar(20);not null;uniqueIndex:idx_lead_identity,priority:3"`
	ExternalLeadID string    `json:"externalLeadId,omitempty" gorm:"type:varchar(255)"`
	FirstName      string    `json:"firstName,omitempty" gorm:"type:text"`
	LastName       string    `json:"lastName,omitempty" gorm:"type:text"`
	CompanyName    string    `json:"companyName,omitempty" gorm:"type:text"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// LeadProfile 线索资料字段，空值表示未知
type LeadProfile struct {
	ExternalLeadID string
	FirstName      string
	LastName       string
	CompanyName    string
}

// Merge 把资料中非空的字段合并到线索上（后写覆盖，空值不覆盖已知值），返回是否有变化
func (l *Lead) Merge(p LeadProfile) bool {
	changed := false
	set := func(dst *string, v string) {
		if v != "" && *dst != v {
			*dst = v
			changed = true
		}
	}
	set(&l.ExternalLeadID, p.ExternalLeadID)
	set(&l.FirstName, p.FirstName)
	set(&l.LastName, p.LastName)
	set(&l.CompanyName, p.CompanyName)
	return changed
}
