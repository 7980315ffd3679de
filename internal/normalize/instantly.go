package normalize

import (
	"encoding/json"
	"fmt"
	"time"

	"replyhub/backend/internal/domain"
)

// Instantly 事件类型
const (
	InstantlyReplyReceived     = "reply_received"
	InstantlyAutoReplyReceived = "auto_reply_received"
)

// instantlyDefaultWorkspace 列表邮件没有 organization_id 且连接未配置 workspace 时使用
const instantlyDefaultWorkspace = "instantly-default"

type instantlyWebhook struct {
	Timestamp    text `json:"timestamp"`
	EventType    text `json:"event_type"`
	Workspace    text `json:"workspace"`
	CampaignID   text `json:"campaign_id"`
	CampaignName text `json:"campaign_name"`
	LeadEmail    text `json:"lead_email"`
	EmailAccount text `json:"email_account"`
	EmailID      text `json:"email_id"`
	ReplyText    text `json:"reply_text"`
	ReplyHTML    text `json:"reply_html"`
	ReplySubject text `json:"reply_subject"`
	FirstName    text `json:"firstName"`
	LastName     text `json:"lastName"`
	CompanyName  text `json:"companyName"`
}

type instantlyEmail struct {
	ID             text `json:"id"`
	Lead           text `json:"lead"`
	LeadID         text `json:"lead_id"`
	CampaignID     text `json:"campaign_id"`
	ThreadID       text `json:"thread_id"`
	OrganizationID text `json:"organization_id"`
	Subject        text `json:"subject"`
	Body           struct {
		Text text `json:"text"`
		HTML text `json:"html"`
	} `json:"body"`
	FromAddress    text `json:"from_address_email"`
	ToAddressList  text `json:"to_address_email_list"`
	TimestampEmail text `json:"timestamp_email"`
	EAccount       text `json:"eaccount"`
}

var instantly = Descriptor{
	Platform: domain.PlatformInstantly,
	Classify: func(raw []byte) (Classification, error) {
		var p instantlyWebhook
		if err := decode(raw, &p); err != nil {
			return Classification{}, err
		}
		event := p.EventType.String()
		return Classification{
			EventType: event,
			Relevant:  event == InstantlyReplyReceived || event == InstantlyAutoReplyReceived,
			KeyFields: []string{
				p.Timestamp.String(),
				domain.NormalizeEmail(p.LeadEmail.String()),
				p.CampaignID.String(),
				p.EmailID.String(),
			},
		}, nil
	},
	NormalizeWebhook: func(raw []byte, receivedAt time.Time) (*domain.CanonicalEvent, error) {
		var p instantlyWebhook
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		leadEmail := domain.NormalizeEmail(p.LeadEmail.String())
		bodyText := p.ReplyText.String()
		return &domain.CanonicalEvent{
			Platform:            domain.PlatformInstantly,
			WorkspaceExternalID: p.Workspace.String(),
			LeadEmail:           leadEmail,
			Lead: domain.LeadProfile{
				FirstName:   p.FirstName.String(),
				LastName:    p.LastName.String(),
				CompanyName: p.CompanyName.String(),
			},
			CampaignID:        p.CampaignID.String(),
			CampaignName:      p.CampaignName.String(),
			ThreadSeed:        p.EmailID.String(),
			MessageExternalID: p.EmailID.String(),
			Direction:         domain.DirectionIn,
			Subject:           firstNonEmpty(p.ReplySubject.String(), "Re:"),
			BodyText:          bodyText,
			BodyHTML:          firstNonEmpty(p.ReplyHTML.String(), bodyText),
			FromEmail:         leadEmail,
			ToEmail:           p.EmailAccount.String(),
			SentAt:            parseTime(p.Timestamp, receivedAt.UTC()),
			RoutingMetadata:   metadata("eaccount", p.EmailAccount.String()),
		}, nil
	},
	NormalizeListed: func(item json.RawMessage, workspaceID string, now time.Time) (*domain.CanonicalEvent, error) {
		var e instantlyEmail
		if err := decode(item, &e); err != nil {
			return nil, err
		}
		if e.ID == "" || e.Lead == "" {
			return nil, fmt.Errorf("%w: listed email without id or lead", domain.ErrMalformedEvent)
		}
		leadEmail := domain.NormalizeEmail(e.Lead.String())
		return &domain.CanonicalEvent{
			Platform:            domain.PlatformInstantly,
			WorkspaceExternalID: firstNonEmpty(e.OrganizationID.String(), workspaceID, instantlyDefaultWorkspace),
			LeadEmail:           leadEmail,
			Lead:                domain.LeadProfile{ExternalLeadID: e.LeadID.String()},
			CampaignID:          e.CampaignID.String(),
			ThreadSeed:          firstNonEmpty(e.ThreadID.String(), e.ID.String()),
			MessageExternalID:   e.ID.String(),
			Direction:           domain.DirectionIn,
			Subject:             firstNonEmpty(e.Subject.String(), "Re:"),
			BodyText:            e.Body.Text.String(),
			BodyHTML:            e.Body.HTML.String(),
			FromEmail:           firstNonEmpty(domain.NormalizeEmail(e.FromAddress.String()), leadEmail),
			ToEmail:             e.ToAddressList.String(),
			SentAt:              parseTime(e.TimestampEmail, now.UTC()),
			RoutingMetadata:     metadata("eaccount", e.EAccount.String()),
		}, nil
	},
	// Instantly 的线程 ID 不保证跨线索唯一，拼接线索内部 ID
	ThreadID: func(seed, leadID string) string {
		return fmt.Sprintf("%s-%s-%s", domain.PlatformInstantly.Tag(), seed, leadID)
	},
}
