package normalize

import (
	"encoding/json"
	"fmt"
	"time"

	"replyhub/backend/internal/domain"
	"replyhub/backend/internal/idempotency"
)

// PlusVibe 事件类型
const (
	PlusVibeAllEmailReplies    = "ALL_EMAIL_REPLIES"
	PlusVibeFirstEmailReplies  = "FIRST_EMAIL_REPLIES"
	PlusVibeAllPositiveReplies = "ALL_POSITIVE_REPLIES"
)

type plusVibeWebhook struct {
	WebhookID        text `json:"webhook_id"`
	WebhookEvent     text `json:"webhook_event"`
	WorkspaceID      text `json:"workspace_id"`
	WorkspaceName    text `json:"workspace_name"`
	CampaignID       text `json:"campaign_id"`
	CampaignName     text `json:"campaign_name"`
	ThreadID         text `json:"thread_id"`
	LastEmailID      text `json:"last_email_id"`
	LeadID           text `json:"lead_id"`
	FromEmail        text `json:"from_email"`
	Subject          text `json:"subject"`
	Body             text `json:"body"`
	TextBody         text `json:"text_body"`
	FirstName        text `json:"first_name"`
	LastName         text `json:"last_name"`
	CompanyName      text `json:"company_name"`
	EmailAccountName text `json:"email_account_name"`
	EmailAccountID   text `json:"email_account_id"`
	ModifiedAt       text `json:"modified_at"`
	CreatedAt        text `json:"created_at"`
}

type plusVibeEmail struct {
	ID         text `json:"id"`
	Lead       text `json:"lead"`
	LeadID     text `json:"lead_id"`
	CampaignID text `json:"campaign_id"`
	ThreadID   text `json:"thread_id"`
	Subject    text `json:"subject"`
	Body       struct {
		Text text `json:"text"`
		HTML text `json:"html"`
	} `json:"body"`
	FromAddress      text `json:"from_address_email"`
	ToAddressList    text `json:"to_address_email_list"`
	TimestampCreated text `json:"timestamp_created"`
	EAccount         text `json:"eaccount"`
}

var plusVibe = Descriptor{
	Platform: domain.PlatformPlusVibe,
	Classify: func(raw []byte) (Classification, error) {
		var p plusVibeWebhook
		if err := decode(raw, &p); err != nil {
			return Classification{}, err
		}
		event := p.WebhookEvent.String()
		relevant := false
		switch event {
		case PlusVibeAllEmailReplies, PlusVibeFirstEmailReplies, PlusVibeAllPositiveReplies:
			relevant = true
		}

		// 每次投递都有全局唯一的 webhook_id；缺失时退化为线程与邮件 ID 的摘要
		key := p.WebhookID.String()
		if key == "" {
			key = idempotency.Fingerprint(p.ThreadID.String(), p.LastEmailID.String())
		}
		return Classification{EventType: event, Relevant: relevant, KeyFields: []string{key}}, nil
	},
	NormalizeWebhook: func(raw []byte, receivedAt time.Time) (*domain.CanonicalEvent, error) {
		var p plusVibeWebhook
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		leadEmail := domain.NormalizeEmail(p.FromEmail.String())
		sentAt := parseTime(p.ModifiedAt, parseTime(p.CreatedAt, receivedAt.UTC()))
		return &domain.CanonicalEvent{
			Platform:            domain.PlatformPlusVibe,
			WorkspaceExternalID: p.WorkspaceID.String(),
			WorkspaceName:       p.WorkspaceName.String(),
			LeadEmail:           leadEmail,
			Lead: domain.LeadProfile{
				ExternalLeadID: p.LeadID.String(),
				FirstName:      p.FirstName.String(),
				LastName:       p.LastName.String(),
				CompanyName:    p.CompanyName.String(),
			},
			CampaignID:        p.CampaignID.String(),
			CampaignName:      p.CampaignName.String(),
			ThreadSeed:        p.ThreadID.String(),
			MessageExternalID: p.LastEmailID.String(),
			Direction:         domain.DirectionIn,
			Subject:           firstNonEmpty(p.Subject.String(), "Re:"),
			BodyText:          firstNonEmpty(p.TextBody.String(), p.Body.String()),
			BodyHTML:          firstNonEmpty(p.Body.String(), p.TextBody.String()),
			FromEmail:         leadEmail,
			ToEmail:           p.EmailAccountName.String(),
			SentAt:            sentAt,
			RoutingMetadata: metadata(
				"email_account_id", p.EmailAccountID.String(),
				"to_email", p.EmailAccountName.String(),
			),
		}, nil
	},
	NormalizeListed: func(item json.RawMessage, workspaceID string, now time.Time) (*domain.CanonicalEvent, error) {
		var e plusVibeEmail
		if err := decode(item, &e); err != nil {
			return nil, err
		}
		if e.ID == "" || e.Lead == "" {
			return nil, fmt.Errorf("%w: listed email without id or lead", domain.ErrMalformedEvent)
		}
		leadEmail := domain.NormalizeEmail(e.Lead.String())
		return &domain.CanonicalEvent{
			Platform:            domain.PlatformPlusVibe,
			WorkspaceExternalID: workspaceID,
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
			SentAt:              parseTime(e.TimestampCreated, now.UTC()),
			RoutingMetadata: metadata(
				"to_email", e.ToAddressList.String(),
				"eaccount", e.EAccount.String(),
			),
		}, nil
	},
	// PlusVibe 的线程 ID 全局唯一
	ThreadID: func(seed, _ string) string {
		return fmt.Sprintf("%s-%s", domain.PlatformPlusVibe.Tag(), seed)
	},
}
