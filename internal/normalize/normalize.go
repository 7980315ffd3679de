// Package normalize 把各平台的 webhook 和列表接口返回的原始 JSON 转换为规范事件。
//
// 两个平台的字段、必填集合和线程 ID 推导规则各不相同，统一以函数表的形式登记，
// 由 domain.Platform 选择。
package normalize

import (
	"encoding/json"
	"fmt"
	"time"

	"replyhub/backend/internal/domain"
)

// Classification webhook 预检结果
type Classification struct {
	EventType string
	Relevant  bool     // 是否是需要处理的回复事件
	KeyFields []string // 幂等键字段
}

// Descriptor 单个平台的规范化规则
type Descriptor struct {
	Platform domain.Platform

	// Classify 读取事件类型与幂等字段，不做必填校验
	Classify func(raw []byte) (Classification, error)
	// NormalizeWebhook 将 webhook 报文转换为规范事件，receivedAt 用于缺省的发送时间
	NormalizeWebhook func(raw []byte, receivedAt time.Time) (*domain.CanonicalEvent, error)
	// NormalizeListed 将列表接口返回的单封邮件转换为规范事件，
	// workspaceID 为连接上配置的平台 workspace（可能为空）
	NormalizeListed func(item json.RawMessage, workspaceID string, now time.Time) (*domain.CanonicalEvent, error)
	// ThreadID 由线程种子和线索内部 ID 推导 externalThreadId
	ThreadID func(seed, leadID string) string
}

var descriptors = map[domain.Platform]Descriptor{
	domain.PlatformInstantly: instantly,
	domain.PlatformPlusVibe:  plusVibe,
}

// For 返回平台的规范化规则
func For(p domain.Platform) (Descriptor, error) {
	d, ok := descriptors[p]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", domain.ErrUnknownPlatform, p)
	}
	return d, nil
}

// ThreadID 按平台规则推导会话的 externalThreadId，结果不超过唯一索引列长度
func ThreadID(p domain.Platform, seed, leadID string) (string, error) {
	d, err := For(p)
	if err != nil {
		return "", err
	}
	return domain.BoundIdentifier(d.ThreadID(seed, leadID)), nil
}

// Webhook 规范化一条 webhook 报文并校验必填字段
func Webhook(p domain.Platform, raw []byte, receivedAt time.Time) (*domain.CanonicalEvent, error) {
	d, err := For(p)
	if err != nil {
		return nil, err
	}
	ev, err := d.NormalizeWebhook(raw, receivedAt)
	if err != nil {
		return nil, err
	}
	return finish(ev)
}

// Listed 规范化一封列表接口返回的邮件并校验必填字段
func Listed(p domain.Platform, item json.RawMessage, workspaceID string, now time.Time) (*domain.CanonicalEvent, error) {
	d, err := For(p)
	if err != nil {
		return nil, err
	}
	ev, err := d.NormalizeListed(item, workspaceID, now)
	if err != nil {
		return nil, err
	}
	return finish(ev)
}

// finish 校验必填字段，并把写入唯一索引列的外部标识限制在列长度内。
// 其余自由文本字段对应 TEXT 列，原样保留。
func finish(ev *domain.CanonicalEvent) (*domain.CanonicalEvent, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	ev.WorkspaceExternalID = domain.BoundIdentifier(ev.WorkspaceExternalID)
	ev.MessageExternalID = domain.BoundIdentifier(ev.MessageExternalID)
	ev.CampaignID = domain.BoundIdentifier(ev.CampaignID)
	ev.Lead.ExternalLeadID = domain.BoundIdentifier(ev.Lead.ExternalLeadID)
	return ev, nil
}

func decode(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func metadata(pairs ...string) map[string]string {
	m := make(map[string]string, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] != "" {
			m[pairs[i]] = pairs[i+1]
		}
	}
	return m
}
