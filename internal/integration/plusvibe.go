package integration

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"replyhub/backend/internal/domain"
)

// DefaultPlusVibeBaseURL PlusVibe API 地址
const DefaultPlusVibeBaseURL = "https://api.plusvibe.ai/api/v1"

// ErrWorkspaceRequired PlusVibe 接口必须指定 workspace_id
var ErrWorkspaceRequired = errors.New("plusvibe connection has no workspace id")

// PlusVibeClient PlusVibe unibox API 客户端
type PlusVibeClient struct {
	*client
}

// NewPlusVibeClient 创建 PlusVibe 客户端
func NewPlusVibeClient(opts Options) *PlusVibeClient {
	return &PlusVibeClient{client: newClient(domain.PlatformPlusVibe, DefaultPlusVibeBaseURL, opts)}
}

// ListEmails 列出 workspace 的 unibox 邮件，接口不支持分页大小，超出 limit 的部分截断
func (c *PlusVibeClient) ListEmails(ctx context.Context, apiKey, workspaceID string, limit int) ([]json.RawMessage, error) {
	if workspaceID == "" {
		return nil, ErrWorkspaceRequired
	}

	query := url.Values{}
	query.Set("workspace_id", workspaceID)
	body, err := c.getJSON(ctx, "/unibox/emails?"+query.Encode(), http.Header{
		"X-Api-Key": []string{apiKey},
	})
	if err != nil {
		return nil, err
	}

	items, err := decodeList(body)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}
