package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"replyhub/backend/internal/domain"
)

// DefaultInstantlyBaseURL Instantly API 地址
const DefaultInstantlyBaseURL = "https://api.instantly.ai"

// InstantlyClient Instantly v2 API 客户端
type InstantlyClient struct {
	*client
}

// NewInstantlyClient 创建 Instantly 客户端
func NewInstantlyClient(opts Options) *InstantlyClient {
	return &InstantlyClient{client: newClient(domain.PlatformInstantly, DefaultInstantlyBaseURL, opts)}
}

// ListEmails 列出最近的邮件。Instantly 的密钥属于组织，workspaceID 不参与请求。
func (c *InstantlyClient) ListEmails(ctx context.Context, apiKey, _ string, limit int) ([]json.RawMessage, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/v2/emails"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	body, err := c.getJSON(ctx, path, http.Header{
		"Authorization": []string{"Bearer " + apiKey},
	})
	if err != nil {
		return nil, err
	}
	return decodeList(body)
}
