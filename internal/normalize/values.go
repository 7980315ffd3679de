package normalize

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// text 接受 JSON 字符串、数字或 null 的宽松字符串
type text string

func (t *text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = text(strings.TrimSpace(s))
		return nil
	}
	// 数字、布尔等原样保留
	*t = text(data)
	return nil
}

func (t text) String() string { return string(t) }

// parseTime 解析 RFC3339 字符串或毫秒时间戳，无法解析时返回 fallback
func parseTime(value text, fallback time.Time) time.Time {
	s := value.String()
	if s == "" {
		return fallback
	}
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts.UTC()
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC()
	}
	return fallback
}
