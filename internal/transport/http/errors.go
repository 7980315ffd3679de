package httptransport

import (
	"errors"

	"replyhub/backend/internal/domain"
	"replyhub/backend/internal/service"
)

// 错误消息映射表（业务错误 -> 中文消息）
var errorMessages = []struct {
	err error
	msg string
}{
	{domain.ErrUnknownPlatform, "不支持的平台"},
	{domain.ErrInvalidInput, "请求参数无效"},
	{domain.ErrJobNotFound, "任务不存在或未处于停放状态"},
	{domain.ErrNotFound, "记录不存在"},
	{service.ErrCredentialKeyMissing, "服务端未配置凭据加密密钥"},
}

// GetErrorMessage 获取错误的中文消息
func GetErrorMessage(err error) string {
	for _, m := range errorMessages {
		if errors.Is(err, m.err) {
			return m.msg
		}
	}
	return err.Error()
}

// 通用错误消息
const (
	MsgInvalidRequest = "请求参数格式错误"

	MsgConnectionCreateFailed = "保存平台连接失败"
	MsgConnectionListFailed   = "获取平台连接失败"

	MsgParkedListFailed  = "获取停放任务失败"
	MsgParkedRetryFailed = "重新入队失败"

	MsgInternalError = "服务器内部错误，请稍后重试"
)
