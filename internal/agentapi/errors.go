package agentapi

import (
	"errors"
	"fmt"
)

// ErrEventNotFound 事件流结束时仍未出现期望的事件
var ErrEventNotFound = errors.New("expected event not found in stream")

// RemoteServiceError 上游服务调用失败
//
// 覆盖传输失败、非 2xx 响应、响应体无法解析以及事件流不完整。
type RemoteServiceError struct {
	Op         string // 操作名，例如 "query"、"score"
	URL        string
	StatusCode int // 未收到响应时为 0
	Err        error
}

func (e *RemoteServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Op, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *RemoteServiceError) Unwrap() error {
	return e.Err
}

// IsRemoteServiceError 判断错误链中是否有上游服务错误
func IsRemoteServiceError(err error) bool {
	var rse *RemoteServiceError
	return errors.As(err, &rse)
}
