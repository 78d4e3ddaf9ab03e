package session

import (
	"errors"
	"fmt"
)

var (
	// ErrAuth 所有致命的协商失败都可以用 errors.Is(err, ErrAuth) 判断
	ErrAuth = errors.New("session: authentication failed")
	// ErrRejected 服务端在长轮询中返回了 CONNECT_ERROR
	ErrRejected = errors.New("session: server rejected the connection")
	// ErrInvalidBaseURL 基础地址不是 http(s) URL
	ErrInvalidBaseURL = errors.New("session: base url must be an absolute http(s) url")
)

// NetworkError 单次HTTP请求失败，可在重试范围内恢复
type NetworkError struct {
	Op         string // discover / authenticate / revalidate
	StatusCode int    // 非2xx响应时的状态码，传输错误时为0
	Body       string // 响应体片段，便于排查
	Err        error
}

func (e *NetworkError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("session: %s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("session: %s: unexpected status %d", e.Op, e.StatusCode)
	default:
		return fmt.Sprintf("session: %s: %v", e.Op, e.Err)
	}
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// AuthError 协商的致命失败，调用方不能用未协商的会话建立连接
type AuthError struct {
	Step     string // validate / handshake / revalidate
	Attempts int
	Err      error
}

func (e *AuthError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("session: authentication failed at %s after %d attempts: %v", e.Step, e.Attempts, e.Err)
	}
	return fmt.Sprintf("session: authentication failed at %s: %v", e.Step, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

func (e *AuthError) Is(target error) bool {
	return target == ErrAuth
}
