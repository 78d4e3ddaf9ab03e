package websocket

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

// GorillaConn 适配gorilla/websocket到WSConn接口
type GorillaConn struct {
	*websocket.Conn
}

// 确保GorillaConn实现了WSConn接口
var _ WSConn = (*GorillaConn)(nil)

// NewGorillaConn 创建一个新的gorilla适配器
func NewGorillaConn(conn *websocket.Conn) *GorillaConn {
	return &GorillaConn{Conn: conn}
}

// GorillaDialer 使用gorilla/websocket拨号
type GorillaDialer struct {
	Dialer *websocket.Dialer
}

var _ Dialer = (*GorillaDialer)(nil)

func NewGorillaDialer(cfg Config) *GorillaDialer {
	return &GorillaDialer{Dialer: &websocket.Dialer{
		Proxy:             http.ProxyFromEnvironment,
		HandshakeTimeout:  cfg.HandshakeTimeout,
		ReadBufferSize:    cfg.ReadBufferSize,
		WriteBufferSize:   cfg.WriteBufferSize,
		EnableCompression: cfg.EnableCompression,
	}}
}

func (d *GorillaDialer) Dial(ctx context.Context, url string, header http.Header) (WSConn, error) {
	conn, resp, err := d.Dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket: dial %s: status %d: %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket: dial %s: %w", url, err)
	}
	return NewGorillaConn(conn), nil
}

// FormatCloseMessage 格式化WebSocket关闭消息
func FormatCloseMessage(closeCode int, text string) []byte {
	return websocket.FormatCloseMessage(closeCode, text)
}

// IsCloseError 判断错误是否为特定的关闭错误码
func IsCloseError(err error, codes ...int) bool {
	return websocket.IsCloseError(err, codes...)
}

// IsNormalClose 对端正常关闭
func IsNormalClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived)
}

// 常量定义
const (
	// 消息类型
	TextMessage   = websocket.TextMessage
	BinaryMessage = websocket.BinaryMessage
	CloseMessage  = websocket.CloseMessage
	PingMessage   = websocket.PingMessage
	PongMessage   = websocket.PongMessage

	// 关闭码
	CloseNormalClosure    = websocket.CloseNormalClosure
	CloseGoingAway        = websocket.CloseGoingAway
	CloseNoStatusReceived = websocket.CloseNoStatusReceived
)
