package websocket

import (
	"context"
	"net/http"
	"time"
)

// WSConn 持久连接的最小接口，便于测试时替换
type WSConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(int, []byte) error
	WriteControl(int, []byte, time.Time) error
	SetReadLimit(int64)
	SetReadDeadline(time.Time) error
	SetWriteDeadline(time.Time) error
	Close() error
}

// Dialer 建立到升级地址的连接
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (WSConn, error)
}

// Listener 连接生命周期回调，由 Transport 驱动
type Listener interface {
	OnOpen()
	OnMessage(data []byte)
	OnError(err error)
	OnClose()
}
