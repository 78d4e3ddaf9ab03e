package websocket

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var ErrTransportClosed = errors.New("websocket: transport closed")

// Transport 包装一条持久连接：单一读循环驱动 Listener，写入串行化
type Transport struct {
	conn WSConn
	cfg  Config

	writeMu     sync.Mutex
	closed      atomic.Bool
	readTimeout atomic.Int64 // 纳秒，0 表示不设读超时
}

func NewTransport(conn WSConn, cfg Config) *Transport {
	return &Transport{conn: conn, cfg: cfg}
}

// SetReadLimit 单帧大小上限，超出时读循环以错误结束
func (t *Transport) SetReadLimit(n int64) {
	if n > 0 {
		t.conn.SetReadLimit(n)
	}
}

// SetReadTimeout 每次读取前刷新的读超时
func (t *Transport) SetReadTimeout(d time.Duration) {
	t.readTimeout.Store(int64(d))
}

// Run 阻塞执行读循环，直到连接出错或被关闭。
// 本端主动关闭时不回调 OnError，OnClose 总是最后一次回调。
func (t *Transport) Run(l Listener) {
	defer l.OnClose()

	l.OnOpen()
	for {
		if d := time.Duration(t.readTimeout.Load()); d > 0 {
			_ = t.conn.SetReadDeadline(time.Now().Add(d))
		}

		msgType, data, err := t.conn.ReadMessage()
		if err != nil {
			if !t.closed.Load() {
				l.OnError(err)
			}
			return
		}

		if msgType != TextMessage {
			slog.Debug("ignoring non-text message", "type", msgType, "bytes", len(data))
			continue
		}
		l.OnMessage(data)
	}
}

// Write 写入一条文本消息，可被多个goroutine调用
func (t *Transport) Write(data []byte) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.cfg.WriteTimeout > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	}
	return t.conn.WriteMessage(TextMessage, data)
}

// Close 发送关闭帧并关闭底层连接，可重复调用
func (t *Transport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}

	deadline := time.Now().Add(time.Second)
	if t.cfg.WriteTimeout > 0 {
		deadline = time.Now().Add(t.cfg.WriteTimeout)
	}
	_ = t.conn.WriteControl(CloseMessage, FormatCloseMessage(CloseNormalClosure, ""), deadline)
	return t.conn.Close()
}

// Closed 是否已由本端关闭
func (t *Transport) Closed() bool {
	return t.closed.Load()
}
