package conn

import (
	"time"

	"eiobot/internal/websocket"
)

// InitEvent 升级完成后立即发送的事件
type InitEvent struct {
	Event string `mapstructure:"event" json:"event"`
	Args  []any  `mapstructure:"args" json:"args"`
}

// Config 连接参数。HeartbeatEvent 为空时不发送保活事件；HeartbeatInterval 为0时
// 使用会话的 pingInterval；SendRate 为每秒事件数，0 表示不限速。
// 分发队列满时读循环等待，事件不会被丢弃。
type Config struct {
	SendBufferCap     int              `mapstructure:"send_buffer_cap" json:"send_buffer_cap"`
	DispatchQueueCap  int              `mapstructure:"dispatch_queue_cap" json:"dispatch_queue_cap"`
	HeartbeatEvent    string           `mapstructure:"heartbeat_event" json:"heartbeat_event"`
	HeartbeatInterval time.Duration    `mapstructure:"heartbeat_interval" json:"heartbeat_interval"`
	InitEvents        []InitEvent      `mapstructure:"init_events" json:"init_events"`
	SendRate          float64          `mapstructure:"send_rate" json:"send_rate"`
	SendBurst         int              `mapstructure:"send_burst" json:"send_burst"`
	Transport         websocket.Config `mapstructure:"transport" json:"transport"`
}

func DefaultConfig() Config {
	return Config{
		SendBufferCap:    256,
		DispatchQueueCap: 1024,
		HeartbeatEvent:   "p",
		SendBurst:        1,
		Transport:        websocket.DefaultConfig(),
	}
}
