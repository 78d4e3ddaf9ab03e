// Package protocol 实现Engine.IO传输层控制帧与Socket.IO事件帧的编解码
package protocol

import (
	"encoding/json"
	"fmt"
)

// Engine.IO 传输层控制码
const (
	PacketOpen    = '0'
	PacketClose   = '1'
	PacketPing    = '2'
	PacketPong    = '3'
	PacketMessage = '4'
	PacketUpgrade = '5'
	PacketNoop    = '6'
)

// Socket.IO 消息子类型（紧跟在 '4' 之后）
const (
	MessageConnect      = '0'
	MessageDisconnect   = '1'
	MessageEvent        = '2'
	MessageAck          = '3'
	MessageConnectError = '4'
)

// 固定的控制帧内容
const (
	ProbeMarker    = "2probe"
	ProbeAckMarker = "3probe"
	PingMarker     = "2"
	PongMarker     = "3"
	UpgradeMarker  = "5"
	CloseMarker    = "1"

	// EventPrefix 事件帧前缀 "42"
	EventPrefix = "42"
)

// Kind 帧类型
type Kind int

const (
	KindUnknown Kind = iota
	KindOpen
	KindClose
	KindPing
	KindPong
	KindProbe
	KindProbeAck
	KindMessage
)

func (k Kind) String() string {
	switch k {
	case KindOpen:
		return "open"
	case KindClose:
		return "close"
	case KindPing:
		return "ping"
	case KindPong:
		return "pong"
	case KindProbe:
		return "probe"
	case KindProbeAck:
		return "probe_ack"
	case KindMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Frame 解码后的一帧
type Frame struct {
	Kind  Kind
	Event string            // 仅 KindMessage
	Args  []json.RawMessage // 仅 KindMessage，按原始顺序
	AckID int               // 事件附带的ack编号，没有时为 -1
	Raw   []byte            // KindOpen / KindUnknown 时保留原始内容
}

// FrameError 单帧格式错误，丢弃该帧即可，不影响连接
type FrameError struct {
	Data   string
	Reason string
	Err    error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol: malformed frame (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("protocol: malformed frame (%s)", e.Reason)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}
