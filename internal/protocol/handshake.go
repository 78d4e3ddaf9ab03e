package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// RecordSeparator 长轮询响应中多个包之间的分隔符
const RecordSeparator = '\x1e'

var (
	ErrNotOpenPacket = errors.New("protocol: handshake response is not an open packet")
	ErrMissingSID    = errors.New("protocol: handshake response has no sid")
)

// Handshake 握手响应内容，缺失字段保持零值，默认值由调用方决定
type Handshake struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"`
	PingTimeout  int      `json:"pingTimeout"`
	MaxPayload   int      `json:"maxPayload"`
}

// SplitPayload 拆分长轮询响应体中的多个包
func SplitPayload(body []byte) [][]byte {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil
	}
	return bytes.Split(body, []byte{RecordSeparator})
}

// DecodeHandshake 去掉开头的 open 控制码后解析JSON
func DecodeHandshake(body []byte) (Handshake, error) {
	packets := SplitPayload(body)
	if len(packets) == 0 || len(packets[0]) < 2 || packets[0][0] != PacketOpen {
		return Handshake{}, ErrNotOpenPacket
	}

	var hs Handshake
	if err := json.Unmarshal(packets[0][1:], &hs); err != nil {
		return Handshake{}, &FrameError{Data: string(packets[0]), Reason: "handshake is not a json object", Err: err}
	}
	if hs.SID == "" {
		return Handshake{}, ErrMissingSID
	}
	return hs, nil
}

// EncodeConnect 生成带认证数据的命名空间连接包：40{...}
func EncodeConnect(auth any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(PacketMessage)
	buf.WriteByte(MessageConnect)
	if auth != nil {
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(auth); err != nil {
			return nil, err
		}
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// FindConnectError 在长轮询响应中查找 44 包，返回服务端给出的原因
func FindConnectError(body []byte) (string, bool) {
	for _, p := range SplitPayload(body) {
		if len(p) < 2 || p[0] != PacketMessage || p[1] != MessageConnectError {
			continue
		}
		var detail struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(p[2:], &detail); err == nil && detail.Message != "" {
			return detail.Message, true
		}
		msg := strings.TrimSpace(string(p[2:]))
		if msg == "" {
			msg = "connect error"
		}
		return msg, true
	}
	return "", false
}
