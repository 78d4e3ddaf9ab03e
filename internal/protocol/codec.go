package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
)

var ErrEmptyEvent = errors.New("protocol: event name cannot be empty")

// Encode 生成事件帧：42[event, args...]
func Encode(event string, args ...any) ([]byte, error) {
	if event == "" {
		return nil, ErrEmptyEvent
	}

	payload := make([]any, 0, len(args)+1)
	payload = append(payload, event)
	payload = append(payload, args...)

	var buf bytes.Buffer
	buf.WriteString(EventPrefix)
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return nil, err
	}
	// json.Encoder 会追加换行
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Decode 按前缀区分传输层控制帧与应用层事件帧
func Decode(data []byte) (Frame, error) {
	s := string(data)
	switch s {
	case ProbeAckMarker:
		return Frame{Kind: KindProbeAck, AckID: -1}, nil
	case PingMarker:
		return Frame{Kind: KindPing, AckID: -1}, nil
	case PongMarker:
		return Frame{Kind: KindPong, AckID: -1}, nil
	case ProbeMarker:
		return Frame{Kind: KindProbe, AckID: -1}, nil
	case CloseMarker:
		return Frame{Kind: KindClose, AckID: -1}, nil
	}

	if len(data) >= 2 && data[0] == PacketMessage && data[1] == MessageEvent {
		return decodeEvent(data[2:])
	}
	if len(data) > 1 && data[0] == PacketOpen && data[1] == '{' {
		return Frame{Kind: KindOpen, AckID: -1, Raw: data[1:]}, nil
	}

	return Frame{Kind: KindUnknown, AckID: -1, Raw: data}, nil
}

func decodeEvent(body []byte) (Frame, error) {
	ackID := -1
	i := 0
	for i < len(body) && body[i] >= '0' && body[i] <= '9' {
		i++
	}
	if i > 0 {
		id, err := strconv.ParseInt(string(body[:i]), 10, 32)
		if err != nil {
			return Frame{}, &FrameError{Data: string(body), Reason: "ack id out of range", Err: err}
		}
		ackID = int(id)
	}
	body = body[i:]

	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return Frame{}, &FrameError{Data: string(body), Reason: "payload is not a json array", Err: err}
	}
	if len(items) == 0 {
		return Frame{}, &FrameError{Data: string(body), Reason: "empty event array"}
	}

	var event string
	if err := json.Unmarshal(items[0], &event); err != nil {
		return Frame{}, &FrameError{Data: string(body), Reason: "event name is not a string", Err: err}
	}
	if event == "" {
		return Frame{}, &FrameError{Data: string(body), Reason: "empty event name"}
	}

	return Frame{
		Kind:  KindMessage,
		Event: event,
		Args:  items[1:],
		AckID: ackID,
	}, nil
}
