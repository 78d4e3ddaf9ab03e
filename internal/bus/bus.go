// Package bus 把本地事件转发给进程外的订阅者
package bus

import (
	"context"
	"errors"
	"strings"
)

// 定义错误类型
var (
	ErrTopicEmpty    = errors.New("bus: topic cannot be empty")
	ErrBusClosed     = errors.New("bus: message bus is closed")
	ErrPublishFailed = errors.New("bus: publish message failed")
)

// 总线类型
const (
	TypeNoop  = "noop"
	TypeRedis = "redis"
	TypeNats  = "nats"
)

// MessageBus 发布订阅接口
type MessageBus interface {
	// Publish 发布消息到指定主题
	Publish(ctx context.Context, topic string, data []byte) error

	// Subscribe 订阅指定主题，ctx 取消或 Unsubscribe 后通道关闭
	Subscribe(ctx context.Context, topic string) (<-chan []byte, error)

	Unsubscribe(topic string) error

	Close() error
}

// 主题常量
const (
	EventsPrefix = "events/" // 事件转发前缀
)

// EventTopic 某个客户端的事件主题，clientID 为空时返回所有客户端共用的主题
func EventTopic(clientID string) string {
	if clientID == "" {
		return strings.TrimSuffix(EventsPrefix, "/")
	}
	return EventsPrefix + clientID
}
