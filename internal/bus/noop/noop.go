// Package noop 提供一个空操作的消息总线实现
package noop

import (
	"context"
	"sync"
	"sync/atomic"

	"eiobot/internal/bus"
)

// NoopBus 直接丢弃消息，未配置转发时使用
type NoopBus struct {
	mu      sync.Mutex
	closed  bool
	dropped atomic.Int64
}

func New() *NoopBus {
	return &NoopBus{}
}

// Publish 丢弃消息，只做参数校验
func (n *NoopBus) Publish(ctx context.Context, topic string, data []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return bus.ErrBusClosed
	}
	if topic == "" {
		return bus.ErrTopicEmpty
	}

	n.dropped.Add(1)
	return nil
}

// Subscribe 返回一个永远没有消息的通道，ctx 取消后关闭
func (n *NoopBus) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil, bus.ErrBusClosed
	}
	if topic == "" {
		return nil, bus.ErrTopicEmpty
	}

	ch := make(chan []byte)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (n *NoopBus) Unsubscribe(topic string) error {
	if topic == "" {
		return bus.ErrTopicEmpty
	}
	return nil
}

func (n *NoopBus) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	return nil
}

// Dropped 已丢弃的消息数
func (n *NoopBus) Dropped() int64 {
	return n.dropped.Load()
}

var _ bus.MessageBus = (*NoopBus)(nil)
