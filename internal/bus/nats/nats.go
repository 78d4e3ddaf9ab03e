// Package nats 提供基于NATS的消息总线实现
package nats

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"eiobot/internal/bus"

	"github.com/nats-io/nats.go"
)

var ErrPublishTimeout = errors.New("bus: nats publish timeout")

// Config NATS连接配置选项
type Config struct {
	// 连接地址，例如 nats://localhost:4222
	URLs []string `mapstructure:"urls" json:"urls"`
	// 连接名称，用于标识客户端
	Name string `mapstructure:"name" json:"name"`
	// 最大重连次数，-1表示无限重连
	MaxReconnects  int           `mapstructure:"max_reconnects" json:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait" json:"reconnect_wait"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" json:"connect_timeout"`
	// 发布超时，包含一次 Flush
	OpTimeout time.Duration `mapstructure:"op_timeout" json:"op_timeout"`
	// 主题前缀，与主题之间以 . 连接
	SubjectPrefix string `mapstructure:"subject_prefix" json:"subject_prefix"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		URLs:           []string{nats.DefaultURL},
		Name:           "eiobot",
		MaxReconnects:  -1,
		ReconnectWait:  2 * time.Second,
		ConnectTimeout: 5 * time.Second,
		OpTimeout:      time.Second,
		SubjectPrefix:  "eiobot",
	}
}

// NatsBus 基于NATS core pub/sub 的消息总线
type NatsBus struct {
	conn   *nats.Conn
	cfg    Config
	mu     sync.RWMutex
	closed bool
	subs   map[string]*subscription
}

type subscription struct {
	sub    *nats.Subscription
	cancel context.CancelFunc
}

// New 连接NATS服务器
func New(cfg Config) (*NatsBus, error) {
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = DefaultConfig().OpTimeout
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			slog.Info("nats connection closed")
		}),
	}

	// 多个地址时客户端会依次尝试
	serverURL := nats.DefaultURL
	if len(cfg.URLs) > 0 {
		serverURL = strings.Join(cfg.URLs, ",")
	}

	nc, err := nats.Connect(serverURL, opts...)
	if err != nil {
		return nil, err
	}

	slog.Info("connected to nats", "urls", cfg.URLs)
	return &NatsBus{
		conn: nc,
		cfg:  cfg,
		subs: make(map[string]*subscription),
	}, nil
}

// Subject 把 / 分隔的主题转换为 NATS 的 . 分隔主题
func Subject(prefix, topic string) string {
	s := strings.ReplaceAll(strings.Trim(topic, "/"), "/", ".")
	if prefix == "" {
		return s
	}
	return prefix + "." + s
}

func (n *NatsBus) Publish(ctx context.Context, topic string, data []byte) error {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.closed {
		return bus.ErrBusClosed
	}
	if topic == "" {
		return bus.ErrTopicEmpty
	}

	if err := n.conn.Publish(Subject(n.cfg.SubjectPrefix, topic), data); err != nil {
		slog.Warn("nats publish failed", "topic", topic, "error", err)
		return bus.ErrPublishFailed
	}

	flushCtx, cancel := context.WithTimeout(ctx, n.cfg.OpTimeout)
	defer cancel()
	if err := n.conn.FlushWithContext(flushCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrPublishTimeout
		}
		return bus.ErrPublishFailed
	}
	return nil
}

// Subscribe 订阅主题，ctx 取消时自动取消订阅
func (n *NatsBus) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil, bus.ErrBusClosed
	}
	if topic == "" {
		return nil, bus.ErrTopicEmpty
	}
	if old, ok := n.subs[topic]; ok {
		old.cancel()
	}

	msgCh := make(chan *nats.Msg, 100)
	sub, err := n.conn.ChanSubscribe(Subject(n.cfg.SubjectPrefix, topic), msgCh)
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	n.subs[topic] = &subscription{sub: sub, cancel: cancel}

	outCh := make(chan []byte, 100)
	go func() {
		defer close(outCh)
		defer func() { _ = sub.Unsubscribe() }()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg := <-msgCh:
				select {
				case outCh <- msg.Data:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	slog.Info("subscribed to nats subject", "topic", topic)
	return outCh, nil
}

// Unsubscribe 取消订阅，订阅通道随后关闭
func (n *NatsBus) Unsubscribe(topic string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if topic == "" {
		return bus.ErrTopicEmpty
	}
	if s, ok := n.subs[topic]; ok {
		s.cancel()
		delete(n.subs, topic)
	}
	return nil
}

// Close 取消所有订阅并排空连接
func (n *NatsBus) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}
	n.closed = true

	for topic, s := range n.subs {
		s.cancel()
		delete(n.subs, topic)
	}
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
		return err
	}
	return nil
}

var _ bus.MessageBus = (*NatsBus)(nil)
