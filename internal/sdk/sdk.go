// Package sdk 组合协商、连接与分发，对业务代码提供单一的客户端接口
package sdk

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"eiobot/internal/conn"
	"eiobot/internal/dispatcher"
	"eiobot/internal/metrics"
	"eiobot/internal/session"
	"eiobot/internal/websocket"

	"github.com/google/uuid"
)

// 客户端生命周期事件类型
type EventType string

const (
	EventConnected    EventType = "connected"    // 升级完成
	EventDisconnected EventType = "disconnected" // 连接结束，Err 为原因
)

// 生命周期事件
type Event struct {
	Type      EventType
	ClientID  string
	SessionID string
	Err       error
	Time      time.Time
}

// 生命周期事件处理函数
type EventHandler func(ctx context.Context, event Event) error

// Config 客户端配置
type Config struct {
	Session    session.Config `mapstructure:"session" json:"session"`
	Connection conn.Config    `mapstructure:"connection" json:"connection"`
	Identity   string         `mapstructure:"identity" json:"identity"`
	Credential string         `mapstructure:"credential" json:"-"`
}

// Client 一个身份对应的客户端，断线后可以再次 Connect
type Client struct {
	id         string
	cfg        Config
	negotiator *session.Negotiator
	dialer     websocket.Dialer
	dispatcher *dispatcher.Dispatcher
	metrics    *metrics.Metrics
	sessOpts   []session.Option

	mu        sync.RWMutex
	mgr       *conn.Manager
	lifecycle map[EventType][]EventHandler
}

type Option func(*Client)

// WithDialer 替换 websocket 拨号器
func WithDialer(d websocket.Dialer) Option {
	return func(c *Client) {
		c.dialer = d
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithSessionOptions 传给协商器的额外选项
func WithSessionOptions(opts ...session.Option) Option {
	return func(c *Client) {
		c.sessOpts = append(c.sessOpts, opts...)
	}
}

// New 创建客户端
func New(cfg Config, opts ...Option) (*Client, error) {
	c := &Client{
		id:        uuid.NewString(),
		cfg:       cfg,
		lifecycle: make(map[EventType][]EventHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = metrics.Default()
	}
	if c.dialer == nil {
		c.dialer = websocket.NewGorillaDialer(cfg.Connection.Transport)
	}

	n, err := session.NewNegotiator(cfg.Session, append([]session.Option{session.WithMetrics(c.metrics)}, c.sessOpts...)...)
	if err != nil {
		return nil, err
	}
	c.negotiator = n
	c.dispatcher = dispatcher.NewDispatcher(dispatcher.WithMetrics(c.metrics))
	return c, nil
}

// ID 客户端实例ID
func (c *Client) ID() string {
	return c.id
}

// Dispatcher 事件分发器，处理函数在 Connect 之前注册
func (c *Client) Dispatcher() *dispatcher.Dispatcher {
	return c.dispatcher
}

// On 注册服务端事件处理函数
func (c *Client) On(event string, h dispatcher.Handler) {
	c.dispatcher.Register(event, h)
}

// OnLifecycle 注册生命周期事件处理函数
func (c *Client) OnLifecycle(t EventType, h EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lifecycle[t] = append(c.lifecycle[t], h)
}

// Connect 协商会话、建立持久连接并等待升级完成。
// 协商失败返回 *session.AuthError；上一个连接仍存活时返回 conn.ErrAlreadyStarted。
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.mgr != nil {
		select {
		case <-c.mgr.Done():
		default:
			c.mu.Unlock()
			return conn.ErrAlreadyStarted
		}
	}
	c.mu.Unlock()

	sess, err := c.negotiator.Negotiate(ctx, c.cfg.Identity, c.cfg.Credential)
	if err != nil {
		return err
	}

	mgr := conn.NewManager(sess, c.dialer, c.dispatcher, c.cfg.Connection, conn.WithMetrics(c.metrics))
	if err := mgr.Connect(ctx); err != nil {
		return err
	}

	select {
	case <-mgr.Ready():
	case <-mgr.Done():
		_ = mgr.Close()
		return mgr.Err()
	case <-ctx.Done():
		_ = mgr.Close()
		return ctx.Err()
	}

	c.mu.Lock()
	c.mgr = mgr
	c.mu.Unlock()

	c.trigger(context.Background(), Event{Type: EventConnected, ClientID: c.id, SessionID: sess.ID, Time: time.Now()})
	go c.watch(mgr)
	return nil
}

// watch 连接结束时触发断开事件
func (c *Client) watch(mgr *conn.Manager) {
	<-mgr.Done()
	c.trigger(context.Background(), Event{
		Type:      EventDisconnected,
		ClientID:  c.id,
		SessionID: mgr.Session().ID,
		Err:       mgr.Err(),
		Time:      time.Now(),
	})
}

func (c *Client) trigger(ctx context.Context, event Event) {
	c.mu.RLock()
	handlers := append([]EventHandler(nil), c.lifecycle[event.Type]...)
	c.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, event); err != nil {
			slog.Error("lifecycle handler failed", "type", event.Type, "client", c.id, "error", err)
		}
	}
}

func (c *Client) manager() *conn.Manager {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mgr
}

// Send 发送事件，未连接时返回 conn.ErrNotConnected
func (c *Client) Send(event string, args ...any) error {
	mgr := c.manager()
	if mgr == nil {
		return conn.ErrNotConnected
	}
	return mgr.Send(event, args...)
}

func (c *Client) IsOpen() bool {
	mgr := c.manager()
	return mgr != nil && mgr.IsOpen()
}

var closedCh = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Done 当前连接结束时关闭；从未连接时返回已关闭的通道
func (c *Client) Done() <-chan struct{} {
	mgr := c.manager()
	if mgr == nil {
		return closedCh
	}
	return mgr.Done()
}

// Err 当前连接结束的原因
func (c *Client) Err() error {
	mgr := c.manager()
	if mgr == nil {
		return nil
	}
	return mgr.Err()
}

// IsAuthError 协商失败，重连无意义
func IsAuthError(err error) bool {
	return errors.Is(err, session.ErrAuth)
}

// Close 关闭当前连接并等待其goroutine退出
func (c *Client) Close() error {
	mgr := c.manager()
	if mgr == nil {
		return nil
	}
	return mgr.Close()
}
